package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleCatalog() Catalog {
	return Catalog{
		Foundries: []Foundry{
			{
				UniqueID: "foundry1",
				Name:     "Example Foundry",
				Families: []Family{
					{
						UniqueID: "family1",
						Name:     "Freight Sans",
						Fonts: []Font{
							{
								UniqueID: "font1",
								Name:     "Freight Sans Bold",
								Protected: true,
								Versions: []Version{
									{Number: "1.1", Filename: "FreightSans-Bold-1.1.ttf"},
									{Number: "1.0", Filename: "FreightSans-Bold-1.0.ttf"},
								},
							},
						},
					},
				},
			},
		},
	}
}

func TestFontByID(t *testing.T) {
	c := sampleCatalog()
	f, ok := c.FontByID("font1")
	assert.True(t, ok)
	assert.Equal(t, "Freight Sans Bold", f.Name)

	_, ok = c.FontByID("missing")
	assert.False(t, ok)
}

func TestFontFilename(t *testing.T) {
	c := sampleCatalog()
	f, _ := c.FontByID("font1")
	assert.Equal(t, "FreightSans-Bold-1.1.ttf", f.Filename("1.1"))
	assert.Equal(t, "FreightSans-Bold-1.0.ttf", f.Filename("1.0"))
	// unknown version falls back to a synthesized name rather than panicking
	assert.Equal(t, "font1-9.9", f.Filename("9.9"))
}

func TestFontIsProtectedInstall(t *testing.T) {
	protected := Font{Protected: true}
	expiring := Font{Expiry: "2030-01-01T00:00:00Z"}
	plain := Font{}

	assert.True(t, protected.IsProtectedInstall())
	assert.True(t, expiring.IsProtectedInstall())
	assert.False(t, plain.IsProtectedInstall())
}

func TestCatalogAllFonts(t *testing.T) {
	c := sampleCatalog()
	fonts := c.AllFonts()
	assert.Len(t, fonts, 1)
	assert.Equal(t, "font1", fonts[0].UniqueID)
}

func TestFamilyByID(t *testing.T) {
	c := sampleCatalog()
	fam, ok := c.FamilyByID("family1")
	assert.True(t, ok)
	assert.Equal(t, "Freight Sans", fam.Name)

	_, ok = c.FamilyByID("nope")
	assert.False(t, ok)
}

func TestNewAnonymousAppIDIsUnique(t *testing.T) {
	a := NewAnonymousAppID()
	b := NewAnonymousAppID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
