package model

import "fmt"

// Version is one published release of a Font, as advertised by a Protocol's
// installableFontsCommand payload.
type Version struct {
	Number     string // e.g. "1.203"
	Filename   string // filename template, see Font.Filename
	ReleaseNote string
}

// Font is a derived, read-only view into the catalog. Installation state is
// never stored here; it is derived from filesystem presence (§3, §6).
type Font struct {
	UniqueID       string
	Name           string
	Protected      bool
	Expiry         string // RFC3339 timestamp, empty if none
	ExpiryDuration string // duration string such as "P30D", empty if none
	Versions       []Version // ordered, newest first
}

// Filename returns the on-disk filename for the given version of this font,
// following the version's filename template (e.g. "Family-Regular.ttf").
func (f Font) Filename(version string) string {
	for _, v := range f.Versions {
		if v.Number == version {
			return v.Filename
		}
	}
	return fmt.Sprintf("%s-%s", f.UniqueID, version)
}

// HasVersion reports whether the given version number is known for this font.
func (f Font) HasVersion(version string) bool {
	for _, v := range f.Versions {
		if v.Number == version {
			return true
		}
	}
	return false
}

// LatestVersion returns the first (newest) version number, or "" if none.
func (f Font) LatestVersion() string {
	if len(f.Versions) == 0 {
		return ""
	}
	return f.Versions[0].Number
}

// IsProtectedInstall reports whether installing/uninstalling this font must
// round-trip through the publisher for seat accounting (§3 "Protected font").
func (f Font) IsProtectedInstall() bool {
	return f.Protected || f.Expiry != "" || f.ExpiryDuration != ""
}

// Family groups fonts under a shared design, e.g. "Freight Sans".
type Family struct {
	UniqueID string
	Name     string
	Fonts    []Font
}

// Foundry groups families under a publishing brand within a Subscription's
// catalog.
type Foundry struct {
	UniqueID string
	Name     string
	Families []Family
}

// Catalog is the full, cached installableFontsCommand payload for one
// Subscription.
type Catalog struct {
	Foundries []Foundry
}

// FontByID searches the catalog for a font by its uniqueID.
func (c Catalog) FontByID(id string) (Font, bool) {
	for _, foundry := range c.Foundries {
		for _, family := range foundry.Families {
			for _, font := range family.Fonts {
				if font.UniqueID == id {
					return font, true
				}
			}
		}
	}
	return Font{}, false
}

// FamilyByID searches the catalog for a family by its uniqueID.
func (c Catalog) FamilyByID(id string) (Family, bool) {
	for _, foundry := range c.Foundries {
		for _, family := range foundry.Families {
			if family.UniqueID == id {
				return family, true
			}
		}
	}
	return Family{}, false
}

// AllFonts flattens the catalog into a single slice, preserving order.
func (c Catalog) AllFonts() []Font {
	var fonts []Font
	for _, foundry := range c.Foundries {
		for _, family := range foundry.Families {
			fonts = append(fonts, family.Fonts...)
		}
	}
	return fonts
}
