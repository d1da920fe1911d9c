package subscription

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typeworld/client/cache"
	"github.com/typeworld/client/model"
	"github.com/typeworld/client/protocol"
)

type fakeProtocol struct {
	catalog            model.Catalog
	installAssets      []protocol.InstalledFontAsset
	removeAssets       []protocol.InstalledFontAsset
	updateErr          error
	lastUpdateSubscr   bool
}

func (f *fakeProtocol) EndpointCommand(ctx context.Context, testScenario string) (protocol.EndpointCommand, error) {
	return protocol.EndpointCommand{}, nil
}
func (f *fakeProtocol) RootCommand(ctx context.Context, testScenario string) (protocol.RootCommand, error) {
	return protocol.RootCommand{}, nil
}
func (f *fakeProtocol) InstallableFontsCommand(ctx context.Context, testScenario string) (model.Catalog, error) {
	return f.catalog, nil
}
func (f *fakeProtocol) InstallFonts(ctx context.Context, fonts []model.Font, updateSubscription bool) ([]protocol.InstalledFontAsset, error) {
	f.lastUpdateSubscr = updateSubscription
	return f.installAssets, nil
}
func (f *fakeProtocol) RemoveFonts(ctx context.Context, fonts []model.Font, dryRun bool) ([]protocol.InstalledFontAsset, error) {
	return f.removeAssets, nil
}
func (f *fakeProtocol) Update(ctx context.Context, testScenario string) error { return f.updateErr }
func (f *fakeProtocol) AboutToAddSubscription(ctx context.Context, anonymousAppID, anonymousUserID, accessToken, testScenario string) error {
	return nil
}
func (f *fakeProtocol) SecretURL() string        { return "" }
func (f *fakeProtocol) UnsecretURL() string      { return "" }
func (f *fakeProtocol) ShortUnsecretURL() string { return "" }
func (f *fakeProtocol) SetSecretKey(string)      {}
func (f *fakeProtocol) SubscriptionAdded()       {}

type nopFetcher struct{}

func (nopFetcher) Get(ctx context.Context, url string) ([]byte, error) { return nil, nil }

func sampleFont() model.Font {
	return model.Font{
		UniqueID:  "font1",
		Name:      "Freight Sans Bold",
		Protected: true,
		Versions: []model.Version{
			{Number: "1.1", Filename: "FreightSans-Bold-1.1.ttf"},
			{Number: "1.0", Filename: "FreightSans-Bold-1.0.ttf"},
		},
	}
}

func newTestSubscription(t *testing.T, proto *fakeProtocol) *Subscription {
	dir := t.TempDir()
	return New("typeworld://json+https//sub1@example.com", "abc1234567", proto, func() string { return dir }, nopFetcher{}, nil, nil)
}

func TestInstallFontsRequiresAcceptedTerms(t *testing.T) {
	proto := &fakeProtocol{catalog: model.Catalog{Foundries: []model.Foundry{{Families: []model.Family{{Fonts: []model.Font{sampleFont()}}}}}}}
	s := newTestSubscription(t, proto)

	msg := s.InstallFonts(context.Background(), []FontTarget{{FontUniqueID: "font1", Version: "1.1"}})
	assert.Equal(t, model.CodeTermsOfServiceNotAccepted, msg.Code())
}

func TestInstallFontsRequiresRevealedIdentity(t *testing.T) {
	proto := &fakeProtocol{catalog: model.Catalog{Foundries: []model.Foundry{{Families: []model.Family{{Fonts: []model.Font{sampleFont()}}}}}}}
	s := newTestSubscription(t, proto)
	s.AcceptedTermsOfService = true

	msg := s.InstallFonts(context.Background(), []FontTarget{{FontUniqueID: "font1", Version: "1.1"}})
	assert.Equal(t, model.CodeRevealedIdentityRequired, msg.Code())
}

func TestInstallFontsWritesBinaryOnSuccess(t *testing.T) {
	font := sampleFont()
	proto := &fakeProtocol{
		catalog: model.Catalog{Foundries: []model.Foundry{{Families: []model.Family{{Fonts: []model.Font{font}}}}}},
		installAssets: []protocol.InstalledFontAsset{
			{FontUniqueID: "font1", Version: "1.1", Response: "success", Data: []byte("ttf-bytes")},
		},
	}
	s := newTestSubscription(t, proto)
	s.AcceptedTermsOfService = true
	s.RevealIdentity = true

	msg := s.InstallFonts(context.Background(), []FontTarget{{FontUniqueID: "font1", Version: "1.1"}})
	require.True(t, msg.IsZero())
	assert.True(t, proto.lastUpdateSubscr) // font1 is protected

	dest := s.destinationPath(font, "1.1")
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "ttf-bytes", string(data))

	version, ok := s.InstalledFontVersion(font)
	assert.True(t, ok)
	assert.Equal(t, "1.1", version)
}

func TestInstallFontsFetchesDataURLThroughCacheAndCascadesOnDelete(t *testing.T) {
	font := sampleFont()
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("ttf-bytes-from-url"))
	}))
	defer srv.Close()

	proto := &fakeProtocol{
		catalog: model.Catalog{Foundries: []model.Foundry{{Families: []model.Family{{Fonts: []model.Font{font}}}}}},
		installAssets: []protocol.InstalledFontAsset{
			{FontUniqueID: "font1", Version: "1.1", Response: "success", DataURL: srv.URL},
		},
		removeAssets: []protocol.InstalledFontAsset{
			{FontUniqueID: "font1", Version: "1.1", Response: "success"},
		},
	}
	dir := t.TempDir()
	cacheStore := cache.New(nil)
	s := New("typeworld://json+https//sub1@example.com", "abc1234567", proto, func() string { return dir }, nopFetcher{}, cacheStore, nil)
	s.AcceptedTermsOfService = true
	s.RevealIdentity = true

	msg := s.InstallFonts(context.Background(), []FontTarget{{FontUniqueID: "font1", Version: "1.1"}})
	require.True(t, msg.IsZero())
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, cacheStore.Len())

	dest := s.destinationPath(font, "1.1")
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "ttf-bytes-from-url", string(data))

	msg = s.Delete(context.Background())
	require.True(t, msg.IsZero())
	assert.Equal(t, 0, cacheStore.Len())
}

func TestInstallFontsPropagatesErrorResponse(t *testing.T) {
	font := sampleFont()
	proto := &fakeProtocol{
		catalog: model.Catalog{Foundries: []model.Foundry{{Families: []model.Family{{Fonts: []model.Font{font}}}}}},
		installAssets: []protocol.InstalledFontAsset{
			{FontUniqueID: "font1", Response: "error", ErrorMessage: "disk is full"},
		},
	}
	s := newTestSubscription(t, proto)
	s.AcceptedTermsOfService = true
	s.RevealIdentity = true

	msg := s.InstallFonts(context.Background(), []FontTarget{{FontUniqueID: "font1", Version: "1.1"}})
	assert.False(t, msg.IsZero())
	assert.Contains(t, msg.String(), "disk is full")
}

func TestRemoveFontsToleratesUnknownInstallation(t *testing.T) {
	font := sampleFont()
	proto := &fakeProtocol{
		catalog: model.Catalog{Foundries: []model.Foundry{{Families: []model.Family{{Fonts: []model.Font{font}}}}}},
		removeAssets: []protocol.InstalledFontAsset{
			{FontUniqueID: "font1", Response: "unknownInstallation"},
		},
	}
	s := newTestSubscription(t, proto)

	msg := s.RemoveFonts(context.Background(), []string{"font1"}, false)
	assert.True(t, msg.IsZero())
}

func TestRemoveFontsDeletesUnprotectedFontUnconditionally(t *testing.T) {
	font := model.Font{
		UniqueID: "font2",
		Versions: []model.Version{{Number: "1.0", Filename: "Example-Regular.ttf"}},
	}
	proto := &fakeProtocol{
		catalog: model.Catalog{Foundries: []model.Foundry{{Families: []model.Family{{Fonts: []model.Font{font}}}}}},
	}
	s := newTestSubscription(t, proto)

	dest := s.destinationPath(font, "1.0")
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))
	require.NoError(t, os.WriteFile(dest, []byte("x"), 0o644))

	msg := s.RemoveFonts(context.Background(), []string{"font2"}, false)
	assert.True(t, msg.IsZero())

	_, err := os.Stat(dest)
	assert.True(t, os.IsNotExist(err))
}

func TestOutdatedFontsDetectsStaleInstall(t *testing.T) {
	font := model.Font{
		UniqueID: "font3",
		Versions: []model.Version{
			{Number: "2.0", Filename: "Example-2.0.ttf"},
			{Number: "1.0", Filename: "Example-1.0.ttf"},
		},
	}
	proto := &fakeProtocol{catalog: model.Catalog{Foundries: []model.Foundry{{Families: []model.Family{{Fonts: []model.Font{font}}}}}}}
	s := newTestSubscription(t, proto)

	dest := s.destinationPath(font, "1.0")
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0o644))

	outdated, err := s.OutdatedFonts(context.Background())
	require.NoError(t, err)
	require.Len(t, outdated, 1)
	assert.Equal(t, "font3", outdated[0].UniqueID)
}

func TestUpdateSucceedsWhenProtocolUpdateSucceeds(t *testing.T) {
	proto := &fakeProtocol{}
	s := newTestSubscription(t, proto)

	msg := s.Update(context.Background())
	assert.True(t, msg.IsZero())
}
