package publisher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typeworld/client/model"
	"github.com/typeworld/client/protocol"
	"github.com/typeworld/client/subscription"
)

type fakeProtocol struct {
	catalog model.Catalog
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
	return nil, nil
}
func (f *fakeProtocol) RemoveFonts(ctx context.Context, fonts []model.Font, dryRun bool) ([]protocol.InstalledFontAsset, error) {
	return nil, nil
}
func (f *fakeProtocol) Update(ctx context.Context, testScenario string) error { return nil }
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

func TestInstalledFontsDeduplicatesAcrossSubscriptions(t *testing.T) {
	dir := t.TempDir()
	font := model.Font{UniqueID: "font1", Versions: []model.Version{{Number: "1.0", Filename: "Example.ttf"}}}
	catalog := model.Catalog{Foundries: []model.Foundry{{Families: []model.Family{{Fonts: []model.Font{font}}}}}}

	p := New("https://example.com")

	sub1 := subscription.New("unsecret1", "sub0000001", &fakeProtocol{catalog: catalog}, func() string { return dir }, nopFetcher{}, nil, nil)
	sub2 := subscription.New("unsecret2", "sub0000002", &fakeProtocol{catalog: catalog}, func() string { return dir }, nopFetcher{}, nil, nil)
	p.AddSubscription(sub1)
	p.AddSubscription(sub2)

	dest := filepath.Join(dir, "sub0000001-Example.ttf")
	require.NoError(t, os.WriteFile(dest, []byte("x"), 0o644))
	dest2 := filepath.Join(dir, "sub0000002-Example.ttf")
	require.NoError(t, os.WriteFile(dest2, []byte("x"), 0o644))

	fonts, err := p.InstalledFonts(context.Background())
	require.NoError(t, err)
	assert.Len(t, fonts, 1)
}

func TestIsEmptyAfterRemovingLastSubscription(t *testing.T) {
	p := New("https://example.com")
	sub := subscription.New("unsecret1", "sub0000001", &fakeProtocol{}, func() string { return t.TempDir() }, nopFetcher{}, nil, nil)

	p.AddSubscription(sub)
	assert.False(t, p.IsEmpty())

	p.RemoveSubscription("unsecret1")
	assert.True(t, p.IsEmpty())
}

func TestUpdateReportsChangedWhenSubscriptionSucceeds(t *testing.T) {
	p := New("https://example.com")

	sub := subscription.New("unsecret1", "sub0000001", &fakeProtocol{}, func() string { return t.TempDir() }, nopFetcher{}, nil, nil)
	p.AddSubscription(sub)

	msg, changed := p.Update(context.Background())
	assert.True(t, msg.IsZero())
	assert.True(t, changed)
}
