// Package subscription implements the per-endpoint install/uninstall
// lifecycle (§4.6 "Subscription Engine"). A Subscription drives its
// Protocol to fetch a font catalog, installs and removes font binaries
// under filesystem-derived installation state, and reports outdated and
// expiring fonts.
package subscription

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/typeworld/client/cache"
	"github.com/typeworld/client/model"
	"github.com/typeworld/client/protocol"
)

// AssetFetcher retrieves a font binary from a dataURL when the protocol's
// response doesn't inline it (§4.6 "installFonts"). Used only as a fallback
// when no Cache is configured; the normal path goes through
// Cache.ResourceByURL so the fetch is owner-tracked for cascading deletion
// (§4.3).
type AssetFetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Delegate receives lifecycle callbacks as install/uninstall/update
// operations progress (§4.8 "Delegate pattern"). Every method is called
// synchronously on the calling goroutine.
type Delegate interface {
	FontWillInstall(font model.Font)
	FontHasInstalled(ok bool, message string, font model.Font)
	FontWillUninstall(font model.Font)
	FontHasUninstalled(ok bool, message string, font model.Font)
	SubscriptionWillUpdate(unsecretURL string)
	SubscriptionHasBeenUpdated(ok bool, message model.ErrorMessage, changed bool)
}

// NopDelegate is a Delegate whose methods do nothing, used when the caller
// doesn't need lifecycle callbacks.
type NopDelegate struct{}

func (NopDelegate) FontWillInstall(model.Font)                              {}
func (NopDelegate) FontHasInstalled(bool, string, model.Font)                {}
func (NopDelegate) FontWillUninstall(model.Font)                            {}
func (NopDelegate) FontHasUninstalled(bool, string, model.Font)              {}
func (NopDelegate) SubscriptionWillUpdate(string)                           {}
func (NopDelegate) SubscriptionHasBeenUpdated(bool, model.ErrorMessage, bool) {}

// FontTarget names one font/version pair to install.
type FontTarget struct {
	FontUniqueID string
	Version      string
}

// Subscription is one endpoint a Publisher holds a seat on (§3
// "Subscription"). Identity is its unsecret URL.
type Subscription struct {
	UnsecretURL            string
	UniqueID               string // 10-char opaque, assigned on creation
	AcceptedTermsOfService bool
	RevealIdentity         bool
	TestScenario           string

	Protocol protocol.Protocol
	Cache    *cache.Cache
	Fetcher  AssetFetcher
	Delegate Delegate

	// Folder returns the destination directory for installed font files.
	Folder func() string

	mu              sync.Mutex
	serverTimestamp int64
	catalog         model.Catalog
	catalogLoaded   bool
}

// New returns a Subscription ready to drive proto. delegate may be nil, in
// which case NopDelegate is used.
func New(unsecretURL, uniqueID string, proto protocol.Protocol, folder func() string, fetcher AssetFetcher, cacheStore *cache.Cache, delegate Delegate) *Subscription {
	if delegate == nil {
		delegate = NopDelegate{}
	}
	return &Subscription{
		UnsecretURL: unsecretURL,
		UniqueID:    uniqueID,
		Protocol:    proto,
		Folder:      folder,
		Fetcher:     fetcher,
		Cache:       cacheStore,
		Delegate:    delegate,
	}
}

// ServerTimestamp returns the last server timestamp recorded for this
// subscription, used by reconciliation to decide whether incoming state is
// newer (§4.8 "executeDownloadSubscriptions").
func (s *Subscription) ServerTimestamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverTimestamp
}

// SetServerTimestamp records a new server timestamp, e.g. after a
// successful push-triggered update.
func (s *Subscription) SetServerTimestamp(ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverTimestamp = ts
}

// InstallableFonts returns the cached catalog, refreshing it from the
// Protocol if forceUpdate is set or nothing has been fetched yet.
func (s *Subscription) InstallableFonts(ctx context.Context, forceUpdate bool) (model.Catalog, error) {
	s.mu.Lock()
	if s.catalogLoaded && !forceUpdate {
		catalog := s.catalog
		s.mu.Unlock()
		return catalog, nil
	}
	s.mu.Unlock()

	catalog, err := s.Protocol.InstallableFontsCommand(ctx, s.TestScenario)
	if err != nil {
		return model.Catalog{}, fmt.Errorf("subscription: fetching catalog: %w", err)
	}

	s.mu.Lock()
	s.catalog = catalog
	s.catalogLoaded = true
	s.mu.Unlock()

	return catalog, nil
}

func (s *Subscription) fontByID(ctx context.Context, fontID string) (model.Font, error) {
	catalog, err := s.InstallableFonts(ctx, false)
	if err != nil {
		return model.Font{}, err
	}
	font, ok := catalog.FontByID(fontID)
	if !ok {
		return model.Font{}, fmt.Errorf("subscription: unknown font %q", fontID)
	}
	return font, nil
}

func (s *Subscription) destinationPath(font model.Font, version string) string {
	return filepath.Join(s.Folder(), s.UniqueID+"-"+font.Filename(version))
}

// InstalledFontVersion probes the filesystem for any known version of font,
// returning the first match in the font's declared version order (§4.6
// "installedFontVersion").
func (s *Subscription) InstalledFontVersion(font model.Font) (string, bool) {
	for _, v := range font.Versions {
		if _, err := os.Stat(s.destinationPath(font, v.Number)); err == nil {
			return v.Number, true
		}
	}
	return "", false
}

// probeWritable verifies write permission at the destination directory by
// creating and deleting a probe file (§4.6 "verify write permission").
func probeWritable(destination string) error {
	dir := filepath.Dir(destination)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("insufficient permission: %w", err)
	}
	probe := destination + ".test"
	if err := os.WriteFile(probe, []byte("test"), 0o644); err != nil {
		return fmt.Errorf("insufficient permission: %w", err)
	}
	return os.Remove(probe)
}

// InstallFonts installs each target font/version, writing the resulting
// binary under Folder()/<uniqueID>-<filename> (§4.6 "installFonts").
func (s *Subscription) InstallFonts(ctx context.Context, targets []FontTarget) model.ErrorMessage {
	if !s.AcceptedTermsOfService {
		return model.CodeError(model.CodeTermsOfServiceNotAccepted)
	}
	if !s.RevealIdentity {
		return model.CodeError(model.CodeRevealedIdentityRequired)
	}

	fonts := make([]model.Font, 0, len(targets))
	versionByFont := make(map[string]string, len(targets))
	protectedFonts := false

	for _, target := range targets {
		font, err := s.fontByID(ctx, target.FontUniqueID)
		if err != nil {
			return model.PlainError("%s", err)
		}
		fonts = append(fonts, font)
		versionByFont[target.FontUniqueID] = target.Version
		if font.IsProtectedInstall() {
			protectedFonts = true
		}

		s.Delegate.FontWillInstall(font)

		if err := probeWritable(s.destinationPath(font, target.Version)); err != nil {
			s.Delegate.FontHasInstalled(false, "Insufficient permission to install font.", font)
			return model.PlainError("insufficient permission to install font")
		}
	}

	assets, err := s.Protocol.InstallFonts(ctx, fonts, protectedFonts)
	if err != nil {
		s.Delegate.FontHasInstalled(false, err.Error(), model.Font{})
		return model.PlainError("%s", err)
	}
	if len(assets) == 0 {
		return model.PlainError("no fonts to install in assets, expected %d assets", len(targets))
	}

	for _, asset := range assets {
		if asset.Response == "error" {
			return model.PlainError("%s", asset.ErrorMessage)
		}
		if asset.Response != "success" {
			return model.CodeError(asset.Response)
		}

		font, err := s.fontByID(ctx, asset.FontUniqueID)
		if err != nil {
			return model.PlainError("%s", err)
		}
		version := versionByFont[asset.FontUniqueID]
		destination := s.destinationPath(font, version)

		data := asset.Data
		if len(data) == 0 && asset.DataURL != "" {
			if s.Cache != nil {
				resource, cerr := s.Cache.ResourceByURL(ctx, asset.DataURL, true, s.UnsecretURL)
				if cerr != nil {
					return model.PlainError("%s", cerr)
				}
				data = resource.Content
			} else {
				data, err = s.Fetcher.Get(ctx, asset.DataURL)
				if err != nil {
					return model.PlainError("%s", err)
				}
			}
		}
		if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
			return model.PlainError("%s", err)
		}
		if err := os.WriteFile(destination, data, 0o644); err != nil {
			return model.PlainError("%s", err)
		}

		s.Delegate.FontHasInstalled(true, "", font)
	}

	return model.ErrorMessage{}
}

// RemoveFonts uninstalls the given fonts (§4.6 "removeFonts"). Protected
// fonts round-trip through the Protocol first; only assets it reports as
// "success" have their local file removed, and "unknownInstallation" /
// "unknownFont" are tolerated as already-gone. Unprotected fonts are
// deleted unconditionally. dryRun skips every filesystem mutation, used to
// report intent when uninstalling a revoked instance's fonts with no local
// access guarantee.
func (s *Subscription) RemoveFonts(ctx context.Context, fontIDs []string, dryRun bool) model.ErrorMessage {
	var protectedIDs, unprotectedIDs []string
	fontsByID := make(map[string]model.Font, len(fontIDs))

	for _, fontID := range fontIDs {
		font, err := s.fontByID(ctx, fontID)
		if err != nil {
			return model.PlainError("%s", err)
		}
		fontsByID[fontID] = font

		if !dryRun {
			if version, ok := s.InstalledFontVersion(font); ok {
				if err := probeWritable(s.destinationPath(font, version)); err != nil {
					if font.IsProtectedInstall() {
						s.Delegate.FontHasInstalled(false, "Insufficient permission to uninstall font.", font)
					}
					return model.PlainError("insufficient permission to uninstall font")
				}
			}
		}

		s.Delegate.FontWillUninstall(font)

		if font.IsProtectedInstall() {
			protectedIDs = append(protectedIDs, fontID)
		} else {
			unprotectedIDs = append(unprotectedIDs, fontID)
		}
	}

	if len(protectedIDs) > 0 {
		protectedFonts := make([]model.Font, 0, len(protectedIDs))
		for _, id := range protectedIDs {
			protectedFonts = append(protectedFonts, fontsByID[id])
		}

		assets, err := s.Protocol.RemoveFonts(ctx, protectedFonts, dryRun)
		if err != nil {
			return model.PlainError("%s", err)
		}
		if len(assets) == 0 {
			return model.PlainError("no fonts to uninstall in assets, expected %d assets", len(protectedIDs))
		}

		for _, asset := range assets {
			switch asset.Response {
			case "unknownInstallation", "unknownFont":
				// Already gone server-side; tolerate.
			case "error":
				return model.PlainError("%s", asset.ErrorMessage)
			case "success":
				font := fontsByID[asset.FontUniqueID]
				if !dryRun {
					if version, ok := s.InstalledFontVersion(font); ok {
						if err := os.Remove(s.destinationPath(font, version)); err != nil && !os.IsNotExist(err) {
							return model.PlainError("%s", err)
						}
					}
				}
				s.Delegate.FontHasUninstalled(true, "", font)
			default:
				return model.CodeError(asset.Response)
			}
		}
	}

	for _, fontID := range unprotectedIDs {
		font := fontsByID[fontID]
		if !dryRun {
			if version, ok := s.InstalledFontVersion(font); ok {
				if err := os.Remove(s.destinationPath(font, version)); err != nil && !os.IsNotExist(err) {
					return model.PlainError("%s", err)
				}
			}
		}
		s.Delegate.FontHasUninstalled(true, "", font)
	}

	return model.ErrorMessage{}
}

// Update refreshes the subscription's catalog via the Protocol and fires
// the corresponding delegate callbacks (§4.6 "update").
func (s *Subscription) Update(ctx context.Context) model.ErrorMessage {
	s.Delegate.SubscriptionWillUpdate(s.UnsecretURL)

	if err := s.Protocol.Update(ctx, s.TestScenario); err != nil {
		msg := model.PlainError("%s", err)
		s.Delegate.SubscriptionHasBeenUpdated(false, msg, false)
		return msg
	}

	s.mu.Lock()
	s.catalogLoaded = false
	s.mu.Unlock()

	s.Delegate.SubscriptionHasBeenUpdated(true, model.ErrorMessage{}, true)
	return model.ErrorMessage{}
}

// Delete removes every font in the current catalog, purges cached
// resources owned by this subscription, and forgets its cached catalog
// (§4.6 "delete"). It does not touch the Protocol registry or Preferences;
// the caller (Publisher/Client) is responsible for detaching this
// Subscription and enqueueing an upload to inform other machines.
func (s *Subscription) Delete(ctx context.Context) model.ErrorMessage {
	catalog, err := s.InstallableFonts(ctx, false)
	if err == nil {
		ids := make([]string, 0, len(catalog.AllFonts()))
		for _, f := range catalog.AllFonts() {
			ids = append(ids, f.UniqueID)
		}
		if len(ids) > 0 {
			if msg := s.RemoveFonts(ctx, ids, false); !msg.IsZero() {
				return msg
			}
		}
	}

	if s.Cache != nil {
		s.Cache.ReleaseOwner(s.UnsecretURL)
	}

	s.mu.Lock()
	s.catalog = model.Catalog{}
	s.catalogLoaded = false
	s.mu.Unlock()

	return model.ErrorMessage{}
}

// OutdatedFonts returns every currently-installed font whose installed
// version is not the catalog's latest.
func (s *Subscription) OutdatedFonts(ctx context.Context) ([]model.Font, error) {
	catalog, err := s.InstallableFonts(ctx, false)
	if err != nil {
		return nil, err
	}
	var outdated []model.Font
	for _, font := range catalog.AllFonts() {
		installed, ok := s.InstalledFontVersion(font)
		if ok && installed != font.LatestVersion() {
			outdated = append(outdated, font)
		}
	}
	return outdated, nil
}

// AmountOutdatedFonts is a convenience count wrapper over OutdatedFonts.
func (s *Subscription) AmountOutdatedFonts(ctx context.Context) (int, error) {
	outdated, err := s.OutdatedFonts(ctx)
	if err != nil {
		return 0, err
	}
	return len(outdated), nil
}

// ExpiringFonts returns every installed, protected font whose Expiry falls
// within the given window from now.
func (s *Subscription) ExpiringFonts(ctx context.Context, within time.Duration) ([]model.Font, error) {
	catalog, err := s.InstallableFonts(ctx, false)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(within)
	var expiring []model.Font
	for _, font := range catalog.AllFonts() {
		if font.Expiry == "" {
			continue
		}
		if _, ok := s.InstalledFontVersion(font); !ok {
			continue
		}
		expiry, err := time.Parse(time.RFC3339, font.Expiry)
		if err != nil {
			continue
		}
		if expiry.Before(cutoff) {
			expiring = append(expiring, font)
		}
	}
	return expiring, nil
}
