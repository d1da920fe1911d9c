// Package publisher implements the per-endpoint aggregator that owns one or
// more Subscriptions sharing a canonical URL (§4.7 "Publisher Aggregator").
package publisher

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/typeworld/client/model"
	"github.com/typeworld/client/subscription"
)

// Folder returns the OS-conventional destination directory for installed
// font files (§4.7 "folder()"). Every platform other than Windows/macOS
// falls back to the system temp directory, matching the original's
// behavior for unsupported platforms.
func Folder() string {
	switch runtime.GOOS {
	case "windows":
		if winDir := os.Getenv("WINDIR"); winDir != "" {
			return filepath.Join(winDir, "Fonts")
		}
		return os.TempDir()
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return os.TempDir()
		}
		return filepath.Join(home, "Library", "Fonts", "Type.World App")
	default:
		return os.TempDir()
	}
}

// Publisher groups every Subscription sharing one canonical URL (§3
// "Publisher"). It is created on first subscription add and destroyed
// when its last subscription is removed.
type Publisher struct {
	CanonicalURL string

	mu            sync.RWMutex
	name          string
	subscriptions map[string]*subscription.Subscription // keyed by unsecret URL
}

// Name returns the publisher's display name, taken from the first
// subscription's endpointCommand (§4.7 "Name is taken from the first
// subscription's endpointCommand"). Empty until SetName has been called.
func (p *Publisher) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

// SetName records the publisher's display name. Only the first subscription
// attached to a Publisher should call this (later calls are no-ops once a
// name is set, so a second endpoint's name never overwrites the first's).
func (p *Publisher) SetName(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.name == "" {
		p.name = name
	}
}

// New returns an empty Publisher for canonicalURL.
func New(canonicalURL string) *Publisher {
	return &Publisher{
		CanonicalURL:  canonicalURL,
		subscriptions: make(map[string]*subscription.Subscription),
	}
}

// AddSubscription attaches sub to this Publisher, keyed by its unsecret URL.
func (p *Publisher) AddSubscription(sub *subscription.Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions[sub.UnsecretURL] = sub
}

// RemoveSubscription detaches the subscription with the given unsecret URL.
func (p *Publisher) RemoveSubscription(unsecretURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subscriptions, unsecretURL)
}

// Subscription returns the subscription for unsecretURL, if attached.
func (p *Publisher) Subscription(unsecretURL string) (*subscription.Subscription, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sub, ok := p.subscriptions[unsecretURL]
	return sub, ok
}

// Subscriptions returns every attached Subscription. Order is unspecified.
func (p *Publisher) Subscriptions() []*subscription.Subscription {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*subscription.Subscription, 0, len(p.subscriptions))
	for _, sub := range p.subscriptions {
		out = append(out, sub)
	}
	return out
}

// IsEmpty reports whether this Publisher has no attached Subscriptions and
// should be destroyed (§3 "destroyed when its last subscription is
// removed").
func (p *Publisher) IsEmpty() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscriptions) == 0
}

// InstalledFonts returns the deduplicated union of every installed font
// across this Publisher's Subscriptions.
func (p *Publisher) InstalledFonts(ctx context.Context) ([]model.Font, error) {
	seen := make(map[string]struct{})
	var out []model.Font

	for _, sub := range p.Subscriptions() {
		catalog, err := sub.InstallableFonts(ctx, false)
		if err != nil {
			return nil, err
		}
		for _, font := range catalog.AllFonts() {
			if _, ok := sub.InstalledFontVersion(font); !ok {
				continue
			}
			if _, dup := seen[font.UniqueID]; dup {
				continue
			}
			seen[font.UniqueID] = struct{}{}
			out = append(out, font)
		}
	}
	return out, nil
}

// AmountInstalledFonts is a convenience count wrapper over InstalledFonts.
func (p *Publisher) AmountInstalledFonts(ctx context.Context) (int, error) {
	fonts, err := p.InstalledFonts(ctx)
	if err != nil {
		return 0, err
	}
	return len(fonts), nil
}

// OutdatedFonts returns the deduplicated union of every outdated font
// across this Publisher's Subscriptions.
func (p *Publisher) OutdatedFonts(ctx context.Context) ([]model.Font, error) {
	seen := make(map[string]struct{})
	var out []model.Font

	for _, sub := range p.Subscriptions() {
		outdated, err := sub.OutdatedFonts(ctx)
		if err != nil {
			return nil, err
		}
		for _, font := range outdated {
			if _, dup := seen[font.UniqueID]; dup {
				continue
			}
			seen[font.UniqueID] = struct{}{}
			out = append(out, font)
		}
	}
	return out, nil
}

// AmountOutdatedFonts is a convenience count wrapper over OutdatedFonts.
func (p *Publisher) AmountOutdatedFonts(ctx context.Context) (int, error) {
	outdated, err := p.OutdatedFonts(ctx)
	if err != nil {
		return 0, err
	}
	return len(outdated), nil
}

// Update calls Update on every attached Subscription in turn, short-
// circuiting on the first failure (§4.7 "update()"). The returned bool is
// true once at least one subscription has updated successfully; it does not
// reflect whether any catalog's content changed.
func (p *Publisher) Update(ctx context.Context) (model.ErrorMessage, bool) {
	changed := false
	for _, sub := range p.Subscriptions() {
		msg := sub.Update(ctx)
		if !msg.IsZero() {
			return msg, changed
		}
		changed = true
	}
	return model.ErrorMessage{}, changed
}

// Delete removes every attached Subscription (uninstalling its fonts) and
// clears this Publisher's subscription set. The caller is responsible for
// releasing the Publisher's own preferences entry and cache membership.
func (p *Publisher) Delete(ctx context.Context) model.ErrorMessage {
	for _, sub := range p.Subscriptions() {
		if msg := sub.Delete(ctx); !msg.IsZero() {
			return msg
		}
	}
	p.mu.Lock()
	p.subscriptions = make(map[string]*subscription.Subscription)
	p.mu.Unlock()
	return model.ErrorMessage{}
}
