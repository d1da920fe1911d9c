// Package protocol defines the pluggable capability the core depends on to
// speak to a specific endpoint flavor (§4.2). The core never parses wire
// payloads itself; it only calls through this interface.
package protocol

import (
	"context"
	"sync"

	"github.com/typeworld/client/model"
	"github.com/typeworld/client/urlscheme"
)

// EndpointCommand is the metadata a Protocol reports about the endpoint it
// talks to: the canonical form of the subscription's URL, the endpoint's
// display name, which commercial app IDs it allows, and whether it sends
// live notifications.
type EndpointCommand struct {
	CanonicalURL            string
	Name                    string
	AllowedCommercialApps   []string
	SendsLiveNotifications  bool
}

// RootCommand is the server-declared API version, used for the breaking
// version gate in addSubscription (§4.6 step 3c).
type RootCommand struct {
	Version string
}

// InstalledFontAsset is one element of an installFonts/removeFonts response.
// Response is either "success", "error", or a protocol-specific code such as
// "unknownInstallation"/"unknownFont"; ErrorMessage is populated only when
// Response == "error".
type InstalledFontAsset struct {
	FontUniqueID string
	Version      string
	Response     string
	ErrorMessage string
	Data         []byte // inline base64-decoded payload, if provided
	DataURL      string // alternative: fetch the binary from here
}

// Protocol is the capability set a Subscription drives (§4.2). Every method
// takes a context so the caller can bound network time; testScenario
// threads a diagnostic hook through to the endpoint the same way the
// mothership client does for its own calls (§4.5).
type Protocol interface {
	EndpointCommand(ctx context.Context, testScenario string) (EndpointCommand, error)
	RootCommand(ctx context.Context, testScenario string) (RootCommand, error)
	InstallableFontsCommand(ctx context.Context, testScenario string) (model.Catalog, error)
	InstallFonts(ctx context.Context, fonts []model.Font, updateSubscription bool) ([]InstalledFontAsset, error)
	RemoveFonts(ctx context.Context, fonts []model.Font, dryRun bool) ([]InstalledFontAsset, error)
	Update(ctx context.Context, testScenario string) error
	AboutToAddSubscription(ctx context.Context, anonymousAppID, anonymousUserID, accessToken, testScenario string) error

	SecretURL() string
	UnsecretURL() string
	ShortUnsecretURL() string

	// SetSecretKey rebinds this Protocol instance to a rotated secret
	// without losing its identity (§4.6 step 2, "secret rotation").
	SetSecretKey(secretKey string)

	// SubscriptionAdded is called once, after addSubscription succeeds, to
	// let the Protocol perform any bookkeeping it needs (e.g. touching
	// registerAPIEndpoint for discoverability, §4.6 step (e)).
	SubscriptionAdded()
}

// Factory constructs a Protocol bound to the given parsed URL. Registered
// per inner protocol token (urlscheme.URL.Protocol).
type Factory func(u urlscheme.URL) (Protocol, error)

// Registry resolves a URL to a Protocol implementation, lazily constructing
// and caching one instance per unsecret URL (§4.2 "loading is lazy and
// cached per-URL").
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	instances map[string]Protocol
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]Protocol),
	}
}

// Register installs a Factory for the given inner protocol token.
func (r *Registry) Register(token string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[token] = factory
}

// KnownProtocols returns the set of registered protocol tokens, suitable
// for passing to urlscheme.Parse.
func (r *Registry) KnownProtocols() map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]struct{}, len(r.factories))
	for token := range r.factories {
		out[token] = struct{}{}
	}
	return out
}

// Resolve parses raw and returns the cached or newly-constructed Protocol
// for it, keyed by its unsecret URL. A secret rotation (same subscription,
// new secretKey) updates the cached instance in place rather than
// replacing it, so in-flight references stay valid.
func (r *Registry) Resolve(raw string) (Protocol, urlscheme.URL, error) {
	r.mu.Lock()
	factories := r.factories
	r.mu.Unlock()

	known := make(map[string]struct{}, len(factories))
	for token := range factories {
		known[token] = struct{}{}
	}

	u, err := urlscheme.Parse(raw, known)
	if err != nil {
		return nil, urlscheme.URL{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := u.UnsecretURL()
	if p, ok := r.instances[key]; ok {
		if u.SecretKey != "" {
			p.SetSecretKey(u.SecretKey)
		}
		return p, u, nil
	}

	factory := r.factories[u.Protocol]
	p, err := factory(u)
	if err != nil {
		return nil, urlscheme.URL{}, err
	}
	r.instances[key] = p
	return p, u, nil
}

// Forget drops the cached Protocol instance for the given unsecret URL,
// called when a Subscription is deleted.
func (r *Registry) Forget(unsecretURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, unsecretURL)
}
