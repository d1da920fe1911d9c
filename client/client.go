// Package client implements the top-level orchestrator (§4.8 "Client
// Orchestrator", APIClient). It owns preferences, publishers, the linked
// user account, online/offline transitions, the push channel, and delegate
// dispatch; every other package is a leaf it wires together.
package client

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/blang/semver"
	"github.com/google/uuid"

	"github.com/typeworld/client/cache"
	"github.com/typeworld/client/keyring"
	"github.com/typeworld/client/model"
	"github.com/typeworld/client/mothership"
	"github.com/typeworld/client/preferences"
	"github.com/typeworld/client/protocol"
	"github.com/typeworld/client/publisher"
	"github.com/typeworld/client/push"
	"github.com/typeworld/client/queue"
)

// reachabilityCacheWindow mirrors the original's 10-second online() cache
// (§4.8 "Online/offline").
const reachabilityCacheWindow = 10 * time.Second

// Config wires every collaborator the orchestrator needs. Only Preferences,
// Protocols and Mothership are required; every other field may be left at
// its zero value (a nil Push, Keyring or Cache disables the push channel,
// secret storage or asset caching; Delegate, Folder, HTTP and Logger fall
// back to defaults).
type Config struct {
	Preferences preferences.Store
	Keyring     keyring.Keyring
	Protocols   *protocol.Registry
	Cache       *cache.Cache
	Mothership  *mothership.Client
	Push        *pubsub.Client // nil disables the push channel entirely

	Delegate Delegate // nil becomes NopDelegate{}

	AppID            string
	ClientVersion    string
	CommercialAppIDs []string // non-empty marks this a commercial build (§4.6 step 3d)
	Testing          bool     // forces requiresOnline() true, as in the original's test harness

	Folder func(canonicalURL string) string // destination dir for installed fonts; defaults to publisher.Folder()
	HTTP   *http.Client                     // stored (default http.DefaultClient) but not used: dataURL downloads go through Cache, or Mothership when Cache is nil

	Logger *slog.Logger
}

// Client is the top-level orchestrator (§4.8 "APIClient"). It implements
// subscription.Delegate directly so every Subscription it creates can use
// the Client itself as its delegate, with every dispatch wrapped in a
// panic/recover boundary that routes to handleTraceback (§9 "Dynamic
// delegate dispatch").
type Client struct {
	cfg Config

	prefs      preferences.Store
	keys       keyring.Keyring
	protocols  *protocol.Registry
	cacheStore *cache.Cache
	mothers    *mothership.Client
	queue      *queue.Queue
	push       *push.Channel

	delegate Delegate
	logger   *slog.Logger
	httpC    *http.Client

	mu                     sync.RWMutex
	anonymousAppID         string
	account                model.UserAccount
	downloadedSettings     model.DownloadedSettings
	publishers             map[string]*publisher.Publisher // keyed by canonical URL
	subscriptionOwner      map[string]string               // unsecretURL -> canonicalURL
	sendsLiveNotifications map[string]string                // unsecretURL -> canonicalURL (present = sends live notifications), avoids re-fetching endpointCommand
	pendingInvitations     []model.Invitation
	acceptedInvitations    []model.Invitation
	sentInvitations        []model.Invitation
	typeWorldWebsiteToken  string
	syncProblems           []model.ErrorMessage
	registeredEndpoints    map[string]struct{}

	updatingMu             sync.Mutex
	updatingSubscriptions  map[string]struct{}

	onlineMu     sync.Mutex
	onlineAt     time.Time
	onlineResult bool

	tracebackMu   sync.Mutex
	tracebackSeen map[string]struct{}
}

// New constructs a Client bound to cfg. The anonymousAppID is loaded from
// preferences or generated and persisted on first use (§3 "AnonymousAppID").
// Any previously persisted publishers/subscriptions are rehydrated so a
// restarted process picks up where it left off.
func New(cfg Config) (*Client, error) {
	if cfg.Preferences == nil {
		return nil, fmt.Errorf("client: Config.Preferences is required")
	}
	if cfg.Protocols == nil {
		return nil, fmt.Errorf("client: Config.Protocols is required")
	}
	if cfg.Mothership == nil {
		return nil, fmt.Errorf("client: Config.Mothership is required")
	}

	delegate := cfg.Delegate
	if delegate == nil {
		delegate = NopDelegate{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpC := cfg.HTTP
	if httpC == nil {
		httpC = http.DefaultClient
	}

	c := &Client{
		cfg:                    cfg,
		prefs:                  cfg.Preferences,
		keys:                   cfg.Keyring,
		protocols:              cfg.Protocols,
		cacheStore:             cfg.Cache,
		mothers:                cfg.Mothership,
		queue:                  queue.New(cfg.Preferences),
		delegate:               delegate,
		logger:                 logger,
		httpC:                  httpC,
		publishers:             make(map[string]*publisher.Publisher),
		subscriptionOwner:      make(map[string]string),
		sendsLiveNotifications: make(map[string]string),
		registeredEndpoints:    make(map[string]struct{}),
		updatingSubscriptions:  make(map[string]struct{}),
		tracebackSeen:          make(map[string]struct{}),
	}
	if err := c.loadAnonymousAppID(); err != nil {
		return nil, err
	}
	if cfg.Push != nil {
		c.push = push.NewChannel(cfg.Push, c.anonymousAppID, logger)
	}
	c.loadAccount()
	if err := c.hydratePublishers(); err != nil {
		return nil, fmt.Errorf("client: rehydrating publishers: %w", err)
	}

	c.goOnlineIfRequired(context.Background())

	return c, nil
}

const anonymousAppIDKey = "anonymousAppID"

func (c *Client) loadAnonymousAppID() error {
	var id string
	ok, err := preferences.GetValue(c.prefs, anonymousAppIDKey, &id)
	if err != nil {
		return err
	}
	if ok && id != "" {
		c.anonymousAppID = id
		return nil
	}
	id = model.NewAnonymousAppID()
	if err := c.setPreference(anonymousAppIDKey, id); err != nil {
		return err
	}
	c.anonymousAppID = id
	return nil
}

// setPreference writes key through to Preferences and notifies the
// delegate (§4.8 "Delegate", PreferenceHasChanged), the single choke point
// every persisted preference write in this package goes through.
func (c *Client) setPreference(key string, value any) error {
	if err := preferences.SetValue(c.prefs, key, value); err != nil {
		return err
	}
	c.safeCall("PreferenceHasChanged", func() { c.delegate.PreferenceHasChanged(key) })
	return nil
}

// AnonymousAppID returns this installation's per-install identifier.
func (c *Client) AnonymousAppID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.anonymousAppID
}

// Account returns a copy of the currently linked user account (zero value
// if none is linked).
func (c *Client) Account() model.UserAccount {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.account
}

// SyncProblems returns the errors accumulated by the most recent queue
// drain, beyond the first one returned directly (§4.4 "drain").
func (c *Client) SyncProblems() []model.ErrorMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.ErrorMessage(nil), c.syncProblems...)
}

// newUniqueID mints a 10-character opaque subscription identifier (§3
// "Subscription", "persisted uniqueID (10-char opaque)"). Installed font
// filenames are prefixed with this, so it must be filesystem-safe and
// short.
func newUniqueID() string {
	var buf [5]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing means the system entropy source is broken;
		// fall back to a UUID-derived id rather than a hard failure here,
		// since a colliding id is far less likely than a caller being
		// able to usefully recover from this.
		return uuid.NewString()[:10]
	}
	return hex.EncodeToString(buf[:])
}

// versionGreater reports whether a > b as dotted semantic versions,
// tolerating short forms like "2.0" by zero-padding (§4.6 step 3c,
// SPEC_FULL "appVersion/clientVersion comparison helper").
func versionGreater(a, b string) bool {
	av, aerr := semver.Parse(padSemver(a))
	bv, berr := semver.Parse(padSemver(b))
	if aerr != nil || berr != nil {
		return a > b
	}
	return av.GT(bv)
}

func padSemver(v string) string {
	parts := 0
	for _, r := range v {
		if r == '.' {
			parts++
		}
	}
	for parts < 2 {
		v += ".0"
		parts++
	}
	return v
}

// checkBreakingVersion implements §4.6 step 3c: addSubscription fails with
// appUpdateRequired iff some breaking version is strictly greater than the
// local client version AND the server's declared version is strictly
// greater than that breaking version.
func (c *Client) checkBreakingVersion(serverVersion string) model.ErrorMessage {
	c.mu.RLock()
	breaking := c.downloadedSettings.BreakingAPIVersions
	c.mu.RUnlock()

	for _, bv := range breaking {
		if versionGreater(bv, c.cfg.ClientVersion) && versionGreater(serverVersion, bv) {
			return model.CodeError(model.CodeAppUpdateRequired)
		}
	}
	return model.ErrorMessage{}
}

// Online reports whether the mothership is currently reachable, caching a
// successful probe for reachabilityCacheWindow (§4.8 "online(server)"). A
// failed probe is never cached, so the next call re-probes immediately
// rather than pinning performCommands into notOnline after a transient
// failure.
func (c *Client) Online(ctx context.Context) bool {
	c.onlineMu.Lock()
	defer c.onlineMu.Unlock()

	if c.onlineResult && time.Since(c.onlineAt) < reachabilityCacheWindow {
		return true
	}
	err := c.mothers.Ping(ctx)
	if err != nil {
		c.onlineResult = false
		return false
	}
	c.onlineAt = time.Now()
	c.onlineResult = true
	return true
}

// requiresOnline reports whether this installation must maintain a push
// channel connection: a pro account, any held subscription that declares
// sendsLiveNotifications, or testing mode (§4.8 "Lifecycle").
func (c *Client) requiresOnline() bool {
	if c.cfg.Testing {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.account.UserAccountStatus == model.UserAccountPro {
		return true
	}
	return len(c.sendsLiveNotifications) > 0
}

// performCommands funnels every mothership-bound operation through the
// Deferred Command Queue: a no-op returning notOnline while offline,
// otherwise a full drain in the §4.4 fixed order (§4.8 "Online/offline").
func (c *Client) performCommands(ctx context.Context) model.ErrorMessage {
	if !c.Online(ctx) {
		return model.CodeError(model.CodeNotOnline)
	}
	first, problems := c.queue.Drain(c.queueHandlers(ctx))
	c.mu.Lock()
	c.syncProblems = problems
	c.mu.Unlock()
	return first
}

// Quit tears down the push channel, if any (§4.9 "Push channel" state
// machine: connected -> disconnected).
func (c *Client) Quit() {
	if c.push == nil {
		return
	}
	c.push.StopAll()
	c.safeCall("MessageQueueDisconnected", func() { c.delegate.MessageQueueDisconnected() })
}

// markUpdating records that unsecretURL has an update in flight, returning
// false if one is already running (§5 "Ordering": the per-subscription
// _updatingSubscriptions guard).
func (c *Client) markUpdating(unsecretURL string) bool {
	c.updatingMu.Lock()
	defer c.updatingMu.Unlock()
	if _, busy := c.updatingSubscriptions[unsecretURL]; busy {
		return false
	}
	c.updatingSubscriptions[unsecretURL] = struct{}{}
	return true
}

func (c *Client) clearUpdating(unsecretURL string) {
	c.updatingMu.Lock()
	defer c.updatingMu.Unlock()
	delete(c.updatingSubscriptions, unsecretURL)
}
