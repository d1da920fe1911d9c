package client

import (
	"context"
	"fmt"
	"time"

	"github.com/typeworld/client/model"
	"github.com/typeworld/client/preferences"
	"github.com/typeworld/client/publisher"
	"github.com/typeworld/client/subscription"
	"github.com/typeworld/client/urlscheme"
)

// queueSentinel is the payload used for queue commands that carry no
// per-item data of their own (uploadSubscriptions, downloadSubscriptions,
// syncSubscriptions, downloadSettings): Queue.Drain only runs a command
// whose payload list is non-empty, so a touch needs one entry to fire.
const queueSentinel = "1"

const publisherListKey = "publishers"

type publisherRecord struct {
	CanonicalURL             string   `json:"canonicalURL"`
	Name                     string   `json:"name"`
	SubscriptionUnsecretURLs []string `json:"subscriptionUnsecretURLs"`
}

type subscriptionRecord struct {
	UnsecretURL            string `json:"unsecretURL"`
	UniqueID               string `json:"uniqueID"`
	PublisherCanonicalURL  string `json:"publisherCanonicalURL"`
	AcceptedTermsOfService bool   `json:"acceptedTermsOfService"`
	RevealIdentity         bool   `json:"revealIdentity"`
	TestScenario           string `json:"testScenario"`
	ServerTimestamp        int64  `json:"serverTimestamp"`
	SendsLiveNotifications bool   `json:"sendsLiveNotifications"`
}

func publisherKey(canonicalURL string) string   { return "publisher(" + canonicalURL + ")" }
func subscriptionKey(unsecretURL string) string { return "subscription(" + unsecretURL + ")" }

// AddSubscriptionOptions carries the user-supplied gates a new subscription
// starts with (§4.6 "addSubscription").
type AddSubscriptionOptions struct {
	AcceptedTermsOfService bool
	RevealIdentity         bool
	TestScenario           string
}

// commercialAppAllowed reports whether any of want appears in allowed.
func commercialAppAllowed(allowed, want []string) bool {
	for _, a := range allowed {
		for _, w := range want {
			if a == w {
				return true
			}
		}
	}
	return false
}

// AddSubscription resolves rawURL's Protocol, probes the endpoint, and
// attaches a new Subscription to its Publisher (§4.6 "addSubscription"
// steps a-e). It reports whether a new subscription was actually created:
// re-adding an already-known unsecret URL is treated as a (possible) secret
// rotation, not an error.
func (c *Client) AddSubscription(ctx context.Context, rawURL string, opts AddSubscriptionOptions) (bool, model.ErrorMessage) {
	proto, parsedURL, err := c.protocols.Resolve(rawURL)
	if err != nil {
		return false, model.PlainError("%s", err)
	}
	unsecretURL := parsedURL.UnsecretURL()

	c.mu.RLock()
	_, already := c.subscriptionOwner[unsecretURL]
	c.mu.RUnlock()
	if already {
		if parsedURL.SecretKey != "" && c.keys != nil {
			if err := c.keys.Set(unsecretURL, parsedURL.SecretKey); err != nil {
				c.logger.Warn("client: failed to persist rotated secret", "unsecretURL", unsecretURL, "error", err)
			}
		}
		return false, model.ErrorMessage{}
	}

	account := c.Account()
	if err := proto.AboutToAddSubscription(ctx, c.AnonymousAppID(), account.AnonymousUserID, parsedURL.AccessToken, opts.TestScenario); err != nil {
		return false, model.PlainError("%s", err)
	}

	ec, err := proto.EndpointCommand(ctx, opts.TestScenario)
	if err != nil {
		return false, model.PlainError("%s", err)
	}
	rc, err := proto.RootCommand(ctx, opts.TestScenario)
	if err != nil {
		return false, model.PlainError("%s", err)
	}

	if msg := c.checkBreakingVersion(rc.Version); !msg.IsZero() {
		return false, msg
	}
	if len(c.cfg.CommercialAppIDs) > 0 && !commercialAppAllowed(ec.AllowedCommercialApps, c.cfg.CommercialAppIDs) {
		return false, model.CodeError(model.CodeCommercialAppNotAllowed)
	}

	canonicalURL := ec.CanonicalURL
	if canonicalURL == "" {
		canonicalURL = parsedURL.RestDomain
	}

	c.mu.Lock()
	pub, ok := c.publishers[canonicalURL]
	if !ok {
		pub = publisher.New(canonicalURL)
		c.publishers[canonicalURL] = pub
	}
	c.mu.Unlock()
	pub.SetName(ec.Name)

	uniqueID := newUniqueID()
	sub := subscription.New(unsecretURL, uniqueID, proto, c.folderFor(canonicalURL), c.mothers, c.cacheStore, c)
	sub.AcceptedTermsOfService = opts.AcceptedTermsOfService
	sub.RevealIdentity = opts.RevealIdentity
	sub.TestScenario = opts.TestScenario

	pub.AddSubscription(sub)

	c.mu.Lock()
	c.subscriptionOwner[unsecretURL] = canonicalURL
	if ec.SendsLiveNotifications {
		c.sendsLiveNotifications[unsecretURL] = canonicalURL
	}
	c.mu.Unlock()

	if parsedURL.SecretKey != "" && c.keys != nil {
		if err := c.keys.Set(unsecretURL, parsedURL.SecretKey); err != nil {
			c.logger.Warn("client: failed to persist subscription secret", "unsecretURL", unsecretURL, "error", err)
		}
	}

	if err := c.persistPublisherList(); err != nil {
		return false, model.PlainError("%s", err)
	}
	if err := c.persistPublisherRecord(pub); err != nil {
		return false, model.PlainError("%s", err)
	}
	if err := c.persistSubscriptionRecord(sub, canonicalURL); err != nil {
		return false, model.PlainError("%s", err)
	}

	proto.SubscriptionAdded()

	if c.markEndpointRegistered(unsecretURL) {
		go func() {
			bgCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if msg := c.mothers.RegisterAPIEndpoint(bgCtx, c.AnonymousAppID(), unsecretURL); !msg.IsZero() {
				c.logger.Warn("client: registerAPIEndpoint failed", "unsecretURL", unsecretURL, "error", msg.String())
			}
		}()
	}

	if err := c.queue.Append("uploadSubscriptions", queueSentinel); err != nil {
		return false, model.PlainError("%s", err)
	}
	if err := c.queue.Append("downloadSubscriptions", queueSentinel); err != nil {
		return false, model.PlainError("%s", err)
	}

	c.safeCall("SubscriptionHasBeenAdded", func() { c.delegate.SubscriptionHasBeenAdded(unsecretURL) })

	c.syncPushChannel(ctx)

	return true, c.performCommands(ctx)
}

// DeleteSubscription uninstalls every font the subscription manages,
// detaches it from its Publisher, and removes both from persisted state
// (§4.7 "destroyed when its last subscription is removed").
func (c *Client) DeleteSubscription(ctx context.Context, unsecretURL string) model.ErrorMessage {
	c.mu.RLock()
	canonicalURL, ok := c.subscriptionOwner[unsecretURL]
	c.mu.RUnlock()
	if !ok {
		return model.ErrorMessage{}
	}

	c.mu.RLock()
	pub, pok := c.publishers[canonicalURL]
	c.mu.RUnlock()
	if !pok {
		return model.ErrorMessage{}
	}

	sub, sok := pub.Subscription(unsecretURL)
	if !sok {
		return model.ErrorMessage{}
	}

	if msg := sub.Delete(ctx); !msg.IsZero() {
		return msg
	}

	if c.push != nil {
		c.push.StopSubscription(sub.Protocol.ShortUnsecretURL())
	}

	pub.RemoveSubscription(unsecretURL)
	c.protocols.Forget(unsecretURL)
	if c.keys != nil {
		if err := c.keys.Delete(unsecretURL); err != nil {
			c.logger.Warn("client: failed to remove subscription secret", "unsecretURL", unsecretURL, "error", err)
		}
	}

	c.mu.Lock()
	delete(c.subscriptionOwner, unsecretURL)
	delete(c.sendsLiveNotifications, unsecretURL)
	c.mu.Unlock()
	c.unmarkEndpointRegistered(unsecretURL)

	c.removeSubscriptionRecord(unsecretURL)

	if pub.IsEmpty() {
		c.mu.Lock()
		delete(c.publishers, canonicalURL)
		c.mu.Unlock()
		c.removePublisherRecord(canonicalURL)
		if err := c.persistPublisherList(); err != nil {
			c.logger.Warn("client: failed to persist publisher list", "error", err)
		}
		c.safeCall("PublisherHasBeenDeleted", func() { c.delegate.PublisherHasBeenDeleted(canonicalURL) })
	} else if err := c.persistPublisherRecord(pub); err != nil {
		c.logger.Warn("client: failed to persist publisher record", "canonicalURL", canonicalURL, "error", err)
	}

	c.safeCall("SubscriptionHasBeenDeleted", func() { c.delegate.SubscriptionHasBeenDeleted(unsecretURL) })

	c.syncPushChannel(ctx)

	if err := c.queue.Append("uploadSubscriptions", queueSentinel); err != nil {
		return model.PlainError("%s", err)
	}
	return model.ErrorMessage{}
}

// Publishers returns every Publisher this Client currently holds
// subscriptions under. Order is unspecified.
func (c *Client) Publishers() []*publisher.Publisher {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*publisher.Publisher, 0, len(c.publishers))
	for _, pub := range c.publishers {
		out = append(out, pub)
	}
	return out
}

func (c *Client) folderFor(canonicalURL string) func() string {
	return func() string {
		if c.cfg.Folder != nil {
			return c.cfg.Folder(canonicalURL)
		}
		return publisher.Folder()
	}
}

func (c *Client) persistPublisherList() error {
	c.mu.RLock()
	urls := make([]string, 0, len(c.publishers))
	for u := range c.publishers {
		urls = append(urls, u)
	}
	c.mu.RUnlock()
	return preferences.SetValue(c.prefs, publisherListKey, urls)
}

func (c *Client) persistPublisherRecord(pub *publisher.Publisher) error {
	subs := pub.Subscriptions()
	urls := make([]string, 0, len(subs))
	for _, sub := range subs {
		urls = append(urls, sub.UnsecretURL)
	}
	record := publisherRecord{
		CanonicalURL:             pub.CanonicalURL,
		Name:                     pub.Name(),
		SubscriptionUnsecretURLs: urls,
	}
	return preferences.SetValue(c.prefs, publisherKey(pub.CanonicalURL), record)
}

func (c *Client) persistSubscriptionRecord(sub *subscription.Subscription, canonicalURL string) error {
	c.mu.RLock()
	_, live := c.sendsLiveNotifications[sub.UnsecretURL]
	c.mu.RUnlock()
	record := subscriptionRecord{
		UnsecretURL:            sub.UnsecretURL,
		UniqueID:               sub.UniqueID,
		PublisherCanonicalURL:  canonicalURL,
		AcceptedTermsOfService: sub.AcceptedTermsOfService,
		RevealIdentity:         sub.RevealIdentity,
		TestScenario:           sub.TestScenario,
		ServerTimestamp:        sub.ServerTimestamp(),
		SendsLiveNotifications: live,
	}
	return preferences.SetValue(c.prefs, subscriptionKey(sub.UnsecretURL), record)
}

func (c *Client) removePublisherRecord(canonicalURL string) {
	if err := c.prefs.Remove(publisherKey(canonicalURL)); err != nil {
		c.logger.Warn("client: failed to remove publisher record", "canonicalURL", canonicalURL, "error", err)
	}
}

func (c *Client) removeSubscriptionRecord(unsecretURL string) {
	if err := c.prefs.Remove(subscriptionKey(unsecretURL)); err != nil {
		c.logger.Warn("client: failed to remove subscription record", "unsecretURL", unsecretURL, "error", err)
	}
}

// hydratePublishers rebuilds every Publisher/Subscription from persisted
// records on startup (§4.8 "a restarted process picks up where it left
// off"). Secrets are never persisted in preferences; each subscription's
// real secretURL is reassembled from the Keyring before it is resolved
// through the Protocol registry.
func (c *Client) hydratePublishers() error {
	var canonicalURLs []string
	ok, err := preferences.GetValue(c.prefs, publisherListKey, &canonicalURLs)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	for _, curl := range canonicalURLs {
		var prec publisherRecord
		ok, err := preferences.GetValue(c.prefs, publisherKey(curl), &prec)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		pub := publisher.New(curl)
		if prec.Name != "" {
			pub.SetName(prec.Name)
		}

		for _, unsecretURL := range prec.SubscriptionUnsecretURLs {
			if err := c.hydrateSubscription(pub, unsecretURL); err != nil {
				c.logger.Warn("client: failed to rehydrate subscription", "unsecretURL", unsecretURL, "error", err)
				continue
			}
		}

		c.mu.Lock()
		c.publishers[curl] = pub
		c.mu.Unlock()
	}
	return nil
}

func (c *Client) hydrateSubscription(pub *publisher.Publisher, unsecretURL string) error {
	var srec subscriptionRecord
	ok, err := preferences.GetValue(c.prefs, subscriptionKey(unsecretURL), &srec)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no persisted record for %s", unsecretURL)
	}

	secretURL := unsecretURL
	if c.keys != nil {
		if secret, err := c.keys.Get(unsecretURL); err == nil {
			if u, perr := urlscheme.Parse(unsecretURL, nil); perr == nil {
				u.SecretKey = secret
				secretURL = u.SecretURL()
			}
		}
	}

	proto, parsedURL, err := c.protocols.Resolve(secretURL)
	if err != nil {
		return err
	}

	sub := subscription.New(parsedURL.UnsecretURL(), srec.UniqueID, proto, c.folderFor(srec.PublisherCanonicalURL), c.mothers, c.cacheStore, c)
	sub.AcceptedTermsOfService = srec.AcceptedTermsOfService
	sub.RevealIdentity = srec.RevealIdentity
	sub.TestScenario = srec.TestScenario
	sub.SetServerTimestamp(srec.ServerTimestamp)

	pub.AddSubscription(sub)

	c.mu.Lock()
	c.subscriptionOwner[sub.UnsecretURL] = srec.PublisherCanonicalURL
	if srec.SendsLiveNotifications {
		c.sendsLiveNotifications[sub.UnsecretURL] = srec.PublisherCanonicalURL
	}
	c.mu.Unlock()

	return nil
}

func (c *Client) subscriptionByUnsecretURL(unsecretURL string) (*subscription.Subscription, bool) {
	c.mu.RLock()
	canonicalURL, ok := c.subscriptionOwner[unsecretURL]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	c.mu.RLock()
	pub, ok := c.publishers[canonicalURL]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return pub.Subscription(unsecretURL)
}

func (c *Client) allSubscriptionUnsecretURLs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subscriptionOwner))
	for unsecretURL := range c.subscriptionOwner {
		out = append(out, unsecretURL)
	}
	return out
}

func (c *Client) appendSyncProblem(msg model.ErrorMessage) {
	if msg.IsZero() {
		return
	}
	c.mu.Lock()
	c.syncProblems = append(c.syncProblems, msg)
	c.mu.Unlock()
}
