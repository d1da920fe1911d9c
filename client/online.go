package client

import (
	"context"
	"time"

	"github.com/typeworld/client/model"
	"github.com/typeworld/client/push"
)

// goOnlineIfRequired implements §4.8 "Lifecycle": on construction, a Client
// that requiresOnline() downloads settings (verifying they carry a
// message-queue endpoint and breaking-version list) and opens the push
// channel. A Client that doesn't need to stay online is left exactly as
// hydratePublishers left it; nothing here ever fails New itself.
func (c *Client) goOnlineIfRequired(ctx context.Context) {
	if !c.requiresOnline() {
		return
	}
	if msg := c.DownloadSettings(ctx); !msg.IsZero() && msg.Code() != model.CodeNotOnline {
		c.logger.Warn("client: startup downloadSettings failed", "error", msg.String())
	}
}

// DownloadSettings enqueues and drains a downloadSettings command,
// refreshing downloadedSettings.BreakingAPIVersions (the appUpdateRequired
// gate in checkBreakingVersion) and the push channel's topic set. Callers
// beyond goOnlineIfRequired can use this to force a settings refresh
// without waiting for the next subscription mutation.
func (c *Client) DownloadSettings(ctx context.Context) model.ErrorMessage {
	if err := c.queue.Append("downloadSettings", queueSentinel); err != nil {
		return model.PlainError("%s", err)
	}
	msg := c.performCommands(ctx)
	c.syncPushChannel(ctx)
	return msg
}

// syncPushChannel opens or tears down the push channel to match
// requiresOnline(), subscribing to this installation's user topic and to
// every held subscription that declares sendsLiveNotifications (§4.8
// "subscribe to user-<userID> ... and to subscription-<shortUnsecretURL>
// for each Subscription"). Called after every account/subscription
// mutation, since requiresOnline()'s answer can change on any of them.
func (c *Client) syncPushChannel(ctx context.Context) {
	if c.push == nil {
		return
	}

	if !c.requiresOnline() {
		if len(c.push.ActiveTopics()) == 0 {
			return
		}
		c.push.StopAll()
		c.safeCall("MessageQueueDisconnected", func() { c.delegate.MessageQueueDisconnected() })
		return
	}

	active := make(map[string]struct{})
	for _, topic := range c.push.ActiveTopics() {
		active[topic] = struct{}{}
	}

	connectedNew := false

	account := c.Account()
	if !account.IsZero() {
		if _, ok := active[push.UserTopic(account.AnonymousUserID)]; !ok {
			if err := c.push.ListenUser(ctx, account.AnonymousUserID, c.handleUserPush); err != nil {
				c.logger.Warn("client: failed to listen on user topic", "error", err)
			} else {
				connectedNew = true
			}
		}
	}

	for _, unsecretURL := range c.liveNotificationSubscriptionURLs() {
		sub, ok := c.subscriptionByUnsecretURL(unsecretURL)
		if !ok {
			continue
		}
		shortURL := sub.Protocol.ShortUnsecretURL()
		if _, ok := active[push.SubscriptionTopic(shortURL)]; ok {
			continue
		}
		if err := c.push.ListenSubscription(ctx, shortURL, c.handlerForSubscription(unsecretURL)); err != nil {
			c.logger.Warn("client: failed to listen on subscription topic", "unsecretURL", unsecretURL, "error", err)
			continue
		}
		connectedNew = true
	}

	if connectedNew {
		c.safeCall("MessageQueueConnected", func() { c.delegate.MessageQueueConnected() })
	}
}

func (c *Client) liveNotificationSubscriptionURLs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.sendsLiveNotifications))
	for unsecretURL := range c.sendsLiveNotifications {
		out = append(out, unsecretURL)
	}
	return out
}

// handleUserPush reacts to a pullUpdates notification on the linked user's
// own topic (§4.9 "Push topics"): the account and invitation lists may have
// changed server-side, so the delegate is told to go pull them.
func (c *Client) handleUserPush(msg push.Message) {
	if msg.Command != "pullUpdates" {
		return
	}
	c.safeCall("UserAccountUpdateNotificationHasBeenReceived", func() {
		c.delegate.UserAccountUpdateNotificationHasBeenReceived()
	})
}

// handlerForSubscription returns the push.Handler for one Subscription's
// topic: a pullUpdates notification runs the same Update() + server-
// timestamp persistence step executeDownloadSubscriptions uses for a stale
// subscription, so a live push and a periodic reconcile converge on
// identical behavior (§4.8, §2 "Message Queue -> Push Channel -> per-topic
// handler -> Subscription Engine update -> delegate callback").
func (c *Client) handlerForSubscription(unsecretURL string) push.Handler {
	return func(msg push.Message) {
		if msg.Command != "pullUpdates" {
			return
		}
		sub, ok := c.subscriptionByUnsecretURL(unsecretURL)
		if !ok {
			return
		}
		if !c.markUpdating(unsecretURL) {
			return
		}
		defer c.clearUpdating(unsecretURL)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if updateMsg := sub.Update(ctx); !updateMsg.IsZero() {
			c.appendSyncProblem(updateMsg)
			return
		}
		if msg.ServerTimestamp <= 0 {
			return
		}
		sub.SetServerTimestamp(msg.ServerTimestamp)
		canonicalURL, ok := c.subscriptionOwnerOf(unsecretURL)
		if !ok {
			return
		}
		if err := c.persistSubscriptionRecord(sub, canonicalURL); err != nil {
			c.logger.Warn("client: failed to persist push-updated subscription", "unsecretURL", unsecretURL, "error", err)
		}
	}
}

// markEndpointRegistered reports whether unsecretURL has not yet had its
// registerAPIEndpoint touch fired during this Subscription's lifetime,
// recording it as fired if so (§4.6 step 3e: "touch registerAPIEndpoint
// once for the lifetime of the Subscription").
func (c *Client) markEndpointRegistered(unsecretURL string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, already := c.registeredEndpoints[unsecretURL]; already {
		return false
	}
	c.registeredEndpoints[unsecretURL] = struct{}{}
	return true
}

// unmarkEndpointRegistered clears the registered-endpoint record on
// deletion, so a later re-add of the same unsecretURL touches
// registerAPIEndpoint again rather than being silently skipped as a repeat
// of an unrelated, already-removed Subscription.
func (c *Client) unmarkEndpointRegistered(unsecretURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.registeredEndpoints, unsecretURL)
}
