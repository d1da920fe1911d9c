package client

import (
	"context"
	"time"

	"github.com/typeworld/client/model"
	"github.com/typeworld/client/publisher"
	"github.com/typeworld/client/subscription"
)

// executeDownloadSubscriptions implements the four-step state reconciliation
// the queue runs once local uploads have landed (§4.8 "State reconciliation
// from downloadSubscriptions"):
//  1. held subscriptions not yet known locally are added, server upload
//     suppressed
//  2. held subscriptions reported with a newer serverTimestamp are updated
//  3. locally-known subscriptions no longer held are deleted, server upload
//     suppressed
//  4. invitation lists are replaced wholesale with what the server reports
//
// A revoked app instance additionally triggers a dry-run uninstall of every
// protected font this installation holds, since the mothership will no
// longer honor its seat.
func (c *Client) executeDownloadSubscriptions(ctx context.Context, _ []string) model.ErrorMessage {
	account := c.Account()
	if account.IsZero() {
		return model.ErrorMessage{}
	}

	result, errMsg := c.mothers.DownloadUserSubscriptions(ctx, c.cfg.AppID, account.AnonymousUserID)
	if !errMsg.IsZero() {
		return errMsg
	}

	held := make(map[string]int64, len(result.HeldSubscriptions))
	for _, h := range result.HeldSubscriptions {
		held[h.UnsecretURL] = h.ServerTimestamp
	}

	// Step 1 & 2: add what's missing, update what's stale.
	for unsecretURL, serverTimestamp := range held {
		sub, ok := c.subscriptionByUnsecretURL(unsecretURL)
		if !ok {
			if msg := c.reconcileAddSubscription(ctx, unsecretURL, serverTimestamp); !msg.IsZero() {
				c.appendSyncProblem(msg)
			}
			continue
		}
		if serverTimestamp > sub.ServerTimestamp() {
			if msg := sub.Update(ctx); !msg.IsZero() {
				c.appendSyncProblem(msg)
				continue
			}
			sub.SetServerTimestamp(serverTimestamp)
			if canonicalURL, ok := c.subscriptionOwnerOf(unsecretURL); ok {
				if err := c.persistSubscriptionRecord(sub, canonicalURL); err != nil {
					c.logger.Warn("client: failed to persist reconciled subscription", "unsecretURL", unsecretURL, "error", err)
				}
			}
		}
	}

	// Step 3: drop what the server no longer holds.
	for _, unsecretURL := range c.allSubscriptionUnsecretURLs() {
		if _, stillHeld := held[unsecretURL]; stillHeld {
			continue
		}
		if msg := c.reconcileDeleteSubscription(ctx, unsecretURL); !msg.IsZero() {
			c.appendSyncProblem(msg)
		}
	}

	// Step 4: replace invitation lists wholesale; the mothership's own
	// normalization already turns a missing optional field into "" before
	// it reaches us (see normalizeInvitations in endpoints.go).
	c.mu.Lock()
	c.pendingInvitations = result.PendingInvitations
	c.acceptedInvitations = result.AcceptedInvitations
	c.sentInvitations = result.SentInvitations
	c.account.UserAccountEmailIsVerified = result.UserAccountEmailIsVerified
	c.account.UserAccountStatus = result.UserAccountStatus
	c.typeWorldWebsiteToken = result.TypeWorldWebsiteToken
	c.mu.Unlock()
	c.persistAccount()

	if result.AppInstanceIsRevoked {
		c.dryRunUninstallProtectedFonts(ctx)
	}

	c.syncPushChannel(ctx)

	return model.ErrorMessage{}
}

// subscriptionOwnerOf reports the canonical URL that owns unsecretURL, if any.
func (c *Client) subscriptionOwnerOf(unsecretURL string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	canonicalURL, ok := c.subscriptionOwner[unsecretURL]
	return canonicalURL, ok
}

// reconcileAddSubscription runs the addSubscription steps (§4.6 steps a-e)
// for a subscription the mothership reports as held but we don't yet know
// about locally, with the server upload suppressed since the server is the
// one telling us about it.
func (c *Client) reconcileAddSubscription(ctx context.Context, unsecretURL string, serverTimestamp int64) model.ErrorMessage {
	proto, parsedURL, err := c.protocols.Resolve(unsecretURL)
	if err != nil {
		return model.PlainError("%s", err)
	}

	account := c.Account()
	if err := proto.AboutToAddSubscription(ctx, c.AnonymousAppID(), account.AnonymousUserID, parsedURL.AccessToken, ""); err != nil {
		return model.PlainError("%s", err)
	}

	ec, err := proto.EndpointCommand(ctx, "")
	if err != nil {
		return model.PlainError("%s", err)
	}
	rc, err := proto.RootCommand(ctx, "")
	if err != nil {
		return model.PlainError("%s", err)
	}
	if msg := c.checkBreakingVersion(rc.Version); !msg.IsZero() {
		return msg
	}
	if len(c.cfg.CommercialAppIDs) > 0 && !commercialAppAllowed(ec.AllowedCommercialApps, c.cfg.CommercialAppIDs) {
		return model.CodeError(model.CodeCommercialAppNotAllowed)
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
	sub := subscription.New(parsedURL.UnsecretURL(), uniqueID, proto, c.folderFor(canonicalURL), c.mothers, c.cacheStore, c)
	sub.SetServerTimestamp(serverTimestamp)

	pub.AddSubscription(sub)

	c.mu.Lock()
	c.subscriptionOwner[sub.UnsecretURL] = canonicalURL
	if ec.SendsLiveNotifications {
		c.sendsLiveNotifications[sub.UnsecretURL] = canonicalURL
	}
	c.mu.Unlock()

	if err := c.persistPublisherList(); err != nil {
		return model.PlainError("%s", err)
	}
	if err := c.persistPublisherRecord(pub); err != nil {
		return model.PlainError("%s", err)
	}
	if err := c.persistSubscriptionRecord(sub, canonicalURL); err != nil {
		return model.PlainError("%s", err)
	}

	proto.SubscriptionAdded()

	if c.markEndpointRegistered(sub.UnsecretURL) {
		unsecretURL := sub.UnsecretURL
		go func() {
			bgCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if msg := c.mothers.RegisterAPIEndpoint(bgCtx, c.AnonymousAppID(), unsecretURL); !msg.IsZero() {
				c.logger.Warn("client: registerAPIEndpoint failed", "unsecretURL", unsecretURL, "error", msg.String())
			}
		}()
	}

	c.safeCall("SubscriptionHasBeenAdded", func() { c.delegate.SubscriptionHasBeenAdded(sub.UnsecretURL) })

	return model.ErrorMessage{}
}

// reconcileDeleteSubscription removes a subscription the mothership no
// longer holds, without re-announcing the change back to the server (§4.8
// step 3, "delete(updateSubscriptionsOnServer=false)").
func (c *Client) reconcileDeleteSubscription(ctx context.Context, unsecretURL string) model.ErrorMessage {
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

	return model.ErrorMessage{}
}

// dryRunUninstallProtectedFonts notifies every publisher that this
// installation's protected fonts should be considered uninstalled, without
// touching the filesystem: the server has already revoked the seat, so a
// real delete here would race a separate cleanup pass (§8 scenario 6
// "Revoked app instance").
func (c *Client) dryRunUninstallProtectedFonts(ctx context.Context) {
	for _, pub := range c.Publishers() {
		for _, sub := range pub.Subscriptions() {
			catalog, err := sub.InstallableFonts(ctx, false)
			if err != nil {
				continue
			}
			var protectedIDs []string
			for _, font := range catalog.AllFonts() {
				if !font.IsProtectedInstall() {
					continue
				}
				if _, installed := sub.InstalledFontVersion(font); installed {
					protectedIDs = append(protectedIDs, font.UniqueID)
				}
			}
			if len(protectedIDs) > 0 {
				if msg := sub.RemoveFonts(ctx, protectedIDs, true); !msg.IsZero() {
					c.appendSyncProblem(msg)
				}
			}
		}
	}
}
