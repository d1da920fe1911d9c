package client

import (
	"context"

	"github.com/typeworld/client/model"
	"github.com/typeworld/client/preferences"
	"github.com/typeworld/client/queue"
)

const (
	accountKey             = "account"
	downloadedSettingsKey  = "downloadedSettings"
	pendingInvitationsKey  = "pendingInvitations"
	acceptedInvitationsKey = "acceptedInvitations"
	sentInvitationsKey     = "sentInvitations"
	websiteTokenKey        = "typeWorldWebsiteToken"

	// accountSecretKeyringKey is the Keyring key the linked user's own
	// secretKey is stored under, distinct from any subscription's
	// unsecretURL-keyed entry (§4.8 "Link").
	accountSecretKeyringKey = "account"

	// accountEmailKeyringKey, accountNameKeyringKey and
	// accountTokenKeyringKey mirror userEmail/userName/
	// typeWorldWebsiteToken into the Keyring alongside Preferences, per §6
	// "Keyring namespace" (secretKey, userEmail, userName,
	// typeWorldWebsiteToken) and §3 "email/name also mirrored in keyring
	// for cross-process reads").
	accountEmailKeyringKey = "account.userEmail"
	accountNameKeyringKey  = "account.userName"
	accountTokenKeyringKey = "account.typeWorldWebsiteToken"
)

// loadAccount rehydrates the linked account, settings and invitation lists
// persisted from a previous run. Absence of any key is not an error: it
// just means nothing has been linked/synced yet.
func (c *Client) loadAccount() {
	var account model.UserAccount
	if ok, err := preferences.GetValue(c.prefs, accountKey, &account); err == nil && ok {
		c.mu.Lock()
		c.account = account
		c.mu.Unlock()
	}

	var settings model.DownloadedSettings
	if ok, err := preferences.GetValue(c.prefs, downloadedSettingsKey, &settings); err == nil && ok {
		c.mu.Lock()
		c.downloadedSettings = settings
		c.mu.Unlock()
	}

	var pending, accepted, sent []model.Invitation
	if ok, err := preferences.GetValue(c.prefs, pendingInvitationsKey, &pending); err == nil && ok {
		c.mu.Lock()
		c.pendingInvitations = pending
		c.mu.Unlock()
	}
	if ok, err := preferences.GetValue(c.prefs, acceptedInvitationsKey, &accepted); err == nil && ok {
		c.mu.Lock()
		c.acceptedInvitations = accepted
		c.mu.Unlock()
	}
	if ok, err := preferences.GetValue(c.prefs, sentInvitationsKey, &sent); err == nil && ok {
		c.mu.Lock()
		c.sentInvitations = sent
		c.mu.Unlock()
	}

	var token string
	if ok, err := preferences.GetValue(c.prefs, websiteTokenKey, &token); err == nil && ok {
		c.mu.Lock()
		c.typeWorldWebsiteToken = token
		c.mu.Unlock()
	}
}

func (c *Client) persistAccount() {
	c.mu.RLock()
	account := c.account
	settings := c.downloadedSettings
	pending := c.pendingInvitations
	accepted := c.acceptedInvitations
	sent := c.sentInvitations
	token := c.typeWorldWebsiteToken
	c.mu.RUnlock()

	if err := preferences.SetValue(c.prefs, accountKey, account); err != nil {
		c.logger.Warn("client: failed to persist account", "error", err)
	}
	if err := preferences.SetValue(c.prefs, downloadedSettingsKey, settings); err != nil {
		c.logger.Warn("client: failed to persist downloaded settings", "error", err)
	}
	if err := preferences.SetValue(c.prefs, pendingInvitationsKey, pending); err != nil {
		c.logger.Warn("client: failed to persist pending invitations", "error", err)
	}
	if err := preferences.SetValue(c.prefs, acceptedInvitationsKey, accepted); err != nil {
		c.logger.Warn("client: failed to persist accepted invitations", "error", err)
	}
	if err := preferences.SetValue(c.prefs, sentInvitationsKey, sent); err != nil {
		c.logger.Warn("client: failed to persist sent invitations", "error", err)
	}
	if err := preferences.SetValue(c.prefs, websiteTokenKey, token); err != nil {
		c.logger.Warn("client: failed to persist website token", "error", err)
	}

	c.mirrorAccountToKeyring(account, token)
}

// mirrorAccountToKeyring copies userEmail/userName/typeWorldWebsiteToken
// into the Keyring alongside their Preferences copies, so a second process
// sharing this installation's Keyring (but not necessarily its preferences
// file) can still read them (§3, §6).
func (c *Client) mirrorAccountToKeyring(account model.UserAccount, token string) {
	if c.keys == nil {
		return
	}
	if account.UserEmail != "" {
		if err := c.keys.Set(accountEmailKeyringKey, account.UserEmail); err != nil {
			c.logger.Warn("client: failed to mirror user email to keyring", "error", err)
		}
	}
	if account.UserName != "" {
		if err := c.keys.Set(accountNameKeyringKey, account.UserName); err != nil {
			c.logger.Warn("client: failed to mirror user name to keyring", "error", err)
		}
	}
	if token != "" {
		if err := c.keys.Set(accountTokenKeyringKey, token); err != nil {
			c.logger.Warn("client: failed to mirror website token to keyring", "error", err)
		}
	}
}

func (c *Client) clearAccountState() {
	c.mu.Lock()
	c.account = model.UserAccount{}
	c.pendingInvitations = nil
	c.acceptedInvitations = nil
	c.sentInvitations = nil
	c.typeWorldWebsiteToken = ""
	c.mu.Unlock()
	c.persistAccount()
	if c.keys != nil {
		for _, key := range [...]string{accountSecretKeyringKey, accountEmailKeyringKey, accountNameKeyringKey, accountTokenKeyringKey} {
			if err := c.keys.Delete(key); err != nil {
				c.logger.Warn("client: failed to remove account keyring entry", "key", key, "error", err)
			}
		}
	}
}

// CreateUserAccount registers a brand new mothership account; it does not
// link it to this installation (§4.8 "Create").
func (c *Client) CreateUserAccount(ctx context.Context, email, name, password string) model.ErrorMessage {
	return c.mothers.CreateUserAccount(ctx, c.cfg.AppID, email, name, password)
}

// LogInUserAccount authenticates an existing account and links it to this
// installation on success (§4.8 "Link via login").
func (c *Client) LogInUserAccount(ctx context.Context, email, password string) model.ErrorMessage {
	result, errMsg := c.mothers.LogInUserAccount(ctx, c.cfg.AppID, email, password)
	if !errMsg.IsZero() {
		return errMsg
	}
	return c.LinkUser(ctx, result.SecretKey)
}

// LinkUser associates this installation with a mothership account by
// secretKey, persisting the secret to the Keyring before anything else so a
// crash mid-link never loses it (§4.8 "Link").
func (c *Client) LinkUser(ctx context.Context, secretKey string) model.ErrorMessage {
	if c.keys != nil {
		if err := c.keys.Set(accountSecretKeyringKey, secretKey); err != nil {
			return model.PlainError("%s", err)
		}
	}
	if err := c.queue.Append("linkUser", secretKey); err != nil {
		return model.PlainError("%s", err)
	}
	if err := c.queue.Append("syncSubscriptions", queueSentinel); err != nil {
		return model.PlainError("%s", err)
	}
	if err := c.queue.Append("downloadSubscriptions", queueSentinel); err != nil {
		return model.PlainError("%s", err)
	}
	msg := c.performCommands(ctx)
	c.syncPushChannel(ctx)
	return msg
}

// UnlinkUser severs the link between this installation and its mothership
// account. Every protected font across every held subscription is
// uninstalled for real first, since a seat can no longer be guaranteed
// once the account is unlinked (§4.8 "Unlink").
func (c *Client) UnlinkUser(ctx context.Context) model.ErrorMessage {
	account := c.Account()
	if account.IsZero() {
		return model.ErrorMessage{}
	}

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
				if msg := sub.RemoveFonts(ctx, protectedIDs, false); !msg.IsZero() {
					c.appendSyncProblem(msg)
				}
			}
		}
	}

	if err := c.queue.Append("unlinkUser", account.AnonymousUserID); err != nil {
		return model.PlainError("%s", err)
	}
	msg := c.performCommands(ctx)
	c.syncPushChannel(ctx)
	return msg
}

// DeleteUserAccount permanently deletes the linked mothership account,
// unlinking it first if the caller's email matches the currently linked one
// (§4.8 "Delete account").
func (c *Client) DeleteUserAccount(ctx context.Context, email string) model.ErrorMessage {
	account := c.Account()
	if account.IsZero() {
		return model.ErrorMessage{}
	}
	anonymousUserID := account.AnonymousUserID

	if account.UserEmail == email {
		if msg := c.UnlinkUser(ctx); !msg.IsZero() {
			return msg
		}
	}
	return c.mothers.DeleteUserAccount(ctx, c.AnonymousAppID(), anonymousUserID)
}

// ResendEmailVerification re-sends the verification email for the linked
// account.
func (c *Client) ResendEmailVerification(ctx context.Context) model.ErrorMessage {
	account := c.Account()
	if account.IsZero() {
		return model.ErrorMessage{}
	}
	return c.mothers.ResendEmailVerification(ctx, c.cfg.AppID, account.AnonymousUserID)
}

// AcceptInvitations queues acceptance of the given invitation IDs, draining
// immediately if online (§4.8 "Invitations").
func (c *Client) AcceptInvitations(ctx context.Context, invitationIDs []string) model.ErrorMessage {
	if err := c.queue.Append("acceptInvitation", invitationIDs...); err != nil {
		return model.PlainError("%s", err)
	}
	if err := c.queue.Append("downloadSubscriptions", queueSentinel); err != nil {
		return model.PlainError("%s", err)
	}
	return c.performCommands(ctx)
}

// DeclineInvitations queues decline of the given invitation IDs.
func (c *Client) DeclineInvitations(ctx context.Context, invitationIDs []string) model.ErrorMessage {
	if err := c.queue.Append("declineInvitation", invitationIDs...); err != nil {
		return model.PlainError("%s", err)
	}
	return c.performCommands(ctx)
}

// Invitations returns the three invitation lists last reconciled from the
// mothership (§3 "Invitation").
func (c *Client) Invitations() (pending, accepted, sent []model.Invitation) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.Invitation(nil), c.pendingInvitations...),
		append([]model.Invitation(nil), c.acceptedInvitations...),
		append([]model.Invitation(nil), c.sentInvitations...)
}

// queueHandlers binds every Deferred Command Queue entry to its side
// effect, each closing over ctx for the duration of one drain (§4.4).
func (c *Client) queueHandlers(ctx context.Context) map[string]queue.Handler {
	return map[string]queue.Handler{
		"unlinkUser":            c.executeUnlinkUser,
		"linkUser":              c.executeLinkUser,
		"syncSubscriptions":     func(payloads []string) model.ErrorMessage { return c.executeSyncSubscriptions(ctx, payloads) },
		"uploadSubscriptions":   func(payloads []string) model.ErrorMessage { return c.executeUploadSubscriptions(ctx, payloads) },
		"acceptInvitation":      func(payloads []string) model.ErrorMessage { return c.executeAcceptInvitations(ctx, payloads) },
		"declineInvitation":     func(payloads []string) model.ErrorMessage { return c.executeDeclineInvitations(ctx, payloads) },
		"downloadSubscriptions": func(payloads []string) model.ErrorMessage { return c.executeDownloadSubscriptions(ctx, payloads) },
		"downloadSettings":      func(payloads []string) model.ErrorMessage { return c.executeDownloadSettings(ctx, payloads) },
	}
}

func (c *Client) executeUnlinkUser(payloads []string) model.ErrorMessage {
	anonymousUserID := payloads[len(payloads)-1]
	errMsg := c.mothers.UnlinkTypeWorldUserAccount(context.Background(), c.AnonymousAppID(), anonymousUserID)
	if !errMsg.IsZero() && errMsg.Code() != "userUnknown" {
		return errMsg
	}
	c.clearAccountState()
	return model.ErrorMessage{}
}

func (c *Client) executeLinkUser(payloads []string) model.ErrorMessage {
	secretKey := payloads[len(payloads)-1]
	result, errMsg := c.mothers.LinkTypeWorldUserAccount(context.Background(), c.AnonymousAppID(), secretKey)
	if !errMsg.IsZero() {
		return errMsg
	}
	c.mu.Lock()
	c.account = model.UserAccount{
		AnonymousUserID: result.AnonymousUserID,
		UserName:        result.UserName,
		UserEmail:       result.UserEmail,
	}
	c.mu.Unlock()
	c.persistAccount()
	return model.ErrorMessage{}
}

func (c *Client) executeSyncSubscriptions(ctx context.Context, _ []string) model.ErrorMessage {
	account := c.Account()
	if account.IsZero() {
		return model.ErrorMessage{}
	}
	return c.mothers.SyncUserSubscriptions(ctx, c.cfg.AppID, account.AnonymousUserID)
}

func (c *Client) executeUploadSubscriptions(ctx context.Context, _ []string) model.ErrorMessage {
	account := c.Account()
	if account.IsZero() {
		return model.ErrorMessage{}
	}
	return c.mothers.UploadUserSubscriptions(ctx, c.cfg.AppID, account.AnonymousUserID, c.allSubscriptionUnsecretURLs())
}

func (c *Client) executeAcceptInvitations(ctx context.Context, invitationIDs []string) model.ErrorMessage {
	account := c.Account()
	if account.IsZero() {
		return model.ErrorMessage{}
	}
	return c.mothers.AcceptInvitations(ctx, c.cfg.AppID, account.AnonymousUserID, invitationIDs)
}

func (c *Client) executeDeclineInvitations(ctx context.Context, invitationIDs []string) model.ErrorMessage {
	account := c.Account()
	if account.IsZero() {
		return model.ErrorMessage{}
	}
	return c.mothers.DeclineInvitations(ctx, c.cfg.AppID, account.AnonymousUserID, invitationIDs)
}

func (c *Client) executeDownloadSettings(ctx context.Context, _ []string) model.ErrorMessage {
	settings, errMsg := c.mothers.DownloadSettings(ctx, c.cfg.AppID)
	if !errMsg.IsZero() {
		return errMsg
	}
	c.mu.Lock()
	c.downloadedSettings = settings
	c.mu.Unlock()
	c.persistAccount()
	return model.ErrorMessage{}
}
