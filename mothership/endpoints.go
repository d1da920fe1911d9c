package mothership

import (
	"context"
	"encoding/json"

	"github.com/typeworld/client/model"
)

// This file is the "typed request wrappers" §4.5 calls for: one small
// struct pair per endpoint, each just enough to get the fields the core
// actually reasons about out of the envelope's Extra payload. Endpoints
// the core only ever forwards opaque data through (accept/decline
// invitations, app-instance housekeeping) keep their params/results flat.

// CreateUserAccount registers a brand-new user (no subscriptions implied).
func (c *Client) CreateUserAccount(ctx context.Context, appID, email, name, password string) model.ErrorMessage {
	_, errMsg := c.Post(ctx, "createUserAccount", appID, map[string]string{
		"userEmail":    email,
		"userName":     name,
		"userPassword": password,
	})
	return errMsg
}

// LogInUserAccountResult carries what the mothership returns on a
// successful login: the identity to mirror into preferences/keyring.
type LogInUserAccountResult struct {
	AnonymousUserID string
	UserName        string
	UserEmail       string
	SecretKey       string
}

// LogInUserAccount authenticates an existing account by email/password.
func (c *Client) LogInUserAccount(ctx context.Context, appID, email, password string) (LogInUserAccountResult, model.ErrorMessage) {
	env, errMsg := c.Post(ctx, "logInUserAccount", appID, map[string]string{
		"userEmail":    email,
		"userPassword": password,
	})
	if !errMsg.IsZero() {
		return LogInUserAccountResult{}, errMsg
	}
	var extra struct {
		AnonymousUserID string `json:"anonymousUserID"`
		UserName        string `json:"userName"`
		UserEmail       string `json:"userEmail"`
		SecretKey       string `json:"secretKey"`
	}
	if err := json.Unmarshal(env.Extra, &extra); err != nil {
		return LogInUserAccountResult{}, model.PlainError("mothership: decoding logInUserAccount response: %s", err)
	}
	return LogInUserAccountResult(extra), model.ErrorMessage{}
}

// DeleteUserAccount permanently deletes the linked account.
func (c *Client) DeleteUserAccount(ctx context.Context, appID, anonymousUserID string) model.ErrorMessage {
	_, errMsg := c.Post(ctx, "deleteUserAccount", appID, map[string]string{
		"anonymousUserID": anonymousUserID,
	})
	return errMsg
}

// ResendEmailVerification asks the mothership to re-send the verification
// email for the linked account.
func (c *Client) ResendEmailVerification(ctx context.Context, appID, anonymousUserID string) model.ErrorMessage {
	_, errMsg := c.Post(ctx, "resendEmailVerification", appID, map[string]string{
		"anonymousUserID": anonymousUserID,
	})
	return errMsg
}

// LinkTypeWorldUserAccountResult is what the server returns once a
// secretKey has been exchanged for a linked identity (§4.8 "Link").
type LinkTypeWorldUserAccountResult struct {
	AnonymousUserID string
	UserName        string
	UserEmail       string
}

// LinkTypeWorldUserAccount associates this installation with a mothership
// user account via secretKey.
func (c *Client) LinkTypeWorldUserAccount(ctx context.Context, appID, secretKey string) (LinkTypeWorldUserAccountResult, model.ErrorMessage) {
	env, errMsg := c.Post(ctx, "linkTypeWorldUserAccount", appID, map[string]string{
		"secretKey": secretKey,
	})
	if !errMsg.IsZero() {
		return LinkTypeWorldUserAccountResult{}, errMsg
	}
	var wire struct {
		AnonymousUserID string `json:"anonymousUserID"`
		UserName        string `json:"userName"`
		UserEmail       string `json:"userEmail"`
	}
	if err := json.Unmarshal(env.Extra, &wire); err != nil {
		return LinkTypeWorldUserAccountResult{}, model.PlainError("mothership: decoding linkTypeWorldUserAccount response: %s", err)
	}
	return LinkTypeWorldUserAccountResult{
		AnonymousUserID: wire.AnonymousUserID,
		UserName:        wire.UserName,
		UserEmail:       wire.UserEmail,
	}, model.ErrorMessage{}
}

// UnlinkTypeWorldUserAccount severs the link between this installation and
// its mothership user account. userUnknown is tolerated by the caller
// (§4.8 "Unlink"), not by this wrapper, since the caller decides whether to
// treat it as success.
func (c *Client) UnlinkTypeWorldUserAccount(ctx context.Context, appID, anonymousUserID string) model.ErrorMessage {
	_, errMsg := c.Post(ctx, "unlinkTypeWorldUserAccount", appID, map[string]string{
		"anonymousUserID": anonymousUserID,
	})
	return errMsg
}

// AppInstance is one installation the mothership knows about for the
// linked user (§4.5 "userAppInstances").
type AppInstance struct {
	AnonymousAppID string `json:"anonymousAppID"`
	DeviceName     string `json:"deviceName"`
	Revoked        bool   `json:"revoked"`
}

// UserAppInstances lists every app instance registered to the linked user.
func (c *Client) UserAppInstances(ctx context.Context, appID, anonymousUserID string) ([]AppInstance, model.ErrorMessage) {
	env, errMsg := c.Post(ctx, "userAppInstances", appID, map[string]string{
		"anonymousUserID": anonymousUserID,
	})
	if !errMsg.IsZero() {
		return nil, errMsg
	}
	var extra struct {
		AppInstances []AppInstance `json:"appInstances"`
	}
	if err := json.Unmarshal(env.Extra, &extra); err != nil {
		return nil, model.PlainError("mothership: decoding userAppInstances response: %s", err)
	}
	return extra.AppInstances, model.ErrorMessage{}
}

// RevokeAppInstance revokes a different installation's access.
func (c *Client) RevokeAppInstance(ctx context.Context, appID, anonymousUserID, targetAppID string) model.ErrorMessage {
	_, errMsg := c.Post(ctx, "revokeAppInstance", appID, map[string]string{
		"anonymousUserID": anonymousUserID,
		"targetAppID":     targetAppID,
	})
	return errMsg
}

// ReactivateAppInstance restores a previously revoked installation.
func (c *Client) ReactivateAppInstance(ctx context.Context, appID, anonymousUserID, targetAppID string) model.ErrorMessage {
	_, errMsg := c.Post(ctx, "reactivateAppInstance", appID, map[string]string{
		"anonymousUserID": anonymousUserID,
		"targetAppID":     targetAppID,
	})
	return errMsg
}

// UploadUserSubscriptions pushes the local set of subscription URLs to the
// mothership so other installations observe it on their next download.
func (c *Client) UploadUserSubscriptions(ctx context.Context, appID, anonymousUserID string, unsecretURLs []string) model.ErrorMessage {
	payload, err := json.Marshal(unsecretURLs)
	if err != nil {
		return model.PlainError("mothership: encoding subscription list: %s", err)
	}
	_, errMsg := c.Post(ctx, "uploadUserSubscriptions", appID, map[string]string{
		"anonymousUserID": anonymousUserID,
		"subscriptions":   string(payload),
	})
	return errMsg
}

// HeldSubscription is one subscription the mothership asserts belongs to
// the linked user (§4.8 "State reconciliation from downloadSubscriptions").
type HeldSubscription struct {
	UnsecretURL     string `json:"unsecretURL"`
	ServerTimestamp int64  `json:"serverTimestamp"`
}

// DownloadUserSubscriptionsResult is the full reconciliation payload the
// mothership returns (§4.8 step 1-4).
type DownloadUserSubscriptionsResult struct {
	HeldSubscriptions          []HeldSubscription  `json:"heldSubscriptions"`
	AcceptedInvitations        []model.Invitation  `json:"-"`
	PendingInvitations         []model.Invitation  `json:"-"`
	SentInvitations            []model.Invitation  `json:"-"`
	UserAccountEmailIsVerified bool                `json:"userAccountEmailIsVerified"`
	UserAccountStatus          model.UserAccountStatus `json:"userAccountStatus"`
	TypeWorldWebsiteToken      string              `json:"typeWorldWebsiteToken"`
	AppInstanceIsRevoked       bool                `json:"appInstanceIsRevoked"`
}

type invitationWire struct {
	ID               string `json:"id"`
	URL              string `json:"url"`
	TargetEmail      *string `json:"targetEmail"`
	SourceEmail      *string `json:"sourceEmail"`
	SubscriptionName *string `json:"subscriptionName"`
}

func normalizeInvitations(wire []invitationWire, kind model.InvitationKind) []model.Invitation {
	out := make([]model.Invitation, 0, len(wire))
	for _, w := range wire {
		inv := model.Invitation{Kind: kind, ID: w.ID, URL: w.URL}
		if w.TargetEmail != nil {
			inv.TargetEmail = *w.TargetEmail
		}
		if w.SourceEmail != nil {
			inv.SourceEmail = *w.SourceEmail
		}
		if w.SubscriptionName != nil {
			inv.SubscriptionName = *w.SubscriptionName
		}
		out = append(out, inv)
	}
	return out
}

// DownloadUserSubscriptions fetches the authoritative subscription and
// invitation state for the linked user.
func (c *Client) DownloadUserSubscriptions(ctx context.Context, appID, anonymousUserID string) (DownloadUserSubscriptionsResult, model.ErrorMessage) {
	env, errMsg := c.Post(ctx, "downloadUserSubscriptions", appID, map[string]string{
		"anonymousUserID": anonymousUserID,
	})
	if !errMsg.IsZero() {
		return DownloadUserSubscriptionsResult{}, errMsg
	}

	var wire struct {
		HeldSubscriptions          []HeldSubscription `json:"heldSubscriptions"`
		AcceptedInvitations        []invitationWire   `json:"acceptedInvitations"`
		PendingInvitations         []invitationWire   `json:"pendingInvitations"`
		SentInvitations            []invitationWire   `json:"sentInvitations"`
		UserAccountEmailIsVerified bool               `json:"userAccountEmailIsVerified"`
		UserAccountStatus          model.UserAccountStatus `json:"userAccountStatus"`
		TypeWorldWebsiteToken      string             `json:"typeWorldWebsiteToken"`
		AppInstanceIsRevoked       bool               `json:"appInstanceIsRevoked"`
	}
	if err := json.Unmarshal(env.Extra, &wire); err != nil {
		return DownloadUserSubscriptionsResult{}, model.PlainError("mothership: decoding downloadUserSubscriptions response: %s", err)
	}

	return DownloadUserSubscriptionsResult{
		HeldSubscriptions:          wire.HeldSubscriptions,
		AcceptedInvitations:        normalizeInvitations(wire.AcceptedInvitations, model.InvitationAccepted),
		PendingInvitations:         normalizeInvitations(wire.PendingInvitations, model.InvitationPending),
		SentInvitations:            normalizeInvitations(wire.SentInvitations, model.InvitationSent),
		UserAccountEmailIsVerified: wire.UserAccountEmailIsVerified,
		UserAccountStatus:          wire.UserAccountStatus,
		TypeWorldWebsiteToken:      wire.TypeWorldWebsiteToken,
		AppInstanceIsRevoked:       wire.AppInstanceIsRevoked,
	}, model.ErrorMessage{}
}

// SyncUserSubscriptions asks the mothership to reconcile upload+download in
// one round trip, used by the `syncSubscriptions` queue entry.
func (c *Client) SyncUserSubscriptions(ctx context.Context, appID, anonymousUserID string) model.ErrorMessage {
	_, errMsg := c.Post(ctx, "syncUserSubscriptions", appID, map[string]string{
		"anonymousUserID": anonymousUserID,
	})
	return errMsg
}

// AcceptInvitations accepts the given invitation IDs.
func (c *Client) AcceptInvitations(ctx context.Context, appID, anonymousUserID string, invitationIDs []string) model.ErrorMessage {
	payload, err := json.Marshal(invitationIDs)
	if err != nil {
		return model.PlainError("mothership: encoding invitation list: %s", err)
	}
	_, errMsg := c.Post(ctx, "acceptInvitations", appID, map[string]string{
		"anonymousUserID": anonymousUserID,
		"invitationIDs":   string(payload),
	})
	return errMsg
}

// DeclineInvitations declines the given invitation IDs.
func (c *Client) DeclineInvitations(ctx context.Context, appID, anonymousUserID string, invitationIDs []string) model.ErrorMessage {
	payload, err := json.Marshal(invitationIDs)
	if err != nil {
		return model.PlainError("mothership: encoding invitation list: %s", err)
	}
	_, errMsg := c.Post(ctx, "declineInvitations", appID, map[string]string{
		"anonymousUserID": anonymousUserID,
		"invitationIDs":   string(payload),
	})
	return errMsg
}

// InviteUserToSubscription invites targetEmail to a subscription this user
// owns, for seat sharing.
func (c *Client) InviteUserToSubscription(ctx context.Context, appID, anonymousUserID, unsecretURL, targetEmail string) model.ErrorMessage {
	_, errMsg := c.Post(ctx, "inviteUserToSubscription", appID, map[string]string{
		"anonymousUserID": anonymousUserID,
		"unsecretURL":     unsecretURL,
		"targetEmail":     targetEmail,
	})
	return errMsg
}

// RevokeSubscriptionInvitation cancels a previously sent invitation.
func (c *Client) RevokeSubscriptionInvitation(ctx context.Context, appID, anonymousUserID, invitationID string) model.ErrorMessage {
	_, errMsg := c.Post(ctx, "revokeSubscriptionInvitation", appID, map[string]string{
		"anonymousUserID": anonymousUserID,
		"invitationID":    invitationID,
	})
	return errMsg
}

// RegisterAPIEndpoint touches the mothership once per Subscription lifetime
// for discoverability (§4.6 "addSubscription" step (e)). Callers fire this
// from a background goroutine; failures are logged, never surfaced.
func (c *Client) RegisterAPIEndpoint(ctx context.Context, appID, unsecretURL string) model.ErrorMessage {
	_, errMsg := c.Post(ctx, "registerAPIEndpoint", appID, map[string]string{
		"unsecretURL": unsecretURL,
	})
	return errMsg
}

// DownloadSettings fetches process-wide configuration: the message-queue
// endpoint to connect the push channel to, and the breaking-version list
// consulted by addSubscription (§4.6 step 3c). The response is validated
// against downloadSettingsSchemaJSON before being decoded, so a malformed
// payload surfaces as a clear schema error rather than a zero-valued
// DownloadedSettings silently disabling the breaking-version gate.
func (c *Client) DownloadSettings(ctx context.Context, appID string) (model.DownloadedSettings, model.ErrorMessage) {
	env, errMsg := c.Post(ctx, "downloadSettings", appID, nil)
	if !errMsg.IsZero() {
		return model.DownloadedSettings{}, errMsg
	}

	if err := validateAgainst(c.schemas.downloadSettings, env.Extra, "downloadSettings"); err != nil {
		return model.DownloadedSettings{}, model.PlainError("%s", err)
	}

	var wire struct {
		MessagingQueue      string   `json:"messagingQueue"`
		BreakingAPIVersions []string `json:"breakingAPIVersions"`
	}
	if err := json.Unmarshal(env.Extra, &wire); err != nil {
		return model.DownloadedSettings{}, model.PlainError("mothership: decoding downloadSettings response: %s", err)
	}
	return model.DownloadedSettings{
		MessagingQueue:      wire.MessagingQueue,
		BreakingAPIVersions: wire.BreakingAPIVersions,
	}, model.ErrorMessage{}
}

// HandleTraceback posts an unexpected-failure report to the mothership
// (§4.8 "Traceback handling"). Fire-and-forget: callers run this on a
// background goroutine and log, never surface, its result.
func (c *Client) HandleTraceback(ctx context.Context, appID string, libraryVersion, stack, method string, preferencesSnapshot json.RawMessage) model.ErrorMessage {
	_, errMsg := c.Post(ctx, "handleTraceback", appID, map[string]string{
		"libraryVersion": libraryVersion,
		"stack":          stack,
		"method":         method,
		"preferences":    string(preferencesSnapshot),
	})
	return errMsg
}

// EndpointCommand fetches a publisher endpoint's metadata directly (used
// outside the Protocol abstraction by callers that only need the name and
// version, such as a diagnostics CLI). Most callers go through
// protocol.Protocol.EndpointCommand instead; this exists because §4.5
// lists endpointCommand as a mothership-adjacent capability wrappers
// should expose symmetrically with downloadSettings.
func (c *Client) EndpointCommand(ctx context.Context, appID, unsecretURL string) (json.RawMessage, model.ErrorMessage) {
	env, errMsg := c.Post(ctx, "endpointCommand", appID, map[string]string{
		"unsecretURL": unsecretURL,
	})
	if !errMsg.IsZero() {
		return nil, errMsg
	}
	if err := validateAgainst(c.schemas.endpointCommand, env.Extra, "endpointCommand"); err != nil {
		return nil, model.PlainError("%s", err)
	}
	return env.Extra, model.ErrorMessage{}
}
