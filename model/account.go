package model

import "github.com/google/uuid"

// UserAccountStatus is the mothership's notion of account tier.
type UserAccountStatus string

const (
	UserAccountFree UserAccountStatus = "free"
	UserAccountPro  UserAccountStatus = "pro"
)

// UserAccount is the process-wide, at-most-one user identity (§3). SecretKey
// lives in the Keyring, never here; this struct is what gets mirrored into
// preferences and passed around in memory.
type UserAccount struct {
	AnonymousUserID            string
	UserName                   string
	UserEmail                  string
	UserAccountEmailIsVerified bool
	UserAccountStatus          UserAccountStatus
}

// IsZero reports whether no user is linked.
func (u UserAccount) IsZero() bool {
	return u.AnonymousUserID == ""
}

// InvitationKind distinguishes the three invitation record flavors (§3).
type InvitationKind string

const (
	InvitationPending  InvitationKind = "pending"
	InvitationAccepted InvitationKind = "accepted"
	InvitationSent     InvitationKind = "sent"
)

// Invitation is a flat record returned by the mothership, keyed by URL plus
// an opaque server ID. Fields the server reports as null are normalized to
// the empty string on the way in (§4.8 reconciliation step 4).
type Invitation struct {
	Kind          InvitationKind
	ID            string
	URL           string
	TargetEmail   string
	SourceEmail   string
	SubscriptionName string
}

// NewAnonymousAppID generates a fresh per-installation identifier. It is
// persisted on first use (§3 "AnonymousAppID").
func NewAnonymousAppID() string {
	return uuid.NewString()
}

// DownloadedSettings is pulled from the mothership's downloadSettings
// endpoint (§3).
type DownloadedSettings struct {
	MessagingQueue      string
	BreakingAPIVersions []string
}
