// Package model holds the data types shared across the client packages:
// the localized error envelope, the catalog types derived from a Protocol's
// installable-fonts payload, and the user-account/invitation records.
package model

import "fmt"

// ErrorMessage is the result of any public operation that can fail (§7).
// It is either a plain English string (infrastructure errors, tracebacks)
// or a two-element, localization-ready pair of the form
// ["#(response.<code>)", "#(response.<code>.headline)"].
type ErrorMessage struct {
	plain string
	code  string
}

// PlainError builds an infrastructure-facing error message.
func PlainError(format string, args ...any) ErrorMessage {
	return ErrorMessage{plain: fmt.Sprintf(format, args...)}
}

// CodeError builds a user-facing, localization-ready error message from a
// mothership response code such as "seatAllowanceReached".
func CodeError(code string) ErrorMessage {
	return ErrorMessage{code: code}
}

// IsZero reports whether this is the empty ErrorMessage (no error).
func (e ErrorMessage) IsZero() bool {
	return e.plain == "" && e.code == ""
}

// Code returns the mothership response code backing this message, if any.
func (e ErrorMessage) Code() string {
	return e.code
}

// Pair returns the two-element localization pair for a code-backed message,
// or nil for a plain-English one.
func (e ErrorMessage) Pair() []string {
	if e.code == "" {
		return nil
	}
	return []string{"#(response." + e.code + ")", "#(response." + e.code + ".headline)"}
}

// String renders the message for logs and plain-text surfaces.
func (e ErrorMessage) String() string {
	if e.code != "" {
		return "#(response." + e.code + ")"
	}
	return e.plain
}

// Canonical response codes the core itself emits (§6).
const (
	CodeNotOnline                 = "notOnline"
	CodeServerNotReachable        = "serverNotReachable"
	CodeSeatAllowanceReached      = "seatAllowanceReached"
	CodeTermsOfServiceNotAccepted = "termsOfServiceNotAccepted"
	CodeRevealedIdentityRequired  = "revealedUserIdentityRequired"
	CodeAppUpdateRequired         = "appUpdateRequired"
	CodeCommercialAppNotAllowed   = "commercialAppNotAllowed"
)
