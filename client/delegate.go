package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/typeworld/client/model"
	"github.com/typeworld/client/preferences"
)

// Delegate receives every user-observable lifecycle event the Client
// Orchestrator produces (§4.8 "Delegate"). A nil method table is never
// required of callers: Client always calls through a non-nil Delegate,
// defaulting to NopDelegate.
type Delegate interface {
	FontWillInstall(font model.Font)
	FontHasInstalled(ok bool, message string, font model.Font)
	FontWillUninstall(font model.Font)
	FontHasUninstalled(ok bool, message string, font model.Font)

	SubscriptionHasBeenAdded(unsecretURL string)
	SubscriptionWillUpdate(unsecretURL string)
	SubscriptionHasBeenUpdated(ok bool, message model.ErrorMessage, changed bool)
	SubscriptionHasBeenDeleted(unsecretURL string)

	PublisherHasBeenDeleted(canonicalURL string)

	UserAccountUpdateNotificationHasBeenReceived()

	MessageQueueConnected()
	MessageQueueDisconnected()

	PreferenceHasChanged(key string)
}

// NopDelegate implements Delegate with no-op methods, used when the caller
// doesn't need lifecycle callbacks (e.g. headless sync tools).
type NopDelegate struct{}

func (NopDelegate) FontWillInstall(model.Font)                             {}
func (NopDelegate) FontHasInstalled(bool, string, model.Font)               {}
func (NopDelegate) FontWillUninstall(model.Font)                           {}
func (NopDelegate) FontHasUninstalled(bool, string, model.Font)             {}
func (NopDelegate) SubscriptionHasBeenAdded(string)                        {}
func (NopDelegate) SubscriptionWillUpdate(string)                          {}
func (NopDelegate) SubscriptionHasBeenUpdated(bool, model.ErrorMessage, bool) {}
func (NopDelegate) SubscriptionHasBeenDeleted(string)                      {}
func (NopDelegate) PublisherHasBeenDeleted(string)                         {}
func (NopDelegate) UserAccountUpdateNotificationHasBeenReceived()          {}
func (NopDelegate) MessageQueueConnected()                                 {}
func (NopDelegate) MessageQueueDisconnected()                              {}
func (NopDelegate) PreferenceHasChanged(string)                            {}

// safeCall wraps one delegate dispatch in a panic/recover boundary,
// replacing the source's broad try/except around every delegate callback
// (§9 "Dynamic delegate dispatch"). A panicking delegate method never
// aborts the caller; its recovered value is reported as a traceback
// instead.
func (c *Client) safeCall(method string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.reportTraceback(method, fmt.Sprintf("panic: %v\n%s", r, debug.Stack()))
		}
	}()
	fn()
}

// The following methods make *Client itself satisfy subscription.Delegate,
// so a Subscription created by this package can use the Client as its
// delegate directly and get the panic/recover boundary for free, rather
// than needing a separate adapter type (§9 "Cyclic parent references":
// components take the capability they need, not a parent pointer back to
// everything).

func (c *Client) FontWillInstall(font model.Font) {
	c.safeCall("FontWillInstall", func() { c.delegate.FontWillInstall(font) })
}

func (c *Client) FontHasInstalled(ok bool, message string, font model.Font) {
	c.safeCall("FontHasInstalled", func() { c.delegate.FontHasInstalled(ok, message, font) })
}

func (c *Client) FontWillUninstall(font model.Font) {
	c.safeCall("FontWillUninstall", func() { c.delegate.FontWillUninstall(font) })
}

func (c *Client) FontHasUninstalled(ok bool, message string, font model.Font) {
	c.safeCall("FontHasUninstalled", func() { c.delegate.FontHasUninstalled(ok, message, font) })
}

func (c *Client) SubscriptionWillUpdate(unsecretURL string) {
	c.safeCall("SubscriptionWillUpdate", func() { c.delegate.SubscriptionWillUpdate(unsecretURL) })
}

func (c *Client) SubscriptionHasBeenUpdated(ok bool, message model.ErrorMessage, changed bool) {
	c.safeCall("SubscriptionHasBeenUpdated", func() { c.delegate.SubscriptionHasBeenUpdated(ok, message, changed) })
}

// reportTraceback assembles and asynchronously files a traceback report
// (§4.8 "Traceback handling"). Signatures already reported this process
// lifetime are suppressed (SPEC_FULL "Traceback rate limiting") so a
// recurring fault doesn't spam the mothership on every retry.
func (c *Client) reportTraceback(method, stack string) {
	signature := tracebackSignature(method, stack)

	c.tracebackMu.Lock()
	_, already := c.tracebackSeen[signature]
	if !already {
		c.tracebackSeen[signature] = struct{}{}
	}
	c.tracebackMu.Unlock()
	if already {
		return
	}

	c.logger.Error("client: unhandled fault, reporting traceback", "method", method, "signature", signature)

	snapshot := preferences.RedactedSnapshot(c.prefs)
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		snapshotJSON = []byte("{}")
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if errMsg := c.mothers.HandleTraceback(ctx, c.AnonymousAppID(), c.cfg.ClientVersion, normalizeStack(stack), method, snapshotJSON); !errMsg.IsZero() {
			c.logger.Warn("client: failed to report traceback", "error", errMsg.String())
		}
	}()
}

// tracebackSignature collapses a stack to a stable dedup key: the method
// name plus a hash of the stack with machine-specific path prefixes
// stripped, so the same fault from two installations collapses to one
// signature upstream (§4.8 "Traceback handling", "normalized stack").
func tracebackSignature(method, stack string) string {
	sum := sha256.Sum256([]byte(method + "\n" + normalizeStack(stack)))
	return hex.EncodeToString(sum[:8])
}

// normalizeStack strips everything up to and including the last path
// separator on each line, collapsing "/home/alice/src/app/client.go:42"
// and "/Users/bob/app/client.go:42" to the same "client.go:42" so
// identical faults from different machines produce identical signatures.
func normalizeStack(stack string) string {
	lines := strings.Split(stack, "\n")
	for i, line := range lines {
		if idx := strings.LastIndexByte(line, '/'); idx != -1 {
			lines[i] = line[idx+1:]
		}
	}
	return strings.Join(lines, "\n")
}
