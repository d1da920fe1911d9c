// Package mothership is the HTTP client for the central coordination
// service (§4.5). Every endpoint is one JSON POST; transient failures are
// retried automatically, and parameter echoes in logs never reveal a
// secret or key.
package mothership

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/typeworld/client/model"
)

// maxAttempts mirrors the original's ten-attempt loop: the central
// service's autoscaled instances can drop a single connection mid-request.
const maxAttempts = 10

// Envelope is the shape every endpoint responds with. Response is "success"
// or an error code consumed via model.CodeError. Extra carries the
// endpoint-specific payload for callers that need more than the envelope.
type Envelope struct {
	Response string          `json:"response"`
	Extra    json.RawMessage `json:"-"`
}

// Client talks to the mothership's JSON endpoints.
type Client struct {
	http          *retryablehttp.Client
	baseURL       string
	appID         string
	clientVersion string
	testScenario  string
	schemas       schemaSet
}

// Config configures a Client. BaseURL is the mothership root, e.g.
// "https://api.type.world". AppID and ClientVersion are echoed on every
// request as sourceAnonymousAppID's sibling parameters (§4.5).
type Config struct {
	BaseURL       string
	AppID         string
	ClientVersion string
	Logger        *slog.Logger
}

// New returns a Client configured per cfg.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hc := retryablehttp.NewClient()
	hc.RetryMax = maxAttempts - 1
	hc.Logger = slogAdapter{logger}
	hc.HTTPClient.Timeout = 30 * time.Second

	schemas, err := compileSchemas()
	if err != nil {
		// The schemas are a compile-time constant of this package; a
		// failure here means the literal JSON in schema.go is broken, not
		// something a caller can recover from.
		panic(err)
	}

	return &Client{
		http:          hc,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		appID:         cfg.AppID,
		clientVersion: cfg.ClientVersion,
		schemas:       schemas,
	}
}

// WithTestScenario returns a copy of the Client that threads testScenario
// through to every request, overriding endpoint behavior on the server
// side for diagnostics (§4.5).
func (c *Client) WithTestScenario(testScenario string) *Client {
	clone := *c
	clone.testScenario = testScenario
	return &clone
}

// redact replaces any parameter whose lowercased key ends in "key" or
// "secret" with "*****", for safe logging (§4.5).
func redact(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		lower := strings.ToLower(k)
		if strings.HasSuffix(lower, "key") || strings.HasSuffix(lower, "secret") {
			out[k] = "*****"
		} else {
			out[k] = v
		}
	}
	return out
}

// Post submits endpoint with params plus the standard sourceAnonymousAppID,
// appID, clientVersion and (if set) testScenario parameters, and decodes
// the JSON envelope. A transport failure returns a redacted, human-readable
// message that never logs a raw key or secret.
func (c *Client) Post(ctx context.Context, endpoint string, anonymousAppID string, params map[string]string) (Envelope, model.ErrorMessage) {
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	form.Set("sourceAnonymousAppID", anonymousAppID)
	form.Set("appID", c.appID)
	form.Set("clientVersion", c.clientVersion)
	if c.testScenario != "" {
		form.Set("testScenario", c.testScenario)
	}

	endpointURL := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpointURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Envelope{}, model.PlainError("building request for %s: %s", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return Envelope{}, model.PlainError(
			"response from %s with parameters %v after %d tries: %s",
			endpointURL, redact(params), maxAttempts, err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Envelope{}, model.PlainError("HTTP error %d from %s", resp.StatusCode, endpointURL)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Envelope{}, model.PlainError("decoding response from %s: %s", endpointURL, err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, model.PlainError("decoding envelope from %s: %s", endpointURL, err)
	}
	env.Extra = raw

	if env.Response != "success" {
		return env, model.CodeError(env.Response)
	}
	return env, model.ErrorMessage{}
}

// Ping performs a single, non-retried reachability check against the
// mothership's base URL, used by the Client Orchestrator's online/offline
// probe (§4.8 "online(server)"). It intentionally bypasses the retry
// client: a reachability probe that itself retries ten times defeats the
// purpose of a cheap, frequently-repeated check.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return fmt.Errorf("mothership: building ping request: %w", err)
	}
	resp, err := c.http.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("mothership: ping: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

// Get performs a GET with no form body, used for dataURL asset downloads.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("mothership: building GET for %s: %w", rawURL, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mothership: GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mothership: GET %s: status %d", rawURL, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mothership: reading body of %s: %w", rawURL, err)
	}
	return data, nil
}

// slogAdapter makes retryablehttp's LeveledLogger interface speak slog.
type slogAdapter struct{ logger *slog.Logger }

func (a slogAdapter) Error(msg string, kv ...interface{}) { a.logger.Error(msg, kv...) }
func (a slogAdapter) Info(msg string, kv ...interface{})  { a.logger.Info(msg, kv...) }
func (a slogAdapter) Debug(msg string, kv ...interface{}) { a.logger.Debug(msg, kv...) }
func (a slogAdapter) Warn(msg string, kv ...interface{})  { a.logger.Warn(msg, kv...) }
