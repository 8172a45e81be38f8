// Package apiclient wraps outbound HTTP to the dashboard backend. It
// attaches the current bearer token on every attempt, recovers from a 401
// with a single coordinated refresh-and-retry, and surfaces unrecoverable
// failures as typed errors.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/harborops/go-session-kit/internal/pubsub"
	"github.com/harborops/go-session-kit/session"
)

var (
	// ErrUnauthorized means the token was rejected and the single retry
	// budget is spent. Never retried again.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means the caller's roles or scopes are insufficient.
	// Refreshing cannot fix this; never retried.
	ErrForbidden = errors.New("forbidden")

	// ErrNetwork wraps transport-level failures.
	ErrNetwork = errors.New("network error")

	// ErrBackendUnavailable means a non-2xx response from a best-effort
	// backend call. Logged by callers, never blocks the primary flow.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

const defaultTimeout = 30 * time.Second

// AuthzError is published when the backend answers 403, so the UI can
// react globally (e.g. route to an access-denied view).
type AuthzError struct {
	Method string
	Path   string
}

// LogoutFunc is invoked when a refresh fails terminally. The orchestrator
// resolves the provider-appropriate logout flow from the session itself.
type LogoutFunc func(redirectTarget string)

// Client is the resilient API client. All methods are safe for concurrent
// use; under N concurrent 401s exactly one refresh is issued and every
// caller shares its outcome.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	store           *session.Store
	logout          LogoutFunc
	defaultRedirect string
	clearAux        func()

	authzErrors pubsub.Hub[AuthzError]
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (e.g. for tests or a
// custom transport). The default applies a bounded timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogout sets the terminal-expiry delegate and the redirect target it
// is handed.
func WithLogout(fn LogoutFunc, defaultRedirect string) Option {
	return func(c *Client) {
		c.logout = fn
		c.defaultRedirect = defaultRedirect
	}
}

// WithClearAuxState sets a callback that drops locally cached auxiliary
// state before a forced logout.
func WithClearAuxState(fn func()) Option {
	return func(c *Client) {
		c.clearAux = fn
	}
}

// New creates a Client for the given backend base URL over the live
// session store.
func New(baseURL string, store *session.Store, options ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		store:      store,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// SubscribeAuthzErrors registers a callback for 403 responses. The
// returned cancel function revokes the subscription.
func (c *Client) SubscribeAuthzErrors(fn func(AuthzError)) func() {
	return c.authzErrors.Subscribe(fn)
}

type ctxKey int

const retryMarkKey ctxKey = iota

// WithRetryMark marks the context as already retried, disabling the
// refresh-and-retry path for requests carrying it. Used for calls that
// must never recurse into a refresh, such as the logout notification.
func WithRetryMark(ctx context.Context) context.Context {
	return context.WithValue(ctx, retryMarkKey, true)
}

func retried(ctx context.Context) bool {
	marked, _ := ctx.Value(retryMarkKey).(bool)
	return marked
}

// Do sends the request with the current bearer token attached. On 401 it
// joins or starts the single in-flight refresh and resends the request at
// most once with the new token. On 403 it publishes an authorization
// error and fails without retrying.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		drain(resp)
		return c.recover(req)
	case http.StatusForbidden:
		drain(resp)
		c.authzErrors.Publish(AuthzError{Method: req.Method, Path: req.URL.Path})
		return nil, errors.Wrapf(ErrForbidden, "%s %s", req.Method, req.URL.Path)
	default:
		return resp, nil
	}
}

// recover handles a 401: terminal when the request was already retried,
// otherwise refresh once and resend.
func (c *Client) recover(req *http.Request) (*http.Response, error) {
	if retried(req.Context()) {
		return nil, errors.Wrapf(ErrUnauthorized, "%s %s after retry", req.Method, req.URL.Path)
	}

	if _, err := c.store.Refresh(req.Context()); err != nil {
		// Only a terminal refresh failure forces a logout. A caller that
		// abandoned its wait (context canceled or timed out) gets its own
		// error back; the shared flight may still succeed for everyone
		// else and must not cost them the session.
		if !errors.Is(err, session.ErrSessionExpired) {
			return nil, errors.Wrapf(err, "[Client.Do] %s %s", req.Method, req.URL.Path)
		}
		if c.clearAux != nil {
			c.clearAux()
		}
		if c.logout != nil {
			c.logout(c.defaultRedirect)
		}
		return nil, errors.Wrapf(err, "[Client.Do] %s %s", req.Method, req.URL.Path)
	}

	retry := req.Clone(WithRetryMark(req.Context()))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, errors.Wrap(err, "[Client.Do] rewind request body")
		}
		retry.Body = body
	} else if req.Body != nil {
		// A consumed one-shot body cannot be replayed.
		return nil, errors.Wrapf(ErrUnauthorized, "%s %s not retryable", req.Method, req.URL.Path)
	}

	return c.Do(retry)
}

// send performs one attempt, reading the bearer token from the live store
// so a rotation between attempts is picked up.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	if token := c.store.Current().AccessToken; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrNetwork, "%s %s: %v", req.Method, req.URL.Path, err)
	}
	return resp, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// GetJSON performs an authenticated GET and decodes a 2xx response body
// into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

// PostJSON performs an authenticated POST with a JSON body. out may be
// nil when the response body is irrelevant.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, out)
}

// Patch performs an authenticated bodyless PATCH.
func (c *Client) Patch(ctx context.Context, path string) error {
	return c.doJSON(ctx, http.MethodPatch, path, nil, nil)
}

// Delete performs an authenticated DELETE.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "[Client.doJSON] encode %s %s", method, path)
		}
		reader = bytes.NewReader(encoded)
	}

	// bytes.Reader bodies get GetBody set by NewRequestWithContext, which
	// keeps the request replayable for the single retry.
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrapf(err, "[Client.doJSON] build %s %s", method, path)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("backend call failed")
		return errors.Wrapf(ErrBackendUnavailable, "%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "[Client.doJSON] decode %s %s", method, path)
	}
	return nil
}
