// Package frontchat is a Go client for the front-chat messaging service.
//
// It wraps the REST API (with transparent credential refresh), the Pusher
// realtime channels, and two reconcilers that keep a conversation list and an
// open chat window in sync with the live event stream.
//
// Example:
//
//	client := frontchat.NewClient("https://chat.example.com",
//		frontchat.WithStorage(frontchat.NewFileStorage(path)))
//	sess, _ := client.Auth.Login(ctx, "alice", "secret")
//
//	rt := client.Realtime(frontchat.RealtimeConfig{Key: key, Cluster: "eu"})
//	m, _ := frontchat.NewMessenger(client, rt)
//	m.Start(ctx)
//	m.Conversations().OnChange(func(s frontchat.ListSnapshot) { ... })
package frontchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultRefreshTimeout = 15 * time.Second

	// Version is reported to the realtime service.
	Version = "0.3.0"
)

const (
	pathToken        = "/api/token/"
	pathTokenRefresh = "/api/token/refresh/"
)

// ============================================================================
// Client
// ============================================================================

// Client is the API gateway. It is safe for concurrent use.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	session        *SessionStore
	log            zerolog.Logger
	metrics        *Metrics
	limiter        *rate.Limiter
	refreshTimeout time.Duration
	refreshes      singleflight.Group

	Auth          *AuthClient
	Conversations *ConversationsClient
	Messages      *MessagesClient
	Users         *UsersClient
	Profile       *ProfileClient
	Presence      *PresenceClient
}

type ClientOption func(*Client)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithSessionStore shares an existing session store with the client.
func WithSessionStore(s *SessionStore) ClientOption {
	return func(c *Client) { c.session = s }
}

// WithStorage persists the session in st.
func WithStorage(st Storage) ClientOption {
	return func(c *Client) { c.session = NewSessionStore(st) }
}

func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithRateLimit caps outgoing REST calls to r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(r, burst) }
}

func WithRefreshTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.refreshTimeout = d }
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{Timeout: DefaultTimeout},
		log:            zerolog.Nop(),
		refreshTimeout: DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.session == nil {
		c.session = NewSessionStore(nil)
	}

	c.Auth = &AuthClient{c: c}
	c.Conversations = &ConversationsClient{c: c}
	c.Messages = &MessagesClient{c: c}
	c.Users = &UsersClient{c: c}
	c.Profile = &ProfileClient{c: c}
	c.Presence = &PresenceClient{c: c}
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL }

// Session returns the client's session store.
func (c *Client) Session() *SessionStore { return c.session }

// Logger returns the client's logger.
func (c *Client) Logger() zerolog.Logger { return c.log }

// ============================================================================
// Request pipeline
// ============================================================================

type request struct {
	method    string
	path      string
	query     url.Values
	body      any
	anonymous bool
}

// Request issues an authenticated call and returns the raw response body.
// body may be nil, url.Values, *Form, or any JSON-marshalable value.
func (c *Client) Request(ctx context.Context, method, path string, body any) ([]byte, error) {
	return c.do(ctx, request{method: method, path: path, body: body})
}

func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	payload, contentType, err := encodeBody(r.body)
	if err != nil {
		return nil, err
	}
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	token := ""
	if !r.anonymous {
		token = c.session.AccessToken()
	}

	status, data, err := c.roundTrip(ctx, r.method, u, payload, contentType, token)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized && token != "" {
		fresh, err := c.refreshAccess(ctx, token)
		if err != nil {
			return nil, err
		}
		status, data, err = c.roundTrip(ctx, r.method, u, payload, contentType, fresh)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			c.log.Warn().Str("path", r.path).Msg("refreshed credential rejected, ending session")
			c.endSession(EndAuthExpired)
			return nil, statusError(status, data, true)
		}
	}

	if status < 200 || status >= 300 {
		return nil, statusError(status, data, false)
	}
	return data, nil
}

func (c *Client) roundTrip(ctx context.Context, method, u string, payload []byte, contentType, token string) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, networkError(err)
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.observeRequest(method, 0)
		c.log.Debug().Err(err).Str("method", method).Str("path", req.URL.Path).Msg("request failed")
		return 0, nil, networkError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, networkError(fmt.Errorf("failed to read response: %w", err))
	}
	c.metrics.observeRequest(method, resp.StatusCode)
	c.log.Debug().
		Str("method", method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("api request")
	return resp.StatusCode, data, nil
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case *Form:
		if b == nil {
			return nil, "", nil
		}
		return b.encode()
	case url.Values:
		return []byte(b.Encode()), "application/x-www-form-urlencoded", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal request: %w", err)
		}
		return data, "application/json", nil
	}
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &APIError{Kind: KindServer, Message: "failed to unmarshal response", Err: err}
	}
	return &result, nil
}

// ============================================================================
// Credential refresh
// ============================================================================

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// refreshAccess returns a usable access credential after stale was
// rejected. Concurrent callers share one in-flight refresh; a caller whose
// credential was already replaced gets the current one without a new refresh.
func (c *Client) refreshAccess(ctx context.Context, stale string) (string, error) {
	if cur := c.session.AccessToken(); cur != "" && cur != stale {
		return cur, nil
	}

	ch := c.refreshes.DoChan("refresh", func() (any, error) {
		if cur := c.session.AccessToken(); cur != "" && cur != stale {
			return cur, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()
		return c.refreshTokens(rctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", networkError(ctx.Err())
	}
}

func (c *Client) refreshTokens(ctx context.Context) (string, error) {
	refresh := c.session.RefreshToken()
	if refresh == "" {
		c.metrics.observeRefresh(false)
		c.endSession(EndAuthExpired)
		return "", &APIError{Kind: KindAuthExpired, Message: "session expired: no refresh credential"}
	}

	payload, err := json.Marshal(map[string]string{"refresh": refresh})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	status, data, err := c.roundTrip(ctx, http.MethodPost, c.baseURL+pathTokenRefresh, payload, "application/json", "")
	if err == nil && (status < 200 || status >= 300) {
		err = statusError(status, data, false)
	}
	var tokens tokenPair
	if err == nil {
		if jerr := json.Unmarshal(data, &tokens); jerr != nil || tokens.Access == "" {
			err = fmt.Errorf("refresh response without access credential")
		}
	}
	if err != nil {
		c.metrics.observeRefresh(false)
		c.log.Warn().Err(err).Msg("credential refresh failed, ending session")
		c.endSession(EndAuthExpired)
		return "", &APIError{Kind: KindAuthExpired, Message: "session expired: " + err.Error()}
	}

	if err := c.session.UpdateTokens(tokens.Access, tokens.Refresh); err != nil {
		c.metrics.observeRefresh(false)
		return "", &APIError{Kind: KindAuthExpired, Message: "session ended during refresh", Err: err}
	}
	c.metrics.observeRefresh(true)
	c.log.Debug().Msg("credential refreshed")
	return tokens.Access, nil
}

func (c *Client) endSession(reason EndReason) {
	if err := c.session.End(reason); err != nil {
		c.log.Warn().Err(err).Msg("failed to clear session")
	}
}
