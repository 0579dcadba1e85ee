package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/netanalyzer-go/internal/credstore"
)

// DefaultBaseURL is the local development endpoint used when no base URL
// is configured.
const DefaultBaseURL = "http://localhost:8000/api/v1/"

// Header names of the credential rotation protocol.
const (
	headerAuthorization = "Authorization"
	headerRefreshToken  = "Refresh-Token"
	headerAccessOut     = "X-Access-Token"
	headerRefreshOut    = "X-Refresh-Token"
	bearerPrefix        = "Bearer "
	contentTypeJSON     = "application/json"
	userAgent           = "netanalyzer-go/0.1"
)

// Body is a request payload. It is held in memory so the recovery attempt
// can resend exactly the same bytes. An empty ContentType means JSON.
type Body struct {
	ContentType string
	Data        []byte
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Option configures a Client.
type Option func(*Client)

// WithRefreshStatuses narrows the recovery trigger to the given status
// codes. Without it every status >= 400 and every transport error triggers
// the refresh-and-retry.
func WithRefreshStatuses(codes ...int) Option {
	return func(c *Client) {
		if len(codes) == 0 {
			c.refreshOn = nil
			return
		}

		c.refreshOn = make(map[int]bool, len(codes))
		for _, code := range codes {
			c.refreshOn[code] = true
		}
	}
}

// Client is the authenticated request pipeline. Every call carries the
// stored access credential; a rejected call is retried at most once with
// the refresh credential attached, and rotated credentials from the retry
// response are written back to the store.
//
// Concurrent calls that are rejected with the same refresh credential share
// a single refresh (singleflight); the others reuse the rotated access
// credential for their own single retry.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	store      credstore.Store
	logger     *slog.Logger
	refreshOn  map[int]bool

	refreshes singleflight.Group
}

// NewClient creates a Client. baseURL is the API root that relative request
// paths are resolved against (a trailing slash is added when missing).
func NewClient(
	baseURL string, httpClient *http.Client, store credstore.Store, logger *slog.Logger, opts ...Option,
) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("api: parsing base URL %q: %w", baseURL, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api: base URL %q must be http or https", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: httpClient,
		store:      store,
		logger:     logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// BaseURL returns the resolved API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Store returns the credential store the client reads from and rotates.
func (c *Client) Store() credstore.Store {
	return c.store
}

// Do executes an authenticated request. path is resolved relative to the
// base URL. A response with status < 400 is returned as-is; anything else
// goes through one recovery attempt (see Client).
func (c *Client) Do(ctx context.Context, method, path string, body *Body) (*Response, error) {
	if err := checkRequest(method, body); err != nil {
		return nil, err
	}

	access, err := c.store.Get(credstore.KindAccess)
	if err != nil {
		return nil, fmt.Errorf("api: reading access credential: %w", err)
	}

	if access == "" {
		return nil, ErrNotAuthenticated
	}

	if method == http.MethodGet {
		body = nil
	}

	endpoint := c.resolve(path)

	resp, err := c.send(ctx, method, endpoint, body, access, "")
	if err == nil && resp.StatusCode < http.StatusBadRequest {
		c.logger.Debug("request succeeded",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("api: request canceled: %w", ctx.Err())
	}

	if err == nil && !c.shouldRecover(resp.StatusCode) {
		return nil, newAPIError(resp)
	}

	attrs := []any{slog.String("method", method), slog.String("path", path)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	} else {
		attrs = append(attrs, slog.Int("status", resp.StatusCode))
	}

	c.logger.Info("request rejected, attempting credential refresh", attrs...)

	return c.recover(ctx, method, path, endpoint, body, access)
}

// DoJSON sends in as a JSON body (nil means no body) and decodes the
// response into out (nil discards it).
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	var body *Body

	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encoding %s %s body: %w", method, path, err)
		}

		body = &Body{ContentType: contentTypeJSON, Data: data}
	}

	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}

	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrDecode, method, path, err)
	}

	return nil
}

// recover performs the single recovery attempt for a rejected call.
// usedAccess is the access credential the primary attempt carried.
func (c *Client) recover(
	ctx context.Context, method, path, endpoint string, body *Body, usedAccess string,
) (*Response, error) {
	refresh, err := c.store.Get(credstore.KindRefresh)
	if err != nil {
		return nil, fmt.Errorf("api: reading refresh credential: %w", err)
	}

	if refresh == "" {
		c.logger.Warn("no refresh credential, session revoked",
			slog.String("method", method),
			slog.String("path", path),
		)

		return nil, ErrSessionRevoked
	}

	current, err := c.store.Get(credstore.KindAccess)
	if err != nil {
		return nil, fmt.Errorf("api: reading access credential: %w", err)
	}

	// Another call rotated the credentials after our primary attempt was
	// sent; reuse them instead of spending the refresh credential again.
	if current != "" && current != usedAccess {
		c.logger.Debug("credentials already rotated, retrying with current access credential",
			slog.String("method", method),
			slog.String("path", path),
		)

		return c.retryWithAccess(ctx, method, path, endpoint, body, current)
	}

	var (
		own *Response
		led bool
	)

	v, err, _ := c.refreshes.Do(refresh, func() (any, error) {
		led = true

		// A refresh that completed just before this flight started has
		// already consumed the refresh credential we read.
		if cur, getErr := c.store.Get(credstore.KindAccess); getErr == nil && cur != "" && cur != usedAccess {
			return credstore.Pair{Access: cur}, nil
		}

		resp, rotated, rotateErr := c.rotate(ctx, method, endpoint, body, usedAccess, refresh)
		if rotateErr != nil {
			return nil, rotateErr
		}

		own = resp

		return rotated, nil
	})
	if err != nil {
		if !led {
			// The shared attempt failed on the leader's own request; this
			// call has not sent its recovery attempt yet.
			c.logger.Debug("shared refresh failed, attempting own recovery",
				slog.String("method", method),
				slog.String("path", path),
				slog.String("error", err.Error()),
			)

			return c.recoverAlone(ctx, method, path, endpoint, body, usedAccess)
		}

		c.logger.Warn("credential refresh failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	if own != nil {
		c.logger.Info("credentials rotated",
			slog.String("method", method),
			slog.String("path", path),
		)

		return own, nil
	}

	// Follower of another call's refresh: retry once with the rotated
	// access credential.
	rotated, ok := v.(credstore.Pair)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected shared refresh result %T", ErrRefreshFailed, v)
	}

	return c.retryWithAccess(ctx, method, path, endpoint, body, rotated.Access)
}

// rotate resends the request with the refresh credential attached and
// persists the rotated pair from a successful response.
func (c *Client) rotate(
	ctx context.Context, method, endpoint string, body *Body, access, refresh string,
) (*Response, credstore.Pair, error) {
	resp, err := c.send(ctx, method, endpoint, body, access, refresh)
	if err != nil {
		return nil, credstore.Pair{}, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, credstore.Pair{}, newAPIError(resp)
	}

	rotated := credstore.Pair{
		Access:  resp.Header.Get(headerAccessOut),
		Refresh: resp.Header.Get(headerRefreshOut),
	}

	if !rotated.Complete() {
		return nil, credstore.Pair{}, fmt.Errorf("refresh response missing %s or %s header", headerAccessOut, headerRefreshOut)
	}

	if err := credstore.SavePair(c.store, rotated); err != nil {
		return nil, credstore.Pair{}, fmt.Errorf("persisting rotated credentials: %w", err)
	}

	return resp, rotated, nil
}

// recoverAlone is the recovery attempt of a call whose shared refresh failed
// for reasons of the leading call. It works from the current store contents
// and never joins another flight.
func (c *Client) recoverAlone(
	ctx context.Context, method, path, endpoint string, body *Body, usedAccess string,
) (*Response, error) {
	if ctx.Err() != nil {
		return nil, fmt.Errorf("api: request canceled: %w", ctx.Err())
	}

	current, err := c.store.Get(credstore.KindAccess)
	if err != nil {
		return nil, fmt.Errorf("api: reading access credential: %w", err)
	}

	if current != "" && current != usedAccess {
		return c.retryWithAccess(ctx, method, path, endpoint, body, current)
	}

	refresh, err := c.store.Get(credstore.KindRefresh)
	if err != nil {
		return nil, fmt.Errorf("api: reading refresh credential: %w", err)
	}

	if refresh == "" {
		return nil, ErrSessionRevoked
	}

	resp, _, err := c.rotate(ctx, method, endpoint, body, usedAccess, refresh)
	if err != nil {
		c.logger.Warn("credential refresh failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	c.logger.Info("credentials rotated",
		slog.String("method", method),
		slog.String("path", path),
	)

	return resp, nil
}

// retryWithAccess is the recovery attempt for a call whose credentials were
// rotated by someone else.
func (c *Client) retryWithAccess(
	ctx context.Context, method, path, endpoint string, body *Body, access string,
) (*Response, error) {
	resp, err := c.send(ctx, method, endpoint, body, access, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrRefreshFailed, method, path, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, newAPIError(resp))
	}

	return resp, nil
}

// send executes a single HTTP request (no retry) and reads the full body.
func (c *Client) send(
	ctx context.Context, method, endpoint string, body *Body, access, refresh string,
) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body.Data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set(headerAuthorization, bearerPrefix+access)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", contentTypeJSON)

	if refresh != "" {
		req.Header.Set(headerRefreshToken, bearerPrefix+refresh)
	}

	if body != nil {
		ct := body.ContentType
		if ct == "" {
			ct = contentTypeJSON
		}

		req.Header.Set("Content-Type", ct)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// shouldRecover reports whether a rejected status triggers the refresh.
func (c *Client) shouldRecover(status int) bool {
	if len(c.refreshOn) == 0 {
		return true
	}

	return c.refreshOn[status]
}

// resolve joins a relative request path onto the base URL. A leading slash
// is ignored so "/history" and "history" address the same endpoint.
func (c *Client) resolve(path string) string {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return c.baseURL.String() + strings.TrimPrefix(path, "/")
	}

	return c.baseURL.ResolveReference(ref).String()
}

// checkRequest enforces the verb set and the no-body-on-GET rule before any
// network activity.
func checkRequest(method string, body *Body) error {
	switch method {
	case http.MethodGet:
		if body != nil && len(body.Data) > 0 {
			return fmt.Errorf("%w: GET request must not carry a body", ErrUsage)
		}
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return fmt.Errorf("%w: unsupported method %q", ErrUsage, method)
	}

	return nil
}
