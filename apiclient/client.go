// Package apiclient is a Go client for the job portal API.
//
// A Client attaches the session's access token to every request. When a
// request carrying a token is rejected with 401, the client refreshes the
// token through POST /auth/refresh and retries the request once. Concurrent
// refreshes are coalesced so only one refresh call is in flight at a time.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	refreshPath    = "/auth/refresh"
	refreshFlight  = "refresh"
	maxBodyBytes   = 10 << 20
	defaultTimeout = 30 * time.Second
)

// Options configures a Client
type Options struct {
	BaseURL string

	// HTTPClient defaults to a client with a cookie jar. A client without a
	// jar gets one, since the refresh token lives in a cookie.
	HTTPClient *http.Client

	// Session defaults to a new session in the loading state
	Session *Session

	Logger *zap.Logger
}

// Response is a 2xx response with its body fully read
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the "data" field of the response envelope into v
func (r *Response) Decode(v interface{}) error {
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(r.Body, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(envelope.Data) == 0 {
		return fmt.Errorf("response has no data")
	}
	return json.Unmarshal(envelope.Data, v)
}

// Client calls the portal API on behalf of one session
type Client struct {
	baseURL *url.URL
	http    *http.Client
	session *Session
	flight  singleflight.Group
	logger  *zap.Logger
}

// New creates a client
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		copied := *httpClient
		copied.Jar = jar
		httpClient = &copied
	}

	if opts.Session == nil {
		opts.Session = NewSession()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Client{
		baseURL: base,
		http:    httpClient,
		session: opts.Session,
		logger:  opts.Logger,
	}, nil
}

// Session returns the session the client reads and updates
func (c *Client) Session() *Session {
	return c.session
}

// HTTPClient returns the underlying HTTP client, whose jar holds the
// refresh cookie
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Get is shorthand for Do with GET
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post is shorthand for Do with POST
func (c *Client) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// Do sends a request with the current access token. A 401 on a request that
// carried a token triggers one refresh and one retry. Non-2xx results are
// returned as *HTTPError.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	token := c.session.Snapshot().AccessToken
	resp, err := c.send(ctx, method, path, payload, token)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusUnauthorized || token == "" {
		return checkStatus(resp)
	}

	fresh, err := c.refreshAfter(ctx, token)
	if err != nil {
		return nil, err
	}

	resp, err = c.send(ctx, method, path, payload, fresh)
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusUnauthorized {
		c.logger.Info("request rejected after refresh, ending session",
			zap.String("method", method), zap.String("path", path))
		c.session.Clear()
		return nil, ErrSessionExpired
	}
	return checkStatus(resp)
}

// refreshAfter returns an access token newer than stale. If another request
// already replaced stale, that token is reused without a network call.
func (c *Client) refreshAfter(ctx context.Context, stale string) (string, error) {
	if current := c.session.Snapshot(); current.Authenticated() && current.AccessToken != stale {
		return current.AccessToken, nil
	}
	return c.sharedRefresh(ctx, stale)
}

// sharedRefresh joins the in-flight refresh or starts one. The refresh runs
// detached from ctx so a caller giving up cannot leave the session half
// updated; the caller itself still returns as soon as ctx is done.
func (c *Client) sharedRefresh(ctx context.Context, stale string) (string, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(refreshFlight, func() (interface{}, error) {
		// A flight that finished just before this one started may already
		// have replaced the token.
		current := c.session.Snapshot()
		if current.Authenticated() && current.AccessToken != stale {
			return current.AccessToken, nil
		}
		if stale != "" && current.Status == StatusUnauthenticated {
			return "", ErrSessionExpired
		}
		return c.refresh(detached)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// refresh performs POST /auth/refresh and applies the result to the session
func (c *Client) refresh(ctx context.Context) (string, error) {
	resp, err := c.send(ctx, http.MethodPost, refreshPath, nil, "")
	if err != nil {
		c.logger.Warn("refresh failed on transport", zap.Error(err))
		return "", err
	}
	if resp.Status != http.StatusOK {
		c.logger.Info("refresh rejected", zap.Int("status", resp.Status))
		c.session.Clear()
		return "", ErrSessionExpired
	}

	var result tokenResult
	if err := resp.Decode(&result); err != nil {
		c.session.Clear()
		return "", fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	if err := c.session.Set(result.AccessToken, result.Principal); err != nil {
		c.session.Clear()
		return "", fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}

	c.logger.Debug("access token refreshed", zap.Time("expires_at", result.ExpiresAt))
	return result.AccessToken, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrNetwork, err)
	}

	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   data,
	}, nil
}

func (c *Client) resolve(path string) string {
	return c.baseURL.String() + "/" + strings.TrimPrefix(path, "/")
}

func checkStatus(resp *Response) (*Response, error) {
	if resp.Status < 200 || resp.Status > 299 {
		return nil, newHTTPError(resp.Status, resp.Body)
	}
	return resp, nil
}

func encodeBody(body interface{}) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if raw, ok := body.([]byte); ok {
		return raw, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return data, nil
}
