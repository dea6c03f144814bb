// Package apiclient performs JSON requests against remote REST APIs with a
// single re-authentication retry and a typed error taxonomy.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/fedisync/internal/metrics"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "fedisync/1.0"
	maxErrorBody     = 512
)

// Authenticator supplies the Authorization header value for a request.
// An empty value sends the request without the header.
type Authenticator interface {
	Authorization(ctx context.Context) (string, error)
}

// Invalidator is implemented by authenticators whose cached credential can
// be dropped. Client retries a 401 once only for these.
type Invalidator interface {
	Invalidate()
}

// Waiter throttles outbound requests per target URL.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Request describes one call relative to the client's base URL.
type Request struct {
	Method   string
	Resource string
	Query    url.Values
	Body     any
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithAuthenticator attaches credentials to every request.
func WithAuthenticator(auth Authenticator) Option {
	return func(c *Client) {
		c.auth = auth
	}
}

// WithLimiter throttles requests through the provided Waiter.
func WithLimiter(w Waiter) Option {
	return func(c *Client) {
		c.limiter = w
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
		}
	}
}

// Client executes JSON requests against a base URL.
type Client struct {
	base      *url.URL
	http      *http.Client
	auth      Authenticator
	limiter   Waiter
	userAgent string
}

// New creates a Client rooted at baseURL. Resources are resolved relative to
// it, so "post/list" against "https://host/api/v3" hits "/api/v3/post/list".
func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("base url is required")
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	c := &Client{
		base:      base,
		http:      &http.Client{Timeout: defaultTimeout},
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// ResolveURL joins resource and query onto the base URL.
func (c *Client) ResolveURL(resource string, query url.Values) string {
	ref := &url.URL{Path: strings.TrimPrefix(resource, "/")}
	target := c.base.ResolveReference(ref)
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	return target.String()
}

// Do executes req and decodes a 2xx JSON body into out (which may be nil).
// A 401 answered while the authenticator supports invalidation clears the
// credential and replays the request exactly once.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	payload, err := encodeBody(req.Body)
	if err != nil {
		return err
	}
	target := c.ResolveURL(req.Resource, req.Query)

	for attempt := 0; ; attempt++ {
		resp, err := c.send(ctx, method, target, payload)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			if inv, ok := c.auth.(Invalidator); ok {
				drainAndClose(resp)
				inv.Invalidate()
				continue
			}
		}
		return c.decode(resp, method, target, out)
	}
}

func (c *Client) send(ctx context.Context, method, target string, payload []byte) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, target); err != nil {
			return nil, classifyTransport(ctx, method, target, err)
		}
	}
	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		value, err := c.auth.Authorization(ctx)
		if err != nil {
			return nil, fmt.Errorf("authorize %s %s: %w", method, target, err)
		}
		if value != "" {
			httpReq.Header.Set("Authorization", value)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	host := httpReq.URL.Hostname()
	if err != nil {
		metrics.ObserveRemoteRequest(host, "transport_error", time.Since(start))
		return nil, classifyTransport(ctx, method, target, err)
	}
	metrics.ObserveRemoteRequest(host, outcomeLabel(resp.StatusCode), time.Since(start))
	return resp, nil
}

func (c *Client) decode(resp *http.Response, method, target string, out any) error {
	defer drainAndClose(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     method,
			URI:        target,
			StatusCode: resp.StatusCode,
			Reason:     reasonPhrase(resp.Status, resp.StatusCode),
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: decode %s %s: %w", ErrCommunication, method, target, err)
	}
	return nil
}

func classifyTransport(ctx context.Context, method, target string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrCanceled, method, target, ctxErr)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrConnectivity, method, target, err)
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return data, nil
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func outcomeLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// Get issues a GET and decodes the response into T.
func Get[T any](ctx context.Context, c *Client, resource string, query url.Values) (T, error) {
	var out T
	err := c.Do(ctx, Request{Method: http.MethodGet, Resource: resource, Query: query}, &out)
	return out, err
}

// Post issues a POST with a JSON body and decodes the response into T.
func Post[T any](ctx context.Context, c *Client, resource string, body any) (T, error) {
	var out T
	err := c.Do(ctx, Request{Method: http.MethodPost, Resource: resource, Body: body}, &out)
	return out, err
}

// Put issues a PUT with a JSON body and decodes the response into T.
func Put[T any](ctx context.Context, c *Client, resource string, body any) (T, error) {
	var out T
	err := c.Do(ctx, Request{Method: http.MethodPut, Resource: resource, Body: body}, &out)
	return out, err
}

// Delete issues a DELETE and discards the response body.
func (c *Client) Delete(ctx context.Context, resource string) error {
	return c.Do(ctx, Request{Method: http.MethodDelete, Resource: resource}, nil)
}
