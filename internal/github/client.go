package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lei/ghe-policy-check/pkg/logger"
)

// PreviewAccept is the Accept header sent when the caller does not override headers
const PreviewAccept = "application/vnd.github.nebula-preview+json,application/vnd.github.mercy-preview+json"

// rateLimitMargin is added to the reset time before retrying a rate limited request
const rateLimitMargin = 5 * time.Second

// HTTPDoer is the subset of *http.Client the gateway needs
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Client
type Config struct {
	// BaseURL includes the API prefix, e.g. https://ghe.example.com/api/v3
	BaseURL string

	// Tokens is the ordered token pool. The first token is used first.
	Tokens []string

	// Headers replaces the default preview Accept header when non-empty
	Headers map[string]string

	HTTPClient HTTPDoer
	Logger     *logger.Logger
}

// Client is one session against the GitHub API. A Client is not safe for
// concurrent use; each goroutine builds its own.
type Client struct {
	baseURL     string
	credentials *Credentials
	headers     http.Header
	httpClient  HTTPDoer
	logger      *logger.Logger

	// impersonating is the login this client acts as, empty for admin clients
	impersonating string
	// minter re-mints the impersonation token on bad credentials
	minter *Client

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Response is a successful (or classified failed) GitHub response with the body fully read
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the response body into v
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// NewClient creates a new GitHub API client
func NewClient(cfg Config) (*Client, error) {
	credentials, err := NewCredentials(cfg.Tokens)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	if len(cfg.Headers) > 0 {
		for k, v := range cfg.Headers {
			headers.Set(k, v)
		}
	} else {
		headers.Set("Accept", PreviewAccept)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		credentials: credentials,
		headers:     headers,
		httpClient:  httpClient,
		logger:      log,
		sleep:       sleepContext,
		now:         time.Now,
	}, nil
}

// BaseURL returns the API base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Impersonating returns the login this client acts as, or "" for an admin client
func (c *Client) Impersonating() string {
	return c.impersonating
}

// Credentials exposes the client's token pool
func (c *Client) Credentials() *Credentials {
	return c.credentials
}

// RequestOption customizes a single request
type RequestOption func(*requestOptions)

type requestOptions struct {
	body    []byte
	headers http.Header
	err     error
}

// WithJSON sends v as the JSON request body. The body is encoded once and
// replayed on every retry.
func WithJSON(v any) RequestOption {
	return func(o *requestOptions) {
		body, err := json.Marshal(v)
		if err != nil {
			o.err = fmt.Errorf("marshal request body: %w", err)
			return
		}
		o.body = body
	}
}

// WithHeader sets an extra header on the request
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.headers == nil {
			o.headers = http.Header{}
		}
		o.headers.Set(key, value)
	}
}

// Get issues a GET request
func (c *Client) Get(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, opts...)
}

// Put issues a PUT request
func (c *Client) Put(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPut, url, opts...)
}

// Post issues a POST request
func (c *Client) Post(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPost, url, opts...)
}

// Delete issues a DELETE request
func (c *Client) Delete(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, url, opts...)
}

// Do executes a request and returns the 2xx response. Rate limited requests
// rotate tokens or wait for the reset; bad credentials on an impersonating
// client re-mint the token once. Every other failure is returned as an
// *APIError or a transport error.
//
// url may be absolute or a path relative to the base URL.
func (c *Client) Do(ctx context.Context, method, url string, opts ...RequestOption) (*Response, error) {
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.err != nil {
		return nil, ro.err
	}

	url = c.resolve(url)

	for retry := 0; ; {
		c.logger.Debug("github: http request",
			"method", method,
			"url", url,
			"retry", retry)

		resp, err := c.send(ctx, method, url, c.credentials.Active(), &ro)
		if err != nil {
			return nil, err
		}

		err = classifyResponse(method, url, resp)
		if err == nil {
			return resp, nil
		}

		apiErr := err.(*APIError)
		switch {
		case apiErr.Kind == KindRateLimited:
			tokens := c.credentials.Len()

			// len-1 keeps the loop from rotating back onto the token that just hit its limit
			if retry < tokens-1 {
				c.logger.Info("github: rotating token", "retry", retry)
				c.credentials.Rotate()
				retry++
				continue
			}

			if retry > 2*tokens {
				c.logger.Error("github: rate limit retries failed",
					"method", method,
					"url", url,
					"retry", retry)
				return nil, fmt.Errorf("%w: %w", ErrRateLimitExhausted, err)
			}

			if err := c.waitForReset(ctx); err != nil {
				return nil, err
			}
			retry++

		case apiErr.Kind == KindBadCredentials && c.impersonating != "" && retry == 0 && c.minter != nil:
			c.logger.Info("github: bad credentials, refreshing impersonation token",
				"user", c.impersonating)

			token, mintErr := c.minter.ImpersonationToken(ctx, c.impersonating)
			if mintErr != nil {
				return nil, fmt.Errorf("refresh impersonation token for %s: %w", c.impersonating, mintErr)
			}
			c.credentials.Replace(token)
			retry = 1

		default:
			return nil, err
		}
	}
}

// RateLimitReset returns the epoch second at which the active token's core
// rate limit resets. The check is issued once, outside the retry loop.
func (c *Client) RateLimitReset(ctx context.Context) (int64, error) {
	status, err := c.RateLimit(ctx)
	if err != nil {
		return 0, err
	}
	return status.Resources.Core.Reset, nil
}

// RateLimitStatus is the body of GET /rate_limit
type RateLimitStatus struct {
	Resources struct {
		Core   RateLimitWindow `json:"core"`
		Search RateLimitWindow `json:"search"`
	} `json:"resources"`
}

// RateLimitWindow is one rate limit bucket
type RateLimitWindow struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
}

// RateLimit fetches the rate limit status for the active token
func (c *Client) RateLimit(ctx context.Context) (*RateLimitStatus, error) {
	url := c.resolve(RateLimitPath)
	resp, err := c.send(ctx, http.MethodGet, url, c.credentials.Active(), &requestOptions{})
	if err != nil {
		return nil, err
	}
	if err := classifyResponse(http.MethodGet, url, resp); err != nil {
		return nil, err
	}

	var status RateLimitStatus
	if err := resp.Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) waitForReset(ctx context.Context) error {
	reset, err := c.RateLimitReset(ctx)
	if err != nil {
		return fmt.Errorf("get rate limit reset: %w", err)
	}

	resetAt := time.Unix(reset, 0).UTC()
	c.logger.Warn("github: all tokens rate limited",
		"retry_at", resetAt.Add(rateLimitMargin))

	// A reset in the past gives a negative wait, which sleep treats as no-op
	return c.sleep(ctx, resetAt.Add(rateLimitMargin).Sub(c.now()))
}

// send performs a single HTTP round trip with the given token and reads the whole body
func (c *Client) send(ctx context.Context, method, url, token string, ro *requestOptions) (*Response, error) {
	var body io.Reader
	if ro.body != nil {
		body = bytes.NewReader(ro.body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, v := range c.headers {
		req.Header[k] = append([]string(nil), v...)
	}
	for k, v := range ro.headers {
		req.Header[k] = append([]string(nil), v...)
	}
	req.Header.Set("Authorization", bearer(token))
	if ro.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("github: http request failed",
			"method", method,
			"url", url,
			"error", err)
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debug("github: http response",
		"method", method,
		"url", url,
		"status", resp.StatusCode)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// resolve prefixes relative paths with the base URL
func (c *Client) resolve(url string) string {
	if strings.HasPrefix(url, "/") {
		return c.baseURL + url
	}
	return url
}

// clone returns a client with the same configuration and its own copy of the token pool
func (c *Client) clone() *Client {
	credentials, _ := NewCredentials(c.credentials.Tokens())
	return &Client{
		baseURL:       c.baseURL,
		credentials:   credentials,
		headers:       c.headers.Clone(),
		httpClient:    c.httpClient,
		logger:        c.logger,
		impersonating: c.impersonating,
		minter:        c.minter,
		sleep:         c.sleep,
		now:           c.now,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
