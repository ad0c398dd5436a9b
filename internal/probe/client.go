package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/jpalmerr/trackpoll/internal/poller"
)

// TrackingPath is the status endpoint, relative to the base URL.
const TrackingPath = "/api/tracking/{id}"

const (
	// DefaultTimeout bounds a single status request.
	DefaultTimeout = 10 * time.Second

	maxResponseBodySize = 1 << 20 // 1MB
)

// connection pooling limits, sized for many sessions polling one API host
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

// Extractor decides from a response body whether the awaited condition has
// been met. An error marks the check as failed.
type Extractor func(body []byte) (poller.Result, error)

// Options configures a [Client].
type Options struct {
	// BaseURL is the scheme and host of the tracking API, for example
	// "https://tracker.example.com". Required.
	BaseURL string

	// Headers are sent with every request and override the defaults.
	Headers map[string]string

	// Timeout bounds each request. Zero uses [DefaultTimeout].
	Timeout time.Duration

	// RateLimit caps requests per second across all sessions. Zero or
	// negative means unlimited.
	RateLimit float64

	// Extractor interprets response bodies. Required.
	Extractor Extractor
}

// DefaultHeaders returns the headers sent when none override them.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"Content-Type":  "application/json",
		"Cache-Control": "no-cache",
	}
}

// Client checks tracking status over HTTP. It implements [poller.Prober].
//
// Client is safe for concurrent use.
type Client struct {
	resty     *resty.Client
	transport *http.Transport
	limiter   *rate.Limiter
	timeout   time.Duration
	extract   Extractor
}

var _ poller.Prober = (*Client)(nil)

// New creates a [Client]. It returns an error if the base URL is not an
// absolute http(s) URL or no extractor is given.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL must use http or https, got %q", opts.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base URL %q has no host", opts.BaseURL)
	}
	if opts.Extractor == nil {
		return nil, errors.New("extractor is required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		MaxConnsPerHost:     defaultMaxConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
	}

	headers := DefaultHeaders()
	for k, v := range opts.Headers {
		headers[k] = v
	}

	// no client-level timeout or retries: each check gets its own deadline
	// and the scheduler owns retry timing
	rc := resty.NewWithClient(&http.Client{Transport: transport}).
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeaders(headers).
		SetRetryCount(0)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(1, int(opts.RateLimit)))
	}

	return &Client{
		resty:     rc,
		transport: transport,
		limiter:   limiter,
		timeout:   timeout,
		extract:   opts.Extractor,
	}, nil
}

// Check asks the tracking API about id.
//
// Transport errors, timeouts, non-2xx responses and extractor errors are all
// returned as errors. The response body is read up to 1MB.
func (c *Client) Check(ctx context.Context, id string) (poller.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return poller.Result{}, fmt.Errorf("rate limit: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.resty.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetPathParam("id", id).
		Get(TrackingPath)
	if err != nil {
		return poller.Result{}, fmt.Errorf("request failed: %w", err)
	}

	raw := resp.RawBody()
	defer func() { _ = raw.Close() }()

	body, err := io.ReadAll(io.LimitReader(raw, maxResponseBodySize))
	if err != nil {
		return poller.Result{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if !resp.IsSuccess() {
		return poller.Result{}, &StatusError{Code: resp.StatusCode()}
	}

	res, err := c.extract(body)
	if err != nil {
		return poller.Result{}, fmt.Errorf("extract status: %w", err)
	}
	return res, nil
}

// Close releases idle connections. The client remains usable.
func (c *Client) Close() {
	if c == nil || c.transport == nil {
		return
	}
	c.transport.CloseIdleConnections()
}

// StatusError reports a non-2xx response from the tracking API.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}
