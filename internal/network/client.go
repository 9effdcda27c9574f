package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"grabber/internal/cache"
	"grabber/internal/config"
	"grabber/internal/logging"
	"grabber/internal/services"
)

const defaultTimeout = 10 * time.Second

// Client performs the outbound requests site loaders need: size lookups and
// video data lookups. Requests are throttled, deduplicated by URL and bounded
// by a per-request timeout.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	timeout   time.Duration
	userAgent string
	cache     *cache.Store
	inflight  *InFlight
	logger    *slog.Logger
	now       func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithClock replaces the clock used for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient builds a client from the network section of cfg. The cache may be
// nil, in which case nothing is cached.
func NewClient(cfg *config.Config, store *cache.Store, logger *slog.Logger, opts ...Option) *Client {
	timeout := defaultTimeout
	limit := rate.Inf
	burst := 1
	userAgent := ""
	if cfg != nil {
		if d := cfg.RequestTimeout(); d > 0 {
			timeout = d
		}
		if cfg.Network.RequestsPerSecond > 0 {
			limit = rate.Limit(cfg.Network.RequestsPerSecond)
		}
		if cfg.Network.Burst > 0 {
			burst = cfg.Network.Burst
		}
		userAgent = cfg.Network.UserAgent
	}

	c := &Client{
		http:      &http.Client{},
		limiter:   rate.NewLimiter(limit, burst),
		timeout:   timeout,
		userAgent: userAgent,
		cache:     store,
		inflight:  NewInFlight(),
		logger:    logging.NewComponentLogger(logger, "network"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InFlight exposes the deduplication registry so teardown can abort it.
func (c *Client) InFlight() *InFlight {
	return c.inflight
}

// AbortAll cancels every shared fetch still running.
func (c *Client) AbortAll() {
	c.inflight.AbortAll()
}

// do waits for the limiter, applies site headers and sends req. The caller
// owns the response body and the timeout context carried by req.
func (c *Client) do(req *http.Request, sourceURL string) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, classify("throttle", req.URL.String(), err)
	}
	for key, values := range SiteHeaders(req.URL.String(), sourceURL, c.userAgent) {
		if req.Header.Get(key) == "" {
			req.Header[key] = values
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(req.Method, req.URL.String(), err)
	}
	return resp, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, c.timeout)
}

func classify(op, target string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "network", op, target, err)
	}
	return services.Wrap(services.ErrTransient, "network", op, target, err)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func statusError(op, target string, resp *http.Response) error {
	marker := services.ErrExternal
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		marker = services.ErrTransient
	}
	return services.Wrap(marker, "network", op, fmt.Sprintf("%s: status %d", target, resp.StatusCode), nil)
}
