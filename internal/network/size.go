package network

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"grabber/internal/cache"
	"grabber/internal/logging"
	"grabber/internal/services"
)

// URLItem is a resolved media URL and its size in bytes.
type URLItem struct {
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// ResolveSize looks up the size of rawURL, following redirects. Concurrent
// lookups of the same URL share one request. A result with a known size is cached
// under rawURL.
func (c *Client) ResolveSize(ctx context.Context, rawURL, siteURL string) (URLItem, error) {
	item, err := doShared(ctx, c.inflight, rawURL, func(ctx context.Context) (URLItem, error) {
		return c.fetchSize(ctx, rawURL, siteURL)
	})
	if err != nil {
		return URLItem{}, err
	}
	if item.Size > 0 && c.cache != nil {
		if err := cache.SetJSON(c.cache, rawURL, item); err != nil {
			c.logger.Debug("cache url item failed", logging.String("url", rawURL), logging.Error(err))
		}
	}
	return item, nil
}

func (c *Client) fetchSize(ctx context.Context, rawURL, siteURL string) (URLItem, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	item, err := c.sizeFromHead(ctx, rawURL, siteURL)
	if err == nil && item.Size > 0 {
		return item, nil
	}
	if ctx.Err() != nil {
		return URLItem{}, classify("size", rawURL, ctx.Err())
	}
	return c.sizeFromRange(ctx, rawURL, siteURL)
}

func (c *Client) sizeFromHead(ctx context.Context, rawURL, siteURL string) (URLItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return URLItem{}, services.Wrap(services.ErrValidation, "network", "size", rawURL, err)
	}
	resp, err := c.do(req, siteURL)
	if err != nil {
		return URLItem{}, err
	}
	defer drain(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return URLItem{}, statusError("size", rawURL, resp)
	}
	return URLItem{URL: resp.Request.URL.String(), Size: max(resp.ContentLength, 0)}, nil
}

// sizeFromRange asks for the first byte only; the total size comes back in
// Content-Range.
func (c *Client) sizeFromRange(ctx context.Context, rawURL, siteURL string) (URLItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return URLItem{}, services.Wrap(services.ErrValidation, "network", "size", rawURL, err)
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := c.do(req, siteURL)
	if err != nil {
		return URLItem{}, err
	}
	defer drain(resp)

	item := URLItem{URL: resp.Request.URL.String()}
	switch resp.StatusCode {
	case http.StatusPartialContent:
		item.Size = ParseContentRangeTotal(resp.Header.Get("Content-Range"))
	case http.StatusOK:
		item.Size = max(resp.ContentLength, 0)
	default:
		return URLItem{}, statusError("size", rawURL, resp)
	}
	return item, nil
}

// ParseContentRangeTotal extracts the complete length from a header such as
// "bytes 0-0/1234". Unknown lengths yield 0.
func ParseContentRangeTotal(header string) int64 {
	_, total, ok := strings.Cut(strings.TrimSpace(header), "/")
	if !ok || total == "*" {
		return 0
	}
	size, err := strconv.ParseInt(strings.TrimSpace(total), 10, 64)
	if err != nil || size < 0 {
		return 0
	}
	return size
}
