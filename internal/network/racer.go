package network

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"grabber/internal/cache"
	"grabber/internal/logging"
	"grabber/internal/queue"
)

const qualityFanOut = 4

// FirstAvailable returns the first mirror of urls that reports a size. A
// cached item with a known size wins without any request. When every lookup
// fails the first URL is returned with size 0.
func (c *Client) FirstAvailable(ctx context.Context, urls []string, siteURL string) URLItem {
	if len(urls) == 0 {
		return URLItem{}
	}
	if c.cache != nil {
		for _, u := range urls {
			item, ok, err := cache.GetJSON[URLItem](c.cache, u)
			if err != nil {
				c.logger.Debug("read url cache failed", logging.String("url", u), logging.Error(err))
				continue
			}
			if ok && item.Size > 0 {
				return item
			}
		}
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan URLItem, len(urls))
	for _, u := range urls {
		go func(u string) {
			item, err := c.ResolveSize(raceCtx, u, siteURL)
			if err != nil {
				c.logger.Debug("mirror size lookup failed", logging.String("url", u), logging.Error(err))
				item = URLItem{}
			}
			results <- item
		}(u)
	}

	for range urls {
		select {
		case item := <-results:
			if item.Size <= 0 {
				continue
			}
			// The deferred cancel ends this caller's remaining waits. Lookups
			// other callers still wait on keep running.
			return item
		case <-ctx.Done():
			return URLItem{URL: urls[0]}
		}
	}
	return URLItem{URL: urls[0]}
}

// QualitySizes resolves every quality's mirror list concurrently.
func (c *Client) QualitySizes(ctx context.Context, streams map[queue.Quality][]string, siteURL string) map[queue.Quality]URLItem {
	sizes := make(map[queue.Quality]URLItem, len(streams))
	if len(streams) == 0 {
		return sizes
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(qualityFanOut)
	for quality, urls := range streams {
		g.Go(func() error {
			item := c.FirstAvailable(gctx, urls, siteURL)
			mu.Lock()
			sizes[quality] = item
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return sizes
}
