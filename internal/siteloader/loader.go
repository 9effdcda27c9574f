package siteloader

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"grabber/internal/network"
	"grabber/internal/queue"
	"grabber/internal/services"
)

// SiteLoader resolves the downloadable URLs and file names of one load item.
// Implementations memoize the site response, so a loader serves a single
// resolution pass.
type SiteLoader interface {
	ResolveMetadata(ctx context.Context) (*network.VideoData, error)
	VideoURL(ctx context.Context) (string, error)
	SubtitleURL(ctx context.Context) (string, error)
	FileName(fileType queue.FileType, at time.Time) string
}

// Factory creates loaders and the records a trigger persists for one site.
type Factory interface {
	Build(item queue.LoadItem, cfg queue.LoadConfig, details queue.UrlDetails) SiteLoader
	NewDownload(initiator Initiator) (queue.NewDownload, error)
	UpdateVideoInfo(ctx context.Context, siteURL string, movieData map[string]string) (*VideoInfo, error)
}

// Fetcher is the network surface the loaders use.
type Fetcher interface {
	FetchVideoData(ctx context.Context, siteURL string, query url.Values) (*network.VideoData, error)
	FirstAvailable(ctx context.Context, urls []string, siteURL string) network.URLItem
	QualitySizes(ctx context.Context, streams map[queue.Quality][]string, siteURL string) map[queue.Quality]network.URLItem
}

// AvailabilityStore records what the site offers for a load item.
type AvailabilityStore interface {
	SetAvailability(ctx context.Context, id int64, qualities []queue.Quality, subtitles []string) error
}

// Registry maps site types to their factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[queue.SiteType]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[queue.SiteType]Factory)}
}

// Register installs the factory for site, replacing any previous one.
func (r *Registry) Register(site queue.SiteType, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[site] = factory
}

// Factory returns the factory registered for site.
func (r *Registry) Factory(site queue.SiteType) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[site]
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "siteloader", "lookup", fmt.Sprintf("unsupported site type %q", site), nil)
	}
	return factory, nil
}

// Build creates a loader for item using the factory of its site.
func (r *Registry) Build(item queue.LoadItem, cfg queue.LoadConfig, details queue.UrlDetails) (SiteLoader, error) {
	factory, err := r.Factory(item.SiteType)
	if err != nil {
		return nil, err
	}
	return factory.Build(item, cfg, details), nil
}
