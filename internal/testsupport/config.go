package testsupport

import (
	"path/filepath"
	"testing"

	"grabber/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t   testing.TB
	cfg *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.DownloadDir = filepath.Join(base, "downloads")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Downloads.RetryDelayMillis = 10
	cfgVal.Downloads.TeardownSettleMillis = 0
	cfgVal.Notifications.NtfyTopic = ""

	builder := &configBuilder{
		t:   t,
		cfg: &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithDownloads lets a test adjust the download limits and failure actions.
func WithDownloads(fn func(*config.Downloads)) ConfigOption {
	return func(b *configBuilder) {
		fn(&b.cfg.Downloads)
	}
}

// WithFilenames lets a test adjust the file name templates.
func WithFilenames(fn func(*config.Filenames)) ConfigOption {
	return func(b *configBuilder) {
		fn(&b.cfg.Filenames)
	}
}

// WithNtfyTopic points notifications at the given topic URL.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}
