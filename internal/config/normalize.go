package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeNetwork()
	c.normalizeDownloads()
	c.normalizeFilenames()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.DownloadDir) == "" {
		c.Paths.DownloadDir = defaultDownloadDir
	}
	if c.Paths.DownloadDir, err = expandPath(c.Paths.DownloadDir); err != nil {
		return fmt.Errorf("paths.download_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeNetwork() {
	if c.Network.RequestTimeout <= 0 {
		c.Network.RequestTimeout = defaultRequestTimeout
	}
	if c.Network.CacheTTLMinutes <= 0 {
		c.Network.CacheTTLMinutes = defaultCacheTTLMinutes
	}
	c.Network.UserAgent = strings.TrimSpace(c.Network.UserAgent)
	if c.Network.UserAgent == "" {
		c.Network.UserAgent = defaultUserAgent
	}
	if c.Network.Burst <= 0 {
		c.Network.Burst = 1
	}
}

func (c *Config) normalizeDownloads() {
	d := &c.Downloads
	d.FileTypePriority = strings.ToLower(strings.TrimSpace(d.FileTypePriority))
	if d.FileTypePriority == "" {
		d.FileTypePriority = FileTypeVideo
	}
	d.ActionOnNoQuality = normalizeAction(d.ActionOnNoQuality, ActionReduceQuality)
	d.ActionOnNoSubtitles = normalizeAction(d.ActionOnNoSubtitles, ActionIgnore)
	d.ActionOnLoadVideoError = normalizeAction(d.ActionOnLoadVideoError, ActionSkip)
	d.ActionOnLoadSubtitleError = normalizeAction(d.ActionOnLoadSubtitleError, ActionSkip)
	if d.TeardownSettleMillis < 0 {
		d.TeardownSettleMillis = 0
	}
}

func normalizeAction(value, fallback string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return fallback
	}
	return value
}

func (c *Config) normalizeFilenames() {
	if len(c.Filenames.FilmTemplate) == 0 {
		c.Filenames.FilmTemplate = defaultFilmTemplate()
	}
	if len(c.Filenames.SeriesTemplate) == 0 {
		c.Filenames.SeriesTemplate = defaultSeriesTemplate()
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("GRABBER_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
