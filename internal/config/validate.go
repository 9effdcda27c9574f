package config

import (
	"errors"
	"fmt"
	"slices"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateNetwork(); err != nil {
		return err
	}
	if err := c.validateDownloads(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateNetwork() error {
	if c.Network.RequestsPerSecond < 0 {
		return errors.New("network.requests_per_second must be zero (unlimited) or positive")
	}
	return nil
}

func (c *Config) validateDownloads() error {
	d := c.Downloads
	if d.MaxParallelDownloads <= 0 {
		return errors.New("downloads.max_parallel_downloads must be positive")
	}
	if d.MaxParallelEpisodes <= 0 {
		return errors.New("downloads.max_parallel_episodes must be positive")
	}
	if d.MaxParallelEpisodes > d.MaxParallelDownloads {
		return fmt.Errorf("downloads.max_parallel_episodes (%d) cannot exceed max_parallel_downloads (%d)", d.MaxParallelEpisodes, d.MaxParallelDownloads)
	}
	if d.MaxAttemptRetries < 0 {
		return errors.New("downloads.max_attempt_retries must be zero or positive")
	}
	if d.RetryDelayMillis < 0 {
		return errors.New("downloads.retry_delay_ms must be zero or positive")
	}
	if err := oneOf("downloads.file_type_priority", d.FileTypePriority, FileTypeVideo, FileTypeSubtitle); err != nil {
		return err
	}
	if err := oneOf("downloads.action_on_no_quality", d.ActionOnNoQuality, ActionStop, ActionSkip, ActionReduceQuality); err != nil {
		return err
	}
	if err := oneOf("downloads.action_on_no_subtitles", d.ActionOnNoSubtitles, ActionStop, ActionSkip, ActionIgnore); err != nil {
		return err
	}
	if err := oneOf("downloads.action_on_load_video_error", d.ActionOnLoadVideoError, ActionStop, ActionSkip); err != nil {
		return err
	}
	if err := oneOf("downloads.action_on_load_subtitle_error", d.ActionOnLoadSubtitleError, ActionStop, ActionSkip); err != nil {
		return err
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return fmt.Errorf("%s: unsupported value %q (expected one of %v)", field, value, allowed)
}
