package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir    string `toml:"state_dir"`
	DownloadDir string `toml:"download_dir"`
	LogDir      string `toml:"log_dir"`
	APIBind     string `toml:"api_bind"`
	APIToken    string `toml:"api_token"`
}

// Network contains outbound HTTP settings shared by the site loaders.
type Network struct {
	RequestTimeout    int     `toml:"request_timeout"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	CacheTTLMinutes   int     `toml:"cache_ttl_minutes"`
	UserAgent         string  `toml:"user_agent"`
}

// Downloads contains pipeline limits and failure policies.
type Downloads struct {
	MaxParallelDownloads      int    `toml:"max_parallel_downloads"`
	MaxParallelEpisodes       int    `toml:"max_parallel_episodes"`
	MaxAttemptRetries         int    `toml:"max_attempt_retries"`
	RetryDelayMillis          int    `toml:"retry_delay_ms"`
	FileTypePriority          string `toml:"file_type_priority"`
	ActionOnNoQuality         string `toml:"action_on_no_quality"`
	ActionOnNoSubtitles       string `toml:"action_on_no_subtitles"`
	ActionOnLoadVideoError    string `toml:"action_on_load_video_error"`
	ActionOnLoadSubtitleError string `toml:"action_on_load_subtitle_error"`
	TeardownSettleMillis      int    `toml:"teardown_settle_ms"`
}

// Filenames controls how saved files are named and grouped into folders.
type Filenames struct {
	FilmTemplate          []string `toml:"film_template"`
	SeriesTemplate        []string `toml:"series_template"`
	ReplaceAllSpaces      bool     `toml:"replace_all_spaces"`
	CreateExtensionFolder bool     `toml:"create_extension_folder"`
	CreateSeriesFolder    bool     `toml:"create_series_folder"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Completed      bool   `toml:"completed"`
	Failures       bool   `toml:"failures"`
	Restore        bool   `toml:"restore"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for grabber.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Network       Network       `toml:"network"`
	Downloads     Downloads     `toml:"downloads"`
	Filenames     Filenames     `toml:"filenames"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("grabber.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.DownloadDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath is the SQLite database holding download bookkeeping.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.StateDir, "queue.db")
}

// CacheDBPath is the bbolt file holding cached network responses.
func (c *Config) CacheDBPath() string {
	return filepath.Join(c.Paths.StateDir, "cache.db")
}

// LockPath is the flock file guarding a single daemon instance.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "grabber.lock")
}

// PIDPath is where the running daemon records its process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "grabber.pid")
}

// RequestTimeout bounds a single outbound site request.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Network.RequestTimeout) * time.Second
}

// CacheTTL is how long cached network responses stay valid.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Network.CacheTTLMinutes) * time.Minute
}

// RetryDelay is the pause before a failed file is attempted again.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Downloads.RetryDelayMillis) * time.Millisecond
}

// TeardownSettle is how long data deletion waits for in-flight work to drain.
func (c *Config) TeardownSettle() time.Duration {
	return time.Duration(c.Downloads.TeardownSettleMillis) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
