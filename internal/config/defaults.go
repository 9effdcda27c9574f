package config

// File types a load item can produce.
const (
	FileTypeVideo    = "video"
	FileTypeSubtitle = "subtitle"
)

// Failure policies applied when a file cannot be resolved or transferred.
const (
	ActionStop          = "stop"
	ActionSkip          = "skip"
	ActionIgnore        = "ignore"
	ActionReduceQuality = "reduce_quality"
)

const (
	defaultConfigPath           = "~/.config/grabber/config.toml"
	defaultStateDir             = "~/.local/share/grabber"
	defaultDownloadDir          = "~/Downloads"
	defaultLogDir               = "~/.local/share/grabber/logs"
	defaultAPIBind              = "127.0.0.1:7488"
	defaultRequestTimeout       = 10
	defaultRequestsPerSecond    = 4
	defaultBurst                = 4
	defaultCacheTTLMinutes      = 15
	defaultUserAgent            = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	defaultMaxParallelDownloads = 3
	defaultMaxParallelEpisodes  = 1
	defaultMaxAttemptRetries    = 3
	defaultRetryDelayMillis     = 5000
	defaultTeardownSettleMillis = 200
	defaultNotifyTimeout        = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
)

func defaultFilmTemplate() []string {
	return []string{"%orig_title%"}
}

func defaultSeriesTemplate() []string {
	return []string{"%orig_title%", " S", "%season_id%", "E", "%episode_id%"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:    defaultStateDir,
			DownloadDir: defaultDownloadDir,
			LogDir:      defaultLogDir,
			APIBind:     defaultAPIBind,
		},
		Network: Network{
			RequestTimeout:    defaultRequestTimeout,
			RequestsPerSecond: defaultRequestsPerSecond,
			Burst:             defaultBurst,
			CacheTTLMinutes:   defaultCacheTTLMinutes,
			UserAgent:         defaultUserAgent,
		},
		Downloads: Downloads{
			MaxParallelDownloads:      defaultMaxParallelDownloads,
			MaxParallelEpisodes:       defaultMaxParallelEpisodes,
			MaxAttemptRetries:         defaultMaxAttemptRetries,
			RetryDelayMillis:          defaultRetryDelayMillis,
			FileTypePriority:          FileTypeVideo,
			ActionOnNoQuality:         ActionReduceQuality,
			ActionOnNoSubtitles:       ActionIgnore,
			ActionOnLoadVideoError:    ActionSkip,
			ActionOnLoadSubtitleError: ActionSkip,
			TeardownSettleMillis:      defaultTeardownSettleMillis,
		},
		Filenames: Filenames{
			FilmTemplate:          defaultFilmTemplate(),
			SeriesTemplate:        defaultSeriesTemplate(),
			CreateExtensionFolder: true,
			CreateSeriesFolder:    true,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Completed:      true,
			Failures:       true,
			Restore:        true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
