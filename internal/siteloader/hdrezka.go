package siteloader

import (
	"cmp"
	"context"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"time"

	"grabber/internal/config"
	"grabber/internal/logging"
	"grabber/internal/network"
	"grabber/internal/queue"
	"grabber/internal/services"
	"grabber/internal/textutil"
)

// HDrezka builds loaders for hdrezka pages.
type HDrezka struct {
	fetcher Fetcher
	store   AvailabilityStore
	cfg     *config.Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewHDrezka wires the hdrezka factory. store may be nil when availability
// need not be persisted.
func NewHDrezka(fetcher Fetcher, store AvailabilityStore, cfg *config.Config, logger *slog.Logger) *HDrezka {
	return &HDrezka{
		fetcher: fetcher,
		store:   store,
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "siteloader.hdrezka"),
		now:     time.Now,
	}
}

// NewDownload expands an initiator into load items (one per episode of the
// range, or one for a film), their config and the movie's url details.
func (h *HDrezka) NewDownload(initiator Initiator) (queue.NewDownload, error) {
	if err := initiator.Validate(); err != nil {
		return queue.NewDownload{}, err
	}
	movieID, _ := initiator.ParsedMovieID()
	createdAt := initiator.CreatedAt(h.now())

	var items []queue.LoadItem
	for _, season := range initiator.Range {
		for _, episode := range season.Episodes {
			items = append(items, h.newLoadItem(movieID, &queue.Season{ID: season.ID, Title: season.Title}, &episode))
		}
	}
	if len(initiator.Range) > 0 && len(items) == 0 {
		return queue.NewDownload{}, services.Wrap(services.ErrValidation, "siteloader", "new download", "range holds no episodes", nil)
	}
	if len(items) == 0 {
		items = append(items, h.newLoadItem(movieID, nil, nil))
	}

	return queue.NewDownload{
		Details: queue.UrlDetails{
			MovieID: movieID,
			SiteURL: initiator.SiteURL,
			Title:   initiator.FilmName,
		},
		Config: queue.LoadConfig{
			VoiceOver: initiator.VoiceOver,
			Quality:   initiator.Quality,
			Subtitle:  initiator.Subtitle,
			Favs:      initiator.Favs,
			CreatedAt: createdAt,
		},
		Items: items,
	}, nil
}

func (h *HDrezka) newLoadItem(movieID int64, season *queue.Season, episode *queue.Episode) queue.LoadItem {
	return queue.LoadItem{
		SiteType: queue.SiteHDrezka,
		MovieID:  movieID,
		Season:   season,
		Episode:  episode,
		Content:  queue.ContentBoth,
		Status:   queue.StatusCandidate,
	}
}

// Build returns a loader bound to one load item.
func (h *HDrezka) Build(item queue.LoadItem, cfg queue.LoadConfig, details queue.UrlDetails) SiteLoader {
	return &hdrezkaLoader{
		site:    h,
		item:    item,
		config:  cfg,
		details: details,
		logger:  h.logger.With(logging.Int64(logging.FieldLoadItemID, item.ID)),
	}
}

// VideoInfo is the decoded answer for a page: its seasons, subtitle list and
// encoded streams.
type VideoInfo struct {
	Seasons   Seasons         `json:"seasons"`
	Subtitle  SubtitleInfo    `json:"subtitle"`
	Streams   string          `json:"streams"`
	Qualities []queue.Quality `json:"qualities,omitempty"`
	Subtitles []SubtitleTrack `json:"subtitles,omitempty"`
}

// SubtitleInfo carries the raw subtitle fields of a site response.
type SubtitleInfo struct {
	Subtitle    string            `json:"subtitle"`
	SubtitleDef string            `json:"subtitle_def"`
	Langs       map[string]string `json:"subtitle_lns"`
}

// UpdateVideoInfo fetches the page's stream data for movieData and parses
// its seasons.
func (h *HDrezka) UpdateVideoInfo(ctx context.Context, siteURL string, movieData map[string]string) (*VideoInfo, error) {
	query := make(url.Values, len(movieData))
	for key, value := range movieData {
		query.Set(key, value)
	}
	data, err := h.fetcher.FetchVideoData(ctx, siteURL, query)
	if err != nil {
		return nil, err
	}
	info := &VideoInfo{
		Subtitle: SubtitleInfo{
			Subtitle:    string(data.Subtitle),
			SubtitleDef: string(data.SubtitleDef),
			Langs:       data.SubtitleLangs,
		},
		Streams:   string(data.URL),
		Subtitles: DecodeSubtitles(string(data.Subtitle), data.SubtitleLangs),
	}
	if data.Seasons != "" {
		seasons, err := ParseSeasons(string(data.Seasons), string(data.Episodes))
		if err != nil {
			return nil, services.Wrap(services.ErrExternal, "siteloader", "update video info", "parse seasons", err)
		}
		info.Seasons = seasons
	}
	if data.URL != "" {
		streams, err := DecodeStreams(string(data.URL))
		if err != nil {
			h.logger.Warn("stream list undecodable", logging.String("site_url", siteURL), logging.Error(err))
		} else {
			info.Qualities = streams.Order
		}
	}
	return info, nil
}

type hdrezkaLoader struct {
	site    *HDrezka
	item    queue.LoadItem
	config  queue.LoadConfig
	details queue.UrlDetails
	logger  *slog.Logger

	data      *network.VideoData
	streams   Streams
	subtitles []SubtitleTrack
}

func (l *hdrezkaLoader) query() url.Values {
	query := url.Values{}
	query.Set("id", strconv.FormatInt(l.item.MovieID, 10))
	query.Set("translator_id", l.config.VoiceOver.ID)
	if l.item.IsSeries() {
		query.Set("season", l.item.Season.ID)
		query.Set("episode", l.item.Episode.ID)
		query.Set("favs", l.config.Favs)
		query.Set("action", "get_stream")
		return query
	}
	query.Set("is_camrip", flag(l.config.VoiceOver.IsCamrip))
	query.Set("is_ads", flag(l.config.VoiceOver.IsAds))
	query.Set("is_director", flag(l.config.VoiceOver.IsDirector))
	query.Set("favs", l.config.Favs)
	query.Set("action", "get_movie")
	return query
}

func flag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// ResolveMetadata fetches the stream data once, decodes the quality and
// subtitle lists and records them on the load item.
func (l *hdrezkaLoader) ResolveMetadata(ctx context.Context) (*network.VideoData, error) {
	if l.data != nil {
		return l.data, nil
	}
	data, err := l.site.fetcher.FetchVideoData(ctx, l.details.SiteURL, l.query())
	if err != nil {
		l.logger.Error("video data request failed", logging.Error(err))
		return nil, err
	}
	l.data = data
	if !data.Success {
		l.logger.Warn("site rejected video data request", logging.String("message", data.Message))
		return data, nil
	}

	if data.URL != "" {
		streams, err := DecodeStreams(string(data.URL))
		if err != nil {
			l.logger.Warn("stream list undecodable", logging.Error(err))
		}
		l.streams = streams
		l.item.AvailableQualities = streams.Order
	}
	if data.Subtitle != "" {
		l.subtitles = DecodeSubtitles(string(data.Subtitle), data.SubtitleLangs)
		langs := make([]string, 0, len(l.subtitles))
		for _, track := range l.subtitles {
			langs = append(langs, track.Lang)
		}
		l.item.AvailableSubtitles = langs
	}
	if l.site.store != nil && l.item.ID != 0 {
		if err := l.site.store.SetAvailability(ctx, l.item.ID, l.item.AvailableQualities, l.item.AvailableSubtitles); err != nil {
			l.logger.Warn("failed to record availability", logging.Error(err))
		}
	}
	return data, nil
}

// VideoURL picks a mirror of the configured quality. When that quality is
// missing or unreachable and quality reduction is enabled, the best lower
// quality with a reachable mirror is used instead.
func (l *hdrezkaLoader) VideoURL(ctx context.Context) (string, error) {
	data, err := l.ResolveMetadata(ctx)
	if err != nil {
		return "", err
	}
	if data == nil || data.URL == "" {
		return "", nil
	}
	downloads := l.site.cfg.Downloads
	if l.config.Subtitle != nil && downloads.ActionOnNoSubtitles == config.ActionSkip && len(l.subtitles) == 0 {
		l.logger.Info("subtitles unavailable; skipping video")
		return "", nil
	}

	siteURL := l.details.SiteURL
	if urls := l.streams.URLs[l.config.Quality]; l.streams.Has(l.config.Quality) {
		if item := l.site.fetcher.FirstAvailable(ctx, urls, siteURL); item.Size > 0 {
			return item.URL, nil
		}
		l.logger.Warn("requested quality unreachable", logging.String("quality", string(l.config.Quality)))
	}

	if downloads.ActionOnNoQuality != config.ActionReduceQuality {
		return "", nil
	}
	sizes := l.site.fetcher.QualitySizes(ctx, l.streams.URLs, siteURL)
	qualities := make([]queue.Quality, 0, len(sizes))
	for quality := range sizes {
		qualities = append(qualities, quality)
	}
	slices.SortFunc(qualities, func(a, b queue.Quality) int {
		return cmp.Compare(b.Weight(), a.Weight())
	})
	target := l.config.Quality.Weight()
	for _, quality := range qualities {
		if quality.Weight() > target {
			continue
		}
		if item := sizes[quality]; item.Size > 0 {
			l.logger.Info("quality reduced",
				logging.String("requested", string(l.config.Quality)),
				logging.String("selected", string(quality)),
			)
			return item.URL, nil
		}
	}
	l.logger.Warn("no reachable quality found")
	return "", nil
}

// SubtitleURL returns the URL of the configured subtitle language.
func (l *hdrezkaLoader) SubtitleURL(ctx context.Context) (string, error) {
	data, err := l.ResolveMetadata(ctx)
	if err != nil {
		return "", err
	}
	if data == nil || data.Subtitle == "" || l.config.Subtitle == nil {
		return "", nil
	}
	for _, track := range l.subtitles {
		if track.Lang == l.config.Subtitle.Lang {
			return track.URL, nil
		}
	}
	return "", nil
}

// FileName renders the configured template for fileType at the given time.
func (l *hdrezkaLoader) FileName(fileType queue.FileType, at time.Time) string {
	origTitle := textutil.CleanTitle(l.details.Title.Original)
	if origTitle == "" {
		origTitle = textutil.CleanTitle(l.details.Title.Localized)
	}
	local := at.Local()
	r := Replacements{
		TokenNumber:      strconv.Itoa(l.config.Position(l.item.ID)),
		TokenMovieID:     strconv.FormatInt(l.item.MovieID, 10),
		TokenTitle:       textutil.CleanTitle(l.details.Title.Localized),
		TokenOrigTitle:   origTitle,
		TokenTranslate:   l.config.VoiceOver.Title,
		TokenTranslateID: l.config.VoiceOver.ID,
		TokenQuality:     string(l.config.Quality),
		TokenDate:        local.Format("2006-01-02"),
		TokenTime:        local.Format("15-04-05"),
	}
	if l.item.Season != nil {
		r[TokenSeason] = l.item.Season.Title
		r[TokenSeasonID] = l.item.Season.ID
	}
	if l.item.Episode != nil {
		r[TokenEpisode] = l.item.Episode.Title
		r[TokenEpisodeID] = l.item.Episode.ID
	}
	if l.config.Subtitle != nil {
		r[TokenSubtitleCode] = l.config.Subtitle.Code
		r[TokenSubtitleLang] = l.config.Subtitle.Lang
	}
	return MakeFileName(l.site.cfg.Filenames, r, fileType)
}
