package queue

import (
	"slices"
	"strings"
	"time"
)

// SiteType identifies the site loader responsible for a load item.
type SiteType string

const SiteHDrezka SiteType = "hdrezka"

// Content selects which files a load item produces.
type Content string

const (
	ContentVideo    Content = "video"
	ContentSubtitle Content = "subtitle"
	ContentBoth     Content = "both"
)

// FileType distinguishes the two artifacts a load item can produce.
type FileType string

const (
	FileVideo    FileType = "video"
	FileSubtitle FileType = "subtitle"
)

// Other returns the opposite file type.
func (f FileType) Other() FileType {
	if f == FileVideo {
		return FileSubtitle
	}
	return FileVideo
}

// Status represents the lifecycle of a load item or file item.
type Status string

const (
	StatusCandidate       Status = "candidate"
	StatusInitiating      Status = "initiating"
	StatusDownloading     Status = "downloading"
	StatusPaused          Status = "paused"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusInitiationError Status = "initiation_error"
	StatusCancelled       Status = "cancelled"
)

// Phase is the coarse lifecycle stage a Status belongs to.
type Phase string

const (
	PhaseCandidate  Phase = "candidate"
	PhaseInProgress Phase = "in_progress"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
)

var allStatuses = []Status{
	StatusCandidate,
	StatusInitiating,
	StatusDownloading,
	StatusPaused,
	StatusCompleted,
	StatusFailed,
	StatusInitiationError,
	StatusCancelled,
}

var statusPhases = map[Status]Phase{
	StatusCandidate:       PhaseCandidate,
	StatusInitiating:      PhaseInProgress,
	StatusDownloading:     PhaseInProgress,
	StatusPaused:          PhaseInProgress,
	StatusCompleted:       PhaseCompleted,
	StatusFailed:          PhaseFailed,
	StatusInitiationError: PhaseFailed,
	StatusCancelled:       PhaseCancelled,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	return slices.Clone(allStatuses)
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusPhases[normalized]
	return normalized, ok
}

// Phase maps the status onto its lifecycle phase.
func (s Status) Phase() Phase {
	return statusPhases[s]
}

// IsTerminal reports whether no further work happens for the status.
func (s Status) IsTerminal() bool {
	switch s.Phase() {
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	default:
		return false
	}
}

// Quality is a stream quality label as the site reports it.
type Quality string

const (
	Quality360p       Quality = "360p"
	Quality480p       Quality = "480p"
	Quality720p       Quality = "720p"
	Quality1080p      Quality = "1080p"
	Quality1080pUltra Quality = "1080p Ultra"
	Quality2K         Quality = "2K"
	Quality4K         Quality = "4K"
)

var qualityOrder = []Quality{
	Quality360p,
	Quality480p,
	Quality720p,
	Quality1080p,
	Quality1080pUltra,
	Quality2K,
	Quality4K,
}

// Weight orders qualities from lowest to highest. Unknown labels weigh 0.
func (q Quality) Weight() int {
	return slices.Index(qualityOrder, q) + 1
}

// Qualities returns every known quality from lowest to highest.
func Qualities() []Quality {
	return slices.Clone(qualityOrder)
}

// Season identifies one season of a series.
type Season struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Episode identifies one episode of a season.
type Episode struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// LoadItem is one requested unit of content: a film or a single episode.
type LoadItem struct {
	ID                 int64     `json:"id"`
	SiteType           SiteType  `json:"site_type"`
	MovieID            int64     `json:"movie_id"`
	Season             *Season   `json:"season,omitempty"`
	Episode            *Episode  `json:"episode,omitempty"`
	Content            Content   `json:"content"`
	Status             Status    `json:"status"`
	AvailableQualities []Quality `json:"available_qualities"`
	AvailableSubtitles []string  `json:"available_subtitles"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// IsSeries reports whether the item targets an episode.
func (i LoadItem) IsSeries() bool {
	return i.Season != nil && i.Episode != nil
}

// VoiceOver is the translation track chosen for a download.
type VoiceOver struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	IsCamrip   bool   `json:"is_camrip"`
	IsAds      bool   `json:"is_ads"`
	IsDirector bool   `json:"is_director"`
}

// Subtitle is a subtitle language selection.
type Subtitle struct {
	Lang string `json:"lang"`
	Code string `json:"code"`
}

// LoadConfig holds the parameters shared by the load items of one trigger.
type LoadConfig struct {
	ID          int64     `json:"id"`
	VoiceOver   VoiceOver `json:"voice_over"`
	Quality     Quality   `json:"quality,omitempty"`
	Subtitle    *Subtitle `json:"subtitle,omitempty"`
	Favs        string    `json:"favs"`
	LoadItemIDs []int64   `json:"load_item_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

// Position returns the 1-based index of id within the config, or 0.
func (c LoadConfig) Position(id int64) int {
	return slices.Index(c.LoadItemIDs, id) + 1
}

// Wants reports whether the config requests the given file type.
func (c LoadConfig) Wants(fileType FileType) bool {
	if fileType == FileSubtitle {
		return c.Subtitle != nil
	}
	return c.Quality != ""
}

// FileItem is one concrete transfer derived from a load item.
type FileItem struct {
	ID                  int64     `json:"id"`
	FileType            FileType  `json:"file_type"`
	RelatedLoadItemID   int64     `json:"related_load_item_id"`
	DependentFileItemID *int64    `json:"dependent_file_item_id,omitempty"`
	DownloadID          *int64    `json:"download_id,omitempty"`
	FileName            string    `json:"file_name"`
	URL                 string    `json:"url,omitempty"`
	SaveAs              bool      `json:"save_as"`
	RetryAttempts       int       `json:"retry_attempts"`
	Status              Status    `json:"status"`
	CreatedAt           time.Time `json:"created_at"`
}

// HasURL reports whether the file resolved to a downloadable URL.
func (f FileItem) HasURL() bool {
	return strings.TrimSpace(f.URL) != ""
}

// FilmTitle carries the localized and original titles of a movie.
type FilmTitle struct {
	Localized string `json:"localized"`
	Original  string `json:"original,omitempty"`
}

// UrlDetails is per-movie metadata created on the first trigger and reused.
type UrlDetails struct {
	MovieID      int64     `json:"movie_id"`
	SiteURL      string    `json:"site_url"`
	Title        FilmTitle `json:"title"`
	LoadRegistry []int64   `json:"load_registry"`
}

// QueueGroup is one pending entry: a single load item or a series batch.
// A batch keeps its batch semantics while it drains.
type QueueGroup struct {
	Position    int64   `json:"position"`
	LoadItemIDs []int64 `json:"load_item_ids"`
	Batch       bool    `json:"batch"`
}

// NewDownload bundles the records created by a single trigger.
type NewDownload struct {
	Details UrlDetails
	Config  LoadConfig
	Items   []LoadItem
}
