package siteloader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"grabber/internal/queue"
	"grabber/internal/services"
)

// Initiator is the request that starts a download of a film or a range of
// episodes.
type Initiator struct {
	MovieID   string          `json:"movieId"`
	SiteType  queue.SiteType  `json:"site_type"`
	SiteURL   string          `json:"site_url"`
	FilmName  queue.FilmTitle `json:"film_name"`
	VoiceOver queue.VoiceOver `json:"voice_over"`
	Quality   queue.Quality   `json:"quality,omitempty"`
	Subtitle  *queue.Subtitle `json:"subtitle"`
	Favs      string          `json:"favs"`
	Range     Seasons         `json:"range,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// Validate checks that the initiator names a movie, a page and something to download.
func (i Initiator) Validate() error {
	if _, err := i.ParsedMovieID(); err != nil {
		return err
	}
	if i.SiteType == "" {
		return services.Wrap(services.ErrValidation, "siteloader", "initiator", "site_type is required", nil)
	}
	parsed, err := url.Parse(i.SiteURL)
	if err != nil || parsed.Host == "" {
		return services.Wrap(services.ErrValidation, "siteloader", "initiator", fmt.Sprintf("invalid site_url %q", i.SiteURL), err)
	}
	if strings.TrimSpace(i.VoiceOver.ID) == "" {
		return services.Wrap(services.ErrValidation, "siteloader", "initiator", "voice_over.id is required", nil)
	}
	if i.Quality == "" && i.Subtitle == nil {
		return services.Wrap(services.ErrValidation, "siteloader", "initiator", "quality or subtitle is required", nil)
	}
	if strings.TrimSpace(i.FilmName.Localized) == "" {
		return services.Wrap(services.ErrValidation, "siteloader", "initiator", "film_name.localized is required", nil)
	}
	return nil
}

// ParsedMovieID returns the numeric movie id.
func (i Initiator) ParsedMovieID() (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(i.MovieID), 10, 64)
	if err != nil || id <= 0 {
		return 0, services.Wrap(services.ErrValidation, "siteloader", "initiator", fmt.Sprintf("invalid movieId %q", i.MovieID), nil)
	}
	return id, nil
}

// CreatedAt returns the trigger time carried in Timestamp (unix ms), or now.
func (i Initiator) CreatedAt(now time.Time) time.Time {
	ms, err := strconv.ParseInt(strings.TrimSpace(i.Timestamp), 10, 64)
	if err != nil || ms <= 0 {
		return now
	}
	return time.UnixMilli(ms)
}

// SeasonEntry is one season with its episodes.
type SeasonEntry struct {
	ID       string          `json:"-"`
	Title    string          `json:"title"`
	Episodes []queue.Episode `json:"episodes"`
}

// Seasons is an ordered season list. On the wire it is an object keyed by
// season id whose key order is significant.
type Seasons []SeasonEntry

// EpisodeCount returns the number of episodes across all seasons.
func (s Seasons) EpisodeCount() int {
	total := 0
	for _, season := range s {
		total += len(season.Episodes)
	}
	return total
}

func (s Seasons) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, season := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(season.ID)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(season)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *Seasons) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("seasons: expected object, got %v", tok)
	}
	var out Seasons
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("seasons: unexpected key %v", keyTok)
		}
		var entry SeasonEntry
		if err := dec.Decode(&entry); err != nil {
			return fmt.Errorf("seasons: season %s: %w", key, err)
		}
		entry.ID = key
		out = append(out, entry)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}
