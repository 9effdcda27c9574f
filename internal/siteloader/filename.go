package siteloader

import (
	"regexp"
	"strings"

	"grabber/internal/config"
	"grabber/internal/queue"
	"grabber/internal/textutil"
)

// Template tokens understood by MakeFileName.
const (
	TokenNumber       = "%n%"
	TokenMovieID      = "%movie_id%"
	TokenTitle        = "%title%"
	TokenOrigTitle    = "%orig_title%"
	TokenTranslate    = "%translate%"
	TokenTranslateID  = "%translate_id%"
	TokenEpisode      = "%episode%"
	TokenEpisodeID    = "%episode_id%"
	TokenSeason       = "%season%"
	TokenSeasonID     = "%season_id%"
	TokenQuality      = "%quality%"
	TokenSubtitleCode = "%subtitle_code%"
	TokenSubtitleLang = "%subtitle_lang%"
	TokenDate         = "%data%"
	TokenTime         = "%time%"
)

// ExtensionFolder groups every download when folders are enabled.
const ExtensionFolder = "HDrezkaGrabber/"

var tokenPattern = regexp.MustCompile(`^%.+%$`)

// Replacements holds the values substituted for template tokens. Missing
// tokens render empty.
type Replacements map[string]string

// MakeFileName renders the film or series template (series when a season is
// present) into a relative path: optional folders, the cleaned name and the
// extension of fileType.
func MakeFileName(opts config.Filenames, r Replacements, fileType queue.FileType) string {
	series := r[TokenSeason] != ""
	template := opts.FilmTemplate
	if series {
		template = opts.SeriesTemplate
	}

	var b strings.Builder
	for _, part := range template {
		if tokenPattern.MatchString(part) {
			b.WriteString(r[part])
			continue
		}
		b.WriteString(part)
	}
	name := strings.ReplaceAll(b.String(), "%", " ")
	name = textutil.SanitizeFileName(name)
	if opts.ReplaceAllSpaces {
		name = textutil.ReplaceSpaces(name)
	}
	if name == "" {
		name = "file"
	}

	extension := ".mp4"
	if fileType == queue.FileSubtitle {
		extension = ".vtt"
	}

	var folder string
	if opts.CreateExtensionFolder {
		folder = ExtensionFolder
	}
	if series && opts.CreateSeriesFolder {
		if title := r[TokenOrigTitle]; title != "" {
			folder += title + "/"
		}
	}
	return folder + name + extension
}
