package siteloader

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"grabber/internal/queue"
)

// trashTokens are injected into the encoded stream list to break naive decoding.
var trashTokens = []string{
	"//_//QEBAQEAhIyMhXl5e",
	"//_//Xl5eIUAjIyEhIyM=",
	"//_//JCQhIUAkJEBeIUAjJCRA",
	"//_//IyMjI14hISMjIUBA",
	"//_//JCQjISFAIyFAIyM=",
}

var (
	streamLabel     = regexp.MustCompile(`^\[(.*?)\]`)
	streamSeparator = regexp.MustCompile(`\sor\s`)
	mp4URL          = regexp.MustCompile(`^https?://.*mp4$`)
	subtitleEntry   = regexp.MustCompile(`\[(.*)\](https?://.*\.vtt)`)
)

// ErrUndecodable reports a stream list that is not valid base64 after clean-up.
var ErrUndecodable = errors.New("undecodable stream list")

// Streams maps each quality to its mirror URLs. Order keeps the qualities
// in the order the site listed them.
type Streams struct {
	Order []queue.Quality
	URLs  map[queue.Quality][]string
}

// Has reports whether quality was listed.
func (s Streams) Has(quality queue.Quality) bool {
	_, ok := s.URLs[quality]
	return ok
}

// SubtitleTrack is one downloadable subtitle language.
type SubtitleTrack struct {
	Lang string `json:"lang"`
	Code string `json:"code"`
	URL  string `json:"url"`
}

func clearTrash(data string) (string, error) {
	for containsAny(data, trashTokens) {
		for _, token := range trashTokens {
			data = strings.ReplaceAll(data, token, "")
		}
	}
	data = strings.Replace(data, "#h", "", 1)
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrUndecodable, err)
		}
	}
	return string(decoded), nil
}

func containsAny(data string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(data, token) {
			return true
		}
	}
	return false
}

// DecodeStreams turns the obfuscated "url" field into per-quality mirror
// lists. Only direct mp4 links are kept.
func DecodeStreams(encoded string) (Streams, error) {
	streams := Streams{URLs: make(map[queue.Quality][]string)}
	if encoded == "" {
		return streams, nil
	}
	plain, err := clearTrash(encoded)
	if err != nil {
		return streams, err
	}
	for _, entry := range strings.Split(plain, ",") {
		match := streamLabel.FindStringSubmatch(entry)
		if match == nil {
			continue
		}
		quality := queue.Quality(match[1])
		var urls []string
		for _, candidate := range streamSeparator.Split(entry[len(match[0]):], -1) {
			if mp4URL.MatchString(candidate) {
				urls = append(urls, candidate)
			}
		}
		if !streams.Has(quality) {
			streams.Order = append(streams.Order, quality)
		}
		streams.URLs[quality] = urls
	}
	return streams, nil
}

// DecodeSubtitles parses the "[lang]url.vtt" list. langs maps languages to
// their codes.
func DecodeSubtitles(subtitle string, langs map[string]string) []SubtitleTrack {
	if subtitle == "" {
		return nil
	}
	var tracks []SubtitleTrack
	for _, entry := range strings.Split(subtitle, ",") {
		match := subtitleEntry.FindStringSubmatch(entry)
		if match == nil {
			continue
		}
		tracks = append(tracks, SubtitleTrack{Lang: match[1], URL: match[2], Code: langs[match[1]]})
	}
	return tracks
}
