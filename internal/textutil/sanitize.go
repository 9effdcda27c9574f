package textutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// reservedNameRunes are rejected in file names on Windows.
const reservedNameRunes = `\/:*?"<>|`

// badSymbols drops reserved path characters and invisible format characters
// (left-to-right marks, zero-width spaces) that titles on the site carry,
// then composes what remains.
var badSymbols = transform.Chain(
	norm.NFD,
	runes.Remove(runes.Predicate(func(r rune) bool {
		return strings.ContainsRune(reservedNameRunes, r)
	})),
	runes.Remove(runes.In(unicode.Cf)),
	norm.NFC,
)

// RemoveBadSymbols strips characters that cannot appear in a file name.
func RemoveBadSymbols(value string) string {
	out, _, err := transform.String(badSymbols, value)
	if err != nil {
		return value
	}
	return out
}

// SanitizeFileName removes unsafe characters and surrounding whitespace.
func SanitizeFileName(name string) string {
	return strings.TrimSpace(RemoveBadSymbols(name))
}

// alternativeTitleSeparator matches the slash that separates alternative
// titles when at least one side of it is a space. A bare slash belongs to
// the title itself.
var alternativeTitleSeparator = regexp.MustCompile(`\s/|/\s`)

// CleanTitle keeps the first of several alternative titles ("Title / Alt")
// and turns slashes inside it into spaces.
func CleanTitle(title string) string {
	if title == "" {
		return ""
	}
	if loc := alternativeTitleSeparator.FindStringIndex(title); loc != nil {
		title = title[:loc[0]]
	}
	return SanitizeFileName(strings.ReplaceAll(title, "/", " "))
}

// ReplaceSpaces swaps every space for an underscore.
func ReplaceSpaces(value string) string {
	return strings.ReplaceAll(value, " ", "_")
}
