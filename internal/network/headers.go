package network

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

// SiteHeaders returns the headers a browser on sourceURL would send when
// requesting target. Media requests (.mp4, .m3u8, .vtt) are cross-site and
// carry the site origin as referer; everything else is same-origin and
// refers to itself.
func SiteHeaders(target, sourceURL, userAgent string) http.Header {
	headers := make(http.Header)
	if userAgent != "" {
		headers.Set("User-Agent", userAgent)
	}

	targetURL, err := url.Parse(target)
	if err != nil {
		return headers
	}
	origin := originOf(targetURL)
	if source, err := url.Parse(sourceURL); err == nil && source.Host != "" {
		origin = originOf(source)
	}

	ext := strings.ToLower(path.Ext(targetURL.Path))
	media := ext == ".mp4" || ext == ".m3u8" || ext == ".vtt"

	if media {
		headers.Set("Referer", origin+"/")
		headers.Set("Sec-Fetch-Site", "cross-site")
	} else {
		headers.Set("Referer", targetURL.String())
		headers.Set("Sec-Fetch-Site", "same-origin")
	}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	if media && ext != ".vtt" {
		headers.Set("Sec-Fetch-Dest", "video")
	} else {
		headers.Set("Sec-Fetch-Dest", "empty")
	}
	return headers
}

// Origin returns scheme://host of rawURL, or an empty string when it does
// not parse as an absolute URL.
func Origin(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return ""
	}
	return originOf(parsed)
}

func originOf(u *url.URL) string {
	if u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
