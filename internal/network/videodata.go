package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"grabber/internal/cache"
	"grabber/internal/logging"
	"grabber/internal/services"
)

// LooseString decodes a JSON string, treating false and null as empty.
type LooseString string

func (s *LooseString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("false")) || bytes.Equal(trimmed, []byte("null")) {
		*s = ""
		return nil
	}
	var value string
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return err
	}
	*s = LooseString(value)
	return nil
}

// LooseMap decodes a JSON object of strings, treating false and null as empty.
type LooseMap map[string]string

func (m *LooseMap) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("false")) || bytes.Equal(trimmed, []byte("null")) {
		*m = nil
		return nil
	}
	var value map[string]string
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return err
	}
	*m = value
	return nil
}

// VideoData is the site's answer to a stream lookup. URL holds the encoded
// stream list and Subtitle the "[lang]url" subtitle list. Seasons and
// Episodes carry HTML fragments for series.
type VideoData struct {
	Success       bool        `json:"success"`
	Message       string      `json:"message,omitempty"`
	URL           LooseString `json:"url"`
	Quality       string      `json:"quality,omitempty"`
	Subtitle      LooseString `json:"subtitle"`
	SubtitleDef   LooseString `json:"subtitle_def"`
	SubtitleLangs LooseMap    `json:"subtitle_lns"`
	Seasons       LooseString `json:"seasons,omitempty"`
	Episodes      LooseString `json:"episodes,omitempty"`
}

const videoDataPath = "/ajax/get_cdn_series/"

// FetchVideoData posts query to the site's stream endpoint. Successful
// answers are cached under siteURL and the encoded body; a cached failure is
// fetched again.
func (c *Client) FetchVideoData(ctx context.Context, siteURL string, query url.Values) (*VideoData, error) {
	origin := Origin(siteURL)
	if origin == "" {
		return nil, services.Wrap(services.ErrValidation, "network", "video data", fmt.Sprintf("invalid site url %q", siteURL), nil)
	}
	body := query.Encode()
	key := siteURL + "-" + body

	if c.cache != nil {
		cached, ok, err := cache.GetJSON[VideoData](c.cache, key)
		if err != nil {
			c.logger.Debug("read video data cache failed", logging.String("site_url", siteURL), logging.Error(err))
		}
		if ok && cached.Success {
			return &cached, nil
		}
	}

	data, err := doShared(ctx, c.inflight, key, func(ctx context.Context) (*VideoData, error) {
		return c.fetchVideoData(ctx, origin, siteURL, body)
	})
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if err := cache.SetJSON(c.cache, key, *data); err != nil {
			c.logger.Debug("cache video data failed", logging.String("site_url", siteURL), logging.Error(err))
		}
	}
	copied := *data
	return &copied, nil
}

func (c *Client) fetchVideoData(ctx context.Context, origin, siteURL, body string) (*VideoData, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	endpoint := origin + videoDataPath + "?t=" + strconv.FormatInt(c.now().UnixMilli(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "network", "video data", endpoint, err)
	}
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")

	resp, err := c.do(req, siteURL)
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("video data", endpoint, resp)
	}

	var data VideoData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, services.Wrap(services.ErrExternal, "network", "video data", "decode response", err)
	}
	c.logger.Debug("video data received",
		logging.String("site_url", siteURL),
		logging.Bool("success", data.Success),
		logging.String("message", data.Message),
	)
	return &data, nil
}
