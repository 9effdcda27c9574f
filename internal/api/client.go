package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"grabber/internal/downloads"
	"grabber/internal/messages"
	"grabber/internal/queue"
)

// ErrDaemonUnavailable reports that nothing answered at the API address.
var ErrDaemonUnavailable = errors.New("daemon unavailable")

// Error is a non-2xx reply from the daemon.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

// Client talks to a running daemon.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client for the daemon listening on bind, either a
// host:port pair or a full URL.
func NewClient(bind, token string) *Client {
	base := strings.TrimRight(strings.TrimSpace(bind), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Send posts one message and returns the daemon's reply. A reply with
// ok=false is returned together with an *Error.
func (c *Client) Send(ctx context.Context, req messages.Request) (MessageResponse, error) {
	env, err := messages.Encode(req)
	if err != nil {
		return MessageResponse{}, err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return MessageResponse{}, err
	}
	var resp MessageResponse
	status, err := c.do(ctx, http.MethodPost, "/api/messages", nil, bytes.NewReader(body), &resp)
	if err != nil {
		return resp, err
	}
	if !resp.OK {
		return resp, &Error{Status: status, Message: resp.Error}
	}
	return resp, nil
}

// Downloads lists load items, optionally filtered by status.
func (c *Client) Downloads(ctx context.Context, statuses ...queue.Status) ([]downloads.DownloadView, error) {
	query := url.Values{}
	for _, status := range statuses {
		query.Add("status", string(status))
	}
	var resp DownloadsResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/downloads", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Status fetches the daemon runtime and scheduler state.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	_, err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &resp)
	return resp, err
}

// LogQuery selects log events from the daemon stream.
type LogQuery struct {
	Since     uint64
	Limit     int
	Follow    bool
	Tail      bool
	LoadItem  int64
	Component string
}

// Logs reads log events from the daemon stream.
func (c *Client) Logs(ctx context.Context, q LogQuery) (LogStreamResponse, error) {
	query := url.Values{}
	if q.Since > 0 {
		query.Set("since", strconv.FormatUint(q.Since, 10))
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Follow {
		query.Set("follow", "1")
	}
	if q.Tail {
		query.Set("tail", "1")
	}
	if q.LoadItem != 0 {
		query.Set("item", strconv.FormatInt(q.LoadItem, 10))
	}
	if q.Component != "" {
		query.Set("component", q.Component)
	}
	var resp LogStreamResponse
	_, err := c.do(ctx, http.MethodGet, "/api/logs", query, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, dst any) (int, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w at %s: %w", ErrDaemonUnavailable, c.baseURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read %s response: %w", path, err)
	}
	if path == "/api/messages" && len(raw) > 0 {
		// Message failures keep the envelope shape.
		if err := json.Unmarshal(raw, dst); err == nil {
			return resp.StatusCode, nil
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr ErrorResponse
		if json.Unmarshal(raw, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(raw))
		}
		return resp.StatusCode, &Error{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s response: %w", path, err)
	}
	return resp.StatusCode, nil
}
