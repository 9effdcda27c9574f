package api

import (
	"encoding/json"
	"time"

	"grabber/internal/downloads"
	"grabber/internal/logging"
	"grabber/internal/messages"
)

// MessageResponse is the reply to POST /api/messages.
type MessageResponse struct {
	OK        bool             `json:"ok"`
	RequestID string           `json:"request_id,omitempty"`
	Command   messages.Command `json:"command,omitempty"`
	Result    json.RawMessage  `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// DecodeResult unmarshals the result payload into dst.
func (r MessageResponse) DecodeResult(dst any) error {
	if len(r.Result) == 0 {
		return nil
	}
	return json.Unmarshal(r.Result, dst)
}

// DownloadsResponse is the reply to GET /api/downloads.
type DownloadsResponse struct {
	Items []downloads.DownloadView `json:"items"`
}

// Runtime describes the daemon process.
type Runtime struct {
	Running     bool      `json:"running"`
	PID         int       `json:"pid"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	QueueDBPath string    `json:"queue_db_path"`
	CacheDBPath string    `json:"cache_db_path"`
	LockPath    string    `json:"lock_path"`
	DownloadDir string    `json:"download_dir"`
}

// StatusResponse is the reply to GET /api/status.
type StatusResponse struct {
	Runtime   Runtime              `json:"runtime"`
	Downloads downloads.StatusView `json:"downloads"`
}

// LogStreamResponse is the reply to GET /api/logs.
type LogStreamResponse struct {
	Events []logging.LogEvent `json:"events"`
	Next   uint64             `json:"next"`
}

// ErrorResponse is returned by every route on failure except /api/messages.
type ErrorResponse struct {
	Error string `json:"error"`
}
