package transfer

import (
	"context"
	"net/http"
	"time"
)

// State is the lifecycle of a transfer.
type State string

const (
	StateInProgress  State = "in_progress"
	StateInterrupted State = "interrupted"
	StateComplete    State = "complete"
)

// ErrorCode explains why a transfer was interrupted.
type ErrorCode string

const (
	ErrUserCanceled     ErrorCode = "USER_CANCELED"
	ErrNetworkFailed    ErrorCode = "NETWORK_FAILED"
	ErrServerBadContent ErrorCode = "SERVER_BAD_CONTENT"
	ErrFileFailed       ErrorCode = "FILE_FAILED"
)

// Request describes a file to fetch. FileName is relative to the download
// directory and may contain folders.
type Request struct {
	URL      string
	FileName string
	Owner    string
	Headers  http.Header
}

// Item is a snapshot of one transfer.
type Item struct {
	ID            int64     `json:"id"`
	URL           string    `json:"url"`
	FileName      string    `json:"file_name"`
	Owner         string    `json:"owner"`
	State         State     `json:"state"`
	Error         ErrorCode `json:"error,omitempty"`
	Paused        bool      `json:"paused"`
	BytesReceived int64     `json:"bytes_received"`
	TotalBytes    int64     `json:"total_bytes"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at,omitzero"`
}

// Query filters Search results. Zero fields match everything.
type Query struct {
	ID    int64
	State State
	Owner string
}

func (q Query) matches(item Item) bool {
	if q.ID != 0 && item.ID != q.ID {
		return false
	}
	if q.State != "" && item.State != q.State {
		return false
	}
	if q.Owner != "" && item.Owner != q.Owner {
		return false
	}
	return true
}

// EventType names a transfer state change.
type EventType string

const (
	EventCreated     EventType = "created"
	EventCompleted   EventType = "completed"
	EventInterrupted EventType = "interrupted"
	EventPaused      EventType = "paused"
	EventResumed     EventType = "resumed"
)

// Event reports a state change of transfer ID. Error is set for EventInterrupted.
type Event struct {
	Type  EventType
	ID    int64
	Error ErrorCode
}

// Host is the download primitive the orchestrator drives.
type Host interface {
	Download(ctx context.Context, req Request) (int64, error)
	Cancel(ctx context.Context, id int64) error
	Pause(ctx context.Context, id int64) error
	Resume(ctx context.Context, id int64) error
	Erase(ctx context.Context, id int64) error
	Search(ctx context.Context, query Query) ([]Item, error)
	Events() <-chan Event
}
