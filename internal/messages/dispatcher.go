package messages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"grabber/internal/alarms"
	"grabber/internal/downloads"
	"grabber/internal/logging"
	"grabber/internal/queue"
	"grabber/internal/services"
	"grabber/internal/siteloader"
)

// Downloads is the orchestrator surface the dispatcher drives.
type Downloads interface {
	Trigger(ctx context.Context, initiator siteloader.Initiator) (downloads.TriggerResult, error)
	Stabilize(ctx context.Context, permission bool) (downloads.StabilizeResult, error)
	CancelAll(ctx context.Context) ([]int64, error)
	ExecuteRetry(ctx context.Context, loadItemID, fileID int64) error
	DiscardRestorePrompt()
	Pause(ctx context.Context, loadItemID int64) (downloads.PauseResult, error)
	Resume(ctx context.Context, loadItemID int64) (downloads.PauseResult, error)
}

// VideoInfoSource resolves page metadata for updateVideoInfo.
type VideoInfoSource interface {
	Factory(site queue.SiteType) (siteloader.Factory, error)
}

type (
	cacheClearer  interface{ Clear() error }
	fetchAborter  interface{ AbortAll() }
	alarmCanceler interface{ ClearAll() }
	storeResetter interface {
		Reset(ctx context.Context) error
	}
	lockCanceler interface{ CancelAll() }
)

// Deps holds the components messages act on.
type Deps struct {
	Downloads      Downloads
	Loaders        VideoInfoSource
	Cache          cacheClearer
	InFlight       fetchAborter
	Alarms         alarmCanceler
	Store          storeResetter
	Locks          lockCanceler
	TeardownSettle time.Duration
	Logger         *slog.Logger
}

// Result is the answer to one message.
type Result struct {
	RequestID string  `json:"request_id"`
	Command   Command `json:"command"`
	Data      any     `json:"data,omitempty"`
}

// TeardownResult reports what deleteExtensionData removed.
type TeardownResult struct {
	Cancelled []int64 `json:"cancelled,omitempty"`
}

// Dispatcher routes decoded requests to the components that serve them.
type Dispatcher struct {
	deps        Deps
	logger      *slog.Logger
	tearingDown atomic.Bool
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewDispatcher builds a dispatcher over deps.
func NewDispatcher(deps Deps) *Dispatcher {
	return &Dispatcher{
		deps:   deps,
		logger: logging.NewComponentLogger(deps.Logger, "messages"),
		sleep:  sleepContext,
	}
}

// Dispatch runs one request. Messages are refused while a teardown runs.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	requestID := uuid.NewString()
	ctx = services.WithRequestID(ctx, requestID)
	result := Result{RequestID: requestID, Command: req.Command()}
	logger := logging.WithContext(ctx, d.logger).With(logging.String("command", string(req.Command())))

	if d.tearingDown.Load() {
		return result, services.Wrap(services.ErrConflict, "messages", string(req.Command()), "data deletion in progress", nil)
	}

	logger.Debug("message received")
	var (
		data any
		err  error
	)
	switch r := req.(type) {
	case TriggerRequest:
		data, err = d.deps.Downloads.Trigger(ctx, r.Initiator)
	case UpdateVideoInfoRequest:
		data, err = d.updateVideoInfo(ctx, r)
	case RestoreStateRequest:
		data, err = d.deps.Downloads.Stabilize(ctx, r.Permission)
	case ClearCacheRequest:
		err = d.deps.Cache.Clear()
	case StopAllDownloadsRequest:
		var cancelled []int64
		cancelled, err = d.deps.Downloads.CancelAll(ctx)
		data = map[string][]int64{"cancelled": cancelled}
	case DeleteExtensionDataRequest:
		data, err = d.teardown(ctx, logger)
	case PauseDownloadRequest:
		data, err = d.deps.Downloads.Pause(ctx, r.LoadItemID)
	case ResumeDownloadRequest:
		data, err = d.deps.Downloads.Resume(ctx, r.LoadItemID)
	default:
		err = services.Wrap(services.ErrValidation, "messages", "dispatch", fmt.Sprintf("command %q", req.Command()), ErrUnknownCommand)
	}
	result.Data = data
	if err != nil {
		logger.Warn("message failed", logging.Error(err))
		return result, err
	}
	logger.Info("message handled")
	return result, nil
}

func (d *Dispatcher) updateVideoInfo(ctx context.Context, req UpdateVideoInfoRequest) (*siteloader.VideoInfo, error) {
	factory, err := d.deps.Loaders.Factory(req.SiteType)
	if err != nil {
		return nil, err
	}
	return factory.UpdateVideoInfo(ctx, req.SiteURL, req.MovieData)
}

// teardown stops all work and wipes persisted and cached state. The settle
// delay lets in-flight handlers observe their cancellation before the store
// is reset under them.
func (d *Dispatcher) teardown(ctx context.Context, logger *slog.Logger) (TeardownResult, error) {
	if !d.tearingDown.CompareAndSwap(false, true) {
		return TeardownResult{}, services.Wrap(services.ErrConflict, "messages", "teardown", "already running", nil)
	}
	defer d.tearingDown.Store(false)

	var (
		result TeardownResult
		errs   []error
	)
	cancelled, err := d.deps.Downloads.CancelAll(ctx)
	result.Cancelled = cancelled
	if err != nil {
		errs = append(errs, fmt.Errorf("cancel downloads: %w", err))
	}
	d.deps.InFlight.AbortAll()
	d.deps.Alarms.ClearAll()
	if err := d.sleep(ctx, d.deps.TeardownSettle); err != nil {
		return result, err
	}
	if err := d.deps.Store.Reset(ctx); err != nil {
		errs = append(errs, fmt.Errorf("reset store: %w", err))
	}
	if err := d.deps.Cache.Clear(); err != nil {
		errs = append(errs, fmt.Errorf("clear cache: %w", err))
	}
	d.deps.Locks.CancelAll()
	d.deps.Downloads.DiscardRestorePrompt()

	logger.Info("extension data deleted", logging.Int("cancelled", len(cancelled)))
	return result, errors.Join(errs...)
}

// HandleAlarm runs the retry a fired alarm names. Unknown names are logged
// and dropped.
func (d *Dispatcher) HandleAlarm(ctx context.Context, name string) {
	logger := d.logger.With(logging.String("alarm", name))
	if d.tearingDown.Load() {
		logger.Debug("alarm dropped during data deletion")
		return
	}
	loadItemID, fileID, ok := alarms.ParseRetryAlarm(name)
	if !ok {
		logger.Warn("unknown alarm ignored")
		return
	}
	ctx = services.WithRequestID(ctx, uuid.NewString())
	if err := d.deps.Downloads.ExecuteRetry(ctx, loadItemID, fileID); err != nil && ctx.Err() == nil {
		logging.WarnWithContext(logging.WithContext(ctx, logger), "retry failed", "retry_failed",
			logging.Int64(logging.FieldLoadItemID, loadItemID),
			logging.Int64(logging.FieldFileItemID, fileID),
			logging.Error(err),
		)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
