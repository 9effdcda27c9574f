package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"grabber/internal/api"
	"grabber/internal/config"
	"grabber/internal/downloads"
	"grabber/internal/logging"
)

// Scheduler is the part of the download manager the daemon drives.
type Scheduler interface {
	api.Views
	Start(ctx context.Context)
	Wait()
	CheckState(ctx context.Context) (*downloads.RestorePrompt, error)
	Dispatch(ctx context.Context) error
}

// Deps holds what the daemon runs.
type Deps struct {
	Config    *config.Config
	Logger    *slog.Logger
	Scheduler Scheduler
	Messages  api.MessageDispatcher
	Logs      *logging.StreamHub
}

// Daemon owns the process lifetime and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	scheduler Scheduler
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt atomic.Pointer[time.Time]
	cancel    context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(deps Deps) (*Daemon, error) {
	if deps.Config == nil || deps.Scheduler == nil || deps.Messages == nil {
		return nil, errors.New("daemon requires config, scheduler, and message dispatcher")
	}
	logger := logging.NewComponentLogger(deps.Logger, "daemon")
	lockPath := deps.Config.LockPath()
	d := &Daemon{
		cfg:       deps.Config,
		logger:    logger,
		scheduler: deps.Scheduler,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}
	d.api = newAPIServer(deps.Config.Paths.APIBind, api.NewHandler(api.Deps{
		Messages: deps.Messages,
		Views:    deps.Scheduler,
		Runtime:  d.Runtime,
		Logs:     deps.Logs,
		Token:    deps.Config.Paths.APIToken,
		Logger:   deps.Logger,
	}), logger)
	return d, nil
}

// Start acquires the daemon lock, starts the scheduler, checks the persisted
// state against the transfer host and opens the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if d.startedAt.Load() != nil {
		return errors.New("daemon cannot be restarted")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another grabber daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.scheduler.Start(runCtx)

	prompt, err := d.scheduler.CheckState(runCtx)
	switch {
	case err != nil:
		logging.WarnWithContext(d.logger, "startup state check failed", "startup_check_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect the queue database and the download directory"),
		)
	case prompt == nil:
		if err := d.scheduler.Dispatch(runCtx); err != nil {
			d.logger.Warn("resume pending queue", logging.Error(err))
		}
	default:
		d.logger.Info("waiting for restore decision",
			logging.Int("broken", len(prompt.Report.Broken)),
			logging.Int("orphans", len(prompt.Report.Orphans)),
		)
	}

	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.scheduler.Wait()
		if unlockErr := d.lock.Unlock(); unlockErr != nil {
			d.logger.Debug("daemon lock not released", logging.Error(unlockErr))
		}
		return err
	}

	now := time.Now().UTC()
	d.startedAt.Store(&now)
	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("grabber daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
	)
	return nil
}

// Stop closes the API, drains the scheduler and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.scheduler.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("grabber daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.lock.Close()
}

// Address returns the address the API listens on, or "" before Start.
func (d *Daemon) Address() string {
	return d.api.address()
}

// Runtime describes the daemon process for the status route.
func (d *Daemon) Runtime() api.Runtime {
	rt := api.Runtime{
		Running:     d.running.Load(),
		PID:         os.Getpid(),
		QueueDBPath: d.cfg.QueueDBPath(),
		CacheDBPath: d.cfg.CacheDBPath(),
		LockPath:    d.lockPath,
		DownloadDir: d.cfg.Paths.DownloadDir,
	}
	if started := d.startedAt.Load(); started != nil && rt.Running {
		rt.StartedAt = *started
	}
	return rt
}
