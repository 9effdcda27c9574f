package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"grabber/internal/alarms"
	"grabber/internal/cache"
	"grabber/internal/config"
	"grabber/internal/daemon"
	"grabber/internal/downloads"
	"grabber/internal/logging"
	"grabber/internal/messages"
	"grabber/internal/network"
	"grabber/internal/notifications"
	"grabber/internal/preflight"
	"grabber/internal/queue"
	"grabber/internal/resourcelock"
	"grabber/internal/siteloader"
	"grabber/internal/transfer"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the grabber daemon and blocks until the process is signalled
// or cmdCtx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logHub := logging.NewStreamHub(4096)
	logger, logPath, err := newLogger(cfg, opts, logHub)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String("session_id", uuid.NewString()))
	if logPath != "" {
		if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to update grabber.log link: %v\n", err)
		}
		logging.PruneLogs(logger, cfg.Paths.LogDir, "grabber-*.log", cfg.Logging.RetentionDays, logPath)
	}

	for _, result := range preflight.Failed(preflight.RunAll(signalCtx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
		)
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	cacheStore, err := cache.Open(cfg)
	if err != nil {
		logger.Error("open response cache", logging.Error(err))
		return err
	}
	defer cacheStore.Close()

	client := network.NewClient(cfg, cacheStore, logger)
	loaders := siteloader.NewRegistry()
	loaders.Register(queue.SiteHDrezka, siteloader.NewHDrezka(client, store, cfg, logger))

	highest, err := store.MaxDownloadID(signalCtx)
	if err != nil {
		return fmt.Errorf("read transfer ids: %w", err)
	}
	engine := transfer.NewEngine(cfg, logger, transfer.WithFirstID(highest+1))
	defer engine.Close()

	locks := resourcelock.NewRegistry(logger)
	var dispatcher *messages.Dispatcher
	scheduler := alarms.NewScheduler(func(ctx context.Context, name string) {
		dispatcher.HandleAlarm(ctx, name)
	}, logger, alarms.WithContext(signalCtx))
	defer scheduler.ClearAll()

	manager := downloads.NewManager(downloads.Deps{
		Store:    store,
		Locks:    locks,
		Loaders:  loaders,
		Host:     engine,
		Alarms:   scheduler,
		Notifier: notifications.NewService(cfg),
		Config:   cfg,
		Logger:   logger,
	})
	dispatcher = messages.NewDispatcher(messages.Deps{
		Downloads:      manager,
		Loaders:        loaders,
		Cache:          cacheStore,
		InFlight:       client.InFlight(),
		Alarms:         scheduler,
		Store:          store,
		Locks:          locks,
		TeardownSettle: cfg.TeardownSettle(),
		Logger:         logger,
	})

	d, err := daemon.New(daemon.Deps{
		Config:    cfg,
		Logger:    logger,
		Scheduler: manager,
		Messages:  dispatcher,
		Logs:      logHub,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check for another running daemon and the api_bind address"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("grabber daemon shutting down")
	locks.CancelAll()
	return nil
}

func newLogger(cfg *config.Config, opts Options, hub *logging.StreamHub) (*slog.Logger, string, error) {
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	outputs := []string{"stdout"}
	var logPath string
	if cfg.Paths.LogDir != "" {
		runID := time.Now().UTC().Format("20060102T150405.000Z")
		logPath = filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("grabber-%s.log", runID))
		outputs = append(outputs, logPath)
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
		Development: opts.Development,
		Stream:      hub,
	})
	return logger, logPath, err
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "grabber.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// ReadPID returns the process id a running daemon recorded, or 0.
func ReadPID(cfg *config.Config) int {
	data, err := os.ReadFile(cfg.PIDPath())
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
