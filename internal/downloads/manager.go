package downloads

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"grabber/internal/config"
	"grabber/internal/logging"
	"grabber/internal/notifications"
	"grabber/internal/queue"
	"grabber/internal/resourcelock"
	"grabber/internal/services"
	"grabber/internal/siteloader"
	"grabber/internal/transfer"
)

// DefaultOwner tags the transfers this daemon starts.
const DefaultOwner = "grabber"

// AlarmScheduler arms the retry timers.
type AlarmScheduler interface {
	Schedule(name string, delay time.Duration) error
	Clear(name string) bool
	ClearAll()
}

// Deps holds everything the manager drives.
type Deps struct {
	Store    *queue.Store
	Locks    *resourcelock.Registry
	Loaders  *siteloader.Registry
	Host     transfer.Host
	Alarms   AlarmScheduler
	Notifier notifications.Service
	Config   *config.Config
	Logger   *slog.Logger
	Owner    string
}

// Manager moves load items from the pending queue through URL resolution and
// transfer to a terminal status, retrying failed files and reacting to the
// transfer host's events. Every change to a load item and its files happens
// under that load item's resource lock.
type Manager struct {
	store      *queue.Store
	locks      *resourcelock.Registry
	loaders    *siteloader.Registry
	host       transfer.Host
	alarms     AlarmScheduler
	notifier   notifications.Service
	cfg        *config.Config
	logger     *slog.Logger
	owner      string
	reconciler *Reconciler
	now        func() time.Time

	dispatchMu  *resourcelock.PriorityMutex
	kickPending atomic.Bool
	// launchMu covers Host.Download plus persisting the returned id, so an
	// event for a fresh transfer always finds its file item.
	launchMu sync.Mutex

	mu     sync.Mutex
	base   context.Context
	prompt *RestorePrompt

	tasks sync.WaitGroup
	loop  sync.WaitGroup
}

// NewManager wires a manager from deps. Notifier defaults to a no-op.
func NewManager(deps Deps) *Manager {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(&config.Config{})
	}
	owner := deps.Owner
	if owner == "" {
		owner = DefaultOwner
	}
	logger := logging.NewComponentLogger(deps.Logger, "downloads")
	return &Manager{
		store:      deps.Store,
		locks:      deps.Locks,
		loaders:    deps.Loaders,
		host:       deps.Host,
		alarms:     deps.Alarms,
		notifier:   notifier,
		cfg:        deps.Config,
		logger:     logger,
		owner:      owner,
		reconciler: NewReconciler(deps.Store, deps.Host, owner, logger),
		now:        time.Now,
		dispatchMu: resourcelock.NewPriorityMutex(),
		base:       context.Background(),
	}
}

// Start consumes host events until ctx ends and uses ctx for background work.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.base = ctx
	m.mu.Unlock()

	m.loop.Add(1)
	go func() {
		defer m.loop.Done()
		events := m.host.Events()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := m.HandleEvent(ctx, ev); err != nil {
					m.logger.Warn("transfer event handling failed",
						logging.Int64(logging.FieldDownloadID, ev.ID),
						logging.String(logging.FieldEventType, string(ev.Type)),
						logging.Error(err),
					)
				}
			}
		}
	}()
}

// Wait blocks until the event loop has stopped and background work drained.
func (m *Manager) Wait() {
	m.loop.Wait()
	m.tasks.Wait()
}

// Idle blocks until background dispatch and notification work has drained.
func (m *Manager) Idle() {
	m.tasks.Wait()
}

func (m *Manager) baseContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.base
}

func (m *Manager) background(fn func(ctx context.Context)) {
	m.tasks.Add(1)
	go func() {
		defer m.tasks.Done()
		fn(m.baseContext())
	}()
}

// kick schedules a dispatch pass. Kicks that arrive while one is still
// waiting for the dispatch lock fold into it.
func (m *Manager) kick() {
	if !m.kickPending.CompareAndSwap(false, true) {
		return
	}
	m.background(func(ctx context.Context) {
		if err := m.Dispatch(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("dispatch failed", logging.Error(err))
		}
	})
}

func (m *Manager) itemLogger(ctx context.Context, loadItemID int64) *slog.Logger {
	return logging.WithContext(services.WithLoadItemID(ctx, loadItemID), m.logger)
}

func loadItemTarget(id int64) resourcelock.Target {
	return resourcelock.Target{Type: resourcelock.ResourceLoadItem, ID: id}
}

func movieTarget(id int64) resourcelock.Target {
	return resourcelock.Target{Type: resourcelock.ResourceMovie, ID: id}
}

// notify runs a notification in the background and logs its failure.
func (m *Manager) notify(label string, send func(ctx context.Context, svc notifications.Service) error) {
	m.background(func(ctx context.Context) {
		if err := send(ctx, m.notifier); err != nil {
			m.logger.Warn("notification failed",
				logging.String("notification", label),
				logging.Error(err),
				logging.String(logging.FieldImpact, "user was not notified"),
			)
		}
	})
}

func (m *Manager) movieTitle(ctx context.Context, movieID int64) string {
	details, err := m.store.URLDetails(ctx, movieID)
	if err != nil || details == nil {
		return ""
	}
	return details.Title.Localized
}
