package resourcelock

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"grabber/internal/logging"
)

// Lock priorities used across the daemon.
const (
	DefaultPriority = 1
	CancelPriority  = 1000
)

// ResourceType names a family of lockable resources.
type ResourceType string

const (
	ResourceMovie    ResourceType = "movie"
	ResourceLoadItem ResourceType = "load_item"
)

// Target identifies one lockable resource.
type Target struct {
	Type ResourceType
	ID   int64
}

// Key returns the registry key "type:id".
func (t Target) Key() string {
	return fmt.Sprintf("%s:%d", t.Type, t.ID)
}

// Registry hands out one SoftLockMutex per Target. Mutexes are created on
// first use and live as long as the registry.
type Registry struct {
	mu     sync.Mutex
	locks  map[string]*SoftLockMutex
	logger *slog.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		locks:  make(map[string]*SoftLockMutex),
		logger: logging.NewComponentLogger(logger, "resourcelock"),
	}
}

func (r *Registry) mutex(target Target) *SoftLockMutex {
	key := target.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[key]
	if !ok {
		m = NewSoftLockMutex()
		r.locks[key] = m
	}
	return m
}

// Lock acquires the target's mutex.
func (r *Registry) Lock(ctx context.Context, target Target, priority int) (Releaser, error) {
	r.logger.Debug("lock requested",
		logging.String("resource", target.Key()),
		logging.Int("priority", priority),
	)
	release, err := r.mutex(target).Acquire(ctx, priority)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", target.Key(), err)
	}
	return release, nil
}

// Unlock releases the target's mutex without a Releaser. While the mutex is
// soft-locked only the sub-task slot is freed.
func (r *Registry) Unlock(target Target) {
	r.logger.Debug("unlock", logging.String("resource", target.Key()))
	r.mutex(target).Release()
}

// Run executes fn while holding the target's lock and releases it on every
// exit path.
func (r *Registry) Run(ctx context.Context, target Target, priority int, fn func(context.Context) error) error {
	release, err := r.Lock(ctx, target, priority)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// MarkAsSoftLock marks the target's current holder as preemptible.
func (r *Registry) MarkAsSoftLock(target Target) (*SoftReleaser, error) {
	releaser, err := r.mutex(target).MarkAsSoftLock()
	if err != nil {
		return nil, fmt.Errorf("soft lock %s: %w", target.Key(), err)
	}
	return releaser, nil
}

// IsLocked reports whether the target is currently held.
func (r *Registry) IsLocked(target Target) bool {
	return r.mutex(target).IsLocked()
}

// MassLock locks every id of one type. Ids are de-duplicated and taken in
// ascending order so overlapping mass locks cannot deadlock each other. On
// failure the locks already taken are released. The returned Releaser frees
// all of them.
func (r *Registry) MassLock(ctx context.Context, typ ResourceType, ids []int64, priority int) (Releaser, error) {
	ordered := slices.Clone(ids)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	releasers := make([]Releaser, 0, len(ordered))
	releaseAll := func() {
		for i := len(releasers) - 1; i >= 0; i-- {
			releasers[i]()
		}
	}
	for _, id := range ordered {
		release, err := r.Lock(ctx, Target{Type: typ, ID: id}, priority)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releasers = append(releasers, release)
	}
	return onceReleaser(releaseAll), nil
}

// MassUnlock releases every id of one type without Releasers.
func (r *Registry) MassUnlock(typ ResourceType, ids []int64) {
	ordered := slices.Clone(ids)
	slices.Sort(ordered)
	for _, id := range slices.Compact(ordered) {
		r.Unlock(Target{Type: typ, ID: id})
	}
}

// CancelAll cancels every known mutex. Used during teardown only.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	locks := make([]*SoftLockMutex, 0, len(r.locks))
	for _, m := range r.locks {
		locks = append(locks, m)
	}
	r.mu.Unlock()
	for _, m := range locks {
		m.Cancel()
	}
	r.logger.Info("all resource locks cancelled", logging.Int("count", len(locks)))
}

// Len reports how many mutexes the registry has created.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
