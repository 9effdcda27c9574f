package resourcelock

import (
	"context"
	"errors"
)

var (
	// ErrCanceled is returned to every waiter drained by Cancel.
	ErrCanceled = errors.New("resourcelock: task canceled")
	// ErrNotLocked is returned when soft-locking a mutex nobody holds.
	ErrNotLocked = errors.New("resourcelock: mutex is not locked")
	// ErrAlreadySoftLocked is returned when soft-locking twice.
	ErrAlreadySoftLocked = errors.New("resourcelock: mutex is already soft-locked")
	// ErrSoftReleaserReused is returned when a soft releaser is resumed twice.
	ErrSoftReleaserReused = errors.New("resourcelock: soft releaser already used")
)

// PriorityMutex is an exclusive lock whose waiters are served by priority,
// highest first, and by arrival order within the same priority.
// The zero value is an unlocked mutex.
type PriorityMutex struct {
	core
	gen uint64
}

// NewPriorityMutex returns an unlocked mutex.
func NewPriorityMutex() *PriorityMutex {
	return &PriorityMutex{}
}

// Acquire blocks until the lock is granted, the mutex is cancelled, or ctx
// ends. A cancelled context removes the caller from the queue.
func (m *PriorityMutex) Acquire(ctx context.Context, priority int) (Releaser, error) {
	return m.acquire(ctx, priority, m.dispatchLocked)
}

// RunExclusive runs fn while holding the lock. The lock is released on every
// exit path of fn, panics included.
func (m *PriorityMutex) RunExclusive(ctx context.Context, priority int, fn func(context.Context) error) error {
	release, err := m.Acquire(ctx, priority)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// Release unlocks the mutex and hands it to the next waiter, if any, before
// returning.
func (m *PriorityMutex) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked()
}

// Cancel fails every queued waiter with ErrCanceled and force-unlocks.
// Releasers handed out before the call become no-ops.
func (m *PriorityMutex) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAllLocked(ErrCanceled)
	m.locked = false
	m.currentPriority = 0
	m.gen++
}

func (m *PriorityMutex) releaseLocked() {
	m.locked = false
	m.currentPriority = 0
	m.dispatchLocked()
}

func (m *PriorityMutex) releaseGen(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || !m.locked {
		return
	}
	m.releaseLocked()
}

func (m *PriorityMutex) dispatchLocked() {
	if m.locked {
		return
	}
	next := m.popLocked()
	if next == nil {
		return
	}
	m.locked = true
	m.currentPriority = next.priority
	m.gen++
	gen := m.gen
	next.ready <- grant{release: onceReleaser(func() { m.releaseGen(gen) })}
}
