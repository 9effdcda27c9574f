package resourcelock

import (
	"context"
	"sync/atomic"
)

type resumeResult struct {
	interrupted bool
	err         error
}

type softState struct {
	priority    int
	interrupted bool
	resuming    bool
	abandoned   bool
	resume      chan resumeResult
}

// SoftLockMutex is a PriorityMutex whose holder can declare itself
// preemptible. While soft-locked, a waiter with a strictly higher priority
// than the holder is granted a sub-task lock; the holder learns about it when
// it resumes.
type SoftLockMutex struct {
	core
	soft          *softState
	subTaskLocked bool
	outerGen      uint64
	subGen        uint64
}

// NewSoftLockMutex returns an unlocked mutex.
func NewSoftLockMutex() *SoftLockMutex {
	return &SoftLockMutex{}
}

// Acquire blocks until the lock (or a sub-task slot while soft-locked) is
// granted, the mutex is cancelled, or ctx ends.
func (m *SoftLockMutex) Acquire(ctx context.Context, priority int) (Releaser, error) {
	return m.acquire(ctx, priority, m.dispatchLocked)
}

// RunExclusive runs fn while holding the lock and always releases it.
func (m *SoftLockMutex) RunExclusive(ctx context.Context, priority int, fn func(context.Context) error) error {
	release, err := m.Acquire(ctx, priority)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// IsSoftLocked reports whether the holder is currently yielding.
func (m *SoftLockMutex) IsSoftLocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.soft != nil
}

// MarkAsSoftLock marks the current holder as preemptible. The holder must
// call Resume on the returned releaser before doing further exclusive work.
func (m *SoftLockMutex) MarkAsSoftLock() (*SoftReleaser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.locked {
		return nil, ErrNotLocked
	}
	if m.soft != nil {
		return nil, ErrAlreadySoftLocked
	}
	st := &softState{priority: m.currentPriority, resume: make(chan resumeResult, 1)}
	m.soft = st
	m.dispatchLocked()
	return &SoftReleaser{m: m, state: st}, nil
}

// Release frees the sub-task slot while soft-locked, and the whole lock
// otherwise. Prefer the Releaser returned by Acquire.
func (m *SoftLockMutex) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.soft != nil {
		m.finishSubTaskLocked()
		return
	}
	m.locked = false
	m.currentPriority = 0
	m.dispatchLocked()
}

// Cancel fails every waiter and any pending Resume with ErrCanceled, clears
// the soft-lock state and force-unlocks.
func (m *SoftLockMutex) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.soft != nil {
		m.soft.resume <- resumeResult{err: ErrCanceled}
		m.soft = nil
	}
	m.subTaskLocked = false
	m.failAllLocked(ErrCanceled)
	m.locked = false
	m.currentPriority = 0
	m.outerGen++
	m.subGen++
}

func (m *SoftLockMutex) releaseOuter(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.outerGen || !m.locked {
		return
	}
	if st := m.soft; st != nil {
		// The holder walked away without resuming.
		if m.subTaskLocked {
			st.abandoned = true
			return
		}
		m.soft = nil
		st.resume <- resumeResult{interrupted: st.interrupted, err: ErrNotLocked}
	}
	m.locked = false
	m.currentPriority = 0
	m.dispatchLocked()
}

func (m *SoftLockMutex) releaseSub(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.subGen || !m.subTaskLocked {
		return
	}
	m.finishSubTaskLocked()
}

func (m *SoftLockMutex) finishSubTaskLocked() {
	m.subTaskLocked = false
	if st := m.soft; st != nil && st.abandoned {
		m.soft = nil
		st.resume <- resumeResult{interrupted: st.interrupted, err: ErrNotLocked}
		m.locked = false
		m.currentPriority = 0
	}
	m.dispatchLocked()
}

func (m *SoftLockMutex) dispatchLocked() {
	st := m.soft
	if st == nil {
		if m.locked {
			return
		}
		next := m.popLocked()
		if next == nil {
			return
		}
		m.locked = true
		m.currentPriority = next.priority
		m.outerGen++
		gen := m.outerGen
		next.ready <- grant{release: onceReleaser(func() { m.releaseOuter(gen) })}
		return
	}

	if m.subTaskLocked {
		return
	}
	top := m.queue.peek()
	if top == nil || top.priority <= st.priority {
		if st.resuming {
			m.resumeLocked()
		}
		return
	}

	m.popLocked()
	m.subTaskLocked = true
	st.interrupted = true
	m.currentPriority = top.priority
	m.subGen++
	gen := m.subGen
	top.ready <- grant{release: onceReleaser(func() { m.releaseSub(gen) })}
}

func (m *SoftLockMutex) resumeLocked() {
	st := m.soft
	m.soft = nil
	m.currentPriority = st.priority
	st.resume <- resumeResult{interrupted: st.interrupted}
}

// SoftReleaser ends a soft lock. It is single use.
type SoftReleaser struct {
	m     *SoftLockMutex
	state *softState
	used  atomic.Bool
}

// Resume waits until no sub-task holds the mutex and no waiter outranks the
// holder, then returns whether a sub-task ran in between. Cancel on the mutex
// unblocks it with ErrCanceled.
func (r *SoftReleaser) Resume() (bool, error) {
	if !r.used.CompareAndSwap(false, true) {
		return false, ErrSoftReleaserReused
	}

	m := r.m
	m.mu.Lock()
	if m.soft == r.state {
		r.state.resuming = true
		m.dispatchLocked()
	}
	m.mu.Unlock()

	res := <-r.state.resume
	return res.interrupted, res.err
}
