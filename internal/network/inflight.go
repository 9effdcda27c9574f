package network

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// InFlight deduplicates concurrent fetches of the same key. The shared work
// runs under a context owned by the registry and counts its waiters: a
// caller giving up only stops its own wait, and the work is cancelled once
// the last waiter has left.
type InFlight struct {
	group singleflight.Group
	mu    sync.Mutex
	calls map[string]*flight
}

type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func NewInFlight() *InFlight {
	return &InFlight{calls: make(map[string]*flight)}
}

// Do runs fn once per key among concurrent callers. Each caller stops
// waiting when its own ctx ends. shared reports whether the result was
// delivered to more than one caller.
func (f *InFlight) Do(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (value any, shared bool, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	call := f.join(key)
	defer f.leave(key, call)

	ch := f.group.DoChan(key, func() (any, error) {
		return fn(call.ctx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (f *InFlight) join(key string) *flight {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.calls[key]
	if call == nil {
		workCtx, cancel := context.WithCancel(context.Background())
		call = &flight{ctx: workCtx, cancel: cancel}
		f.calls[key] = call
	}
	call.waiters++
	return call
}

// leave drops one waiter. The last waiter cancels the work and forgets the
// key so a later caller never joins a cancelled fetch. Aborted flights are
// already gone from the map.
func (f *InFlight) leave(key string, call *flight) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call.waiters--
	if call.waiters > 0 {
		return
	}
	if f.calls[key] == call {
		delete(f.calls, key)
		f.group.Forget(key)
	}
	call.cancel()
}

// Abort cancels the shared fetch for key if one is running. Every waiter
// receives the cancellation.
func (f *InFlight) Abort(key string) {
	f.mu.Lock()
	call := f.calls[key]
	if call != nil {
		delete(f.calls, key)
		f.group.Forget(key)
	}
	f.mu.Unlock()
	if call != nil {
		call.cancel()
	}
}

// AbortAll cancels every running fetch.
func (f *InFlight) AbortAll() {
	f.mu.Lock()
	calls := make([]*flight, 0, len(f.calls))
	for key, call := range f.calls {
		calls = append(calls, call)
		delete(f.calls, key)
		f.group.Forget(key)
	}
	f.mu.Unlock()
	for _, call := range calls {
		call.cancel()
	}
}

// Len returns the number of fetches that still have waiters.
func (f *InFlight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func doShared[T any](ctx context.Context, f *InFlight, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	value, _, err := f.Do(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return value.(T), nil
}
