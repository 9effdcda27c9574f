package resourcelock

import (
	"container/heap"
	"context"
	"sync"
)

// Releaser gives a granted lock back. Calling it more than once is a no-op.
type Releaser func()

type grant struct {
	release Releaser
	err     error
}

type waiter struct {
	priority int
	seq      uint64
	index    int
	ready    chan grant
}

// waitQueue is a heap ordered by priority (desc) and arrival (asc).
type waitQueue []*waiter

func (q waitQueue) Len() int { return len(q) }

func (q waitQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q waitQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *waitQueue) Push(x any) {
	w := x.(*waiter)
	w.index = len(*q)
	*q = append(*q, w)
}

func (q *waitQueue) Pop() any {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*q = old[:n-1]
	return w
}

func (q waitQueue) peek() *waiter {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}

// core holds the state shared by both mutex flavours. Every field is guarded
// by mu; the *Locked helpers expect the caller to hold it.
type core struct {
	mu              sync.Mutex
	queue           waitQueue
	seq             uint64
	locked          bool
	currentPriority int
}

func (c *core) enqueueLocked(priority int) *waiter {
	c.seq++
	w := &waiter{priority: priority, seq: c.seq, ready: make(chan grant, 1)}
	heap.Push(&c.queue, w)
	return w
}

func (c *core) removeLocked(w *waiter) bool {
	if w.index < 0 || w.index >= len(c.queue) || c.queue[w.index] != w {
		return false
	}
	heap.Remove(&c.queue, w.index)
	return true
}

func (c *core) popLocked() *waiter {
	if len(c.queue) == 0 {
		return nil
	}
	return heap.Pop(&c.queue).(*waiter)
}

func (c *core) failAllLocked(err error) {
	for len(c.queue) > 0 {
		w := heap.Pop(&c.queue).(*waiter)
		w.ready <- grant{err: err}
	}
}

// acquire enqueues a waiter, runs the flavour-specific dispatch and blocks
// until the waiter is granted, failed, or ctx ends.
func (c *core) acquire(ctx context.Context, priority int, dispatchLocked func()) (Releaser, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	w := c.enqueueLocked(priority)
	dispatchLocked()
	c.mu.Unlock()

	select {
	case g := <-w.ready:
		return g.release, g.err
	case <-ctx.Done():
		c.mu.Lock()
		removed := c.removeLocked(w)
		c.mu.Unlock()
		if !removed {
			// Granted while we were giving up; hand the lock straight back.
			if g := <-w.ready; g.err == nil && g.release != nil {
				g.release()
			}
		}
		return nil, ctx.Err()
	}
}

// Waiting reports how many callers are queued.
func (c *core) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// IsLocked reports whether the mutex is held.
func (c *core) IsLocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

func onceReleaser(fn func()) Releaser {
	var once sync.Once
	return func() { once.Do(fn) }
}
