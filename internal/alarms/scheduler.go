package alarms

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"grabber/internal/logging"
	"grabber/internal/services"
)

const retryPrefix = "repeat-download-"

// Handler receives the name of every alarm that fires.
type Handler func(ctx context.Context, name string)

// Timer is the subset of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// Clock starts timers. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithContext sets the base context handed to the handler. Its values
// (request ids, log fields) flow into every fired alarm.
func WithContext(ctx context.Context) Option {
	return func(s *Scheduler) {
		if ctx != nil {
			s.base = ctx
		}
	}
}

// Scheduler owns the pending alarms.
type Scheduler struct {
	clock   Clock
	handler Handler
	logger  *slog.Logger
	base    context.Context

	mu      sync.Mutex
	pending map[string]*alarm
	seq     uint64
}

type alarm struct {
	seq   uint64
	timer Timer
}

// NewScheduler builds a scheduler delivering fired alarms to handler.
func NewScheduler(handler Handler, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:   realClock{},
		handler: handler,
		logger:  logging.NewComponentLogger(logger, "alarms"),
		base:    context.Background(),
		pending: make(map[string]*alarm),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule arms name to fire after delay, replacing any pending alarm with
// the same name.
func (s *Scheduler) Schedule(name string, delay time.Duration) error {
	if strings.TrimSpace(name) == "" {
		return services.Wrap(services.ErrValidation, "alarms", "schedule", "alarm name is empty", nil)
	}
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.pending[name]; ok {
		prev.timer.Stop()
	}
	s.seq++
	seq := s.seq
	a := &alarm{seq: seq}
	a.timer = s.clock.AfterFunc(delay, func() { s.fire(name, seq) })
	s.pending[name] = a
	s.logger.Debug("alarm scheduled", logging.String("alarm", name), logging.Duration("delay", delay))
	return nil
}

func (s *Scheduler) fire(name string, seq uint64) {
	s.mu.Lock()
	current, ok := s.pending[name]
	if !ok || current.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.pending, name)
	s.mu.Unlock()

	if s.handler != nil {
		s.handler(s.base, name)
	}
}

// Clear cancels a pending alarm and reports whether one existed.
func (s *Scheduler) Clear(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.pending[name]
	if !ok {
		return false
	}
	a.timer.Stop()
	delete(s.pending, name)
	return true
}

// ClearAll cancels every pending alarm.
func (s *Scheduler) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, a := range s.pending {
		a.timer.Stop()
		delete(s.pending, name)
	}
}

// Pending lists the armed alarm names in sorted order.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	names := make([]string, 0, len(s.pending))
	for name := range s.pending {
		names = append(names, name)
	}
	s.mu.Unlock()
	slices.Sort(names)
	return names
}

// RetryAlarmName names the alarm that re-runs a failed file.
func RetryAlarmName(loadItemID, fileID int64) string {
	return fmt.Sprintf("%s%d-%d", retryPrefix, loadItemID, fileID)
}

// ParseRetryAlarm extracts the ids from a retry alarm name.
func ParseRetryAlarm(name string) (loadItemID, fileID int64, ok bool) {
	rest, found := strings.CutPrefix(name, retryPrefix)
	if !found {
		return 0, 0, false
	}
	left, right, found := strings.Cut(rest, "-")
	if !found {
		return 0, 0, false
	}
	loadItemID, err := strconv.ParseInt(left, 10, 64)
	if err != nil || loadItemID <= 0 {
		return 0, 0, false
	}
	fileID, err = strconv.ParseInt(right, 10, 64)
	if err != nil || fileID <= 0 {
		return 0, 0, false
	}
	return loadItemID, fileID, true
}
