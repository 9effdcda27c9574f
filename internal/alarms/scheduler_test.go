package alarms_test

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"grabber/internal/alarms"
)

type manualTimer struct {
	clock   *manualClock
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

func (c *manualClock) AfterFunc(d time.Duration, fn func()) alarms.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now + d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
}

type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) handle(_ context.Context, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

func (r *recorder) fired() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.names)
}

func TestScheduleFiresAfterDelay(t *testing.T) {
	clock := &manualClock{}
	rec := &recorder{}
	s := alarms.NewScheduler(rec.handle, nil, alarms.WithClock(clock))

	if err := s.Schedule("repeat-download-1-2", 5*time.Second); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	clock.Advance(4 * time.Second)
	if got := rec.fired(); len(got) != 0 {
		t.Fatalf("fired early: %v", got)
	}
	clock.Advance(time.Second)
	if got := rec.fired(); !slices.Equal(got, []string{"repeat-download-1-2"}) {
		t.Fatalf("fired = %v", got)
	}
	if pending := s.Pending(); len(pending) != 0 {
		t.Fatalf("pending after fire = %v", pending)
	}
}

func TestRescheduleReplacesPendingAlarm(t *testing.T) {
	clock := &manualClock{}
	rec := &recorder{}
	s := alarms.NewScheduler(rec.handle, nil, alarms.WithClock(clock))

	_ = s.Schedule("a", time.Second)
	_ = s.Schedule("a", 3*time.Second)
	clock.Advance(2 * time.Second)
	if got := rec.fired(); len(got) != 0 {
		t.Fatalf("replaced alarm fired: %v", got)
	}
	clock.Advance(time.Second)
	if got := rec.fired(); len(got) != 1 {
		t.Fatalf("fired = %v, want one", got)
	}
}

func TestClearAndClearAll(t *testing.T) {
	clock := &manualClock{}
	rec := &recorder{}
	s := alarms.NewScheduler(rec.handle, nil, alarms.WithClock(clock))

	_ = s.Schedule("a", time.Second)
	_ = s.Schedule("b", time.Second)
	_ = s.Schedule("c", time.Second)
	if !s.Clear("a") {
		t.Fatal("Clear(a) = false")
	}
	if s.Clear("missing") {
		t.Fatal("Clear(missing) = true")
	}
	if got := s.Pending(); !slices.Equal(got, []string{"b", "c"}) {
		t.Fatalf("Pending = %v", got)
	}
	s.ClearAll()
	clock.Advance(time.Minute)
	if got := rec.fired(); len(got) != 0 {
		t.Fatalf("cleared alarms fired: %v", got)
	}
}

func TestScheduleRejectsEmptyName(t *testing.T) {
	s := alarms.NewScheduler(nil, nil)
	if err := s.Schedule("  ", time.Second); err == nil {
		t.Fatal("expected error")
	}
}

func TestRealClockFires(t *testing.T) {
	done := make(chan string, 1)
	s := alarms.NewScheduler(func(_ context.Context, name string) { done <- name }, nil)
	if err := s.Schedule("now", time.Millisecond); err != nil {
		t.Fatal(err)
	}
	select {
	case name := <-done:
		if name != "now" {
			t.Fatalf("name = %q", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("alarm never fired")
	}
}

func TestRetryAlarmNames(t *testing.T) {
	name := alarms.RetryAlarmName(12, 345)
	if name != "repeat-download-12-345" {
		t.Fatalf("name = %q", name)
	}
	load, file, ok := alarms.ParseRetryAlarm(name)
	if !ok || load != 12 || file != 345 {
		t.Fatalf("parse = %d %d %v", load, file, ok)
	}

	for _, bad := range []string{"", "repeat-download-", "repeat-download-1", "repeat-download-x-2", "repeat-download-1-0", "other-1-2"} {
		if _, _, ok := alarms.ParseRetryAlarm(bad); ok {
			t.Fatalf("ParseRetryAlarm(%q) accepted", bad)
		}
	}
}
