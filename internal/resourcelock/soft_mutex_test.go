package resourcelock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"grabber/internal/resourcelock"
)

func TestSoftLockYieldsToHigherPriority(t *testing.T) {
	m := resourcelock.NewSoftLockMutex()
	ctx := context.Background()

	release, err := m.Acquire(ctx, 5)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	soft, err := m.MarkAsSoftLock()
	if err != nil {
		t.Fatalf("MarkAsSoftLock: %v", err)
	}

	subGranted := make(chan resourcelock.Releaser, 1)
	go func() {
		rel, err := m.Acquire(ctx, 10)
		if err != nil {
			t.Errorf("sub-task Acquire: %v", err)
			return
		}
		subGranted <- rel
	}()

	var subRelease resourcelock.Releaser
	select {
	case subRelease = <-subGranted:
	case <-time.After(2 * time.Second):
		t.Fatal("higher priority waiter was not granted a sub-task")
	}

	resumed := make(chan bool, 1)
	go func() {
		interrupted, err := soft.Resume()
		if err != nil {
			t.Errorf("Resume: %v", err)
		}
		resumed <- interrupted
	}()

	select {
	case <-resumed:
		t.Fatal("Resume returned while the sub-task still held the lock")
	case <-time.After(50 * time.Millisecond):
	}

	subRelease()
	select {
	case interrupted := <-resumed:
		if !interrupted {
			t.Fatal("expected Resume to report an interruption")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Resume did not return after the sub-task released")
	}

	if !m.IsLocked() {
		t.Fatal("holder should still own the lock after resuming")
	}
	release()
	if m.IsLocked() {
		t.Fatal("expected unlocked after the holder released")
	}
}

func TestSoftLockIgnoresLowerOrEqualPriority(t *testing.T) {
	for _, priority := range []int{1, 5} {
		m := resourcelock.NewSoftLockMutex()
		ctx := context.Background()

		release, err := m.Acquire(ctx, 5)
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		soft, err := m.MarkAsSoftLock()
		if err != nil {
			t.Fatalf("MarkAsSoftLock: %v", err)
		}

		granted := make(chan resourcelock.Releaser, 1)
		go func() {
			rel, err := m.Acquire(ctx, priority)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			granted <- rel
		}()
		waitForWaiters(t, m, 1)

		interrupted, err := soft.Resume()
		if err != nil {
			t.Fatalf("Resume: %v", err)
		}
		if interrupted {
			t.Fatalf("priority %d waiter must not interrupt a priority 5 holder", priority)
		}

		select {
		case <-granted:
			t.Fatalf("priority %d waiter granted before the holder released", priority)
		case <-time.After(20 * time.Millisecond):
		}

		release()
		select {
		case rel := <-granted:
			rel()
		case <-time.After(2 * time.Second):
			t.Fatalf("priority %d waiter never granted", priority)
		}
	}
}

func TestSoftLockRunsSubTasksByPriority(t *testing.T) {
	m := resourcelock.NewSoftLockMutex()
	ctx := context.Background()

	release, err := m.Acquire(ctx, 5)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	// Block the sub-task slot first so both contenders queue up.
	blocker := make(chan resourcelock.Releaser, 1)
	soft, err := m.MarkAsSoftLock()
	if err != nil {
		t.Fatalf("MarkAsSoftLock: %v", err)
	}
	go func() {
		rel, err := m.Acquire(ctx, 50)
		if err != nil {
			t.Errorf("blocker Acquire: %v", err)
			return
		}
		blocker <- rel
	}()
	unblock := <-blocker

	order := make(chan int, 2)
	for i, priority := range []int{10, 20} {
		go func() {
			rel, err := m.Acquire(ctx, priority)
			if err != nil {
				t.Errorf("Acquire %d: %v", priority, err)
				return
			}
			order <- priority
			rel()
		}()
		waitForWaiters(t, m, i+1)
	}

	unblock()
	if first, second := <-order, <-order; first != 20 || second != 10 {
		t.Fatalf("sub-task order = %d, %d; want 20, 10", first, second)
	}

	interrupted, err := soft.Resume()
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !interrupted {
		t.Fatal("expected interruption after sub-tasks ran")
	}
}

func TestSoftLockMisuse(t *testing.T) {
	m := resourcelock.NewSoftLockMutex()
	ctx := context.Background()

	if _, err := m.MarkAsSoftLock(); !errors.Is(err, resourcelock.ErrNotLocked) {
		t.Fatalf("expected ErrNotLocked, got %v", err)
	}

	release, err := m.Acquire(ctx, 1)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	soft, err := m.MarkAsSoftLock()
	if err != nil {
		t.Fatalf("MarkAsSoftLock: %v", err)
	}
	if _, err := m.MarkAsSoftLock(); !errors.Is(err, resourcelock.ErrAlreadySoftLocked) {
		t.Fatalf("expected ErrAlreadySoftLocked, got %v", err)
	}

	if _, err := soft.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, err := soft.Resume(); !errors.Is(err, resourcelock.ErrSoftReleaserReused) {
		t.Fatalf("expected ErrSoftReleaserReused, got %v", err)
	}
	if m.IsSoftLocked() {
		t.Fatal("soft state should be cleared after Resume")
	}
}

func TestSoftLockCancelRejectsResumeAndWaiters(t *testing.T) {
	m := resourcelock.NewSoftLockMutex()
	ctx := context.Background()

	if _, err := m.Acquire(ctx, 5); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	soft, err := m.MarkAsSoftLock()
	if err != nil {
		t.Fatalf("MarkAsSoftLock: %v", err)
	}

	// A sub-task holds the slot so Resume has to wait.
	sub := make(chan struct{})
	go func() {
		if _, err := m.Acquire(ctx, 10); err != nil {
			t.Errorf("sub-task Acquire: %v", err)
		}
		close(sub)
	}()
	<-sub

	waiterErr := make(chan error, 1)
	go func() {
		_, err := m.Acquire(ctx, 1)
		waiterErr <- err
	}()
	waitForWaiters(t, m, 1)

	resumeErr := make(chan error, 1)
	go func() {
		_, err := soft.Resume()
		resumeErr <- err
	}()

	m.Cancel()

	for name, ch := range map[string]chan error{"waiter": waiterErr, "resume": resumeErr} {
		select {
		case err := <-ch:
			if !errors.Is(err, resourcelock.ErrCanceled) {
				t.Fatalf("%s: expected ErrCanceled, got %v", name, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s was not released by Cancel", name)
		}
	}
	if m.IsLocked() {
		t.Fatal("expected unlocked after Cancel")
	}
	if m.IsSoftLocked() {
		t.Fatal("expected soft state cleared after Cancel")
	}
}

func TestSoftLockHolderReleaseWithoutResume(t *testing.T) {
	m := resourcelock.NewSoftLockMutex()
	ctx := context.Background()

	release, err := m.Acquire(ctx, 5)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	soft, err := m.MarkAsSoftLock()
	if err != nil {
		t.Fatalf("MarkAsSoftLock: %v", err)
	}
	release()

	if m.IsLocked() {
		t.Fatal("expected unlocked after the holder walked away")
	}
	if _, err := soft.Resume(); !errors.Is(err, resourcelock.ErrNotLocked) {
		t.Fatalf("expected ErrNotLocked from an abandoned soft lock, got %v", err)
	}
}
