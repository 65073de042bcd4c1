package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTrigger_UnknownJob(t *testing.T) {
	s := New()
	if err := s.Trigger(t.Context(), "nope"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("want ErrUnknownJob, got %v", err)
	}
}

func TestTrigger_MutualExclusion(t *testing.T) {
	var runs atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	s := New()
	s.Register("prices", 0, func(ctx context.Context) {
		runs.Add(1)
		close(started)
		<-release
	})

	if err := s.Trigger(t.Context(), "prices"); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	<-started

	// Concurrent triggers while the cycle runs must all be no-ops.
	var wg sync.WaitGroup
	var rejected atomic.Int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Trigger(t.Context(), "prices"); errors.Is(err, ErrAlreadyRunning) {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := rejected.Load(); got != 4 {
		t.Fatalf("want 4 rejected triggers, got %d", got)
	}

	close(release)
	s.Wait()
	if got := runs.Load(); got != 1 {
		t.Fatalf("want exactly 1 cycle, got %d", got)
	}

	// A fresh trigger after completion runs again.
	done := make(chan struct{})
	s.Register("prices", 0, func(ctx context.Context) { runs.Add(1); close(done) })
	if err := s.Trigger(t.Context(), "prices"); err != nil {
		t.Fatalf("trigger after completion: %v", err)
	}
	<-done
}

func TestStart_TimerDrivenCycles(t *testing.T) {
	var runs atomic.Int32
	s := New()
	s.Register("prices", 10*time.Millisecond, func(ctx context.Context) { runs.Add(1) })

	ctx, cancel := context.WithCancel(t.Context())
	s.Start(ctx)

	deadline := time.After(2 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("timer produced %d cycles", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	s.Wait()
}

func TestInterval(t *testing.T) {
	s := New()
	s.Register("prices", 15*time.Minute, func(ctx context.Context) {})
	if got := s.Interval("prices"); got != 15*time.Minute {
		t.Fatalf("interval: %v", got)
	}
	if got := s.Interval("nope"); got != 0 {
		t.Fatalf("unknown job interval: %v", got)
	}
}
