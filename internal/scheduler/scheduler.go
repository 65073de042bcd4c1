package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrUnknownJob means no job is registered under the requested name.
	ErrUnknownJob = errors.New("unknown job")
	// ErrAlreadyRunning means a cycle for the job is in flight; the trigger
	// is a no-op rather than queued.
	ErrAlreadyRunning = errors.New("job already running")
)

type job struct {
	name     string
	every    time.Duration // 0 disables the internal timer
	run      func(ctx context.Context)
	inFlight atomic.Bool
}

// Scheduler runs named refresh jobs on a cadence and on demand. Timer and
// manual triggers funnel through the same guard, so at most one cycle per
// job is ever in flight.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*job
	wg   sync.WaitGroup
}

func New() *Scheduler {
	return &Scheduler{jobs: make(map[string]*job)}
}

// Register adds a job. every <= 0 means no internal timer; the job then only
// runs via Trigger (the externally invoked task endpoint).
func (s *Scheduler) Register(name string, every time.Duration, run func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = &job{name: name, every: every, run: run}
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	return out
}

// Interval returns a job's cadence, or 0 when unknown or timer-less.
func (s *Scheduler) Interval(name string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[name]; ok {
		return j.every
	}
	return 0
}

// Trigger starts one cycle of the named job in the background. If a cycle is
// already running the call reports ErrAlreadyRunning and does nothing.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	if !j.inFlight.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %q", ErrAlreadyRunning, name)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer j.inFlight.Store(false)
		j.run(ctx)
	}()
	return nil
}

// Start launches the internal timers. With ctx canceled the tickers stop;
// Wait blocks until in-flight cycles drain.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.every <= 0 {
			continue
		}
		j := j
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			t := time.NewTicker(j.every)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					if err := s.Trigger(ctx, j.name); err != nil {
						log.Printf("scheduler: %s: %v", j.name, err)
					}
				}
			}
		}()
	}
}

// Wait blocks until all timers and in-flight cycles have finished.
func (s *Scheduler) Wait() { s.wg.Wait() }
