package transport

import (
	"sync"
	"time"
)

// Scheduler abstracts the timers a transport owns (reconnect delay,
// poll interval) so tests can drive them with virtual time instead of
// waiting on the wall clock.
type Scheduler interface {
	// Start begins scheduling fn. Calling Start on an active scheduler
	// replaces the scheduled function.
	Start(fn func())

	// Stop cancels any pending invocation. The scheduler can be started
	// again afterwards.
	Stop()

	// Active reports whether an invocation is scheduled or running.
	Active() bool
}

// IntervalScheduler invokes fn repeatedly at a fixed interval.
// With immediate set, the first invocation happens right away instead of
// after the first interval.
type IntervalScheduler struct {
	interval  time.Duration
	immediate bool

	mu     sync.Mutex
	stopCh chan struct{}
}

// NewIntervalScheduler creates a ticker-backed scheduler.
func NewIntervalScheduler(interval time.Duration, immediate bool) *IntervalScheduler {
	return &IntervalScheduler{interval: interval, immediate: immediate}
}

// Start begins the periodic invocations in a background goroutine.
func (s *IntervalScheduler) Start(fn func()) {
	s.mu.Lock()
	if s.stopCh != nil {
		close(s.stopCh)
	}
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	s.mu.Unlock()

	go func() {
		if s.immediate {
			select {
			case <-stopCh:
				return
			default:
			}
			fn()
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// Stop halts the periodic invocations.
func (s *IntervalScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
}

// Active reports whether the loop is running.
func (s *IntervalScheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil
}

// DelayScheduler invokes fn once after a fixed delay. Restarting an
// armed scheduler re-arms it.
type DelayScheduler struct {
	delay time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewDelayScheduler creates a one-shot delay scheduler.
func NewDelayScheduler(delay time.Duration) *DelayScheduler {
	return &DelayScheduler{delay: delay}
}

// Start arms the timer. A previously armed invocation is cancelled.
func (s *DelayScheduler) Start(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		s.timer = nil
		s.mu.Unlock()
		fn()
	})
}

// Stop cancels a pending invocation.
func (s *DelayScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Active reports whether an invocation is pending.
func (s *DelayScheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Compile-time interface satisfaction checks.
var (
	_ Scheduler = (*IntervalScheduler)(nil)
	_ Scheduler = (*DelayScheduler)(nil)
)
