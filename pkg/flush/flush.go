// Package flush schedules periodic "flush" callbacks that copy a streaming
// buffer into its visible representation.
package flush

import (
	"sync"
	"time"
)

// Scheduler runs a flush callback periodically while active.
//
// ScheduleFlush starts (or restarts) periodic invocation of fn. CancelFlush
// stops it and returns only once no invocation of fn is running or will run.
// Both are safe to call from any goroutine, but CancelFlush must not be
// called from inside fn.
type Scheduler interface {
	ScheduleFlush(fn func())
	CancelFlush()
}

// DefaultInterval approximates one display frame.
const DefaultInterval = 16 * time.Millisecond

// TickerScheduler invokes fn on a time.Ticker from a dedicated goroutine.
type TickerScheduler struct {
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ Scheduler = &TickerScheduler{}

func NewTickerScheduler(interval time.Duration) *TickerScheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &TickerScheduler{interval: interval}
}

func (s *TickerScheduler) Interval() time.Duration { return s.interval }

func (s *TickerScheduler) ScheduleFlush(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				select {
				case <-stop:
					return
				default:
				}
				fn()
			}
		}
	}()
}

func (s *TickerScheduler) CancelFlush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// stopLocked waits for the loop goroutine to exit; fn never takes s.mu.
func (s *TickerScheduler) stopLocked() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop, s.done = nil, nil
}

// Active reports whether a flush loop is running.
func (s *TickerScheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

// ManualScheduler never fires on its own; callers drive it with Fire. It is
// meant for deterministic tests of code that depends on a Scheduler.
type ManualScheduler struct {
	mu        sync.Mutex
	fn        func()
	scheduled int
	cancelled int
}

var _ Scheduler = &ManualScheduler{}

func NewManualScheduler() *ManualScheduler { return &ManualScheduler{} }

func (s *ManualScheduler) ScheduleFlush(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = fn
	s.scheduled++
}

func (s *ManualScheduler) CancelFlush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fn != nil {
		s.cancelled++
	}
	s.fn = nil
}

// Fire runs the scheduled callback once and reports whether one was active.
func (s *ManualScheduler) Fire() bool {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

func (s *ManualScheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fn != nil
}

// Counts returns how many times ScheduleFlush and an effective CancelFlush ran.
func (s *ManualScheduler) Counts() (scheduled, cancelled int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled, s.cancelled
}
