package engine

import (
	"context"
	"sync"
	"time"
)

// Scheduler times the simulation cycles. It tracks an absolute next-fire
// target so the countdown is displayable at any poll granularity; pausing
// captures the remaining time and resuming re-targets from the capture, so
// a pause never costs or grants cycle time.
type Scheduler struct {
	mu        sync.Mutex
	base      time.Duration
	divisor   int
	target    time.Time
	paused    bool
	remaining time.Duration
	// suspend is an extra hold on firing (e.g. game not started or a
	// blocking surface open). The countdown keeps running; only firing
	// is held.
	suspend func() bool
	now     func() time.Time
}

// NewScheduler creates a scheduler with the base cycle interval at speed 1.
func NewScheduler(base time.Duration) *Scheduler {
	return &Scheduler{base: base, divisor: 1, now: time.Now}
}

// SetClock replaces the time source, for tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetSuspend installs the firing hold predicate.
func (s *Scheduler) SetSuspend(fn func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspend = fn
}

// SetDivisor changes the speed divisor. It applies from the next Arm.
func (s *Scheduler) SetDivisor(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 1 {
		n = 1
	}
	s.divisor = n
}

// Effective returns the current cycle interval: base divided by speed.
func (s *Scheduler) Effective() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base / time.Duration(s.divisor)
}

// Arm sets the next fire target one effective interval from now.
func (s *Scheduler) Arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = s.now().Add(s.base / time.Duration(s.divisor))
	s.paused = false
}

// Pause freezes the countdown, capturing the time remaining to the target.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.remaining = s.target.Sub(s.now())
	if s.remaining < 0 {
		s.remaining = 0
	}
	s.paused = true
}

// Resume re-targets exactly the captured remaining time from now.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	s.target = s.now().Add(s.remaining)
	s.paused = false
}

// Paused reports whether the scheduler is paused.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Countdown returns the time until the next fire, frozen while paused.
func (s *Scheduler) Countdown() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return s.remaining
	}
	d := s.target.Sub(s.now())
	if d < 0 {
		d = 0
	}
	return d
}

// Due reports whether the target has passed and nothing holds firing.
// Polling Due is side-effect free: the countdown check itself never fires
// a cycle.
func (s *Scheduler) Due() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return false
	}
	if s.suspend != nil && s.suspend() {
		return false
	}
	return !s.now().Before(s.target)
}

// Run polls at the countdown granularity and invokes tick each time the
// target is due, re-arming after every fire. It returns when ctx ends.
func (s *Scheduler) Run(ctx context.Context, poll time.Duration, tick func()) {
	s.Arm()
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if s.Due() {
				tick()
				s.Arm()
			}
		}
	}
}
