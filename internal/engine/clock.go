package engine

import (
	"sync/atomic"
	"time"
)

// Scheduler implements absolute-deadline sleep scheduling: the next
// deadline is computed as previous_deadline + period, never
// now + period, so a loop's phase does not drift under jitter. If the
// deadline has already passed when SleepUntil is called, it returns
// immediately and records a deadline miss.
type Scheduler struct {
	missCount atomic.Uint64
}

// NewScheduler returns a Scheduler with its deadline-miss counter at
// zero.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// SleepUntil blocks until the given deadline, or returns immediately
// (recording a miss) if the deadline has already passed.
func (s *Scheduler) SleepUntil(deadline time.Time) {
	now := time.Now()
	if now.After(deadline) {
		s.missCount.Add(1)
		return
	}
	time.Sleep(deadline.Sub(now))
}

// NextDeadline computes the next absolute deadline from a previous one
// and a period, preserving phase.
func (s *Scheduler) NextDeadline(previous time.Time, period time.Duration) time.Time {
	return previous.Add(period)
}

// RecordIfOverBudget records a deadline miss if the elapsed cycle time
// exceeded the period, without altering control-loop behavior
// otherwise.
func (s *Scheduler) RecordIfOverBudget(elapsed, period time.Duration) {
	if elapsed > period {
		s.missCount.Add(1)
	}
}

// DeadlineMisses returns the rolling count of missed deadlines,
// exposed for observability.
func (s *Scheduler) DeadlineMisses() uint64 {
	return s.missCount.Load()
}
