package engine

import (
	"testing"
	"time"
)

func TestSchedulerNextDeadlinePreservesPhase(t *testing.T) {
	s := NewScheduler()
	start := time.Now()
	period := 33333 * time.Microsecond

	d1 := s.NextDeadline(start, period)
	d2 := s.NextDeadline(d1, period)

	if !d1.Equal(start.Add(period)) {
		t.Errorf("first deadline = %v, want start+period", d1)
	}
	if !d2.Equal(start.Add(2 * period)) {
		t.Errorf("second deadline = %v, want start+2*period (phase preserved)", d2)
	}
}

func TestSchedulerRecordsMissOnLateSleep(t *testing.T) {
	s := NewScheduler()
	past := time.Now().Add(-10 * time.Millisecond)
	s.SleepUntil(past)
	if got := s.DeadlineMisses(); got != 1 {
		t.Errorf("deadline misses = %v, want 1 after a past deadline", got)
	}
}

func TestSchedulerRecordIfOverBudget(t *testing.T) {
	s := NewScheduler()
	s.RecordIfOverBudget(40*time.Millisecond, 33*time.Millisecond)
	s.RecordIfOverBudget(10*time.Millisecond, 33*time.Millisecond)
	if got := s.DeadlineMisses(); got != 1 {
		t.Errorf("deadline misses = %v, want 1 (only the over-budget cycle)", got)
	}
}
