package engine

import (
	"testing"
	"time"
)

// TestPredictorScenarioF checks the documented worked example exactly:
// speed=952.43%/s, sync(0,t0), set_target(100).
func TestPredictorScenarioF(t *testing.T) {
	p := NewPredictor(952.43)
	t0 := time.Now()
	p.sync(0, t0)
	p.setTarget(100)

	cases := []struct {
		offset time.Duration
		want   float64
		delta  float64
	}{
		{5 * time.Millisecond, 4.76, 0.05},
		{10 * time.Millisecond, 9.52, 0.05},
	}
	for _, c := range cases {
		got := p.Step(t0.Add(c.offset))
		if diff := got - c.want; diff < -c.delta || diff > c.delta {
			t.Errorf("step(t0+%v) = %v, want ~%v", c.offset, got, c.want)
		}
	}

	if got := p.Step(t0.Add(500 * time.Millisecond)); got < 95 {
		t.Errorf("step(t0+500ms) = %v, want >= 95", got)
	}
	if got := p.Step(t0.Add(600 * time.Millisecond)); got != 100 {
		t.Errorf("step(t0+600ms) = %v, want exactly 100", got)
	}
}

// TestPredictorSyncReturnsExact covers invariant 3: the next step(t)
// after sync(a, t) returns a exactly, regardless of target.
func TestPredictorSyncReturnsExact(t *testing.T) {
	p := NewPredictor(100)
	now := time.Now()
	p.setTarget(100)
	p.sync(37.5, now)

	if got := p.Step(now); got != 37.5 {
		t.Errorf("step(t) immediately after sync(37.5, t) = %v, want 37.5", got)
	}
}

// TestPredictorNeverOvershoots covers invariant 2: with an unchanged
// target, successive steps approach it monotonically and never cross
// past it.
func TestPredictorNeverOvershoots(t *testing.T) {
	p := NewPredictor(50)
	t0 := time.Now()
	p.sync(10, t0)
	p.setTarget(90)

	prev := 10.0
	for i := 1; i <= 50; i++ {
		got := p.Step(t0.Add(time.Duration(i) * 100 * time.Millisecond))
		if got < prev-1e-9 {
			t.Fatalf("predicted position regressed: prev=%v got=%v", prev, got)
		}
		if got > 90 {
			t.Fatalf("predicted position overshot target: got=%v", got)
		}
		prev = got
	}
}

// TestPredictorBounded covers invariant 1: predicted position always
// lands in [0,100], even with a target below the synced position.
func TestPredictorBounded(t *testing.T) {
	p := NewPredictor(1000)
	t0 := time.Now()
	p.sync(5, t0)
	p.setTarget(0)

	got := p.Step(t0.Add(time.Second))
	if got < 0 || got > 100 {
		t.Errorf("step() = %v, out of [0,100]", got)
	}
}

// TestPredictorUnsyncedReturnsTarget covers the no-sync-yet failure
// mode: a Predictor that has never synced returns the target unchanged.
func TestPredictorUnsyncedReturnsTarget(t *testing.T) {
	p := NewPredictor(952.43)
	p.setTarget(42)
	if got := p.Step(time.Now()); got != 42 {
		t.Errorf("unsynced step() = %v, want target 42", got)
	}
}
