package engine

import (
	"math"
	"time"
)

// Predictor maintains a predicted position between hardware samples
// using a speed-bounded model synchronized to the 30Hz control cycle's
// snapshots. It holds no lock of its own; callers (SharedState) guard
// concurrent access.
type Predictor struct {
	lastSyncPos  float64
	lastSyncTime time.Time
	targetPos    float64
	speedPctPerS float64

	synced bool
}

// NewPredictor returns a Predictor with the given movement speed. It is
// unsynced until the first sync call; step() before that returns the
// target unchanged.
func NewPredictor(speedPctPerS float64) Predictor {
	return Predictor{speedPctPerS: speedPctPerS}
}

// sync records a fresh hardware sample; the target is left unchanged.
func (p *Predictor) sync(actualPct float64, now time.Time) {
	p.lastSyncPos = actualPct
	p.lastSyncTime = now
	p.synced = true
}

// setTarget updates the commanded target without touching the sync
// anchor.
func (p *Predictor) setTarget(targetPct float64) {
	p.targetPos = targetPct
}

// Step predicts the position at time t. If no sync has occurred yet it
// returns the target directly (assumed to be the calibrated rest
// position set by the Calibrator).
func (p Predictor) Step(t time.Time) float64 {
	if !p.synced {
		return p.targetPos
	}

	dt := t.Sub(p.lastSyncTime).Seconds()
	if dt < 0 {
		dt = 0
	}

	deltaMax := p.speedPctPerS * dt
	diff := p.targetPos - p.lastSyncPos
	var step float64
	if diff > 0 {
		step = math.Min(diff, deltaMax)
	} else {
		step = -math.Min(-diff, deltaMax)
	}

	candidate := p.lastSyncPos + step
	if candidate < 0 {
		candidate = 0
	} else if candidate > 100 {
		candidate = 100
	}
	return candidate
}

// Target returns the predictor's current target.
func (p Predictor) Target() float64 {
	return p.targetPos
}
