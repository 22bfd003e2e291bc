package engine

import (
	"testing"
	"time"

	"go.viam.com/rdk/logging"
)

type captureStateSink struct {
	positions []float64
	torques   []float64
	modes     []uint8
}

func (c *captureStateSink) PublishState(positionRad, torque float64, mode uint8) error {
	c.positions = append(c.positions, positionRad)
	c.torques = append(c.torques, torque)
	c.modes = append(c.modes, mode)
	return nil
}

type captureTelemetrySink struct {
	records []TelemetrySnapshot
}

func (c *captureTelemetrySink) PublishTelemetry(t TelemetrySnapshot) error {
	c.records = append(c.records, t)
	return nil
}

func newTestPublisher(t *testing.T, state *SharedState) (*StatePublisher, *captureStateSink, *captureTelemetrySink) {
	t.Helper()
	stateSink := &captureStateSink{}
	telSink := &captureTelemetrySink{}
	pub := NewStatePublisher(testCfg(), state, stateSink, telSink, func() uint64 { return 7 }, logging.NewTestLogger(t))
	return pub, stateSink, telSink
}

// TestPublisherPredictsTowardTarget: with healthy hardware, successive
// ticks publish the predictor's speed-bounded approach to the target,
// in radians.
func TestPublisherPredictsTowardTarget(t *testing.T) {
	state := NewSharedState(50)
	p := NewPredictor(100)
	p.setTarget(50)
	state.SeedPredictor(p)

	now := time.Now()
	state.UpdateFromCycle(ServoSnapshot{ReadAt: now}, 50, 100, 17, GraspMoving, true, ContactSignals{})

	pub, sink, _ := newTestPublisher(t, state)
	pub.runCycle(now.Add(100 * time.Millisecond))

	// 100ms at 100%/s moves 10% from the 50% sync anchor toward 100.
	want := PctToRad(60)
	got := sink.positions[0]
	if diff := got - want; diff < -1e-6 || diff > 1e-6 {
		t.Errorf("published position = %v rad, want %v", got, want)
	}
	if sink.modes[0] != 0 {
		t.Errorf("mode = %d with healthy hardware, want 0", sink.modes[0])
	}
	if sink.torques[0] != 1.7 {
		t.Errorf("torque = %v, want effort/10 = 1.7", sink.torques[0])
	}
}

// TestPublisherFreezesWhenUnhealthy: hardware_healthy=false publishes
// the last actual position with mode=255 and zero torque, with no
// further prediction.
func TestPublisherFreezesWhenUnhealthy(t *testing.T) {
	state := NewSharedState(50)
	p := NewPredictor(100)
	p.setTarget(50)
	state.SeedPredictor(p)

	now := time.Now()
	state.UpdateFromCycle(ServoSnapshot{ReadAt: now}, 42, 100, 10, GraspMoving, false, ContactSignals{})

	pub, sink, _ := newTestPublisher(t, state)
	pub.runCycle(now.Add(time.Second))
	pub.runCycle(now.Add(2 * time.Second))

	for i, pos := range sink.positions {
		if want := PctToRad(42); pos != want {
			t.Errorf("tick %d published position = %v rad, want frozen %v", i, pos, want)
		}
	}
	if sink.modes[0] != 255 {
		t.Errorf("mode = %d when unhealthy, want 255", sink.modes[0])
	}
	if sink.torques[0] != 0 {
		t.Errorf("torque = %v when unhealthy, want 0", sink.torques[0])
	}
}

// TestPublisherTelemetryEverySixthTick: the internal telemetry record
// is emitted on every 6th publisher tick and carries the deadline-miss
// count supplied by the Control Loop.
func TestPublisherTelemetryEverySixthTick(t *testing.T) {
	state := NewSharedState(50)

	pub, _, tel := newTestPublisher(t, state)
	now := time.Now()
	for i := 0; i < 18; i++ {
		pub.runCycle(now)
	}

	if len(tel.records) != 3 {
		t.Fatalf("telemetry records after 18 ticks = %d, want 3", len(tel.records))
	}
	if tel.records[0].DeadlineMisses != 7 {
		t.Errorf("telemetry deadline misses = %d, want 7", tel.records[0].DeadlineMisses)
	}
}
