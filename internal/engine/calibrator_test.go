package engine

import (
	"context"
	"testing"
	"time"

	"go.viam.com/rdk/logging"
)

// scriptedLink is a ServoLink double that plays back a fixed sequence
// of raw positions/currents on successive ReadState calls, simulating
// a gripper driving into a hard stop.
type scriptedLink struct {
	positions []int32
	currents  []int32
	idx       int
	rebooted  bool
	writes    []struct{ positionRaw, currentLimitMA int32 }
}

func (s *scriptedLink) ReadState(ctx context.Context) (ServoSnapshot, error) {
	i := s.idx
	if i >= len(s.positions) {
		i = len(s.positions) - 1
	}
	s.idx++
	return ServoSnapshot{RawPosition: s.positions[i], CurrentMA: s.currents[i], ReadAt: time.Now()}, nil
}

func (s *scriptedLink) WriteGoal(ctx context.Context, positionRaw, currentLimitMA int32) error {
	s.writes = append(s.writes, struct{ positionRaw, currentLimitMA int32 }{positionRaw, currentLimitMA})
	return nil
}

func (s *scriptedLink) Reboot(ctx context.Context) error {
	s.rebooted = true
	return nil
}

func (s *scriptedLink) DecodeError(b uint8) ErrorFlags { return ErrorFlags{} }

func (s *scriptedLink) Close() error { return nil }

// TestCalibratorScenarioE drives a full approach-to-contact: contact is
// confirmed once current and position both stabilize for
// STABLE_CONSECUTIVE cycles, zero_raw is recorded at that position, and
// the gripper retracts.
func TestCalibratorScenarioE(t *testing.T) {
	cfg := testCfg()
	cfg.CalibrationTimeout = 3 * time.Second
	// Approach, then settle at raw=100 for nine reads, exactly the
	// WindowK+StableConsecutive-1 needed to confirm contact (reads past
	// the end of the script repeat the last sample).
	positions := []int32{4000, 3000, 2000, 1000, 500, 200, 100, 100, 100, 100, 100, 100, 100, 100, 100}
	currents := []int32{50, 60, 80, 120, 200, 280, 350, 350, 350, 350, 350, 350, 350, 350, 350}
	link := &scriptedLink{positions: positions, currents: currents}

	cal := NewCalibrator(cfg, link, logging.NewTestLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	record, err := cal.Calibrate(ctx)
	if err != nil {
		t.Fatalf("Calibrate returned error: %v", err)
	}
	if !link.rebooted {
		t.Error("expected Reboot to be called before driving closed")
	}
	if record.ZeroRaw != 100 {
		t.Errorf("zero_raw = %v, want 100 (the settled contact position)", record.ZeroRaw)
	}

	if len(link.writes) == 0 {
		t.Fatal("expected WriteGoal calls during calibration")
	}
	// The close approach targets raw 0 (at or below any reachable hard
	// stop) under the 30% calibration current cap, never a negative
	// goal that would encode as a large positive tick.
	closeWrite := link.writes[0]
	if closeWrite.positionRaw != 0 {
		t.Errorf("close-approach goal = %v, want 0", closeWrite.positionRaw)
	}
	wantCurrent := int32(cfg.CalibrationCurrentPct / 100.0 * float64(cfg.HardwareMaxMA))
	if closeWrite.currentLimitMA != wantCurrent {
		t.Errorf("close-approach current limit = %v, want %v", closeWrite.currentLimitMA, wantCurrent)
	}
	for i, w := range link.writes {
		if w.positionRaw < 0 {
			t.Errorf("write %d commanded negative raw goal %v", i, w.positionRaw)
		}
	}

	// After contact: torque relaxed at the zero, then retract to rest.
	last := link.writes[len(link.writes)-1]
	if want := pctToRaw(cfg.RestPositionPct, record.ZeroRaw, cfg.RawMax); last.positionRaw != want {
		t.Errorf("retract goal = %v, want %v (rest position)", last.positionRaw, want)
	}
	if last.currentLimitMA != cfg.MovementCurrentMA {
		t.Errorf("retract current limit = %v, want %v", last.currentLimitMA, cfg.MovementCurrentMA)
	}
}

// TestCalibratorTimesOutWithoutContact covers the abort path: if
// contact is never confirmed, Calibrate returns a timeout
// CalibrationError.
func TestCalibratorTimesOutWithoutContact(t *testing.T) {
	cfg := testCfg()
	cfg.CalibrationTimeout = 80 * time.Millisecond

	positions := make([]int32, 100)
	currents := make([]int32, 100)
	for i := range positions {
		positions[i] = int32(2000 - i*5) // steadily moving, never settles
		currents[i] = 50                 // never crosses the contact-current threshold
	}
	link := &scriptedLink{positions: positions, currents: currents}

	cal := NewCalibrator(cfg, link, logging.NewTestLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := cal.Calibrate(ctx)
	if err == nil {
		t.Fatal("expected a timeout CalibrationError, got nil")
	}
	calErr, ok := err.(*CalibrationError)
	if !ok {
		t.Fatalf("error type = %T, want *CalibrationError", err)
	}
	if calErr.Kind != CalibrationErrorTimeout {
		t.Errorf("error kind = %v, want CalibrationErrorTimeout", calErr.Kind)
	}
}
