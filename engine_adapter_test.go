package so_arm

import (
	"testing"
	"time"

	"gripper-engine/internal/engine"
)

// TestInprocCommandSourceDrainIdempotent: draining twice with no new
// command in between yields the same stored command both times.
func TestInprocCommandSourceDrainIdempotent(t *testing.T) {
	src := &inprocCommandSource{}

	if _, ok := src.DrainLatest(); ok {
		t.Fatal("DrainLatest reported a command before any Set")
	}

	want := engine.Command{PositionPct: 30, EffortPct: 50, ReceivedAt: time.Now()}
	src.Set(want)

	first, ok := src.DrainLatest()
	if !ok {
		t.Fatal("DrainLatest returned no command after Set")
	}
	second, ok := src.DrainLatest()
	if !ok {
		t.Fatal("second DrainLatest returned no command")
	}
	if first != second || first != want {
		t.Errorf("drains differ: first=%+v second=%+v want=%+v", first, second, want)
	}
}

func TestInprocCommandSourceKeepsOnlyLatest(t *testing.T) {
	src := &inprocCommandSource{}
	src.Set(engine.Command{PositionPct: 10})
	src.Set(engine.Command{PositionPct: 90})

	got, ok := src.DrainLatest()
	if !ok || got.PositionPct != 90 {
		t.Errorf("DrainLatest = %+v ok=%v, want latest command (90%%)", got, ok)
	}
}

func TestFileCalibrationStoreRoundTrip(t *testing.T) {
	store := newFileCalibrationStore(t.TempDir())

	if _, ok, err := store.Load("6"); err != nil || ok {
		t.Fatalf("Load on empty store = ok=%v err=%v, want absent with no error", ok, err)
	}

	want := engine.CalibrationRecord{ZeroRaw: 1234, MovementSpeedPctPerS: 952.43}
	if err := store.Save("6", want); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	got, ok, err := store.Load("6")
	if err != nil || !ok {
		t.Fatalf("Load after Save = ok=%v err=%v, want present", ok, err)
	}
	if got != want {
		t.Errorf("Load = %+v, want %+v", got, want)
	}

	// A different servo's record stays separate.
	if _, ok, _ := store.Load("1"); ok {
		t.Error("Load for a different servo returned the saved record")
	}
}
