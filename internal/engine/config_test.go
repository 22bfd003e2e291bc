package engine

import (
	"testing"
	"time"
)

func TestEngineConfigValidateFillsDefaults(t *testing.T) {
	var cfg EngineConfig
	cfg.RegisterLayout = DefaultRegisterLayout()

	deps, _, err := cfg.Validate()
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if deps != nil {
		t.Errorf("deps = %v, want none", deps)
	}
	if cfg.HeartbeatTimeout != 250*time.Millisecond {
		t.Errorf("heartbeat timeout = %v, want defaulted 250ms", cfg.HeartbeatTimeout)
	}
	if cfg.SafeRangeMinPct != 5 || cfg.SafeRangeMaxPct != 95 {
		t.Errorf("safe range = [%v,%v], want defaulted [5,95]", cfg.SafeRangeMinPct, cfg.SafeRangeMaxPct)
	}
	if cfg.RestPositionPct != 50 {
		t.Errorf("rest position = %v, want defaulted 50", cfg.RestPositionPct)
	}
}

// TestEngineConfigRejectsAliasedRegisters: present_load and
// present_current sharing an address is a firmware-version trap the
// layout validation must catch rather than silently double-reading.
func TestEngineConfigRejectsAliasedRegisters(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.RegisterLayout.PresentCurrentAddr = cfg.RegisterLayout.PresentLoadAddr

	if _, _, err := cfg.Validate(); err == nil {
		t.Fatal("Validate accepted a layout with aliased load/current registers")
	}
}

func TestEngineConfigRejectsNonAdjacentGoalRegisters(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.RegisterLayout.GoalCurrentAddr = cfg.RegisterLayout.GoalPositionAddr + 7

	if _, _, err := cfg.Validate(); err == nil {
		t.Fatal("Validate accepted goal registers a single bulk write cannot span")
	}
}

func TestEngineConfigRejectsInvertedSafeRange(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.SafeRangeMinPct = 95
	cfg.SafeRangeMaxPct = 5

	if _, _, err := cfg.Validate(); err == nil {
		t.Fatal("Validate accepted an inverted safe range")
	}
}

func TestClampToSafeRangeMapsExtremes(t *testing.T) {
	cfg := DefaultEngineConfig()
	if got := cfg.ClampToSafeRange(0); got != 5 {
		t.Errorf("ClampToSafeRange(0) = %v, want 5", got)
	}
	if got := cfg.ClampToSafeRange(100); got != 95 {
		t.Errorf("ClampToSafeRange(100) = %v, want 95", got)
	}
	if got := cfg.ClampToSafeRange(50); got != 50 {
		t.Errorf("ClampToSafeRange(50) = %v, want 50", got)
	}
}
