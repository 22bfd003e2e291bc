package engine

import (
	"time"

	"github.com/pkg/errors"
)

// EngineConfig is the validated configuration record the engine
// consumes at construction. Config-file parsing is an external
// collaborator's job; Validate fills in defaults and range-checks
// fields the same way RDK resource configs do.
type EngineConfig struct {
	// Servo current limits, in mA.
	HoldingCurrentMA  int32
	MovementCurrentMA int32
	MaxCurrentMA      int32
	HardwareMaxMA     int32

	// Temperature thresholds, in Celsius.
	TempWarningC  uint8
	TempAdvisoryC uint8
	TempShutdownC uint8
	TempHWMaxC    uint8

	RegisterLayout RegisterLayout

	// RawMax is the raw tick value corresponding to 100% (fully open).
	RawMax int32

	GraspFSM GraspFSMConfig

	HeartbeatTimeout time.Duration

	// Calibration parameters, used by the startup contact calibration.
	CalibrationCurrentPct float64
	StableConsecutive     int
	StablePosDelta        int32
	ContactCurrentMA      int32
	CalibrationTimeout    time.Duration
	CalibrationWindowK    int

	// MovementSpeedPctPerS is the Predictor's offline-measured speed.
	MovementSpeedPctPerS float64

	ControlPeriod   time.Duration
	PublisherPeriod time.Duration

	// SafeRangeMin/Max clamp the external->servo write path; the
	// read/report path stays unclamped [0,100].
	SafeRangeMinPct float64
	SafeRangeMaxPct float64

	SafePositionPct float64
	SafeEffortPct   float64

	// RestPositionPct is where the Calibrator leaves the gripper after
	// a successful calibration and what the Control Loop targets until
	// the first command arrives.
	RestPositionPct float64

	CommErrorThreshold int
	CommErrorWindow    time.Duration
}

// DefaultEngineConfig returns the stock production tuning, with the
// register layout and grasp thresholds set to their standard values.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HoldingCurrentMA:      200,
		MovementCurrentMA:     500,
		MaxCurrentMA:          1000,
		HardwareMaxMA:         1500,
		TempWarningC:          50,
		TempAdvisoryC:         60,
		TempShutdownC:         70,
		TempHWMaxC:            80,
		RegisterLayout:        DefaultRegisterLayout(),
		RawMax:                4095,
		GraspFSM:              DefaultGraspFSMConfig(),
		HeartbeatTimeout:      250 * time.Millisecond,
		CalibrationCurrentPct: 30,
		StableConsecutive:     5,
		StablePosDelta:        2,
		ContactCurrentMA:      300,
		CalibrationTimeout:    7 * time.Second,
		CalibrationWindowK:    5,
		MovementSpeedPctPerS:  100,
		ControlPeriod:         time.Second / 30,
		PublisherPeriod:       time.Second / 200,
		SafeRangeMinPct:       5,
		SafeRangeMaxPct:       95,
		SafePositionPct:       50,
		SafeEffortPct:         10,
		RestPositionPct:       50,
		CommErrorThreshold:    5,
		CommErrorWindow:       2 * time.Second,
	}
}

// Validate fills in defaults for unset timing, calibration-window,
// safe-range, grasp-threshold, rest-position and comm-error fields (plus
// HardwareMaxMA and RawMax), then checks the register layout and the
// safe range, returning ([]string of dependencies, []string of
// warnings, error) per RDK's resource config convention. The other
// current limits, temperature thresholds, calibration current/contact
// thresholds and safe position/effort are left as given, unchecked.
func (c *EngineConfig) Validate() ([]string, []string, error) {
	var warnings []string
	def := DefaultEngineConfig()

	if c.HardwareMaxMA <= 0 {
		c.HardwareMaxMA = def.HardwareMaxMA
		warnings = append(warnings, "hardware_max_ma defaulted")
	}
	if c.RawMax <= 0 {
		c.RawMax = def.RawMax
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.ControlPeriod <= 0 {
		c.ControlPeriod = def.ControlPeriod
	}
	if c.PublisherPeriod <= 0 {
		c.PublisherPeriod = def.PublisherPeriod
	}
	if c.MovementSpeedPctPerS <= 0 {
		c.MovementSpeedPctPerS = def.MovementSpeedPctPerS
	}
	if c.StableConsecutive <= 0 {
		c.StableConsecutive = def.StableConsecutive
	}
	if c.CalibrationWindowK <= 0 {
		c.CalibrationWindowK = def.CalibrationWindowK
	}
	if c.CalibrationTimeout <= 0 {
		c.CalibrationTimeout = def.CalibrationTimeout
	}
	if c.SafeRangeMaxPct == 0 && c.SafeRangeMinPct == 0 {
		c.SafeRangeMinPct = def.SafeRangeMinPct
		c.SafeRangeMaxPct = def.SafeRangeMaxPct
	}
	if c.GraspFSM.ContactConsecutive <= 0 {
		c.GraspFSM = def.GraspFSM
	}
	if c.RestPositionPct <= 0 || c.RestPositionPct > 100 {
		c.RestPositionPct = def.RestPositionPct
	}
	if c.CommErrorThreshold <= 0 {
		c.CommErrorThreshold = def.CommErrorThreshold
	}
	if c.CommErrorWindow <= 0 {
		c.CommErrorWindow = def.CommErrorWindow
	}

	if err := c.RegisterLayout.Validate(); err != nil {
		return nil, warnings, errors.Wrap(err, "invalid register layout")
	}
	if c.SafeRangeMinPct < 0 || c.SafeRangeMaxPct > 100 || c.SafeRangeMinPct >= c.SafeRangeMaxPct {
		return nil, warnings, errors.New("safe range must satisfy 0 <= min < max <= 100")
	}

	return nil, warnings, nil
}

// ClampToSafeRange maps external [0,100] to the servo-safe sub-range
// on the write path only; it must never be applied to the externally
// reported position.
func (c EngineConfig) ClampToSafeRange(pct float64) float64 {
	span := c.SafeRangeMaxPct - c.SafeRangeMinPct
	return c.SafeRangeMinPct + pct/100.0*span
}
