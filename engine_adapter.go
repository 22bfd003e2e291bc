package so_arm

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.viam.com/rdk/logging"

	"gripper-engine/internal/engine"
)

// inprocCommandSource is the Command-channel collaborator for a
// standalone gripper component: Open/Grab/Stop/DoCommand calls store
// the latest target directly, in place of a real message bus.
// DrainLatest is idempotent: once a command has been set, every drain
// returns it until a new one replaces it.
type inprocCommandSource struct {
	mu  sync.Mutex
	cmd engine.Command
	set bool
}

func (c *inprocCommandSource) Set(cmd engine.Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmd = cmd
	c.set = true
}

func (c *inprocCommandSource) DrainLatest() (engine.Command, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.set {
		return engine.Command{}, false
	}
	return c.cmd, true
}

// loggingStateSink implements engine.StatePublisherSink by logging at
// debug only; the robot-facing state bus is out of scope for a
// standalone component wrapper, which instead serves position/grasp
// queries directly from the Supervisor's SharedState via DoCommand.
type loggingStateSink struct {
	logger logging.Logger
}

func (s *loggingStateSink) PublishState(positionRad, torque float64, mode uint8) error {
	s.logger.Debugf("state: position_rad=%.4f torque=%.3f mode=%d", positionRad, torque, mode)
	return nil
}

// loggingTelemetrySink implements engine.TelemetrySink by warning on
// every 100th control-loop deadline miss and debug-logging records that
// carry a hardware-error code; other records, including contact
// detection, are not logged.
type loggingTelemetrySink struct {
	logger logging.Logger
}

func (s *loggingTelemetrySink) PublishTelemetry(t engine.TelemetrySnapshot) error {
	if t.DeadlineMisses > 0 && t.DeadlineMisses%100 == 0 {
		s.logger.Warnf("control loop deadline misses: %d", t.DeadlineMisses)
	}
	if t.HWError != 0 {
		s.logger.Debugf("telemetry: hw_error=%#x temp=%dC current=%dmA", t.HWError, t.TempC, t.CurrentMA)
	}
	return nil
}

// fileCalibrationStore implements engine.CalibrationStore as one JSON
// file per servo serial under dir, e.g. <dir>/6_calibration.json for
// servo ID 6. dir defaults to VIAM_MODULE_DATA when empty, falling
// back to /tmp.
type fileCalibrationStore struct {
	dir string
}

func newFileCalibrationStore(dir string) *fileCalibrationStore {
	if dir == "" {
		dir = os.Getenv("VIAM_MODULE_DATA")
	}
	if dir == "" {
		dir = "/tmp"
	}
	return &fileCalibrationStore{dir: dir}
}

func (s *fileCalibrationStore) path(servoSerial string) string {
	return filepath.Join(s.dir, servoSerial+"_calibration.json")
}

type calibrationFileFormat struct {
	ZeroRaw              int32   `json:"zero_raw"`
	MovementSpeedPctPerS float64 `json:"movement_speed_pct_per_s"`
}

func (s *fileCalibrationStore) Load(servoSerial string) (engine.CalibrationRecord, bool, error) {
	data, err := os.ReadFile(s.path(servoSerial))
	if os.IsNotExist(err) {
		return engine.CalibrationRecord{}, false, nil
	}
	if err != nil {
		return engine.CalibrationRecord{}, false, err
	}
	var ff calibrationFileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return engine.CalibrationRecord{}, false, err
	}
	return engine.CalibrationRecord{
		ZeroRaw:              ff.ZeroRaw,
		MovementSpeedPctPerS: ff.MovementSpeedPctPerS,
	}, true, nil
}

func (s *fileCalibrationStore) Save(servoSerial string, rec engine.CalibrationRecord) error {
	data, err := json.MarshalIndent(calibrationFileFormat{
		ZeroRaw:              rec.ZeroRaw,
		MovementSpeedPctPerS: rec.MovementSpeedPctPerS,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(servoSerial), data, 0o644)
}
