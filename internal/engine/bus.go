package engine

// CommandSource is the command-channel collaborator. Its wire
// format/transport is an external concern; the core only needs
// non-blocking access to the latest message.
type CommandSource interface {
	// DrainLatest returns the most recently received command and true,
	// or false if no command has arrived yet. Draining twice with no new
	// messages must return the same stored command both times.
	DrainLatest() (Command, bool)
}

// StatePublisherSink is the robot-facing state-channel collaborator.
type StatePublisherSink interface {
	// PublishState emits one state message: position in external
	// units (radians), an estimated torque (effort/10), and a mode
	// byte (0 normal, 255 error).
	PublishState(positionRad, torque float64, mode uint8) error
}

// TelemetrySink is the internal telemetry-channel collaborator,
// emitted at 30Hz independent of the robot-facing state channel.
type TelemetrySink interface {
	PublishTelemetry(TelemetrySnapshot) error
}

// CalibrationStore persists a CalibrationRecord keyed by servo serial
// number across process restarts. Storage format and path are the
// collaborator's concern; the core only consumes a prior record (for
// drift comparison) and produces an updated one after every successful
// fresh calibration. It never substitutes for the startup contact
// calibration: the Calibrator always re-runs regardless of what Load
// returns.
type CalibrationStore interface {
	// Load returns the last persisted record for servoSerial and true,
	// or false if none exists yet.
	Load(servoSerial string) (CalibrationRecord, bool, error)
	// Save persists rec for servoSerial, overwriting any prior record.
	Save(servoSerial string, rec CalibrationRecord) error
}
