// Package engine implements the real-time gripper control-and-publishing
// core: a 30Hz control loop driving a single Feetech servo, a 200Hz
// predictive state publisher, a grasp state machine, and the startup
// contact-based calibration routine that establishes the closed-position
// reference for raw<->percent conversion.
package engine

import (
	"sync"
	"time"
)

// GraspState is the grasp state machine's four states.
type GraspState int

const (
	GraspIdle GraspState = iota
	GraspMoving
	GraspContact
	GraspGrasping
)

func (s GraspState) String() string {
	switch s {
	case GraspIdle:
		return "idle"
	case GraspMoving:
		return "moving"
	case GraspContact:
		return "contact"
	case GraspGrasping:
		return "grasping"
	default:
		return "unknown"
	}
}

// Command is a single accepted target from the command channel.
// PositionPct and EffortPct are both in [0,100]; EffortPct is retained
// for telemetry fidelity only (the state machine selects force).
type Command struct {
	PositionPct float64
	EffortPct   float64
	ReceivedAt  time.Time
}

// ErrorFlags decodes the servo's hardware-error byte.
type ErrorFlags struct {
	InputVoltage bool
	Overheat     bool
	Encoder      bool
	Shock        bool
	Overload     bool
}

// Critical reports whether any of the flags that must trip
// hardware_healthy=false are set.
func (f ErrorFlags) Critical() bool {
	return f.Overheat || f.Encoder || f.Shock || f.Overload
}

// ServoSnapshot is one atomic multi-register servo read. Every field
// comes from the same bulk-read transaction.
type ServoSnapshot struct {
	RawPosition int32
	CurrentMA   int32
	Load        int16
	HWError     uint8
	TempC       uint8
	// VoltageDV is the supply voltage in tenths of a volt, as the
	// servo reports it.
	VoltageDV uint8
	ReadAt    time.Time
}

// PositionPct converts the snapshot's raw position to external percent
// using the given calibration zero and the servo's raw tick span.
func (s ServoSnapshot) PositionPct(cal CalibrationRecord, rawMax int32) float64 {
	return rawToPct(s.RawPosition, cal.ZeroRaw, rawMax)
}

// CalibrationRecord is the persisted zero reference and the offline-
// measured movement speed consumed by the Predictor.
type CalibrationRecord struct {
	ZeroRaw              int32
	MovementSpeedPctPerS float64
}

// rawToPct maps a raw servo tick to external percent given the
// calibrated zero (0%) and the raw span corresponding to 100%.
func rawToPct(raw, zeroRaw, rawMax int32) float64 {
	span := float64(rawMax - zeroRaw)
	if span == 0 {
		return 0
	}
	pct := float64(raw-zeroRaw) / span * 100.0
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	return pct
}

// pctToRaw is the inverse of rawToPct, used on the write path only.
func pctToRaw(pct float64, zeroRaw, rawMax int32) int32 {
	span := float64(rawMax - zeroRaw)
	return zeroRaw + int32(pct/100.0*span)
}

// QMax is the gripper's full travel span in radians, the unit the
// command/state channels exchange positions in at their boundary; the
// engine's internal Command/SharedState fields stay in percent.
const QMax = 5.4

// RadToPct converts a channel-boundary radian position in [0,QMax] to
// internal percent, clamped to [0,100].
func RadToPct(rad float64) float64 {
	pct := rad / QMax * 100.0
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	return pct
}

// PctToRad is the inverse of RadToPct, used on the state-publish path.
func PctToRad(pct float64) float64 {
	return pct / 100.0 * QMax
}

// SharedState is the single mutex-guarded record through which the
// Control Loop (writer) and State Publisher (reader) communicate.
// The Predictor's sync/target fields live here so the Publisher can
// advance prediction without owning the Predictor.
type SharedState struct {
	mu sync.Mutex

	commandedPositionPct  float64
	lastActualPositionPct float64
	lastActualSampleTime  time.Time
	predictedPositionPct  float64
	graspState            GraspState
	lastCommandReceivedAt time.Time
	hardwareHealthy       bool
	snapshot              ServoSnapshot
	emittedEffortPct      float64
	contactSignals        ContactSignals

	predictor Predictor
}

// NewSharedState returns a SharedState initialized to the calibrated
// rest position, healthy, Idle.
func NewSharedState(restPct float64) *SharedState {
	now := time.Now()
	s := &SharedState{
		commandedPositionPct:  restPct,
		lastActualPositionPct: restPct,
		lastActualSampleTime:  now,
		predictedPositionPct:  restPct,
		graspState:            GraspIdle,
		lastCommandReceivedAt: now,
		hardwareHealthy:       true,
	}
	s.predictor = Predictor{
		lastSyncPos:  restPct,
		lastSyncTime: now,
		targetPos:    restPct,
	}
	return s
}

// PublisherView is the consistent view the State Publisher reads under
// a single critical section: {last_actual, last_sync_time, target,
// hardware_healthy}, plus the emitted effort for the torque estimate.
type PublisherView struct {
	LastActualPositionPct float64
	HardwareHealthy       bool
	EmittedEffortPct      float64
	Predictor             Predictor
}

// ReadForPublish copies the fields the State Publisher needs under one
// lock acquisition; it never exposes the mutex itself.
func (s *SharedState) ReadForPublish() PublisherView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PublisherView{
		LastActualPositionPct: s.lastActualPositionPct,
		HardwareHealthy:       s.hardwareHealthy,
		EmittedEffortPct:      s.emittedEffortPct,
		Predictor:             s.predictor,
	}
}

// SeedPredictor installs the predictor the Supervisor builds after
// calibration (speed from the calibration record, target at rest).
// The Control Loop owns all subsequent sync/target writes via
// UpdateFromCycle; the Publisher only ever steps a copy, which is
// pure, so nothing is ever written back from the publish side.
func (s *SharedState) SeedPredictor(p Predictor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predictor = p
	s.predictedPositionPct = p.Target()
}

// RecordPrediction caches the publisher's most recent step() output so
// the 30Hz telemetry tick can report it.
func (s *SharedState) RecordPrediction(predictedPct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predictedPositionPct = predictedPct
}

// UpdateFromCycle is the Control Loop's single write after a completed
// control cycle: snapshot, derived actual position, commanded target,
// grasp state, and predictor sync/target.
func (s *SharedState) UpdateFromCycle(snap ServoSnapshot, actualPct, commandedPct, effortPct float64, state GraspState, healthy bool, sig ContactSignals) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
	s.lastActualPositionPct = actualPct
	s.lastActualSampleTime = snap.ReadAt
	s.commandedPositionPct = commandedPct
	s.graspState = state
	s.emittedEffortPct = effortPct
	s.hardwareHealthy = healthy
	s.contactSignals = sig
	s.predictor.sync(actualPct, snap.ReadAt)
	s.predictor.setTarget(commandedPct)
}

// RecordCommandReceived updates the heartbeat timestamp.
func (s *SharedState) RecordCommandReceived(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCommandReceivedAt = t
}

// LastCommandReceivedAt returns the heartbeat timestamp.
func (s *SharedState) LastCommandReceivedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCommandReceivedAt
}

// CommandedPositionPct returns the latest accepted target.
func (s *SharedState) CommandedPositionPct() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commandedPositionPct
}

// LastActualPositionPct returns the most recent actual position.
func (s *SharedState) LastActualPositionPct() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActualPositionPct
}

// GraspState returns the current grasp state.
func (s *SharedState) GraspState() GraspState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graspState
}

// HardwareHealthy returns the current health flag.
func (s *SharedState) HardwareHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hardwareHealthy
}

// SetHardwareHealthy flips the health flag (used by the Control Loop's
// error-count/critical-bit policy).
func (s *SharedState) SetHardwareHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hardwareHealthy = healthy
}

// TelemetrySnapshot is the full record the 30Hz telemetry tick emits.
type TelemetrySnapshot struct {
	CommandedPct       float64
	ActualPct          float64
	PredictedPct       float64
	PositionErrorPct   float64
	GraspState         GraspState
	ManagedEffortPct   float64
	HighCurrent        bool
	PositionStagnant   bool
	ContactSampleCount int
	ContactDetected    bool
	TempC              uint8
	CurrentMA          int32
	VoltageDV          uint8
	HWError            uint8
	DeadlineMisses     uint64
}

// TelemetrySnapshot builds the telemetry record from current shared
// state, including the grasp state machine's contact sub-signals
// recorded by the most recent control cycle.
func (s *SharedState) TelemetrySnapshot(misses uint64) TelemetrySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig := s.contactSignals
	return TelemetrySnapshot{
		CommandedPct:       s.commandedPositionPct,
		ActualPct:          s.lastActualPositionPct,
		PredictedPct:       s.predictedPositionPct,
		PositionErrorPct:   s.commandedPositionPct - s.lastActualPositionPct,
		GraspState:         s.graspState,
		ManagedEffortPct:   s.emittedEffortPct,
		HighCurrent:        sig.HighCurrent,
		PositionStagnant:   sig.PositionStagnant,
		ContactSampleCount: sig.ContactSampleCount,
		ContactDetected:    sig.ContactDetected,
		TempC:              s.snapshot.TempC,
		CurrentMA:          s.snapshot.CurrentMA,
		VoltageDV:          s.snapshot.VoltageDV,
		HWError:            s.snapshot.HWError,
		DeadlineMisses:     misses,
	}
}
