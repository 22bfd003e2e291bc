package engine

import (
	"context"
	"time"

	goutils "go.viam.com/utils"

	"go.viam.com/rdk/logging"
)

// controlJoinTimeout and publisherJoinTimeout bound the Supervisor's
// shutdown wait.
const (
	controlJoinTimeout   = 1500 * time.Millisecond
	publisherJoinTimeout = 1 * time.Second
)

// Supervisor owns the Calibrator-then-threads lifecycle: it runs
// calibration synchronously, then starts the Control Loop and State
// Publisher as background workers, and tears both down within bounded
// timeouts on Stop. It never starts the threads if calibration fails.
type Supervisor struct {
	cfg      EngineConfig
	link     ServoLink
	cmds     CommandSource
	state    StatePublisherSink
	tel      TelemetrySink
	calStore CalibrationStore
	servoKey string
	logger   logging.Logger

	shared *SharedState
	loop   *ControlLoop
	pub    *StatePublisher

	workers *goutils.StoppableWorkers
}

// NewSupervisor builds a Supervisor. Calibration has not yet run; call
// Start to calibrate and launch the runtime threads. calStore and
// servoKey may be left nil/empty, in which case Start skips the
// drift-comparison read and the post-calibration persistence write.
func NewSupervisor(cfg EngineConfig, link ServoLink, cmds CommandSource, stateSink StatePublisherSink, telemetry TelemetrySink, calStore CalibrationStore, servoKey string, logger logging.Logger) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		link:     link,
		cmds:     cmds,
		state:    stateSink,
		tel:      telemetry,
		calStore: calStore,
		servoKey: servoKey,
		logger:   logger,
	}
}

// Start runs the Calibrator synchronously and, on success, launches
// the Control Loop and State Publisher threads. On calibration failure
// it returns the error and starts nothing. The contact-based
// recalibration always runs in full; any persisted record is consulted
// only to log how far the new zero has drifted from the last one.
func (sv *Supervisor) Start(ctx context.Context) error {
	var prior CalibrationRecord
	havePrior := false
	if sv.calStore != nil && sv.servoKey != "" {
		if rec, ok, err := sv.calStore.Load(sv.servoKey); err != nil {
			sv.logger.Warnw("failed to read persisted calibration", "error", err)
		} else if ok {
			prior, havePrior = rec, true
			sv.logger.Infow("found persisted calibration, recalibrating anyway", "prior_zero_raw", prior.ZeroRaw)
		}
	}

	cal := NewCalibrator(sv.cfg, sv.link, sv.logger)
	record, err := cal.Calibrate(ctx)
	if err != nil {
		sv.logger.Errorw("calibration failed, refusing to start control threads", "error", err)
		return err
	}

	if havePrior {
		sv.logger.Infow("calibration zero drift", "prior_zero_raw", prior.ZeroRaw, "zero_raw", record.ZeroRaw, "drift_raw", record.ZeroRaw-prior.ZeroRaw)
	}

	if sv.calStore != nil && sv.servoKey != "" {
		if err := sv.calStore.Save(sv.servoKey, record); err != nil {
			sv.logger.Warnw("failed to persist calibration", "error", err)
		}
	}

	restPct := sv.cfg.RestPositionPct
	sv.shared = NewSharedState(restPct)
	predictor := NewPredictor(record.MovementSpeedPctPerS)
	predictor.setTarget(restPct)
	sv.shared.SeedPredictor(predictor)

	sv.loop = NewControlLoop(sv.cfg, sv.link, record, sv.cmds, sv.shared, sv.logger)
	sv.pub = NewStatePublisher(sv.cfg, sv.shared, sv.state, sv.tel, sv.loop.DeadlineMisses, sv.logger)

	sv.workers = goutils.NewBackgroundStoppableWorkers(sv.loop.Run, sv.pub.Run)
	sv.logger.Info("control loop and state publisher started")
	return nil
}

// Stop signals both threads to exit and blocks until they do, or until
// the bounded join timeout elapses, whichever is first. Control and
// publisher have separate target bounds (1.5s, 1s); both are applied
// as one combined bound since goutils.StoppableWorkers joins both
// workers together.
func (sv *Supervisor) Stop(ctx context.Context) {
	if sv.workers == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		sv.workers.Stop()
		close(done)
	}()

	timeout := controlJoinTimeout
	if publisherJoinTimeout > timeout {
		timeout = publisherJoinTimeout
	}

	select {
	case <-done:
	case <-time.After(timeout):
		sv.logger.Warn("control/publisher threads did not join within timeout, proceeding with teardown")
	}

	if err := sv.link.WriteGoal(ctx, 0, 0); err != nil {
		sv.logger.Warnw("failed to command zero effort during shutdown", "error", err)
	}
	if err := sv.link.Close(); err != nil {
		sv.logger.Warnw("failed to close servo link", "error", err)
	}
}

// SharedState exposes the supervised engine's shared record, e.g. for
// a component wrapper to read current position/grasp state without
// going through the bus collaborators.
func (sv *Supervisor) SharedState() *SharedState {
	return sv.shared
}

// DeadlineMisses returns the Control Loop's rolling deadline-miss
// count, or 0 if the supervisor has not started.
func (sv *Supervisor) DeadlineMisses() uint64 {
	if sv.loop == nil {
		return 0
	}
	return sv.loop.DeadlineMisses()
}
