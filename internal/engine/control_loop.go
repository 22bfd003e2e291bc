package engine

import (
	"context"
	"time"

	"go.viam.com/rdk/logging"
)

// ControlLoop runs the fixed 30Hz cycle: ingest command, run the grasp
// state machine, issue write/read against the ServoLink, and update
// shared state. It owns the Predictor's sync/target writes and the
// comm-error/health policy.
type ControlLoop struct {
	cfg       EngineConfig
	link      ServoLink
	cal       CalibrationRecord
	cmds      CommandSource
	state     *SharedState
	fsm       *GraspFSM
	scheduler *Scheduler
	logger    logging.Logger

	commErrorCount int
	lastGoodReadAt time.Time
	loggedHWErrors map[uint8]bool

	// currentSnapshot/currentActualPct is the read most recently
	// completed (from the prior cycle, since this cycle's own read
	// happens after the state machine runs). priorActualPct is one
	// cycle further back, used only for the stagnation comparison.
	currentSnapshot     ServoSnapshot
	currentActualPct    float64
	priorActualPct      float64
	haveCurrentSnapshot bool
}

// NewControlLoop builds a ControlLoop against an already-calibrated
// link.
func NewControlLoop(cfg EngineConfig, link ServoLink, cal CalibrationRecord, cmds CommandSource, state *SharedState, logger logging.Logger) *ControlLoop {
	return &ControlLoop{
		cfg:            cfg,
		link:           link,
		cal:            cal,
		cmds:           cmds,
		state:          state,
		fsm:            NewGraspFSM(cfg.GraspFSM),
		scheduler:      NewScheduler(),
		logger:         logger,
		lastGoodReadAt: time.Now(),
		loggedHWErrors: make(map[uint8]bool),
	}
}

// DeadlineMisses exposes the loop's rolling deadline-miss count.
func (c *ControlLoop) DeadlineMisses() uint64 {
	return c.scheduler.DeadlineMisses()
}

// Run executes cycles until ctx is cancelled, intended to be handed to
// a goutils.StoppableWorkers background worker by the Supervisor.
func (c *ControlLoop) Run(ctx context.Context) {
	lockControlThread(c.logger)

	deadline := time.Now()
	restPct := c.cfg.RestPositionPct
	c.currentActualPct = restPct
	c.priorActualPct = restPct
	lastCmd := Command{PositionPct: restPct, EffortPct: 0, ReceivedAt: time.Now()}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		deadline = c.scheduler.NextDeadline(deadline, c.cfg.ControlPeriod)
		c.scheduler.SleepUntil(deadline)

		cycleStart := time.Now()
		lastCmd = c.runCycle(ctx, lastCmd)
		c.scheduler.RecordIfOverBudget(time.Since(cycleStart), c.cfg.ControlPeriod)
	}
}

// runCycle ingests the latest command, steps the grasp state machine,
// writes the goal, reads hardware state, and updates shared state for
// this cycle, returning the command to carry forward to the next cycle
// (ingestion keeps only the latest).
func (c *ControlLoop) runCycle(ctx context.Context, lastCmd Command) Command {
	now := time.Now()

	if cmd, ok := c.cmds.DrainLatest(); ok {
		lastCmd = cmd
		c.state.RecordCommandReceived(cmd.ReceivedAt)
	}

	heartbeatExpired := now.Sub(c.state.LastCommandReceivedAt()) > c.cfg.HeartbeatTimeout

	goalPct, effortPct, signals := c.fsm.Step(
		lastCmd,
		c.currentSnapshot,
		c.haveCurrentSnapshot,
		c.currentActualPct,
		c.priorActualPct,
		float64(c.cfg.HardwareMaxMA),
		heartbeatExpired,
	)

	// Safety override: a cycle that starts already unhealthy (tripped
	// by a prior cycle's errors) commands the safe position/effort
	// instead of whatever the state machine just computed.
	healthy := c.state.HardwareHealthy()
	if !healthy {
		goalPct = c.cfg.SafePositionPct
		effortPct = c.cfg.SafeEffortPct
	}

	goalRaw := pctToRaw(c.cfg.ClampToSafeRange(goalPct), c.cal.ZeroRaw, c.cfg.RawMax)
	currentLimitMA := int32(effortPct / 100.0 * float64(c.cfg.MaxCurrentMA))

	writeErr := c.link.WriteGoal(ctx, goalRaw, currentLimitMA)
	if writeErr != nil {
		healthy = c.onLinkError(healthy)
	}

	snap, err := c.link.ReadState(ctx)
	if err != nil {
		healthy = c.onLinkError(healthy)
		c.state.SetHardwareHealthy(healthy)
		return lastCmd
	}

	// The consecutive-error count clears only after a cycle with no
	// link error on either side: a write that fails every cycle must
	// still accumulate toward the threshold even while reads succeed.
	if writeErr == nil {
		c.commErrorCount = 0
	}
	c.lastGoodReadAt = snap.ReadAt

	flags := c.link.DecodeError(snap.HWError)
	if snap.HWError != 0 {
		if !c.loggedHWErrors[snap.HWError] {
			c.logger.Warnf("servo reported hardware error code %#x: %+v", snap.HWError, flags)
			c.loggedHWErrors[snap.HWError] = true
		}
		if flags.Critical() {
			healthy = false
		}
	}

	actualPct := snap.PositionPct(c.cal, c.cfg.RawMax)
	c.state.UpdateFromCycle(snap, actualPct, goalPct, effortPct, c.fsm.State(), healthy, signals)

	c.priorActualPct = c.currentActualPct
	c.currentSnapshot = snap
	c.currentActualPct = actualPct
	c.haveCurrentSnapshot = true

	return lastCmd
}

// onLinkError applies the comm-error/health policy: after
// CommErrorThreshold consecutive errors, or CommErrorWindow since the
// last good read, trip hardware_healthy=false.
func (c *ControlLoop) onLinkError(healthy bool) bool {
	c.commErrorCount++
	if c.commErrorCount >= c.cfg.CommErrorThreshold || time.Since(c.lastGoodReadAt) > c.cfg.CommErrorWindow {
		return false
	}
	return healthy
}
