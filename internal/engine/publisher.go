package engine

import (
	"context"
	"time"

	"go.viam.com/rdk/logging"
)

// StatePublisher runs the 200Hz publishing cycle: snapshot shared
// state, advance the predictor (or freeze at last_actual when
// unhealthy), emit a state message, and every 6th tick an internal
// telemetry record. It performs no servo I/O.
type StatePublisher struct {
	cfg       EngineConfig
	state     *SharedState
	stateSink StatePublisherSink
	telemetry TelemetrySink
	misses    func() uint64
	scheduler *Scheduler
	logger    logging.Logger

	tick uint64
}

// NewStatePublisher builds a StatePublisher. misses supplies the
// Control Loop's rolling deadline-miss count for telemetry records.
func NewStatePublisher(cfg EngineConfig, state *SharedState, stateSink StatePublisherSink, telemetry TelemetrySink, misses func() uint64, logger logging.Logger) *StatePublisher {
	return &StatePublisher{
		cfg:       cfg,
		state:     state,
		stateSink: stateSink,
		telemetry: telemetry,
		misses:    misses,
		scheduler: NewScheduler(),
		logger:    logger,
	}
}

// DeadlineMisses exposes this publisher's own rolling deadline-miss
// count, tracked independently of the Control Loop's.
func (p *StatePublisher) DeadlineMisses() uint64 {
	return p.scheduler.DeadlineMisses()
}

// Run executes cycles until ctx is cancelled, intended to be handed to
// a goutils.StoppableWorkers background worker by the Supervisor.
func (p *StatePublisher) Run(ctx context.Context) {
	deadline := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		deadline = p.scheduler.NextDeadline(deadline, p.cfg.PublisherPeriod)
		p.scheduler.SleepUntil(deadline)

		cycleStart := time.Now()
		p.runCycle(cycleStart)
		p.scheduler.RecordIfOverBudget(time.Since(cycleStart), p.cfg.PublisherPeriod)
	}
}

// runCycle reads shared state, advances the predictor, publishes a
// state message, and emits telemetry every 6th tick.
func (p *StatePublisher) runCycle(now time.Time) {
	view := p.state.ReadForPublish()

	var positionPct float64
	if view.HardwareHealthy {
		positionPct = view.Predictor.Step(now)
	} else {
		positionPct = view.LastActualPositionPct
	}
	p.state.RecordPrediction(positionPct)

	mode := uint8(0)
	torque := view.EmittedEffortPct / 10.0
	if !view.HardwareHealthy {
		mode = 255
		torque = 0
	}
	positionRad := PctToRad(positionPct)

	if err := p.stateSink.PublishState(positionRad, torque, mode); err != nil {
		p.logger.Warnw("state publish failed", "error", err)
	}

	p.tick++
	if p.tick%6 == 0 {
		snap := p.state.TelemetrySnapshot(p.misses())
		if err := p.telemetry.PublishTelemetry(snap); err != nil {
			p.logger.Warnw("telemetry publish failed", "error", err)
		}
	}
}
