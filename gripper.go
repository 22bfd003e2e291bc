package so_arm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"

	"gripper-engine/internal/engine"
)

var SO101GripperModel = resource.NewModel("devrel", "so101", "gripper")

// SO101GripperConfig configures the real-time gripper engine (control
// loop + state publisher + grasp state machine + startup contact
// calibration) for a single Feetech servo.
type SO101GripperConfig struct {
	Port     string `json:"port,omitempty"`
	Baudrate int    `json:"baudrate,omitempty"`

	// Default to 6
	ServoID int `json:"servo_id,omitempty"`

	Timeout time.Duration `json:"timeout,omitempty"`

	// MovementSpeedPercentPerSec is the Predictor's offline-measured
	// speed; it is not derived from calibration.
	MovementSpeedPercentPerSec float64 `json:"movement_speed_percent_per_sec,omitempty"`

	HoldingCurrentMA  int32 `json:"holding_current_ma,omitempty"`
	MovementCurrentMA int32 `json:"movement_current_ma,omitempty"`
	MaxCurrentMA      int32 `json:"max_current_ma,omitempty"`
	HardwareMaxMA     int32 `json:"hardware_max_current_ma,omitempty"`

	HeartbeatTimeoutMillis int `json:"heartbeat_timeout_ms,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *SO101GripperConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Port == "" {
		return nil, nil, fmt.Errorf("must specify port for serial communication")
	}

	if cfg.ServoID == 0 {
		cfg.ServoID = 6
	}
	if cfg.ServoID < 1 || cfg.ServoID > 6 {
		return nil, nil, fmt.Errorf("servo_id must be between 1 and 6, got %d", cfg.ServoID)
	}

	if cfg.Baudrate == 0 {
		cfg.Baudrate = 1000000
	}

	return nil, nil, nil
}

// engineConfig builds the validated engine.EngineConfig this component's
// Supervisor runs against, layering config overrides on
// engine.DefaultEngineConfig().
func (cfg *SO101GripperConfig) engineConfig() (engine.EngineConfig, error) {
	ec := engine.DefaultEngineConfig()

	if cfg.MovementSpeedPercentPerSec > 0 {
		ec.MovementSpeedPctPerS = cfg.MovementSpeedPercentPerSec
	}
	if cfg.HoldingCurrentMA > 0 {
		ec.HoldingCurrentMA = cfg.HoldingCurrentMA
	}
	if cfg.MovementCurrentMA > 0 {
		ec.MovementCurrentMA = cfg.MovementCurrentMA
	}
	if cfg.MaxCurrentMA > 0 {
		ec.MaxCurrentMA = cfg.MaxCurrentMA
	}
	if cfg.HardwareMaxMA > 0 {
		ec.HardwareMaxMA = cfg.HardwareMaxMA
	}
	if cfg.HeartbeatTimeoutMillis > 0 {
		ec.HeartbeatTimeout = time.Duration(cfg.HeartbeatTimeoutMillis) * time.Millisecond
	}

	if _, _, err := ec.Validate(); err != nil {
		return engine.EngineConfig{}, err
	}
	return ec, nil
}

// so101Gripper owns a Supervisor running the engine's Control Loop and
// State Publisher against a single servo. The serial handle is owned
// exclusively by the engine post-calibration; this wrapper only ever
// talks to the engine through the Supervisor's
// SharedState and the inprocCommandSource.
type so101Gripper struct {
	resource.AlwaysRebuild

	name       resource.Name
	logger     logging.Logger
	servoID    int
	geometries []spatialmath.Geometry

	ec   engine.EngineConfig
	cmds *inprocCommandSource
	sv   *engine.Supervisor
}

func init() {
	resource.RegisterComponent(
		gripper.API,
		SO101GripperModel,
		resource.Registration[gripper.Gripper, *SO101GripperConfig]{
			Constructor: newSO101Gripper,
		},
	)
}

// NewSO101Gripper builds a standalone gripper engine outside the RDK
// registry, for debug tooling (cmd/grippercli) that wants a
// gripper.Gripper without standing up a full resource graph.
func NewSO101Gripper(ctx context.Context, name string, cfg *SO101GripperConfig, logger logging.Logger) (gripper.Gripper, error) {
	if _, _, err := cfg.Validate(name); err != nil {
		return nil, err
	}
	conf := resource.Config{
		Name:                name,
		API:                 gripper.API,
		Model:               SO101GripperModel,
		ConvertedAttributes: cfg,
	}
	return newSO101Gripper(ctx, resource.Dependencies{}, conf, logger)
}

func newSO101Gripper(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (gripper.Gripper, error) {
	cfg, err := resource.NativeConfig[*SO101GripperConfig](conf)
	if err != nil {
		return nil, err
	}
	if _, _, err := cfg.Validate(conf.ResourceName().String()); err != nil {
		return nil, err
	}

	ec, err := cfg.engineConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid gripper engine configuration: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = time.Second
	}
	link, err := engine.NewFeetechServoLink(cfg.Port, cfg.Baudrate, cfg.ServoID, ec.RegisterLayout, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open servo link on %s: %w", cfg.Port, err)
	}

	cmds := &inprocCommandSource{}
	calStore := newFileCalibrationStore("")
	servoKey := fmt.Sprintf("%d", cfg.ServoID)
	sv := engine.NewSupervisor(ec, link, cmds, &loggingStateSink{logger: logger}, &loggingTelemetrySink{logger: logger}, calStore, servoKey, logger)

	if err := sv.Start(ctx); err != nil {
		return nil, fmt.Errorf("gripper calibration/startup failed: %w", err)
	}

	clawSize := r3.Vector{X: 67.0455, Y: 53.027, Z: 106.4}
	claws, err := spatialmath.NewBox(spatialmath.NewPoseFromPoint(r3.Vector{X: 0, Y: 0, Z: clawSize.Z / 2}), clawSize, "claws")
	if err != nil {
		return nil, fmt.Errorf("failed to build gripper geometry: %w", err)
	}

	g := &so101Gripper{
		name:       conf.ResourceName(),
		logger:     logger,
		servoID:    cfg.ServoID,
		geometries: []spatialmath.Geometry{claws},
		ec:         ec,
		cmds:       cmds,
		sv:         sv,
	}

	logger.Infof("SO-101 gripper engine started on servo %d (port %s)", cfg.ServoID, cfg.Port)
	return g, nil
}

func (g *so101Gripper) Name() resource.Name {
	return g.name
}

func (g *so101Gripper) Open(ctx context.Context, extra map[string]interface{}) error {
	g.logger.Debug("commanding gripper open")
	return g.driveTo(ctx, 100, 20, 5*time.Second)
}

// Grab commands the gripper closed and waits for the grasp state
// machine to report Contact or Grasping (a grab) or a fully-closed
// settle with no contact (nothing grabbed). The close command is
// re-issued every poll so the engine sees a live stream rather than a
// single message that would trip the heartbeat watchdog mid-close.
func (g *so101Gripper) Grab(ctx context.Context, extra map[string]interface{}) (bool, error) {
	g.logger.Debug("commanding gripper close for grab")

	closedPct := g.ec.ClampToSafeRange(0)
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}

		g.cmds.Set(engine.Command{PositionPct: 0, EffortPct: 50, ReceivedAt: time.Now()})

		state := g.sv.SharedState()
		switch state.GraspState() {
		case engine.GraspContact, engine.GraspGrasping:
			return true, nil
		case engine.GraspIdle:
			if math.Abs(state.LastActualPositionPct()-closedPct) < 1.5 {
				return false, nil
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false, fmt.Errorf("grab timed out after 10s")
}

func (g *so101Gripper) Stop(ctx context.Context, extra map[string]interface{}) error {
	actual := g.sv.SharedState().LastActualPositionPct()
	g.cmds.Set(engine.Command{PositionPct: actual, EffortPct: 0, ReceivedAt: time.Now()})
	return nil
}

func (g *so101Gripper) IsMoving(ctx context.Context) (bool, error) {
	return g.sv.SharedState().GraspState() == engine.GraspMoving, nil
}

func (g *so101Gripper) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return g.geometries, nil
}

func (g *so101Gripper) IsHoldingSomething(ctx context.Context, extra map[string]interface{}) (gripper.HoldingStatus, error) {
	state := g.sv.SharedState().GraspState()
	holding := state == engine.GraspContact || state == engine.GraspGrasping
	return gripper.HoldingStatus{IsHoldingSomething: holding}, nil
}

// driveTo streams targetPct at the engine until the grasp state machine
// settles back to Idle near the servo-achievable position (the
// safe-range clamp keeps a commanded 0 or 100 from ever reading back
// exactly). Re-issuing the command each poll stands in for the 200Hz
// bus stream the heartbeat watchdog expects.
func (g *so101Gripper) driveTo(ctx context.Context, targetPct, effortPct float64, timeout time.Duration) error {
	achievable := g.ec.ClampToSafeRange(targetPct)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		g.cmds.Set(engine.Command{PositionPct: targetPct, EffortPct: effortPct, ReceivedAt: time.Now()})

		state := g.sv.SharedState()
		if state.GraspState() == engine.GraspIdle && math.Abs(state.LastActualPositionPct()-achievable) < 1.5 {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("gripper did not settle near %.1f%% within %s", achievable, timeout)
}

func (g *so101Gripper) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "get_position":
		state := g.sv.SharedState()
		actualPct := state.LastActualPositionPct()
		return map[string]interface{}{
			"position_percentage":  actualPct,
			"position_rad":         engine.PctToRad(actualPct),
			"commanded_percentage": state.CommandedPositionPct(),
			"grasp_state":          state.GraspState().String(),
		}, nil

	case "set_position":
		var percentage float64
		switch {
		case cmd["position_rad"] != nil:
			rad, ok := cmd["position_rad"].(float64)
			if !ok {
				return nil, fmt.Errorf("set_position command's 'position_rad' parameter must be a number")
			}
			percentage = engine.RadToPct(rad)
		case cmd["percentage"] != nil:
			pct, ok := cmd["percentage"].(float64)
			if !ok {
				return nil, fmt.Errorf("set_position command's 'percentage' parameter must be a number")
			}
			percentage = pct
		default:
			return nil, fmt.Errorf("set_position command requires a 'position_rad' or 'percentage' parameter")
		}
		if percentage < 0 {
			percentage = 0
		}
		if percentage > 100 {
			percentage = 100
		}
		effort := 20.0
		if e, ok := cmd["effort_percentage"].(float64); ok {
			effort = e
		} else if e, ok := cmd["effort"].(float64); ok {
			effort = e * 100
		}
		g.cmds.Set(engine.Command{PositionPct: percentage, EffortPct: effort, ReceivedAt: time.Now()})
		return map[string]interface{}{"success": true}, nil

	case "get_hardware_status":
		state := g.sv.SharedState()
		return map[string]interface{}{
			"hardware_healthy": state.HardwareHealthy(),
			"deadline_misses":  g.sv.DeadlineMisses(),
		}, nil

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

func (g *so101Gripper) Close(ctx context.Context) error {
	g.sv.Stop(ctx)
	return nil
}

func (g *so101Gripper) CurrentInputs(ctx context.Context) ([]referenceframe.Input, error) {
	return nil, errors.ErrUnsupported
}

func (g *so101Gripper) GoToInputs(ctx context.Context, inputs ...[]referenceframe.Input) error {
	return errors.ErrUnsupported
}

func (g *so101Gripper) Kinematics(ctx context.Context) (referenceframe.Model, error) {
	return nil, errors.ErrUnsupported
}
