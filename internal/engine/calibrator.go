package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// CalibrationErrorKind distinguishes calibration failure modes.
type CalibrationErrorKind int

const (
	CalibrationErrorTimeout CalibrationErrorKind = iota
	CalibrationErrorLink
)

// CalibrationError is returned by Calibrate on failure; the Supervisor
// aborts startup on any non-nil error.
type CalibrationError struct {
	Kind CalibrationErrorKind
	Err  error
}

func (e *CalibrationError) Error() string {
	if e.Kind == CalibrationErrorTimeout {
		return "calibration: timed out waiting for contact"
	}
	return errors.Wrap(e.Err, "calibration: link failure").Error()
}

func (e *CalibrationError) Unwrap() error { return e.Err }

// Calibrator runs the synchronous startup contact-detection routine.
// It owns no thread of its own; Supervisor calls Calibrate once before
// starting the Control Loop and State Publisher.
type Calibrator struct {
	cfg    EngineConfig
	link   ServoLink
	logger logging.Logger
}

// NewCalibrator builds a Calibrator against an uncalibrated link.
func NewCalibrator(cfg EngineConfig, link ServoLink, logger logging.Logger) *Calibrator {
	return &Calibrator{cfg: cfg, link: link, logger: logger}
}

// Calibrate drives the gripper closed under a safe current limit until
// contact is confirmed by a stable, high-current window, records the
// raw zero, then retracts to RestPositionPct before returning. It never runs
// concurrently with the Control Loop.
func (c *Calibrator) Calibrate(ctx context.Context) (CalibrationRecord, error) {
	if err := c.link.Reboot(ctx); err != nil {
		return CalibrationRecord{}, &CalibrationError{Kind: CalibrationErrorLink, Err: err}
	}
	if _, err := c.link.ReadState(ctx); err != nil {
		return CalibrationRecord{}, &CalibrationError{Kind: CalibrationErrorLink, Err: err}
	}

	// Raw position is unsigned [0,RawMax] on the wire; goal 0 sits at
	// or below any reachable hard stop, so the servo keeps pushing
	// toward closed until the current limit holds it at the stop.
	const closeGoal = int32(0)
	closeCurrentMA := int32(c.cfg.CalibrationCurrentPct / 100.0 * float64(c.cfg.HardwareMaxMA))
	if err := c.link.WriteGoal(ctx, closeGoal, closeCurrentMA); err != nil {
		return CalibrationRecord{}, &CalibrationError{Kind: CalibrationErrorLink, Err: err}
	}

	deadline := time.Now().Add(c.cfg.CalibrationTimeout)
	window := make([]int32, 0, c.cfg.CalibrationWindowK)
	stableCount := 0

	ticker := time.NewTicker(33 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return CalibrationRecord{}, &CalibrationError{Kind: CalibrationErrorLink, Err: ctx.Err()}
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			_ = c.link.WriteGoal(ctx, closeGoal, 0)
			return CalibrationRecord{}, &CalibrationError{Kind: CalibrationErrorTimeout}
		}

		snap, err := c.link.ReadState(ctx)
		if err != nil {
			c.logger.Warnw("calibration read failed, retrying", "error", err)
			continue
		}

		window = append(window, snap.RawPosition)
		if len(window) > c.cfg.CalibrationWindowK {
			window = window[len(window)-c.cfg.CalibrationWindowK:]
		}

		highCurrent := snap.CurrentMA >= c.cfg.ContactCurrentMA
		stable := len(window) == c.cfg.CalibrationWindowK && windowSpan(window) <= c.cfg.StablePosDelta

		if highCurrent && stable {
			stableCount++
		} else {
			stableCount = 0
		}

		if stableCount >= c.cfg.StableConsecutive {
			return c.finishAtContact(ctx, snap.RawPosition)
		}
	}
}

// finishAtContact records the zero reference, briefly releases torque
// to avoid sustained stall force, then retracts to the rest position
// under a moderate current limit for 1s before returning.
func (c *Calibrator) finishAtContact(ctx context.Context, zeroRaw int32) (CalibrationRecord, error) {
	cal := CalibrationRecord{ZeroRaw: zeroRaw, MovementSpeedPctPerS: c.cfg.MovementSpeedPctPerS}

	if err := c.link.WriteGoal(ctx, zeroRaw, 0); err != nil {
		c.logger.Warnw("failed to relax torque after contact", "error", err)
	}

	retractGoal := pctToRaw(c.cfg.RestPositionPct, zeroRaw, c.cfg.RawMax)
	retractCurrentMA := c.cfg.MovementCurrentMA
	if err := c.link.WriteGoal(ctx, retractGoal, retractCurrentMA); err != nil {
		return CalibrationRecord{}, &CalibrationError{Kind: CalibrationErrorLink, Err: err}
	}
	time.Sleep(time.Second)

	return cal, nil
}

func windowSpan(w []int32) int32 {
	if len(w) == 0 {
		return 0
	}
	min, max := w[0], w[0]
	for _, v := range w[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return max - min
}
