// Command grippercli drives a standalone SO-101 gripper engine for
// manual bring-up: it runs startup calibration, then alternates
// open/close commands while printing position and grasp-state
// telemetry, the way position_reader.go did for the arm.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	soarm "gripper-engine"

	"go.viam.com/rdk/logging"
)

func main() {
	port := flag.String("port", "/dev/ttyUSB0", "serial port for the gripper's feetech servo bus")
	servoID := flag.Int("servo-id", 6, "feetech servo ID for the gripper")
	baudrate := flag.Int("baudrate", 1000000, "serial baud rate")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := logging.NewLogger("grippercli")

	cfg := &soarm.SO101GripperConfig{
		Port:     *port,
		ServoID:  *servoID,
		Baudrate: *baudrate,
		Timeout:  5 * time.Second,
	}

	logger.Infof("starting gripper engine on %s (servo %d)", *port, *servoID)
	g, err := soarm.NewSO101Gripper(ctx, "grippercli", cfg, logger)
	if err != nil {
		logger.Fatalf("gripper startup/calibration failed: %v", err)
	}
	defer g.Close(ctx)

	logger.Info("calibration complete, cycling open/close")

	for i := 0; i < 5 && ctx.Err() == nil; i++ {
		logger.Info("opening")
		if err := g.Open(ctx, nil); err != nil {
			logger.Errorf("open failed: %v", err)
		}
		reportState(ctx, g, logger)

		time.Sleep(500 * time.Millisecond)

		logger.Info("closing")
		grabbed, err := g.Grab(ctx, nil)
		if err != nil {
			logger.Errorf("grab failed: %v", err)
		} else {
			logger.Infof("grab result: holding_something=%v", grabbed)
		}
		reportState(ctx, g, logger)

		time.Sleep(500 * time.Millisecond)
	}

	logger.Info("cycle complete")
}

func reportState(ctx context.Context, g interface {
	DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error)
}, logger logging.Logger) {
	status, err := g.DoCommand(ctx, map[string]interface{}{"command": "get_position"})
	if err != nil {
		logger.Errorf("get_position failed: %v", err)
		return
	}
	fmt.Printf("position=%.1f%% commanded=%.1f%% grasp_state=%v\n",
		status["position_percentage"], status["commanded_percentage"], status["grasp_state"])
}
