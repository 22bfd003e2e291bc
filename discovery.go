// discovery.go
package so_arm

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
)

var SO101DiscoveryModel = resource.NewModel("devrel", "so101", "discovery")

func init() {
	resource.RegisterService(
		discovery.API,
		SO101DiscoveryModel,
		resource.Registration[discovery.Service, *SO101DiscoveryConfig]{
			Constructor: newSO101Discovery,
		})
}

// SO101DiscoveryConfig configures the gripper's port-discovery service.
// ServoID is the gripper servo's address; defaults to 6 to match
// SO101GripperConfig's default.
type SO101DiscoveryConfig struct {
	ServoID int `json:"servo_id,omitempty"`
}

func (cfg *SO101DiscoveryConfig) Validate(path string) ([]string, []string, error) {
	if cfg.ServoID == 0 {
		cfg.ServoID = 6
	}
	return nil, nil, nil
}

// so101Discovery scans serial ports for a responding gripper servo and
// emits SO101GripperConfig component configs ready to add to the
// machine, the way a real bring-up session finds which USB port the
// gripper landed on this boot.
type so101Discovery struct {
	resource.Named
	resource.AlwaysRebuild
	resource.TriviallyCloseable
	servoID int
	logger  logging.Logger
}

func newSO101Discovery(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (discovery.Service, error) {
	cfg, err := resource.NativeConfig[*SO101DiscoveryConfig](conf)
	if err != nil {
		return nil, err
	}
	return &so101Discovery{
		Named:   conf.ResourceName().AsNamed(),
		servoID: cfg.ServoID,
		logger:  logger,
	}, nil
}

// DiscoverResources scans serial ports for a responding gripper servo
// and returns one gripper.Gripper config per port that answers a ping.
func (dis *so101Discovery) DiscoverResources(ctx context.Context, extra map[string]any) ([]resource.Config, error) {
	dis.logger.Info("starting SO-101 gripper discovery")

	allPorts := enumerateSerialPorts()
	dis.logger.Debugf("found %d total serial ports", len(allPorts))

	candidates := filterCandidatePorts(allPorts)
	dis.logger.Debugf("filtered to %d candidate ports", len(candidates))

	var configs []resource.Config
	for _, portPath := range candidates {
		select {
		case <-ctx.Done():
			dis.logger.Info("discovery cancelled")
			return configs, ctx.Err()
		default:
		}

		if !dis.pingGripperServo(portPath) {
			dis.logger.Debugf("no gripper servo detected on %s", portPath)
			continue
		}

		portSuffix := extractPortSuffix(portPath)
		dis.logger.Infof("discovered gripper servo %d on %s", dis.servoID, portPath)

		configs = append(configs, resource.Config{
			Name:  "so101-gripper-" + portSuffix,
			API:   gripper.API,
			Model: SO101GripperModel,
			Attributes: map[string]interface{}{
				"port":     portPath,
				"servo_id": dis.servoID,
			},
		})
	}

	if len(configs) == 0 {
		dis.logger.Info("no SO-101 gripper discovered")
	} else {
		dis.logger.Infof("discovered %d gripper configuration(s)", len(configs))
	}
	return configs, nil
}

// pingGripperServo opens portPath briefly and pings the configured
// servo ID, the cheapest way to confirm a gripper (not some unrelated
// USB-serial device) is attached there.
func (dis *so101Discovery) pingGripperServo(portPath string) bool {
	busConfig := feetech.BusConfig{
		Port:     portPath,
		BaudRate: 1000000,
		Protocol: feetech.ProtocolSTS,
		Timeout:  500 * time.Millisecond,
	}
	bus, err := feetech.NewBus(busConfig)
	if err != nil {
		dis.logger.Debugf("failed to open port %s: %v", portPath, err)
		return false
	}
	defer bus.Close()

	servo := feetech.NewServo(bus, dis.servoID, &feetech.ModelSTS3215)
	_, err = servo.Ping(context.Background())
	return err == nil
}

// filterCandidatePorts filters serial ports by platform-specific naming patterns
func filterCandidatePorts(ports []string) []string {
	candidates := []string{}
	for _, port := range ports {
		if isCandidatePort(port) {
			candidates = append(candidates, port)
		}
	}
	return candidates
}

// isCandidatePort checks if a port matches SO-101 serial port patterns
func isCandidatePort(port string) bool {
	// Linux: /dev/ttyUSB*, /dev/ttyACM*
	if strings.HasPrefix(port, "/dev/ttyUSB") || strings.HasPrefix(port, "/dev/ttyACM") {
		return true
	}
	// macOS: /dev/tty.usbmodem*, /dev/tty.usbserial*, /dev/cu.usbmodem*, /dev/cu.usbserial*
	if strings.HasPrefix(port, "/dev/tty.usbmodem") || strings.HasPrefix(port, "/dev/tty.usbserial") || strings.HasPrefix(port, "/dev/cu.usbmodem") || strings.HasPrefix(port, "/dev/cu.usbserial") {
		return true
	}
	// Windows: COM*
	if strings.HasPrefix(port, "COM") {
		return true
	}
	return false
}

// extractPortSuffix extracts a friendly suffix from port path for naming
// /dev/ttyUSB0 -> "ttyUSB0"
// COM3 -> "COM3"
// /dev/tty.usbmodem123 -> "usbmodem123"
func extractPortSuffix(portPath string) string {
	base := filepath.Base(portPath)

	// For macOS /dev/tty.usb* ports, strip the "tty." prefix
	if strings.HasPrefix(base, "tty.usb") {
		return strings.TrimPrefix(base, "tty.")
	}
	if strings.HasPrefix(base, "cu.usb") {
		return strings.TrimPrefix(base, "cu.")
	}

	return base
}

// enumerateSerialPorts returns a list of all serial ports on the system
func enumerateSerialPorts() []string {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return []string{}
	}

	portPaths := []string{}
	for _, port := range ports {
		portPaths = append(portPaths, port.Name)
	}
	return portPaths
}
