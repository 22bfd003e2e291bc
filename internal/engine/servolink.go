package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// LinkErrorKind enumerates the ServoLink failure taxonomy.
type LinkErrorKind int

const (
	LinkErrorTimeout LinkErrorKind = iota
	LinkErrorCRC
	LinkErrorProtocol
)

func (k LinkErrorKind) String() string {
	switch k {
	case LinkErrorTimeout:
		return "timeout"
	case LinkErrorCRC:
		return "crc"
	case LinkErrorProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// LinkError wraps a servo I/O failure with its taxonomy kind. The
// Control Loop matches on Kind; it never inspects error strings.
type LinkError struct {
	Kind LinkErrorKind
	Err  error
}

func (e *LinkError) Error() string {
	return errors.Wrapf(e.Err, "servo link %s", e.Kind).Error()
}

func (e *LinkError) Unwrap() error { return e.Err }

func newLinkError(kind LinkErrorKind, err error) *LinkError {
	return &LinkError{Kind: kind, Err: err}
}

// ServoLink is the Control Loop's and Calibrator's sole interface to
// servo I/O. It is consumed, never retried internally: any transient
// failure is surfaced as a *LinkError and the caller decides policy.
type ServoLink interface {
	// ReadState issues one bulk read of {present_current,
	// present_position, present_load, hardware_error,
	// present_temperature} and returns a snapshot stamped at packet
	// completion.
	ReadState(ctx context.Context) (ServoSnapshot, error)
	// WriteGoal issues one bulk write of the goal-position and
	// goal-current registers.
	WriteGoal(ctx context.Context, positionRaw int32, currentLimitMA int32) error
	// Reboot issues the firmware reboot instruction and blocks for at
	// least 500ms, clearing latched error flags.
	Reboot(ctx context.Context) error
	// DecodeError is a pure function decoding the hardware-error byte.
	DecodeError(b uint8) ErrorFlags
	// Close releases the underlying serial handle. Safe to call once,
	// after the Control Loop and State Publisher have both stopped.
	Close() error
}

// RegisterLayout names the servo control table's byte addresses and
// widths. Read fields need not be contiguous in hardware: ReadState
// spans every read field's address range in exactly one bulk-read
// instruction and decodes each field by its offset within that span.
// GoalPosition and GoalCurrent must be adjacent, in that order, since
// WriteGoal issues exactly one bulk-write instruction spanning both.
type RegisterLayout struct {
	PresentPositionAddr     uint8
	PresentPositionWidth    uint8
	PresentCurrentAddr      uint8
	PresentCurrentWidth     uint8
	PresentLoadAddr         uint8
	PresentLoadWidth        uint8
	HardwareErrorAddr       uint8
	HardwareErrorWidth      uint8
	PresentTemperatureAddr  uint8
	PresentTemperatureWidth uint8
	PresentVoltageAddr      uint8
	PresentVoltageWidth     uint8

	GoalPositionAddr  uint8
	GoalPositionWidth uint8
	GoalCurrentAddr   uint8
	GoalCurrentWidth  uint8
}

// DefaultRegisterLayout returns the standard STS3215 control-table
// addresses: present_position/present_load/present_voltage/
// present_temperature/status (hardware_error)/present_current span
// bytes 56-70 of the control table. goal_current at 44 is a RAM
// current-limit register this layout assumes sits immediately after
// goal_position (42,2) so a single packet can set both; a firmware
// variant that places it elsewhere must override the layout.
func DefaultRegisterLayout() RegisterLayout {
	return RegisterLayout{
		PresentPositionAddr:     56,
		PresentPositionWidth:    2,
		PresentLoadAddr:         60,
		PresentLoadWidth:        2,
		PresentVoltageAddr:      62,
		PresentVoltageWidth:     1,
		PresentTemperatureAddr:  63,
		PresentTemperatureWidth: 1,
		HardwareErrorAddr:       65,
		HardwareErrorWidth:      1,
		PresentCurrentAddr:      69,
		PresentCurrentWidth:     2,

		GoalPositionAddr:  42,
		GoalPositionWidth: 2,
		GoalCurrentAddr:   44,
		GoalCurrentWidth:  2,
	}
}

type registerField struct {
	name  string
	addr  uint8
	width uint8
}

func (l RegisterLayout) readFields() []registerField {
	return []registerField{
		{"present_position", l.PresentPositionAddr, l.PresentPositionWidth},
		{"present_current", l.PresentCurrentAddr, l.PresentCurrentWidth},
		{"present_load", l.PresentLoadAddr, l.PresentLoadWidth},
		{"hardware_error", l.HardwareErrorAddr, l.HardwareErrorWidth},
		{"present_temperature", l.PresentTemperatureAddr, l.PresentTemperatureWidth},
		{"present_voltage", l.PresentVoltageAddr, l.PresentVoltageWidth},
	}
}

// Validate ensures every read field has a positive width, no two read
// fields overlap (present_load and present_current aliasing to the
// same address would make load and current indistinguishable at read
// time), and goal_current immediately follows goal_position so a
// single bulk write can reach both.
func (l RegisterLayout) Validate() error {
	fields := l.readFields()
	for _, f := range fields {
		if f.width == 0 {
			return errors.Errorf("%s register width must be > 0", f.name)
		}
	}
	for i := 0; i < len(fields); i++ {
		for j := i + 1; j < len(fields); j++ {
			if registersOverlap(fields[i], fields[j]) {
				return errors.Errorf("%s and %s registers must not overlap", fields[i].name, fields[j].name)
			}
		}
	}
	if l.GoalPositionWidth == 0 || l.GoalCurrentWidth == 0 {
		return errors.New("goal_position and goal_current register widths must be > 0")
	}
	if l.GoalCurrentAddr != l.GoalPositionAddr+l.GoalPositionWidth {
		return errors.New("goal_current register must immediately follow goal_position for a single-packet write")
	}
	return nil
}

func registersOverlap(a, b registerField) bool {
	return int(a.addr) < int(b.addr)+int(b.width) && int(b.addr) < int(a.addr)+int(a.width)
}

// readBlock returns the address/length of the single contiguous span
// covering every read field, including any unused gap bytes between
// them; ReadState reads this whole span in one instruction.
func (l RegisterLayout) readBlock() (start, length uint8) {
	fields := l.readFields()
	lo, hi := fields[0].addr, fields[0].addr+fields[0].width
	for _, f := range fields[1:] {
		if f.addr < lo {
			lo = f.addr
		}
		if end := f.addr + f.width; end > hi {
			hi = end
		}
	}
	return lo, hi - lo
}

const (
	frameHeader = 0xFF

	instPing   = 0x01
	instRead   = 0x02
	instWrite  = 0x03
	instReboot = 0x06

	defaultReadTimeout = 50 * time.Millisecond
	maxResponseBytes   = 64
)

// feetechServoLink implements ServoLink with its own STS-protocol
// packet framing over a dedicated serial.Port: a two-byte header, id,
// length, instruction, params, and a one's-complement checksum over
// everything after the header. Each read instruction spans a whole
// register block instead of one register at a time, so
// ReadState/WriteGoal are each exactly one serial round trip.
type feetechServoLink struct {
	mu     sync.Mutex
	conn   serial.Port
	id     byte
	layout RegisterLayout
}

// NewFeetechServoLink opens portName at baudRate and wraps it as a
// ServoLink talking to servoID using the given register layout.
func NewFeetechServoLink(portName string, baudRate int, servoID int, layout RegisterLayout, readTimeout time.Duration) (ServoLink, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	conn, err := serial.Open(portName, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open servo port %s", portName)
	}

	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	if err := conn.SetReadTimeout(readTimeout); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to set servo port read timeout")
	}

	return &feetechServoLink{conn: conn, id: byte(servoID), layout: layout}, nil
}

// buildPacket frames an instruction packet: two-byte header, id,
// length, instruction, params, and a one's-complement checksum over
// everything after the header.
func buildPacket(id, instruction byte, params []byte) []byte {
	length := byte(len(params) + 2)
	packet := make([]byte, 0, 6+len(params))
	packet = append(packet, frameHeader, frameHeader, id, length, instruction)
	packet = append(packet, params...)

	checksum := 0
	for _, b := range packet[2:] {
		checksum += int(b)
	}
	return append(packet, byte(^checksum))
}

func (l *feetechServoLink) sendPacket(instruction byte, params []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	packet := buildPacket(l.id, instruction, params)

	if _, err := l.conn.Write(packet); err != nil {
		return nil, errors.Wrap(err, "write to servo port")
	}

	resp := make([]byte, maxResponseBytes)
	n, err := l.conn.Read(resp)
	if err != nil {
		return nil, errors.Wrap(err, "read from servo port")
	}
	if n < 6 {
		return nil, errors.Errorf("short servo response: %d bytes", n)
	}
	return resp[:n], nil
}

// readRange issues one read instruction for [addr, addr+length) and
// returns the decoded parameter bytes from the single response packet.
func (l *feetechServoLink) readRange(addr, length uint8) ([]byte, error) {
	resp, err := l.sendPacket(instRead, []byte{addr, length})
	if err != nil {
		return nil, err
	}
	dataLen := int(resp[3]) - 2
	if dataLen < 0 || len(resp) < 5+dataLen {
		return nil, errors.New("malformed servo read response")
	}
	return resp[5 : 5+dataLen], nil
}

func (l *feetechServoLink) ReadState(ctx context.Context) (ServoSnapshot, error) {
	start, length := l.layout.readBlock()
	data, err := l.readRange(start, length)
	if err != nil {
		return ServoSnapshot{}, newLinkError(LinkErrorTimeout, err)
	}
	readAt := time.Now()

	field := func(addr, width uint8) []byte {
		off := addr - start
		return data[off : off+width]
	}

	snap := ServoSnapshot{
		RawPosition: decodeIntLE(field(l.layout.PresentPositionAddr, l.layout.PresentPositionWidth)),
		CurrentMA:   decodeIntLE(field(l.layout.PresentCurrentAddr, l.layout.PresentCurrentWidth)),
		Load:        int16(decodeIntLE(field(l.layout.PresentLoadAddr, l.layout.PresentLoadWidth))),
		HWError:     field(l.layout.HardwareErrorAddr, l.layout.HardwareErrorWidth)[0],
		TempC:       field(l.layout.PresentTemperatureAddr, l.layout.PresentTemperatureWidth)[0],
		VoltageDV:   field(l.layout.PresentVoltageAddr, l.layout.PresentVoltageWidth)[0],
		ReadAt:      readAt,
	}
	return snap, nil
}

// goalParams assembles the write-instruction parameter block for
// goal_position+goal_current. Both registers are unsigned on the
// wire; a negative value would two's-complement-encode as a large
// positive tick near the top of the span and drive the wrong
// direction, so negatives clamp to 0.
func (l RegisterLayout) goalParams(positionRaw, currentLimitMA int32) []byte {
	if positionRaw < 0 {
		positionRaw = 0
	}
	if currentLimitMA < 0 {
		currentLimitMA = 0
	}

	params := make([]byte, 0, 1+int(l.GoalPositionWidth)+int(l.GoalCurrentWidth))
	params = append(params, l.GoalPositionAddr)
	params = append(params, encodeIntLE(positionRaw, int(l.GoalPositionWidth))...)
	params = append(params, encodeIntLE(currentLimitMA, int(l.GoalCurrentWidth))...)
	return params
}

// WriteGoal issues one write instruction spanning goal_position and
// goal_current, enforced adjacent by RegisterLayout.Validate.
func (l *feetechServoLink) WriteGoal(ctx context.Context, positionRaw int32, currentLimitMA int32) error {
	if _, err := l.sendPacket(instWrite, l.layout.goalParams(positionRaw, currentLimitMA)); err != nil {
		return newLinkError(LinkErrorProtocol, err)
	}
	return nil
}

func (l *feetechServoLink) Reboot(ctx context.Context) error {
	if _, err := l.sendPacket(instReboot, nil); err != nil {
		return newLinkError(LinkErrorProtocol, err)
	}
	time.Sleep(500 * time.Millisecond)
	return nil
}

func (l *feetechServoLink) DecodeError(b uint8) ErrorFlags {
	return ErrorFlags{
		InputVoltage: b&0x01 != 0,
		Overheat:     b&0x04 != 0,
		Encoder:      b&0x08 != 0,
		Shock:        b&0x10 != 0,
		Overload:     b&0x20 != 0,
	}
}

func (l *feetechServoLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.Close()
}

func decodeIntLE(b []byte) int32 {
	var v int32
	for i, by := range b {
		v |= int32(by) << (8 * i)
	}
	return v
}

func encodeIntLE(v int32, width int) []byte {
	out := make([]byte, width)
	for i := 0; i < width; i++ {
		out[i] = byte(v >> (8 * i))
	}
	return out
}
