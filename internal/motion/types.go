package motion

import (
	"context"
	"fmt"
	"time"
)

// Axis identifies one linear degree of freedom of the stage.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// Axes lists every stage axis in homing order.
var Axes = []Axis{AxisX, AxisY, AxisZ}

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "X"
	case AxisY:
		return "Y"
	case AxisZ:
		return "Z"
	default:
		return fmt.Sprintf("Axis(%d)", int(a))
	}
}

// Device identifies one of the two controllers carrying digital I/O.
type Device int

const (
	DeviceXY Device = iota
	DeviceZ
)

// Devices lists both I/O devices.
var Devices = []Device{DeviceXY, DeviceZ}

func (d Device) String() string {
	switch d {
	case DeviceXY:
		return "xy"
	case DeviceZ:
		return "z"
	default:
		return fmt.Sprintf("Device(%d)", int(d))
	}
}

// Address is a controller device number and the axis number on that device.
// Axis 0 addresses the device itself.
type Address struct {
	Device int
	Axis   int
}

// AxisMap addresses each stage axis and I/O device on the daisy chain.
type AxisMap struct {
	X, Y, Z  Address
	XY, ZDev int
}

// DefaultAxisMap is the bench wiring: X and Y on device 1, Z on device 2.
func DefaultAxisMap() AxisMap {
	return AxisMap{
		X:    Address{Device: 1, Axis: 1},
		Y:    Address{Device: 1, Axis: 2},
		Z:    Address{Device: 2, Axis: 1},
		XY:   1,
		ZDev: 2,
	}
}

// Axis returns the address of a stage axis.
func (m AxisMap) Axis(a Axis) (Address, error) {
	switch a {
	case AxisX:
		return m.X, nil
	case AxisY:
		return m.Y, nil
	case AxisZ:
		return m.Z, nil
	}
	return Address{}, fmt.Errorf("%w: %v", ErrUnknownAxis, a)
}

// Device returns the device number of an I/O device.
func (m AxisMap) Device(d Device) (int, error) {
	switch d {
	case DeviceXY:
		return m.XY, nil
	case DeviceZ:
		return m.ZDev, nil
	}
	return 0, fmt.Errorf("%w: %v", ErrUnknownAxis, d)
}

// Controller is the motion controller as seen by the sequencing engine.
//
// MoveAbsolute returns once the controller has accepted the move, not when
// the axis arrives. Home blocks until the axis reports idle. Digital output
// channels are numbered from 1; the slices returned by DigitalInputs and
// DigitalOutputs are indexed from 0 (channel n is element n-1).
type Controller interface {
	MoveAbsolute(ctx context.Context, axis Axis, target int64) error
	Home(ctx context.Context, axis Axis) error
	Position(ctx context.Context, axis Axis) (int64, error)
	DigitalInputs(ctx context.Context, dev Device) ([]bool, error)
	DigitalOutputs(ctx context.Context, dev Device) ([]bool, error)
	SetDigitalOutput(ctx context.Context, dev Device, channel int, value bool) error
	SetAllDigitalOutputs(ctx context.Context, dev Device, value bool) error
	Close() error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config selects and tunes the controller connection.
type Config struct {
	// Connection URL:
	//   - "serial:///dev/ttyUSB0"
	//   - "tcp://192.168.1.40:7000" (serial-over-ethernet bridge)
	//   - "sim://" (in-process simulated stage)
	Connection string

	BaudRate int

	// CommandTimeout bounds a single request/reply exchange. Default: 2s.
	CommandTimeout time.Duration

	// HomePollInterval is how often Home polls for idle. Default: 100ms.
	HomePollInterval time.Duration

	Axes AxisMap
}
