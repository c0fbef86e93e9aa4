package motion

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Simulator operation names accepted by Fail.
const (
	OpMove      = "move"
	OpHome      = "home"
	OpPosition  = "position"
	OpInputs    = "inputs"
	OpOutputs   = "outputs"
	OpSetOutput = "set_output"
)

const defaultSimChannels = 4

// SimulatorConfig tunes the simulated stage.
type SimulatorConfig struct {
	// Speed is the travel rate in steps per second. Zero moves instantly.
	Speed int64

	// HomeDuration is how long Home blocks before the axis reports idle.
	HomeDuration time.Duration

	// Channels is the number of digital inputs and outputs per device. Default: 4.
	Channels int
}

type simAxis struct {
	from, to int64
	start    time.Time
}

// Simulator is an in-memory Controller for bench runs and tests.
// Inputs are driven with SetInput; failures are injected with Fail.
type Simulator struct {
	cfg SimulatorConfig

	mu       sync.Mutex
	axes     [3]simAxis
	inputs   [2][]bool
	outputs  [2][]bool
	failures map[string]error
	journal  []string
	closed   bool
	now      func() time.Time
}

// NewSimulator returns a simulated stage at the origin with all I/O low.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.Channels <= 0 {
		cfg.Channels = defaultSimChannels
	}
	s := &Simulator{
		cfg:      cfg,
		failures: make(map[string]error),
		now:      time.Now,
	}
	for i := range s.inputs {
		s.inputs[i] = make([]bool, cfg.Channels)
		s.outputs[i] = make([]bool, cfg.Channels)
	}
	return s
}

// SetInput drives a simulated digital input (0-based index).
func (s *Simulator) SetInput(dev Device, index int, value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dev < 0 || int(dev) >= len(s.inputs) || index < 0 || index >= len(s.inputs[dev]) {
		return
	}
	s.inputs[dev][index] = value
}

// Fail makes every later call of op return err. A nil err clears it.
func (s *Simulator) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Journal returns the actuating commands received, oldest first.
func (s *Simulator) Journal() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.journal...)
}

// Target returns the last commanded target of an axis.
func (s *Simulator) Target(axis Axis) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validAxis(axis) {
		return 0
	}
	return s.axes[axis].to
}

func (s *Simulator) MoveAbsolute(ctx context.Context, axis Axis, target int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpMove); err != nil {
		return err
	}
	if !validAxis(axis) {
		return fmt.Errorf("%w: %v", ErrUnknownAxis, axis)
	}
	now := s.now()
	s.axes[axis] = simAxis{from: s.positionLocked(axis, now), to: target, start: now}
	s.journal = append(s.journal, fmt.Sprintf("move %v %d", axis, target))
	return nil
}

func (s *Simulator) Home(ctx context.Context, axis Axis) error {
	s.mu.Lock()
	if err := s.check(ctx, OpHome); err != nil {
		s.mu.Unlock()
		return err
	}
	if !validAxis(axis) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrUnknownAxis, axis)
	}
	s.journal = append(s.journal, fmt.Sprintf("home %v", axis))
	s.mu.Unlock()

	if s.cfg.HomeDuration > 0 {
		timer := time.NewTimer(s.cfg.HomeDuration)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("home %v: %w", axis, ctx.Err())
		case <-timer.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.axes[axis] = simAxis{start: s.now()}
	return nil
}

func (s *Simulator) Position(ctx context.Context, axis Axis) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpPosition); err != nil {
		return 0, err
	}
	if !validAxis(axis) {
		return 0, fmt.Errorf("%w: %v", ErrUnknownAxis, axis)
	}
	return s.positionLocked(axis, s.now()), nil
}

func (s *Simulator) DigitalInputs(ctx context.Context, dev Device) ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpInputs); err != nil {
		return nil, err
	}
	if !validDevice(dev) {
		return nil, fmt.Errorf("%w: %v", ErrUnknownAxis, dev)
	}
	return append([]bool(nil), s.inputs[dev]...), nil
}

func (s *Simulator) DigitalOutputs(ctx context.Context, dev Device) ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpOutputs); err != nil {
		return nil, err
	}
	if !validDevice(dev) {
		return nil, fmt.Errorf("%w: %v", ErrUnknownAxis, dev)
	}
	return append([]bool(nil), s.outputs[dev]...), nil
}

func (s *Simulator) SetDigitalOutput(ctx context.Context, dev Device, channel int, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpSetOutput); err != nil {
		return err
	}
	if !validDevice(dev) {
		return fmt.Errorf("%w: %v", ErrUnknownAxis, dev)
	}
	if channel < 1 || channel > len(s.outputs[dev]) {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	s.outputs[dev][channel-1] = value
	s.journal = append(s.journal, fmt.Sprintf("set %v %d %s", dev, channel, bitString(value)))
	return nil
}

func (s *Simulator) SetAllDigitalOutputs(ctx context.Context, dev Device, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpSetOutput); err != nil {
		return err
	}
	if !validDevice(dev) {
		return fmt.Errorf("%w: %v", ErrUnknownAxis, dev)
	}
	for i := range s.outputs[dev] {
		s.outputs[dev][i] = value
	}
	s.journal = append(s.journal, fmt.Sprintf("set %v all %s", dev, bitString(value)))
	return nil
}

// Close disconnects the simulator. Further calls return ErrNotConnected.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// check must be called with s.mu held.
func (s *Simulator) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return ErrNotConnected
	}
	if err := s.failures[op]; err != nil {
		return err
	}
	return nil
}

func (s *Simulator) positionLocked(axis Axis, now time.Time) int64 {
	a := s.axes[axis]
	if s.cfg.Speed <= 0 || a.from == a.to {
		return a.to
	}
	travelled := int64(now.Sub(a.start).Seconds() * float64(s.cfg.Speed))
	if a.to > a.from {
		return min(a.from+travelled, a.to)
	}
	return max(a.from-travelled, a.to)
}

func validAxis(a Axis) bool { return a >= AxisX && a <= AxisZ }

func validDevice(d Device) bool { return d == DeviceXY || d == DeviceZ }
