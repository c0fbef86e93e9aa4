package transfer

import (
	"fmt"
	"time"

	"github.com/TKAles/transfercontrollerdaemon/internal/positions"
)

// Mode is the engine's top-level operating mode.
type Mode string

const (
	ModeOffline     Mode = "offline"
	ModeOnline      Mode = "online"
	ModeHoming      Mode = "homing"
	ModeAutoIdle    Mode = "auto_idle"
	ModeAutoRunning Mode = "auto_running"
)

// Connected reports whether the mode keeps the monitors running.
func (m Mode) Connected() bool {
	return m != ModeOffline && m != ""
}

// Phase is the Transfer Sequencer state. PhaseIdle means no sequencer is running.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseWaitRequest
	PhaseWaitClearToLoad
	PhaseConfirmXZArrival
	PhaseConfirmSrasArrival
	PhaseScanning
	PhaseReturnFromSras
	PhaseConfirmReturnXZ
	PhaseConfirmReturnLoad
	PhaseWaitClearDrop
)

var phaseNames = [...]string{
	PhaseIdle:               "Idle",
	PhaseWaitRequest:        "WaitRequest",
	PhaseWaitClearToLoad:    "WaitClearToLoad",
	PhaseConfirmXZArrival:   "ConfirmXZArrival",
	PhaseConfirmSrasArrival: "ConfirmSrasArrival",
	PhaseScanning:           "Scanning",
	PhaseReturnFromSras:     "ReturnFromSras",
	PhaseConfirmReturnXZ:    "ConfirmReturnXZ",
	PhaseConfirmReturnLoad:  "ConfirmReturnLoad",
	PhaseWaitClearDrop:      "WaitClearDrop",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// MarshalText renders the phase name in JSON and logs.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePhase maps a phase name back to its Phase.
func ParsePhase(name string) (Phase, error) {
	for i, n := range phaseNames {
		if n == name {
			return Phase(i), nil
		}
	}
	return PhaseIdle, fmt.Errorf("unknown phase %q", name)
}

// AxisObservation is one poll of the three axis positions.
type AxisObservation struct {
	X  int64     `json:"x"`
	Y  int64     `json:"y"`
	Z  int64     `json:"z"`
	At time.Time `json:"at"`
}

// ZoneMembership flags which taught zones the stage is currently inside.
// More than one flag may be set when zones overlap within tolerance.
type ZoneMembership struct {
	AtHome        bool `json:"at_home"`
	AtRobometLoad bool `json:"at_robomet_load"`
	AtXZTransfer  bool `json:"at_xz_transfer"`
	AtSrasLoad    bool `json:"at_sras_load"`
}

// DeviceIO is the digital I/O of one controller, index 0 = channel 1.
type DeviceIO struct {
	Inputs  []bool `json:"inputs"`
	Outputs []bool `json:"outputs"`
}

// DigitalIOSnapshot holds both controllers' I/O from one poll.
// Published snapshots are never mutated.
type DigitalIOSnapshot struct {
	XY DeviceIO  `json:"xy"`
	Z  DeviceIO  `json:"z"`
	At time.Time `json:"at"`
}

// Handshake channels on the XY controller (1-based).
const (
	ChannelRequestToLoad = 1 // input
	ChannelRequestToSafe = 2 // input
	ChannelR3DSafe       = 3 // input

	ChannelSrasReady    = 1 // output
	ChannelClearToLoad  = 2 // output, driven by the zone interlock
	ChannelSrasComplete = 3 // output
	ChannelSrasError    = 4 // output
)

func bit(bits []bool, channel int) bool {
	i := channel - 1
	return i >= 0 && i < len(bits) && bits[i]
}

// RequestToLoad is the requester's RTL line.
func (s DigitalIOSnapshot) RequestToLoad() bool { return bit(s.XY.Inputs, ChannelRequestToLoad) }

// RequestToSafe is the requester's RTS line.
func (s DigitalIOSnapshot) RequestToSafe() bool { return bit(s.XY.Inputs, ChannelRequestToSafe) }

// R3DSafe is the requester's safe-position line.
func (s DigitalIOSnapshot) R3DSafe() bool { return bit(s.XY.Inputs, ChannelR3DSafe) }

// SrasReady is the read-back of the SrasReady output.
func (s DigitalIOSnapshot) SrasReady() bool { return bit(s.XY.Outputs, ChannelSrasReady) }

// ClearToLoadOutput is the read-back of the interlock-driven CTL output.
func (s DigitalIOSnapshot) ClearToLoadOutput() bool { return bit(s.XY.Outputs, ChannelClearToLoad) }

// SrasComplete is the read-back of the SrasComplete output.
func (s DigitalIOSnapshot) SrasComplete() bool { return bit(s.XY.Outputs, ChannelSrasComplete) }

// SrasError is the read-back of the SrasError output.
func (s DigitalIOSnapshot) SrasError() bool { return bit(s.XY.Outputs, ChannelSrasError) }

// FaultKind classifies engine faults.
type FaultKind string

const (
	FaultConnection  FaultKind = "connection"
	FaultCommand     FaultKind = "command"
	FaultWaitTimeout FaultKind = "wait_timeout"
	FaultData        FaultKind = "data"
)

// Fault is a surfaced error condition.
type Fault struct {
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Kind    FaultKind `json:"kind"`
	Source  string    `json:"source"`
	Phase   Phase     `json:"phase"`
	CycleID string    `json:"cycle_id,omitempty"`
	Message string    `json:"message"`
}

// CycleOutcome is how a sequencer cycle ended.
type CycleOutcome string

const (
	CycleComplete CycleOutcome = "complete"
	CycleStopped  CycleOutcome = "stopped"
	CycleFaulted  CycleOutcome = "faulted"
)

// CycleRecord summarises one sequencer cycle.
type CycleRecord struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Outcome   CycleOutcome  `json:"outcome"`
	LastPhase Phase         `json:"last_phase"`
	Parked    bool          `json:"parked"`
	Error     string        `json:"error,omitempty"`
	Targets   positions.Set `json:"targets"`
}

// Duration is the wall time of the cycle.
func (c CycleRecord) Duration() time.Duration {
	return c.EndedAt.Sub(c.StartedAt)
}
