package bridge

import (
	"time"

	"github.com/TKAles/transfercontrollerdaemon/internal/transfer"
)

// Command names accepted on transferd/{station}/command/{name}.
const (
	CommandConnect    = "connect"
	CommandDisconnect = "disconnect"
	CommandHome       = "home"
	CommandAuto       = "auto"
)

// CommandMessage is the payload of a command topic. An empty payload is
// accepted for every command except auto.
type CommandMessage struct {
	// ID correlates the command with its acknowledgment.
	ID string `json:"id,omitempty"`

	// Enabled switches auto mode on or off. Required for "auto".
	Enabled *bool `json:"enabled,omitempty"`

	// Source names the issuer, e.g. "hmi" or "robomet".
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the engine took the command.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the engine refused or failed the command.
	AckFailed AckStatus = "failed"
)

// AckMessage is published on transferd/{station}/event/ack.
type AckMessage struct {
	CommandID string        `json:"command_id,omitempty"`
	Command   string        `json:"command"`
	Timestamp time.Time     `json:"timestamp"`
	Status    AckStatus     `json:"status"`
	Mode      transfer.Mode `json:"mode"`
	Error     *AckError     `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeInvalidCommand = "INVALID_COMMAND"
	ErrCodeInvalidPayload = "INVALID_PAYLOAD"
	ErrCodeNotConnected   = "NOT_CONNECTED"
	ErrCodeInvalidState   = "INVALID_STATE"
	ErrCodeEngineError    = "ENGINE_ERROR"
	ErrCodeBusy           = "BUSY"
)

// ModeState is the retained payload of state/mode.
type ModeState struct {
	Mode      transfer.Mode `json:"mode"`
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// PhaseState is the retained payload of state/phase.
type PhaseState struct {
	Phase     transfer.Phase `json:"phase"`
	CycleID   string         `json:"cycle_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// PositionState is the retained payload of state/position.
type PositionState struct {
	Observation transfer.AxisObservation `json:"observation"`
	Zones       transfer.ZoneMembership  `json:"zones"`
}
