package transfer

import (
	"context"
	"errors"

	"github.com/TKAles/transfercontrollerdaemon/internal/motion"
)

var (
	// ErrNotConnected is returned by operations that need a controller link.
	ErrNotConnected = errors.New("transfer: not connected")

	// ErrAlreadyConnected is returned by Connect when a session is open.
	ErrAlreadyConnected = errors.New("transfer: already connected")

	// ErrInvalidTransition is returned when a request is not allowed in the current mode.
	ErrInvalidTransition = errors.New("transfer: operation not allowed in current mode")

	// ErrWaitTimeout is returned when a sequencer wait exceeds its bound.
	ErrWaitTimeout = errors.New("transfer: wait timed out")

	// errStopped ends a cycle at a checkpoint after auto mode was switched off.
	errStopped = errors.New("transfer: stopped")
)

// ClassifyFault maps an engine error to its fault kind.
func ClassifyFault(err error) FaultKind {
	switch {
	case motion.IsConnectionError(err):
		return FaultConnection
	case errors.Is(err, ErrWaitTimeout):
		return FaultWaitTimeout
	default:
		return FaultCommand
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, errStopped) || errors.Is(err, context.Canceled)
}
