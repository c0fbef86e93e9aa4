package motion

import "errors"

// Domain errors for the motion package.
var (
	// ErrNotConnected is returned for any call after Close.
	ErrNotConnected = errors.New("motion: not connected")

	// ErrConnection wraps transport failures (I/O errors, EOF, dial
	// failures). The link must be considered lost.
	ErrConnection = errors.New("motion: connection failure")

	// ErrCommandTimeout is returned when no matching reply arrives within
	// the command timeout. The link may still be usable.
	ErrCommandTimeout = errors.New("motion: command timed out")

	// ErrRejected is returned when the controller answers RJ.
	ErrRejected = errors.New("motion: command rejected")

	// ErrAxisFault is returned when a reply carries a fault warning flag (F*).
	ErrAxisFault = errors.New("motion: axis fault")

	// ErrBadReply is returned when a reply line cannot be parsed.
	ErrBadReply = errors.New("motion: malformed reply")

	// ErrUnknownAxis is returned for an Axis or Device outside the configured map.
	ErrUnknownAxis = errors.New("motion: unknown axis or device")

	// ErrInvalidChannel is returned for a digital output channel outside 1..n.
	ErrInvalidChannel = errors.New("motion: invalid I/O channel")
)

// IsConnectionError reports whether err means the controller link is gone.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrNotConnected)
}
