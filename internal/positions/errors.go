package positions

import "errors"

var (
	// ErrUnknownZone is returned for a zone name outside Zones.
	ErrUnknownZone = errors.New("positions: unknown zone")

	// ErrInvalidFile is returned when a legacy positions file cannot be decoded.
	ErrInvalidFile = errors.New("positions: invalid positions file")
)
