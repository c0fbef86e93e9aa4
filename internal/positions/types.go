package positions

import (
	"fmt"
	"time"
)

// Zone names one of the three taught target positions.
type Zone string

const (
	ZoneRobometLoad Zone = "robomet_load"
	ZoneXZTransfer  Zone = "xz_transfer"
	ZoneSrasLoad    Zone = "sras_load"
)

// Zones lists every taught zone in cycle order.
var Zones = []Zone{ZoneRobometLoad, ZoneXZTransfer, ZoneSrasLoad}

// ParseZone validates a zone name.
func ParseZone(s string) (Zone, error) {
	for _, z := range Zones {
		if string(z) == s {
			return z, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownZone, s)
}

// Target is an absolute stage position in controller steps.
type Target struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
	Z int64 `json:"z"`
}

// Set holds all three zone targets. The zero Set places every zone at the
// power-on origin, which is also the Home zone.
type Set struct {
	RobometLoad Target    `json:"robomet_load"`
	XZTransfer  Target    `json:"xz_transfer"`
	SrasLoad    Target    `json:"sras_load"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

// Get returns the target of a zone.
func (s Set) Get(z Zone) (Target, error) {
	switch z {
	case ZoneRobometLoad:
		return s.RobometLoad, nil
	case ZoneXZTransfer:
		return s.XZTransfer, nil
	case ZoneSrasLoad:
		return s.SrasLoad, nil
	}
	return Target{}, fmt.Errorf("%w: %q", ErrUnknownZone, z)
}

// With returns a copy of s with zone z set to t.
func (s Set) With(z Zone, t Target) (Set, error) {
	switch z {
	case ZoneRobometLoad:
		s.RobometLoad = t
	case ZoneXZTransfer:
		s.XZTransfer = t
	case ZoneSrasLoad:
		s.SrasLoad = t
	default:
		return s, fmt.Errorf("%w: %q", ErrUnknownZone, z)
	}
	return s, nil
}
