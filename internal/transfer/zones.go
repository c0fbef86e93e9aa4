package transfer

import "github.com/TKAles/transfercontrollerdaemon/internal/positions"

// DefaultZoneTolerance is the half-width of a zone window in controller steps.
const DefaultZoneTolerance int64 = 200

// inWindow reports target-tol <= v < target+tol.
func inWindow(v, target, tol int64) bool {
	return v >= target-tol && v < target+tol
}

func inZone(obs AxisObservation, t positions.Target, tol int64) bool {
	return inWindow(obs.X, t.X, tol) && inWindow(obs.Y, t.Y, tol) && inWindow(obs.Z, t.Z, tol)
}

// Classify computes zone membership of obs against the taught targets.
// Home is the origin. Flags are independent; overlapping zones may all be set.
func Classify(obs AxisObservation, targets positions.Set, tol int64) ZoneMembership {
	return ZoneMembership{
		AtHome:        inZone(obs, positions.Target{}, tol),
		AtRobometLoad: inZone(obs, targets.RobometLoad, tol),
		AtXZTransfer:  inZone(obs, targets.XZTransfer, tol),
		AtSrasLoad:    inZone(obs, targets.SrasLoad, tol),
	}
}
