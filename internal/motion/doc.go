// Package motion provides the motion controller used by the transfer engine.
//
// Controller is the narrow contract the engine depends on: absolute moves,
// homing, position reads and digital I/O. Two implementations are provided:
//
//   - Client speaks the Zaber ASCII protocol over a serial line or a TCP
//     serial bridge. Requests carry message IDs so late replies to a timed-out
//     request are discarded instead of being matched to the next one.
//   - Simulator is an in-memory stage for bench runs ("sim://") and tests.
//
// # Error classes
//
// Transport failures wrap ErrConnection and mean the link is gone.
// ErrRejected, ErrAxisFault and ErrCommandTimeout describe a single failed
// command on a link that may still be healthy. IsConnectionError tells the
// two apart.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package motion
