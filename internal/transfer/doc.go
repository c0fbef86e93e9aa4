// Package transfer is the sequencing engine for the X/Y/Z transfer stage.
//
// An Engine owns one controller session at a time. While connected, a
// position monitor and a digital I/O monitor poll the controllers and
// publish immutable snapshots (AxisObservation, ZoneMembership,
// DigitalIOSnapshot). Everything else reads those snapshots:
//
//   - homing runs X, then Y, then Z, one axis at a time;
//   - in auto mode the transfer sequencer walks the nine-phase cycle
//     (WaitRequest through WaitClearDrop) and the zone interlock mirrors
//     AtRobometLoad onto the XY clear-to-load output.
//
// # Modes
//
//	offline --connect--> online --home_start--> homing --home_done/home_failed--> online
//	online --auto_on--> auto_running --auto_off--> auto_idle --auto_stopped--> online
//	any connected mode --disconnect/connection_lost--> offline
//
// # Faults
//
// A failed monitor read is a connection fault and takes the engine
// Offline. A rejected or timed-out command, or a wait that exceeds its
// configured bound, aborts the current cycle and returns the engine to
// Online with SrasError raised. Nothing is retried; recovery is always an
// operator action.
//
// # Events
//
// Mode, phase, position, I/O, homing, cycle and fault changes are
// published on a Bus. History recording, MQTT, InfluxDB and WebSocket
// clients all subscribe there.
package transfer
