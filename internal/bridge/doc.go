// Package bridge connects the transfer engine to the rest of the lab.
//
// Outbound, it subscribes to the engine's event bus and relays:
//
//	mode, phase, position, io   retained  transferd/{station}/state/{name}
//	homing, cycle, fault        events    transferd/{station}/event/{kind}
//	position, io, cycle, fault  InfluxDB points
//	cycle, fault                history rows in SQLite
//
// Inbound, it subscribes to transferd/{station}/command/+ and executes
// connect, disconnect, home and auto on the engine, one at a time.
// Every command is answered on transferd/{station}/event/ack:
//
//	{"command":"auto","status":"failed","mode":"online",
//	 "error":{"code":"INVALID_STATE","message":"..."}}
//
// Every sink is optional, so the daemon runs with MQTT or InfluxDB off.
package bridge
