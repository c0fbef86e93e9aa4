// Package history persists finished transfer cycles and engine faults to
// the daemon's SQLite state database so operators can review what the
// sequencer did after the fact.
//
// Rows are written by the reporter as the engine publishes cycle and fault
// events, and read back by the HTTP API.
package history
