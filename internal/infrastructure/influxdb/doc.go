// Package influxdb writes transfer-station telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health checks. Every point
// carries a "station" tag.
//
// # Measurements
//
//   - stage_position: x, y, z and one at_<zone> flag per zone
//   - handshake_io: in1..inN, out1..outN, tagged by device (xy, z)
//   - transfer_cycle: duration_seconds, parked, last_phase, tagged by outcome
//   - engine_fault: phase, message, tagged by kind and source
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Station.ID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WritePosition(obs.X, obs.Y, obs.Z, map[string]bool{"home": true}, obs.At)
//
// # Error Handling
//
// Writes never block the caller. Batch failures are delivered to the
// SetOnError callback wrapped in ErrWriteFailed. Connection and health
// check errors are returned directly.
package influxdb
