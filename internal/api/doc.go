// Package api implements the HTTP REST API and WebSocket server of the
// transfer daemon.
//
// This package provides:
//   - Engine control: connect, disconnect, home and auto toggle
//   - Status, zone target teaching and cycle/fault history
//   - An audit trail of operator actions (X-Operator names the operator)
//   - A WebSocket hub relaying engine events to operator screens
//   - Prometheus exposition of the engine metrics
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Endpoints
//
//	GET  /api/v1/health
//	GET  /api/v1/status
//	POST /api/v1/connect | /disconnect | /home
//	PUT  /api/v1/auto                      {"enabled": true}
//	GET  /api/v1/positions
//	PUT  /api/v1/positions                 full target set
//	PUT  /api/v1/positions/{zone}          {"x":..,"y":..,"z":..}
//	POST /api/v1/positions/{zone}/sync     teach from the current stage position
//	GET  /api/v1/cycles[?limit=&since=]
//	GET  /api/v1/cycles/{id}
//	GET  /api/v1/faults[?limit=&since=]
//	GET  /api/v1/audit[?action=&source=&limit=&offset=]
//	GET  /api/v1/system
//	GET  /ws
//	GET  /metrics
//
// # Graceful Degradation
//
// History, audit, MQTT and InfluxDB are optional. Without history the cycle
// and fault endpoints answer 503, likewise /audit without the audit log;
// the engine endpoints always work.
package api
