package api

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"
)

// healthCheckTimeout bounds each dependency check on /system.
const healthCheckTimeout = 2 * time.Second

// SystemInfo represents the /system response.
type SystemInfo struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	WebSocket     WSMetrics         `json:"websocket"`
	Dependencies  []DependencyState `json:"dependencies"`
	Database      *DatabaseMetrics  `json:"database,omitempty"`
	EventsDropped uint64            `json:"events_dropped"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// DependencyState is the result of one dependency health check.
type DependencyState struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleSystem reports runtime statistics and dependency health.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	info := SystemInfo{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket:     WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Dependencies:  s.checkDependencies(r.Context()),
		EventsDropped: s.engine.Bus().Dropped(),
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		info.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, info)
}

func (s *Server) checkDependencies(ctx context.Context) []DependencyState {
	names := make([]string, 0, len(s.checks)+1)
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]DependencyState, 0, len(names)+1)
	if s.db != nil {
		out = append(out, runCheck(ctx, "database", s.db))
	}
	for _, name := range names {
		out = append(out, runCheck(ctx, name, s.checks[name]))
	}
	return out
}

func runCheck(ctx context.Context, name string, c HealthChecker) DependencyState {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	st := DependencyState{Name: name, Healthy: true}
	if err := c.HealthCheck(ctx); err != nil {
		st.Healthy = false
		st.Error = err.Error()
	}
	return st
}
