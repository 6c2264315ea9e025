package api

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"
)

// healthCheckTimeout bounds each dependency check.
const healthCheckTimeout = 2 * time.Second

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version,omitempty"`
	Timestamp  string            `json:"timestamp"`
	Components map[string]string `json:"components"`
	Runtime    RuntimeMetrics    `json:"runtime"`
}

// RuntimeMetrics contains Go runtime and hub statistics.
type RuntimeMetrics struct {
	Goroutines       int     `json:"goroutines"`
	MemoryAllocMB    float64 `json:"memory_alloc_mb"`
	ConnectedClients int     `json:"connected_clients"`
}

// handleHealth checks every registered dependency. Any failure turns the
// overall status to "degraded" with a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "ok",
		Version:    s.version,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: make(map[string]string, len(s.health)),
	}

	names := make([]string, 0, len(s.health))
	for name := range s.health {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.health[name].HealthCheck(ctx)
		cancel()

		if err != nil {
			resp.Components[name] = "unhealthy"
			resp.Status = "degraded"
			s.logger.Warn("health check failed", "component", name, "error", err)
			continue
		}
		resp.Components[name] = "ok"
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	resp.Runtime = RuntimeMetrics{
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
	}
	if s.hub != nil {
		resp.Runtime.ConnectedClients = s.hub.ClientCount()
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
