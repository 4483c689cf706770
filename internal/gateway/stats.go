// Package gateway - stats.go exposes operational metrics and health as JSON.
//
// GET /viewer/api/stats returns capture counters.
// GET /viewer/health reports whether transcripts can still be written.
package gateway

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/capture-gateway/internal/monitoring"
)

// StatsResponse is the JSON response for GET /viewer/api/stats.
type StatsResponse struct {
	monitoring.StatsResponse
	Upstream          string `json:"upstream"`
	LogDir            string `json:"log_dir"`
	MaxLogsPerSession int    `json:"max_logs_per_session"`
	ModifyPrompt      bool   `json:"modify_prompt"`
}

// handleStats returns capture counters as JSON.
// Restricted to localhost to prevent external access to operational metrics.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		StatsResponse:     g.metrics.FullStats(),
		Upstream:          g.forwarder.BaseURL(),
		LogDir:            g.config.Logs.Dir,
		MaxLogsPerSession: g.config.Logs.MaxPerSession,
		ModifyPrompt:      g.rewriter.Enabled(),
	})
}

// handleHealth returns gateway health status.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "ok",
		"time":   g.now().UTC().Format(time.RFC3339),
	}

	if err := g.repo.CheckWritable(); err != nil {
		log.Warn().Err(err).Msg("health: log directory not writable")
		health["status"] = "degraded"
		health["error"] = err.Error()
	}

	status := http.StatusOK
	if health["status"] != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}
