// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - requests/upstream_failures: proxied requests and transport errors
//   - transcripts:                records written, duplicates pruned, evictions
//   - persistence_failures:       records that could not be stored
//   - rewrites:                   requests whose prompt was rewritten
package monitoring

import (
	"fmt"
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	startedAt time.Time

	// Proxy counters
	requests         atomic.Int64
	upstreamFailures atomic.Int64
	rewrites         atomic.Int64

	// Transcript counters
	transcriptsWritten  atomic.Int64
	duplicatesPruned    atomic.Int64
	evictions           atomic.Int64
	persistenceFailures atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		startedAt: time.Now(),
	}
}

// RecordRequest records a proxied request. upstreamOK is false when no
// response was obtained from upstream.
func (mc *MetricsCollector) RecordRequest(upstreamOK bool) {
	mc.requests.Add(1)
	if !upstreamOK {
		mc.upstreamFailures.Add(1)
	}
}

// RecordRewrite records a request whose prompt text was rewritten.
func (mc *MetricsCollector) RecordRewrite() { mc.rewrites.Add(1) }

// RecordTranscript records a successful write and its side effects.
func (mc *MetricsCollector) RecordTranscript(superseded bool, evicted int) {
	mc.transcriptsWritten.Add(1)
	if superseded {
		mc.duplicatesPruned.Add(1)
	}
	mc.evictions.Add(int64(evicted))
}

// RecordPersistenceFailure records a transcript that could not be written.
func (mc *MetricsCollector) RecordPersistenceFailure() { mc.persistenceFailures.Add(1) }

// StartedAt returns when the metrics collector was created.
func (mc *MetricsCollector) StartedAt() time.Time { return mc.startedAt }

// Stats returns current counters as a flat map.
func (mc *MetricsCollector) Stats() map[string]int64 {
	return map[string]int64{
		"requests":             mc.requests.Load(),
		"upstream_failures":    mc.upstreamFailures.Load(),
		"rewrites":             mc.rewrites.Load(),
		"transcripts_written":  mc.transcriptsWritten.Load(),
		"duplicates_pruned":    mc.duplicatesPruned.Load(),
		"evictions":            mc.evictions.Load(),
		"persistence_failures": mc.persistenceFailures.Load(),
	}
}

// FullStats returns all metrics in a structured format for the stats endpoint.
func (mc *MetricsCollector) FullStats() StatsResponse {
	uptime := time.Since(mc.startedAt)
	requests := mc.requests.Load()
	failures := mc.upstreamFailures.Load()

	return StatsResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		StartedAt:     mc.startedAt.Format(time.RFC3339),
		Requests: RequestStats{
			Total:            requests,
			Forwarded:        requests - failures,
			UpstreamFailures: failures,
			Rewritten:        mc.rewrites.Load(),
		},
		Transcripts: TranscriptStats{
			Written:             mc.transcriptsWritten.Load(),
			DuplicatesPruned:    mc.duplicatesPruned.Load(),
			Evictions:           mc.evictions.Load(),
			PersistenceFailures: mc.persistenceFailures.Load(),
		},
	}
}

// StatsResponse is the structured response for the stats endpoint.
type StatsResponse struct {
	Uptime        string          `json:"uptime"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	StartedAt     string          `json:"started_at"`
	Requests      RequestStats    `json:"requests"`
	Transcripts   TranscriptStats `json:"transcripts"`
}

// RequestStats holds proxy request metrics.
type RequestStats struct {
	Total            int64 `json:"total"`
	Forwarded        int64 `json:"forwarded"`
	UpstreamFailures int64 `json:"upstream_failures"`
	Rewritten        int64 `json:"rewritten"`
}

// TranscriptStats holds persistence metrics.
type TranscriptStats struct {
	Written             int64 `json:"written"`
	DuplicatesPruned    int64 `json:"duplicates_pruned"`
	Evictions           int64 `json:"evictions"`
	PersistenceFailures int64 `json:"persistence_failures"`
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
