package handlers

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"kptv-player/work/logger"
	"kptv-player/work/session"
	"kptv-player/work/types"
)

// StatsResponse is the daemon overview shown by remotes
type StatsResponse struct {
	Uptime            string                        `json:"uptime"`
	MemoryUsage       string                        `json:"memoryUsage"`
	Goroutines        int                           `json:"goroutines"`
	TotalItems        int                           `json:"totalItems"`
	ItemsByKind       map[types.ItemKind]int        `json:"itemsByKind"`
	TotalSources      int                           `json:"totalSources"`
	WorkerThreads     int                           `json:"workerThreads"`
	ProxyEnabled      bool                          `json:"proxyEnabled"`
	RemoteControlOnly bool                          `json:"remoteControlOnly"`
	SessionState      session.State                 `json:"sessionState"`
	Failures          map[session.FailureReason]int `json:"failures,omitempty"`
	Database          map[string]any                `json:"database,omitempty"`
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	byKind := map[types.ItemKind]int{}
	for _, it := range a.catalog.List(types.ItemFilter{}, "id", "asc") {
		byKind[it.Kind]++
	}

	stats := StatsResponse{
		Uptime:            formatDuration(time.Since(a.started)),
		MemoryUsage:       formatBytes(m.Alloc),
		Goroutines:        runtime.NumGoroutine(),
		TotalItems:        a.catalog.Len(),
		ItemsByKind:       byKind,
		TotalSources:      len(a.cfg.Sources),
		WorkerThreads:     a.cfg.WorkerThreads,
		ProxyEnabled:      a.cfg.ProxyEnabled,
		RemoteControlOnly: a.cfg.RemoteControlOnly,
		SessionState:      a.session.Snapshot().State,
	}

	if a.failures != nil {
		counts, err := a.failures.FailureCounts(r.Context())
		if err != nil {
			logger.Warn("{handlers/stats - handleStats} Failed to count failures: %v", err)
		} else {
			stats.Failures = counts
		}
		dbStats, err := a.failures.GetStats(r.Context())
		if err != nil {
			logger.Warn("{handlers/stats - handleStats} Failed to read database stats: %v", err)
		} else {
			stats.Database = dbStats
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

// formatDuration converts time.Duration to human-readable format
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
	}
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
