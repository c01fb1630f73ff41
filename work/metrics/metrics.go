package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SessionLoads counts descriptors handed to a sink, labelled by transport and
// whether the proxy origin was used ("proxy" or "direct").
var SessionLoads = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kptv_player_session_loads_total",
	Help: "Number of descriptors loaded into the player sink",
}, []string{"transport", "origin"})

// SessionFallbacks counts automatic proxy/direct origin switches.
var SessionFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kptv_player_session_fallbacks_total",
	Help: "Number of automatic origin fallbacks",
}, []string{"transport"})

// SessionFailures counts terminal failures per reason.
var SessionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kptv_player_session_terminal_failures_total",
	Help: "Number of terminal playback failures",
}, []string{"reason"})

// SinkErrors counts sink error reports by error type (load, runtime, timeout).
var SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kptv_player_sink_errors_total",
	Help: "Number of errors reported by the player sink",
}, []string{"error_type"})

// SupersededEvents counts sink callbacks dropped because a newer load replaced theirs.
var SupersededEvents = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kptv_player_superseded_events_total",
	Help: "Number of stale sink callbacks ignored",
})

// SessionState exposes the current state of each controller (1 for the active state).
var SessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "kptv_player_session_state",
	Help: "Current session state, 1 for the active state",
}, []string{"state"})

// CatalogItems tracks catalog size per item kind.
var CatalogItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "kptv_player_catalog_items",
	Help: "Number of playable items in the catalog",
}, []string{"kind"})

// ProbeDuration observes how long the probe sink took to reach ready or error.
var ProbeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "kptv_player_probe_duration_seconds",
	Help:    "Probe sink time to first byte or failure",
	Buckets: prometheus.DefBuckets,
}, []string{"transport", "result"})
