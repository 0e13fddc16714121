package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciliation metrics
	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tagmesh_reconcile_cycles_total",
			Help: "Total number of reconciliation cycles started",
		},
	)

	CyclesSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tagmesh_reconcile_cycles_skipped_total",
			Help: "Total number of cycles skipped because the desired state could not be read",
		},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tagmesh_reconcile_cycle_duration_seconds",
			Help:    "Reconciliation cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Entry plumbing metrics
	EntriesApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagmesh_entries_applied_total",
			Help: "Total table-entry writes acknowledged by switches, by switch and operation",
		},
		[]string{"switch", "op"},
	)

	EntryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagmesh_entry_failures_total",
			Help: "Total table-entry writes rejected by switches, by switch and operation",
		},
		[]string{"switch", "op"},
	)

	EntriesDesired = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tagmesh_entries_desired",
			Help: "Number of canonical entries desired per switch",
		},
		[]string{"switch"},
	)

	RulesShadowed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tagmesh_rules_shadowed",
			Help: "Number of rules shadowed by a conflicting higher-id rule, per switch",
		},
		[]string{"switch"},
	)

	// Switch connectivity metrics
	SwitchUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tagmesh_switch_up",
			Help: "Whether the switch control channel is ready (1 = ready, 0 = not ready)",
		},
		[]string{"switch"},
	)

	ConnectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagmesh_switch_connect_failures_total",
			Help: "Total failed connection attempts per switch",
		},
		[]string{"switch"},
	)

	// Traffic counters read back from applied entries
	EntryPackets = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tagmesh_entry_packets",
			Help: "Packets counted by an applied table entry",
		},
		[]string{"switch", "table", "match"},
	)

	EntryBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tagmesh_entry_bytes",
			Help: "Bytes counted by an applied table entry",
		},
		[]string{"switch", "table", "match"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(CyclesTotal)
	prometheus.MustRegister(CyclesSkipped)
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(EntriesApplied)
	prometheus.MustRegister(EntryFailures)
	prometheus.MustRegister(EntriesDesired)
	prometheus.MustRegister(RulesShadowed)
	prometheus.MustRegister(SwitchUp)
	prometheus.MustRegister(ConnectFailures)
	prometheus.MustRegister(EntryPackets)
	prometheus.MustRegister(EntryBytes)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
