package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters and histograms partitioned by safe address (and chain where
// the label is meaningful).

var (
	// Proposals and signature collection
	ProposalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safecoord",
		Subsystem: "queue",
		Name:      "proposals_total",
		Help:      "Total transactions proposed into the pending queue",
	}, []string{"safe"})

	SignaturesAddedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safecoord",
		Subsystem: "sigset",
		Name:      "signatures_added_total",
		Help:      "Total signatures accepted into signature sets",
	}, []string{"safe", "type"})

	SignaturesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safecoord",
		Subsystem: "sigset",
		Name:      "signatures_rejected_total",
		Help:      "Total signatures rejected during validation",
	}, []string{"safe", "reason"})

	// Nonce slot lifecycle
	SlotsConfirmedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safecoord",
		Subsystem: "queue",
		Name:      "slots_confirmed_total",
		Help:      "Total nonce slots confirmed by on-chain execution",
	}, []string{"safe"})

	SlotsSupersededTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safecoord",
		Subsystem: "queue",
		Name:      "candidates_superseded_total",
		Help:      "Total candidate transactions invalidated by a competing execution",
	}, []string{"safe"})

	// Reconciliation
	ReconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safecoord",
		Subsystem: "reconcile",
		Name:      "runs_total",
		Help:      "Total reconciliation runs",
	}, []string{"safe"})

	ReconcileErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safecoord",
		Subsystem: "reconcile",
		Name:      "errors_total",
		Help:      "Total reconciliation errors",
	}, []string{"safe"})

	ReconcileLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "safecoord",
		Subsystem: "reconcile",
		Name:      "run_duration_seconds",
		Help:      "Reconciliation run duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"safe"})

	// Execution gate
	FinalizedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safecoord",
		Subsystem: "gate",
		Name:      "finalized_total",
		Help:      "Total submission payloads produced",
	}, []string{"safe"})

	// RPC and transaction service clients
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safecoord",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total JSON-RPC calls by method and status",
	}, []string{"method", "status"})

	RPCRateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "safecoord",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total RPC calls delayed by the local rate limiter",
	})

	TxServiceRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safecoord",
		Subsystem: "txservice",
		Name:      "requests_total",
		Help:      "Total transaction service requests by endpoint and status",
	}, []string{"endpoint", "status"})

	// Alerting
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safecoord",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts delivered per channel",
	}, []string{"channel", "type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safecoord",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts suppressed by cooldown",
	}, []string{"channel", "type"})
)
