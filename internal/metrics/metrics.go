package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the engine's Prometheus collectors.
type Metrics struct {
	settlements      *prometheus.CounterVec
	settleLatency    *prometheus.HistogramVec
	issued           *prometheus.CounterVec
	balanceConflicts prometheus.Counter
	compensations    prometheus.Counter
	reconcileDrift   *prometheus.CounterVec
	reconcilePairs   prometheus.Counter
	eventsPublished  *prometheus.CounterVec
}

var (
	once     sync.Once
	registry *Metrics
)

// Default returns the lazily-registered process-wide collectors.
func Default() *Metrics {
	once.Do(func() {
		registry = newMetrics()
		prometheus.MustRegister(
			registry.settlements,
			registry.settleLatency,
			registry.issued,
			registry.balanceConflicts,
			registry.compensations,
			registry.reconcileDrift,
			registry.reconcilePairs,
			registry.eventsPublished,
		)
	})
	return registry
}

func newMetrics() *Metrics {
	return &Metrics{
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "points",
			Subsystem: "settlement",
			Name:      "total",
			Help:      "Settlement attempts segmented by entry point and outcome.",
		}, []string{"entry", "outcome"}),
		settleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "points",
			Subsystem: "settlement",
			Name:      "duration_seconds",
			Help:      "Latency of settlement attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entry"}),
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "points",
			Subsystem: "pending",
			Name:      "issued_total",
			Help:      "Pending transactions issued, by transaction type.",
		}, []string{"type"}),
		balanceConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "points",
			Subsystem: "balance",
			Name:      "version_conflicts_total",
			Help:      "Optimistic balance updates that lost a race and retried.",
		}),
		compensations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "points",
			Subsystem: "settlement",
			Name:      "compensations_total",
			Help:      "Ledger rows rolled back after a failed balance update.",
		}),
		reconcileDrift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "points",
			Subsystem: "reconcile",
			Name:      "drift_total",
			Help:      "Balances the reconciler found out of step with the ledger.",
		}, []string{"field"}),
		reconcilePairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "points",
			Subsystem: "reconcile",
			Name:      "pairs_total",
			Help:      "User/store balances recomputed by the reconciler.",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "points",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Settlement events written to the outbox.",
		}, []string{"outcome"}),
	}
}

// ObserveSettlement records one settlement attempt. A nil receiver is a no-op.
func (m *Metrics) ObserveSettlement(entry, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(entry, outcome).Inc()
	m.settleLatency.WithLabelValues(entry).Observe(elapsed.Seconds())
}

func (m *Metrics) IncIssued(txType string) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(txType).Inc()
}

func (m *Metrics) IncBalanceConflict() {
	if m == nil {
		return
	}
	m.balanceConflicts.Inc()
}

func (m *Metrics) IncCompensation() {
	if m == nil {
		return
	}
	m.compensations.Inc()
}

func (m *Metrics) IncReconciled(totalDrift, redeemedDrift bool) {
	if m == nil {
		return
	}
	m.reconcilePairs.Inc()
	if totalDrift {
		m.reconcileDrift.WithLabelValues("total_points").Inc()
	}
	if redeemedDrift {
		m.reconcileDrift.WithLabelValues("redeemed_points").Inc()
	}
}

func (m *Metrics) IncEvent(outcome string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(outcome).Inc()
}
