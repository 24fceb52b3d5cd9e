// Package metrics provides Prometheus metrics for the settlement engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	SettlementsStarted  prometheus.Counter
	SettlementsAborted  prometheus.Counter
	ItemsCancelled      prometheus.Counter
	ItemsSubmitted      prometheus.Counter
	CancelFailures      prometheus.Counter
	SubmitFailures      prometheus.Counter
	SettleDuration      prometheus.Histogram
	RecordsSkipped      prometheus.Counter
	GroupsListed        prometheus.Counter
	OutboxPending       prometheus.Gauge
	ReceiptsRecorded    prometheus.Counter
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		SettlementsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlements_started_total",
			Help: "Total settlement attempts started",
		}),
		SettlementsAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlements_aborted_total",
			Help: "Settlement attempts aborted by a failed cancellation",
		}),
		ItemsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_items_cancelled_total",
			Help: "Items cancelled in phase 1",
		}),
		ItemsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_items_submitted_total",
			Help: "Items submitted in phase 2",
		}),
		CancelFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_cancel_failures_total",
			Help: "Failed cancel calls",
		}),
		SubmitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_submit_failures_total",
			Help: "Failed submit calls",
		}),
		SettleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "settlement_duration_seconds",
			Help:    "End-to-end settle duration",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		RecordsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "request_records_skipped_total",
			Help: "Malformed raw request records skipped by the normalizer",
		}),
		GroupsListed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "request_groups_listed_total",
			Help: "Groups returned by the listing endpoint",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		ReceiptsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_receipts_recorded_total",
			Help: "Receipt rows written by the receipt feed",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.SettlementsStarted,
		m.SettlementsAborted,
		m.ItemsCancelled,
		m.ItemsSubmitted,
		m.CancelFailures,
		m.SubmitFailures,
		m.SettleDuration,
		m.RecordsSkipped,
		m.GroupsListed,
		m.OutboxPending,
		m.ReceiptsRecorded,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
