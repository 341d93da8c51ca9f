// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EvaluationsTotal counts completed evaluations by result: "ok" or
	// "failsafe".
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fraudshield",
		Name:      "evaluations_total",
		Help:      "Completed risk evaluations.",
	}, []string{"result"})

	// EvaluationDuration tracks the synchronous evaluation latency.
	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fraudshield",
		Name:      "evaluation_duration_seconds",
		Help:      "End-to-end evaluation latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// RiskScores observes the distribution of produced scores.
	RiskScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fraudshield",
		Name:      "risk_score",
		Help:      "Distribution of computed risk scores.",
		Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	// DecisionsTotal counts decisions by outcome.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fraudshield",
		Name:      "decisions_total",
		Help:      "Transaction decisions by outcome.",
	}, []string{"decision"})

	// WebhookDeliveriesTotal counts webhook delivery attempts by status:
	// "ok" or "error".
	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fraudshield",
		Name:      "webhook_deliveries_total",
		Help:      "Webhook delivery attempts.",
	}, []string{"status"})

	// BusConsumeErrors counts batch handler failures by channel.
	BusConsumeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fraudshield",
		Name:      "bus_consume_errors_total",
		Help:      "Batch handler failures causing redelivery.",
	}, []string{"channel"})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
