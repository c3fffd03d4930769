// Package metrics defines the Prometheus collectors for the payment core.
// Exposition is wired in cmd/server via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PaymentsInitiated counts initiation attempts by provider, channel
	// (web|mobile) and outcome (success|failure).
	PaymentsInitiated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_initiated_total",
		Help: "Payment initiation attempts by provider, channel and outcome.",
	}, []string{"provider", "channel", "outcome"})

	// Failovers counts primary-to-fallback failover attempts.
	Failovers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_failovers_total",
		Help: "Failover attempts from the primary to the fallback provider.",
	}, []string{"from", "to"})

	// ProviderCallDuration observes outbound provider call latency.
	ProviderCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_provider_call_duration_seconds",
		Help:    "Latency of outbound provider API calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation"})

	// WebhookEvents counts webhook deliveries by provider and mapped status.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Webhook deliveries by provider and mapped universal status.",
	}, []string{"provider", "status"})

	// WebhookRejected counts webhook deliveries rejected before any state
	// change, by reason (invalid_signature|malformed|unknown_reference).
	WebhookRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_rejected_total",
		Help: "Webhook deliveries rejected without state mutation.",
	}, []string{"provider", "reason"})

	// ReconcileAnomalies counts anomalous transition attempts: unmapped
	// native statuses and writes against terminal records.
	ReconcileAnomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconcile_anomalies_total",
		Help: "Anomalous status transitions rejected by the reconciler.",
	}, []string{"provider", "kind"})

	// Activations counts exactly-once success side effects fired.
	Activations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_activations_total",
		Help: "Downstream activations triggered on first transition into succeeded.",
	})
)
