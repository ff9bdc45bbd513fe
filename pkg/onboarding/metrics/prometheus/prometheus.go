package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/goonboard/pkg/onboarding"
)

// Metrics implements onboarding.Metrics using Prometheus.
type Metrics struct {
	transitionsTotal   *prometheus.CounterVec
	completionsTotal   prometheus.Counter
	billingCallsTotal  *prometheus.CounterVec
	webhookReconciled  *prometheus.CounterVec
	storageOpsDuration *prometheus.HistogramVec
	storageOpsErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		transitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "onboarding_transitions_total",
			Help:      "Total number of onboarding step submissions by outcome.",
		}, []string{"step", "outcome"}),

		completionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "onboarding_completions_total",
			Help:      "Total number of users that completed onboarding.",
		}),

		billingCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "onboarding_billing_calls_total",
			Help:      "Total number of billing calls made by the state machine.",
		}, []string{"operation", "policy", "success"}),

		webhookReconciled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "onboarding_webhook_reconcile_total",
			Help:      "Total number of billing events reconciled by result.",
		}, []string{"event_type", "result"}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),
	}
}

func (m *Metrics) RecordTransition(step onboarding.Step, outcome string) {
	m.transitionsTotal.WithLabelValues(string(step), outcome).Inc()
}

func (m *Metrics) RecordCompletion() {
	m.completionsTotal.Inc()
}

func (m *Metrics) RecordBillingCall(op, policy string, err error) {
	success := "true"
	if err != nil {
		success = "false"
	}
	m.billingCallsTotal.WithLabelValues(op, policy, success).Inc()
}

func (m *Metrics) RecordWebhookReconcile(kind, result string) {
	m.webhookReconciled.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}

var _ onboarding.Metrics = (*Metrics)(nil)
