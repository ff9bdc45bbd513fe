package prommetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/goonboard/pkg/onboarding"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestMetrics_RecordTransition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	m.RecordTransition(onboarding.StepBasicInfo, "ok")
	m.RecordTransition(onboarding.StepBasicInfo, "ok")
	m.RecordTransition(onboarding.StepPayment, "sequence")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.transitionsTotal.WithLabelValues("BASIC_INFO", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transitionsTotal.WithLabelValues("PAYMENT", "sequence")))
}

func TestMetrics_RecordCompletionAndBilling(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	m.RecordCompletion()
	m.RecordBillingCall("ensure_customer", "warn", errors.New("down"))
	m.RecordBillingCall("create_subscription", "abort", nil)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.completionsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.billingCallsTotal.WithLabelValues("ensure_customer", "warn", "false")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.billingCallsTotal.WithLabelValues("create_subscription", "abort", "true")))
}

func TestMetrics_RecordWebhookReconcile(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	m.RecordWebhookReconcile("customer.subscription.updated", "stale")

	family := gather(t, reg, "test_onboarding_webhook_reconcile_total")
	require.NotNil(t, family)
	require.Len(t, family.GetMetric(), 1)
	assert.Equal(t, float64(1), family.GetMetric()[0].GetCounter().GetValue())
}

func TestMetrics_RecordStorageOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	m.RecordStorageOperation("submit_basic_info", 5*time.Millisecond, nil)
	m.RecordStorageOperation("submit_basic_info", 5*time.Millisecond, errors.New("timeout"))

	family := gather(t, reg, "test_storage_operation_duration_seconds")
	require.NotNil(t, family)
	assert.Equal(t, uint64(2), family.GetMetric()[0].GetHistogram().GetSampleCount())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.storageOpsErrors.WithLabelValues("submit_basic_info")))
}
