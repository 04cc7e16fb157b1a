package prommetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func findMetric(t *testing.T, families []*dto.MetricFamily, name string) *dto.MetricFamily {
	t.Helper()
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func TestRecordWebhookEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordWebhookEvent("stripe", "invoice.payment_succeeded", "processed")
	metrics.RecordWebhookEvent("stripe", "invoice.payment_succeeded", "acknowledged")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	mf := findMetric(t, families, "test_billing_webhook_events_total")
	if len(mf.GetMetric()) != 2 {
		t.Errorf("Expected 2 label combinations, got %d", len(mf.GetMetric()))
	}
}

func TestRecordWebhookProcessingDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordWebhookProcessingDuration("stripe", "checkout.session.completed", 25*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	mf := findMetric(t, families, "test_billing_webhook_processing_duration_seconds")
	if mf.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
		t.Error("Expected one histogram observation")
	}
}

func TestRecordStateTransition(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordStateTransition("stripe", "past_due", "active")
	metrics.RecordStateTransition("stripe", "past_due", "active")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	mf := findMetric(t, families, "test_billing_state_transitions_total")
	if mf.GetMetric()[0].GetCounter().GetValue() != 2 {
		t.Errorf("Expected counter value 2, got %v", mf.GetMetric()[0].GetCounter().GetValue())
	}
}

func TestRecordReconcile(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordReconcile("stripe", "success")
	metrics.RecordReconcileDuration("stripe", 120*time.Millisecond)
	metrics.RecordAPICall("stripe", "/subscriptions/list", "success")
	metrics.RecordAPICallDuration("stripe", "/subscriptions/list", 80*time.Millisecond)
	metrics.RecordWebhookError("stripe", "auth_failed")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) != 5 {
		t.Errorf("Expected 5 metric families, got %d", len(families))
	}
}
