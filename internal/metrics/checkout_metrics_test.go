package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestCheckoutMetrics_Counters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewCheckoutMetricsWithRegisterer(registry)

	m.RecordSessionCreated("ok")
	m.RecordSessionCreated("ok")
	m.RecordSessionCreated("invalid_pricing")
	m.RecordSettlement("created")
	m.RecordWebhookEvent("checkout.session.completed", "processed")
	m.RecordTimelineEvent()
	m.RecordOutboxEnqueued()
	m.RecordSweep("settled")

	if got := testutil.ToFloat64(m.sessionsCreated.WithLabelValues("ok")); got != 2 {
		t.Fatalf("expected 2 ok sessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.sessionsCreated.WithLabelValues("invalid_pricing")); got != 1 {
		t.Fatalf("expected 1 invalid_pricing session, got %v", got)
	}
	if got := testutil.ToFloat64(m.settlements.WithLabelValues("created")); got != 1 {
		t.Fatalf("expected 1 created settlement, got %v", got)
	}
	if got := testutil.ToFloat64(m.timelineEvents); got != 1 {
		t.Fatalf("expected 1 timeline event, got %v", got)
	}
	if got := testutil.ToFloat64(m.outboxEnqueued); got != 1 {
		t.Fatalf("expected 1 outbox event, got %v", got)
	}
}

func TestCheckoutMetrics_ProcessorLatency(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewCheckoutMetricsWithRegisterer(registry)

	m.ObserveProcessorCall("retrieve_session", time.Now().Add(-150*time.Millisecond), nil)
	m.ObserveProcessorCall("retrieve_session", time.Now(), errors.New("timeout"))

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}

	var histogram *dto.MetricFamily
	for _, family := range families {
		if family.GetName() == "storefront_processor_request_duration_seconds" {
			histogram = family
		}
	}
	if histogram == nil {
		t.Fatal("processor latency histogram not registered")
	}
	if len(histogram.GetMetric()) != 2 {
		t.Fatalf("expected ok and error series, got %d", len(histogram.GetMetric()))
	}
	for _, metric := range histogram.GetMetric() {
		if metric.GetHistogram().GetSampleCount() != 1 {
			t.Fatalf("expected one sample per series, got %d", metric.GetHistogram().GetSampleCount())
		}
	}
}

func TestCheckoutMetrics_ReRegistrationReusesCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := NewCheckoutMetricsWithRegisterer(registry)
	second := NewCheckoutMetricsWithRegisterer(registry)

	first.RecordSettlement("already_exists")
	if got := testutil.ToFloat64(second.settlements.WithLabelValues("already_exists")); got != 1 {
		t.Fatalf("expected shared collector, got %v", got)
	}
}

func TestCheckoutMetrics_NilReceiver(t *testing.T) {
	var m *CheckoutMetrics
	m.RecordSessionCreated("ok")
	m.RecordSettlement("created")
	m.ObserveProcessorCall("create_session", time.Now(), nil)
	m.RecordWebhookEvent("x", "y")
	m.RecordTimelineEvent()
	m.RecordOutboxEnqueued()
	m.RecordSweep("settled")
}
