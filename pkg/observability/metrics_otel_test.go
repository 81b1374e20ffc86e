package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupTestMeter creates OTel metrics backed by a manual reader.
func setupTestMeter(t *testing.T) (*OTelMetrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	t.Cleanup(func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down provider: %v", err)
		}
	})

	m, err := NewOTelMetricsWithMeter(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewOTelMetricsWithMeter() error = %v, want nil", err)
	}
	return m, reader
}

// collect returns the named metric from the reader, failing when absent.
func collect(t *testing.T, reader *metric.ManualReader, name string) metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("metric %s not found", name)
	return metricdata.Metrics{}
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s is %T, want Sum[int64]", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewOTelMetrics(t *testing.T) {
	m, err := NewOTelMetrics()
	if err != nil {
		t.Fatalf("NewOTelMetrics() error = %v, want nil", err)
	}
	if m.storeOperations == nil || m.authzDecisions == nil || m.mirrorEvents == nil {
		t.Error("instruments not initialized")
	}
}

func TestOTelMetrics_Record(t *testing.T) {
	m, reader := setupTestMeter(t)
	ctx := context.Background()

	m.RecordStoreOperation(ctx, "get_entity", time.Millisecond, nil)
	m.RecordStoreOperation(ctx, "get_entity", time.Millisecond, errors.New("boom"))
	m.RecordAuthzDecision(ctx, "rbac", true)
	m.RecordConfigurationGap(ctx, "relation_type")
	m.RecordWorkflowTransition(ctx, "proposal", "allowed")
	m.RecordMirrorEvent(ctx, "node.upsert", "published")
	m.RecordMirrorPublish(ctx, "redis", 2*time.Millisecond)
	m.RecordCacheHit(ctx, "relation_type")
	m.RecordCacheMiss(ctx, "relation_type")

	tests := map[string]int64{
		"quorum.store.operations":     2,
		"quorum.authz.decisions":      1,
		"quorum.configuration.gaps":   1,
		"quorum.workflow.transitions": 1,
		"quorum.mirror.events":        1,
		"quorum.cache.hits":           1,
		"quorum.cache.misses":         1,
	}
	for name, want := range tests {
		if got := sumOf(t, collect(t, reader, name)); got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}

	hist, ok := collect(t, reader, "quorum.mirror.publish.duration").Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("mirror publish histogram = %+v", hist)
	}
}

func TestMetrics_ForwardsToOTel(t *testing.T) {
	o, reader := setupTestMeter(t)
	m := NewMetrics(prometheus.NewRegistry()).WithOTel(o)

	m.WorkflowTransition("proposal", "denied")
	m.AuthzDecision("abac", false)

	if got := testutil.ToFloat64(m.WorkflowTransitionsTotal.WithLabelValues("proposal", "denied")); got != 1 {
		t.Errorf("prometheus workflow transitions = %v, want 1", got)
	}
	if got := sumOf(t, collect(t, reader, "quorum.workflow.transitions")); got != 1 {
		t.Errorf("otel workflow transitions = %d, want 1", got)
	}
	if got := sumOf(t, collect(t, reader, "quorum.authz.decisions")); got != 1 {
		t.Errorf("otel authz decisions = %d, want 1", got)
	}
}
