package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the Prometheus metrics as OpenTelemetry instruments,
// for deployments that ship metrics through an OTLP collector.
type OTelMetrics struct {
	// Graph store metrics
	storeOperations metric.Int64Counter
	storeDuration   metric.Float64Histogram

	// Cache metrics
	cacheHitsTotal   metric.Int64Counter
	cacheMissesTotal metric.Int64Counter

	// Authorization metrics
	authzDecisions    metric.Int64Counter
	configurationGaps metric.Int64Counter

	// Workflow metrics
	workflowTransitions metric.Int64Counter

	// Mirror metrics
	mirrorEvents          metric.Int64Counter
	mirrorPublishDuration metric.Float64Histogram
}

// NewOTelMetrics creates the instruments on the global meter provider.
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithMeter(otel.Meter("github.com/platinummonkey/quorum"))
}

// NewOTelMetricsWithMeter creates the instruments on meter.
func NewOTelMetricsWithMeter(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.storeOperations, err = meter.Int64Counter(
		"quorum.store.operations",
		metric.WithDescription("Total number of graph store operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store operations counter: %w", err)
	}

	m.storeDuration, err = meter.Float64Histogram(
		"quorum.store.duration",
		metric.WithDescription("Graph store operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store duration histogram: %w", err)
	}

	m.cacheHitsTotal, err = meter.Int64Counter(
		"quorum.cache.hits",
		metric.WithDescription("Total number of cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	m.cacheMissesTotal, err = meter.Int64Counter(
		"quorum.cache.misses",
		metric.WithDescription("Total number of cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	m.authzDecisions, err = meter.Int64Counter(
		"quorum.authz.decisions",
		metric.WithDescription("Total number of authorization decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz decisions counter: %w", err)
	}

	m.configurationGaps, err = meter.Int64Counter(
		"quorum.configuration.gaps",
		metric.WithDescription("Total number of lookups that hit missing graph configuration"),
		metric.WithUnit("{gap}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create configuration gaps counter: %w", err)
	}

	m.workflowTransitions, err = meter.Int64Counter(
		"quorum.workflow.transitions",
		metric.WithDescription("Total number of workflow transition validations"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow transitions counter: %w", err)
	}

	m.mirrorEvents, err = meter.Int64Counter(
		"quorum.mirror.events",
		metric.WithDescription("Total number of graph mirror events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mirror events counter: %w", err)
	}

	m.mirrorPublishDuration, err = meter.Float64Histogram(
		"quorum.mirror.publish.duration",
		metric.WithDescription("Mirror publish duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mirror publish histogram: %w", err)
	}

	return m, nil
}

// RecordStoreOperation records one graph store operation.
func (m *OTelMetrics) RecordStoreOperation(ctx context.Context, operation string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("store.operation", operation),
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error", "true"))
	} else {
		attrs = append(attrs, attribute.String("error", "false"))
	}

	m.storeOperations.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.storeDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordCacheHit records a cache hit
func (m *OTelMetrics) RecordCacheHit(ctx context.Context, cacheType string) {
	m.cacheHitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("cache.type", cacheType)))
}

// RecordCacheMiss records a cache miss
func (m *OTelMetrics) RecordCacheMiss(ctx context.Context, cacheType string) {
	m.cacheMissesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("cache.type", cacheType)))
}

// RecordAuthzDecision records an allow/deny from a resolver.
func (m *OTelMetrics) RecordAuthzDecision(ctx context.Context, resolver string, allowed bool) {
	m.authzDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("authz.resolver", resolver),
		attribute.Bool("authz.allowed", allowed),
	))
}

// RecordConfigurationGap records a lookup that found no configuration.
func (m *OTelMetrics) RecordConfigurationGap(ctx context.Context, kind string) {
	m.configurationGaps.Add(ctx, 1, metric.WithAttributes(attribute.String("gap.kind", kind)))
}

// RecordWorkflowTransition records a transition validation result.
func (m *OTelMetrics) RecordWorkflowTransition(ctx context.Context, scope, result string) {
	m.workflowTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow.scope", scope),
		attribute.String("workflow.result", result),
	))
}

// RecordMirrorEvent records a mirror event outcome.
func (m *OTelMetrics) RecordMirrorEvent(ctx context.Context, kind, result string) {
	m.mirrorEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mirror.kind", kind),
		attribute.String("mirror.result", result),
	))
}

// RecordMirrorPublish records how long a publisher took.
func (m *OTelMetrics) RecordMirrorPublish(ctx context.Context, publisher string, duration time.Duration) {
	m.mirrorPublishDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("mirror.publisher", publisher),
	))
}
