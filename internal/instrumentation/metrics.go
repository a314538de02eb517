package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys.
const (
	attrMethod     = "method"
	attrPath       = "path"
	attrStatus     = "status"
	attrOperation  = "operation"
	attrService    = "service"
	attrResult     = "result"
	attrTool       = "tool"
	attrActionType = "action_type"
	attrRule       = "rule_id"
)

// Metrics records the service's counters and histograms. Every method is a
// no-op on a nil or zero Metrics.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Google API metrics
	googleAPIOperationsTotal   metric.Int64Counter
	googleAPIOperationDuration metric.Float64Histogram

	// Automation metrics
	batchesTotal            metric.Int64Counter
	batchDuration           metric.Float64Histogram
	actionsTotal            metric.Int64Counter
	actionDuration          metric.Float64Histogram
	rollbacksTotal          metric.Int64Counter
	tokenVerificationsTotal metric.Int64Counter

	// MCP Tool metrics
	toolInvocationsTotal metric.Int64Counter
	toolDuration         metric.Float64Histogram

	// detailedLabels controls whether high-cardinality labels are included
	detailedLabels bool
}

// Histogram bucket boundaries in seconds.
var (
	httpBuckets  = []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0}
	callBuckets  = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0}
	batchBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0}
)

// metricBuilder creates instruments on one meter and keeps the first error.
type metricBuilder struct {
	meter metric.Meter
	err   error
}

func (b *metricBuilder) counter(name, description, unit string) metric.Int64Counter {
	if b.err != nil {
		return nil
	}
	c, err := b.meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		b.err = fmt.Errorf("failed to create %s counter: %w", name, err)
	}
	return c
}

func (b *metricBuilder) histogram(name, description string, buckets []float64) metric.Float64Histogram {
	if b.err != nil {
		return nil
	}
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(description),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	if err != nil {
		b.err = fmt.Errorf("failed to create %s histogram: %w", name, err)
	}
	return h
}

// NewMetrics creates every instrument on meter. detailedLabels adds rule ids
// to the batch metrics.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	b := &metricBuilder{meter: meter}
	m := &Metrics{
		httpRequestsTotal:   b.counter("http_requests_total", "Total number of HTTP requests", "{request}"),
		httpRequestDuration: b.histogram("http_request_duration_seconds", "HTTP request duration in seconds", httpBuckets),

		googleAPIOperationsTotal:   b.counter("google_api_operations_total", "Total number of Google API operations", "{operation}"),
		googleAPIOperationDuration: b.histogram("google_api_operation_duration_seconds", "Google API operation duration in seconds", callBuckets),

		batchesTotal:            b.counter("automation_batches_total", "Total number of executed automation batches", "{batch}"),
		batchDuration:           b.histogram("automation_batch_duration_seconds", "Automation batch execution duration in seconds, rollback included", batchBuckets),
		actionsTotal:            b.counter("automation_actions_total", "Total number of automation actions by type and status", "{action}"),
		actionDuration:          b.histogram("automation_action_duration_seconds", "Automation action duration in seconds", callBuckets),
		rollbacksTotal:          b.counter("automation_rollbacks_total", "Total number of compensation attempts by action type and result", "{compensation}"),
		tokenVerificationsTotal: b.counter("approval_token_verifications_total", "Total number of approval token verifications by result", "{verification}"),

		toolInvocationsTotal: b.counter("mcp_tool_invocations_total", "Total number of MCP tool invocations", "{invocation}"),
		toolDuration:         b.histogram("mcp_tool_duration_seconds", "MCP tool execution duration in seconds", callBuckets),

		detailedLabels: detailedLabels,
	}
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

// RecordHTTPRequest records one request served by the HTTP transport.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordGoogleAPIOperation records one call against a Google service.
func (m *Metrics) RecordGoogleAPIOperation(ctx context.Context, service, operation, status string, duration time.Duration) {
	if m == nil || m.googleAPIOperationsTotal == nil || m.googleAPIOperationDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrService, service),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	m.googleAPIOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.googleAPIOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordBatch records a finished batch run. Result is the batch's final
// status. The rule id is only attached when detailed labels are enabled.
func (m *Metrics) RecordBatch(ctx context.Context, ruleID, result string, duration time.Duration) {
	if m == nil || m.batchesTotal == nil || m.batchDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrResult, result),
	}
	if m.detailedLabels && ruleID != "" {
		attrs = append(attrs, attribute.String(attrRule, ruleID))
	}

	m.batchesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.batchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordAction records one action outcome ("success", "failed" or "skipped").
func (m *Metrics) RecordAction(ctx context.Context, actionType, status string, duration time.Duration) {
	if m == nil || m.actionsTotal == nil || m.actionDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrActionType, actionType),
		attribute.String(attrStatus, status),
	}

	m.actionsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.actionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordRollback records one compensation attempt. Result is one of the
// Rollback* result constants.
func (m *Metrics) RecordRollback(ctx context.Context, actionType, result string) {
	if m == nil || m.rollbacksTotal == nil {
		return
	}

	m.rollbacksTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrActionType, actionType),
		attribute.String(attrResult, result),
	))
}

// RecordTokenVerification records an approval token verification outcome.
func (m *Metrics) RecordTokenVerification(ctx context.Context, result string) {
	if m == nil || m.tokenVerificationsTotal == nil {
		return
	}

	m.tokenVerificationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrResult, result),
	))
}

// RecordToolInvocation records one MCP tool call.
func (m *Metrics) RecordToolInvocation(ctx context.Context, toolName, status string, duration time.Duration) {
	if m == nil || m.toolInvocationsTotal == nil || m.toolDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrTool, toolName),
		attribute.String(attrStatus, status),
	}

	m.toolInvocationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
