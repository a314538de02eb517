package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the default tracer name for ipdocket.
const TracerName = "github.com/teemow/ipdocket"

// Span attribute keys.
const (
	SpanAttrTool       = "mcp.tool"
	SpanAttrBatchID    = "automation.batch_id"
	SpanAttrRuleID     = "automation.rule_id"
	SpanAttrActionType = "automation.action_type"
	SpanAttrActionID   = "automation.action_id"
	// SpanAttrPhase is "execute" or "compensate".
	SpanAttrPhase = "automation.phase"
)

func tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(TracerName)
}

// StartToolSpan starts a server span for an MCP tool invocation.
func StartToolSpan(ctx context.Context, toolName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+1)
	allAttrs = append(allAttrs, attribute.String(SpanAttrTool, toolName))
	allAttrs = append(allAttrs, attrs...)

	return tracer().Start(ctx, "tool."+toolName,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartBatchSpan starts the span covering one batch run, rollback included.
// The rule attribute is omitted for batches created by hand.
func StartBatchSpan(ctx context.Context, batchID, ruleID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String(SpanAttrBatchID, batchID)}
	if ruleID != "" {
		attrs = append(attrs, attribute.String(SpanAttrRuleID, ruleID))
	}
	return tracer().Start(ctx, "automation.batch", trace.WithAttributes(attrs...))
}

// StartActionSpan starts a child span for a single action. Phase is "execute"
// or "compensate".
func StartActionSpan(ctx context.Context, phase, actionType, actionID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "automation.action."+phase,
		trace.WithAttributes(
			attribute.String(SpanAttrPhase, phase),
			attribute.String(SpanAttrActionType, actionType),
			attribute.String(SpanAttrActionID, actionID),
		),
	)
}

// SetSpanError records err on the span and marks it failed. A nil err is
// ignored.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanFailed marks the span failed without an error value, for runs that
// finish but report failures.
func SetSpanFailed(span trace.Span, description string) {
	span.SetStatus(codes.Error, description)
}

// SetSpanSuccess sets the span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
