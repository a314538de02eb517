package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// ToolInvocation is the audit record of one MCP tool call.
//
// Approver is the email of the person a token was issued for or who toggled
// an action. It is PII: unless the AuditLogger is configured with IncludePII
// only its domain is logged.
type ToolInvocation struct {
	Tool     string
	Approver string
	BatchID  string

	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	TraceID string
	SpanID  string
}

// NewToolInvocation starts timing a call of tool.
func NewToolInvocation(tool string) *ToolInvocation {
	return &ToolInvocation{
		Tool:      tool,
		StartTime: time.Now(),
	}
}

// WithUser sets the approver email.
func (ti *ToolInvocation) WithUser(email string) *ToolInvocation {
	ti.Approver = email
	return ti
}

// WithBatch sets the batch the tool acted on.
func (ti *ToolInvocation) WithBatch(batchID string) *ToolInvocation {
	ti.BatchID = batchID
	return ti
}

// WithSpanContext copies the trace and span ids of the span in ctx.
func (ti *ToolInvocation) WithSpanContext(ctx context.Context) *ToolInvocation {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		ti.TraceID = sc.TraceID().String()
		ti.SpanID = sc.SpanID().String()
	}
	return ti
}

// Complete stops the timer. err may be nil for a tool that returned an error
// result instead of an error.
func (ti *ToolInvocation) Complete(success bool, err error) *ToolInvocation {
	ti.Duration = time.Since(ti.StartTime)
	ti.Success = success
	if err != nil {
		ti.Error = err.Error()
	}
	return ti
}

// CompleteWithError marks the invocation as failed with err.
func (ti *ToolInvocation) CompleteWithError(err error) *ToolInvocation {
	return ti.Complete(false, err)
}

// CompleteSuccess marks the invocation as successful.
func (ti *ToolInvocation) CompleteSuccess() *ToolInvocation {
	return ti.Complete(true, nil)
}

// Status returns StatusSuccess or StatusError.
func (ti *ToolInvocation) Status() string {
	if ti.Success {
		return StatusSuccess
	}
	return StatusError
}

// LogAttrs returns the attributes of the audit record. The approver is logged
// in full only when includePII is set.
func (ti *ToolInvocation) LogAttrs(includePII bool) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("tool", ti.Tool),
		slog.Duration("duration", ti.Duration),
		slog.Bool("success", ti.Success),
	}

	if ti.Approver != "" {
		if includePII {
			attrs = append(attrs, slog.String("approver", ti.Approver))
		} else {
			attrs = append(attrs, slog.String("approver_domain", ExtractUserDomain(ti.Approver)))
		}
	}
	if ti.BatchID != "" {
		attrs = append(attrs, slog.String("batch_id", ti.BatchID))
	}
	if ti.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", ti.TraceID), slog.String("span_id", ti.SpanID))
	}
	if ti.Error != "" {
		attrs = append(attrs, slog.String("error", ti.Error))
	}
	return attrs
}

// AuditLogger writes one record per MCP tool call.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger returns an enabled audit logger that anonymizes approvers.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: true})
}

// NewAuditLoggerWithConfig returns an audit logger configured by config.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// LogToolInvocation logs ti as tool_executed or, for a failed call, as
// tool_failed. It does nothing when audit logging is disabled.
func (al *AuditLogger) LogToolInvocation(ti *ToolInvocation) {
	if al == nil || !al.enabled {
		return
	}

	msg, level := "tool_executed", slog.LevelInfo
	if !ti.Success {
		msg, level = "tool_failed", slog.LevelWarn
	}
	al.logger.LogAttrs(context.Background(), level, msg, ti.LogAttrs(al.includePII)...)
}
