// Package instrumentation wires OpenTelemetry metrics, traces and audit
// records into ipdocket.
//
// NewProvider builds the meter and tracer providers from a Config and installs
// them globally. Metrics are exported through Prometheus by default, scraped
// from the metrics server's /metrics endpoint, or pushed over OTLP. Tracing is
// off unless TRACING_EXPORTER names an exporter.
//
// The recorders in Metrics cover the automation path end to end:
//
//	automation_batches_total{result}                 finished batch runs
//	automation_actions_total{action_type,status}     executed, failed and skipped actions
//	automation_rollbacks_total{action_type,result}   compensation attempts
//	approval_token_verifications_total{result}       approval link checks
//	google_api_operations_total{service,operation}   Gmail, Calendar and Drive calls
//	mcp_tool_invocations_total{tool,status}          MCP tool calls
//	http_requests_total{method,path,status}          requests on the HTTP transport
//
// Each counter except the rollback and token ones has a matching
// *_duration_seconds histogram.
//
// Spans are named automation.batch for a batch run,
// automation.action.execute and automation.action.compensate for single
// actions, and tool.<name> for MCP tool calls.
//
// Environment:
//
//	INSTRUMENTATION_ENABLED       default true
//	METRICS_EXPORTER              prometheus, otlp or stdout
//	TRACING_EXPORTER              otlp, stdout or none
//	OTEL_EXPORTER_OTLP_ENDPOINT   collector host:port
//	OTEL_TRACES_SAMPLER_ARG       sampling ratio, default 0.1
//	METRICS_DETAILED_LABELS       add rule ids to batch metrics
//	AUDIT_LOGGING_INCLUDE_PII     log approver emails in full
//
// Typical use:
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	provider.Metrics().RecordBatch(ctx, batch.RuleID, "executed", time.Since(start))
package instrumentation
