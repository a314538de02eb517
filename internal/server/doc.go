// Package server holds the ServerContext shared by the MCP tools and the
// HTTP surface of ipdocket.
//
// HTTPServer serves:
//   - /approve and /reject: the links emailed to approvers. GET renders a
//     confirmation form, POST applies the decision. Both are rate limited
//     per client IP.
//   - /healthz and /readyz: Kubernetes liveness and readiness checks.
//     Readiness includes a store ping when the store supports it.
//   - /mcp (streamable HTTP) or /sse and /message: the MCP tools.
//
// MetricsServer exposes Prometheus metrics on a separate port.
package server
