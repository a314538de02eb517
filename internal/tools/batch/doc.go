// Package batch provides helpers for MCP tools that act on several ids in
// one call.
//
// This package includes helpers for:
//   - Parsing parameters that accept both single values and arrays
//   - Running an operation per id while tolerating partial failures
//   - Summarizing the per-id outcomes
package batch
