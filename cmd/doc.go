// Package cmd implements the command-line interface for ipdocket.
//
// This package provides the following commands:
//   - serve: Start the approval endpoints and the MCP server
//   - execute: Execute one batch and print its result
//   - token: Issue and verify approval tokens
//   - advise: Suggest rule changes from past batches
//   - auth: Authorize a Google account
//   - triage: Stage batches for matching inbox mail
//   - version: Display version information
//   - generate-docs: Generate markdown documentation for all MCP tools
package cmd
