// Package automation_tools exposes batch execution, approval tokens and
// rule suggestions as MCP tools.
package automation_tools
