// Package common provides the instrumentation wrapper and result helpers
// shared by the MCP tool packages.
package common
