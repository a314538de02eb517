// Package google_tools exposes the Google OAuth consent flow as MCP tools,
// so an operator can authorize the accounts automation actions run as.
package google_tools
