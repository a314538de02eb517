// Package automation executes approval batches: ordered lists of side-effecting
// actions staged for one inbound mail.
//
// The Orchestrator runs every enabled action of a batch in list order through
// the Executor. A failing action never stops the run. Each action that
// succeeds is registered with a RollbackManager; if any action failed, the
// manager compensates every registered action once, last executed first, and
// reports what could not be undone (sent mail is never reversible).
//
// Action kinds form a closed set. Each kind has a typed config implementing
// ActionConfig, a method on Handlers and a method on Compensators, so adding
// a kind breaks every implementation until it handles the new kind.
// Integrations implements both interfaces on top of an EntityStore and the
// Gmail, Calendar and Drive adapters in google.go.
//
// Runner loads a stored batch, executes it and persists the final status and
// rule statistics.
package automation
