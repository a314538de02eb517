// Package advisor reviews the batch history of automation rules and suggests
// changes: dropping actions approvers keep switching off, requiring approval
// for auto-approved rules that fail, approving reliable rules automatically
// and reviewing rules whose batches are often rejected.
package advisor
