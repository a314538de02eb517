// Package logging holds the slog attribute helpers used across ipdocket.
//
// Batch runs log through a logger scoped with WithBatch so every line of a
// run carries the batch and rule ids:
//
//	logger := logging.WithBatch(slog.Default(), batch.ID, batch.RuleID)
//	logger.Info("Batch finished", logging.Status("executed"))
//
// Approver emails are never logged in clear; use UserHash.
package logging
