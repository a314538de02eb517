package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
)

// Log attribute keys shared by every package.
const (
	KeyBatch      = "batch_id"
	KeyRule       = "rule_id"
	KeyActionType = "action_type"
	KeyActionID   = "action_id"
	KeyStatus     = "status"
	KeyError      = "error"
	KeyAccount    = "account"
	KeyUserHash   = "user_hash"
)

// WithBatch returns a logger scoped to one batch run.
func WithBatch(logger *slog.Logger, batchID, ruleID string) *slog.Logger {
	return logger.With(slog.String(KeyBatch, batchID), slog.String(KeyRule, ruleID))
}

// Batch returns a slog attribute for the batch id.
func Batch(id string) slog.Attr {
	return slog.String(KeyBatch, id)
}

// Rule returns a slog attribute for the rule id.
func Rule(id string) slog.Attr {
	return slog.String(KeyRule, id)
}

// ActionType returns a slog attribute for an automation action type.
func ActionType(t string) slog.Attr {
	return slog.String(KeyActionType, t)
}

// ActionID returns a slog attribute for an automation action id.
func ActionID(id string) slog.Attr {
	return slog.String(KeyActionID, id)
}

// Status returns a slog attribute for a batch or action status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Account returns a slog attribute for a Google account name.
func Account(account string) slog.Attr {
	return slog.String(KeyAccount, account)
}

// Err returns a slog attribute for an error. A nil err yields an empty group,
// which slog omits from the output.
//
// Usage:
//
//	logger.Info("operation", logging.Err(err))  // Safe even if err is nil
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// AnonymizeEmail returns a stable hash of email so log entries of the same
// approver can be correlated without logging the address.
func AnonymizeEmail(email string) string {
	if email == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(email))
	return "user:" + hex.EncodeToString(hash[:8])
}

// UserHash returns a slog attribute with the anonymized email.
//
// Usage:
//
//	logger.Info("Issued approval token", logging.UserHash(batch.ApproverEmail))
func UserHash(email string) slog.Attr {
	return slog.String(KeyUserHash, AnonymizeEmail(email))
}
