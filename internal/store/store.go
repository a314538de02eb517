package store

import (
	"context"

	"github.com/teemow/ipdocket/internal/automation"
)

// Store is the persistence the automation subsystem runs on: the case
// records actions write to, staged batches and per-rule statistics.
type Store interface {
	automation.EntityStore
	automation.BatchStore
	automation.RuleStatsRecorder

	GetTask(ctx context.Context, id string) (automation.TaskRecord, error)
	GetTimeEntry(ctx context.Context, id string) (automation.TimeEntryRecord, error)
	GetActivity(ctx context.Context, id string) (automation.ActivityRecord, error)

	// CreateBatch stores a new batch. An empty ID is assigned. A second
	// batch for the same rule and non-empty mail id fails with
	// automation.ErrBatchExists.
	CreateBatch(ctx context.Context, b *automation.Batch) error
	ListBatches(ctx context.Context, filter BatchFilter) ([]*automation.Batch, error)
	UpdateBatchStatus(ctx context.Context, id string, from, to automation.BatchStatus) error
	SetActionEnabled(ctx context.Context, batchID, actionID string, enabled bool) error

	GetRuleStats(ctx context.Context, ruleID string) (automation.RuleStats, error)
	ListRuleStats(ctx context.Context) ([]automation.RuleStats, error)

	Close() error
}

// BatchFilter narrows ListBatches. Zero fields match everything.
type BatchFilter struct {
	RuleID string
	Status automation.BatchStatus
	// Limit caps the result; 0 means no limit.
	Limit int
}

func (f BatchFilter) matches(b *automation.Batch) bool {
	if f.RuleID != "" && b.RuleID != f.RuleID {
		return false
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	return true
}
