package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teemow/ipdocket/internal/logging"
)

var (
	// ErrBatchNotFound is returned by stores for unknown batch ids.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrActionNotFound is returned when a batch has no action with the given id.
	ErrActionNotFound = errors.New("action not found")
	// ErrStatusConflict is returned when a batch is not in the status a
	// conditional update expected.
	ErrStatusConflict = errors.New("batch status changed concurrently")
	// ErrNotRunnable is returned for batches that are neither approved nor
	// auto-approved.
	ErrNotRunnable = errors.New("batch is not approved for execution")
	// ErrBatchRunning is returned when the batch is already executing in this
	// process.
	ErrBatchRunning = errors.New("batch is already running")
	// ErrBatchExists is returned when a rule already staged a batch for the
	// same mail.
	ErrBatchExists = errors.New("batch already staged for this rule and mail")
)

// BatchStore loads batches and persists their outcome.
type BatchStore interface {
	GetBatch(ctx context.Context, id string) (*Batch, error)
	// CompleteBatch stores result and moves the batch from status from to the
	// result's final status. It fails with ErrStatusConflict if the batch is
	// no longer in status from.
	CompleteBatch(ctx context.Context, id string, from BatchStatus, result *BatchResult, at time.Time) error
}

// RuleStatsRecorder applies counter increments to a rule's statistics.
type RuleStatsRecorder interface {
	IncrementRuleStats(ctx context.Context, ruleID string, delta RuleStatsDelta) error
}

// Runner executes stored batches and records their outcome.
type Runner struct {
	store  BatchStore
	orch   *Orchestrator
	stats  RuleStatsRecorder
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewRunner creates a Runner. stats may be nil.
func NewRunner(store BatchStore, orch *Orchestrator, stats RuleStatsRecorder, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:    store,
		orch:     orch,
		stats:    stats,
		logger:   logger,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

// Run executes the batch with the given id. The batch must be approved or
// auto-approved. The result is returned even when persisting it failed.
func (r *Runner) Run(ctx context.Context, batchID string) (*BatchResult, error) {
	if !r.claim(batchID) {
		return nil, fmt.Errorf("%s: %w", batchID, ErrBatchRunning)
	}
	defer r.release(batchID)

	batch, err := r.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}
	if !batch.Status.Runnable() {
		return nil, fmt.Errorf("batch %s is %s: %w", batchID, batch.Status, ErrNotRunnable)
	}

	result := r.orch.ExecuteBatch(ctx, batch)
	status := result.FinalStatus()
	logger := logging.WithBatch(r.logger, batch.ID, batch.RuleID)

	if err := r.store.CompleteBatch(ctx, batch.ID, batch.Status, result, r.now()); err != nil {
		logger.Error("Failed to persist batch result", logging.Status(string(status)), logging.Err(err))
		return result, fmt.Errorf("failed to persist result of batch %s: %w", batch.ID, err)
	}

	if r.stats != nil && batch.RuleID != "" {
		if err := r.stats.IncrementRuleStats(ctx, batch.RuleID, DeltaForStatus(status)); err != nil {
			logger.Warn("Failed to update rule stats", logging.Err(err))
		}
	}

	return result, nil
}

func (r *Runner) claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inflight[id]; ok {
		return false
	}
	r.inflight[id] = struct{}{}
	return true
}

func (r *Runner) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, id)
}
