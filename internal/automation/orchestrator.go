package automation

import (
	"context"
	"log/slog"
	"time"

	"github.com/teemow/ipdocket/internal/instrumentation"
	"github.com/teemow/ipdocket/internal/logging"
)

// OrchestratorConfig wires an Orchestrator to its collaborators.
type OrchestratorConfig struct {
	Handlers     Handlers
	Compensators Compensators
	Logger       *slog.Logger
	Metrics      *instrumentation.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator runs whole batches: every action in list order, then a single
// rollback of everything that succeeded if any action failed.
type Orchestrator struct {
	executor     *Executor
	compensators Compensators
	logger       *slog.Logger
	metrics      *instrumentation.Metrics
	now          func() time.Time
}

// NewOrchestrator creates an Orchestrator from cfg.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		executor:     NewExecutor(cfg.Handlers, logger, cfg.Metrics),
		compensators: cfg.Compensators,
		logger:       logger,
		metrics:      cfg.Metrics,
		now:          now,
	}
}

// NewIntegratedOrchestrator wires both sides of the orchestrator to in.
func NewIntegratedOrchestrator(in *Integrations, logger *slog.Logger, metrics *instrumentation.Metrics) *Orchestrator {
	return NewOrchestrator(OrchestratorConfig{
		Handlers:     in,
		Compensators: in,
		Logger:       logger,
		Metrics:      metrics,
		Now:          in.Now,
	})
}

// ExecuteBatch runs the actions of batch sequentially. A failed action does
// not stop the run. When at least one action failed, every action that
// succeeded is compensated in reverse order exactly once. Success is false
// whenever an action failed, whatever the rollback outcome. ExecuteBatch does
// not check or change batch.Status.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, batch *Batch) *BatchResult {
	start := o.now()
	logger := logging.WithBatch(o.logger, batch.ID, batch.RuleID)

	ctx, span := instrumentation.StartBatchSpan(ctx, batch.ID, batch.RuleID)
	defer span.End()

	ec := NewExecutionContext(batch)
	rm := NewRollbackManager(o.compensators, logger, o.metrics)

	results := make([]ActionResult, 0, len(batch.Actions))
	hasFailure := false
	for _, action := range batch.Actions {
		res := o.executor.Execute(ctx, action, ec, rm)
		if res.Status == StatusFailed {
			hasFailure = true
		}
		results = append(results, res)
	}

	result := &BatchResult{
		Success: !hasFailure,
		Results: results,
	}

	if hasFailure {
		logger.Warn("Batch had failed actions, rolling back executed actions",
			slog.Int("registered", len(rm.Entries())),
		)
		report, err := rm.RollbackAll(ctx)
		if err != nil {
			logger.Error("Rollback could not run", logging.Err(err))
		} else {
			result.Rollback = &report
		}
	}

	elapsed := o.now().Sub(start)
	result.Summary = summarize(results, elapsed)

	status := result.FinalStatus()
	if result.Success {
		instrumentation.SetSpanSuccess(span)
	} else {
		instrumentation.SetSpanFailed(span, "batch had failed actions")
	}
	o.metrics.RecordBatch(ctx, batch.RuleID, string(status), elapsed)

	logger.Info("Batch finished",
		logging.Status(string(status)),
		slog.Int("total_actions", result.Summary.TotalActions),
		slog.Int("successful", result.Summary.Successful),
		slog.Int("failed", result.Summary.Failed),
		slog.Int("skipped", result.Summary.Skipped),
		slog.Int64("execution_time_ms", result.Summary.ExecutionTimeMS),
	)

	return result
}
