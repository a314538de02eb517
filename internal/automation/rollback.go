package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teemow/ipdocket/internal/instrumentation"
	"github.com/teemow/ipdocket/internal/logging"
)

// ErrRollbackStarted is returned when an entry is registered after the
// rollback began, or when RollbackAll is called a second time.
var ErrRollbackStarted = errors.New("rollback already started")

// RollbackEntry records one executed action so it can be compensated.
type RollbackEntry struct {
	ActionType ActionType   `json:"action_type"`
	ActionID   string       `json:"action_id,omitempty"`
	Data       RollbackData `json:"rollback_data"`
	Executed   bool         `json:"executed"`
}

// Compensation outcomes reported per rollback step.
const (
	CompensationSucceeded     = "compensated"
	CompensationFailed        = "failed"
	CompensationNotReversible = "not_reversible"
)

// RollbackStep is the outcome of compensating one entry.
type RollbackStep struct {
	ActionType ActionType `json:"action_type"`
	ActionID   string     `json:"action_id,omitempty"`
	Outcome    string     `json:"outcome"`
	Error      string     `json:"error,omitempty"`
}

// UncompensatedAction is an executed action whose side effect is still in
// place after the rollback. Operators follow up on these by hand.
type UncompensatedAction struct {
	ActionType ActionType   `json:"action_type"`
	ActionID   string       `json:"action_id,omitempty"`
	Data       RollbackData `json:"rollback_data"`
	Reason     string       `json:"reason"`
}

// RollbackReport summarizes a rollback. Steps are in compensation order.
type RollbackReport struct {
	Attempted     int                   `json:"attempted"`
	Compensated   int                   `json:"compensated"`
	Failed        int                   `json:"failed"`
	Steps         []RollbackStep        `json:"steps"`
	Uncompensated []UncompensatedAction `json:"uncompensated_actions"`
}

// Complete reports whether every executed action was undone.
func (r RollbackReport) Complete() bool {
	return r.Failed == 0 && len(r.Uncompensated) == 0
}

type rollbackState int

const (
	stateCollecting rollbackState = iota
	stateRollingBack
	stateDone
)

func (s rollbackState) String() string {
	switch s {
	case stateCollecting:
		return "collecting"
	case stateRollingBack:
		return "rolling_back"
	case stateDone:
		return "done"
	}
	return "unknown"
}

// RollbackManager collects executed actions for one batch run and undoes them
// in reverse order on request. It moves from collecting to rolling_back to
// done and never back. A manager belongs to a single batch run and is not
// safe for concurrent use.
type RollbackManager struct {
	compensators Compensators
	logger       *slog.Logger
	metrics      *instrumentation.Metrics

	state   rollbackState
	entries []RollbackEntry
}

// NewRollbackManager returns a manager in the collecting state.
func NewRollbackManager(compensators Compensators, logger *slog.Logger, metrics *instrumentation.Metrics) *RollbackManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RollbackManager{
		compensators: compensators,
		logger:       logger,
		metrics:      metrics,
	}
}

// Register appends entry. Entries are never deduplicated: two tasks created
// by two actions yield two compensations.
func (m *RollbackManager) Register(entry RollbackEntry) error {
	if m.state != stateCollecting {
		return fmt.Errorf("cannot register %s action %q: %w", entry.ActionType, entry.ActionID, ErrRollbackStarted)
	}
	m.entries = append(m.entries, entry)
	return nil
}

// Entries returns a copy of the registered entries in registration order.
func (m *RollbackManager) Entries() []RollbackEntry {
	return append([]RollbackEntry(nil), m.entries...)
}

// State returns the current state name.
func (m *RollbackManager) State() string {
	return m.state.String()
}

// RollbackAll compensates every executed entry, last registered first. A
// failed compensation is logged and counted and does not stop the remaining
// ones. Calling it twice returns ErrRollbackStarted.
func (m *RollbackManager) RollbackAll(ctx context.Context) (RollbackReport, error) {
	if m.state != stateCollecting {
		return RollbackReport{}, ErrRollbackStarted
	}
	m.state = stateRollingBack
	defer func() { m.state = stateDone }()

	report := RollbackReport{
		Steps:         make([]RollbackStep, 0, len(m.entries)),
		Uncompensated: []UncompensatedAction{},
	}

	for i := len(m.entries) - 1; i >= 0; i-- {
		entry := m.entries[i]
		if !entry.Executed {
			continue
		}
		report.Attempted++

		step := RollbackStep{ActionType: entry.ActionType, ActionID: entry.ActionID}
		logger := m.logger.With(logging.ActionType(string(entry.ActionType)), logging.ActionID(entry.ActionID))

		err := m.compensate(ctx, entry)
		switch {
		case err == nil:
			step.Outcome = CompensationSucceeded
			report.Compensated++
			logger.Info("Compensated action")
			m.metrics.RecordRollback(ctx, string(entry.ActionType), instrumentation.RollbackResultCompensated)

		case errors.Is(err, ErrNotReversible):
			step.Outcome = CompensationNotReversible
			step.Error = err.Error()
			report.Uncompensated = append(report.Uncompensated, UncompensatedAction{
				ActionType: entry.ActionType,
				ActionID:   entry.ActionID,
				Data:       entry.Data,
				Reason:     "not reversible",
			})
			logger.Warn("Action cannot be rolled back, leaving it in place")
			m.metrics.RecordRollback(ctx, string(entry.ActionType), instrumentation.RollbackResultNotReversible)

		default:
			step.Outcome = CompensationFailed
			step.Error = err.Error()
			report.Failed++
			report.Uncompensated = append(report.Uncompensated, UncompensatedAction{
				ActionType: entry.ActionType,
				ActionID:   entry.ActionID,
				Data:       entry.Data,
				Reason:     err.Error(),
			})
			logger.Error("Failed to compensate action", logging.Err(err))
			m.metrics.RecordRollback(ctx, string(entry.ActionType), instrumentation.RollbackResultFailed)
		}

		report.Steps = append(report.Steps, step)
	}

	m.logger.Info("Rollback finished",
		slog.Int("attempted", report.Attempted),
		slog.Int("compensated", report.Compensated),
		slog.Int("failed", report.Failed),
		slog.Int("uncompensated", len(report.Uncompensated)),
	)

	return report, nil
}

func (m *RollbackManager) compensate(ctx context.Context, entry RollbackEntry) (err error) {
	ctx, span := instrumentation.StartActionSpan(ctx, "compensate", string(entry.ActionType), entry.ActionID)
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compensation panicked: %v", r)
		}
		if err != nil && !errors.Is(err, ErrNotReversible) {
			instrumentation.SetSpanError(span, err)
		} else {
			instrumentation.SetSpanSuccess(span)
		}
		m.logger.Debug("Compensation attempt finished",
			logging.ActionType(string(entry.ActionType)),
			slog.Duration("duration", time.Since(start)),
		)
	}()

	if m.compensators == nil {
		return fmt.Errorf("no compensators configured")
	}

	switch entry.ActionType {
	case ActionSendEmail:
		return m.compensators.UndoSendEmail(ctx, entry)
	case ActionCreateTask:
		return m.compensators.UndoCreateTask(ctx, entry)
	case ActionBilling:
		return m.compensators.UndoBilling(ctx, entry)
	case ActionCalendarEvent:
		return m.compensators.UndoCalendarEvent(ctx, entry)
	case ActionSaveFile:
		return m.compensators.UndoSaveFile(ctx, entry)
	case ActionCreateAlert:
		return m.compensators.UndoCreateAlert(ctx, entry)
	}
	return errUnknownActionType{t: entry.ActionType}
}
