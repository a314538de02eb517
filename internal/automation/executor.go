package automation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/teemow/ipdocket/internal/instrumentation"
	"github.com/teemow/ipdocket/internal/logging"
)

// Executor runs single actions through a Handlers implementation.
type Executor struct {
	handlers Handlers
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
}

// NewExecutor creates an executor. A nil logger falls back to slog.Default.
func NewExecutor(handlers Handlers, logger *slog.Logger, metrics *instrumentation.Metrics) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		handlers: handlers,
		logger:   logger,
		metrics:  metrics,
	}
}

// Execute runs action and reports its outcome. It never returns an error and
// never panics: every handler failure, an unknown action type or a panic in a
// handler becomes a failed result. A disabled action is skipped without
// touching rm. A successful action is registered with rm before Execute
// returns.
func (e *Executor) Execute(ctx context.Context, action Action, ec ExecutionContext, rm *RollbackManager) ActionResult {
	result := ActionResult{
		ActionID:   action.ID,
		ActionType: action.Type,
	}

	if !action.Enabled {
		result.Status = StatusSkipped
		result.Reason = ReasonDisabled
		e.metrics.RecordAction(ctx, string(action.Type), string(StatusSkipped), 0)
		return result
	}

	logger := e.logger.With(logging.ActionType(string(action.Type)), logging.ActionID(action.ID))

	ctx, span := instrumentation.StartActionSpan(ctx, "execute", string(action.Type), action.ID)
	defer span.End()

	start := time.Now()
	outcome, err := e.dispatch(ctx, action, ec)
	if err == nil && rm != nil {
		err = rm.Register(RollbackEntry{
			ActionType: action.Type,
			ActionID:   action.ID,
			Data:       outcome.Rollback,
			Executed:   true,
		})
	}
	duration := time.Since(start)

	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		instrumentation.SetSpanError(span, err)
		logger.Warn("Action failed", logging.Err(err), slog.Duration("duration", duration))
		e.metrics.RecordAction(ctx, string(action.Type), string(StatusFailed), duration)
		return result
	}

	result.Status = StatusSuccess
	result.Result = outcome.Result
	instrumentation.SetSpanSuccess(span)
	logger.Info("Action executed", slog.Duration("duration", duration))
	e.metrics.RecordAction(ctx, string(action.Type), string(StatusSuccess), duration)
	return result
}

func (e *Executor) dispatch(ctx context.Context, action Action, ec ExecutionContext) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s handler panicked: %v", action.Type, r)
		}
	}()

	if action.Config == nil {
		switch {
		case action.configErr != nil:
			return Outcome{}, action.configErr
		case !action.Type.IsValid():
			return Outcome{}, errUnknownActionType{t: action.Type}
		default:
			return Outcome{}, fmt.Errorf("%s action has no config", action.Type)
		}
	}
	if action.Config.ActionType() != action.Type {
		return Outcome{}, fmt.Errorf("config of type %s does not match action type %s", action.Config.ActionType(), action.Type)
	}
	if e.handlers == nil {
		return Outcome{}, fmt.Errorf("no action handlers configured")
	}

	switch cfg := action.Config.(type) {
	case SendEmailConfig:
		return e.handlers.SendEmail(ctx, ec, cfg)
	case CreateTaskConfig:
		return e.handlers.CreateTask(ctx, ec, cfg)
	case BillingConfig:
		return e.handlers.Billing(ctx, ec, cfg)
	case CalendarEventConfig:
		return e.handlers.CalendarEvent(ctx, ec, cfg)
	case SaveFileConfig:
		return e.handlers.SaveFile(ctx, ec, cfg)
	case CreateAlertConfig:
		return e.handlers.CreateAlert(ctx, ec, cfg)
	}
	return Outcome{}, fmt.Errorf("unsupported config type %T for %s", action.Config, action.Type)
}
