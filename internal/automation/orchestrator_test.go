package automation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestOrchestrator(r *recorder) *Orchestrator {
	return NewOrchestrator(OrchestratorConfig{Handlers: r, Compensators: r})
}

func testBatch(actions ...Action) *Batch {
	return &Batch{
		ID:       "batch-1",
		RuleID:   "rule-1",
		MailID:   "mail-1",
		CaseID:   "case-1",
		ClientID: "client-1",
		Actions:  actions,
		Status:   BatchApproved,
	}
}

func TestExecuteBatch_PartialFailureRollsBackInReverse(t *testing.T) {
	r := newRecorder()
	r.failExec[ActionCalendarEvent] = errRemote

	result := newTestOrchestrator(r).ExecuteBatch(context.Background(), testBatch(
		NewAction("a1", CreateTaskConfig{Title: "Review"}),
		NewAction("a2", BillingConfig{Hours: 0.5}),
		NewAction("a3", CalendarEventConfig{Title: "Deadline"}),
	))

	assert.False(t, result.Success)
	require.Len(t, result.Results, 3)
	assert.Equal(t, StatusSuccess, result.Results[0].Status)
	assert.Equal(t, StatusSuccess, result.Results[1].Status)
	assert.Equal(t, StatusFailed, result.Results[2].Status)
	assert.Contains(t, result.Results[2].Error, "remote service unavailable")

	assert.Equal(t, []ActionType{ActionBilling, ActionCreateTask}, r.undone)

	assert.Equal(t, 3, result.Summary.TotalActions)
	assert.Equal(t, 2, result.Summary.Successful)
	assert.Equal(t, 1, result.Summary.Failed)
	assert.Equal(t, 0, result.Summary.Skipped)

	require.NotNil(t, result.Rollback)
	assert.Equal(t, 2, result.Rollback.Attempted)
	assert.Equal(t, 2, result.Rollback.Compensated)
	assert.Empty(t, result.Rollback.Uncompensated)
	assert.Equal(t, BatchRolledBack, result.FinalStatus())
}

func TestExecuteBatch_DisabledActionIsSkipped(t *testing.T) {
	r := newRecorder()
	disabled := NewAction("a1", SendEmailConfig{To: []string{"x@example.com"}})
	disabled.Enabled = false

	result := newTestOrchestrator(r).ExecuteBatch(context.Background(), testBatch(
		disabled,
		NewAction("a2", CreateTaskConfig{Title: "Docket"}),
	))

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Summary.Skipped)
	assert.Equal(t, 1, result.Summary.Successful)
	assert.Equal(t, StatusSkipped, result.Results[0].Status)
	assert.Equal(t, ReasonDisabled, result.Results[0].Reason)
	assert.Nil(t, result.Rollback)
	assert.Empty(t, r.undone)
	assert.Equal(t, []ActionType{ActionCreateTask}, r.executed)
	assert.Equal(t, BatchExecuted, result.FinalStatus())
}

func TestExecuteBatch_UnknownActionTypeTriggersRollback(t *testing.T) {
	r := newRecorder()
	result := newTestOrchestrator(r).ExecuteBatch(context.Background(), testBatch(
		NewAction("a1", CreateTaskConfig{Title: "Docket"}),
		Action{ID: "a2", Type: "fax", Enabled: true},
		NewAction("a3", CreateAlertConfig{Title: "Heads up"}),
	))

	assert.False(t, result.Success)
	assert.Equal(t, StatusFailed, result.Results[1].Status)
	assert.Equal(t, "Unknown action type: fax", result.Results[1].Error)
	assert.Equal(t, StatusSuccess, result.Results[2].Status, "later actions still run")
	assert.Equal(t, []ActionType{ActionCreateAlert, ActionCreateTask}, r.undone)
}

func TestExecuteBatch_NoFailureNeverRollsBack(t *testing.T) {
	r := newRecorder()
	var actions []Action
	for i, cfg := range []ActionConfig{
		SendEmailConfig{To: []string{"a@example.com"}},
		CreateTaskConfig{Title: "t"},
		BillingConfig{Hours: 1},
		CalendarEventConfig{Title: "e"},
		SaveFileConfig{FileName: "f.txt"},
		CreateAlertConfig{Title: "a"},
	} {
		actions = append(actions, NewAction(string(rune('a'+i)), cfg))
	}

	result := newTestOrchestrator(r).ExecuteBatch(context.Background(), testBatch(actions...))
	assert.True(t, result.Success)
	assert.Nil(t, result.Rollback)
	assert.Empty(t, r.undone)
	assert.Equal(t, 6, result.Summary.Successful)
}

func TestExecuteBatch_EmailIsReportedUncompensated(t *testing.T) {
	r := newRecorder()
	r.failExec[ActionSaveFile] = errRemote

	result := newTestOrchestrator(r).ExecuteBatch(context.Background(), testBatch(
		NewAction("mail", SendEmailConfig{To: []string{"client@example.com"}}),
		NewAction("file", SaveFileConfig{FileName: "oa.pdf"}),
	))

	require.NotNil(t, result.Rollback)
	assert.Equal(t, 1, result.Rollback.Attempted)
	assert.Equal(t, 0, result.Rollback.Compensated)
	assert.Equal(t, 0, result.Rollback.Failed)
	require.Len(t, result.Rollback.Uncompensated, 1)
	assert.Equal(t, ActionSendEmail, result.Rollback.Uncompensated[0].ActionType)
	assert.Equal(t, "mail", result.Rollback.Uncompensated[0].ActionID)
	assert.Equal(t, BatchFailed, result.FinalStatus())
}

func TestExecuteBatch_CompensationFailureDoesNotStopRollback(t *testing.T) {
	r := newRecorder()
	r.failExec[ActionCreateAlert] = errRemote
	r.failUndo[ActionBilling] = errRemote

	result := newTestOrchestrator(r).ExecuteBatch(context.Background(), testBatch(
		NewAction("a1", CreateTaskConfig{Title: "t"}),
		NewAction("a2", BillingConfig{Hours: 1}),
		NewAction("a3", CreateAlertConfig{Title: "a"}),
	))

	assert.False(t, result.Success)
	assert.Equal(t, []ActionType{ActionBilling, ActionCreateTask}, r.undone)
	require.NotNil(t, result.Rollback)
	assert.Equal(t, 1, result.Rollback.Failed)
	assert.Equal(t, 1, result.Rollback.Compensated)
	require.Len(t, result.Rollback.Uncompensated, 1)
	assert.Equal(t, ActionBilling, result.Rollback.Uncompensated[0].ActionType)
	assert.Equal(t, BatchFailed, result.FinalStatus())
}

func TestExecuteBatch_SummaryUsesClock(t *testing.T) {
	r := newRecorder()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	o := NewOrchestrator(OrchestratorConfig{
		Handlers:     r,
		Compensators: r,
		Now: func() time.Time {
			calls++
			return base.Add(time.Duration(calls-1) * 250 * time.Millisecond)
		},
	})

	result := o.ExecuteBatch(context.Background(), testBatch(NewAction("a", CreateTaskConfig{Title: "t"})))
	assert.Equal(t, int64(250), result.Summary.ExecutionTimeMS)
}

func TestExecuteBatch_LeavesBatchStatusAlone(t *testing.T) {
	r := newRecorder()
	b := testBatch(NewAction("a", CreateTaskConfig{Title: "t"}))
	newTestOrchestrator(r).ExecuteBatch(context.Background(), b)
	assert.Equal(t, BatchApproved, b.Status)
}

func TestExecuteBatch_IntegratedCompensation(t *testing.T) {
	store := newFakeStore()
	cal := &fakeCalendar{}
	files := &fakeFiles{}
	in := &Integrations{
		Store:    store,
		Mailer:   &fakeMailer{err: errRemote},
		Calendar: cal,
		Files:    files,
		Now:      func() time.Time { return time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC) },
	}

	result := NewIntegratedOrchestrator(in, nil, nil).ExecuteBatch(context.Background(), testBatch(
		NewAction("task", CreateTaskConfig{Title: "Prepare response"}),
		NewAction("time", BillingConfig{Hours: 0.2}),
		NewAction("event", CalendarEventConfig{Title: "Response due", DaysFromNow: 30}),
		NewAction("file", SaveFileConfig{FileName: "oa.txt", Content: "body"}),
		NewAction("alert", CreateAlertConfig{Title: "New office action"}),
		NewAction("mail", SendEmailConfig{To: []string{"client@example.com"}, Subject: "s", Body: "b"}),
	))

	assert.False(t, result.Success)
	require.NotNil(t, result.Rollback)
	assert.True(t, result.Rollback.Complete())
	assert.Equal(t, 5, result.Rollback.Compensated)
	assert.Empty(t, store.tasks)
	assert.Empty(t, store.timeEntries)
	assert.Empty(t, store.activities)
	assert.Len(t, cal.deleted, 1)
	assert.Equal(t, []string{"file-1"}, files.deleted)
	assert.Equal(t, BatchRolledBack, result.FinalStatus())
}

func TestExecuteBatch_SpanStatus(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	r := newRecorder()
	r.failExec[ActionBilling] = errRemote
	o := newTestOrchestrator(r)
	o.ExecuteBatch(context.Background(), testBatch(NewAction("a1", BillingConfig{Hours: 1})))
	o.ExecuteBatch(context.Background(), testBatch(NewAction("a1", CreateTaskConfig{Title: "t"})))

	var batches []sdktrace.ReadOnlySpan
	for _, s := range rec.Ended() {
		if s.Name() == "automation.batch" {
			batches = append(batches, s)
		}
	}
	require.Len(t, batches, 2)
	assert.Equal(t, codes.Error, batches[0].Status().Code)
	assert.Equal(t, "batch had failed actions", batches[0].Status().Description)
	assert.Equal(t, codes.Ok, batches[1].Status().Code)
}
