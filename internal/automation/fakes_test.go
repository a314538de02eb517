package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// recorder implements Handlers and Compensators. Action types listed in
// failExec fail on execution; those in failUndo fail on compensation.
type recorder struct {
	mu       sync.Mutex
	executed []ActionType
	undone   []ActionType
	failExec map[ActionType]error
	failUndo map[ActionType]error
	panicOn  ActionType
	seq      int
}

func newRecorder() *recorder {
	return &recorder{
		failExec: map[ActionType]error{},
		failUndo: map[ActionType]error{},
	}
}

func (r *recorder) exec(t ActionType) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t == r.panicOn {
		panic("boom")
	}
	if err := r.failExec[t]; err != nil {
		return Outcome{}, err
	}
	r.seq++
	r.executed = append(r.executed, t)
	id := fmt.Sprintf("%s-%d", t, r.seq)
	return Outcome{
		Result:   map[string]any{"id": id},
		Rollback: RollbackData{RecordID: id},
	}, nil
}

func (r *recorder) undo(t ActionType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.undone = append(r.undone, t)
	return r.failUndo[t]
}

func (r *recorder) SendEmail(context.Context, ExecutionContext, SendEmailConfig) (Outcome, error) {
	return r.exec(ActionSendEmail)
}

func (r *recorder) CreateTask(context.Context, ExecutionContext, CreateTaskConfig) (Outcome, error) {
	return r.exec(ActionCreateTask)
}

func (r *recorder) Billing(context.Context, ExecutionContext, BillingConfig) (Outcome, error) {
	return r.exec(ActionBilling)
}

func (r *recorder) CalendarEvent(context.Context, ExecutionContext, CalendarEventConfig) (Outcome, error) {
	return r.exec(ActionCalendarEvent)
}

func (r *recorder) SaveFile(context.Context, ExecutionContext, SaveFileConfig) (Outcome, error) {
	return r.exec(ActionSaveFile)
}

func (r *recorder) CreateAlert(context.Context, ExecutionContext, CreateAlertConfig) (Outcome, error) {
	return r.exec(ActionCreateAlert)
}

func (r *recorder) UndoSendEmail(context.Context, RollbackEntry) error {
	r.undo(ActionSendEmail)
	return ErrNotReversible
}

func (r *recorder) UndoCreateTask(_ context.Context, _ RollbackEntry) error {
	return r.undo(ActionCreateTask)
}

func (r *recorder) UndoBilling(_ context.Context, _ RollbackEntry) error {
	return r.undo(ActionBilling)
}

func (r *recorder) UndoCalendarEvent(_ context.Context, _ RollbackEntry) error {
	return r.undo(ActionCalendarEvent)
}

func (r *recorder) UndoSaveFile(_ context.Context, _ RollbackEntry) error {
	return r.undo(ActionSaveFile)
}

func (r *recorder) UndoCreateAlert(_ context.Context, _ RollbackEntry) error {
	return r.undo(ActionCreateAlert)
}

var errRemote = errors.New("remote service unavailable")

// fakeStore is an in-memory EntityStore.
type fakeStore struct {
	mu          sync.Mutex
	tasks       map[string]TaskRecord
	timeEntries map[string]TimeEntryRecord
	activities  map[string]ActivityRecord
	next        int
	deleteErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:       map[string]TaskRecord{},
		timeEntries: map[string]TimeEntryRecord{},
		activities:  map[string]ActivityRecord{},
	}
}

func (s *fakeStore) id(prefix string) string {
	s.next++
	return fmt.Sprintf("%s-%d", prefix, s.next)
}

func (s *fakeStore) CreateTask(_ context.Context, t TaskRecord) (TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.id("task")
	s.tasks[t.ID] = t
	return t, nil
}

func (s *fakeStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.tasks, id)
	return nil
}

func (s *fakeStore) CreateTimeEntry(_ context.Context, e TimeEntryRecord) (TimeEntryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.id("time")
	s.timeEntries[e.ID] = e
	return e, nil
}

func (s *fakeStore) DeleteTimeEntry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.timeEntries, id)
	return nil
}

func (s *fakeStore) CreateActivity(_ context.Context, a ActivityRecord) (ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.id("activity")
	s.activities[a.ID] = a
	return a, nil
}

func (s *fakeStore) DeleteActivity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.activities, id)
	return nil
}

type fakeMailer struct {
	sent []OutgoingEmail
	err  error
}

func (m *fakeMailer) SendEmail(_ context.Context, msg OutgoingEmail) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, msg)
	return fmt.Sprintf("msg-%d", len(m.sent)), nil
}

type fakeCalendar struct {
	created map[string]EventSpec
	deleted []string
	err     error
}

func (c *fakeCalendar) CreateEvent(_ context.Context, calendarID string, ev EventSpec) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	if c.created == nil {
		c.created = map[string]EventSpec{}
	}
	id := fmt.Sprintf("%s/evt-%d", calendarID, len(c.created)+1)
	c.created[id] = ev
	return id, nil
}

func (c *fakeCalendar) DeleteEvent(_ context.Context, calendarID, eventID string) error {
	c.deleted = append(c.deleted, calendarID+":"+eventID)
	return nil
}

type fakeFiles struct {
	uploaded map[string]FileSpec
	deleted  []string
}

func (f *fakeFiles) Upload(_ context.Context, fs FileSpec) (string, error) {
	if f.uploaded == nil {
		f.uploaded = map[string]FileSpec{}
	}
	id := fmt.Sprintf("file-%d", len(f.uploaded)+1)
	f.uploaded[id] = fs
	return id, nil
}

func (f *fakeFiles) Delete(_ context.Context, fileID string) error {
	f.deleted = append(f.deleted, fileID)
	return nil
}
