package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotReversible is returned by compensators for side effects that cannot be
// undone, such as a sent email.
var ErrNotReversible = errors.New("action is not reversible")

// Outcome is what a handler returns when its side effect succeeded.
type Outcome struct {
	Result   map[string]any
	Rollback RollbackData
}

// RollbackData identifies what an executed action created.
type RollbackData struct {
	RecordID   string `json:"record_id,omitempty"`
	CalendarID string `json:"calendar_id,omitempty"`
	EventID    string `json:"event_id,omitempty"`
	FileID     string `json:"file_id,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
}

// Handlers performs the side effect of each action kind.
type Handlers interface {
	SendEmail(ctx context.Context, ec ExecutionContext, cfg SendEmailConfig) (Outcome, error)
	CreateTask(ctx context.Context, ec ExecutionContext, cfg CreateTaskConfig) (Outcome, error)
	Billing(ctx context.Context, ec ExecutionContext, cfg BillingConfig) (Outcome, error)
	CalendarEvent(ctx context.Context, ec ExecutionContext, cfg CalendarEventConfig) (Outcome, error)
	SaveFile(ctx context.Context, ec ExecutionContext, cfg SaveFileConfig) (Outcome, error)
	CreateAlert(ctx context.Context, ec ExecutionContext, cfg CreateAlertConfig) (Outcome, error)
}

// Compensators undoes the side effect of each action kind.
type Compensators interface {
	UndoSendEmail(ctx context.Context, entry RollbackEntry) error
	UndoCreateTask(ctx context.Context, entry RollbackEntry) error
	UndoBilling(ctx context.Context, entry RollbackEntry) error
	UndoCalendarEvent(ctx context.Context, entry RollbackEntry) error
	UndoSaveFile(ctx context.Context, entry RollbackEntry) error
	UndoCreateAlert(ctx context.Context, entry RollbackEntry) error
}

// Default values applied by Integrations.
const (
	DefaultCalendarID      = "primary"
	DefaultEventDuration   = 60 * time.Minute
	DefaultEventStartHour  = 9
	DefaultTaskPriority    = "medium"
	DefaultAlertSeverity   = "info"
	DefaultFileMimeType    = "text/plain"
	taskStatusOpen         = "open"
	activityKindAlert      = "alert"
	notConfiguredErrFormat = "%s is not configured"
)

// Integrations implements Handlers and Compensators on top of the entity
// store and the mail, calendar and file providers. A nil provider makes the
// actions that need it fail.
type Integrations struct {
	Store    EntityStore
	Mailer   Mailer
	Calendar CalendarService
	Files    FileStore

	// CalendarID is used when a calendar_event action does not name one.
	CalendarID string
	// HourlyRate is used when a billing action does not set a rate.
	HourlyRate float64
	// Now defaults to time.Now.
	Now func() time.Time
}

var (
	_ Handlers     = (*Integrations)(nil)
	_ Compensators = (*Integrations)(nil)
)

func (in *Integrations) now() time.Time {
	if in.Now != nil {
		return in.Now()
	}
	return time.Now()
}

// SendEmail sends the configured message through the Mailer.
func (in *Integrations) SendEmail(ctx context.Context, ec ExecutionContext, cfg SendEmailConfig) (Outcome, error) {
	if in.Mailer == nil {
		return Outcome{}, fmt.Errorf(notConfiguredErrFormat, "mailer")
	}
	r := newRenderer(ec, in.now())

	to := append([]string(nil), cfg.To...)
	if cfg.ReplyToSender && ec.MailSnapshot.From != "" {
		to = append(to, ec.MailSnapshot.From)
	}
	if len(to) == 0 {
		return Outcome{}, fmt.Errorf("at least one recipient is required")
	}

	subject := r.String(cfg.Subject)
	if subject == "" && ec.MailSnapshot.Subject != "" {
		subject = "Re: " + ec.MailSnapshot.Subject
	}
	body := r.String(cfg.Body)
	if body == "" {
		return Outcome{}, fmt.Errorf("body is required")
	}

	id, err := in.Mailer.SendEmail(ctx, OutgoingEmail{
		To:      to,
		Cc:      cfg.Cc,
		Bcc:     cfg.Bcc,
		Subject: subject,
		Body:    body,
		IsHTML:  cfg.IsHTML,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to send email: %w", err)
	}

	return Outcome{
		Result:   map[string]any{"message_id": id, "to": to},
		Rollback: RollbackData{MessageID: id},
	}, nil
}

// CreateTask creates a task record on the batch's case.
func (in *Integrations) CreateTask(ctx context.Context, ec ExecutionContext, cfg CreateTaskConfig) (Outcome, error) {
	if in.Store == nil {
		return Outcome{}, fmt.Errorf(notConfiguredErrFormat, "entity store")
	}
	now := in.now()
	r := newRenderer(ec, now)

	title := strings.TrimSpace(r.String(cfg.Title))
	if title == "" {
		return Outcome{}, fmt.Errorf("task title is required")
	}
	priority := cfg.Priority
	if priority == "" {
		priority = DefaultTaskPriority
	}

	task := TaskRecord{
		CaseID:        ec.CaseID,
		ClientID:      ec.ClientID,
		MailID:        ec.MailID,
		SourceBatchID: ec.BatchID,
		Title:         title,
		Description:   r.String(cfg.Description),
		AssignedTo:    cfg.AssignedTo,
		Priority:      priority,
		Status:        taskStatusOpen,
		CreatedAt:     now,
	}
	if cfg.DueInDays > 0 {
		due := now.AddDate(0, 0, cfg.DueInDays)
		task.DueDate = &due
	}

	created, err := in.Store.CreateTask(ctx, task)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to create task: %w", err)
	}

	return Outcome{
		Result:   map[string]any{"task_id": created.ID, "title": created.Title},
		Rollback: RollbackData{RecordID: created.ID},
	}, nil
}

// Billing logs a time entry on the batch's case.
func (in *Integrations) Billing(ctx context.Context, ec ExecutionContext, cfg BillingConfig) (Outcome, error) {
	if in.Store == nil {
		return Outcome{}, fmt.Errorf(notConfiguredErrFormat, "entity store")
	}
	if cfg.Hours <= 0 {
		return Outcome{}, fmt.Errorf("hours must be positive, got %v", cfg.Hours)
	}
	now := in.now()
	r := newRenderer(ec, now)

	rate := cfg.Rate
	if rate == 0 {
		rate = in.HourlyRate
	}
	billable := true
	if cfg.Billable != nil {
		billable = *cfg.Billable
	}

	entry, err := in.Store.CreateTimeEntry(ctx, TimeEntryRecord{
		CaseID:        ec.CaseID,
		ClientID:      ec.ClientID,
		SourceBatchID: ec.BatchID,
		Description:   r.String(cfg.Description),
		Hours:         cfg.Hours,
		Rate:          rate,
		Billable:      billable,
		Date:          now,
		CreatedAt:     now,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to create time entry: %w", err)
	}

	return Outcome{
		Result:   map[string]any{"time_entry_id": entry.ID, "hours": entry.Hours, "amount": entry.Hours * entry.Rate},
		Rollback: RollbackData{RecordID: entry.ID},
	}, nil
}

// CalendarEvent creates an event DaysFromNow days ahead at the default start hour.
func (in *Integrations) CalendarEvent(ctx context.Context, ec ExecutionContext, cfg CalendarEventConfig) (Outcome, error) {
	if in.Calendar == nil {
		return Outcome{}, fmt.Errorf(notConfiguredErrFormat, "calendar")
	}
	now := in.now()
	r := newRenderer(ec, now)

	title := strings.TrimSpace(r.String(cfg.Title))
	if title == "" {
		return Outcome{}, fmt.Errorf("event title is required")
	}
	calendarID := cfg.CalendarID
	if calendarID == "" {
		calendarID = in.CalendarID
	}
	if calendarID == "" {
		calendarID = DefaultCalendarID
	}
	duration := DefaultEventDuration
	if cfg.DurationMinutes > 0 {
		duration = time.Duration(cfg.DurationMinutes) * time.Minute
	}

	day := time.Date(now.Year(), now.Month(), now.Day(), DefaultEventStartHour, 0, 0, 0, now.Location())
	start := day.AddDate(0, 0, cfg.DaysFromNow)

	eventID, err := in.Calendar.CreateEvent(ctx, calendarID, EventSpec{
		Title:       title,
		Description: r.String(cfg.Description),
		Location:    cfg.Location,
		Start:       start,
		End:         start.Add(duration),
		TimeZone:    cfg.TimeZone,
		Attendees:   cfg.Attendees,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to create calendar event: %w", err)
	}

	return Outcome{
		Result:   map[string]any{"event_id": eventID, "calendar_id": calendarID, "start": start.Format(time.RFC3339)},
		Rollback: RollbackData{CalendarID: calendarID, EventID: eventID},
	}, nil
}

// SaveFile uploads the configured content, or the mail body when none is set.
func (in *Integrations) SaveFile(ctx context.Context, ec ExecutionContext, cfg SaveFileConfig) (Outcome, error) {
	if in.Files == nil {
		return Outcome{}, fmt.Errorf(notConfiguredErrFormat, "file store")
	}
	r := newRenderer(ec, in.now())

	name := strings.TrimSpace(r.String(cfg.FileName))
	if name == "" {
		return Outcome{}, fmt.Errorf("file name is required")
	}
	content := r.String(cfg.Content)
	if content == "" {
		content = ec.MailSnapshot.Body
	}
	if content == "" {
		content = ec.MailSnapshot.Snippet
	}
	mimeType := cfg.MimeType
	if mimeType == "" {
		mimeType = DefaultFileMimeType
	}

	var folderName string
	if cfg.FolderID == "" {
		folderName = strings.TrimSpace(r.String(cfg.FolderName))
		if folderName == "" {
			folderName = ec.CaseID
		}
	}

	fileID, err := in.Files.Upload(ctx, FileSpec{
		Name:        name,
		FolderID:    cfg.FolderID,
		FolderName:  folderName,
		MimeType:    mimeType,
		Description: fmt.Sprintf("Saved from mail %s by batch %s", ec.MailID, ec.BatchID),
		Content:     []byte(content),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to save file: %w", err)
	}

	return Outcome{
		Result:   map[string]any{"file_id": fileID, "file_name": name},
		Rollback: RollbackData{FileID: fileID},
	}, nil
}

// CreateAlert records an alert activity on the batch's case.
func (in *Integrations) CreateAlert(ctx context.Context, ec ExecutionContext, cfg CreateAlertConfig) (Outcome, error) {
	if in.Store == nil {
		return Outcome{}, fmt.Errorf(notConfiguredErrFormat, "entity store")
	}
	now := in.now()
	r := newRenderer(ec, now)

	title := strings.TrimSpace(r.String(cfg.Title))
	if title == "" {
		return Outcome{}, fmt.Errorf("alert title is required")
	}
	severity := cfg.Severity
	if severity == "" {
		severity = DefaultAlertSeverity
	}

	activity, err := in.Store.CreateActivity(ctx, ActivityRecord{
		CaseID:        ec.CaseID,
		ClientID:      ec.ClientID,
		SourceBatchID: ec.BatchID,
		Kind:          activityKindAlert,
		Title:         title,
		Message:       r.String(cfg.Message),
		Severity:      severity,
		CreatedAt:     now,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to create alert: %w", err)
	}

	return Outcome{
		Result:   map[string]any{"activity_id": activity.ID},
		Rollback: RollbackData{RecordID: activity.ID},
	}, nil
}

// UndoSendEmail always fails with ErrNotReversible.
func (in *Integrations) UndoSendEmail(_ context.Context, _ RollbackEntry) error {
	return ErrNotReversible
}

// UndoCreateTask deletes the created task.
func (in *Integrations) UndoCreateTask(ctx context.Context, entry RollbackEntry) error {
	if entry.Data.RecordID == "" {
		return fmt.Errorf("no task id recorded")
	}
	if in.Store == nil {
		return fmt.Errorf(notConfiguredErrFormat, "entity store")
	}
	return in.Store.DeleteTask(ctx, entry.Data.RecordID)
}

// UndoBilling deletes the created time entry.
func (in *Integrations) UndoBilling(ctx context.Context, entry RollbackEntry) error {
	if entry.Data.RecordID == "" {
		return fmt.Errorf("no time entry id recorded")
	}
	if in.Store == nil {
		return fmt.Errorf(notConfiguredErrFormat, "entity store")
	}
	return in.Store.DeleteTimeEntry(ctx, entry.Data.RecordID)
}

// UndoCalendarEvent deletes the created event.
func (in *Integrations) UndoCalendarEvent(ctx context.Context, entry RollbackEntry) error {
	if entry.Data.EventID == "" {
		return fmt.Errorf("no event id recorded")
	}
	if in.Calendar == nil {
		return fmt.Errorf(notConfiguredErrFormat, "calendar")
	}
	calendarID := entry.Data.CalendarID
	if calendarID == "" {
		calendarID = DefaultCalendarID
	}
	return in.Calendar.DeleteEvent(ctx, calendarID, entry.Data.EventID)
}

// UndoSaveFile deletes the uploaded file.
func (in *Integrations) UndoSaveFile(ctx context.Context, entry RollbackEntry) error {
	if entry.Data.FileID == "" {
		return fmt.Errorf("no file id recorded")
	}
	if in.Files == nil {
		return fmt.Errorf(notConfiguredErrFormat, "file store")
	}
	return in.Files.Delete(ctx, entry.Data.FileID)
}

// UndoCreateAlert deletes the created activity.
func (in *Integrations) UndoCreateAlert(ctx context.Context, entry RollbackEntry) error {
	if entry.Data.RecordID == "" {
		return fmt.Errorf("no activity id recorded")
	}
	if in.Store == nil {
		return fmt.Errorf(notConfiguredErrFormat, "entity store")
	}
	return in.Store.DeleteActivity(ctx, entry.Data.RecordID)
}
