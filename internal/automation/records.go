package automation

import (
	"context"
	"time"
)

// TaskRecord is a task on a case.
type TaskRecord struct {
	ID            string     `json:"id"`
	CaseID        string     `json:"case_id,omitempty"`
	ClientID      string     `json:"client_id,omitempty"`
	MailID        string     `json:"mail_id,omitempty"`
	SourceBatchID string     `json:"source_batch_id,omitempty"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	AssignedTo    string     `json:"assigned_to,omitempty"`
	Priority      string     `json:"priority"`
	Status        string     `json:"status"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// TimeEntryRecord is a logged block of (usually billable) time.
type TimeEntryRecord struct {
	ID            string    `json:"id"`
	CaseID        string    `json:"case_id,omitempty"`
	ClientID      string    `json:"client_id,omitempty"`
	SourceBatchID string    `json:"source_batch_id,omitempty"`
	Description   string    `json:"description"`
	Hours         float64   `json:"hours"`
	Rate          float64   `json:"rate"`
	Billable      bool      `json:"billable"`
	Date          time.Time `json:"date"`
	CreatedAt     time.Time `json:"created_at"`
}

// ActivityRecord is an entry in a case's activity feed, such as an alert.
type ActivityRecord struct {
	ID            string    `json:"id"`
	CaseID        string    `json:"case_id,omitempty"`
	ClientID      string    `json:"client_id,omitempty"`
	SourceBatchID string    `json:"source_batch_id,omitempty"`
	Kind          string    `json:"kind"`
	Title         string    `json:"title"`
	Message       string    `json:"message,omitempty"`
	Severity      string    `json:"severity,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// EntityStore is the subset of the entity store that actions write to.
// Create methods assign an ID when the record has none.
type EntityStore interface {
	CreateTask(ctx context.Context, t TaskRecord) (TaskRecord, error)
	DeleteTask(ctx context.Context, id string) error
	CreateTimeEntry(ctx context.Context, e TimeEntryRecord) (TimeEntryRecord, error)
	DeleteTimeEntry(ctx context.Context, id string) error
	CreateActivity(ctx context.Context, a ActivityRecord) (ActivityRecord, error)
	DeleteActivity(ctx context.Context, id string) error
}

// OutgoingEmail is a message handed to the Mailer.
type OutgoingEmail struct {
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Body    string
	IsHTML  bool
}

// Mailer sends email.
type Mailer interface {
	SendEmail(ctx context.Context, msg OutgoingEmail) (messageID string, err error)
}

// EventSpec describes a calendar event to create.
type EventSpec struct {
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	TimeZone    string
	Attendees   []string
}

// CalendarService creates and removes calendar events.
type CalendarService interface {
	CreateEvent(ctx context.Context, calendarID string, ev EventSpec) (eventID string, err error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// FileSpec describes a file to store. FolderName is only used when FolderID
// is empty.
type FileSpec struct {
	Name        string
	FolderID    string
	FolderName  string
	MimeType    string
	Description string
	Content     []byte
}

// FileStore uploads and removes files.
type FileStore interface {
	Upload(ctx context.Context, f FileSpec) (fileID string, err error)
	Delete(ctx context.Context, fileID string) error
}
