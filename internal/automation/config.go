package automation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ActionConfig is the typed configuration of an action. The set of
// implementations is closed to this package.
type ActionConfig interface {
	ActionType() ActionType
	isActionConfig()
}

// SendEmailConfig sends an email through the mail provider.
type SendEmailConfig struct {
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Bcc     []string `json:"bcc,omitempty"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	IsHTML  bool     `json:"is_html,omitempty"`
	// ReplyToSender adds the sender of the triggering mail to To.
	ReplyToSender bool `json:"reply_to_sender,omitempty"`
}

// CreateTaskConfig creates a task record on the batch's case.
type CreateTaskConfig struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	AssignedTo  string `json:"assigned_to,omitempty"`
	Priority    string `json:"priority,omitempty"`
	DueInDays   int    `json:"due_in_days,omitempty"`
}

// BillingConfig logs a billable time entry on the batch's case.
type BillingConfig struct {
	Description string  `json:"description"`
	Hours       float64 `json:"hours"`
	Rate        float64 `json:"rate,omitempty"`
	Billable    *bool   `json:"billable,omitempty"`
}

// CalendarEventConfig schedules a deadline or meeting on a calendar.
type CalendarEventConfig struct {
	CalendarID      string   `json:"calendar_id,omitempty"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	Location        string   `json:"location,omitempty"`
	Attendees       []string `json:"attendees,omitempty"`
	DaysFromNow     int      `json:"days_from_now,omitempty"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
	TimeZone        string   `json:"time_zone,omitempty"`
}

// SaveFileConfig stores a file, by default the triggering mail's body.
// Without FolderID the file goes into the folder named FolderName, or the
// batch's case id, which is created when missing.
type SaveFileConfig struct {
	FileName   string `json:"file_name"`
	FolderID   string `json:"folder_id,omitempty"`
	FolderName string `json:"folder_name,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
	Content    string `json:"content,omitempty"`
}

// CreateAlertConfig records an alert activity on the batch's case.
type CreateAlertConfig struct {
	Title    string `json:"title"`
	Message  string `json:"message,omitempty"`
	Severity string `json:"severity,omitempty"`
}

func (SendEmailConfig) ActionType() ActionType     { return ActionSendEmail }
func (CreateTaskConfig) ActionType() ActionType    { return ActionCreateTask }
func (BillingConfig) ActionType() ActionType       { return ActionBilling }
func (CalendarEventConfig) ActionType() ActionType { return ActionCalendarEvent }
func (SaveFileConfig) ActionType() ActionType      { return ActionSaveFile }
func (CreateAlertConfig) ActionType() ActionType   { return ActionCreateAlert }

func (SendEmailConfig) isActionConfig()     {}
func (CreateTaskConfig) isActionConfig()    {}
func (BillingConfig) isActionConfig()       {}
func (CalendarEventConfig) isActionConfig() {}
func (SaveFileConfig) isActionConfig()      {}
func (CreateAlertConfig) isActionConfig()   {}

// errUnknownActionType is kept on actions whose type is not supported.
type errUnknownActionType struct{ t ActionType }

func (e errUnknownActionType) Error() string {
	return fmt.Sprintf("Unknown action type: %s", e.t)
}

func decodeConfig(t ActionType, raw json.RawMessage) (ActionConfig, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}

	var cfg ActionConfig
	var err error
	switch t {
	case ActionSendEmail:
		var c SendEmailConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	case ActionCreateTask:
		var c CreateTaskConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	case ActionBilling:
		var c BillingConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	case ActionCalendarEvent:
		var c CalendarEventConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	case ActionSaveFile:
		var c SaveFileConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	case ActionCreateAlert:
		var c CreateAlertConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	default:
		return nil, errUnknownActionType{t: t}
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", t, err)
	}
	return cfg, nil
}

// renderer expands {{placeholders}} in config strings from the execution context.
type renderer struct {
	r *strings.Replacer
}

func newRenderer(ec ExecutionContext, now time.Time) renderer {
	mail := ec.MailSnapshot
	return renderer{r: strings.NewReplacer(
		"{{batch_id}}", ec.BatchID,
		"{{rule_id}}", ec.RuleID,
		"{{case_id}}", ec.CaseID,
		"{{client_id}}", ec.ClientID,
		"{{mail.id}}", mail.ID,
		"{{mail.from}}", mail.From,
		"{{mail.subject}}", mail.Subject,
		"{{mail.snippet}}", mail.Snippet,
		"{{mail.received_at}}", mail.ReceivedAt.Format(time.RFC3339),
		"{{today}}", now.Format("2006-01-02"),
	)}
}

func (r renderer) String(s string) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return r.r.Replace(s)
}
