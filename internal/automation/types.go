package automation

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionType identifies the kind of side effect an action performs.
type ActionType string

// Supported action types. The list is closed: every kind has a typed config, a
// method on Handlers and a method on Compensators.
const (
	ActionSendEmail     ActionType = "send_email"
	ActionCreateTask    ActionType = "create_task"
	ActionBilling       ActionType = "billing"
	ActionCalendarEvent ActionType = "calendar_event"
	ActionSaveFile      ActionType = "save_file"
	ActionCreateAlert   ActionType = "create_alert"
)

// AllActionTypes returns every supported action type in declaration order.
func AllActionTypes() []ActionType {
	return []ActionType{
		ActionSendEmail,
		ActionCreateTask,
		ActionBilling,
		ActionCalendarEvent,
		ActionSaveFile,
		ActionCreateAlert,
	}
}

// IsValid reports whether t is one of the supported action types.
func (t ActionType) IsValid() bool {
	switch t {
	case ActionSendEmail, ActionCreateTask, ActionBilling, ActionCalendarEvent, ActionSaveFile, ActionCreateAlert:
		return true
	}
	return false
}

// BatchStatus is the lifecycle state of an approval batch.
type BatchStatus string

const (
	BatchPendingApproval BatchStatus = "pending_approval"
	BatchAutoApproved    BatchStatus = "auto_approved"
	BatchApproved        BatchStatus = "approved"
	BatchRejected        BatchStatus = "rejected"
	BatchExecuted        BatchStatus = "executed"
	BatchFailed          BatchStatus = "failed"
	BatchRolledBack      BatchStatus = "rolled_back"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchRejected, BatchExecuted, BatchFailed, BatchRolledBack:
		return true
	}
	return false
}

// Runnable reports whether a batch in status s may be executed.
func (s BatchStatus) Runnable() bool {
	return s == BatchAutoApproved || s == BatchApproved
}

// MailSnapshot is the copy of the inbound email a batch was staged for.
type MailSnapshot struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id,omitempty"`
	From       string    `json:"from"`
	To         []string  `json:"to,omitempty"`
	Cc         []string  `json:"cc,omitempty"`
	Subject    string    `json:"subject"`
	Snippet    string    `json:"snippet,omitempty"`
	Body       string    `json:"body,omitempty"`
	Labels     []string  `json:"labels,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Action is one side-effecting step of a batch. Config is nil when the action
// type is unknown or its config could not be decoded.
type Action struct {
	ID      string       `json:"id"`
	Type    ActionType   `json:"action_type"`
	Config  ActionConfig `json:"-"`
	Enabled bool         `json:"enabled"`

	raw       json.RawMessage
	configErr error
}

// NewAction returns an enabled action for cfg.
func NewAction(id string, cfg ActionConfig) Action {
	return Action{
		ID:      id,
		Type:    cfg.ActionType(),
		Config:  cfg,
		Enabled: true,
	}
}

type actionJSON struct {
	ID      string          `json:"id"`
	Type    ActionType      `json:"action_type"`
	Config  json.RawMessage `json:"config,omitempty"`
	Enabled bool            `json:"enabled"`
}

// UnmarshalJSON decodes the action and its type-specific config. Decoding never
// fails because of the config: an unknown type or a malformed config is kept
// on the action and reported as a failure when the action executes.
func (a *Action) UnmarshalJSON(data []byte) error {
	var aux actionJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*a = Action{
		ID:      aux.ID,
		Type:    aux.Type,
		Enabled: aux.Enabled,
		raw:     aux.Config,
	}

	cfg, err := decodeConfig(aux.Type, aux.Config)
	if err != nil {
		a.configErr = err
		return nil
	}
	a.Config = cfg
	return nil
}

// MarshalJSON encodes the action with its typed config, falling back to the
// raw config it was decoded from.
func (a Action) MarshalJSON() ([]byte, error) {
	aux := actionJSON{
		ID:      a.ID,
		Type:    a.Type,
		Enabled: a.Enabled,
		Config:  a.raw,
	}
	if a.Config != nil {
		cfg, err := json.Marshal(a.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s config: %w", a.Type, err)
		}
		aux.Config = cfg
	}
	return json.Marshal(aux)
}

// Batch is the set of actions staged for one inbound mail. The action list is
// fixed after creation; only the Enabled flags may change, and only before the
// batch runs.
type Batch struct {
	ID            string       `json:"id"`
	RuleID        string       `json:"rule_id"`
	MailID        string       `json:"mail_id"`
	CaseID        string       `json:"case_id,omitempty"`
	ClientID      string       `json:"client_id,omitempty"`
	MailSnapshot  MailSnapshot `json:"mail_snapshot"`
	Actions       []Action     `json:"actions"`
	ApproverEmail string       `json:"approver_email,omitempty"`
	Status        BatchStatus  `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	ExecutedAt    *time.Time   `json:"executed_at,omitempty"`
	LastResult    *BatchResult `json:"last_result,omitempty"`
}

// ExecutionContext is derived once per batch run and handed to every action.
// It is passed by value so handlers cannot change it for their siblings.
type ExecutionContext struct {
	BatchID      string
	RuleID       string
	MailID       string
	CaseID       string
	ClientID     string
	MailSnapshot MailSnapshot
}

// NewExecutionContext builds the execution context for b.
func NewExecutionContext(b *Batch) ExecutionContext {
	snap := b.MailSnapshot
	snap.To = append([]string(nil), snap.To...)
	snap.Cc = append([]string(nil), snap.Cc...)
	snap.Labels = append([]string(nil), snap.Labels...)
	return ExecutionContext{
		BatchID:      b.ID,
		RuleID:       b.RuleID,
		MailID:       b.MailID,
		CaseID:       b.CaseID,
		ClientID:     b.ClientID,
		MailSnapshot: snap,
	}
}

// ActionStatus is the normalized outcome of one action.
type ActionStatus string

const (
	StatusSuccess ActionStatus = "success"
	StatusFailed  ActionStatus = "failed"
	StatusSkipped ActionStatus = "skipped"
)

// ReasonDisabled is the skip reason for disabled actions.
const ReasonDisabled = "disabled"

// ActionResult is what the executor reports for one action.
type ActionResult struct {
	ActionID   string         `json:"action_id,omitempty"`
	ActionType ActionType     `json:"action_type"`
	Status     ActionStatus   `json:"status"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// Summary aggregates the results of a batch run.
type Summary struct {
	TotalActions    int   `json:"total_actions"`
	Successful      int   `json:"successful"`
	Failed          int   `json:"failed"`
	Skipped         int   `json:"skipped"`
	ExecutionTimeMS int64 `json:"execution_time_ms"`
}

// BatchResult is the outcome of a batch run. Rollback is set only when a
// rollback was triggered.
type BatchResult struct {
	Success  bool            `json:"success"`
	Results  []ActionResult  `json:"results"`
	Summary  Summary         `json:"summary"`
	Rollback *RollbackReport `json:"rollback,omitempty"`
}

// FinalStatus maps the result onto the terminal batch status.
func (r *BatchResult) FinalStatus() BatchStatus {
	if r.Success {
		return BatchExecuted
	}
	if r.Rollback != nil && r.Rollback.Complete() {
		return BatchRolledBack
	}
	return BatchFailed
}

func summarize(results []ActionResult, elapsed time.Duration) Summary {
	s := Summary{
		TotalActions:    len(results),
		ExecutionTimeMS: elapsed.Milliseconds(),
	}
	for _, r := range results {
		switch r.Status {
		case StatusSuccess:
			s.Successful++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
	}
	return s
}
