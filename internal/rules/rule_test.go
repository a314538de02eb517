package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/ipdocket/internal/automation"
)

const rulesJSON = `[
  {
    "id": "uspto-office-action",
    "name": "USPTO office action",
    "condition": "mail.from.endsWith(\"@uspto.gov\") && mail.subject.contains(\"Office Action\")",
    "approver_email": "partner@firm.example",
    "enabled": true,
    "actions": [
      {"id": "task", "action_type": "create_task", "config": {"title": "Review office action", "due_in_days": 14}, "enabled": true},
      {"id": "deadline", "action_type": "calendar_event", "config": {"title": "Response due", "days_from_now": 90}, "enabled": true}
    ]
  },
  {
    "id": "invoice-alert",
    "name": "Invoice",
    "condition": "'invoices' in mail.labels",
    "auto_approve": true,
    "enabled": false,
    "actions": [
      {"action_type": "create_alert", "config": {"title": "Invoice received"}, "enabled": true}
    ]
  }
]`

func TestLoadRules(t *testing.T) {
	rules, err := LoadRules(strings.NewReader(rulesJSON))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	r := rules[0]
	assert.Equal(t, "uspto-office-action", r.ID)
	assert.False(t, r.AutoApprove)
	require.Len(t, r.Actions, 2)
	assert.Equal(t, automation.CreateTaskConfig{Title: "Review office action", DueInDays: 14}, r.Actions[0].Config)
	assert.Equal(t, automation.ActionCalendarEvent, r.Actions[1].Type)

	assert.True(t, rules[1].AutoApprove)
	assert.False(t, rules[1].Enabled)
}

func TestLoadRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(rulesJSON), 0o600))

	rules, err := LoadRulesFile(path)
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	_, err = LoadRulesFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadRules_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"not json", `{`, "failed to decode"},
		{"missing id", `[{"actions":[{"action_type":"create_alert"}],"auto_approve":true}]`, "no id"},
		{"no actions", `[{"id":"r","auto_approve":true}]`, "no actions"},
		{"no approver", `[{"id":"r","actions":[{"action_type":"create_alert"}]}]`, "approver_email"},
		{"duplicate action", `[{"id":"r","auto_approve":true,"actions":[{"id":"a","action_type":"create_alert"},{"id":"a","action_type":"billing"}]}]`, "duplicate action id"},
		{"duplicate rule", `[{"id":"r","auto_approve":true,"actions":[{"action_type":"create_alert"}]},{"id":"r","auto_approve":true,"actions":[{"action_type":"create_alert"}]}]`, "duplicate rule id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRules(strings.NewReader(tt.input))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
