package automation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_Execute(t *testing.T) {
	tests := []struct {
		name       string
		action     Action
		setup      func(r *recorder)
		wantStatus ActionStatus
		wantError  string
		wantReason string
		registered int
	}{
		{
			name:       "success registers for rollback",
			action:     NewAction("a", CreateTaskConfig{Title: "t"}),
			wantStatus: StatusSuccess,
			registered: 1,
		},
		{
			name:       "disabled is skipped",
			action:     Action{ID: "a", Type: ActionBilling, Config: BillingConfig{Hours: 1}},
			wantStatus: StatusSkipped,
			wantReason: ReasonDisabled,
		},
		{
			name:       "handler error",
			action:     NewAction("a", BillingConfig{Hours: 1}),
			setup:      func(r *recorder) { r.failExec[ActionBilling] = errRemote },
			wantStatus: StatusFailed,
			wantError:  "remote service unavailable",
		},
		{
			name:       "handler panic",
			action:     NewAction("a", SaveFileConfig{FileName: "x"}),
			setup:      func(r *recorder) { r.panicOn = ActionSaveFile },
			wantStatus: StatusFailed,
			wantError:  "save_file handler panicked: boom",
		},
		{
			name:       "unknown type",
			action:     Action{ID: "a", Type: "fax", Enabled: true},
			wantStatus: StatusFailed,
			wantError:  "Unknown action type: fax",
		},
		{
			name:       "missing config",
			action:     Action{ID: "a", Type: ActionCreateTask, Enabled: true},
			wantStatus: StatusFailed,
			wantError:  "create_task action has no config",
		},
		{
			name:       "mismatched config",
			action:     Action{ID: "a", Type: ActionCreateTask, Config: BillingConfig{}, Enabled: true},
			wantStatus: StatusFailed,
			wantError:  "does not match",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRecorder()
			if tt.setup != nil {
				tt.setup(r)
			}
			rm := NewRollbackManager(r, nil, nil)
			res := NewExecutor(r, nil, nil).Execute(context.Background(), tt.action, ExecutionContext{}, rm)

			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.action.Type, res.ActionType)
			assert.Equal(t, tt.wantReason, res.Reason)
			if tt.wantError != "" {
				assert.Contains(t, res.Error, tt.wantError)
			} else {
				assert.Empty(t, res.Error)
			}
			assert.Len(t, rm.Entries(), tt.registered)
		})
	}
}

func TestExecutor_RegistersRollbackData(t *testing.T) {
	r := newRecorder()
	rm := NewRollbackManager(r, nil, nil)
	res := NewExecutor(r, nil, nil).Execute(context.Background(), NewAction("a1", CreateAlertConfig{Title: "x"}), ExecutionContext{}, rm)
	require.Equal(t, StatusSuccess, res.Status)

	entries := rm.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, ActionCreateAlert, entries[0].ActionType)
	assert.Equal(t, "a1", entries[0].ActionID)
	assert.True(t, entries[0].Executed)
	assert.Equal(t, res.Result["id"], entries[0].Data.RecordID)
}

func TestExecutor_RegistrationAfterRollbackFails(t *testing.T) {
	r := newRecorder()
	rm := NewRollbackManager(r, nil, nil)
	_, err := rm.RollbackAll(context.Background())
	require.NoError(t, err)

	res := NewExecutor(r, nil, nil).Execute(context.Background(), NewAction("a", CreateTaskConfig{Title: "t"}), ExecutionContext{}, rm)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, ErrRollbackStarted.Error())
}

func TestExecutor_NilHandlers(t *testing.T) {
	res := NewExecutor(nil, nil, nil).Execute(context.Background(), NewAction("a", CreateTaskConfig{Title: "t"}), ExecutionContext{}, nil)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "no action handlers configured", res.Error)
}

func TestExecutor_InvalidDecodedConfig(t *testing.T) {
	var a Action
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a","action_type":"billing","config":{"hours":"many"},"enabled":true}`), &a))

	r := newRecorder()
	res := NewExecutor(r, nil, nil).Execute(context.Background(), a, ExecutionContext{}, NewRollbackManager(r, nil, nil))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "invalid billing config")
	assert.Empty(t, r.executed)
}
