package automation_tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/ipdocket/internal/approval"
	"github.com/teemow/ipdocket/internal/automation"
	"github.com/teemow/ipdocket/internal/server"
	"github.com/teemow/ipdocket/internal/store"
	"github.com/teemow/ipdocket/internal/tools/batch"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type recordingMailer struct {
	sent []automation.OutgoingEmail
}

func (m *recordingMailer) SendEmail(_ context.Context, msg automation.OutgoingEmail) (string, error) {
	m.sent = append(m.sent, msg)
	return "msg-1", nil
}

type harness struct {
	sc     *server.ServerContext
	store  *store.MemoryStore
	mailer *recordingMailer
}

func newHarness(t *testing.T, withApprovals bool) *harness {
	t.Helper()

	st := store.NewMemoryStore()
	orch := automation.NewIntegratedOrchestrator(&automation.Integrations{
		Store: st,
		Now:   func() time.Time { return testNow },
	}, nil, nil)
	runner := automation.NewRunner(st, orch, st, nil)

	h := &harness{store: st, mailer: &recordingMailer{}}
	cfg := server.Config{Store: st, Runner: runner}
	if withApprovals {
		svc, err := approval.NewService(approval.Config{
			Secret:  []byte("test-secret-0123456789"),
			BaseURL: "https://docket.example.com",
			Store:   st,
			Runner:  runner,
			Stats:   st,
			Mailer:  h.mailer,
			Now:     func() time.Time { return testNow },
		})
		require.NoError(t, err)
		cfg.Approvals = svc
	}

	sc, err := server.NewServerContext(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })
	h.sc = sc
	return h
}

func (h *harness) addBatch(t *testing.T, id, ruleID string, status automation.BatchStatus, actions ...automation.Action) {
	t.Helper()
	require.NoError(t, h.store.CreateBatch(context.Background(), &automation.Batch{
		ID:            id,
		RuleID:        ruleID,
		MailID:        "mail-" + id,
		CaseID:        "case-7",
		MailSnapshot:  automation.MailSnapshot{ID: "mail-" + id, From: "uspto@example.gov", Subject: "Office action"},
		Actions:       actions,
		ApproverEmail: "partner@firm.example",
		Status:        status,
		CreatedAt:     testNow,
	}))
}

func taskAction(id, title string) automation.Action {
	return automation.NewAction(id, automation.CreateTaskConfig{Title: title})
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])
	return text.Text
}

func TestRegisterAutomationTools(t *testing.T) {
	h := newHarness(t, true)

	tests := []struct {
		name      string
		readOnly  bool
		wantTools []string
		wantNot   []string
	}{
		{
			name:     "read-write mode",
			readOnly: false,
			wantTools: []string{
				"automation_get_batch", "automation_list_batches", "automation_get_rule_stats",
				"automation_suggest_rule_changes", "automation_execute_batch",
				"automation_toggle_action", "automation_issue_approval_token",
			},
		},
		{
			name:      "read-only mode",
			readOnly:  true,
			wantTools: []string{"automation_get_batch", "automation_suggest_rule_changes"},
			wantNot:   []string{"automation_execute_batch", "automation_toggle_action", "automation_issue_approval_token"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mcpSrv := mcpserver.NewMCPServer("test-server", "1.0.0", mcpserver.WithToolCapabilities(true))
			require.NoError(t, RegisterAutomationTools(mcpSrv, h.sc, tt.readOnly))

			tools := mcpSrv.ListTools()
			for _, name := range tt.wantTools {
				assert.Contains(t, tools, name)
			}
			for _, name := range tt.wantNot {
				assert.NotContains(t, tools, name)
			}
		})
	}
}

func TestRegisterAutomationTools_NilArguments(t *testing.T) {
	assert.Error(t, RegisterAutomationTools(nil, nil, false))
}

func TestHandleExecuteBatch(t *testing.T) {
	h := newHarness(t, false)
	h.addBatch(t, "b-ok", "rule-oa", automation.BatchAutoApproved, taskAction("a1", "Docket response deadline"))
	h.addBatch(t, "b-fail", "rule-oa", automation.BatchApproved,
		taskAction("a1", "Docket response deadline"),
		taskAction("a2", " "),
	)
	h.addBatch(t, "b-pending", "rule-oa", automation.BatchPendingApproval, taskAction("a1", "Docket"))

	result, err := handleExecuteBatch(context.Background(), callRequest("automation_execute_batch", map[string]any{
		"batch_ids": []any{"b-ok", "b-fail", "b-pending", "b-missing"},
	}), h.sc)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var summary struct {
		Total      int `json:"total"`
		Successful int `json:"successful"`
		Failed     int `json:"failed"`
		Results    []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Error  string `json:"error"`
			Result struct {
				Status automation.BatchStatus `json:"status"`
			} `json:"result"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &summary))

	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 2, summary.Successful)
	assert.Equal(t, 2, summary.Failed)

	assert.Equal(t, batch.StatusSuccess, summary.Results[0].Status)
	assert.Equal(t, automation.BatchExecuted, summary.Results[0].Result.Status)

	// A batch whose actions failed still ran; its outcome is the rollback.
	assert.Equal(t, batch.StatusSuccess, summary.Results[1].Status)
	assert.Equal(t, automation.BatchRolledBack, summary.Results[1].Result.Status)

	assert.Equal(t, batch.StatusError, summary.Results[2].Status)
	assert.Contains(t, summary.Results[2].Error, "not approved")
	assert.Equal(t, batch.StatusError, summary.Results[3].Status)
	assert.Contains(t, summary.Results[3].Error, "not found")

	stored, err := h.store.GetBatch(context.Background(), "b-fail")
	require.NoError(t, err)
	assert.Equal(t, automation.BatchRolledBack, stored.Status)
	require.NotNil(t, stored.LastResult)
	assert.False(t, stored.LastResult.Success)
}

func TestHandleExecuteBatch_InvalidArguments(t *testing.T) {
	h := newHarness(t, false)

	for _, args := range []map[string]any{
		{},
		{"batch_ids": ""},
		{"batch_ids": []any{}},
		{"batch_ids": 42},
	} {
		result, err := handleExecuteBatch(context.Background(), callRequest("automation_execute_batch", args), h.sc)
		require.NoError(t, err)
		assert.True(t, result.IsError, "args %v", args)
	}
}

func TestHandleGetBatch(t *testing.T) {
	h := newHarness(t, false)
	h.addBatch(t, "b1", "rule-oa", automation.BatchPendingApproval, taskAction("a1", "Docket"))

	result, err := handleGetBatch(context.Background(), callRequest("automation_get_batch", map[string]any{"batch_id": "b1"}), h.sc)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var got automation.Batch
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &got))
	assert.Equal(t, "b1", got.ID)
	assert.Equal(t, automation.BatchPendingApproval, got.Status)
	require.Len(t, got.Actions, 1)
	assert.Equal(t, automation.ActionCreateTask, got.Actions[0].Type)

	result, err = handleGetBatch(context.Background(), callRequest("automation_get_batch", map[string]any{"batch_id": "nope"}), h.sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not found")

	result, err = handleGetBatch(context.Background(), callRequest("automation_get_batch", map[string]any{}), h.sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleListBatches(t *testing.T) {
	h := newHarness(t, false)
	h.addBatch(t, "b1", "rule-oa", automation.BatchPendingApproval, taskAction("a1", "Docket"))
	h.addBatch(t, "b2", "rule-oa", automation.BatchExecuted, taskAction("a1", "Docket"))
	h.addBatch(t, "b3", "rule-renewal", automation.BatchPendingApproval, taskAction("a1", "Renew"))

	tests := []struct {
		name    string
		args    map[string]any
		want    int
		wantErr bool
	}{
		{name: "all", args: map[string]any{}, want: 3},
		{name: "by rule", args: map[string]any{"rule_id": "rule-oa"}, want: 2},
		{name: "by status", args: map[string]any{"status": "pending_approval"}, want: 2},
		{name: "limit", args: map[string]any{"limit": float64(1)}, want: 1},
		{name: "unknown status", args: map[string]any{"status": "done"}, wantErr: true},
		{name: "zero limit", args: map[string]any{"limit": float64(0)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := handleListBatches(context.Background(), callRequest("automation_list_batches", tt.args), h.sc)
			require.NoError(t, err)
			if tt.wantErr {
				assert.True(t, result.IsError)
				return
			}
			require.False(t, result.IsError)

			var got struct {
				Count   int                 `json:"count"`
				Batches []*automation.Batch `json:"batches"`
			}
			require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &got))
			assert.Equal(t, tt.want, got.Count)
			assert.Len(t, got.Batches, tt.want)
		})
	}
}

func TestHandleToggleAction(t *testing.T) {
	for _, withApprovals := range []bool{false, true} {
		h := newHarness(t, withApprovals)
		h.addBatch(t, "b1", "rule-oa", automation.BatchPendingApproval,
			taskAction("a1", "Docket"),
			taskAction("a2", "Notify client"),
		)

		result, err := handleToggleAction(context.Background(), callRequest("automation_toggle_action", map[string]any{
			"batch_id":  "b1",
			"action_id": "a2",
			"enabled":   false,
		}), h.sc)
		require.NoError(t, err)
		require.False(t, result.IsError, resultText(t, result))
		assert.Contains(t, resultText(t, result), "disabled")

		stored, err := h.store.GetBatch(context.Background(), "b1")
		require.NoError(t, err)
		assert.True(t, stored.Actions[0].Enabled)
		assert.False(t, stored.Actions[1].Enabled)

		if withApprovals {
			stats, err := h.store.GetRuleStats(context.Background(), "rule-oa")
			require.NoError(t, err)
			assert.Equal(t, int64(1), stats.Overridden)
		}
	}
}

func TestHandleToggleAction_Errors(t *testing.T) {
	h := newHarness(t, true)
	h.addBatch(t, "b-done", "rule-oa", automation.BatchExecuted, taskAction("a1", "Docket"))
	h.addBatch(t, "b1", "rule-oa", automation.BatchPendingApproval, taskAction("a1", "Docket"))

	tests := []struct {
		name string
		args map[string]any
	}{
		{name: "missing batch id", args: map[string]any{"action_id": "a1", "enabled": true}},
		{name: "missing action id", args: map[string]any{"batch_id": "b1", "enabled": true}},
		{name: "enabled not a bool", args: map[string]any{"batch_id": "b1", "action_id": "a1", "enabled": "yes"}},
		{name: "batch not pending", args: map[string]any{"batch_id": "b-done", "action_id": "a1", "enabled": false}},
		{name: "unknown action", args: map[string]any{"batch_id": "b1", "action_id": "a9", "enabled": false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := handleToggleAction(context.Background(), callRequest("automation_toggle_action", tt.args), h.sc)
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}
}

func TestHandleIssueApprovalToken(t *testing.T) {
	h := newHarness(t, true)
	h.addBatch(t, "b1", "rule-oa", automation.BatchPendingApproval, taskAction("a1", "Docket"))

	result, err := handleIssueApprovalToken(context.Background(), callRequest("automation_issue_approval_token", map[string]any{
		"batch_id": "b1",
	}), h.sc)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var issued approval.IssuedToken
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &issued))
	assert.Equal(t, "b1", issued.BatchID)
	assert.Equal(t, "partner@firm.example", issued.Approver)
	assert.Contains(t, issued.ApproveURL, "https://docket.example.com/approve?token=")

	payload, err := h.sc.Approvals().Verify(context.Background(), issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "b1", payload.BatchID)
	assert.Empty(t, h.mailer.sent)
}

func TestHandleIssueApprovalToken_SendEmail(t *testing.T) {
	h := newHarness(t, true)
	h.addBatch(t, "b1", "rule-oa", automation.BatchPendingApproval, taskAction("a1", "Docket"))

	result, err := handleIssueApprovalToken(context.Background(), callRequest("automation_issue_approval_token", map[string]any{
		"batch_id":   "b1",
		"send_email": true,
	}), h.sc)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	require.Len(t, h.mailer.sent, 1)
	assert.Equal(t, []string{"partner@firm.example"}, h.mailer.sent[0].To)
	assert.NotContains(t, resultText(t, result), "token=")
}

func TestHandleIssueApprovalToken_Errors(t *testing.T) {
	h := newHarness(t, false)
	h.addBatch(t, "b1", "rule-oa", automation.BatchPendingApproval, taskAction("a1", "Docket"))

	result, err := handleIssueApprovalToken(context.Background(), callRequest("automation_issue_approval_token", map[string]any{"batch_id": "b1"}), h.sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not configured")

	h = newHarness(t, true)
	h.addBatch(t, "b-done", "rule-oa", automation.BatchExecuted, taskAction("a1", "Docket"))

	result, err = handleIssueApprovalToken(context.Background(), callRequest("automation_issue_approval_token", map[string]any{"batch_id": "b-done"}), h.sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = handleIssueApprovalToken(context.Background(), callRequest("automation_issue_approval_token", map[string]any{}), h.sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleSuggestRuleChanges(t *testing.T) {
	h := newHarness(t, false)
	for i, id := range []string{"r1", "r2", "r3", "r4", "r5", "r6"} {
		status := automation.BatchExecuted
		if i%2 == 0 {
			status = automation.BatchRejected
		}
		h.addBatch(t, id, "rule-oa", status, taskAction("a1", "Docket"))
	}

	result, err := handleSuggestRuleChanges(context.Background(), callRequest("automation_suggest_rule_changes", map[string]any{}), h.sc)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var got struct {
		RulesAnalyzed int `json:"rules_analyzed"`
		Suggestions   []struct {
			RuleID string `json:"rule_id"`
			Kind   string `json:"kind"`
		} `json:"suggestions"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &got))
	assert.Equal(t, 1, got.RulesAnalyzed)
	require.NotEmpty(t, got.Suggestions)
	assert.Equal(t, "rule-oa", got.Suggestions[0].RuleID)

	kinds := make([]string, 0, len(got.Suggestions))
	for _, s := range got.Suggestions {
		kinds = append(kinds, s.Kind)
	}
	assert.Contains(t, kinds, "review_rule")
}

func TestHandleSuggestRuleChanges_NoHistory(t *testing.T) {
	h := newHarness(t, false)

	result, err := handleSuggestRuleChanges(context.Background(), callRequest("automation_suggest_rule_changes", map[string]any{"rule_id": "rule-none"}), h.sc)
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), `"suggestions": []`)
}

func TestHandleGetRuleStats(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	require.NoError(t, h.store.IncrementRuleStats(ctx, "rule-oa", automation.RuleStatsDelta{Matched: 3, Executed: 2}))
	require.NoError(t, h.store.IncrementRuleStats(ctx, "rule-renewal", automation.RuleStatsDelta{Matched: 1}))

	result, err := handleGetRuleStats(ctx, callRequest("automation_get_rule_stats", map[string]any{"rule_id": "rule-oa"}), h.sc)
	require.NoError(t, err)
	var one automation.RuleStats
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &one))
	assert.Equal(t, int64(3), one.Matched)
	assert.Equal(t, int64(2), one.Executed)

	result, err = handleGetRuleStats(ctx, callRequest("automation_get_rule_stats", map[string]any{}), h.sc)
	require.NoError(t, err)
	var all []automation.RuleStats
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &all))
	require.Len(t, all, 2)
	assert.Equal(t, "rule-oa", all[0].RuleID)
}
