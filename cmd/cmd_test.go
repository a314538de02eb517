package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/ipdocket/internal/advisor"
	"github.com/teemow/ipdocket/internal/approval"
	"github.com/teemow/ipdocket/internal/automation"
	"github.com/teemow/ipdocket/internal/rules"
	"github.com/teemow/ipdocket/internal/server"
)

const testSecret = "cmd-test-secret-0123456789"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMemoryServices(t *testing.T) *services {
	t.Helper()
	t.Setenv("GOOGLE_CLIENT_ID", "")
	t.Setenv("GOOGLE_CLIENT_SECRET", "")

	svc, err := buildServices(context.Background(), serviceOptions{}, discardLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestServiceOptions_ApplyEnv(t *testing.T) {
	t.Setenv(envApprovalSecret, "from-env")
	t.Setenv(envBaseURL, "https://docket.example.com")
	t.Setenv(envDatabaseURL, "")

	opts := serviceOptions{BaseURL: "https://flag.example.com"}
	opts.applyEnv()

	assert.Equal(t, "from-env", opts.ApprovalSecret)
	assert.Equal(t, "https://flag.example.com", opts.BaseURL, "flag wins over env")
	assert.Empty(t, opts.DatabaseURL)
}

func TestBuildServices_InMemory(t *testing.T) {
	svc := newMemoryServices(t)

	assert.NotNil(t, svc.Store)
	assert.NotNil(t, svc.Runner)
	assert.Nil(t, svc.Approvals, "no secret, no approvals")
	assert.Nil(t, svc.Gmail)
	assert.Nil(t, svc.Auth)
}

func TestBuildServices_WithApprovalSecret(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "")
	t.Setenv("GOOGLE_CLIENT_SECRET", "")

	svc, err := buildServices(context.Background(), serviceOptions{ApprovalSecret: testSecret}, discardLogger(), nil)
	require.NoError(t, err)
	defer svc.Close()

	assert.NotNil(t, svc.Approvals)
}

func TestRegisterAllTools(t *testing.T) {
	svc := newMemoryServices(t)

	tests := []struct {
		name       string
		readOnly   bool
		googleAuth server.GoogleAuthorizer
		want       []string
		notWant    []string
	}{
		{
			name:     "read-only without google",
			readOnly: true,
			want:     []string{"automation_get_batch", "automation_list_batches", "automation_get_rule_stats", "automation_suggest_rule_changes"},
			notWant:  []string{"automation_execute_batch", "google_get_auth_url"},
		},
		{
			name:       "write mode with google",
			readOnly:   false,
			googleAuth: docsAuthorizer{},
			want:       []string{"automation_execute_batch", "automation_toggle_action", "automation_issue_approval_token", "google_get_auth_url", "google_save_auth_code"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, err := server.NewServerContext(context.Background(), server.Config{
				Store:      svc.Store,
				Runner:     svc.Runner,
				GoogleAuth: tt.googleAuth,
			})
			require.NoError(t, err)

			srv := mcpserver.NewMCPServer("test", "dev", mcpserver.WithToolCapabilities(true))
			require.NoError(t, registerAllTools(srv, sc, tt.readOnly))

			tools := srv.ListTools()
			for _, name := range tt.want {
				assert.Contains(t, tools, name)
			}
			for _, name := range tt.notWant {
				assert.NotContains(t, tools, name)
			}
		})
	}
}

func TestGetCategoryFromToolName(t *testing.T) {
	assert.Equal(t, "Automation Tools", toolCategory("automation_get_batch"))
	assert.Equal(t, "Google Account Tools", toolCategory("google_get_auth_url"))
	assert.Equal(t, "Other", toolCategory("unknown"))
}

func TestGenerateToolsMarkdown(t *testing.T) {
	tools := []mcp.Tool{
		mcp.NewTool("automation_get_batch",
			mcp.WithDescription("Get a batch"),
			mcp.WithString("batch_id", mcp.Required(), mcp.Description("ID of the batch")),
			mcp.WithNumber("limit"),
		),
		mcp.NewTool("google_get_auth_url", mcp.WithDescription("Get the consent URL")),
	}

	md := generateToolsMarkdown(tools)

	assert.Contains(t, md, "# MCP Tools Reference")
	assert.Contains(t, md, "- [Automation Tools](#automation-tools)")
	assert.Contains(t, md, "### automation_get_batch")
	assert.Contains(t, md, "- `batch_id` (string, required): ID of the batch")
	assert.Contains(t, md, "- `limit` (number, optional): number parameter")
	assert.Contains(t, md, "## Google Account Tools")
	assert.Contains(t, md, "No arguments.")
	assert.NotContains(t, md, "## Other")
	assert.Less(t, strings.Index(md, "## Automation Tools"), strings.Index(md, "## Google Account Tools"))
}

func TestRunGenerateDocs_WritesFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "tools.md")
	require.NoError(t, runGenerateDocs(out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "### automation_execute_batch")
	assert.Contains(t, string(data), "### google_save_auth_code")
}

const batchJSON = `{
  "id": "batch-cli",
  "rule_id": "rule-oa",
  "mail_id": "mail-1",
  "case_id": "case-7",
  "mail_snapshot": {"id": "mail-1", "subject": "Office action"},
  "actions": [
    {"id": "a1", "action_type": "create_task", "enabled": true, "config": {"title": "Respond to {{mail.subject}}"}}
  ]
}`

func TestReadBatch(t *testing.T) {
	batch, err := readBatch("-", strings.NewReader(batchJSON))
	require.NoError(t, err)
	assert.Equal(t, "batch-cli", batch.ID)
	assert.Equal(t, automation.BatchApproved, batch.Status, "status defaults to approved")
	require.Len(t, batch.Actions, 1)
	assert.Equal(t, automation.ActionCreateTask, batch.Actions[0].Type)

	_, err = readBatch("-", strings.NewReader(`{"id": "empty", "actions": []}`))
	assert.Error(t, err)

	_, err = readBatch("-", strings.NewReader(`not json`))
	assert.Error(t, err)

	_, err = readBatch(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Error(t, err)
}

func TestRunExecute_FromFile(t *testing.T) {
	svc := newMemoryServices(t)
	path := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, os.WriteFile(path, []byte(batchJSON), 0o600))

	var out bytes.Buffer
	err := runExecute(context.Background(), svc, executeOptions{batchFile: path}, nil, &out)
	require.NoError(t, err)

	var result automation.BatchResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Summary.Successful)

	stored, err := svc.Store.GetBatch(context.Background(), "batch-cli")
	require.NoError(t, err)
	assert.Equal(t, automation.BatchExecuted, stored.Status)
}

func TestRunExecute_FailureRollsBack(t *testing.T) {
	svc := newMemoryServices(t)
	failing := `{
  "id": "batch-fail",
  "rule_id": "rule-oa",
  "actions": [
    {"id": "a1", "action_type": "create_task", "enabled": true, "config": {"title": "First"}},
    {"id": "a2", "action_type": "create_task", "enabled": true, "config": {"title": "  "}}
  ]
}`

	var out bytes.Buffer
	err := runExecute(context.Background(), svc, executeOptions{batchFile: "-"}, strings.NewReader(failing), &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rolled_back")

	var result automation.BatchResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.False(t, result.Success)
	require.NotNil(t, result.Rollback)
	assert.Equal(t, 1, result.Rollback.Compensated)
}

func TestRunExecute_StoredBatchNotRunnable(t *testing.T) {
	svc := newMemoryServices(t)
	require.NoError(t, svc.Store.CreateBatch(context.Background(), &automation.Batch{
		ID:      "pending",
		Status:  automation.BatchPendingApproval,
		Actions: []automation.Action{automation.NewAction("a1", automation.CreateTaskConfig{Title: "x"})},
	}))

	var out bytes.Buffer
	err := runExecute(context.Background(), svc, executeOptions{batchID: "pending"}, nil, &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, automation.ErrNotRunnable))
	assert.Empty(t, out.String())
}

func TestRunTokenIssueAndVerify(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	var out bytes.Buffer
	require.NoError(t, runTokenIssue(&out, testSecret, "batch-1", "partner@firm.example", time.Hour, now))

	var issued approval.IssuedToken
	require.NoError(t, json.Unmarshal(out.Bytes(), &issued))
	assert.Equal(t, "batch-1", issued.BatchID)
	assert.True(t, now.Add(time.Hour).Equal(issued.ExpiresAt))

	out.Reset()
	require.NoError(t, runTokenVerify(&out, testSecret, issued.Token, now.Add(30*time.Minute)))
	var payload approval.TokenPayload
	require.NoError(t, json.Unmarshal(out.Bytes(), &payload))
	assert.Equal(t, "partner@firm.example", payload.ApproverEmail)

	assert.Error(t, runTokenVerify(io.Discard, testSecret, issued.Token, now.Add(2*time.Hour)), "expired")
	assert.Error(t, runTokenVerify(io.Discard, "other-secret", issued.Token, now), "wrong secret")
}

func TestRunTokenIssue_MissingSecret(t *testing.T) {
	err := runTokenIssue(io.Discard, "", "batch-1", "a@b.example", time.Hour, time.Now())
	assert.ErrorIs(t, err, approval.ErrMissingSecret)

	err = runTokenVerify(io.Discard, "", "token", time.Now())
	assert.ErrorIs(t, err, approval.ErrMissingSecret)
}

func decidedBatch(id string, status automation.BatchStatus) *automation.Batch {
	return &automation.Batch{
		ID:      id,
		RuleID:  "rule-noisy",
		Status:  status,
		Actions: []automation.Action{automation.NewAction("a1", automation.CreateTaskConfig{Title: "x"})},
	}
}

func TestRunAdvise(t *testing.T) {
	var batches []*automation.Batch
	for i, s := range []automation.BatchStatus{
		automation.BatchRejected, automation.BatchRejected, automation.BatchRejected,
		automation.BatchExecuted, automation.BatchExecuted, automation.BatchExecuted,
	} {
		batches = append(batches, decidedBatch(string(rune('a'+i)), s))
	}
	histories := []advisor.RuleHistory{{RuleID: "rule-noisy", Batches: batches}}

	var out bytes.Buffer
	require.NoError(t, runAdvise(&out, advisor.DefaultThresholds(), histories))

	var resp struct {
		RulesAnalyzed int                  `json:"rules_analyzed"`
		Suggestions   []advisor.Suggestion `json:"suggestions"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, 1, resp.RulesAnalyzed)
	require.NotEmpty(t, resp.Suggestions)
	assert.Equal(t, "rule-noisy", resp.Suggestions[0].RuleID)
}

func TestRunAdvise_NoHistory(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runAdvise(&out, advisor.DefaultThresholds(), nil))
	assert.Contains(t, out.String(), `"suggestions": []`)
}

func TestLoadAdviseHistory(t *testing.T) {
	h, err := loadAdviseHistory(context.Background(), adviseOptions{historyFile: "-"},
		strings.NewReader(`[{"rule_id": "r1", "auto_approve": true, "batches": []}]`))
	require.NoError(t, err)
	require.Len(t, h, 1)
	assert.True(t, h[0].AutoApprove)

	_, err = loadAdviseHistory(context.Background(), adviseOptions{}, nil)
	assert.Error(t, err)
}

func TestHistoryFromStore(t *testing.T) {
	svc := newMemoryServices(t)
	ctx := context.Background()
	require.NoError(t, svc.Store.CreateBatch(ctx, decidedBatch("b1", automation.BatchExecuted)))
	require.NoError(t, svc.Store.CreateBatch(ctx, decidedBatch("b2", automation.BatchRejected)))

	rulesPath := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(rulesPath, []byte(`[{
  "id": "rule-noisy", "name": "Noisy", "auto_approve": true, "enabled": true,
  "actions": [{"id": "a1", "action_type": "create_task", "enabled": true, "config": {"title": "x"}}]
}]`), 0o600))

	h, err := historyFromStore(ctx, svc.Store, rulesPath, "")
	require.NoError(t, err)
	require.Len(t, h, 1)
	assert.Equal(t, "rule-noisy", h[0].RuleID)
	assert.True(t, h[0].AutoApprove)
	assert.Len(t, h[0].Batches, 2)
}

type fakeAuthorizer struct {
	account string
	code    string
	err     error
}

func (f *fakeAuthorizer) AuthURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (f *fakeAuthorizer) ExchangeAndSave(_ context.Context, account, code string) error {
	f.account = account
	f.code = code
	return f.err
}

func TestRunAuth(t *testing.T) {
	auth := &fakeAuthorizer{}
	var out bytes.Buffer

	err := runAuth(context.Background(), auth, "work", strings.NewReader("  4/abc-code \n"), &out)
	require.NoError(t, err)
	assert.Equal(t, "work", auth.account)
	assert.Equal(t, "4/abc-code", auth.code)
	assert.Contains(t, out.String(), "https://accounts.example.com/auth?state=work")
	assert.Contains(t, out.String(), `Token for account "work" saved.`)
}

func TestRunAuth_Errors(t *testing.T) {
	err := runAuth(context.Background(), &fakeAuthorizer{}, "default", strings.NewReader(""), io.Discard)
	assert.Error(t, err)

	err = runAuth(context.Background(), &fakeAuthorizer{}, "default", strings.NewReader("\n"), io.Discard)
	assert.Error(t, err)

	failing := &fakeAuthorizer{err: errors.New("invalid_grant")}
	err = runAuth(context.Background(), failing, "default", strings.NewReader("code\n"), io.Discard)
	assert.EqualError(t, err, "invalid_grant")
}

func TestRunTriage(t *testing.T) {
	svc := newMemoryServices(t)
	logger := discardLogger()

	ruleSet := []rules.Rule{
		{
			ID:          "rule-oa",
			Name:        "Office actions",
			Condition:   `mail.subject.contains("Office action")`,
			AutoApprove: true,
			Enabled:     true,
			Actions:     []automation.Action{automation.NewAction("a1", automation.CreateTaskConfig{Title: "Docket {{mail.subject}}"})},
		},
	}
	matcher, err := rules.NewMatcher(ruleSet, logger)
	require.NoError(t, err)
	stager, err := newStager(svc, logger)
	require.NoError(t, err)

	mail := []automation.MailSnapshot{
		{ID: "m1", Subject: "Office action for US 17/123,456"},
		{ID: "m2", Subject: "Lunch"},
	}

	var out bytes.Buffer
	require.NoError(t, runTriage(context.Background(), stager, matcher, mail, &out, logger))

	var outcomes []rules.Outcome
	require.NoError(t, json.Unmarshal(out.Bytes(), &outcomes))
	require.Len(t, outcomes, 1)
	assert.Equal(t, "rule-oa", outcomes[0].RuleID)
	assert.Empty(t, outcomes[0].Error)
	require.NotNil(t, outcomes[0].Result)
	assert.True(t, outcomes[0].Result.Success)

	stats, err := svc.Store.GetRuleStats(context.Background(), "rule-oa")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Matched)

	out.Reset()
	require.NoError(t, runTriage(context.Background(), stager, matcher, mail, &out, logger))
	outcomes = nil
	require.NoError(t, json.Unmarshal(out.Bytes(), &outcomes))
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Skipped, "a second triage run leaves staged mail alone")
	assert.Nil(t, outcomes[0].Batch)

	stats, err = svc.Store.GetRuleStats(context.Background(), "rule-oa")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Matched)
}

func TestVersionCmd(t *testing.T) {
	cmd := newVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "ipdocket version "+version+"\n", out.String())
}

func TestRunHTTPServer_RefusesMCPWithoutAllowedEmails(t *testing.T) {
	svc := newMemoryServices(t)
	t.Setenv(envMCPAllowedEmails, "")

	sc, err := server.NewServerContext(context.Background(), server.Config{Store: svc.Store, Runner: svc.Runner})
	require.NoError(t, err)
	srv := mcpserver.NewMCPServer("test", "dev", mcpserver.WithToolCapabilities(true))

	opts := serveOptions{transport: server.TransportStreamableHTTP, httpAddr: "127.0.0.1:0"}
	opts.services.BaseURL = "http://localhost:8080"

	err = runHTTPServer(context.Background(), opts, sc, srv, discardLogger(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MCP authentication")
}
