package automation_tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/ipdocket/internal/server"
	"github.com/teemow/ipdocket/internal/tools/common"
)

// RegisterAutomationTools registers the automation tools with the MCP server.
// Tools that execute batches, change them or issue tokens are left out in
// read-only mode.
func RegisterAutomationTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	if s == nil || sc == nil {
		return fmt.Errorf("automation tools require an MCP server and a server context")
	}

	register := func(tool mcp.Tool, handler func(context.Context, mcp.CallToolRequest, *server.ServerContext) (*mcp.CallToolResult, error)) {
		s.AddTool(tool, common.InstrumentedToolHandler(tool.Name, sc, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handler(ctx, request, sc)
		}))
	}

	getBatchTool := mcp.NewTool("automation_get_batch",
		mcp.WithDescription("Get an approval batch with its actions, status and last execution result"),
		mcp.WithString("batch_id",
			mcp.Required(),
			mcp.Description("ID of the batch"),
		),
	)
	register(getBatchTool, handleGetBatch)

	listBatchesTool := mcp.NewTool("automation_list_batches",
		mcp.WithDescription("List approval batches, newest first"),
		mcp.WithString("rule_id",
			mcp.Description("Only batches staged by this rule"),
		),
		mcp.WithString("status",
			mcp.Description("Only batches in this status (pending_approval, auto_approved, approved, rejected, executed, failed, rolled_back)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of batches to return (default: 50)"),
		),
	)
	register(listBatchesTool, handleListBatches)

	ruleStatsTool := mcp.NewTool("automation_get_rule_stats",
		mcp.WithDescription("Get the match and outcome counters of one rule, or of all rules"),
		mcp.WithString("rule_id",
			mcp.Description("Rule ID (default: all rules)"),
		),
	)
	register(ruleStatsTool, handleGetRuleStats)

	suggestTool := mcp.NewTool("automation_suggest_rule_changes",
		mcp.WithDescription("Suggest rule changes from the history of executed, rejected and overridden batches. Read-only."),
		mcp.WithString("rule_id",
			mcp.Description("Only analyze this rule (default: all rules)"),
		),
	)
	register(suggestTool, handleSuggestRuleChanges)

	if readOnly {
		return nil
	}

	executeTool := mcp.NewTool("automation_execute_batch",
		mcp.WithDescription("Execute one or more approved or auto-approved batches. Failed batches are rolled back."),
		mcp.WithString("batch_ids",
			mcp.Required(),
			mcp.Description("Batch ID (string) or array of batch IDs to execute"),
		),
	)
	register(executeTool, handleExecuteBatch)

	toggleTool := mcp.NewTool("automation_toggle_action",
		mcp.WithDescription("Enable or disable one action of a batch that is pending approval"),
		mcp.WithString("batch_id",
			mcp.Required(),
			mcp.Description("ID of the batch"),
		),
		mcp.WithString("action_id",
			mcp.Required(),
			mcp.Description("ID of the action within the batch"),
		),
		mcp.WithBoolean("enabled",
			mcp.Required(),
			mcp.Description("Whether the action runs when the batch is approved"),
		),
	)
	register(toggleTool, handleToggleAction)

	issueTool := mcp.NewTool("automation_issue_approval_token",
		mcp.WithDescription("Issue an approval token with approve and reject links for a pending batch"),
		mcp.WithString("batch_id",
			mcp.Required(),
			mcp.Description("ID of the pending batch"),
		),
		mcp.WithBoolean("send_email",
			mcp.Description("Email the links to the batch's approver instead of returning the token (default: false)"),
		),
	)
	register(issueTool, handleIssueApprovalToken)

	return nil
}
