package automation_tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/ipdocket/internal/advisor"
	"github.com/teemow/ipdocket/internal/automation"
	"github.com/teemow/ipdocket/internal/server"
	"github.com/teemow/ipdocket/internal/tools/common"
)

func handleSuggestRuleChanges(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	ruleID, _ := args["rule_id"].(string)

	histories, err := sc.RuleHistory(ctx, ruleID)
	if err != nil {
		return common.ErrorResult("Failed to load rule history: %v", err)
	}

	suggestions := sc.Advisor().Suggest(histories)
	if suggestions == nil {
		suggestions = []advisor.Suggestion{}
	}

	return common.JSONResult(map[string]any{
		"rules_analyzed": len(histories),
		"thresholds":     sc.Advisor().Thresholds(),
		"suggestions":    suggestions,
	})
}

func handleGetRuleStats(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	if ruleID, ok := args["rule_id"].(string); ok && ruleID != "" {
		stats, err := sc.Store().GetRuleStats(ctx, ruleID)
		if err != nil {
			return common.ErrorResult("Failed to get rule stats: %v", err)
		}
		return common.JSONResult(stats)
	}

	all, err := sc.Store().ListRuleStats(ctx)
	if err != nil {
		return common.ErrorResult("Failed to list rule stats: %v", err)
	}
	if all == nil {
		all = []automation.RuleStats{}
	}
	return common.JSONResult(all)
}
