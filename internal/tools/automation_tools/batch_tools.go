package automation_tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/ipdocket/internal/automation"
	"github.com/teemow/ipdocket/internal/server"
	"github.com/teemow/ipdocket/internal/store"
	"github.com/teemow/ipdocket/internal/tools/batch"
	"github.com/teemow/ipdocket/internal/tools/common"
)

const defaultListLimit = 50

type executedBatch struct {
	Status automation.BatchStatus  `json:"status"`
	Result *automation.BatchResult `json:"result"`
}

func handleExecuteBatch(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	ids, err := batch.ParseStringOrArray(args["batch_ids"], "batch_ids")
	if err != nil {
		return common.ErrorResult("%v", err)
	}

	runner := sc.Runner()
	results := batch.ProcessBatch(ctx, ids, func(ctx context.Context, id string) (any, error) {
		res, err := runner.Run(ctx, id)
		if err != nil && res == nil {
			return nil, err
		}
		// A result whose status could not be persisted is still reported.
		out := executedBatch{Status: res.FinalStatus(), Result: res}
		if err != nil {
			return nil, fmt.Errorf("%w (batch finished as %s)", err, out.Status)
		}
		return out, nil
	})

	return common.JSONResult(batch.Summarize(results))
}

func handleGetBatch(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	batchID, ok := args["batch_id"].(string)
	if !ok || batchID == "" {
		return common.ErrorResult("batch_id is required")
	}

	b, err := sc.Store().GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, automation.ErrBatchNotFound) {
			return common.ErrorResult("Batch %s not found", batchID)
		}
		return common.ErrorResult("Failed to get batch: %v", err)
	}

	return common.JSONResult(b)
}

func handleListBatches(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	filter := store.BatchFilter{Limit: defaultListLimit}
	if ruleID, ok := args["rule_id"].(string); ok {
		filter.RuleID = ruleID
	}
	if status, ok := args["status"].(string); ok && status != "" {
		filter.Status = automation.BatchStatus(status)
		if !validStatus(filter.Status) {
			return common.ErrorResult("Unknown batch status: %s", status)
		}
	}
	if limit, ok := args["limit"].(float64); ok {
		if limit < 1 {
			return common.ErrorResult("limit must be at least 1")
		}
		filter.Limit = int(limit)
	}

	batches, err := sc.Store().ListBatches(ctx, filter)
	if err != nil {
		return common.ErrorResult("Failed to list batches: %v", err)
	}
	if batches == nil {
		batches = []*automation.Batch{}
	}

	return common.JSONResult(map[string]any{
		"count":   len(batches),
		"batches": batches,
	})
}

func handleToggleAction(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	batchID, ok := args["batch_id"].(string)
	if !ok || batchID == "" {
		return common.ErrorResult("batch_id is required")
	}
	actionID, ok := args["action_id"].(string)
	if !ok || actionID == "" {
		return common.ErrorResult("action_id is required")
	}
	enabled, ok := args["enabled"].(bool)
	if !ok {
		return common.ErrorResult("enabled is required and must be a boolean")
	}

	var err error
	if approvals := sc.Approvals(); approvals != nil {
		err = approvals.SetActionEnabled(ctx, batchID, actionID, enabled)
	} else {
		err = sc.Store().SetActionEnabled(ctx, batchID, actionID, enabled)
	}
	if err != nil {
		return common.ErrorResult("Failed to update action %s of batch %s: %v", actionID, batchID, err)
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return mcp.NewToolResultText(fmt.Sprintf("Action %s of batch %s %s", actionID, batchID, state)), nil
}

func validStatus(s automation.BatchStatus) bool {
	switch s {
	case automation.BatchPendingApproval, automation.BatchAutoApproved, automation.BatchApproved,
		automation.BatchRejected, automation.BatchExecuted, automation.BatchFailed, automation.BatchRolledBack:
		return true
	}
	return false
}
