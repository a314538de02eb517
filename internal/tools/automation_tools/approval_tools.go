package automation_tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/ipdocket/internal/server"
	"github.com/teemow/ipdocket/internal/tools/common"
)

func handleIssueApprovalToken(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	batchID, ok := args["batch_id"].(string)
	if !ok || batchID == "" {
		return common.ErrorResult("batch_id is required")
	}
	sendEmail, _ := args["send_email"].(bool)

	approvals := sc.Approvals()
	if approvals == nil {
		return common.ErrorResult("Approval tokens are not configured. Set IPDOCKET_APPROVAL_SECRET.")
	}

	if sendEmail {
		if err := approvals.RequestApproval(ctx, batchID); err != nil {
			return common.ErrorResult("Failed to send approval request for batch %s: %v", batchID, err)
		}
		return mcp.NewToolResultText(fmt.Sprintf("Approval request for batch %s sent to its approver", batchID)), nil
	}

	issued, err := approvals.Issue(ctx, batchID)
	if err != nil {
		return common.ErrorResult("Failed to issue approval token for batch %s: %v", batchID, err)
	}
	return common.JSONResult(issued)
}
