package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/ipdocket/internal/approval"
)

func newTokenCmd() *cobra.Command {
	var secret string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and inspect approval tokens",
		Long: `Issue and inspect signed approval tokens.

The signing secret is read from --secret or ` + envApprovalSecret + `.`,
	}
	cmd.PersistentFlags().StringVar(&secret, "secret", "", "Approval signing secret. Can also use "+envApprovalSecret+" env var.")

	cmd.AddCommand(newTokenIssueCmd(&secret))
	cmd.AddCommand(newTokenVerifyCmd(&secret))
	return cmd
}

func newTokenIssueCmd(secret *string) *cobra.Command {
	var (
		batchID  string
		approver string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign an approval token for a batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenIssue(cmd.OutOrStdout(), envOr(*secret, envApprovalSecret), batchID, approver, ttl, time.Now())
		},
	}

	cmd.Flags().StringVar(&batchID, "batch-id", "", "Batch the token approves")
	cmd.Flags().StringVar(&approver, "approver", "", "Email address of the approver")
	cmd.Flags().DurationVar(&ttl, "ttl", approval.DefaultTokenTTL, "Token lifetime")
	_ = cmd.MarkFlagRequired("batch-id")
	_ = cmd.MarkFlagRequired("approver")

	return cmd
}

func newTokenVerifyCmd(secret *string) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <token>",
		Short: "Check a token's signature and expiry and print its payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenVerify(cmd.OutOrStdout(), envOr(*secret, envApprovalSecret), args[0], time.Now())
		},
	}
}

func runTokenIssue(out io.Writer, secret, batchID, approver string, ttl time.Duration, now time.Time) error {
	if secret == "" {
		return approval.ErrMissingSecret
	}
	payload := approval.CreateTokenPayload(approval.PayloadOptions{
		BatchID:       batchID,
		ApproverEmail: approver,
		ExpiresIn:     ttl,
		Now:           now,
	})
	token, err := approval.SignApprovalToken(payload, []byte(secret))
	if err != nil {
		return err
	}
	return writeJSON(out, approval.IssuedToken{
		Token:     token,
		BatchID:   batchID,
		Approver:  approver,
		ExpiresAt: payload.ExpiresAt().UTC(),
	})
}

func runTokenVerify(out io.Writer, secret, token string, now time.Time) error {
	if secret == "" {
		return approval.ErrMissingSecret
	}
	payload := approval.VerifyApprovalTokenAt(token, []byte(secret), now)
	if payload == nil {
		return fmt.Errorf("token is not valid")
	}
	return writeJSON(out, payload)
}
