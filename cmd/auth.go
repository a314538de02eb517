package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teemow/ipdocket/internal/google"
	"github.com/teemow/ipdocket/internal/server"
)

func newAuthCmd() *cobra.Command {
	var opts serviceOptions

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize a Google account for email, calendar and file actions",
		Long: `Authorize ipdocket to act as a Google account.

The command prints a consent URL. Open it, grant access and paste the
authorization code back. The token is stored in the token directory,
encrypted when a token encryption key is configured.

Requires GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.applyEnv()
			provider, err := newGoogleProvider(opts, nil)
			if err != nil {
				return err
			}
			account := opts.GoogleAccount
			if account == "" {
				account = google.DefaultAccount
			}
			return runAuth(cmd.Context(), provider, account, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.GoogleAccount, "account", google.DefaultAccount, "Account name the token is stored under")
	cmd.Flags().StringVar(&opts.TokenDir, "token-dir", "", "Directory holding Google OAuth tokens (default: user cache directory)")
	cmd.Flags().StringVar(&opts.TokenEncryptionKey, "token-encryption-key", "", "Base64 AES-256 key for Google tokens at rest. Can also use "+envTokenEncryptionKey+" env var.")

	return cmd
}

func runAuth(ctx context.Context, auth server.GoogleAuthorizer, account string, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "Go to the following link in your browser:\n\n%s\n\n", auth.AuthURL(account))
	fmt.Fprint(out, "Enter authorization code: ")

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read authorization code: %w", err)
		}
		return fmt.Errorf("no authorization code entered")
	}
	code := strings.TrimSpace(scanner.Text())
	if code == "" {
		return fmt.Errorf("no authorization code entered")
	}

	if err := auth.ExchangeAndSave(ctx, account, code); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nToken for account %q saved.\n", account)
	return nil
}
