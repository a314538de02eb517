package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teemow/ipdocket/internal/automation"
	"github.com/teemow/ipdocket/internal/logging"
	"github.com/teemow/ipdocket/internal/rules"
)

type triageOptions struct {
	services   serviceOptions
	rulesFile  string
	query      string
	maxResults int64
	debugMode  bool
}

func newTriageCmd() *cobra.Command {
	opts := triageOptions{}

	cmd := &cobra.Command{
		Use:   "triage",
		Short: "Stage automation batches for matching inbox mail",
		Long: `Fetch mail from Gmail, match it against the automation rules and stage a
batch for every matching rule. Auto-approved batches run right away; the
others are sent to their approver when an approval secret is configured.

The outcome of every matched rule is printed as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			opts.services.applyEnv()
			logger := newLogger(opts.debugMode, true)

			ruleSet, err := rules.LoadRulesFile(opts.rulesFile)
			if err != nil {
				return err
			}
			matcher, err := rules.NewMatcher(ruleSet, logger)
			if err != nil {
				return err
			}

			svc, err := buildServices(ctx, opts.services, logger, nil)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()
			if svc.Gmail == nil {
				return fmt.Errorf("gmail is not connected, run 'ipdocket auth' first")
			}

			mail, err := svc.Gmail.ListMessages(ctx, opts.query, opts.maxResults)
			if err != nil {
				return err
			}
			snapshots := make([]automation.MailSnapshot, 0, len(mail))
			for _, m := range mail {
				snapshots = append(snapshots, automation.SnapshotFromGmail(m))
			}

			stager, err := newStager(svc, logger)
			if err != nil {
				return err
			}
			return runTriage(ctx, stager, matcher, snapshots, cmd.OutOrStdout(), logger)
		},
	}

	cmd.Flags().StringVar(&opts.rulesFile, "rules", "", "Path to the automation rules JSON file")
	cmd.Flags().StringVar(&opts.query, "query", "in:inbox is:unread", "Gmail search query selecting the mail to triage")
	cmd.Flags().Int64Var(&opts.maxResults, "max", 25, "Maximum number of messages to triage")
	cmd.Flags().BoolVar(&opts.debugMode, "debug", false, "Enable debug logging")
	addServiceFlags(cmd, &opts.services)
	_ = cmd.MarkFlagRequired("rules")

	return cmd
}

func newStager(svc *services, logger *slog.Logger) (*rules.Stager, error) {
	cfg := rules.StagerConfig{
		Store:  svc.Store,
		Stats:  svc.Store,
		Runner: svc.Runner,
		Logger: logger,
	}
	if svc.Approvals != nil {
		cfg.Approvals = svc.Approvals
	}
	return rules.NewStager(cfg)
}

func runTriage(ctx context.Context, stager *rules.Stager, matcher *rules.Matcher, mail []automation.MailSnapshot, out io.Writer, logger *slog.Logger) error {
	outcomes := make([]rules.Outcome, 0)
	staged, skipped := 0, 0
	for _, m := range mail {
		results := stager.Process(ctx, matcher, m)
		for _, o := range results {
			if o.Skipped {
				skipped++
			}
			if o.Batch != nil {
				staged++
			}
			if o.Error != "" {
				attrs := []any{logging.Rule(o.RuleID)}
				if o.Batch != nil {
					attrs = append(attrs, logging.Batch(o.Batch.ID))
				}
				logger.Warn("Rule could not be applied", append(attrs,
					slog.String("mail_id", m.ID),
					slog.String("error", o.Error),
				)...)
			}
		}
		outcomes = append(outcomes, results...)
	}
	logger.Info("Triage finished",
		slog.Int("messages", len(mail)),
		slog.Int("batches", staged),
		slog.Int("already_staged", skipped),
	)
	return writeJSON(out, outcomes)
}
