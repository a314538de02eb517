package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/teemow/ipdocket/internal/advisor"
	"github.com/teemow/ipdocket/internal/rules"
	"github.com/teemow/ipdocket/internal/store"
)

type adviseOptions struct {
	historyFile string
	databaseURL string
	rulesFile   string
	ruleID      string
	thresholds  advisor.Thresholds
}

func newAdviseCmd() *cobra.Command {
	opts := adviseOptions{thresholds: advisor.DefaultThresholds()}

	cmd := &cobra.Command{
		Use:   "advise",
		Short: "Suggest rule changes from past batches",
		Long: `Analyze the history of automation batches and suggest rule changes:
switching off actions that approvers keep disabling, requiring approval for
auto-approved rules that fail, and reviewing rules that get rejected.

The history is read from a JSON file (--history, "-" reads stdin) or from the
PostgreSQL store (--database-url). Suggestions are printed as JSON; rules are
never modified.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.databaseURL = envOr(opts.databaseURL, envDatabaseURL)
			histories, err := loadAdviseHistory(cmd.Context(), opts, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return runAdvise(cmd.OutOrStdout(), opts.thresholds, histories)
		},
	}

	cmd.Flags().StringVar(&opts.historyFile, "history", "", "Path to a rule history JSON file, or - for stdin")
	cmd.Flags().StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection string. Can also use "+envDatabaseURL+" env var.")
	cmd.Flags().StringVar(&opts.rulesFile, "rules", "", "Rules file used to tell auto-approved rules apart (with --database-url)")
	cmd.Flags().StringVar(&opts.ruleID, "rule-id", "", "Only analyze this rule (with --database-url)")
	cmd.Flags().IntVar(&opts.thresholds.MinSamples, "min-samples", opts.thresholds.MinSamples, "Decided batches a rule needs before suggestions are made")
	cmd.Flags().Float64Var(&opts.thresholds.DisableActionRate, "disable-action-rate", opts.thresholds.DisableActionRate, "Share of batches with an action disabled that suggests removing it")
	cmd.Flags().Float64Var(&opts.thresholds.RequireApprovalRate, "require-approval-rate", opts.thresholds.RequireApprovalRate, "Failure rate of an auto-approved rule that suggests requiring approval")
	cmd.Flags().Float64Var(&opts.thresholds.ReviewRuleRate, "review-rule-rate", opts.thresholds.ReviewRuleRate, "Rejection rate that suggests reviewing a rule")
	cmd.MarkFlagsMutuallyExclusive("history", "database-url")

	return cmd
}

func loadAdviseHistory(ctx context.Context, opts adviseOptions, stdin io.Reader) ([]advisor.RuleHistory, error) {
	switch {
	case opts.historyFile == "-":
		return advisor.LoadHistory(stdin)
	case opts.historyFile != "":
		f, err := os.Open(opts.historyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open history file: %w", err)
		}
		defer f.Close()
		return advisor.LoadHistory(f)
	case opts.databaseURL != "":
		pg, err := store.OpenPostgres(ctx, opts.databaseURL)
		if err != nil {
			return nil, err
		}
		defer pg.Close()
		return historyFromStore(ctx, pg, opts.rulesFile, opts.ruleID)
	}
	return nil, fmt.Errorf("either --history or --database-url is required")
}

func historyFromStore(ctx context.Context, s store.Store, rulesFile, ruleID string) ([]advisor.RuleHistory, error) {
	auto := make(map[string]bool)
	if rulesFile != "" {
		ruleSet, err := rules.LoadRulesFile(rulesFile)
		if err != nil {
			return nil, err
		}
		for _, r := range ruleSet {
			auto[r.ID] = r.AutoApprove
		}
	}
	batches, err := s.ListBatches(ctx, store.BatchFilter{RuleID: ruleID})
	if err != nil {
		return nil, err
	}
	return advisor.BuildHistory(batches, auto), nil
}

func runAdvise(out io.Writer, thresholds advisor.Thresholds, histories []advisor.RuleHistory) error {
	adv := advisor.New(thresholds, nil)
	suggestions := adv.Suggest(histories)
	if suggestions == nil {
		suggestions = []advisor.Suggestion{}
	}
	return writeJSON(out, map[string]any{
		"rules_analyzed": len(histories),
		"thresholds":     adv.Thresholds(),
		"suggestions":    suggestions,
	})
}
