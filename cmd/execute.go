package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teemow/ipdocket/internal/automation"
)

type executeOptions struct {
	services  serviceOptions
	batchFile string
	batchID   string
	debugMode bool
}

func newExecuteCmd() *cobra.Command {
	var opts executeOptions

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Execute one automation batch and print its result",
		Long: `Execute a batch of automation actions and print the batch result as JSON.

Either load a batch definition from a JSON file (--batch, "-" reads stdin) or
run a batch that is already stored (--id, needs --database-url). A batch read
from a file without a status is treated as approved.

When any action fails, every action that already succeeded is rolled back and
the command exits with an error.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			opts.services.applyEnv()
			logger := newLogger(opts.debugMode, true)
			svc, err := buildServices(ctx, opts.services, logger, nil)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			return runExecute(ctx, svc, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.batchFile, "batch", "", "Path to a batch JSON file, or - for stdin")
	cmd.Flags().StringVar(&opts.batchID, "id", "", "ID of a stored batch to execute")
	cmd.Flags().BoolVar(&opts.debugMode, "debug", false, "Enable debug logging")
	addServiceFlags(cmd, &opts.services)
	cmd.MarkFlagsMutuallyExclusive("batch", "id")
	cmd.MarkFlagsOneRequired("batch", "id")

	return cmd
}

func runExecute(ctx context.Context, svc *services, opts executeOptions, stdin io.Reader, out io.Writer) error {
	batchID := opts.batchID
	if opts.batchFile != "" {
		batch, err := readBatch(opts.batchFile, stdin)
		if err != nil {
			return err
		}
		if err := svc.Store.CreateBatch(ctx, batch); err != nil {
			return fmt.Errorf("failed to store batch: %w", err)
		}
		batchID = batch.ID
	}

	result, err := svc.Runner.Run(ctx, batchID)
	if result != nil {
		if encErr := writeJSON(out, result); encErr != nil {
			return encErr
		}
	}
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("batch %s finished as %s", batchID, result.FinalStatus())
	}
	return nil
}

func readBatch(path string, stdin io.Reader) (*automation.Batch, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open batch file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var batch automation.Batch
	if err := json.NewDecoder(r).Decode(&batch); err != nil {
		return nil, fmt.Errorf("failed to parse batch: %w", err)
	}
	if batch.Status == "" {
		batch.Status = automation.BatchApproved
	}
	if len(batch.Actions) == 0 {
		return nil, fmt.Errorf("batch has no actions")
	}
	return &batch, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
