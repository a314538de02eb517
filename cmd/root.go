package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the ipdocket application
var rootCmd = &cobra.Command{
	Use:   "ipdocket",
	Short: "Executes, approves and rolls back docket automation batches",
	Long: `ipdocket runs the automation subsystem of the docket: rules stage batches
of actions for incoming mail, attorneys approve them through signed links, and
approved batches execute with all-or-nothing rollback.

It can run as:
  - A long-running service with approval endpoints and an MCP server (serve)
  - One-shot commands for executing batches, issuing tokens and reviewing rules`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "ipdocket version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newExecuteCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newAdviseCmd())
	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newTriageCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
}
