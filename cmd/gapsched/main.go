package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/redV3ls/skill-gap-analysis-sub001/cmd/gapsched/commands"
	"github.com/redV3ls/skill-gap-analysis-sub001/logger"
)

var rootCmd = &cobra.Command{
	Use:   "gapsched",
	Short: "gapsched - asynchronous job scheduler for skill gap analysis",
	Long: `gapsched - asynchronous job scheduling and resilience daemon.

gapsched runs long-running analysis operations (gap analysis, team
analysis, trend computation, bulk imports, report generation) outside
the request path, under bounded concurrency, with priority ordering,
automatic retry with backoff, and circuit-breaker protection for
degraded downstream dependencies.

Available commands:
  start    - Start the scheduler daemon
  jobs     - Submit, list, inspect and cancel jobs
  breaker  - Inspect and reset circuit breakers
  config   - Show effective configuration
  db       - Database maintenance operations

Examples:
  gapsched start                        # Run the daemon in foreground
  gapsched jobs submit gap_analysis \
      --payload '{"profileId":"p1"}'    # Queue a gap analysis
  gapsched jobs ls --status pending     # List queued jobs
  gapsched breaker ls                   # Show circuit breaker health`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON instead of console output")

	rootCmd.AddCommand(commands.StartCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.BreakerCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
