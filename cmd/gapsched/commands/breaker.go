package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/redV3ls/skill-gap-analysis-sub001/scheduler"
)

// BreakerCmd groups circuit breaker administration
var BreakerCmd = &cobra.Command{
	Use:   "breaker",
	Short: "Inspect and reset circuit breakers",
	Long: `Circuit breaker administration:

  gapsched breaker ls             # Show persisted breaker states
  gapsched breaker reset <key>    # Clear the persisted state for a service

Breaker state shown here is the status a running daemon last persisted.
The daemon's in-memory state machine is authoritative; it re-persists
on every transition.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// BreakerLsCmd lists persisted breaker statuses
var BreakerLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List circuit breaker states",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBreakerLs()
	},
}

// BreakerResetCmd clears persisted breaker state for a service key
var BreakerResetCmd = &cobra.Command{
	Use:   "reset <service-key>",
	Short: "Clear persisted breaker state for a service",
	Long: `Clear the persisted breaker record for a service key.

This removes the stored status so monitoring stops reporting the
service as degraded. A running daemon resets its own in-memory breaker
through the scheduler API and re-persists on the next call.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBreakerReset(args[0])
	},
}

func init() {
	BreakerCmd.AddCommand(BreakerLsCmd)
	BreakerCmd.AddCommand(BreakerResetCmd)
}

func runBreakerLs() error {
	_, store, closeDB, err := newSchedulerClient()
	if err != nil {
		return err
	}
	defer closeDB()

	statuses, err := store.ListBreakerStatuses()
	if err != nil {
		return fmt.Errorf("failed to list breaker statuses: %w", err)
	}
	if len(statuses) == 0 {
		fmt.Println("No circuit breakers recorded")
		return nil
	}

	fmt.Printf("%-24s  %-10s  %-8s  %-8s  %s\n", "SERVICE", "STATE", "FAILURES", "REQUESTS", "NEXT ATTEMPT")
	for key, status := range statuses {
		nextAttempt := "-"
		if status.NextAttemptTime != nil {
			nextAttempt = status.NextAttemptTime.Local().Format(time.RFC3339)
		}
		fmt.Printf("%-24s  %-10s  %-8d  %-8d  %s\n",
			key, status.State, status.FailureCount, status.TotalRequests, nextAttempt)
	}

	alerts, err := store.ListAlerts()
	if err == nil && len(alerts) > 0 {
		fmt.Printf("\nRecent alerts:\n")
		for _, alert := range alerts {
			fmt.Printf("  [%s] %s %s: %s\n",
				alert.Severity,
				alert.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				alert.ServiceKey,
				alert.Message)
		}
	}
	return nil
}

func runBreakerReset(serviceKey string) error {
	_, store, closeDB, err := newSchedulerClient()
	if err != nil {
		return err
	}
	defer closeDB()

	status := &scheduler.BreakerStatus{State: scheduler.BreakerClosed}
	if err := store.PutBreakerStatus(serviceKey, status, time.Hour); err != nil {
		return fmt.Errorf("failed to reset breaker state: %w", err)
	}

	fmt.Printf("Cleared persisted breaker state for %s\n", serviceKey)
	return nil
}
