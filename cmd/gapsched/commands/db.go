package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/redV3ls/skill-gap-analysis-sub001/config"
)

// DbCmd groups database maintenance operations
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance operations",
	Long: `Database maintenance:

  gapsched db stats   # Show record counts and file size
  gapsched db purge   # Remove expired entries now`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// DbStatsCmd shows database statistics
var DbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDbStats()
	},
}

// DbPurgeCmd removes expired entries immediately
var DbPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove expired entries now",
	Long: `Remove entries whose TTL has elapsed.

The daemon purges on every poll cycle; this command is for manual
maintenance when no daemon is running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDbPurge()
	},
}

func init() {
	DbCmd.AddCommand(DbStatsCmd)
	DbCmd.AddCommand(DbPurgeCmd)
}

func runDbStats() error {
	_, store, closeDB, err := newSchedulerClient()
	if err != nil {
		return err
	}
	defer closeDB()

	prefixes := []struct {
		label  string
		prefix string
	}{
		{"Jobs", "job:"},
		{"Results", "job_result:"},
		{"Breakers", "circuit:"},
		{"Alerts", "alert:"},
	}

	fmt.Println("Database statistics")
	for _, p := range prefixes {
		keys, err := store.ListByPrefix(p.prefix)
		if err != nil {
			return fmt.Errorf("failed to count %s entries: %w", p.label, err)
		}
		fmt.Printf("  %-10s %d\n", p.label+":", len(keys))
	}

	if path, err := config.GetDatabasePath(); err == nil && path != "" {
		if info, err := os.Stat(path); err == nil {
			fmt.Printf("  %-10s %s (%.1f KB)\n", "File:", path, float64(info.Size())/1024)
		}
	}
	return nil
}

func runDbPurge() error {
	_, store, closeDB, err := newSchedulerClient()
	if err != nil {
		return err
	}
	defer closeDB()

	purged, err := store.PurgeExpired()
	if err != nil {
		return fmt.Errorf("failed to purge expired entries: %w", err)
	}
	fmt.Printf("Purged %d expired entries\n", purged)
	return nil
}
