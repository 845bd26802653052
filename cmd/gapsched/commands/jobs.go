package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/redV3ls/skill-gap-analysis-sub001/config"
	"github.com/redV3ls/skill-gap-analysis-sub001/errors"
	"github.com/redV3ls/skill-gap-analysis-sub001/scheduler"
)

// JobsCmd groups job management operations
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Submit, list, inspect and cancel jobs",
	Long: `Job management commands:

  gapsched jobs submit <type>   # Queue a new job
  gapsched jobs ls              # List jobs
  gapsched jobs status <id>     # Show job details
  gapsched jobs cancel <id>     # Cancel a pending job
  gapsched jobs stats           # Show queue statistics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// JobsSubmitCmd queues a new job
var JobsSubmitCmd = &cobra.Command{
	Use:   "submit <type>",
	Short: "Submit a job for asynchronous execution",
	Long: `Submit a job for asynchronous execution by a running daemon.

Job types:
  gap_analysis       - Compute skill gaps for a profile
  team_analysis      - Aggregate coverage across a team
  trend_computation  - Recompute industry trend series
  bulk_import        - Import profiles or skills in bulk
  report_generation  - Render a report document

Examples:
  gapsched jobs submit gap_analysis --payload '{"profileId":"p1"}'
  gapsched jobs submit bulk_import --payload-file import.json --priority high
  gapsched jobs submit report_generation --max-retries 0`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, _ := cmd.Flags().GetString("payload")
		payloadFile, _ := cmd.Flags().GetString("payload-file")
		priority, _ := cmd.Flags().GetString("priority")
		maxRetries, _ := cmd.Flags().GetInt("max-retries")
		owner, _ := cmd.Flags().GetString("owner")
		return runJobsSubmit(args[0], owner, payload, payloadFile, priority, maxRetries)
	},
}

// JobsLsCmd lists jobs
var JobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs",
	Long: `List jobs, optionally filtered by owner, status or type.

Examples:
  gapsched jobs ls                       # List all jobs for the current user
  gapsched jobs ls --status pending      # Only queued jobs
  gapsched jobs ls --type gap_analysis   # Only gap analyses
  gapsched jobs ls --limit 50`,
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		status, _ := cmd.Flags().GetString("status")
		jobType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		return runJobsLs(owner, status, jobType, limit, offset)
	},
}

// JobsStatusCmd shows one job in detail
var JobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show status of a job",
	Long: `Display detailed status for a job: type, owner, priority, progress,
attempt count, timestamps and, for completed jobs, the stored result.

Example:
  gapsched jobs status 6de3a9c1-...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		showResult, _ := cmd.Flags().GetBool("result")
		return runJobsStatus(args[0], showResult)
	},
}

// JobsCancelCmd cancels a pending job
var JobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending job",
	Long: `Cancel a job that has not started executing.

Jobs already processing cannot be interrupted, and completed, failed
or cancelled jobs cannot change state.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsCancel(args[0])
	},
}

// JobsStatsCmd shows aggregate queue statistics
var JobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	Long: `Show aggregate queue statistics.

Prefers the snapshot persisted by a running daemon; falls back to a
fresh scan of the job records when no snapshot is available.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsStats()
	},
}

func init() {
	JobsSubmitCmd.Flags().String("payload", "", "Inline JSON payload")
	JobsSubmitCmd.Flags().String("payload-file", "", "Read the JSON payload from a file")
	JobsSubmitCmd.Flags().String("priority", "", "Priority band: low, normal, high")
	JobsSubmitCmd.Flags().Int("max-retries", -1, "Retry ceiling (default from config)")
	JobsSubmitCmd.Flags().String("owner", "", "Owning principal (defaults to system)")

	JobsLsCmd.Flags().String("owner", "system", "Owner whose jobs to list")
	JobsLsCmd.Flags().String("status", "", "Filter by status (pending, processing, completed, failed, cancelled)")
	JobsLsCmd.Flags().String("type", "", "Filter by job type")
	JobsLsCmd.Flags().Int("limit", 20, "Maximum number of jobs to display")
	JobsLsCmd.Flags().Int("offset", 0, "Number of jobs to skip")

	JobsStatusCmd.Flags().Bool("result", false, "Include the stored result payload")

	JobsCmd.AddCommand(JobsSubmitCmd)
	JobsCmd.AddCommand(JobsLsCmd)
	JobsCmd.AddCommand(JobsStatusCmd)
	JobsCmd.AddCommand(JobsCancelCmd)
	JobsCmd.AddCommand(JobsStatsCmd)
}

// newSchedulerClient builds a scheduler over the shared database for CLI
// operations. The instance has no running poll loop; it only reads and
// writes job records that a daemon process acts on.
func newSchedulerClient() (*scheduler.Scheduler, *scheduler.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	database, err := openDatabase("")
	if err != nil {
		return nil, nil, nil, err
	}

	store := scheduler.NewStore(database)
	sched := scheduler.NewScheduler(store, scheduler.NewHandlerRegistry(), nil, cfg.Scheduler, cfg.Retry)
	return sched, store, func() { database.Close() }, nil
}

func runJobsSubmit(jobType, owner, payload, payloadFile, priority string, maxRetries int) error {
	sched, _, closeDB, err := newSchedulerClient()
	if err != nil {
		return err
	}
	defer closeDB()

	raw := json.RawMessage(payload)
	if payloadFile != "" {
		data, err := os.ReadFile(payloadFile)
		if err != nil {
			return fmt.Errorf("failed to read payload file: %w", err)
		}
		raw = json.RawMessage(data)
	}
	if len(raw) > 0 && !json.Valid(raw) {
		return errors.NewInvalidRequestError("payload is not valid JSON")
	}

	opts := scheduler.SubmitOptions{Priority: scheduler.JobPriority(priority)}
	if maxRetries >= 0 {
		opts.MaxRetries = &maxRetries
	}

	id, err := sched.SubmitJob(scheduler.JobType(jobType), owner, raw, opts)
	if err != nil {
		return err
	}

	fmt.Printf("Submitted job %s\n", id)
	fmt.Printf("  Type:     %s\n", jobType)
	if priority != "" {
		fmt.Printf("  Priority: %s\n", priority)
	}
	return nil
}

func runJobsLs(owner, status, jobType string, limit, offset int) error {
	sched, _, closeDB, err := newSchedulerClient()
	if err != nil {
		return err
	}
	defer closeDB()

	filter := scheduler.JobFilter{
		Status: scheduler.JobStatus(status),
		Type:   scheduler.JobType(jobType),
		Limit:  limit,
		Offset: offset,
	}
	jobs, err := sched.ListUserJobs(owner, filter)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-36s  %-18s  %-10s  %-8s  %s\n", "ID", "TYPE", "STATUS", "PRIORITY", "CREATED")
	for _, job := range jobs {
		fmt.Printf("%-36s  %-18s  %-10s  %-8s  %s\n",
			job.ID, job.Type, job.Status, job.Priority,
			job.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("\n%d job(s)\n", len(jobs))
	return nil
}

func runJobsStatus(jobID string, showResult bool) error {
	sched, store, closeDB, err := newSchedulerClient()
	if err != nil {
		return err
	}
	defer closeDB()

	job, err := sched.GetJob(jobID)
	if err != nil {
		return err
	}

	fmt.Printf("Job %s\n", job.ID)
	fmt.Printf("  Type:       %s\n", job.Type)
	fmt.Printf("  Owner:      %s\n", job.Owner)
	fmt.Printf("  Status:     %s\n", job.Status)
	fmt.Printf("  Priority:   %s\n", job.Priority)
	fmt.Printf("  Progress:   %d%%\n", job.Progress)
	fmt.Printf("  Attempts:   %d/%d\n", job.Attempts, job.MaxRetries+1)
	fmt.Printf("  Created:    %s\n", job.CreatedAt.Local().Format(time.RFC3339))
	if job.StartedAt != nil {
		fmt.Printf("  Started:    %s\n", job.StartedAt.Local().Format(time.RFC3339))
	}
	if job.CompletedAt != nil {
		fmt.Printf("  Completed:  %s\n", job.CompletedAt.Local().Format(time.RFC3339))
	}
	if job.NextRetryAt != nil {
		fmt.Printf("  Next retry: %s\n", job.NextRetryAt.Local().Format(time.RFC3339))
	}
	if job.Error != "" {
		fmt.Printf("  Error:      %s\n", job.Error)
	}

	if showResult && job.Status == scheduler.JobStatusCompleted {
		result, err := store.GetResult(jobID)
		if err != nil {
			if errors.IsNotFoundError(err) {
				fmt.Println("  Result:     (expired)")
				return nil
			}
			return err
		}
		fmt.Printf("  Result:     %s\n", result)
	}
	return nil
}

func runJobsCancel(jobID string) error {
	sched, _, closeDB, err := newSchedulerClient()
	if err != nil {
		return err
	}
	defer closeDB()

	if err := sched.CancelJob(jobID); err != nil {
		return err
	}
	fmt.Printf("Cancelled job %s\n", jobID)
	return nil
}

func runJobsStats() error {
	sched, store, closeDB, err := newSchedulerClient()
	if err != nil {
		return err
	}
	defer closeDB()

	stats, err := store.GetStatsSnapshot()
	source := "daemon snapshot"
	if err != nil {
		stats, err = sched.GetStats()
		if err != nil {
			return fmt.Errorf("failed to compute stats: %w", err)
		}
		source = "live scan"
	}

	fmt.Printf("Queue statistics (%s, %s)\n", source, stats.GeneratedAt.Local().Format(time.RFC3339))
	fmt.Printf("  Queued:     %d\n", stats.CurrentQueueSize)
	fmt.Printf("  Active:     %d\n", stats.ActiveJobs)
	fmt.Printf("  Processed:  %d\n", stats.TotalProcessed)
	fmt.Printf("  Failed:     %d\n", stats.TotalFailed)

	if len(stats.JobsByStatus) > 0 {
		fmt.Println("  By status:")
		for status, count := range stats.JobsByStatus {
			fmt.Printf("    %-12s %d\n", status, count)
		}
	}
	if len(stats.JobsByType) > 0 {
		fmt.Println("  By type:")
		for jobType, count := range stats.JobsByType {
			fmt.Printf("    %-20s %d\n", jobType, count)
		}
	}

	metrics := sched.GetSystemMetrics()
	if metrics.MemoryTotalGB > 0 {
		fmt.Printf("  Memory:     %.1f/%.1f GB (%.0f%%)\n",
			metrics.MemoryUsedGB, metrics.MemoryTotalGB, metrics.MemoryPercent)
	}
	return nil
}
