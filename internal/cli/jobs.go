package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect background jobs",
	Long: `List recent background jobs or inspect a specific job by ID.

Without --tenant, jobs of every tenant are listed.

Examples:
  contextbase jobs             # List all jobs
  contextbase jobs -t acme     # List acme's jobs
  contextbase jobs abc123      # Show details for job abc123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		return showJob(ctx, out, args[0])
	}
	return listJobs(ctx, out)
}

func listJobs(ctx context.Context, out io.Writer) error {
	jobs, err := apiClient.ListJobs(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	fmt.Fprintf(out, "%-10s %-10s %-12s %-12s %-8s %s\n", "ID", "TYPE", "STATUS", "STAGE", "PROGRESS", "STARTED")
	fmt.Fprintln(out, "--------------------------------------------------------------------------")

	for _, job := range jobs {
		started := job.StartedAt.Format("15:04:05")
		fmt.Fprintf(out, "%-10s %-10s %-12s %-12s %-8s %s\n",
			job.ID, job.Type, job.Status, job.Stage, fmt.Sprintf("%d%%", job.Progress), started)
	}

	return nil
}

func showJob(ctx context.Context, out io.Writer, id string) error {
	job, err := apiClient.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", id)
	}

	fmt.Fprintf(out, "Job: %s\n", job.ID)
	fmt.Fprintf(out, "  Type: %s\n", job.Type)
	fmt.Fprintf(out, "  Tenant: %s\n", job.TenantID)
	fmt.Fprintf(out, "  Item: %s\n", job.ItemID)
	fmt.Fprintf(out, "  Source: %s\n", job.Source)
	fmt.Fprintf(out, "  Status: %s (%s)\n", job.Status, job.Stage)
	fmt.Fprintf(out, "  Progress: %d%%\n", job.Progress)
	fmt.Fprintf(out, "  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		fmt.Fprintf(out, "  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		duration := job.CompletedAt.Sub(job.StartedAt)
		fmt.Fprintf(out, "  Duration: %s\n", duration.Round(time.Millisecond))
	}

	if job.Error != "" {
		fmt.Fprintf(out, "  Error: %s\n", job.Error)
	}

	return nil
}
