package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/ingestor/internal/audit"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List or inspect recorded runs",
	Long: `List runs recorded in the audit store, or show one run with its warnings.

Examples:
  ingestor runs            # List recent runs
  ingestor runs ab12cd34   # Show details for run ab12cd34`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "max runs to list")
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger, closeLog := newCommandLogger()
	defer closeLog()

	store, err := openAudit(ctx, logger)
	if err != nil {
		return err
	}
	defer store.Close(context.WithoutCancel(ctx))

	if len(args) == 1 {
		return showRun(ctx, cmd.OutOrStdout(), store, args[0])
	}
	return listRuns(ctx, cmd.OutOrStdout(), store)
}

func listRuns(ctx context.Context, w io.Writer, store *audit.Store) error {
	runs, err := store.ListRuns(ctx, runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}

	fmt.Fprintf(w, "%-10s %-20s %-9s %6s %6s %6s %8s %s\n",
		"ID", "FINISHED", "DURATION", "ITEMS", "DONE", "UNKN", "UNSENT", "STATUS")
	fmt.Fprintln(w, "--------------------------------------------------------------------------------")
	for _, r := range runs {
		fmt.Fprintf(w, "%-10s %-20s %-9s %6d %6d %6d %8d %s\n",
			r.RunID(),
			r.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			(time.Duration(r.ElapsedMs) * time.Millisecond).Round(time.Second),
			r.Items, r.Done, r.Unknown, r.Unsubmitted+r.NotSent,
			runStatusLabel(r))
	}
	return nil
}

func showRun(ctx context.Context, w io.Writer, store *audit.Store, id string) error {
	r, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Run: %s (%s)\n", r.RunID(), runStatusLabel(*r))
	fmt.Fprintf(w, "  Started:  %s\n", r.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "  Finished: %s\n", r.FinishedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "  Items: %d in %d batches (%d sent)\n", r.Items, r.Batches, r.BatchesSubmitted)
	fmt.Fprintf(w, "  Jobs: %d accepted, %d done, %d unknown, %d pending\n", r.Accepted, r.Done, r.Unknown, r.Pending)
	if r.Unsubmitted > 0 || r.NotSent > 0 {
		fmt.Fprintf(w, "  Unsubmitted: %d, not sent: %d\n", r.Unsubmitted, r.NotSent)
	}
	if len(r.SlowJobs) > 0 {
		fmt.Fprintf(w, "  Slow jobs: %v\n", r.SlowJobs)
	}
	if r.Errors != nil && *r.Errors != "" {
		fmt.Fprintf(w, "  Errors: %s\n", *r.Errors)
	}

	anomalies, err := store.ListAnomalies(ctx, r.RunID())
	if err != nil {
		return err
	}
	if len(anomalies) > 0 {
		fmt.Fprintf(w, "\nWarnings (%d):\n", len(anomalies))
		for _, a := range anomalies {
			target := ""
			if a.JobID != nil {
				target = " job " + *a.JobID
			} else if a.Batch >= 0 {
				target = fmt.Sprintf(" batch %d", a.Batch+1)
			}
			fmt.Fprintf(w, "  %s %s%s: %s\n", a.At.Local().Format("15:04:05"), a.Kind, target, a.Detail)
		}
	}
	return nil
}

func runStatusLabel(r audit.RunRecord) string {
	switch {
	case r.Cancelled:
		return "stopped"
	case r.Unknown > 0 || r.Unsubmitted > 0:
		return "problems"
	default:
		return "complete"
	}
}
