package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/ingestor/internal/config"
	"github.com/raphaelgruber/ingestor/internal/ingest"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>...",
	Short: "Query the backend once for job states",
	Long: `Query the backend once for the given job ids and print each raw status label
next to the state ingestor maps it to.

Examples:
  ingestor status 3f2a9c1e
  ingestor status 3f2a9c1e 77b0d412`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger, closeLog := newCommandLogger()
	defer closeLog()

	c := newClient(logger)
	poller := ingest.NewPoller(c, ingest.DefaultClassifier, cfg.PollTimeout)

	statuses, err := poller.PollOnce(cmd.Context(), args)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-24s %-12s %s\n", "JOB", "STATE", "LABEL")
	fmt.Fprintln(out, "------------------------------------------------------------")
	for _, id := range args {
		st := statuses[id]
		fmt.Fprintf(out, "%-24s %-12s %s\n", id, st.State, st.Stage)
	}
	return nil
}

// newCommandLogger logs to stderr and the log file for short commands.
func newCommandLogger() (*slog.Logger, func() error) {
	return config.SetupLogger(cfg.LogFile, cfg.LogLevel)
}
