package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/ingestor/internal/client"
	"github.com/raphaelgruber/ingestor/internal/config"
	"github.com/raphaelgruber/ingestor/internal/ingest"
	"github.com/raphaelgruber/ingestor/internal/metrics"
	"github.com/raphaelgruber/ingestor/internal/models"
	"github.com/raphaelgruber/ingestor/internal/scan"
)

var (
	ingestSource       string
	ingestRedact       bool
	ingestBatchSize    int
	ingestPollInterval time.Duration
	ingestCooldown     time.Duration
	ingestRate         float64
	ingestWatchURL     string
	ingestMetricsAddr  string
	ingestAudit        bool
	ingestPlain        bool
	ingestStats        bool
	ingestDryRun       bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>...",
	Short: "Upload files in batches and wait for processing",
	Long: `Collect files from the given paths, upload them in batches of --batch-size and
track the resulting backend jobs until each one is done or unknown.

Directories are walked recursively; hidden files, unsupported types, empty files
and files over the size limit are skipped and listed.

In a terminal a live progress view is shown:
  p          pause or resume uploading (polling continues)
  q, ctrl+c  stop watching; accepted jobs keep processing on the server

Examples:
  ingestor ingest ./discovery
  ingestor ingest --source opposing_counsel --redact ./production-vol-3
  ingestor ingest --plain --stats a.pdf b.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&ingestSource, "source", "", "source tag: user, opposing_counsel or court")
	f.BoolVar(&ingestRedact, "redact", false, "request redaction for every file")
	f.IntVar(&ingestBatchSize, "batch-size", 0, "files per upload request (default from config, 10)")
	f.DurationVar(&ingestPollInterval, "poll-interval", 0, "status poll interval (default from config, 1s)")
	f.DurationVar(&ingestCooldown, "cooldown", 0, "pause after the backend reports congestion (default from config, 5s)")
	f.Float64Var(&ingestRate, "rate", 0, "max batch uploads per second, 0 for unlimited")
	f.StringVar(&ingestWatchURL, "watch-url", "", "websocket endpoint pushing status change hints")
	f.StringVar(&ingestMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.BoolVar(&ingestAudit, "audit", false, "record the run in the SurrealDB audit store")
	f.BoolVar(&ingestPlain, "plain", false, "print one line per event instead of the progress view")
	f.BoolVar(&ingestStats, "stats", false, "print request timing statistics after the run")
	f.BoolVar(&ingestDryRun, "dry-run", false, "list the batches that would be uploaded without sending anything")
}

// applyIngestFlags overrides config values with flags the user set explicitly.
func applyIngestFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("source") {
		c.Source = ingestSource
	}
	if f.Changed("redact") {
		c.Redaction = ingestRedact
	}
	if f.Changed("batch-size") {
		c.BatchSize = ingestBatchSize
	}
	if f.Changed("poll-interval") {
		c.PollInterval = ingestPollInterval
	}
	if f.Changed("cooldown") {
		c.Cooldown = ingestCooldown
	}
	if f.Changed("rate") {
		c.SubmitRate = ingestRate
	}
	if f.Changed("watch-url") {
		c.WatchURL = ingestWatchURL
	}
	if f.Changed("metrics-addr") {
		c.MetricsAddr = ingestMetricsAddr
	}
	if f.Changed("audit") {
		c.AuditEnabled = ingestAudit
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	applyIngestFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	tag, err := models.ParseSourceTag(cfg.Source)
	if err != nil {
		return err
	}

	collected, err := scan.Collect(args, scan.Options{
		SourceTag:   tag,
		Redaction:   cfg.Redaction,
		MaxFileSize: cfg.MaxFileSize,
	})
	if err != nil {
		return err
	}
	printSkipped(out, collected.Skipped)

	if len(collected.Items) == 0 {
		fmt.Fprintln(out, "No files to upload.")
		return nil
	}
	fmt.Fprintf(out, "Found %d files (%s)\n", len(collected.Items), humanize.Bytes(uint64(collected.Bytes())))

	if ingestDryRun {
		return printDryRun(out, collected.Items, cfg.BatchSize)
	}

	interactive := !ingestPlain && isTerminal(os.Stdout) && isTerminal(os.Stdin)

	// The progress view owns the terminal, so logs only go to the file.
	var logger *slog.Logger
	var closeLog func() error
	if interactive {
		logger, closeLog = config.SetupFileLogger(cfg.LogFile, cfg.LogLevel)
	} else {
		logger, closeLog = config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	}
	defer closeLog()

	orch, cleanup := newOrchestrator(ctx, logger)
	defer cleanup()

	req := ingest.Request{
		Items:   collected.Items,
		Options: ingest.SubmitOptions{SourceTag: tag, RedactionRequested: cfg.Redaction},
		Pause:   ingest.NewPauseController(cfg.PauseCheckInterval),
	}

	var report ingest.Report
	if interactive {
		report, err = runInteractive(ctx, orch, req)
	} else {
		req.Observer = newPlainReporter(out)
		report, err = orch.Run(ctx, req)
	}
	if err != nil {
		return err
	}

	printReport(out, report)
	if ingestStats {
		printStats(out, orch.stats.Snapshot())
	}
	return nil
}

// orchestrator bundles the run engine with the collector shown by --stats.
type orchestrator struct {
	*ingest.Orchestrator
	stats *metrics.Collector
}

// newOrchestrator wires transport, metrics, hints and the audit store from cfg.
// Optional integrations that fail to start are logged and skipped.
func newOrchestrator(ctx context.Context, logger *slog.Logger) (*orchestrator, func()) {
	c := newClient(logger)
	collector := metrics.NewCollector()
	recorder := &metrics.Recorder{Collector: collector}
	var cleanups []func()

	opts := []ingest.Option{
		ingest.WithBatchSize(cfg.BatchSize),
		ingest.WithPollInterval(cfg.PollInterval),
		ingest.WithPollTimeout(cfg.PollTimeout),
		ingest.WithSubmitTimeout(cfg.SubmitTimeout),
		ingest.WithCooldown(cfg.Cooldown),
		ingest.WithSubmitRate(cfg.SubmitRate),
		ingest.WithPauseCheckInterval(cfg.PauseCheckInterval),
		ingest.WithSlowAfter(cfg.SlowAfter),
		ingest.WithLogger(logger),
		ingest.WithMetrics(recorder),
	}

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		recorder.Prometheus = metrics.NewPrometheus(reg)
		metricsCtx, stop := context.WithCancel(ctx)
		cleanups = append(cleanups, stop)
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.MetricsAddr, reg, logger); err != nil {
				logger.Warn("metrics server stopped", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	if cfg.WatchURL != "" {
		hints, err := client.Watch(ctx, cfg.WatchURL, logger)
		if err != nil {
			logger.Warn("status watch unavailable, polling only", "url", cfg.WatchURL, "error", err)
		} else {
			opts = append(opts, ingest.WithHints(hints))
		}
	}

	if cfg.AuditEnabled {
		store, err := openAudit(ctx, logger)
		if err != nil {
			logger.Warn("audit store unavailable, run will not be recorded", "error", err)
		} else {
			opts = append(opts, ingest.WithRecorder(store))
			cleanups = append(cleanups, func() { _ = store.Close(context.WithoutCancel(ctx)) })
		}
	}

	o := &orchestrator{Orchestrator: ingest.New(c, c, opts...), stats: collector}
	return o, func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
}

func printSkipped(w io.Writer, skipped []scan.Skipped) {
	if len(skipped) == 0 {
		return
	}
	fmt.Fprintf(w, "Skipping %d paths:\n", len(skipped))
	for _, s := range skipped {
		if s.Detail != "" {
			fmt.Fprintf(w, "  %s (%s: %s)\n", s.Path, s.Reason, s.Detail)
		} else {
			fmt.Fprintf(w, "  %s (%s)\n", s.Path, s.Reason)
		}
	}
}

func printDryRun(w io.Writer, items []models.IngestionItem, batchSize int) error {
	batches, err := ingest.NewBatches(items, batchSize)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nDry run - would upload %d batches:\n", batches.Len())
	for batch := range batches.All() {
		fmt.Fprintf(w, "  batch %d (%d files, %s)\n", batch.Index+1, len(batch.Items), humanize.Bytes(uint64(batch.Bytes())))
		for _, item := range batch.Items {
			fmt.Fprintf(w, "    %s\n", item.RelativePath)
		}
	}
	return nil
}

func printReport(w io.Writer, r ingest.Report) {
	fmt.Fprintln(w, r.Summary())
	if len(r.SlowJobs) > 0 {
		fmt.Fprintf(w, "  slow jobs: %v\n", r.SlowJobs)
	}
	if r.CongestionSignals > 0 || r.TransportFailures > 0 || r.PollFailures > 0 {
		fmt.Fprintf(w, "  congestion signals: %d, transport failures: %d, poll failures: %d\n",
			r.CongestionSignals, r.TransportFailures, r.PollFailures)
	}
	if verbose && r.Errors != nil {
		fmt.Fprintln(w, r.Errors)
	}
}

func printStats(w io.Writer, s metrics.Snapshot) {
	fmt.Fprintf(w, "\nRequest statistics (%s):\n", s.Elapsed.Round(time.Second))
	for _, row := range []struct {
		name string
		op   *metrics.OperationStats
	}{
		{"upload", s.SubmitBatch},
		{"status", s.PollStatus},
	} {
		if row.op == nil {
			continue
		}
		fmt.Fprintf(w, "  %-7s %4d calls, %d failed, mean %s, p50 %s, p95 %s, max %s\n",
			row.name, row.op.Calls, row.op.Failures,
			row.op.Mean.Round(time.Millisecond), row.op.P50.Round(time.Millisecond),
			row.op.P95.Round(time.Millisecond), row.op.Max.Round(time.Millisecond))
	}
}
