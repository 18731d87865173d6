package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/ingestor/internal/models"
)

// DefaultSlowAfter is how long a job may stay pending before it is flagged as slow.
const DefaultSlowAfter = 10 * time.Minute

// DefaultRecordTimeout bounds one write to the Recorder.
const DefaultRecordTimeout = 5 * time.Second

// Metrics receives timing and outcome data from a run.
type Metrics interface {
	ObserveSubmit(batch models.Batch, result SubmitResult)
	ObservePoll(jobs int, elapsed time.Duration, err error)
	ObserveTerminal(state models.JobState, n int)
}

// Recorder persists run outcomes to an external system of record.
// Failures are logged and never abort a run.
type Recorder interface {
	RecordAnomaly(ctx context.Context, runID string, a Anomaly) error
	RecordRun(ctx context.Context, report Report) error
}

// Orchestrator drives ingestion runs. At most one run is active at a time.
type Orchestrator struct {
	poster  BatchPoster
	fetcher StatusFetcher

	batchSize     int
	pollInterval  time.Duration
	submitTimeout time.Duration
	pollTimeout   time.Duration
	cooldown      time.Duration
	submitRate    float64
	pauseInterval time.Duration
	slowAfter     time.Duration
	classify      Classifier
	hints         <-chan struct{}
	logger        *slog.Logger
	metrics       Metrics
	recorder      Recorder
	recordTimeout time.Duration

	mu     sync.Mutex
	active *Run
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBatchSize sets the maximum items per upload request.
func WithBatchSize(n int) Option {
	return func(o *Orchestrator) { o.batchSize = n }
}

// WithPollInterval sets the status polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollInterval = d }
}

// WithSubmitTimeout bounds each upload request.
func WithSubmitTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.submitTimeout = d }
}

// WithPollTimeout bounds each status query.
func WithPollTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollTimeout = d }
}

// WithCooldown sets the pause after a congestion signal.
func WithCooldown(d time.Duration) Option {
	return func(o *Orchestrator) { o.cooldown = d }
}

// WithSubmitRate caps batch dispatch at n batches per second. Zero means unlimited.
func WithSubmitRate(n float64) Option {
	return func(o *Orchestrator) { o.submitRate = n }
}

// WithPauseCheckInterval sets how often a paused run re-checks the flag.
func WithPauseCheckInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.pauseInterval = d }
}

// WithSlowAfter sets the "taking longer than expected" threshold. Zero disables it.
func WithSlowAfter(d time.Duration) Option {
	return func(o *Orchestrator) { o.slowAfter = d }
}

// WithClassifier replaces the backend label mapping.
func WithClassifier(c Classifier) Option {
	return func(o *Orchestrator) { o.classify = c }
}

// WithHints makes every value received on ch trigger an immediate poll.
// A closed channel stops hints; polling continues on its interval.
func WithHints(ch <-chan struct{}) Option {
	return func(o *Orchestrator) { o.hints = ch }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithRecorder attaches an audit recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithRecordTimeout bounds each recorder write. Defaults to 5s.
func WithRecordTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.recordTimeout = d }
}

// New creates an orchestrator over the given transport.
func New(poster BatchPoster, fetcher StatusFetcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		poster:        poster,
		fetcher:       fetcher,
		batchSize:     DefaultBatchSize,
		pollInterval:  DefaultPollInterval,
		submitTimeout: DefaultSubmitTimeout,
		pollTimeout:   DefaultPollTimeout,
		cooldown:      DefaultCooldown,
		pauseInterval: DefaultPauseCheckInterval,
		slowAfter:     DefaultSlowAfter,
		classify:      DefaultClassifier,
		recordTimeout: DefaultRecordTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.classify == nil {
		o.classify = DefaultClassifier
	}
	if o.recordTimeout <= 0 {
		o.recordTimeout = DefaultRecordTimeout
	}
	return o
}

// Request describes one run.
type Request struct {
	Items    []models.IngestionItem
	Options  SubmitOptions
	Observer Observer
	Pause    *PauseController // Optional; a fresh controller is created when nil
}

// Start validates the request and begins a run in the background.
// Only configuration problems are returned; everything after the first request is
// reported through events and the final Report.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Run, error) {
	if err := o.validate(req); err != nil {
		return nil, err
	}
	batches, err := NewBatches(req.Items, o.batchSize)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		return nil, fmt.Errorf("%w: run %s", ErrRunInProgress, o.active.id)
	}

	run := newRun(o, uuid.New().String()[:8], batches, req)
	o.active = run
	run.start(ctx)
	return run, nil
}

// Run starts a run and waits for it to finish.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Report, error) {
	run, err := o.Start(ctx, req)
	if err != nil {
		return Report{}, err
	}
	<-run.Done()
	return run.Report(), nil
}

// Active returns the running run, or nil.
func (o *Orchestrator) Active() *Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

func (o *Orchestrator) finished(r *Run) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == r {
		o.active = nil
	}
}

func (o *Orchestrator) validate(req Request) error {
	if o.poster == nil || o.fetcher == nil {
		return fmt.Errorf("%w: transport is required", ErrInvalidConfiguration)
	}
	if o.pollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive, got %s", ErrInvalidConfiguration, o.pollInterval)
	}
	if o.cooldown < 0 {
		return fmt.Errorf("%w: cooldown must not be negative, got %s", ErrInvalidConfiguration, o.cooldown)
	}
	if o.submitRate < 0 {
		return fmt.Errorf("%w: submit rate must not be negative, got %g", ErrInvalidConfiguration, o.submitRate)
	}
	switch req.Options.SourceTag {
	case "", models.SourceUser, models.SourceOpposingCounsel, models.SourceCourt:
	default:
		return fmt.Errorf("%w: unknown source tag %q", ErrInvalidConfiguration, req.Options.SourceTag)
	}

	seen := make(map[string]struct{}, len(req.Items))
	for i, item := range req.Items {
		if item.RelativePath == "" {
			return fmt.Errorf("%w: item %d has no relative path", ErrInvalidConfiguration, i)
		}
		if _, dup := seen[item.RelativePath]; dup {
			return fmt.Errorf("%w: duplicate relative path %q", ErrInvalidConfiguration, item.RelativePath)
		}
		seen[item.RelativePath] = struct{}{}
	}
	return nil
}
