package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/ingestor/internal/models"
)

// Run is one ingestion run: a sequential submission loop and a status poller
// sharing a registry. Methods are safe for concurrent use.
type Run struct {
	id        string
	orch      *Orchestrator
	batches   *Batches
	opts      SubmitOptions
	registry  *Registry
	pause     *PauseController
	throttle  *throttle
	submitter *Submitter
	poller    *Poller
	events    *emitter
	audit     *auditQueue
	logger    *slog.Logger

	submitted chan struct{} // Closed when the submission loop exits
	done      chan struct{}
	cancel    context.CancelFunc

	mu        sync.Mutex
	report    Report
	errs      []error
	attempted int // Items in batches whose request was attempted

	pollFailing bool // Owned by the poll loop
}

func newRun(o *Orchestrator, id string, batches *Batches, req Request) *Run {
	pause := req.Pause
	if pause == nil {
		pause = NewPauseController(o.pauseInterval)
	}
	opts := req.Options
	if opts.SourceTag == "" {
		opts.SourceTag = models.SourceUser
	}
	logger := o.logger.With("run_id", id)

	return &Run{
		id:        id,
		orch:      o,
		batches:   batches,
		opts:      opts,
		registry:  NewRegistry(),
		pause:     pause,
		throttle:  newThrottle(o.cooldown, o.submitRate),
		submitter: NewSubmitter(o.poster, o.submitTimeout, logger),
		poller:    NewPoller(o.fetcher, o.classify, o.pollTimeout),
		events:    &emitter{runID: id, obs: req.Observer},
		logger:    logger,
		submitted: make(chan struct{}),
		done:      make(chan struct{}),
		report: Report{
			RunID:     id,
			StartedAt: time.Now(),
			Items:     batches.Items(),
			Batches:   batches.Len(),
		},
	}
}

// ID returns the short run id.
func (r *Run) ID() string { return r.id }

// Done is closed once the run has finished and its report is final.
func (r *Run) Done() <-chan struct{} { return r.done }

// Snapshot returns the latest registry snapshot without blocking.
func (r *Run) Snapshot() *Snapshot { return r.registry.Snapshot() }

// Progress aggregates the latest snapshot.
func (r *Run) Progress() Progress { return Aggregate(r.registry.Snapshot()) }

// Paused reports whether batch submission is paused.
func (r *Run) Paused() bool { return r.pause.IsPaused() }

// Pause withholds further batches. In-flight requests and polling continue.
func (r *Run) Pause() { r.setPaused(true) }

// Resume lets batch submission continue.
func (r *Run) Resume() { r.setPaused(false) }

// TogglePause flips the pause flag and returns the new value.
func (r *Run) TogglePause() bool {
	paused := r.pause.Toggle()
	r.pauseChanged(paused)
	return paused
}

func (r *Run) setPaused(paused bool) {
	if paused {
		r.pause.Pause()
	} else {
		r.pause.Resume()
	}
	r.pauseChanged(paused)
}

func (r *Run) pauseChanged(paused bool) {
	r.logger.Info("pause toggled", "paused", paused)
	r.events.emit(Event{Kind: EventPauseChanged, Paused: paused})
}

// Cancel stops watching: no further batches are sent and polling stops.
// Work already accepted by the backend keeps running there.
func (r *Run) Cancel() {
	r.cancel()
}

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) (Report, error) {
	select {
	case <-r.done:
		return r.Report(), nil
	case <-ctx.Done():
		return r.Report(), ctx.Err()
	}
}

// Report returns the run report. Before the run finishes it reflects progress so far.
func (r *Run) Report() Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := r.report
	snap := r.registry.Snapshot()
	p := Aggregate(snap)
	rep.Accepted = p.Accepted
	rep.Done = p.PerState[models.JobStateDone]
	rep.Unknown = p.PerState[models.JobStateUnknown]
	rep.Pending = p.Pending
	if !rep.FinishedAt.IsZero() {
		rep.NotSent = rep.Items - r.attempted
	}
	rep.SlowJobs = nil
	for _, job := range snap.Jobs {
		if job.Slow {
			rep.SlowJobs = append(rep.SlowJobs, job.ID)
		}
	}
	if rep.FinishedAt.IsZero() {
		rep.FinishedAt = time.Now()
	}
	if len(r.errs) > 0 {
		rep.Errors = multierror.Append(nil, r.errs...)
	}
	return rep
}

func (r *Run) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.logger.Info("ingestion run started",
		"items", r.batches.Items(),
		"batches", r.batches.Len(),
		"source", r.opts.SourceTag,
		"redaction", r.opts.RedactionRequested)
	go r.run(ctx)
}

func (r *Run) run(ctx context.Context) {
	defer close(r.done)
	defer r.orch.finished(r)
	defer r.cancel()

	r.audit = newAuditQueue(r.orch.recorder, r.id, r.orch.recordTimeout, r.logger)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.submitAll(gctx) })
	g.Go(func() error { return r.pollLoop(gctx) })
	err := g.Wait()

	r.mu.Lock()
	r.report.FinishedAt = time.Now()
	r.report.Cancelled = err != nil
	r.mu.Unlock()

	report := r.Report()
	snap := r.registry.Snapshot()
	progress := Aggregate(snap)
	if report.Cancelled {
		r.logger.Info("stopped watching run",
			"pending", report.Pending,
			"accepted", report.Accepted,
			"unsubmitted", report.Unsubmitted)
	} else {
		r.logger.Info("ingestion run complete",
			"accepted", report.Accepted,
			"done", report.Done,
			"unknown", report.Unknown,
			"unsubmitted", report.Unsubmitted,
			"duration", report.Elapsed().Round(time.Millisecond))
	}
	r.events.emit(Event{Kind: EventRunComplete, Report: &report, Snapshot: snap, Progress: &progress})
	r.audit.finish(report)
}

// submitAll posts batches strictly one after another in input order.
func (r *Run) submitAll(ctx context.Context) error {
	defer close(r.submitted)

	total := r.batches.Len()
	for batch := range r.batches.All() {
		if err := r.waitForDispatch(ctx); err != nil {
			return err
		}

		info := BatchInfo{
			Index: batch.Index,
			Total: total,
			Name:  batch.Name(),
			Items: len(batch.Items),
			Bytes: batch.Bytes(),
		}
		r.events.emit(Event{Kind: EventBatchStarted, Batch: &info})
		r.logger.Info("submitting batch",
			"batch", batch.Index+1,
			"of", total,
			"items", info.Items,
			"name", info.Name)

		result := r.submitter.Submit(ctx, batch, r.opts)
		if result.Err != nil && ctx.Err() != nil {
			// Stopped watching mid-request: the batch counts as not sent.
			r.logger.Info("batch abandoned, stopped watching", "batch", batch.Index+1, "items", info.Items)
			return ctx.Err()
		}
		r.handleResult(batch, info, result)

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	r.logger.Info("all batches submitted", "batches", total)
	return nil
}

// waitForDispatch blocks while paused or cooling down.
func (r *Run) waitForDispatch(ctx context.Context) error {
	for {
		if err := r.pause.WaitWhilePaused(ctx); err != nil {
			return err
		}
		if err := r.throttle.Wait(ctx); err != nil {
			return err
		}
		if !r.pause.IsPaused() {
			return nil
		}
	}
}

func (r *Run) handleResult(batch models.Batch, info BatchInfo, res SubmitResult) {
	added, dups := r.registry.Register(batch.Index, res.Jobs)
	if m := r.orch.metrics; m != nil {
		m.ObserveSubmit(batch, res)
	}

	r.mu.Lock()
	r.report.BatchesSubmitted++
	r.attempted += len(batch.Items)
	r.report.Unsubmitted += res.Unsubmitted
	r.report.Duplicates += len(dups)
	partial := res.Err == nil && res.Unsubmitted > 0 && (!res.Congested || len(res.Jobs) > 0)
	if res.Err != nil {
		r.report.TransportFailures++
		r.errs = append(r.errs, fmt.Errorf("batch %d (%s): %w", batch.Index+1, batch.Name(), res.Err))
	}
	if res.Congested {
		r.report.CongestionSignals++
	}
	if partial {
		r.report.PartialBatches++
	}
	r.mu.Unlock()

	info.Accepted = len(added)
	info.Unsubmitted = res.Unsubmitted
	info.Congested = res.Congested
	r.events.emit(Event{Kind: EventBatchFinished, Batch: &info})
	if len(added) > 0 {
		r.events.registryUpdated(r.registry.Snapshot())
	}

	if res.Err != nil {
		r.anomaly(Anomaly{
			Kind:   AnomalyTransportFailure,
			Batch:  batch.Index,
			Items:  res.Unsubmitted,
			Detail: res.Err.Error(),
		})
	}
	if res.Congested {
		wait := r.throttle.Congested(res.RetryAfter)
		r.logger.Info("cooling down after congestion", "batch", batch.Index+1, "wait", wait)
		r.anomaly(Anomaly{
			Kind:   AnomalyCongestion,
			Batch:  batch.Index,
			Items:  res.Unsubmitted,
			Detail: fmt.Sprintf("backend busy, next batch in %s", wait),
		})
	}
	if partial {
		r.anomaly(Anomaly{
			Kind:   AnomalyPartialAcceptance,
			Batch:  batch.Index,
			Items:  res.Unsubmitted,
			Detail: fmt.Sprintf("%d of %d items accepted", len(res.Jobs), len(batch.Items)),
		})
	}

	for _, id := range dups {
		r.logger.Warn("duplicate job id rejected", "job_id", id, "batch", batch.Index+1)
		r.anomaly(Anomaly{
			Kind:   AnomalyDuplicateJob,
			Batch:  batch.Index,
			JobID:  id,
			Items:  1,
			Detail: "job id already registered by an earlier batch",
		})
	}
}

// pollLoop polls until submission has finished and no job is pending.
func (r *Run) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.orch.pollInterval)
	defer ticker.Stop()

	submitted, hints := r.submitted, r.orch.hints
	for {
		if submitted == nil && len(r.registry.PendingIDs()) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-submitted:
			submitted = nil
			continue
		case <-ticker.C:
		case _, ok := <-hints:
			if !ok {
				hints = nil
				continue
			}
			r.logger.Debug("status hint received, polling early")
		}
		r.pollTick(ctx)
	}
}

func (r *Run) pollTick(ctx context.Context) {
	ids := r.registry.PendingIDs()
	if len(ids) == 0 {
		return
	}

	start := time.Now()
	statuses, err := r.poller.PollOnce(ctx, ids)
	if m := r.orch.metrics; m != nil {
		m.ObservePoll(len(ids), time.Since(start), err)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.mu.Lock()
		r.report.PollFailures++
		r.mu.Unlock()

		if r.pollFailing {
			r.logger.Debug("status poll failed", "jobs", len(ids), "error", err)
			return
		}
		r.pollFailing = true
		r.logger.Warn("status poll failed, retrying next interval", "jobs", len(ids), "error", err)
		r.anomaly(Anomaly{
			Kind:   AnomalyTransportFailure,
			Batch:  -1,
			Items:  len(ids),
			Detail: "status poll failed: " + err.Error(),
		})
		return
	}
	if r.pollFailing {
		r.pollFailing = false
		r.logger.Info("status polling recovered")
	}

	changes := r.registry.Apply(statuses)
	slow := r.registry.MarkSlow(r.orch.slowAfter)
	snap := r.registry.Snapshot()
	if !changes.Empty() || len(slow) > 0 {
		r.events.registryUpdated(snap)
	}

	if m := r.orch.metrics; m != nil {
		if n := len(changes.Done); n > 0 {
			m.ObserveTerminal(models.JobStateDone, n)
		}
		if n := len(changes.Unknown); n > 0 {
			m.ObserveTerminal(models.JobStateUnknown, n)
		}
	}

	for _, id := range changes.Done {
		r.logger.Debug("job done", "job_id", id)
	}
	for _, id := range changes.Unknown {
		job, _ := snap.Job(id)
		r.logger.Warn("job unknown to backend", "job_id", id, "name", job.DisplayName, "label", job.Stage)
		r.anomaly(Anomaly{
			Kind:   AnomalyUnknownJob,
			Batch:  job.Batch,
			JobID:  id,
			Items:  1,
			Detail: fmt.Sprintf("%s: backend no longer tracks this job", job.DisplayName),
		})
	}
	for _, id := range slow {
		job, _ := snap.Job(id)
		r.logger.Warn("job taking longer than expected", "job_id", id, "name", job.DisplayName, "stage", job.Stage)
		r.anomaly(Anomaly{
			Kind:   AnomalySlowJob,
			Batch:  job.Batch,
			JobID:  id,
			Items:  1,
			Detail: fmt.Sprintf("%s: still %s after %s", job.DisplayName, job.State, r.orch.slowAfter),
		})
	}
}

func (r *Run) anomaly(a Anomaly) {
	a.At = time.Now()
	r.events.emit(Event{Kind: EventAnomaly, Anomaly: &a})
	r.audit.add(a)
}
