package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/ingestor/internal/models"
)

// DefaultSubmitTimeout bounds a single batch upload.
const DefaultSubmitTimeout = 2 * time.Minute

// SubmitOptions carries the tags applied to every item of a run.
type SubmitOptions struct {
	SourceTag          models.SourceTag
	RedactionRequested bool
}

// BatchReceipt is the decoded response of one upload call.
type BatchReceipt struct {
	Jobs       []AcceptedJob
	Busy       bool          // Explicit congestion signal from the backend
	RetryAfter time.Duration // Backend's retry hint, zero if absent
}

// BatchPoster performs the upload request for one batch.
// Implementations return an error wrapping ErrTransportFailure when no usable response was received.
type BatchPoster interface {
	PostBatch(ctx context.Context, batch models.Batch, opts SubmitOptions) (*BatchReceipt, error)
}

// SubmitResult is the outcome of submitting one batch. It never carries a fatal error:
// Err describes why items went unsubmitted, and the run continues either way.
type SubmitResult struct {
	Jobs        []AcceptedJob
	Unsubmitted int // Items without a job id
	Congested   bool
	RetryAfter  time.Duration
	Elapsed     time.Duration
	Err         error
}

// AcceptedJobIDs returns the ids of the accepted jobs.
func (r SubmitResult) AcceptedJobIDs() []string {
	ids := make([]string, len(r.Jobs))
	for i, j := range r.Jobs {
		ids[i] = j.ID
	}
	return ids
}

// Submitter turns one batch into exactly one upload request.
type Submitter struct {
	poster  BatchPoster
	timeout time.Duration
	logger  *slog.Logger
}

// NewSubmitter creates a submitter. A non-positive timeout falls back to DefaultSubmitTimeout.
func NewSubmitter(poster BatchPoster, timeout time.Duration, logger *slog.Logger) *Submitter {
	if timeout <= 0 {
		timeout = DefaultSubmitTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{poster: poster, timeout: timeout, logger: logger}
}

// Submit posts the batch and normalizes the response.
//
// A failed or timed-out request yields zero accepted jobs and counts every item as unsubmitted.
// Cancelling ctx aborts the request in flight.
// Empty and repeated ids within one response are dropped. When the backend returns one id per
// item without names, names are taken from the items positionally.
func (s *Submitter) Submit(ctx context.Context, batch models.Batch, opts SubmitOptions) SubmitResult {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	receipt, err := s.poster.PostBatch(reqCtx, batch, opts)
	elapsed := time.Since(start)

	if err == nil && receipt == nil {
		err = errors.New("empty response")
	}
	if err != nil {
		if !errors.Is(err, ErrTransportFailure) {
			err = fmt.Errorf("%w: %w", ErrTransportFailure, err)
		}
		level := slog.LevelWarn
		if ctx.Err() != nil {
			level = slog.LevelDebug
		}
		s.logger.Log(ctx, level, "batch upload failed",
			"batch", batch.Index,
			"items", len(batch.Items),
			"duration_ms", elapsed.Milliseconds(),
			"error", err)
		return SubmitResult{Unsubmitted: len(batch.Items), Elapsed: elapsed, Err: err}
	}

	jobs := normalizeJobs(receipt.Jobs, batch)
	result := SubmitResult{
		Jobs:        jobs,
		Unsubmitted: max(len(batch.Items)-len(jobs), 0),
		Congested:   receipt.Busy,
		RetryAfter:  receipt.RetryAfter,
		Elapsed:     elapsed,
	}

	switch {
	case result.Congested:
		s.logger.Info("backend reported congestion",
			"batch", batch.Index,
			"accepted", len(jobs),
			"retry_after", receipt.RetryAfter)
	case result.Unsubmitted > 0:
		s.logger.Warn("batch partially accepted",
			"batch", batch.Index,
			"items", len(batch.Items),
			"accepted", len(jobs))
	default:
		s.logger.Debug("batch accepted",
			"batch", batch.Index,
			"accepted", len(jobs),
			"duration_ms", elapsed.Milliseconds())
	}
	return result
}

func normalizeJobs(raw []AcceptedJob, batch models.Batch) []AcceptedJob {
	seen := make(map[string]struct{}, len(raw))
	jobs := make([]AcceptedJob, 0, len(raw))
	for _, j := range raw {
		if j.ID == "" {
			continue
		}
		if _, dup := seen[j.ID]; dup {
			continue
		}
		seen[j.ID] = struct{}{}
		jobs = append(jobs, j)
	}

	if len(jobs) == len(batch.Items) {
		for i := range jobs {
			if jobs[i].Name == "" {
				jobs[i].Name = batch.Items[i].RelativePath
			}
		}
	}
	return jobs
}
