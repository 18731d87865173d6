package metrics

import (
	"time"

	"github.com/raphaelgruber/ingestor/internal/ingest"
	"github.com/raphaelgruber/ingestor/internal/models"
)

// Recorder feeds run outcomes into the in-memory collector and, when set, Prometheus.
// It implements ingest.Metrics.
type Recorder struct {
	Collector  *Collector
	Prometheus *Prometheus
}

// ObserveSubmit records one batch upload.
func (r *Recorder) ObserveSubmit(batch models.Batch, result ingest.SubmitResult) {
	if r.Collector != nil {
		r.Collector.Record(OpSubmitBatch, result.Elapsed, len(batch.Items), result.Err != nil)
	}
	if r.Prometheus != nil {
		r.Prometheus.RecordBatch(batchOutcome(result), len(result.Jobs), result.Unsubmitted, result.Elapsed)
	}
}

// ObservePoll records one status query.
func (r *Recorder) ObservePoll(jobs int, elapsed time.Duration, err error) {
	if r.Collector != nil {
		r.Collector.Record(OpPollStatus, elapsed, jobs, err != nil)
	}
	if r.Prometheus != nil {
		outcome := OutcomeOK
		if err != nil {
			outcome = OutcomeFailed
		}
		r.Prometheus.RecordPoll(outcome, elapsed)
	}
}

// ObserveTerminal records jobs reaching a terminal state.
func (r *Recorder) ObserveTerminal(state models.JobState, n int) {
	if r.Prometheus != nil {
		r.Prometheus.RecordTerminal(string(state), n)
	}
}

func batchOutcome(result ingest.SubmitResult) string {
	switch {
	case result.Err != nil:
		return OutcomeFailed
	case result.Congested:
		return OutcomeCongested
	case result.Unsubmitted > 0:
		return OutcomePartial
	default:
		return OutcomeAccepted
	}
}
