package ingest

import (
	"fmt"
	"time"
)

// Report summarizes a finished run.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Items            int // Items handed to the run
	Batches          int // Batches in the run
	BatchesSubmitted int // Batches whose request was attempted

	Accepted    int // Jobs registered
	Unsubmitted int // Items sent that never received a job id
	NotSent     int // Items left unsent because watching stopped
	Done        int
	Unknown     int
	Pending     int // Jobs still non-terminal when watching stopped
	Duplicates  int // Job ids returned more than once

	CongestionSignals int
	TransportFailures int
	PartialBatches    int
	PollFailures      int

	SlowJobs  []string
	Cancelled bool
	Errors    error // Aggregated recovered failures, nil when there were none
}

// Elapsed returns the run's wall-clock duration.
func (r Report) Elapsed() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Complete reports whether every accepted job reached a terminal state.
func (r Report) Complete() bool {
	return !r.Cancelled && r.Pending == 0
}

// Summary returns a one-line human readable summary.
func (r Report) Summary() string {
	status := "complete"
	if r.Cancelled {
		status = "stopped watching"
	}
	s := fmt.Sprintf("run %s %s in %s: %d accepted, %d done, %d unknown",
		r.RunID, status, r.Elapsed().Round(time.Millisecond), r.Accepted, r.Done, r.Unknown)
	if r.Pending > 0 {
		s += fmt.Sprintf(", %d still processing", r.Pending)
	}
	if r.Unsubmitted > 0 {
		s += fmt.Sprintf(", unsubmitted items: %d", r.Unsubmitted)
	}
	if r.NotSent > 0 {
		s += fmt.Sprintf(", not sent: %d", r.NotSent)
	}
	return s
}
