package models

import "time"

// JobState is the orchestrator's abstract view of a backend job.
type JobState string

const (
	JobStateQueued     JobState = "queued"
	JobStateProcessing JobState = "processing"
	JobStateDone       JobState = "done"
	JobStateUnknown    JobState = "unknown"
)

// JobStates lists every state in pipeline order.
var JobStates = []JobState{JobStateQueued, JobStateProcessing, JobStateDone, JobStateUnknown}

// IsTerminal reports whether no further polling is needed.
func (s JobState) IsTerminal() bool {
	return s == JobStateDone || s == JobStateUnknown
}

// rank orders non-terminal states so a late "queued" report never moves a job backwards.
func (s JobState) rank() int {
	switch s {
	case JobStateQueued:
		return 0
	case JobStateProcessing:
		return 1
	default:
		return 2
	}
}

// Advances reports whether moving from s to next is a forward transition.
// Terminal states are absorbing.
func (s JobState) Advances(next JobState) bool {
	if s.IsTerminal() {
		return false
	}
	return next.rank() >= s.rank()
}

// Job is a backend-tracked unit of work for one accepted item.
type Job struct {
	ID          string
	State       JobState
	Stage       string // Last raw label reported by the backend
	DisplayName string // Best effort, not authoritative
	Batch       int
	SubmittedAt time.Time
	UpdatedAt   time.Time
	Slow        bool // Pending longer than the configured threshold
}
