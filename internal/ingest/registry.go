package ingest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/raphaelgruber/ingestor/internal/models"
)

// AcceptedJob is a job id returned by the upload endpoint.
type AcceptedJob struct {
	ID   string
	Name string // Best-effort display name
}

// JobStatus is one classified status report for a job.
type JobStatus struct {
	State models.JobState
	Stage string // Raw backend label
}

// Changes summarizes what an Apply call did.
type Changes struct {
	Updated []string // Jobs whose state or stage changed
	Done    []string // Jobs that became done
	Unknown []string // Jobs that became unknown
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Updated) == 0
}

// Snapshot is an immutable view of the registry.
// Readers never block writers; a new snapshot is published after every mutation.
type Snapshot struct {
	Version uint64
	TakenAt time.Time
	Jobs    []models.Job // Registration order

	index map[string]int
}

// Job looks up a job by id.
func (s *Snapshot) Job(id string) (models.Job, bool) {
	i, ok := s.index[id]
	if !ok {
		return models.Job{}, false
	}
	return s.Jobs[i], true
}

// PendingIDs returns the ids of all non-terminal jobs in registration order.
func (s *Snapshot) PendingIDs() []string {
	ids := make([]string, 0, len(s.Jobs))
	for _, job := range s.Jobs {
		if !job.State.IsTerminal() {
			ids = append(ids, job.ID)
		}
	}
	return ids
}

// Registry maps job ids to their last-known state for one run.
//
// The submission loop is the only caller of Register and the poller the only caller of
// Apply and MarkSlow. Entries are never removed.
type Registry struct {
	mu      sync.Mutex
	jobs    map[string]*models.Job
	order   []string
	version uint64
	snap    atomic.Pointer[Snapshot]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{jobs: make(map[string]*models.Job)}
	r.publishLocked(time.Now())
	return r
}

// Register inserts newly accepted jobs in the queued state.
// Ids already present are not touched and are returned as duplicates.
func (r *Registry) Register(batch int, accepted []AcceptedJob) (added, duplicates []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, a := range accepted {
		if _, exists := r.jobs[a.ID]; exists {
			duplicates = append(duplicates, a.ID)
			continue
		}
		name := a.Name
		if name == "" {
			name = a.ID
		}
		r.jobs[a.ID] = &models.Job{
			ID:          a.ID,
			State:       models.JobStateQueued,
			DisplayName: name,
			Batch:       batch,
			SubmittedAt: now,
			UpdatedAt:   now,
		}
		r.order = append(r.order, a.ID)
		added = append(added, a.ID)
	}

	if len(added) > 0 {
		r.publishLocked(now)
	}
	return added, duplicates
}

// Apply merges classified status reports. Terminal states are absorbing and
// non-terminal jobs never move backwards. Unregistered ids are ignored.
func (r *Registry) Apply(updates map[string]JobStatus) Changes {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changes Changes
	now := time.Now()
	for _, id := range r.order {
		status, ok := updates[id]
		if !ok {
			continue
		}
		job := r.jobs[id]
		if !job.State.Advances(status.State) {
			continue
		}
		if job.State == status.State && job.Stage == status.Stage {
			continue
		}

		job.State = status.State
		job.Stage = status.Stage
		job.UpdatedAt = now
		changes.Updated = append(changes.Updated, id)

		switch status.State {
		case models.JobStateDone:
			changes.Done = append(changes.Done, id)
		case models.JobStateUnknown:
			changes.Unknown = append(changes.Unknown, id)
		}
	}

	if !changes.Empty() {
		r.publishLocked(now)
	}
	return changes
}

// MarkSlow flags pending jobs submitted more than threshold ago.
// Returns the ids flagged by this call. The flag never affects convergence.
func (r *Registry) MarkSlow(threshold time.Duration) []string {
	if threshold <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var flagged []string
	now := time.Now()
	for _, id := range r.order {
		job := r.jobs[id]
		if job.Slow || job.State.IsTerminal() || now.Sub(job.SubmittedAt) < threshold {
			continue
		}
		job.Slow = true
		flagged = append(flagged, id)
	}

	if len(flagged) > 0 {
		r.publishLocked(now)
	}
	return flagged
}

// Snapshot returns the latest published snapshot. Never blocks.
func (r *Registry) Snapshot() *Snapshot {
	return r.snap.Load()
}

// PendingIDs returns the ids still awaiting a terminal state.
func (r *Registry) PendingIDs() []string {
	return r.Snapshot().PendingIDs()
}

// publishLocked copies the live state into a new snapshot. Caller must hold mu.
func (r *Registry) publishLocked(now time.Time) {
	r.version++
	snap := &Snapshot{
		Version: r.version,
		TakenAt: now,
		Jobs:    make([]models.Job, len(r.order)),
		index:   make(map[string]int, len(r.order)),
	}
	for i, id := range r.order {
		snap.Jobs[i] = *r.jobs[id]
		snap.index[id] = i
	}
	r.snap.Store(snap)
}
