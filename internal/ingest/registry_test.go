package ingest_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/ingestor/internal/ingest"
	"github.com/raphaelgruber/ingestor/internal/models"
)

func accepted(ids ...string) []ingest.AcceptedJob {
	jobs := make([]ingest.AcceptedJob, len(ids))
	for i, id := range ids {
		jobs[i] = ingest.AcceptedJob{ID: id, Name: id + ".pdf"}
	}
	return jobs
}

func TestRegistryRegister(t *testing.T) {
	r := ingest.NewRegistry()
	assert.Empty(t, r.Snapshot().Jobs)

	added, dups := r.Register(0, accepted("a", "b"))
	assert.Equal(t, []string{"a", "b"}, added)
	assert.Empty(t, dups)

	added, dups = r.Register(1, accepted("b", "c"))
	assert.Equal(t, []string{"c"}, added)
	assert.Equal(t, []string{"b"}, dups)

	snap := r.Snapshot()
	require.Len(t, snap.Jobs, 3)
	b, ok := snap.Job("b")
	require.True(t, ok)
	assert.Equal(t, 0, b.Batch, "duplicate must not overwrite the first registration")
	assert.Equal(t, models.JobStateQueued, b.State)
	assert.Equal(t, []string{"a", "b", "c"}, r.PendingIDs())
}

func TestRegistryNameDefaultsToID(t *testing.T) {
	r := ingest.NewRegistry()
	r.Register(0, []ingest.AcceptedJob{{ID: "x1"}})

	job, ok := r.Snapshot().Job("x1")
	require.True(t, ok)
	assert.Equal(t, "x1", job.DisplayName)
}

func TestRegistryTerminalStatesAbsorb(t *testing.T) {
	r := ingest.NewRegistry()
	r.Register(0, accepted("done", "gone"))

	changes := r.Apply(map[string]ingest.JobStatus{
		"done": {State: models.JobStateDone, Stage: "done"},
		"gone": {State: models.JobStateUnknown, Stage: "not_found"},
	})
	assert.Equal(t, []string{"done"}, changes.Done)
	assert.Equal(t, []string{"gone"}, changes.Unknown)

	for _, st := range models.JobStates {
		changes = r.Apply(map[string]ingest.JobStatus{
			"done": {State: st, Stage: "late"},
			"gone": {State: st, Stage: "late"},
		})
		assert.True(t, changes.Empty(), "terminal job moved to %s", st)
	}

	snap := r.Snapshot()
	done, _ := snap.Job("done")
	gone, _ := snap.Job("gone")
	assert.Equal(t, models.JobStateDone, done.State)
	assert.Equal(t, models.JobStateUnknown, gone.State)
	assert.Empty(t, r.PendingIDs())
}

func TestRegistryNoRegression(t *testing.T) {
	r := ingest.NewRegistry()
	r.Register(0, accepted("j"))

	r.Apply(map[string]ingest.JobStatus{"j": {State: models.JobStateProcessing, Stage: "vectorizing"}})
	changes := r.Apply(map[string]ingest.JobStatus{"j": {State: models.JobStateQueued, Stage: "queued"}})
	assert.True(t, changes.Empty())

	changes = r.Apply(map[string]ingest.JobStatus{"j": {State: models.JobStateProcessing, Stage: "graph_extraction"}})
	assert.Equal(t, []string{"j"}, changes.Updated)

	job, _ := r.Snapshot().Job("j")
	assert.Equal(t, "graph_extraction", job.Stage)
}

func TestRegistryIgnoresUnregistered(t *testing.T) {
	r := ingest.NewRegistry()
	changes := r.Apply(map[string]ingest.JobStatus{"ghost": {State: models.JobStateDone}})
	assert.True(t, changes.Empty())
	assert.Empty(t, r.Snapshot().Jobs)
}

func TestRegistrySnapshotsAreImmutable(t *testing.T) {
	r := ingest.NewRegistry()
	r.Register(0, accepted("a"))
	before := r.Snapshot()

	r.Apply(map[string]ingest.JobStatus{"a": {State: models.JobStateDone, Stage: "done"}})
	after := r.Snapshot()

	assert.Greater(t, after.Version, before.Version)
	job, _ := before.Job("a")
	assert.Equal(t, models.JobStateQueued, job.State)
	job, _ = after.Job("a")
	assert.Equal(t, models.JobStateDone, job.State)
}

func TestRegistryMarkSlow(t *testing.T) {
	r := ingest.NewRegistry()
	r.Register(0, accepted("a", "b"))
	r.Apply(map[string]ingest.JobStatus{"b": {State: models.JobStateDone}})

	assert.Nil(t, r.MarkSlow(0))
	assert.Empty(t, r.MarkSlow(time.Hour))

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, []string{"a"}, r.MarkSlow(time.Millisecond))
	assert.Empty(t, r.MarkSlow(time.Millisecond), "jobs are flagged once")

	job, _ := r.Snapshot().Job("a")
	assert.True(t, job.Slow)
	assert.False(t, job.State.IsTerminal())
}

func TestRegistryConcurrentReaders(t *testing.T) {
	r := ingest.NewRegistry()
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = string(rune('A'+i%26)) + string(rune('a'+i/26))
	}
	r.Register(0, accepted(ids...))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := 0
			for {
				select {
				case <-stop:
					return
				default:
				}
				p := ingest.Aggregate(r.Snapshot())
				assert.GreaterOrEqual(t, p.Terminal, last)
				last = p.Terminal
			}
		}()
	}

	for _, id := range ids {
		r.Apply(map[string]ingest.JobStatus{id: {State: models.JobStateDone}})
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, 100, ingest.Aggregate(r.Snapshot()).Terminal)
}
