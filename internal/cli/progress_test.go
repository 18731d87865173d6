package cli

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/ingestor/internal/ingest"
	"github.com/raphaelgruber/ingestor/internal/models"
)

type fakeControl struct {
	paused    bool
	toggles   int
	cancelled bool
}

func (c *fakeControl) TogglePause() bool {
	c.toggles++
	c.paused = !c.paused
	return c.paused
}

func (c *fakeControl) Cancel() { c.cancelled = true }

func update(t *testing.T, m progressModel, ev ingest.Event) progressModel {
	t.Helper()
	return send(t, m, eventMsg{event: ev})
}

func send(t *testing.T, m progressModel, msg tea.Msg) progressModel {
	t.Helper()
	next, _ := m.Update(msg)
	pm, ok := next.(progressModel)
	require.True(t, ok)
	return pm
}

func TestProgressModelBatches(t *testing.T) {
	m := newProgressModel(&fakeControl{}, 25)
	assert.Equal(t, "uploading", m.phase())

	m = update(t, m, ingest.Event{
		Kind:  ingest.EventBatchStarted,
		RunID: "ab12cd34",
		Batch: &ingest.BatchInfo{Index: 0, Total: 3, Name: "case/a.pdf", Items: 10, Bytes: 2048},
	})
	assert.Equal(t, "ab12cd34", m.runID)
	assert.Contains(t, m.renderContent(), "uploading batch 1/3: case/a.pdf +9 more (2.0 kB)")

	m = update(t, m, ingest.Event{
		Kind:  ingest.EventBatchFinished,
		Batch: &ingest.BatchInfo{Index: 0, Total: 3, Name: "case/a.pdf", Items: 10, Accepted: 10},
	})
	assert.Equal(t, 1, m.finished)
	assert.Contains(t, m.renderContent(), "uploaded batch 1/3")

	for i := 1; i < 3; i++ {
		m = update(t, m, ingest.Event{Kind: ingest.EventBatchFinished, Batch: &ingest.BatchInfo{Index: i, Total: 3}})
	}
	assert.Equal(t, "processing", m.phase())
}

func TestProgressModelRegistry(t *testing.T) {
	m := newProgressModel(&fakeControl{}, 4)

	progress := ingest.Progress{
		Percent:  50,
		Accepted: 4,
		Terminal: 2,
		Pending:  2,
		Slow:     1,
		PerState: map[models.JobState]int{
			models.JobStateQueued: 0, models.JobStateProcessing: 2, models.JobStateDone: 1, models.JobStateUnknown: 1,
		},
		PerStage: map[string]int{"ocr": 1, "vectorizing": 1, "done": 1, "unknown": 1},
	}
	m = update(t, m, ingest.Event{Kind: ingest.EventRegistryUpdated, Progress: &progress})

	content := m.renderContent()
	assert.Contains(t, content, " 50%  2/4 jobs finished")
	assert.Contains(t, content, "queued 0 · processing 2 · done 1 · unknown 1")
	assert.Contains(t, content, "stages: ocr 1, vectorizing 1")
	assert.Contains(t, content, "1 jobs taking longer than expected")
}

func TestProgressModelAnomalies(t *testing.T) {
	m := newProgressModel(&fakeControl{}, 10)
	for i := range 7 {
		m = update(t, m, ingest.Event{Kind: ingest.EventAnomaly, Anomaly: &ingest.Anomaly{
			Kind: ingest.AnomalyUnknownJob, Batch: -1, JobID: fmt.Sprintf("job-%d", i),
		}})
	}

	assert.Equal(t, 7, m.anomalyCount)
	require.Len(t, m.anomalies, maxShownAnomalies)
	assert.Equal(t, "job-2", m.anomalies[0].JobID, "oldest shown")
	assert.Equal(t, "job-6", m.anomalies[4].JobID)

	content := m.renderContent()
	assert.Contains(t, content, "7 warnings")
	assert.Contains(t, content, "unknown_job (job job-6)")
	assert.NotContains(t, content, "job-1)")
}

func TestProgressModelKeys(t *testing.T) {
	ctl := &fakeControl{}
	m := newProgressModel(ctl, 10)

	m, cmd := m.handleKey("p")
	require.NotNil(t, cmd)
	assert.Zero(t, ctl.toggles, "toggle happens in the command")
	m = send(t, m, cmd())
	assert.Equal(t, 1, ctl.toggles)
	assert.True(t, m.paused)
	assert.Equal(t, "paused", m.phase())
	assert.Contains(t, m.renderContent(), "p resume")

	m, cmd = m.handleKey("p")
	require.NotNil(t, cmd)
	m = send(t, m, cmd())
	assert.False(t, m.paused)
	assert.Equal(t, 2, ctl.toggles)

	m, cmd = m.handleKey("x")
	assert.Nil(t, cmd)
	assert.False(t, m.quitting)

	m, cmd = m.handleKey("q")
	assert.NotNil(t, cmd)
	assert.True(t, m.quitting)
	assert.True(t, ctl.cancelled)
	assert.Contains(t, m.renderContent(), "Accepted jobs keep processing on the server")
}

func TestProgressModelComplete(t *testing.T) {
	m := newProgressModel(&fakeControl{}, 10)
	m = update(t, m, ingest.Event{Kind: ingest.EventPauseChanged, Paused: true})
	assert.True(t, m.paused)

	next, cmd := m.Update(eventMsg{event: ingest.Event{
		Kind:   ingest.EventRunComplete,
		RunID:  "ab12cd34",
		Report: &ingest.Report{RunID: "ab12cd34", Accepted: 10, Done: 10},
	}})
	assert.NotNil(t, cmd, "quits on completion")
	m = next.(progressModel)
	assert.True(t, m.done)
	assert.Contains(t, m.renderContent(), "Run ab12cd34 complete")

	m.report.Unknown = 1
	assert.Contains(t, m.renderContent(), "finished with problems")

	_, cmd = m.handleKey("p")
	assert.Nil(t, cmd)
}

func TestDescribeAnomaly(t *testing.T) {
	assert.Equal(t, "backend_congestion (batch 2): backend busy",
		describeAnomaly(ingest.Anomaly{Kind: ingest.AnomalyCongestion, Batch: 1, Detail: "backend busy"}))
	assert.Equal(t, "slow_job (job j1)",
		describeAnomaly(ingest.Anomaly{Kind: ingest.AnomalySlowJob, Batch: -1, JobID: "j1"}))
	assert.Equal(t, "transport_failure: status poll failed",
		describeAnomaly(ingest.Anomaly{Kind: ingest.AnomalyTransportFailure, Batch: -1, Detail: "status poll failed"}))
}

type gatedBackend struct {
	gate chan struct{}
}

func (b *gatedBackend) PostBatch(ctx context.Context, batch models.Batch, _ ingest.SubmitOptions) (*ingest.BatchReceipt, error) {
	select {
	case <-b.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	jobs := make([]ingest.AcceptedJob, len(batch.Items))
	for i, item := range batch.Items {
		jobs[i] = ingest.AcceptedJob{ID: item.RelativePath}
	}
	return &ingest.BatchReceipt{Jobs: jobs}, nil
}

func (b *gatedBackend) FetchStatus(_ context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		out[id] = "done"
	}
	return out, nil
}

func TestRunHandleControlsRun(t *testing.T) {
	backend := &gatedBackend{gate: make(chan struct{})}
	orch := ingest.New(backend, backend, ingest.WithPollInterval(10*time.Millisecond))

	var mu sync.Mutex
	var pauses []bool
	observer := ingest.ObserverFunc(func(ev ingest.Event) {
		if ev.Kind == ingest.EventPauseChanged {
			mu.Lock()
			pauses = append(pauses, ev.Paused)
			mu.Unlock()
		}
	})
	run, err := orch.Start(context.Background(), ingest.Request{
		Items:    []models.IngestionItem{{RelativePath: "case/a.pdf", ByteSize: 1}},
		Observer: observer,
	})
	require.NoError(t, err)

	h := &runHandle{run: run}
	m := newProgressModel(h, 1)
	_, cmd := m.handleKey("p")
	require.NotNil(t, cmd)
	assert.Equal(t, pauseToggledMsg(true), cmd())
	assert.True(t, run.Paused())

	_, cmd = m.handleKey("q")
	assert.NotNil(t, cmd)
	select {
	case <-run.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run still active after q")
	}
	assert.True(t, run.Report().Cancelled)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true}, pauses, "pausing from the view emits pause_changed")
}
