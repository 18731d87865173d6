package ingest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/ingestor/internal/ingest"
	"github.com/raphaelgruber/ingestor/internal/models"
)

type fetcherFunc func(ctx context.Context, ids []string) (map[string]string, error)

func (f fetcherFunc) FetchStatus(ctx context.Context, ids []string) (map[string]string, error) {
	return f(ctx, ids)
}

func TestPollOnceSingleRequest(t *testing.T) {
	var calls int
	var gotIDs []string
	fetcher := fetcherFunc(func(_ context.Context, ids []string) (map[string]string, error) {
		calls++
		gotIDs = ids
		return map[string]string{"a": "queued", "b": "vectorizing", "c": "done"}, nil
	})

	p := ingest.NewPoller(fetcher, nil, time.Second)
	statuses, err := p.PollOnce(context.Background(), []string{"a", "b", "c", "d"})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"a", "b", "c", "d"}, gotIDs)
	assert.Equal(t, map[string]ingest.JobStatus{
		"a": {State: models.JobStateQueued, Stage: "queued"},
		"b": {State: models.JobStateProcessing, Stage: "vectorizing"},
		"c": {State: models.JobStateDone, Stage: "done"},
		"d": {State: models.JobStateUnknown, Stage: "missing"},
	}, statuses)
}

func TestPollOnceNoIDs(t *testing.T) {
	fetcher := fetcherFunc(func(context.Context, []string) (map[string]string, error) {
		t.Fatal("no request expected")
		return nil, nil
	})

	statuses, err := ingest.NewPoller(fetcher, nil, time.Second).PollOnce(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestPollOnceCustomClassifier(t *testing.T) {
	fetcher := fetcherFunc(func(context.Context, []string) (map[string]string, error) {
		return map[string]string{"a": "ALL_GOOD"}, nil
	})
	classify := func(label string) models.JobState {
		if label == "ALL_GOOD" {
			return models.JobStateDone
		}
		return models.JobStateProcessing
	}

	statuses, err := ingest.NewPoller(fetcher, classify, time.Second).PollOnce(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, models.JobStateDone, statuses["a"].State)
}

func TestPollOnceError(t *testing.T) {
	boom := errors.New("boom")
	fetcher := fetcherFunc(func(context.Context, []string) (map[string]string, error) {
		return nil, boom
	})

	_, err := ingest.NewPoller(fetcher, nil, time.Second).PollOnce(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, boom)
}

func TestPollOnceTimeout(t *testing.T) {
	fetcher := fetcherFunc(func(ctx context.Context, _ []string) (map[string]string, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := ingest.NewPoller(fetcher, nil, 20*time.Millisecond).PollOnce(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
