//go:build integration

package audit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/raphaelgruber/ingestor/internal/ingest"
)

var testStore *Store

// TestMain starts one SurrealDB container for all integration tests.
func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testStore, err = NewStore(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, port.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := testStore.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testStore.Close(ctx)
	_ = container.Terminate(ctx)

	os.Exit(code)
}

func TestRecordAndListRuns(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testStore.WipeData(ctx))

	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	for i, id := range []string{"run00001", "run00002"} {
		start := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, testStore.RecordRun(ctx, ingest.Report{
			RunID:      id,
			StartedAt:  start,
			FinishedAt: start.Add(30 * time.Second),
			Items:      25,
			Batches:    3,
			Accepted:   25,
			Done:       24,
			Unknown:    1,
			SlowJobs:   []string{"job-9"},
		}))
	}

	runs, err := testStore.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run00002", runs[0].RunID(), "newest first")
	assert.Equal(t, 24, runs[0].Done)
	assert.Equal(t, int64(30000), runs[0].ElapsedMs)
	assert.Equal(t, []string{"job-9"}, runs[0].SlowJobs)
	assert.Nil(t, runs[0].Errors)

	// Re-recording the same run replaces it.
	require.NoError(t, testStore.RecordRun(ctx, ingest.Report{
		RunID:      "run00001",
		StartedAt:  base,
		FinishedAt: base.Add(time.Minute),
		Cancelled:  true,
		Pending:    3,
		Errors:     errors.New("status poll failed"),
	}))
	got, err := testStore.GetRun(ctx, "run00001")
	require.NoError(t, err)
	assert.True(t, got.Cancelled)
	assert.Equal(t, 3, got.Pending)
	require.NotNil(t, got.Errors)
	assert.Contains(t, *got.Errors, "status poll failed")

	_, err = testStore.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordAnomalies(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testStore.WipeData(ctx))

	now := time.Now()
	require.NoError(t, testStore.RecordAnomaly(ctx, "runA", ingest.Anomaly{
		Kind: ingest.AnomalyCongestion, Batch: 1, Items: 10, Detail: "backend busy", At: now,
	}))
	require.NoError(t, testStore.RecordAnomaly(ctx, "runA", ingest.Anomaly{
		Kind: ingest.AnomalyUnknownJob, Batch: -1, JobID: "job-3", Detail: "job unknown to backend", At: now.Add(time.Second),
	}))
	require.NoError(t, testStore.RecordAnomaly(ctx, "runB", ingest.Anomaly{
		Kind: ingest.AnomalySlowJob, Batch: -1, JobID: "job-1", At: now,
	}))

	anomalies, err := testStore.ListAnomalies(ctx, "runA")
	require.NoError(t, err)
	require.Len(t, anomalies, 2)
	assert.Equal(t, "backend_congestion", anomalies[0].Kind)
	assert.Nil(t, anomalies[0].JobID)
	assert.Equal(t, "unknown_job", anomalies[1].Kind)
	require.NotNil(t, anomalies[1].JobID)
	assert.Equal(t, "job-3", *anomalies[1].JobID)
}
