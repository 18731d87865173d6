package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/ingestor/internal/ingest"
	"github.com/raphaelgruber/ingestor/internal/models"
)

// RunRecord is a persisted run report.
type RunRecord struct {
	ID                surrealmodels.RecordID `json:"id"`
	StartedAt         time.Time              `json:"started_at"`
	FinishedAt        time.Time              `json:"finished_at"`
	ElapsedMs         int64                  `json:"elapsed_ms"`
	Items             int                    `json:"items"`
	Batches           int                    `json:"batches"`
	BatchesSubmitted  int                    `json:"batches_submitted"`
	Accepted          int                    `json:"accepted"`
	Unsubmitted       int                    `json:"unsubmitted"`
	NotSent           int                    `json:"not_sent"`
	Done              int                    `json:"done"`
	Unknown           int                    `json:"unknown"`
	Pending           int                    `json:"pending"`
	Duplicates        int                    `json:"duplicates"`
	CongestionSignals int                    `json:"congestion_signals"`
	TransportFailures int                    `json:"transport_failures"`
	PartialBatches    int                    `json:"partial_batches"`
	PollFailures      int                    `json:"poll_failures"`
	SlowJobs          []string               `json:"slow_jobs"`
	Cancelled         bool                   `json:"cancelled"`
	Errors            *string                `json:"errors,omitempty"`
}

// RunID returns the run id without the table prefix.
func (r RunRecord) RunID() string {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return fmt.Sprint(r.ID.ID)
	}
	return id
}

// AnomalyRecord is a persisted anomaly.
type AnomalyRecord struct {
	ID     surrealmodels.RecordID `json:"id"`
	Run    string                 `json:"run"`
	Kind   string                 `json:"kind"`
	Batch  int                    `json:"batch"`
	JobID  *string                `json:"job_id,omitempty"`
	Items  int                    `json:"items"`
	Detail string                 `json:"detail"`
	At     time.Time              `json:"at"`
}

// RecordRun upserts the final report of a run.
func (s *Store) RecordRun(ctx context.Context, report ingest.Report) error {
	_, err := surrealdb.Query[any](ctx, s.db, `
		UPSERT type::record("ingest_run", $id) SET
			started_at = type::datetime($started_at),
			finished_at = type::datetime($finished_at),
			elapsed_ms = $elapsed_ms,
			items = $items,
			batches = $batches,
			batches_submitted = $batches_submitted,
			accepted = $accepted,
			unsubmitted = $unsubmitted,
			not_sent = $not_sent,
			done = $done,
			unknown = $unknown,
			pending = $pending,
			duplicates = $duplicates,
			congestion_signals = $congestion_signals,
			transport_failures = $transport_failures,
			partial_batches = $partial_batches,
			poll_failures = $poll_failures,
			slow_jobs = $slow_jobs,
			cancelled = $cancelled,
			errors = $errors
	`, runVars(report))
	if err != nil {
		return fmt.Errorf("record run: %w", wrapQueryError(err))
	}
	return nil
}

// RecordAnomaly appends one anomaly for runID.
func (s *Store) RecordAnomaly(ctx context.Context, runID string, a ingest.Anomaly) error {
	_, err := surrealdb.Query[any](ctx, s.db, `
		CREATE ingest_anomaly SET
			run = $run,
			kind = $kind,
			batch = $batch,
			job_id = $job_id,
			items = $items,
			detail = $detail,
			at = type::datetime($at)
	`, anomalyVars(runID, a))
	if err != nil {
		return fmt.Errorf("record anomaly: %w", wrapQueryError(err))
	}
	return nil
}

// ListRuns returns the most recently finished runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	results, err := surrealdb.Query[[]RunRecord](ctx, s.db, `
		SELECT * FROM ingest_run ORDER BY finished_at DESC LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []RunRecord{}, nil
	}
	return (*results)[0].Result, nil
}

// GetRun returns one run by id, or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	results, err := surrealdb.Query[[]RunRecord](ctx, s.db, `
		SELECT * FROM type::record("ingest_run", $id)
	`, map[string]any{"id": runID})
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return &(*results)[0].Result[0], nil
}

// ListAnomalies returns the anomalies of a run in the order they occurred.
func (s *Store) ListAnomalies(ctx context.Context, runID string) ([]AnomalyRecord, error) {
	results, err := surrealdb.Query[[]AnomalyRecord](ctx, s.db, `
		SELECT * FROM ingest_anomaly WHERE run = $run ORDER BY at ASC
	`, map[string]any{"run": runID})
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []AnomalyRecord{}, nil
	}
	return (*results)[0].Result, nil
}

func runVars(r ingest.Report) map[string]any {
	var errs *string
	if r.Errors != nil {
		msg := r.Errors.Error()
		errs = &msg
	}
	slow := r.SlowJobs
	if slow == nil {
		slow = []string{}
	}
	return map[string]any{
		"id":                 r.RunID,
		"started_at":         r.StartedAt.UTC().Format(time.RFC3339Nano),
		"finished_at":        r.FinishedAt.UTC().Format(time.RFC3339Nano),
		"elapsed_ms":         r.Elapsed().Milliseconds(),
		"items":              r.Items,
		"batches":            r.Batches,
		"batches_submitted":  r.BatchesSubmitted,
		"accepted":           r.Accepted,
		"unsubmitted":        r.Unsubmitted,
		"not_sent":           r.NotSent,
		"done":               r.Done,
		"unknown":            r.Unknown,
		"pending":            r.Pending,
		"duplicates":         r.Duplicates,
		"congestion_signals": r.CongestionSignals,
		"transport_failures": r.TransportFailures,
		"partial_batches":    r.PartialBatches,
		"poll_failures":      r.PollFailures,
		"slow_jobs":          slow,
		"cancelled":          r.Cancelled,
		"errors":             errs,
	}
}

func anomalyVars(runID string, a ingest.Anomaly) map[string]any {
	var jobID *string
	if a.JobID != "" {
		jobID = &a.JobID
	}
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}
	return map[string]any{
		"run":    runID,
		"kind":   string(a.Kind),
		"batch":  a.Batch,
		"job_id": jobID,
		"items":  a.Items,
		"detail": a.Detail,
		"at":     at.UTC().Format(time.RFC3339Nano),
	}
}
