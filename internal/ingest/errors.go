package ingest

import (
	"errors"
	"time"
)

// Sentinel errors for the orchestrator.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidConfiguration is a programmer error detected before any network activity.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrRunInProgress is returned when a second run is started on a busy orchestrator.
	ErrRunInProgress = errors.New("ingestion run already in progress")

	// ErrTransportFailure wraps network-level failures of a single batch or poll.
	// Recovered locally; the run continues.
	ErrTransportFailure = errors.New("transport failure")

	// ErrBackendCongestion marks an explicit "busy" signal from the backend.
	ErrBackendCongestion = errors.New("backend congestion")

	// ErrPartialAcceptance marks a batch that returned fewer job ids than items.
	ErrPartialAcceptance = errors.New("partial acceptance")

	// ErrUnknownJob marks a job id the backend no longer recognizes.
	ErrUnknownJob = errors.New("unknown job")

	// ErrDuplicateJob marks a job id returned by more than one submission.
	ErrDuplicateJob = errors.New("duplicate job id")
)

// AnomalyKind classifies conditions surfaced to the operator instead of failing the run.
type AnomalyKind string

const (
	AnomalyTransportFailure  AnomalyKind = "transport_failure"
	AnomalyCongestion        AnomalyKind = "backend_congestion"
	AnomalyPartialAcceptance AnomalyKind = "partial_acceptance"
	AnomalyUnknownJob        AnomalyKind = "unknown_job"
	AnomalyDuplicateJob      AnomalyKind = "duplicate_job"
	AnomalySlowJob           AnomalyKind = "slow_job"
)

// Anomaly is a recovered error worth showing to the operator or an audit log.
type Anomaly struct {
	Kind   AnomalyKind
	Batch  int    // -1 when not tied to a batch
	JobID  string // Empty when not tied to a job
	Items  int    // Items affected (unsubmitted count for batch anomalies)
	Detail string
	At     time.Time
}

// Err returns the sentinel error matching the anomaly kind.
func (a Anomaly) Err() error {
	switch a.Kind {
	case AnomalyTransportFailure:
		return ErrTransportFailure
	case AnomalyCongestion:
		return ErrBackendCongestion
	case AnomalyPartialAcceptance:
		return ErrPartialAcceptance
	case AnomalyUnknownJob:
		return ErrUnknownJob
	case AnomalyDuplicateJob:
		return ErrDuplicateJob
	default:
		return nil
	}
}
