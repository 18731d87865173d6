package ingest

import (
	"strings"

	"github.com/raphaelgruber/ingestor/internal/models"
)

// Classifier maps a backend status label to an abstract job state.
// Pipeline stage names stay out of the orchestrator by going through this function.
type Classifier func(label string) models.JobState

// DefaultClassifier recognizes the common queued, done and unknown spellings and treats
// every other label as an intermediate pipeline stage. Failed or cancelled jobs will never
// finish, so they are terminal as unknown rather than counted as success.
func DefaultClassifier(label string) models.JobState {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "queued", "pending", "accepted", "submitted", "received":
		return models.JobStateQueued
	case "done", "complete", "completed", "finished", "ingested", "success", "succeeded":
		return models.JobStateDone
	case "unknown", "not_found", "notfound", "missing", "expired", "gone",
		"failed", "failure", "error", "canceled", "cancelled", "stopped":
		return models.JobStateUnknown
	default:
		return models.JobStateProcessing
	}
}
