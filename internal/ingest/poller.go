package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/ingestor/internal/models"
)

const (
	// DefaultPollInterval is the fixed status polling interval.
	DefaultPollInterval = time.Second

	// DefaultPollTimeout bounds one status query. A timed-out tick is retried on the next interval.
	DefaultPollTimeout = 10 * time.Second
)

// StatusFetcher queries the backend for the raw status labels of several jobs in one request.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, ids []string) (map[string]string, error)
}

// Poller performs one classified status query per tick.
type Poller struct {
	fetcher  StatusFetcher
	classify Classifier
	timeout  time.Duration
}

// NewPoller creates a poller. A nil classifier uses DefaultClassifier.
func NewPoller(fetcher StatusFetcher, classify Classifier, timeout time.Duration) *Poller {
	if classify == nil {
		classify = DefaultClassifier
	}
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	return &Poller{fetcher: fetcher, classify: classify, timeout: timeout}
}

// PollOnce fetches the status of ids and classifies every label.
// Ids absent from the response are reported as unknown: the backend no longer tracks them.
func (p *Poller) PollOnce(ctx context.Context, ids []string) (map[string]JobStatus, error) {
	if len(ids) == 0 {
		return map[string]JobStatus{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	labels, err := p.fetcher.FetchStatus(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch status for %d jobs: %w", len(ids), err)
	}

	statuses := make(map[string]JobStatus, len(ids))
	for _, id := range ids {
		label, ok := labels[id]
		if !ok {
			statuses[id] = JobStatus{State: models.JobStateUnknown, Stage: "missing"}
			continue
		}
		statuses[id] = JobStatus{State: p.classify(label), Stage: label}
	}
	return statuses, nil
}
