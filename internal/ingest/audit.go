package ingest

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const auditQueueSize = 256

// auditQueue writes anomalies to a Recorder from its own goroutine so a slow or
// unreachable store never delays submission or polling. After the first failed
// write it stops writing for the rest of the run.
type auditQueue struct {
	rec     Recorder
	runID   string
	timeout time.Duration
	logger  *slog.Logger

	ch     chan Anomaly
	done   chan struct{}
	failed atomic.Bool
}

// newAuditQueue starts the writer. It returns nil when rec is nil; a nil queue drops everything.
func newAuditQueue(rec Recorder, runID string, timeout time.Duration, logger *slog.Logger) *auditQueue {
	if rec == nil {
		return nil
	}
	q := &auditQueue{
		rec:     rec,
		runID:   runID,
		timeout: timeout,
		logger:  logger,
		ch:      make(chan Anomaly, auditQueueSize),
		done:    make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *auditQueue) loop() {
	defer close(q.done)
	for a := range q.ch {
		if q.failed.Load() {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err := q.rec.RecordAnomaly(ctx, q.runID, a)
		cancel()
		if err != nil {
			q.failed.Store(true)
			q.logger.Warn("failed to record anomaly, audit disabled for this run", "kind", a.Kind, "error", err)
		}
	}
}

// add enqueues a without blocking.
func (q *auditQueue) add(a Anomaly) {
	if q == nil || q.failed.Load() {
		return
	}
	select {
	case q.ch <- a:
	default:
		q.logger.Warn("audit queue full, anomaly not recorded", "kind", a.Kind)
	}
}

// finish drains queued anomalies, then records the report unless an earlier write failed.
// It must be called once, after the last add.
func (q *auditQueue) finish(report Report) {
	if q == nil {
		return
	}
	close(q.ch)
	<-q.done
	if q.failed.Load() {
		q.logger.Info("run not recorded, audit store failed earlier")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	if err := q.rec.RecordRun(ctx, report); err != nil {
		q.logger.Warn("failed to record run", "error", err)
	}
}
