package ingest

import (
	"sync"
)

// EventKind identifies an orchestrator event.
type EventKind string

const (
	EventBatchStarted    EventKind = "batch_started"
	EventBatchFinished   EventKind = "batch_finished"
	EventRegistryUpdated EventKind = "registry_updated"
	EventAnomaly         EventKind = "anomaly"
	EventPauseChanged    EventKind = "pause_changed"
	EventRunComplete     EventKind = "run_complete"
)

// BatchInfo describes a batch for display.
type BatchInfo struct {
	Index       int
	Total       int // Batches in the run
	Name        string
	Items       int
	Bytes       int64
	Accepted    int  // Set on batch_finished
	Unsubmitted int  // Set on batch_finished
	Congested   bool // Set on batch_finished
}

// Event is delivered to the run's Observer.
// Only the fields relevant to Kind are set.
type Event struct {
	Kind     EventKind
	RunID    string
	Batch    *BatchInfo
	Snapshot *Snapshot
	Progress *Progress
	Anomaly  *Anomaly
	Paused   bool
	Report   *Report
}

// Observer receives run events. Calls are serialized; the observer must not block for long.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f.
func (f ObserverFunc) Observe(e Event) { f(e) }

// Observers fans events out to several observers in order.
type Observers []Observer

// Observe forwards e to every non-nil observer.
func (o Observers) Observe(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(e)
		}
	}
}

// emitter serializes events from the submission and polling goroutines.
type emitter struct {
	mu    sync.Mutex
	runID string
	obs   Observer
}

func (e *emitter) emit(ev Event) {
	if e.obs == nil {
		return
	}
	ev.RunID = e.runID
	e.mu.Lock()
	defer e.mu.Unlock()
	e.obs.Observe(ev)
}

func (e *emitter) registryUpdated(s *Snapshot) {
	p := Aggregate(s)
	e.emit(Event{Kind: EventRegistryUpdated, Snapshot: s, Progress: &p})
}
