// Package metrics provides in-memory request statistics and Prometheus instrumentation.
package metrics

import (
	"slices"
	"sync"
	"time"
)

// Operation names shared by the collector and the Prometheus instruments.
const (
	OpSubmitBatch = "submit_batch"
	OpPollStatus  = "poll_status"
)

// maxSamples bounds the latencies kept per operation for percentile estimates.
const maxSamples = 1024

// OperationStats summarizes one operation for the end-of-run report.
type OperationStats struct {
	Calls    int64
	Failures int64
	Items    int64 // Files uploaded or job ids polled
	Mean     time.Duration
	P50      time.Duration
	P95      time.Duration
	Max      time.Duration
}

// Snapshot holds request statistics at a point in time. Operations with no calls are nil.
type Snapshot struct {
	Elapsed     time.Duration
	SubmitBatch *OperationStats
	PollStatus  *OperationStats
}

type opStats struct {
	calls    int64
	failures int64
	items    int64
	total    time.Duration
	max      time.Duration
	samples  []time.Duration // ring buffer, next write at calls % maxSamples
}

// Collector records request latencies for one CLI run. Safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	started time.Time
	ops     map[string]*opStats
}

func NewCollector() *Collector {
	return &Collector{started: time.Now(), ops: make(map[string]*opStats)}
}

// Record adds one call of op that carried items and took d.
func (c *Collector) Record(op string, d time.Duration, items int, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.ops[op]
	if !ok {
		s = &opStats{}
		c.ops[op] = s
	}
	if len(s.samples) < maxSamples {
		s.samples = append(s.samples, d)
	} else {
		s.samples[s.calls%maxSamples] = d
	}
	s.calls++
	s.items += int64(items)
	s.total += d
	s.max = max(s.max, d)
	if failed {
		s.failures++
	}
}

func (s *opStats) stats() *OperationStats {
	if s == nil || s.calls == 0 {
		return nil
	}
	sorted := slices.Clone(s.samples)
	slices.Sort(sorted)
	return &OperationStats{
		Calls:    s.calls,
		Failures: s.failures,
		Items:    s.items,
		Mean:     s.total / time.Duration(s.calls),
		P50:      quantile(sorted, 0.50),
		P95:      quantile(sorted, 0.95),
		Max:      s.max,
	}
}

// quantile uses the nearest-rank method on sorted samples.
func quantile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(q*float64(len(sorted))+0.999999) - 1
	return sorted[min(max(rank, 0), len(sorted)-1)]
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		Elapsed:     time.Since(c.started),
		SubmitBatch: c.ops[OpSubmitBatch].stats(),
		PollStatus:  c.ops[OpPollStatus].stats(),
	}
}
