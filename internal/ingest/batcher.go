// Package ingest implements the ingestion run orchestrator: batching, submission with
// backpressure, the job registry, status polling and progress aggregation.
package ingest

import (
	"fmt"
	"iter"
	"slices"

	"github.com/raphaelgruber/ingestor/internal/models"
)

// DefaultBatchSize matches the upload form's batch size.
const DefaultBatchSize = 10

// Batches partitions an ordered item set into fixed-size batches.
// The sequence is lazy, restartable and deterministic.
type Batches struct {
	items []models.IngestionItem
	size  int
}

// NewBatches copies items so later changes by the caller never leak into a run.
func NewBatches(items []models.IngestionItem, maxBatchSize int) (*Batches, error) {
	if maxBatchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfiguration, maxBatchSize)
	}
	return &Batches{items: slices.Clone(items), size: maxBatchSize}, nil
}

// Len returns the number of batches the sequence yields.
func (b *Batches) Len() int {
	return (len(b.items) + b.size - 1) / b.size
}

// Items returns the total number of items.
func (b *Batches) Items() int {
	return len(b.items)
}

// All yields batches in input order. Each call starts from the first batch.
func (b *Batches) All() iter.Seq[models.Batch] {
	return func(yield func(models.Batch) bool) {
		for i, start := 0, 0; start < len(b.items); i, start = i+1, start+b.size {
			end := min(start+b.size, len(b.items))
			if !yield(models.Batch{Index: i, Items: slices.Clip(b.items[start:end])}) {
				return
			}
		}
	}
}
