package ingest_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/ingestor/internal/ingest"
	"github.com/raphaelgruber/ingestor/internal/models"
)

func makeItems(n int) []models.IngestionItem {
	items := make([]models.IngestionItem, n)
	for i := range items {
		items[i] = models.IngestionItem{
			RelativePath: fmt.Sprintf("case/doc-%03d.pdf", i),
			ByteSize:     int64(100 + i),
			SourceTag:    models.SourceUser,
		}
	}
	return items
}

func TestBatchesPartition(t *testing.T) {
	tests := []struct {
		name      string
		items     int
		size      int
		wantSizes []int
	}{
		{"empty", 0, 10, nil},
		{"single partial", 3, 10, []int{3}},
		{"exact multiple", 20, 10, []int{10, 10}},
		{"trailing partial", 25, 10, []int{10, 10, 5}},
		{"size one", 3, 1, []int{1, 1, 1}},
		{"size larger than input", 4, 100, []int{4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := makeItems(tt.items)
			b, err := ingest.NewBatches(items, tt.size)
			require.NoError(t, err)

			var sizes []int
			var flat []models.IngestionItem
			for batch := range b.All() {
				assert.Equal(t, len(sizes), batch.Index)
				assert.LessOrEqual(t, len(batch.Items), tt.size)
				assert.NotEmpty(t, batch.Items)
				sizes = append(sizes, len(batch.Items))
				flat = append(flat, batch.Items...)
			}

			assert.Equal(t, tt.wantSizes, sizes)
			assert.Equal(t, len(tt.wantSizes), b.Len())
			assert.Equal(t, tt.items, b.Items())
			if tt.items > 0 {
				assert.Equal(t, items, flat, "concatenation must reproduce the input order")
			}
		})
	}
}

func TestBatchesInvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		_, err := ingest.NewBatches(makeItems(3), size)
		assert.ErrorIs(t, err, ingest.ErrInvalidConfiguration)
	}
}

func TestBatchesRestartable(t *testing.T) {
	b, err := ingest.NewBatches(makeItems(7), 3)
	require.NoError(t, err)

	collect := func() []string {
		var names []string
		for batch := range b.All() {
			names = append(names, batch.Name())
		}
		return names
	}

	first := collect()
	assert.Equal(t, []string{"case/doc-000.pdf", "case/doc-003.pdf", "case/doc-006.pdf"}, first)
	assert.Equal(t, first, collect())
}

func TestBatchesDoesNotAliasInput(t *testing.T) {
	items := makeItems(4)
	b, err := ingest.NewBatches(items, 2)
	require.NoError(t, err)

	items[0].RelativePath = "changed.pdf"
	for batch := range b.All() {
		assert.Equal(t, "case/doc-000.pdf", batch.Name())
		break
	}
}

func TestBatchesEarlyStop(t *testing.T) {
	b, err := ingest.NewBatches(makeItems(30), 10)
	require.NoError(t, err)

	seen := 0
	for range b.All() {
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}
