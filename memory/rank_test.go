package memory_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/becomeliminal/nim-recall/memory"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 0}, []float32{5, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"diagonal", []float32{1, 0}, []float32{1, 1}, 1 / math.Sqrt2},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, memory.CosineSimilarity(tt.a, tt.b), 1e-6)
		})
	}
}

func TestSortResults_TieBreak(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	results := []memory.Result{
		{Record: memory.Record{ID: "old", UpdatedAt: base}, Score: 0.5},
		{Record: memory.Record{ID: "best", UpdatedAt: base}, Score: 0.9},
		{Record: memory.Record{ID: "new", UpdatedAt: base.Add(time.Hour)}, Score: 0.5},
		{Record: memory.Record{ID: "b-same", UpdatedAt: base}, Score: 0.5},
	}

	memory.SortResults(results)

	var ids []string
	for _, r := range results {
		ids = append(ids, r.Record.ID)
	}
	assert.Equal(t, []string{"best", "new", "b-same", "old"}, ids)
}

func TestScanTopK(t *testing.T) {
	records := []*memory.Record{
		{ID: "x", Embedding: []float32{0, 1}},
		{ID: "y", Embedding: []float32{1, 0}},
		{ID: "z", Embedding: []float32{1, 1}},
	}

	got := memory.ScanTopK(records, []float32{1, 0}, 2)
	assert.Len(t, got, 2)
	assert.Equal(t, "y", got[0].Record.ID)
	assert.Equal(t, "z", got[1].Record.ID)

	// Results are copies.
	got[0].Record.Embedding[0] = 42
	assert.Equal(t, float32(1), records[1].Embedding[0])

	assert.Empty(t, memory.ScanTopK(records, []float32{1, 0}, 0))
	assert.Empty(t, memory.ScanTopK(nil, []float32{1, 0}, 3))
}
