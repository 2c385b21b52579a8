package memory

import (
	"math"
	"sort"
)

// CosineSimilarity returns the cosine of the angle between a and b in
// [-1, 1]. Mismatched lengths or a zero vector yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SortResults orders results by descending Score, then most recent
// UpdatedAt, then id so equal inputs always produce the same order.
func SortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Record.UpdatedAt.Equal(b.Record.UpdatedAt) {
			return a.Record.UpdatedAt.After(b.Record.UpdatedAt)
		}
		return a.Record.ID < b.Record.ID
	})
}

// ScanTopK scores every record against query and returns the best k.
// Records are cloned so the caller may hold on to them.
func ScanTopK(records []*Record, query []float32, k int) []Result {
	if k <= 0 || len(records) == 0 {
		return []Result{}
	}

	results := make([]Result, 0, len(records))
	for _, rec := range records {
		sim := CosineSimilarity(query, rec.Embedding)
		results = append(results, Result{Record: rec.Clone(), Similarity: sim, Score: sim})
	}
	SortResults(results)

	if len(results) > k {
		results = results[:k]
	}
	return results
}
