// Package mock provides a deterministic, offline embedder.
//
// Each word is hashed to one signed dimension (feature hashing), so texts that
// share words have a high cosine similarity and unrelated texts are close to
// orthogonal. It needs no model files, which makes it the embedder for tests
// and for trying the agent without an embeddings API.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDimensions matches all-MiniLM-L6-v2.
const DefaultDimensions = 384

// MockEmbedder generates embeddings from word hashes.
type MockEmbedder struct {
	dimensions int
}

// New creates a mock embedder. dims <= 0 uses DefaultDimensions.
func New(dims int) *MockEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &MockEmbedder{dimensions: dims}
}

// Embed creates a deterministic unit vector from the words of text.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := Tokenize(text)
	if len(words) == 0 {
		words = []string{text}
	}

	embedding := make([]float32, m.dimensions)
	for _, w := range words {
		idx, sign := m.bucket(w)
		embedding[idx] += sign
	}
	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *MockEmbedder) Dimensions() int {
	return m.dimensions
}

// bucket maps a word to a dimension and a sign.
func (m *MockEmbedder) bucket(word string) (int, float32) {
	h := fnv.New64a()
	h.Write([]byte(word))

	// One LCG step spreads the low bits of the hash.
	seed := h.Sum64()*6364136223846793005 + 1442695040888963407
	idx := int(seed % uint64(m.dimensions))
	if seed>>63 == 1 {
		return idx, -1
	}
	return idx, 1
}

// Tokenize lowercases text and splits it into letter/digit runs.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}

	norm = math.Sqrt(norm)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
	return vec
}
