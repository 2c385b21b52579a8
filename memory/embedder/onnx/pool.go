package onnx

import (
	"fmt"
	"math"
)

// Pool turns a model output into one sentence embedding.
//
// Outputs shaped [1, dims] are already pooled. Outputs shaped
// [1, seq, dims] are mean pooled over the attended positions of mask.
// The result is L2 normalized.
func Pool(data []float32, shape []int64, mask []int64, dims int) ([]float32, error) {
	embedding := make([]float32, dims)

	switch len(shape) {
	case 2:
		if shape[0] != 1 {
			return nil, fmt.Errorf("expected batch size 1, got %d", shape[0])
		}
		if len(data) < dims || shape[1] != int64(dims) {
			return nil, fmt.Errorf("output dimension mismatch: got %d, expected %d", shape[1], dims)
		}
		copy(embedding, data[:dims])

	case 3:
		batch, seqLen, hidden := shape[0], int(shape[1]), int(shape[2])
		if batch != 1 {
			return nil, fmt.Errorf("expected batch size 1, got %d", batch)
		}
		if hidden != dims {
			return nil, fmt.Errorf("hidden size mismatch: got %d, expected %d", hidden, dims)
		}
		if len(data) < seqLen*hidden {
			return nil, fmt.Errorf("output has %d values for shape %v", len(data), shape)
		}

		attended := 0
		for i := 0; i < seqLen && i < len(mask); i++ {
			if mask[i] == 0 {
				continue
			}
			attended++
			offset := i * hidden
			for j := 0; j < hidden; j++ {
				embedding[j] += data[offset+j]
			}
		}
		if attended == 0 {
			return nil, fmt.Errorf("no attended tokens")
		}
		for j := range embedding {
			embedding[j] /= float32(attended)
		}

	default:
		return nil, fmt.Errorf("unexpected output shape: %v", shape)
	}

	return normalize(embedding), nil
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
