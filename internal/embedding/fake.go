package embedding

import (
	"context"
	"hash/fnv"
)

// Fake is a deterministic, dependency-free Embedder used by tests in other
// packages (internal/memory, internal/stream) that need embeddings without
// standing up an HTTP server. It hashes each input into a unit-ish vector,
// so identical text always yields identical embeddings and distinct text
// yields distinct ones.
type Fake struct {
	Dim int
}

// Embed implements Embedder.
func (f Fake) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	dim := f.Dim
	if dim <= 0 {
		dim = 8
	}
	out := make([][]float32, len(inputs))
	for i, s := range inputs {
		out[i] = hashVector(s, dim)
	}
	return out, nil
}

// Dimensions implements Embedder.
func (f Fake) Dimensions() int {
	if f.Dim <= 0 {
		return 8
	}
	return f.Dim
}

func hashVector(s string, dim int) []float32 {
	v := make([]float32, dim)
	h := fnv.New64a()
	for i := 0; i < dim; i++ {
		h.Reset()
		_, _ = h.Write([]byte(s))
		_, _ = h.Write([]byte{byte(i)})
		sum := h.Sum64()
		v[i] = float32(sum%10000) / 10000.0
	}
	return v
}
