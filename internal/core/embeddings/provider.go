package embeddings

import (
	"context"
	"math"
)

// ProviderName identifies an embedding backend.
type ProviderName string

const (
	ProviderOpenAI ProviderName = "openai"
	ProviderCohere ProviderName = "cohere"
	ProviderNgram  ProviderName = "ngram"
)

// DefaultDimensions matches the hotspots.embedding column.
const DefaultDimensions = 1536

// Provider turns one normalized keyword into a raw vector. The gateway fits
// the result to the column dimension.
type Provider interface {
	Name() ProviderName
	Embed(ctx context.Context, text string) ([]float32, error)
}

// fit truncates or zero-pads vec to dims and scales it to unit length, so
// pgvector cosine distance and the in-memory cosine agree across providers.
// A zero vector is returned as nil.
func fit(vec []float32, dims int) []float32 {
	out := make([]float32, dims)
	copy(out, vec)

	var sum float64
	for _, v := range out {
		sum += float64(v) * float64(v)
	}

	if sum == 0 {
		return nil
	}

	norm := float32(math.Sqrt(sum))
	for i := range out {
		out[i] /= norm
	}

	return out
}
