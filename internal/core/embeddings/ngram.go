package embeddings

import (
	"context"
	"hash/fnv"
)

const ngramDefaultDimensions = 256

// NgramProvider embeds text locally by hashing character unigrams and
// bigrams into signed buckets. Keywords sharing characters land close
// together, which is enough to exercise merging and clustering without an
// API key. It never fails.
type NgramProvider struct {
	dims int
}

// NewNgramProvider creates a provider producing vectors of dims buckets.
func NewNgramProvider(dims int) *NgramProvider {
	if dims <= 0 {
		dims = ngramDefaultDimensions
	}

	return &NgramProvider{dims: dims}
}

func (p *NgramProvider) Name() ProviderName {
	return ProviderNgram
}

func (p *NgramProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dims)
	runes := []rune(text)

	for i, r := range runes {
		p.add(vec, string(r), 1)

		if i+1 < len(runes) {
			p.add(vec, string(runes[i:i+2]), 2)
		}
	}

	return vec, nil
}

func (p *NgramProvider) add(vec []float32, gram string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(gram))
	sum := h.Sum64()

	idx := int(sum % uint64(p.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}

	vec[idx] += weight
}
