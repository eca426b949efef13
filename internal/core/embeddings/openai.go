package embeddings

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	coreerrors "github.com/lueurxax/hotspot-engine/internal/core/errors"
)

const (
	ModelTextEmbedding3Small = "text-embedding-3-small"

	// text-embedding-3 models accept a dimensions parameter up to this size.
	openaiMaxDimensions = 3072
)

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	RPS        int
}

// OpenAIProvider embeds through the OpenAI embeddings API. Vectors are
// shortened server-side to the column dimension.
type OpenAIProvider struct {
	client  *openai.Client
	model   string
	dims    int
	limiter *rate.Limiter
}

// NewOpenAIProvider creates an OpenAI provider. BaseURL points it at any
// OpenAI compatible endpoint.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = ModelTextEmbedding3Small
	}

	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		dims:    cfg.Dimensions,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.RPS),
	}
}

func (p *OpenAIProvider) Name() ProviderName {
	return ProviderOpenAI
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("openai rate limit: %w", err)
	}

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.model),
	}

	if p.dims > 0 && p.dims < openaiMaxDimensions {
		req.Dimensions = p.dims
	}

	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai embeddings: %w", coreerrors.ErrEmptyResponse)
	}

	return resp.Data[0].Embedding, nil
}
