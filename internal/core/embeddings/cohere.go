package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	coreerrors "github.com/lueurxax/hotspot-engine/internal/core/errors"
)

const (
	CohereEndpoint           = "https://api.cohere.ai/v1/embed"
	ModelEmbedMultilingualV3 = "embed-multilingual-v3.0"

	// Hotspot keywords are compared with each other, never searched.
	cohereInputType = "clustering"
	cohereTimeout   = 30 * time.Second
)

var errCohereStatus = errors.New("cohere embed failed")

// CohereConfig configures the Cohere provider.
type CohereConfig struct {
	APIKey   string
	Endpoint string
	Model    string
	RPS      int
}

// CohereProvider embeds through the Cohere embed API. The multilingual model
// copes with the mixed Chinese and Latin keywords trending lists carry.
type CohereProvider struct {
	client   *resty.Client
	endpoint string
	model    string
	limiter  *rate.Limiter
}

type cohereRequest struct {
	Texts     []string `json:"texts"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type"`
	Truncate  string   `json:"truncate"`
}

type cohereResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type cohereError struct {
	Message string `json:"message"`
}

// NewCohereProvider creates a Cohere provider.
func NewCohereProvider(cfg CohereConfig) *CohereProvider {
	if cfg.Model == "" {
		cfg.Model = ModelEmbedMultilingualV3
	}

	if cfg.Endpoint == "" {
		cfg.Endpoint = CohereEndpoint
	}

	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}

	return &CohereProvider{
		client: resty.New().
			SetTimeout(cohereTimeout).
			SetAuthToken(cfg.APIKey).
			SetHeader("Accept", "application/json"),
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPS), cfg.RPS),
	}
}

func (p *CohereProvider) Name() ProviderName {
	return ProviderCohere
}

func (p *CohereProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("cohere rate limit: %w", err)
	}

	var (
		out    cohereResponse
		apiErr cohereError
	)

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(cohereRequest{
			Texts:     []string{text},
			Model:     p.model,
			InputType: cohereInputType,
			Truncate:  "END",
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("cohere request: %w", err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("%w: status %d: %s", errCohereStatus, resp.StatusCode(), apiErr.Message)
	}

	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("cohere embeddings: %w", coreerrors.ErrEmptyResponse)
	}

	return out.Embeddings[0], nil
}
