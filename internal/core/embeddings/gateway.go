// Package embeddings turns hotspot keywords into fixed-size unit vectors.
//
// A Gateway tries its providers in configured order. Each provider sits
// behind a circuit breaker; a provider whose breaker is open is skipped
// until its cooldown passes. Keywords are normalized before embedding so
// width and case variants of one keyword share a vector.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	coreerrors "github.com/lueurxax/hotspot-engine/internal/core/errors"
	"github.com/lueurxax/hotspot-engine/internal/core/ports"
	"github.com/lueurxax/hotspot-engine/internal/core/textnorm"
	"github.com/lueurxax/hotspot-engine/internal/platform/observability"
)

const logKeyProvider = "provider"

var (
	_ ports.Embedder = (*Gateway)(nil)

	errNoProviders = errors.New("no embedding providers")
)

// Config selects and configures the providers.
type Config struct {
	// Order lists provider names, comma separated, first tried first.
	Order string

	OpenAI OpenAIConfig
	Cohere CohereConfig

	Breaker    BreakerConfig
	Dimensions int
}

type member struct {
	provider Provider
	breaker  *breaker
}

// Gateway implements ports.Embedder over an ordered provider list.
type Gateway struct {
	members []member
	dims    int
	breaker BreakerConfig
	now     func() time.Time
	logger  *zerolog.Logger
}

// NewGateway creates an empty gateway producing vectors of dims.
func NewGateway(dims int, breakerCfg BreakerConfig, logger *zerolog.Logger) *Gateway {
	if dims <= 0 {
		dims = DefaultDimensions
	}

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Gateway{dims: dims, breaker: breakerCfg, now: time.Now, logger: logger}
}

// New builds a gateway from cfg. Providers without credentials are left
// out; with none left the local n-gram provider serves alone.
func New(cfg Config, logger *zerolog.Logger) *Gateway {
	g := NewGateway(cfg.Dimensions, cfg.Breaker, logger)

	for _, name := range parseOrder(cfg.Order) {
		switch name {
		case ProviderOpenAI:
			if usableKey(cfg.OpenAI.APIKey) {
				oc := cfg.OpenAI
				oc.Dimensions = g.dims
				g.Add(NewOpenAIProvider(oc))
			}
		case ProviderCohere:
			if usableKey(cfg.Cohere.APIKey) {
				g.Add(NewCohereProvider(cfg.Cohere))
			}
		case ProviderNgram:
			g.Add(NewNgramProvider(0))
		default:
			g.logger.Warn().Str(logKeyProvider, string(name)).Msg("unknown embedding provider ignored")
		}
	}

	if len(g.members) == 0 {
		g.logger.Warn().Msg("no embedding credentials configured, using local n-gram embeddings")
		g.Add(NewNgramProvider(0))
	}

	return g
}

// Add appends p to the fallback chain.
func (g *Gateway) Add(p Provider) {
	g.members = append(g.members, member{provider: p, breaker: newBreaker(g.breaker, g.now)})
	observability.EmbeddingProviderAvailable.WithLabelValues(string(p.Name())).Set(1)

	g.logger.Info().Str(logKeyProvider, string(p.Name())).Int("position", len(g.members)).Msg("embedding provider added")
}

// Providers returns the provider names in fallback order.
func (g *Gateway) Providers() []ProviderName {
	names := make([]ProviderName, len(g.members))
	for i, m := range g.members {
		names[i] = m.provider.Name()
	}

	return names
}

// GetEmbedding returns the unit vector for text. When every provider fails
// or is tripped the error wraps ErrEmbeddingUnavailable, which callers treat
// as transient.
func (g *Gateway) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	key := textnorm.Normalize(text)
	if key == "" {
		return nil, fmt.Errorf("%w: empty text", coreerrors.ErrInvalidArgument)
	}

	lastErr := errNoProviders

	for i, m := range g.members {
		name := string(m.provider.Name())

		if !m.breaker.allow() {
			g.logger.Debug().Str(logKeyProvider, name).Msg("embedding provider tripped, skipping")

			continue
		}

		start := time.Now()
		raw, err := m.provider.Embed(ctx, key)
		observability.EmbeddingLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())

		if err == nil {
			if vec := fit(raw, g.dims); vec != nil {
				m.breaker.success()
				observability.EmbeddingRequests.WithLabelValues(name, "success").Inc()
				observability.EmbeddingProviderAvailable.WithLabelValues(name).Set(1)

				if i > 0 {
					observability.EmbeddingFallbacks.WithLabelValues(string(g.members[0].provider.Name()), name).Inc()
				}

				return vec, nil
			}

			err = fmt.Errorf("%s: %w", name, coreerrors.ErrEmptyResponse)
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("embedding %q: %w", key, ctx.Err())
		}

		lastErr = err
		observability.EmbeddingRequests.WithLabelValues(name, "error").Inc()

		if m.breaker.failure() {
			observability.EmbeddingProviderAvailable.WithLabelValues(name).Set(0)
			g.logger.Warn().Err(err).Str(logKeyProvider, name).Msg("embedding provider tripped")
		} else {
			g.logger.Warn().Err(err).Str(logKeyProvider, name).Msg("embedding provider failed, trying next")
		}
	}

	observability.EmbeddingErrors.Inc()

	return nil, fmt.Errorf("%w: %w", coreerrors.ErrEmbeddingUnavailable, lastErr)
}

func parseOrder(order string) []ProviderName {
	if strings.TrimSpace(order) == "" {
		return []ProviderName{ProviderOpenAI, ProviderCohere}
	}

	var names []ProviderName

	for _, part := range strings.Split(order, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			names = append(names, ProviderName(p))
		}
	}

	return names
}

func usableKey(key string) bool {
	return key != "" && key != "mock"
}
