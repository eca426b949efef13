// Package llm implements the classification and business analysis
// collaborators over OpenAI-compatible chat completions with JSON output.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	coreerrors "github.com/lueurxax/hotspot-engine/internal/core/errors"
	"github.com/lueurxax/hotspot-engine/internal/platform/observability"
)

// Task labels used in metrics and logs.
const (
	TaskClassify = "classify"
	TaskAnalyze  = "analyze"
)

const (
	DefaultModel = "gpt-4o-mini"

	rateLimiterBurst        = 5
	circuitBreakerThreshold = 5
	circuitBreakerTimeout   = 1 * time.Minute

	errRateLimiter          = "rate limiter: %w"
	errOpenAIChatCompletion = "openai chat completion: %w"
)

// Config holds LLM connection settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	RPS     float64
}

// chatCompleter is the subset of *openai.Client the collaborators use.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client sends JSON-mode chat completions behind a rate limiter and a circuit breaker.
type Client struct {
	chat        chatCompleter
	model       string
	rateLimiter *rate.Limiter
	logger      *zerolog.Logger

	consecutiveFailures int
	circuitOpenUntil    time.Time
	mu                  sync.Mutex
}

// NewClient creates a client for an OpenAI-compatible endpoint.
func NewClient(cfg Config, logger *zerolog.Logger) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return newClient(openai.NewClientWithConfig(clientCfg), cfg, logger)
}

func newClient(chat chatCompleter, cfg Config, logger *zerolog.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}

	return &Client{
		chat:        chat,
		model:       cfg.Model,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RPS), rateLimiterBurst),
		logger:      logger,
	}
}

// completeJSON sends system and user prompts and decodes the JSON reply into out.
func (c *Client) completeJSON(ctx context.Context, task, system, user string, out interface{}) error {
	if err := c.checkCircuit(); err != nil {
		return err
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf(errRateLimiter, err)
	}

	start := time.Now()

	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})

	observability.LLMRequestLatency.WithLabelValues(task).Observe(time.Since(start).Seconds())

	if err != nil {
		c.recordFailure()
		observability.LLMRequests.WithLabelValues(task, "error").Inc()

		return fmt.Errorf(errOpenAIChatCompletion, err)
	}

	c.recordSuccess()
	observability.LLMTokens.WithLabelValues(task, "prompt").Add(float64(resp.Usage.PromptTokens))
	observability.LLMTokens.WithLabelValues(task, "completion").Add(float64(resp.Usage.CompletionTokens))

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		observability.LLMRequests.WithLabelValues(task, "empty").Inc()

		return fmt.Errorf("%s: %w", task, coreerrors.ErrEmptyResponse)
	}

	content := resp.Choices[0].Message.Content
	c.logger.Debug().Str("task", task).Str("content", content).Msg("LLM response")

	if err := json.Unmarshal([]byte(extractJSON(content)), out); err != nil {
		observability.LLMRequests.WithLabelValues(task, "invalid").Inc()

		return fmt.Errorf("decode %s response: %w", task, err)
	}

	observability.LLMRequests.WithLabelValues(task, "success").Inc()

	return nil
}

func (c *Client) checkCircuit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Now().Before(c.circuitOpenUntil) {
		return fmt.Errorf("%w until %v", coreerrors.ErrCircuitBreakerOpen, c.circuitOpenUntil)
	}

	return nil
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures = 0
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures++
	if c.consecutiveFailures >= circuitBreakerThreshold {
		c.circuitOpenUntil = time.Now().Add(circuitBreakerTimeout)
		c.logger.Warn().
			Int("consecutive_failures", c.consecutiveFailures).
			Time("open_until", c.circuitOpenUntil).
			Msg("Circuit breaker opened")
	}
}

// extractJSON strips markdown fences and prose around a JSON object.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")

	if start != -1 && end > start {
		return text[start : end+1]
	}

	return strings.TrimSpace(text)
}
