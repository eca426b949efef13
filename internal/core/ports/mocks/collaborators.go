package mocks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	"github.com/lueurxax/hotspot-engine/internal/core/ports"
)

var (
	_ ports.Embedder       = (*Embedder)(nil)
	_ ports.Classifier     = (*Classifier)(nil)
	_ ports.CrawlerService = (*Crawler)(nil)
	_ ports.Analyzer       = (*Analyzer)(nil)
	_ ports.Channel        = (*Channel)(nil)
)

// Embedder returns preset vectors per text.
type Embedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   int

	// GetEmbeddingFn allows overriding GetEmbedding behavior.
	GetEmbeddingFn func(ctx context.Context, text string) ([]float32, error)
}

// NewEmbedder creates an embedder with no preset vectors.
func NewEmbedder() *Embedder {
	return &Embedder{vectors: make(map[string][]float32)}
}

// Set presets the vector returned for text.
func (e *Embedder) Set(text string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.vectors[text] = vec
}

// Calls returns the number of GetEmbedding calls.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.calls
}

// GetEmbedding returns the preset vector, or a unit vector on the first axis.
func (e *Embedder) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	fn := e.GetEmbeddingFn
	vec, ok := e.vectors[text]
	e.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}

	if !ok {
		return []float32{1, 0, 0}, nil
	}

	return append([]float32(nil), vec...), nil
}

// Classifier keeps every keyword unless told otherwise.
type Classifier struct {
	mu      sync.Mutex
	rejects map[string]string

	// ClassifyFn allows overriding Classify behavior.
	ClassifyFn func(ctx context.Context, keyword, hint string) (domain.Judgment, error)
}

// NewClassifier creates a classifier that keeps everything.
func NewClassifier() *Classifier {
	return &Classifier{rejects: make(map[string]string)}
}

// Reject makes Classify reject keyword with reason.
func (c *Classifier) Reject(keyword, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rejects[keyword] = reason
}

// Classify returns the configured judgment.
func (c *Classifier) Classify(ctx context.Context, keyword, hint string) (domain.Judgment, error) {
	if c.ClassifyFn != nil {
		return c.ClassifyFn(ctx, keyword, hint)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if reason, ok := c.rejects[keyword]; ok {
		return domain.Judgment{Keep: false, Reason: reason}, nil
	}

	return domain.Judgment{Keep: true, Reason: "relevant"}, nil
}

// Crawler records submitted crawl jobs.
type Crawler struct {
	mu       sync.Mutex
	requests []ports.CrawlRequest

	// SubmitCrawlFn allows overriding SubmitCrawl behavior.
	SubmitCrawlFn func(ctx context.Context, req ports.CrawlRequest) (string, error)
}

// NewCrawler creates a crawler that accepts every job.
func NewCrawler() *Crawler {
	return &Crawler{}
}

// Requests returns the submitted jobs in order.
func (c *Crawler) Requests() []ports.CrawlRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]ports.CrawlRequest(nil), c.requests...)
}

// SubmitCrawl records req.
func (c *Crawler) SubmitCrawl(ctx context.Context, req ports.CrawlRequest) (string, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	fn := c.SubmitCrawlFn
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	return "job-" + req.HotspotID, nil
}

// Analyzer returns a fixed outcome.
type Analyzer struct {
	mu       sync.Mutex
	requests []ports.AnalysisRequest
	outcome  ports.AnalysisOutcome

	// AnalyzeFn allows overriding Analyze behavior.
	AnalyzeFn func(ctx context.Context, req ports.AnalysisRequest) (*ports.AnalysisOutcome, error)
}

// NewAnalyzer creates an analyzer producing a medium-priority report.
func NewAnalyzer() *Analyzer {
	return &Analyzer{outcome: ports.AnalysisOutcome{
		Report:       json.RawMessage(`{"summary":"ok"}`),
		Score:        50,
		Priority:     domain.PriorityMedium,
		ProductTypes: []string{"general"},
	}}
}

// SetOutcome replaces the default outcome.
func (a *Analyzer) SetOutcome(o ports.AnalysisOutcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.outcome = o
}

// Requests returns the analysis requests in order.
func (a *Analyzer) Requests() []ports.AnalysisRequest {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]ports.AnalysisRequest(nil), a.requests...)
}

// Analyze records req and returns the configured outcome.
func (a *Analyzer) Analyze(ctx context.Context, req ports.AnalysisRequest) (*ports.AnalysisOutcome, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	fn := a.AnalyzeFn
	out := a.outcome
	a.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	return &out, nil
}

// Channel records delivered payloads.
type Channel struct {
	mu   sync.Mutex
	name string
	sent []ports.PushPayload

	// SendFn allows overriding Send behavior.
	SendFn func(ctx context.Context, payload ports.PushPayload) error
}

// NewChannel creates a channel registered under name.
func NewChannel(name string) *Channel {
	return &Channel{name: name}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// Sent returns the delivered payloads in order.
func (c *Channel) Sent() []ports.PushPayload {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]ports.PushPayload(nil), c.sent...)
}

// Send records payload unless SendFn fails.
func (c *Channel) Send(ctx context.Context, payload ports.PushPayload) error {
	c.mu.Lock()
	fn := c.SendFn
	c.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, payload); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.sent = append(c.sent, payload)
	c.mu.Unlock()

	return nil
}
