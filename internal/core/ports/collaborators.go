package ports

import (
	"context"
	"encoding/json"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
)

// Embedder converts text into a vector. Failures are transient.
type Embedder interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Classifier makes the first-stage keep/reject judgment for a keyword.
type Classifier interface {
	Classify(ctx context.Context, keyword, hint string) (domain.Judgment, error)
}

// CrawlRequest asks the crawler service to collect content for a hotspot.
type CrawlRequest struct {
	HotspotID string
	Keyword   string
	Platforms []string
}

// CrawlerService dispatches crawl jobs. Completion arrives asynchronously.
type CrawlerService interface {
	SubmitCrawl(ctx context.Context, req CrawlRequest) (string, error)
}

// AnalysisRequest carries crawled content to the business analysis collaborator.
type AnalysisRequest struct {
	HotspotID string
	Keyword   string
	Platforms []domain.PlatformObservation
	CrawlData json.RawMessage
}

// AnalysisOutcome is either a second-stage rejection or a business report.
type AnalysisOutcome struct {
	Rejected     bool
	Reason       string
	Report       json.RawMessage
	Score        float64
	Priority     domain.Priority
	ProductTypes []string
}

// Analyzer produces the deep second-stage judgment and the business report.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisOutcome, error)
}

// PushPayload is what a channel delivers.
type PushPayload struct {
	PushID    string
	HotspotID string
	Keyword   string
	Priority  domain.Priority
	Score     float64
	Report    json.RawMessage
}

// Channel delivers a push payload.
type Channel interface {
	Name() string
	Send(ctx context.Context, payload PushPayload) error
}
