package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	"github.com/lueurxax/hotspot-engine/internal/core/ports"
)

var _ ports.Analyzer = (*Analyzer)(nil)

// maxCrawlDataChars bounds the crawled content placed in the prompt.
const maxCrawlDataChars = 12000

// Analyzer produces the second-stage judgment and the business report.
type Analyzer struct {
	client *Client
}

// NewAnalyzer wraps client.
func NewAnalyzer(client *Client) *Analyzer {
	return &Analyzer{client: client}
}

type analyzeResponse struct {
	Keep         bool            `json:"keep"`
	Reason       string          `json:"reason"`
	Score        float64         `json:"score"`
	Priority     string          `json:"priority"`
	ProductTypes []string        `json:"product_types"`
	Report       json.RawMessage `json:"report"`
}

// Analyze runs synchronously and always returns an outcome on success.
func (a *Analyzer) Analyze(ctx context.Context, req ports.AnalysisRequest) (*ports.AnalysisOutcome, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Topic: %s\n", req.Keyword)

	for _, p := range req.Platforms {
		fmt.Fprintf(&sb, "Seen on %s at rank %d, heat %d\n", p.Platform, p.Rank, p.HeatScore)
	}

	data := string(req.CrawlData)
	if len(data) > maxCrawlDataChars {
		data = truncateUTF8(data, maxCrawlDataChars)
	}

	fmt.Fprintf(&sb, "Crawled content:\n%s\n", data)

	var resp analyzeResponse
	if err := a.client.completeJSON(ctx, TaskAnalyze, analyzeSystemPrompt, sb.String(), &resp); err != nil {
		return nil, err
	}

	if !resp.Keep {
		return &ports.AnalysisOutcome{Rejected: true, Reason: strings.TrimSpace(resp.Reason)}, nil
	}

	priority, err := domain.ParsePriority(strings.ToLower(strings.TrimSpace(resp.Priority)))
	if err != nil {
		return nil, fmt.Errorf("analysis response: %w", err)
	}

	report := resp.Report
	if len(report) == 0 {
		report = json.RawMessage(`{}`)
	}

	return &ports.AnalysisOutcome{
		Report:       report,
		Score:        clampScore(resp.Score),
		Priority:     priority,
		ProductTypes: resp.ProductTypes,
	}, nil
}

func clampScore(s float64) float64 {
	switch {
	case s < domain.MinReportScore:
		return domain.MinReportScore
	case s > domain.MaxReportScore:
		return domain.MaxReportScore
	default:
		return s
	}
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}

	return s[:n]
}
