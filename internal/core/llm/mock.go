package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	"github.com/lueurxax/hotspot-engine/internal/core/ports"
)

// Mock scores used when no LLM is configured.
const (
	mockBaseScore        = 40
	mockScorePerSighting = 10
	mockHighScore        = 80
)

// MockClassifier keeps every topic. It stands in when no API key is set.
type MockClassifier struct{}

// Classify implements ports.Classifier.
func (MockClassifier) Classify(context.Context, string, string) (domain.Judgment, error) {
	return domain.Judgment{Keep: true, Reason: "mock classifier keeps every topic"}, nil
}

// MockAnalyzer scores a topic by how many platform sightings it has.
type MockAnalyzer struct{}

// Analyze implements ports.Analyzer.
func (MockAnalyzer) Analyze(_ context.Context, req ports.AnalysisRequest) (*ports.AnalysisOutcome, error) {
	score := clampScore(float64(mockBaseScore + mockScorePerSighting*len(req.Platforms)))

	priority := domain.PriorityMedium
	if score >= mockHighScore {
		priority = domain.PriorityHigh
	}

	report, err := json.Marshal(map[string]string{
		"summary": fmt.Sprintf("%s was seen %d times", req.Keyword, len(req.Platforms)),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal mock report: %w", err)
	}

	return &ports.AnalysisOutcome{
		Report:       report,
		Score:        score,
		Priority:     priority,
		ProductTypes: []string{"general"},
	}, nil
}
