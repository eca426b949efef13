package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	"github.com/lueurxax/hotspot-engine/internal/core/ports"
)

var _ ports.Classifier = (*Classifier)(nil)

// Classifier makes the first-stage keep/reject judgment.
type Classifier struct {
	client *Client
}

// NewClassifier wraps client.
func NewClassifier(client *Client) *Classifier {
	return &Classifier{client: client}
}

type classifyResponse struct {
	Keep   bool   `json:"keep"`
	Reason string `json:"reason"`
}

// Classify judges keyword. hint carries platform context such as rank and heat.
func (c *Classifier) Classify(ctx context.Context, keyword, hint string) (domain.Judgment, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Topic: %s\n", keyword)

	if hint != "" {
		fmt.Fprintf(&sb, "Context: %s\n", hint)
	}

	var resp classifyResponse
	if err := c.client.completeJSON(ctx, TaskClassify, classifySystemPrompt, sb.String(), &resp); err != nil {
		return domain.Judgment{}, err
	}

	return domain.Judgment{Keep: resp.Keep, Reason: strings.TrimSpace(resp.Reason)}, nil
}
