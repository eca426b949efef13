package domain

import (
	"encoding/json"
	"fmt"
	"time"

	coreerrors "github.com/lueurxax/hotspot-engine/internal/core/errors"
)

// Priority orders reports in the push queue.
type Priority string

// Report priorities.
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority converts a stored or received value into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return Priority(s), nil
	default:
		return "", fmt.Errorf("%w: unknown priority %q", coreerrors.ErrInvalidArgument, s)
	}
}

// AllPriorities returns every priority, most urgent first.
func AllPriorities() []Priority {
	return []Priority{PriorityHigh, PriorityMedium, PriorityLow}
}

// Rank returns the sort rank of p; lower ranks are sent first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// Report score bounds.
const (
	MinReportScore = 0
	MaxReportScore = 100
)

// BusinessReport is the immutable result of analyzing one hotspot.
type BusinessReport struct {
	ID           string
	HotspotID    string
	Report       json.RawMessage
	Score        float64
	Priority     Priority
	ProductTypes []string
	CreatedAt    time.Time
}

// Validate checks score bounds and priority.
func (r *BusinessReport) Validate() error {
	if r.HotspotID == "" {
		return fmt.Errorf("%w: report without hotspot", coreerrors.ErrInvalidArgument)
	}

	if r.Score < MinReportScore || r.Score > MaxReportScore {
		return fmt.Errorf("%w: score %.2f outside [%d,%d]", coreerrors.ErrInvalidArgument, r.Score, MinReportScore, MaxReportScore)
	}

	if _, err := ParsePriority(string(r.Priority)); err != nil {
		return err
	}

	return nil
}

// PushStatus is the delivery state of a push queue item.
type PushStatus string

// Push statuses. Superseded marks a pending item replaced by a newer report
// of the same hotspot; it was never attempted and is not a delivery failure.
const (
	PushStatusPending    PushStatus = "pending"
	PushStatusSent       PushStatus = "sent"
	PushStatusFailed     PushStatus = "failed"
	PushStatusSuperseded PushStatus = "superseded"
)

// AllPushStatuses returns every push status.
func AllPushStatuses() []PushStatus {
	return []PushStatus{PushStatusPending, PushStatusSent, PushStatusFailed, PushStatusSuperseded}
}

// PushQueueItem is one pending or completed delivery of a report.
type PushQueueItem struct {
	ID           string
	HotspotID    string
	ReportID     string
	Keyword      string
	Priority     Priority
	Score        float64
	Status       PushStatus
	Channels     []string
	ScheduledAt  time.Time
	SentAt       *time.Time
	RetryCount   int
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Less orders items high > medium > low, then by score descending, then by
// earliest creation.
func (p *PushQueueItem) Less(other *PushQueueItem) bool {
	if p.Priority.Rank() != other.Priority.Rank() {
		return p.Priority.Rank() < other.Priority.Rank()
	}

	if p.Score != other.Score {
		return p.Score > other.Score
	}

	return p.CreatedAt.Before(other.CreatedAt)
}
