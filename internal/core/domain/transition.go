package domain

import (
	"encoding/json"
	"time"
)

// Patch lists the bookkeeping fields a transition writes together with the
// status. Zero values leave the field untouched.
type Patch struct {
	ScreenedAt *time.Time

	// First-stage rejection. Never written by second-stage events.
	FilterReason string
	FilteredAt   *time.Time

	SecondStageReason     string
	SecondStageRejectedAt *time.Time

	CrawlStartedAt      *time.Time
	ClearCrawlStartedAt bool
	// CountCrawlOn increments the daily claim counter for that day,
	// resetting it when the day changed.
	CountCrawlOn         *time.Time
	LastCrawledAt        *time.Time
	IncrementCrawlFailed bool
	CrawlData            json.RawMessage

	AnalysisStartedAt      *time.Time
	ClearAnalysisStartedAt bool
}

// Transition is a conditional status change. It applies only while the row
// is still in From and every non-zero guard holds.
type Transition struct {
	HotspotID string
	From      Status
	To        Status
	Patch     Patch

	LastSeenBefore        time.Time
	FirstSeenBefore       time.Time
	CrawlStartedBefore    time.Time
	AnalysisStartedBefore time.Time

	// CrawlCap, when positive, requires fewer than CrawlCap claims counted
	// on CrawlCapDay.
	CrawlCap    int
	CrawlCapDay time.Time
	// CooledBefore requires the last successful crawl, if any, to be older.
	CooledBefore time.Time
}

// Matches reports whether h satisfies the transition's conditions.
func (t *Transition) Matches(h *Hotspot) bool {
	if h.Status != t.From {
		return false
	}

	if !t.LastSeenBefore.IsZero() && !h.LastSeenAt.Before(t.LastSeenBefore) {
		return false
	}

	if !t.FirstSeenBefore.IsZero() && !h.FirstSeenAt.Before(t.FirstSeenBefore) {
		return false
	}

	if !t.CrawlStartedBefore.IsZero() && (h.CrawlStartedAt == nil || !h.CrawlStartedAt.Before(t.CrawlStartedBefore)) {
		return false
	}

	if !t.AnalysisStartedBefore.IsZero() && (h.AnalysisStartedAt == nil || !h.AnalysisStartedAt.Before(t.AnalysisStartedBefore)) {
		return false
	}

	if t.CrawlCap > 0 && h.CrawlsOn(t.CrawlCapDay) >= t.CrawlCap {
		return false
	}

	if !t.CooledBefore.IsZero() && h.LastCrawledAt != nil && !h.LastCrawledAt.Before(t.CooledBefore) {
		return false
	}

	return true
}

// Apply writes the transition onto h. Callers check Matches first.
func (t *Transition) Apply(h *Hotspot, now time.Time) {
	h.Status = t.To
	h.UpdatedAt = now

	p := t.Patch

	if p.ScreenedAt != nil {
		h.ScreenedAt = p.ScreenedAt
	}

	if p.FilteredAt != nil {
		h.IsFiltered = true
		h.FilterReason = p.FilterReason
		h.FilteredAt = p.FilteredAt
	}

	if p.SecondStageRejectedAt != nil {
		h.SecondStageRejectionReason = p.SecondStageReason
		h.SecondStageRejectedAt = p.SecondStageRejectedAt
	}

	if p.CrawlStartedAt != nil {
		h.CrawlStartedAt = p.CrawlStartedAt
	}

	if p.ClearCrawlStartedAt {
		h.CrawlStartedAt = nil
	}

	if p.CountCrawlOn != nil {
		if h.CrawlCountDay.Equal(*p.CountCrawlOn) {
			h.CrawlCount++
		} else {
			h.CrawlCount = 1
			h.CrawlCountDay = *p.CountCrawlOn
		}
	}

	if p.LastCrawledAt != nil {
		h.LastCrawledAt = p.LastCrawledAt
	}

	if p.IncrementCrawlFailed {
		h.CrawlFailedCount++
	}

	if p.CrawlData != nil {
		h.CrawlData = append(json.RawMessage(nil), p.CrawlData...)
	}

	if p.AnalysisStartedAt != nil {
		h.AnalysisStartedAt = p.AnalysisStartedAt
	}

	if p.ClearAnalysisStartedAt {
		h.AnalysisStartedAt = nil
	}
}
