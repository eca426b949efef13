package mocks

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	coreerrors "github.com/lueurxax/hotspot-engine/internal/core/errors"
	"github.com/lueurxax/hotspot-engine/internal/core/ports"
)

// SupersededMessage is the error recorded on pending items replaced by a newer report.
const SupersededMessage = "superseded by newer report"

// PushItems returns copies of every push item, oldest first.
func (s *Store) PushItems() []domain.PushQueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.PushQueueItem, 0, len(s.pushes))
	for _, p := range s.pushes {
		out = append(out, clonePush(p))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out
}

// Reports returns copies of every stored report.
func (s *Store) Reports() []domain.BusinessReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.BusinessReport, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, *r)
	}

	return out
}

// SetLastSentAt sets the global send slot directly.
func (s *Store) SetLastSentAt(t *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSentAt = t
}

// CompleteAnalysis applies the transition and stores the report and push item together.
func (s *Store) CompleteAnalysis(ctx context.Context, c ports.AnalysisCompletion) (bool, error) {
	if s.CompleteAnalysisFn != nil {
		return s.CompleteAnalysisFn(ctx, c)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hotspots[c.Transition.HotspotID]
	if !ok {
		return false, fmt.Errorf("hotspot %s: %w", c.Transition.HotspotID, coreerrors.ErrNotFound)
	}

	if !c.Transition.Matches(h) {
		return false, nil
	}

	now := s.Now()
	c.Transition.Apply(h, now)

	report := c.Report
	if report.ID == "" {
		report.ID = uuid.NewString()
	}

	report.CreatedAt = now
	s.reports[report.ID] = &report

	item := c.Push
	item.ReportID = report.ID
	s.enqueueLocked(&item, now)

	return true, nil
}

// GetReport returns the report with id.
func (s *Store) GetReport(_ context.Context, id string) (*domain.BusinessReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, fmt.Errorf("report %s: %w", id, coreerrors.ErrNotFound)
	}

	cp := *r

	return &cp, nil
}

// GetLatestReport returns the newest report of a hotspot.
func (s *Store) GetLatestReport(_ context.Context, hotspotID string) (*domain.BusinessReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *domain.BusinessReport

	for _, r := range s.reports {
		if r.HotspotID == hotspotID && (latest == nil || r.CreatedAt.After(latest.CreatedAt)) {
			latest = r
		}
	}

	if latest == nil {
		return nil, fmt.Errorf("report for %s: %w", hotspotID, coreerrors.ErrNotFound)
	}

	cp := *latest

	return &cp, nil
}

// EnqueuePush inserts a pending item and supersedes older pending items of its hotspot.
func (s *Store) EnqueuePush(_ context.Context, item *domain.PushQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enqueueLocked(item, s.Now())

	return nil
}

func (s *Store) enqueueLocked(item *domain.PushQueueItem, now time.Time) {
	for _, p := range s.pushes {
		if p.HotspotID == item.HotspotID && p.Status == domain.PushStatusPending {
			p.Status = domain.PushStatusSuperseded
			p.ErrorMessage = SupersededMessage
			p.UpdatedAt = now
		}
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	item.Status = domain.PushStatusPending
	item.CreatedAt = now
	item.UpdatedAt = now

	if item.ScheduledAt.IsZero() {
		item.ScheduledAt = now
	}

	cp := clonePush(item)
	s.pushes[item.ID] = &cp
}

// LastSentAt returns the time of the most recent successful claim.
func (s *Store) LastSentAt(_ context.Context) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastSentAt == nil {
		return nil, nil
	}

	t := *s.lastSentAt

	return &t, nil
}

// ClaimNextPush reserves the send slot and marks the best due item sent.
func (s *Store) ClaimNextPush(ctx context.Context, now time.Time, minInterval time.Duration) (*ports.ClaimedPush, error) {
	if s.ClaimNextPushFn != nil {
		return s.ClaimNextPushFn(ctx, now, minInterval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastSentAt != nil && now.Sub(*s.lastSentAt) < minInterval {
		return nil, nil
	}

	var best *domain.PushQueueItem

	for _, p := range s.pushes {
		if p.Status != domain.PushStatusPending || p.ScheduledAt.After(now) {
			continue
		}

		if best == nil || p.Less(best) {
			best = p
		}
	}

	if best == nil {
		return nil, nil
	}

	prev := s.lastSentAt
	sentAt := now
	s.lastSentAt = &sentAt

	best.Status = domain.PushStatusSent
	best.SentAt = &sentAt
	best.UpdatedAt = s.Now()

	return &ports.ClaimedPush{Item: clonePush(best), SentAt: sentAt, PreviousSentAt: prev}, nil
}

// ReleasePush reverts a claimed item after a failed delivery.
func (s *Store) ReleasePush(_ context.Context, f ports.PushFailure) (domain.PushStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pushes[f.ItemID]
	if !ok {
		return "", fmt.Errorf("push %s: %w", f.ItemID, coreerrors.ErrNotFound)
	}

	if p.Status != domain.PushStatusSent || p.SentAt == nil || !p.SentAt.Equal(f.SentAt) {
		return p.Status, fmt.Errorf("push %s: %w", f.ItemID, coreerrors.ErrConflict)
	}

	p.RetryCount++
	p.ErrorMessage = f.Error
	p.SentAt = nil
	p.UpdatedAt = s.Now()

	if p.RetryCount > f.MaxRetries {
		p.Status = domain.PushStatusFailed
	} else {
		p.Status = domain.PushStatusPending
		p.ScheduledAt = f.RetryAt
	}

	if s.lastSentAt != nil && s.lastSentAt.Equal(f.SentAt) {
		s.lastSentAt = f.PreviousSentAt
	}

	return p.Status, nil
}

// GetPushItem returns the push item with id.
func (s *Store) GetPushItem(_ context.Context, id string) (*domain.PushQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pushes[id]
	if !ok {
		return nil, fmt.Errorf("push %s: %w", id, coreerrors.ErrNotFound)
	}

	cp := clonePush(p)

	return &cp, nil
}

// CountPendingPushes returns the number of pending push items.
func (s *Store) CountPendingPushes(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0

	for _, p := range s.pushes {
		if p.Status == domain.PushStatusPending {
			n++
		}
	}

	return n, nil
}

// Signals returns copies of every stored signal.
func (s *Store) Signals() []domain.RawSignal {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.RawSignal, 0, len(s.signals))
	for _, sig := range s.signals {
		out = append(out, *sig)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out
}

// SaveSignal inserts a pending signal.
func (s *Store) SaveSignal(_ context.Context, sig *domain.RawSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}

	sig.Status = domain.SignalStatusPending
	sig.CreatedAt = s.Now()

	cp := *sig
	s.signals[sig.ID] = &cp

	return nil
}

// ClaimSignals moves due pending signals to processing, oldest first.
func (s *Store) ClaimSignals(_ context.Context, n int, now time.Time) ([]domain.RawSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*domain.RawSignal

	for _, sig := range s.signals {
		if sig.Status != domain.SignalStatusPending {
			continue
		}

		if sig.NextRetryAt != nil && sig.NextRetryAt.After(now) {
			continue
		}

		due = append(due, sig)
	}

	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	due = limit(due, n)

	out := make([]domain.RawSignal, 0, len(due))

	for _, sig := range due {
		claimedAt := now
		sig.Status = domain.SignalStatusProcessing
		sig.ClaimedAt = &claimedAt
		sig.Attempts++
		out = append(out, *sig)
	}

	return out, nil
}

// CompleteSignal marks a signal done.
func (s *Store) CompleteSignal(_ context.Context, id, hotspotID, action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, ok := s.signals[id]
	if !ok {
		return fmt.Errorf("signal %s: %w", id, coreerrors.ErrNotFound)
	}

	sig.Status = domain.SignalStatusDone
	sig.HotspotID = hotspotID
	sig.Action = action
	sig.LastError = ""

	return nil
}

// ReleaseSignal returns a signal to pending for a later retry.
func (s *Store) ReleaseSignal(_ context.Context, id string, retryAt time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, ok := s.signals[id]
	if !ok {
		return fmt.Errorf("signal %s: %w", id, coreerrors.ErrNotFound)
	}

	sig.Status = domain.SignalStatusPending
	sig.NextRetryAt = &retryAt
	sig.ClaimedAt = nil
	sig.LastError = errMsg

	return nil
}

// RecoverStuckSignals returns processing signals claimed before claimedBefore to pending.
func (s *Store) RecoverStuckSignals(_ context.Context, claimedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64

	for _, sig := range s.signals {
		if sig.Status == domain.SignalStatusProcessing && sig.ClaimedAt != nil && sig.ClaimedAt.Before(claimedBefore) {
			sig.Status = domain.SignalStatusPending
			sig.ClaimedAt = nil
			n++
		}
	}

	return n, nil
}

func clonePush(p *domain.PushQueueItem) domain.PushQueueItem {
	cp := *p
	cp.Channels = append([]string(nil), p.Channels...)

	return cp
}
