package mocks

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	coreerrors "github.com/lueurxax/hotspot-engine/internal/core/errors"
	"github.com/lueurxax/hotspot-engine/internal/core/ports"
)

var _ ports.Store = (*Store)(nil)

// Store is a thread-safe in-memory implementation of ports.Store.
type Store struct {
	mu         sync.Mutex
	hotspots   map[string]*domain.Hotspot
	byKeyword  map[string]string
	clusters   map[string]*domain.Cluster
	reports    map[string]*domain.BusinessReport
	pushes     map[string]*domain.PushQueueItem
	signals    map[string]*domain.RawSignal
	lastSentAt *time.Time

	// Now stamps updated_at columns. Defaults to time.Now.
	Now func() time.Time

	// TransitionStatusFn allows overriding TransitionStatus behavior.
	TransitionStatusFn func(ctx context.Context, t domain.Transition) (bool, error)

	// FindNearestHotspotFn allows overriding FindNearestHotspot behavior.
	FindNearestHotspotFn func(ctx context.Context, embedding []float32, seenSince time.Time) (*ports.SimilarHotspot, error)

	// SplitClusterFn allows overriding SplitCluster behavior.
	SplitClusterFn func(ctx context.Context, plan ports.SplitPlan) error

	// MergeClustersFn allows overriding MergeClusters behavior.
	MergeClustersFn func(ctx context.Context, plan ports.MergePlan) error

	// CompleteAnalysisFn allows overriding CompleteAnalysis behavior.
	CompleteAnalysisFn func(ctx context.Context, c ports.AnalysisCompletion) (bool, error)

	// ClaimNextPushFn allows overriding ClaimNextPush behavior.
	ClaimNextPushFn func(ctx context.Context, now time.Time, minInterval time.Duration) (*ports.ClaimedPush, error)
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		hotspots:  make(map[string]*domain.Hotspot),
		byKeyword: make(map[string]string),
		clusters:  make(map[string]*domain.Cluster),
		reports:   make(map[string]*domain.BusinessReport),
		pushes:    make(map[string]*domain.PushQueueItem),
		signals:   make(map[string]*domain.RawSignal),
		Now:       time.Now,
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// PutHotspot stores h directly, replacing any hotspot with the same ID.
func (s *Store) PutHotspot(h *domain.Hotspot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.ID == "" {
		h.ID = uuid.NewString()
	}

	s.hotspots[h.ID] = h.Clone()
	s.byKeyword[h.Keyword] = h.ID
}

// Hotspot returns a copy of the stored hotspot, or nil.
func (s *Store) Hotspot(id string) *domain.Hotspot {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hotspots[id]
	if !ok {
		return nil
	}

	return h.Clone()
}

// Hotspots returns copies of every stored hotspot, oldest first.
func (s *Store) Hotspots() []domain.Hotspot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Hotspot, 0, len(s.hotspots))
	for _, h := range s.hotspots {
		out = append(out, *h.Clone())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeenAt.Before(out[j].FirstSeenAt) })

	return out
}

// PutCluster stores c directly and recomputes its keywords.
func (s *Store) PutCluster(c *domain.Cluster) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.clusters[c.ID] = &cp
	s.refreshKeywordsLocked(c.ID)
}

// HotspotCount returns the number of stored hotspots.
func (s *Store) HotspotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.hotspots)
}

// CreateHotspot inserts h unless the keyword already exists.
func (s *Store) CreateHotspot(_ context.Context, h *domain.Hotspot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byKeyword[h.Keyword]; ok {
		return false, nil
	}

	if h.ClusterID != "" {
		if _, ok := s.clusters[h.ClusterID]; !ok {
			return false, fmt.Errorf("cluster %s: %w", h.ClusterID, coreerrors.ErrNotFound)
		}
	}

	if h.ID == "" {
		h.ID = uuid.NewString()
	}

	now := s.Now()
	h.CreatedAt = now
	h.UpdatedAt = now

	s.hotspots[h.ID] = h.Clone()
	s.byKeyword[h.Keyword] = h.ID

	if h.ClusterID != "" {
		s.touchClusterLocked(h.ClusterID)
	}

	return true, nil
}

// GetHotspot returns the hotspot with id.
func (s *Store) GetHotspot(_ context.Context, id string) (*domain.Hotspot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hotspots[id]
	if !ok {
		return nil, fmt.Errorf("hotspot %s: %w", id, coreerrors.ErrNotFound)
	}

	return h.Clone(), nil
}

// GetHotspotByKeyword returns the hotspot with the exact keyword.
func (s *Store) GetHotspotByKeyword(_ context.Context, keyword string) (*domain.Hotspot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byKeyword[keyword]
	if !ok {
		return nil, fmt.Errorf("keyword %q: %w", keyword, coreerrors.ErrNotFound)
	}

	return s.hotspots[id].Clone(), nil
}

// FindNearestHotspot scans all embedded hotspots seen since seenSince.
func (s *Store) FindNearestHotspot(ctx context.Context, embedding []float32, seenSince time.Time) (*ports.SimilarHotspot, error) {
	if s.FindNearestHotspotFn != nil {
		return s.FindNearestHotspotFn(ctx, embedding, seenSince)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var best *ports.SimilarHotspot

	for _, h := range s.hotspots {
		if len(h.Embedding) == 0 || h.LastSeenAt.Before(seenSince) {
			continue
		}

		sim := cosine(embedding, h.Embedding)
		if best == nil || sim > best.Similarity || (sim == best.Similarity && h.LastSeenAt.After(best.LastSeenAt)) {
			best = &ports.SimilarHotspot{
				HotspotID:  h.ID,
				ClusterID:  h.ClusterID,
				Keyword:    h.Keyword,
				Similarity: sim,
				LastSeenAt: h.LastSeenAt,
			}
		}
	}

	return best, nil
}

// MergeObservation appends obs unless its key was already merged.
func (s *Store) MergeObservation(_ context.Context, id string, obs domain.PlatformObservation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hotspots[id]
	if !ok {
		return false, fmt.Errorf("hotspot %s: %w", id, coreerrors.ErrNotFound)
	}

	if h.HasObservation(obs.Key) {
		return false, nil
	}

	h.Platforms = append(h.Platforms, obs)
	h.AppearanceCount++

	if h.AppearanceCount == 2 && h.SecondSeenAt == nil {
		at := obs.SeenAt
		h.SecondSeenAt = &at
	}

	if obs.SeenAt.After(h.LastSeenAt) {
		h.LastSeenAt = obs.SeenAt
	}

	h.UpdatedAt = s.Now()

	return true, nil
}

// TransitionStatus applies t when the hotspot still matches its conditions.
func (s *Store) TransitionStatus(ctx context.Context, t domain.Transition) (bool, error) {
	if s.TransitionStatusFn != nil {
		return s.TransitionStatusFn(ctx, t)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transitionLocked(t)
}

func (s *Store) transitionLocked(t domain.Transition) (bool, error) {
	h, ok := s.hotspots[t.HotspotID]
	if !ok {
		return false, fmt.Errorf("hotspot %s: %w", t.HotspotID, coreerrors.ErrNotFound)
	}

	if !t.Matches(h) {
		return false, nil
	}

	t.Apply(h, s.Now())

	return true, nil
}

// MarkScreened records a keep judgment on an unscreened pending hotspot.
func (s *Store) MarkScreened(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hotspots[id]
	if !ok {
		return false, fmt.Errorf("hotspot %s: %w", id, coreerrors.ErrNotFound)
	}

	if h.Status != domain.StatusPendingValidation || h.ScreenedAt != nil {
		return false, nil
	}

	h.ScreenedAt = &at
	h.UpdatedAt = s.Now()

	return true, nil
}

// ListHotspots returns hotspots matching f.
func (s *Store) ListHotspots(_ context.Context, f ports.HotspotFilter) ([]domain.Hotspot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Hotspot

	for _, h := range s.hotspots {
		if !matchesFilter(h, f) {
			continue
		}

		out = append(out, *h.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if f.Order == ports.OrderLastSeenDesc {
			return out[i].LastSeenAt.After(out[j].LastSeenAt)
		}

		return out[i].FirstSeenAt.Before(out[j].FirstSeenAt)
	})

	return limit(out, f.Limit), nil
}

func matchesFilter(h *domain.Hotspot, f ports.HotspotFilter) bool {
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, h.Status) {
		return false
	}

	if f.Screened != nil && (h.ScreenedAt != nil) != *f.Screened {
		return false
	}

	if f.MinAppearances > 0 && h.AppearanceCount < f.MinAppearances {
		return false
	}

	if !f.LastSeenBefore.IsZero() && !h.LastSeenAt.Before(f.LastSeenBefore) {
		return false
	}

	if !f.FirstSeenBefore.IsZero() && !h.FirstSeenAt.Before(f.FirstSeenBefore) {
		return false
	}

	if !f.CrawlStartedBefore.IsZero() && (h.CrawlStartedAt == nil || !h.CrawlStartedAt.Before(f.CrawlStartedBefore)) {
		return false
	}

	if !f.AnalysisStartedBefore.IsZero() && (h.AnalysisStartedAt == nil || !h.AnalysisStartedAt.Before(f.AnalysisStartedBefore)) {
		return false
	}

	return true
}

// ListCrawlEligible returns validated hotspots past the cooldown and under
// the daily cap, one per cluster, adopting a representative for clusters
// without a live one.
func (s *Store) ListCrawlEligible(_ context.Context, q ports.CrawlEligibility) ([]domain.Hotspot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Hotspot

	picked := make(map[string]*domain.Hotspot)

	for _, h := range s.hotspots {
		if h.Status != domain.StatusValidated {
			continue
		}

		if h.LastCrawledAt != nil && !h.LastCrawledAt.Before(q.CooledBefore) {
			continue
		}

		if h.CrawlsOn(q.Day) >= q.DailyCap {
			continue
		}

		c := s.clusters[h.ClusterID]
		if c == nil {
			out = append(out, *h.Clone())
			continue
		}

		if rep := s.liveRepresentativeLocked(c); rep != "" && rep != h.ID {
			continue
		}

		if cur := picked[c.ID]; cur == nil || fresher(h, cur) {
			picked[c.ID] = h
		}
	}

	for clusterID, h := range picked {
		s.clusters[clusterID].SelectedHotspotID = h.ID
		out = append(out, *h.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeenAt.After(out[j].LastSeenAt)
	})

	return limit(out, q.Limit), nil
}

// liveRepresentativeLocked returns the id of c's representative while it
// is still a member and has not retired, or "".
func (s *Store) liveRepresentativeLocked(c *domain.Cluster) string {
	rep := s.hotspots[c.SelectedHotspotID]
	if rep == nil || rep.ClusterID != c.ID || rep.Status.RetiresRepresentative() {
		return ""
	}

	return rep.ID
}

func fresher(a, b *domain.Hotspot) bool {
	if !a.LastSeenAt.Equal(b.LastSeenAt) {
		return a.LastSeenAt.After(b.LastSeenAt)
	}

	return a.ID < b.ID
}

// ReclaimAnalysis restamps a timed-out analysis dispatch.
func (s *Store) ReclaimAnalysis(_ context.Context, id string, startedBefore, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hotspots[id]
	if !ok {
		return false, fmt.Errorf("hotspot %s: %w", id, coreerrors.ErrNotFound)
	}

	if h.Status != domain.StatusAnalyzing || h.AnalysisStartedAt == nil || !h.AnalysisStartedAt.Before(startedBefore) {
		return false, nil
	}

	h.AnalysisStartedAt = &now
	h.UpdatedAt = s.Now()

	return true, nil
}

// ListArchivable returns analyzed hotspots whose newest push item is settled.
func (s *Store) ListArchivable(_ context.Context, n int) ([]domain.Hotspot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newest := make(map[string]*domain.PushQueueItem)

	for _, p := range s.pushes {
		cur, ok := newest[p.HotspotID]
		if !ok || p.CreatedAt.After(cur.CreatedAt) {
			newest[p.HotspotID] = p
		}
	}

	var out []domain.Hotspot

	for _, h := range s.hotspots {
		if h.Status != domain.StatusAnalyzed {
			continue
		}

		p, ok := newest[h.ID]
		if !ok || p.Status == domain.PushStatusPending {
			continue
		}

		out = append(out, *h.Clone())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeenAt.Before(out[j].FirstSeenAt) })

	return limit(out, n), nil
}

func containsStatus(list []domain.Status, st domain.Status) bool {
	for _, s := range list {
		if s == st {
			return true
		}
	}

	return false
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}

	return items
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, na, nb float64

	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}

	if na == 0 || nb == 0 {
		return 0
	}

	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
