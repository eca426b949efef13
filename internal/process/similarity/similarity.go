// Package similarity decides whether an incoming signal is a reappearance of
// a tracked hotspot or a new one.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	coreerrors "github.com/lueurxax/hotspot-engine/internal/core/errors"
	"github.com/lueurxax/hotspot-engine/internal/core/ports"
	"github.com/lueurxax/hotspot-engine/internal/core/textnorm"
	"github.com/lueurxax/hotspot-engine/internal/platform/observability"
)

const (
	// DefaultThreshold is the minimum cosine similarity for a merge.
	DefaultThreshold = 0.85
	// DefaultAttachThreshold is the minimum similarity for joining a neighbour's cluster.
	DefaultAttachThreshold = 0.75
	defaultWindow          = 7 * 24 * time.Hour

	// createRaceRetries bounds retries when a concurrent ingest inserts the same keyword.
	createRaceRetries = 2

	logKeyHotspotID = "hotspot_id"
	logKeyKeyword   = "keyword"
)

// Action is the ingest outcome.
type Action string

// Ingest outcomes.
const (
	ActionCreated   Action = "created"
	ActionMerged    Action = "merged"
	ActionDuplicate Action = "duplicate"
	ActionRejected  Action = "rejected"
)

// Repository is the storage the matcher needs.
type Repository interface {
	GetHotspotByKeyword(ctx context.Context, keyword string) (*domain.Hotspot, error)
	FindNearestHotspot(ctx context.Context, embedding []float32, seenSince time.Time) (*ports.SimilarHotspot, error)
	CreateHotspot(ctx context.Context, h *domain.Hotspot) (bool, error)
	MergeObservation(ctx context.Context, id string, obs domain.PlatformObservation) (bool, error)
}

// Lifecycle applies the follow-up transitions of an ingest.
type Lifecycle interface {
	TryValidate(ctx context.Context, id string) (bool, error)
	Reject(ctx context.Context, id, reason string) (bool, error)
}

// Grouper attaches new hotspots to related clusters.
type Grouper interface {
	AutoAttach(ctx context.Context, hotspotID string, neighbor ports.SimilarHotspot) (string, error)
}

// Config holds the matching thresholds.
type Config struct {
	Threshold       float64
	AttachThreshold float64
	// Window limits neighbours to hotspots seen this recently.
	Window time.Duration
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}

	if c.AttachThreshold <= 0 {
		c.AttachThreshold = DefaultAttachThreshold
	}

	if c.Window <= 0 {
		c.Window = defaultWindow
	}

	return c
}

// Signal is one observation of a keyword.
type Signal struct {
	Keyword     string
	Observation domain.PlatformObservation
	// Embedding is computed on demand when empty.
	Embedding []float32
	// Judgment is an upstream first-stage decision, if the source made one.
	Judgment *domain.Judgment
}

// Result reports what Ingest did.
type Result struct {
	Action     Action
	HotspotID  string
	ClusterID  string
	Similarity float64
}

// Matcher implements Ingest.
type Matcher struct {
	repo      Repository
	embedder  ports.Embedder
	lifecycle Lifecycle
	grouper   Grouper
	cfg       Config
	now       func() time.Time
	logger    *zerolog.Logger
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Matcher) {
		m.now = now
	}
}

// WithGrouper enables cluster auto-attach for new hotspots.
func WithGrouper(g Grouper) Option {
	return func(m *Matcher) {
		m.grouper = g
	}
}

// New creates a Matcher.
func New(repo Repository, embedder ports.Embedder, lifecycle Lifecycle, cfg Config, logger *zerolog.Logger, opts ...Option) *Matcher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	m := &Matcher{
		repo:      repo,
		embedder:  embedder,
		lifecycle: lifecycle,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		logger:    logger,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Ingest records sig. An exact keyword match or a neighbour at or above the
// threshold receives the observation; otherwise a new pending hotspot is
// created. Re-ingesting the same observation is a no-op reported as
// ActionDuplicate. Embedding failures return ErrEmbeddingUnavailable and
// write nothing.
func (m *Matcher) Ingest(ctx context.Context, sig Signal) (Result, error) {
	keyword := textnorm.Clean(sig.Keyword)
	if keyword == "" {
		return Result{}, fmt.Errorf("%w: empty keyword", coreerrors.ErrInvalidArgument)
	}

	obs := sig.Observation
	if obs.SeenAt.IsZero() {
		obs.SeenAt = m.now()
	}

	obs.SeenAt = obs.SeenAt.UTC()

	if obs.Key == "" {
		obs.Key = domain.ObservationKey(keyword, obs)
	}

	for attempt := 0; attempt <= createRaceRetries; attempt++ {
		res, retry, err := m.ingestOnce(ctx, keyword, obs, sig)
		if err != nil {
			return Result{}, err
		}

		if !retry {
			observability.HotspotsIngested.WithLabelValues(string(res.Action)).Inc()

			return res, nil
		}

		observability.IngestRetries.Inc()
	}

	return Result{}, fmt.Errorf("ingest %q: %w", keyword, coreerrors.ErrConflict)
}

func (m *Matcher) ingestOnce(ctx context.Context, keyword string, obs domain.PlatformObservation, sig Signal) (Result, bool, error) {
	existing, err := m.repo.GetHotspotByKeyword(ctx, keyword)
	if err == nil {
		res, err := m.merge(ctx, existing.ID, existing.ClusterID, 1, obs)

		return res, false, err
	}

	if !errors.Is(err, coreerrors.ErrNotFound) {
		return Result{}, false, fmt.Errorf("lookup keyword: %w", err)
	}

	embedding := sig.Embedding
	if len(embedding) == 0 {
		embedding, err = m.embedder.GetEmbedding(ctx, keyword)
		if err != nil {
			return Result{}, false, fmt.Errorf("%w: %w", coreerrors.ErrEmbeddingUnavailable, err)
		}

		if len(embedding) == 0 {
			return Result{}, false, fmt.Errorf("%w: empty vector", coreerrors.ErrEmbeddingUnavailable)
		}
	}

	nearest, err := m.repo.FindNearestHotspot(ctx, embedding, m.now().Add(-m.cfg.Window))
	if err != nil {
		return Result{}, false, fmt.Errorf("find nearest: %w", err)
	}

	if nearest != nil && nearest.Similarity >= m.cfg.Threshold {
		res, err := m.merge(ctx, nearest.HotspotID, nearest.ClusterID, nearest.Similarity, obs)

		return res, false, err
	}

	h := &domain.Hotspot{
		Keyword:           keyword,
		NormalizedKeyword: textnorm.Normalize(keyword),
		Embedding:         embedding,
		FirstSeenAt:       obs.SeenAt,
		LastSeenAt:        obs.SeenAt,
		AppearanceCount:   1,
		Platforms:         []domain.PlatformObservation{obs},
		Status:            domain.StatusPendingValidation,
	}

	if sig.Judgment != nil && sig.Judgment.Keep {
		now := m.now()
		h.ScreenedAt = &now
	}

	created, err := m.repo.CreateHotspot(ctx, h)
	if err != nil {
		return Result{}, false, fmt.Errorf("create hotspot: %w", err)
	}

	if !created {
		// Lost an insert race on the keyword; the next attempt merges.
		return Result{}, true, nil
	}

	res := Result{Action: ActionCreated, HotspotID: h.ID}
	if nearest != nil {
		res.Similarity = nearest.Similarity
	}

	m.logger.Info().Str(logKeyHotspotID, h.ID).Str(logKeyKeyword, keyword).Msg("hotspot created")

	if sig.Judgment != nil && !sig.Judgment.Keep {
		if _, err := m.lifecycle.Reject(ctx, h.ID, sig.Judgment.Reason); err != nil {
			return res, false, fmt.Errorf("reject new hotspot: %w", err)
		}

		res.Action = ActionRejected

		return res, false, nil
	}

	if m.grouper != nil && nearest != nil && nearest.Similarity >= m.cfg.AttachThreshold {
		clusterID, err := m.grouper.AutoAttach(ctx, h.ID, *nearest)
		if err != nil {
			m.logger.Warn().Err(err).Str(logKeyHotspotID, h.ID).Msg("cluster auto-attach failed")
		}

		res.ClusterID = clusterID
	}

	return res, false, nil
}

func (m *Matcher) merge(ctx context.Context, id, clusterID string, similarity float64, obs domain.PlatformObservation) (Result, error) {
	res := Result{Action: ActionMerged, HotspotID: id, ClusterID: clusterID, Similarity: similarity}

	merged, err := m.repo.MergeObservation(ctx, id, obs)
	if err != nil {
		return Result{}, fmt.Errorf("merge observation: %w", err)
	}

	if !merged {
		res.Action = ActionDuplicate

		return res, nil
	}

	if _, err := m.lifecycle.TryValidate(ctx, id); err != nil {
		// The validation sweep retries.
		m.logger.Warn().Err(err).Str(logKeyHotspotID, id).Msg("inline validation failed")
	}

	return res, nil
}
