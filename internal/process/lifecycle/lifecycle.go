// Package lifecycle drives hotspots through the status graph defined in
// domain. Every write is a conditional transition; an event that is not in
// the graph for the row's current status fails before anything is written.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	"github.com/lueurxax/hotspot-engine/internal/core/ports"
	"github.com/lueurxax/hotspot-engine/internal/platform/observability"
)

const (
	defaultValidationWindow = 6 * time.Hour
	defaultMinAppearances   = 2
	defaultOutdatedAfter    = 48 * time.Hour
	defaultPendingStale     = 72 * time.Hour
	defaultSweepBatch       = 100

	logKeyHotspotID = "hotspot_id"
	logKeyStatus    = "status"
	logKeyEvent     = "event"
)

// Repository is the storage the machine needs.
type Repository interface {
	GetHotspot(ctx context.Context, id string) (*domain.Hotspot, error)
	TransitionStatus(ctx context.Context, t domain.Transition) (bool, error)
	MarkScreened(ctx context.Context, id string, at time.Time) (bool, error)
	ListHotspots(ctx context.Context, f ports.HotspotFilter) ([]domain.Hotspot, error)
	ListArchivable(ctx context.Context, n int) ([]domain.Hotspot, error)

	// Used by Relink.
	GetHotspotByKeyword(ctx context.Context, keyword string) (*domain.Hotspot, error)
	CreateHotspot(ctx context.Context, h *domain.Hotspot) (bool, error)
	CreateCluster(ctx context.Context, c *domain.Cluster, memberIDs []string) error
}

// Config holds the lifecycle thresholds.
type Config struct {
	// ValidationWindow bounds the gap between the first and second appearance.
	ValidationWindow time.Duration
	MinAppearances   int
	// OutdatedAfter expires non-terminal hotspots not seen for this long.
	OutdatedAfter time.Duration
	// PendingStaleAfter expires hotspots still pending this long after first seen.
	PendingStaleAfter time.Duration
	BatchSize         int
}

func (c Config) withDefaults() Config {
	if c.ValidationWindow <= 0 {
		c.ValidationWindow = defaultValidationWindow
	}

	if c.MinAppearances <= 0 {
		c.MinAppearances = defaultMinAppearances
	}

	if c.OutdatedAfter <= 0 {
		c.OutdatedAfter = defaultOutdatedAfter
	}

	if c.PendingStaleAfter <= 0 {
		c.PendingStaleAfter = defaultPendingStale
	}

	if c.BatchSize <= 0 {
		c.BatchSize = defaultSweepBatch
	}

	return c
}

// Machine applies lifecycle events.
type Machine struct {
	repo       Repository
	classifier ports.Classifier
	cfg        Config
	now        func() time.Time
	logger     *zerolog.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// WithClassifier sets the first-stage judge used by ScreeningSweep.
func WithClassifier(c ports.Classifier) Option {
	return func(m *Machine) {
		m.classifier = c
	}
}

// New creates a Machine.
func New(repo Repository, cfg Config, logger *zerolog.Logger, opts ...Option) *Machine {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	m := &Machine{
		repo:   repo,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		logger: logger,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Now returns the machine's current time.
func (m *Machine) Now() time.Time {
	return m.now()
}

// Plan resolves ev from t.From and returns the transition to write. Pairs
// outside the graph return ErrInvalidTransition.
func (m *Machine) Plan(ev domain.Event, t domain.Transition) (domain.Transition, error) {
	to, err := domain.Next(t.From, ev)
	if err != nil {
		return domain.Transition{}, err
	}

	t.To = to

	return t, nil
}

// Apply resolves and writes ev. It returns false when the row no longer
// matches t, which callers treat as a lost race.
func (m *Machine) Apply(ctx context.Context, ev domain.Event, t domain.Transition) (bool, error) {
	planned, err := m.Plan(ev, t)
	if err != nil {
		return false, err
	}

	ok, err := m.repo.TransitionStatus(ctx, planned)
	if err != nil {
		return false, fmt.Errorf("apply %s: %w", ev, err)
	}

	Record(planned, ok)

	if !ok {
		m.logger.Debug().
			Str(logKeyHotspotID, t.HotspotID).
			Str(logKeyEvent, string(ev)).
			Str(logKeyStatus, string(t.From)).
			Msg("transition condition no longer holds")
	}

	return ok, nil
}

// Record counts a transition attempt whose write happened elsewhere.
func Record(t domain.Transition, applied bool) {
	if applied {
		observability.Transitions.WithLabelValues(string(t.From), string(t.To)).Inc()
		return
	}

	observability.TransitionConflicts.WithLabelValues(string(t.From), string(t.To)).Inc()
}

// CanValidate reports whether h passes the persistence check: screened,
// seen at least MinAppearances times, and seen a second time within
// ValidationWindow of the first appearance.
func (m *Machine) CanValidate(h *domain.Hotspot) bool {
	if h.Status != domain.StatusPendingValidation || h.ScreenedAt == nil {
		return false
	}

	if h.AppearanceCount < m.cfg.MinAppearances || h.SecondSeenAt == nil {
		return false
	}

	gap := h.SecondSeenAt.Sub(h.FirstSeenAt)
	if gap < 0 {
		gap = -gap
	}

	return gap <= m.cfg.ValidationWindow
}

// TryValidate promotes hotspot id when it passes the persistence check.
func (m *Machine) TryValidate(ctx context.Context, id string) (bool, error) {
	h, err := m.repo.GetHotspot(ctx, id)
	if err != nil {
		return false, fmt.Errorf("load hotspot: %w", err)
	}

	if !m.CanValidate(h) {
		return false, nil
	}

	return m.Apply(ctx, domain.EventValidate, domain.Transition{HotspotID: id, From: domain.StatusPendingValidation})
}

// Reject records a first-stage rejection. Only pending hotspots can be
// rejected; the persistence check does not apply.
func (m *Machine) Reject(ctx context.Context, id, reason string) (bool, error) {
	h, err := m.repo.GetHotspot(ctx, id)
	if err != nil {
		return false, fmt.Errorf("load hotspot: %w", err)
	}

	now := m.now()

	return m.Apply(ctx, domain.EventReject, domain.Transition{
		HotspotID: id,
		From:      h.Status,
		Patch: domain.Patch{
			ScreenedAt:   &now,
			FilterReason: reason,
			FilteredAt:   &now,
		},
	})
}

// RejectSecondStage records the deep-analysis rejection of an analyzing
// hotspot. The first-stage fields are left untouched.
func (m *Machine) RejectSecondStage(ctx context.Context, id, reason string) (bool, error) {
	now := m.now()

	return m.Apply(ctx, domain.EventSecondStageReject, domain.Transition{
		HotspotID: id,
		From:      domain.StatusAnalyzing,
		Patch: domain.Patch{
			SecondStageReason:      reason,
			SecondStageRejectedAt:  &now,
			ClearAnalysisStartedAt: true,
		},
	})
}

// ValidationSweep promotes every screened pending hotspot that passes the
// persistence check.
func (m *Machine) ValidationSweep(ctx context.Context) (int, error) {
	screened := true

	candidates, err := m.repo.ListHotspots(ctx, ports.HotspotFilter{
		Statuses:       []domain.Status{domain.StatusPendingValidation},
		Screened:       &screened,
		MinAppearances: m.cfg.MinAppearances,
		Order:          ports.OrderFirstSeenAsc,
		Limit:          m.cfg.BatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("list validation candidates: %w", err)
	}

	validated := 0

	for i := range candidates {
		h := &candidates[i]
		if !m.CanValidate(h) {
			continue
		}

		ok, err := m.Apply(ctx, domain.EventValidate, domain.Transition{HotspotID: h.ID, From: domain.StatusPendingValidation})
		if err != nil {
			return validated, err
		}

		if ok {
			validated++
		}
	}

	return validated, nil
}

// ScreeningSweep asks the classifier about pending hotspots that have no
// first-stage judgment. A classifier failure leaves the hotspot for the next
// sweep.
func (m *Machine) ScreeningSweep(ctx context.Context) (int, error) {
	if m.classifier == nil {
		return 0, nil
	}

	unscreened := false

	candidates, err := m.repo.ListHotspots(ctx, ports.HotspotFilter{
		Statuses: []domain.Status{domain.StatusPendingValidation},
		Screened: &unscreened,
		Order:    ports.OrderFirstSeenAsc,
		Limit:    m.cfg.BatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("list screening candidates: %w", err)
	}

	screened := 0

	for i := range candidates {
		h := &candidates[i]

		judgment, err := m.classifier.Classify(ctx, h.Keyword, platformHint(h))
		if err != nil {
			m.logger.Warn().Err(err).Str(logKeyHotspotID, h.ID).Msg("classification failed, will retry")
			continue
		}

		if ok, err := m.ApplyJudgment(ctx, h.ID, judgment); err != nil {
			return screened, err
		} else if ok {
			screened++
		}
	}

	return screened, nil
}

// ApplyJudgment records a first-stage judgment: keep marks the hotspot
// screened and tries validation, reject moves it to rejected.
func (m *Machine) ApplyJudgment(ctx context.Context, id string, j domain.Judgment) (bool, error) {
	if !j.Keep {
		return m.Reject(ctx, id, j.Reason)
	}

	ok, err := m.repo.MarkScreened(ctx, id, m.now())
	if err != nil {
		return false, fmt.Errorf("mark screened: %w", err)
	}

	if !ok {
		return false, nil
	}

	if _, err := m.TryValidate(ctx, id); err != nil {
		return true, err
	}

	return true, nil
}

// OutdatedSweep expires non-terminal hotspots not seen within OutdatedAfter,
// and pending hotspots first seen more than PendingStaleAfter ago.
func (m *Machine) OutdatedSweep(ctx context.Context) (int, error) {
	now := m.now()
	lastSeenCutoff := now.Add(-m.cfg.OutdatedAfter)
	expired := 0

	for _, st := range domain.NonTerminalStatuses() {
		rows, err := m.repo.ListHotspots(ctx, ports.HotspotFilter{
			Statuses:       []domain.Status{st},
			LastSeenBefore: lastSeenCutoff,
			Order:          ports.OrderFirstSeenAsc,
			Limit:          m.cfg.BatchSize,
		})
		if err != nil {
			return expired, fmt.Errorf("list outdated %s: %w", st, err)
		}

		for i := range rows {
			n, err := m.expire(ctx, domain.Transition{HotspotID: rows[i].ID, From: st, LastSeenBefore: lastSeenCutoff})
			if err != nil {
				return expired, err
			}

			expired += n
		}
	}

	staleCutoff := now.Add(-m.cfg.PendingStaleAfter)

	stale, err := m.repo.ListHotspots(ctx, ports.HotspotFilter{
		Statuses:        []domain.Status{domain.StatusPendingValidation},
		FirstSeenBefore: staleCutoff,
		Order:           ports.OrderFirstSeenAsc,
		Limit:           m.cfg.BatchSize,
	})
	if err != nil {
		return expired, fmt.Errorf("list stale pending: %w", err)
	}

	for i := range stale {
		n, err := m.expire(ctx, domain.Transition{
			HotspotID:       stale[i].ID,
			From:            domain.StatusPendingValidation,
			FirstSeenBefore: staleCutoff,
		})
		if err != nil {
			return expired, err
		}

		expired += n
	}

	return expired, nil
}

func (m *Machine) expire(ctx context.Context, t domain.Transition) (int, error) {
	switch t.From {
	case domain.StatusCrawling:
		t.Patch.ClearCrawlStartedAt = true
	case domain.StatusAnalyzing:
		t.Patch.ClearAnalysisStartedAt = true
	}

	ok, err := m.Apply(ctx, domain.EventExpire, t)
	if err != nil || !ok {
		return 0, err
	}

	m.logger.Info().Str(logKeyHotspotID, t.HotspotID).Str(logKeyStatus, string(t.From)).Msg("hotspot outdated")

	return 1, nil
}

// ArchiveSweep archives analyzed hotspots whose newest push item is settled.
func (m *Machine) ArchiveSweep(ctx context.Context) (int, error) {
	rows, err := m.repo.ListArchivable(ctx, m.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list archivable: %w", err)
	}

	archived := 0

	for i := range rows {
		ok, err := m.Apply(ctx, domain.EventArchive, domain.Transition{HotspotID: rows[i].ID, From: domain.StatusAnalyzed})
		if err != nil {
			return archived, err
		}

		if ok {
			archived++
		}
	}

	return archived, nil
}

func platformHint(h *domain.Hotspot) string {
	parts := make([]string, 0, len(h.Platforms))
	for _, p := range h.Platforms {
		parts = append(parts, fmt.Sprintf("%s #%d", p.Platform, p.Rank))
	}

	return strings.Join(parts, ", ")
}
