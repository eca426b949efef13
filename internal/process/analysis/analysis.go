// Package analysis hands crawled hotspots to the business analysis
// collaborator and records its results.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	"github.com/lueurxax/hotspot-engine/internal/core/ports"
	"github.com/lueurxax/hotspot-engine/internal/platform/observability"
	"github.com/lueurxax/hotspot-engine/internal/process/lifecycle"
)

const (
	defaultTimeout = 30 * time.Minute
	defaultBatch   = 10

	resultDispatched = "dispatched"
	resultResent     = "redispatched"
	resultFailed     = "failed"
	resultCompleted  = "completed"
	resultRejected   = "rejected"
	resultStale      = "stale"

	logKeyHotspotID = "hotspot_id"
)

// Repository is the storage the trigger needs.
type Repository interface {
	GetHotspot(ctx context.Context, id string) (*domain.Hotspot, error)
	ListHotspots(ctx context.Context, f ports.HotspotFilter) ([]domain.Hotspot, error)
	ReclaimAnalysis(ctx context.Context, id string, startedBefore, now time.Time) (bool, error)
	CompleteAnalysis(ctx context.Context, c ports.AnalysisCompletion) (bool, error)
}

// Lifecycle writes the analysis transitions.
type Lifecycle interface {
	Plan(ev domain.Event, t domain.Transition) (domain.Transition, error)
	Apply(ctx context.Context, ev domain.Event, t domain.Transition) (bool, error)
	RejectSecondStage(ctx context.Context, id, reason string) (bool, error)
}

// Config holds the analysis dispatch rules.
type Config struct {
	// Timeout re-dispatches analyses without a result after this long.
	Timeout   time.Duration
	BatchSize int
	// Channels are attached to every enqueued push item.
	Channels []string
}

// Trigger implements the analysis operations.
type Trigger struct {
	repo      Repository
	lifecycle Lifecycle
	analyzer  ports.Analyzer
	cfg       Config
	now       func() time.Time
	logger    *zerolog.Logger
}

// Option configures a Trigger.
type Option func(*Trigger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Trigger) {
		t.now = now
	}
}

// New creates a Trigger.
func New(repo Repository, lc Lifecycle, analyzer ports.Analyzer, cfg Config, logger *zerolog.Logger, opts ...Option) *Trigger {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatch
	}

	t := &Trigger{
		repo:      repo,
		lifecycle: lc,
		analyzer:  analyzer,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// RunOnce starts analysis of crawled hotspots and re-dispatches analyses
// that timed out. It returns the number of dispatches.
func (t *Trigger) RunOnce(ctx context.Context) (int, error) {
	now := t.now()

	crawled, err := t.repo.ListHotspots(ctx, ports.HotspotFilter{
		Statuses: []domain.Status{domain.StatusCrawled},
		Order:    ports.OrderLastSeenDesc,
		Limit:    t.cfg.BatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("list crawled: %w", err)
	}

	dispatched := 0

	for i := range crawled {
		h := &crawled[i]

		ok, err := t.lifecycle.Apply(ctx, domain.EventStartAnalysis, domain.Transition{
			HotspotID: h.ID,
			From:      domain.StatusCrawled,
			Patch:     domain.Patch{AnalysisStartedAt: &now},
		})
		if err != nil {
			return dispatched, fmt.Errorf("start analysis: %w", err)
		}

		if !ok {
			continue
		}

		observability.AnalysisDispatches.WithLabelValues(resultDispatched).Inc()
		t.dispatch(ctx, h)

		dispatched++
	}

	cutoff := now.Add(-t.cfg.Timeout)

	stuck, err := t.repo.ListHotspots(ctx, ports.HotspotFilter{
		Statuses:              []domain.Status{domain.StatusAnalyzing},
		AnalysisStartedBefore: cutoff,
		Order:                 ports.OrderFirstSeenAsc,
		Limit:                 t.cfg.BatchSize,
	})
	if err != nil {
		return dispatched, fmt.Errorf("list stuck analyses: %w", err)
	}

	for i := range stuck {
		h := &stuck[i]

		ok, err := t.repo.ReclaimAnalysis(ctx, h.ID, cutoff, now)
		if err != nil {
			return dispatched, fmt.Errorf("reclaim analysis: %w", err)
		}

		if !ok {
			continue
		}

		observability.AnalysisDispatches.WithLabelValues(resultResent).Inc()
		t.logger.Warn().Str(logKeyHotspotID, h.ID).Msg("analysis timed out, re-dispatching")
		t.dispatch(ctx, h)

		dispatched++
	}

	return dispatched, nil
}

// dispatch calls the analyzer. A synchronous outcome is recorded at once; a
// nil outcome means the result will arrive through OnAnalysisCompleted. A
// failure leaves the hotspot analyzing until the timeout re-dispatches it.
func (t *Trigger) dispatch(ctx context.Context, h *domain.Hotspot) {
	outcome, err := t.analyzer.Analyze(ctx, ports.AnalysisRequest{
		HotspotID: h.ID,
		Keyword:   h.Keyword,
		Platforms: h.Platforms,
		CrawlData: h.CrawlData,
	})
	if err != nil {
		observability.AnalysisDispatches.WithLabelValues(resultFailed).Inc()
		t.logger.Warn().Err(err).Str(logKeyHotspotID, h.ID).Msg("analysis dispatch failed")

		return
	}

	if outcome == nil {
		return
	}

	if _, err := t.OnAnalysisCompleted(ctx, h.ID, *outcome); err != nil {
		t.logger.Error().Err(err).Str(logKeyHotspotID, h.ID).Msg("failed to record analysis")
	}
}

// OnAnalysisCompleted records an analysis result. A rejection moves the
// hotspot to second_stage_rejected. Otherwise the report is validated, then
// the transition to analyzed, the report and its pending push item are
// written together. It returns false when the hotspot is no longer
// analyzing.
func (t *Trigger) OnAnalysisCompleted(ctx context.Context, hotspotID string, outcome ports.AnalysisOutcome) (bool, error) {
	if outcome.Rejected {
		ok, err := t.lifecycle.RejectSecondStage(ctx, hotspotID, outcome.Reason)
		if err != nil {
			return false, fmt.Errorf("second stage reject: %w", err)
		}

		t.count(ok, resultRejected)

		return ok, nil
	}

	report := domain.BusinessReport{
		HotspotID:    hotspotID,
		Report:       outcome.Report,
		Score:        outcome.Score,
		Priority:     outcome.Priority,
		ProductTypes: outcome.ProductTypes,
	}

	if len(report.Report) == 0 {
		report.Report = json.RawMessage(`{}`)
	}

	if err := report.Validate(); err != nil {
		return false, err
	}

	h, err := t.repo.GetHotspot(ctx, hotspotID)
	if err != nil {
		return false, fmt.Errorf("load hotspot: %w", err)
	}

	tr, err := t.lifecycle.Plan(domain.EventAnalysisCompleted, domain.Transition{
		HotspotID: hotspotID,
		From:      domain.StatusAnalyzing,
		Patch:     domain.Patch{ClearAnalysisStartedAt: true},
	})
	if err != nil {
		return false, err
	}

	ok, err := t.repo.CompleteAnalysis(ctx, ports.AnalysisCompletion{
		Transition: tr,
		Report:     report,
		Push: domain.PushQueueItem{
			HotspotID: hotspotID,
			Keyword:   h.Keyword,
			Priority:  report.Priority,
			Score:     report.Score,
			Channels:  append([]string(nil), t.cfg.Channels...),
		},
	})
	if err != nil {
		return false, fmt.Errorf("complete analysis: %w", err)
	}

	lifecycle.Record(tr, ok)
	t.count(ok, resultCompleted)

	if ok {
		t.logger.Info().
			Str(logKeyHotspotID, hotspotID).
			Str("priority", string(report.Priority)).
			Float64("score", report.Score).
			Msg("analysis completed")
	}

	return ok, nil
}

func (t *Trigger) count(applied bool, result string) {
	if !applied {
		result = resultStale
	}

	observability.AnalysisDispatches.WithLabelValues(result).Inc()
}
