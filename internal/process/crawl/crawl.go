// Package crawl selects validated hotspots for crawling, claims them
// exclusively, and settles crawl outcomes and timeouts.
package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	"github.com/lueurxax/hotspot-engine/internal/core/ports"
	"github.com/lueurxax/hotspot-engine/internal/platform/observability"
)

const (
	defaultCooldown = 6 * time.Hour
	defaultDailyCap = 4
	defaultTimeout  = 30 * time.Minute
	defaultBatch    = 10

	claimResultClaimed = "claimed"
	claimResultLost    = "lost"
	claimResultSubmit  = "submit_failed"

	logKeyHotspotID = "hotspot_id"
)

// DefaultPlatforms are crawled when no platform list is configured.
var DefaultPlatforms = []string{"xhs", "dy", "bili", "wb"}

// Repository is the storage the scheduler needs.
type Repository interface {
	ListCrawlEligible(ctx context.Context, q ports.CrawlEligibility) ([]domain.Hotspot, error)
	ListHotspots(ctx context.Context, f ports.HotspotFilter) ([]domain.Hotspot, error)
}

// Lifecycle writes the crawl transitions.
type Lifecycle interface {
	Apply(ctx context.Context, ev domain.Event, t domain.Transition) (bool, error)
}

// Config holds the crawl scheduling rules.
type Config struct {
	Cooldown  time.Duration
	DailyCap  int
	Timeout   time.Duration
	BatchSize int
	Platforms []string
	// Location defines the calendar day of the daily cap.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.Cooldown <= 0 {
		c.Cooldown = defaultCooldown
	}

	if c.DailyCap <= 0 {
		c.DailyCap = defaultDailyCap
	}

	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}

	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatch
	}

	if len(c.Platforms) == 0 {
		c.Platforms = DefaultPlatforms
	}

	if c.Location == nil {
		c.Location = time.UTC
	}

	return c
}

// ClaimResult reports a claim attempt. Losing the race is not an error.
type ClaimResult struct {
	Claimed   bool
	StartedAt time.Time
}

// Outcome is what the crawler reports back.
type Outcome struct {
	Success bool
	Data    json.RawMessage
	Error   string
}

// Scheduler implements the crawl operations.
type Scheduler struct {
	repo      Repository
	lifecycle Lifecycle
	crawler   ports.CrawlerService
	cfg       Config
	now       func() time.Time
	logger    *zerolog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates a Scheduler.
func New(repo Repository, lifecycle Lifecycle, crawler ports.CrawlerService, cfg Config, logger *zerolog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	s := &Scheduler{
		repo:      repo,
		lifecycle: lifecycle,
		crawler:   crawler,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		logger:    logger,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// SelectEligible returns validated hotspots whose cooldown has elapsed and
// whose claims today are under the cap, freshest first. A cluster contributes
// only its representative; a cluster without a live one adopts its freshest
// eligible member.
func (s *Scheduler) SelectEligible(ctx context.Context) ([]domain.Hotspot, error) {
	now := s.now()

	rows, err := s.repo.ListCrawlEligible(ctx, ports.CrawlEligibility{
		CooledBefore: now.Add(-s.cfg.Cooldown),
		Day:          domain.DayOf(now, s.cfg.Location),
		DailyCap:     s.cfg.DailyCap,
		Limit:        s.cfg.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("select crawl eligible: %w", err)
	}

	return rows, nil
}

// Claim moves a validated hotspot to crawling and counts the claim. The
// write only matches while the row is still validated, under today's cap and
// past its cooldown, so of two concurrent claims exactly one succeeds and a
// stale eligibility list can never push the count over the cap.
func (s *Scheduler) Claim(ctx context.Context, hotspotID string) (ClaimResult, error) {
	now := s.now()
	day := domain.DayOf(now, s.cfg.Location)

	ok, err := s.lifecycle.Apply(ctx, domain.EventClaimCrawl, domain.Transition{
		HotspotID:    hotspotID,
		From:         domain.StatusValidated,
		Patch:        domain.Patch{CrawlStartedAt: &now, CountCrawlOn: &day},
		CrawlCap:     s.cfg.DailyCap,
		CrawlCapDay:  day,
		CooledBefore: now.Add(-s.cfg.Cooldown),
	})
	if err != nil {
		return ClaimResult{}, fmt.Errorf("claim crawl: %w", err)
	}

	if !ok {
		observability.CrawlClaims.WithLabelValues(claimResultLost).Inc()
		s.logger.Debug().Str(logKeyHotspotID, hotspotID).Msg("crawl already claimed")

		return ClaimResult{}, nil
	}

	observability.CrawlClaims.WithLabelValues(claimResultClaimed).Inc()

	return ClaimResult{Claimed: true, StartedAt: now}, nil
}

// RunOnce claims every eligible hotspot and submits its crawl job. A failed
// submission is settled as a failed crawl. It returns the number of jobs
// submitted.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	eligible, err := s.SelectEligible(ctx)
	if err != nil {
		return 0, err
	}

	submitted := 0

	for i := range eligible {
		h := &eligible[i]

		res, err := s.Claim(ctx, h.ID)
		if err != nil {
			return submitted, err
		}

		if !res.Claimed {
			continue
		}

		jobID, err := s.crawler.SubmitCrawl(ctx, ports.CrawlRequest{
			HotspotID: h.ID,
			Keyword:   h.Keyword,
			Platforms: s.cfg.Platforms,
		})
		if err != nil {
			observability.CrawlClaims.WithLabelValues(claimResultSubmit).Inc()
			s.logger.Warn().Err(err).Str(logKeyHotspotID, h.ID).Msg("crawl submission failed")

			if _, ferr := s.OnCrawlCompleted(ctx, h.ID, Outcome{Error: err.Error()}); ferr != nil {
				return submitted, ferr
			}

			continue
		}

		submitted++

		s.logger.Info().Str(logKeyHotspotID, h.ID).Str("job_id", jobID).Msg("crawl submitted")
	}

	return submitted, nil
}

// OnCrawlCompleted settles a crawl. Success moves the hotspot to crawled and
// stamps last_crawled_at; failure returns it to validated and counts the
// failure without touching last_crawled_at. A callback for a hotspot that is
// no longer crawling, such as one that already timed out, returns false.
func (s *Scheduler) OnCrawlCompleted(ctx context.Context, hotspotID string, outcome Outcome) (bool, error) {
	if outcome.Success {
		now := s.now()

		ok, err := s.lifecycle.Apply(ctx, domain.EventCrawlSucceeded, domain.Transition{
			HotspotID: hotspotID,
			From:      domain.StatusCrawling,
			Patch: domain.Patch{
				LastCrawledAt:       &now,
				ClearCrawlStartedAt: true,
				CrawlData:           outcome.Data,
			},
		})
		if err != nil {
			return false, fmt.Errorf("complete crawl: %w", err)
		}

		return ok, nil
	}

	ok, err := s.lifecycle.Apply(ctx, domain.EventCrawlFailed, failedCrawl(hotspotID, time.Time{}))
	if err != nil {
		return false, fmt.Errorf("fail crawl: %w", err)
	}

	if ok {
		s.logger.Warn().Str(logKeyHotspotID, hotspotID).Str("error", outcome.Error).Msg("crawl failed")
	}

	return ok, nil
}

// SweepTimeouts fails every crawl that started more than Timeout ago.
func (s *Scheduler) SweepTimeouts(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.Timeout)

	stuck, err := s.repo.ListHotspots(ctx, ports.HotspotFilter{
		Statuses:           []domain.Status{domain.StatusCrawling},
		CrawlStartedBefore: cutoff,
		Order:              ports.OrderFirstSeenAsc,
	})
	if err != nil {
		return 0, fmt.Errorf("list timed out crawls: %w", err)
	}

	reverted := 0

	for i := range stuck {
		ok, err := s.lifecycle.Apply(ctx, domain.EventCrawlFailed, failedCrawl(stuck[i].ID, cutoff))
		if err != nil {
			return reverted, fmt.Errorf("revert timed out crawl: %w", err)
		}

		if ok {
			reverted++

			observability.CrawlTimeouts.Inc()
			s.logger.Warn().Str(logKeyHotspotID, stuck[i].ID).Msg("crawl timed out")
		}
	}

	return reverted, nil
}

func failedCrawl(hotspotID string, startedBefore time.Time) domain.Transition {
	return domain.Transition{
		HotspotID:          hotspotID,
		From:               domain.StatusCrawling,
		CrawlStartedBefore: startedBefore,
		Patch: domain.Patch{
			ClearCrawlStartedAt:  true,
			IncrementCrawlFailed: true,
		},
	}
}
