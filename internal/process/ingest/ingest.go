// Package ingest drains the raw signal inbox into the similarity matcher.
// A signal whose embedding or store write fails goes back to the inbox with
// a backoff, so no hotspot is ever created without a vector.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	coreerrors "github.com/lueurxax/hotspot-engine/internal/core/errors"
	"github.com/lueurxax/hotspot-engine/internal/core/textnorm"
	"github.com/lueurxax/hotspot-engine/internal/platform/observability"
	"github.com/lueurxax/hotspot-engine/internal/platform/worker"
	"github.com/lueurxax/hotspot-engine/internal/process/similarity"
)

const (
	defaultBatchSize    = 20
	defaultPollInterval = 2 * time.Second
	defaultRetryBase    = 30 * time.Second
	defaultRetryMax     = 30 * time.Minute
	defaultStuckAfter   = 10 * time.Minute

	// ActionInvalid marks signals dropped for malformed input.
	ActionInvalid = "invalid"

	logKeySignalID = "signal_id"
)

// Repository is the inbox storage.
type Repository interface {
	SaveSignal(ctx context.Context, sig *domain.RawSignal) error
	ClaimSignals(ctx context.Context, n int, now time.Time) ([]domain.RawSignal, error)
	CompleteSignal(ctx context.Context, id, hotspotID, action string) error
	ReleaseSignal(ctx context.Context, id string, retryAt time.Time, errMsg string) error
	RecoverStuckSignals(ctx context.Context, claimedBefore time.Time) (int64, error)
}

// Matcher ingests one parsed signal.
type Matcher interface {
	Ingest(ctx context.Context, sig similarity.Signal) (similarity.Result, error)
}

// Config holds the inbox draining rules.
type Config struct {
	BatchSize    int
	PollInterval time.Duration
	RetryBase    time.Duration
	RetryMax     time.Duration
	// StuckAfter returns signals claimed by a crashed worker to the inbox.
	StuckAfter time.Duration
	// Location reads zone-less seen_at strings.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}

	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}

	if c.RetryBase <= 0 {
		c.RetryBase = defaultRetryBase
	}

	if c.RetryMax <= 0 {
		c.RetryMax = defaultRetryMax
	}

	if c.StuckAfter <= 0 {
		c.StuckAfter = defaultStuckAfter
	}

	if c.Location == nil {
		c.Location = time.UTC
	}

	return c
}

// Worker drains the inbox.
type Worker struct {
	repo    Repository
	matcher Matcher
	cfg     Config
	now     func() time.Time
	logger  *zerolog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		w.now = now
	}
}

// New creates a Worker.
func New(repo Repository, matcher Matcher, cfg Config, logger *zerolog.Logger, opts ...Option) *Worker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	w := &Worker{
		repo:    repo,
		matcher: matcher,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		logger:  logger,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Submit validates and stores a raw signal for asynchronous ingestion.
func (w *Worker) Submit(ctx context.Context, sig *domain.RawSignal) error {
	sig.Keyword = textnorm.Clean(sig.Keyword)
	sig.Platform = strings.ToLower(strings.TrimSpace(sig.Platform))

	if sig.Keyword == "" {
		return fmt.Errorf("%w: keyword is required", coreerrors.ErrInvalidArgument)
	}

	if sig.Platform == "" {
		return fmt.Errorf("%w: platform is required", coreerrors.ErrInvalidArgument)
	}

	if sig.Rank < 0 {
		return fmt.Errorf("%w: negative rank", coreerrors.ErrInvalidArgument)
	}

	if _, err := textnorm.ParseHeat(sig.Heat); err != nil {
		return fmt.Errorf("%w: %w", coreerrors.ErrInvalidArgument, err)
	}

	if err := w.repo.SaveSignal(ctx, sig); err != nil {
		return fmt.Errorf("save signal: %w", err)
	}

	observability.SignalsReceived.WithLabelValues(sig.Platform).Inc()

	return nil
}

// Run drains the inbox until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	return worker.Loop(ctx, worker.Config{
		Name:         "ingest",
		PollInterval: w.cfg.PollInterval,
		Process:      w.ProcessBatch,
		Now:          w.now,
		Logger:       w.logger,
		PeriodicTasks: []worker.PeriodicTask{{
			Name:     "recover_stuck_signals",
			Interval: w.cfg.StuckAfter,
			Run:      w.recoverStuck,
		}},
	})
}

// ProcessBatch claims and ingests one batch, returning its size.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	signals, err := w.repo.ClaimSignals(ctx, w.cfg.BatchSize, w.now())
	if err != nil {
		return 0, fmt.Errorf("claim signals: %w", err)
	}

	for i := range signals {
		w.process(ctx, &signals[i])
	}

	return len(signals), nil
}

func (w *Worker) process(ctx context.Context, sig *domain.RawSignal) {
	defer worker.RecoverPanic(w.logger, "ingest signal")

	parsed, err := w.parse(sig)
	if err != nil {
		w.logger.Warn().Err(err).Str(logKeySignalID, sig.ID).Msg("dropping malformed signal")
		w.complete(ctx, sig.ID, "", ActionInvalid)

		return
	}

	res, err := w.matcher.Ingest(ctx, parsed)
	if err != nil {
		if errors.Is(err, coreerrors.ErrInvalidArgument) {
			w.complete(ctx, sig.ID, "", ActionInvalid)
			return
		}

		w.release(ctx, sig, err)

		return
	}

	w.complete(ctx, sig.ID, res.HotspotID, string(res.Action))
}

func (w *Worker) parse(sig *domain.RawSignal) (similarity.Signal, error) {
	heat, err := textnorm.ParseHeat(sig.Heat)
	if err != nil {
		return similarity.Signal{}, err
	}

	fallback := sig.CreatedAt
	if fallback.IsZero() {
		fallback = w.now()
	}

	seenAt, err := textnorm.ParseSeenAt(sig.SeenAt, w.cfg.Location, fallback)
	if err != nil {
		w.logger.Debug().Err(err).Str(logKeySignalID, sig.ID).Msg("unparseable seen_at, using receive time")

		seenAt = fallback.UTC()
	}

	return similarity.Signal{
		Keyword: sig.Keyword,
		Observation: domain.PlatformObservation{
			Platform:  sig.Platform,
			Rank:      sig.Rank,
			HeatScore: heat,
			SeenAt:    seenAt,
		},
		Judgment: sig.Judgment,
	}, nil
}

func (w *Worker) complete(ctx context.Context, id, hotspotID, action string) {
	if err := w.repo.CompleteSignal(ctx, id, hotspotID, action); err != nil {
		w.logger.Error().Err(err).Str(logKeySignalID, id).Msg("failed to complete signal")
	}
}

func (w *Worker) release(ctx context.Context, sig *domain.RawSignal, cause error) {
	retryAt := w.now().Add(w.Backoff(sig.Attempts))

	if errors.Is(cause, coreerrors.ErrEmbeddingUnavailable) {
		observability.EmbeddingErrors.Inc()
	}

	w.logger.Warn().
		Err(cause).
		Str(logKeySignalID, sig.ID).
		Int("attempts", sig.Attempts).
		Time("retry_at", retryAt).
		Msg("ingest failed, will retry")

	if err := w.repo.ReleaseSignal(ctx, sig.ID, retryAt, cause.Error()); err != nil {
		w.logger.Error().Err(err).Str(logKeySignalID, sig.ID).Msg("failed to release signal")
	}
}

// Backoff returns the retry delay after attempts failed attempts.
func (w *Worker) Backoff(attempts int) time.Duration {
	d := w.cfg.RetryBase

	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= w.cfg.RetryMax {
			return w.cfg.RetryMax
		}
	}

	return d
}

func (w *Worker) recoverStuck(ctx context.Context) {
	n, err := w.repo.RecoverStuckSignals(ctx, w.now().Add(-w.cfg.StuckAfter))
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to recover stuck signals")
		return
	}

	if n > 0 {
		w.logger.Warn().Int64("recovered", n).Msg("returned stuck signals to inbox")
	}
}
