// Package push delivers analysis reports at most once per global interval,
// best item first.
package push

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	coreerrors "github.com/lueurxax/hotspot-engine/internal/core/errors"
	"github.com/lueurxax/hotspot-engine/internal/core/ports"
	"github.com/lueurxax/hotspot-engine/internal/platform/observability"
)

const (
	defaultMinInterval  = 2 * time.Hour
	defaultMaxRetries   = 3
	defaultRetryBackoff = 10 * time.Minute

	// Dispatch reasons.
	ReasonSent           = "sent"
	ReasonRateLimited    = "rate_limited"
	ReasonEmpty          = "empty"
	ReasonDeliveryFailed = "delivery_failed"

	channelStatusOK    = "ok"
	channelStatusError = "error"

	logKeyPushID    = "push_id"
	logKeyHotspotID = "hotspot_id"
)

// Repository is the storage the scheduler needs.
type Repository interface {
	EnqueuePush(ctx context.Context, item *domain.PushQueueItem) error
	LastSentAt(ctx context.Context) (*time.Time, error)
	ClaimNextPush(ctx context.Context, now time.Time, minInterval time.Duration) (*ports.ClaimedPush, error)
	ReleasePush(ctx context.Context, f ports.PushFailure) (domain.PushStatus, error)
	CountPendingPushes(ctx context.Context) (int, error)
	GetReport(ctx context.Context, id string) (*domain.BusinessReport, error)
}

// Config holds the delivery rules.
type Config struct {
	// MinInterval is the minimum gap between two sends across the system.
	MinInterval time.Duration
	// MaxRetries is how many failed deliveries an item survives.
	MaxRetries   int
	RetryBackoff time.Duration
	// DefaultChannels are used when an item names none.
	DefaultChannels []string
}

// EnqueueRequest describes a report to deliver.
type EnqueueRequest struct {
	HotspotID string
	ReportID  string
	Keyword   string
	Priority  domain.Priority
	Score     float64
	Channels  []string
}

// DispatchResult reports a dispatch attempt. Not sending is not an error.
type DispatchResult struct {
	Sent   bool
	Reason string
	Item   *domain.PushQueueItem
	// Status is the item status after a failed delivery.
	Status domain.PushStatus
}

// Scheduler implements the push queue operations.
type Scheduler struct {
	repo     Repository
	channels map[string]ports.Channel
	cfg      Config
	now      func() time.Time
	logger   *zerolog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates a Scheduler delivering through channels.
func New(repo Repository, channels []ports.Channel, cfg Config, logger *zerolog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if cfg.MinInterval <= 0 {
		cfg.MinInterval = defaultMinInterval
	}

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}

	byName := make(map[string]ports.Channel, len(channels))
	for _, ch := range channels {
		byName[ch.Name()] = ch
	}

	s := &Scheduler{
		repo:     repo,
		channels: byName,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Enqueue inserts a pending item. Nothing is sent until DispatchNext runs.
func (s *Scheduler) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.PushQueueItem, error) {
	if req.HotspotID == "" || req.ReportID == "" {
		return nil, fmt.Errorf("%w: push item needs hotspot and report", coreerrors.ErrInvalidArgument)
	}

	if _, err := domain.ParsePriority(string(req.Priority)); err != nil {
		return nil, err
	}

	if req.Score < domain.MinReportScore || req.Score > domain.MaxReportScore {
		return nil, fmt.Errorf("%w: score %.2f", coreerrors.ErrInvalidArgument, req.Score)
	}

	channels, err := s.resolveChannels(req.Channels)
	if err != nil {
		return nil, err
	}

	item := &domain.PushQueueItem{
		HotspotID:   req.HotspotID,
		ReportID:    req.ReportID,
		Keyword:     req.Keyword,
		Priority:    req.Priority,
		Score:       req.Score,
		Channels:    channels,
		ScheduledAt: s.now(),
	}

	if err := s.repo.EnqueuePush(ctx, item); err != nil {
		return nil, fmt.Errorf("enqueue push: %w", err)
	}

	s.refreshPending(ctx)

	return item, nil
}

func (s *Scheduler) resolveChannels(names []string) ([]string, error) {
	if len(names) == 0 {
		names = s.cfg.DefaultChannels
	}

	for _, n := range names {
		if _, ok := s.channels[n]; !ok {
			return nil, fmt.Errorf("%w: %s", coreerrors.ErrUnknownChannel, n)
		}
	}

	return append([]string(nil), names...), nil
}

// DispatchNext sends the best due item if the global interval has elapsed.
// The send slot is claimed atomically before delivery; a failed delivery
// returns the slot and schedules a retry, or marks the item failed once its
// retries are exhausted.
func (s *Scheduler) DispatchNext(ctx context.Context) (DispatchResult, error) {
	now := s.now()

	claim, err := s.repo.ClaimNextPush(ctx, now, s.cfg.MinInterval)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("claim push: %w", err)
	}

	if claim == nil {
		return s.idleResult(ctx, now)
	}

	item := claim.Item

	if err := s.deliver(ctx, &item); err != nil {
		return s.release(ctx, claim, err)
	}

	observability.PushDispatches.WithLabelValues(ReasonSent).Inc()
	s.refreshPending(ctx)

	s.logger.Info().
		Str(logKeyPushID, item.ID).
		Str(logKeyHotspotID, item.HotspotID).
		Str("priority", string(item.Priority)).
		Msg("push sent")

	return DispatchResult{Sent: true, Reason: ReasonSent, Item: &item, Status: domain.PushStatusSent}, nil
}

func (s *Scheduler) idleResult(ctx context.Context, now time.Time) (DispatchResult, error) {
	last, err := s.repo.LastSentAt(ctx)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("read last send: %w", err)
	}

	reason := ReasonEmpty
	if last != nil && now.Sub(*last) < s.cfg.MinInterval {
		reason = ReasonRateLimited
	}

	observability.PushDispatches.WithLabelValues(reason).Inc()
	s.logger.Debug().Str("reason", reason).Msg("no push sent")

	return DispatchResult{Reason: reason}, nil
}

func (s *Scheduler) deliver(ctx context.Context, item *domain.PushQueueItem) error {
	report, err := s.repo.GetReport(ctx, item.ReportID)
	if err != nil {
		return fmt.Errorf("load report: %w", err)
	}

	payload := ports.PushPayload{
		PushID:    item.ID,
		HotspotID: item.HotspotID,
		Keyword:   item.Keyword,
		Priority:  item.Priority,
		Score:     item.Score,
		Report:    report.Report,
	}

	channels := item.Channels
	if len(channels) == 0 {
		channels = s.cfg.DefaultChannels
	}

	if len(channels) == 0 {
		return fmt.Errorf("%w: no channels configured", coreerrors.ErrUnknownChannel)
	}

	var errs []error

	for _, name := range channels {
		ch, ok := s.channels[name]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", coreerrors.ErrUnknownChannel, name))
			continue
		}

		if err := ch.Send(ctx, payload); err != nil {
			observability.ChannelSends.WithLabelValues(name, channelStatusError).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", name, err))

			continue
		}

		observability.ChannelSends.WithLabelValues(name, channelStatusOK).Inc()
	}

	return errors.Join(errs...)
}

func (s *Scheduler) release(ctx context.Context, claim *ports.ClaimedPush, cause error) (DispatchResult, error) {
	item := claim.Item

	status, err := s.repo.ReleasePush(ctx, ports.PushFailure{
		ItemID:         item.ID,
		SentAt:         claim.SentAt,
		PreviousSentAt: claim.PreviousSentAt,
		Error:          truncate(cause.Error(), maxErrorLen),
		MaxRetries:     s.cfg.MaxRetries,
		RetryAt:        s.now().Add(s.cfg.RetryBackoff),
	})
	if err != nil {
		return DispatchResult{}, fmt.Errorf("release push %s: %w", item.ID, err)
	}

	observability.PushDispatches.WithLabelValues(ReasonDeliveryFailed).Inc()
	s.refreshPending(ctx)

	item.Status = status
	item.SentAt = nil

	s.logger.Warn().
		Err(cause).
		Str(logKeyPushID, item.ID).
		Str("status", string(status)).
		Msg("push delivery failed")

	return DispatchResult{Reason: ReasonDeliveryFailed, Item: &item, Status: status}, nil
}

func (s *Scheduler) refreshPending(ctx context.Context) {
	n, err := s.repo.CountPendingPushes(ctx)
	if err != nil {
		s.logger.Debug().Err(err).Msg("failed to count pending pushes")
		return
	}

	observability.PushQueuePending.Set(float64(n))
}

const maxErrorLen = 1000

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return strings.ToValidUTF8(s[:n], "")
}
