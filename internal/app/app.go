// Package app provides the application bootstrap and runtime orchestration.
//
// The App type wires one store handle into every component and exposes the
// operational modes:
//
//   - Worker mode: signal inbox worker plus the scheduled sweeps, crawl,
//     analysis and push jobs
//   - API mode: signal inbox and collaborator callback endpoints
//   - All mode: both in one process
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lueurxax/hotspot-engine/internal/core/embeddings"
	"github.com/lueurxax/hotspot-engine/internal/core/llm"
	"github.com/lueurxax/hotspot-engine/internal/core/ports"
	"github.com/lueurxax/hotspot-engine/internal/crawlerclient"
	"github.com/lueurxax/hotspot-engine/internal/httpapi"
	"github.com/lueurxax/hotspot-engine/internal/output/channels"
	"github.com/lueurxax/hotspot-engine/internal/platform/config"
	"github.com/lueurxax/hotspot-engine/internal/platform/schedule"
	"github.com/lueurxax/hotspot-engine/internal/process/analysis"
	"github.com/lueurxax/hotspot-engine/internal/process/cluster"
	"github.com/lueurxax/hotspot-engine/internal/process/crawl"
	"github.com/lueurxax/hotspot-engine/internal/process/ingest"
	"github.com/lueurxax/hotspot-engine/internal/process/lifecycle"
	"github.com/lueurxax/hotspot-engine/internal/process/push"
	"github.com/lueurxax/hotspot-engine/internal/process/similarity"
)

const (
	llmAPIKeyMock     = "mock"
	msgIngestStopped  = "ingest worker stopped"
	msgSchedulerStops = "scheduler stopped"
)

// Job names.
const (
	JobValidation   = "validation_sweep"
	JobScreening    = "screening_sweep"
	JobOutdated     = "outdated_sweep"
	JobArchive      = "archive_sweep"
	JobCrawl        = "crawl_dispatch"
	JobCrawlTimeout = "crawl_timeouts"
	JobAnalysis     = "analysis_dispatch"
	JobPush         = "push_dispatch"
)

// App holds the application dependencies and provides methods to run different modes.
type App struct {
	cfg    *config.Config
	store  ports.Store
	loc    *time.Location
	logger *zerolog.Logger

	embedder  ports.Embedder
	crawler   ports.CrawlerService
	channels  []ports.Channel
	now       func() time.Time
	Lifecycle *lifecycle.Machine
	Clusters  *cluster.Manager
	Matcher   *similarity.Matcher
	Ingest    *ingest.Worker
	Crawl     *crawl.Scheduler
	Analysis  *analysis.Trigger
	Push      *push.Scheduler
}

// Option overrides an external collaborator.
type Option func(*App)

// WithEmbedder replaces the configured embedding registry.
func WithEmbedder(e ports.Embedder) Option {
	return func(a *App) { a.embedder = e }
}

// WithCrawler replaces the crawler service client.
func WithCrawler(c ports.CrawlerService) Option {
	return func(a *App) { a.crawler = c }
}

// WithChannels replaces the configured push channels.
func WithChannels(chans ...ports.Channel) Option {
	return func(a *App) { a.channels = chans }
}

// WithClock overrides the time source of every component.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New wires every component around store.
func New(cfg *config.Config, store ports.Store, logger *zerolog.Logger, opts ...Option) (*App, error) {
	loc, err := schedule.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}

	a := &App{cfg: cfg, store: store, loc: loc, logger: logger, now: time.Now}

	for _, opt := range opts {
		opt(a)
	}

	if err := a.initCollaborators(); err != nil {
		return nil, err
	}

	a.initComponents()

	return a, nil
}

func (a *App) initCollaborators() error {
	if a.embedder == nil {
		a.embedder = NewEmbedder(a.cfg, a.logger)
	}

	if a.crawler == nil && a.cfg.CrawlerBaseURL != "" {
		c, err := crawlerclient.New(a.cfg.Crawler())
		if err != nil {
			return fmt.Errorf("crawler client: %w", err)
		}

		a.crawler = c
	}

	if a.channels == nil {
		chans, err := channels.Build(a.cfg, a.logger)
		if err != nil {
			return fmt.Errorf("push channels: %w", err)
		}

		a.channels = chans
	}

	return nil
}

// NewEmbedder creates the embedding gateway from cfg.
func NewEmbedder(cfg *config.Config, logger *zerolog.Logger) *embeddings.Gateway {
	ec := cfg.Embedding()

	return embeddings.New(embeddings.Config{
		Order: ec.ProviderOrder,
		OpenAI: embeddings.OpenAIConfig{
			APIKey:  ec.OpenAIAPIKey,
			BaseURL: ec.OpenAIBaseURL,
			Model:   ec.OpenAIModel,
			RPS:     ec.OpenAIRateLimit,
		},
		Cohere: embeddings.CohereConfig{
			APIKey: ec.CohereAPIKey,
			Model:  ec.CohereModel,
			RPS:    ec.CohereRateLimit,
		},
		Breaker: embeddings.BreakerConfig{
			Threshold: ec.CircuitThreshold,
			Cooldown:  ec.CircuitTimeout,
		},
		Dimensions: ec.Dimensions,
	}, logger)
}

// LifecycleConfig maps cfg onto the lifecycle rules.
func LifecycleConfig(cfg *config.Config) lifecycle.Config {
	return lifecycle.Config{
		ValidationWindow:  cfg.ValidationWindow,
		MinAppearances:    cfg.MinAppearances,
		OutdatedAfter:     cfg.OutdatedAfter,
		PendingStaleAfter: cfg.PendingStaleAfter,
		BatchSize:         cfg.SweepBatchSize,
	}
}

func (a *App) newCollaborators() (ports.Classifier, ports.Analyzer) {
	lc := a.cfg.LLM()
	if lc.APIKey == "" || lc.APIKey == llmAPIKeyMock {
		a.logger.Warn().Msg("LLM_API_KEY not set, using mock classifier and analyzer")

		return llm.MockClassifier{}, llm.MockAnalyzer{}
	}

	client := llm.NewClient(llm.Config{APIKey: lc.APIKey, BaseURL: lc.BaseURL, Model: lc.Model, RPS: lc.RPS}, a.logger)

	return llm.NewClassifier(client), llm.NewAnalyzer(client)
}

func (a *App) initComponents() {
	cfg := a.cfg
	classifier, analyzer := a.newCollaborators()

	a.Lifecycle = lifecycle.New(a.store, LifecycleConfig(cfg), a.logger, lifecycle.WithClock(a.now), lifecycle.WithClassifier(classifier))

	a.Clusters = cluster.New(a.store, a.logger)

	a.Matcher = similarity.New(a.store, a.embedder, a.Lifecycle, similarity.Config{
		Threshold:       cfg.SimilarityThreshold,
		AttachThreshold: cfg.ClusterAttachThresh,
		Window:          cfg.SimilarityWindow,
	}, a.logger, similarity.WithClock(a.now), similarity.WithGrouper(a.Clusters))

	a.Ingest = ingest.New(a.store, a.Matcher, ingest.Config{
		BatchSize:    cfg.IngestBatchSize,
		PollInterval: cfg.IngestPollInterval,
		RetryBase:    cfg.IngestRetryBase,
		RetryMax:     cfg.IngestRetryMax,
		StuckAfter:   cfg.IngestStuckAfter,
		Location:     a.loc,
	}, a.logger, ingest.WithClock(a.now))

	if a.crawler != nil {
		a.Crawl = crawl.New(a.store, a.Lifecycle, a.crawler, crawl.Config{
			Cooldown:  cfg.CrawlCooldown,
			DailyCap:  cfg.CrawlDailyCap,
			Timeout:   cfg.CrawlTimeout,
			BatchSize: cfg.CrawlBatch,
			Platforms: cfg.CrawlPlatforms,
			Location:  a.loc,
		}, a.logger, crawl.WithClock(a.now))
	}

	a.Analysis = analysis.New(a.store, a.Lifecycle, analyzer, analysis.Config{
		Timeout:   cfg.AnalysisTimeout,
		BatchSize: cfg.AnalysisBatch,
		Channels:  cfg.PushDefaultChannels,
	}, a.logger, analysis.WithClock(a.now))

	a.Push = push.New(a.store, a.channels, push.Config{
		MinInterval:     cfg.PushMinInterval,
		MaxRetries:      cfg.PushMaxRetries,
		RetryBackoff:    cfg.PushRetryBackoff,
		DefaultChannels: cfg.PushDefaultChannels,
	}, a.logger, push.WithClock(a.now))
}

// Jobs returns the periodic jobs with their cron specs.
func (a *App) Jobs() []schedule.Job {
	cfg := a.cfg

	jobs := []schedule.Job{
		{Name: JobValidation, Spec: cfg.ScheduleValidation, Run: a.Lifecycle.ValidationSweep},
		{Name: JobScreening, Spec: cfg.ScheduleScreening, Run: a.Lifecycle.ScreeningSweep},
		{Name: JobOutdated, Spec: cfg.ScheduleOutdated, Run: a.Lifecycle.OutdatedSweep},
		{Name: JobArchive, Spec: cfg.ScheduleArchive, Run: a.Lifecycle.ArchiveSweep},
		{Name: JobAnalysis, Spec: cfg.ScheduleAnalysis, Run: a.Analysis.RunOnce},
		{Name: JobPush, Spec: cfg.SchedulePush, Run: a.dispatchPush},
	}

	if a.Crawl != nil {
		jobs = append(jobs,
			schedule.Job{Name: JobCrawl, Spec: cfg.ScheduleCrawl, Run: a.Crawl.RunOnce},
			schedule.Job{Name: JobCrawlTimeout, Spec: cfg.ScheduleCrawlTimeout, Run: a.Crawl.SweepTimeouts},
		)
	}

	return jobs
}

func (a *App) dispatchPush(ctx context.Context) (int, error) {
	res, err := a.Push.DispatchNext(ctx)
	if err != nil {
		return 0, err
	}

	if res.Sent {
		return 1, nil
	}

	return 0, nil
}

// RunWorker runs the signal inbox worker and the scheduled jobs.
func (a *App) RunWorker(ctx context.Context) error {
	a.logger.Info().Msg("Starting worker mode")

	if a.Crawl == nil {
		a.logger.Warn().Msg("CRAWLER_BASE_URL not set, crawl jobs disabled")
	}

	if len(a.channels) == 0 {
		a.logger.Warn().Msg("no push channels configured, pushes will fail")
	}

	runner := schedule.New(a.loc, a.logger)

	for _, job := range a.Jobs() {
		if err := runner.Add(job); err != nil {
			return fmt.Errorf("scheduling %s: %w", job.Name, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.Ingest.Run(gctx)
		a.logStopped(err, msgIngestStopped)

		return err
	})

	g.Go(func() error {
		err := runner.Run(gctx)
		a.logStopped(err, msgSchedulerStops)

		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker: %w", err)
	}

	return nil
}

// RunAPI serves the HTTP API.
func (a *App) RunAPI(ctx context.Context) error {
	a.logger.Info().Msg("Starting API mode")

	deps := httpapi.Deps{
		Signals:  a.Ingest,
		Analysis: a.Analysis,
		Store:    a.store,
	}

	if a.Crawl != nil {
		deps.Crawl = a.Crawl
	} else {
		deps.Crawl = disabledCrawl{}
	}

	srv := httpapi.NewServer(deps, a.cfg.HTTPPort, a.logger)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("api server: %w", err)
	}

	return nil
}

// RunAll runs the API and the worker in one process.
func (a *App) RunAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.RunAPI(gctx) })
	g.Go(func() error { return a.RunWorker(gctx) })

	return g.Wait()
}

func (a *App) logStopped(err error, msg string) {
	if err == nil || errors.Is(err, context.Canceled) {
		a.logger.Info().Msg(msg)

		return
	}

	a.logger.Warn().Err(err).Msg(msg)
}

var errCrawlDisabled = errors.New("crawler is not configured")

type disabledCrawl struct{}

func (disabledCrawl) OnCrawlCompleted(context.Context, string, crawl.Outcome) (bool, error) {
	return false, errCrawlDisabled
}
