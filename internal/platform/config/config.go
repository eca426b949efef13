package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/lueurxax/hotspot-engine/internal/core/embeddings"
	"github.com/lueurxax/hotspot-engine/internal/platform/schedule"
)

// EnvLocal selects human-readable console logging.
const EnvLocal = "local"

var errInvalidConfig = errors.New("invalid config")

type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"local"`
	HTTPPort int    `env:"HTTP_PORT" envDefault:"8080"`
	Timezone string `env:"TIMEZONE" envDefault:"Asia/Shanghai"`

	PostgresDSN          string        `env:"POSTGRES_DSN,required"`
	DBMaxConnections     int32         `env:"DB_MAX_CONNECTIONS" envDefault:"25"`
	DBMinConnections     int32         `env:"DB_MIN_CONNECTIONS" envDefault:"5"`
	DBMaxConnIdleTime    time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	DBMaxConnLifetime    time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	DBHealthCheckPeriod  time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m"`
	DBMigrateOnStartup   bool          `env:"DB_MIGRATE_ON_STARTUP" envDefault:"true"`
	IngestBatchSize      int           `env:"INGEST_BATCH_SIZE" envDefault:"20"`
	IngestPollInterval   time.Duration `env:"INGEST_POLL_INTERVAL" envDefault:"2s"`
	IngestRetryBase      time.Duration `env:"INGEST_RETRY_BASE" envDefault:"30s"`
	IngestRetryMax       time.Duration `env:"INGEST_RETRY_MAX" envDefault:"30m"`
	IngestStuckAfter     time.Duration `env:"INGEST_STUCK_AFTER" envDefault:"10m"`
	SimilarityThreshold  float64       `env:"SIMILARITY_THRESHOLD" envDefault:"0.85"`
	ClusterAttachThresh  float64       `env:"CLUSTER_ATTACH_THRESHOLD" envDefault:"0.75"`
	SimilarityWindow     time.Duration `env:"SIMILARITY_WINDOW" envDefault:"168h"`
	ValidationWindow     time.Duration `env:"VALIDATION_WINDOW" envDefault:"6h"`
	MinAppearances       int           `env:"MIN_APPEARANCES" envDefault:"2"`
	OutdatedAfter        time.Duration `env:"OUTDATED_AFTER" envDefault:"48h"`
	PendingStaleAfter    time.Duration `env:"PENDING_STALE_AFTER" envDefault:"72h"`
	SweepBatchSize       int           `env:"SWEEP_BATCH_SIZE" envDefault:"100"`
	CrawlCooldown        time.Duration `env:"CRAWL_COOLDOWN" envDefault:"6h"`
	CrawlDailyCap        int           `env:"CRAWL_DAILY_CAP" envDefault:"4"`
	CrawlTimeout         time.Duration `env:"CRAWL_TIMEOUT" envDefault:"30m"`
	CrawlBatch           int           `env:"CRAWL_BATCH" envDefault:"10"`
	CrawlPlatforms       []string      `env:"CRAWL_PLATFORMS" envSeparator:"," envDefault:"xhs,dy,bili,wb"`
	AnalysisTimeout      time.Duration `env:"ANALYSIS_TIMEOUT" envDefault:"30m"`
	AnalysisBatch        int           `env:"ANALYSIS_BATCH" envDefault:"5"`
	PushMinInterval      time.Duration `env:"PUSH_MIN_INTERVAL" envDefault:"2h"`
	PushMaxRetries       int           `env:"PUSH_MAX_RETRIES" envDefault:"3"`
	PushRetryBackoff     time.Duration `env:"PUSH_RETRY_BACKOFF" envDefault:"10m"`
	PushDefaultChannels  []string      `env:"PUSH_DEFAULT_CHANNELS" envSeparator:"," envDefault:"telegram"`
	ScheduleValidation   string        `env:"SCHEDULE_VALIDATION" envDefault:"@every 1m"`
	ScheduleScreening    string        `env:"SCHEDULE_SCREENING" envDefault:"@every 1m"`
	ScheduleOutdated     string        `env:"SCHEDULE_OUTDATED" envDefault:"@every 10m"`
	ScheduleArchive      string        `env:"SCHEDULE_ARCHIVE" envDefault:"@every 10m"`
	ScheduleCrawl        string        `env:"SCHEDULE_CRAWL" envDefault:"@every 1m"`
	ScheduleCrawlTimeout string        `env:"SCHEDULE_CRAWL_TIMEOUT" envDefault:"@every 5m"`
	ScheduleAnalysis     string        `env:"SCHEDULE_ANALYSIS" envDefault:"@every 1m"`
	SchedulePush         string        `env:"SCHEDULE_PUSH" envDefault:"@every 1m"`

	EmbeddingProviderOrder    string        `env:"EMBEDDING_PROVIDER_ORDER" envDefault:"openai,cohere"`
	EmbeddingOpenAIAPIKey     string        `env:"EMBEDDING_OPENAI_API_KEY"`
	EmbeddingOpenAIBaseURL    string        `env:"EMBEDDING_OPENAI_BASE_URL"`
	EmbeddingOpenAIModel      string        `env:"EMBEDDING_OPENAI_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingOpenAIRateLimit  int           `env:"EMBEDDING_OPENAI_RPS" envDefault:"5"`
	EmbeddingCohereAPIKey     string        `env:"EMBEDDING_COHERE_API_KEY"`
	EmbeddingCohereModel      string        `env:"EMBEDDING_COHERE_MODEL" envDefault:"embed-multilingual-v3.0"`
	EmbeddingCohereRateLimit  int           `env:"EMBEDDING_COHERE_RPS" envDefault:"5"`
	EmbeddingDimensions       int           `env:"EMBEDDING_DIMENSIONS" envDefault:"1536"`
	EmbeddingCircuitThreshold int           `env:"EMBEDDING_CIRCUIT_THRESHOLD" envDefault:"5"`
	EmbeddingCircuitTimeout   time.Duration `env:"EMBEDDING_CIRCUIT_TIMEOUT" envDefault:"1m"`

	LLMAPIKey  string  `env:"LLM_API_KEY"`
	LLMBaseURL string  `env:"LLM_BASE_URL"`
	LLMModel   string  `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	LLMRPS     float64 `env:"LLM_RPS" envDefault:"1"`

	CrawlerBaseURL   string        `env:"CRAWLER_BASE_URL"`
	CrawlerAPIKey    string        `env:"CRAWLER_API_KEY"`
	CrawlerTimeout   time.Duration `env:"CRAWLER_TIMEOUT" envDefault:"15s"`
	CallbackBaseURL  string        `env:"CALLBACK_BASE_URL"`
	TelegramBotToken string        `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   int64         `env:"TELEGRAM_CHAT_ID"`
	WebhookURL       string        `env:"WEBHOOK_URL"`
	WebhookSecret    string        `env:"WEBHOOK_SECRET"`
	SMTPHost         string        `env:"SMTP_HOST"`
	SMTPPort         int           `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername     string        `env:"SMTP_USERNAME"`
	SMTPPassword     string        `env:"SMTP_PASSWORD"`
	SMTPFrom         string        `env:"SMTP_FROM"`
	EmailTo          []string      `env:"EMAIL_TO" envSeparator:","`
}

// Load reads the configuration from the environment and an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional, error is expected when not present

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	for name, v := range map[string]float64{
		"SIMILARITY_THRESHOLD":     c.SimilarityThreshold,
		"CLUSTER_ATTACH_THRESHOLD": c.ClusterAttachThresh,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%w: %s must be in (0,1], got %v", errInvalidConfig, name, v)
		}
	}

	if c.ClusterAttachThresh > c.SimilarityThreshold {
		return fmt.Errorf("%w: CLUSTER_ATTACH_THRESHOLD must not exceed SIMILARITY_THRESHOLD", errInvalidConfig)
	}

	for name, d := range map[string]time.Duration{
		"SIMILARITY_WINDOW":    c.SimilarityWindow,
		"VALIDATION_WINDOW":    c.ValidationWindow,
		"OUTDATED_AFTER":       c.OutdatedAfter,
		"PENDING_STALE_AFTER":  c.PendingStaleAfter,
		"CRAWL_COOLDOWN":       c.CrawlCooldown,
		"CRAWL_TIMEOUT":        c.CrawlTimeout,
		"ANALYSIS_TIMEOUT":     c.AnalysisTimeout,
		"PUSH_MIN_INTERVAL":    c.PushMinInterval,
		"PUSH_RETRY_BACKOFF":   c.PushRetryBackoff,
		"INGEST_POLL_INTERVAL": c.IngestPollInterval,
		"INGEST_RETRY_BASE":    c.IngestRetryBase,
		"INGEST_RETRY_MAX":     c.IngestRetryMax,
		"INGEST_STUCK_AFTER":   c.IngestStuckAfter,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", errInvalidConfig, name, d)
		}
	}

	if c.CrawlDailyCap < 1 {
		return fmt.Errorf("%w: CRAWL_DAILY_CAP must be at least 1, got %d", errInvalidConfig, c.CrawlDailyCap)
	}

	if c.MinAppearances < 2 {
		return fmt.Errorf("%w: MIN_APPEARANCES must be at least 2, got %d", errInvalidConfig, c.MinAppearances)
	}

	// The hotspots.embedding column is fixed width; other sizes fail on insert.
	if c.EmbeddingDimensions != embeddings.DefaultDimensions {
		return fmt.Errorf("%w: EMBEDDING_DIMENSIONS must be %d to match the embedding column, got %d",
			errInvalidConfig, embeddings.DefaultDimensions, c.EmbeddingDimensions)
	}

	if c.PushMaxRetries < 0 {
		return fmt.Errorf("%w: PUSH_MAX_RETRIES must not be negative", errInvalidConfig)
	}

	for name, spec := range c.Schedules() {
		if err := schedule.ValidateSpec(spec); err != nil {
			return fmt.Errorf("%w: SCHEDULE_%s: %w", errInvalidConfig, name, err)
		}
	}

	if _, err := schedule.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w: TIMEZONE: %w", errInvalidConfig, err)
	}

	return nil
}

// Schedules maps each periodic job to its cron spec.
func (c *Config) Schedules() map[string]string {
	return map[string]string{
		"VALIDATION":    c.ScheduleValidation,
		"SCREENING":     c.ScheduleScreening,
		"OUTDATED":      c.ScheduleOutdated,
		"ARCHIVE":       c.ScheduleArchive,
		"CRAWL":         c.ScheduleCrawl,
		"CRAWL_TIMEOUT": c.ScheduleCrawlTimeout,
		"ANALYSIS":      c.ScheduleAnalysis,
		"PUSH":          c.SchedulePush,
	}
}

// IsLocal reports whether the service runs on a developer machine.
func (c *Config) IsLocal() bool {
	return c.AppEnv == EnvLocal
}
