package config

import "time"

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	PostgresDSN       string
	MaxConnections    int32
	MinConnections    int32
	MaxConnIdleTime   time.Duration
	MaxConnLifetime   time.Duration
	HealthCheckPeriod time.Duration
	MigrateOnStartup  bool
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	ProviderOrder    string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string
	OpenAIRateLimit  int
	CohereAPIKey     string
	CohereModel      string
	CohereRateLimit  int
	Dimensions       int
	CircuitThreshold int
	CircuitTimeout   time.Duration
}

// LLMConfig holds chat completion settings.
type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	RPS     float64
}

// CrawlerConfig holds crawler service client settings.
type CrawlerConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// CallbackBaseURL is where the crawler posts completion callbacks.
	CallbackBaseURL string
}

// TelegramConfig holds Telegram push channel settings.
type TelegramConfig struct {
	Token  string
	ChatID int64
}

// WebhookConfig holds webhook push channel settings.
type WebhookConfig struct {
	URL    string
	Secret string
}

// EmailConfig holds SMTP push channel settings.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// Enabled reports whether the channel has enough settings to send.
func (c TelegramConfig) Enabled() bool { return c.Token != "" && c.ChatID != 0 }

// Enabled reports whether the channel has enough settings to send.
func (c WebhookConfig) Enabled() bool { return c.URL != "" }

// Enabled reports whether the channel has enough settings to send.
func (c EmailConfig) Enabled() bool { return c.Host != "" && c.From != "" && len(c.To) > 0 }

// Database returns database settings.
func (c *Config) Database() DatabaseConfig {
	return DatabaseConfig{
		PostgresDSN:       c.PostgresDSN,
		MaxConnections:    c.DBMaxConnections,
		MinConnections:    c.DBMinConnections,
		MaxConnIdleTime:   c.DBMaxConnIdleTime,
		MaxConnLifetime:   c.DBMaxConnLifetime,
		HealthCheckPeriod: c.DBHealthCheckPeriod,
		MigrateOnStartup:  c.DBMigrateOnStartup,
	}
}

// Embedding returns embedding provider settings.
func (c *Config) Embedding() EmbeddingConfig {
	return EmbeddingConfig{
		ProviderOrder:    c.EmbeddingProviderOrder,
		OpenAIAPIKey:     c.EmbeddingOpenAIAPIKey,
		OpenAIBaseURL:    c.EmbeddingOpenAIBaseURL,
		OpenAIModel:      c.EmbeddingOpenAIModel,
		OpenAIRateLimit:  c.EmbeddingOpenAIRateLimit,
		CohereAPIKey:     c.EmbeddingCohereAPIKey,
		CohereModel:      c.EmbeddingCohereModel,
		CohereRateLimit:  c.EmbeddingCohereRateLimit,
		Dimensions:       c.EmbeddingDimensions,
		CircuitThreshold: c.EmbeddingCircuitThreshold,
		CircuitTimeout:   c.EmbeddingCircuitTimeout,
	}
}

// LLM returns chat completion settings.
func (c *Config) LLM() LLMConfig {
	return LLMConfig{APIKey: c.LLMAPIKey, BaseURL: c.LLMBaseURL, Model: c.LLMModel, RPS: c.LLMRPS}
}

// Crawler returns crawler client settings.
func (c *Config) Crawler() CrawlerConfig {
	return CrawlerConfig{
		BaseURL:         c.CrawlerBaseURL,
		APIKey:          c.CrawlerAPIKey,
		Timeout:         c.CrawlerTimeout,
		CallbackBaseURL: c.CallbackBaseURL,
	}
}

// Telegram returns Telegram channel settings.
func (c *Config) Telegram() TelegramConfig {
	return TelegramConfig{Token: c.TelegramBotToken, ChatID: c.TelegramChatID}
}

// Webhook returns webhook channel settings.
func (c *Config) Webhook() WebhookConfig {
	return WebhookConfig{URL: c.WebhookURL, Secret: c.WebhookSecret}
}

// Email returns SMTP channel settings.
func (c *Config) Email() EmailConfig {
	return EmailConfig{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		Username: c.SMTPUsername,
		Password: c.SMTPPassword,
		From:     c.SMTPFrom,
		To:       c.EmailTo,
	}
}
