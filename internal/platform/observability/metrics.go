package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SignalsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotspot_signals_received_total",
		Help: "The total number of raw signals accepted into the inbox",
	}, []string{"platform"})

	HotspotsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotspot_ingested_total",
		Help: "The total number of ingested observations by outcome",
	}, []string{"action"})

	IngestRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hotspot_ingest_retries_total",
		Help: "Signals released for a later retry after a transient failure",
	})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotspot_transitions_total",
		Help: "Applied lifecycle transitions",
	}, []string{"from", "to"})

	TransitionConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotspot_transition_conflicts_total",
		Help: "Conditional transitions that matched no row",
	}, []string{"from", "to"})

	CrawlClaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotspot_crawl_claims_total",
		Help: "Crawl claim attempts by result",
	}, []string{"result"})

	CrawlTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hotspot_crawl_timeouts_total",
		Help: "Crawls reverted by the timeout sweep",
	})

	AnalysisDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotspot_analysis_dispatch_total",
		Help: "Analysis dispatches by result",
	}, []string{"result"})

	ClusterOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotspot_cluster_operations_total",
		Help: "Cluster operations by kind and result",
	}, []string{"op", "result"})

	PushDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotspot_push_dispatch_total",
		Help: "Push dispatcher runs by result",
	}, []string{"result"})

	PushQueuePending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hotspot_push_queue_pending",
		Help: "Number of pending push queue items",
	})

	ChannelSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotspot_channel_sends_total",
		Help: "Channel deliveries by channel and status",
	}, []string{"channel", "status"})

	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotspot_job_runs_total",
		Help: "Periodic job runs by job and status",
	}, []string{"job", "status"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hotspot_job_duration_seconds",
		Help:    "Duration of periodic job runs",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})

	// LLM metrics
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotspot_llm_requests_total",
		Help: "Total number of LLM requests",
	}, []string{"task", "status"})

	LLMRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hotspot_llm_request_latency_seconds",
		Help:    "Latency of LLM requests by task",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"task"})

	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotspot_llm_tokens_total",
		Help: "LLM tokens used by task and kind",
	}, []string{"task", "kind"})

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotspot_embedding_requests_total",
		Help: "Total number of embedding requests",
	}, []string{"provider", "status"})

	EmbeddingErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hotspot_embedding_errors_total",
		Help: "Embedding requests no provider could serve",
	})

	EmbeddingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hotspot_embedding_latency_seconds",
		Help:    "Latency of embedding requests",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"provider"})

	EmbeddingProviderAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hotspot_embedding_provider_available",
		Help: "Whether an embedding provider is currently available (0=no, 1=yes)",
	}, []string{"provider"})

	EmbeddingFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotspot_embedding_fallbacks_total",
		Help: "Total number of embedding fallback events",
	}, []string{"from_provider", "to_provider"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotspot_http_requests_total",
		Help: "API requests by route and status code",
	}, []string{"route", "code"})
)
