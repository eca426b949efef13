// Package httpapi exposes the signal inbox, the collaborator callbacks and
// the health endpoints over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	"github.com/lueurxax/hotspot-engine/internal/core/ports"
	"github.com/lueurxax/hotspot-engine/internal/platform/observability"
	"github.com/lueurxax/hotspot-engine/internal/process/crawl"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 15 * time.Second
	writeTimeout      = 15 * time.Second
	idleTimeout       = 60 * time.Second
	maxBodyBytes      = 4 << 20

	// routeUnmatched labels requests no route template matched, keeping
	// the metric's label set bounded.
	routeUnmatched = "unmatched"
)

// SignalSubmitter accepts raw signals into the inbox.
type SignalSubmitter interface {
	Submit(ctx context.Context, sig *domain.RawSignal) error
}

// CrawlCallbacks records crawl completion.
type CrawlCallbacks interface {
	OnCrawlCompleted(ctx context.Context, hotspotID string, outcome crawl.Outcome) (bool, error)
}

// AnalysisCallbacks records asynchronous analysis results.
type AnalysisCallbacks interface {
	OnAnalysisCompleted(ctx context.Context, hotspotID string, outcome ports.AnalysisOutcome) (bool, error)
}

// Pinger reports store readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components the API drives.
type Deps struct {
	Signals  SignalSubmitter
	Crawl    CrawlCallbacks
	Analysis AnalysisCallbacks
	Store    Pinger
}

// Server serves the API.
type Server struct {
	deps   Deps
	port   int
	logger *zerolog.Logger
}

// NewServer creates a server listening on port.
func NewServer(deps Deps, port int, logger *zerolog.Logger) *Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Server{deps: deps, port: port, logger: logger}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Registered on the root router: subrouters answer 404 instead of 405
	// for a known path with the wrong method.
	r.HandleFunc("/v1/signals", s.handleSignal).Methods(http.MethodPost)
	r.HandleFunc("/v1/callbacks/crawl/{id}", s.handleCrawlCallback).Methods(http.MethodPost)
	r.HandleFunc("/v1/callbacks/analysis/{id}", s.handleAnalysisCallback).Methods(http.MethodPost)

	return r
}

// Start serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)

		defer cancel()

		//nolint:errcheck,contextcheck // shutdown is best-effort, non-inherited context intentional
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Int("port", s.port).Msg("API server starting")

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := routeLabel(r)

		observability.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()

		s.logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// routeLabel returns the matched route template. Raw paths never become
// label values.
func routeLabel(r *http.Request) string {
	if cur := mux.CurrentRoute(r); cur != nil {
		if tpl, err := cur.GetPathTemplate(); err == nil {
			return tpl
		}
	}

	return routeUnmatched
}
