package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	coreerrors "github.com/lueurxax/hotspot-engine/internal/core/errors"
	"github.com/lueurxax/hotspot-engine/internal/core/ports"
	"github.com/lueurxax/hotspot-engine/internal/process/crawl"
)

type fakeSignals struct {
	got *domain.RawSignal
	err error
}

func (f *fakeSignals) Submit(_ context.Context, sig *domain.RawSignal) error {
	if f.err != nil {
		return f.err
	}

	sig.ID = "sig-1"
	f.got = sig

	return nil
}

type fakeCrawl struct {
	id      string
	outcome crawl.Outcome
	applied bool
	err     error
}

func (f *fakeCrawl) OnCrawlCompleted(_ context.Context, id string, o crawl.Outcome) (bool, error) {
	f.id, f.outcome = id, o

	return f.applied, f.err
}

type fakeAnalysis struct {
	id      string
	outcome ports.AnalysisOutcome
	applied bool
	err     error
}

func (f *fakeAnalysis) OnAnalysisCompleted(_ context.Context, id string, o ports.AnalysisOutcome) (bool, error) {
	f.id, f.outcome = id, o

	return f.applied, f.err
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fixture struct {
	signals  *fakeSignals
	crawl    *fakeCrawl
	analysis *fakeAnalysis
	handler  http.Handler
}

func newFixture(t *testing.T, ping error) *fixture {
	t.Helper()

	logger := zerolog.Nop()
	f := &fixture{signals: &fakeSignals{}, crawl: &fakeCrawl{applied: true}, analysis: &fakeAnalysis{applied: true}}
	srv := NewServer(Deps{Signals: f.signals, Crawl: f.crawl, Analysis: f.analysis, Store: fakePinger{err: ping}}, 0, &logger)
	f.handler = srv.Router()

	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	return rec
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestReadyz(t *testing.T) {
	assert.Equal(t, http.StatusOK, newFixture(t, nil).do(http.MethodGet, "/readyz", "").Code)

	rec := newFixture(t, errors.New("connection refused")).do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetrics(t *testing.T) {
	rec := newFixture(t, nil).do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPostSignal(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/v1/signals",
		`{"keyword":"露营","platform":"xhs","rank":3,"heat":"3.2万","seen_at":"2026-03-01 08:00","keep":false,"reason":" gossip "}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp acceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sig-1", resp.ID)

	require.NotNil(t, f.signals.got)
	assert.Equal(t, "露营", f.signals.got.Keyword)
	assert.Equal(t, "3.2万", f.signals.got.Heat)
	assert.Equal(t, 3, f.signals.got.Rank)
	require.NotNil(t, f.signals.got.Judgment)
	assert.False(t, f.signals.got.Judgment.Keep)
	assert.Equal(t, "gossip", f.signals.got.Judgment.Reason)
}

func TestPostSignal_NumericHeat(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/v1/signals", `{"keyword":"k","platform":"wb","heat":12345}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "12345", f.signals.got.Heat)
	assert.Nil(t, f.signals.got.Judgment)
}

func TestPostSignal_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		code int
	}{
		{"malformed json", `{"keyword":`, nil, http.StatusBadRequest},
		{"invalid argument", `{}`, fmt.Errorf("%w: keyword is required", coreerrors.ErrInvalidArgument), http.StatusBadRequest},
		{"store failure", `{"keyword":"k","platform":"wb"}`, errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.signals.err = tt.err

			rec := f.do(http.MethodPost, "/v1/signals", tt.body)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestCrawlCallback(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/v1/callbacks/crawl/h1", `{"success":true,"data":{"notes":3}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"applied":true}`, rec.Body.String())

	assert.Equal(t, "h1", f.crawl.id)
	assert.True(t, f.crawl.outcome.Success)
	assert.JSONEq(t, `{"notes":3}`, string(f.crawl.outcome.Data))
}

func TestCrawlCallback_Duplicate(t *testing.T) {
	f := newFixture(t, nil)
	f.crawl.applied = false

	rec := f.do(http.MethodPost, "/v1/callbacks/crawl/h1", `{"success":false,"error":"blocked"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"applied":false}`, rec.Body.String())
	assert.Equal(t, "blocked", f.crawl.outcome.Error)
}

func TestAnalysisCallback(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/v1/callbacks/analysis/h2",
		`{"score":72,"priority":" High ","product_types":["tents"],"report":{"summary":"s"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "h2", f.analysis.id)
	assert.Equal(t, domain.PriorityHigh, f.analysis.outcome.Priority)
	assert.InDelta(t, 72, f.analysis.outcome.Score, 1e-9)
	assert.Equal(t, []string{"tents"}, f.analysis.outcome.ProductTypes)
}

func TestAnalysisCallback_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{coreerrors.ErrInvalidArgument, http.StatusBadRequest},
		{coreerrors.ErrNotFound, http.StatusNotFound},
		{coreerrors.ErrInvalidTransition, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			f := newFixture(t, nil)
			f.analysis.err = fmt.Errorf("wrapped: %w", tt.err)

			rec := f.do(http.MethodPost, "/v1/callbacks/analysis/h2", `{"rejected":true,"reason":"no demand"}`)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rec := newFixture(t, nil).do(http.MethodGet, "/v1/signals", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMethodNotAllowed_Callbacks(t *testing.T) {
	f := newFixture(t, nil)

	for _, path := range []string{"/v1/callbacks/crawl/h1", "/v1/callbacks/analysis/h1"} {
		assert.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodGet, path, "").Code, path)
	}

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/v1/unknown", "").Code)
}

func TestRouteLabel(t *testing.T) {
	unrouted := httptest.NewRequest(http.MethodGet, "/v1/anything/12345", nil)
	assert.Equal(t, routeUnmatched, routeLabel(unrouted))

	var got string

	r := mux.NewRouter()
	r.HandleFunc("/v1/callbacks/crawl/{id}", func(_ http.ResponseWriter, req *http.Request) {
		got = routeLabel(req)
	}).Methods(http.MethodPost)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/callbacks/crawl/h9", nil))
	assert.Equal(t, "/v1/callbacks/crawl/{id}", got)
}
