package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	coreerrors "github.com/lueurxax/hotspot-engine/internal/core/errors"
	"github.com/lueurxax/hotspot-engine/internal/core/ports"
	"github.com/lueurxax/hotspot-engine/internal/process/crawl"
)

var errBadBody = errors.New("malformed request body")

// flexString accepts a JSON string or number. Platforms report heat both
// as 12345 and as "1.2万".
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}

		*f = flexString(s)

		return nil
	}

	if string(b) == "null" {
		*f = ""

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}

	*f = flexString(n.String())

	return nil
}

// SignalRequest is the body of POST /v1/signals.
type SignalRequest struct {
	Keyword  string     `json:"keyword"`
	Platform string     `json:"platform"`
	Rank     int        `json:"rank"`
	Heat     flexString `json:"heat"`
	SeenAt   string     `json:"seen_at"`
	// Keep carries an upstream first-stage judgment when present.
	Keep   *bool  `json:"keep,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// CrawlCallbackRequest is the body of POST /v1/callbacks/crawl/{id}.
type CrawlCallbackRequest struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// AnalysisCallbackRequest is the body of POST /v1/callbacks/analysis/{id}.
type AnalysisCallbackRequest struct {
	Rejected     bool            `json:"rejected"`
	Reason       string          `json:"reason,omitempty"`
	Report       json.RawMessage `json:"report,omitempty"`
	Score        float64         `json:"score"`
	Priority     string          `json:"priority"`
	ProductTypes []string        `json:"product_types,omitempty"`
}

type acceptedResponse struct {
	ID string `json:"id"`
}

type appliedResponse struct {
	Applied bool `json:"applied"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "OK")
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "DB error: %v", err)

			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "OK")
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	var req SignalRequest
	if !s.decode(w, r, &req) {
		return
	}

	sig := &domain.RawSignal{
		Keyword:  req.Keyword,
		Platform: req.Platform,
		Rank:     req.Rank,
		Heat:     string(req.Heat),
		SeenAt:   req.SeenAt,
	}

	if req.Keep != nil {
		sig.Judgment = &domain.Judgment{Keep: *req.Keep, Reason: strings.TrimSpace(req.Reason)}
	}

	if err := s.deps.Signals.Submit(r.Context(), sig); err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusAccepted, acceptedResponse{ID: sig.ID})
}

func (s *Server) handleCrawlCallback(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req CrawlCallbackRequest
	if !s.decode(w, r, &req) {
		return
	}

	applied, err := s.deps.Crawl.OnCrawlCompleted(r.Context(), id, crawl.Outcome{
		Success: req.Success,
		Data:    req.Data,
		Error:   req.Error,
	})
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, appliedResponse{Applied: applied})
}

func (s *Server) handleAnalysisCallback(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req AnalysisCallbackRequest
	if !s.decode(w, r, &req) {
		return
	}

	applied, err := s.deps.Analysis.OnAnalysisCompleted(r.Context(), id, ports.AnalysisOutcome{
		Rejected:     req.Rejected,
		Reason:       req.Reason,
		Report:       req.Report,
		Score:        req.Score,
		Priority:     domain.Priority(strings.ToLower(strings.TrimSpace(req.Priority))),
		ProductTypes: req.ProductTypes,
	})
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, appliedResponse{Applied: applied})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		s.writeError(w, fmt.Errorf("%w: %w", errBadBody, err))

		return false
	}

	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}

	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadBody), errors.Is(err, coreerrors.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, coreerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, coreerrors.ErrInvalidTransition), errors.Is(err, coreerrors.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(code)
	_, _ = w.Write(body)
}
