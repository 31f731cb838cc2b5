package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/deepestlearning/lectern/internal/config"
	"github.com/deepestlearning/lectern/internal/observability"
)

type Server struct {
	cfg      config.Config
	lectures LectureService
	metrics  *observability.Metrics
}

func New(cfg config.Config, lectures LectureService, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		lectures: lectures,
		metrics:  metrics,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/lectures", s.handleCreateLecture)
	r.Post("/v1/lectures/{id}/reset", s.handleResetLecture)
	r.Get("/v1/lectures/{id}", s.handleGetLecture)
	r.Get("/v1/lectures/{id}/slides/{n}/step", s.handleStepSlide)
	r.Post("/v1/lectures/{id}/slides/{n}/answer", s.handleSubmitAnswer)
	r.Post("/v1/lectures/{id}/slides/{n}/question", s.handleFreeQuestion)
	r.Get("/v1/lectures/{id}/slides/{n}/audio", s.handleFetchAudio)
	r.Get("/v1/lectures/{id}/slides/{n}/audio/stream", s.handleStreamAudio)
	r.Get("/v1/lectures/{id}/slides/{n}/status", s.handleSlideStatus)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "metrics not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.LatencySnapshot())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
