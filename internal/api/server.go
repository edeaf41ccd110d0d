// Package api exposes the HTTP interface for the harvest service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/dispatcher"
	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/metrics"
)

// Response statuses returned by the scrape endpoint.
const (
	StatusAccepted        = "accepted"
	StatusErrorScheduling = "error_scheduling_task"
)

const maxBodyBytes = 1 << 20

// Submitter hands accepted jobs to the background runners.
type Submitter interface {
	Submit(item dispatcher.Item) error
}

// Config tunes the HTTP layer.
type Config struct {
	RequestTimeout time.Duration
	// APIKey, when set, is required in X-API-Key (or ?api_key=) on /api routes.
	APIKey string
}

// Server wires HTTP handlers to the dispatcher and job store.
type Server struct {
	router    chi.Router
	jobs      harvest.JobStore
	submitter Submitter
	idGen     harvest.IDGenerator
	clock     harvest.Clock
	logger    *zap.Logger
	ready     atomic.Bool
}

// ScrapeRequest is the body of POST /api/v1/scrape.
type ScrapeRequest struct {
	BaseURL string `json:"base_url"`
	Pages   int    `json:"pages,omitempty"`
	Workers int    `json:"workers,omitempty"`
}

// ScrapeResponse acknowledges a scrape submission.
type ScrapeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	JobID   string `json:"job_id,omitempty"`
}

// NewServer constructs a Server with middleware and routes. The server starts ready.
func NewServer(
	jobs harvest.JobStore,
	submitter Submitter,
	idGen harvest.IDGenerator,
	clock harvest.Clock,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:      jobs,
		submitter: submitter,
		idGen:     idGen,
		clock:     clock,
		logger:    logger.Named("api"),
	}
	s.ready.Store(true)

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Post("/scrape", s.scrape)
		r.Get("/jobs/{job_id}", s.getJob)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetReady toggles the readiness probe, e.g. while draining on shutdown.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) scrape(w http.ResponseWriter, r *http.Request) {
	var body ScrapeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req, err := toRequest(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		s.logger.Error("job id generation failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "job id generation failed")
		return
	}
	logger := s.logger.With(zap.String("job_id", jobID), zap.String("base_url", req.URL))

	job := harvest.Job{
		ID:        jobID,
		Status:    harvest.JobStatusQueued,
		Request:   req,
		Submitted: s.clock.Now(),
	}
	if err := s.jobs.CreateJob(r.Context(), job); err != nil {
		logger.Error("create job failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "job store unavailable")
		return
	}

	if err := s.submitter.Submit(dispatcher.Item{JobID: jobID, Request: req}); err != nil {
		logger.Warn("job scheduling failed", zap.Error(err))
		errText := fmt.Sprintf("scheduling failed: %v", err)
		if ferr := s.jobs.FinishJob(context.WithoutCancel(r.Context()), jobID, harvest.JobStatusFailed,
			s.clock.Now(), errText, nil); ferr != nil {
			logger.Error("finish job failed", zap.Error(ferr))
		}
		s.writeJSON(w, http.StatusAccepted, ScrapeResponse{
			Status:  StatusErrorScheduling,
			Message: errText,
			JobID:   jobID,
		})
		return
	}

	logger.Info("harvest job accepted")
	s.writeJSON(w, http.StatusAccepted, ScrapeResponse{
		Status:  StatusAccepted,
		Message: "harvest started for " + req.URL,
		JobID:   jobID,
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, harvest.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "job store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func toRequest(body ScrapeRequest) (harvest.Request, error) {
	if body.BaseURL == "" {
		return harvest.Request{}, errors.New("base_url required")
	}
	u, err := url.Parse(body.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return harvest.Request{}, fmt.Errorf("invalid base_url %q", body.BaseURL)
	}
	if body.Pages < 0 {
		return harvest.Request{}, errors.New("pages must be positive")
	}
	if body.Workers < 0 {
		return harvest.Request{}, errors.New("workers must be positive")
	}
	return harvest.Request{URL: body.BaseURL, PageLimit: body.Pages, Workers: body.Workers}, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
