package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cwbudde/esbench/internal/experiment"
	"github.com/cwbudde/esbench/internal/problem"
	"github.com/cwbudde/esbench/internal/store"
)

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	store      store.Store
	traceDir   string
	addr       string
	server     *http.Server

	// ctx parents every job worker and is cancelled on Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new HTTP server. Finished experiments are saved to st
// (nil disables persistence); traces are written below traceDir.
func NewServer(addr string, st store.Store, traceDir string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		jobManager: NewJobManager(),
		store:      st,
		traceDir:   traceDir,
		addr:       addr,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Handler returns the server's routes wrapped in middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)

	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	mux.HandleFunc("/api/v1/experiments", s.handleListExperiments)
	mux.HandleFunc("/api/v1/experiments/", s.handleExperimentsWithID)
	mux.HandleFunc("/api/v1/problems", s.handleListProblems)

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown cancels running jobs and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server", "running_jobs", len(s.jobManager.GetRunningJobs()))
	s.cancel()

	// Open SSE streams would otherwise hold the HTTP shutdown until its deadline.
	for _, job := range s.jobManager.ListJobs() {
		s.jobManager.broadcaster.CleanupJob(job.ID)
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]

	switch {
	case len(parts) == 1 || parts[1] == "status":
		s.handleGetJobStatus(w, r, jobID)
	case parts[1] == "stream":
		s.handleJobStream(w, r, jobID)
	case parts[1] == "cancel":
		s.handleCancelJob(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateJob handles POST /api/v1/jobs. Omitted fields take their
// experiment.DefaultConfig value.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	config := experiment.DefaultConfig()
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	if err := config.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if config.Trace && s.traceDir == "" {
		http.Error(w, "tracing is not available on this server", http.StatusBadRequest)
		return
	}

	job := s.jobManager.CreateJob(config)

	ctx := s.jobManager.Start(s.ctx, job.ID)
	go func() {
		defer s.jobManager.Done(job.ID)
		runJob(ctx, s.jobManager, s.store, s.traceDir, job.ID)
	}()

	writeJSON(w, http.StatusCreated, job)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	response := map[string]interface{}{
		"id":            job.ID,
		"state":         job.State,
		"config":        job.Config,
		"runsCompleted": job.RunsCompleted,
		"runs":          job.Config.Runs,
		"bestFitness":   job.BestFitness,
		"summary":       job.Summary,
		"elapsed":       job.Elapsed().Seconds(),
		"startTime":     job.StartTime,
		"endTime":       job.EndTime,
		"error":         job.Error,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleCancelJob handles POST /api/v1/jobs/:id/cancel
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, exists := s.jobManager.GetJob(jobID); !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if err := s.jobManager.CancelJob(jobID); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleListExperiments handles GET /api/v1/experiments
func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		writeJSON(w, http.StatusOK, []store.ExperimentInfo{})
		return
	}

	infos, err := s.store.ListExperiments()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleExperimentsWithID handles /api/v1/experiments/:id and /api/v1/experiments/:id/trace
func (s *Server) handleExperimentsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/experiments/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Experiment ID required", http.StatusBadRequest)
		return
	}
	if s.store == nil {
		http.Error(w, "Experiment not found", http.StatusNotFound)
		return
	}

	id := parts[0]
	if len(parts) > 1 {
		if parts[1] == "trace" && r.Method == http.MethodGet {
			s.handleGetTrace(w, r, id)
			return
		}
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		exp, err := s.store.LoadExperiment(id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, exp)
	case http.MethodDelete:
		if err := s.store.DeleteExperiment(id); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleGetTrace handles GET /api/v1/experiments/:id/trace.
// The trace is streamed as stored, one JSON object per line.
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request, id string) {
	if s.traceDir == "" {
		http.Error(w, "Trace not found", http.StatusNotFound)
		return
	}

	reader, err := store.NewTraceReader(s.traceDir, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	for {
		entry, err := reader.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Error("Failed to read trace", "id", id, "error", err)
			}
			return
		}
		if err := enc.Encode(entry); err != nil {
			return
		}
	}
}

// handleListProblems handles GET /api/v1/problems
func (s *Server) handleListProblems(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, problem.Problems())
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	var validationErr *store.ValidationError
	if errors.As(err, &validationErr) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
