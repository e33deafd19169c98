package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Marksio90/narraforge/internal/models"
)

// Server provides the HTTP API for NarraForge.
type Server struct {
	service *Service
	addr    string
	server  *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr string) *Server {
	return &Server{
		service: service,
		addr:    addr,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Printf("Starting NarraForge daemon on %s", s.addr)
	return s.server.ListenAndServe()
}

// Handler builds the route table. Exposed separately for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/jobs", s.handleJobs)
	mux.HandleFunc("/jobs/", s.handleJobByID)
	mux.HandleFunc("/lore/entities", s.listEntities)
	mux.HandleFunc("/lore/nodes", s.listNodes)
	mux.HandleFunc("/lore/history/", s.getHistory)
	mux.HandleFunc("/lore/patterns", s.getPatterns)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return mux
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleJobs handles POST /jobs and GET /jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.submitJob(w, r)
	case http.MethodGet:
		s.listJobs(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobByID handles /jobs/{id}/*
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/jobs/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "job id required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getStatus(w, r, jobID)
	case action == "" && r.Method == http.MethodDelete:
		s.purgeJob(w, r, jobID)
	case action == "cancel" && r.Method == http.MethodPost:
		s.cancelJob(w, r, jobID)
	case action == "resume" && r.Method == http.MethodPost:
		s.resumeJob(w, r, jobID)
	case action == "checkpoints" && r.Method == http.MethodGet:
		s.getCheckpoints(w, r, jobID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// --- Job Handlers ---

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var brief models.Brief
	if err := json.NewDecoder(r.Body).Decode(&brief); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	job, err := s.service.SubmitJob(brief)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.service.ListJobs(r.URL.Query().Get("status"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.service.GetStatus(jobID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.service.Cancel(jobID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.service.Resume(jobID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) getCheckpoints(w http.ResponseWriter, r *http.Request, jobID string) {
	cps, err := s.service.GetCheckpoints(jobID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if cps == nil {
		cps = []models.Checkpoint{}
	}
	writeJSON(w, http.StatusOK, cps)
}

func (s *Server) purgeJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if err := s.service.PurgeJob(jobID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Lore Handlers ---

func (s *Server) listEntities(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		http.Error(w, "scope required", http.StatusBadRequest)
		return
	}
	entities, err := s.service.ListEntities(scope)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entities == nil {
		entities = []models.StructuralEntity{}
	}
	writeJSON(w, http.StatusOK, entities)
}

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		http.Error(w, "scope required", http.StatusBadRequest)
		return
	}
	var kinds []models.NodeKind
	if kind := r.URL.Query().Get("kind"); kind != "" {
		kinds = append(kinds, models.NodeKind(kind))
	}
	nodes, err := s.service.ListNodes(scope, kinds...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if nodes == nil {
		nodes = []models.SemanticNode{}
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	entityID := strings.TrimPrefix(r.URL.Path, "/lore/history/")
	if entityID == "" {
		http.Error(w, "entity id required", http.StatusBadRequest)
		return
	}
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := s.service.GetHistory(entityID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []models.ChangeRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) getPatterns(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		http.Error(w, "scope required", http.StatusBadRequest)
		return
	}
	summary, err := s.service.AnalyzePatterns(scope, r.URL.Query().Get("entity"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrJobNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrJobNotCancelled), errors.Is(err, ErrJobNotResumable), errors.Is(err, ErrJobStillOwned):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
