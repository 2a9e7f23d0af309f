package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/oversightlabs/parlscan/internal/metrics"
	"github.com/oversightlabs/parlscan/internal/parliament"
	"github.com/oversightlabs/parlscan/internal/scan"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	storeTimeout    = 3 * time.Second
)

// Scans drives run submission, cancellation and live progress. Satisfied by
// *scan.Runner.
type Scans interface {
	Submit(ctx context.Context, cfg scan.RunConfig) (*scan.Run, scan.AdmitResult, error)
	Cancel(ctx context.Context, runID string) error
	Progress(runID string) (scan.Snapshot, bool)
}

// RunStore is the read side of run persistence the handlers need. Both the
// Postgres and in-memory stores satisfy it.
type RunStore interface {
	GetRun(ctx context.Context, runID string) (*scan.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*scan.Run, error)
	Results(ctx context.Context, runID string) ([]*scan.Result, error)
	Audits(ctx context.Context, runID string) ([]scan.Audit, error)
	GetSnapshot(ctx context.Context, runID string) (scan.Snapshot, error)
}

// MemberDirectory resolves members and parties from the Members API.
type MemberDirectory interface {
	SearchMembers(ctx context.Context, query string, house int) ([]parliament.MemberInfo, error)
	Parties(ctx context.Context) ([]parliament.Party, error)
}

// Server wires HTTP handlers to the scan runner and stores.
type Server struct {
	router  chi.Router
	runner  Scans
	store   RunStore
	members MemberDirectory
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runner Scans, store RunStore, members MemberDirectory, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:  runner,
		store:   store,
		members: members,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/scans", func(r chi.Router) {
			r.Post("/", s.submitScan)
			r.Get("/", s.listScans)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", s.getScan)
				r.Get("/results", s.getResults)
				r.Get("/audits", s.getAudits)
				r.Get("/progress", s.streamProgress)
				r.Post("/cancel", s.cancelScan)
			})
		})
		r.Route("/members", func(r chi.Router) {
			r.Get("/search", s.searchMembers)
			r.Get("/parties", s.listParties)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	if _, err := s.store.ListRuns(ctx, 1); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type scanRequest struct {
	Topics    []scan.Topic     `json:"topics"`
	Members   []scan.MemberRef `json:"members"`
	From      string           `json:"from"`
	To        string           `json:"to"`
	Sources   []string         `json:"sources"`
	Summarise bool             `json:"summarise"`
}

func (s *Server) submitScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	cfg := scan.RunConfig{
		Topics:    req.Topics,
		Members:   req.Members,
		DateRange: parliament.DateRange{From: req.From, To: req.To},
		Sources:   req.Sources,
		Summarise: req.Summarise,
	}
	run, admitted, err := s.runner.Submit(r.Context(), cfg)
	if err != nil {
		if errors.Is(err, scan.ErrEmptyConfig) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("submit scan failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit scan")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run":    run,
		"queued": admitted == scan.Queued,
	})
}

func (s *Server) listScans(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxRunLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) getScan(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, scan.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.Error(err), zap.String("run_id", runID))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	payload := map[string]any{"run": run}
	if snap, ok := s.snapshotFor(ctx, runID); ok {
		payload["progress"] = snap
	}
	writeJSON(w, http.StatusOK, payload)
}

// snapshotFor prefers the live tracker over the stored snapshot so active
// runs report up-to-the-moment counters.
func (s *Server) snapshotFor(ctx context.Context, runID string) (scan.Snapshot, bool) {
	if snap, ok := s.runner.Progress(runID); ok {
		return snap, true
	}
	snap, err := s.store.GetSnapshot(ctx, runID)
	if err != nil {
		return scan.Snapshot{}, false
	}
	return snap, true
}

func (s *Server) getResults(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	results, err := s.store.Results(ctx, runID)
	if err != nil {
		s.logger.Error("list results failed", zap.Error(err), zap.String("run_id", runID))
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) getAudits(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	auditRows, err := s.store.Audits(ctx, runID)
	if err != nil {
		s.logger.Error("list audits failed", zap.Error(err), zap.String("run_id", runID))
		writeError(w, http.StatusInternalServerError, "failed to list audits")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audits": auditRows})
}

func (s *Server) cancelScan(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if err := s.runner.Cancel(r.Context(), runID); err != nil {
		if errors.Is(err, scan.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("cancel run failed", zap.Error(err), zap.String("run_id", runID))
		writeError(w, http.StatusInternalServerError, "failed to cancel run")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "cancelling"})
}

func (s *Server) searchMembers(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	house := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("house")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 2 {
			writeError(w, http.StatusBadRequest, "house must be 1 (Commons) or 2 (Lords)")
			return
		}
		house = n
	}
	found, err := s.members.SearchMembers(r.Context(), query, house)
	if err != nil {
		s.logger.Error("member search failed", zap.Error(err), zap.String("query", query))
		writeError(w, http.StatusBadGateway, "member search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": found})
}

func (s *Server) listParties(w http.ResponseWriter, r *http.Request) {
	parties, err := s.members.Parties(r.Context())
	if err != nil {
		s.logger.Error("party lookup failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "party lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"parties": parties})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
