// Package view exposes live sessions to read-only observers over HTTP.
// A viewer polls the same projection the CLI renders; it can watch a
// job it did not initiate, but it can never advance one.
package view

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/diagnostiq/tracker/internal/track"
)

// Registry tracks live sessions by job id. Sessions stay registered
// after reaching a terminal state so viewers can still read the final
// report; the owner removes them when done with them.
type Registry struct {
	mx       sync.Mutex
	sessions map[string]*track.Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*track.Session)}
}

func (r *Registry) Add(jobID string, s *track.Session) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.sessions[jobID] = s
}

func (r *Registry) Remove(jobID string) {
	r.mx.Lock()
	defer r.mx.Unlock()
	delete(r.sessions, jobID)
}

func (r *Registry) Get(jobID string) (*track.Session, bool) {
	r.mx.Lock()
	defer r.mx.Unlock()
	s, ok := r.sessions[jobID]
	return s, ok
}

// Reports snapshots every registered session, sorted by job id for a
// stable listing.
func (r *Registry) Reports() []track.Report {
	r.mx.Lock()
	ids := make([]string, 0, len(r.sessions))
	sessions := make([]*track.Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		ids = append(ids, id)
		sessions = append(sessions, s)
	}
	r.mx.Unlock()

	sort.Strings(ids)
	reports := make([]track.Report, 0, len(sessions))
	for _, id := range ids {
		s, ok := r.Get(id)
		if !ok {
			continue
		}
		reports = append(reports, s.Report())
	}
	return reports
}

// NewHandler serves the registry: GET /api/v1/jobs lists all reports,
// GET /api/v1/jobs/{jobID} returns one. All responses are JSON; an
// unknown id yields a problem document, mirroring the remote service.
func NewHandler(reg *Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/v1/jobs", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(req, w, http.StatusOK, reg.Reports())
	})
	r.Get("/api/v1/jobs/{jobID}", func(w http.ResponseWriter, req *http.Request) {
		jobID := chi.URLParam(req, "jobID")
		s, ok := reg.Get(jobID)
		if !ok {
			writeProblem(req, w, http.StatusNotFound, "no session for job "+jobID)
			return
		}
		writeJSON(req, w, http.StatusOK, s.Report())
	})
	return r
}

func writeJSON(req *http.Request, w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.WarnContext(req.Context(), "writing viewer response", "error", err)
	}
}

func writeProblem(req *http.Request, w http.ResponseWriter, code int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(code)
	body := struct {
		Detail string `json:"detail"`
	}{Detail: detail}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.WarnContext(req.Context(), "writing viewer problem", "error", err)
	}
}
