// Package api exposes the HTTP interface of a running audit.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit/internal/audit"
	"github.com/JakeFAU/siteaudit/internal/config"
	"github.com/JakeFAU/siteaudit/internal/metrics"
	"github.com/JakeFAU/siteaudit/internal/monitor"
	"github.com/JakeFAU/siteaudit/internal/publisher/memory"
	"github.com/JakeFAU/siteaudit/internal/scheduler"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// Scheduler is the read and rescan surface of the audit scheduler.
type Scheduler interface {
	Jobs() []audit.Job
	Job(id string) (audit.Job, bool)
	Reports() map[string]audit.Report
	Retries(id string) int
	Rescan(id string) error
	Stats() monitor.Stats
	Progress() scheduler.ProgressSnapshot
}

// EventLog holds the most recent published events.
type EventLog interface {
	Messages() []memory.PublishedMessage
}

// Deps bundles the collaborators served over HTTP. Only Scheduler is required.
type Deps struct {
	Scheduler    Scheduler
	Events       *Broadcaster
	Recent       EventLog
	Gatherer     prometheus.Gatherer
	Metrics      *metrics.HTTP
	ArtifactsDir string
}

// Server wires HTTP handlers to the scheduler and artifact directory.
type Server struct {
	router       chi.Router
	sched        Scheduler
	events       *Broadcaster
	recent       EventLog
	artifactsDir string
	logger       *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sched:        deps.Scheduler,
		events:       deps.Events,
		recent:       deps.Recent,
		artifactsDir: deps.ArtifactsDir,
		logger:       logger,
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}
	r.NotFound(s.notFound)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/api/job-events", s.jobEvents)
		r.Get("/artifacts/*", s.artifact)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(cfg.Server.RequestTimeout))
			r.Get("/api/status", s.status)
			r.Get("/api/progress", s.progress)
			r.Get("/api/events", s.recentEvents)
			r.Route("/api/jobs", func(r chi.Router) {
				r.Get("/", s.listJobs)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.getJob)
					r.Post("/rescan", s.rescan)
				})
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not found"})
		return
	}
	http.NotFound(w, r)
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Stats())
}

func (s *Server) progress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Progress())
}

// listJobs handles GET /api/jobs?status=. It returns {"jobs": [...]} in
// registration order, optionally filtered by status.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	filter := audit.Status(strings.TrimSpace(r.URL.Query().Get("status")))
	reports := s.sched.Reports()
	jobs := s.sched.Jobs()
	out := make([]jobDTO, 0, len(jobs))
	for _, job := range jobs {
		if filter != "" && job.Status != filter {
			continue
		}
		out = append(out, s.toJobDTO(job, reports))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.sched.Job(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": s.toJobDTO(job, s.sched.Reports())})
}

func (s *Server) rescan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sched.Rescan(id); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, scheduler.ErrJobActive):
			writeError(w, http.StatusConflict, "job is still active")
		default:
			s.logger.Error("rescan failed", zap.String("job_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to rescan job")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(audit.StatusPending)})
}

// recentEvents handles GET /api/events?limit=, newest last.
func (s *Server) recentEvents(w http.ResponseWriter, r *http.Request) {
	if s.recent == nil {
		writeError(w, http.StatusServiceUnavailable, "event log unavailable")
		return
	}
	limit, err := parseLimit(r, defaultEventLimit, maxEventLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	msgs := s.recent.Messages()
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	events := make([]any, 0, len(msgs))
	for _, m := range msgs {
		events = append(events, m.Payload)
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// artifact serves files below the artifacts directory. Paths escaping the
// directory are refused.
func (s *Server) artifact(w http.ResponseWriter, r *http.Request) {
	if s.artifactsDir == "" {
		http.NotFound(w, r)
		return
	}
	rel := chi.URLParam(r, "*")
	full, ok := resolveArtifact(s.artifactsDir, rel)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid artifact path")
		return
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, full)
}

func resolveArtifact(root, rel string) (string, bool) {
	if rel == "" || strings.Contains(rel, "\x00") {
		return "", false
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return "", false
		}
	}
	full := filepath.Join(root, filepath.FromSlash(path.Clean("/"+rel)))
	within, err := filepath.Rel(root, full)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}

type jobDTO struct {
	audit.Job
	Retries      int           `json:"retries"`
	Report       *audit.Report `json:"report,omitempty"`
	ArtifactsURL string        `json:"artifactsUrl,omitempty"`
}

func (s *Server) toJobDTO(job audit.Job, reports map[string]audit.Report) jobDTO {
	dto := jobDTO{Job: job, Retries: s.sched.Retries(job.ID)}
	if report, ok := reports[job.ID]; ok {
		dto.Report = &report
		if report.ArtifactKey != "" {
			dto.ArtifactsURL = "/artifacts/" + report.ArtifactKey + "/"
		}
	}
	return dto
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
