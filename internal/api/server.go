// Package api exposes the HTTP interface for the mangawatch service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/mangawatch/internal/config"
	"github.com/JakeFAU/mangawatch/internal/logging"
	"github.com/JakeFAU/mangawatch/internal/manga"
	"github.com/JakeFAU/mangawatch/internal/metrics"
	"github.com/JakeFAU/mangawatch/internal/resolver"
	"github.com/JakeFAU/mangawatch/internal/scheduler"
	"github.com/JakeFAU/mangawatch/internal/slug"
)

// Poller runs one change-detection pass.
type Poller interface {
	Poll(ctx context.Context) (scheduler.Report, error)
}

// Catalog answers search, detail and reader requests across providers.
type Catalog interface {
	Resolve(ctx context.Context, titleID, hint string) (resolver.Resolution, error)
	Search(ctx context.Context, query, hint string) ([]manga.CanonicalItem, error)
	Provider(name string) (manga.Provider, error)
}

// ReadyCheck reports whether a downstream dependency is usable.
type ReadyCheck func(ctx context.Context) error

// Server wires HTTP handlers to the scheduler and resolver.
type Server struct {
	router  chi.Router
	poller  Poller
	catalog Catalog
	ready   ReadyCheck
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready may be nil.
func NewServer(poller Poller, catalog Catalog, ready ReadyCheck, cfg config.Config, logger *zap.Logger) *Server {
	s := &Server{
		poller:  poller,
		catalog: catalog,
		ready:   ready,
		logger:  logging.OrNop(logger).Named("api"),
	}

	// A poll may overrun its deadline by one batch, so the request budget is wider.
	timeout := cfg.PollDeadline() + 30*time.Second
	if timeout < 60*time.Second {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/poll", s.poll)
		r.Get("/search", s.search)
		r.Get("/manga/{id}", s.detail)
		r.Get("/read/{source}/{mangaID}/{chapterID}", s.read)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type pollResponse struct {
	Status      bool                     `json:"status"`
	RunID       string                   `json:"run_id,omitempty"`
	Checked     []scheduler.CheckedTitle `json:"checked"`
	Logs        []string                 `json:"logs"`
	Batches     int                      `json:"batches"`
	DeadlineHit bool                     `json:"deadline_hit"`
}

func (s *Server) poll(w http.ResponseWriter, r *http.Request) {
	report, err := s.poller.Poll(r.Context())
	if err != nil {
		s.logger.Error("poll failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"status": false, "error": err.Error()})
		return
	}
	if report.Checked == nil {
		report.Checked = []scheduler.CheckedTitle{}
	}
	if report.Logs == nil {
		report.Logs = []string{}
	}
	s.writeJSON(w, http.StatusOK, pollResponse{
		Status:      true,
		RunID:       report.RunID,
		Checked:     report.Checked,
		Logs:        report.Logs,
		Batches:     report.Batches,
		DeadlineHit: report.DeadlineHit,
	})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	items, err := s.catalog.Search(r.Context(), query, r.URL.Query().Get("source"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	if items == nil {
		items = []manga.CanonicalItem{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": items})
}

func (s *Server) detail(w http.ResponseWriter, r *http.Request) {
	source, id := slug.Split(chi.URLParam(r, "id"))
	if hint := r.URL.Query().Get("source"); hint != "" {
		source = hint
	}
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	res, err := s.catalog.Resolve(r.Context(), id, source)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"source": res.Source, "data": res.Detail})
}

func (s *Server) read(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	mangaID := slug.Clean(chi.URLParam(r, "mangaID"))
	chapterID := slug.Clean(chi.URLParam(r, "chapterID"))

	provider, err := s.catalog.Provider(source)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	images, err := provider.ChapterImages(r.Context(), chapterID)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	if len(images) == 0 {
		s.writeError(w, http.StatusNotFound, manga.ErrNotFound.Error())
		return
	}

	read := manga.ChapterRead{ChapterID: chapterID, MangaID: mangaID, Source: provider.Name(), Images: images}
	// Navigation is best effort; a missing detail page only drops the links.
	detail, err := provider.Detail(r.Context(), mangaID)
	if err != nil {
		s.logger.Debug("navigation unavailable", zap.String("manga_id", mangaID), zap.Error(err))
	} else if detail != nil {
		read.Prev, read.Next = manga.Navigate(detail.Chapters, chapterID)
	}
	s.writeJSON(w, http.StatusOK, read)
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, manga.ErrUnknownSource):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case manga.IsTransport(err):
		s.logger.Warn("upstream unavailable", zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "upstream unavailable")
	case errors.Is(err, manga.ErrNotFound):
		s.writeError(w, http.StatusNotFound, manga.ErrNotFound.Error())
	default:
		s.logger.Error("lookup failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, status, payload, s.logger)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"status": false, "error": msg}, s.logger)
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}
