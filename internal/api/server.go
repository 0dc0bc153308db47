// Package api exposes the thin HTTP control surface described in
// spec.md §6: a dispatcher over the job Registry and the Search
// Engine. All request validation beyond basic JSON decoding is
// delegated to those components; this package only translates between
// wire shapes and apperr.Kind-tagged errors.
//
// Grounded on JakeFAU-realtime-cpi-crawler/internal/api/server.go's
// chi router, middleware stack, and writeJSON/writeError helpers,
// adapted to zap logging in place of slog for consistency with the
// rest of this module.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"crawlhub/internal/apperr"
	"crawlhub/internal/metrics"
	"crawlhub/internal/model"
	"crawlhub/internal/registry"
	"crawlhub/internal/search"
)

// Server wires HTTP handlers to the job registry and search engine.
type Server struct {
	router   chi.Router
	reg      *registry.Registry
	engine   *search.Engine
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes installed.
func NewServer(reg *registry.Registry, engine *search.Engine, m *metrics.Metrics, logger *zap.Logger) *Server {
	s := &Server{reg: reg, engine: engine, metrics: m, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Route("/crawler", func(r chi.Router) {
		r.Post("/create", s.createCrawler)
		r.Get("/status/{id}", s.getStatus)
		r.Post("/pause/{id}", s.pauseCrawler)
		r.Post("/resume/{id}", s.resumeCrawler)
		r.Post("/stop/{id}", s.stopCrawler)
		r.Post("/resume-from-files/{id}", s.resumeFromFiles)
		r.Get("/list", s.listCrawlers)
		r.Get("/stats", s.stats)
		r.Get("/visited-stats", s.visitedStats)
		r.Post("/clear", s.clearAll)
	})
	r.Get("/search", s.search)
	r.Get("/search/random", s.searchRandom)

	if m != nil {
		r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	}

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

type createCrawlerRequest struct {
	Origin           string   `json:"origin"`
	MaxDepth         int      `json:"max_depth"`
	HitRate          *float64 `json:"hit_rate"`
	MaxQueueCapacity *int     `json:"max_queue_capacity"`
	MaxURLsToVisit   *int     `json:"max_urls_to_visit"`
}

func (s *Server) createCrawler(w http.ResponseWriter, r *http.Request) {
	var req createCrawlerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cfg := model.Config{
		Origin:           req.Origin,
		MaxDepth:         req.MaxDepth,
		HitRate:          floatOrZero(req.HitRate),
		MaxQueueCapacity: intOrZero(req.MaxQueueCapacity),
		MaxURLsToVisit:   intOrZero(req.MaxURLsToVisit),
	}

	id, err := s.reg.Create(cfg)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"crawler_id": id, "status": string(model.StatusActive)})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.reg.Get(id)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) pauseCrawler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.reg.Pause(id); err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"crawler_id": id, "status": string(model.StatusPaused)})
}

func (s *Server) resumeCrawler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.reg.Resume(id); err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"crawler_id": id, "status": string(model.StatusActive)})
}

func (s *Server) stopCrawler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.reg.Stop(id); err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"crawler_id": id, "status": string(model.StatusStopped)})
}

func (s *Server) resumeFromFiles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.reg.ResumeFromFiles(id)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) listCrawlers(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.reg.List()
	if err != nil {
		writeAppErr(w, err)
		return
	}
	active := 0
	for _, snap := range snaps {
		if snap.Status == model.StatusActive {
			active++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"crawlers":     snaps,
		"total_count":  len(snaps),
		"active_count": active,
	})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.reg.Stats()
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_visited_urls":     st.TotalVisitedURLs,
		"total_words_in_database": st.TotalWordsInDatabase,
		"total_active_crawlers":  st.TotalActiveCrawlers,
		"total_crawlers_created": st.TotalCrawlersCreated,
	})
}

// visitedStats serves the read-only per-job/per-domain breakdown of the
// visited log described in SPEC_FULL.md §9.
func (s *Server) visitedStats(w http.ResponseWriter, r *http.Request) {
	st := s.reg.VisitedStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"total_visited_urls": st.TotalURLs,
		"by_job":             st.ByJob,
		"by_domain":          st.ByDomain,
	})
}

func (s *Server) clearAll(w http.ResponseWriter, r *http.Request) {
	counts, err := s.reg.ClearAll()
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"crawlers_cleared":      counts.CrawlersCleared,
		"storage_files_cleared": counts.StorageFilesCleared,
	})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("query")
	limit := queryInt(q, "pageLimit", 20)
	offset := queryInt(q, "pageOffset", 0)

	start := time.Now()
	res, err := s.engine.Search(query, limit, offset)
	if s.metrics != nil {
		s.metrics.SearchLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":       res.Total,
		"query_words": res.QueryWords,
		"results":     res.Hits,
	})
}

func (s *Server) searchRandom(w http.ResponseWriter, r *http.Request) {
	word, err := s.engine.RandomWord()
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"word": word})
}

func queryInt(q map[string][]string, key string, def int) int {
	v := ""
	if vals, ok := q[key]; ok && len(vals) > 0 {
		v = vals[0]
	}
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func floatOrZero(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func intOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func writeAppErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperr.Is(err, apperr.KindInvalidInput):
		status = http.StatusBadRequest
	case apperr.Is(err, apperr.KindNotFound):
		status = http.StatusNotFound
	case apperr.Is(err, apperr.KindIllegalTransition):
		status = http.StatusConflict
	}
	writeError(w, status, err.Error())
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
