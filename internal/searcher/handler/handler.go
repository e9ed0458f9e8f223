// Package handler exposes the search engine over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dev-kumaralingam/xorsearch/internal/search"
	"github.com/dev-kumaralingam/xorsearch/internal/searcher/cache"
	"github.com/dev-kumaralingam/xorsearch/internal/store"
	apperrors "github.com/dev-kumaralingam/xorsearch/pkg/errors"
	"github.com/dev-kumaralingam/xorsearch/pkg/health"
	"github.com/dev-kumaralingam/xorsearch/pkg/logger"
	"github.com/dev-kumaralingam/xorsearch/pkg/metrics"
)

// Engine is the query engine the handler serves from.
type Engine interface {
	Search(ctx context.Context, query string, limit int) (*search.Response, error)
	Load(path string) error
	Snapshot() *store.Storage
	Version() string
}

type Handler struct {
	engine       Engine
	cache        *cache.QueryCache
	metrics      *metrics.Metrics
	indexPath    string
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

// Config carries the request limits and the index file reloads read from.
type Config struct {
	IndexPath    string
	DefaultLimit int
	MaxResults   int
}

// New builds a Handler. queryCache and m may be nil.
func New(engine Engine, queryCache *cache.QueryCache, m *metrics.Metrics, cfg Config) *Handler {
	return &Handler{
		engine:       engine,
		cache:        queryCache,
		metrics:      m,
		indexPath:    cfg.IndexPath,
		defaultLimit: cfg.DefaultLimit,
		maxResults:   cfg.MaxResults,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

// Register installs the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/index", h.IndexStats)
	mux.HandleFunc("POST /api/v1/index/reload", h.Reload)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

type resultJSON struct {
	Title string     `json:"title"`
	URL   string     `json:"url"`
	Meta  store.Meta `json:"meta"`
	Score int        `json:"score"`
}

type searchJSON struct {
	Query        string       `json:"query"`
	TotalHits    int          `json:"total_hits"`
	IndexVersion string       `json:"index_version"`
	Results      []resultJSON `json:"results"`
}

func toJSON(resp *search.Response) searchJSON {
	out := searchJSON{
		Query:        resp.Query,
		TotalHits:    resp.TotalHits,
		IndexVersion: resp.IndexVersion,
		Results:      make([]resultJSON, len(resp.Results)),
	}
	for i, r := range resp.Results {
		out.Results[i] = resultJSON{
			Title: r.Document.Title,
			URL:   r.Document.URL,
			Meta:  r.Document.Meta,
			Score: r.Score,
		}
	}
	return out
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, apperrors.InvalidInputf("query parameter 'q' is required"))
		return
	}

	limit := h.defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, apperrors.InvalidInputf("limit must be a positive integer"))
			return
		}
		limit = min(parsed, h.maxResults)
	}

	var (
		resp     *search.Response
		err      error
		cacheHit bool
	)
	cacheStatus := "disabled"
	if version := h.engine.Version(); h.cache != nil && version != "" {
		resp, cacheHit, err = h.cache.GetOrCompute(ctx, version, query, limit, func() (*search.Response, error) {
			return h.engine.Search(ctx, query, limit)
		})
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
	} else {
		resp, err = h.engine.Search(ctx, query, limit)
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.Join(apperrors.ErrTimeout, err)
		}
		h.observe("error", cacheStatus, start, 0)
		log.Error("search failed", "query", query, "error", err)
		h.writeError(w, err)
		return
	}

	outcome := "hit"
	if resp.TotalHits == 0 {
		outcome = "zero_result"
	}
	h.observe(outcome, cacheStatus, start, len(resp.Results))
	log.Info("search completed",
		"query", query,
		"limit", limit,
		"total_hits", resp.TotalHits,
		"returned", len(resp.Results),
		"cache", cacheStatus,
		"index_version", resp.IndexVersion,
		"latency", time.Since(start),
	)
	h.writeJSON(w, http.StatusOK, toJSON(resp))
}

func (h *Handler) observe(outcome, cacheStatus string, start time.Time, returned int) {
	if h.metrics == nil {
		return
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(outcome).Inc()
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	if outcome != "error" {
		h.metrics.SearchResultsCount.Observe(float64(returned))
	}
}

type indexJSON struct {
	Version     string         `json:"version"`
	Documents   int            `json:"documents"`
	FilterBytes int            `json:"filter_bytes"`
	Kinds       map[string]int `json:"kinds"`
}

func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	s := h.engine.Snapshot()
	if s == nil {
		h.writeError(w, apperrors.ErrIndexNotLoaded)
		return
	}
	st := s.Stats()
	h.writeJSON(w, http.StatusOK, indexJSON{
		Version:     s.Version(),
		Documents:   st.Documents,
		FilterBytes: st.FilterBytes,
		Kinds:       st.Kinds,
	})
}

func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	previous := h.engine.Version()
	if err := h.engine.Load(h.indexPath); err != nil {
		log.Error("index reload failed", "path", h.indexPath, "error", err)
		h.writeError(w, err)
		return
	}
	log.Info("index reloaded", "path", h.indexPath, "version", h.engine.Version(), "previous_version", previous)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":           "reloaded",
		"version":          h.engine.Version(),
		"previous_version": previous,
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.cache.Stats())
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "caching is disabled"})
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

// IndexCheck reports the index down until one is loaded.
func (h *Handler) IndexCheck() health.Check {
	return func(context.Context) health.ComponentHealth {
		s := h.engine.Snapshot()
		if s == nil {
			return health.Down("no index loaded")
		}
		return health.Up(s.Version() + " (" + strconv.Itoa(s.Len()) + " documents)")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps err to a status code. Server-side failures hide their
// detail from the client.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		msg = http.StatusText(status)
	}
	h.writeJSON(w, status, map[string]string{"error": msg})
}
