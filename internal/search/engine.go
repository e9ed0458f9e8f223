package search

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dev-kumaralingam/xorsearch/internal/store"
	apperrors "github.com/dev-kumaralingam/xorsearch/pkg/errors"
	"github.com/dev-kumaralingam/xorsearch/pkg/metrics"
)

// Response is the outcome of one query against a single index snapshot.
type Response struct {
	Query        string   `json:"query"`
	TotalHits    int      `json:"total_hits"`
	IndexVersion string   `json:"index_version"`
	Results      []Result `json:"results"`
}

// Engine serves queries from the current index snapshot. The snapshot is
// replaced atomically, so searches in flight finish on the storage they
// started with.
type Engine struct {
	current atomic.Pointer[store.Storage]
	weights Weights
	metrics *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(w Weights, opts ...Option) *Engine {
	e := &Engine{weights: w}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Swap installs s as the serving index and returns the one it replaced.
func (e *Engine) Swap(s *store.Storage) *store.Storage {
	prev := e.current.Swap(s)
	if e.metrics != nil && s != nil {
		st := s.Stats()
		e.metrics.IndexDocuments.Set(float64(st.Documents))
		e.metrics.IndexFilterBytes.Set(float64(st.FilterBytes))
	}
	return prev
}

// Load reads the index file at path and swaps it in. On error the current
// index keeps serving. Callers log the outcome.
func (e *Engine) Load(path string) error {
	s, err := store.Load(path)
	if err != nil {
		if e.metrics != nil {
			e.metrics.IndexLoadsTotal.WithLabelValues("error").Inc()
		}
		return fmt.Errorf("loading index %s: %w", path, err)
	}
	e.Swap(s)
	if e.metrics != nil {
		e.metrics.IndexLoadsTotal.WithLabelValues("success").Inc()
	}
	return nil
}

// Snapshot returns the serving index, or nil before the first load.
func (e *Engine) Snapshot() *store.Storage {
	return e.current.Load()
}

// Version returns the serving index version, or "" before the first load.
func (e *Engine) Version() string {
	s := e.current.Load()
	if s == nil {
		return ""
	}
	return s.Version()
}

func (e *Engine) Weights() Weights {
	return e.weights
}

// Search ranks the serving index against query.
func (e *Engine) Search(ctx context.Context, query string, limit int) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := e.current.Load()
	if s == nil {
		return nil, apperrors.ErrIndexNotLoaded
	}
	results, total := Rank(s, query, limit, e.weights)
	return &Response{
		Query:        query,
		TotalHits:    total,
		IndexVersion: s.Version(),
		Results:      results,
	}, nil
}
