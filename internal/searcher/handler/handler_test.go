package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dev-kumaralingam/xorsearch/internal/filter"
	"github.com/dev-kumaralingam/xorsearch/internal/search"
	"github.com/dev-kumaralingam/xorsearch/internal/searcher/cache"
	"github.com/dev-kumaralingam/xorsearch/internal/store"
	"github.com/dev-kumaralingam/xorsearch/internal/tokenizer"
	"github.com/dev-kumaralingam/xorsearch/pkg/health"
	"github.com/dev-kumaralingam/xorsearch/pkg/metrics"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStore) FlushByPattern(context.Context, string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.data))
	clear(m.data)
	return n, nil
}

func indexed(t *testing.T, title, url string, meta store.Meta, body string) store.IndexedDocument {
	t.Helper()
	f, err := filter.Build(tokenizer.Tokenize(body), 1e-4)
	require.NoError(t, err)
	return store.IndexedDocument{ID: store.DocumentID{Title: title, URL: url, Meta: meta}, Filter: f}
}

func exampleStorage(t *testing.T) *store.Storage {
	return store.New([]store.IndexedDocument{
		indexed(t, "Rust Guide", "/rust", store.NoMeta, "rust systems programming"),
		indexed(t, "Go Tutorial", "/go", store.SomeMeta("lang=go"), "go concurrency basics"),
	})
}

type fixture struct {
	engine  *search.Engine
	metrics *metrics.Metrics
	handler *Handler
	mux     *http.ServeMux
	path    string
}

func newFixture(t *testing.T, withCache bool) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	engine := search.NewEngine(search.DefaultWeights, search.WithMetrics(m))
	var qc *cache.QueryCache
	if withCache {
		qc = cache.New(&memStore{data: make(map[string][]byte)}, time.Minute, m)
	}
	path := filepath.Join(t.TempDir(), "index.xsix")
	h := New(engine, qc, m, Config{IndexPath: path, DefaultLimit: 10, MaxResults: 20})
	mux := http.NewServeMux()
	h.Register(mux)
	return &fixture{engine: engine, metrics: m, handler: h, mux: mux, path: path}
}

func (f *fixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSearch(t *testing.T) {
	for _, withCache := range []bool{false, true} {
		name := "uncached"
		if withCache {
			name = "cached"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, withCache)
			s := exampleStorage(t)
			f.engine.Swap(s)

			for range 2 {
				rec := f.do(t, http.MethodGet, "/api/v1/search?q=rust&limit=5")
				require.Equal(t, http.StatusOK, rec.Code)
				assert.JSONEq(t, `{
					"query": "rust",
					"total_hits": 1,
					"index_version": "`+s.Version()+`",
					"results": [{"title": "Rust Guide", "url": "/rust", "meta": null, "score": 3}]
				}`, rec.Body.String())
			}

			rec := f.do(t, http.MethodGet, "/api/v1/search?q=concurrency")
			require.Equal(t, http.StatusOK, rec.Code)
			body := decode[searchJSON](t, rec)
			require.Len(t, body.Results, 1)
			assert.Equal(t, store.SomeMeta("lang=go"), body.Results[0].Meta)

			rec = f.do(t, http.MethodGet, "/api/v1/search?q=java")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Empty(t, decode[searchJSON](t, rec).Results)
			assert.Contains(t, rec.Body.String(), `"results":[]`)

			assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.SearchQueriesTotal.WithLabelValues("hit")))
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SearchQueriesTotal.WithLabelValues("zero_result")))
			if withCache {
				assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheHitsTotal))
			}
		})
	}
}

func TestSearchBadRequests(t *testing.T) {
	f := newFixture(t, false)
	f.engine.Swap(exampleStorage(t))
	for _, target := range []string{
		"/api/v1/search",
		"/api/v1/search?q=",
		"/api/v1/search?q=rust&limit=0",
		"/api/v1/search?q=rust&limit=-3",
		"/api/v1/search?q=rust&limit=ten",
	} {
		rec := f.do(t, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Contains(t, decode[map[string]string](t, rec), "error")
	}
}

func TestSearchLimitCapped(t *testing.T) {
	f := newFixture(t, false)
	var docs []store.IndexedDocument
	for i := range 30 {
		docs = append(docs, indexed(t, "Shared", "/"+string(rune('a'+i)), store.NoMeta, ""))
	}
	f.engine.Swap(store.New(docs))

	body := decode[searchJSON](t, f.do(t, http.MethodGet, "/api/v1/search?q=shared&limit=1000"))
	assert.Len(t, body.Results, 20)
	assert.Equal(t, 30, body.TotalHits)

	body = decode[searchJSON](t, f.do(t, http.MethodGet, "/api/v1/search?q=shared"))
	assert.Len(t, body.Results, 10)
}

func TestSearchNotLoaded(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(t, http.MethodGet, "/api/v1/search?q=rust")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SearchQueriesTotal.WithLabelValues("error")))

	rec = f.do(t, http.MethodGet, "/api/v1/index")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	check := f.handler.IndexCheck()(context.Background())
	assert.Equal(t, health.StatusDown, check.Status)
}

func TestIndexStats(t *testing.T) {
	f := newFixture(t, false)
	s := exampleStorage(t)
	f.engine.Swap(s)

	body := decode[indexJSON](t, f.do(t, http.MethodGet, "/api/v1/index"))
	assert.Equal(t, s.Version(), body.Version)
	assert.Equal(t, 2, body.Documents)
	assert.Equal(t, map[string]int{"xor16": 2}, body.Kinds)
	assert.Positive(t, body.FilterBytes)

	assert.Equal(t, health.StatusUp, f.handler.IndexCheck()(context.Background()).Status)
}

func TestReload(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPost, "/api/v1/index/reload")
	assert.Equal(t, http.StatusInternalServerError, rec.Code, "missing file")
	assert.Empty(t, f.engine.Version())

	s := exampleStorage(t)
	require.NoError(t, store.Save(f.path, s, store.CompressionLZ4))
	rec = f.do(t, http.MethodPost, "/api/v1/index/reload")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, s.Version(), body["version"])
	assert.Equal(t, s.Version(), f.engine.Version())

	require.NoError(t, os.WriteFile(f.path, []byte("corrupted corrupted corrupted corrupted"), 0644))
	rec = f.do(t, http.MethodPost, "/api/v1/index/reload")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, s.Version(), f.engine.Version())

	rec = f.do(t, http.MethodGet, "/api/v1/index/reload")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCacheEndpoints(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodGet, "/api/v1/cache/stats")
	assert.JSONEq(t, `{"status":"disabled"}`, rec.Body.String())
	rec = f.do(t, http.MethodPost, "/api/v1/cache/invalidate")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f = newFixture(t, true)
	f.engine.Swap(exampleStorage(t))
	f.do(t, http.MethodGet, "/api/v1/search?q=rust")
	f.do(t, http.MethodGet, "/api/v1/search?q=rust")

	st := decode[cache.Stats](t, f.do(t, http.MethodGet, "/api/v1/cache/stats"))
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)

	rec = f.do(t, http.MethodPost, "/api/v1/cache/invalidate")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"invalidated","keys_deleted":1}`, rec.Body.String())
}
