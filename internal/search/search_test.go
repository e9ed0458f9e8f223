package search

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dev-kumaralingam/xorsearch/internal/filter"
	"github.com/dev-kumaralingam/xorsearch/internal/store"
	"github.com/dev-kumaralingam/xorsearch/internal/tokenizer"
	apperrors "github.com/dev-kumaralingam/xorsearch/pkg/errors"
	"github.com/dev-kumaralingam/xorsearch/pkg/metrics"
)

const testFPR = 1e-4

func doc(t testing.TB, title, url, body string) store.IndexedDocument {
	t.Helper()
	f, err := filter.Build(tokenizer.Unique(tokenizer.Tokenize(body)), testFPR)
	require.NoError(t, err)
	return store.IndexedDocument{ID: store.DocumentID{Title: title, URL: url}, Filter: f}
}

func exampleStorage(t testing.TB) *store.Storage {
	t.Helper()
	return store.New([]store.IndexedDocument{
		doc(t, "Rust Guide", "/rust", "rust systems programming"),
		doc(t, "Go Tutorial", "/go", "go concurrency basics"),
	})
}

func titles(ids []store.DocumentID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Title
	}
	return out
}

func TestSearchExampleCorpus(t *testing.T) {
	s := exampleStorage(t)

	results, total := Rank(s, "rust", 5, DefaultWeights)
	require.Len(t, results, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Rust Guide", results[0].Document.Title)
	assert.Equal(t, 3, results[0].Score)

	assert.Equal(t, []string{"Rust Guide"}, titles(Search(s, "rust", 5, DefaultWeights)))
	assert.Empty(t, Search(s, "java", 5, DefaultWeights))
}

func TestScore(t *testing.T) {
	f, err := filter.Build([]string{"rust", "systems", "programming"}, testFPR)
	require.NoError(t, err)

	tests := []struct {
		name  string
		title string
		query string
		want  int
	}{
		{"title only counts once", "Rust Guide", "rust", 3},
		{"body only", "Guide", "systems", 1},
		{"title and body terms", "Rust Guide", "rust programming", 4},
		{"repeated query term", "Rust Guide", "rust rust", 6},
		{"case folded", "RUST guide", "Rust", 3},
		{"no match", "Guide", "java", 0},
		{"empty query", "Rust Guide", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.title, tokenizer.Tokenize(tt.query), f, DefaultWeights))
		})
	}
}

func TestScoreCustomWeights(t *testing.T) {
	f, err := filter.Build([]string{"alpha"}, testFPR)
	require.NoError(t, err)
	w := Weights{Title: 10, Filter: 2}
	assert.Equal(t, 12, Score("beta", []string{"beta", "alpha"}, f, w))
}

func TestScoreGrowsWithTitleTerms(t *testing.T) {
	d := doc(t, "Rust Systems Programming", "/rust", "memory safety without garbage collection")
	base := []string{"java", "memory"}
	for _, w := range []Weights{DefaultWeights, {Title: 1, Filter: 0}, {Title: 1, Filter: 5}} {
		for _, extra := range []string{"rust", "systems", "programming"} {
			query := append(slices.Clone(base), extra)
			before := Score(d.ID.Title, base, d.Filter, w)
			after := Score(d.ID.Title, query, d.Filter, w)
			assert.Greater(t, after, before, "weights %+v, adding %q", w, extra)
			assert.Equal(t, before+w.Title, after)
		}
	}
}

func TestScoreNilFilter(t *testing.T) {
	assert.Equal(t, 3, Score("Rust", []string{"rust", "go"}, nil, DefaultWeights))
}

func TestRankLimitBoundaries(t *testing.T) {
	var docs []store.IndexedDocument
	for i := 0; i < 10; i++ {
		docs = append(docs, doc(t, fmt.Sprintf("Shared %d", i), fmt.Sprintf("/%d", i), "filler"))
	}
	s := store.New(docs)

	for _, limit := range []int{-1, 0} {
		results, total := Rank(s, "shared", limit, DefaultWeights)
		assert.NotNil(t, results)
		assert.Empty(t, results)
		assert.Zero(t, total)
	}

	results, total := Rank(s, "shared", 3, DefaultWeights)
	assert.Len(t, results, 3)
	assert.Equal(t, 10, total)

	results, total = Rank(s, "shared", 100, DefaultWeights)
	assert.Len(t, results, 10)
	assert.Equal(t, 10, total)
}

func TestRankStableTies(t *testing.T) {
	s := store.New([]store.IndexedDocument{
		doc(t, "Alpha", "/a", "go"),
		doc(t, "Go Beta", "/b", "nothing"),
		doc(t, "Gamma", "/c", "go"),
		doc(t, "Delta", "/d", "go"),
		doc(t, "Go Epsilon", "/e", "nothing"),
	})
	got := titles(Search(s, "go", 10, DefaultWeights))
	assert.Equal(t, []string{"Go Beta", "Go Epsilon", "Alpha", "Gamma", "Delta"}, got)
}

func TestRankOrderingProperties(t *testing.T) {
	var docs []store.IndexedDocument
	for i := 0; i < 40; i++ {
		body := strings.Repeat("common ", 1+i%3)
		if i%4 == 0 {
			body += " rare"
		}
		title := fmt.Sprintf("Doc %d", i)
		if i%5 == 0 {
			title += " common"
		}
		docs = append(docs, doc(t, title, fmt.Sprintf("/%d", i), body))
	}
	s := store.New(docs)
	query := "common rare"

	all, total := Rank(s, query, 1000, DefaultWeights)
	require.Equal(t, total, len(all))
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].Score, all[i].Score)
	}
	for _, r := range all {
		assert.Positive(t, r.Score)
	}

	// A smaller limit is a prefix of a larger one.
	for _, limit := range []int{1, 5, 17} {
		top, _ := Rank(s, query, limit, DefaultWeights)
		assert.Equal(t, all[:limit], top)
	}

	again, _ := Rank(s, query, 1000, DefaultWeights)
	assert.Equal(t, all, again)
}

func TestRankNilStorageAndEmptyQuery(t *testing.T) {
	results, total := Rank(nil, "rust", 5, DefaultWeights)
	assert.Empty(t, results)
	assert.Zero(t, total)

	results, _ = Rank(exampleStorage(t), "   ", 5, DefaultWeights)
	assert.Empty(t, results)
}

func TestEngineNotLoaded(t *testing.T) {
	e := NewEngine(DefaultWeights)
	assert.Nil(t, e.Snapshot())
	assert.Empty(t, e.Version())

	_, err := e.Search(context.Background(), "rust", 5)
	assert.ErrorIs(t, err, apperrors.ErrIndexNotLoaded)
}

func TestEngineSearch(t *testing.T) {
	e := NewEngine(DefaultWeights)
	s := exampleStorage(t)
	assert.Nil(t, e.Swap(s))

	resp, err := e.Search(context.Background(), "rust", 5)
	require.NoError(t, err)
	assert.Equal(t, "rust", resp.Query)
	assert.Equal(t, 1, resp.TotalHits)
	assert.Equal(t, s.Version(), resp.IndexVersion)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "/rust", resp.Results[0].Document.URL)
}

func TestEngineSearchCancelled(t *testing.T) {
	e := NewEngine(DefaultWeights)
	e.Swap(exampleStorage(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Search(ctx, "rust", 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngineLoad(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	e := NewEngine(DefaultWeights, WithMetrics(m))

	dir := t.TempDir()
	path := filepath.Join(dir, "index.xsix")
	s := exampleStorage(t)
	require.NoError(t, store.Save(path, s, store.CompressionZstd))

	require.NoError(t, e.Load(path))
	assert.Equal(t, s.Version(), e.Version())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IndexDocuments))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexLoadsTotal.WithLabelValues("success")))

	require.NoError(t, os.WriteFile(path, []byte("garbage garbage garbage garbage garbage"), 0644))
	err := e.Load(path)
	assert.ErrorIs(t, err, apperrors.ErrFormat)
	assert.Equal(t, s.Version(), e.Version(), "failed load keeps the previous index")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexLoadsTotal.WithLabelValues("error")))
}

func TestEngineLoadDoesNotLog(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	e := NewEngine(DefaultWeights)
	path := filepath.Join(t.TempDir(), "index.xsix")
	require.NoError(t, store.Save(path, exampleStorage(t), store.CompressionNone))
	require.NoError(t, e.Load(path))
	require.Error(t, e.Load(filepath.Join(t.TempDir(), "missing.xsix")))
	_, err := e.Search(context.Background(), "rust", 5)
	require.NoError(t, err)

	assert.Empty(t, buf.String())
}

func TestEngineConcurrentSwapAndSearch(t *testing.T) {
	a := exampleStorage(t)
	b := store.New([]store.IndexedDocument{doc(t, "Rust Book", "/book", "rust ownership")})
	e := NewEngine(DefaultWeights)
	e.Swap(a)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				resp, err := e.Search(context.Background(), "rust", 5)
				if !assert.NoError(t, err) {
					return
				}
				assert.Contains(t, []string{a.Version(), b.Version()}, resp.IndexVersion)
				assert.Len(t, resp.Results, 1)
			}
		}()
	}
	for j := 0; j < 100; j++ {
		if j%2 == 0 {
			e.Swap(b)
		} else {
			e.Swap(a)
		}
	}
	wg.Wait()
}

func BenchmarkRank(b *testing.B) {
	var docs []store.IndexedDocument
	for i := 0; i < 1000; i++ {
		docs = append(docs, doc(b, fmt.Sprintf("Post %d", i), fmt.Sprintf("/p/%d", i),
			fmt.Sprintf("word%d shared content about topic%d", i, i%17)))
	}
	s := store.New(docs)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			Rank(s, "shared topic3 post", 10, DefaultWeights)
		}
	})
}
