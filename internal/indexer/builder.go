// Package indexer turns corpus records into a searchable index: one XOR
// filter per document over the terms of its body.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/dev-kumaralingam/xorsearch/internal/corpus"
	"github.com/dev-kumaralingam/xorsearch/internal/filter"
	"github.com/dev-kumaralingam/xorsearch/internal/store"
	"github.com/dev-kumaralingam/xorsearch/internal/tokenizer"
	"github.com/dev-kumaralingam/xorsearch/pkg/config"
	apperrors "github.com/dev-kumaralingam/xorsearch/pkg/errors"
	"github.com/dev-kumaralingam/xorsearch/pkg/metrics"
)

type buildFunc func(terms []string, targetFPR float64) (*filter.Filter, error)

// Builder computes document filters on a bounded worker pool.
type Builder struct {
	pool        *ants.Pool
	targetFPR   float64
	skipFailed  bool
	compression store.Compression
	build       buildFunc
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Builder) { b.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder validates cfg and starts a pool of cfg.Workers goroutines.
// Call Release when done.
func NewBuilder(cfg config.IndexConfig, opts ...Option) (*Builder, error) {
	if _, err := filter.KindFor(cfg.TargetFPR); err != nil {
		return nil, err
	}
	c, err := store.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("creating build pool: %w", err)
	}
	b := &Builder{
		pool:        pool,
		targetFPR:   cfg.TargetFPR,
		skipFailed:  cfg.SkipFailed,
		compression: c,
		build:       filter.Build,
		logger:      slog.Default().With("component", "indexer"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Release stops the worker pool.
func (b *Builder) Release() {
	b.pool.Release()
}

// Build indexes records in order. A document whose filter cannot be built
// aborts the build unless the builder was configured to skip failures.
func (b *Builder) Build(ctx context.Context, records []corpus.Record) (*store.Storage, error) {
	start := time.Now()
	filters := make([]*filter.Filter, len(records))
	errs := make([]error, len(records))

	var wg sync.WaitGroup
	var submitErr error
	for i := range records {
		if err := ctx.Err(); err != nil {
			submitErr = err
			break
		}
		wg.Add(1)
		err := b.pool.Submit(func() {
			defer wg.Done()
			terms := tokenizer.Unique(tokenizer.Tokenize(records[i].Body))
			filters[i], errs[i] = b.build(terms, b.targetFPR)
		})
		if err != nil {
			wg.Done()
			submitErr = fmt.Errorf("submitting document %d: %w", i, err)
			break
		}
	}
	wg.Wait()
	if submitErr != nil {
		return nil, fmt.Errorf("building index: %w", submitErr)
	}

	docs := make([]store.IndexedDocument, 0, len(records))
	skipped := 0
	for i, r := range records {
		if err := errs[i]; err != nil {
			if !b.skipFailed || !errors.Is(err, apperrors.ErrConstruction) {
				return nil, fmt.Errorf("building filter for document %d (%q): %w", i, r.URL, err)
			}
			skipped++
			b.logger.Warn("skipping document", "position", i, "url", r.URL, "error", err)
			continue
		}
		docs = append(docs, store.IndexedDocument{ID: r.ID(), Filter: filters[i]})
	}

	s := store.New(docs)
	stats := s.Stats()
	elapsed := time.Since(start)
	if b.metrics != nil {
		b.metrics.IndexBuildDuration.Observe(elapsed.Seconds())
		b.metrics.DocsSkippedTotal.Add(float64(skipped))
	}
	b.logger.Info("index built",
		"documents", stats.Documents,
		"skipped", skipped,
		"filter_bytes", stats.FilterBytes,
		"kinds", stats.Kinds,
		"duration", elapsed,
	)
	return s, nil
}

// BuildAndSave builds the index and writes it atomically to path.
func (b *Builder) BuildAndSave(ctx context.Context, records []corpus.Record, path string) (*store.Storage, error) {
	s, err := b.Build(ctx, records)
	if err != nil {
		return nil, err
	}
	if err := store.Save(path, s, b.compression); err != nil {
		return nil, fmt.Errorf("saving index: %w", err)
	}
	b.logger.Info("index saved", "path", path, "version", s.Version(), "compression", b.compression.String())
	return s, nil
}
