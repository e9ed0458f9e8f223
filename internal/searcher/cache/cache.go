// Package cache stores search responses in Redis, keyed by index version so a
// new index never serves results computed against an old one.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dev-kumaralingam/xorsearch/internal/search"
	"github.com/dev-kumaralingam/xorsearch/internal/tokenizer"
	"github.com/dev-kumaralingam/xorsearch/pkg/metrics"
	pkgredis "github.com/dev-kumaralingam/xorsearch/pkg/redis"
	"github.com/dev-kumaralingam/xorsearch/pkg/resilience"
)

const keyPrefix = "search:"

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	store   Store
	ttl     time.Duration
	group   singleflight.Group
	breaker *resilience.Breaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
	errors  atomic.Int64
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
	Breaker string  `json:"breaker"`
}

func New(store Store, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		store:   store,
		ttl:     ttl,
		breaker: resilience.NewBreaker("redis-cache", resilience.BreakerConfig{}),
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Get returns the cached response for query against the given index version.
// Redis failures count as misses. After repeated failures the cache stops
// calling Redis until the breaker lets a probe through.
func (c *QueryCache) Get(ctx context.Context, version, query string, limit int) (*search.Response, bool) {
	key := Key(version, query, limit)
	var data []byte
	err := c.breaker.Do(func() error {
		v, err := c.store.Get(ctx, key)
		if err != nil && !pkgredis.IsNilError(err) {
			return err
		}
		data = v
		return nil
	})
	if err != nil {
		c.storeFailed("get", key, err)
	}
	if data == nil {
		c.miss()
		return nil, false
	}
	var resp search.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		c.errors.Add(1)
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "query", query, "key", key)
	return &resp, true
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func (c *QueryCache) Set(ctx context.Context, version, query string, limit int, resp *search.Response) {
	key := Key(version, query, limit)
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Do(func() error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.storeFailed("set", key, err)
	}
}

func (c *QueryCache) storeFailed(op, key string, err error) {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return
	}
	c.errors.Add(1)
	c.logger.Error("cache "+op+" failed", "key", key, "error", err)
}

// GetOrCompute serves query from the cache or runs compute, collapsing
// concurrent misses for the same key into one computation. The returned
// bool reports a cache hit. A response computed against a different index
// version than requested is returned but not stored.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	version, query string,
	limit int,
	compute func() (*search.Response, error),
) (*search.Response, bool, error) {
	if resp, ok := c.Get(ctx, version, query, limit); ok {
		resp.Query = query
		return resp, true, nil
	}
	key := Key(version, query, limit)
	val, err, _ := c.group.Do(key, func() (any, error) {
		resp, err := compute()
		if err != nil {
			return nil, err
		}
		if resp.IndexVersion == version {
			c.Set(ctx, version, query, limit, resp)
		}
		return resp, nil
	})
	if err != nil {
		return nil, false, err
	}
	shared := *val.(*search.Response)
	shared.Query = query
	return &shared, false, nil
}

// Invalidate removes every cached response.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats() Stats {
	s := Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Errors:  c.errors.Load(),
		Breaker: c.breaker.State().String(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Key derives the cache key for a query. Queries that tokenize identically
// share a key.
func Key(version, query string, limit int) string {
	raw := version + "|" + tokenizer.Join(tokenizer.Tokenize(query)) + "|" + strconv.Itoa(limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash)
}
