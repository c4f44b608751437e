package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/raaihank/log-sentinel/internal/metrics"
	"github.com/raaihank/log-sentinel/internal/model"
	"github.com/raaihank/log-sentinel/internal/store"
)

// Cache memoizes trained models by baseline fingerprint. At most one build
// runs per fingerprint; concurrent callers attach to it and share its
// outcome. Failed builds are never committed. Models are immutable, so a
// model evicted while a caller still uses it stays valid for that caller.
type Cache struct {
	config Config
	store  Store
	logger *zap.Logger

	// mu guards ready membership together with flight so a caller sees a
	// fingerprint either in flight or ready, never in between. It is held
	// only for map edits; builds run in their own goroutine without it, so
	// exclusion of builds is per fingerprint.
	mu     sync.Mutex
	ready  *expirable.LRU[string, *model.Model]
	flight map[string]*call
	stats  Stats

	evictions atomic.Int64
}

// New creates an empty cache. st may be nil.
func New(config Config, st Store, logger *zap.Logger) *Cache {
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultMaxEntries
	}

	c := &Cache{
		config: config,
		store:  st,
		logger: logger,
		flight: make(map[string]*call),
	}
	c.ready = expirable.NewLRU[string, *model.Model](config.MaxEntries, c.onEvict, config.MaxAge)

	logger.Info("Model cache initialized",
		zap.Int("max_entries", config.MaxEntries),
		zap.Duration("max_age", config.MaxAge),
		zap.Bool("persistent", st != nil),
	)
	return c
}

// onEvict runs inside the LRU, possibly from its expiry goroutine, so it
// must not take c.mu
func (c *Cache) onEvict(fp string, _ *model.Model) {
	c.evictions.Add(1)
	metrics.CacheEvictions.Inc()
	c.logger.Debug("Model evicted", zap.String("fingerprint", fp))
}

// GetOrBuild returns the model of fp, running build if no model is ready
// and no build is in flight. A caller whose ctx ends stops waiting with
// ctx.Err(); the build itself continues for the remaining waiters.
func (c *Cache) GetOrBuild(ctx context.Context, fp string, build Builder) (*model.Model, error) {
	c.mu.Lock()
	if m, ok := c.ready.Get(fp); ok {
		c.stats.Hits++
		c.mu.Unlock()
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return m, nil
	}

	cl, shared := c.flight[fp]
	if shared {
		c.stats.Shared++
		metrics.CacheRequests.WithLabelValues("shared").Inc()
	} else {
		cl = &call{done: make(chan struct{})}
		c.flight[fp] = cl
		c.stats.Misses++
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		go c.run(ctx, fp, cl, build)
	}
	cl.waiters++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		cl.waiters--
		c.mu.Unlock()
	}()

	select {
	case <-cl.done:
		if cl.err != nil {
			return nil, cl.err
		}
		return cl.model, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run executes one build outside the lock and publishes its outcome
func (c *Cache) run(parent context.Context, fp string, cl *call, build Builder) {
	ctx := context.WithoutCancel(parent)
	if c.config.BuildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.BuildTimeout)
		defer cancel()
	}

	start := time.Now()
	m, restored, err := c.build(ctx, fp, build)
	elapsed := time.Since(start)
	metrics.BuildDuration.Observe(elapsed.Seconds())

	c.mu.Lock()
	switch {
	case err != nil:
		c.stats.Failures++
	case restored:
		c.stats.Restored++
		c.ready.Add(fp, m)
	default:
		c.stats.Trained++
		c.ready.Add(fp, m)
	}
	delete(c.flight, fp)
	cl.model, cl.err = m, err
	close(cl.done)
	c.mu.Unlock()

	if err != nil {
		metrics.CacheBuilds.WithLabelValues("failed").Inc()
		c.logger.Warn("Model build failed",
			zap.String("fingerprint", fp),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return
	}

	outcome := "trained"
	if restored {
		outcome = "restored"
	}
	metrics.CacheBuilds.WithLabelValues(outcome).Inc()
	c.logger.Info("Model ready",
		zap.String("fingerprint", fp),
		zap.String("outcome", outcome),
		zap.Int("sources", m.Stats().Sources),
		zap.String("size", humanize.Bytes(m.Stats().Bytes)),
		zap.Duration("duration", elapsed),
	)
}

// build restores the model from the store or runs the builder. Panics in
// the builder become build failures.
func (c *Cache) build(ctx context.Context, fp string, build Builder) (m *model.Model, restored bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			m, restored = nil, false
			err = fmt.Errorf("%w: %s: builder panicked: %v", ErrBuildFailed, fp, r)
		}
	}()

	if m := c.restore(ctx, fp); m != nil {
		return m, true, nil
	}

	m, err = build(ctx)
	if err == nil && m == nil {
		err = errors.New("builder returned no model")
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %w", ErrBuildFailed, fp, err)
	}

	c.persist(ctx, fp, m)
	return m, false, nil
}

func (c *Cache) restore(ctx context.Context, fp string) *model.Model {
	if c.store == nil {
		return nil
	}

	blob, err := c.store.Load(ctx, fp)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("Model store lookup failed", zap.String("fingerprint", fp), zap.Error(err))
		}
		return nil
	}

	m, err := model.Unmarshal(blob)
	if err != nil {
		c.logger.Warn("Discarding unreadable stored model", zap.String("fingerprint", fp), zap.Error(err))
		return nil
	}
	return m
}

// persist saves a freshly trained model; failures only cost a rebuild later
func (c *Cache) persist(ctx context.Context, fp string, m *model.Model) {
	if c.store == nil {
		return
	}

	blob, err := model.Marshal(m)
	if err == nil {
		err = c.store.Save(ctx, fp, blob)
	}
	if err != nil {
		c.logger.Warn("Failed to persist model", zap.String("fingerprint", fp), zap.Error(err))
	}
}

// Get returns a ready model without building
func (c *Cache) Get(fp string) (*model.Model, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready.Get(fp)
}

// Remove drops a ready model. In-flight builds are not affected.
func (c *Cache) Remove(fp string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready.Remove(fp)
}

// Purge drops every ready model
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready.Purge()
}

// Stats returns a snapshot of the cache counters
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Evictions = c.evictions.Load()
	stats.Entries = c.ready.Len()
	stats.InFlight = len(c.flight)
	if total := stats.Hits + stats.Misses + stats.Shared; total > 0 {
		stats.HitRate = float64(stats.Hits+stats.Shared) / float64(total) * 100
	}
	metrics.CacheEntries.Set(float64(stats.Entries))
	return stats
}

// waiters returns the number of callers attached to the build of fp
func (c *Cache) waiters(fp string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.flight[fp]; ok {
		return cl.waiters
	}
	return 0
}
