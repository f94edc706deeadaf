// Package cache holds computed analysis results keyed by company and options.
//
// A ResultCache guarantees at most one computation per key at a time: callers
// arriving while a key is being computed wait for that computation and receive
// the same result. Results expire after a TTL and can be invalidated explicitly.
// Errors are handed to every waiter and never stored.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rewired-gh/callseason/internal/logger"
	"github.com/rewired-gh/callseason/internal/models"
)

const keySeparator = "|"

// ErrNilResult is returned when a compute function reports success without a result.
var ErrNilResult = errors.New("compute returned a nil result")

// ComputeFunc produces the result for a key. The context it receives is detached
// from the caller that started the computation and bounded by the compute timeout.
type ComputeFunc func(ctx context.Context) (*models.AnalysisResult, error)

// Key builds a cache key from a company identifier and an options fingerprint.
func Key(companyID, fingerprint string) string {
	sum := sha256.Sum256([]byte(fingerprint))
	return companyID + keySeparator + hex.EncodeToString(sum[:])[:16]
}

// companyOf returns the company part of a key built by Key.
func companyOf(key string) string {
	id, _, _ := strings.Cut(key, keySeparator)
	return id
}

type entry struct {
	result    *models.AnalysisResult
	storedAt  time.Time
	expiresAt time.Time
}

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	Entries  int           `json:"entries"`
	InFlight int           `json:"in_flight"`
	Hits     int64         `json:"hits"`
	Misses   int64         `json:"misses"`
	Computes int64         `json:"computes"`
	Failures int64         `json:"failures"`
	TTL      time.Duration `json:"ttl"`
}

// HitRatio returns hits over lookups, or 0 before the first lookup.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Option configures a ResultCache.
type Option func(*ResultCache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *ResultCache) { c.now = now }
}

// WithComputeTimeout bounds each computation. Zero means no bound.
func WithComputeTimeout(d time.Duration) Option {
	return func(c *ResultCache) { c.computeTimeout = d }
}

// WithCleanupInterval starts a janitor that drops expired entries at the given
// interval. Zero disables it; expired entries are then dropped on access.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *ResultCache) { c.cleanupInterval = d }
}

// ResultCache is a single-flight TTL cache of analysis results.
type ResultCache struct {
	entries  sync.Map // key -> *entry
	inflight sync.Map // key -> struct{}
	group    singleflight.Group

	// Invalidation generations at key, company and cache scope. A computation
	// whose stamp changed while it ran delivers its result but does not store it.
	keyGens     sync.Map // key -> *atomic.Uint64
	companyGens sync.Map // company id -> *atomic.Uint64
	clearGen    atomic.Uint64

	ttl             time.Duration
	computeTimeout  time.Duration
	cleanupInterval time.Duration
	now             func() time.Time

	hits     atomic.Int64
	misses   atomic.Int64
	computes atomic.Int64
	failures atomic.Int64

	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a cache whose entries live for ttl. A non-positive ttl disables
// storage, so every call computes (still single-flight).
func New(ttl time.Duration, opts ...Option) *ResultCache {
	c := &ResultCache{
		ttl:      ttl,
		now:      time.Now,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.cleanupInterval > 0 {
		go c.cleanup()
	} else {
		close(c.done)
	}
	return c
}

// GetOrCompute returns the cached result for key, or runs compute to produce it.
//
// Concurrent callers for the same key share one computation. If ctx is done
// before the result arrives the caller gets ctx.Err(); the computation keeps
// running for the other waiters and still populates the cache.
func (c *ResultCache) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (*models.AnalysisResult, error) {
	if res, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return res, nil
	}
	c.misses.Add(1)

	gen := c.stampOf(key)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		// A flight that finished just before this one may already have stored it.
		if res, ok := c.lookup(key); ok {
			return res, nil
		}
		return c.run(ctx, key, gen, compute)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*models.AnalysisResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *ResultCache) run(ctx context.Context, key string, gen stamp, compute ComputeFunc) (*models.AnalysisResult, error) {
	c.computes.Add(1)
	c.inflight.Store(key, struct{}{})
	defer c.inflight.Delete(key)

	computeCtx := context.WithoutCancel(ctx)
	if c.computeTimeout > 0 {
		var cancel context.CancelFunc
		computeCtx, cancel = context.WithTimeout(computeCtx, c.computeTimeout)
		defer cancel()
	}

	start := c.now()
	res, err := compute(computeCtx)
	if err == nil && res == nil {
		err = ErrNilResult
	}
	if err != nil {
		c.failures.Add(1)
		logger.Debug("Cache compute failed: key=%s err=%v", key, err)
		return nil, err
	}

	if c.ttl <= 0 {
		return res, nil
	}
	if c.stampOf(key) != gen {
		logger.Debug("Cache result for %s invalidated during compute, not stored", key)
		return res, nil
	}
	now := c.now()
	c.entries.Store(key, &entry{result: res, storedAt: now, expiresAt: now.Add(c.ttl)})
	logger.Debug("Cache stored %s (computed in %v)", key, now.Sub(start))
	return res, nil
}

// stamp records the invalidation generations that cover key.
type stamp struct {
	key, company, all uint64
}

func (c *ResultCache) stampOf(key string) stamp {
	return stamp{
		key:     counter(&c.keyGens, key).Load(),
		company: counter(&c.companyGens, companyOf(key)).Load(),
		all:     c.clearGen.Load(),
	}
}

// counter returns the generation counter for name, creating it on first use.
// Counters are never removed.
func counter(m *sync.Map, name string) *atomic.Uint64 {
	if v, ok := m.Load(name); ok {
		return v.(*atomic.Uint64)
	}
	v, _ := m.LoadOrStore(name, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}

func (c *ResultCache) lookup(key string) (*models.AnalysisResult, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	if !c.now().Before(e.expiresAt) {
		c.entries.CompareAndDelete(key, v)
		return nil, false
	}
	return e.result, true
}

// Invalidate drops the entry for key. A computation already in flight for key
// still answers its current waiters, but later callers start a fresh one.
func (c *ResultCache) Invalidate(key string) {
	counter(&c.keyGens, key).Add(1)
	c.entries.Delete(key)
	c.group.Forget(key)
}

// InvalidateCompany drops every entry for a company, across all option sets.
func (c *ResultCache) InvalidateCompany(companyID string) int {
	counter(&c.companyGens, companyID).Add(1)
	removed := 0
	c.entries.Range(func(k, _ interface{}) bool {
		key := k.(string)
		if companyOf(key) == companyID {
			c.entries.Delete(key)
			removed++
		}
		return true
	})
	c.inflight.Range(func(k, _ interface{}) bool {
		key := k.(string)
		if companyOf(key) == companyID {
			c.group.Forget(key)
		}
		return true
	})
	return removed
}

// Clear drops every entry.
func (c *ResultCache) Clear() {
	c.clearGen.Add(1)
	c.entries.Range(func(k, _ interface{}) bool {
		c.entries.Delete(k)
		return true
	})
	c.inflight.Range(func(k, _ interface{}) bool {
		c.group.Forget(k.(string))
		return true
	})
}

// PurgeExpired drops expired entries and returns how many were removed.
func (c *ResultCache) PurgeExpired() int {
	now := c.now()
	removed := 0
	c.entries.Range(func(k, v interface{}) bool {
		if !now.Before(v.(*entry).expiresAt) && c.entries.CompareAndDelete(k, v) {
			removed++
		}
		return true
	})
	return removed
}

// Stats returns current counters.
func (c *ResultCache) Stats() Stats {
	s := Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Computes: c.computes.Load(),
		Failures: c.failures.Load(),
		TTL:      c.ttl,
	}
	c.entries.Range(func(_, _ interface{}) bool {
		s.Entries++
		return true
	})
	c.inflight.Range(func(_, _ interface{}) bool {
		s.InFlight++
		return true
	})
	return s
}

// Close stops the janitor. It is safe to call more than once.
func (c *ResultCache) Close() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	<-c.done
}

func (c *ResultCache) cleanup() {
	defer close(c.done)
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.PurgeExpired(); n > 0 {
				logger.Debug("Cache janitor removed %d expired entries", n)
			}
		case <-c.stopChan:
			return
		}
	}
}
