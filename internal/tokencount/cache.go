package tokencount

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mixaill76/token_meter/internal/utils"
	"golang.org/x/sync/singleflight"
)

// DefaultCallTimeout bounds one upstream count shared by concurrent misses
const DefaultCallTimeout = 30 * time.Second

// cachedCount holds a cached count with timestamp
type cachedCount struct {
	tokens   int
	cachedAt time.Time
}

// CacheStats holds cache statistics
type CacheStats struct {
	Size    int     `json:"size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// CachedCounter memoizes another Counter in an LRU cache with TTL.
// Concurrent misses for the same prompts share one upstream call.
// Errors are never cached.
type CachedCounter struct {
	inner  Counter
	cache  *lru.Cache[string, *cachedCount]
	ttl    time.Duration
	mu     sync.RWMutex
	flight singleflight.Group

	// CallTimeout bounds a shared upstream call, which outlives any one
	// caller's cancellation
	CallTimeout time.Duration

	hits   uint64
	misses uint64
}

// NewCachedCounter wraps inner with a cache of maxSize entries
func NewCachedCounter(inner Counter, maxSize int, ttl time.Duration) (*CachedCounter, error) {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	cache, err := lru.New[string, *cachedCount](maxSize)
	if err != nil {
		return nil, fmt.Errorf("tokencount: failed to create cache: %w", err)
	}

	return &CachedCounter{inner: inner, cache: cache, ttl: ttl, CallTimeout: DefaultCallTimeout}, nil
}

func (c *CachedCounter) Name() string { return c.inner.Name() }

// CountTokens returns a cached count or asks the wrapped counter
func (c *CachedCounter) CountTokens(ctx context.Context, system, user string) (int, error) {
	key := cacheKey(c.inner.Name(), system, user)

	if tokens, ok := c.get(key); ok {
		return tokens, nil
	}

	ch := c.flight.DoChan(key, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.CallTimeout)
		defer cancel()

		tokens, err := c.inner.CountTokens(callCtx, system, user)
		if err != nil {
			return 0, err
		}
		c.mu.Lock()
		c.cache.Add(key, &cachedCount{tokens: tokens, cachedAt: utils.NowUTC()})
		c.mu.Unlock()
		return tokens, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *CachedCounter) get(key string) (int, bool) {
	c.mu.RLock()
	cached, ok := c.cache.Get(key)
	c.mu.RUnlock()

	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return 0, false
	}

	if time.Since(cached.cachedAt) > c.ttl {
		// Re-check under write lock so a fresh entry added meanwhile survives
		c.mu.Lock()
		current, stillExists := c.cache.Get(key)
		if stillExists && time.Since(current.cachedAt) > c.ttl {
			c.cache.Remove(key)
		}
		c.mu.Unlock()
		atomic.AddUint64(&c.misses, 1)
		return 0, false
	}

	atomic.AddUint64(&c.hits, 1)
	return cached.tokens, true
}

// Purge clears the cache
func (c *CachedCounter) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}

// Stats returns cache statistics
func (c *CachedCounter) Stats() CacheStats {
	c.mu.RLock()
	size := c.cache.Len()
	c.mu.RUnlock()

	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return CacheStats{Size: size, Hits: hits, Misses: misses, HitRate: hitRate}
}

// cacheKey hashes the counter name and both prompts; NUL separators keep
// ("ab","c") and ("a","bc") apart
func cacheKey(counter, system, user string) string {
	h := sha256.New()
	h.Write([]byte(counter))
	h.Write([]byte{0})
	h.Write([]byte(system))
	h.Write([]byte{0})
	h.Write([]byte(user))
	return hex.EncodeToString(h.Sum(nil))
}
