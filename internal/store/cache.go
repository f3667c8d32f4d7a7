package store

import (
	"sync/atomic"
	"time"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = 30 * time.Minute
)

// CacheConfig bounds the checkpoint cache.
type CacheConfig struct {
	// MaxEntries caps the number of cached checkpoints.
	MaxEntries int
	// TTL is how long an entry stays valid after it was written.
	TTL time.Duration
}

// DefaultCacheConfig returns the default checkpoint cache bounds.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{MaxEntries: defaultCacheSize, TTL: defaultCacheTTL}
}

// checkpointCache is a bounded, TTL-expiring write-through cache keyed by
// "sessionID:checkpointID" or "sessionID:latest". Values are copied on the
// way in and out so callers never share message slices with the cache.
type checkpointCache struct {
	lru      *expirable.LRU[string, domain.State]
	metrics  *Metrics
	clearing atomic.Bool
}

func newCheckpointCache(cfg CacheConfig, metrics *Metrics) *checkpointCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultCacheSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	c := &checkpointCache{metrics: metrics}
	c.lru = expirable.NewLRU[string, domain.State](cfg.MaxEntries, func(string, domain.State) {
		if !c.clearing.Load() {
			c.metrics.evicted()
		}
	}, cfg.TTL)
	return c
}

func (c *checkpointCache) get(key string) (domain.State, bool) {
	st, ok := c.lru.Get(key)
	if !ok {
		c.metrics.miss()
		return domain.State{}, false
	}
	c.metrics.hit()
	return st.Clone(), true
}

func (c *checkpointCache) put(key string, st domain.State) {
	c.lru.Add(key, st.Clone())
}

// putSaved records a freshly written checkpoint under its own key and as the
// session's latest.
func (c *checkpointCache) putSaved(sessionID, checkpointID string, st domain.State) {
	c.put(checkpointCacheKey(sessionID, checkpointID), st)
	c.put(checkpointCacheKey(sessionID, LatestCheckpoint), st)
}

func (c *checkpointCache) clear() {
	c.clearing.Store(true)
	defer c.clearing.Store(false)
	c.lru.Purge()
}

func (c *checkpointCache) len() int {
	return c.lru.Len()
}
