package history

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// Cached wraps a Store and caches Progress reads per user. RecordLearning
// through the wrapper evicts the user's entry.
type Cached struct {
	Store
	progress *cache.Cache

	// writes counts RecordLearning calls started and finished. A read only
	// fills the cache if no write began or ended while it ran.
	mu     sync.Mutex
	writes uint64
}

// NewCached returns a Store whose progress reads are cached for ttl.
func NewCached(s Store, ttl time.Duration) *Cached {
	return &Cached{
		Store:    s,
		progress: cache.New(ttl, 2*ttl),
	}
}

func progressCacheKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// Progress returns a copy the caller may modify.
func (c *Cached) Progress(ctx context.Context, userID int64) ([]Progress, error) {
	key := progressCacheKey(userID)
	if v, ok := c.progress.Get(key); ok {
		return slices.Clone(v.([]Progress)), nil
	}

	c.mu.Lock()
	seen := c.writes
	c.mu.Unlock()

	out, err := c.Store.Progress(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.writes == seen {
		c.progress.SetDefault(key, slices.Clone(out))
	}
	c.mu.Unlock()
	return out, nil
}

func (c *Cached) RecordLearning(ctx context.Context, userID int64, module, topic string) error {
	key := progressCacheKey(userID)
	c.bump(key)
	defer c.bump(key)
	return c.Store.RecordLearning(ctx, userID, module, topic)
}

func (c *Cached) bump(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	c.progress.Delete(key)
}
