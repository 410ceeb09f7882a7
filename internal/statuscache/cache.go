// Package statuscache keeps recently fetched prediction payloads so repeated status
// checks for the same job do not each hit the provider.
package statuscache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mrkniai/backend/internal/replicate"
)

// ErrProviderUnavailable is returned when the wrapped client is missing.
var ErrProviderUnavailable = errors.New("status cache: provider unavailable")

// Cache stores prediction payloads keyed by prediction id.
type Cache interface {
	Get(ctx context.Context, id string) (replicate.Prediction, bool, error)
	Set(ctx context.Context, id string, p replicate.Prediction, ttl time.Duration) error
}

// Getter fetches a prediction from the provider.
type Getter interface {
	GetPrediction(ctx context.Context, id string) (replicate.Prediction, error)
}

type memoryEntry struct {
	prediction replicate.Prediction
	expires    time.Time
}

// sweepInterval is how often Set drops expired entries that were never read again.
const sweepInterval = time.Minute

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu        sync.RWMutex
	items     map[string]memoryEntry
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryEntry), now: time.Now}
}

// Len reports how many entries are held, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *MemoryCache) Get(_ context.Context, id string) (replicate.Prediction, bool, error) {
	c.mu.RLock()
	entry, ok := c.items[id]
	c.mu.RUnlock()
	if !ok {
		return replicate.Prediction{}, false, nil
	}
	if !c.now().Before(entry.expires) {
		c.mu.Lock()
		delete(c.items, id)
		c.mu.Unlock()
		return replicate.Prediction{}, false, nil
	}
	return entry.prediction, true, nil
}

func (c *MemoryCache) Set(_ context.Context, id string, p replicate.Prediction, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked(now)
	c.items[id] = memoryEntry{prediction: p, expires: now.Add(ttl)}
	return nil
}

func (c *MemoryCache) sweepLocked(now time.Time) {
	if now.Sub(c.lastSweep) < sweepInterval {
		return
	}
	c.lastSweep = now
	for id, entry := range c.items {
		if !now.Before(entry.expires) {
			delete(c.items, id)
		}
	}
}

// CachingClient wraps a Getter. Terminal payloads are kept for TerminalTTL; in-flight
// payloads only for PendingTTL, which collapses bursts of duplicate polls.
type CachingClient struct {
	base        Getter
	cache       Cache
	terminalTTL time.Duration
	pendingTTL  time.Duration
}

// NewCachingClient returns a Getter backed by cache.
func NewCachingClient(base Getter, cache Cache, terminalTTL, pendingTTL time.Duration) *CachingClient {
	if terminalTTL <= 0 {
		terminalTTL = 10 * time.Minute
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &CachingClient{
		base:        base,
		cache:       cache,
		terminalTTL: terminalTTL,
		pendingTTL:  pendingTTL,
	}
}

// GetPrediction returns the cached payload when present, otherwise asks the provider and
// stores the answer. Cache failures degrade to a direct provider call.
func (c *CachingClient) GetPrediction(ctx context.Context, id string) (replicate.Prediction, error) {
	if c == nil || c.base == nil {
		return replicate.Prediction{}, ErrProviderUnavailable
	}

	if p, ok, err := c.cache.Get(ctx, id); err == nil && ok {
		return p, nil
	}

	p, err := c.base.GetPrediction(ctx, id)
	if err != nil {
		return replicate.Prediction{}, err
	}

	ttl := c.pendingTTL
	if p.Terminal() {
		ttl = c.terminalTTL
	}
	_ = c.cache.Set(ctx, id, p, ttl)

	return p, nil
}
