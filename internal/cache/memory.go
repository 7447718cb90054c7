package cache

import (
	"context"
	"sync"
	"time"

	"match-predictor/internal/prediction"

	"github.com/rs/zerolog/log"
)

type entry struct {
	p       *prediction.Prediction
	added   time.Time
	expires time.Time
}

// Memory is an in-process cache bounded by size and by fixture relevance.
// When full, the oldest entry is evicted. Stored records are cloned on the
// way in and out so callers never share mutable state.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	maxSize int
	horizon time.Duration
	now     func() time.Time
}

func NewMemory(maxSize int, horizon time.Duration) *Memory {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Memory{
		entries: make(map[string]*entry),
		maxSize: maxSize,
		horizon: horizon,
		now:     time.Now,
	}
}

func (c *Memory) Get(_ context.Context, key prediction.Key) (*prediction.Prediction, bool, error) {
	k := Key(key)

	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if !c.now().Before(e.expires) {
		c.mu.Lock()
		if cur, ok := c.entries[k]; ok && cur == e {
			delete(c.entries, k)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.p.Clone(), true, nil
}

func (c *Memory) Set(_ context.Context, p *prediction.Prediction) error {
	now := c.now()
	ttl := TTL(p, c.horizon, now)
	if ttl <= 0 {
		return nil
	}

	k := Key(p.Key())
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[k]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[k] = &entry{p: p.Clone(), added: now, expires: now.Add(ttl)}
	return nil
}

func (c *Memory) Delete(_ context.Context, key prediction.Key) error {
	c.mu.Lock()
	delete(c.entries, Key(key))
	c.mu.Unlock()
	return nil
}

// Len reports the number of entries, including expired ones not yet swept.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictOldest must be called with mu held.
func (c *Memory) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.added.Before(oldest) {
			oldestKey, oldest = k, e.added
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Sweep drops expired entries and returns how many were removed.
func (c *Memory) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Run sweeps expired entries every interval until ctx is done.
func (c *Memory) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				log.Debug().Int("removed", n).Msg("Swept expired predictions from cache")
			}
		}
	}
}
