package marketdata

import (
	"sync"
	"time"
)

type cachedPrice struct {
	price float64
	at    time.Time
}

// PriceCache is a bounded, TTL-governed mark-price cache. It is a pure
// read-side overlay for unrealized pnl on open positions and never
// feeds the reconciliation math.
type PriceCache struct {
	mu      sync.RWMutex
	entries map[string]cachedPrice

	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func NewPriceCache() *PriceCache {
	config := GetConfig()

	return &PriceCache{
		entries:    make(map[string]cachedPrice),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
		now:        time.Now,
	}
}

// Set stores the latest mark price for a symbol, evicting the oldest
// entry when the cache is full.
func (c *PriceCache) Set(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[symbol]; !exists && len(c.entries) >= c.maxEntries {
		var oldestKey string
		var oldestAt time.Time
		for k, v := range c.entries {
			if oldestKey == "" || v.at.Before(oldestAt) {
				oldestKey, oldestAt = k, v.at
			}
		}
		delete(c.entries, oldestKey)
	}

	c.entries[symbol] = cachedPrice{price: price, at: c.now().UTC()}
}

// Get returns the cached price for a symbol, or false when absent or
// older than the TTL.
func (c *PriceCache) Get(symbol string) (float64, bool) {
	c.mu.RLock()
	entry, ok := c.entries[symbol]
	c.mu.RUnlock()

	if !ok || c.now().UTC().Sub(entry.at) > c.ttl {
		return 0, false
	}
	return entry.price, true
}

// Len reports the number of entries currently held, stale included.
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
