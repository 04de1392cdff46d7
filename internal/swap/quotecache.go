package swap

import (
	"sync"
	"time"

	"github.com/rovshanmuradov/solana-swarm/internal/exchange"
)

// quoteTTL bounds how long a cached quote stays usable. The upstream's quotes
// are stable within this window and the quote endpoint is rate-limited.
const quoteTTL = 30 * time.Second

type quoteKey struct {
	input  string
	output string
	amount uint64
}

type quoteEntry struct {
	quote    *exchange.QuoteResponse
	storedAt time.Time
}

// QuoteCache memoises recent quotes keyed by (input, output, amount).
// Expired entries are evicted lazily on lookup. The cache lives for one run
// and is never persisted.
type QuoteCache struct {
	mu      sync.RWMutex
	entries map[quoteKey]quoteEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewQuoteCache creates an empty cache with the default TTL.
func NewQuoteCache() *QuoteCache {
	return &QuoteCache{
		entries: make(map[quoteKey]quoteEntry),
		ttl:     quoteTTL,
		now:     time.Now,
	}
}

// Get returns a cached quote no older than the TTL.
func (c *QuoteCache) Get(input, output string, amount uint64) (*exchange.QuoteResponse, bool) {
	key := quoteKey{input, output, amount}

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) >= c.ttl {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.quote, true
}

// Put stores a quote under its request key.
func (c *QuoteCache) Put(input, output string, amount uint64, quote *exchange.QuoteResponse) {
	key := quoteKey{input, output, amount}

	c.mu.Lock()
	c.entries[key] = quoteEntry{quote: quote, storedAt: c.now()}
	c.mu.Unlock()
}

// Len reports the number of entries, expired ones included.
func (c *QuoteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
