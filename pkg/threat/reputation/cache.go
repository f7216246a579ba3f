package reputation

import (
	"sync"
	"time"

	"github.com/apiwarden/apiwarden/pkg/threat"
)

// resultCache is a bounded TTL cache of combined verdicts keyed by IP.
// When full it evicts the oldest inserted entry, a deliberate
// simplification of LRU: reputation verdicts age out by TTL anyway, so
// insertion order is a good enough proxy for recency.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	order   []string
	max     int
	ttl     time.Duration
}

type cacheEntry struct {
	score     threat.Score
	expiresAt time.Time
}

func newResultCache(max int, ttl time.Duration) *resultCache {
	return &resultCache{
		entries: make(map[string]cacheEntry),
		max:     max,
		ttl:     ttl,
	}
}

func (c *resultCache) get(ip string) (threat.Score, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[ip]
	if !ok {
		return threat.Score{}, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, ip)
		return threat.Score{}, false
	}
	return entry.score, true
}

func (c *resultCache) put(ip string, score threat.Score) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[ip]; !exists {
		c.order = append(c.order, ip)
		for len(c.entries) >= c.max {
			c.evictOldestLocked()
		}
	}
	c.entries[ip] = cacheEntry{
		score:     score,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// evictOldestLocked pops order entries until one still present is removed.
// Keys deleted by expiry leave stale order entries behind; they are skipped
// here.
func (c *resultCache) evictOldestLocked() {
	for len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[oldest]; ok {
			delete(c.entries, oldest)
			return
		}
	}
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
