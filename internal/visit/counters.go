package visit

import "sync"

// Counters tracks how many visits each URL has received since the process
// started. URLs that were never visited have no entry.
type Counters struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewCounters returns an empty counter set.
func NewCounters() *Counters {
	return &Counters{counts: make(map[string]int)}
}

// Increment adds one visit to url and returns the new total.
func (c *Counters) Increment(url string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[url]++
	return c.counts[url]
}

// Get returns the count for url and whether it has ever been visited.
func (c *Counters) Get(url string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	count, ok := c.counts[url]
	return count, ok
}

// Snapshot returns a copy of all counters.
func (c *Counters) Snapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.counts))
	for url, count := range c.counts {
		out[url] = count
	}
	return out
}
