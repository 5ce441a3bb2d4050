// Package receipt buffers delivery and read acknowledgments that arrive
// before their target outgoing message is durably stored. The cache is
// transient by design: entries live only until the matching insert drains
// them, and nothing here touches disk.
package receipt

import "sync"

// Kind distinguishes the two acknowledgment flavors.
type Kind string

const (
	Delivery Kind = "delivery"
	Read     Kind = "read"
)

// Cache accumulates counts keyed by sent-timestamp, then by acknowledging
// address. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	pending map[Kind]map[int64]map[string]int
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		pending: map[Kind]map[int64]map[string]int{
			Delivery: {},
			Read:     {},
		},
	}
}

// Increment buffers one acknowledgment for the message sent at ts.
func (c *Cache) Increment(kind Kind, ts int64, address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byTS := c.pending[kind]
	if byTS[ts] == nil {
		byTS[ts] = make(map[string]int)
	}
	byTS[ts][address]++
}

// Drain removes and returns all buffered counts for ts. The entry is gone
// afterwards; a drain of an unknown timestamp returns nil.
func (c *Cache) Drain(kind Kind, ts int64) map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := c.pending[kind][ts]
	delete(c.pending[kind], ts)
	return counts
}

// Pending reports how many timestamps currently hold buffered
// acknowledgments of the given kind.
func (c *Cache) Pending(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending[kind])
}
