package app

import (
	"sync"

	"github.com/Zinkelburger/Chess-Auto-Prep-sub003/app/models"
)

// AnalysisCache is a bounded map from position fingerprint (the full FEN,
// move counters included) to the last complete snapshot. Eviction is
// insertion-ordered: oldest-inserted entries go first. Not an LRU; a hit
// does not refresh an entry's position.
type AnalysisCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*models.PositionSnapshot
	order    []string
}

func NewAnalysisCache(capacity int) *AnalysisCache {
	if capacity < 1 {
		capacity = 1
	}
	return &AnalysisCache{
		capacity: capacity,
		entries:  make(map[string]*models.PositionSnapshot),
	}
}

func (c *AnalysisCache) Get(fen string) (*models.PositionSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.entries[fen]
	return snap, ok
}

func (c *AnalysisCache) Put(fen string, snap *models.PositionSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[fen]; exists {
		// keep the original insertion slot
		c.entries[fen] = snap
		return
	}
	c.entries[fen] = snap
	c.order = append(c.order, fen)
	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func (c *AnalysisCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
