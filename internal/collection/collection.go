// Package collection provides the bounded, ordered, deduplicating item
// container that backs every timeline.
package collection

import (
	"sort"
	"sync"

	"github.com/abelbrown/pingpong/internal/model"
)

// MaxSize is the number of items a timeline keeps.
const MaxSize = 1000

// Policy selects where new items are inserted. A collection keeps one policy
// for its whole life; mixing front and end insertion would make the two ends
// compete for eviction.
type Policy int

const (
	// PolicyFront inserts at the head and evicts the tail. Live arrival order.
	PolicyFront Policy = iota

	// PolicyEnd appends at the tail and evicts the tail. Chronological backfill.
	PolicyEnd

	// PolicyNewest inserts at the item's position in descending ID order, so
	// batches arriving newest first stay sorted. Eviction is always from the tail.
	PolicyNewest
)

func (p Policy) String() string {
	switch p {
	case PolicyFront:
		return "front"
	case PolicyEnd:
		return "end"
	case PolicyNewest:
		return "newest"
	default:
		return "unknown"
	}
}

// Collection holds up to max items, newest first, with no two sharing an ID.
//
// A timeline's consumer goroutine is the only writer; the read lock lets
// renderers take snapshots concurrently.
type Collection struct {
	mu      sync.RWMutex
	items   []model.Item
	ids     map[model.ID]struct{} // mirrors items
	max     int
	policy  Policy
	evicted int
}

// New creates a collection with the given capacity and insertion policy.
// A non-positive capacity means MaxSize.
func New(max int, policy Policy) *Collection {
	if max <= 0 {
		max = MaxSize
	}
	return &Collection{
		items:  make([]model.Item, 0, 64),
		ids:    make(map[model.ID]struct{}),
		max:    max,
		policy: policy,
	}
}

// Policy returns the insertion policy chosen at construction.
func (c *Collection) Policy() Policy {
	return c.policy
}

// Append inserts item according to the collection's policy.
func (c *Collection) Append(item model.Item) bool {
	switch c.policy {
	case PolicyEnd:
		return c.AppendEnd(item)
	case PolicyNewest:
		return c.appendNewest(item)
	default:
		return c.AppendFront(item)
	}
}

// AppendFront inserts item at the head. A duplicate ID is a no-op. When the
// collection overflows the tail item is evicted. Reports whether item was
// inserted.
func (c *Collection) AppendFront(item model.Item) bool {
	mustHaveID(item)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.ids[item.ID]; dup {
		return false
	}
	c.insertAt(0, item)
	c.trimTail()
	return true
}

// AppendEnd appends item at the tail. A duplicate ID is a no-op. When the
// collection overflows the tail is evicted, which for a full collection is
// the item just appended. Reports whether item is held afterwards.
func (c *Collection) AppendEnd(item model.Item) bool {
	mustHaveID(item)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.ids[item.ID]; dup {
		return false
	}
	c.insertAt(len(c.items), item)
	c.trimTail()
	_, held := c.ids[item.ID]
	return held
}

func (c *Collection) appendNewest(item model.Item) bool {
	mustHaveID(item)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.ids[item.ID]; dup {
		return false
	}
	i := sort.Search(len(c.items), func(i int) bool {
		return model.Newer(item, c.items[i])
	})
	c.insertAt(i, item)
	c.trimTail()
	_, held := c.ids[item.ID]
	return held
}

// insertAt places item at index i. Caller holds the write lock.
func (c *Collection) insertAt(i int, item model.Item) {
	c.items = append(c.items, model.Item{})
	copy(c.items[i+1:], c.items[i:])
	c.items[i] = item
	c.ids[item.ID] = struct{}{}
}

// trimTail evicts from the tail until the cap holds. Caller holds the write lock.
func (c *Collection) trimTail() {
	for len(c.items) > c.max {
		last := len(c.items) - 1
		delete(c.ids, c.items[last].ID)
		c.items[last] = model.Item{}
		c.items = c.items[:last]
		c.evicted++
	}
}

// Clear empties the sequence and the membership set.
func (c *Collection) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = c.items[:0]
	c.ids = make(map[model.ID]struct{})
	c.evicted = 0
}

// Items returns a copy of the held items in order.
func (c *Collection) Items() []model.Item {
	c.mu.RLock()
	defer c.mu.RUnlock()

	items := make([]model.Item, len(c.items))
	copy(items, c.items)
	return items
}

// Head returns the first item, if any.
func (c *Collection) Head() (model.Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.items) == 0 {
		return model.Item{}, false
	}
	return c.items[0], true
}

// Len returns the number of held items.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Contains reports whether an item with id is held.
func (c *Collection) Contains(id model.ID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.ids[id]
	return ok
}

// Cap returns the capacity.
func (c *Collection) Cap() int {
	return c.max
}

// EvictedCount returns how many items were dropped to honor the cap since
// construction or the last Clear.
func (c *Collection) EvictedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.evicted
}

func mustHaveID(item model.Item) {
	if item.ID == 0 {
		panic("collection: item with zero id")
	}
}
