package chatsync

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DedupStore remembers recently applied message ids so re-delivered events
// are ignored. It is bounded and evicts the oldest id first.
//
// Entries are never read with Get, so the LRU's recency order is insertion
// order.
type DedupStore struct {
	ids *lru.Cache[string, struct{}]
}

// NewDedupStore creates a store holding at most capacity ids.
// onEvict, if non-nil, is called with each evicted id.
func NewDedupStore(capacity int, onEvict func(id string)) *DedupStore {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	var evict func(string, struct{})
	if onEvict != nil {
		evict = func(id string, _ struct{}) { onEvict(id) }
	}
	ids, err := lru.NewWithEvict[string, struct{}](capacity, evict)
	if err != nil {
		// Only returned for a non-positive size, which is ruled out above.
		panic(err)
	}
	return &DedupStore{ids: ids}
}

// Add records id and reports whether it was new.
func (d *DedupStore) Add(id string) bool {
	seen, _ := d.ids.ContainsOrAdd(id, struct{}{})
	return !seen
}

// Seen reports whether id has been recorded and not yet evicted.
func (d *DedupStore) Seen(id string) bool {
	return d.ids.Contains(id)
}

// Len returns the number of remembered ids.
func (d *DedupStore) Len() int {
	return d.ids.Len()
}

// Oldest returns the id that will be evicted next.
func (d *DedupStore) Oldest() (string, bool) {
	id, _, ok := d.ids.GetOldest()
	return id, ok
}
