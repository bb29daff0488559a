package engine

import "sync"

// dedupSet is a bounded set of processed message ids. When full, the oldest
// id is evicted, so transport-level redelivery inside the window is caught
// while memory stays constant.
type dedupSet struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]struct{}
	order    []string
}

func newDedupSet(capacity int) *dedupSet {
	return &dedupSet{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// Add records the id and reports whether it was new.
func (d *dedupSet) Add(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return false
	}
	if len(d.order) >= d.capacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
	return true
}
