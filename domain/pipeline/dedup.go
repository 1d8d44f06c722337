package pipeline

import (
	"sync"
	"time"
)

// DedupStore records dedupe keys for the lifetime of the process. There is
// no TTL at the ingestion level: a key stays recorded until Forget is
// called (index write failure) or the process restarts.
type DedupStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewDedupStore creates an empty dedup store.
func NewDedupStore() *DedupStore {
	return &DedupStore{seen: make(map[string]time.Time)}
}

// Seen reports whether key has been recorded.
func (d *DedupStore) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[key]
	return ok
}

// Record marks key as seen. Returns false if it was already recorded.
func (d *DedupStore) Record(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = time.Now()
	return true
}

// Forget rolls back a recorded key so the message can be re-ingested on a
// future fetch cycle.
func (d *DedupStore) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

// Len returns the number of recorded keys.
func (d *DedupStore) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
