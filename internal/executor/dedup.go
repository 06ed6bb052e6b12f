package executor

import (
	"sync"
	"time"
)

// Dedup rejects repeated idempotency keys within a time-to-live window so a
// retried client request cannot open the same position twice. It is safe for
// concurrent use.
type Dedup struct {
	seen map[string]time.Time // key -> first seen
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats a key as duplicate for ttl after it
// is first recorded.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate returns true if key was recorded within the TTL. Otherwise it
// records key and returns false.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if firstSeen, ok := d.seen[key]; ok && now.Sub(firstSeen) < d.ttl {
		return true
	}

	d.seen[key] = now
	return false
}

// Forget drops key so it can be submitted again, e.g. after the request was
// rejected before anything reached the venue.
func (d *Dedup) Forget(key string) {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

// Cleanup removes expired entries. Call periodically to bound memory.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}

// Len returns the number of tracked keys.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
