// Package dedup remembers message IDs the gateway sent itself, so their
// echoes arriving as inbound events are skipped instead of processed.
package dedup

import (
	"sync"
	"time"
)

// DefaultTTL is how long a sent ID is remembered.
const DefaultTTL = 30 * time.Minute

// Registry is a time-bounded set of message IDs. Each ID matches once.
type Registry struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

// New creates a registry; ttl <= 0 selects DefaultTTL.
func New(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Remember records id as sent now.
func (r *Registry) Remember(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = r.now()
}

// Consume reports whether id was remembered and has not expired, and
// forgets it either way.
func (r *Registry) Consume(id string) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sentAt, ok := r.entries[id]
	if !ok {
		return false
	}
	delete(r.entries, id)
	return r.now().Sub(sentAt) <= r.ttl
}

// Prune drops expired entries and returns how many were removed.
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.ttl)
	removed := 0
	for id, sentAt := range r.entries {
		if sentAt.Before(cutoff) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of remembered IDs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
