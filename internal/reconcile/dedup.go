package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// defaultDedupCapacity bounds the number of remembered messages.
const defaultDedupCapacity = 10000

// Deduper suppresses identical (topic, payload) pairs seen within a TTL.
// Brokers redeliver QoS 1 messages after reconnects; those copies are
// dropped here before they reach the repository.
type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	seen map[string]time.Time
}

// NewDeduper creates a deduper. A ttl of zero or less disables it.
func NewDeduper(ttl time.Duration, capacity int) *Deduper {
	if capacity <= 0 {
		capacity = defaultDedupCapacity
	}
	return &Deduper{ttl: ttl, max: capacity, seen: make(map[string]time.Time)}
}

// ShouldProcess reports whether the message is new and remembers it until
// now+ttl.
func (d *Deduper) ShouldProcess(topic string, payload []byte, now time.Time) bool {
	if d == nil || d.ttl <= 0 {
		return true
	}
	key := messageKey(topic, payload)

	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return false
	}
	d.seen[key] = now.Add(d.ttl)
	if len(d.seen) > d.max {
		d.evict(now)
	}
	return true
}

// Forget removes the message so an identical redelivery is processed
// again. Used when applying it failed for a reason a retry may fix.
func (d *Deduper) Forget(topic string, payload []byte) {
	if d == nil || d.ttl <= 0 {
		return
	}
	key := messageKey(topic, payload)
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

// evict drops expired entries, then arbitrary ones until under capacity.
func (d *Deduper) evict(now time.Time) {
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
		}
	}
	for k := range d.seen {
		if len(d.seen) <= d.max {
			return
		}
		delete(d.seen, k)
	}
}

// Len returns the number of remembered messages.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func messageKey(topic string, payload []byte) string {
	sum := sha256.Sum256(payload)
	return topic + "|" + hex.EncodeToString(sum[:])
}
