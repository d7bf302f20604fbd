package pipeline

import (
	"container/list"
	"sync"
	"time"
)

// Deduplicator is a best-effort in-memory guard against duplicate message
// deliveries that slip past the done-marker check. It is never the sole
// at-most-once mechanism; the lease and done marker remain authoritative.
type Deduplicator struct {
	mu      sync.Mutex
	maxSize int
	maxAge  time.Duration
	order   *list.List // front = oldest
	entries map[string]*list.Element
}

type dedupEntry struct {
	id   string
	seen time.Time
}

// NewDeduplicator creates a deduplicator bounded by count and age.
func NewDeduplicator(maxSize int, maxAge time.Duration) *Deduplicator {
	return &Deduplicator{
		maxSize: maxSize,
		maxAge:  maxAge,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Seen records id and reports whether it was already present within the
// retention window.
func (d *Deduplicator) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.evictLocked(time.Now())

	if _, ok := d.entries[id]; ok {
		return true
	}
	el := d.order.PushBack(&dedupEntry{id: id, seen: time.Now()})
	d.entries[id] = el
	return false
}

// Contains reports whether id is tracked without recording it. Used to
// probe before a message reaches its success path; only completed messages
// get recorded.
func (d *Deduplicator) Contains(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.evictLocked(time.Now())
	_, ok := d.entries[id]
	return ok
}

// Len returns the current number of tracked ids.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}

func (d *Deduplicator) evictLocked(now time.Time) {
	for d.order.Len() > 0 {
		front := d.order.Front()
		entry := front.Value.(*dedupEntry)
		tooOld := d.maxAge > 0 && now.Sub(entry.seen) > d.maxAge
		tooMany := d.maxSize > 0 && d.order.Len() >= d.maxSize
		if !tooOld && !tooMany {
			return
		}
		d.order.Remove(front)
		delete(d.entries, entry.id)
	}
}
