// Package dedupe tracks idempotency keys so that a retried submission is
// applied at most once.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	defaultMaxSize = 50_000
	defaultTTL     = 24 * time.Hour
)

// Deduper records seen keys.
type Deduper interface {
	// SeenAndRecord atomically checks if key was seen and records it if not.
	// Returns true if key was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord forgets key so that a submission refused downstream (for
	// example by queue backpressure) can be retried with the same key.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

type entry struct {
	key string
	at  time.Time
}

// inMemoryDeduper keeps keys in insertion order. The oldest key is evicted
// once maxSize is reached and keys older than ttl count as unseen.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // front is newest
	maxSize int        // 0 or negative = unbounded
	ttl     time.Duration
	clock   clock.Clock
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
		ttl:     defaultTTL,
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]*list.Element)
	d.order = list.New()
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.expire(now)
	if _, ok := d.seen[key]; ok {
		return true
	}
	if d.maxSize > 0 {
		for d.order.Len() >= d.maxSize {
			d.remove(d.order.Back())
		}
	}
	d.seen[key] = d.order.PushFront(entry{key: key, at: now})
	d.size.Add(1)
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.seen[key]; ok {
		d.remove(el)
	}
}

// expire drops keys recorded before now-ttl. Must be called with d.mu held.
func (d *inMemoryDeduper) expire(now time.Time) {
	if d.ttl <= 0 {
		return
	}
	cutoff := now.Add(-d.ttl)
	for el := d.order.Back(); el != nil; el = d.order.Back() {
		if el.Value.(entry).at.After(cutoff) {
			return
		}
		d.remove(el)
	}
}

// remove must be called with d.mu held.
func (d *inMemoryDeduper) remove(el *list.Element) {
	e := d.order.Remove(el).(entry)
	delete(d.seen, e.key)
	d.size.Add(-1)
}

// Size returns the current number of entries in the deduper.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
