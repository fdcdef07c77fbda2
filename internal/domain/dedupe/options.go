package dedupe

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Option applies a configuration option to the in-memory deduper.
type Option func(*inMemoryDeduper)

// WithMaxSize sets the maximum number of keys to keep in memory.
// If maxSize > 0 the oldest key is evicted first.
// If maxSize <= 0 the deduper is unbounded.
func WithMaxSize(maxSize int) Option {
	return func(d *inMemoryDeduper) {
		d.maxSize = maxSize
	}
}

// WithTTL sets how long a key is remembered. Zero or negative keeps keys
// until they are evicted by size.
func WithTTL(ttl time.Duration) Option {
	return func(d *inMemoryDeduper) {
		d.ttl = ttl
	}
}

// WithClock sets the clock used for key expiry.
func WithClock(c clock.Clock) Option {
	return func(d *inMemoryDeduper) {
		if c != nil {
			d.clock = c
		}
	}
}
