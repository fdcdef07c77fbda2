package resolver

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"

	"github.com/okian/visibility/pkg/logger"
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock sets the clock used for cache expiry and audit timestamps.
func WithClock(c clock.Clock) Option {
	return func(r *Resolver) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithCacheTTL sets how long a resolved country config is cached. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl >= 0 {
			r.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// WithExperiments sets the experiment assigner consulted by ResolveFor.
func WithExperiments(a Assigner) Option {
	return func(r *Resolver) {
		r.experiments = a
	}
}

// WithValidator shares a validator instance.
func WithValidator(v *validator.Validate) Option {
	return func(r *Resolver) {
		if v != nil {
			r.validate = v
		}
	}
}
