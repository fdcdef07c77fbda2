package service

import (
	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"

	"github.com/okian/visibility/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of queue workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the metric-change queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithSweepWorkers bounds the concurrency of RecalculateAll.
func WithSweepWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sweepWorkers = n
		}
	}
}

// WithExperiments lets GetStats report active experiments.
func WithExperiments(e ActiveExperiments) Option {
	return func(s *Service) {
		s.experiments = e
	}
}

// WithClock sets the clock.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithValidator shares a validator instance.
func WithValidator(v *validator.Validate) Option {
	return func(s *Service) {
		if v != nil {
			s.validate = v
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
