// Package jobs runs the scheduled full recalculation of creator rankings.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	service "github.com/okian/visibility/internal/app"
	"github.com/okian/visibility/pkg/logger"
)

const (
	DefaultSweepInterval = 24 * time.Hour
	DefaultSweepTimeout  = 2 * time.Hour
)

// Sweeper recalculates every known creator.
type Sweeper interface {
	RecalculateAll(ctx context.Context) (service.SweepResult, error)
}

// Option configures a SweepJob.
type Option func(*SweepJob)

// WithInterval sets the time between sweeps.
func WithInterval(d time.Duration) Option {
	return func(j *SweepJob) {
		if d > 0 {
			j.interval = d
		}
	}
}

// WithTimeout bounds one sweep.
func WithTimeout(d time.Duration) Option {
	return func(j *SweepJob) {
		if d > 0 {
			j.timeout = d
		}
	}
}

// WithClock sets the clock driving the ticker.
func WithClock(c clock.Clock) Option {
	return func(j *SweepJob) {
		if c != nil {
			j.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(j *SweepJob) {
		if l != nil {
			j.log = l
		}
	}
}

// SweepJob triggers RecalculateAll on a fixed interval. Only one sweep runs
// at a time; a tick that arrives while a sweep is running is skipped.
type SweepJob struct {
	sweeper  Sweeper
	interval time.Duration
	timeout  time.Duration
	clock    clock.Clock
	log      logger.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	sweeping sync.Mutex
}

// NewSweepJob creates a job. It does nothing until Start.
func NewSweepJob(s Sweeper, opts ...Option) *SweepJob {
	j := &SweepJob{
		sweeper:  s,
		interval: DefaultSweepInterval,
		timeout:  DefaultSweepTimeout,
		clock:    clock.New(),
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start begins the periodic loop in the background.
func (j *SweepJob) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	go j.run(ctx, j.clock.Ticker(j.interval), j.stopCh, j.doneCh)
	j.log.Info(ctx, "sweep job started", logger.Duration("interval", j.interval))
}

// Stop signals the loop to exit and waits for an in-flight sweep.
func (j *SweepJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh, doneCh := j.stopCh, j.doneCh
	j.running = false
	j.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// IsRunning reports whether the loop is active.
func (j *SweepJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *SweepJob) run(ctx context.Context, ticker *clock.Ticker, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info(ctx, "sweep job stopping due to context cancellation")
			return
		case <-stopCh:
			j.log.Info(ctx, "sweep job stopping due to stop signal")
			return
		case <-ticker.C:
			if _, err := j.RunNow(ctx); err != nil {
				j.log.Error(ctx, "scheduled sweep failed", logger.Error(err))
			}
		}
	}
}

// RunNow runs one sweep immediately with the job timeout. It returns
// ErrSweepInProgress when another sweep is already running.
func (j *SweepJob) RunNow(ctx context.Context) (service.SweepResult, error) {
	if !j.sweeping.TryLock() {
		j.log.Warn(ctx, "sweep already in progress, skipping")
		return service.SweepResult{}, ErrSweepInProgress
	}
	defer j.sweeping.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	return j.sweeper.RecalculateAll(runCtx)
}
