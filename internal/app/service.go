// Package service is the ranking orchestrator: it resolves configuration,
// scores creators, persists the results and serves top-N queries.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	eventqueue "github.com/okian/visibility/internal/adapters/mq/queue"
	workerpool "github.com/okian/visibility/internal/adapters/mq/worker"
	"github.com/okian/visibility/internal/adapters/repository"
	"github.com/okian/visibility/internal/domain/model"
	"github.com/okian/visibility/internal/domain/scoring"
	"github.com/okian/visibility/internal/domain/types"
	"github.com/okian/visibility/internal/resolver"
	"github.com/okian/visibility/pkg/logger"
	"github.com/okian/visibility/pkg/metrics"
)

// Recalculation triggers.
const (
	TriggerAPI   = "api"
	TriggerQueue = "queue"
	TriggerSweep = "sweep"
)

// suppressedBelow marks a multiplier as suppressed for metrics.
const suppressedBelow = 0.5

// ConfigResolver resolves everything needed to score one subject.
type ConfigResolver interface {
	ResolveFor(ctx context.Context, s model.Subject) (resolver.Resolved, error)
}

// ActiveExperiments reports currently running experiments.
type ActiveExperiments interface {
	GetActive(ctx context.Context) ([]model.Experiment, error)
}

// SweepResult summarizes a full recalculation.
type SweepResult struct {
	Processed int           `json:"processed"`
	Errors    int           `json:"errors"`
	Duration  time.Duration `json:"duration"`
}

// Service implements the ranking orchestrator.
type Service struct {
	mu sync.RWMutex

	resolver    ConfigResolver
	scores      repository.ScoreStore
	snapshots   repository.SnapshotStore
	experiments ActiveExperiments
	queue       *eventqueue.InMemoryQueue
	pool        *workerpool.Pool
	validate    *validator.Validate
	clock       clock.Clock

	workerCount  int
	queueSize    int
	sweepWorkers int

	recalcs      atomic.Int64
	recalcErrors atomic.Int64
	lastSweep    atomic.Pointer[sweepRecord]

	started bool
	cancel  context.CancelFunc

	logger logger.Logger
}

type sweepRecord struct {
	SweepResult
	finishedAt time.Time
}

// New constructs a Service. scores and snapshots are required.
func New(res ConfigResolver, scores repository.ScoreStore, snapshots repository.SnapshotStore, opts ...Option) *Service {
	s := &Service{
		resolver:     res,
		scores:       scores,
		snapshots:    snapshots,
		validate:     validator.New(),
		clock:        clock.New(),
		workerCount:  runtime.NumCPU() * 2,
		queueSize:    10_000,
		sweepWorkers: runtime.NumCPU() * 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("ranking")
	}
	return s
}

// Start creates the metric-change queue and starts the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting ranking service...")
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.workerCount, s.queue, queueApplier{s},
		workerpool.WithLogger(s.logger.Named("worker")),
	)
	s.pool.Start(runCtx)
	s.started = true

	s.logger.Info(ctx, "ranking service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("sweepWorkers", s.sweepWorkers),
	)
	return nil
}

// Stop drains the queue and stops the workers.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping ranking service...")
	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown incomplete", logger.Error(err))
	}
	s.cancel()
	s.started = false
	s.logger.Info(ctx, "ranking service stopped")
}

// Recalculate scores one creator with the resolved config and overwrites the
// persisted record. The metrics are also stored as the creator's latest
// snapshot for the sweep.
func (s *Service) Recalculate(ctx context.Context, userID string, m model.RankingMetrics, countryCode string, tier model.Tier) (model.CreatorRankingScore, error) {
	return s.recalculate(ctx, TriggerAPI, model.CreatorSnapshot{UserID: userID, CountryCode: countryCode, Tier: tier, Metrics: m}, true)
}

func (s *Service) recalculate(ctx context.Context, trigger string, snap model.CreatorSnapshot, record bool) (model.CreatorRankingScore, error) {
	rec, err := s.score(ctx, snap)
	if err != nil {
		s.recalcErrors.Add(1)
		metrics.RecordRecalculationError()
		return model.CreatorRankingScore{}, err
	}
	if err := s.scores.Save(ctx, rec); err != nil {
		s.recalcErrors.Add(1)
		metrics.RecordRecalculationError()
		return model.CreatorRankingScore{}, fmt.Errorf("save score %s: %w", snap.UserID, err)
	}
	if record && s.snapshots != nil {
		if err := s.snapshots.RecordSnapshot(ctx, snap); err != nil {
			s.logger.Warn(ctx, "failed to record metrics snapshot",
				logger.String("user_id", snap.UserID),
				logger.Error(err),
			)
		}
	}

	s.recalcs.Add(1)
	metrics.RecordRecalculation(trigger)
	for _, surface := range model.Surfaces {
		metrics.RecordFinalScore(string(surface), rec.Final.Get(surface))
	}
	if rec.Penalty.Multiplier < suppressedBelow {
		metrics.RecordSuppressed()
	}
	s.logger.Debug(ctx, "creator recalculated",
		logger.String("user_id", rec.UserID),
		logger.String("trigger", trigger),
		logger.Float64("multiplier", rec.Penalty.Multiplier),
		logger.String("experiment_id", rec.ExperimentID),
	)
	return rec, nil
}

// Validate checks a metric change the same way a recalculation would, so
// callers can refuse bad input before queueing it.
func (s *Service) Validate(change model.MetricChange) error { //nolint:gocritic // hugeParam: mirrors Enqueue
	_, err := s.check(change.Snapshot())
	return err
}

func (s *Service) check(snap model.CreatorSnapshot) (model.Tier, error) { //nolint:gocritic // hugeParam: snapshot is read only
	if strings.TrimSpace(snap.UserID) == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	tier, err := model.ParseTier(string(snap.Tier))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := s.validate.Struct(&snap.Metrics); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return tier, nil
}

func (s *Service) score(ctx context.Context, snap model.CreatorSnapshot) (model.CreatorRankingScore, error) {
	tier, err := s.check(snap)
	if err != nil {
		return model.CreatorRankingScore{}, err
	}
	country := strings.ToUpper(strings.TrimSpace(snap.CountryCode))

	res, err := s.resolver.ResolveFor(ctx, model.Subject{UserID: snap.UserID, CountryCode: country, Tier: tier})
	if err != nil {
		return model.CreatorRankingScore{}, fmt.Errorf("resolve config for %s: %w", snap.UserID, err)
	}

	start := s.clock.Now()
	calc := scoring.NewCalculator(res.Ranking, res.Safety, res.TierRouting, scoring.WithClock(s.clock))
	rec := calc.Score(snap.UserID, snap.Metrics, country, tier, res.Assignment)
	if snap.Metrics.DaysInactive != nil {
		days := *snap.Metrics.DaysInactive
		rec.Decayed = rec.Final.Map(func(v float64) float64 { return calc.ApplyDecay(v, days) })
	}
	metrics.RecordScoringLatency(float64(s.clock.Since(start).Microseconds()) / 1000)
	return rec, nil
}

// Score returns the persisted record of a creator.
func (s *Service) Score(ctx context.Context, userID string) (model.CreatorRankingScore, error) {
	rec, err := s.scores.Get(ctx, userID)
	if err != nil {
		return model.CreatorRankingScore{}, fmt.Errorf("get score %s: %w", userID, err)
	}
	return rec, nil
}

// TopN returns the n best creators of a country on a surface. An empty
// country spans all countries.
func (s *Service) TopN(ctx context.Context, surface model.Surface, countryCode string, n int) ([]types.Entry, error) {
	if _, err := model.ParseSurface(string(surface)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if n <= 0 {
		return nil, ErrInvalidLimit
	}
	entries, err := s.scores.TopN(ctx, surface, strings.ToUpper(strings.TrimSpace(countryCode)), n)
	if err != nil {
		return nil, fmt.Errorf("top %d %s: %w", n, surface, err)
	}
	return entries, nil
}

// RecalculateAll rescores every known creator from its latest snapshot.
// Creators are processed independently with bounded concurrency; per-creator
// failures are counted and logged. Only a failure to list creators aborts.
func (s *Service) RecalculateAll(ctx context.Context) (SweepResult, error) {
	start := s.clock.Now()
	ids, err := s.snapshots.ListCreators(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("%w: %w", ErrListCreators, err)
	}
	s.logger.Info(ctx, "starting full recalculation", logger.Int("creators", len(ids)))

	var processed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.sweepWorkers))

	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := s.sweepOne(gctx, id); err != nil {
				failed.Add(1)
				s.logger.Warn(gctx, "sweep failed for creator",
					logger.String("user_id", id),
					logger.Error(err),
				)
				return nil
			}
			processed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := SweepResult{
		Processed: int(processed.Load()),
		Errors:    int(failed.Load()),
		Duration:  s.clock.Since(start),
	}
	finished := s.clock.Now()
	s.lastSweep.Store(&sweepRecord{SweepResult: res, finishedAt: finished})
	metrics.RecordSweep(res.Duration.Seconds(), res.Processed, res.Errors, finished.Unix())

	if err := ctx.Err(); err != nil {
		s.logger.Warn(ctx, "full recalculation interrupted",
			logger.Int("processed", res.Processed),
			logger.Int("errors", res.Errors),
		)
		return res, fmt.Errorf("sweep interrupted: %w", err)
	}
	s.logger.Info(ctx, "full recalculation finished",
		logger.Int("processed", res.Processed),
		logger.Int("errors", res.Errors),
		logger.Duration("duration", res.Duration),
	)
	return res, nil
}

func (s *Service) sweepOne(ctx context.Context, userID string) error {
	snap, err := s.snapshots.Metrics(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownCreator, userID)
		}
		return fmt.Errorf("load metrics: %w", err)
	}
	_, err = s.recalculate(ctx, TriggerSweep, snap, false)
	return err
}

// Enqueue submits a live metric change for asynchronous recalculation.
// It returns false when the service is not started or the queue is full.
func (s *Service) Enqueue(ctx context.Context, change model.MetricChange) bool { //nolint:gocritic // hugeParam: passed by value into the queue
	s.mu.RLock()
	q := s.queue
	started := s.started
	s.mu.RUnlock()
	if !started {
		return false
	}
	if change.ReceivedAt.IsZero() {
		change.ReceivedAt = s.clock.Now()
	}
	ok := q.Enqueue(ctx, change)
	if !ok {
		s.logger.Warn(ctx, "metric change dropped", logger.String("user_id", change.UserID))
	}
	return ok
}

// queueApplier feeds queued changes back into the orchestrator.
type queueApplier struct{ s *Service }

func (a queueApplier) Apply(ctx context.Context, change model.MetricChange) error { //nolint:gocritic // hugeParam: mirrors the worker interface
	_, err := a.s.recalculate(ctx, TriggerQueue, change.Snapshot(), true)
	return err
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) types.Stats {
	s.mu.RLock()
	started := s.started
	q := s.queue
	pool := s.pool
	s.mu.RUnlock()

	st := types.Stats{
		Started:        started,
		QueueCapacity:  s.queueSize,
		Recalculations: s.recalcs.Load(),
		RecalcErrors:   s.recalcErrors.Load(),
	}
	if started {
		st.QueueDepth = q.Len(ctx)
		st.Workers = pool.Size()
	}
	if n, err := s.scores.Count(ctx); err == nil {
		st.Creators = n
		metrics.UpdateTrackedCreators(n)
	}
	if last := s.lastSweep.Load(); last != nil {
		st.LastSweepAtUnix = last.finishedAt.Unix()
		st.LastSweepTotal = last.Processed
		st.LastSweepErrors = last.Errors
	}
	if s.experiments != nil {
		if active, err := s.experiments.GetActive(ctx); err == nil {
			st.ActiveExperiment = len(active)
		}
	}
	return st
}
