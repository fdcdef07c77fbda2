package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/okian/visibility/internal/adapters/http/api"
	"github.com/okian/visibility/internal/adapters/http/site"
	"github.com/okian/visibility/internal/adapters/http/swagger"
	"github.com/okian/visibility/internal/adapters/repository"
	service "github.com/okian/visibility/internal/app"
	"github.com/okian/visibility/internal/auth"
	"github.com/okian/visibility/internal/config"
	"github.com/okian/visibility/internal/domain/dedupe"
	"github.com/okian/visibility/internal/experiment"
	"github.com/okian/visibility/internal/jobs"
	"github.com/okian/visibility/internal/resolver"
	"github.com/okian/visibility/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 30 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "service exited", logger.Error(err))
		os.Exit(1)
	}
}

// run serves until ctx is cancelled and then shuts everything down in reverse
// start order.
func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	st, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	if err := st.svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer st.svc.Stop()

	if cfg.SweepInterval > 0 {
		st.sweep.Start(ctx)
		defer st.sweep.Stop()
	}

	go startServiceMetricsUpdater(ctx, st.svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           st.mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// stack is the wired process: stores, domain services and routes.
type stack struct {
	svc   *service.Service
	sweep *jobs.SweepJob
	mux   *http.ServeMux

	closers []func() error
}

func (s *stack) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

// stores picks the persistence backends. Postgres backs everything when a DSN
// is set and redis takes over scores when an address is set. The fallback is
// fully in memory.
type stores struct {
	configs   repository.ConfigStore
	audit     repository.AuditLog
	scores    repository.ScoreStore
	snapshots repository.SnapshotStore
}

func openStores(ctx context.Context, cfg *config.Config, log logger.Logger) (stores, []func() error, error) {
	var closers []func() error
	st := stores{
		configs:   repository.NewMemoryConfigStore(),
		audit:     repository.NewMemoryAuditLog(),
		scores:    repository.NewTreapStore(),
		snapshots: repository.NewMemorySnapshotStore(),
	}

	if cfg.PostgresDSN != "" {
		db, err := repository.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return stores{}, nil, err
		}
		pg := repository.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return stores{}, nil, err
		}
		closers = append(closers, pg.Close)
		st = stores{configs: pg, audit: pg, scores: pg, snapshots: pg}
		log.Info(ctx, "using postgres stores")
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			for _, c := range closers {
				_ = c()
			}
			return stores{}, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		closers = append(closers, client.Close)
		st.scores = repository.NewRedisScoreStore(client)
		log.Info(ctx, "using redis score store", logger.String("addr", cfg.RedisAddr))
	}
	return st, closers, nil
}

// build wires every component for cfg without starting background work.
func build(ctx context.Context, cfg *config.Config, log logger.Logger) (*stack, error) {
	st, closers, err := openStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	out := &stack{closers: closers}

	validate := validator.New()
	exps := experiment.New(st.configs, st.audit, st.scores,
		experiment.WithLogger(log.Named("experiment")),
		experiment.WithValidator(validate),
	)
	res := resolver.New(st.configs, st.audit,
		resolver.WithCacheTTL(cfg.ConfigCacheTTL),
		resolver.WithExperiments(exps),
		resolver.WithLogger(log.Named("resolver")),
		resolver.WithValidator(validate),
	)
	if err := res.EnsureDefaults(ctx); err != nil {
		out.close()
		return nil, fmt.Errorf("seed default configs: %w", err)
	}

	out.svc = service.New(res, st.scores, st.snapshots,
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.QueueSize),
		service.WithSweepWorkers(cfg.SweepWorkers),
		service.WithExperiments(exps),
		service.WithValidator(validate),
		service.WithLogger(log.Named("service")),
	)
	out.sweep = jobs.NewSweepJob(out.svc,
		jobs.WithInterval(cfg.SweepInterval),
		jobs.WithTimeout(cfg.SweepTimeout),
		jobs.WithLogger(log.Named("sweep")),
	)

	idem := dedupe.NewInMemoryDeduper(
		dedupe.WithMaxSize(cfg.IdempotencyCacheSize),
		dedupe.WithTTL(cfg.IdempotencyTTL),
	)
	deps := api.Dependencies{
		Ranking:     out.svc,
		Config:      res,
		Experiments: exps,
		Audit:       st.audit,
		Sweeper:     out.sweep,
		Stats:       out.svc,
		Dedupe:      idem,
	}
	if cfg.JWTSecret != "" {
		deps.Auth = auth.NewService(cfg.JWTSecret)
	} else {
		log.Warn(ctx, "jwt_secret is empty; admin routes will reject every request")
	}

	out.mux = http.NewServeMux()
	site.Register(ctx, out.mux)
	swagger.Register(ctx, out.mux)
	api.NewServer(deps,
		api.WithMaxTopLimit(cfg.MaxTopLimit),
		api.WithLogger(log.Named("api")),
	).Register(ctx, out.mux)
	return out, nil
}

// startServiceMetricsUpdater refreshes the service gauges periodically.
func startServiceMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.GetStats(ctx)
		}
	}
}
