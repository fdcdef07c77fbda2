// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	service "github.com/okian/visibility/internal/app"
	"github.com/okian/visibility/internal/auth"
	"github.com/okian/visibility/internal/domain/model"
	"github.com/okian/visibility/internal/domain/types"
	"github.com/okian/visibility/internal/experiment"
	"github.com/okian/visibility/pkg/logger"
)

const (
	defaultMaxTopLimit = 100
	maxBodyBytes       = 1 << 20
)

// Entry mirrors the read shape returned by top-N queries.
type Entry = types.Entry

// RankingService scores creators and serves surface listings.
type RankingService interface {
	Recalculate(ctx context.Context, userID string, m model.RankingMetrics, countryCode string, tier model.Tier) (model.CreatorRankingScore, error)
	Score(ctx context.Context, userID string) (model.CreatorRankingScore, error)
	Validate(change model.MetricChange) error
	Enqueue(ctx context.Context, change model.MetricChange) bool
	TopN(ctx context.Context, surface model.Surface, countryCode string, n int) ([]Entry, error)
}

// ConfigAdmin reads and replaces ranking configuration.
type ConfigAdmin interface {
	Global(ctx context.Context) (model.RankingConfig, error)
	UpdateGlobal(ctx context.Context, cfg model.RankingConfig, adminID string) error
	Country(ctx context.Context, countryCode string) (model.CountryOverride, error)
	UpdateCountry(ctx context.Context, o model.CountryOverride, adminID string) (model.CountryOverride, error)
	ListCountries(ctx context.Context) ([]model.CountryOverride, error)
	Safety(ctx context.Context) (model.SafetyPenaltyConfig, error)
	UpdateSafety(ctx context.Context, cfg model.SafetyPenaltyConfig, adminID string) error
	TierRouting(ctx context.Context) (model.TierRoutingConfig, error)
	UpdateTierRouting(ctx context.Context, cfg model.TierRoutingConfig, adminID string) error
}

// ExperimentAdmin manages experiments.
type ExperimentAdmin interface {
	Create(ctx context.Context, d experiment.Draft, adminID string) (string, error)
	Update(ctx context.Context, id string, u experiment.Update, adminID string) (model.Experiment, error)
	Disable(ctx context.Context, id, adminID string) (model.Experiment, error)
	Get(ctx context.Context, id string) (model.Experiment, error)
	List(ctx context.Context) ([]model.Experiment, error)
	GetResults(ctx context.Context, id string) (model.ExperimentResults, error)
}

// AuditReader pages through the audit log, newest first.
type AuditReader interface {
	List(ctx context.Context, limit, offset int) ([]model.AuditLogEntry, error)
}

// Sweeper runs a full recalculation on demand.
type Sweeper interface {
	RunNow(ctx context.Context) (service.SweepResult, error)
}

// Deduper remembers idempotency keys.
type Deduper interface {
	SeenAndRecord(ctx context.Context, key string) bool
	Unrecord(ctx context.Context, key string)
}

// Authenticator guards admin routes.
type Authenticator interface {
	Middleware(next http.Handler) http.Handler
}

// Dependencies bundles the collaborators the handlers call.
type Dependencies struct {
	Ranking     RankingService
	Config      ConfigAdmin
	Experiments ExperimentAdmin
	Audit       AuditReader
	Sweeper     Sweeper
	Stats       StatsProvider
	Auth        Authenticator
	// Dedupe, when set, honours the Idempotency-Key header on metrics ingest.
	Dedupe      Deduper
}

// Option configures a Server.
type Option func(*Server)

// WithMaxTopLimit caps the limit parameter of top-N queries.
func WithMaxTopLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxTopLimit = n
		}
	}
}

// WithLogger sets the logger used for request failures.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// Server wires HTTP routes for the ranking API.
type Server struct {
	deps        Dependencies
	maxTopLimit int
	log         logger.Logger

	health *HealthHandler
	stats  *StatsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:        deps,
		maxTopLimit: defaultMaxTopLimit,
		log:         logger.Nop(),
		health:      NewHealthHandler(),
		stats:       NewStatsHandler(deps.Stats),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	route := func(pattern, endpoint string, h http.HandlerFunc) {
		mux.Handle(pattern, MetricsMiddleware(h, endpoint))
	}
	// Without an authenticator admin routes answer 401 to everyone.
	admin := func(pattern, endpoint string, h http.HandlerFunc) {
		next := http.Handler(http.HandlerFunc(s.denyAdmin))
		if s.deps.Auth != nil {
			next = s.deps.Auth.Middleware(h)
		}
		mux.Handle(pattern, MetricsMiddleware(next.ServeHTTP, endpoint))
	}

	route("GET /healthz", "healthz", s.health.HandleHealth)
	route("GET /stats", "stats", s.stats.HandleStats)

	route("POST /v1/creators/{id}/score", "creator_score", s.handleRecalculate)
	route("GET /v1/creators/{id}/score", "creator_score", s.handleGetScore)
	route("POST /v1/creators/{id}/metrics", "creator_metrics", s.handleIngestMetrics)
	route("GET /v1/surfaces/{surface}/top", "surface_top", s.handleTop)

	admin("GET /v1/admin/config/global", "admin_config", s.handleGetGlobal)
	admin("PUT /v1/admin/config/global", "admin_config", s.handlePutGlobal)
	admin("GET /v1/admin/config/countries", "admin_config", s.handleListCountries)
	admin("GET /v1/admin/config/countries/{country}", "admin_config", s.handleGetCountry)
	admin("PUT /v1/admin/config/countries/{country}", "admin_config", s.handlePutCountry)
	admin("GET /v1/admin/config/safety", "admin_config", s.handleGetSafety)
	admin("PUT /v1/admin/config/safety", "admin_config", s.handlePutSafety)
	admin("GET /v1/admin/config/tier-routing", "admin_config", s.handleGetTierRouting)
	admin("PUT /v1/admin/config/tier-routing", "admin_config", s.handlePutTierRouting)

	admin("GET /v1/admin/experiments", "admin_experiments", s.handleListExperiments)
	admin("POST /v1/admin/experiments", "admin_experiments", s.handleCreateExperiment)
	admin("GET /v1/admin/experiments/{id}", "admin_experiments", s.handleGetExperiment)
	admin("PUT /v1/admin/experiments/{id}", "admin_experiments", s.handleUpdateExperiment)
	admin("POST /v1/admin/experiments/{id}/disable", "admin_experiments", s.handleDisableExperiment)
	admin("GET /v1/admin/experiments/{id}/results", "admin_experiments", s.handleExperimentResults)

	admin("GET /v1/admin/audit", "admin_audit", s.handleAudit)
	admin("POST /v1/admin/recalculate", "admin_recalculate", s.handleRecalculateAll)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError classifies err, logs server-side failures and writes the body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Error(r.Context(), "request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Error(err),
		)
	}
	msg := http.StatusText(status)
	if err != nil && status < http.StatusInternalServerError {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// denyAdmin answers admin requests when no authenticator is configured.
func (s *Server) denyAdmin(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
	s.writeError(w, r, WrapKind("api.admin", auth.ErrUnauthorized, auth.ErrNoSecret))
}

// decode reads a JSON body, rejecting unknown fields and trailing data.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	if dec.More() {
		return errors.New("decode body: unexpected trailing data")
	}
	return nil
}
