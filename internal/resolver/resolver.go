// Package resolver resolves the effective ranking configuration for a
// country and user: global defaults, then an enabled country override, then
// at most one experiment test config.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"

	"github.com/okian/visibility/internal/adapters/repository"
	"github.com/okian/visibility/internal/audit"
	"github.com/okian/visibility/internal/domain/model"
	"github.com/okian/visibility/pkg/logger"
	"github.com/okian/visibility/pkg/metrics"
)

const defaultCacheTTL = time.Minute

// globalsKey caches safety and tier routing next to the per-country entries.
// Country codes are two letters so it cannot collide.
const globalsKey = "*globals*"

// Assigner picks the experiment, if any, that applies to a subject.
type Assigner interface {
	Assign(ctx context.Context, s model.Subject) (model.Assignment, error)
}

// Resolved is everything a calculator needs for one scoring call.
type Resolved struct {
	Ranking     model.RankingConfig
	Safety      model.SafetyPenaltyConfig
	TierRouting model.TierRoutingConfig
	Assignment  model.Assignment
}

type cacheEntry struct {
	ranking   model.RankingConfig
	safety    model.SafetyPenaltyConfig
	routing   model.TierRoutingConfig
	expiresAt time.Time
}

// Resolver owns config resolution, its cache and the admin update path.
type Resolver struct {
	store       repository.ConfigStore
	audit       *audit.Recorder
	experiments Assigner
	clock       clock.Clock
	ttl         time.Duration
	log         logger.Logger
	validate    *validator.Validate

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// New creates a Resolver.
func New(store repository.ConfigStore, auditLog repository.AuditLog, opts ...Option) *Resolver {
	r := &Resolver{
		store:    store,
		clock:    clock.New(),
		ttl:      defaultCacheTTL,
		log:      logger.Nop(),
		validate: validator.New(),
		cache:    make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.audit = audit.NewRecorder(auditLog, r.clock, r.log)
	return r
}

// EnsureDefaults writes the hard-coded global, safety and tier-routing
// documents if they have never been written. Call once at startup.
func (r *Resolver) EnsureDefaults(ctx context.Context) error {
	if _, err := r.store.GetGlobal(ctx); errors.Is(err, repository.ErrNotFound) {
		if err := r.store.PutGlobal(ctx, model.DefaultRankingConfig()); err != nil {
			return fmt.Errorf("init global config: %w", err)
		}
		r.log.Info(ctx, "initialized global ranking config with defaults")
	} else if err != nil {
		return fmt.Errorf("load global config: %w", err)
	}

	if _, err := r.store.GetSafety(ctx); errors.Is(err, repository.ErrNotFound) {
		if err := r.store.PutSafety(ctx, model.DefaultSafetyPenaltyConfig()); err != nil {
			return fmt.Errorf("init safety config: %w", err)
		}
		r.log.Info(ctx, "initialized safety penalty config with defaults")
	} else if err != nil {
		return fmt.Errorf("load safety config: %w", err)
	}

	if _, err := r.store.GetTierRouting(ctx); errors.Is(err, repository.ErrNotFound) {
		if err := r.store.PutTierRouting(ctx, model.DefaultTierRoutingConfig()); err != nil {
			return fmt.Errorf("init tier routing: %w", err)
		}
		r.log.Info(ctx, "initialized tier routing config with defaults")
	} else if err != nil {
		return fmt.Errorf("load tier routing: %w", err)
	}

	r.Invalidate()
	return nil
}

// Resolve returns the global config merged with the country's override
// when that override exists and is enabled.
func (r *Resolver) Resolve(ctx context.Context, countryCode string) (model.RankingConfig, error) {
	key := normCountry(countryCode)
	if e, ok := r.cached(key); ok {
		return e.ranking, nil
	}

	cfg, err := r.Global(ctx)
	if err != nil {
		return model.RankingConfig{}, err
	}
	if key != "" {
		o, err := r.store.GetCountry(ctx, key)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return model.RankingConfig{}, fmt.Errorf("load country override %s: %w", key, err)
		case o.Enabled:
			cfg = o.Config.Apply(cfg)
		}
	}

	r.put(key, cacheEntry{ranking: cfg})
	return cfg, nil
}

// ResolveFor resolves everything needed to score subject, including the
// subject's experiment assignment.
func (r *Resolver) ResolveFor(ctx context.Context, s model.Subject) (Resolved, error) {
	ranking, err := r.Resolve(ctx, s.CountryCode)
	if err != nil {
		return Resolved{}, err
	}
	safety, routing, err := r.globals(ctx)
	if err != nil {
		return Resolved{}, err
	}

	out := Resolved{Ranking: ranking, Safety: safety, TierRouting: routing}
	if r.experiments != nil && s.UserID != "" {
		a, err := r.experiments.Assign(ctx, s)
		if err != nil {
			return Resolved{}, fmt.Errorf("assign experiment: %w", err)
		}
		out.Assignment = a
		if a.InTest() {
			out.Ranking = ApplyExperiment(ranking, *a.Config)
		}
	}
	return out, nil
}

// GetExperimentConfig returns the id and test config of the first active
// experiment that places userID in its test group. Both are empty when the
// user is in no test group.
func (r *Resolver) GetExperimentConfig(ctx context.Context, userID string) (string, *model.RankingConfigPatch, error) {
	if r.experiments == nil {
		return "", nil, nil
	}
	a, err := r.experiments.Assign(ctx, model.Subject{UserID: userID})
	if err != nil {
		return "", nil, err
	}
	if !a.InTest() {
		return "", nil, nil
	}
	return a.ExperimentID, a.Config, nil
}

// ApplyExperiment merges an experiment's partial config over base.
func ApplyExperiment(base model.RankingConfig, patch model.RankingConfigPatch) model.RankingConfig {
	return patch.Apply(base)
}

// Global returns the stored global config, or the defaults if none is stored.
func (r *Resolver) Global(ctx context.Context) (model.RankingConfig, error) {
	cfg, err := r.store.GetGlobal(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return model.DefaultRankingConfig(), nil
	}
	if err != nil {
		return model.RankingConfig{}, fmt.Errorf("load global config: %w", err)
	}
	return cfg, nil
}

// Country returns the stored override for countryCode.
func (r *Resolver) Country(ctx context.Context, countryCode string) (model.CountryOverride, error) {
	code, err := r.countryCode(countryCode)
	if err != nil {
		return model.CountryOverride{}, err
	}
	return r.store.GetCountry(ctx, code)
}

// ListCountries returns every stored override.
func (r *Resolver) ListCountries(ctx context.Context) ([]model.CountryOverride, error) {
	return r.store.ListCountries(ctx)
}

// Safety returns the stored safety config, or the defaults.
func (r *Resolver) Safety(ctx context.Context) (model.SafetyPenaltyConfig, error) {
	cfg, err := r.store.GetSafety(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return model.DefaultSafetyPenaltyConfig(), nil
	}
	if err != nil {
		return model.SafetyPenaltyConfig{}, fmt.Errorf("load safety config: %w", err)
	}
	return cfg, nil
}

// TierRouting returns the stored tier routing config, or the defaults.
func (r *Resolver) TierRouting(ctx context.Context) (model.TierRoutingConfig, error) {
	cfg, err := r.store.GetTierRouting(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return model.DefaultTierRoutingConfig(), nil
	}
	if err != nil {
		return model.TierRoutingConfig{}, fmt.Errorf("load tier routing: %w", err)
	}
	return cfg, nil
}

func (r *Resolver) globals(ctx context.Context) (model.SafetyPenaltyConfig, model.TierRoutingConfig, error) {
	if e, ok := r.cached(globalsKey); ok {
		return e.safety, e.routing, nil
	}
	safety, err := r.Safety(ctx)
	if err != nil {
		return safety, model.TierRoutingConfig{}, err
	}
	routing, err := r.TierRouting(ctx)
	if err != nil {
		return safety, routing, err
	}
	r.put(globalsKey, cacheEntry{safety: safety, routing: routing})
	return safety, routing, nil
}

// UpdateGlobal replaces the global config.
func (r *Resolver) UpdateGlobal(ctx context.Context, cfg model.RankingConfig, adminID string) error {
	if err := r.check(adminID, &cfg); err != nil {
		return err
	}
	before, err := r.store.GetGlobal(ctx)
	var beforePtr *model.RankingConfig
	switch {
	case err == nil:
		beforePtr = &before
	case !errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("load global config: %w", err)
	}
	if err := r.store.PutGlobal(ctx, cfg); err != nil {
		return fmt.Errorf("write global config: %w", err)
	}
	return r.record(ctx, model.ActionUpdateGlobal, model.EntityGlobalConfig, "global", adminID, beforePtr, cfg)
}

// UpdateCountry creates or replaces a country override.
func (r *Resolver) UpdateCountry(ctx context.Context, o model.CountryOverride, adminID string) (model.CountryOverride, error) {
	code, err := r.countryCode(o.CountryCode)
	if err != nil {
		return model.CountryOverride{}, err
	}
	o.CountryCode = code
	if err := r.check(adminID, &o.Config); err != nil {
		return model.CountryOverride{}, err
	}

	now := r.clock.Now().UTC()
	before, err := r.store.GetCountry(ctx, code)
	var beforePtr *model.CountryOverride
	switch {
	case err == nil:
		beforePtr = &before
		o.CreatedAt = before.CreatedAt
	case errors.Is(err, repository.ErrNotFound):
		o.CreatedAt = now
	default:
		return model.CountryOverride{}, fmt.Errorf("load country override %s: %w", code, err)
	}
	o.UpdatedAt = now

	if err := r.store.PutCountry(ctx, o); err != nil {
		return model.CountryOverride{}, fmt.Errorf("write country override %s: %w", code, err)
	}
	if err := r.record(ctx, model.ActionUpdateCountry, model.EntityCountryConfig, code, adminID, beforePtr, o); err != nil {
		return model.CountryOverride{}, err
	}
	return o, nil
}

// UpdateSafety replaces the safety penalty config.
func (r *Resolver) UpdateSafety(ctx context.Context, cfg model.SafetyPenaltyConfig, adminID string) error {
	if err := r.check(adminID, &cfg); err != nil {
		return err
	}
	before, err := r.store.GetSafety(ctx)
	var beforePtr *model.SafetyPenaltyConfig
	switch {
	case err == nil:
		beforePtr = &before
	case !errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("load safety config: %w", err)
	}
	if err := r.store.PutSafety(ctx, cfg); err != nil {
		return fmt.Errorf("write safety config: %w", err)
	}
	return r.record(ctx, model.ActionUpdateSafety, model.EntitySafetyConfig, "safety", adminID, beforePtr, cfg)
}

// UpdateTierRouting replaces the tier routing config.
func (r *Resolver) UpdateTierRouting(ctx context.Context, cfg model.TierRoutingConfig, adminID string) error {
	if err := r.check(adminID, &cfg); err != nil {
		return err
	}
	before, err := r.store.GetTierRouting(ctx)
	var beforePtr *model.TierRoutingConfig
	switch {
	case err == nil:
		beforePtr = &before
	case !errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("load tier routing: %w", err)
	}
	if err := r.store.PutTierRouting(ctx, cfg); err != nil {
		return fmt.Errorf("write tier routing: %w", err)
	}
	return r.record(ctx, model.ActionUpdateTierRouting, model.EntityTierRouting, "tier_routing", adminID, beforePtr, cfg)
}

// Invalidate drops every cached entry.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cache = make(map[string]cacheEntry)
	r.mu.Unlock()
}

func (r *Resolver) check(adminID string, v any) error {
	if strings.TrimSpace(adminID) == "" {
		return ErrMissingAdmin
	}
	if err := r.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, describe(err))
	}
	return nil
}

func (r *Resolver) countryCode(c string) (string, error) {
	code := normCountry(c)
	if err := r.validate.Var(code, "required,iso3166_1_alpha2"); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidCountry, c)
	}
	return code, nil
}

// record appends the audit entry and invalidates the cache. The write has
// already happened, so the cache is dropped even when the audit append fails.
func (r *Resolver) record(ctx context.Context, action, entityType, entityID, adminID string, before, after any) error {
	defer r.Invalidate()
	return r.audit.Record(ctx, action, entityType, entityID, adminID, before, after)
}

func (r *Resolver) cached(key string) (cacheEntry, bool) {
	if r.ttl <= 0 {
		return cacheEntry{}, false
	}
	r.mu.RLock()
	e, ok := r.cache[key]
	r.mu.RUnlock()
	hit := ok && r.clock.Now().Before(e.expiresAt)
	metrics.RecordConfigCache(hit)
	return e, hit
}

func (r *Resolver) put(key string, e cacheEntry) {
	if r.ttl <= 0 {
		return
	}
	e.expiresAt = r.clock.Now().Add(r.ttl)
	r.mu.Lock()
	r.cache[key] = e
	r.mu.Unlock()
}

func normCountry(c string) string { return strings.ToUpper(strings.TrimSpace(c)) }

// describe flattens validator errors into one readable line.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s must satisfy %s", fe.Namespace(), tagText(fe)))
	}
	return strings.Join(parts, "; ")
}

func tagText(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}
