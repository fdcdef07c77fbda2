// Package repository holds the persistence ports of the ranking core and
// their in-memory, postgres and redis adapters.
package repository

import (
	"context"

	"github.com/okian/visibility/internal/domain/model"
	"github.com/okian/visibility/internal/domain/types"
)

// ConfigStore persists ranking configuration documents and experiments.
// Getters return ErrNotFound when the document has never been written.
type ConfigStore interface {
	GetGlobal(ctx context.Context) (model.RankingConfig, error)
	PutGlobal(ctx context.Context, cfg model.RankingConfig) error

	GetCountry(ctx context.Context, countryCode string) (model.CountryOverride, error)
	PutCountry(ctx context.Context, o model.CountryOverride) error
	ListCountries(ctx context.Context) ([]model.CountryOverride, error)

	GetSafety(ctx context.Context) (model.SafetyPenaltyConfig, error)
	PutSafety(ctx context.Context, cfg model.SafetyPenaltyConfig) error

	GetTierRouting(ctx context.Context) (model.TierRoutingConfig, error)
	PutTierRouting(ctx context.Context, cfg model.TierRoutingConfig) error

	GetExperiment(ctx context.Context, id string) (model.Experiment, error)
	PutExperiment(ctx context.Context, e model.Experiment) error
	// ListExperiments returns experiments in creation order.
	ListExperiments(ctx context.Context) ([]model.Experiment, error)
}

// AuditLog is an append-only record of config mutations.
type AuditLog interface {
	Append(ctx context.Context, e model.AuditLogEntry) error
	// List returns entries newest first.
	List(ctx context.Context, limit, offset int) ([]model.AuditLogEntry, error)
}

// ScoreStore persists one CreatorRankingScore per creator. Save overwrites.
type ScoreStore interface {
	Save(ctx context.Context, s model.CreatorRankingScore) error
	// Get returns ErrNotFound for unknown creators.
	Get(ctx context.Context, userID string) (model.CreatorRankingScore, error)
	// TopN returns the best n creators of country on surface, ordered by final
	// score desc then user id asc. An empty country spans all countries.
	TopN(ctx context.Context, surface model.Surface, countryCode string, n int) ([]types.Entry, error)
	// CountByExperiment counts persisted scores per group of one experiment.
	CountByExperiment(ctx context.Context, experimentID string) (model.ExperimentResults, error)
	Count(ctx context.Context) (int, error)
}

// CreatorSource lists known creators and their latest metrics for the sweep.
type CreatorSource interface {
	ListCreators(ctx context.Context) ([]string, error)
	// Metrics returns ErrNotFound for unknown creators.
	Metrics(ctx context.Context, userID string) (model.CreatorSnapshot, error)
}

// SnapshotStore is a CreatorSource fed by ingested metrics.
type SnapshotStore interface {
	CreatorSource
	RecordSnapshot(ctx context.Context, s model.CreatorSnapshot) error
}
