package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/okian/visibility/internal/domain/model"
	"github.com/okian/visibility/internal/domain/types"
	"github.com/okian/visibility/pkg/metrics"
)

const (
	docGlobal      = "global"
	docSafety      = "safety"
	docTierRouting = "tier_routing"
	docCountryPfx  = "country:"
)

// schema is applied by EnsureSchema. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS ranking_config_documents (
		key        TEXT PRIMARY KEY,
		doc        JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ranking_experiments (
		seq        BIGSERIAL,
		id         TEXT PRIMARY KEY,
		doc        JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ranking_audit_log (
		seq         BIGSERIAL PRIMARY KEY,
		id          TEXT NOT NULL UNIQUE,
		action      TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id   TEXT NOT NULL,
		admin_id    TEXT NOT NULL,
		before      JSONB,
		after       JSONB,
		reversible  BOOLEAN NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS creator_ranking_scores (
		user_id          TEXT PRIMARY KEY,
		country_code     TEXT NOT NULL,
		experiment_id    TEXT NOT NULL DEFAULT '',
		experiment_group TEXT NOT NULL DEFAULT '',
		discovery_final  DOUBLE PRECISION NOT NULL,
		feed_final       DOUBLE PRECISION NOT NULL,
		swipe_final      DOUBLE PRECISION NOT NULL,
		ai_final         DOUBLE PRECISION NOT NULL,
		doc              JSONB NOT NULL,
		calculated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS creator_ranking_scores_country_idx ON creator_ranking_scores (country_code)`,
	`CREATE INDEX IF NOT EXISTS creator_ranking_scores_experiment_idx ON creator_ranking_scores (experiment_id)`,
	`CREATE TABLE IF NOT EXISTS creator_metric_snapshots (
		seq        BIGSERIAL,
		user_id    TEXT PRIMARY KEY,
		doc        JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// surfaceColumns whitelists the final-score column per surface.
var surfaceColumns = map[model.Surface]string{
	model.SurfaceDiscovery: "discovery_final",
	model.SurfaceFeed:      "feed_final",
	model.SurfaceSwipe:     "swipe_final",
	model.SurfaceAI:        "ai_final",
}

// PostgresStore implements ConfigStore, AuditLog, ScoreStore and SnapshotStore
// on PostgreSQL. Config documents are stored as JSONB.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres opens and pings a database using the lib/pq driver.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the tables the store needs.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) getDoc(ctx context.Context, key string, dst any) error {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM ranking_config_documents WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) putDoc(ctx context.Context, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO ranking_config_documents (key, doc, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`, key, raw)
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) GetGlobal(ctx context.Context) (model.RankingConfig, error) {
	var cfg model.RankingConfig
	err := s.getDoc(ctx, docGlobal, &cfg)
	return cfg, err
}

func (s *PostgresStore) PutGlobal(ctx context.Context, cfg model.RankingConfig) error {
	return s.putDoc(ctx, docGlobal, cfg)
}

func (s *PostgresStore) GetCountry(ctx context.Context, countryCode string) (model.CountryOverride, error) {
	var o model.CountryOverride
	err := s.getDoc(ctx, docCountryPfx+normCountry(countryCode), &o)
	return o, err
}

func (s *PostgresStore) PutCountry(ctx context.Context, o model.CountryOverride) error {
	o.CountryCode = normCountry(o.CountryCode)
	if o.CountryCode == "" {
		return ErrInvalidInput
	}
	return s.putDoc(ctx, docCountryPfx+o.CountryCode, o)
}

func (s *PostgresStore) ListCountries(ctx context.Context) ([]model.CountryOverride, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM ranking_config_documents WHERE key LIKE $1 ORDER BY key`, docCountryPfx+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list countries: %w", err)
	}
	defer rows.Close()
	out := []model.CountryOverride{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan country: %w", err)
		}
		var o model.CountryOverride
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("failed to decode country: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetSafety(ctx context.Context) (model.SafetyPenaltyConfig, error) {
	var cfg model.SafetyPenaltyConfig
	err := s.getDoc(ctx, docSafety, &cfg)
	return cfg, err
}

func (s *PostgresStore) PutSafety(ctx context.Context, cfg model.SafetyPenaltyConfig) error {
	return s.putDoc(ctx, docSafety, cfg)
}

func (s *PostgresStore) GetTierRouting(ctx context.Context) (model.TierRoutingConfig, error) {
	var cfg model.TierRoutingConfig
	err := s.getDoc(ctx, docTierRouting, &cfg)
	return cfg, err
}

func (s *PostgresStore) PutTierRouting(ctx context.Context, cfg model.TierRoutingConfig) error {
	return s.putDoc(ctx, docTierRouting, cfg)
}

func (s *PostgresStore) GetExperiment(ctx context.Context, id string) (model.Experiment, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM ranking_experiments WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Experiment{}, ErrNotFound
	}
	if err != nil {
		return model.Experiment{}, fmt.Errorf("failed to get experiment: %w", err)
	}
	var e model.Experiment
	if err := json.Unmarshal(raw, &e); err != nil {
		return model.Experiment{}, fmt.Errorf("failed to decode experiment: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) PutExperiment(ctx context.Context, e model.Experiment) error {
	if e.ID == "" {
		return ErrInvalidInput
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode experiment: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO ranking_experiments (id, doc, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`, e.ID, raw)
	if err != nil {
		return fmt.Errorf("failed to put experiment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListExperiments(ctx context.Context) ([]model.Experiment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM ranking_experiments ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()
	out := []model.Experiment{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		var e model.Experiment
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("failed to decode experiment: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Append inserts an audit entry.
func (s *PostgresStore) Append(ctx context.Context, e model.AuditLogEntry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO ranking_audit_log
		(id, action, entity_type, entity_id, admin_id, before, after, reversible, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.Action, e.EntityType, e.EntityID, e.AdminID,
		nullJSON(e.Before), nullJSON(e.After), e.Reversible, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// List returns audit entries newest first.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]model.AuditLogEntry, error) {
	if limit < 1 || offset < 0 {
		return nil, ErrInvalidLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, action, entity_type, entity_id, admin_id, before, after, reversible, created_at
		FROM ranking_audit_log ORDER BY seq DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()
	out := []model.AuditLogEntry{}
	for rows.Next() {
		var e model.AuditLogEntry
		var before, after []byte
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &e.EntityID, &e.AdminID, &before, &after, &e.Reversible, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Before, e.After = before, after
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// Save upserts a creator score.
func (s *PostgresStore) Save(ctx context.Context, rec model.CreatorRankingScore) error {
	if rec.UserID == "" {
		return ErrInvalidInput
	}
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("save", float64(time.Since(start).Microseconds())/1000)
	}()
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode score: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO creator_ranking_scores
		(user_id, country_code, experiment_id, experiment_group, discovery_final, feed_final, swipe_final, ai_final, doc, calculated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			country_code = EXCLUDED.country_code,
			experiment_id = EXCLUDED.experiment_id,
			experiment_group = EXCLUDED.experiment_group,
			discovery_final = EXCLUDED.discovery_final,
			feed_final = EXCLUDED.feed_final,
			swipe_final = EXCLUDED.swipe_final,
			ai_final = EXCLUDED.ai_final,
			doc = EXCLUDED.doc,
			calculated_at = EXCLUDED.calculated_at`,
		rec.UserID, normCountry(rec.CountryCode), rec.ExperimentID, rec.ExperimentGroup,
		rec.Final.Discovery, rec.Final.Feed, rec.Final.Swipe, rec.Final.AI, raw, rec.CalculatedAt)
	if err != nil {
		return fmt.Errorf("failed to save score: %w", err)
	}
	return nil
}

// Get returns the persisted score for userID.
func (s *PostgresStore) Get(ctx context.Context, userID string) (model.CreatorRankingScore, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM creator_ranking_scores WHERE user_id = $1`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CreatorRankingScore{}, ErrNotFound
	}
	if err != nil {
		return model.CreatorRankingScore{}, fmt.Errorf("failed to get score: %w", err)
	}
	var rec model.CreatorRankingScore
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.CreatorRankingScore{}, fmt.Errorf("failed to decode score: %w", err)
	}
	return rec, nil
}

// TopN returns the best n creators on surface.
func (s *PostgresStore) TopN(ctx context.Context, surface model.Surface, countryCode string, n int) ([]types.Entry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	col, ok := surfaceColumns[surface]
	if !ok {
		return nil, fmt.Errorf("%w: surface %q", ErrInvalidInput, surface)
	}
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("top_n", float64(time.Since(start).Microseconds())/1000)
	}()

	var b strings.Builder
	fmt.Fprintf(&b, `SELECT user_id, %s, experiment_id FROM creator_ranking_scores`, col)
	args := []any{}
	if c := normCountry(countryCode); c != "" {
		args = append(args, c)
		b.WriteString(` WHERE country_code = $1`)
	}
	args = append(args, n)
	fmt.Fprintf(&b, ` ORDER BY %s DESC, user_id ASC LIMIT $%d`, col, len(args))

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query top scores: %w", err)
	}
	defer rows.Close()
	out := []types.Entry{}
	for rows.Next() {
		var e types.Entry
		if err := rows.Scan(&e.UserID, &e.Score, &e.ExperimentID); err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	AssignRanks(out)
	return out, nil
}

// CountByExperiment counts persisted scores per group of one experiment.
func (s *PostgresStore) CountByExperiment(ctx context.Context, experimentID string) (model.ExperimentResults, error) {
	res := model.ExperimentResults{ExperimentID: experimentID}
	err := s.db.QueryRowContext(ctx, `SELECT
			COUNT(*) FILTER (WHERE experiment_group = $2),
			COUNT(*) FILTER (WHERE experiment_group = $3)
		FROM creator_ranking_scores WHERE experiment_id = $1`,
		experimentID, model.GroupControl, model.GroupTest).Scan(&res.Control, &res.Test)
	if err != nil {
		return res, fmt.Errorf("failed to count experiment groups: %w", err)
	}
	res.Total = res.Control + res.Test
	return res, nil
}

// Count returns the number of persisted scores.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM creator_ranking_scores`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count scores: %w", err)
	}
	return n, nil
}

// RecordSnapshot upserts the latest metrics for a creator.
func (s *PostgresStore) RecordSnapshot(ctx context.Context, snap model.CreatorSnapshot) error {
	if snap.UserID == "" {
		return ErrInvalidInput
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO creator_metric_snapshots (user_id, doc, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`, snap.UserID, raw)
	if err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}
	return nil
}

// ListCreators returns creator ids in first-seen order.
func (s *PostgresStore) ListCreators(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM creator_metric_snapshots ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list creators: %w", err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan creator: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Metrics returns the latest snapshot for userID.
func (s *PostgresStore) Metrics(ctx context.Context, userID string) (model.CreatorSnapshot, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM creator_metric_snapshots WHERE user_id = $1`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CreatorSnapshot{}, ErrNotFound
	}
	if err != nil {
		return model.CreatorSnapshot{}, fmt.Errorf("failed to get snapshot: %w", err)
	}
	var snap model.CreatorSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return model.CreatorSnapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}
