package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/visibility/internal/domain/model"
	"github.com/okian/visibility/internal/domain/types"
	"github.com/okian/visibility/pkg/metrics"
)

const (
	defaultRedisPrefix = "visibility"
	maxSaveRetries     = 32
)

// RedisOption configures a RedisScoreStore.
type RedisOption func(*RedisScoreStore)

// WithKeyPrefix namespaces every key the store writes.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisScoreStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// RedisScoreStore implements ScoreStore on redis.
//
// Layout:
//
//	{prefix}:score:{user}            JSON record
//	{prefix}:top:{surface}:{country} sorted set of users, scored -final
//	{prefix}:top:{surface}:*         same, across countries
//	{prefix}:exp:{experiment}        hash user -> group
//	{prefix}:creators                set of users
//
// Scores are negated so ZRANGE yields final desc with ties by user id asc.
type RedisScoreStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisScoreStore creates a store on client.
func NewRedisScoreStore(client redis.UniversalClient, opts ...RedisOption) *RedisScoreStore {
	s := &RedisScoreStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisScoreStore) scoreKey(userID string) string {
	return fmt.Sprintf("%s:score:%s", s.prefix, userID)
}

func (s *RedisScoreStore) topKey(surface model.Surface, country string) string {
	if country == "" {
		country = "*"
	}
	return fmt.Sprintf("%s:top:%s:%s", s.prefix, surface, country)
}

func (s *RedisScoreStore) expKey(id string) string {
	return fmt.Sprintf("%s:exp:%s", s.prefix, id)
}

func (s *RedisScoreStore) creatorsKey() string {
	return s.prefix + ":creators"
}

// Save overwrites the creator's record and its sorted-set memberships in one
// optimistic transaction on the record key.
func (s *RedisScoreStore) Save(ctx context.Context, rec model.CreatorRankingScore) error {
	if rec.UserID == "" {
		return ErrInvalidInput
	}
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("save", float64(time.Since(start).Microseconds())/1000)
	}()
	rec.CountryCode = normCountry(rec.CountryCode)

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode score: %w", err)
	}

	key := s.scoreKey(rec.UserID)
	save := func(tx *redis.Tx) error {
		old, hasOld, err := decodeScore(tx.Get(ctx, key))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if hasOld {
				if c := normCountry(old.CountryCode); c != "" && c != rec.CountryCode {
					for _, surface := range model.Surfaces {
						pipe.ZRem(ctx, s.topKey(surface, c), rec.UserID)
					}
				}
				if old.ExperimentID != "" && old.ExperimentID != rec.ExperimentID {
					pipe.HDel(ctx, s.expKey(old.ExperimentID), rec.UserID)
				}
			}
			pipe.Set(ctx, key, raw, 0)
			pipe.SAdd(ctx, s.creatorsKey(), rec.UserID)
			for _, surface := range model.Surfaces {
				z := redis.Z{Score: -rec.Final.Get(surface), Member: rec.UserID}
				pipe.ZAdd(ctx, s.topKey(surface, ""), z)
				if rec.CountryCode != "" {
					pipe.ZAdd(ctx, s.topKey(surface, rec.CountryCode), z)
				}
			}
			if rec.ExperimentID != "" {
				pipe.HSet(ctx, s.expKey(rec.ExperimentID), rec.UserID, rec.ExperimentGroup)
			}
			return nil
		})
		return err
	}

	// The previous record decides which memberships to drop, so the read and
	// the write run under WATCH and are retried when another save wins.
	for range maxSaveRetries {
		err = s.client.Watch(ctx, save, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("failed to save score: %w", err)
	}
	return nil
}

func decodeScore(cmd *redis.StringCmd) (model.CreatorRankingScore, bool, error) {
	raw, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return model.CreatorRankingScore{}, false, nil
	}
	if err != nil {
		return model.CreatorRankingScore{}, false, fmt.Errorf("failed to get score: %w", err)
	}
	var rec model.CreatorRankingScore
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.CreatorRankingScore{}, false, fmt.Errorf("failed to decode score: %w", err)
	}
	return rec, true, nil
}

// Get returns the persisted record for userID.
func (s *RedisScoreStore) Get(ctx context.Context, userID string) (model.CreatorRankingScore, error) {
	rec, ok, err := decodeScore(s.client.Get(ctx, s.scoreKey(userID)))
	if err != nil {
		return model.CreatorRankingScore{}, err
	}
	if !ok {
		return model.CreatorRankingScore{}, ErrNotFound
	}
	return rec, nil
}

// TopN reads the best n members of the surface/country sorted set.
func (s *RedisScoreStore) TopN(ctx context.Context, surface model.Surface, countryCode string, n int) ([]types.Entry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("top_n", float64(time.Since(start).Microseconds())/1000)
	}()

	zs, err := s.client.ZRangeWithScores(ctx, s.topKey(surface, normCountry(countryCode)), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read top scores: %w", err)
	}
	out := make([]types.Entry, 0, len(zs))
	for _, z := range zs {
		id, _ := z.Member.(string)
		out = append(out, types.Entry{UserID: id, Score: -z.Score})
	}
	// Experiment ids live on the records.
	for i := range out {
		if rec, err := s.Get(ctx, out[i].UserID); err == nil {
			out[i].ExperimentID = rec.ExperimentID
		}
	}
	AssignRanks(out)
	return out, nil
}

// CountByExperiment counts test and control members of an experiment.
func (s *RedisScoreStore) CountByExperiment(ctx context.Context, experimentID string) (model.ExperimentResults, error) {
	res := model.ExperimentResults{ExperimentID: experimentID}
	groups, err := s.client.HVals(ctx, s.expKey(experimentID)).Result()
	if err != nil {
		return res, fmt.Errorf("failed to count experiment groups: %w", err)
	}
	for _, g := range groups {
		switch g {
		case model.GroupTest:
			res.Test++
		case model.GroupControl:
			res.Control++
		}
	}
	res.Total = res.Test + res.Control
	return res, nil
}

// Count returns the number of creators with a persisted score.
func (s *RedisScoreStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, s.creatorsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count scores: %w", err)
	}
	return int(n), nil
}
