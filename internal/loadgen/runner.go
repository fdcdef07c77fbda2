package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/visibility/internal/domain/model"
	"github.com/okian/visibility/internal/domain/types"
	"github.com/okian/visibility/pkg/logger"
)

const (
	directoryPermission = 0o750
	settlePollInterval  = 200 * time.Millisecond
)

// ErrVerification reports a listing that disagrees with the creator scores.
var ErrVerification = errors.New("verification failed")

type metricsBody struct {
	CountryCode string               `json:"country_code"`
	Tier        model.Tier           `json:"tier"`
	Metrics     model.RankingMetrics `json:"metrics"`
}

// Run executes a complete load run against cfg.BaseURL.
func Run(ctx context.Context, cfg *Config, log logger.Logger) (*Stats, error) {
	stats := &Stats{StartTime: time.Now(), TopEntries: make(map[model.Surface]int)}
	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)

	log.Info(ctx, "starting load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("creators", cfg.Creators),
		logger.Int("workers", cfg.Workers),
		logger.String("mode", cfg.Mode),
		logger.Int("topN", cfg.TopN),
	)

	if err := client.getJSON(ctx, "/stats", &types.Stats{}); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	creators := newGenerator(cfg.Seed, cfg.Countries).generateCreators(cfg.Creators)
	stats.CreatorsGenerated = len(creators)

	if err := submit(ctx, cfg, client, creators, stats, log); err != nil {
		return stats, fmt.Errorf("submission failed: %w", err)
	}
	if cfg.Mode == ModeAsync {
		if err := settle(ctx, cfg, client, log); err != nil {
			return stats, fmt.Errorf("waiting for queue: %w", err)
		}
	}

	scores, err := retrieveScores(ctx, cfg, client, creators, log)
	if err != nil {
		return stats, fmt.Errorf("score retrieval failed: %w", err)
	}
	stats.ScoresRetrieved = len(scores)

	var verr error
	for _, surface := range model.Surfaces {
		var top []types.Entry
		path := fmt.Sprintf("/v1/surfaces/%s/top?limit=%d", surface, cfg.TopN)
		if err := client.getJSON(ctx, path, &top); err != nil {
			return stats, fmt.Errorf("top %s: %w", surface, err)
		}
		stats.TopEntries[surface] = len(top)
		if err := verifyTop(surface, top, scores); err != nil {
			log.Warn(ctx, "listing mismatch", logger.String("surface", string(surface)), logger.Error(err))
			verr = errors.Join(verr, err)
		} else if cfg.Verbose {
			displayTop(ctx, log, surface, top)
		}
	}

	if cfg.OutputFile != "" {
		if err := saveCreators(cfg.OutputFile, creators); err != nil {
			log.Warn(ctx, "failed to save creators to file", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, log, stats)
	return stats, verr
}

// submit sends every creator through the configured endpoint. Backpressure
// and validation failures are counted, not fatal.
func submit(ctx context.Context, cfg *Config, client *HTTPClient, creators []Creator, stats *Stats, log logger.Logger) error {
	var accepted, rejected, failed atomic.Int64
	endpoint := "score"
	if cfg.Mode == ModeAsync {
		endpoint = "metrics"
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, c := range creators {
		g.Go(func() error {
			body := metricsBody{CountryCode: c.CountryCode, Tier: c.Tier, Metrics: c.Metrics}
			err := client.postJSON(gctx, "/v1/creators/"+c.UserID+"/"+endpoint, body, nil)
			var se *statusError
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.As(err, &se) && se.Code < http.StatusInternalServerError:
				rejected.Add(1)
				if cfg.Verbose {
					log.Warn(gctx, "creator rejected", logger.String("user_id", c.UserID), logger.Error(err))
				}
			default:
				failed.Add(1)
				if cfg.Verbose {
					log.Warn(gctx, "creator submission failed", logger.String("user_id", c.UserID), logger.Error(err))
				}
			}
			return gctx.Err()
		})
	}
	err := g.Wait()

	stats.Accepted = int(accepted.Load())
	stats.Rejected = int(rejected.Load())
	stats.Failed = int(failed.Load())
	stats.Submitted = stats.Accepted + stats.Rejected + stats.Failed
	log.Info(ctx, "submission completed",
		logger.Int("accepted", stats.Accepted),
		logger.Int("rejected", stats.Rejected),
		logger.Int("failed", stats.Failed),
	)
	return err
}

// settle polls /stats until the queue is empty.
func settle(ctx context.Context, cfg *Config, client *HTTPClient, log logger.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Settle)
	defer cancel()
	ticker := time.NewTicker(settlePollInterval)
	defer ticker.Stop()
	for {
		var st types.Stats
		if err := client.getJSON(ctx, "/stats", &st); err != nil {
			return err
		}
		if st.QueueDepth == 0 {
			log.Info(ctx, "queue drained", logger.Int64("recalculations", st.Recalculations))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// retrieveScores reads back every creator that the service knows.
func retrieveScores(ctx context.Context, cfg *Config, client *HTTPClient, creators []Creator, log logger.Logger) (map[string]model.CreatorRankingScore, error) {
	var (
		mu      sync.Mutex
		out     = make(map[string]model.CreatorRankingScore, len(creators))
		missing atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, c := range creators {
		g.Go(func() error {
			var rec model.CreatorRankingScore
			err := client.getJSON(gctx, "/v1/creators/"+c.UserID+"/score", &rec)
			var se *statusError
			switch {
			case err == nil:
				mu.Lock()
				out[c.UserID] = rec
				mu.Unlock()
			case errors.As(err, &se) && se.Code == http.StatusNotFound:
				missing.Add(1)
			default:
				return fmt.Errorf("creator %s: %w", c.UserID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Info(ctx, "scores retrieved", logger.Int("found", len(out)), logger.Int64("missing", missing.Load()))
	return out, nil
}

// saveCreators writes the generated creators as a JSON array.
func saveCreators(filename string, creators []Creator) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(creators, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal creators: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.Submitted) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("creatorsGenerated", stats.CreatorsGenerated),
		logger.Int("submitted", stats.Submitted),
		logger.Int("accepted", stats.Accepted),
		logger.Int("rejected", stats.Rejected),
		logger.Int("failed", stats.Failed),
		logger.Int("scoresRetrieved", stats.ScoresRetrieved),
		logger.Duration("duration", stats.Duration),
		logger.Float64("submissionsPerSecond", perSecond),
	)
}
