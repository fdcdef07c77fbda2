package loadgen

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/okian/visibility/internal/domain/model"
	"github.com/okian/visibility/internal/domain/types"
	"github.com/okian/visibility/pkg/logger"
)

// scoreTolerance absorbs the fixed-point rounding of the score index.
const scoreTolerance = 1e-6

// verifyTop checks a surface listing against the scores read per creator:
// entries are ordered by score desc then user id asc, every score matches the
// creator's final score, and the head is the best known creator.
func verifyTop(surface model.Surface, top []types.Entry, scores map[string]model.CreatorRankingScore) error {
	if len(scores) == 0 {
		return nil
	}
	if len(top) == 0 {
		return fmt.Errorf("%w: %s listing is empty", ErrVerification, surface)
	}
	for i, e := range top {
		if i > 0 {
			prev := top[i-1]
			if e.Score > prev.Score+scoreTolerance ||
				(math.Abs(e.Score-prev.Score) <= scoreTolerance && e.UserID < prev.UserID) {
				return fmt.Errorf("%w: %s entry %d out of order", ErrVerification, surface, i)
			}
		}
		rec, ok := scores[e.UserID]
		if !ok {
			continue
		}
		if math.Abs(rec.Final.Get(surface)-e.Score) > scoreTolerance {
			return fmt.Errorf("%w: %s score for %s is %.4f, creator record says %.4f",
				ErrVerification, surface, e.UserID, e.Score, rec.Final.Get(surface))
		}
	}

	best := bestScore(surface, scores)
	if top[0].Score+scoreTolerance < best {
		return fmt.Errorf("%w: %s head scores %.4f but a creator scores %.4f",
			ErrVerification, surface, top[0].Score, best)
	}
	return nil
}

func bestScore(surface model.Surface, scores map[string]model.CreatorRankingScore) float64 {
	best := math.Inf(-1)
	for _, rec := range scores {
		best = math.Max(best, rec.Final.Get(surface))
	}
	return best
}

func displayTop(ctx context.Context, log logger.Logger, surface model.Surface, top []types.Entry) {
	n := min(len(top), 10)
	ordered := append([]types.Entry(nil), top[:n]...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Rank < ordered[j].Rank })
	for _, e := range ordered {
		log.Info(ctx, "top creator",
			logger.String("surface", string(surface)),
			logger.Int("rank", e.Rank),
			logger.String("user_id", e.UserID),
			logger.Float64("score", e.Score),
		)
	}
}
