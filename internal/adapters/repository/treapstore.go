package repository

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/okian/visibility/internal/domain/model"
	"github.com/okian/visibility/internal/domain/types"
	"github.com/okian/visibility/pkg/metrics"
)

// Treap-based, in-memory ScoreStore.
//
// One treap per (surface, country) plus one per surface spanning every
// country. Ordering: final score DESC, then user id ASC. "less" means ranks
// earlier, so in-order traversal yields the ranking from best to worst.

// scoreScale controls fixed-point scaling from float64. Scores are in [0,100].
const scoreScale = 1_000_000_000_000

type scoreFP int64

func toFixedPoint(x float64) scoreFP {
	if math.IsNaN(x) {
		return 0
	}
	scaled := x * scoreScale
	if scaled > float64(math.MaxInt64) {
		return scoreFP(math.MaxInt64)
	}
	if scaled < float64(math.MinInt64) {
		return scoreFP(math.MinInt64)
	}
	return scoreFP(math.Round(scaled))
}

// treap node
type node struct {
	id    string
	score scoreFP
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aScore, aID) should appear before (bScore, bID).
func less(aScore scoreFP, aID string, bScore scoreFP, bID string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

// priority derives a stable pseudo-random heap priority from the id, so tree
// shape does not depend on the score distribution.
func priority(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

func insert(n *node, id string, score scoreFP) *node {
	if n == nil {
		return &node{id: id, score: score, prio: priority(id), size: 1}
	}
	if less(score, id, n.score, n.id) {
		n.left = insert(n.left, id, score)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, score)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, score scoreFP) *node {
	if n == nil {
		return nil
	}
	if score == n.score && id == n.id {
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, score)
		}
	} else if less(score, id, n.score, n.id) {
		n.left = deleteNode(n.left, id, score)
	} else {
		n.right = deleteNode(n.right, id, score)
	}
	fix(n)
	return n
}

// collectTopN appends up to limit ids in rank order.
func collectTopN(n *node, limit int, out *[]*node) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, n)
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

type indexKey struct {
	surface model.Surface
	country string
}

// TreapStore implements ScoreStore in memory.
type TreapStore struct {
	mu    sync.RWMutex
	byID  map[string]model.CreatorRankingScore
	index map[indexKey]*node
}

// NewTreapStore constructs an empty treap store.
func NewTreapStore() *TreapStore {
	return &TreapStore{
		byID:  make(map[string]model.CreatorRankingScore),
		index: make(map[indexKey]*node),
	}
}

func normCountry(c string) string { return strings.ToUpper(strings.TrimSpace(c)) }

// keys lists the indexes a record of country belongs to.
func (s *TreapStore) keys(surface model.Surface, country string) []indexKey {
	if c := normCountry(country); c != "" {
		return []indexKey{{surface, ""}, {surface, c}}
	}
	return []indexKey{{surface, ""}}
}

// Save overwrites the creator's record and re-indexes it in O(log n) expected time.
func (s *TreapStore) Save(_ context.Context, rec model.CreatorRankingScore) error {
	if rec.UserID == "" {
		return ErrInvalidInput
	}
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("save", float64(time.Since(start).Microseconds())/1000)
	}()

	s.mu.Lock()
	if old, ok := s.byID[rec.UserID]; ok {
		for _, surface := range model.Surfaces {
			fp := toFixedPoint(old.Final.Get(surface))
			for _, k := range s.keys(surface, old.CountryCode) {
				s.index[k] = deleteNode(s.index[k], old.UserID, fp)
			}
		}
	}
	s.byID[rec.UserID] = rec
	for _, surface := range model.Surfaces {
		fp := toFixedPoint(rec.Final.Get(surface))
		for _, k := range s.keys(surface, rec.CountryCode) {
			s.index[k] = insert(s.index[k], rec.UserID, fp)
		}
	}
	count := len(s.byID)
	s.mu.Unlock()

	metrics.UpdateTrackedCreators(count)
	return nil
}

// Get returns the persisted record for userID.
func (s *TreapStore) Get(_ context.Context, userID string) (model.CreatorRankingScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[userID]
	if !ok {
		return model.CreatorRankingScore{}, ErrNotFound
	}
	return rec, nil
}

// TopN returns the top n entries for surface in country.
func (s *TreapStore) TopN(_ context.Context, surface model.Surface, countryCode string, n int) ([]types.Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("top_n", float64(time.Since(start).Microseconds())/1000)
	}()
	if n < 1 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]*node, 0, min(n, len(s.byID)))
	collectTopN(s.index[indexKey{surface, normCountry(countryCode)}], n, &nodes)

	out := make([]types.Entry, 0, len(nodes))
	for _, nd := range nodes {
		rec := s.byID[nd.id]
		out = append(out, types.Entry{
			UserID:       nd.id,
			Score:        rec.Final.Get(surface),
			ExperimentID: rec.ExperimentID,
		})
	}
	AssignRanks(out)
	return out, nil
}

// CountByExperiment counts the test and control populations of an experiment.
func (s *TreapStore) CountByExperiment(_ context.Context, experimentID string) (model.ExperimentResults, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := model.ExperimentResults{ExperimentID: experimentID}
	for _, rec := range s.byID {
		if rec.ExperimentID != experimentID {
			continue
		}
		switch rec.ExperimentGroup {
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
func (s *TreapStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}

// AssignRanks assigns dense ranks to entries already sorted by score desc.
// Entries with the same score share a rank.
func AssignRanks(entries []types.Entry) {
	rank := 0
	for i := range entries {
		if i == 0 || entries[i].Score != entries[i-1].Score {
			rank++
		}
		entries[i].Rank = rank
	}
}
