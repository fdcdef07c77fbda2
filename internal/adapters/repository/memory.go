package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/okian/visibility/internal/domain/model"
)

// MemoryConfigStore implements ConfigStore in memory.
type MemoryConfigStore struct {
	mu          sync.RWMutex
	global      *model.RankingConfig
	safety      *model.SafetyPenaltyConfig
	routing     *model.TierRoutingConfig
	countries   map[string]model.CountryOverride
	experiments map[string]model.Experiment
	order       []string // experiment ids in creation order
}

// NewMemoryConfigStore creates an empty in-memory config store.
func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{
		countries:   make(map[string]model.CountryOverride),
		experiments: make(map[string]model.Experiment),
	}
}

func (s *MemoryConfigStore) GetGlobal(_ context.Context) (model.RankingConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.global == nil {
		return model.RankingConfig{}, ErrNotFound
	}
	return *s.global, nil
}

func (s *MemoryConfigStore) PutGlobal(_ context.Context, cfg model.RankingConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = &cfg
	return nil
}

func (s *MemoryConfigStore) GetCountry(_ context.Context, countryCode string) (model.CountryOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.countries[normCountry(countryCode)]
	if !ok {
		return model.CountryOverride{}, ErrNotFound
	}
	return o, nil
}

func (s *MemoryConfigStore) PutCountry(_ context.Context, o model.CountryOverride) error {
	code := normCountry(o.CountryCode)
	if code == "" {
		return ErrInvalidInput
	}
	o.CountryCode = code
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countries[code] = o
	return nil
}

// ListCountries returns overrides ordered by country code.
func (s *MemoryConfigStore) ListCountries(_ context.Context) ([]model.CountryOverride, error) {
	s.mu.RLock()
	out := make([]model.CountryOverride, 0, len(s.countries))
	for _, o := range s.countries {
		out = append(out, o)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CountryCode < out[j].CountryCode })
	return out, nil
}

func (s *MemoryConfigStore) GetSafety(_ context.Context) (model.SafetyPenaltyConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.safety == nil {
		return model.SafetyPenaltyConfig{}, ErrNotFound
	}
	return *s.safety, nil
}

func (s *MemoryConfigStore) PutSafety(_ context.Context, cfg model.SafetyPenaltyConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.safety = &cfg
	return nil
}

func (s *MemoryConfigStore) GetTierRouting(_ context.Context) (model.TierRoutingConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.routing == nil {
		return model.TierRoutingConfig{}, ErrNotFound
	}
	return *s.routing, nil
}

func (s *MemoryConfigStore) PutTierRouting(_ context.Context, cfg model.TierRoutingConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routing = &cfg
	return nil
}

func (s *MemoryConfigStore) GetExperiment(_ context.Context, id string) (model.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.experiments[id]
	if !ok {
		return model.Experiment{}, ErrNotFound
	}
	return cloneExperiment(e), nil
}

func (s *MemoryConfigStore) PutExperiment(_ context.Context, e model.Experiment) error {
	if e.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[e.ID]; !ok {
		s.order = append(s.order, e.ID)
	}
	s.experiments[e.ID] = cloneExperiment(e)
	return nil
}

func (s *MemoryConfigStore) ListExperiments(_ context.Context) ([]model.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Experiment, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneExperiment(s.experiments[id]))
	}
	return out, nil
}

func cloneExperiment(e model.Experiment) model.Experiment {
	if e.TargetSegments != nil {
		e.TargetSegments = append([]string(nil), e.TargetSegments...)
	}
	return e
}

// MemoryAuditLog implements AuditLog in memory.
type MemoryAuditLog struct {
	mu      sync.RWMutex
	entries []model.AuditLogEntry
}

// NewMemoryAuditLog creates an empty audit log.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

// Append adds an entry to the log.
func (l *MemoryAuditLog) Append(_ context.Context, e model.AuditLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

// List returns up to limit entries newest first, skipping offset entries.
func (l *MemoryAuditLog) List(_ context.Context, limit, offset int) ([]model.AuditLogEntry, error) {
	if limit < 1 || offset < 0 {
		return nil, ErrInvalidLimit
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.AuditLogEntry, 0, min(limit, len(l.entries)))
	for i := len(l.entries) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}

// MemorySnapshotStore implements SnapshotStore in memory.
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	byID  map[string]model.CreatorSnapshot
	order []string
}

// NewMemorySnapshotStore creates an empty snapshot store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{byID: make(map[string]model.CreatorSnapshot)}
}

// RecordSnapshot stores the latest metrics for a creator.
func (s *MemorySnapshotStore) RecordSnapshot(_ context.Context, snap model.CreatorSnapshot) error {
	if snap.UserID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[snap.UserID]; !ok {
		s.order = append(s.order, snap.UserID)
	}
	s.byID[snap.UserID] = snap
	return nil
}

// ListCreators returns creator ids in first-seen order.
func (s *MemorySnapshotStore) ListCreators(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

// Metrics returns the latest snapshot for userID.
func (s *MemorySnapshotStore) Metrics(_ context.Context, userID string) (model.CreatorSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.byID[userID]
	if !ok {
		return model.CreatorSnapshot{}, ErrNotFound
	}
	return snap, nil
}
