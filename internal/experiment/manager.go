// Package experiment manages the lifecycle of ranking A/B tests and assigns
// users to their groups.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/okian/visibility/internal/adapters/repository"
	"github.com/okian/visibility/internal/audit"
	"github.com/okian/visibility/internal/domain/bucketing"
	"github.com/okian/visibility/internal/domain/model"
	"github.com/okian/visibility/pkg/logger"
	"github.com/okian/visibility/pkg/metrics"
)

// Draft is the admin input for a new experiment. ExcludedFromTest is a
// pointer so that an omitted record can be told apart from an all-false one.
type Draft struct {
	Name                string                   `json:"name" validate:"required,max=200"`
	Description         string                   `json:"description,omitempty" validate:"max=2000"`
	Enabled             bool                     `json:"enabled"`
	TestGroupPercentage float64                  `json:"test_group_percentage"`
	ControlConfig       model.RankingConfigPatch `json:"control_config"`
	TestConfig          model.RankingConfigPatch `json:"test_config"`
	TargetSegments      []string                 `json:"target_segments,omitempty"`
	ExcludedFromTest    *model.ExcludedFromTest  `json:"excluded_from_test"`
	StartDate           time.Time                `json:"start_date"`
	EndDate             time.Time                `json:"end_date"`
}

// Update carries the fields an admin may change. Nil fields are kept.
type Update struct {
	Name                *string                   `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description         *string                   `json:"description,omitempty" validate:"omitempty,max=2000"`
	Enabled             *bool                     `json:"enabled,omitempty"`
	TestGroupPercentage *float64                  `json:"test_group_percentage,omitempty"`
	ControlConfig       *model.RankingConfigPatch `json:"control_config,omitempty"`
	TestConfig          *model.RankingConfigPatch `json:"test_config,omitempty"`
	TargetSegments      *[]string                 `json:"target_segments,omitempty"`
	ExcludedFromTest    *model.ExcludedFromTest   `json:"excluded_from_test,omitempty"`
	StartDate           *time.Time                `json:"start_date,omitempty"`
	EndDate             *time.Time                `json:"end_date,omitempty"`
}

// Counter reads group populations from persisted scores.
type Counter interface {
	CountByExperiment(ctx context.Context, experimentID string) (model.ExperimentResults, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithValidator shares a validator instance.
func WithValidator(v *validator.Validate) Option {
	return func(m *Manager) {
		if v != nil {
			m.validate = v
		}
	}
}

// Manager is the lifecycle and validation authority for experiments.
type Manager struct {
	store    repository.ConfigStore
	counter  Counter
	audit    *audit.Recorder
	clock    clock.Clock
	log      logger.Logger
	validate *validator.Validate
}

// New creates a Manager. counter may be nil, in which case GetResults
// reports zero populations.
func New(store repository.ConfigStore, auditLog repository.AuditLog, counter Counter, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		counter:  counter,
		clock:    clock.New(),
		log:      logger.Nop(),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.audit = audit.NewRecorder(auditLog, m.clock, m.log)
	return m
}

// Create validates d and stores it as a new experiment.
func (m *Manager) Create(ctx context.Context, d Draft, adminID string) (string, error) {
	if strings.TrimSpace(adminID) == "" {
		return "", ErrMissingAdmin
	}
	if d.ExcludedFromTest == nil || !d.ExcludedFromTest.AllExcluded() {
		return "", ErrExclusionsRequired
	}
	if err := m.validate.Struct(&d); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidExperiment, err)
	}

	now := m.clock.Now().UTC()
	e := model.Experiment{
		ID:                  uuid.NewString(),
		Name:                strings.TrimSpace(d.Name),
		Description:         d.Description,
		Enabled:             d.Enabled,
		TestGroupPercentage: d.TestGroupPercentage,
		ControlConfig:       d.ControlConfig,
		TestConfig:          d.TestConfig,
		TargetSegments:      d.TargetSegments,
		ExcludedFromTest:    *d.ExcludedFromTest,
		StartDate:           d.StartDate.UTC(),
		EndDate:             d.EndDate.UTC(),
		CreatedBy:           adminID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := m.check(&e); err != nil {
		return "", err
	}

	if err := m.store.PutExperiment(ctx, e); err != nil {
		return "", fmt.Errorf("store experiment: %w", err)
	}
	if err := m.audit.Record(ctx, model.ActionCreateTest, model.EntityExperiment, e.ID, adminID, nil, e); err != nil {
		return e.ID, err
	}
	m.log.Info(ctx, "experiment created",
		logger.String("experiment_id", e.ID),
		logger.String("name", e.Name),
		logger.Float64("test_group_percentage", e.TestGroupPercentage),
	)
	return e.ID, nil
}

// Update applies u to experiment id and re-validates the merged record.
func (m *Manager) Update(ctx context.Context, id string, u Update, adminID string) (model.Experiment, error) {
	if strings.TrimSpace(adminID) == "" {
		return model.Experiment{}, ErrMissingAdmin
	}
	if err := m.validate.Struct(&u); err != nil {
		return model.Experiment{}, fmt.Errorf("%w: %v", ErrInvalidExperiment, err)
	}
	before, err := m.Get(ctx, id)
	if err != nil {
		return model.Experiment{}, err
	}

	after := before
	if u.Name != nil {
		after.Name = strings.TrimSpace(*u.Name)
	}
	if u.Description != nil {
		after.Description = *u.Description
	}
	if u.Enabled != nil {
		after.Enabled = *u.Enabled
	}
	if u.TestGroupPercentage != nil {
		after.TestGroupPercentage = *u.TestGroupPercentage
	}
	if u.ControlConfig != nil {
		after.ControlConfig = *u.ControlConfig
	}
	if u.TestConfig != nil {
		after.TestConfig = *u.TestConfig
	}
	if u.TargetSegments != nil {
		after.TargetSegments = *u.TargetSegments
	}
	if u.ExcludedFromTest != nil {
		after.ExcludedFromTest = *u.ExcludedFromTest
	}
	if u.StartDate != nil {
		after.StartDate = u.StartDate.UTC()
	}
	if u.EndDate != nil {
		after.EndDate = u.EndDate.UTC()
	}
	if !after.ExcludedFromTest.AllExcluded() {
		return model.Experiment{}, ErrExclusionsRequired
	}
	if err := m.check(&after); err != nil {
		return model.Experiment{}, err
	}
	after.UpdatedAt = m.clock.Now().UTC()

	if err := m.store.PutExperiment(ctx, after); err != nil {
		return model.Experiment{}, fmt.Errorf("store experiment: %w", err)
	}
	if err := m.audit.Record(ctx, model.ActionUpdateTest, model.EntityExperiment, id, adminID, before, after); err != nil {
		return after, err
	}
	return after, nil
}

// Disable turns the experiment off. A running window is closed at now; a
// window that has not started or has already ended is kept so the record
// stays valid for later updates.
func (m *Manager) Disable(ctx context.Context, id, adminID string) (model.Experiment, error) {
	if strings.TrimSpace(adminID) == "" {
		return model.Experiment{}, ErrMissingAdmin
	}
	before, err := m.Get(ctx, id)
	if err != nil {
		return model.Experiment{}, err
	}
	now := m.clock.Now().UTC()
	after := before
	after.Enabled = false
	if now.After(after.StartDate) && now.Before(after.EndDate) {
		after.EndDate = now
	}
	after.UpdatedAt = now

	if err := m.store.PutExperiment(ctx, after); err != nil {
		return model.Experiment{}, fmt.Errorf("store experiment: %w", err)
	}
	if err := m.audit.Record(ctx, model.ActionDisableTest, model.EntityExperiment, id, adminID, before, after); err != nil {
		return after, err
	}
	m.log.Info(ctx, "experiment disabled", logger.String("experiment_id", id))
	return after, nil
}

// Get returns one experiment.
func (m *Manager) Get(ctx context.Context, id string) (model.Experiment, error) {
	e, err := m.store.GetExperiment(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Experiment{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Experiment{}, fmt.Errorf("load experiment %s: %w", id, err)
	}
	return e, nil
}

// List returns every experiment in creation order.
func (m *Manager) List(ctx context.Context) ([]model.Experiment, error) {
	all, err := m.store.ListExperiments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	return all, nil
}

// GetActive returns enabled experiments whose window contains now, in
// creation order.
func (m *Manager) GetActive(ctx context.Context) ([]model.Experiment, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	active := make([]model.Experiment, 0, len(all))
	for _, e := range all {
		if e.ActiveAt(now) {
			active = append(active, e)
		}
	}
	metrics.UpdateActiveExperiments(len(active))
	return active, nil
}

// GetResults returns the control and test populations of experiment id.
func (m *Manager) GetResults(ctx context.Context, id string) (model.ExperimentResults, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return model.ExperimentResults{}, err
	}
	if m.counter == nil {
		return model.ExperimentResults{ExperimentID: id}, nil
	}
	res, err := m.counter.CountByExperiment(ctx, id)
	if err != nil {
		return model.ExperimentResults{}, fmt.Errorf("count experiment %s: %w", id, err)
	}
	res.ExperimentID = id
	return res, nil
}

// Assign picks the experiment for s. The first active, eligible experiment
// that buckets s into its test group wins. Otherwise s is recorded as
// control of the first eligible experiment, without a config.
func (m *Manager) Assign(ctx context.Context, s model.Subject) (model.Assignment, error) {
	active, err := m.GetActive(ctx)
	if err != nil {
		return model.Assignment{}, err
	}
	var control model.Assignment
	for i := range active {
		e := &active[i]
		if !eligible(e.TargetSegments, s) {
			continue
		}
		if bucketing.InTestGroup(s.UserID, e.ID, e.TestGroupPercentage) {
			cfg := e.TestConfig
			return model.Assignment{ExperimentID: e.ID, Group: model.GroupTest, Config: &cfg}, nil
		}
		if control.ExperimentID == "" {
			control = model.Assignment{ExperimentID: e.ID, Group: model.GroupControl}
		}
	}
	return control, nil
}

// check validates the invariants shared by create and update and
// canonicalizes segments in place.
func (m *Manager) check(e *model.Experiment) error {
	if e.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidExperiment)
	}
	if e.TestGroupPercentage < 0 || e.TestGroupPercentage > 100 {
		return fmt.Errorf("%w: got %v", ErrInvalidPercentage, e.TestGroupPercentage)
	}
	if !e.StartDate.Before(e.EndDate) {
		return ErrInvalidWindow
	}
	if err := m.validate.Struct(&e.ControlConfig); err != nil {
		return fmt.Errorf("%w: control config: %v", ErrInvalidExperiment, err)
	}
	if err := m.validate.Struct(&e.TestConfig); err != nil {
		return fmt.Errorf("%w: test config: %v", ErrInvalidExperiment, err)
	}
	segs, err := m.normalizeSegments(e.TargetSegments)
	if err != nil {
		return err
	}
	e.TargetSegments = segs
	return nil
}
