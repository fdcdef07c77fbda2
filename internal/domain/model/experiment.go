package model

import "time"

// CountryOverride is a partial config applied over the global config while enabled.
type CountryOverride struct {
	CountryCode string             `json:"country_code"`
	Enabled     bool               `json:"enabled"`
	Config      RankingConfigPatch `json:"config"`
	Notes       string             `json:"notes,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// ExcludedFromTest lists the policy areas an experiment promises not to touch.
// All four must be true for an experiment to exist.
type ExcludedFromTest struct {
	RevenueChanges      bool `json:"revenue_changes"`
	PayoutChanges       bool `json:"payout_changes"`
	RefundPolicyChanges bool `json:"refund_policy_changes"`
	SafetyChanges       bool `json:"safety_changes"`
}

// AllExcluded reports whether every flag is set.
func (e ExcludedFromTest) AllExcluded() bool {
	return e.RevenueChanges && e.PayoutChanges && e.RefundPolicyChanges && e.SafetyChanges
}

// Experiment is an A/B test over ranking weights.
type Experiment struct {
	ID                  string             `json:"id"`
	Name                string             `json:"name"`
	Description         string             `json:"description,omitempty"`
	Enabled             bool               `json:"enabled"`
	TestGroupPercentage float64            `json:"test_group_percentage"`
	ControlConfig       RankingConfigPatch `json:"control_config"`
	TestConfig          RankingConfigPatch `json:"test_config"`
	TargetSegments      []string           `json:"target_segments,omitempty"`
	ExcludedFromTest    ExcludedFromTest   `json:"excluded_from_test"`
	StartDate           time.Time          `json:"start_date"`
	EndDate             time.Time          `json:"end_date"`
	CreatedBy           string             `json:"created_by"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// ActiveAt reports whether the experiment is enabled and now is inside [start, end).
func (e Experiment) ActiveAt(now time.Time) bool {
	return e.Enabled && !now.Before(e.StartDate) && e.EndDate.After(now)
}

// Assignment records which experiment, if any, applies to a scoring call.
type Assignment struct {
	ExperimentID string              `json:"experiment_id,omitempty"`
	Group        string              `json:"group,omitempty"`
	Config       *RankingConfigPatch `json:"-"`
}

// InTest reports whether the assignment carries a test config.
func (a Assignment) InTest() bool {
	return a.Group == GroupTest && a.Config != nil
}

// ExperimentResults are population counts per group read from persisted scores.
type ExperimentResults struct {
	ExperimentID string `json:"experiment_id"`
	Control      int    `json:"control"`
	Test         int    `json:"test"`
	Total        int    `json:"total"`
}

// Subject identifies who is being scored, for experiment targeting.
type Subject struct {
	UserID      string `json:"user_id"`
	CountryCode string `json:"country_code,omitempty"`
	Tier        Tier   `json:"tier,omitempty"`
}
