package model

import "time"

// SurfaceScores holds one 0-100 value per surface.
type SurfaceScores struct {
	Discovery float64 `json:"discovery"`
	Feed      float64 `json:"feed"`
	Swipe     float64 `json:"swipe"`
	AI        float64 `json:"ai"`
}

// Get returns the value for surface s, or 0 for an unknown surface.
func (s SurfaceScores) Get(surface Surface) float64 {
	switch surface {
	case SurfaceDiscovery:
		return s.Discovery
	case SurfaceFeed:
		return s.Feed
	case SurfaceSwipe:
		return s.Swipe
	case SurfaceAI:
		return s.AI
	default:
		return 0
	}
}

// Map applies f to every surface value.
func (s SurfaceScores) Map(f func(float64) float64) SurfaceScores {
	return SurfaceScores{
		Discovery: f(s.Discovery),
		Feed:      f(s.Feed),
		Swipe:     f(s.Swipe),
		AI:        f(s.AI),
	}
}

// SafetyPenalty is the per-dimension multiplier breakdown. Every value is in [0,1].
type SafetyPenalty struct {
	Refund          float64 `json:"refund"`
	Mismatch        float64 `json:"mismatch"`
	PanicUsage      float64 `json:"panic_usage"`
	Blocking        float64 `json:"blocking"`
	ReportFrequency float64 `json:"report_frequency"`
	// Multiplier is the product of the dimensions, after auto-suppression.
	Multiplier float64 `json:"multiplier"`
}

// CreatorRankingScore is the persisted result of one recalculation. There is
// one record per creator, overwritten on each recalculation.
type CreatorRankingScore struct {
	UserID          string        `json:"user_id"`
	Raw             SurfaceScores `json:"raw"`
	Penalty         SafetyPenalty `json:"penalty"`
	Final           SurfaceScores `json:"final"`
	Decayed         SurfaceScores `json:"decayed"`
	CalculatedAt    time.Time     `json:"calculated_at"`
	CountryCode     string        `json:"country_code"`
	Tier            Tier          `json:"tier"`
	ExperimentID    string        `json:"experiment_id,omitempty"`
	ExperimentGroup string        `json:"experiment_group,omitempty"`
}
