// Package types contains common types used across the application
package types

// Entry represents one row of a top-N surface listing
type Entry struct {
	Rank         int     `json:"rank"`
	UserID       string  `json:"user_id"`
	Score        float64 `json:"score"`
	ExperimentID string  `json:"experiment_id,omitempty"`
}

// Stats summarises the running service
type Stats struct {
	Started          bool  `json:"started"`
	Creators         int   `json:"creators"`
	QueueDepth       int   `json:"queue_depth"`
	QueueCapacity    int   `json:"queue_capacity"`
	Workers          int   `json:"workers"`
	Recalculations   int64 `json:"recalculations"`
	RecalcErrors     int64 `json:"recalc_errors"`
	LastSweepAtUnix  int64 `json:"last_sweep_at_unix,omitempty"`
	LastSweepErrors  int   `json:"last_sweep_errors"`
	LastSweepTotal   int   `json:"last_sweep_processed"`
	ActiveExperiment int   `json:"active_experiments"`
}
