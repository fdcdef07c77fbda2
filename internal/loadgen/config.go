// Package loadgen drives a running ranking service with synthetic creators
// and checks that its surface listings agree with the scores it returned.
package loadgen

import (
	"time"

	"github.com/okian/visibility/internal/domain/model"
)

// Submission modes.
const (
	// ModeSync scores every creator with POST /v1/creators/{id}/score.
	ModeSync = "sync"
	// ModeAsync queues metrics with POST /v1/creators/{id}/metrics and waits
	// for the queue to drain.
	ModeAsync = "async"
)

// Config holds configuration for a load run.
type Config struct {
	BaseURL    string        // Base URL of the service
	Creators   int           // Number of creators to generate
	TopN       int           // Number of top entries to fetch per surface
	Workers    int           // Number of concurrent workers
	Timeout    time.Duration // HTTP request timeout
	Mode       string        // sync or async
	Countries  []string      // Countries creators are spread over
	Seed       uint64        // Seed for the metrics generator
	Settle     time.Duration // Max wait for the queue to drain in async mode
	OutputFile string        // Output file for generated creators
	Verbose    bool          // Enable verbose logging
}

// Creator is one synthetic creator and the metrics submitted for it.
type Creator struct {
	UserID      string               `json:"user_id"`
	CountryCode string               `json:"country_code"`
	Tier        model.Tier           `json:"tier"`
	Metrics     model.RankingMetrics `json:"metrics"`
}

// Stats holds run statistics.
type Stats struct {
	CreatorsGenerated int
	Submitted         int
	Accepted          int
	Rejected          int
	Failed            int
	ScoresRetrieved   int
	TopEntries        map[model.Surface]int
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}
