package model

import "time"

// RankingMetrics is the per-creator input snapshot. Optional fields are nil
// when the upstream collaborator has no data; scoring then uses a default.
type RankingMetrics struct {
	ActivityCount     int     `json:"activity_count" validate:"gte=0"`
	AverageRating     float64 `json:"average_rating" validate:"gte=0,lte=5"`
	TotalEarnings     float64 `json:"total_earnings" validate:"gte=0"`
	RefundCount       int     `json:"refund_count" validate:"gte=0"`
	MismatchCount     int     `json:"mismatch_count" validate:"gte=0"`
	TotalTransactions int     `json:"total_transactions" validate:"gte=0"`

	Distance               *float64 `json:"distance,omitempty" validate:"omitempty,gte=0"`
	RecencyMinutes         *float64 `json:"recency_minutes,omitempty" validate:"omitempty,gte=0"`
	EngagementCount        *int     `json:"engagement_count,omitempty" validate:"omitempty,gte=0"`
	ShareCount             *int     `json:"share_count,omitempty" validate:"omitempty,gte=0"`
	BoostActive            *bool    `json:"boost_active,omitempty"`
	AttractivenessScore    *float64 `json:"attractiveness_score,omitempty" validate:"omitempty,gte=0,lte=100"`
	AvgResponseTimeMinutes *float64 `json:"avg_response_time_minutes,omitempty" validate:"omitempty,gte=0"`
	ReportCount            *int     `json:"report_count,omitempty" validate:"omitempty,gte=0"`
	VoiceCallCount         *int     `json:"voice_call_count,omitempty" validate:"omitempty,gte=0"`
	ChatMessageCount       *int     `json:"chat_message_count,omitempty" validate:"omitempty,gte=0"`
	AbuseReportCount       *int     `json:"abuse_report_count,omitempty" validate:"omitempty,gte=0"`
	DaysInactive           *int     `json:"days_inactive,omitempty" validate:"omitempty,gte=0"`
}

// CreatorSnapshot is the latest metrics known for a creator, used by the sweep.
type CreatorSnapshot struct {
	UserID      string         `json:"user_id"`
	CountryCode string         `json:"country_code"`
	Tier        Tier           `json:"tier"`
	Metrics     RankingMetrics `json:"metrics"`
}

// MetricChange is a live metrics update queued for asynchronous recalculation.
type MetricChange struct {
	UserID      string         `json:"user_id"`
	CountryCode string         `json:"country_code"`
	Tier        Tier           `json:"tier"`
	Metrics     RankingMetrics `json:"metrics"`
	ReceivedAt  time.Time      `json:"received_at"`
}

// Snapshot returns the change as a CreatorSnapshot.
func (c MetricChange) Snapshot() CreatorSnapshot {
	return CreatorSnapshot{UserID: c.UserID, CountryCode: c.CountryCode, Tier: c.Tier, Metrics: c.Metrics}
}
