// Package model contains domain models passed between layers.
package model

// DiscoveryWeights weighs the sub-scores of the discovery/search surface.
type DiscoveryWeights struct {
	Distance float64 `json:"distance" validate:"gte=0"`
	Activity float64 `json:"activity" validate:"gte=0"`
	Rating   float64 `json:"rating" validate:"gte=0"`
	Earnings float64 `json:"earnings" validate:"gte=0"`
	Refund   float64 `json:"refund" validate:"gte=0"`
	Mismatch float64 `json:"mismatch" validate:"gte=0"`
}

// FeedWeights weighs the sub-scores of the feed surface.
type FeedWeights struct {
	Recency    float64 `json:"recency" validate:"gte=0"`
	Engagement float64 `json:"engagement" validate:"gte=0"`
	Viral      float64 `json:"viral" validate:"gte=0"`
	Boost      float64 `json:"boost" validate:"gte=0"`
}

// SwipeWeights weighs the sub-scores of the swipe surface.
type SwipeWeights struct {
	Attractiveness float64 `json:"attractiveness" validate:"gte=0"`
	ResponseTime   float64 `json:"response_time" validate:"gte=0"`
	Activity       float64 `json:"activity" validate:"gte=0"`
	Reports        float64 `json:"reports" validate:"gte=0"`
}

// AIWeights weighs the sub-scores of the AI-companion listing.
type AIWeights struct {
	Rating     float64 `json:"rating" validate:"gte=0"`
	VoiceUsage float64 `json:"voice_usage" validate:"gte=0"`
	ChatUsage  float64 `json:"chat_usage" validate:"gte=0"`
	Abuse      float64 `json:"abuse" validate:"gte=0"`
}

// DecayConfig controls score attenuation.
type DecayConfig struct {
	DailyInactivityRate float64 `json:"daily_inactivity_rate" validate:"gte=0,lte=1"`
	PerRefundRate       float64 `json:"per_refund_rate" validate:"gte=0,lte=1"`
}

// RankingConfig is a complete, resolved set of ranking weights.
// Weights need not sum to 1; surface scores are clamped after weighting.
type RankingConfig struct {
	Discovery DiscoveryWeights `json:"discovery"`
	Feed      FeedWeights      `json:"feed"`
	Swipe     SwipeWeights     `json:"swipe"`
	AI        AIWeights        `json:"ai"`
	Decay     DecayConfig      `json:"decay"`
}

// DefaultRankingConfig returns the hard-coded global defaults.
func DefaultRankingConfig() RankingConfig {
	return RankingConfig{
		Discovery: DiscoveryWeights{
			Distance: 0.30,
			Activity: 0.25,
			Rating:   0.20,
			Earnings: 0.15,
			Refund:   0.05,
			Mismatch: 0.05,
		},
		Feed: FeedWeights{
			Recency:    0.35,
			Engagement: 0.30,
			Viral:      0.20,
			Boost:      0.15,
		},
		Swipe: SwipeWeights{
			Attractiveness: 0.35,
			ResponseTime:   0.25,
			Activity:       0.25,
			Reports:        0.15,
		},
		AI: AIWeights{
			Rating:     0.35,
			VoiceUsage: 0.25,
			ChatUsage:  0.25,
			Abuse:      0.15,
		},
		Decay: DecayConfig{
			DailyInactivityRate: 0.02,
			PerRefundRate:       0.05,
		},
	}
}

// SafetyPenaltyConfig holds the five threshold/penalty pairs. A penalty is the
// fraction removed from the multiplier once its threshold is met.
type SafetyPenaltyConfig struct {
	RefundRatioThreshold     float64 `json:"refund_ratio_threshold" validate:"gte=0"`
	RefundRatioPenalty       float64 `json:"refund_ratio_penalty" validate:"gte=0,lte=1"`
	MismatchRateThreshold    float64 `json:"mismatch_rate_threshold" validate:"gte=0"`
	MismatchRatePenalty      float64 `json:"mismatch_rate_penalty" validate:"gte=0,lte=1"`
	PanicUsageThreshold      float64 `json:"panic_usage_threshold" validate:"gte=0"`
	PanicUsagePenalty        float64 `json:"panic_usage_penalty" validate:"gte=0,lte=1"`
	BlockingRateThreshold    float64 `json:"blocking_rate_threshold" validate:"gte=0"`
	BlockingRatePenalty      float64 `json:"blocking_rate_penalty" validate:"gte=0,lte=1"`
	ReportFrequencyThreshold float64 `json:"report_frequency_threshold" validate:"gte=0"`
	ReportFrequencyPenalty   float64 `json:"report_frequency_penalty" validate:"gte=0,lte=1"`
	AutoSuppressionEnabled   bool    `json:"auto_suppression_enabled"`
}

// DefaultSafetyPenaltyConfig returns the hard-coded safety defaults.
func DefaultSafetyPenaltyConfig() SafetyPenaltyConfig {
	return SafetyPenaltyConfig{
		RefundRatioThreshold:     0.15,
		RefundRatioPenalty:       0.30,
		MismatchRateThreshold:    0.10,
		MismatchRatePenalty:      0.25,
		PanicUsageThreshold:      3,
		PanicUsagePenalty:        0.50,
		BlockingRateThreshold:    0.20,
		BlockingRatePenalty:      0.30,
		ReportFrequencyThreshold: 0.10,
		ReportFrequencyPenalty:   0.40,
		AutoSuppressionEnabled:   true,
	}
}

// TierRouting describes what a tier receives outside merit ranking.
type TierRouting struct {
	// FreeDiscoveryPriority and FreeAISearchPriority stay false for merit-only ranking.
	FreeDiscoveryPriority bool `json:"free_discovery_priority"`
	FreeAISearchPriority  bool `json:"free_ai_search_priority"`
	// PriorityLift is the fractional lift applied when a priority flag is on.
	PriorityLift float64 `json:"priority_lift" validate:"gte=0,lte=1"`
	// BoostPriceMultiplier scales the price of paid boosts.
	BoostPriceMultiplier float64 `json:"boost_price_multiplier" validate:"gte=0"`
}

// TierRoutingConfig is the global per-tier routing policy.
type TierRoutingConfig struct {
	Royal    TierRouting `json:"royal"`
	VIP      TierRouting `json:"vip"`
	Standard TierRouting `json:"standard"`
}

// For returns the routing entry for tier. Unknown tiers route as standard.
func (c TierRoutingConfig) For(tier Tier) TierRouting {
	switch tier {
	case TierRoyal:
		return c.Royal
	case TierVIP:
		return c.VIP
	default:
		return c.Standard
	}
}

// DefaultTierRoutingConfig returns merit-only routing.
func DefaultTierRoutingConfig() TierRoutingConfig {
	return TierRoutingConfig{
		Royal:    TierRouting{BoostPriceMultiplier: 0.80},
		VIP:      TierRouting{BoostPriceMultiplier: 0.90},
		Standard: TierRouting{BoostPriceMultiplier: 1.0},
	}
}
