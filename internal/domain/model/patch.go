package model

// DiscoveryPatch overrides individual discovery weights. Nil fields inherit.
type DiscoveryPatch struct {
	Distance *float64 `json:"distance,omitempty" validate:"omitempty,gte=0"`
	Activity *float64 `json:"activity,omitempty" validate:"omitempty,gte=0"`
	Rating   *float64 `json:"rating,omitempty" validate:"omitempty,gte=0"`
	Earnings *float64 `json:"earnings,omitempty" validate:"omitempty,gte=0"`
	Refund   *float64 `json:"refund,omitempty" validate:"omitempty,gte=0"`
	Mismatch *float64 `json:"mismatch,omitempty" validate:"omitempty,gte=0"`
}

// FeedPatch overrides individual feed weights.
type FeedPatch struct {
	Recency    *float64 `json:"recency,omitempty" validate:"omitempty,gte=0"`
	Engagement *float64 `json:"engagement,omitempty" validate:"omitempty,gte=0"`
	Viral      *float64 `json:"viral,omitempty" validate:"omitempty,gte=0"`
	Boost      *float64 `json:"boost,omitempty" validate:"omitempty,gte=0"`
}

// SwipePatch overrides individual swipe weights.
type SwipePatch struct {
	Attractiveness *float64 `json:"attractiveness,omitempty" validate:"omitempty,gte=0"`
	ResponseTime   *float64 `json:"response_time,omitempty" validate:"omitempty,gte=0"`
	Activity       *float64 `json:"activity,omitempty" validate:"omitempty,gte=0"`
	Reports        *float64 `json:"reports,omitempty" validate:"omitempty,gte=0"`
}

// AIPatch overrides individual AI weights.
type AIPatch struct {
	Rating     *float64 `json:"rating,omitempty" validate:"omitempty,gte=0"`
	VoiceUsage *float64 `json:"voice_usage,omitempty" validate:"omitempty,gte=0"`
	ChatUsage  *float64 `json:"chat_usage,omitempty" validate:"omitempty,gte=0"`
	Abuse      *float64 `json:"abuse,omitempty" validate:"omitempty,gte=0"`
}

// DecayPatch overrides individual decay rates.
type DecayPatch struct {
	DailyInactivityRate *float64 `json:"daily_inactivity_rate,omitempty" validate:"omitempty,gte=0,lte=1"`
	PerRefundRate       *float64 `json:"per_refund_rate,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// RankingConfigPatch is a partial RankingConfig used by country overrides and
// experiments. Each group merges independently.
type RankingConfigPatch struct {
	Discovery *DiscoveryPatch `json:"discovery,omitempty"`
	Feed      *FeedPatch      `json:"feed,omitempty"`
	Swipe     *SwipePatch     `json:"swipe,omitempty"`
	AI        *AIPatch        `json:"ai,omitempty"`
	Decay     *DecayPatch     `json:"decay,omitempty"`
}

// IsEmpty reports whether the patch overrides nothing.
func (p RankingConfigPatch) IsEmpty() bool {
	return p.Discovery == nil && p.Feed == nil && p.Swipe == nil && p.AI == nil && p.Decay == nil
}

// Apply returns base with every non-nil patch field written over it.
func (p RankingConfigPatch) Apply(base RankingConfig) RankingConfig {
	out := base
	if d := p.Discovery; d != nil {
		set(&out.Discovery.Distance, d.Distance)
		set(&out.Discovery.Activity, d.Activity)
		set(&out.Discovery.Rating, d.Rating)
		set(&out.Discovery.Earnings, d.Earnings)
		set(&out.Discovery.Refund, d.Refund)
		set(&out.Discovery.Mismatch, d.Mismatch)
	}
	if f := p.Feed; f != nil {
		set(&out.Feed.Recency, f.Recency)
		set(&out.Feed.Engagement, f.Engagement)
		set(&out.Feed.Viral, f.Viral)
		set(&out.Feed.Boost, f.Boost)
	}
	if s := p.Swipe; s != nil {
		set(&out.Swipe.Attractiveness, s.Attractiveness)
		set(&out.Swipe.ResponseTime, s.ResponseTime)
		set(&out.Swipe.Activity, s.Activity)
		set(&out.Swipe.Reports, s.Reports)
	}
	if a := p.AI; a != nil {
		set(&out.AI.Rating, a.Rating)
		set(&out.AI.VoiceUsage, a.VoiceUsage)
		set(&out.AI.ChatUsage, a.ChatUsage)
		set(&out.AI.Abuse, a.Abuse)
	}
	if d := p.Decay; d != nil {
		set(&out.Decay.DailyInactivityRate, d.DailyInactivityRate)
		set(&out.Decay.PerRefundRate, d.PerRefundRate)
	}
	return out
}

func set(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

// Float returns a pointer to v, for building patches.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for building optional metrics.
func Int(v int) *int { return &v }
