// Package scoring turns one creator's metrics and a resolved configuration
// into surface scores, a safety multiplier, and decayed variants.
//
// A Calculator is pure: it holds no mutable state and can be shared freely.
package scoring

import (
	"math"

	"github.com/benbjohnson/clock"

	"github.com/okian/visibility/internal/domain/model"
)

// Normalisation constants.
const (
	maxScore = 100.0
	minScore = 0.0

	distanceFalloff       = 100.0   // distance units at which the distance sub-score reaches 0
	activitySaturation    = 100.0   // activity events
	ratingScale           = 5.0     // max rating
	earningsSaturation    = 10000.0 // currency units
	refundStep            = 10.0    // points lost per refund
	mismatchStep          = 15.0    // points lost per mismatch
	recencyWindowMinutes  = 1440.0
	engagementSaturation  = 100.0
	shareSaturation       = 50.0
	responseWindowMinutes = 60.0
	reportStep            = 20.0
	voiceSaturation       = 100.0
	chatSaturation        = 1000.0
	abuseStep             = 25.0

	defaultDistanceScore       = 50.0
	defaultRecencyScore        = 0.0
	defaultAttractivenessScore = 50.0
	defaultResponseScore       = 50.0
	defaultReportScore         = 100.0
	defaultAbuseScore          = 100.0

	suppressionTrigger = 0.5
	suppressionCap     = 0.3
)

// Option configures a Calculator.
type Option func(*Calculator)

// WithClock sets the clock used for CalculatedAt.
func WithClock(c clock.Clock) Option {
	return func(s *Calculator) {
		if c != nil {
			s.clock = c
		}
	}
}

// Calculator scores creators against one resolved configuration.
type Calculator struct {
	ranking model.RankingConfig
	safety  model.SafetyPenaltyConfig
	routing model.TierRoutingConfig
	clock   clock.Clock
}

// NewCalculator creates a calculator for the given resolved configuration.
func NewCalculator(ranking model.RankingConfig, safety model.SafetyPenaltyConfig, routing model.TierRoutingConfig, opts ...Option) *Calculator {
	c := &Calculator{
		ranking: ranking,
		safety:  safety,
		routing: routing,
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Score computes the full ranking record for one creator. Decayed is left
// equal to Final; callers apply ApplyDecay when inactivity data is known.
func (c *Calculator) Score(userID string, m model.RankingMetrics, countryCode string, tier model.Tier, a model.Assignment) model.CreatorRankingScore {
	raw := model.SurfaceScores{
		Discovery: c.discovery(m),
		Feed:      c.feed(m),
		Swipe:     c.swipe(m),
		AI:        c.ai(m),
	}
	raw = c.Route(raw, tier)
	penalty := c.Penalty(m)
	final := raw.Map(func(v float64) float64 { return clamp(v * penalty.Multiplier) })

	return model.CreatorRankingScore{
		UserID:          userID,
		Raw:             raw,
		Penalty:         penalty,
		Final:           final,
		Decayed:         final,
		CalculatedAt:    c.clock.Now().UTC(),
		CountryCode:     countryCode,
		Tier:            tier,
		ExperimentID:    a.ExperimentID,
		ExperimentGroup: a.Group,
	}
}

func (c *Calculator) discovery(m model.RankingMetrics) float64 {
	w := c.ranking.Discovery
	return clamp(DistanceScore(m.Distance)*w.Distance +
		ActivityScore(m.ActivityCount)*w.Activity +
		RatingScore(m.AverageRating)*w.Rating +
		EarningsScore(m.TotalEarnings)*w.Earnings +
		RefundScore(m.RefundCount)*w.Refund +
		MismatchScore(m.MismatchCount)*w.Mismatch)
}

func (c *Calculator) feed(m model.RankingMetrics) float64 {
	w := c.ranking.Feed
	return clamp(RecencyScore(m.RecencyMinutes)*w.Recency +
		EngagementScore(m.EngagementCount)*w.Engagement +
		ViralScore(m.ShareCount)*w.Viral +
		BoostScore(m.BoostActive)*w.Boost)
}

func (c *Calculator) swipe(m model.RankingMetrics) float64 {
	w := c.ranking.Swipe
	return clamp(AttractivenessScore(m.AttractivenessScore)*w.Attractiveness +
		ResponseScore(m.AvgResponseTimeMinutes)*w.ResponseTime +
		ActivityScore(m.ActivityCount)*w.Activity +
		ReportScore(m.ReportCount)*w.Reports)
}

func (c *Calculator) ai(m model.RankingMetrics) float64 {
	w := c.ranking.AI
	return clamp(RatingScore(m.AverageRating)*w.Rating +
		VoiceScore(m.VoiceCallCount)*w.VoiceUsage +
		ChatScore(m.ChatMessageCount)*w.ChatUsage +
		AbuseScore(m.AbuseReportCount)*w.Abuse)
}

// Route applies tier routing to raw scores. With default flags it is the
// identity; standard tier is never lifted.
func (c *Calculator) Route(raw model.SurfaceScores, tier model.Tier) model.SurfaceScores {
	if tier != model.TierRoyal && tier != model.TierVIP {
		return raw
	}
	r := c.routing.For(tier)
	lift := 1 + math.Max(0, r.PriorityLift)
	if r.FreeDiscoveryPriority {
		raw.Discovery = clamp(raw.Discovery * lift)
	}
	if r.FreeAISearchPriority {
		raw.AI = clamp(raw.AI * lift)
	}
	return raw
}

// Penalty computes the safety multiplier breakdown for m. A dimension trips
// only when its value is above zero and at or over its threshold, so a zero
// threshold never penalizes a clean creator.
func (c *Calculator) Penalty(m model.RankingMetrics) model.SafetyPenalty {
	s := c.safety
	var refundRatio, mismatchRate, reportFrequency float64
	if m.TotalTransactions > 0 {
		tx := float64(m.TotalTransactions)
		refundRatio = float64(m.RefundCount) / tx
		mismatchRate = float64(m.MismatchCount) / tx
		reportFrequency = float64(intOr(m.ReportCount, 0)) / tx
	}

	p := model.SafetyPenalty{
		Refund:          dimension(refundRatio, s.RefundRatioThreshold, s.RefundRatioPenalty),
		Mismatch:        dimension(mismatchRate, s.MismatchRateThreshold, s.MismatchRatePenalty),
		PanicUsage:      1.0, // no upstream signal yet
		Blocking:        1.0, // no upstream signal yet
		ReportFrequency: dimension(reportFrequency, s.ReportFrequencyThreshold, s.ReportFrequencyPenalty),
	}
	p.Multiplier = Aggregate(p, s.AutoSuppressionEnabled)
	return p
}

// Aggregate multiplies the five dimensions and applies auto-suppression,
// which only ever lowers a product below 0.5 to at most 0.3.
func Aggregate(p model.SafetyPenalty, autoSuppression bool) float64 {
	m := p.Refund * p.Mismatch * p.PanicUsage * p.Blocking * p.ReportFrequency
	if autoSuppression && m < suppressionTrigger {
		m = math.Min(m, suppressionCap)
	}
	return clampUnit(m)
}

func dimension(value, threshold, penalty float64) float64 {
	if value > 0 && value >= threshold {
		return clampUnit(1 - penalty)
	}
	return 1.0
}

// ApplyDecay attenuates score for daysInactive days of inactivity.
func (c *Calculator) ApplyDecay(score float64, daysInactive int) float64 {
	return Decay(score, c.ranking.Decay.DailyInactivityRate, daysInactive)
}

// ApplyRefundDecay attenuates score by the per-refund rate once per refund.
func (c *Calculator) ApplyRefundDecay(score float64, refunds int) float64 {
	return Decay(score, c.ranking.Decay.PerRefundRate, refunds)
}

// Decay returns score*(1-rate)^n. Non-positive n leaves score unchanged.
func Decay(score, rate float64, n int) float64 {
	if n <= 0 {
		return score
	}
	rate = clampUnit(rate)
	return score * math.Pow(1-rate, float64(n))
}

// BoostPrice scales a paid boost base price by the tier's multiplier.
func (c *Calculator) BoostPrice(tier model.Tier, base float64) float64 {
	return base * c.routing.For(tier).BoostPriceMultiplier
}

// Sub-score functions. Each returns a value in [0,100].

// DistanceScore is 100 at distance 0 falling linearly to 0 at 100 units.
func DistanceScore(d *float64) float64 {
	if d == nil {
		return defaultDistanceScore
	}
	return clamp(maxScore - *d*maxScore/distanceFalloff)
}

// ActivityScore saturates at 100 events.
func ActivityScore(n int) float64 {
	return clamp(float64(n) * maxScore / activitySaturation)
}

// RatingScore maps a 0-5 rating to 0-100.
func RatingScore(r float64) float64 {
	return clamp(r * maxScore / ratingScale)
}

// EarningsScore saturates at 10,000 currency units.
func EarningsScore(e float64) float64 {
	return clamp(e * maxScore / earningsSaturation)
}

// RefundScore loses 10 points per refund.
func RefundScore(n int) float64 {
	return clamp(maxScore - refundStep*float64(n))
}

// MismatchScore loses 15 points per mismatch.
func MismatchScore(n int) float64 {
	return clamp(maxScore - mismatchStep*float64(n))
}

// RecencyScore decays linearly over one day.
func RecencyScore(minutes *float64) float64 {
	if minutes == nil {
		return defaultRecencyScore
	}
	return clamp(maxScore - *minutes*maxScore/recencyWindowMinutes)
}

// EngagementScore saturates at 100.
func EngagementScore(n *int) float64 {
	return clamp(float64(intOr(n, 0)) * maxScore / engagementSaturation)
}

// ViralScore saturates at 50 shares.
func ViralScore(n *int) float64 {
	return clamp(float64(intOr(n, 0)) * maxScore / shareSaturation)
}

// BoostScore is 100 when a boost is active.
func BoostScore(active *bool) float64 {
	if active != nil && *active {
		return maxScore
	}
	return minScore
}

// AttractivenessScore passes the upstream score through.
func AttractivenessScore(v *float64) float64 {
	if v == nil {
		return defaultAttractivenessScore
	}
	return clamp(*v)
}

// ResponseScore decays linearly over one hour.
func ResponseScore(minutes *float64) float64 {
	if minutes == nil {
		return defaultResponseScore
	}
	return clamp(maxScore - *minutes*maxScore/responseWindowMinutes)
}

// ReportScore loses 20 points per report.
func ReportScore(n *int) float64 {
	if n == nil {
		return defaultReportScore
	}
	return clamp(maxScore - reportStep*float64(*n))
}

// VoiceScore saturates at 100 calls.
func VoiceScore(n *int) float64 {
	return clamp(float64(intOr(n, 0)) * maxScore / voiceSaturation)
}

// ChatScore saturates at 1000 messages.
func ChatScore(n *int) float64 {
	return clamp(float64(intOr(n, 0)) * maxScore / chatSaturation)
}

// AbuseScore loses 25 points per abuse report.
func AbuseScore(n *int) float64 {
	if n == nil {
		return defaultAbuseScore
	}
	return clamp(maxScore - abuseStep*float64(*n))
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return minScore
	}
	return math.Max(minScore, math.Min(maxScore, v))
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
