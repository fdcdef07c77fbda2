package loadgen

import (
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/okian/visibility/internal/domain/model"
)

// Creator profiles. Most creators are regular; stars and risky creators are
// rarer and exercise the upper scores and the safety penalties.
const (
	profileRegular = iota
	profileStar
	profileRisky
	profileDormant
)

var tiers = []model.Tier{model.TierStandard, model.TierStandard, model.TierStandard, model.TierVIP, model.TierRoyal}

type generator struct {
	rnd       *rand.Rand
	countries []string
}

func newGenerator(seed uint64, countries []string) *generator {
	if len(countries) == 0 {
		countries = []string{"US"}
	}
	return &generator{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), countries: countries}
}

// generateCreators creates n creators with unique ids.
func (g *generator) generateCreators(n int) []Creator {
	out := make([]Creator, n)
	for i := range out {
		out[i] = Creator{
			UserID:      uuid.NewString(),
			CountryCode: g.countries[g.rnd.IntN(len(g.countries))],
			Tier:        tiers[g.rnd.IntN(len(tiers))],
			Metrics:     g.metrics(g.profile()),
		}
	}
	return out
}

func (g *generator) profile() int {
	switch p := g.rnd.IntN(10); {
	case p < 6:
		return profileRegular
	case p < 8:
		return profileStar
	case p < 9:
		return profileRisky
	default:
		return profileDormant
	}
}

func (g *generator) metrics(profile int) model.RankingMetrics {
	tx := 1 + g.rnd.IntN(100)
	m := model.RankingMetrics{
		ActivityCount:     g.rnd.IntN(120),
		AverageRating:     g.between(2.5, 4.6),
		TotalEarnings:     g.between(0, 6000),
		TotalTransactions: tx,
	}
	distance := g.between(0, 60)
	recency := g.between(0, 1440)
	engagement := g.rnd.IntN(800)
	shares := g.rnd.IntN(120)
	boost := g.rnd.IntN(5) == 0
	attractiveness := g.between(20, 90)
	response := g.between(1, 90)
	voice := g.rnd.IntN(60)
	chat := g.rnd.IntN(600)
	reports, abuse, inactive := 0, 0, 0

	switch profile {
	case profileStar:
		m.ActivityCount = 100 + g.rnd.IntN(150)
		m.AverageRating = g.between(4.5, 5)
		m.TotalEarnings = g.between(8000, 20000)
		engagement = 800 + g.rnd.IntN(700)
		attractiveness = g.between(80, 100)
		response = g.between(0, 5)
	case profileRisky:
		m.RefundCount = tx / 3
		m.MismatchCount = tx / 4
		reports = 1 + g.rnd.IntN(tx)
		abuse = 1 + g.rnd.IntN(3)
	case profileDormant:
		m.ActivityCount = g.rnd.IntN(5)
		inactive = 7 + g.rnd.IntN(60)
		recency = g.between(1440, 20000)
	}

	m.Distance = &distance
	m.RecencyMinutes = &recency
	m.EngagementCount = &engagement
	m.ShareCount = &shares
	m.BoostActive = &boost
	m.AttractivenessScore = &attractiveness
	m.AvgResponseTimeMinutes = &response
	m.ReportCount = &reports
	m.VoiceCallCount = &voice
	m.ChatMessageCount = &chat
	m.AbuseReportCount = &abuse
	if inactive > 0 {
		m.DaysInactive = &inactive
	}
	return m
}

func (g *generator) between(lo, hi float64) float64 {
	return lo + g.rnd.Float64()*(hi-lo)
}
