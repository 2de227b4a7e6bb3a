package conclusion

import (
	"fmt"
	"math"

	"github.com/headline-goat/verdict/internal/significance"
)

// scored is a qualifying candidate and its composite score.
type scored struct {
	result significance.StatisticalResult
	score  float64
	risk   float64
}

// selectWinner keeps candidates that clear both thresholds, scores them
// 0-100 and returns the best. It returns nil if nobody qualifies.
func selectWinner(a *significance.TestAnalysis, s *snapshot, criteria Criteria) *scored {
	totalRevenue := s.totalRevenue()

	var best *scored
	for _, r := range a.Candidates() {
		if r.Confidence() < criteria.MinimumConfidence || r.RelativeImprovement*100 < criteria.MinimumImprovement {
			continue
		}
		c := &scored{
			result: r,
			score:  compositeScore(r, a.SampleSize.RequiredPerVariant, totalRevenue),
			risk:   math.Min(100, candidateRisk(r)*criteria.RiskTolerance.multiplier()),
		}
		if best == nil || c.score > best.score {
			best = c
		}
	}
	return best
}

// compositeScore weighs confidence (40), improvement (30), sample-size
// adequacy (20) and revenue share (10).
func compositeScore(r significance.StatisticalResult, requiredPerVariant int, totalRevenue float64) float64 {
	confidence := (1 - r.PValue) * 40

	improvement := math.Min(30, math.Max(0, r.RelativeImprovement*100*1.5))

	adequacy := 20.0
	if requiredPerVariant > 0 {
		adequacy = math.Min(20, float64(r.SampleSize)/float64(requiredPerVariant)*20)
	}

	revenue := 0.0
	if totalRevenue > 0 {
		revenue = math.Min(10, r.Revenue/totalRevenue*10)
	}

	return confidence + improvement + adequacy + revenue
}

// candidateRisk is 0-100 from the confidence shortfall, the width of the
// improvement interval and a penalty for low conversion rates.
func candidateRisk(r significance.StatisticalResult) float64 {
	shortfall := math.Min(40, math.Max(0, 100-r.Confidence())*2)
	width := math.Min(40, r.ImprovementInterval.Width()*100*0.5)

	penalty := 0.0
	switch {
	case r.ConversionRate < 0.01:
		penalty = 20
	case r.ConversionRate < 0.05:
		penalty = 10
	}

	return math.Min(100, shortfall+width+penalty)
}

// StrategyFor maps a 0-100 risk score onto a rollout strategy.
func StrategyFor(risk float64) Strategy {
	switch {
	case risk < 30:
		return StrategyImmediate
	case risk < 60:
		return StrategyGradual
	default:
		return StrategyStaged
	}
}

func winnerSelection(c *scored, s *snapshot, strategy Strategy) *WinnerSelection {
	r := c.result

	// projected revenue if every impression had seen the winner
	expectedRevenue := 0.0
	if r.SampleSize > 0 {
		expectedRevenue = r.Revenue / float64(r.SampleSize) * float64(s.totalImpressions())
	}

	return &WinnerSelection{
		VariantID:           r.VariantID,
		VariantName:         r.VariantName,
		Reason:              fmt.Sprintf("%s converts %.1f%% better than control at %.1f%% confidence", displayName(r), r.RelativeImprovement*100, r.Confidence()),
		Confidence:          r.Confidence(),
		ExpectedImprovement: r.RelativeImprovement * 100,
		ExpectedRevenue:     expectedRevenue,
		RiskScore:           c.risk,
		Score:               c.score,
		Strategy:            strategy,
	}
}

func displayName(r significance.StatisticalResult) string {
	if r.VariantName != "" {
		return r.VariantName
	}
	return r.VariantID
}
