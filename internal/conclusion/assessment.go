package conclusion

import (
	"math"
	"time"
)

// AssessRisk rolls named risk factors into a 0-100 score.
func AssessRisk(winner *WinnerSelection, strategy Strategy) RiskAssessment {
	var factors []RiskFactor

	confidence := 0.0
	improvement := 0.0
	if winner != nil {
		confidence = winner.Confidence
		improvement = winner.ExpectedImprovement
	}

	if confidence < 99 {
		impact := math.Min(10, (100-confidence)/2)
		factors = append(factors, riskFactor(
			"statistical_confidence",
			"Confidence is below 99%; the observed lift may not hold",
			impact, math.Min(1, (100-confidence)/100),
		))
	}

	if improvement < 10 {
		factors = append(factors, riskFactor(
			"low_expected_improvement",
			"Expected improvement is small relative to rollout effort",
			5, 0.5,
		))
	}

	switch strategy {
	case StrategyStaged:
		factors = append(factors, riskFactor(
			"implementation_complexity",
			"Multi-phase rollout with extended monitoring",
			6, 0.4,
		))
	case StrategyGradual:
		factors = append(factors, riskFactor(
			"implementation_complexity",
			"Phased rollout requires coordinated traffic changes",
			3, 0.3,
		))
	}

	score := 0.0
	for _, f := range factors {
		score += f.Impact * f.Probability * 10
	}
	score = math.Min(100, score)

	assessment := RiskAssessment{
		OverallScore:        score,
		Level:               severityFor(score / 10),
		Factors:             factors,
		RecommendedApproach: StrategyFor(score),
	}
	for _, f := range factors {
		assessment.Mitigations = append(assessment.Mitigations, mitigations[f.Name])
	}
	return assessment
}

var mitigations = map[string]string{
	"statistical_confidence":    "Roll out gradually and keep monitoring the primary metric",
	"low_expected_improvement":  "Confirm the change is worth its maintenance cost before full rollout",
	"implementation_complexity": "Automate phase transitions and rehearse the rollback procedure",
}

func riskFactor(name, description string, impact, probability float64) RiskFactor {
	return RiskFactor{
		Name:        name,
		Description: description,
		Impact:      impact,
		Probability: probability,
		Severity:    severityFor(impact * probability),
	}
}

func severityFor(v float64) Severity {
	switch {
	case v >= 5:
		return SeverityHigh
	case v >= 2:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// EstimateImpact projects the revenue change of shipping the winner, with
// a ±30% uncertainty band.
func EstimateImpact(winner *WinnerSelection, s *snapshot) BusinessImpact {
	impact := BusinessImpact{AffectedUsers: s.totalImpressions()}
	if winner == nil {
		return impact
	}

	delta := s.totalRevenue() * winner.ExpectedImprovement / 100
	impact.ExpectedRevenueDelta = delta
	impact.RevenueRange = RevenueRange{Low: delta * 0.7, High: delta * 1.3}
	impact.ConversionLift = winner.ExpectedImprovement
	impact.AnnualizedRevenueDelta = delta / math.Max(1, s.durationDays()) * 365
	return impact
}

// BuildRollbackPlan returns the fixed rollback triggers and procedure.
func BuildRollbackPlan() RollbackPlan {
	return RollbackPlan{
		Triggers: []RollbackTrigger{
			{Metric: "conversion_rate", Change: -10, Window: 30 * time.Minute, Description: "Conversion rate drops 10% within 30 minutes"},
			{Metric: "error_rate", Change: 200, Window: 15 * time.Minute, Description: "Error rate rises 200% within 15 minutes"},
			{Metric: "revenue", Change: -15, Window: time.Hour, Description: "Revenue drops 15% within 1 hour"},
			{Metric: "page_load_time", Change: 50, Window: 30 * time.Minute, Description: "Page load time rises 50% within 30 minutes"},
		},
		Procedure: []string{
			"Halt the current rollout phase",
			"Route all traffic back to the control variant",
			"Notify stakeholders",
			"Capture diagnostics for the failed phase",
			"Verify restoration",
		},
		EstimatedDuration: 15 * time.Minute,
		Automatic:         true,
	}
}
