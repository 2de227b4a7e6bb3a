package conclusion

import (
	"time"

	"github.com/headline-goat/verdict/internal/significance"
)

// Strategy is how a winning variant is rolled out.
type Strategy string

const (
	StrategyImmediate Strategy = "immediate"
	StrategyGradual   Strategy = "gradual"
	StrategyStaged    Strategy = "staged"
	StrategyDelayed   Strategy = "delayed"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyImmediate, StrategyGradual, StrategyStaged, StrategyDelayed:
		return true
	}
	return false
}

type RiskTolerance string

const (
	RiskLow    RiskTolerance = "low"
	RiskMedium RiskTolerance = "medium"
	RiskHigh   RiskTolerance = "high"
)

// multiplier scales candidate risk: a low tolerance inflates risk so
// rollouts become more cautious.
func (t RiskTolerance) multiplier() float64 {
	switch t {
	case RiskLow:
		return 1.2
	case RiskHigh:
		return 0.8
	default:
		return 1.0
	}
}

// Criteria are the winner-selection thresholds. Percentages are 0-100.
type Criteria struct {
	MinimumConfidence  float64       `json:"minimum_confidence" validate:"gte=0,lte=100"`
	MinimumImprovement float64       `json:"minimum_improvement" validate:"gte=-100"`
	RiskTolerance      RiskTolerance `json:"risk_tolerance" validate:"omitempty,oneof=low medium high"`
}

func DefaultCriteria() Criteria {
	return Criteria{
		MinimumConfidence:  95,
		MinimumImprovement: 5,
		RiskTolerance:      RiskMedium,
	}
}

// WinnerSelection is the variant chosen when a test concludes.
type WinnerSelection struct {
	VariantID           string   `json:"variant_id"`
	VariantName         string   `json:"variant_name"`
	Reason              string   `json:"reason"`
	Confidence          float64  `json:"confidence"`
	ExpectedImprovement float64  `json:"expected_improvement"`
	ExpectedRevenue     float64  `json:"expected_revenue"`
	RiskScore           float64  `json:"risk_score"`
	Score               float64  `json:"score"`
	Strategy            Strategy `json:"implementation_strategy"`
}

type Phase struct {
	Name              string        `json:"name"`
	RolloutPercentage float64       `json:"rollout_percentage"`
	Duration          time.Duration `json:"duration"`
	SuccessCriteria   []string      `json:"success_criteria"`
	RollbackTriggers  []string      `json:"rollback_triggers"`
}

type Timeline struct {
	Start     time.Time   `json:"start"`
	PhaseEnds []time.Time `json:"phase_ends"`
	End       time.Time   `json:"end"`
}

type MetricThreshold struct {
	Metric   string        `json:"metric"`
	Warning  float64       `json:"warning"`  // relative change, percent
	Critical float64       `json:"critical"` // relative change, percent
	Window   time.Duration `json:"window"`
}

type EscalationStep struct {
	Level   int    `json:"level"`
	Trigger string `json:"trigger"`
	Notify  string `json:"notify"`
	Action  string `json:"action"`
}

type MonitoringPlan struct {
	Checkpoints []time.Duration   `json:"checkpoints"`
	Thresholds  []MetricThreshold `json:"thresholds"`
	Escalation  []EscalationStep  `json:"escalation"`
}

// ImplementationPlan is the rollout schedule for a winner.
type ImplementationPlan struct {
	Strategy        Strategy       `json:"strategy"`
	Phases          []Phase        `json:"phases"`
	Timeline        Timeline       `json:"timeline"`
	RolloutSequence []float64      `json:"rollout_sequence"`
	Monitoring      MonitoringPlan `json:"monitoring"`
	SuccessCriteria []string       `json:"success_criteria"`
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type RiskFactor struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Impact      float64  `json:"impact"`      // 0-10
	Probability float64  `json:"probability"` // 0-1
	Severity    Severity `json:"severity"`
}

type RiskAssessment struct {
	OverallScore        float64      `json:"overall_score"`
	Level               Severity     `json:"level"`
	Factors             []RiskFactor `json:"factors"`
	RecommendedApproach Strategy     `json:"recommended_approach"`
	Mitigations         []string     `json:"mitigations"`
}

type RevenueRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

type BusinessImpact struct {
	ExpectedRevenueDelta   float64      `json:"expected_revenue_delta"`
	RevenueRange           RevenueRange `json:"revenue_range"`
	AnnualizedRevenueDelta float64      `json:"annualized_revenue_delta"`
	ConversionLift         float64      `json:"conversion_lift"` // percent
	AffectedUsers          int          `json:"affected_users"`
}

type RollbackTrigger struct {
	Metric      string        `json:"metric"`
	Change      float64       `json:"change"` // relative change, percent
	Window      time.Duration `json:"window"`
	Description string        `json:"description"`
}

type RollbackPlan struct {
	Triggers          []RollbackTrigger `json:"triggers"`
	Procedure         []string          `json:"procedure"`
	EstimatedDuration time.Duration     `json:"estimated_duration"`
	Automatic         bool              `json:"automatic"`
}

// Status summarizes what a conclusion means for the test.
type Status string

const (
	StatusWinnerSelected Status = "winner_selected"
	StatusNoWinner       Status = "no_winner"
	StatusStopped        Status = "stopped"
	StatusPaused         Status = "paused"
	StatusInvestigate    Status = "investigate"
)

// TestConclusion is the output of one evaluation of one test.
type TestConclusion struct {
	ID             string                      `json:"id"`
	TestID         string                      `json:"test_id"`
	ConcludedAt    time.Time                   `json:"concluded_at"`
	Action         Action                      `json:"action"`
	Status         Status                      `json:"status"`
	Reason         string                      `json:"reason"`
	TriggeredRules []Rule                      `json:"triggered_rules"`
	Winner         *WinnerSelection            `json:"winner,omitempty"`
	Plan           ImplementationPlan          `json:"implementation_plan"`
	Confidence     float64                     `json:"confidence"`
	Risk           RiskAssessment              `json:"risk_assessment"`
	Impact         BusinessImpact              `json:"business_impact"`
	Rollback       RollbackPlan                `json:"rollback_plan"`
	AnalysisStatus significance.Status         `json:"analysis_status"`
	Recommendation significance.Recommendation `json:"recommendation"`
}
