package significance

import (
	"time"

	"github.com/headline-goat/verdict/internal/stats"
)

// Metrics are the raw counters observed for one variant.
type Metrics struct {
	Impressions    int      `json:"impressions"`
	Clicks         int      `json:"clicks"`
	Conversions    int      `json:"conversions"`
	Revenue        float64  `json:"revenue"`
	BounceRate     *float64 `json:"bounce_rate,omitempty"`
	TimeOnPage     *float64 `json:"time_on_page,omitempty"`
	EngagementRate *float64 `json:"engagement_rate,omitempty"`
}

// ConversionRate returns conversions / impressions, or 0 without traffic.
func (m Metrics) ConversionRate() float64 {
	if m.Impressions <= 0 {
		return 0
	}
	return float64(m.Conversions) / float64(m.Impressions)
}

// Variant is one arm of an experiment.
type Variant struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Metrics           Metrics   `json:"metrics"`
	TrafficAllocation float64   `json:"traffic_allocation"` // percent, 0-100
	IsControl         bool      `json:"is_control"`
	StartDate         time.Time `json:"start_date"`
}

// StatisticalResult is the per-variant comparison against the control.
type StatisticalResult struct {
	VariantID           string                   `json:"variant_id"`
	VariantName         string                   `json:"variant_name"`
	IsControl           bool                     `json:"is_control"`
	SampleSize          int                      `json:"sample_size"`
	Conversions         int                      `json:"conversions"`
	ConversionRate      float64                  `json:"conversion_rate"`
	ConfidenceInterval  stats.ConfidenceInterval `json:"confidence_interval"`
	StandardError       float64                  `json:"standard_error"`
	ZScore              float64                  `json:"z_score"`
	PValue              float64                  `json:"p_value"`
	IsSignificant       bool                     `json:"is_significant"`
	RelativeImprovement float64                  `json:"relative_improvement"`
	ImprovementInterval stats.ConfidenceInterval `json:"improvement_interval"`
	Revenue             float64                  `json:"revenue"`
}

// Confidence returns (1 - p) as a percentage.
func (r StatisticalResult) Confidence() float64 {
	return (1 - r.PValue) * 100
}

type CheckStatus string

const (
	CheckPass    CheckStatus = "pass"
	CheckWarning CheckStatus = "warning"
	CheckFail    CheckStatus = "fail"
)

type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

const (
	CheckSampleRatioMismatch = "sample_ratio_mismatch"
	CheckDataCompleteness    = "data_completeness"
	CheckTrafficAllocation   = "traffic_allocation"
	CheckOutlierDetection    = "outlier_detection"
)

// QualityCheck is the outcome of one data-quality test.
type QualityCheck struct {
	Name        string      `json:"name"`
	Status      CheckStatus `json:"status"`
	Impact      Impact      `json:"impact"`
	Description string      `json:"description"`
	Value       float64     `json:"value"`
	VariantID   string      `json:"variant_id,omitempty"`
	Remediation string      `json:"remediation,omitempty"`
}

// Blocking reports whether the check invalidates the analysis.
func (q QualityCheck) Blocking() bool {
	return q.Status == CheckFail && q.Impact == ImpactHigh
}

type Status string

const (
	StatusInsufficientData Status = "insufficient_data"
	StatusRunning          Status = "running"
	StatusSignificant      Status = "significant"
	StatusInconclusive     Status = "inconclusive"
)

type Recommendation string

const (
	RecommendContinue    Recommendation = "continue"
	RecommendStop        Recommendation = "stop"
	RecommendExtend      Recommendation = "extend"
	RecommendInvestigate Recommendation = "investigate"
)

// SampleSizeAnalysis compares observed traffic with what the minimum
// detectable effect requires.
type SampleSizeAnalysis struct {
	Current                 int     `json:"current"`
	RequiredPerVariant      int     `json:"required_per_variant"`
	Required                int     `json:"required"`
	Progress                float64 `json:"progress"`   // percent, capped at 100
	Completion              float64 `json:"completion"` // percent, uncapped
	MinimumDetectableEffect float64 `json:"minimum_detectable_effect"`
}

type PowerAnalysis struct {
	CurrentPower float64 `json:"current_power"`
	TargetPower  float64 `json:"target_power"`
	EffectSize   float64 `json:"effect_size"`
	Alpha        float64 `json:"alpha"`
}

// TimeToSignificance projects how long the test must keep running to
// detect the best candidate's observed improvement.
type TimeToSignificance struct {
	EstimatedDays      float64 `json:"estimated_days"`
	DailyImpressions   float64 `json:"daily_impressions"`
	RequiredSampleSize int     `json:"required_sample_size"`
	VariantID          string  `json:"variant_id"`
}

// TestAnalysis is the full statistical picture of a test at one instant.
type TestAnalysis struct {
	TestID              string              `json:"test_id"`
	Status              Status              `json:"status"`
	OverallSignificance float64             `json:"overall_significance"`
	RecommendedAction   Recommendation      `json:"recommended_action"`
	WinningVariantID    string              `json:"winning_variant_id,omitempty"`
	Results             []StatisticalResult `json:"results"`
	SampleSize          SampleSizeAnalysis  `json:"sample_size"`
	Power               PowerAnalysis       `json:"power"`
	QualityChecks       []QualityCheck      `json:"quality_checks"`
	TimeToSignificance  *TimeToSignificance `json:"time_to_significance,omitempty"`
	ConfidenceLevel     float64             `json:"confidence_level"`
	AnalyzedAt          time.Time           `json:"analyzed_at"`
}

// Control returns the control's result.
func (a *TestAnalysis) Control() (StatisticalResult, bool) {
	for _, r := range a.Results {
		if r.IsControl {
			return r, true
		}
	}
	return StatisticalResult{}, false
}

// Candidates returns every non-control result.
func (a *TestAnalysis) Candidates() []StatisticalResult {
	out := make([]StatisticalResult, 0, len(a.Results))
	for _, r := range a.Results {
		if !r.IsControl {
			out = append(out, r)
		}
	}
	return out
}

// HasBlockingIssue reports whether any high-impact quality check failed.
func (a *TestAnalysis) HasBlockingIssue() bool {
	for _, q := range a.QualityChecks {
		if q.Blocking() {
			return true
		}
	}
	return false
}
