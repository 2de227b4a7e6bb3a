// Package significance turns per-variant counters into a TestAnalysis:
// control comparisons, data-quality checks, sample-size and power analysis,
// and a coarse status and recommendation.
package significance

import (
	"math"
	"time"

	"github.com/headline-goat/verdict/internal/stats"
)

const (
	DefaultConfidence          = 0.95
	DefaultMinimumEffect       = 0.10
	DefaultTargetPower         = 0.80
	DefaultMinSamplePerVariant = 1000
)

// Engine analyzes a test's variants. It holds configuration only and is
// safe for concurrent use.
type Engine struct {
	confidence          float64
	minimumEffect       float64
	targetPower         float64
	minSamplePerVariant int
	now                 func() time.Time
}

type Option func(*Engine)

// WithClock overrides the wall clock used for daily-rate extrapolation.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithDefaultConfidence sets the confidence used when a call passes none.
func WithDefaultConfidence(c float64) Option {
	return func(e *Engine) {
		if c > 0 && c < 1 {
			e.confidence = c
		}
	}
}

// WithMinSamplePerVariant sets the per-variant traffic floor below which a
// test is reported as insufficient_data.
func WithMinSamplePerVariant(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.minSamplePerVariant = n
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		confidence:          DefaultConfidence,
		minimumEffect:       DefaultMinimumEffect,
		targetPower:         DefaultTargetPower,
		minSamplePerVariant: DefaultMinSamplePerVariant,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AnalyzeTest compares every variant against the control and derives the
// test's status. targetConfidence <= 0 uses the engine default.
//
// It returns a *ConfigurationError when the variant set has no control,
// more than one control, or counters that violate
// impressions >= conversions >= 0.
func (e *Engine) AnalyzeTest(testID string, variants []Variant, targetConfidence float64) (*TestAnalysis, error) {
	confidence := targetConfidence
	if confidence <= 0 || confidence >= 1 {
		confidence = e.confidence
	}

	control, err := validate(testID, variants)
	if err != nil {
		return nil, err
	}

	results := make([]StatisticalResult, 0, len(variants))
	for _, v := range variants {
		if v.IsControl {
			results = append(results, controlResult(v, confidence))
			continue
		}
		results = append(results, compare(control, v, confidence))
	}

	analysis := &TestAnalysis{
		TestID:          testID,
		Results:         results,
		QualityChecks:   RunQualityChecks(variants),
		SampleSize:      e.sampleSizeAnalysis(control, variants, confidence),
		Power:           e.powerAnalysis(control, confidence),
		ConfidenceLevel: confidence,
		AnalyzedAt:      e.now(),
	}

	analysis.OverallSignificance, analysis.WinningVariantID = overallSignificance(results)
	analysis.Status = e.status(analysis, variants)
	analysis.RecommendedAction = recommend(analysis)
	analysis.TimeToSignificance = e.timeToSignificance(control, results, confidence)

	return analysis, nil
}

func validate(testID string, variants []Variant) (Variant, error) {
	if len(variants) == 0 {
		return Variant{}, configErr(testID, ErrNoVariants)
	}

	var control *Variant
	for i := range variants {
		m := variants[i].Metrics
		if m.Impressions < 0 || m.Clicks < 0 || m.Conversions < 0 || m.Revenue < 0 || m.Conversions > m.Impressions {
			return Variant{}, configErr(testID, ErrInvalidMetrics)
		}
		if !variants[i].IsControl {
			continue
		}
		if control != nil {
			return Variant{}, configErr(testID, ErrMultipleControls)
		}
		control = &variants[i]
	}

	if control == nil {
		return Variant{}, configErr(testID, ErrNoControl)
	}
	return *control, nil
}

func controlResult(v Variant, confidence float64) StatisticalResult {
	rate := v.Metrics.ConversionRate()
	return StatisticalResult{
		VariantID:           v.ID,
		VariantName:         v.Name,
		IsControl:           true,
		SampleSize:          v.Metrics.Impressions,
		Conversions:         v.Metrics.Conversions,
		ConversionRate:      rate,
		ConfidenceInterval:  stats.WaldInterval(v.Metrics.Conversions, v.Metrics.Impressions, confidence),
		StandardError:       stats.StandardError(rate, v.Metrics.Impressions),
		ZScore:              0,
		PValue:              1,
		IsSignificant:       false,
		ImprovementInterval: stats.ConfidenceInterval{Level: confidence},
		Revenue:             v.Metrics.Revenue,
	}
}

// compare runs the unpooled two-proportion z-test of v against control and
// a delta-method interval for the relative improvement.
func compare(control, v Variant, confidence float64) StatisticalResult {
	rateA := control.Metrics.ConversionRate()
	rateB := v.Metrics.ConversionRate()
	seA := stats.StandardError(rateA, control.Metrics.Impressions)
	seB := stats.StandardError(rateB, v.Metrics.Impressions)
	pooledSE := math.Sqrt(seA*seA + seB*seB)

	z := 0.0
	if pooledSE > 0 {
		z = (rateB - rateA) / pooledSE
	}
	p := stats.TwoTailedPValue(z)

	improvement := 0.0
	interval := stats.ConfidenceInterval{Level: confidence}
	if rateA > 0 {
		improvement = (rateB - rateA) / rateA
		// Var(B/A) ≈ seB²/A² + B²·seA²/A⁴
		seRatio := math.Sqrt(seB*seB/(rateA*rateA) + rateB*rateB*seA*seA/math.Pow(rateA, 4))
		margin := stats.ZCritical(confidence) * seRatio
		interval.Lower = improvement - margin
		interval.Upper = improvement + margin
	}

	return StatisticalResult{
		VariantID:           v.ID,
		VariantName:         v.Name,
		SampleSize:          v.Metrics.Impressions,
		Conversions:         v.Metrics.Conversions,
		ConversionRate:      rateB,
		ConfidenceInterval:  stats.WaldInterval(v.Metrics.Conversions, v.Metrics.Impressions, confidence),
		StandardError:       seB,
		ZScore:              z,
		PValue:              p,
		IsSignificant:       p < 1-confidence,
		RelativeImprovement: improvement,
		ImprovementInterval: interval,
		Revenue:             v.Metrics.Revenue,
	}
}

func overallSignificance(results []StatisticalResult) (float64, string) {
	best := 0.0
	winner := ""
	for _, r := range results {
		if r.IsControl || !r.IsSignificant {
			continue
		}
		if c := r.Confidence(); c > best {
			best = c
			winner = r.VariantID
		}
	}
	return best, winner
}

func (e *Engine) status(a *TestAnalysis, variants []Variant) Status {
	if a.HasBlockingIssue() {
		return StatusInconclusive
	}
	for _, r := range a.Results {
		if !r.IsControl && r.IsSignificant {
			return StatusSignificant
		}
	}
	if totalImpressions(variants) < e.minSamplePerVariant*len(variants) {
		return StatusInsufficientData
	}
	return StatusRunning
}

func recommend(a *TestAnalysis) Recommendation {
	switch {
	case a.HasBlockingIssue():
		return RecommendInvestigate
	case a.Status == StatusSignificant:
		return RecommendStop
	case a.Status == StatusInsufficientData,
		a.SampleSize.Progress < 50,
		a.Power.CurrentPower < 0.6:
		return RecommendContinue
	case a.SampleSize.Completion > 120:
		return RecommendStop
	default:
		return RecommendExtend
	}
}

func totalImpressions(variants []Variant) int {
	total := 0
	for _, v := range variants {
		total += v.Metrics.Impressions
	}
	return total
}
