package significance

import (
	"math"

	"github.com/headline-goat/verdict/internal/stats"
)

func (e *Engine) sampleSizeAnalysis(control Variant, variants []Variant, confidence float64) SampleSizeAnalysis {
	alpha := 1 - confidence
	d := stats.EffectSize(control.Metrics.ConversionRate(), e.minimumEffect)
	perVariant := stats.RequiredSampleSize(d, e.targetPower, alpha)

	analysis := SampleSizeAnalysis{
		Current:                 totalImpressions(variants),
		RequiredPerVariant:      perVariant,
		Required:                perVariant * len(variants),
		MinimumDetectableEffect: e.minimumEffect,
	}
	if analysis.Required > 0 {
		analysis.Completion = float64(analysis.Current) / float64(analysis.Required) * 100
		analysis.Progress = math.Min(100, analysis.Completion)
	}
	return analysis
}

func (e *Engine) powerAnalysis(control Variant, confidence float64) PowerAnalysis {
	alpha := 1 - confidence
	d := stats.EffectSize(control.Metrics.ConversionRate(), e.minimumEffect)
	return PowerAnalysis{
		CurrentPower: stats.Power(control.Metrics.Impressions, d, alpha),
		TargetPower:  e.targetPower,
		EffectSize:   d,
		Alpha:        alpha,
	}
}

// timeToSignificance extrapolates the control's impressions per day to
// estimate when the best improving candidate's effect becomes detectable.
// It returns nil when no candidate improves on the control or the daily
// rate cannot be determined.
func (e *Engine) timeToSignificance(control Variant, results []StatisticalResult, confidence float64) *TimeToSignificance {
	var best *StatisticalResult
	for i := range results {
		r := &results[i]
		if r.IsControl || r.RelativeImprovement <= 0 {
			continue
		}
		if best == nil || r.RelativeImprovement > best.RelativeImprovement {
			best = r
		}
	}
	if best == nil || control.Metrics.Impressions == 0 {
		return nil
	}

	days := 1.0
	if !control.StartDate.IsZero() {
		days = math.Max(1, e.now().Sub(control.StartDate).Hours()/24)
	}
	daily := float64(control.Metrics.Impressions) / days

	d := stats.EffectSize(control.Metrics.ConversionRate(), best.RelativeImprovement)
	required := stats.RequiredSampleSize(d, e.targetPower, 1-confidence)
	if required == 0 || daily <= 0 {
		return nil
	}

	remaining := math.Max(0, float64(required-control.Metrics.Impressions))
	return &TimeToSignificance{
		EstimatedDays:      math.Ceil(remaining / daily),
		DailyImpressions:   daily,
		RequiredSampleSize: required,
		VariantID:          best.VariantID,
	}
}
