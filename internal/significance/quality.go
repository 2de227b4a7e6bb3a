package significance

import (
	"fmt"
	"math"

	"github.com/headline-goat/verdict/internal/stats"
)

const outlierThreshold = 3.0

// RunQualityChecks runs every data-quality check against the variant set.
// Outlier detection contributes zero or more checks, one per offending
// variant.
func RunQualityChecks(variants []Variant) []QualityCheck {
	checks := []QualityCheck{
		SampleRatioMismatch(variants),
		DataCompleteness(variants),
		TrafficAllocation(variants),
	}
	return append(checks, Outliers(variants)...)
}

// SampleRatioMismatch compares observed impressions with the split implied
// by each variant's traffic allocation using a chi-square goodness-of-fit
// test at df = len(variants)-1.
func SampleRatioMismatch(variants []Variant) QualityCheck {
	check := QualityCheck{
		Name:   CheckSampleRatioMismatch,
		Status: CheckPass,
		Impact: ImpactHigh,
	}

	total := totalImpressions(variants)
	allocated := 0.0
	for _, v := range variants {
		allocated += v.TrafficAllocation
	}
	if total == 0 || allocated <= 0 || len(variants) < 2 {
		check.Description = "not enough traffic to test the sample ratio"
		return check
	}

	chi := 0.0
	for _, v := range variants {
		expected := float64(total) * v.TrafficAllocation / allocated
		if expected <= 0 {
			continue
		}
		diff := float64(v.Metrics.Impressions) - expected
		chi += diff * diff / expected
	}

	critical := stats.ChiSquareCritical(len(variants) - 1)
	check.Value = chi
	if chi > critical {
		check.Status = CheckFail
		check.Description = fmt.Sprintf("observed traffic split deviates from allocation (χ²=%.2f > %.2f)", chi, critical)
		check.Remediation = "Verify randomization and tracking; results are unreliable until the split matches allocation"
		return check
	}

	check.Description = fmt.Sprintf("traffic split matches allocation (χ²=%.2f)", chi)
	return check
}

// DataCompleteness measures the share of variants that have received
// traffic. Below 100% warns, below 90% fails.
func DataCompleteness(variants []Variant) QualityCheck {
	check := QualityCheck{
		Name:   CheckDataCompleteness,
		Status: CheckPass,
		Impact: ImpactMedium,
	}
	if len(variants) == 0 {
		return check
	}

	complete := 0
	for _, v := range variants {
		if v.Metrics.Impressions > 0 {
			complete++
		}
	}
	pct := float64(complete) / float64(len(variants)) * 100
	check.Value = pct
	check.Description = fmt.Sprintf("%.0f%% of variants have data", pct)

	switch {
	case pct < 90:
		check.Status = CheckFail
		check.Remediation = "Check that every variant is being served and tracked"
	case pct < 100:
		check.Status = CheckWarning
		check.Remediation = "Some variants have not received traffic yet"
	}
	return check
}

// TrafficAllocation verifies that declared allocations sum to 100 (±0.1).
func TrafficAllocation(variants []Variant) QualityCheck {
	sum := 0.0
	for _, v := range variants {
		sum += v.TrafficAllocation
	}

	check := QualityCheck{
		Name:        CheckTrafficAllocation,
		Status:      CheckPass,
		Impact:      ImpactHigh,
		Value:       sum,
		Description: fmt.Sprintf("allocations sum to %.1f%%", sum),
	}
	if math.Abs(sum-100) > 0.1 {
		check.Status = CheckFail
		check.Remediation = "Fix the experiment configuration so allocations sum to 100%"
	}
	return check
}

// Outliers flags variants whose conversion rate is more than three
// standard deviations from the cross-variant mean.
func Outliers(variants []Variant) []QualityCheck {
	if len(variants) < 3 {
		return nil
	}

	rates := make([]float64, len(variants))
	for i, v := range variants {
		rates[i] = v.Metrics.ConversionRate()
	}
	mean, std := stats.MeanStdDev(rates)
	if std == 0 {
		return nil
	}

	var checks []QualityCheck
	for i, v := range variants {
		z := (rates[i] - mean) / std
		if math.Abs(z) <= outlierThreshold {
			continue
		}
		checks = append(checks, QualityCheck{
			Name:        CheckOutlierDetection,
			Status:      CheckWarning,
			Impact:      ImpactLow,
			Value:       z,
			VariantID:   v.ID,
			Description: fmt.Sprintf("variant %s conversion rate is %.1f standard deviations from the mean", v.ID, z),
			Remediation: "Inspect the variant for bot traffic or tracking errors",
		})
	}
	return checks
}
