// Package stats holds the numerical primitives used by the decision engine.
// Everything here is a pure function of its arguments.
package stats

import (
	"math"
)

// Zelen & Severo coefficients (Abramowitz and Stegun 26.2.17).
const (
	zsP  = 0.2316419
	zsB1 = 0.319381530
	zsB2 = -0.356563782
	zsB3 = 1.781477937
	zsB4 = -1.821255978
	zsB5 = 1.330274429
)

// NormalCDF approximates the cumulative distribution function of the
// standard normal distribution. Absolute error is below 7.5e-8; Φ(0) is
// exactly 0.5 and Φ(-x) is computed as 1-Φ(x).
func NormalCDF(x float64) float64 {
	if math.IsNaN(x) {
		return math.NaN()
	}
	if x == 0 {
		return 0.5
	}
	if x < 0 {
		return 1 - NormalCDF(-x)
	}

	t := 1.0 / (1.0 + zsP*x)
	pdf := math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
	poly := ((((zsB5*t+zsB4)*t+zsB3)*t+zsB2)*t + zsB1) * t

	return 1 - pdf*poly
}

// ZCritical returns the two-sided critical value for a confidence level,
// or the one-sided quantile when called with a power value.
//
// Only 0.90, 0.95 and 0.99 are tabulated; every other input returns 1.96.
func ZCritical(level float64) float64 {
	switch {
	case approxEqual(level, 0.90):
		return 1.645
	case approxEqual(level, 0.95):
		return 1.96
	case approxEqual(level, 0.99):
		return 2.576
	default:
		return 1.96
	}
}

var chiSquare05 = [...]float64{3.841, 5.991, 7.815, 9.488, 11.070}

// ChiSquareCritical returns the chi-square critical value at alpha 0.05.
// Degrees of freedom outside 1..5 fall back to the df=1 value.
func ChiSquareCritical(df int) float64 {
	if df < 1 || df > len(chiSquare05) {
		return chiSquare05[0]
	}
	return chiSquare05[df-1]
}

// EffectSize returns the standardized effect for moving a baseline
// conversion rate by a relative improvement. Degenerate baselines (0 or 1)
// have no variance and yield 0.
func EffectSize(baselineRate, relativeImprovement float64) float64 {
	variance := baselineRate * (1 - baselineRate)
	if variance <= 0 {
		return 0
	}
	newRate := baselineRate * (1 + relativeImprovement)
	return (newRate - baselineRate) / math.Sqrt(variance)
}

// RequiredSampleSize returns the per-variant sample size needed to detect
// effectSize with the given power at significance level alpha.
// A zero effect cannot be detected at any size and returns 0.
func RequiredSampleSize(effectSize, power, alpha float64) int {
	d := math.Abs(effectSize)
	if d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return 0
	}
	zAlpha := ZCritical(1 - alpha)
	zBeta := ZCritical(power)
	ratio := (zAlpha + zBeta) / d
	return int(math.Ceil(2 * ratio * ratio))
}

// Power returns the probability of detecting effectSize with sampleSize
// observations per variant at significance level alpha.
func Power(sampleSize int, effectSize, alpha float64) float64 {
	if sampleSize <= 0 {
		return 0
	}
	zAlpha := ZCritical(1 - alpha)
	return NormalCDF(math.Abs(effectSize)*math.Sqrt(float64(sampleSize)/2) - zAlpha)
}

// TwoTailedPValue converts a z statistic into a two-tailed p-value.
func TwoTailedPValue(z float64) float64 {
	p := 2 * (1 - NormalCDF(math.Abs(z)))
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
