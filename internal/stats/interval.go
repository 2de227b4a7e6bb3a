package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// ConfidenceInterval is a closed interval around a point estimate.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Level float64 `json:"level"`
}

// Contains reports whether v lies inside the interval.
func (ci ConfidenceInterval) Contains(v float64) bool {
	return v >= ci.Lower && v <= ci.Upper
}

// Width returns Upper - Lower.
func (ci ConfidenceInterval) Width() float64 {
	return ci.Upper - ci.Lower
}

// WaldInterval calculates the normal-approximation interval for a binomial
// proportion: p ± z·sqrt(p(1-p)/n), clamped to [0, 1].
func WaldInterval(successes, trials int, level float64) ConfidenceInterval {
	if trials <= 0 {
		return ConfidenceInterval{Level: level}
	}

	p := float64(successes) / float64(trials)
	margin := ZCritical(level) * StandardError(p, trials)

	return ConfidenceInterval{
		Lower: math.Max(0, p-margin),
		Upper: math.Min(1, p+margin),
		Level: level,
	}
}

// WilsonInterval calculates the Wilson score confidence interval
// for a binomial proportion. It's more accurate for small samples
// than the normal approximation.
func WilsonInterval(successes, trials int, level float64) ConfidenceInterval {
	if trials <= 0 {
		return ConfidenceInterval{Level: level}
	}

	z := ZCritical(level)
	p := float64(successes) / float64(trials)
	n := float64(trials)

	denominator := 1 + z*z/n
	center := (p + z*z/(2*n)) / denominator
	spread := (z / denominator) * math.Sqrt(p*(1-p)/n+z*z/(4*n*n))

	ci := ConfidenceInterval{
		Lower: math.Max(0, center-spread),
		Upper: math.Min(1, center+spread),
		Level: level,
	}
	if successes == 0 {
		ci.Lower = 0
	}
	if successes >= trials {
		ci.Upper = 1
	}
	return ci
}

// StandardError is the binomial standard error sqrt(p(1-p)/n).
func StandardError(rate float64, trials int) float64 {
	if trials <= 0 {
		return 0
	}
	return math.Sqrt(rate * (1 - rate) / float64(trials))
}

// MeanStdDev returns the mean and population standard deviation of xs.
func MeanStdDev(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	return stat.PopMeanStdDev(xs, nil)
}
