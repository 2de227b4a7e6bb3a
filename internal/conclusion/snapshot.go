package conclusion

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/headline-goat/verdict/internal/significance"
)

// snapshot is the read-only view rule conditions are evaluated against.
type snapshot struct {
	analysis *significance.TestAnalysis
	variants []significance.Variant
	now      time.Time
}

// value maps every Metric to a number. Adding a Metric without a case here
// is reported as an error on first use.
func (s *snapshot) value(m Metric) (float64, error) {
	switch m {
	case MetricConfidence:
		return s.analysis.OverallSignificance, nil
	case MetricPValue:
		return s.minPValue(), nil
	case MetricSampleSize:
		return float64(s.analysis.SampleSize.Current), nil
	case MetricDuration:
		return s.durationDays(), nil
	case MetricImprovement:
		best, ok := s.bestCandidate()
		if !ok {
			return 0, nil
		}
		return best.RelativeImprovement * 100, nil
	case MetricRevenue:
		return s.totalRevenue(), nil
	case MetricRiskScore:
		best, ok := s.bestCandidate()
		if !ok {
			return 100, nil
		}
		return candidateRisk(best), nil
	default:
		return 0, errors.Errorf("no value mapping for metric %s", m)
	}
}

func (s *snapshot) minPValue() float64 {
	p := 1.0
	for _, r := range s.analysis.Candidates() {
		p = math.Min(p, r.PValue)
	}
	return p
}

// bestCandidate is the non-control result with the largest relative
// improvement.
func (s *snapshot) bestCandidate() (significance.StatisticalResult, bool) {
	var best significance.StatisticalResult
	found := false
	for _, r := range s.analysis.Candidates() {
		if !found || r.RelativeImprovement > best.RelativeImprovement {
			best = r
			found = true
		}
	}
	return best, found
}

func (s *snapshot) durationDays() float64 {
	start := s.startDate()
	if start.IsZero() {
		return 0
	}
	return math.Max(0, s.now.Sub(start).Hours()/24)
}

func (s *snapshot) startDate() time.Time {
	var start time.Time
	for _, v := range s.variants {
		if v.StartDate.IsZero() {
			continue
		}
		if start.IsZero() || v.StartDate.Before(start) {
			start = v.StartDate
		}
	}
	return start
}

func (s *snapshot) totalRevenue() float64 {
	total := 0.0
	for _, v := range s.variants {
		total += v.Metrics.Revenue
	}
	return total
}

func (s *snapshot) totalImpressions() int {
	return s.analysis.SampleSize.Current
}
