package stats_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/headline-goat/verdict/internal/stats"
)

func TestWaldInterval_ContainsRate(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		trials := rapid.IntRange(1, 1_000_000).Draw(rt, "trials")
		successes := rapid.IntRange(0, trials).Draw(rt, "successes")
		level := rapid.SampledFrom([]float64{0.90, 0.95, 0.99}).Draw(rt, "level")

		ci := stats.WaldInterval(successes, trials, level)
		rate := float64(successes) / float64(trials)
		if !ci.Contains(rate) {
			rt.Fatalf("interval [%v, %v] does not contain %v", ci.Lower, ci.Upper, rate)
		}
	})
}

func TestWilsonInterval_ContainsRate(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		trials := rapid.IntRange(1, 100_000).Draw(rt, "trials")
		successes := rapid.IntRange(0, trials).Draw(rt, "successes")
		level := rapid.SampledFrom([]float64{0.90, 0.95, 0.99}).Draw(rt, "level")

		ci := stats.WilsonInterval(successes, trials, level)
		rate := float64(successes) / float64(trials)
		if !ci.Contains(rate) {
			rt.Fatalf("interval [%v, %v] does not contain %v", ci.Lower, ci.Upper, rate)
		}
	})
}

func TestWaldInterval_Basic(t *testing.T) {
	ci := stats.WaldInterval(500, 10000, 0.95)

	// 0.05 ± 1.96 * sqrt(0.05*0.95/10000)
	assert.InDelta(t, 0.045728, ci.Lower, 1e-5)
	assert.InDelta(t, 0.054272, ci.Upper, 1e-5)
	assert.Equal(t, 0.95, ci.Level)
}

func TestWaldInterval_ZeroTrials(t *testing.T) {
	ci := stats.WaldInterval(0, 0, 0.95)
	assert.Zero(t, ci.Lower)
	assert.Zero(t, ci.Upper)
}

func TestWilsonInterval_ClampedToUnit(t *testing.T) {
	ci := stats.WilsonInterval(10, 10, 0.95)
	assert.LessOrEqual(t, ci.Upper, 1.0)
	assert.Greater(t, ci.Lower, 0.5)

	ci = stats.WilsonInterval(0, 10, 0.95)
	assert.Zero(t, ci.Lower)
}

func TestWidthNarrowsWithSamples(t *testing.T) {
	small := stats.WaldInterval(50, 1000, 0.95)
	large := stats.WaldInterval(5000, 100000, 0.95)
	assert.Less(t, large.Width(), small.Width())
}

func TestMeanStdDev(t *testing.T) {
	mean, std := stats.MeanStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, mean, 1e-12)
	assert.InDelta(t, 2.0, std, 1e-12)

	mean, std = stats.MeanStdDev(nil)
	assert.Zero(t, mean)
	assert.Zero(t, std)
}

func TestWilsonInterval_ReferenceRanges(t *testing.T) {
	tests := []struct {
		name             string
		successes, n     int
		lowMin, lowMax   float64
		highMin, highMax float64
	}{
		{"50 percent", 50, 100, 0.38, 0.42, 0.58, 0.62},
		{"low conversion", 5, 100, 0.01, 0.03, 0.09, 0.13},
		{"high conversion", 95, 100, 0.87, 0.91, 0.97, 0.99},
		{"zero successes", 0, 100, 0, 0, 0.01, 0.05},
		{"all successes", 100, 100, 0.95, 0.99, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ci := stats.WilsonInterval(tt.successes, tt.n, 0.95)
			if ci.Lower < tt.lowMin || ci.Lower > tt.lowMax {
				t.Errorf("lower bound %f not in expected range [%.2f, %.2f]", ci.Lower, tt.lowMin, tt.lowMax)
			}
			if ci.Upper < tt.highMin || ci.Upper > tt.highMax {
				t.Errorf("upper bound %f not in expected range [%.2f, %.2f]", ci.Upper, tt.highMin, tt.highMax)
			}
		})
	}
}

func TestWilsonInterval_SmallSampleIsWide(t *testing.T) {
	if w := stats.WilsonInterval(5, 10, 0.95).Width(); w < 0.3 {
		t.Errorf("interval width %f too narrow for small sample", w)
	}
}
