package metrics

import "sort"

// Percentile returns the nearest-rank percentile of the samples.
// p is in [0,100]; an empty slice yields zero. The input is not mutated.
func Percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := int(float64(len(sorted))*p/100.0+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// MovingAverage returns the mean of the last window samples, or of all
// samples when fewer than window exist.
func MovingAverage(samples []float64, window int) float64 {
	if len(samples) == 0 || window <= 0 {
		return 0
	}
	if window > len(samples) {
		window = len(samples)
	}
	sum := 0.0
	for _, v := range samples[len(samples)-window:] {
		sum += v
	}
	return sum / float64(window)
}

// Trend classifies the direction of a metric over time
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
)

// trendThreshold is the relative change below which a metric is stable
const trendThreshold = 0.05

// ClassifyTrend compares the moving average of the last window samples
// against the prior window. higherBetter selects the direction reading:
// success rates improve upward, durations and token counts improve
// downward. Fewer than two windows of data reads as stable.
func ClassifyTrend(samples []float64, window int, higherBetter bool) Trend {
	if window <= 0 || len(samples) < 2*window {
		return TrendStable
	}
	recent := MovingAverage(samples, window)
	prior := MovingAverage(samples[:len(samples)-window], window)
	if prior == 0 {
		return TrendStable
	}

	change := (recent - prior) / prior
	switch {
	case change > trendThreshold:
		if higherBetter {
			return TrendImproving
		}
		return TrendDegrading
	case change < -trendThreshold:
		if higherBetter {
			return TrendDegrading
		}
		return TrendImproving
	default:
		return TrendStable
	}
}
