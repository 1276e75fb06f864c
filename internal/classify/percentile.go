package classify

import (
	"math"
	"slices"

	"github.com/forest-guardian/ldn-engine/internal/raster"
)

// FrequencyDistribution holds the sorted unique reference values used to
// rank scores.
type FrequencyDistribution struct {
	values []float64
}

// NewFrequencyDistribution collects the unique valid values of refs. A
// positive widening pads both extremes by that fraction of the value span,
// so out-of-range scores still rank strictly inside the distribution.
func NewFrequencyDistribution(widening, nodata float64, refs ...[]float64) FrequencyDistribution {
	seen := map[float64]struct{}{}
	for _, ref := range refs {
		for _, v := range ref {
			if raster.IsNoData(v, nodata) || math.IsInf(v, 0) {
				continue
			}
			seen[v] = struct{}{}
		}
	}
	values := make([]float64, 0, len(seen)+2)
	for v := range seen {
		values = append(values, v)
	}
	slices.Sort(values)
	if widening > 0 && len(values) > 1 {
		span := values[len(values)-1] - values[0]
		lo := values[0] - widening*span
		hi := values[len(values)-1] + widening*span
		values = append([]float64{lo}, append(values, hi)...)
	}
	return FrequencyDistribution{values: values}
}

func (d FrequencyDistribution) Len() int { return len(d.values) }

// PercentileOfScore ranks score against the distribution, averaging the
// ranks of tied values. The result is in [0, 100].
func (d FrequencyDistribution) PercentileOfScore(score float64) float64 {
	n := len(d.values)
	if n == 0 {
		return math.NaN()
	}
	left, _ := slices.BinarySearch(d.values, score)
	right := left
	for right < n && d.values[right] == score {
		right++
	}
	tie := 0
	if right > left {
		tie = 1
	}
	return float64(left+right+tie) * 50 / float64(n)
}

// DecileOf converts a percentile into a class 1..10.
func DecileOf(pct float64) float64 {
	c := math.Ceil(pct / 10)
	return math.Max(1, math.Min(10, c))
}

// AssignPercentileClass maps each value to its decile class in dist.
func AssignPercentileClass(values []float64, dist FrequencyDistribution, nodata float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if raster.IsNoData(v, nodata) || dist.Len() == 0 {
			out[i] = nodata
			continue
		}
		out[i] = DecileOf(dist.PercentileOfScore(v))
	}
	return out
}
