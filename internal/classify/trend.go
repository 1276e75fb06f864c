package classify

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/forest-guardian/ldn-engine/internal/raster"
)

// TrendOf returns the least-squares slope of y over x and the two-sided
// Mann-Kendall p-value of the series.
func TrendOf(x, y []float64) (slope, p float64) {
	_, slope = stat.LinearRegression(x, y, nil, false)
	return slope, MannKendall(y)
}

// MannKendall returns the two-sided p-value of the Mann-Kendall test using
// the normal approximation with tie correction.
func MannKendall(y []float64) float64 {
	n := len(y)
	if n < 3 {
		return 1
	}
	s := 0.0
	for i := 0; i < n-1; i++ {
		for j := i + 1; j < n; j++ {
			switch d := y[j] - y[i]; {
			case d > 0:
				s++
			case d < 0:
				s--
			}
		}
	}
	ties := map[float64]int{}
	for _, v := range y {
		ties[v]++
	}
	nf := float64(n)
	variance := nf * (nf - 1) * (2*nf + 5)
	for _, t := range ties {
		if t > 1 {
			tf := float64(t)
			variance -= tf * (tf - 1) * (2*tf + 5)
		}
	}
	variance /= 18
	if variance <= 0 {
		return 1
	}
	var z float64
	switch {
	case s > 0:
		z = (s - 1) / math.Sqrt(variance)
	case s < 0:
		z = (s + 1) / math.Sqrt(variance)
	}
	return 2 * (1 - distuv.UnitNormal.CDF(math.Abs(z)))
}

type TrendOption func(*trendOptions)

type trendOptions struct {
	progress func(int)
}

// WithProgress registers a callback invoked every 1000 pixels.
func WithProgress(fn func(done int)) TrendOption {
	return func(o *trendOptions) { o.progress = fn }
}

// LinearTrendAndSignificance computes per-pixel slope and p-value over a
// stack of per-year arrays. A pixel missing in any year yields nodata in
// both outputs.
func LinearTrendAndSignificance(years []int, stack [][]float64, nodata float64, opts ...TrendOption) (slope, p []float64, err error) {
	if len(years) != len(stack) {
		return nil, nil, fmt.Errorf("%d years for %d arrays", len(years), len(stack))
	}
	if len(stack) < 2 {
		return nil, nil, fmt.Errorf("trend needs at least 2 periods, got %d", len(stack))
	}
	o := trendOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	n := len(stack[0])
	for i, s := range stack {
		if len(s) != n {
			return nil, nil, fmt.Errorf("period %d has %d pixels, expected %d", years[i], len(s), n)
		}
	}

	x := make([]float64, len(years))
	for i, yr := range years {
		x[i] = float64(yr)
	}
	y := make([]float64, len(stack))
	slope = make([]float64, n)
	p = make([]float64, n)
	for px := 0; px < n; px++ {
		valid := true
		for t := range stack {
			v := stack[t][px]
			if raster.IsNoData(v, nodata) {
				valid = false
				break
			}
			y[t] = v
		}
		if valid {
			slope[px], p[px] = TrendOf(x, y)
		} else {
			slope[px], p[px] = nodata, nodata
		}
		if o.progress != nil && (px+1)%1000 == 0 {
			o.progress(1000)
		}
	}
	if o.progress != nil && n%1000 != 0 {
		o.progress(n % 1000)
	}
	return slope, p, nil
}

// ZScore compares a mean over n recent periods with a baseline mean and
// standard deviation.
func ZScore(current, baselineMean, baselineStd float64, n int) float64 {
	diff := current - baselineMean
	if baselineStd == 0 || n <= 0 {
		switch {
		case diff > 0:
			return math.Inf(1)
		case diff < 0:
			return math.Inf(-1)
		}
		return 0
	}
	return diff / (baselineStd / math.Sqrt(float64(n)))
}
