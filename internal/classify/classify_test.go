package classify

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nd = -32768.0

func TestThresholdMatrixValidate(t *testing.T) {
	ok := Breaks([]float64{-0.95, 0.95}, []float64{-1, 0, 1})
	require.NoError(t, ok.Validate())

	gap := ThresholdMatrix{
		{Low: math.Inf(-1), High: 0, Class: 1},
		{Low: 0.5, High: math.Inf(1), Class: 2},
	}
	assert.Error(t, gap.Validate())

	open := ThresholdMatrix{{Low: 0, High: math.Inf(1), Class: 1}}
	assert.Error(t, open.Validate())

	_, err := ApplyThresholdMatrix([]float64{1}, gap, nd)
	assert.Error(t, err)
}

func TestApplyThresholdMatrixHalfOpen(t *testing.T) {
	m := Breaks([]float64{5, 10, 20, 50}, []float64{1, 2, 3, 4, 5})
	out, err := ApplyThresholdMatrix([]float64{-3, 5, 9.99, 10, 40, 50, math.Inf(1), nd, math.NaN()}, m, nd)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 2, 3, 4, 5, 5, nd, nd}, out)
}

func TestClassificationCompleteness(t *testing.T) {
	m := Breaks([]float64{0.05, 0.2, 0.5, 0.65}, []float64{1, 2, 3, 4, 5})
	for _, v := range []float64{-1e300, -1, 0, 0.05, 0.1999, 0.5, 0.65, 1e300, math.Inf(-1)} {
		_, ok := m.Classify(v)
		assert.True(t, ok, "value %v unclassified", v)
	}
}

func TestApplyTransitionMatrix(t *testing.T) {
	m := TransitionMatrix{
		{Base: 7, Target: 5}: -1,
		{Base: 5, Target: 7}: 1,
		{Base: 7, Target: 7}: 0,
	}
	out, err := ApplyTransitionMatrix(
		[]float64{7, 5, 7, 3, nd, 7},
		[]float64{5, 7, 7, 3, 7, 5.5},
		m, nd)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, 1, 0, nd, nd, nd}, out)

	_, err = ApplyTransitionMatrix([]float64{1}, []float64{1, 2}, m, nd)
	assert.Error(t, err)
}

func TestReclassify(t *testing.T) {
	out := Reclassify([]float64{10, 20, 99, nd}, map[int]float64{10: 7, 20: 6}, false, nd)
	assert.Equal(t, []float64{7, 6, nd, nd}, out)
	kept := Reclassify([]float64{10, 99}, map[int]float64{10: 7}, true, nd)
	assert.Equal(t, []float64{7, 99}, kept)
}

func TestPercentileOfScoreRank(t *testing.T) {
	d := NewFrequencyDistribution(0, nd, []float64{1, 2, 3, 4, nd})
	assert.InDelta(t, 75.0, d.PercentileOfScore(3), 1e-9)
	assert.InDelta(t, 0.0, d.PercentileOfScore(0), 1e-9)
	assert.InDelta(t, 100.0, d.PercentileOfScore(5), 1e-9)
	assert.InDelta(t, 50.0, d.PercentileOfScore(2.5), 1e-9)
}

func TestPercentileWidening(t *testing.T) {
	d := NewFrequencyDistribution(0.05, nd, []float64{0, 10})
	assert.Equal(t, 4, d.Len())
	assert.Greater(t, d.PercentileOfScore(10), 50.0)
	assert.Less(t, d.PercentileOfScore(10), 100.0)
}

func TestPercentileMonotonic(t *testing.T) {
	d := NewFrequencyDistribution(0.05, nd, []float64{0.1, 0.4, 0.4, 0.2, 0.9, 0.7}, []float64{0.3, 0.5})
	prevPct, prevClass := -1.0, 0.0
	for v := -0.5; v <= 1.5; v += 0.01 {
		pct := d.PercentileOfScore(v)
		class := AssignPercentileClass([]float64{v}, d, nd)[0]
		assert.GreaterOrEqual(t, pct, prevPct)
		assert.GreaterOrEqual(t, class, prevClass)
		prevPct, prevClass = pct, class
	}
}

func TestMannKendall(t *testing.T) {
	rising := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Less(t, MannKendall(rising), 0.001)

	flat := []float64{3, 3, 3, 3, 3}
	assert.Equal(t, 1.0, MannKendall(flat))

	noisy := []float64{1, 3, 2, 3, 1, 2, 3, 1}
	assert.Greater(t, MannKendall(noisy), 0.5)
}

func TestLinearTrendAndSignificance(t *testing.T) {
	years := []int{2001, 2002, 2003, 2004, 2005, 2006, 2007, 2008}
	stack := make([][]float64, len(years))
	for i := range years {
		stack[i] = []float64{0.1 + 0.05*float64(i), 0.9 - 0.02*float64(i), 0.5}
	}
	stack[3][2] = nd

	done := 0
	slope, p, err := LinearTrendAndSignificance(years, stack, nd, WithProgress(func(n int) { done += n }))
	require.NoError(t, err)
	assert.InDelta(t, 0.05, slope[0], 1e-9)
	assert.InDelta(t, -0.02, slope[1], 1e-9)
	assert.Less(t, p[0], 0.01)
	assert.Equal(t, nd, slope[2])
	assert.Equal(t, nd, p[2])
	assert.Equal(t, 3, done)

	_, _, err = LinearTrendAndSignificance(years[:2], stack, nd)
	assert.Error(t, err)
}

func TestZScore(t *testing.T) {
	assert.InDelta(t, 2*math.Sqrt(3), ZScore(3, 1, 1, 3), 1e-9)
	assert.Equal(t, 0.0, ZScore(1, 1, 0, 3))
	assert.True(t, math.IsInf(ZScore(2, 1, 0, 3), 1))
}

func TestFuzzifier(t *testing.T) {
	for _, c := range []Curve{Linear, Exponential, Sigmoid} {
		f := Fuzzifier{Curve: c, Increasing: true, Low: 0, High: 100}
		assert.InDelta(t, 0, f.Apply(-5), 1e-9, c.String())
		assert.InDelta(t, 1, f.Apply(150), 1e-9, c.String())
		prev := -1.0
		for v := 0.0; v <= 100; v += 5 {
			m := f.Apply(v)
			assert.GreaterOrEqual(t, m, prev, c.String())
			prev = m
		}
	}
	dec := Fuzzifier{Curve: Linear, Low: 0, High: 10}
	assert.InDelta(t, 0.75, dec.Apply(2.5), 1e-9)
	assert.Error(t, Fuzzifier{Low: 1, High: 1}.Validate())

	c, err := ParseCurve("Sigmoid")
	require.NoError(t, err)
	assert.Equal(t, Sigmoid, c)
	_, err = ParseCurve("cubic")
	assert.Error(t, err)
}
