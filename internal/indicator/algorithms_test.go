package indicator

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest-guardian/ldn-engine/internal/classify"
	"github.com/forest-guardian/ldn-engine/internal/errs"
	"github.com/forest-guardian/ldn-engine/internal/raster"
)

const nd = -32768.0

func row(t *testing.T, values ...float64) raster.Layer {
	t.Helper()
	l, err := raster.FromRows([][]float64{values}, nd)
	require.NoError(t, err)
	return l
}

func TestLandCover(t *testing.T) {
	out := LandCover(row(t, 0, 3, 8, 5.5, nd, 7), nd)
	assert.Equal(t, []float64{nd, 3, nd, nd, nd, 7}, out.Data)
}

func TestLandCoverChange(t *testing.T) {
	base := row(t, Forest, Cropland, Grassland, Water, Forest, nd)
	target := row(t, Cropland, Forest, Cropland, Forest, Forest, Forest)
	out, err := LandCoverChange(base, target, LULCTransitions(), nd)
	require.NoError(t, err)
	assert.Equal(t, []float64{Degraded, Improved, Improved, Stable, Stable, nd}, out.Data)

	_, err = LandCoverChange(base, row(t, 1), LULCTransitions(), nd)
	assert.Error(t, err)
}

func TestLULCTransitionsIsCopy(t *testing.T) {
	m := LULCTransitions()
	assert.Len(t, m, 49)
	m[classify.Transition{Base: Forest, Target: Cropland}] = Improved
	assert.Equal(t, float64(Degraded), LULCTransitions()[classify.Transition{Base: Forest, Target: Cropland}])
}

func TestSOCFactor(t *testing.T) {
	cases := []struct {
		base, target, climate int
		want                  float64
		ok                    bool
	}{
		{Forest, Forest, TemperateDry, 1, true},
		{Forest, Cropland, TemperateDry, 0.8, true},
		{Cropland, Grassland, TropicalMoist, 1 / 0.48, true},
		{Grassland, Artificial, TropicalDry, 0.1, true},
		{Artificial, Forest, TropicalDry, 2, true},
		{Wetland, Cropland, TemperateMoist, 0.71, true},
		{Water, Bareland, TemperateMoist, 1, true},
		{Forest, Cropland, 9, 0, false},
	}
	for _, tc := range cases {
		got, ok := SOCFactor(tc.base, tc.target, tc.climate)
		assert.Equal(t, tc.ok, ok)
		assert.InDelta(t, tc.want, got, 1e-9, "%d->%d in %d", tc.base, tc.target, tc.climate)
	}
}

func TestSOCChange(t *testing.T) {
	base := row(t, Forest, Grassland, Cropland, Forest)
	target := row(t, Cropland, Grassland, Forest, Forest)
	reference := row(t, 100, 50, 40, nd)
	climate := row(t, TemperateDry, TemperateDry, TemperateDry, TemperateDry)

	soc, err := SOCChange(base, target, reference, climate, 10, nd)
	require.NoError(t, err)
	assert.Equal(t, []float64{Degraded, Stable, Improved, nd}, soc.Classified.Data)
	assert.InDelta(t, 80, soc.Target.Data[0], 1e-9)
	assert.InDelta(t, -20, soc.PercentChange.Data[0], 1e-9)
	assert.InDelta(t, 25, soc.PercentChange.Data[2], 1e-9)
	assert.Equal(t, nd, soc.PercentChange.Data[3])
}

func TestProductivityTrajectory(t *testing.T) {
	var years []int
	var stack []raster.Layer
	for i := 0; i < 10; i++ {
		years = append(years, 2005+i)
		stack = append(stack, row(t, float64(i), 5, float64(10-i), nd))
	}
	out, err := ProductivityTrajectory(years, stack, TrajectoryTernary, nd)
	require.NoError(t, err)
	assert.Equal(t, []float64{Improved, Stable, Degraded, nd}, out.Data)

	five, err := ProductivityTrajectory(years, stack, TrajectoryFiveClass, nd)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 0, -2, nd}, five.Data)
}

func TestSignedConfidence(t *testing.T) {
	out := SignedConfidence([]float64{2, -1, 0, nd}, []float64{0.01, 0.2, 0.5, nd}, nd)
	assert.InDeltaSlice(t, []float64{0.99, -0.8, 0, nd}, out, 1e-12)
}

func stateStack(t *testing.T, recent ...float64) []raster.Layer {
	t.Helper()
	baseline := []float64{1, 2, 1, 2, 1, 2, 1}
	var stack []raster.Layer
	for _, v := range baseline {
		stack = append(stack, row(t, v, v, v))
	}
	for _, v := range recent {
		stack = append(stack, row(t, 5, v, -5))
	}
	return stack
}

func TestProductivityState(t *testing.T) {
	stack := stateStack(t, 1.5, 1.5, 1.5)

	z, err := ProductivityState(stack, 2, 0.05, nd)
	require.NoError(t, err)
	assert.Equal(t, []float64{Improved, Stable, Degraded}, z.Data)

	_, err = ProductivityState(stack[:4], 1, 0.05, nd)
	assert.Error(t, err)
}

// levelStack holds five baseline years at base and three recent years at
// recent, pixel by pixel.
func levelStack(t *testing.T, base, recent []float64) []raster.Layer {
	t.Helper()
	var stack []raster.Layer
	for i := 0; i < 5; i++ {
		stack = append(stack, row(t, base...))
	}
	for i := 0; i < 3; i++ {
		stack = append(stack, row(t, recent...))
	}
	return stack
}

func TestProductivityStateRanksAcrossArea(t *testing.T) {
	base := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	recent := []float64{3, 2, 3, 4, 2, 6, 7, 8, 9, 12}
	out, err := ProductivityState(levelStack(t, base, recent), 1, 0, nd)
	require.NoError(t, err)
	// The first and last pixels both gain 2, but only the first moves up
	// two deciles of the area's baseline.
	assert.Equal(t, []float64{Improved, Stable, Stable, Stable, Degraded, Stable, Stable, Stable, Stable, Stable}, out.Data)

	recent[3] = nd
	out, err = ProductivityState(levelStack(t, base, recent), 1, 0, nd)
	require.NoError(t, err)
	assert.Equal(t, nd, out.Data[3])
}

func TestProductivityStatePopulationStd(t *testing.T) {
	// Baseline 1,3,1,3,1 has a population deviation of 0.98 and a sample
	// deviation of 1.10; a recent mean of 2.97 only clears 1.96 with the
	// former.
	var stack []raster.Layer
	for _, v := range []float64{1, 3, 1, 3, 1, 2.97, 2.97, 2.97} {
		stack = append(stack, row(t, v))
	}
	out, err := ProductivityState(stack, 2, 0, nd)
	require.NoError(t, err)
	assert.Equal(t, []float64{Improved}, out.Data)
}

func TestProductivityPerformance(t *testing.T) {
	units := row(t, 1, 1, 1, 1, 2, nd)
	stack := []raster.Layer{
		row(t, 1, 2, 3, 10, 4, 4),
		row(t, 1, 2, 3, 10, 4, 4),
	}
	out, units2, err := ProductivityPerformance(stack, units, 0.5, 90, nd)
	require.NoError(t, err)
	assert.Equal(t, 2, units2)
	assert.Equal(t, []float64{Degraded, Degraded, Degraded, Stable, Stable, nd}, out.Data)
}

func TestMinYears(t *testing.T) {
	assert.Equal(t, 8, MinYears(1))
	assert.Equal(t, 16, MinYears(2))
}

func TestCombineProductivity(t *testing.T) {
	traj := row(t, Degraded, Improved, Stable, Stable, Improved, nd)
	state := row(t, Stable, Degraded, Degraded, Degraded, Stable, Stable)
	perf := row(t, Stable, Degraded, Degraded, Stable, Degraded, Stable)
	out, err := CombineProductivity(traj, state, perf, nd)
	require.NoError(t, err)
	assert.Equal(t, []float64{Degraded, Stable, Degraded, Stable, Improved, nd}, out.Data)
}

func TestDegradationTables(t *testing.T) {
	binary := DegradationTable(DegradationBinary)
	ternary := DegradationTable(DegradationTernary)
	assert.Len(t, binary, 8)
	assert.Len(t, ternary, 27)

	assert.Equal(t, Stable, binary[[3]int{Stable, Stable, Stable}])
	assert.Equal(t, Degraded, binary[[3]int{Stable, Degraded, Stable}])
	assert.Equal(t, Improved, ternary[[3]int{Stable, Improved, Stable}])
	assert.Equal(t, Degraded, ternary[[3]int{Improved, Improved, Degraded}])

	binary[[3]int{Stable, Stable, Stable}] = Degraded
	assert.Equal(t, Stable, DegradationTable(DegradationBinary)[[3]int{Stable, Stable, Stable}])
}

func TestCombineDegradationAnyDegraded(t *testing.T) {
	states := []float64{Degraded, Stable, Improved}
	var traj, state, perf []float64
	for _, a := range states {
		for _, b := range states {
			for _, c := range states {
				traj, state, perf = append(traj, a), append(state, b), append(perf, c)
			}
		}
	}
	out, err := CombineDegradation(row(t, traj...), row(t, state...), row(t, perf...), DegradationBinary, nd)
	require.NoError(t, err)
	for i, v := range out.Data {
		want := float64(Stable)
		if traj[i] == Degraded || state[i] == Degraded || perf[i] == Degraded {
			want = Degraded
		}
		assert.Equal(t, want, v, "trajectory %v state %v performance %v", traj[i], state[i], perf[i])
	}

	out, err = CombineDegradation(row(t, Stable), row(t, Degraded), row(t, Stable), DegradationBinary, nd)
	require.NoError(t, err)
	assert.Equal(t, []float64{Degraded}, out.Data)
}

func TestCombineDegradation(t *testing.T) {
	prod := row(t, Stable, Improved, Stable, Degraded, nd)
	lc := row(t, Stable, Stable, Improved, Improved, Stable)
	soc := row(t, Improved, Stable, Stable, Stable, Stable)

	binary, err := CombineDegradation(prod, lc, soc, DegradationBinary, nd)
	require.NoError(t, err)
	assert.Equal(t, []float64{Stable, Stable, Stable, Degraded, nd}, binary.Data)

	ternary, err := CombineDegradation(prod, lc, soc, DegradationTernary, nd)
	require.NoError(t, err)
	assert.Equal(t, []float64{Improved, Improved, Improved, Degraded, nd}, ternary.Data)
	assert.Equal(t, 1, degradedCount(ternary))
}

func TestAridityIndex(t *testing.T) {
	ai, err := AridityIndex(row(t, 100, 600, 0, nd), row(t, 1000, 1000, 0, 1000), nd)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, ai.Data[0], 1e-12)
	assert.InDelta(t, 0.6, ai.Data[1], 1e-12)
	assert.Equal(t, nd, ai.Data[2])
	assert.Equal(t, nd, ai.Data[3])

	classes, err := classify.ApplyThresholdMatrix(ai.Data, aridityMatrix, nd)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, nd, nd}, classes)
}

func TestFactorScore(t *testing.T) {
	rainfall := climateFactors[0]
	out := FactorScore(row(t, 200, 280, 650, 1000, nd), rainfall, nd)
	assert.Equal(t, []float64{2, 2, 1, 1, nd}, out.Data)

	aspect := climateFactors[2]
	out = FactorScore(row(t, 225, 45, -1), aspect, nd)
	assert.InDeltaSlice(t, []float64{2, 1, 1}, out.Data, 1e-12)
}

func TestGeometricMean(t *testing.T) {
	out, err := GeometricMean([]raster.Layer{row(t, 2, 1, nd), row(t, 8, 1, 3)}, nd)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{4, 1, nd}, out.Data, 1e-12)

	_, err = GeometricMean(nil, nd)
	assert.Error(t, err)
}

func TestQualityIndex(t *testing.T) {
	layers := []raster.Layer{row(t, 1), row(t, 3)}
	factors := managementFactors
	out, err := QualityIndex(layers, factors, nd)
	require.NoError(t, err)
	// scores 1 and 2
	assert.InDelta(t, math.Sqrt2, out.Data[0], 1e-12)

	_, err = QualityIndex(layers[:1], factors, nd)
	assert.Error(t, err)
}

func TestMedalusOptions(t *testing.T) {
	override := classify.Fuzzifier{Curve: classify.Sigmoid, Increasing: true, Low: 0, High: 10}
	factors, err := MedalusOptions{Factors: map[string]classify.Fuzzifier{"slope": override}}.apply(soilFactors)
	require.NoError(t, err)
	assert.Equal(t, override, factors[4].Fuzzy)
	assert.NotEqual(t, override, soilFactors[4].Fuzzy)

	var pve *errs.ParameterValidationError
	_, err = MedalusOptions{Factors: map[string]classify.Fuzzifier{"nope": override}}.apply(soilFactors)
	assert.True(t, errors.As(err, &pve))
	_, err = MedalusOptions{Factors: map[string]classify.Fuzzifier{"aspect": override}}.apply(climateFactors)
	assert.True(t, errors.As(err, &pve))
	_, err = MedalusOptions{Factors: map[string]classify.Fuzzifier{"slope": {Low: 3, High: 3}}}.apply(soilFactors)
	assert.True(t, errors.As(err, &pve))

	// With several factor sets in scope a name of another set is skipped.
	rainfall := MedalusOptions{Factors: map[string]classify.Fuzzifier{"rainfall": override}}
	factors, err = rainfall.apply(soilFactors, soilFactors, climateFactors)
	require.NoError(t, err)
	assert.Equal(t, soilFactors, factors)
	factors, err = rainfall.apply(climateFactors, soilFactors, climateFactors)
	require.NoError(t, err)
	assert.Equal(t, override, factors[0].Fuzzy)
	_, err = rainfall.apply(soilFactors, soilFactors, vegetationFactors)
	assert.True(t, errors.As(err, &pve))
}

func TestILSWEIndex(t *testing.T) {
	cover := Fuzzify(row(t, 0, 60, 30), ilsweFactors[0].Fuzzy, nd)
	assert.InDeltaSlice(t, []float64{1, 0, 0.5}, cover.Data, 1e-12)

	out, err := ILSWEIndexOf([]raster.Layer{cover, row(t, 0.5, 0.5, nd)}, nd)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0, nd}, out.Data, 1e-12)

	classes, err := classify.ApplyThresholdMatrix(out.Data, ilsweMatrix, nd)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 1, nd}, classes)
}

func TestSoilLoss(t *testing.T) {
	a, err := SoilLoss(row(t, 100, 100), row(t, 0.5, 0.01), row(t, 8, 1), row(t, 0.25, 0.5), row(t, 0.4, nd), nd)
	require.NoError(t, err)
	assert.InDelta(t, 40, a.Data[0], 1e-9)
	assert.Equal(t, nd, a.Data[1])

	classes, err := classify.ApplyThresholdMatrix(a.Data, soilLossMatrix, nd)
	require.NoError(t, err)
	assert.Equal(t, 4.0, classes[0])
	label, ok := fiveLevelLabels.Name(int(classes[0]))
	require.True(t, ok)
	assert.Equal(t, "High", label)
}

func TestRankCVIVariable(t *testing.T) {
	slope, err := RankCVIVariable(row(t, 0.2, 0.3, 1.5, nd), cviVariables[1].matrix, nd)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 4, 1, nd}, slope.Data)

	geo, err := RankCVIVariable(row(t, 7, 0.4, 2.6, nd), nil, nd)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 1, 3, nd}, geo.Data)
}

func TestCVIOf(t *testing.T) {
	ranks := make([]raster.Layer, 6)
	for i := range ranks {
		ranks[i] = row(t, 5, 1, 1)
	}
	ranks[5] = row(t, 5, 1, nd)
	out, err := CVIOf(ranks, nd)
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(15625.0/6), out.Data[0], 1e-9)
	assert.InDelta(t, math.Sqrt(1.0/6), out.Data[1], 1e-12)
	assert.Equal(t, nd, out.Data[2])

	classes, err := classify.ApplyThresholdMatrix(out.Data, cviMatrix, nd)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 1, nd}, classes)
}

func TestForestChange(t *testing.T) {
	out, err := ForestChangeOf(row(t, 7, 7, 5, 5, nd), row(t, 5, 7, 7, 5, 7), Forest, nd)
	require.NoError(t, err)
	assert.Equal(t, []float64{ForestLoss, StableForest, ForestGain, StableNonForest, nd}, out.Data)

	opts := ForestOptions{ForestClass: 9}
	var pve *errs.ParameterValidationError
	assert.True(t, errors.As(opts.defaults(), &pve))
}

func TestDeltaNBR(t *testing.T) {
	d, err := DeltaNBR(row(t, 0.5, 0.3, nd), row(t, 0.1, 0.35, 0.2), nd)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.4, -0.05, nd}, d.Data, 1e-12)

	classes, err := classify.ApplyThresholdMatrix(d.Data, dnbrMatrix, nd)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 0, nd}, classes)
}

func TestEmissionDensity(t *testing.T) {
	out, err := EmissionDensity(row(t, ForestLoss, StableForest, nd, ForestLoss), row(t, 100, 100, 100, nd), nd)
	require.NoError(t, err)
	assert.InDelta(t, 100*0.47*44/12, out.Data[0], 1e-9)
	assert.Equal(t, []float64{0, nd, nd}, out.Data[1:])
}

func TestOptionEnums(t *testing.T) {
	var ilswe ILSWEOptions
	require.NoError(t, decodeOptions(json.RawMessage(`{"computation":"soil_crust"}`), &ilswe))
	assert.Equal(t, ILSWESoilCrust, ilswe.Computation)

	var rusle RUSLEOptions
	require.NoError(t, decodeOptions(json.RawMessage(`{"computation":"LS"}`), &rusle))
	assert.Equal(t, RUSLETopography, rusle.Computation)

	var cvi CVIOptions
	require.NoError(t, decodeOptions(json.RawMessage(`{"computation":"wave_height"}`), &cvi))
	assert.Equal(t, CVIWaveHeight, cvi.Computation)
	assert.Equal(t, "wave_height", cvi.Computation.String())

	var pve *errs.ParameterValidationError
	assert.True(t, errors.As(decodeOptions(json.RawMessage(`{"computation":"bogus"}`), &cvi), &pve))
	assert.True(t, errors.As(decodeOptions(json.RawMessage(`{"unknown":1}`), &cvi), &pve))

	var deg LandDegradationOptions
	require.NoError(t, decodeOptions(json.RawMessage(`{"mode":"ternary"}`), &deg))
	assert.Equal(t, DegradationTernary, deg.Mode)
}
