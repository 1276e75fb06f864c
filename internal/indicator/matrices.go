package indicator

import (
	"github.com/forest-guardian/ldn-engine/internal/classify"
	"github.com/forest-guardian/ldn-engine/internal/result"
)

// Change classes shared by the degradation indicators.
const (
	Degraded = -1
	Stable   = 0
	Improved = 1
)

var changeLabels = result.Labels{
	{Value: Degraded, Label: "Degraded"},
	{Value: Stable, Label: "Stable"},
	{Value: Improved, Label: "Improved"},
}

var binaryLabels = result.Labels{
	{Value: Degraded, Label: "Degraded"},
	{Value: Stable, Label: "Not degraded"},
}

func ChangeLabels() result.Labels { return append(result.Labels(nil), changeLabels...) }

// Harmonized land cover classes.
const (
	Bareland   = 1
	Artificial = 2
	Water      = 3
	Wetland    = 4
	Cropland   = 5
	Grassland  = 6
	Forest     = 7
)

var lulcLabels = result.Labels{
	{Value: Bareland, Label: "Bare land"},
	{Value: Artificial, Label: "Artificial"},
	{Value: Water, Label: "Water"},
	{Value: Wetland, Label: "Wetland"},
	{Value: Cropland, Label: "Cropland"},
	{Value: Grassland, Label: "Grassland"},
	{Value: Forest, Label: "Forest"},
}

func LULCLabels() result.Labels { return append(result.Labels(nil), lulcLabels...) }

// lulcTransitions rows are the base class, columns the target class, both in
// the order forest, grassland, cropland, wetland, artificial, bare, water.
var lulcTransitions = func() classify.TransitionMatrix {
	order := []int{Forest, Grassland, Cropland, Wetland, Artificial, Bareland, Water}
	table := [7][7]float64{
		{0, -1, -1, -1, -1, -1, 0},
		{1, 0, 1, -1, -1, -1, 0},
		{1, -1, 0, -1, -1, -1, 0},
		{-1, -1, -1, 0, -1, -1, 0},
		{1, 1, 1, 1, 0, 1, 0},
		{1, 1, 1, 1, -1, 0, 0},
		{0, 0, 0, 0, 0, 0, 0},
	}
	m := classify.TransitionMatrix{}
	for i, base := range order {
		for j, target := range order {
			m[classify.Transition{Base: base, Target: target}] = table[i][j]
		}
	}
	return m
}()

// LULCTransitions returns a copy of the land cover change matrix.
func LULCTransitions() classify.TransitionMatrix { return lulcTransitions.Clone() }

// Climate regions of the SOC stock change factors.
const (
	TemperateDry    = 1
	TemperateMoist  = 2
	TropicalDry     = 3
	TropicalMoist   = 4
	TropicalMontane = 5
)

// cultivationFactor is the relative SOC stock after converting natural
// vegetation to cropland.
var cultivationFactor = map[int]float64{
	TemperateDry:    0.80,
	TemperateMoist:  0.69,
	TropicalDry:     0.58,
	TropicalMoist:   0.48,
	TropicalMontane: 0.64,
}

const (
	wetlandCultivationFactor = 0.71
	sealingFactor            = 0.1
	unsealingFactor          = 2.0
)

// SOCFactor returns the stock change factor of a land cover transition in a
// climate region, and false when the region is unknown.
func SOCFactor(base, target, climate int) (float64, bool) {
	f, ok := cultivationFactor[climate]
	if !ok {
		return 0, false
	}
	natural := func(c int) bool { return c == Forest || c == Grassland }
	switch {
	case base == target:
		return 1, true
	case target == Artificial:
		return sealingFactor, true
	case base == Artificial:
		return unsealingFactor, true
	case natural(base) && target == Cropland:
		return f, true
	case base == Cropland && natural(target):
		return 1 / f, true
	case base == Wetland && target == Cropland:
		return wetlandCultivationFactor, true
	case base == Cropland && target == Wetland:
		return 1 / wetlandCultivationFactor, true
	}
	return 1, true
}

var (
	socChangeMatrix   = classify.Breaks([]float64{-10, 10}, []float64{Degraded, Stable, Improved})
	trajectoryTernary = classify.Breaks([]float64{-0.95, 0.95}, []float64{Degraded, Stable, Improved})
	trajectoryFive    = classify.Breaks([]float64{-0.99, -0.95, 0.95, 0.99}, []float64{-2, -1, 0, 1, 2})
	trajectoryBinary  = classify.Breaks([]float64{-0.95}, []float64{Degraded, Stable})
	stateDecileMatrix = classify.Breaks([]float64{-1, 2}, []float64{Degraded, Stable, Improved})
	stateZMatrix      = classify.Breaks([]float64{-1.96, 1.96}, []float64{Degraded, Stable, Improved})
	aridityMatrix     = classify.Breaks([]float64{0.05, 0.2, 0.5, 0.65}, []float64{1, 2, 3, 4, 5})
	cqiMatrix         = classify.Breaks([]float64{1.15, 1.81}, []float64{1, 2, 3})
	sqiMatrix         = classify.Breaks([]float64{1.13, 1.45}, []float64{1, 2, 3})
	vqiMatrix         = classify.Breaks([]float64{1.13, 1.38}, []float64{1, 2, 3})
	mqiMatrix         = classify.Breaks([]float64{1.25, 1.50}, []float64{1, 2, 3})
	esaiMatrix        = classify.Breaks([]float64{1.17, 1.225, 1.265, 1.325, 1.375, 1.425, 1.53}, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	ilsweMatrix       = classify.Breaks([]float64{0.05, 0.1, 0.2, 0.4}, []float64{1, 2, 3, 4, 5})
	fuzzyFactorMatrix = classify.Breaks([]float64{0.2, 0.4, 0.6, 0.8}, []float64{1, 2, 3, 4, 5})
	soilLossMatrix    = classify.Breaks([]float64{5, 10, 20, 50}, []float64{1, 2, 3, 4, 5})
	cviMatrix         = classify.Breaks([]float64{5, 10, 15, 25}, []float64{1, 2, 3, 4, 5})
	dnbrMatrix        = classify.Breaks([]float64{0.1, 0.27, 0.44, 0.66}, []float64{0, 1, 2, 3, 4})
	emissionMatrix    = classify.Breaks([]float64{100, 250}, []float64{1, 2, 3})
)

var (
	trajectoryFiveLabels = result.Labels{
		{Value: -2, Label: "Significant degradation (p<0.01)"},
		{Value: -1, Label: "Degradation (p<0.05)"},
		{Value: 0, Label: "Stable"},
		{Value: 1, Label: "Improvement (p<0.05)"},
		{Value: 2, Label: "Significant improvement (p<0.01)"},
	}
	aridityLabels = result.Labels{
		{Value: 1, Label: "Hyper-arid"},
		{Value: 2, Label: "Arid"},
		{Value: 3, Label: "Semi-arid"},
		{Value: 4, Label: "Dry sub-humid"},
		{Value: 5, Label: "Humid"},
	}
	qualityLabels = result.Labels{
		{Value: 1, Label: "High quality"},
		{Value: 2, Label: "Moderate quality"},
		{Value: 3, Label: "Low quality"},
	}
	esaiLabels = result.Labels{
		{Value: 1, Label: "Non-affected"},
		{Value: 2, Label: "Potential"},
		{Value: 3, Label: "Fragile F1"},
		{Value: 4, Label: "Fragile F2"},
		{Value: 5, Label: "Fragile F3"},
		{Value: 6, Label: "Critical C1"},
		{Value: 7, Label: "Critical C2"},
		{Value: 8, Label: "Critical C3"},
	}
	fiveLevelLabels = result.Labels{
		{Value: 1, Label: "Very low"},
		{Value: 2, Label: "Low"},
		{Value: 3, Label: "Moderate"},
		{Value: 4, Label: "High"},
		{Value: 5, Label: "Very high"},
	}
	forestChangeLabels = result.Labels{
		{Value: -1, Label: "Forest loss"},
		{Value: 0, Label: "Stable forest"},
		{Value: 1, Label: "Forest gain"},
		{Value: 2, Label: "Stable non-forest"},
	}
	fireLabels = result.Labels{
		{Value: 0, Label: "Unburned"},
		{Value: 1, Label: "Low severity"},
		{Value: 2, Label: "Moderate-low severity"},
		{Value: 3, Label: "Moderate-high severity"},
		{Value: 4, Label: "High severity"},
	}
	emissionLabels = result.Labels{
		{Value: 0, Label: "No emission"},
		{Value: 1, Label: "Low emission"},
		{Value: 2, Label: "Moderate emission"},
		{Value: 3, Label: "High emission"},
	}
)

// Land degradation combination tables, keyed by the states of the three
// combined sub-indicators.
var (
	binaryDegradationTable  = buildDegradationTable([]int{Degraded, Stable}, true)
	ternaryDegradationTable = buildDegradationTable([]int{Degraded, Stable, Improved}, false)
)

func buildDegradationTable(states []int, binary bool) map[[3]int]int {
	t := map[[3]int]int{}
	for _, p := range states {
		for _, l := range states {
			for _, s := range states {
				key := [3]int{p, l, s}
				switch {
				case p == Degraded || l == Degraded || s == Degraded:
					t[key] = Degraded
				case !binary && (p == Improved || l == Improved || s == Improved):
					t[key] = Improved
				default:
					t[key] = Stable
				}
			}
		}
	}
	return t
}

// DegradationTable returns a copy of the binary (8 rows) or ternary
// (27 rows) combination table.
func DegradationTable(mode DegradationMode) map[[3]int]int {
	src := binaryDegradationTable
	if mode == DegradationTernary {
		src = ternaryDegradationTable
	}
	out := make(map[[3]int]int, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
