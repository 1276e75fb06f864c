package indicator

import (
	"fmt"
	"math"

	"github.com/forest-guardian/ldn-engine/internal/align"
	"github.com/forest-guardian/ldn-engine/internal/catalog"
	"github.com/forest-guardian/ldn-engine/internal/classify"
	"github.com/forest-guardian/ldn-engine/internal/errs"
	"github.com/forest-guardian/ldn-engine/internal/raster"
	"github.com/forest-guardian/ldn-engine/internal/result"
)

const (
	precipitationCategory = "precipitation"
	petCategory           = "pet"
	aridityFactor         = "aridity"
	aspectFactor          = "aspect"
)

// Factor is one input of a composite index. Its fuzzy membership is the
// sensitivity of the land to the factor, 0 being the least sensitive.
type Factor struct {
	Name        string
	Category    string
	Fuzzy       classify.Fuzzifier
	Categorical bool
}

func increasing(low, high float64) classify.Fuzzifier {
	return classify.Fuzzifier{Curve: classify.Linear, Increasing: true, Low: low, High: high}
}

func decreasing(low, high float64) classify.Fuzzifier {
	return classify.Fuzzifier{Curve: classify.Linear, Low: low, High: high}
}

var (
	climateFactors = []Factor{
		{Name: "rainfall", Category: precipitationCategory, Fuzzy: decreasing(280, 650)},
		{Name: aridityFactor, Fuzzy: decreasing(0.05, 0.65)},
		{Name: aspectFactor, Category: "aspect"},
	}
	soilFactors = []Factor{
		{Name: "parent_material", Category: "parent_material", Fuzzy: increasing(1, 3), Categorical: true},
		{Name: "soil_texture", Category: "soil_texture", Fuzzy: increasing(1, 4), Categorical: true},
		{Name: "rock_fragment", Category: "rock_fragment", Fuzzy: decreasing(20, 60)},
		{Name: "soil_depth", Category: "soil_depth", Fuzzy: decreasing(15, 75)},
		{Name: "slope", Category: "slope", Fuzzy: increasing(6, 35)},
		{Name: "drainage", Category: "drainage", Fuzzy: increasing(1, 3), Categorical: true},
	}
	vegetationFactors = []Factor{
		{Name: "fire_risk", Category: "fire_risk", Fuzzy: increasing(1, 4), Categorical: true},
		{Name: "erosion_protection", Category: "erosion_protection", Fuzzy: increasing(1, 4), Categorical: true},
		{Name: "drought_resistance", Category: "drought_resistance", Fuzzy: increasing(1, 4), Categorical: true},
		{Name: "plant_cover", Category: "plant_cover", Fuzzy: decreasing(10, 40)},
	}
	managementFactors = []Factor{
		{Name: "land_use_intensity", Category: "land_use_intensity", Fuzzy: increasing(1, 3), Categorical: true},
		{Name: "policy_enforcement", Category: "policy_enforcement", Fuzzy: increasing(1, 3), Categorical: true},
	}
)

type qualityIndexDef struct {
	factors []Factor
	matrix  classify.ThresholdMatrix
}

func qualityIndexFor(n Name) qualityIndexDef {
	switch n {
	case CQI:
		return qualityIndexDef{factors: climateFactors, matrix: cqiMatrix}
	case SQI:
		return qualityIndexDef{factors: soilFactors, matrix: sqiMatrix}
	case VQI:
		return qualityIndexDef{factors: vegetationFactors, matrix: vqiMatrix}
	case MQI:
		return qualityIndexDef{factors: managementFactors, matrix: mqiMatrix}
	}
	panic(fmt.Sprintf("%s is not a quality index", n))
}

// MedalusOptions overrides the fuzzy membership of factors by name.
type MedalusOptions struct {
	Factors map[string]classify.Fuzzifier `json:"factors"`
}

func hasFactor(name string, sets ...[]Factor) bool {
	for _, set := range sets {
		for _, f := range set {
			if f.Name == name {
				return true
			}
		}
	}
	return false
}

// apply overrides the fuzzy membership of the matching factors. Every name
// must belong to one of the factor sets in scope, which defaults to
// factors itself; names of another set in scope are left to that set.
func (o MedalusOptions) apply(factors []Factor, scope ...[]Factor) ([]Factor, error) {
	if len(scope) == 0 {
		scope = [][]Factor{factors}
	}
	out := append([]Factor(nil), factors...)
	for name, fz := range o.Factors {
		if !hasFactor(name, scope...) {
			return nil, &errs.ParameterValidationError{Field: "factors." + name, Reason: "unknown factor"}
		}
		if name == aspectFactor {
			return nil, &errs.ParameterValidationError{Field: "factors." + name, Reason: "aspect uses a fixed circular curve"}
		}
		if err := fz.Validate(); err != nil {
			return nil, &errs.ParameterValidationError{Field: "factors." + name, Reason: err.Error()}
		}
		for i := range out {
			if out[i].Name == name {
				out[i].Fuzzy = fz
			}
		}
	}
	return out, nil
}

// AridityIndex divides precipitation by potential evapotranspiration.
func AridityIndex(precipitation, pet raster.Layer, nodata float64) (raster.Layer, error) {
	ai, err := raster.Elementwise(raster.Divide, raster.MaskNodata(precipitation), raster.MaskNodata(pet))
	if err != nil {
		return raster.Layer{}, err
	}
	return ai.ToLayer(precipitation.Meta, nodata), nil
}

// aspectSensitivity peaks for south-west facing slopes and is lowest facing
// north-east. Negative aspects mark flat ground.
func aspectSensitivity(deg float64) float64 {
	if deg < 0 {
		return 0
	}
	return (1 + math.Cos((deg-225)*math.Pi/180)) / 2
}

// FactorScore maps a factor layer onto the 1..2 Medalus score.
func FactorScore(l raster.Layer, f Factor, nodata float64) raster.Layer {
	m := raster.MaskNodata(l)
	scored := m.Map(func(v float64) float64 {
		if f.Name == aspectFactor {
			return 1 + aspectSensitivity(v)
		}
		return 1 + f.Fuzzy.Apply(v)
	})
	return scored.ToLayer(l.Meta, nodata)
}

// GeometricMean combines layers cell by cell as the n-th root of their
// product.
func GeometricMean(layers []raster.Layer, nodata float64) (raster.Layer, error) {
	if len(layers) == 0 {
		return raster.Layer{}, fmt.Errorf("no layers to combine")
	}
	masked := make([]raster.Masked, len(layers))
	for i, l := range layers {
		masked[i] = raster.MaskNodata(l)
	}
	product, err := raster.Elementwise(raster.Multiply, masked...)
	if err != nil {
		return raster.Layer{}, err
	}
	n := float64(len(layers))
	root := product.Map(func(v float64) float64 { return math.Pow(v, 1/n) })
	return root.ToLayer(layers[0].Meta, nodata), nil
}

// QualityIndex scores each factor layer and takes their geometric mean.
func QualityIndex(layers []raster.Layer, factors []Factor, nodata float64) (raster.Layer, error) {
	if len(layers) != len(factors) {
		return raster.Layer{}, fmt.Errorf("%d layers for %d factors", len(layers), len(factors))
	}
	scores := make([]raster.Layer, len(layers))
	for i, l := range layers {
		scores[i] = FactorScore(l, factors[i], nodata)
	}
	return GeometricMean(scores, nodata)
}

func (r *run) aridity() (raster.Layer, error) {
	pd, err := r.findFactor(precipitationCategory)
	if err != nil {
		return raster.Layer{}, err
	}
	ed, err := r.findFactor(petCategory)
	if err != nil {
		return raster.Layer{}, err
	}
	layers, err := r.loadAll([]catalog.Descriptor{pd, ed}, r.resampling)
	if err != nil {
		return raster.Layer{}, err
	}
	return AridityIndex(layers[0], layers[1], r.nodata())
}

func (r *run) loadFactors(factors []Factor) ([]raster.Layer, error) {
	layers := make([]raster.Layer, len(factors))
	for i, f := range factors {
		if f.Name == aridityFactor {
			ai, err := r.aridity()
			if err != nil {
				return nil, err
			}
			layers[i] = ai
			continue
		}
		d, err := r.findFactor(f.Category)
		if err != nil {
			return nil, err
		}
		method := r.resampling
		if f.Categorical {
			method = align.Nearest
		}
		if layers[i], err = r.load(d, method); err != nil {
			return nil, err
		}
	}
	return r.common(layers), nil
}

func (r *run) medalusOptions() (MedalusOptions, error) {
	var opts MedalusOptions
	err := decodeOptions(r.req.Options, &opts)
	return opts, err
}

func (r *run) qualityIndex(n Name, opts MedalusOptions, scope ...[]Factor) (raster.Layer, error) {
	factors, err := opts.apply(qualityIndexFor(n).factors, scope...)
	if err != nil {
		return raster.Layer{}, err
	}
	layers, err := r.loadFactors(factors)
	if err != nil {
		return raster.Layer{}, err
	}
	return QualityIndex(layers, factors, r.nodata())
}

func (r *run) packContinuous(index raster.Layer, matrix classify.ThresholdMatrix, labels result.Labels, meanKey string) (*result.IndicatorResult, error) {
	classes, err := classify.ApplyThresholdMatrix(index.Data, matrix, r.nodata())
	if err != nil {
		return nil, err
	}
	res, err := r.pack(index.WithData(classes, r.nodata()), append(result.Labels(nil), labels...), r.start(), r.req.Years.End)
	if err != nil {
		return nil, err
	}
	if m, ok := meanOf(index); ok {
		res.Extras[meanKey] = m
	}
	return res, nil
}

func (e *Engine) computeAridity(r *run) (*result.IndicatorResult, error) {
	ai, err := r.aridity()
	if err != nil {
		return nil, err
	}
	return r.packContinuous(ai, aridityMatrix, aridityLabels, "mean_aridity_index")
}

func (e *Engine) computeQuality(r *run, n Name) (*result.IndicatorResult, error) {
	opts, err := r.medalusOptions()
	if err != nil {
		return nil, err
	}
	index, err := r.qualityIndex(n, opts)
	if err != nil {
		return nil, err
	}
	return r.packContinuous(index, qualityIndexFor(n).matrix, qualityLabels, "mean_index")
}

// computeESAI combines the four quality indices. Options override factors
// of any of them by name.
func (e *Engine) computeESAI(r *run) (*result.IndicatorResult, error) {
	opts, err := r.medalusOptions()
	if err != nil {
		return nil, err
	}
	esaiIndices := []Name{SQI, CQI, VQI, MQI}
	scope := make([][]Factor, len(esaiIndices))
	for i, n := range esaiIndices {
		scope[i] = qualityIndexFor(n).factors
	}
	if _, err := opts.apply(nil, scope...); err != nil {
		return nil, err
	}

	indices := make([]raster.Layer, 0, len(esaiIndices))
	for _, n := range esaiIndices {
		idx, err := r.qualityIndex(n, opts, scope...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n, err)
		}
		indices = append(indices, idx)
	}
	esai, err := GeometricMean(r.common(indices), r.nodata())
	if err != nil {
		return nil, err
	}
	return r.packContinuous(esai, esaiMatrix, esaiLabels, "mean_esai")
}
