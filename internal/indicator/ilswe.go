package indicator

import (
	"fmt"

	"github.com/forest-guardian/ldn-engine/internal/classify"
	"github.com/forest-guardian/ldn-engine/internal/raster"
	"github.com/forest-guardian/ldn-engine/internal/result"
)

// ILSWEComputation selects the wind erosion index or one of its factors as
// the output.
type ILSWEComputation int

const (
	ILSWEIndex ILSWEComputation = iota
	ILSWEVegetationCover
	ILSWESoilCrust
	ILSWESoilRoughness
	ILSWEErodibleFraction
	ILSWEClimateErosivity
)

var ilsweComputationText = enumText[ILSWEComputation]{
	field: "computation",
	names: map[ILSWEComputation]string{
		ILSWEIndex:            "index",
		ILSWEVegetationCover:  "vegetation_cover",
		ILSWESoilCrust:        "soil_crust",
		ILSWESoilRoughness:    "soil_roughness",
		ILSWEErodibleFraction: "erodible_fraction",
		ILSWEClimateErosivity: "climate_erosivity",
	},
}

func (c ILSWEComputation) String() string { return ilsweComputationText.String(c) }

func (c *ILSWEComputation) UnmarshalText(b []byte) error {
	v, err := ilsweComputationText.Parse(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (c ILSWEComputation) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Wind erosion factors in index order. Vegetation cover and the erodible
// fraction are percentages; erosivity is the climatic factor C.
var ilsweFactors = []Factor{
	{Name: "vegetation_cover", Category: "ilswe_vegetation_cover", Fuzzy: decreasing(0, 60)},
	{Name: "soil_crust", Category: "ilswe_soil_crust", Fuzzy: decreasing(0, 1)},
	{Name: "soil_roughness", Category: "ilswe_soil_roughness", Fuzzy: decreasing(0, 1)},
	{Name: "erodible_fraction", Category: "ilswe_erodible_fraction", Fuzzy: increasing(0, 100)},
	{Name: "climate_erosivity", Category: "ilswe_climate_erosivity", Fuzzy: increasing(0, 100)},
}

type ILSWEOptions struct {
	Computation ILSWEComputation              `json:"computation"`
	Factors     map[string]classify.Fuzzifier `json:"factors"`
}

// Fuzzify maps each cell of l onto the 0..1 membership of fz.
func Fuzzify(l raster.Layer, fz classify.Fuzzifier, nodata float64) raster.Layer {
	return raster.MaskNodata(l).Map(fz.Apply).ToLayer(l.Meta, nodata)
}

// ILSWEIndexOf multiplies the fuzzified factors.
func ILSWEIndexOf(fuzzified []raster.Layer, nodata float64) (raster.Layer, error) {
	if len(fuzzified) == 0 {
		return raster.Layer{}, fmt.Errorf("no factors to combine")
	}
	masked := make([]raster.Masked, len(fuzzified))
	for i, l := range fuzzified {
		masked[i] = raster.MaskNodata(l)
	}
	product, err := raster.Elementwise(raster.Multiply, masked...)
	if err != nil {
		return raster.Layer{}, err
	}
	return product.ToLayer(fuzzified[0].Meta, nodata), nil
}

func (e *Engine) computeILSWE(r *run) (*result.IndicatorResult, error) {
	var opts ILSWEOptions
	if err := decodeOptions(r.req.Options, &opts); err != nil {
		return nil, err
	}
	factors, err := MedalusOptions{Factors: opts.Factors}.apply(ilsweFactors)
	if err != nil {
		return nil, err
	}
	if opts.Computation != ILSWEIndex {
		factors = factors[int(opts.Computation)-1 : int(opts.Computation)]
	}
	layers, err := r.loadFactors(factors)
	if err != nil {
		return nil, err
	}
	fuzzified := make([]raster.Layer, len(layers))
	for i, l := range layers {
		fuzzified[i] = Fuzzify(l, factors[i].Fuzzy, r.nodata())
	}

	if opts.Computation != ILSWEIndex {
		res, err := r.packContinuous(fuzzified[0], fuzzyFactorMatrix, fiveLevelLabels, "mean_membership")
		if err != nil {
			return nil, err
		}
		res.Extras["computation"] = opts.Computation.String()
		return res, nil
	}
	index, err := ILSWEIndexOf(fuzzified, r.nodata())
	if err != nil {
		return nil, err
	}
	res, err := r.packContinuous(index, ilsweMatrix, fiveLevelLabels, "mean_index")
	if err != nil {
		return nil, err
	}
	res.Extras["computation"] = opts.Computation.String()
	return res, nil
}
