package indicator

import (
	"github.com/forest-guardian/ldn-engine/internal/catalog"
	"github.com/forest-guardian/ldn-engine/internal/classify"
	"github.com/forest-guardian/ldn-engine/internal/raster"
	"github.com/forest-guardian/ldn-engine/internal/result"
)

// RUSLEComputation selects soil loss or one of its factors as the output.
type RUSLEComputation int

const (
	RUSLESoilLoss RUSLEComputation = iota
	RUSLERainfall
	RUSLEErodibility
	RUSLETopography
	RUSLECover
	RUSLEPractice
)

var rusleComputationText = enumText[RUSLEComputation]{
	field: "computation",
	names: map[RUSLEComputation]string{
		RUSLESoilLoss:    "soil_loss",
		RUSLERainfall:    "r",
		RUSLEErodibility: "k",
		RUSLETopography:  "ls",
		RUSLECover:       "c",
		RUSLEPractice:    "p",
	},
}

func (c RUSLEComputation) String() string { return rusleComputationText.String(c) }

func (c *RUSLEComputation) UnmarshalText(b []byte) error {
	v, err := rusleComputationText.Parse(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (c RUSLEComputation) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

type rusleFactor struct {
	category string
	matrix   classify.ThresholdMatrix
}

var fiveLevels = []float64{1, 2, 3, 4, 5}

// rusleFactors is indexed by RUSLEComputation minus one.
var rusleFactors = []rusleFactor{
	{category: "rusle_r", matrix: classify.Breaks([]float64{500, 1000, 2000, 4000}, fiveLevels)},
	{category: "rusle_k", matrix: classify.Breaks([]float64{0.01, 0.02, 0.03, 0.045}, fiveLevels)},
	{category: "rusle_ls", matrix: classify.Breaks([]float64{1, 3, 6, 10}, fiveLevels)},
	{category: "rusle_c", matrix: classify.Breaks([]float64{0.05, 0.1, 0.2, 0.4}, fiveLevels)},
	{category: "rusle_p", matrix: classify.Breaks([]float64{0.2, 0.4, 0.6, 0.8}, fiveLevels)},
}

type RUSLEOptions struct {
	Computation RUSLEComputation `json:"computation"`
}

// SoilLoss is A = R·K·LS·C·P in t/ha/yr.
func SoilLoss(r, k, ls, c, p raster.Layer, nodata float64) (raster.Layer, error) {
	a, err := raster.Elementwise(raster.Multiply,
		raster.MaskNodata(r), raster.MaskNodata(k), raster.MaskNodata(ls), raster.MaskNodata(c), raster.MaskNodata(p))
	if err != nil {
		return raster.Layer{}, err
	}
	return a.ToLayer(r.Meta, nodata), nil
}

func (e *Engine) computeRUSLE(r *run) (*result.IndicatorResult, error) {
	var opts RUSLEOptions
	if err := decodeOptions(r.req.Options, &opts); err != nil {
		return nil, err
	}
	factors := rusleFactors
	if opts.Computation != RUSLESoilLoss {
		factors = factors[int(opts.Computation)-1 : int(opts.Computation)]
	}
	ds := make([]catalog.Descriptor, len(factors))
	for i, f := range factors {
		d, err := r.findFactor(f.category)
		if err != nil {
			return nil, err
		}
		ds[i] = d
	}
	layers, err := r.loadAll(ds, r.resampling)
	if err != nil {
		return nil, err
	}

	var res *result.IndicatorResult
	if opts.Computation != RUSLESoilLoss {
		res, err = r.packContinuous(layers[0], factors[0].matrix, fiveLevelLabels, "mean_factor")
	} else {
		var a raster.Layer
		if a, err = SoilLoss(layers[0], layers[1], layers[2], layers[3], layers[4], r.nodata()); err != nil {
			return nil, err
		}
		res, err = r.packContinuous(a, soilLossMatrix, fiveLevelLabels, "mean_soil_loss")
	}
	if err != nil {
		return nil, err
	}
	res.Extras["computation"] = opts.Computation.String()
	return res, nil
}
