package indicator

import (
	"math"

	"github.com/forest-guardian/ldn-engine/internal/align"
	"github.com/forest-guardian/ldn-engine/internal/classify"
	"github.com/forest-guardian/ldn-engine/internal/raster"
	"github.com/forest-guardian/ldn-engine/internal/result"
)

// CVIComputation selects the coastal vulnerability index or one of its
// ranked variables as the output.
type CVIComputation int

const (
	CVIIndex CVIComputation = iota
	CVIGeomorphology
	CVICoastalSlope
	CVISeaLevelChange
	CVIShorelineChange
	CVITidalRange
	CVIWaveHeight
)

var cviComputationText = enumText[CVIComputation]{
	field: "computation",
	names: map[CVIComputation]string{
		CVIIndex:           "index",
		CVIGeomorphology:   "geomorphology",
		CVICoastalSlope:    "coastal_slope",
		CVISeaLevelChange:  "sea_level_change",
		CVIShorelineChange: "shoreline_change",
		CVITidalRange:      "tidal_range",
		CVIWaveHeight:      "wave_height",
	},
}

func (c CVIComputation) String() string { return cviComputationText.String(c) }

func (c *CVIComputation) UnmarshalText(b []byte) error {
	v, err := cviComputationText.Parse(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (c CVIComputation) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// cviVariable ranks a raw value 1 (very low vulnerability) to 5. A nil
// matrix means the raster already holds ranks.
type cviVariable struct {
	category string
	matrix   classify.ThresholdMatrix
}

// cviVariables is indexed by CVIComputation minus one.
var cviVariables = []cviVariable{
	{category: "cvi_geomorphology"},
	// degrees; gentle slopes are the most vulnerable
	{category: "cvi_coastal_slope", matrix: classify.Breaks([]float64{0.3, 0.6, 0.9, 1.2}, []float64{5, 4, 3, 2, 1})},
	// mm/yr
	{category: "cvi_sea_level_change", matrix: classify.Breaks([]float64{1.8, 2.5, 3.0, 3.4}, fiveLevels)},
	// m/yr; erosion is negative
	{category: "cvi_shoreline_change", matrix: classify.Breaks([]float64{-2, -1, 1, 2}, []float64{5, 4, 3, 2, 1})},
	// m
	{category: "cvi_tidal_range", matrix: classify.Breaks([]float64{1, 2, 4, 6}, fiveLevels)},
	// m
	{category: "cvi_wave_height", matrix: classify.Breaks([]float64{0.55, 0.85, 1.05, 1.25}, fiveLevels)},
}

type CVIOptions struct {
	Computation CVIComputation `json:"computation"`
}

// RankCVIVariable turns raw values into 1..5 ranks. Without a matrix the
// values are rounded and clamped.
func RankCVIVariable(l raster.Layer, m classify.ThresholdMatrix, nodata float64) (raster.Layer, error) {
	if m == nil {
		ranked := raster.MaskNodata(l).Map(func(v float64) float64 {
			return math.Max(1, math.Min(5, math.Round(v)))
		})
		return ranked.ToLayer(l.Meta, nodata), nil
	}
	classes, err := classify.ApplyThresholdMatrix(l.Data, m, nodata)
	if err != nil {
		return raster.Layer{}, err
	}
	return l.WithData(classes, nodata), nil
}

// CVIOf is sqrt(product of ranks / number of ranks).
func CVIOf(ranks []raster.Layer, nodata float64) (raster.Layer, error) {
	masked := make([]raster.Masked, len(ranks))
	for i, l := range ranks {
		masked[i] = raster.MaskNodata(l)
	}
	product, err := raster.Elementwise(raster.Multiply, masked...)
	if err != nil {
		return raster.Layer{}, err
	}
	n := float64(len(ranks))
	return product.Map(func(v float64) float64 { return math.Sqrt(v / n) }).ToLayer(ranks[0].Meta, nodata), nil
}

func (e *Engine) computeCVI(r *run) (*result.IndicatorResult, error) {
	var opts CVIOptions
	if err := decodeOptions(r.req.Options, &opts); err != nil {
		return nil, err
	}
	vars := cviVariables
	if opts.Computation != CVIIndex {
		vars = vars[int(opts.Computation)-1 : int(opts.Computation)]
	}
	layers := make([]raster.Layer, len(vars))
	for i, v := range vars {
		d, err := r.findFactor(v.category)
		if err != nil {
			return nil, err
		}
		method := r.resampling
		if v.matrix == nil {
			method = align.Nearest
		}
		if layers[i], err = r.load(d, method); err != nil {
			return nil, err
		}
	}
	layers = r.common(layers)
	ranks := make([]raster.Layer, len(layers))
	for i, l := range layers {
		var err error
		if ranks[i], err = RankCVIVariable(l, vars[i].matrix, r.nodata()); err != nil {
			return nil, err
		}
	}

	var res *result.IndicatorResult
	var err error
	if opts.Computation != CVIIndex {
		res, err = r.pack(ranks[0], append(result.Labels(nil), fiveLevelLabels...), r.start(), r.req.Years.End)
	} else {
		var cvi raster.Layer
		if cvi, err = CVIOf(ranks, r.nodata()); err != nil {
			return nil, err
		}
		res, err = r.packContinuous(cvi, cviMatrix, fiveLevelLabels, "mean_cvi")
	}
	if err != nil {
		return nil, err
	}
	res.Extras["computation"] = opts.Computation.String()
	return res, nil
}
