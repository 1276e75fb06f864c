package indicator

import (
	"fmt"

	"github.com/forest-guardian/ldn-engine/internal/catalog"
	"github.com/forest-guardian/ldn-engine/internal/classify"
	"github.com/forest-guardian/ldn-engine/internal/errs"
	"github.com/forest-guardian/ldn-engine/internal/raster"
	"github.com/forest-guardian/ldn-engine/internal/result"
)

const (
	nbrCategory     = "nbr"
	biomassCategory = "biomass"

	// CarbonFraction is the share of dry biomass that is carbon.
	CarbonFraction = 0.47
	// CO2PerCarbon converts a mass of carbon into the mass of CO2.
	CO2PerCarbon = 44.0 / 12.0
)

// Forest change classes.
const (
	ForestLoss      = -1
	StableForest    = 0
	ForestGain      = 1
	StableNonForest = 2
)

type ForestOptions struct {
	// ForestClass is the land cover class counted as forest.
	ForestClass int `json:"forest_class"`
}

func (o *ForestOptions) defaults() error {
	if o.ForestClass == 0 {
		o.ForestClass = Forest
	}
	if o.ForestClass < Bareland || o.ForestClass > Forest {
		return &errs.ParameterValidationError{Field: "forest_class", Reason: fmt.Sprintf("%d is not a land cover class", o.ForestClass)}
	}
	return nil
}

// ForestChangeOf compares forest presence between two land cover layers.
func ForestChangeOf(base, target raster.Layer, forestClass int, nodata float64) (raster.Layer, error) {
	if err := sameShape(base, target); err != nil {
		return raster.Layer{}, err
	}
	out := make([]float64, len(base.Data))
	for i := range out {
		b, t := base.Data[i], target.Data[i]
		if raster.IsNoData(b, base.NoData()) || raster.IsNoData(t, target.NoData()) {
			out[i] = nodata
			continue
		}
		wasForest, isForest := int(b) == forestClass, int(t) == forestClass
		switch {
		case wasForest && !isForest:
			out[i] = ForestLoss
		case wasForest:
			out[i] = StableForest
		case isForest:
			out[i] = ForestGain
		default:
			out[i] = StableNonForest
		}
	}
	return base.WithData(out, nodata), nil
}

// DeltaNBR is the pre-fire minus the post-fire normalized burn ratio.
func DeltaNBR(pre, post raster.Layer, nodata float64) (raster.Layer, error) {
	d, err := raster.Elementwise(raster.Subtract, raster.MaskNodata(pre), raster.MaskNodata(post))
	if err != nil {
		return raster.Layer{}, err
	}
	return d.ToLayer(pre.Meta, nodata), nil
}

// EmissionDensity gives the CO2 released per hectare (t/ha) where forest
// was lost, from above-ground biomass in t/ha. Other pixels emit nothing.
func EmissionDensity(change, biomass raster.Layer, nodata float64) (raster.Layer, error) {
	if err := sameShape(change, biomass); err != nil {
		return raster.Layer{}, err
	}
	out := make([]float64, len(change.Data))
	for i := range out {
		c := change.Data[i]
		switch {
		case raster.IsNoData(c, change.NoData()):
			out[i] = nodata
		case c != ForestLoss:
			out[i] = 0
		case raster.IsNoData(biomass.Data[i], biomass.NoData()):
			out[i] = nodata
		default:
			out[i] = biomass.Data[i] * CarbonFraction * CO2PerCarbon
		}
	}
	return change.WithData(out, nodata), nil
}

// pixelHectares assumes a metric CRS.
func pixelHectares(resolution float64) float64 {
	return raster.ComputeArea(1, resolution) / 10000
}

func (r *run) forestChange() (raster.Layer, error) {
	var opts ForestOptions
	if err := decodeOptions(r.req.Options, &opts); err != nil {
		return raster.Layer{}, err
	}
	if err := opts.defaults(); err != nil {
		return raster.Layer{}, err
	}
	base, target, err := r.loadLandCoverPair()
	if err != nil {
		return raster.Layer{}, err
	}
	return ForestChangeOf(base, target, opts.ForestClass, r.nodata())
}

func (e *Engine) computeForestChange(r *run) (*result.IndicatorResult, error) {
	change, err := r.forestChange()
	if err != nil {
		return nil, err
	}
	return r.pack(change, append(result.Labels(nil), forestChangeLabels...), r.req.Years.Start, r.req.Years.End)
}

func (e *Engine) computeForestFire(r *run) (*result.IndicatorResult, error) {
	if err := decodeOptions(r.req.Options, &struct{}{}); err != nil {
		return nil, err
	}
	if err := r.requireStart(); err != nil {
		return nil, err
	}
	pre, err := r.findYear(nbrCategory, r.req.Years.Start)
	if err != nil {
		return nil, err
	}
	post, err := r.findYear(nbrCategory, r.req.Years.End)
	if err != nil {
		return nil, err
	}
	layers, err := r.loadAll([]catalog.Descriptor{pre, post}, r.resampling)
	if err != nil {
		return nil, err
	}
	dnbr, err := DeltaNBR(layers[0], layers[1], r.nodata())
	if err != nil {
		return nil, err
	}
	classes, err := classify.ApplyThresholdMatrix(dnbr.Data, dnbrMatrix, r.nodata())
	if err != nil {
		return nil, err
	}
	res, err := r.pack(dnbr.WithData(classes, r.nodata()), append(result.Labels(nil), fireLabels...), r.req.Years.Start, r.req.Years.End)
	if err != nil {
		return nil, err
	}
	if m, ok := meanOf(dnbr); ok {
		res.Extras["mean_dnbr"] = m
	}
	return res, nil
}

func (e *Engine) computeForestCarbon(r *run) (*result.IndicatorResult, error) {
	change, err := r.forestChange()
	if err != nil {
		return nil, err
	}
	bd, err := r.findFactor(biomassCategory)
	if err != nil {
		return nil, err
	}
	biomass, err := r.load(bd, r.resampling)
	if err != nil {
		return nil, err
	}
	layers := r.common([]raster.Layer{change, biomass})
	density, err := EmissionDensity(layers[0], layers[1], r.nodata())
	if err != nil {
		return nil, err
	}

	// zero stays zero; the breaks only grade actual emissions
	classes := make([]float64, len(density.Data))
	total := 0.0
	for i, v := range density.Data {
		switch {
		case raster.IsNoData(v, r.nodata()):
			classes[i] = r.nodata()
		case v == 0:
			classes[i] = 0
		default:
			classes[i], _ = emissionMatrix.Classify(v)
			total += v
		}
	}
	res, err := r.pack(density.WithData(classes, r.nodata()), append(result.Labels(nil), emissionLabels...), r.req.Years.Start, r.req.Years.End)
	if err != nil {
		return nil, err
	}
	res.Extras["total_emission_tco2"] = total * pixelHectares(r.resolution)
	return res, nil
}
