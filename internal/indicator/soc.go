package indicator

import (
	"fmt"

	"github.com/forest-guardian/ldn-engine/internal/align"
	"github.com/forest-guardian/ldn-engine/internal/classify"
	"github.com/forest-guardian/ldn-engine/internal/errs"
	"github.com/forest-guardian/ldn-engine/internal/raster"
	"github.com/forest-guardian/ldn-engine/internal/result"
)

const (
	socCategory     = "soc"
	climateCategory = "climate_region"
)

type SOCOptions struct {
	// Cutoff is the percent change separating stable from changed pixels.
	Cutoff float64 `json:"cutoff"`
}

func (o *SOCOptions) defaults() error {
	if o.Cutoff == 0 {
		o.Cutoff = 10
	}
	if o.Cutoff < 0 {
		return &errs.ParameterValidationError{Field: "cutoff", Reason: "must be positive"}
	}
	return nil
}

// SOCResult holds the classified change with the continuous layers behind
// it.
type SOCResult struct {
	Classified    raster.Layer
	Target        raster.Layer
	PercentChange raster.Layer
}

// SOCChange estimates the target SOC stock by applying the land cover
// transition factor of each pixel's climate region to the reference stock,
// then classifies the percent change against cutoff.
func SOCChange(base, target, reference, climate raster.Layer, cutoff, nodata float64) (SOCResult, error) {
	if err := sameShape(base, target, reference, climate); err != nil {
		return SOCResult{}, err
	}
	factors := make([]float64, len(base.Data))
	for i := range factors {
		b, t, c := base.Data[i], target.Data[i], climate.Data[i]
		if raster.IsNoData(b, base.NoData()) || raster.IsNoData(t, target.NoData()) || raster.IsNoData(c, climate.NoData()) {
			factors[i] = nodata
			continue
		}
		f, ok := SOCFactor(int(b), int(t), int(c))
		if !ok {
			factors[i] = nodata
			continue
		}
		factors[i] = f
	}
	ref := raster.MaskNodata(reference)
	fac := raster.MaskNodata(base.WithData(factors, nodata))
	targetStock, err := raster.Elementwise(raster.Multiply, ref, fac)
	if err != nil {
		return SOCResult{}, err
	}
	diff, err := raster.Elementwise(raster.Subtract, targetStock, ref)
	if err != nil {
		return SOCResult{}, err
	}
	ratio, err := raster.Elementwise(raster.Divide, diff, ref)
	if err != nil {
		return SOCResult{}, err
	}
	pct := ratio.Map(func(v float64) float64 { return v * 100 })

	matrix := classify.Breaks([]float64{-cutoff, cutoff}, []float64{Degraded, Stable, Improved})
	classes, err := classify.ApplyThresholdMatrix(pct.Filled(nodata), matrix, nodata)
	if err != nil {
		return SOCResult{}, err
	}
	return SOCResult{
		Classified:    base.WithData(classes, nodata),
		Target:        targetStock.ToLayer(base.Meta, nodata),
		PercentChange: pct.ToLayer(base.Meta, nodata),
	}, nil
}

func meanOf(l raster.Layer) (float64, bool) {
	sum, n := 0.0, 0
	for _, v := range l.Data {
		if raster.IsNoData(v, l.NoData()) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func (r *run) loadSOCInputs() (reference, climate raster.Layer, err error) {
	refDesc, err := r.findFactorAt(socCategory, r.req.Years.Start)
	if err != nil {
		return raster.Layer{}, raster.Layer{}, err
	}
	climDesc, err := r.findFactor(climateCategory)
	if err != nil {
		return raster.Layer{}, raster.Layer{}, err
	}
	if reference, err = r.load(refDesc, r.resampling); err != nil {
		return raster.Layer{}, raster.Layer{}, err
	}
	if climate, err = r.load(climDesc, align.Nearest); err != nil {
		return raster.Layer{}, raster.Layer{}, err
	}
	return reference, climate, nil
}

func (r *run) socChange(cutoff float64) (SOCResult, error) {
	base, target, err := r.loadLandCoverPair()
	if err != nil {
		return SOCResult{}, err
	}
	reference, climate, err := r.loadSOCInputs()
	if err != nil {
		return SOCResult{}, err
	}
	layers := r.common([]raster.Layer{base, target, reference, climate})
	return SOCChange(layers[0], layers[1], layers[2], layers[3], cutoff, r.nodata())
}

func (e *Engine) computeSOC(r *run) (*result.IndicatorResult, error) {
	var opts SOCOptions
	if err := decodeOptions(r.req.Options, &opts); err != nil {
		return nil, err
	}
	if err := opts.defaults(); err != nil {
		return nil, err
	}
	soc, err := r.socChange(opts.Cutoff)
	if err != nil {
		return nil, fmt.Errorf("soc change: %w", err)
	}
	res, err := r.pack(soc.Classified, ChangeLabels(), r.req.Years.Start, r.req.Years.End)
	if err != nil {
		return nil, err
	}
	if m, ok := meanOf(soc.Target); ok {
		res.Extras["mean_target_soc"] = m
	}
	if m, ok := meanOf(soc.PercentChange); ok {
		res.Extras["mean_percent_change"] = m
	}
	return res, nil
}
