package indicator

import (
	"fmt"

	"github.com/forest-guardian/ldn-engine/internal/align"
	"github.com/forest-guardian/ldn-engine/internal/catalog"
	"github.com/forest-guardian/ldn-engine/internal/classify"
	"github.com/forest-guardian/ldn-engine/internal/errs"
	"github.com/forest-guardian/ldn-engine/internal/raster"
	"github.com/forest-guardian/ldn-engine/internal/result"
)

const lulcCategory = "lulc"

// LandCover keeps the harmonized classes of l and sets anything else to
// nodata.
func LandCover(l raster.Layer, nodata float64) raster.Layer {
	out := make([]float64, len(l.Data))
	for i, v := range l.Data {
		if raster.IsNoData(v, l.NoData()) || v < Bareland || v > Forest || v != float64(int(v)) {
			out[i] = nodata
			continue
		}
		out[i] = v
	}
	return l.WithData(out, nodata)
}

// LandCoverChange classifies every base to target transition.
func LandCoverChange(base, target raster.Layer, m classify.TransitionMatrix, nodata float64) (raster.Layer, error) {
	if err := sameShape(base, target); err != nil {
		return raster.Layer{}, err
	}
	b := raster.HarmonizeNodata(base.Data, base.NoData(), nodata)
	t := raster.HarmonizeNodata(target.Data, target.NoData(), nodata)
	out, err := classify.ApplyTransitionMatrix(b, t, m, nodata)
	if err != nil {
		return raster.Layer{}, err
	}
	return base.WithData(out, nodata), nil
}

// transitionCounts tallies the base to target pairs, keyed "base->target".
func transitionCounts(base, target raster.Layer, nodata float64) map[string]int {
	counts := map[string]int{}
	for i := range base.Data {
		b, t := base.Data[i], target.Data[i]
		if raster.IsNoData(b, nodata) || raster.IsNoData(t, nodata) {
			continue
		}
		counts[fmt.Sprintf("%d->%d", int(b), int(t))]++
	}
	return counts
}

func (r *run) requireStart() error {
	if r.req.Years.Start == 0 || r.req.Years.Start >= r.req.Years.End {
		return &errs.ParameterValidationError{Field: "years.start", Reason: "a base year before the target year is required"}
	}
	return nil
}

func (r *run) loadLandCoverPair() (base, target raster.Layer, err error) {
	if err := r.requireStart(); err != nil {
		return raster.Layer{}, raster.Layer{}, err
	}
	bd, err := r.findYear(lulcCategory, r.req.Years.Start)
	if err != nil {
		return raster.Layer{}, raster.Layer{}, err
	}
	td, err := r.findYear(lulcCategory, r.req.Years.End)
	if err != nil {
		return raster.Layer{}, raster.Layer{}, err
	}
	layers, err := r.loadAll([]catalog.Descriptor{bd, td}, align.Nearest)
	if err != nil {
		return raster.Layer{}, raster.Layer{}, err
	}
	return LandCover(layers[0], r.nodata()), LandCover(layers[1], r.nodata()), nil
}

func (e *Engine) computeLULC(r *run) (*result.IndicatorResult, error) {
	d, err := r.findYear(lulcCategory, r.req.Years.End)
	if err != nil {
		return nil, err
	}
	l, err := r.load(d, align.Nearest)
	if err != nil {
		return nil, err
	}
	return r.pack(LandCover(l, r.nodata()), LULCLabels(), r.req.Years.End, r.req.Years.End)
}

func (e *Engine) computeLULCChange(r *run) (*result.IndicatorResult, error) {
	base, target, err := r.loadLandCoverPair()
	if err != nil {
		return nil, err
	}
	change, err := LandCoverChange(base, target, LULCTransitions(), r.nodata())
	if err != nil {
		return nil, err
	}
	res, err := r.pack(change, ChangeLabels(), r.req.Years.Start, r.req.Years.End)
	if err != nil {
		return nil, err
	}
	res.Extras["transitions"] = transitionCounts(base, target, r.nodata())
	return res, nil
}

func sameShape(layers ...raster.Layer) error {
	for i, l := range layers[1:] {
		if l.Width() != layers[0].Width() || l.Height() != layers[0].Height() || len(l.Data) != len(layers[0].Data) {
			return fmt.Errorf("layer %d is %dx%d, expected %dx%d", i+1, l.Height(), l.Width(), layers[0].Height(), layers[0].Width())
		}
	}
	return nil
}
