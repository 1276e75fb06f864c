package indicator

import (
	"fmt"

	"github.com/forest-guardian/ldn-engine/internal/align"
	"github.com/forest-guardian/ldn-engine/internal/errs"
	"github.com/forest-guardian/ldn-engine/internal/raster"
	"github.com/forest-guardian/ldn-engine/internal/result"
)

// DegradationMode selects the land degradation combination table.
type DegradationMode int

const (
	// DegradationBinary flags a pixel degraded when any sub-indicator is.
	DegradationBinary DegradationMode = iota
	// DegradationTernary also reports improvement when no sub-indicator is
	// degraded and at least one improved.
	DegradationTernary
)

var degradationModeText = enumText[DegradationMode]{
	field: "mode",
	names: map[DegradationMode]string{
		DegradationBinary:  "binary",
		DegradationTernary: "ternary",
	},
}

func (m DegradationMode) String() string { return degradationModeText.String(m) }

func (m *DegradationMode) UnmarshalText(b []byte) error {
	v, err := degradationModeText.Parse(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func (m DegradationMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// DegradationInputs selects the sub-indicators combined into land
// degradation.
type DegradationInputs int

const (
	// ProductivityInputs combines trajectory, state and performance.
	ProductivityInputs DegradationInputs = iota
	// SubIndicatorInputs combines the merged productivity with land cover
	// change and soil organic carbon change.
	SubIndicatorInputs
)

var degradationInputsText = enumText[DegradationInputs]{
	field: "inputs",
	names: map[DegradationInputs]string{
		ProductivityInputs: "productivity",
		SubIndicatorInputs: "sub_indicators",
	},
}

func (i DegradationInputs) String() string { return degradationInputsText.String(i) }

func (i *DegradationInputs) UnmarshalText(b []byte) error {
	v, err := degradationInputsText.Parse(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

func (i DegradationInputs) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

type LandDegradationOptions struct {
	Version    int               `json:"version"`
	Mode       DegradationMode   `json:"mode"`
	Inputs     DegradationInputs `json:"inputs"`
	SOCCutoff  float64           `json:"soc_cutoff"`
	Cutoff     float64           `json:"cutoff"`
	Percentile float64           `json:"percentile"`
}

// CombineProductivity merges trajectory, state and performance into the
// productivity sub-indicator used with SubIndicatorInputs. The trajectory
// decides unless state and performance are both degraded.
func CombineProductivity(trajectory, state, performance raster.Layer, nodata float64) (raster.Layer, error) {
	if err := sameShape(trajectory, state, performance); err != nil {
		return raster.Layer{}, err
	}
	out := make([]float64, len(trajectory.Data))
	for i := range out {
		t, s, p := trajectory.Data[i], state.Data[i], performance.Data[i]
		if raster.IsNoData(t, nodata) || raster.IsNoData(s, nodata) || raster.IsNoData(p, nodata) {
			out[i] = nodata
			continue
		}
		bothDegraded := s == Degraded && p == Degraded
		switch {
		case t == Degraded:
			out[i] = Degraded
		case t == Improved && bothDegraded:
			out[i] = Stable
		case t == Improved:
			out[i] = Improved
		case bothDegraded:
			out[i] = Degraded
		default:
			out[i] = Stable
		}
	}
	return trajectory.WithData(out, nodata), nil
}

// CombineDegradation applies the combination table of mode to three
// sub-indicators. In binary mode every state other than degraded counts as
// not degraded, so a pixel is degraded as soon as one input is.
func CombineDegradation(a, b, c raster.Layer, mode DegradationMode, nodata float64) (raster.Layer, error) {
	if err := sameShape(a, b, c); err != nil {
		return raster.Layer{}, err
	}
	table := DegradationTable(mode)
	state := func(v float64) int {
		if mode == DegradationBinary && v != Degraded {
			return Stable
		}
		return int(v)
	}
	out := make([]float64, len(a.Data))
	for i := range out {
		x, y, z := a.Data[i], b.Data[i], c.Data[i]
		if raster.IsNoData(x, nodata) || raster.IsNoData(y, nodata) || raster.IsNoData(z, nodata) {
			out[i] = nodata
			continue
		}
		class, ok := table[[3]int{state(x), state(y), state(z)}]
		if !ok {
			out[i] = nodata
			continue
		}
		out[i] = float64(class)
	}
	return a.WithData(out, nodata), nil
}

func degradedCount(l raster.Layer) int {
	n := 0
	for _, v := range l.Data {
		if v == Degraded {
			n++
		}
	}
	return n
}

func (e *Engine) computeLandDegradation(r *run) (*result.IndicatorResult, error) {
	var opts LandDegradationOptions
	if err := decodeOptions(r.req.Options, &opts); err != nil {
		return nil, err
	}
	prodOpts := ProductivityOptions{Version: opts.Version, Cutoff: opts.Cutoff, Percentile: opts.Percentile}
	if err := prodOpts.defaults(); err != nil {
		return nil, err
	}
	socOpts := SOCOptions{Cutoff: opts.SOCCutoff}
	if err := socOpts.defaults(); err != nil {
		return nil, err
	}
	if opts.Mode != DegradationBinary && opts.Mode != DegradationTernary {
		return nil, &errs.ParameterValidationError{Field: "mode", Reason: fmt.Sprintf("unsupported mode %d", int(opts.Mode))}
	}

	years, stack, err := r.ndviSeries(LandDegradation, MinYears(prodOpts.Version))
	if err != nil {
		return nil, err
	}
	unitsDesc, err := r.findFactor(ecoUnitsCategory)
	if err != nil {
		return nil, err
	}
	units, err := r.load(unitsDesc, align.Nearest)
	if err != nil {
		return nil, err
	}

	var combined raster.Layer
	degraded := map[string]int{}
	switch opts.Inputs {
	case ProductivityInputs:
		all := r.common(append([]raster.Layer{units}, stack...))
		units, stack = all[0], all[1:]
		traj, state, perf, err := r.productivityTriple(years, stack, units, prodOpts)
		if err != nil {
			return nil, err
		}
		if combined, err = CombineDegradation(traj, state, perf, opts.Mode, r.nodata()); err != nil {
			return nil, err
		}
		degraded["trajectory"] = degradedCount(traj)
		degraded["state"] = degradedCount(state)
		degraded["performance"] = degradedCount(perf)
	case SubIndicatorInputs:
		base, target, err := r.loadLandCoverPair()
		if err != nil {
			return nil, err
		}
		reference, climate, err := r.loadSOCInputs()
		if err != nil {
			return nil, err
		}
		all := r.common(append([]raster.Layer{units, base, target, reference, climate}, stack...))
		units, base, target, reference, climate, stack = all[0], all[1], all[2], all[3], all[4], all[5:]

		traj, state, perf, err := r.productivityTriple(years, stack, units, prodOpts)
		if err != nil {
			return nil, err
		}
		productivity, err := CombineProductivity(traj, state, perf, r.nodata())
		if err != nil {
			return nil, err
		}
		landCover, err := LandCoverChange(base, target, LULCTransitions(), r.nodata())
		if err != nil {
			return nil, err
		}
		soc, err := SOCChange(base, target, reference, climate, socOpts.Cutoff, r.nodata())
		if err != nil {
			return nil, err
		}
		if combined, err = CombineDegradation(productivity, landCover, soc.Classified, opts.Mode, r.nodata()); err != nil {
			return nil, err
		}
		degraded["productivity"] = degradedCount(productivity)
		degraded["land_cover"] = degradedCount(landCover)
		degraded["soc"] = degradedCount(soc.Classified)
	default:
		return nil, &errs.ParameterValidationError{Field: "inputs", Reason: fmt.Sprintf("unsupported inputs %d", int(opts.Inputs))}
	}

	labels := binaryLabels
	if opts.Mode == DegradationTernary {
		labels = changeLabels
	}
	res, err := r.pack(combined, append(result.Labels(nil), labels...), r.req.Years.Start, r.req.Years.End)
	if err != nil {
		return nil, err
	}
	res.Extras["degraded_pixels"] = degraded
	res.Extras["mode"] = opts.Mode.String()
	res.Extras["inputs"] = opts.Inputs.String()
	return res, nil
}

func (r *run) productivityTriple(years []int, stack []raster.Layer, units raster.Layer, opts ProductivityOptions) (traj, state, perf raster.Layer, err error) {
	if traj, err = r.trajectory(years, stack, TrajectoryTernary); err != nil {
		return
	}
	if state, err = ProductivityState(stack, opts.Version, r.settings.PercentileWidening, r.nodata()); err != nil {
		return
	}
	perf, _, err = ProductivityPerformance(stack, units, opts.Cutoff, opts.Percentile, r.nodata())
	return
}
