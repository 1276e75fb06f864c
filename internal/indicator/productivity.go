package indicator

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/forest-guardian/ldn-engine/internal/align"
	"github.com/forest-guardian/ldn-engine/internal/classify"
	"github.com/forest-guardian/ldn-engine/internal/errs"
	"github.com/forest-guardian/ldn-engine/internal/raster"
	"github.com/forest-guardian/ldn-engine/internal/result"
)

const (
	ndviCategory     = "ndvi"
	ecoUnitsCategory = "ecological_units"
	recentPeriods    = 3
)

// TrajectoryClasses selects the output scheme of the trajectory.
type TrajectoryClasses int

const (
	TrajectoryTernary TrajectoryClasses = iota
	TrajectoryFiveClass
	TrajectoryBinary
)

var trajectoryClassesText = enumText[TrajectoryClasses]{
	field: "classes",
	names: map[TrajectoryClasses]string{
		TrajectoryTernary:   "ternary",
		TrajectoryFiveClass: "five_class",
		TrajectoryBinary:    "binary",
	},
}

func (c TrajectoryClasses) String() string { return trajectoryClassesText.String(c) }

func (c *TrajectoryClasses) UnmarshalText(b []byte) error {
	v, err := trajectoryClassesText.Parse(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (c TrajectoryClasses) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c TrajectoryClasses) matrix() (classify.ThresholdMatrix, result.Labels) {
	switch c {
	case TrajectoryFiveClass:
		return trajectoryFive, trajectoryFiveLabels
	case TrajectoryBinary:
		return trajectoryBinary, binaryLabels
	case TrajectoryTernary:
		return trajectoryTernary, changeLabels
	}
	panic(fmt.Sprintf("unhandled trajectory classes %d", int(c)))
}

type ProductivityOptions struct {
	Version    int               `json:"version"`
	Classes    TrajectoryClasses `json:"classes"`
	Cutoff     float64           `json:"cutoff"`
	Percentile float64           `json:"percentile"`
}

func (o *ProductivityOptions) defaults() error {
	if o.Version == 0 {
		o.Version = 1
	}
	if o.Version != 1 && o.Version != 2 {
		return &errs.ParameterValidationError{Field: "version", Reason: fmt.Sprintf("unsupported version %d", o.Version)}
	}
	if o.Cutoff == 0 {
		o.Cutoff = 0.5
	}
	if o.Percentile == 0 {
		o.Percentile = 90
	}
	if o.Cutoff < 0 || o.Cutoff > 1 {
		return &errs.ParameterValidationError{Field: "cutoff", Reason: "must be within [0, 1]"}
	}
	if o.Percentile <= 0 || o.Percentile > 100 {
		return &errs.ParameterValidationError{Field: "percentile", Reason: "must be within (0, 100]"}
	}
	return nil
}

// MinYears is the number of yearly rasters a productivity version needs.
func MinYears(version int) int {
	if version == 2 {
		return 16
	}
	return 8
}

// SignedConfidence turns a slope and its p-value into sign(slope)*(1-p).
func SignedConfidence(slope, p []float64, nodata float64) []float64 {
	out := make([]float64, len(slope))
	for i := range slope {
		if raster.IsNoData(slope[i], nodata) || raster.IsNoData(p[i], nodata) {
			out[i] = nodata
			continue
		}
		sign := 0.0
		switch {
		case slope[i] > 0:
			sign = 1
		case slope[i] < 0:
			sign = -1
		}
		out[i] = sign * (1 - p[i])
	}
	return out
}

func stackData(stack []raster.Layer) [][]float64 {
	out := make([][]float64, len(stack))
	for i, l := range stack {
		out[i] = l.Data
	}
	return out
}

// ProductivityTrajectory classifies the significance of the NDVI trend.
func ProductivityTrajectory(years []int, stack []raster.Layer, classes TrajectoryClasses, nodata float64, opts ...classify.TrendOption) (raster.Layer, error) {
	if len(stack) == 0 {
		return raster.Layer{}, fmt.Errorf("empty stack")
	}
	if err := sameShape(stack...); err != nil {
		return raster.Layer{}, err
	}
	slope, p, err := classify.LinearTrendAndSignificance(years, stackData(stack), nodata, opts...)
	if err != nil {
		return raster.Layer{}, err
	}
	matrix, _ := classes.matrix()
	out, err := classify.ApplyThresholdMatrix(SignedConfidence(slope, p, nodata), matrix, nodata)
	if err != nil {
		return raster.Layer{}, err
	}
	return stack[0].WithData(out, nodata), nil
}

func pixelSeries(stack []raster.Layer, px int, buf []float64, nodata float64) bool {
	for t, l := range stack {
		v := l.Data[px]
		if raster.IsNoData(v, nodata) {
			return false
		}
		buf[t] = v
	}
	return true
}

// ProductivityState compares the mean of the last three years with the
// mean of the earlier baseline. Version 1 ranks both means against the
// distribution of baseline means over the whole area and compares their
// decile classes; version 2 computes a z-score against the pixel's own
// baseline, using the population standard deviation.
func ProductivityState(stack []raster.Layer, version int, widening, nodata float64) (raster.Layer, error) {
	n := len(stack)
	if n < recentPeriods+2 {
		return raster.Layer{}, fmt.Errorf("state needs at least %d periods, got %d", recentPeriods+2, n)
	}
	if err := sameShape(stack...); err != nil {
		return raster.Layer{}, err
	}
	size := len(stack[0].Data)
	baseMeans := make([]float64, size)
	recentMeans := make([]float64, size)
	values := make([]float64, size)
	series := make([]float64, n)
	for px := 0; px < size; px++ {
		if !pixelSeries(stack, px, series, nodata) {
			baseMeans[px], recentMeans[px], values[px] = nodata, nodata, nodata
			continue
		}
		baseline, recent := series[:n-recentPeriods], series[n-recentPeriods:]
		baseMeans[px], recentMeans[px] = stat.Mean(baseline, nil), stat.Mean(recent, nil)
		if version == 2 {
			_, std := stat.PopMeanStdDev(baseline, nil)
			values[px] = classify.ZScore(recentMeans[px], baseMeans[px], std, recentPeriods)
		}
	}

	matrix := stateZMatrix
	if version != 2 {
		matrix = stateDecileMatrix
		dist := classify.NewFrequencyDistribution(widening, nodata, baseMeans)
		baseClass := classify.AssignPercentileClass(baseMeans, dist, nodata)
		recentClass := classify.AssignPercentileClass(recentMeans, dist, nodata)
		for px := range values {
			if raster.IsNoData(baseClass[px], nodata) || raster.IsNoData(recentClass[px], nodata) {
				values[px] = nodata
				continue
			}
			values[px] = recentClass[px] - baseClass[px]
		}
	}
	out, err := classify.ApplyThresholdMatrix(values, matrix, nodata)
	if err != nil {
		return raster.Layer{}, err
	}
	return stack[0].WithData(out, nodata), nil
}

// ProductivityPerformance compares the mean NDVI of each pixel over the
// stack, which is the baseline window, with the given percentile of the
// means in its ecological unit. Pixels below cutoff times that percentile
// are degraded.
func ProductivityPerformance(stack []raster.Layer, units raster.Layer, cutoff, percentile, nodata float64) (raster.Layer, int, error) {
	if len(stack) == 0 {
		return raster.Layer{}, 0, fmt.Errorf("empty stack")
	}
	if err := sameShape(append([]raster.Layer{units}, stack...)...); err != nil {
		return raster.Layer{}, 0, err
	}
	size := len(units.Data)
	means := make([]float64, size)
	byUnit := map[int][]float64{}
	for px := 0; px < size; px++ {
		means[px] = nodata
		u := units.Data[px]
		if raster.IsNoData(u, units.NoData()) {
			continue
		}
		sum, count := 0.0, 0
		for _, l := range stack {
			if v := l.Data[px]; !raster.IsNoData(v, nodata) {
				sum += v
				count++
			}
		}
		if count == 0 {
			continue
		}
		means[px] = sum / float64(count)
		byUnit[int(u)] = append(byUnit[int(u)], means[px])
	}
	reference := make(map[int]float64, len(byUnit))
	for unit, vals := range byUnit {
		slices.Sort(vals)
		reference[unit] = stat.Quantile(percentile/100, stat.Empirical, vals, nil)
	}

	ratios := make([]float64, size)
	for px := range ratios {
		ratios[px] = nodata
		if raster.IsNoData(means[px], nodata) {
			continue
		}
		ref := reference[int(units.Data[px])]
		if ref <= 0 || math.IsNaN(ref) {
			continue
		}
		ratios[px] = means[px] / ref
	}
	matrix := classify.Breaks([]float64{cutoff}, []float64{Degraded, Stable})
	out, err := classify.ApplyThresholdMatrix(ratios, matrix, nodata)
	if err != nil {
		return raster.Layer{}, 0, err
	}
	return units.WithData(out, nodata), len(byUnit), nil
}

// ndviSeries loads the yearly NDVI of the window, requiring at least
// required years.
func (r *run) ndviSeries(indicator Name, required int) ([]int, []raster.Layer, error) {
	if r.req.Years.Start == 0 {
		return nil, nil, &errs.ParameterValidationError{Field: "years.start", Reason: "required for productivity"}
	}
	ds, err := r.series(ndviCategory)
	if err != nil {
		return nil, nil, err
	}
	if len(ds) < required {
		return nil, nil, &errs.InsufficientDataError{Indicator: string(indicator), Required: required, Available: len(ds)}
	}
	layers, err := r.loadAll(ds, r.resampling)
	if err != nil {
		return nil, nil, err
	}
	years := make([]int, len(ds))
	for i, d := range ds {
		years[i] = d.Year
	}
	return years, layers, nil
}

func (r *run) productivityOptions() (ProductivityOptions, error) {
	var opts ProductivityOptions
	if err := decodeOptions(r.req.Options, &opts); err != nil {
		return opts, err
	}
	return opts, opts.defaults()
}

func (r *run) trajectory(years []int, stack []raster.Layer, classes TrajectoryClasses) (raster.Layer, error) {
	bar := r.newProgress(len(stack[0].Data), "trajectory")
	defer bar.Finish()
	return ProductivityTrajectory(years, stack, classes, r.nodata(), classify.WithProgress(func(n int) { bar.Add(n) }))
}

func (r *run) performance(stack []raster.Layer, opts ProductivityOptions) (raster.Layer, int, error) {
	d, err := r.findFactor(ecoUnitsCategory)
	if err != nil {
		return raster.Layer{}, 0, err
	}
	units, err := r.load(d, align.Nearest)
	if err != nil {
		return raster.Layer{}, 0, err
	}
	layers := r.common(append([]raster.Layer{units}, stack...))
	return ProductivityPerformance(layers[1:], layers[0], opts.Cutoff, opts.Percentile, r.nodata())
}

func (e *Engine) computeTrajectory(r *run) (*result.IndicatorResult, error) {
	opts, err := r.productivityOptions()
	if err != nil {
		return nil, err
	}
	years, stack, err := r.ndviSeries(Trajectory, MinYears(opts.Version))
	if err != nil {
		return nil, err
	}
	classified, err := r.trajectory(years, stack, opts.Classes)
	if err != nil {
		return nil, err
	}
	_, labels := opts.Classes.matrix()
	res, err := r.pack(classified, append(result.Labels(nil), labels...), years[0], years[len(years)-1])
	if err != nil {
		return nil, err
	}
	res.Extras["years"] = len(years)
	return res, nil
}

func (e *Engine) computeState(r *run) (*result.IndicatorResult, error) {
	opts, err := r.productivityOptions()
	if err != nil {
		return nil, err
	}
	years, stack, err := r.ndviSeries(State, MinYears(opts.Version))
	if err != nil {
		return nil, err
	}
	classified, err := ProductivityState(stack, opts.Version, r.settings.PercentileWidening, r.nodata())
	if err != nil {
		return nil, err
	}
	return r.pack(classified, ChangeLabels(), years[0], years[len(years)-1])
}

func (e *Engine) computePerformance(r *run) (*result.IndicatorResult, error) {
	opts, err := r.productivityOptions()
	if err != nil {
		return nil, err
	}
	years, stack, err := r.ndviSeries(Performance, MinYears(opts.Version))
	if err != nil {
		return nil, err
	}
	classified, units, err := r.performance(stack, opts)
	if err != nil {
		return nil, err
	}
	res, err := r.pack(classified, append(result.Labels(nil), binaryLabels[0], result.ClassLabel{Value: Stable, Label: "Stable"}), years[0], years[len(years)-1])
	if err != nil {
		return nil, err
	}
	res.Extras["ecological_units"] = units
	return res, nil
}
