// Package indicator computes land degradation indicators: it resolves the
// area of interest, aligns the input rasters, combines and classifies them
// and packages the classified output.
package indicator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/forest-guardian/ldn-engine/internal/align"
	"github.com/forest-guardian/ldn-engine/internal/cache"
	"github.com/forest-guardian/ldn-engine/internal/catalog"
	"github.com/forest-guardian/ldn-engine/internal/classify"
	"github.com/forest-guardian/ldn-engine/internal/errs"
	"github.com/forest-guardian/ldn-engine/internal/log"
	"github.com/forest-guardian/ldn-engine/internal/properties"
	"github.com/forest-guardian/ldn-engine/internal/raster"
	"github.com/forest-guardian/ldn-engine/internal/rasterio"
	"github.com/forest-guardian/ldn-engine/internal/result"
	"github.com/forest-guardian/ldn-engine/internal/scratch"
	"github.com/forest-guardian/ldn-engine/internal/utils"
	"github.com/forest-guardian/ldn-engine/internal/vector"
)

const logTag = "[indicator] "

// Engine runs indicator computations and may be shared by concurrent
// callers.
type Engine struct {
	rasters   catalog.RasterStore
	resolver  *vector.Resolver
	settings  properties.Settings
	publisher result.Publisher
	cache     *cache.FileCache[result.Envelope]
	progress  io.Writer

	// inflight keeps concurrent identical cacheable requests from computing
	// twice.
	inflight utils.KeyedMutex
}

type Option func(*Engine)

func WithPublisher(p result.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithCache stores envelopes of administrative-unit requests in dir.
func WithCache(dir string) Option {
	return func(e *Engine) {
		ttl := time.Duration(e.settings.CacheLimit) * time.Second
		e.cache = cache.NewFileCache[result.Envelope](dir, ttl)
	}
}

// WithProgressOutput sets where per-pixel progress bars are drawn.
func WithProgressOutput(w io.Writer) Option {
	return func(e *Engine) { e.progress = w }
}

func New(rasters catalog.RasterStore, boundaries vector.BoundaryStore, settings properties.Settings, opts ...Option) *Engine {
	e := &Engine{
		rasters:  rasters,
		resolver: &vector.Resolver{Store: boundaries, Clipping: settings.Clipping},
		settings: settings,
		progress: io.Discard,
		publisher: result.URLPublisher{
			BaseURL:     settings.DownloadBaseURL,
			OutputRoot:  settings.OutputDir,
			EnableTiles: settings.EnableTiles,
			WMSURL:      settings.WMSURL,
			Workspace:   settings.WMSWorkspace,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Settings() properties.Settings { return e.settings }

// Compute runs one indicator request and returns its envelope.
func (e *Engine) Compute(ctx context.Context, req Request) (*result.Envelope, error) {
	res, err := e.ComputeResult(ctx, req)
	if err != nil {
		return nil, err
	}
	env := res.Envelope()
	return &env, nil
}

func (e *Engine) cacheKey(req Request) (string, bool) {
	if e.cache == nil || req.Vector.IsCustom() || req.Vector.AdminLevel == nil || req.Vector.AdminID == nil {
		return "", false
	}
	return e.cache.GenerateKey(req.Indicator, *req.Vector.AdminLevel, *req.Vector.AdminID,
		req.Years.Start, req.Years.End, strings.ToLower(req.Source), req.Resampling, string(req.Options)), true
}

// ComputeResult is Compute without the final serialization step.
func (e *Engine) ComputeResult(ctx context.Context, req Request) (*result.IndicatorResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	key, cacheable := e.cacheKey(req)
	if cacheable {
		unlock := e.inflight.Lock(key)
		defer unlock()
		if env, ok := e.cache.Get(key); ok {
			log.Info(logTag+"cache hit", zap.String("indicator", string(req.Indicator)))
			return fromEnvelope(env), nil
		}
	}

	r, err := e.newRun(ctx, req)
	if err != nil {
		return nil, err
	}
	defer r.scratch.Cleanup()

	start := time.Now()
	log.Info(logTag+"computing", zap.String("indicator", string(req.Indicator)), zap.Int("start", req.Years.Start), zap.Int("end", req.Years.End))
	res, err := e.dispatch(r)
	if err != nil {
		log.Error(logTag+"computation failed", zap.String("indicator", string(req.Indicator)), zap.Error(err))
		return nil, err
	}
	e.publish(ctx, res)
	log.Info(logTag+"computed", zap.String("indicator", string(req.Indicator)), zap.Duration("elapsed", time.Since(start)))

	if cacheable {
		if err := e.cache.Set(key, res.Envelope()); err != nil {
			log.Warn(logTag+"failed to cache result", zap.Error(err))
		}
	}
	return res, nil
}

func (e *Engine) dispatch(r *run) (*result.IndicatorResult, error) {
	switch r.req.Indicator {
	case LULC:
		return e.computeLULC(r)
	case LULCChange:
		return e.computeLULCChange(r)
	case SOC:
		return e.computeSOC(r)
	case Trajectory:
		return e.computeTrajectory(r)
	case State:
		return e.computeState(r)
	case Performance:
		return e.computePerformance(r)
	case LandDegradation:
		return e.computeLandDegradation(r)
	case Aridity:
		return e.computeAridity(r)
	case CQI, SQI, VQI, MQI:
		return e.computeQuality(r, r.req.Indicator)
	case ESAI:
		return e.computeESAI(r)
	case ILSWE:
		return e.computeILSWE(r)
	case RUSLE:
		return e.computeRUSLE(r)
	case CVI:
		return e.computeCVI(r)
	case ForestChange:
		return e.computeForestChange(r)
	case ForestFire:
		return e.computeForestFire(r)
	case ForestCarbon:
		return e.computeForestCarbon(r)
	}
	return nil, &errs.ParameterValidationError{Field: "indicator", Reason: fmt.Sprintf("unknown indicator %q", r.req.Indicator)}
}

// publish never fails the computation.
func (e *Engine) publish(ctx context.Context, res *result.IndicatorResult) {
	if e.publisher == nil {
		return
	}
	url, tiles, err := e.publisher.Publish(ctx, res.RasterPath)
	if err != nil {
		log.Warn(logTag+"failed to publish raster", zap.String("path", res.RasterPath), zap.Error(err))
		return
	}
	res.RasterURL, res.Tiles = url, tiles
}

func fromEnvelope(env result.Envelope) *result.IndicatorResult {
	res := &result.IndicatorResult{
		NoData:     env.NodataVal,
		StartYear:  env.Base,
		EndYear:    env.Target,
		Stats:      env.Stats,
		RasterPath: env.RasterPath,
		RasterURL:  env.RasterFile,
		Tiles:      env.Tiles,
		Labels:     env.ChangeEnum,
		Extras:     env.Extras,
	}
	if res.Extras == nil {
		res.Extras = map[string]any{}
	}
	res.Extras["cached"] = true
	if r, ok := env.Extras["resolution"].(float64); ok && r > 0 {
		res.Resolution = r
		res.NodataCount = int(env.Nodata/(r*r) + 0.5)
	}
	return res
}

// run carries the state of one computation: the resolved vector, the
// scratch directory and the reference grid set by the first loaded raster.
type run struct {
	ctx        context.Context
	req        Request
	settings   properties.Settings
	rasters    catalog.RasterStore
	vec        vector.Resolved
	scratch    *scratch.Dir
	resampling align.Resampling
	progress   io.Writer

	// scopes lists the administrative levels whose rasters are searched, the
	// requested level first.
	scopes  []int
	lineage vector.Lineage

	refPath    string
	refMeta    raster.Meta
	resolution float64
	warnings   []string
}

func (e *Engine) newRun(ctx context.Context, req Request) (*run, error) {
	resampling, err := align.ParseResampling(req.Resampling)
	if err != nil {
		return nil, err
	}
	vec, err := e.resolver.Resolve(ctx, req.Vector)
	if err != nil {
		return nil, err
	}
	if vec.Custom {
		area := vector.PolygonAreaHectares(vec.Geometry, e.settings.AreaMode)
		check := vector.QueueThresholdCheck(area, req.Authenticated, e.settings.LimitsFor(req.Source))
		if check.Exceeded && !check.MustQueue {
			return nil, &errs.ParameterValidationError{Field: "vector.custom_coords", Reason: check.Message}
		}
		if check.MustQueue {
			log.Info(logTag+"large polygon", zap.Float64("area_ha", area), zap.String("message", check.Message))
		}
	}
	dir, err := scratch.New(e.settings.ScratchDir)
	if err != nil {
		return nil, err
	}
	r := &run{
		ctx:        ctx,
		req:        req,
		settings:   e.settings,
		rasters:    e.rasters,
		vec:        vec,
		scratch:    dir,
		resampling: resampling,
		progress:   e.progress,
	}
	if level, id, ok := scopeUnit(req.Vector); ok {
		lineage, err := e.resolver.Store.GetBoundaryLineage(ctx, level, id)
		if err != nil {
			log.Warn(logTag+"failed to look up boundary lineage", zap.Int("level", level), zap.Int("id", id), zap.Error(err))
			lineage = vector.Lineage{level: id}
		}
		r.lineage = lineage
		for l := level; l >= vector.Continental; l-- {
			r.scopes = append(r.scopes, l)
		}
	}
	return r, nil
}

// scopeUnit returns the administrative unit the request is tied to: the
// requested unit, or the unit containing a custom polygon.
func scopeUnit(sel vector.Selector) (level, id int, ok bool) {
	switch {
	case !sel.IsCustom() && sel.AdminLevel != nil && sel.AdminID != nil:
		return *sel.AdminLevel, *sel.AdminID, true
	case sel.IsCustom() && sel.ContainingAdminID != nil:
		level = vector.Country
		if sel.AdminLevel != nil {
			level = *sel.AdminLevel
		}
		return level, *sel.ContainingAdminID, true
	}
	return 0, 0, false
}

func (r *run) nodata() float64 { return r.settings.DefaultNodata }

func (r *run) warn(msg string) {
	r.warnings = append(r.warnings, msg)
}

// query runs f against the catalog. Rasters of the requested administrative
// level are preferred; broader levels are tried in turn when none match.
func (r *run) query(f catalog.Filter) ([]catalog.Descriptor, error) {
	if len(r.scopes) == 0 {
		return r.rasters.FindRasters(r.ctx, f)
	}
	for _, level := range r.scopes {
		f.AdminLevel = &level
		found, err := r.rasters.FindRasters(r.ctx, f)
		if err != nil || len(found) > 0 {
			return found, err
		}
	}
	return nil, nil
}

// find returns the single raster matching f.
func (r *run) find(f catalog.Filter) (catalog.Descriptor, error) {
	found, err := r.query(f)
	if err != nil {
		return catalog.Descriptor{}, fmt.Errorf("failed to query raster catalog: %w", err)
	}
	switch len(found) {
	case 0:
		return catalog.Descriptor{}, &errs.MissingRasterError{Category: f.Category, Source: f.Source, Year: f.Year}
	case 1:
		return found[0], nil
	}
	paths := make([]string, len(found))
	for i, d := range found {
		paths[i] = d.FilePath
	}
	return catalog.Descriptor{}, &errs.DuplicateInputError{Category: f.Category, Year: f.Year, Matches: paths}
}

// findYear looks up the raster of category for year, restricted to the
// requested source.
func (r *run) findYear(category string, year int) (catalog.Descriptor, error) {
	return r.find(catalog.Filter{Category: category, Source: r.req.Source, Year: year})
}

// findFactor looks up an auxiliary layer: the one of the end year when
// present, otherwise the static one.
func (r *run) findFactor(category string) (catalog.Descriptor, error) {
	return r.findFactorAt(category, r.req.Years.End)
}

func (r *run) findFactorAt(category string, year int) (catalog.Descriptor, error) {
	d, err := r.find(catalog.Filter{Category: category, Year: year})
	var missing *errs.MissingRasterError
	if errors.As(err, &missing) {
		return r.find(catalog.Filter{Category: category, Static: true})
	}
	return d, err
}

// series returns one raster per year of the requested window.
func (r *run) series(category string) ([]catalog.Descriptor, error) {
	f := catalog.Filter{Category: category, Source: r.req.Source, YearFrom: r.req.Years.Start, YearTo: r.req.Years.End}
	found, err := r.query(f)
	if err != nil {
		return nil, fmt.Errorf("failed to query raster catalog: %w", err)
	}
	byYear := map[int][]string{}
	for _, d := range found {
		byYear[d.Year] = append(byYear[d.Year], d.FilePath)
	}
	for year, paths := range byYear {
		if len(paths) > 1 {
			return nil, &errs.DuplicateInputError{Category: category, Year: year, Matches: paths}
		}
	}
	return found, nil
}

// load clips d to the area of interest and aligns it to the reference grid.
// The first raster loaded becomes the reference.
func (r *run) load(d catalog.Descriptor, method align.Resampling) (raster.Layer, error) {
	if err := r.ctx.Err(); err != nil {
		return raster.Layer{}, err
	}
	clipped, err := align.ClipToVector(d.FilePath, r.vec.GeoJSON, r.nodata(), r.settings.Clipping, r.scratch)
	if err != nil {
		return raster.Layer{}, err
	}
	layer := clipped.Layer
	if r.refPath == "" {
		r.refPath = clipped.Path
		r.refMeta = layer.Meta
		r.resolution = d.Resolution
		if r.resolution <= 0 {
			r.resolution = layer.Meta.Resolution()
		}
	} else {
		path, nodata, err := align.ReprojectToReference(r.refPath, clipped.Path, method, r.scratch)
		if err != nil {
			return raster.Layer{}, err
		}
		if path != clipped.Path {
			layer, err = rasterio.Read(path, 1)
			if err != nil {
				return raster.Layer{}, &errs.AlignmentError{Path: d.FilePath, Err: err}
			}
			layer.Data = raster.HarmonizeNodata(layer.Data, nodata, r.nodata())
			layer.Meta.NoData, layer.Meta.HasNoData = r.nodata(), true
		}
	}
	mapping, err := d.Mapping()
	if err != nil {
		return raster.Layer{}, &errs.ParameterValidationError{Field: "value_mapping", Reason: err.Error()}
	}
	if mapping != nil {
		layer = layer.WithData(classify.Reclassify(layer.Data, mapping, false, r.nodata()), r.nodata())
	}
	log.Debug(logTag+"loaded raster", zap.String("category", d.Category), zap.Int("year", d.Year), zap.Int("width", layer.Width()), zap.Int("height", layer.Height()))
	return layer, nil
}

// loadAll loads the descriptors onto one grid. Layers that still disagree in
// shape are cropped to their common extent and a warning is recorded.
func (r *run) loadAll(ds []catalog.Descriptor, method align.Resampling) ([]raster.Layer, error) {
	layers := make([]raster.Layer, 0, len(ds))
	for _, d := range ds {
		l, err := r.load(d, method)
		if err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}
	return r.common(layers), nil
}

func (r *run) common(layers []raster.Layer) []raster.Layer {
	out, truncated := raster.ReshapeToCommonExtent(layers)
	if truncated {
		msg := fmt.Sprintf("input rasters differed in shape and were cropped to %dx%d pixels", out[0].Width(), out[0].Height())
		log.Warn(logTag+msg)
		r.warn(msg)
	}
	return out
}

// pack writes the classified layer below the output directory and tabulates
// it. A layer cropped to a common extent keeps its own grid instead of the
// reference's.
func (r *run) pack(classified raster.Layer, labels result.Labels, startYear, endYear int, opts ...result.Option) (*result.IndicatorResult, error) {
	name := string(r.req.Indicator)
	dest := filepath.Join(r.settings.OutputDir, name, fmt.Sprintf("%s_%d_%s.tif", name, endYear, uuid.NewString()[:8]))
	source := r.refPath
	if classified.Width() != r.refMeta.Width || classified.Height() != r.refMeta.Height {
		source = ""
	}
	if r.settings.EnablePreview {
		opts = append(opts, result.WithPreview())
	}
	res, err := result.Package(classified, r.nodata(), r.resolution, source, labels, dest, opts...)
	if err != nil {
		return nil, err
	}
	res.StartYear, res.EndYear = startYear, endYear
	res.Extras["resolution"] = r.resolution
	for _, w := range r.warnings {
		res.AddWarning(w)
	}
	if len(r.lineage) > 0 {
		res.Extras["lineage"] = r.lineageExtra()
	}
	return res, nil
}

type lineageEntry struct {
	Level string `json:"level"`
	ID    int    `json:"id"`
}

// lineageExtra lists the units containing the area of interest, broadest
// first.
func (r *run) lineageExtra() []lineageEntry {
	levels := utils.GetSortedKeys(r.lineage, true)
	out := make([]lineageEntry, 0, len(levels))
	for _, level := range levels {
		out = append(out, lineageEntry{Level: vector.LevelName(level), ID: r.lineage[level]})
	}
	return out
}

func (r *run) newProgress(n int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(n,
		progressbar.OptionSetWriter(r.progress),
		progressbar.OptionSetDescription(description),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}

func (r *run) start() int {
	if r.req.Years.Start != 0 {
		return r.req.Years.Start
	}
	return r.req.Years.End
}
