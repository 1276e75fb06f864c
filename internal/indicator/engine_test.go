package indicator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest-guardian/ldn-engine/internal/catalog"
	"github.com/forest-guardian/ldn-engine/internal/errs"
	"github.com/forest-guardian/ldn-engine/internal/properties"
	"github.com/forest-guardian/ldn-engine/internal/raster"
	"github.com/forest-guardian/ldn-engine/internal/rasterio"
	"github.com/forest-guardian/ldn-engine/internal/result"
	"github.com/forest-guardian/ldn-engine/internal/vector"
)

const wgs84 = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433],AUTHORITY["EPSG","4326"]]`

// 4x4 pixels of 0.01 degrees with the top left corner at 10E 50N.
var gridExtent = orb.Polygon{{{10, 49.96}, {10.04, 49.96}, {10.04, 50}, {10, 50}, {10, 49.96}}}

type fakeBoundaries map[[2]int]vector.Boundary

func (f fakeBoundaries) GetBoundary(_ context.Context, level, id int) (vector.Boundary, error) {
	b, ok := f[[2]int{level, id}]
	if !ok {
		return vector.Boundary{}, fmt.Errorf("boundary %d/%d: %w", level, id, vector.ErrBoundaryNotFound)
	}
	return b, nil
}

func (f fakeBoundaries) GetBoundaryLineage(_ context.Context, level, id int) (vector.Lineage, error) {
	if _, ok := f[[2]int{level, id}]; !ok {
		return nil, vector.ErrBoundaryNotFound
	}
	return vector.Lineage{level: id}, nil
}

type fixture struct {
	t        *testing.T
	dir      string
	rasters  []catalog.Descriptor
	settings properties.Settings
}

func newFixture(t *testing.T) *fixture {
	dir := t.TempDir()
	return &fixture{
		t:   t,
		dir: dir,
		settings: properties.Settings{
			ScratchDir:         filepath.Join(dir, "scratch"),
			OutputDir:          filepath.Join(dir, "out"),
			Clipping:           properties.AllTouched,
			DefaultNodata:      nd,
			PercentileWidening: properties.DefaultPercentileWidening,
			AreaMode:           properties.AreaMercator,
			PolygonLimits:      properties.PolygonLimits{Guest: properties.DefaultGuestLimitHa, Authenticated: properties.DefaultAuthLimitHa},
		},
	}
}

// add writes a 4x4 raster from rows and registers it in the catalog.
func (f *fixture) add(category, source string, year int, rows [][]float64) {
	f.t.Helper()
	l, err := raster.FromRows(rows, nd)
	require.NoError(f.t, err)
	l.Meta.GeoTransform = [6]float64{10, 0.01, 0, 50, 0, -0.01}
	l.Meta.Projection = wgs84
	l.Meta.DataType = raster.Float32
	path := filepath.Join(f.dir, fmt.Sprintf("%s_%s_%d_%d.tif", category, source, year, len(f.rasters)))
	require.NoError(f.t, rasterio.Write(l, path))
	f.rasters = append(f.rasters, catalog.Descriptor{
		ID: len(f.rasters) + 1, FilePath: path, Year: year, Category: category, Source: source,
	})
}

func (f *fixture) fill(category, source string, year int, v float64) {
	f.add(category, source, year, [][]float64{{v, v, v, v}, {v, v, v, v}, {v, v, v, v}, {v, v, v, v}})
}

func (f *fixture) engine(opts ...Option) *Engine {
	boundaries := fakeBoundaries{{vector.Country, 1}: {Level: vector.Country, ID: 1, Name: "Testland", Geometry: gridExtent}}
	return New(catalog.NewStore(f.rasters), boundaries, f.settings, opts...)
}

func adminRequest(name Name, start, end int) Request {
	level, id := vector.Country, 1
	return Request{
		Indicator: name,
		Base: Base{
			Vector: vector.Selector{AdminLevel: &level, AdminID: &id},
			Years:  YearRange{Start: start, End: end},
			Source: "esa",
		},
	}
}

func statsByValue(rows []result.StatRow) map[int]int {
	out := map[int]int{}
	for _, r := range rows {
		out[r.ChangeType] = r.Count
	}
	return out
}

func (f *fixture) lulcPair() {
	f.fill("lulc", "esa", 2000, Forest)
	f.add("lulc", "esa", 2010, [][]float64{
		{Cropland, Forest, Forest, Forest},
		{Forest, Forest, Forest, Forest},
		{Forest, Forest, Forest, Forest},
		{Forest, Forest, Forest, Forest},
	})
}

func TestEngineLULCChange(t *testing.T) {
	f := newFixture(t)
	f.lulcPair()

	env, err := f.engine().Compute(context.Background(), adminRequest(LULCChange, 2000, 2010))
	require.NoError(t, err)
	assert.Equal(t, 2000, env.Base)
	assert.Equal(t, 2010, env.Target)
	assert.Len(t, env.ChangeEnum, 3)

	counts := statsByValue(env.Stats)
	assert.Equal(t, 1, counts[Degraded])
	assert.Equal(t, 15, counts[Stable])
	assert.Equal(t, 0, counts[Improved])

	assert.FileExists(t, env.RasterPath)
	stats, ok := env.Extras["stats_csv"].(string)
	require.True(t, ok)
	rows, err := result.ReadStatsCSV(stats)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	transitions, ok := env.Extras["transitions"].(map[string]int)
	require.True(t, ok)
	assert.Equal(t, 1, transitions["7->5"])
	assert.Equal(t, 15, transitions["7->7"])
	assert.Equal(t, []lineageEntry{{Level: "country", ID: 1}}, env.Extras["lineage"])
}

func TestEngineRUSLEStaticFactors(t *testing.T) {
	f := newFixture(t)
	for category, v := range map[string]float64{"rusle_r": 100, "rusle_k": 0.5, "rusle_ls": 8, "rusle_c": 0.25, "rusle_p": 0.4} {
		f.fill(category, "", 0, v)
	}

	res, err := f.engine().ComputeResult(context.Background(), adminRequest(RUSLE, 0, 2020))
	require.NoError(t, err)
	counts := statsByValue(res.Stats)
	assert.Equal(t, 16, counts[4])
	assert.Equal(t, "soil_loss", res.Extras["computation"])
	assert.InDelta(t, 40, res.Extras["mean_soil_loss"], 1e-3)
	assert.Equal(t, 2020, res.EndYear)
}

func TestEngineMissingRaster(t *testing.T) {
	f := newFixture(t)
	f.lulcPair()

	_, err := f.engine().Compute(context.Background(), adminRequest(LULCChange, 2000, 2015))
	var missing *errs.MissingRasterError
	require.True(t, errors.As(err, &missing), "got %v", err)
	assert.Equal(t, "lulc", missing.Category)
	assert.Equal(t, 2015, missing.Year)
}

func TestEngineDuplicateInput(t *testing.T) {
	f := newFixture(t)
	f.lulcPair()
	f.fill("lulc", "esa", 2010, Grassland)

	_, err := f.engine().Compute(context.Background(), adminRequest(LULCChange, 2000, 2010))
	var dup *errs.DuplicateInputError
	require.True(t, errors.As(err, &dup), "got %v", err)
	assert.Len(t, dup.Matches, 2)
}

func TestEngineInsufficientData(t *testing.T) {
	f := newFixture(t)
	for year := 2001; year <= 2007; year++ {
		f.fill("ndvi", "esa", year, float64(year-2000)/10)
	}

	_, err := f.engine().Compute(context.Background(), adminRequest(Trajectory, 2001, 2007))
	var insufficient *errs.InsufficientDataError
	require.True(t, errors.As(err, &insufficient), "got %v", err)
	assert.Equal(t, 8, insufficient.Required)
	assert.Equal(t, 7, insufficient.Available)
}

func TestEngineTrajectory(t *testing.T) {
	f := newFixture(t)
	for year := 2001; year <= 2010; year++ {
		f.fill("ndvi", "esa", year, float64(year-2000)/10)
	}

	res, err := f.engine().ComputeResult(context.Background(), adminRequest(Trajectory, 2001, 2010))
	require.NoError(t, err)
	assert.Equal(t, 16, statsByValue(res.Stats)[Improved])
	assert.Equal(t, 10, res.Extras["years"])
}

func TestEngineCache(t *testing.T) {
	f := newFixture(t)
	f.lulcPair()
	e := f.engine(WithCache(filepath.Join(f.dir, "cache")))

	first, err := e.ComputeResult(context.Background(), adminRequest(LULCChange, 2000, 2010))
	require.NoError(t, err)
	assert.Nil(t, first.Extras["cached"])

	second, err := e.ComputeResult(context.Background(), adminRequest(LULCChange, 2000, 2010))
	require.NoError(t, err)
	assert.Equal(t, true, second.Extras["cached"])
	assert.Equal(t, first.RasterPath, second.RasterPath)
	assert.Equal(t, first.Stats, second.Stats)
	assert.Equal(t, first.NodataCount, second.NodataCount)
}

func TestEngineConcurrentIdenticalRequests(t *testing.T) {
	f := newFixture(t)
	f.lulcPair()
	e := f.engine(WithCache(filepath.Join(f.dir, "cache")))

	results := make([]*result.IndicatorResult, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.ComputeResult(context.Background(), adminRequest(LULCChange, 2000, 2010))
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()
	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	cached := 0
	for _, res := range results {
		if res.Extras["cached"] == true {
			cached++
		}
	}
	assert.Equal(t, 1, cached)
	assert.Equal(t, results[0].RasterPath, results[1].RasterPath)
}

func TestEngineRequestValidation(t *testing.T) {
	f := newFixture(t)
	e := f.engine()
	var pve *errs.ParameterValidationError

	_, err := e.Compute(context.Background(), adminRequest("nope", 2000, 2010))
	assert.True(t, errors.As(err, &pve))

	_, err = e.Compute(context.Background(), adminRequest(LULC, 2000, 0))
	assert.True(t, errors.As(err, &pve))

	_, err = e.Compute(context.Background(), adminRequest(LULC, 2010, 2000))
	assert.True(t, errors.As(err, &pve))

	f.lulcPair()
	req := adminRequest(SOC, 2000, 2010)
	req.Options = []byte(`{"unknown": true}`)
	_, err = f.engine().Compute(context.Background(), req)
	assert.True(t, errors.As(err, &pve))

	req.Options = []byte(`{"cutoff": 5}`)
	_, err = f.engine().Compute(context.Background(), req)
	var missing *errs.MissingRasterError
	require.True(t, errors.As(err, &missing), "got %v", err)
	assert.Equal(t, "soc", missing.Category)
}

func TestEngineVectorErrors(t *testing.T) {
	f := newFixture(t)
	e := f.engine()
	var vre *errs.VectorResolutionError

	req := adminRequest(LULC, 0, 2010)
	id := 99
	req.Vector.AdminID = &id
	_, err := e.Compute(context.Background(), req)
	require.True(t, errors.As(err, &vre))
	assert.Contains(t, vre.Error(), "vector does not exist")

	req = adminRequest(LULC, 0, 2010)
	req.Vector = vector.Selector{}
	_, err = e.Compute(context.Background(), req)
	assert.True(t, errors.As(err, &vre))
}

func TestEngineGuestPolygonLimit(t *testing.T) {
	f := newFixture(t)
	f.fill("lulc", "esa", 2010, Forest)
	e := f.engine()

	req := adminRequest(LULC, 0, 2010)
	req.Vector = vector.Selector{CustomCoords: []byte(`{"type":"Polygon","coordinates":[[[0,40],[20,40],[20,55],[0,55],[0,40]]]}`)}
	_, err := e.Compute(context.Background(), req)
	var pve *errs.ParameterValidationError
	require.True(t, errors.As(err, &pve), "got %v", err)
	assert.Contains(t, pve.Reason, "guests")

	req.Vector = vector.Selector{CustomCoords: []byte(`{"type":"Polygon","coordinates":[[[10,49.96],[10.04,49.96],[10.04,50],[10,50],[10,49.96]]]}`)}
	res, err := e.ComputeResult(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 16, statsByValue(res.Stats)[Forest])
	entries, err := os.ReadDir(f.settings.ScratchDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEngineAdminScope(t *testing.T) {
	f := newFixture(t)
	f.fill("lulc", "esa", 2010, Grassland)
	f.rasters[0].AdminLevel = vector.Continental
	f.fill("lulc", "esa", 2010, Forest)

	res, err := f.engine().ComputeResult(context.Background(), adminRequest(LULC, 0, 2010))
	require.NoError(t, err)
	assert.Equal(t, 16, statsByValue(res.Stats)[Forest])

	broad := newFixture(t)
	broad.fill("lulc", "esa", 2010, Grassland)
	broad.rasters[0].AdminLevel = vector.Continental

	res, err = broad.engine().ComputeResult(context.Background(), adminRequest(LULC, 0, 2010))
	require.NoError(t, err)
	assert.Equal(t, 16, statsByValue(res.Stats)[Grassland])
}

// ndviRamp registers eight yearly NDVI rasters rising from 0.1 to 0.8, except
// for the top left pixel which falls from 0.8 to 0.1.
func (f *fixture) ndviRamp() {
	for year := 2001; year <= 2008; year++ {
		v := float64(year-2000) / 10
		f.add("ndvi", "esa", year, [][]float64{
			{float64(2009-year) / 10, v, v, v},
			{v, v, v, v},
			{v, v, v, v},
			{v, v, v, v},
		})
	}
	f.fill("ecological_units", "", 0, 1)
}

func TestEngineLandDegradation(t *testing.T) {
	f := newFixture(t)
	f.ndviRamp()
	e := f.engine()

	res, err := e.ComputeResult(context.Background(), adminRequest(LandDegradation, 2001, 2008))
	require.NoError(t, err)
	counts := statsByValue(res.Stats)
	assert.Equal(t, 1, counts[Degraded])
	assert.Equal(t, 15, counts[Stable])
	assert.Equal(t, Degraded, res.Layer.Data[0])
	assert.Equal(t, "productivity", res.Extras["inputs"])
	assert.Equal(t, map[string]int{"trajectory": 1, "state": 1, "performance": 0}, res.Extras["degraded_pixels"])

	req := adminRequest(LandDegradation, 2001, 2008)
	req.Options = []byte(`{"mode": "ternary"}`)
	res, err = e.ComputeResult(context.Background(), req)
	require.NoError(t, err)
	counts = statsByValue(res.Stats)
	assert.Equal(t, 1, counts[Degraded])
	assert.Equal(t, 15, counts[Improved])

	req.Options = []byte(`{"inputs": "everything"}`)
	_, err = e.ComputeResult(context.Background(), req)
	var pve *errs.ParameterValidationError
	assert.True(t, errors.As(err, &pve), "got %v", err)
}

func TestEngineStateRanksAcrossArea(t *testing.T) {
	f := newFixture(t)
	base := [][]float64{{1, 2, 3, 4}, {5, 6, 7, 8}, {9, 10, 11, 12}, {13, 14, 15, 16}}
	recent := [][]float64{{5, 2, 3, 4}, {5, 6, 7, 2}, {9, 10, 11, 12}, {13, 14, 15, 20}}
	for year := 2001; year <= 2008; year++ {
		rows := base
		if year > 2005 {
			rows = recent
		}
		f.add("ndvi", "esa", year, rows)
	}

	res, err := f.engine().ComputeResult(context.Background(), adminRequest(State, 2001, 2008))
	require.NoError(t, err)
	// The first and last pixels both gain 4; only the first climbs two
	// deciles of the area's baseline.
	assert.Equal(t, Improved, res.Layer.Data[0])
	assert.Equal(t, Degraded, res.Layer.Data[7])
	assert.Equal(t, Stable, res.Layer.Data[15])
	counts := statsByValue(res.Stats)
	assert.Equal(t, 1, counts[Improved])
	assert.Equal(t, 1, counts[Degraded])
	assert.Equal(t, 14, counts[Stable])
}

// medalusLayers registers static factor layers at their least sensitive
// values, so every quality index scores 1.
func (f *fixture) medalusLayers() {
	for category, v := range map[string]float64{
		"precipitation":      1000,
		"pet":                1000,
		"aspect":             -1,
		"parent_material":    1,
		"soil_texture":       1,
		"rock_fragment":      100,
		"soil_depth":         100,
		"slope":              0,
		"drainage":           1,
		"fire_risk":          1,
		"erosion_protection": 1,
		"drought_resistance": 1,
		"plant_cover":        100,
		"land_use_intensity": 1,
		"policy_enforcement": 1,
	} {
		f.fill(category, "", 0, v)
	}
}

func TestEngineESAIOptions(t *testing.T) {
	f := newFixture(t)
	f.medalusLayers()
	e := f.engine()

	res, err := e.ComputeResult(context.Background(), adminRequest(ESAI, 0, 2020))
	require.NoError(t, err)
	assert.Equal(t, 16, statsByValue(res.Stats)[1])
	assert.InDelta(t, 1, res.Extras["mean_esai"], 1e-9)

	// Rainfall belongs to the climate index; inverting its range doubles
	// the climate score, so ESAI becomes the twelfth root of two.
	req := adminRequest(ESAI, 0, 2020)
	req.Options = []byte(`{"factors": {"rainfall": {"low": 2000, "high": 3000}}}`)
	res, err = e.ComputeResult(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, math.Pow(2, 1.0/12), res.Extras["mean_esai"], 1e-6)

	req.Options = []byte(`{"factors": {"nope": {"low": 0, "high": 1}}}`)
	_, err = e.ComputeResult(context.Background(), req)
	var pve *errs.ParameterValidationError
	require.True(t, errors.As(err, &pve), "got %v", err)
	assert.Equal(t, "factors.nope", pve.Field)
}

func TestRunPackKeepsCroppedGrid(t *testing.T) {
	f := newFixture(t)
	f.fill("lulc", "esa", 2010, Forest)
	ref, err := rasterio.Read(f.rasters[0].FilePath, 1)
	require.NoError(t, err)
	small, err := raster.FromRows([][]float64{{Forest, Forest, Forest}, {Forest, Forest, Forest}, {Forest, Forest, Forest}}, nd)
	require.NoError(t, err)
	small.Meta.GeoTransform, small.Meta.Projection = ref.Meta.GeoTransform, ref.Meta.Projection

	r := &run{
		req:        adminRequest(LULC, 0, 2010),
		settings:   f.settings,
		refPath:    f.rasters[0].FilePath,
		refMeta:    ref.Meta,
		resolution: 0.01,
	}
	layers := r.common([]raster.Layer{ref, small})
	require.Equal(t, 3, layers[0].Width())
	assert.Equal(t, 4, r.refMeta.Width)

	res, err := r.pack(LandCover(layers[0], nd), LULCLabels(), 2010, 2010)
	require.NoError(t, err)
	assert.Equal(t, 9, statsByValue(res.Stats)[Forest])
	warnings, ok := res.Extras["warnings"].([]string)
	require.True(t, ok)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "3x3")

	written, err := rasterio.ReadMeta(res.RasterPath, rasterio.MetaOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, written.Width)
	assert.Equal(t, ref.Meta.GeoTransform, written.GeoTransform)
}
