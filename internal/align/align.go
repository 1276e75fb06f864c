// Package align clips rasters to an area of interest and brings them onto a
// common reference grid.
package align

import (
	"fmt"
	"strconv"

	"github.com/airbusgeo/godal"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/forest-guardian/ldn-engine/internal/errs"
	"github.com/forest-guardian/ldn-engine/internal/log"
	"github.com/forest-guardian/ldn-engine/internal/properties"
	"github.com/forest-guardian/ldn-engine/internal/raster"
	"github.com/forest-guardian/ldn-engine/internal/rasterio"
	"github.com/forest-guardian/ldn-engine/internal/scratch"
)

const logTag = "[align] "

type Resampling string

const (
	// Nearest keeps categorical codes intact.
	Nearest Resampling = "near"
	// Average suits continuous values.
	Average Resampling = "average"
)

func ParseResampling(s string) (Resampling, error) {
	switch s {
	case "", "nearest", "near":
		return Nearest, nil
	case "average", "mean":
		return Average, nil
	}
	return "", &errs.ParameterValidationError{Field: "resampling", Reason: fmt.Sprintf("unknown method %q", s)}
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func openDataset(path string) (*godal.Dataset, error) {
	rasterio.Register()
	ds, err := godal.Open(path, godal.RasterOnly())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	return ds, nil
}

// Clipped is a raster cropped to a cutline, kept on disk for later warps.
type Clipped struct {
	Layer raster.Layer
	Path  string
}

// ClipToVector crops src to the extent of the cutline and sets every pixel
// outside it to dstNodata. Under All Touched any pixel touched by the
// geometry is kept; under Pixel Center only pixels whose center falls inside.
func ClipToVector(src string, cutline []byte, dstNodata float64, clipping properties.ClippingAlgorithm, dir *scratch.Dir) (Clipped, error) {
	cutPath, err := dir.WriteFile(".geojson", cutline)
	if err != nil {
		return Clipped{}, &errs.AlignmentError{Path: src, Err: err}
	}
	meta, err := rasterio.ReadMeta(src, rasterio.MetaOptions{SetDefaultNodata: true, DefaultNodata: dstNodata})
	if err != nil {
		return Clipped{}, err
	}
	ds, err := openDataset(src)
	if err != nil {
		return Clipped{}, &errs.AlignmentError{Path: src, Err: err}
	}
	defer ds.Close()

	switches := []string{
		"-of", "GTiff",
		"-cutline", cutPath,
		"-crop_to_cutline",
		"-srcnodata", ftoa(meta.NoData),
		"-dstnodata", ftoa(dstNodata),
		"-co", "COMPRESS=LZW",
	}
	if clipping != properties.PixelCenter {
		switches = append(switches, "-wo", "CUTLINE_ALL_TOUCHED=TRUE")
	}
	dst := dir.Path(".tif")
	out, err := ds.Warp(dst, switches)
	if err != nil {
		log.Error(logTag+"failed to clip raster", zap.String("src", src), zap.Error(err))
		return Clipped{}, &errs.AlignmentError{Path: src, Err: errors.Wrap(err, "cutline warp failed")}
	}
	if err := out.Close(); err != nil {
		return Clipped{}, &errs.AlignmentError{Path: src, Err: err}
	}

	layer, err := rasterio.Read(dst, 1)
	if err != nil {
		return Clipped{}, &errs.AlignmentError{Path: src, Err: err}
	}
	if layer.Meta.NoData != dstNodata || !layer.Meta.HasNoData {
		layer.Data = raster.HarmonizeNodata(layer.Data, layer.Meta.NoData, dstNodata)
		layer.Meta.NoData, layer.Meta.HasNoData = dstNodata, true
	}
	log.Debug(logTag+"clipped raster", zap.String("src", src), zap.Int("width", layer.Width()), zap.Int("height", layer.Height()))
	return Clipped{Layer: layer, Path: dst}, nil
}

type grid struct {
	width, height int
	gt            [6]float64
	sr            *godal.SpatialRef
	nodata        float64
	hasNodata     bool
}

func gridOf(ds *godal.Dataset) (grid, error) {
	st := ds.Structure()
	gt, err := ds.GeoTransform()
	if err != nil {
		return grid{}, errors.Wrap(err, "missing geotransform")
	}
	g := grid{width: st.SizeX, height: st.SizeY, gt: gt}
	if ds.Projection() != "" {
		g.sr = ds.SpatialRef()
	}
	if bands := ds.Bands(); len(bands) > 0 {
		g.nodata, g.hasNodata = bands[0].NoData()
	}
	return g, nil
}

func sameCRS(a, b *godal.SpatialRef) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IsSame(b)
}

func (g grid) matches(o grid) bool {
	return g.width == o.width && g.height == o.height && g.gt == o.gt && sameCRS(g.sr, o.sr)
}

// ReprojectToReference warps target onto the CRS, extent and size of
// reference and returns the path holding the aligned raster with its
// nodata. When both paths are equal, or the grids already match, target is
// returned unchanged.
func ReprojectToReference(reference, target string, method Resampling, dir *scratch.Dir) (string, float64, error) {
	if reference == target {
		meta, err := rasterio.ReadMeta(target, rasterio.MetaOptions{})
		if err != nil {
			return "", 0, err
		}
		return target, meta.NoData, nil
	}
	refDS, err := openDataset(reference)
	if err != nil {
		return "", 0, &errs.AlignmentError{Path: reference, Err: err}
	}
	defer refDS.Close()
	tgtDS, err := openDataset(target)
	if err != nil {
		return "", 0, &errs.AlignmentError{Path: target, Err: err}
	}
	defer tgtDS.Close()

	ref, err := gridOf(refDS)
	if err != nil {
		return "", 0, &errs.AlignmentError{Path: reference, Err: err}
	}
	tgt, err := gridOf(tgtDS)
	if err != nil {
		return "", 0, &errs.AlignmentError{Path: target, Err: err}
	}
	if ref.matches(tgt) {
		return target, tgt.nodata, nil
	}

	nodata := ref.nodata
	if !ref.hasNodata {
		nodata = properties.DefaultNodata
	}
	minX, maxY := ref.gt[0], ref.gt[3]
	maxX := minX + float64(ref.width)*ref.gt[1]
	minY := maxY + float64(ref.height)*ref.gt[5]
	switches := []string{
		"-of", "GTiff",
		"-te", ftoa(minX), ftoa(minY), ftoa(maxX), ftoa(maxY),
		"-ts", strconv.Itoa(ref.width), strconv.Itoa(ref.height),
		"-r", string(method),
		"-dstnodata", ftoa(nodata),
		"-co", "COMPRESS=LZW",
	}
	if tgt.hasNodata {
		switches = append(switches, "-srcnodata", ftoa(tgt.nodata))
	}
	if ref.sr != nil {
		wkt, err := ref.sr.WKT()
		if err != nil {
			return "", 0, &errs.AlignmentError{Path: reference, Err: err}
		}
		switches = append(switches, "-t_srs", wkt)
	}

	dst := dir.Path(".tif")
	out, err := tgtDS.Warp(dst, switches)
	if err != nil {
		log.Error(logTag+"failed to reproject raster", zap.String("target", target), zap.Error(err))
		return "", 0, &errs.AlignmentError{Path: target, Err: errors.Wrap(err, "reprojection warp failed")}
	}
	aligned, err := gridOf(out)
	out.Close()
	if err != nil {
		return "", 0, &errs.AlignmentError{Path: target, Err: err}
	}
	if aligned.width != ref.width || aligned.height != ref.height || !sameTransform(aligned.gt, ref.gt) {
		return "", 0, &errs.AlignmentError{Path: target, Err: fmt.Errorf("aligned grid %dx%d does not match reference %dx%d", aligned.width, aligned.height, ref.width, ref.height)}
	}
	log.Debug(logTag+"reprojected raster", zap.String("target", target), zap.String("method", string(method)))
	return dst, nodata, nil
}

// sameTransform tolerates floating point noise from the warp.
func sameTransform(a, b [6]float64) bool {
	for i := range a {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		scale := 1e-9 * max(1, abs(a[i]), abs(b[i]))
		if d > scale {
			return false
		}
	}
	return true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
