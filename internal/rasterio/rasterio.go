// Package rasterio reads and writes GeoTIFF rasters through GDAL.
package rasterio

import (
	"fmt"
	"io/fs"
	"math"
	"os"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/forest-guardian/ldn-engine/internal/log"
	"github.com/forest-guardian/ldn-engine/internal/raster"
)

const logTag = "[rasterio] "

var registerOnce sync.Once

// Register loads the GDAL drivers. It is safe to call more than once.
func Register() {
	registerOnce.Do(godal.RegisterAll)
}

// MetaOptions controls nodata fallback when reading metadata.
type MetaOptions struct {
	SetDefaultNodata bool
	DefaultNodata    float64
}

func warningsOnly(ec godal.ErrorCategory, code int, msg string) error {
	if ec <= godal.CE_Warning {
		return nil
	}
	return fmt.Errorf("GDAL error %d: %s", code, msg)
}

func open(path string) (*godal.Dataset, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", fs.ErrNotExist, path)
	}
	if !st.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", fs.ErrNotExist, path)
	}
	Register()
	ds, err := godal.Open(path, godal.RasterOnly(), godal.ErrLogger(warningsOnly))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open raster %s", path)
	}
	return ds, nil
}

func metaOf(ds *godal.Dataset) (raster.Meta, error) {
	st := ds.Structure()
	bands := ds.Bands()
	if len(bands) == 0 {
		return raster.Meta{}, fmt.Errorf("raster has no bands")
	}
	gt, err := ds.GeoTransform()
	if err != nil {
		gt = [6]float64{0, 1, 0, 0, 0, -1}
	}
	meta := raster.Meta{
		Width:        st.SizeX,
		Height:       st.SizeY,
		Bands:        st.NBands,
		GeoTransform: gt,
		Projection:   ds.Projection(),
		DataType:     fromGDAL(bands[0].Structure().DataType),
	}
	meta.NoData, meta.HasNoData = bands[0].NoData()
	return meta, nil
}

// ReadMeta returns the grid description of path. With SetDefaultNodata, a
// missing, non-integral or out-of-Int16 nodata is replaced by the default.
func ReadMeta(path string, opts MetaOptions) (raster.Meta, error) {
	ds, err := open(path)
	if err != nil {
		return raster.Meta{}, err
	}
	defer ds.Close()
	meta, err := metaOf(ds)
	if err != nil {
		return raster.Meta{}, errors.Wrapf(err, "failed to read metadata of %s", path)
	}
	if opts.SetDefaultNodata && needsDefaultNodata(meta) {
		log.Debug(logTag+"using default nodata", zap.String("path", path), zap.Float64("nodata", opts.DefaultNodata))
		meta.NoData = opts.DefaultNodata
		meta.HasNoData = true
	}
	return meta, nil
}

func needsDefaultNodata(m raster.Meta) bool {
	if !m.HasNoData || math.IsNaN(m.NoData) {
		return true
	}
	if m.NoData != math.Trunc(m.NoData) {
		return true
	}
	return m.NoData < math.MinInt16 || m.NoData > math.MaxInt16
}

// Read loads one band (1-based) of path as float64.
func Read(path string, band int) (raster.Layer, error) {
	ds, err := open(path)
	if err != nil {
		return raster.Layer{}, err
	}
	defer ds.Close()
	meta, err := metaOf(ds)
	if err != nil {
		return raster.Layer{}, errors.Wrapf(err, "failed to read metadata of %s", path)
	}
	bands := ds.Bands()
	if band < 1 || band > len(bands) {
		return raster.Layer{}, fmt.Errorf("band %d out of range for %s with %d bands", band, path, len(bands))
	}
	b := bands[band-1]
	meta.NoData, meta.HasNoData = b.NoData()
	buf := make([]float64, meta.Width*meta.Height)
	if err := b.Read(0, 0, buf, meta.Width, meta.Height); err != nil {
		log.Error(logTag+"read band failed", zap.String("path", path), zap.Int("band", band), zap.Error(err))
		return raster.Layer{}, errors.Wrapf(err, "failed to read band %d of %s", band, path)
	}
	log.Debug(logTag+"read raster", zap.String("path", path), zap.Int("width", meta.Width), zap.Int("height", meta.Height))
	return raster.Layer{Data: buf, Meta: meta}, nil
}

// Write stores a single-band layer as an LZW-compressed GeoTIFF.
func Write(l raster.Layer, dest string) error {
	return WriteBands([][]float64{l.Data}, l.Meta, dest)
}

// WriteBands stores bands with the grid, CRS, nodata and dtype of meta.
func WriteBands(bands [][]float64, meta raster.Meta, dest string) error {
	if len(bands) == 0 {
		return fmt.Errorf("nothing to write to %s", dest)
	}
	for i, b := range bands {
		if len(b) != meta.Width*meta.Height {
			return fmt.Errorf("band %d has %d pixels, expected %dx%d", i+1, len(b), meta.Width, meta.Height)
		}
	}
	Register()
	dt := meta.DataType
	if dt == "" {
		dt = raster.Float32
	}
	ds, err := godal.Create(godal.GTiff, dest, len(bands), toGDAL(dt), meta.Width, meta.Height,
		godal.CreationOption("COMPRESS=LZW", "TILED=YES"))
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", dest)
	}
	if err := ds.SetGeoTransform(meta.GeoTransform); err != nil {
		ds.Close()
		return errors.Wrap(err, "failed to set geotransform")
	}
	if meta.Projection != "" {
		if err := ds.SetProjection(meta.Projection); err != nil {
			ds.Close()
			return errors.Wrap(err, "failed to set projection")
		}
	}
	for i, b := range ds.Bands() {
		if meta.HasNoData {
			if err := b.SetNoData(meta.NoData); err != nil {
				ds.Close()
				return errors.Wrap(err, "failed to set nodata")
			}
		}
		if err := b.Write(0, 0, bands[i], meta.Width, meta.Height); err != nil {
			ds.Close()
			return errors.Wrapf(err, "failed to write band %d", i+1)
		}
	}
	if err := ds.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", dest)
	}
	log.Debug(logTag+"wrote raster", zap.String("path", dest), zap.String("dtype", string(dt)))
	return nil
}

func toGDAL(dt raster.DataType) godal.DataType {
	switch dt {
	case raster.Byte:
		return godal.Byte
	case raster.UInt16:
		return godal.UInt16
	case raster.Int16:
		return godal.Int16
	case raster.Int32:
		return godal.Int32
	case raster.Float64:
		return godal.Float64
	default:
		return godal.Float32
	}
}

func fromGDAL(dt godal.DataType) raster.DataType {
	switch dt {
	case godal.Byte:
		return raster.Byte
	case godal.UInt16:
		return raster.UInt16
	case godal.Int16:
		return raster.Int16
	case godal.Int32:
		return raster.Int32
	case godal.Float64:
		return raster.Float64
	default:
		return raster.Float32
	}
}
