package rasterio

import (
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest-guardian/ldn-engine/internal/raster"
)

const utm33 = `PROJCS["WGS 84 / UTM zone 33N",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["latitude_of_origin",0],PARAMETER["central_meridian",15],PARAMETER["scale_factor",0.9996],PARAMETER["false_easting",500000],PARAMETER["false_northing",0],UNIT["metre",1],AUTHORITY["EPSG","32633"]]`

func writeTestRaster(t *testing.T, dir string, nodata float64, hasNodata bool, dt raster.DataType) string {
	t.Helper()
	path := filepath.Join(dir, "in.tif")
	l := raster.Layer{
		Data: []float64{1, 2, 3, nodata, 5, 6},
		Meta: raster.Meta{
			Width: 3, Height: 2, Bands: 1,
			GeoTransform: [6]float64{500000, 30, 0, 4000000, 0, -30},
			Projection:   utm33,
			NoData:       nodata,
			HasNoData:    hasNodata,
			DataType:     dt,
		},
	}
	require.NoError(t, Write(l, path))
	return path
}

func TestWriteRead(t *testing.T) {
	path := writeTestRaster(t, t.TempDir(), -32768, true, raster.Int16)

	l, err := Read(path, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, l.Width())
	assert.Equal(t, 2, l.Height())
	assert.Equal(t, []float64{1, 2, 3, -32768, 5, 6}, l.Data)
	assert.Equal(t, -32768.0, l.NoData())
	assert.Equal(t, raster.Int16, l.Meta.DataType)
	assert.Equal(t, 30.0, l.Meta.Resolution())
	assert.Contains(t, l.Meta.Projection, "UTM zone 33N")

	_, err = Read(path, 2)
	assert.Error(t, err)
}

func TestReadMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := Read(filepath.Join(dir, "nope.tif"), 1)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = Read(dir, 1)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = ReadMeta(filepath.Join(dir, "nope.tif"), MetaOptions{})
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestReadMetaDefaultNodata(t *testing.T) {
	opts := MetaOptions{SetDefaultNodata: true, DefaultNodata: -32768}

	cases := []struct {
		name      string
		nodata    float64
		hasNodata bool
		want      float64
	}{
		{"integral", -9999, true, -9999},
		{"fractional", -0.5, true, -32768},
		{"out of int16 range", -3.4e38, true, -32768},
		{"unset", 0, false, -32768},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTestRaster(t, t.TempDir(), tc.nodata, tc.hasNodata, raster.Float32)
			meta, err := ReadMeta(path, opts)
			require.NoError(t, err)
			assert.True(t, meta.HasNoData)
			assert.Equal(t, tc.want, meta.NoData)
		})
	}

	path := writeTestRaster(t, t.TempDir(), -0.5, true, raster.Float32)
	meta, err := ReadMeta(path, MetaOptions{})
	require.NoError(t, err)
	assert.Equal(t, -0.5, meta.NoData)
}

func TestWriteShapeMismatch(t *testing.T) {
	meta := raster.Meta{Width: 2, Height: 2}
	err := WriteBands([][]float64{{1, 2, 3}}, meta, filepath.Join(t.TempDir(), "bad.tif"))
	assert.Error(t, err)
}
