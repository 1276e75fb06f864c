package result

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/forest-guardian/ldn-engine/internal/log"
	"github.com/forest-guardian/ldn-engine/internal/raster"
	"github.com/forest-guardian/ldn-engine/internal/rasterio"
)

type Option func(*options)

type options struct {
	preview bool
}

// WithPreview also renders a PNG quick-look next to the raster.
func WithPreview() Option {
	return func(o *options) { o.preview = true }
}

// Package writes classified to dest with the transform and CRS of
// metadataSource, then tabulates one stats row per label. When
// metadataSource is empty the grid of classified is used.
func Package(classified raster.Layer, nodata, resolution float64, metadataSource string, labels Labels, dest string, opts ...Option) (*IndicatorResult, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	meta := classified.Meta
	if metadataSource != "" {
		src, err := rasterio.ReadMeta(metadataSource, rasterio.MetaOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata source: %w", err)
		}
		if src.Width != classified.Width() || src.Height != classified.Height() {
			return nil, fmt.Errorf("classified raster is %dx%d, metadata source is %dx%d",
				classified.Width(), classified.Height(), src.Width, src.Height)
		}
		meta.GeoTransform = src.GeoTransform
		meta.Projection = src.Projection
	}
	meta.NoData, meta.HasNoData = nodata, true
	meta.DataType = raster.Int16
	meta.Bands = 1

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	out := raster.Layer{Data: classified.Data, Meta: meta}
	if err := rasterio.Write(out, dest); err != nil {
		return nil, fmt.Errorf("failed to write classified raster: %w", err)
	}

	rows, nodataCount := ZonalStats(classified.Data, nodata, resolution, labels)
	res := &IndicatorResult{
		Layer:       out,
		NoData:      nodata,
		Resolution:  resolution,
		Stats:       rows,
		NodataCount: nodataCount,
		RasterPath:  dest,
		Labels:      labels,
		Extras:      map[string]any{},
	}

	base := strings.TrimSuffix(dest, filepath.Ext(dest))
	csvPath := base + "_stats.csv"
	if err := WriteStatsCSV(rows, csvPath); err != nil {
		log.Warn("[result] failed to export stats", zap.String("path", csvPath), zap.Error(err))
	} else {
		res.Extras["stats_csv"] = csvPath
	}
	if o.preview {
		previewPath := base + ".png"
		if err := RenderPreview(out, labels, previewPath); err != nil {
			log.Warn("[result] failed to render preview", zap.String("path", previewPath), zap.Error(err))
		} else {
			res.Extras["preview"] = previewPath
		}
	}
	log.Info("[result] packaged raster", zap.String("path", dest), zap.Int("classes", len(labels)), zap.Int("nodata_pixels", nodataCount))
	return res, nil
}
