package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/airbusgeo/godal"

	"github.com/forest-guardian/ldn-engine/internal/rasterio"
	"github.com/forest-guardian/ldn-engine/internal/vector"
)

var lineageFields = map[int]string{
	vector.Continental: "continent_id",
	vector.Regional:    "region_id",
	vector.Country:     "country_id",
	vector.AdminOne:    "admin1_id",
	vector.AdminTwo:    "admin2_id",
}

var boundaryExtensions = []string{".geojson", ".gpkg", ".shp"}

// BoundaryFiles reads administrative boundaries from one vector file per
// level, named level_<n> with any OGR-readable extension. Features carry an
// "id" field, an optional "name" and the ids of their parents.
type BoundaryFiles struct {
	Dir string
}

func NewBoundaryFiles(dir string) *BoundaryFiles {
	return &BoundaryFiles{Dir: dir}
}

func (b *BoundaryFiles) levelFile(level int) (string, error) {
	for _, ext := range boundaryExtensions {
		p := filepath.Join(b.Dir, fmt.Sprintf("level_%d%s", level, ext))
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no boundary file for %s: %w", vector.LevelName(level), vector.ErrBoundaryNotFound)
}

// findFeature calls fn with the fields and geometry of the feature whose id
// matches.
func (b *BoundaryFiles) findFeature(level, id int, fn func(fields map[string]godal.Field, geom *godal.Geometry) error) error {
	path, err := b.levelFile(level)
	if err != nil {
		return err
	}
	rasterio.Register()
	ds, err := godal.Open(path, godal.VectorOnly())
	if err != nil {
		return fmt.Errorf("failed to open boundaries %s: %w", path, err)
	}
	defer ds.Close()

	for _, layer := range ds.Layers() {
		for {
			feat := layer.NextFeature()
			if feat == nil {
				break
			}
			fields := feat.Fields()
			val, ok := fields["id"]
			if !ok || val.Int() != int64(id) {
				feat.Close()
				continue
			}
			err := fn(fields, feat.Geometry())
			feat.Close()
			return err
		}
	}
	return fmt.Errorf("%s %d: %w", vector.LevelName(level), id, vector.ErrBoundaryNotFound)
}

func (b *BoundaryFiles) GetBoundary(_ context.Context, level, id int) (vector.Boundary, error) {
	out := vector.Boundary{Level: level, ID: id}
	err := b.findFeature(level, id, func(fields map[string]godal.Field, geom *godal.Geometry) error {
		if name, ok := fields["name"]; ok {
			out.Name = name.String()
		}
		gj, err := geom.GeoJSON()
		if err != nil {
			return fmt.Errorf("failed to export boundary geometry: %w", err)
		}
		g, err := vector.ParseGeometry([]byte(gj))
		if err != nil {
			return err
		}
		out.Geometry = g
		return nil
	})
	return out, err
}

func (b *BoundaryFiles) GetBoundaryLineage(_ context.Context, level, id int) (vector.Lineage, error) {
	lineage := vector.Lineage{level: id}
	err := b.findFeature(level, id, func(fields map[string]godal.Field, _ *godal.Geometry) error {
		for lvl, name := range lineageFields {
			if lvl >= level {
				continue
			}
			if f, ok := fields[name]; ok {
				lineage[lvl] = int(f.Int())
			}
		}
		return nil
	})
	return lineage, err
}
