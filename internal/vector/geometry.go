// Package vector resolves the area of interest of a computation, either from
// an administrative boundary or from user supplied GeoJSON.
package vector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"

	"github.com/forest-guardian/ldn-engine/internal/properties"
)

const boundaryTolerance = 1e-12

// ParseGeometry accepts a bare GeoJSON geometry, a Feature or a
// FeatureCollection and returns its polygonal geometry.
func ParseGeometry(raw []byte) (orb.Geometry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty geometry")
	}
	var head struct {
		Type     string          `json:"type"`
		Geometry json.RawMessage `json:"geometry"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("failed to decode geojson: %w", err)
	}

	var g orb.Geometry
	switch head.Type {
	case "Feature":
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode feature: %w", err)
		}
		g = f.Geometry
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode feature collection: %w", err)
		}
		mp := orb.MultiPolygon{}
		for _, f := range fc.Features {
			poly, err := polygonal(f.Geometry)
			if err != nil {
				return nil, err
			}
			mp = append(mp, poly...)
		}
		g = mp
	default:
		if head.Type == "" && len(head.Geometry) > 0 {
			return ParseGeometry(head.Geometry)
		}
		geom, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode geometry: %w", err)
		}
		g = geom.Coordinates
	}
	if _, err := polygonal(g); err != nil {
		return nil, err
	}
	return g, nil
}

func polygonal(g orb.Geometry) (orb.MultiPolygon, error) {
	switch v := g.(type) {
	case orb.Polygon:
		if len(v) == 0 || len(v[0]) < 4 {
			return nil, fmt.Errorf("polygon needs at least 4 positions")
		}
		return orb.MultiPolygon{v}, nil
	case orb.MultiPolygon:
		if len(v) == 0 {
			return nil, fmt.Errorf("empty multipolygon")
		}
		return v, nil
	case nil:
		return nil, fmt.Errorf("missing geometry")
	}
	return nil, fmt.Errorf("unsupported geometry type %s", g.GeoJSONType())
}

// ToGeoJSON encodes g as a single-feature collection, the form GDAL accepts
// as a cutline.
func ToGeoJSON(g orb.Geometry) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(g))
	return fc.MarshalJSON()
}

// PolygonAreaHectares measures g, in EPSG:4326, in hectares. The default
// mode measures in Web Mercator, which overstates areas away from the
// equator; geodesic mode measures on the sphere.
func PolygonAreaHectares(g orb.Geometry, mode properties.AreaMode) float64 {
	if mode == properties.AreaGeodesic {
		return math.Abs(geo.Area(g)) / 10000
	}
	projected := project.Geometry(orb.Clone(g), project.WGS84.ToMercator)
	return math.Abs(planar.Area(projected)) / 10000
}

// Vertices returns every ring position of a polygonal geometry.
func Vertices(g orb.Geometry) []orb.Point {
	mp, err := polygonal(g)
	if err != nil {
		return nil
	}
	var pts []orb.Point
	for _, poly := range mp {
		for _, ring := range poly {
			pts = append(pts, ring...)
		}
	}
	return pts
}

func onBoundary(mp orb.MultiPolygon, p orb.Point) bool {
	for _, poly := range mp {
		for _, ring := range poly {
			for i := 0; i+1 < len(ring); i++ {
				if planar.DistanceFromSegment(ring[i], ring[i+1], p) <= boundaryTolerance {
					return true
				}
			}
		}
	}
	return false
}

// Contains reports whether p lies in parent. Points on the boundary count
// as inside when inclusive is set and as outside otherwise.
func Contains(parent orb.Geometry, p orb.Point, inclusive bool) bool {
	mp, err := polygonal(parent)
	if err != nil {
		return false
	}
	if onBoundary(mp, p) {
		return inclusive
	}
	return planar.MultiPolygonContains(mp, p)
}

// CheckContainment returns the first vertex of child outside parent, if any.
func CheckContainment(parent, child orb.Geometry, clipping properties.ClippingAlgorithm) (orb.Point, bool) {
	inclusive := clipping != properties.PixelCenter
	for _, p := range Vertices(child) {
		if !Contains(parent, p, inclusive) {
			return p, false
		}
	}
	return orb.Point{}, true
}
