package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/forest-guardian/ldn-engine/internal/errs"
	"github.com/forest-guardian/ldn-engine/internal/log"
	"github.com/forest-guardian/ldn-engine/internal/properties"
)

// Administrative levels.
const (
	Continental = -2
	Regional    = -1
	Country     = 0
	AdminOne    = 1
	AdminTwo    = 2
)

var ErrBoundaryNotFound = errors.New("vector does not exist")

func ValidLevel(level int) bool {
	return level >= Continental && level <= AdminTwo
}

func LevelName(level int) string {
	switch level {
	case Continental:
		return "continental"
	case Regional:
		return "regional"
	case Country:
		return "country"
	case AdminOne:
		return "admin-one"
	case AdminTwo:
		return "admin-two"
	}
	return fmt.Sprintf("level %d", level)
}

type Boundary struct {
	Level    int
	ID       int
	Name     string
	Geometry orb.Geometry
}

// Lineage maps each administrative level to the id of the unit containing
// the boundary at that level.
type Lineage map[int]int

// BoundaryStore looks up administrative boundaries. GetBoundary returns an
// error wrapping ErrBoundaryNotFound when the unit is unknown.
type BoundaryStore interface {
	GetBoundary(ctx context.Context, level, id int) (Boundary, error)
	GetBoundaryLineage(ctx context.Context, level, id int) (Lineage, error)
}

// Selector names the area of interest: either an administrative unit or
// custom coordinates, optionally constrained to lie within an
// administrative unit of AdminLevel.
type Selector struct {
	AdminLevel        *int            `json:"admin_level,omitempty"`
	AdminID           *int            `json:"admin_id,omitempty"`
	CustomCoords      json.RawMessage `json:"custom_coords,omitempty"`
	ContainingAdminID *int            `json:"containing_admin_id,omitempty"`
}

func (s Selector) IsCustom() bool {
	return len(s.CustomCoords) > 0 && string(s.CustomCoords) != "null"
}

type Resolved struct {
	Geometry orb.Geometry
	GeoJSON  []byte
	Custom   bool
	Boundary *Boundary
}

type Resolver struct {
	Store    BoundaryStore
	Clipping properties.ClippingAlgorithm
}

func resolutionError(reason string, err error) error {
	return &errs.VectorResolutionError{Reason: reason, Err: err}
}

func (r *Resolver) Resolve(ctx context.Context, sel Selector) (Resolved, error) {
	if sel.IsCustom() {
		return r.resolveCustom(ctx, sel)
	}
	if sel.AdminLevel == nil || sel.AdminID == nil {
		return Resolved{}, resolutionError("either an administrative unit or custom coordinates is required", nil)
	}
	if !ValidLevel(*sel.AdminLevel) {
		return Resolved{}, resolutionError(fmt.Sprintf("unknown administrative level %d", *sel.AdminLevel), nil)
	}
	b, err := r.Store.GetBoundary(ctx, *sel.AdminLevel, *sel.AdminID)
	if err != nil {
		if errors.Is(err, ErrBoundaryNotFound) {
			return Resolved{}, resolutionError(ErrBoundaryNotFound.Error(), nil)
		}
		return Resolved{}, resolutionError("boundary lookup failed", err)
	}
	if _, err := polygonal(b.Geometry); err != nil {
		return Resolved{}, resolutionError("invalid boundary geometry", err)
	}
	gj, err := ToGeoJSON(b.Geometry)
	if err != nil {
		return Resolved{}, resolutionError("failed to encode boundary", err)
	}
	return Resolved{Geometry: b.Geometry, GeoJSON: gj, Boundary: &b}, nil
}

func (r *Resolver) resolveCustom(ctx context.Context, sel Selector) (Resolved, error) {
	g, err := ParseGeometry(sel.CustomCoords)
	if err != nil {
		return Resolved{}, resolutionError("invalid custom coordinates", err)
	}
	if sel.ContainingAdminID != nil {
		level := Country
		if sel.AdminLevel != nil {
			level = *sel.AdminLevel
		}
		parent, err := r.Store.GetBoundary(ctx, level, *sel.ContainingAdminID)
		if err != nil {
			if errors.Is(err, ErrBoundaryNotFound) {
				return Resolved{}, resolutionError(ErrBoundaryNotFound.Error(), nil)
			}
			return Resolved{}, resolutionError("boundary lookup failed", err)
		}
		if p, ok := CheckContainment(parent.Geometry, g, r.Clipping); !ok {
			log.Info("[vector] custom polygon outside parent",
				zap.Int("admin_id", *sel.ContainingAdminID), zap.Float64("lon", p.Lon()), zap.Float64("lat", p.Lat()))
			return Resolved{}, resolutionError(fmt.Sprintf(
				"point [%v, %v] of the custom polygon lies outside %s unit %d", p.Lon(), p.Lat(), LevelName(level), *sel.ContainingAdminID), nil)
		}
	}
	gj, err := ToGeoJSON(g)
	if err != nil {
		return Resolved{}, resolutionError("failed to encode custom polygon", err)
	}
	return Resolved{Geometry: g, GeoJSON: gj, Custom: true}, nil
}

// ThresholdCheck is the outcome of comparing a custom polygon with the
// processing limits.
type ThresholdCheck struct {
	Exceeded  bool
	MustQueue bool
	Message   string
}

// QueueThresholdCheck decides how a polygon of areaHa hectares may be
// processed. Guests over their limit are refused; authenticated users over
// theirs are processed in the background.
func QueueThresholdCheck(areaHa float64, authenticated bool, limits properties.PolygonLimits) ThresholdCheck {
	if authenticated {
		if areaHa > limits.Authenticated {
			return ThresholdCheck{
				Exceeded:  true,
				MustQueue: true,
				Message:   fmt.Sprintf("polygon covers %.2f ha, above %.2f ha; the computation will run in the background", areaHa, limits.Authenticated),
			}
		}
		return ThresholdCheck{}
	}
	if areaHa > limits.Guest {
		return ThresholdCheck{
			Exceeded: true,
			Message:  fmt.Sprintf("polygon covers %.2f ha, above the %.2f ha limit for guests; sign in to process larger areas", areaHa, limits.Guest),
		}
	}
	return ThresholdCheck{}
}
