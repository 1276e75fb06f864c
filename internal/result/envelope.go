package result

import (
	"encoding/json"

	"github.com/forest-guardian/ldn-engine/internal/raster"
)

type Tiles struct {
	URL   string `json:"url"`
	Layer string `json:"layer"`
}

// IndicatorResult is the outcome of one computation. It is not modified
// after Package returns it, except for the publishing fields.
type IndicatorResult struct {
	Layer       raster.Layer   `json:"-"`
	NoData      float64        `json:"nodata"`
	Resolution  float64        `json:"resolution"`
	StartYear   int            `json:"start_year"`
	EndYear     int            `json:"end_year"`
	Stats       []StatRow      `json:"stats"`
	NodataCount int            `json:"nodata_count"`
	RasterPath  string         `json:"raster_path"`
	RasterURL   string         `json:"raster_url"`
	Tiles       Tiles          `json:"tiles"`
	Labels      Labels         `json:"labels"`
	Extras      map[string]any `json:"extras"`
}

// Envelope is the serialized form consumed by clients and caches. Field
// names are fixed.
type Envelope struct {
	Base       int            `json:"base"`
	Target     int            `json:"target"`
	RasterFile string         `json:"rasterfile"`
	RasterPath string         `json:"rasterpath"`
	NodataVal  float64        `json:"nodataval"`
	Nodata     float64        `json:"nodata"`
	Stats      []StatRow      `json:"stats"`
	Extras     map[string]any `json:"extras"`
	ChangeEnum Labels         `json:"change_enum"`
	Tiles      Tiles          `json:"tiles"`
}

// AddWarning appends msg to the "warnings" extra.
func (r *IndicatorResult) AddWarning(msg string) {
	if r.Extras == nil {
		r.Extras = map[string]any{}
	}
	w, _ := r.Extras["warnings"].([]string)
	r.Extras["warnings"] = append(w, msg)
}

func (r *IndicatorResult) Envelope() Envelope {
	extras := r.Extras
	if extras == nil {
		extras = map[string]any{}
	}
	stats := r.Stats
	if stats == nil {
		stats = []StatRow{}
	}
	labels := r.Labels
	if labels == nil {
		labels = Labels{}
	}
	return Envelope{
		Base:       r.StartYear,
		Target:     r.EndYear,
		RasterFile: r.RasterURL,
		RasterPath: r.RasterPath,
		NodataVal:  r.NoData,
		Nodata:     raster.ComputeArea(r.NodataCount, r.Resolution),
		Stats:      stats,
		Extras:     extras,
		ChangeEnum: labels,
		Tiles:      r.Tiles,
	}
}

func (e Envelope) JSON() ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}
