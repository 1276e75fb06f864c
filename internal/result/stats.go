// Package result turns a classified raster into the published result: the
// GeoTIFF on disk, per-class statistics and the JSON envelope.
package result

import (
	"github.com/forest-guardian/ldn-engine/internal/raster"
)

// ClassLabel names one value of a classified output.
type ClassLabel struct {
	Value int    `json:"value"`
	Label string `json:"label"`
}

type Labels []ClassLabel

func (l Labels) Name(v int) (string, bool) {
	for _, c := range l {
		if c.Value == v {
			return c.Label, true
		}
	}
	return "", false
}

type StatRow struct {
	ChangeType int     `json:"change_type" csv:"change_type"`
	Label      string  `json:"label" csv:"label"`
	Count      int     `json:"count" csv:"count"`
	Area       float64 `json:"area" csv:"area"`
}

// UniqueCounts counts the pixels of each valid integral value. Nodata pixels
// are counted separately.
func UniqueCounts(data []float64, nodata float64) (counts map[int]int, nodataCount int) {
	counts = map[int]int{}
	for _, v := range data {
		if raster.IsNoData(v, nodata) {
			nodataCount++
			continue
		}
		counts[int(v)]++
	}
	return counts, nodataCount
}

// ZonalStats returns one row per label, in label order, including labels
// with no pixels.
func ZonalStats(data []float64, nodata, resolution float64, labels Labels) (rows []StatRow, nodataCount int) {
	counts, nodataCount := UniqueCounts(data, nodata)
	rows = make([]StatRow, 0, len(labels))
	for _, l := range labels {
		n := counts[l.Value]
		rows = append(rows, StatRow{
			ChangeType: l.Value,
			Label:      l.Label,
			Count:      n,
			Area:       raster.ComputeArea(n, resolution),
		})
	}
	return rows, nodataCount
}
