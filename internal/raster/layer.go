// Package raster holds the in-memory raster model and the nodata-aware
// algebra applied to it.
package raster

import (
	"fmt"
	"math"
)

type DataType string

const (
	Byte    DataType = "Byte"
	UInt16  DataType = "UInt16"
	Int16   DataType = "Int16"
	Int32   DataType = "Int32"
	Float32 DataType = "Float32"
	Float64 DataType = "Float64"
)

// Meta describes the grid of a layer: its size, affine transform, CRS as
// WKT and nodata sentinel.
type Meta struct {
	Width        int
	Height       int
	Bands        int
	GeoTransform [6]float64
	Projection   string
	NoData       float64
	HasNoData    bool
	DataType     DataType
}

// Resolution returns the pixel width in CRS units.
func (m Meta) Resolution() float64 {
	return math.Abs(m.GeoTransform[1])
}

// SameGrid reports whether two metas share size and transform.
func (m Meta) SameGrid(o Meta) bool {
	return m.Width == o.Width && m.Height == o.Height && m.GeoTransform == o.GeoTransform
}

// Layer is a single band held row-major. Operations never modify a layer in
// place.
type Layer struct {
	Data []float64
	Meta Meta
}

func New(width, height int, meta Meta) Layer {
	meta.Width, meta.Height = width, height
	if meta.Bands == 0 {
		meta.Bands = 1
	}
	return Layer{Data: make([]float64, width*height), Meta: meta}
}

// FromRows builds a layer from a row slice. All rows must have the same
// length.
func FromRows(rows [][]float64, nodata float64) (Layer, error) {
	if len(rows) == 0 {
		return Layer{}, fmt.Errorf("empty raster")
	}
	w := len(rows[0])
	l := New(w, len(rows), Meta{NoData: nodata, HasNoData: true, DataType: Float64, GeoTransform: [6]float64{0, 1, 0, 0, 0, -1}})
	for r, row := range rows {
		if len(row) != w {
			return Layer{}, fmt.Errorf("row %d has %d columns, expected %d", r, len(row), w)
		}
		copy(l.Data[r*w:], row)
	}
	return l, nil
}

func (l Layer) Width() int { return l.Meta.Width }
func (l Layer) Height() int { return l.Meta.Height }
func (l Layer) NoData() float64 { return l.Meta.NoData }

func (l Layer) At(row, col int) float64 {
	return l.Data[row*l.Meta.Width+col]
}

// Clone returns a deep copy.
func (l Layer) Clone() Layer {
	data := make([]float64, len(l.Data))
	copy(data, l.Data)
	return Layer{Data: data, Meta: l.Meta}
}

// WithData returns a layer sharing l's grid but holding data.
func (l Layer) WithData(data []float64, nodata float64) Layer {
	meta := l.Meta
	meta.NoData = nodata
	meta.HasNoData = true
	return Layer{Data: data, Meta: meta}
}

// IsNoData reports whether v is the sentinel or NaN.
func IsNoData(v, nodata float64) bool {
	return math.IsNaN(v) || v == nodata
}

// HarmonizeNodata returns a copy of values where every source-nodata pixel
// holds the reference nodata instead.
func HarmonizeNodata(values []float64, sourceNodata, referenceNodata float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if IsNoData(v, sourceNodata) {
			out[i] = referenceNodata
			continue
		}
		out[i] = v
	}
	return out
}

// ComputeArea converts a pixel count into an area in squared CRS units. An
// unset resolution counts one unit per pixel.
func ComputeArea(count int, resolution float64) float64 {
	if resolution <= 0 || math.IsNaN(resolution) {
		resolution = 1
	}
	return float64(count) * resolution * resolution
}
