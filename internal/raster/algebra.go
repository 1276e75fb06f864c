package raster

import (
	"fmt"
	"math"
)

// Masked is a value array with an exclusion mask; Mask[i] is true where the
// value is missing.
type Masked struct {
	Values []float64
	Mask   []bool
	Width  int
	Height int
}

func MaskNodata(l Layer) Masked {
	m := Masked{
		Values: make([]float64, len(l.Data)),
		Mask:   make([]bool, len(l.Data)),
		Width:  l.Meta.Width,
		Height: l.Meta.Height,
	}
	for i, v := range l.Data {
		m.Values[i] = v
		m.Mask[i] = IsNoData(v, l.Meta.NoData)
	}
	return m
}

// Filled returns the values with every masked cell set to fill.
func (m Masked) Filled(fill float64) []float64 {
	out := make([]float64, len(m.Values))
	for i, v := range m.Values {
		if m.Mask[i] {
			out[i] = fill
			continue
		}
		out[i] = v
	}
	return out
}

// Count returns the number of unmasked cells.
func (m Masked) Count() int {
	n := 0
	for _, masked := range m.Mask {
		if !masked {
			n++
		}
	}
	return n
}

type Op int

const (
	Add Op = iota
	Subtract
	Multiply
	Divide
)

func (o Op) String() string {
	switch o {
	case Add:
		return "add"
	case Subtract:
		return "subtract"
	case Multiply:
		return "multiply"
	case Divide:
		return "divide"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Elementwise folds the operands left to right with op. A cell masked in any
// operand is masked in the result. Divide takes exactly two operands and
// masks cells where the divisor is zero.
func Elementwise(op Op, operands ...Masked) (Masked, error) {
	if len(operands) == 0 {
		return Masked{}, fmt.Errorf("%s needs at least one operand", op)
	}
	if op == Divide && len(operands) != 2 {
		return Masked{}, fmt.Errorf("divide takes exactly 2 operands, got %d", len(operands))
	}
	first := operands[0]
	for i, o := range operands[1:] {
		if len(o.Values) != len(first.Values) || o.Width != first.Width || o.Height != first.Height {
			return Masked{}, fmt.Errorf("operand %d has shape %dx%d, expected %dx%d", i+1, o.Height, o.Width, first.Height, first.Width)
		}
	}

	out := Masked{
		Values: make([]float64, len(first.Values)),
		Mask:   make([]bool, len(first.Values)),
		Width:  first.Width,
		Height: first.Height,
	}
	for i := range out.Values {
		acc := first.Values[i]
		masked := first.Mask[i]
		for _, o := range operands[1:] {
			if o.Mask[i] {
				masked = true
				break
			}
			switch op {
			case Add:
				acc += o.Values[i]
			case Subtract:
				acc -= o.Values[i]
			case Multiply:
				acc *= o.Values[i]
			case Divide:
				if o.Values[i] == 0 {
					masked = true
				} else {
					acc /= o.Values[i]
				}
			}
		}
		if !masked && (math.IsNaN(acc) || math.IsInf(acc, 0)) {
			masked = true
		}
		out.Mask[i] = masked
		if !masked {
			out.Values[i] = acc
		}
	}
	return out, nil
}

// Map applies fn to every unmasked cell.
func (m Masked) Map(fn func(float64) float64) Masked {
	out := Masked{
		Values: make([]float64, len(m.Values)),
		Mask:   make([]bool, len(m.Mask)),
		Width:  m.Width,
		Height: m.Height,
	}
	copy(out.Mask, m.Mask)
	for i, v := range m.Values {
		if m.Mask[i] {
			continue
		}
		r := fn(v)
		if math.IsNaN(r) || math.IsInf(r, 0) {
			out.Mask[i] = true
			continue
		}
		out.Values[i] = r
	}
	return out
}

// ReshapeToCommonExtent crops every layer to the smallest common row and
// column count, anchored at the top-left corner. truncated reports whether
// any layer lost cells.
func ReshapeToCommonExtent(layers []Layer) ([]Layer, bool) {
	if len(layers) == 0 {
		return nil, false
	}
	w, h := layers[0].Meta.Width, layers[0].Meta.Height
	for _, l := range layers[1:] {
		w = min(w, l.Meta.Width)
		h = min(h, l.Meta.Height)
	}
	truncated := false
	out := make([]Layer, len(layers))
	for i, l := range layers {
		if l.Meta.Width == w && l.Meta.Height == h {
			out[i] = l.Clone()
			continue
		}
		truncated = true
		data := make([]float64, w*h)
		for r := 0; r < h; r++ {
			copy(data[r*w:(r+1)*w], l.Data[r*l.Meta.Width:r*l.Meta.Width+w])
		}
		meta := l.Meta
		meta.Width, meta.Height = w, h
		out[i] = Layer{Data: data, Meta: meta}
	}
	return out, truncated
}

// ToLayer writes the masked array back onto grid, filling masked cells with
// nodata.
func (m Masked) ToLayer(grid Meta, nodata float64) Layer {
	meta := grid
	meta.Width, meta.Height = m.Width, m.Height
	meta.NoData = nodata
	meta.HasNoData = true
	return Layer{Data: m.Filled(nodata), Meta: meta}
}
