package classify

import (
	"fmt"

	"github.com/forest-guardian/ldn-engine/internal/raster"
)

type Transition struct {
	Base   int
	Target int
}

// TransitionMatrix maps a (base, target) class pair to an output class.
type TransitionMatrix map[Transition]float64

func (m TransitionMatrix) Clone() TransitionMatrix {
	out := make(TransitionMatrix, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ApplyTransitionMatrix combines two categorical arrays of equal length.
// Pixels that are nodata in either input, non-integral, or whose pair is
// absent from m become nodata.
func ApplyTransitionMatrix(base, target []float64, m TransitionMatrix, nodata float64) ([]float64, error) {
	if len(base) != len(target) {
		return nil, fmt.Errorf("base has %d pixels, target has %d", len(base), len(target))
	}
	out := make([]float64, len(base))
	for i := range base {
		b, t := base[i], target[i]
		if raster.IsNoData(b, nodata) || raster.IsNoData(t, nodata) || b != float64(int(b)) || t != float64(int(t)) {
			out[i] = nodata
			continue
		}
		c, ok := m[Transition{Base: int(b), Target: int(t)}]
		if !ok {
			out[i] = nodata
			continue
		}
		out[i] = c
	}
	return out, nil
}

// Reclassify maps integral codes through mapping. Codes not in mapping are
// kept when keep is true, otherwise they become nodata.
func Reclassify(values []float64, mapping map[int]float64, keep bool, nodata float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if raster.IsNoData(v, nodata) {
			out[i] = nodata
			continue
		}
		if c, ok := mapping[int(v)]; ok && v == float64(int(v)) {
			out[i] = c
			continue
		}
		if keep {
			out[i] = v
		} else {
			out[i] = nodata
		}
	}
	return out
}
