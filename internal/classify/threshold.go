// Package classify maps continuous or categorical pixel values onto class
// codes: interval matrices, transition tables, percentiles, trends and
// fuzzy membership.
package classify

import (
	"fmt"
	"math"

	"github.com/forest-guardian/ldn-engine/internal/raster"
)

// Interval maps values in [Low, High) to Class.
type Interval struct {
	Low   float64
	High  float64
	Class float64
}

// ThresholdMatrix is an ordered list of half-open intervals that must cover
// the whole real line.
type ThresholdMatrix []Interval

// Breaks builds a matrix from ascending cut points; classes has one more
// entry than breaks.
func Breaks(breaks []float64, classes []float64) ThresholdMatrix {
	if len(classes) != len(breaks)+1 {
		panic(fmt.Sprintf("classify: %d classes for %d breaks", len(classes), len(breaks)))
	}
	m := make(ThresholdMatrix, 0, len(classes))
	low := math.Inf(-1)
	for i, b := range breaks {
		m = append(m, Interval{Low: low, High: b, Class: classes[i]})
		low = b
	}
	return append(m, Interval{Low: low, High: math.Inf(1), Class: classes[len(classes)-1]})
}

func (m ThresholdMatrix) Validate() error {
	if len(m) == 0 {
		return fmt.Errorf("empty threshold matrix")
	}
	if !math.IsInf(m[0].Low, -1) {
		return fmt.Errorf("threshold matrix starts at %v, expected -inf", m[0].Low)
	}
	if !math.IsInf(m[len(m)-1].High, 1) {
		return fmt.Errorf("threshold matrix ends at %v, expected +inf", m[len(m)-1].High)
	}
	for i, iv := range m {
		if !(iv.Low < iv.High) {
			return fmt.Errorf("interval %d is empty: [%v, %v)", i, iv.Low, iv.High)
		}
		if i > 0 && m[i-1].High != iv.Low {
			return fmt.Errorf("gap or overlap between %v and %v", m[i-1].High, iv.Low)
		}
	}
	return nil
}

// Classify returns the class of v and false when v falls in no interval.
func (m ThresholdMatrix) Classify(v float64) (float64, bool) {
	if math.IsNaN(v) {
		return 0, false
	}
	for _, iv := range m {
		if v >= iv.Low && v < iv.High {
			return iv.Class, true
		}
	}
	// +inf lands past the last half-open interval.
	if math.IsInf(v, 1) && len(m) > 0 {
		return m[len(m)-1].Class, true
	}
	return 0, false
}

// ApplyThresholdMatrix classifies every value. Nodata and NaN stay nodata.
func ApplyThresholdMatrix(values []float64, m ThresholdMatrix, nodata float64) ([]float64, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i, v := range values {
		if raster.IsNoData(v, nodata) {
			out[i] = nodata
			continue
		}
		c, ok := m.Classify(v)
		if !ok {
			out[i] = nodata
			continue
		}
		out[i] = c
	}
	return out, nil
}
