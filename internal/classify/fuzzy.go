package classify

import (
	"fmt"
	"math"
	"strings"
)

type Curve int

const (
	Linear Curve = iota
	Exponential
	Sigmoid
)

func (c Curve) String() string {
	switch c {
	case Linear:
		return "linear"
	case Exponential:
		return "exponential"
	case Sigmoid:
		return "sigmoid"
	}
	return fmt.Sprintf("curve(%d)", int(c))
}

func ParseCurve(s string) (Curve, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "linear":
		return Linear, nil
	case "exponential":
		return Exponential, nil
	case "sigmoid":
		return Sigmoid, nil
	}
	return 0, fmt.Errorf("unknown fuzzy curve %q", s)
}

func (c *Curve) UnmarshalText(b []byte) error {
	v, err := ParseCurve(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (c Curve) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

const (
	expSteepness     = 3.0
	sigmoidSteepness = 10.0
)

// Fuzzifier maps a raw factor value onto a 0..1 membership. Increasing
// curves give 0 at Low and 1 at High; decreasing curves the reverse.
type Fuzzifier struct {
	Curve      Curve   `json:"curve"`
	Increasing bool    `json:"increasing"`
	Low        float64 `json:"low"`
	High       float64 `json:"high"`
}

func (f Fuzzifier) Validate() error {
	if !(f.Low < f.High) {
		return fmt.Errorf("fuzzy range [%v, %v] is empty", f.Low, f.High)
	}
	return nil
}

func (f Fuzzifier) Apply(v float64) float64 {
	t := (v - f.Low) / (f.High - f.Low)
	t = math.Max(0, math.Min(1, t))
	var m float64
	switch f.Curve {
	case Exponential:
		m = (math.Exp(expSteepness*t) - 1) / (math.Exp(expSteepness) - 1)
	case Sigmoid:
		s := func(x float64) float64 { return 1 / (1 + math.Exp(-sigmoidSteepness*(x-0.5))) }
		m = (s(t) - s(0)) / (s(1) - s(0))
	default:
		m = t
	}
	if !f.Increasing {
		m = 1 - m
	}
	return m
}
