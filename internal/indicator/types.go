package indicator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forest-guardian/ldn-engine/internal/errs"
	"github.com/forest-guardian/ldn-engine/internal/vector"
)

// Name identifies an indicator.
type Name string

const (
	LULC            Name = "lulc"
	LULCChange      Name = "lulc_change"
	SOC             Name = "soc"
	Trajectory      Name = "productivity_trajectory"
	State           Name = "productivity_state"
	Performance     Name = "productivity_performance"
	LandDegradation Name = "land_degradation"
	Aridity         Name = "aridity_index"
	CQI             Name = "cqi"
	SQI             Name = "sqi"
	VQI             Name = "vqi"
	MQI             Name = "mqi"
	ESAI            Name = "esai"
	ILSWE           Name = "ilswe"
	RUSLE           Name = "rusle"
	CVI             Name = "cvi"
	ForestChange    Name = "forest_change"
	ForestFire      Name = "forest_fire"
	ForestCarbon    Name = "forest_carbon"
)

var names = []Name{
	LULC, LULCChange, SOC, Trajectory, State, Performance, LandDegradation,
	Aridity, CQI, SQI, VQI, MQI, ESAI, ILSWE, RUSLE, CVI,
	ForestChange, ForestFire, ForestCarbon,
}

// Names lists every supported indicator.
func Names() []Name {
	return append([]Name(nil), names...)
}

func ParseName(s string) (Name, error) {
	n := Name(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range names {
		if n == known {
			return n, nil
		}
	}
	return "", &errs.ParameterValidationError{Field: "indicator", Reason: fmt.Sprintf("unknown indicator %q", s)}
}

type YearRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (y YearRange) Len() int { return y.End - y.Start + 1 }

// Base holds the fields every indicator request shares. Resampling names
// the method used when continuous inputs are brought onto the reference
// grid; categorical inputs always use nearest neighbour.
type Base struct {
	Vector     vector.Selector `json:"vector"`
	Years      YearRange       `json:"years"`
	Source     string          `json:"source,omitempty"`
	Resampling string          `json:"resampling,omitempty"`
}

type Request struct {
	Indicator Name `json:"indicator"`
	Base
	Authenticated bool            `json:"authenticated,omitempty"`
	Options       json.RawMessage `json:"options,omitempty"`
}

func (r Request) validate() error {
	if _, err := ParseName(string(r.Indicator)); err != nil {
		return err
	}
	if r.Years.End == 0 {
		return &errs.ParameterValidationError{Field: "years.end", Reason: "required"}
	}
	if r.Years.Start != 0 && r.Years.Start > r.Years.End {
		return &errs.ParameterValidationError{Field: "years", Reason: fmt.Sprintf("start %d is after end %d", r.Years.Start, r.Years.End)}
	}
	return nil
}

// decodeOptions fills dst from the raw options, rejecting unknown fields.
func decodeOptions(raw json.RawMessage, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &errs.ParameterValidationError{Field: "options", Reason: err.Error()}
	}
	return nil
}

// enumText is the shared text codec of the closed option enums.
type enumText[T ~int] struct {
	field string
	names map[T]string
}

func (e enumText[T]) String(v T) string {
	if s, ok := e.names[v]; ok {
		return s
	}
	return fmt.Sprintf("%s(%d)", e.field, int(v))
}

func (e enumText[T]) Parse(s string) (T, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for v, name := range e.names {
		if name == s {
			return v, nil
		}
	}
	return 0, &errs.ParameterValidationError{Field: e.field, Reason: fmt.Sprintf("unknown value %q", s)}
}
