package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Quantity is a scalar protocol value. Zero means unset.
//
// Protocol documents are frequently exported from spreadsheets, so a
// Quantity also decodes from numeric strings, and a blank string decodes
// as unset.
type Quantity float64

// Set reports whether the quantity carries a non-zero value.
func (q Quantity) Set() bool { return q != 0 }

func (q *Quantity) UnmarshalJSON(data []byte) error {
	v, err := flexFloat(data)
	if err != nil {
		return err
	}
	*q = Quantity(v)
	return nil
}

// Rate is a current expressed in C-rate units (mA per mAh of sample
// capacity). Zero means unset. Besides plain numbers, a Rate decodes from
// fraction strings: "1/5" -> 0.2, "C/3" -> 0.333..., "D/2" -> -0.5.
type Rate float64

// Set reports whether the rate carries a non-zero value.
func (r Rate) Set() bool { return r != 0 }

func (r *Rate) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*r = Rate(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid rate_C value: %s", data)
	}
	v, err := ParseRate(s)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ParseRate parses a C-rate string. Accepted forms are plain numbers
// ("0.2", "2e-1"), fractions ("1/20"), and charge/discharge fractions
// where a leading C keeps the sign and a leading D negates it ("C/5",
// "D/2", "3C/10"). A blank string parses to the unset rate.
func ParseRate(s string) (Rate, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return Rate(v), nil
	}
	compact := strings.ReplaceAll(s, " ", "")
	nomStr, denomStr, ok := strings.Cut(compact, "/")
	if !ok || strings.Contains(denomStr, "/") {
		return 0, fmt.Errorf("invalid rate_C value: %q", s)
	}
	if strings.Count(nomStr, "C")+strings.Count(nomStr, "D") > 1 {
		return 0, fmt.Errorf("invalid C-rate format: %q", s)
	}
	var nom float64
	switch {
	case strings.Contains(nomStr, "C"):
		nomStr = strings.ReplaceAll(nomStr, "C", "")
		nom = 1
		if nomStr != "" {
			v, err := strconv.ParseFloat(nomStr, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid C-rate format: %q", s)
			}
			nom = v
		}
	case strings.Contains(nomStr, "D"):
		nomStr = strings.ReplaceAll(nomStr, "D", "")
		nom = -1
		if nomStr != "" {
			v, err := strconv.ParseFloat(nomStr, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid C-rate format: %q", s)
			}
			nom = -v
		}
	default:
		v, err := strconv.ParseFloat(nomStr, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid rate_C value: %q", s)
		}
		nom = v
	}
	denom, err := strconv.ParseFloat(denomStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rate_C value: %q", s)
	}
	if denom == 0 {
		return 0, fmt.Errorf("invalid rate_C value: %q (division by zero)", s)
	}
	return Rate(nom / denom), nil
}

// Target is a loop destination: either a 1-based step position in the
// pre-resolution sequence, or the name of a Tag step. Exactly one side is
// set on a valid target; resolution rewrites tag targets to positions.
type Target struct {
	Step int
	Tag  string
}

// IsTag reports whether the target is symbolic.
func (t Target) IsTag() bool { return t.Tag != "" }

// TargetStep builds a positional target.
func TargetStep(n int) Target { return Target{Step: n} }

// TargetTag builds a symbolic target.
func TargetTag(name string) Target { return Target{Tag: name} }

func (t Target) String() string {
	if t.IsTag() {
		return fmt.Sprintf("%q", t.Tag)
	}
	return strconv.Itoa(t.Step)
}

func (t Target) MarshalJSON() ([]byte, error) {
	if t.IsTag() {
		return json.Marshal(t.Tag)
	}
	return json.Marshal(t.Step)
}

func (t *Target) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*t = Target{Step: n}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("loop_to must be a step number or tag name, got %s", data)
	}
	*t = Target{Tag: s}
	return nil
}

// flexFloat decodes a JSON number, a numeric string, or a blank string
// (treated as unset).
func flexFloat(data []byte) (float64, error) {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		return num, nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return 0, fmt.Errorf("expected a number, got %s", data)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("expected a number, got %q", s)
	}
	return v, nil
}
