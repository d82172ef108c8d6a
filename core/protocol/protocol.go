package protocol

import (
	"fmt"
	"sort"
	"strings"
)

// Version is the generator version stamped into documents this module
// produces.
const Version = "0.1.0"

// DefaultSampleName is the placeholder used when no sample name has been
// provided. Exporters refuse to render a protocol that still carries it.
const DefaultSampleName = "$NAME"

// Meta records provenance of a protocol document.
type Meta struct {
	Version string `json:"version,omitempty"`
}

// Sample identifies the cell under test. CapacityMAh is the reference
// capacity used to turn C-rates into absolute currents.
type Sample struct {
	Name        string   `json:"name,omitempty"`
	CapacityMAh Quantity `json:"capacity_mAh,omitempty"`
}

// Record sets the data-recording cadence: a sample is taken every TimeS
// seconds, or earlier when current or voltage moves by more than the
// given deltas.
type Record struct {
	CurrentMA Quantity `json:"current_mA,omitempty"`
	VoltageV  Quantity `json:"voltage_V,omitempty"`
	TimeS     Quantity `json:"time_s"`
}

// Safety holds the hard limits that abort the whole experiment when
// exceeded for longer than DelayS seconds.
type Safety struct {
	MaxVoltageV    Quantity `json:"max_voltage_V,omitempty"`
	MinVoltageV    Quantity `json:"min_voltage_V,omitempty"`
	MaxCurrentMA   Quantity `json:"max_current_mA,omitempty"`
	MinCurrentMA   Quantity `json:"min_current_mA,omitempty"`
	MaxCapacityMAh Quantity `json:"max_capacity_mAh,omitempty"`
	DelayS         Quantity `json:"delay_s,omitempty"`
}

// Protocol is a vendor-independent battery cycling protocol: the sample
// and recording metadata plus the ordered step sequence.
type Protocol struct {
	Unicycler Meta   `json:"unicycler"`
	Sample    Sample `json:"sample"`
	Record    Record `json:"record"`
	Safety    Safety `json:"safety"`
	Method    Method `json:"method"`
}

// Method is the ordered step sequence of a protocol.
type Method []Step

// Clone deep-copies the sequence. Resolution and export passes clone
// before rewriting anything.
func (m Method) Clone() Method {
	if m == nil {
		return nil
	}
	out := make(Method, len(m))
	for i, s := range m {
		out[i] = s.Clone()
	}
	return out
}

// Clone deep-copies the protocol, including its method sequence.
func (p *Protocol) Clone() *Protocol {
	c := *p
	c.Method = p.Method.Clone()
	return &c
}

// New builds a protocol and runs full structural validation, so a
// returned *Protocol is always in a consistent state.
func New(sample Sample, record Record, safety Safety, method Method) (*Protocol, error) {
	p := &Protocol{
		Unicycler: Meta{Version: Version},
		Sample:    sample,
		Record:    record,
		Safety:    safety,
		Method:    method,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the container fields, every step's own fields, and the
// loop/tag structure of the sequence. Positions in error messages are
// 1-based positions in the unresolved sequence.
func (p *Protocol) Validate() error {
	if p.Record.TimeS <= 0 {
		return Errorf(CodeStructural, "record: time_s must be set and positive")
	}
	if p.Sample.CapacityMAh < 0 {
		return Errorf(CodeStructural, "sample: capacity_mAh must be positive")
	}
	if len(p.Method) == 0 {
		return Errorf(CodeStructural, "method must contain at least one step")
	}
	for i, s := range p.Method {
		if s == nil {
			return Errorf(CodeStructural, "step %d is incomplete, needs a 'step' type", i+1)
		}
		if err := s.validate(); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return validateLoops(p.Method)
}

// anchorOf returns the position of the first non-tag step at or after
// from, stopping at limit. A target that lands on a tag means the tag's
// anchor, the next executable step, so comparisons against a loop's
// position must use the anchor, not the tag itself.
func anchorOf(method Method, from, limit int) int {
	for from < limit {
		if _, ok := method[from-1].(*Tag); !ok {
			break
		}
		from++
	}
	return from
}

// validateLoops enforces the structural loop/tag rules on the original,
// pre-resolution sequence: unique tag names, backward-only loops, and no
// loop landing directly on its own tag.
func validateLoops(method Method) error {
	tagPos := make(map[string]int) // tag name -> 1-based position
	var dupes []string
	for i, s := range method {
		t, ok := s.(*Tag)
		if !ok {
			continue
		}
		if _, seen := tagPos[t.Name]; seen {
			dupes = append(dupes, "'"+t.Name+"'")
			continue
		}
		tagPos[t.Name] = i + 1
	}
	if len(dupes) > 0 {
		sort.Strings(dupes)
		return Errorf(CodeStructural, "duplicate tags: %s", strings.Join(dupes, ", "))
	}

	for i, s := range method {
		loop, ok := s.(*Loop)
		if !ok {
			continue
		}
		pos := i + 1
		if loop.LoopTo.IsTag() {
			name := loop.LoopTo.Tag
			tp, found := tagPos[name]
			if !found {
				return Errorf(CodeStructural, "tag '%s' is missing", name)
			}
			if pos <= tp {
				return Errorf(CodeStructural, "loops must go backwards, '%s' goes forwards (%d->%d)", name, pos, tp)
			}
			if anchorOf(method, tp, pos) >= pos {
				return Errorf(CodeStructural, "loop '%s' cannot start immediately after its tag", name)
			}
		} else if anchorOf(method, loop.LoopTo.Step, pos) >= pos {
			return Errorf(CodeStructural, "loop start index %d cannot be on or after the loop index %d", loop.LoopTo.Step, pos)
		}
	}
	return nil
}

// RequireCapacityIfRateUsed reports a missing-capacity error when any
// step uses a C-rate but capacity is zero. Exporters run this before
// converting rates to absolute currents.
func RequireCapacityIfRateUsed(method Method, capacityMAh Quantity) error {
	if capacityMAh.Set() {
		return nil
	}
	for i, s := range method {
		switch st := s.(type) {
		case *ConstantCurrent:
			if st.RateC.Set() {
				return Errorf(CodeMissingCapacity, "step %d uses rate_C but no sample capacity is set", i+1)
			}
		case *ConstantVoltage:
			if st.UntilRateC.Set() {
				return Errorf(CodeMissingCapacity, "step %d uses until_rate_C but no sample capacity is set", i+1)
			}
		}
	}
	return nil
}
