// Package protocol defines the unicycler cycling-protocol model: the step
// variants, the protocol container, and the structural validation that
// every sequence must pass before it can be resolved or exported.
package protocol

import "strings"

// Kind is the wire discriminator for step variants.
type Kind string

const (
	KindRest            Kind = "open_circuit_voltage"
	KindConstantCurrent Kind = "constant_current"
	KindConstantVoltage Kind = "constant_voltage"
	KindImpedanceSweep  Kind = "impedance_spectroscopy"
	KindLoop            Kind = "loop"
	KindTag             Kind = "tag"
)

// Step is one unit of a cycling protocol. The variant set is closed:
// consumers discriminate with a type switch and must treat an unknown
// variant as an unsupported-step error, never as a silent no-op.
type Step interface {
	// Kind returns the wire discriminator of the variant.
	Kind() Kind
	// StepID returns the optional user-assigned identifier.
	StepID() string
	// Clone returns a deep copy. Resolution and export passes only ever
	// rewrite clones, so a caller's sequence is never observably mutated.
	Clone() Step

	// validate checks the variant's own fields, independent of its
	// position in a sequence.
	validate() error
}

// Rest holds the cell at open circuit for a fixed time.
type Rest struct {
	ID         string   `json:"id,omitempty"`
	UntilTimeS Quantity `json:"until_time_s"`
}

func (s *Rest) Kind() Kind     { return KindRest }
func (s *Rest) StepID() string { return s.ID }
func (s *Rest) Clone() Step    { c := *s; return &c }

func (s *Rest) validate() error {
	if s.UntilTimeS <= 0 {
		return Errorf(CodeStructural, "open_circuit_voltage: until_time_s must be set and positive")
	}
	return nil
}

// ConstantCurrent applies a fixed current until any of its termination
// conditions is met. The current is given either directly in mA or as a
// C-rate relative to the sample capacity; the C-rate takes priority when
// both are set.
type ConstantCurrent struct {
	ID            string   `json:"id,omitempty"`
	RateC         Rate     `json:"rate_C,omitempty"`
	CurrentMA     Quantity `json:"current_mA,omitempty"`
	UntilTimeS    Quantity `json:"until_time_s,omitempty"`
	UntilVoltageV Quantity `json:"until_voltage_V,omitempty"`
}

func (s *ConstantCurrent) Kind() Kind     { return KindConstantCurrent }
func (s *ConstantCurrent) StepID() string { return s.ID }
func (s *ConstantCurrent) Clone() Step    { c := *s; return &c }

func (s *ConstantCurrent) validate() error {
	if !s.RateC.Set() && !s.CurrentMA.Set() {
		return Errorf(CodeStructural, "constant_current: either rate_C or current_mA must be set and non-zero")
	}
	if !s.UntilTimeS.Set() && !s.UntilVoltageV.Set() {
		return Errorf(CodeStructural, "constant_current: either until_time_s or until_voltage_V must be set and non-zero")
	}
	return nil
}

// ConstantVoltage holds a fixed voltage until any of its termination
// conditions is met. If both until_rate_C and until_current_mA are set,
// the C-rate takes priority.
type ConstantVoltage struct {
	ID             string   `json:"id,omitempty"`
	VoltageV       Quantity `json:"voltage_V"`
	UntilTimeS     Quantity `json:"until_time_s,omitempty"`
	UntilRateC     Rate     `json:"until_rate_C,omitempty"`
	UntilCurrentMA Quantity `json:"until_current_mA,omitempty"`
}

func (s *ConstantVoltage) Kind() Kind     { return KindConstantVoltage }
func (s *ConstantVoltage) StepID() string { return s.ID }
func (s *ConstantVoltage) Clone() Step    { c := *s; return &c }

func (s *ConstantVoltage) validate() error {
	if !s.UntilTimeS.Set() && !s.UntilRateC.Set() && !s.UntilCurrentMA.Set() {
		return Errorf(CodeStructural, "constant_voltage: either until_time_s, until_rate_C, or until_current_mA must be set and non-zero")
	}
	return nil
}

// ImpedanceSweep runs electrochemical impedance spectroscopy over a
// frequency range. Exactly one of AmplitudeV (PEIS) or AmplitudeMA (GEIS)
// must be set.
type ImpedanceSweep struct {
	ID               string   `json:"id,omitempty"`
	AmplitudeV       Quantity `json:"amplitude_V,omitempty"`
	AmplitudeMA      Quantity `json:"amplitude_mA,omitempty"`
	StartFrequencyHz Quantity `json:"start_frequency_Hz"`
	EndFrequencyHz   Quantity `json:"end_frequency_Hz"`
	PointsPerDecade  int      `json:"points_per_decade"`
	MeasuresPerPoint int      `json:"measures_per_point"`
	DriftCorrection  bool     `json:"drift_correction,omitempty"`
}

func (s *ImpedanceSweep) Kind() Kind     { return KindImpedanceSweep }
func (s *ImpedanceSweep) StepID() string { return s.ID }
func (s *ImpedanceSweep) Clone() Step    { c := *s; return &c }

const (
	minFrequencyHz = 1e-5
	maxFrequencyHz = 1e5
)

func (s *ImpedanceSweep) validate() error {
	if s.AmplitudeV.Set() && s.AmplitudeMA.Set() {
		return Errorf(CodeStructural, "impedance_spectroscopy: cannot set both amplitude_V and amplitude_mA")
	}
	if !s.AmplitudeV.Set() && !s.AmplitudeMA.Set() {
		return Errorf(CodeStructural, "impedance_spectroscopy: either amplitude_V or amplitude_mA must be set")
	}
	if err := checkFrequency("start_frequency_Hz", s.StartFrequencyHz); err != nil {
		return err
	}
	if err := checkFrequency("end_frequency_Hz", s.EndFrequencyHz); err != nil {
		return err
	}
	if s.PointsPerDecade <= 0 {
		return Errorf(CodeStructural, "impedance_spectroscopy: points_per_decade must be positive")
	}
	if s.MeasuresPerPoint <= 0 {
		return Errorf(CodeStructural, "impedance_spectroscopy: measures_per_point must be positive")
	}
	return nil
}

// Loop jumps execution back to its target until the loop body has been
// run CycleCount times in total. A CycleCount of 1 means the body runs
// once, with zero actual go-backs.
type Loop struct {
	ID         string `json:"id,omitempty"`
	LoopTo     Target `json:"loop_to"`
	CycleCount int    `json:"cycle_count"`
}

func (s *Loop) Kind() Kind     { return KindLoop }
func (s *Loop) StepID() string { return s.ID }
func (s *Loop) Clone() Step    { c := *s; return &c }

func (s *Loop) validate() error {
	if s.LoopTo.IsTag() && s.LoopTo.Step != 0 {
		return Errorf(CodeStructural, "loop: loop_to cannot be both a step number and a tag name")
	}
	if s.LoopTo.IsTag() {
		if strings.TrimSpace(s.LoopTo.Tag) == "" {
			return Errorf(CodeStructural, "loop: loop_to tag must not be blank")
		}
	} else if s.LoopTo.Step <= 0 {
		return Errorf(CodeStructural, "loop: loop_to must be a positive step number or a tag name")
	}
	if s.CycleCount < 1 {
		return Errorf(CodeStructural, "loop: cycle_count must be at least 1, got %d", s.CycleCount)
	}
	return nil
}

// Tag marks the position immediately following it as a named anchor for
// loops. It is not executable and is removed during resolution.
type Tag struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"tag"`
}

func (s *Tag) Kind() Kind     { return KindTag }
func (s *Tag) StepID() string { return s.ID }
func (s *Tag) Clone() Step    { c := *s; return &c }

func (s *Tag) validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return Errorf(CodeStructural, "tag: tag must not be empty")
	}
	return nil
}

func checkFrequency(name string, f Quantity) error {
	if float64(f) < minFrequencyHz || float64(f) > maxFrequencyHz {
		return Errorf(CodeStructural, "impedance_spectroscopy: %s must be in [%g, %g], got %g", name, minFrequencyHz, maxFrequencyHz, float64(f))
	}
	return nil
}
