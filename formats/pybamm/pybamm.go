// Package pybamm renders protocols as PyBaMM experiment strings. PyBaMM
// has no loop primitive, so the exporter unrolls the resolved sequence
// into the explicit list of steps actually performed.
package pybamm

import (
	"fmt"
	"math"
	"strings"

	"github.com/aurora-unicycler/unicycler/core/protocol"
	"github.com/aurora-unicycler/unicycler/core/resolve"
	"github.com/aurora-unicycler/unicycler/formats/export"
)

// Export renders the protocol as a list of PyBaMM experiment strings,
// one per executed step.
func Export(p *protocol.Protocol, o export.Options) ([]string, error) {
	// Capacity stays in C-rate form for PyBaMM, so no capacity check.
	c := p.Clone()
	if o.SampleName != "" {
		c.Sample.Name = o.SampleName
	}
	if o.CapacityMAh != 0 {
		c.Sample.CapacityMAh = protocol.Quantity(o.CapacityMAh)
	}

	resolved, err := resolve.Tags(c.Method)
	if err != nil {
		return nil, err
	}
	if err := resolve.CheckNesting(resolved); err != nil {
		return nil, err
	}

	steps := make([]string, len(resolved))
	for i, s := range resolved {
		str, err := stringify(s)
		if err != nil {
			return nil, err
		}
		steps[i] = str
	}

	trace, err := resolve.Unroll(resolved, resolve.DefaultMaxIterations)
	if err != nil {
		return nil, err
	}

	out := make([]string, len(trace))
	for i, idx := range trace {
		out[i] = steps[idx]
	}
	return out, nil
}

func stringify(s protocol.Step) (string, error) {
	switch st := s.(type) {
	case *protocol.Rest:
		return fmt.Sprintf("Rest for %g seconds", float64(st.UntilTimeS)), nil
	case *protocol.ConstantCurrent:
		return stringifyConstantCurrent(st), nil
	case *protocol.ConstantVoltage:
		return stringifyConstantVoltage(st), nil
	case *protocol.Loop:
		// Dropped during unrolling; the placeholder never surfaces.
		return "", nil
	default:
		return "", protocol.Errorf(protocol.CodeUnsupportedStep,
			"pybamm export does not support step type: %s", s.Kind())
	}
}

func stringifyConstantCurrent(s *protocol.ConstantCurrent) string {
	var b strings.Builder
	switch {
	case s.RateC > 0:
		fmt.Fprintf(&b, "Charge at %gC", float64(s.RateC))
	case s.RateC < 0:
		fmt.Fprintf(&b, "Discharge at %gC", -float64(s.RateC))
	case s.CurrentMA > 0:
		fmt.Fprintf(&b, "Charge at %g mA", float64(s.CurrentMA))
	case s.CurrentMA < 0:
		fmt.Fprintf(&b, "Discharge at %g mA", -float64(s.CurrentMA))
	}
	if s.UntilTimeS.Set() {
		b.WriteString(duration(float64(s.UntilTimeS)))
	}
	if s.UntilVoltageV.Set() {
		fmt.Fprintf(&b, " until %g V", float64(s.UntilVoltageV))
	}
	return b.String()
}

func stringifyConstantVoltage(s *protocol.ConstantVoltage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hold at %g V", float64(s.VoltageV))
	var conditions []string
	if s.UntilTimeS.Set() {
		b.WriteString(duration(float64(s.UntilTimeS)))
	}
	if s.UntilRateC.Set() {
		conditions = append(conditions, fmt.Sprintf("until %gC", float64(s.UntilRateC)))
	}
	if s.UntilCurrentMA.Set() {
		conditions = append(conditions, fmt.Sprintf("until %g mA", float64(s.UntilCurrentMA)))
	}
	if len(conditions) > 0 {
		b.WriteString(" " + strings.Join(conditions, " or "))
	}
	return b.String()
}

// duration folds whole hours and minutes into their larger unit, which
// reads better in experiment definitions.
func duration(seconds float64) string {
	switch {
	case math.Mod(seconds, 3600) == 0:
		return fmt.Sprintf(" for %d hours", int(seconds/3600))
	case math.Mod(seconds, 60) == 0:
		return fmt.Sprintf(" for %d minutes", int(seconds/60))
	default:
		return fmt.Sprintf(" for %g seconds", seconds)
	}
}
