// Package battinfo renders protocols as BattINFO JSON-LD, the EMMO
// battery ontology exchange format. The output is hierarchical: loops
// become IterativeWorkflow nodes wrapping their body, and consecutive
// techniques are chained with hasNext.
package battinfo

import (
	"github.com/aurora-unicycler/unicycler/core/plan"
	"github.com/aurora-unicycler/unicycler/core/protocol"
	"github.com/aurora-unicycler/unicycler/core/resolve"
	"github.com/aurora-unicycler/unicycler/formats/export"
)

// Context is the JSON-LD context identifying the BattINFO vocabulary.
const Context = "https://w3id.org/emmo/domain/battery/context"

// Export renders the protocol as a BattINFO JSON-LD document. C-rates
// are emitted as CRate quantities, so a missing capacity is not an
// error here. With includeContext set, the top-level node carries the
// BattINFO @context.
func Export(p *protocol.Protocol, o export.Options, includeContext bool) (map[string]any, error) {
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

	tree := plan.Build(resolved)
	doc, err := chain(tree.Nodes, resolved, c.Sample.CapacityMAh)
	if err != nil {
		return nil, err
	}
	if includeContext {
		doc["@context"] = []any{Context}
	}
	return doc, nil
}

// chain converts a node list into a linked technique sequence: the
// first node's dict, with the rest of the list hanging off hasNext.
func chain(nodes []plan.Node, seq protocol.Method, capacityMAh protocol.Quantity) (map[string]any, error) {
	var head map[string]any
	switch n := nodes[0].(type) {
	case plan.Leaf:
		t, err := technique(seq[n.Index], capacityMAh)
		if err != nil {
			return nil, err
		}
		head = t
	case plan.Repeat:
		body, err := chain(n.Body, seq, capacityMAh)
		if err != nil {
			return nil, err
		}
		head = map[string]any{
			"@type":    "IterativeWorkflow",
			"hasInput": []any{quantity("NumberOfIterations", n.Count, "UnitOne")},
			"hasTask":  body,
		}
	}

	if len(nodes) > 1 {
		next, err := chain(nodes[1:], seq, capacityMAh)
		if err != nil {
			return nil, err
		}
		head["hasNext"] = next
	}
	return head, nil
}

func technique(s protocol.Step, capacityMAh protocol.Quantity) (map[string]any, error) {
	switch st := s.(type) {
	case *protocol.Rest:
		return map[string]any{
			"@type":    "Resting",
			"hasInput": []any{quantity("Duration", float64(st.UntilTimeS), "Second")},
		}, nil

	case *protocol.ConstantCurrent:
		currentMA := export.CurrentMA(st.RateC, st.CurrentMA, capacityMAh)
		charging := currentMA > 0 || st.RateC > 0

		var inputs []any
		if currentMA != 0 {
			inputs = append(inputs, quantity("ElectricCurrent", abs(currentMA), "MilliAmpere"))
		}
		if st.RateC.Set() {
			inputs = append(inputs, quantity("CRate", abs(float64(st.RateC)), "CRateUnit"))
		}
		if st.UntilVoltageV.Set() {
			limit := "LowerVoltageLimit"
			if charging {
				limit = "UpperVoltageLimit"
			}
			inputs = append(inputs, quantity(
				[]any{limit, "TerminationQuantity"}, float64(st.UntilVoltageV), "Volt"))
		}
		if st.UntilTimeS.Set() {
			inputs = append(inputs, quantity("Duration", float64(st.UntilTimeS), "Second"))
		}

		typ := "Discharging"
		if charging {
			typ = "Charging"
		}
		return map[string]any{"@type": typ, "hasInput": inputs}, nil

	case *protocol.ConstantVoltage:
		inputs := []any{quantity("Voltage", float64(st.VoltageV), "Volt")}
		untilMA := export.CurrentMA(st.UntilRateC, st.UntilCurrentMA, capacityMAh)
		if untilMA != 0 {
			inputs = append(inputs, quantity(
				[]any{"LowerCurrentLimit", "TerminationQuantity"}, abs(untilMA), "MilliAmpere"))
		}
		if st.UntilRateC.Set() {
			inputs = append(inputs, quantity(
				[]any{"LowerCRateLimit", "TerminationQuantity"},
				abs(float64(st.UntilRateC)), "CRateUnit"))
		}
		if st.UntilTimeS.Set() {
			inputs = append(inputs, quantity("Duration", float64(st.UntilTimeS), "Second"))
		}
		return map[string]any{"@type": "Hold", "hasInput": inputs}, nil

	default:
		return nil, protocol.Errorf(protocol.CodeUnsupportedStep,
			"technique %s not supported by battinfo export", s.Kind())
	}
}

// quantity builds the JSON-LD triplet BattINFO uses for every scalar:
// a typed node with a RealData numerical part and a measurement unit.
func quantity(typ any, value any, unit string) map[string]any {
	return map[string]any{
		"@type": typ,
		"hasNumericalPart": map[string]any{
			"@type":          "RealData",
			"hasNumberValue": value,
		},
		"hasMeasurementUnit": unit,
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
