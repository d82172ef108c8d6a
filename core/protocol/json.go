package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// stepEnvelope is the wire form of a step: the variant's own fields plus
// the "step" discriminator.
type stepEnvelope struct {
	Step Kind `json:"step"`
}

// MarshalJSON writes each step with its "step" discriminator first.
func (m Method) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, s := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		body, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		// Splice the discriminator into the variant's own object.
		buf.WriteString(`{"step":`)
		disc, _ := json.Marshal(s.Kind())
		buf.Write(disc)
		if !bytes.Equal(body, []byte("{}")) {
			buf.WriteByte(',')
			buf.Write(body[1 : len(body)-1])
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a step array, dispatching on each element's
// "step" field.
func (m *Method) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Method, 0, len(raw))
	for i, r := range raw {
		s, err := unmarshalStep(r)
		if err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		out = append(out, s)
	}
	*m = out
	return nil
}

// unmarshalStep decodes one step object by its "step" discriminator.
// Variants with non-zero defaults (impedance points and measures, loop
// target) are pre-filled before decoding.
func unmarshalStep(data []byte) (Step, error) {
	var env stepEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid step object: %w", err)
	}
	if env.Step == "" {
		return nil, Errorf(CodeStructural, "step is incomplete, needs a 'step' type")
	}
	var s Step
	switch env.Step {
	case KindRest:
		s = &Rest{}
	case KindConstantCurrent:
		s = &ConstantCurrent{}
	case KindConstantVoltage:
		s = &ConstantVoltage{}
	case KindImpedanceSweep:
		s = &ImpedanceSweep{PointsPerDecade: 10, MeasuresPerPoint: 1}
	case KindLoop:
		s = &Loop{LoopTo: TargetStep(1)}
	case KindTag:
		s = &Tag{}
	default:
		return nil, Errorf(CodeUnsupportedStep, "unknown step type %q", env.Step)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := decodeStepBody(dec, s); err != nil {
		return nil, fmt.Errorf("%s: %w", env.Step, err)
	}
	return s, nil
}

// decodeStepBody decodes into the variant while tolerating the "step"
// discriminator itself, which the variant structs do not carry.
func decodeStepBody(dec *json.Decoder, s Step) error {
	// Re-decode through a map minus the discriminator so that
	// DisallowUnknownFields still rejects typos in real fields.
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return err
	}
	delete(fields, "step")
	body, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	strict := json.NewDecoder(bytes.NewReader(body))
	strict.DisallowUnknownFields()
	return strict.Decode(s)
}
