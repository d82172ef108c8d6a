// Package protofmt produces the canonical binary form of a protocol and
// its fingerprint. Two protocols that resolve to the same experiment get
// the same fingerprint, regardless of whether they spell loops with tags
// or step numbers.
package protofmt

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/aurora-unicycler/unicycler/core/protocol"
	"github.com/aurora-unicycler/unicycler/core/resolve"
)

// canonicalVersion is bumped whenever the canonical layout changes, so
// fingerprints from different layouts never collide silently.
const canonicalVersion = 1

// CanonicalProtocol is the resolution-normalised form used for
// fingerprinting: tags resolved away, loop targets numeric, metadata
// that does not affect the experiment (generator version) dropped.
type CanonicalProtocol struct {
	Version int             `cbor:"1,keyasint"`
	Sample  CanonicalSample `cbor:"2,keyasint"`
	Record  CanonicalRecord `cbor:"3,keyasint"`
	Safety  CanonicalSafety `cbor:"4,keyasint"`
	Steps   []CanonicalStep `cbor:"5,keyasint"`
}

type CanonicalSample struct {
	Name        string  `cbor:"1,keyasint"`
	CapacityMAh float64 `cbor:"2,keyasint"`
}

type CanonicalRecord struct {
	CurrentMA float64 `cbor:"1,keyasint"`
	VoltageV  float64 `cbor:"2,keyasint"`
	TimeS     float64 `cbor:"3,keyasint"`
}

type CanonicalSafety struct {
	MaxVoltageV    float64 `cbor:"1,keyasint"`
	MinVoltageV    float64 `cbor:"2,keyasint"`
	MaxCurrentMA   float64 `cbor:"3,keyasint"`
	MinCurrentMA   float64 `cbor:"4,keyasint"`
	MaxCapacityMAh float64 `cbor:"5,keyasint"`
	DelayS         float64 `cbor:"6,keyasint"`
}

// CanonicalStep is the union of all step variants' fields, discriminated
// by Kind. Unused fields encode as zeros, which the deterministic
// encoder lays out identically on every run.
type CanonicalStep struct {
	Kind             string  `cbor:"1,keyasint"`
	UntilTimeS       float64 `cbor:"2,keyasint,omitempty"`
	RateC            float64 `cbor:"3,keyasint,omitempty"`
	CurrentMA        float64 `cbor:"4,keyasint,omitempty"`
	UntilVoltageV    float64 `cbor:"5,keyasint,omitempty"`
	VoltageV         float64 `cbor:"6,keyasint,omitempty"`
	UntilRateC       float64 `cbor:"7,keyasint,omitempty"`
	UntilCurrentMA   float64 `cbor:"8,keyasint,omitempty"`
	AmplitudeV       float64 `cbor:"9,keyasint,omitempty"`
	AmplitudeMA      float64 `cbor:"10,keyasint,omitempty"`
	StartFrequencyHz float64 `cbor:"11,keyasint,omitempty"`
	EndFrequencyHz   float64 `cbor:"12,keyasint,omitempty"`
	PointsPerDecade  int     `cbor:"13,keyasint,omitempty"`
	MeasuresPerPoint int     `cbor:"14,keyasint,omitempty"`
	DriftCorrection  bool    `cbor:"15,keyasint,omitempty"`
	LoopTo           int     `cbor:"16,keyasint,omitempty"`
	CycleCount       int     `cbor:"17,keyasint,omitempty"`
}

// Canonicalize resolves the protocol's tags, checks loop nesting, and
// returns the canonical form.
func Canonicalize(p *protocol.Protocol) (*CanonicalProtocol, error) {
	resolved, err := resolve.Tags(p.Method)
	if err != nil {
		return nil, err
	}
	if err := resolve.CheckNesting(resolved); err != nil {
		return nil, err
	}

	cp := &CanonicalProtocol{
		Version: canonicalVersion,
		Sample: CanonicalSample{
			Name:        p.Sample.Name,
			CapacityMAh: float64(p.Sample.CapacityMAh),
		},
		Record: CanonicalRecord{
			CurrentMA: float64(p.Record.CurrentMA),
			VoltageV:  float64(p.Record.VoltageV),
			TimeS:     float64(p.Record.TimeS),
		},
		Safety: CanonicalSafety{
			MaxVoltageV:    float64(p.Safety.MaxVoltageV),
			MinVoltageV:    float64(p.Safety.MinVoltageV),
			MaxCurrentMA:   float64(p.Safety.MaxCurrentMA),
			MinCurrentMA:   float64(p.Safety.MinCurrentMA),
			MaxCapacityMAh: float64(p.Safety.MaxCapacityMAh),
			DelayS:         float64(p.Safety.DelayS),
		},
		Steps: make([]CanonicalStep, len(resolved)),
	}
	for i, s := range resolved {
		cs, err := canonicalizeStep(s)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		cp.Steps[i] = cs
	}
	return cp, nil
}

func canonicalizeStep(s protocol.Step) (CanonicalStep, error) {
	cs := CanonicalStep{Kind: string(s.Kind())}
	switch st := s.(type) {
	case *protocol.Rest:
		cs.UntilTimeS = float64(st.UntilTimeS)
	case *protocol.ConstantCurrent:
		cs.RateC = float64(st.RateC)
		cs.CurrentMA = float64(st.CurrentMA)
		cs.UntilTimeS = float64(st.UntilTimeS)
		cs.UntilVoltageV = float64(st.UntilVoltageV)
	case *protocol.ConstantVoltage:
		cs.VoltageV = float64(st.VoltageV)
		cs.UntilTimeS = float64(st.UntilTimeS)
		cs.UntilRateC = float64(st.UntilRateC)
		cs.UntilCurrentMA = float64(st.UntilCurrentMA)
	case *protocol.ImpedanceSweep:
		cs.AmplitudeV = float64(st.AmplitudeV)
		cs.AmplitudeMA = float64(st.AmplitudeMA)
		cs.StartFrequencyHz = float64(st.StartFrequencyHz)
		cs.EndFrequencyHz = float64(st.EndFrequencyHz)
		cs.PointsPerDecade = st.PointsPerDecade
		cs.MeasuresPerPoint = st.MeasuresPerPoint
		cs.DriftCorrection = st.DriftCorrection
	case *protocol.Loop:
		cs.LoopTo = st.LoopTo.Step
		cs.CycleCount = st.CycleCount
	default:
		return CanonicalStep{}, protocol.Errorf(protocol.CodeUnsupportedStep,
			"cannot canonicalize step type %q", s.Kind())
	}
	return cs, nil
}

// MarshalBinary produces the deterministic CBOR encoding of the
// canonical protocol, byte-for-byte stable across runs.
func (cp *CanonicalProtocol) MarshalBinary() ([]byte, error) {
	encMode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}

	// Type alias so CBOR does not call MarshalBinary recursively.
	type canonicalProtocolAlias CanonicalProtocol
	data, err := encMode.Marshal((*canonicalProtocolAlias)(cp))
	if err != nil {
		return nil, fmt.Errorf("CBOR encoding failed: %w", err)
	}
	return data, nil
}

// Fingerprint computes the BLAKE2b-256 fingerprint of a protocol's
// canonical form, hex-encoded as "blake2b:...".
func Fingerprint(p *protocol.Protocol) (string, error) {
	cp, err := Canonicalize(p)
	if err != nil {
		return "", err
	}
	data, err := cp.MarshalBinary()
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return fmt.Sprintf("blake2b:%x", sum), nil
}
