package battinfo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-unicycler/unicycler/core/protocol"
	"github.com/aurora-unicycler/unicycler/formats/export"
)

func testProtocol(t *testing.T, capacityMAh float64, method []protocol.Step) *protocol.Protocol {
	t.Helper()
	p, err := protocol.New(
		protocol.Sample{Name: "test_sample", CapacityMAh: protocol.Quantity(capacityMAh)},
		protocol.Record{TimeS: 1},
		protocol.Safety{},
		method,
	)
	require.NoError(t, err)
	return p
}

// dig follows a path of keys and list indices through a JSON-LD tree.
func dig(t *testing.T, node any, path ...any) any {
	t.Helper()
	for _, p := range path {
		switch k := p.(type) {
		case string:
			m, ok := node.(map[string]any)
			require.True(t, ok, "expected object at %v", p)
			node = m[k]
		case int:
			l, ok := node.([]any)
			require.True(t, ok, "expected list at %v", p)
			require.Less(t, k, len(l))
			node = l[k]
		}
	}
	return node
}

func TestExportTechniques(t *testing.T) {
	p := testProtocol(t, 45, []protocol.Step{
		&protocol.Rest{UntilTimeS: 300},
		&protocol.ConstantCurrent{RateC: 0.05, UntilVoltageV: 4.2},
		&protocol.ConstantVoltage{VoltageV: 4.2, UntilRateC: 0.01},
		&protocol.ConstantCurrent{RateC: -0.05, UntilVoltageV: 3.2},
	})

	doc, err := Export(p, export.Options{}, false)
	require.NoError(t, err)

	assert.Equal(t, "Resting", doc["@type"])
	assert.Equal(t, 300.0, dig(t, doc, "hasInput", 0, "hasNumericalPart", "hasNumberValue"))

	charge := dig(t, doc, "hasNext").(map[string]any)
	assert.Equal(t, "Charging", charge["@type"])
	// 0.05C of 45 mAh is 2.25 mA.
	assert.Equal(t, "ElectricCurrent", dig(t, charge, "hasInput", 0, "@type"))
	assert.Equal(t, 2.25, dig(t, charge, "hasInput", 0, "hasNumericalPart", "hasNumberValue"))
	assert.Equal(t, "MilliAmpere", dig(t, charge, "hasInput", 0, "hasMeasurementUnit"))
	assert.Equal(t, "CRate", dig(t, charge, "hasInput", 1, "@type"))
	assert.Equal(t, 0.05, dig(t, charge, "hasInput", 1, "hasNumericalPart", "hasNumberValue"))
	assert.Equal(t, []any{"UpperVoltageLimit", "TerminationQuantity"},
		dig(t, charge, "hasInput", 2, "@type"))

	hold := dig(t, charge, "hasNext").(map[string]any)
	assert.Equal(t, "Hold", hold["@type"])
	assert.Equal(t, "Voltage", dig(t, hold, "hasInput", 0, "@type"))
	assert.Equal(t, []any{"LowerCurrentLimit", "TerminationQuantity"},
		dig(t, hold, "hasInput", 1, "@type"))
	assert.Equal(t, 0.45, dig(t, hold, "hasInput", 1, "hasNumericalPart", "hasNumberValue"))
	assert.Equal(t, []any{"LowerCRateLimit", "TerminationQuantity"},
		dig(t, hold, "hasInput", 2, "@type"))

	discharge := dig(t, hold, "hasNext").(map[string]any)
	assert.Equal(t, "Discharging", discharge["@type"])
	assert.Equal(t, []any{"LowerVoltageLimit", "TerminationQuantity"},
		dig(t, discharge, "hasInput", 2, "@type"))
	assert.Nil(t, discharge["hasNext"])
}

func TestExportLoopBecomesIterativeWorkflow(t *testing.T) {
	p := testProtocol(t, 45, []protocol.Step{
		&protocol.Rest{UntilTimeS: 300},
		&protocol.ConstantCurrent{RateC: 0.05, UntilVoltageV: 4.2},
		&protocol.ConstantVoltage{VoltageV: 4.2, UntilRateC: 0.01},
		&protocol.ConstantCurrent{RateC: -0.05, UntilVoltageV: 3.2},
		&protocol.Loop{LoopTo: protocol.TargetStep(2), CycleCount: 5},
	})

	doc, err := Export(p, export.Options{}, false)
	require.NoError(t, err)

	loop := dig(t, doc, "hasNext").(map[string]any)
	assert.Equal(t, "IterativeWorkflow", loop["@type"])
	assert.Equal(t, "NumberOfIterations", dig(t, loop, "hasInput", 0, "@type"))
	assert.Equal(t, 5, dig(t, loop, "hasInput", 0, "hasNumericalPart", "hasNumberValue"))
	assert.Equal(t, "UnitOne", dig(t, loop, "hasInput", 0, "hasMeasurementUnit"))

	body := dig(t, loop, "hasTask").(map[string]any)
	assert.Equal(t, "Charging", body["@type"])
	assert.Equal(t, "Hold", dig(t, body, "hasNext", "@type"))
	assert.Equal(t, "Discharging", dig(t, body, "hasNext", "hasNext", "@type"))
	assert.Nil(t, loop["hasNext"])
}

func TestExportNestedLoops(t *testing.T) {
	p := testProtocol(t, 45, []protocol.Step{
		&protocol.Rest{UntilTimeS: 300},
		&protocol.Tag{Name: "outer"},
		&protocol.ConstantCurrent{RateC: 0.5, UntilVoltageV: 4.2},
		&protocol.ConstantCurrent{RateC: -0.5, UntilVoltageV: 3.2},
		&protocol.Loop{LoopTo: protocol.TargetStep(3), CycleCount: 24},
		&protocol.Rest{UntilTimeS: 60},
		&protocol.Loop{LoopTo: protocol.TargetTag("outer"), CycleCount: 10},
	})

	doc, err := Export(p, export.Options{}, false)
	require.NoError(t, err)

	outer := dig(t, doc, "hasNext").(map[string]any)
	assert.Equal(t, "IterativeWorkflow", outer["@type"])
	assert.Equal(t, 10, dig(t, outer, "hasInput", 0, "hasNumericalPart", "hasNumberValue"))

	inner := dig(t, outer, "hasTask").(map[string]any)
	assert.Equal(t, "IterativeWorkflow", inner["@type"])
	assert.Equal(t, 24, dig(t, inner, "hasInput", 0, "hasNumericalPart", "hasNumberValue"))
	assert.Equal(t, "Charging", dig(t, inner, "hasTask", "@type"))
	assert.Equal(t, "Discharging", dig(t, inner, "hasTask", "hasNext", "@type"))

	// The rest after the inner loop chains inside the outer workflow.
	assert.Equal(t, "Resting", dig(t, inner, "hasNext", "@type"))
	assert.Nil(t, outer["hasNext"])
}

func TestExportCapacityOverride(t *testing.T) {
	p := testProtocol(t, 45, []protocol.Step{
		&protocol.ConstantCurrent{RateC: 0.05, UntilVoltageV: 4.2},
	})

	doc, err := Export(p, export.Options{CapacityMAh: 100}, false)
	require.NoError(t, err)
	assert.Equal(t, 5.0, dig(t, doc, "hasInput", 0, "hasNumericalPart", "hasNumberValue"))
}

func TestExportWithoutCapacityKeepsCRate(t *testing.T) {
	p := testProtocol(t, 0, []protocol.Step{
		&protocol.ConstantCurrent{RateC: 0.1, UntilVoltageV: 4.2},
	})

	doc, err := Export(p, export.Options{}, false)
	require.NoError(t, err)
	// No absolute current without a capacity; the C-rate carries the drive.
	assert.Equal(t, "CRate", dig(t, doc, "hasInput", 0, "@type"))
	assert.Equal(t, 0.1, dig(t, doc, "hasInput", 0, "hasNumericalPart", "hasNumberValue"))
}

func TestExportContext(t *testing.T) {
	p := testProtocol(t, 45, []protocol.Step{&protocol.Rest{UntilTimeS: 60}})

	doc, err := Export(p, export.Options{}, true)
	require.NoError(t, err)
	assert.Equal(t, []any{Context}, doc["@context"])

	doc, err = Export(p, export.Options{}, false)
	require.NoError(t, err)
	assert.NotContains(t, doc, "@context")
}

func TestExportIsValidJSON(t *testing.T) {
	p := testProtocol(t, 45, []protocol.Step{
		&protocol.Rest{UntilTimeS: 300},
		&protocol.ConstantCurrent{RateC: 0.05, UntilVoltageV: 4.2},
		&protocol.Loop{LoopTo: protocol.TargetStep(1), CycleCount: 3},
	})

	doc, err := Export(p, export.Options{}, true)
	require.NoError(t, err)
	_, err = json.Marshal(doc)
	require.NoError(t, err)
}

func TestExportRejectsTargetAnchoredOnLoop(t *testing.T) {
	// Hand-built, skipping protocol.New: the numeric target lands on
	// the tag directly before the loop, so resolution would make the
	// loop its own target. Export must report this, not panic.
	p := &protocol.Protocol{
		Sample: protocol.Sample{Name: "test_sample"},
		Record: protocol.Record{TimeS: 1},
		Method: protocol.Method{
			&protocol.Rest{UntilTimeS: 60},
			&protocol.Tag{Name: "x"},
			&protocol.Loop{LoopTo: protocol.TargetStep(2), CycleCount: 3},
		},
	}

	assert.NotPanics(t, func() {
		_, err := Export(p, export.Options{}, false)
		require.Error(t, err)
		assert.True(t, protocol.IsCode(err, protocol.CodeStructural))
	})
}

func TestExportRejectsImpedance(t *testing.T) {
	p := testProtocol(t, 45, []protocol.Step{
		&protocol.ImpedanceSweep{
			AmplitudeV: 0.01, StartFrequencyHz: 1000, EndFrequencyHz: 0.1,
			PointsPerDecade: 10, MeasuresPerPoint: 1,
		},
	})

	_, err := Export(p, export.Options{}, false)
	require.Error(t, err)
	assert.True(t, protocol.IsCode(err, protocol.CodeUnsupportedStep))
}
