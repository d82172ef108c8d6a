package protocol_test

import (
	"testing"

	"github.com/aurora-unicycler/unicycler/core/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecord() protocol.Record { return protocol.Record{TimeS: 10} }

func TestNewValidProtocol(t *testing.T) {
	p, err := protocol.New(
		protocol.Sample{Name: "test_sample", CapacityMAh: 1.0},
		validRecord(),
		protocol.Safety{MaxVoltageV: 4.5, DelayS: 1},
		protocol.Method{
			&protocol.Tag{Name: "longterm"},
			&protocol.Rest{UntilTimeS: 600},
			&protocol.ConstantCurrent{RateC: 0.5, UntilVoltageV: 4.2, UntilTimeS: 3 * 60 * 60},
			&protocol.ConstantVoltage{VoltageV: 4.2, UntilRateC: 0.05, UntilTimeS: 60 * 60},
			&protocol.ConstantCurrent{RateC: -0.5, UntilVoltageV: 3.0, UntilTimeS: 3 * 60 * 60},
			&protocol.Loop{LoopTo: protocol.TargetTag("longterm"), CycleCount: 100},
		},
	)
	require.NoError(t, err)
	assert.Equal(t, protocol.Version, p.Unicycler.Version)
}

func TestStepValidation(t *testing.T) {
	tests := []struct {
		name    string
		step    protocol.Step
		wantMsg string
	}{
		{
			name:    "rest without duration",
			step:    &protocol.Rest{},
			wantMsg: "until_time_s",
		},
		{
			name:    "constant current without drive",
			step:    &protocol.ConstantCurrent{UntilTimeS: 60},
			wantMsg: "either rate_C or current_mA",
		},
		{
			name:    "constant current without stop condition",
			step:    &protocol.ConstantCurrent{RateC: 0.5},
			wantMsg: "either until_time_s or until_voltage_V",
		},
		{
			name:    "constant voltage without stop condition",
			step:    &protocol.ConstantVoltage{VoltageV: 4.2},
			wantMsg: "until_time_s, until_rate_C, or until_current_mA",
		},
		{
			name: "impedance with both amplitudes",
			step: &protocol.ImpedanceSweep{
				AmplitudeV: 0.01, AmplitudeMA: 1,
				StartFrequencyHz: 1000, EndFrequencyHz: 0.1,
				PointsPerDecade: 10, MeasuresPerPoint: 1,
			},
			wantMsg: "cannot set both amplitude_V and amplitude_mA",
		},
		{
			name: "impedance without amplitude",
			step: &protocol.ImpedanceSweep{
				StartFrequencyHz: 1000, EndFrequencyHz: 0.1,
				PointsPerDecade: 10, MeasuresPerPoint: 1,
			},
			wantMsg: "either amplitude_V or amplitude_mA",
		},
		{
			name: "impedance frequency out of range",
			step: &protocol.ImpedanceSweep{
				AmplitudeV:       0.01,
				StartFrequencyHz: 1e6, EndFrequencyHz: 0.1,
				PointsPerDecade: 10, MeasuresPerPoint: 1,
			},
			wantMsg: "start_frequency_Hz",
		},
		{
			name:    "loop with zero cycle count",
			step:    &protocol.Loop{LoopTo: protocol.TargetStep(1), CycleCount: 0},
			wantMsg: "cycle_count",
		},
		{
			name:    "blank tag",
			step:    &protocol.Tag{Name: "  "},
			wantMsg: "tag must not be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &protocol.Protocol{
				Record: validRecord(),
				Method: protocol.Method{&protocol.Rest{UntilTimeS: 60}, tt.step},
			}
			err := p.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.True(t, protocol.IsCode(err, protocol.CodeStructural))
		})
	}
}

func TestLoopStructure(t *testing.T) {
	tests := []struct {
		name    string
		method  protocol.Method
		wantMsg string
	}{
		{
			name: "duplicate tags",
			method: protocol.Method{
				&protocol.Tag{Name: "a"},
				&protocol.Rest{UntilTimeS: 60},
				&protocol.Tag{Name: "a"},
				&protocol.Rest{UntilTimeS: 60},
			},
			wantMsg: "duplicate tags: 'a'",
		},
		{
			name: "loop on its own position",
			method: protocol.Method{
				&protocol.Rest{UntilTimeS: 60},
				&protocol.Loop{LoopTo: protocol.TargetStep(2), CycleCount: 2},
			},
			wantMsg: "cannot be on or after the loop index",
		},
		{
			name: "forward numeric loop",
			method: protocol.Method{
				&protocol.Loop{LoopTo: protocol.TargetStep(2), CycleCount: 2},
				&protocol.Rest{UntilTimeS: 60},
			},
			wantMsg: "cannot be on or after the loop index",
		},
		{
			name: "missing tag",
			method: protocol.Method{
				&protocol.Rest{UntilTimeS: 60},
				&protocol.Loop{LoopTo: protocol.TargetTag("nope"), CycleCount: 2},
			},
			wantMsg: "tag 'nope' is missing",
		},
		{
			name: "forward tag loop",
			method: protocol.Method{
				&protocol.Loop{LoopTo: protocol.TargetTag("later"), CycleCount: 2},
				&protocol.Tag{Name: "later"},
				&protocol.Rest{UntilTimeS: 60},
			},
			wantMsg: "loops must go backwards",
		},
		{
			name: "loop immediately after its tag",
			method: protocol.Method{
				&protocol.Rest{UntilTimeS: 60},
				&protocol.Tag{Name: "empty"},
				&protocol.Loop{LoopTo: protocol.TargetTag("empty"), CycleCount: 2},
			},
			wantMsg: "cannot start immediately after its tag",
		},
		{
			// The target names the tag, but a tag anchors the next
			// executable step, which here is the loop itself.
			name: "numeric target on tag anchoring the loop",
			method: protocol.Method{
				&protocol.Rest{UntilTimeS: 60},
				&protocol.Tag{Name: "x"},
				&protocol.Loop{LoopTo: protocol.TargetStep(2), CycleCount: 2},
			},
			wantMsg: "cannot be on or after the loop index",
		},
		{
			name: "tag chain anchoring the loop",
			method: protocol.Method{
				&protocol.Rest{UntilTimeS: 60},
				&protocol.Tag{Name: "a"},
				&protocol.Tag{Name: "b"},
				&protocol.Loop{LoopTo: protocol.TargetTag("a"), CycleCount: 2},
			},
			wantMsg: "cannot start immediately after its tag",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := protocol.New(protocol.Sample{}, validRecord(), protocol.Safety{}, tt.method)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoopTargetOnTagBeforeBody(t *testing.T) {
	// A numeric target on a tag is fine as long as the tag anchors a
	// step strictly before the loop.
	_, err := protocol.New(protocol.Sample{}, validRecord(), protocol.Safety{}, protocol.Method{
		&protocol.Tag{Name: "start"},
		&protocol.Rest{UntilTimeS: 60},
		&protocol.Loop{LoopTo: protocol.TargetStep(1), CycleCount: 2},
	})
	require.NoError(t, err)
}

func TestEmptyMethodRejected(t *testing.T) {
	_, err := protocol.New(protocol.Sample{}, validRecord(), protocol.Safety{}, protocol.Method{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one step")
}

func TestRequireCapacityIfRateUsed(t *testing.T) {
	method := protocol.Method{
		&protocol.ConstantCurrent{RateC: 0.5, UntilTimeS: 60},
	}
	err := protocol.RequireCapacityIfRateUsed(method, 0)
	require.Error(t, err)
	assert.True(t, protocol.IsCode(err, protocol.CodeMissingCapacity))

	assert.NoError(t, protocol.RequireCapacityIfRateUsed(method, 1.0))

	absolute := protocol.Method{
		&protocol.ConstantCurrent{CurrentMA: 5, UntilTimeS: 60},
		&protocol.ConstantVoltage{VoltageV: 4.2, UntilCurrentMA: 0.1},
	}
	assert.NoError(t, protocol.RequireCapacityIfRateUsed(absolute, 0))

	untilRate := protocol.Method{
		&protocol.ConstantVoltage{VoltageV: 4.2, UntilRateC: 0.05},
	}
	err = protocol.RequireCapacityIfRateUsed(untilRate, 0)
	require.Error(t, err)
	assert.True(t, protocol.IsCode(err, protocol.CodeMissingCapacity))
}

func TestCloneIsDeep(t *testing.T) {
	p, err := protocol.New(
		protocol.Sample{Name: "s", CapacityMAh: 1},
		validRecord(),
		protocol.Safety{},
		protocol.Method{
			&protocol.Rest{UntilTimeS: 60},
			&protocol.Loop{LoopTo: protocol.TargetStep(1), CycleCount: 2},
		},
	)
	require.NoError(t, err)

	c := p.Clone()
	c.Sample.Name = "other"
	c.Method[0].(*protocol.Rest).UntilTimeS = 1
	c.Method[1].(*protocol.Loop).CycleCount = 99

	assert.Equal(t, "s", p.Sample.Name)
	assert.Equal(t, protocol.Quantity(60), p.Method[0].(*protocol.Rest).UntilTimeS)
	assert.Equal(t, 2, p.Method[1].(*protocol.Loop).CycleCount)
}
