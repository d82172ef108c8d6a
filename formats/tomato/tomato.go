// Package tomato renders protocols as tomato 0.2.3 job payloads (JSON)
// for MPG2 instruments. tomato loops by 0-indexed goto, so the exporter
// consumes the resolved flat sequence directly.
package tomato

import (
	"encoding/json"
	"fmt"

	"github.com/aurora-unicycler/unicycler/core/protocol"
	"github.com/aurora-unicycler/unicycler/formats/export"
)

// DefaultOutputPath is where tomato stores measurement data unless the
// caller overrides it.
const DefaultOutputPath = "C:/tomato_data/"

type payload struct {
	Version string           `json:"version"`
	Sample  sample           `json:"sample"`
	Method  []map[string]any `json:"method"`
	Tomato  settings         `json:"tomato"`
}

type sample struct {
	Name        string  `json:"name"`
	CapacityMAh float64 `json:"capacity_mAh"`
}

type settings struct {
	UnlockWhenDone bool   `json:"unlock_when_done"`
	Verbosity      string `json:"verbosity"`
	Output         output `json:"output"`
}

type output struct {
	Path   string `json:"path"`
	Prefix string `json:"prefix"`
}

// Export renders the protocol as a tomato job JSON document. outputPath
// sets where tomato writes its data; empty means DefaultOutputPath.
func Export(p *protocol.Protocol, o export.Options, outputPath string) ([]byte, error) {
	c, err := export.Prepare(p, o, true)
	if err != nil {
		return nil, err
	}
	if outputPath == "" {
		outputPath = DefaultOutputPath
	}

	doc := payload{
		Version: "0.1",
		Sample: sample{
			Name:        c.Sample.Name,
			CapacityMAh: float64(c.Sample.CapacityMAh),
		},
		Method: make([]map[string]any, 0, len(c.Method)),
		Tomato: settings{
			UnlockWhenDone: true,
			Verbosity:      "DEBUG",
			Output:         output{Path: outputPath, Prefix: c.Sample.Name},
		},
	}

	for _, s := range c.Method {
		step, err := methodStep(s, c.Record)
		if err != nil {
			return nil, err
		}
		doc.Method = append(doc.Method, step)
	}

	out, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

func methodStep(s protocol.Step, rec protocol.Record) (map[string]any, error) {
	step := map[string]any{
		"device":    "MPG2",
		"technique": string(s.Kind()),
	}

	// Safety limits are configured on the instrument itself; only the
	// recording cadence travels with measurement steps.
	addRecording := func() {
		if rec.TimeS.Set() {
			step["measure_every_dt"] = float64(rec.TimeS)
		}
		if rec.CurrentMA.Set() {
			step["measure_every_dI"] = float64(rec.CurrentMA)
		}
		if rec.VoltageV.Set() {
			step["measure_every_dE"] = float64(rec.VoltageV)
		}
		step["I_range"] = "10 mA"
		step["E_range"] = "+-5.0 V"
	}

	switch st := s.(type) {
	case *protocol.Rest:
		addRecording()
		step["time"] = float64(st.UntilTimeS)

	case *protocol.ConstantCurrent:
		addRecording()
		charging := false
		switch {
		case st.RateC.Set():
			if st.RateC > 0 {
				charging = true
				step["current"] = fmt.Sprintf("%gC", float64(st.RateC))
			} else {
				step["current"] = fmt.Sprintf("%gD", -float64(st.RateC))
			}
		case st.CurrentMA.Set():
			charging = st.CurrentMA > 0
			step["current"] = float64(st.CurrentMA) / 1000
		default:
			return nil, protocol.Errorf(protocol.CodeStructural, "must have a current or C-rate")
		}
		if st.UntilTimeS.Set() {
			step["time"] = float64(st.UntilTimeS)
		}
		if st.UntilVoltageV.Set() {
			if charging {
				step["limit_voltage_max"] = float64(st.UntilVoltageV)
			} else {
				step["limit_voltage_min"] = float64(st.UntilVoltageV)
			}
		}

	case *protocol.ConstantVoltage:
		addRecording()
		step["voltage"] = float64(st.VoltageV)
		if st.UntilTimeS.Set() {
			step["time"] = float64(st.UntilTimeS)
		}
		if st.UntilRateC.Set() {
			if st.UntilRateC > 0 {
				step["limit_current_min"] = fmt.Sprintf("%gC", float64(st.UntilRateC))
			} else {
				step["limit_current_max"] = fmt.Sprintf("%gD", -float64(st.UntilRateC))
			}
		}

	case *protocol.Loop:
		// tomato counts gotos, not total cycles, and indexes from zero.
		step["goto"] = st.LoopTo.Step - 1
		step["n_gotos"] = st.CycleCount - 1

	default:
		return nil, protocol.Errorf(protocol.CodeUnsupportedStep,
			"tomato export does not support step type: %s", s.Kind())
	}
	return step, nil
}
