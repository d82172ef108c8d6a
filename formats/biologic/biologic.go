// Package biologic renders protocols as EC-LAB settings files (.mps)
// using the Modulo Bat technique. The settings body is a fixed-width
// table: one row per parameter, one 20-character column per sequence.
//
// EC-LAB only changes the current range between techniques, so insert
// rest steps between CC/CV steps if the range must change mid-protocol.
package biologic

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aurora-unicycler/unicycler/core/protocol"
	"github.com/aurora-unicycler/unicycler/formats/export"
)

// stepKeys fixes the row order of the Modulo Bat parameter table.
// EC-LAB reads the table positionally, so the order is part of the
// format.
var stepKeys = []string{
	"Ns",
	"ctrl_type",
	"Apply I/C",
	"current/potential",
	"ctrl1_val",
	"ctrl1_val_unit",
	"ctrl1_val_vs",
	"ctrl2_val",
	"ctrl2_val_unit",
	"ctrl2_val_vs",
	"ctrl3_val",
	"ctrl3_val_unit",
	"ctrl3_val_vs",
	"N",
	"charge/discharge",
	"charge/discharge_1",
	"Apply I/C_1",
	"N1",
	"ctrl4_val",
	"ctrl4_val_unit",
	"ctrl5_val",
	"ctrl5_val_unit",
	"ctrl_tM",
	"ctrl_seq",
	"ctrl_repeat",
	"ctrl_trigger",
	"ctrl_TO_t",
	"ctrl_TO_t_unit",
	"ctrl_Nd",
	"ctrl_Na",
	"ctrl_corr",
	"lim_nb",
	"lim1_type",
	"lim1_comp",
	"lim1_Q",
	"lim1_value",
	"lim1_value_unit",
	"lim1_action",
	"lim1_seq",
	"lim2_type",
	"lim2_comp",
	"lim2_Q",
	"lim2_value",
	"lim2_value_unit",
	"lim2_action",
	"lim2_seq",
	"rec_nb",
	"rec1_type",
	"rec1_value",
	"rec1_value_unit",
	"rec2_type",
	"rec2_value",
	"rec2_value_unit",
	"E range min (V)",
	"E range max (V)",
	"I Range",
	"I Range min",
	"I Range max",
	"I Range init",
	"auto rest",
	"Bandwidth",
}

func defaultStep() map[string]string {
	return map[string]string{
		"Ns":                 "",
		"ctrl_type":          "",
		"Apply I/C":          "I",
		"current/potential":  "current",
		"ctrl1_val":          "",
		"ctrl1_val_unit":     "",
		"ctrl1_val_vs":       "",
		"ctrl2_val":          "",
		"ctrl2_val_unit":     "",
		"ctrl2_val_vs":       "",
		"ctrl3_val":          "",
		"ctrl3_val_unit":     "",
		"ctrl3_val_vs":       "",
		"N":                  "0.00",
		"charge/discharge":   "Charge",
		"charge/discharge_1": "Charge",
		"Apply I/C_1":        "I",
		"N1":                 "0.00",
		"ctrl4_val":          "",
		"ctrl4_val_unit":     "",
		"ctrl5_val":          "",
		"ctrl5_val_unit":     "",
		"ctrl_tM":            "0",
		"ctrl_seq":           "0",
		"ctrl_repeat":        "0",
		"ctrl_trigger":       "Falling Edge",
		"ctrl_TO_t":          "0.000",
		"ctrl_TO_t_unit":     "d",
		"ctrl_Nd":            "6",
		"ctrl_Na":            "2",
		"ctrl_corr":          "0",
		"lim_nb":             "0",
		"lim1_type":          "Time",
		"lim1_comp":          ">",
		"lim1_Q":             "",
		"lim1_value":         "0.000",
		"lim1_value_unit":    "s",
		"lim1_action":        "Next sequence",
		"lim1_seq":           "",
		"lim2_type":          "",
		"lim2_comp":          "",
		"lim2_Q":             "",
		"lim2_value":         "",
		"lim2_value_unit":    "",
		"lim2_action":        "Next sequence",
		"lim2_seq":           "",
		"rec_nb":             "0",
		"rec1_type":          "",
		"rec1_value":         "",
		"rec1_value_unit":    "",
		"rec2_type":          "",
		"rec2_value":         "",
		"rec2_value_unit":    "",
		"E range min (V)":    "0.000",
		"E range max (V)":    "5.000",
		"I Range":            "Auto",
		"I Range min":        "Unset",
		"I Range max":        "Unset",
		"I Range init":       "Unset",
		"auto rest":          "1",
		"Bandwidth":          "5",
	}
}

// iRange is one rung of the fixed current-range ladder. CC and GEIS
// steps have no Auto option, so the exporter picks the first rung that
// covers the step's current.
type iRange struct {
	maxMA float64
	label string
}

var iRanges = []iRange{
	{0.01, "10 µA"},
	{0.1, "100 µA"},
	{1, "1 mA"},
	{10, "10 mA"},
	{100, "100 mA"},
}

func rangeFor(currentMA float64) (string, bool) {
	for _, r := range iRanges {
		if abs(currentMA) <= r.maxMA {
			return r.label, true
		}
	}
	return "", false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func f3(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// Export renders the protocol as the contents of an EC-LAB .mps settings
// file. A concrete sample name is required since it is embedded in the
// file comments. EC-LAB expects the file in Windows-1252 encoding; the
// returned string is ASCII apart from the micro sign, which the caller
// must transcode when writing to disk.
func Export(p *protocol.Protocol, o export.Options) (string, error) {
	c, err := export.Prepare(p, o, true)
	if err != nil {
		return "", err
	}

	header := []string{
		"EC-LAB SETTING FILE",
		"",
		"Number of linked techniques : 1",
		"Device : MPG-2",
		"CE vs. WE compliance from -10 V to 10 V",
		"Electrode connection : standard",
		"Potential control : Ewe",
		"Ewe ctrl range : min = 0.00 V, max = 5.00 V",
		"Safety Limits :",
		"\tDo not start on E overload",
		"Comments : " + c.Sample.Name,
		"Cycle Definition : Charge/Discharge alternance",
		"Do not turn to OCV between techniques",
		"",
		"Technique : 1",
		"Modulo Bat",
	}

	cols := make([]map[string]string, len(c.Method))
	for i, s := range c.Method {
		col := defaultStep()
		col["Ns"] = strconv.Itoa(i)
		col["lim1_seq"] = strconv.Itoa(i + 1)
		col["lim2_seq"] = strconv.Itoa(i + 1)

		switch st := s.(type) {
		case *protocol.Rest:
			col["ctrl_type"] = "Rest"
			col["lim_nb"] = "1"
			col["lim1_type"] = "Time"
			col["lim1_comp"] = ">"
			col["lim1_value"] = f3(float64(st.UntilTimeS))
			col["lim1_value_unit"] = "s"
			col["rec_nb"] = "1"
			col["rec1_type"] = "Time"
			col["rec1_value"] = f3(float64(c.Record.TimeS))
			col["rec1_value_unit"] = "s"

		case *protocol.ConstantCurrent:
			if err := constantCurrent(col, st, c); err != nil {
				return "", err
			}

		case *protocol.ConstantVoltage:
			var prev *protocol.ConstantCurrent
			if i > 0 {
				prev, _ = c.Method[i-1].(*protocol.ConstantCurrent)
			}
			constantVoltage(col, st, prev, c)

		case *protocol.ImpedanceSweep:
			if err := impedance(col, st); err != nil {
				return "", err
			}

		case *protocol.Loop:
			col["ctrl_type"] = "Loop"
			col["ctrl_seq"] = strconv.Itoa(st.LoopTo.Step - 1)
			col["ctrl_repeat"] = strconv.Itoa(st.CycleCount - 1)

		default:
			return "", protocol.Errorf(protocol.CodeUnsupportedStep,
				"biologic export does not support step type: %s", s.Kind())
		}

		cols[i] = col
	}

	var b strings.Builder
	for _, line := range header {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	for _, key := range stepKeys {
		fmt.Fprintf(&b, "%-20s", key)
		for _, col := range cols {
			fmt.Fprintf(&b, "%-20s", col[key])
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func constantCurrent(col map[string]string, st *protocol.ConstantCurrent, c *protocol.Protocol) error {
	currentMA := export.CurrentMA(st.RateC, st.CurrentMA, c.Sample.CapacityMAh)
	if currentMA == 0 {
		return protocol.Errorf(protocol.CodeStructural,
			"either rate_C or current_mA must be set for a constant_current step")
	}

	col["ctrl_type"] = "CC"
	col["ctrl1_val_vs"] = "<None>"
	if abs(currentMA) < 1 {
		col["ctrl1_val"] = f3(currentMA * 1e3)
		col["ctrl1_val_unit"] = "uA"
	} else {
		col["ctrl1_val"] = f3(currentMA)
		col["ctrl1_val_unit"] = "mA"
	}
	label, ok := rangeFor(currentMA)
	if !ok {
		return protocol.Errorf(protocol.CodeStructural,
			"I range not supported for %g mA", currentMA)
	}
	col["I Range"] = label

	limits := 0
	if st.UntilTimeS.Set() {
		limits++
		setLimit(col, limits, "Time", ">", f3(float64(st.UntilTimeS)), "s")
	}
	if st.UntilVoltageV.Set() {
		limits++
		comp := ">"
		if currentMA < 0 {
			comp = "<"
		}
		setLimit(col, limits, "Ewe", comp, f3(float64(st.UntilVoltageV)), "V")
	}
	col["lim_nb"] = strconv.Itoa(limits)

	records := 0
	if c.Record.TimeS.Set() {
		records++
		setRecord(col, records, "Time", f3(float64(c.Record.TimeS)), "s")
	}
	if c.Record.VoltageV.Set() {
		records++
		setRecord(col, records, "Ewe", f3(float64(c.Record.VoltageV)), "V")
	}
	col["rec_nb"] = strconv.Itoa(records)
	return nil
}

func constantVoltage(col map[string]string, st *protocol.ConstantVoltage, prev *protocol.ConstantCurrent, c *protocol.Protocol) {
	col["ctrl_type"] = "CV"
	col["ctrl1_val"] = f3(float64(st.VoltageV))
	col["ctrl1_val_unit"] = "V"
	col["ctrl1_val_vs"] = "Ref"

	limits := 0
	if st.UntilTimeS.Set() {
		limits++
		setLimit(col, limits, "Time", ">", f3(float64(st.UntilTimeS)), "s")
	}
	untilMA := export.CurrentMA(st.UntilRateC, st.UntilCurrentMA, c.Sample.CapacityMAh)
	if untilMA != 0 {
		limits++
		setLimit(col, limits, "|I|", "<", f3(abs(untilMA)), "mA")
	}
	col["lim_nb"] = strconv.Itoa(limits)

	// A CC step feeding straight into a hold at its cutoff voltage is a
	// CC-CV pair; the hold inherits the CC step's current range so the
	// instrument does not switch ranges mid-pair.
	if prev != nil {
		prevMA := export.CurrentMA(prev.RateC, prev.CurrentMA, c.Sample.CapacityMAh)
		if prevMA != 0 && prev.UntilVoltageV == st.VoltageV {
			if label, ok := rangeFor(prevMA); ok {
				col["I Range"] = label
			}
		}
	}

	records := 0
	if c.Record.TimeS.Set() {
		records++
		setRecord(col, records, "Time", f3(float64(c.Record.TimeS)), "s")
	}
	if c.Record.CurrentMA.Set() {
		records++
		setRecord(col, records, "I", f3(float64(c.Record.CurrentMA)), "mA")
	}
	col["rec_nb"] = strconv.Itoa(records)
}

func impedance(col map[string]string, st *protocol.ImpedanceSweep) error {
	switch {
	case st.AmplitudeV.Set():
		col["ctrl_type"] = "PEIS"
		v := float64(st.AmplitudeV)
		switch {
		case v >= 0.1:
			col["ctrl1_val"] = f3(v)
			col["ctrl1_val_unit"] = "V"
		case v >= 0.001:
			col["ctrl1_val"] = f3(v * 1e3)
			col["ctrl1_val_unit"] = "mV"
		default:
			col["ctrl1_val"] = f3(v * 1e6)
			col["ctrl1_val_unit"] = "uV"
		}

	case st.AmplitudeMA.Set():
		col["ctrl_type"] = "GEIS"
		mA := float64(st.AmplitudeMA)
		switch {
		case mA >= 1000:
			col["ctrl1_val"] = f3(mA / 1000)
			col["ctrl1_val_unit"] = "A"
		case mA >= 1:
			col["ctrl1_val"] = f3(mA)
			col["ctrl1_val_unit"] = "mA"
		default:
			col["ctrl1_val"] = f3(mA * 1000)
			col["ctrl1_val_unit"] = "uA"
		}
		// A GEIS range must cover twice the amplitude: the 1 mA range
		// only allows 0.5 mA of excitation.
		label, ok := rangeFor(mA * 2)
		if !ok {
			return protocol.Errorf(protocol.CodeStructural,
				"I range not supported for %g mA", mA)
		}
		col["I Range"] = label

	default:
		return protocol.Errorf(protocol.CodeStructural,
			"either amplitude_V or amplitude_mA must be set")
	}

	for ctrl, freq := range map[int]float64{
		2: float64(st.StartFrequencyHz),
		3: float64(st.EndFrequencyHz),
	} {
		val := "ctrl" + strconv.Itoa(ctrl) + "_val"
		unit := val + "_unit"
		switch {
		case freq >= 1e3:
			col[val] = f3(freq / 1e3)
			col[unit] = "kHz"
		case freq >= 1:
			col[val] = f3(freq)
			col[unit] = "Hz"
		case freq >= 1e-3:
			col[val] = f3(freq * 1e3)
			col[unit] = "mHz"
		}
	}

	col["ctrl_Nd"] = strconv.Itoa(st.PointsPerDecade)
	col["ctrl_Na"] = strconv.Itoa(st.MeasuresPerPoint)
	if st.DriftCorrection {
		col["ctrl_corr"] = "1"
	}
	return nil
}

func setLimit(col map[string]string, n int, typ, comp, value, unit string) {
	p := "lim" + strconv.Itoa(n)
	col[p+"_type"] = typ
	col[p+"_comp"] = comp
	col[p+"_value"] = value
	col[p+"_value_unit"] = unit
}

func setRecord(col map[string]string, n int, typ, value, unit string) {
	p := "rec" + strconv.Itoa(n)
	col[p+"_type"] = typ
	col[p+"_value"] = value
	col[p+"_value_unit"] = unit
}
