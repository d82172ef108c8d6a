// Package neware renders protocols as Neware BTS step files (XML).
// Neware loops natively by step index, so the exporter consumes the
// resolved flat sequence directly.
package neware

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/aurora-unicycler/unicycler/core/protocol"
	"github.com/aurora-unicycler/unicycler/formats/export"
)

const clientVersion = "BTS Client 8.0.0.478(2024.06.24)(R3)"

// Neware step type codes.
const (
	typeCCCharge    = "1"
	typeCCDischarge = "2"
	typeCVCharge    = "3"
	typeRest        = "4"
	typeLoop        = "5"
	typeEnd         = "6"
	typeCVDischarge = "19"
)

// element is a minimal XML element tree, built the way the settings
// file lays out steps: everything is attributes, nesting carries the
// structure.
type element struct {
	name     string
	attrs    []xml.Attr
	children []*element
}

func newElement(name string, attrs ...string) *element {
	e := &element{name: name}
	for i := 0; i+1 < len(attrs); i += 2 {
		e.attrs = append(e.attrs, xml.Attr{Name: xml.Name{Local: attrs[i]}, Value: attrs[i+1]})
	}
	return e
}

func (e *element) child(name string, attrs ...string) *element {
	c := newElement(name, attrs...)
	e.children = append(e.children, c)
	return c
}

func (e *element) encode(enc *xml.Encoder) error {
	start := xml.StartElement{Name: xml.Name{Local: e.name}, Attr: e.attrs}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	for _, c := range e.children {
		if err := c.encode(enc); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// num formats a value the way the BTS client writes numbers: fixed
// six-decimal notation.
func num(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Export renders the protocol as a Neware BTS XML step file.
func Export(p *protocol.Protocol, o export.Options) ([]byte, error) {
	c, err := export.Prepare(p, o, true)
	if err != nil {
		return nil, err
	}

	root := newElement("root")
	config := root.child("config",
		"type", "Step File",
		"version", "17",
		"client_version", clientVersion,
		"date", time.Now().Format("20060102150405"),
		"Guid", uuid.New().String(),
	)

	head := config.child("Head_Info")
	head.child("Operate", "Value", "66")
	head.child("Scale", "Value", "1")
	head.child("Start_Step", "Value", "1", "Hide_Ctrl_Step", "0")
	head.child("Creator", "Value", "unicycler")
	head.child("Remark", "Value", c.Sample.Name)
	// 103 is the non C-rate mode, which gives more precise values than 105.
	head.child("RateType", "Value", "103")
	if c.Sample.CapacityMAh.Set() {
		head.child("MultCap", "Value", num(float64(c.Sample.CapacityMAh)*3600))
	}

	whole := config.child("Whole_Prt")
	whole.children = append(whole.children, safetyElement(c.Safety), recordElement(c.Record))

	// One extra step for the trailing End marker.
	stepInfo := config.child("Step_Info", "Num", strconv.Itoa(len(c.Method)+1))
	for i, s := range c.Method {
		var prev protocol.Step
		if i > 0 {
			prev = c.Method[i-1]
		}
		el, err := stepElement(s, prev, i+1, c.Sample.CapacityMAh)
		if err != nil {
			return nil, err
		}
		stepInfo.children = append(stepInfo.children, el)
	}
	endNum := strconv.Itoa(len(c.Method) + 1)
	stepInfo.child("Step"+endNum, "Step_ID", endNum, "Step_Type", typeEnd)

	smbus := config.child("SMBUS")
	smbus.child("SMBUS_Info", "Num", "0", "AdjacentInterval", "0")

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := root.encode(enc); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func stepElement(s protocol.Step, prev protocol.Step, stepNum int, capacity protocol.Quantity) (*element, error) {
	switch st := s.(type) {
	case *protocol.Rest:
		return restElement(st, stepNum), nil
	case *protocol.ConstantCurrent:
		return ccElement(st, stepNum, capacity), nil
	case *protocol.ConstantVoltage:
		return cvElement(st, prev, stepNum, capacity), nil
	case *protocol.Loop:
		return loopElement(st, stepNum), nil
	default:
		return nil, protocol.Errorf(protocol.CodeUnsupportedStep,
			"neware export does not support step type: %s", s.Kind())
	}
}

func restElement(s *protocol.Rest, stepNum int) *element {
	el := newElement("Step"+strconv.Itoa(stepNum), "Step_ID", strconv.Itoa(stepNum), "Step_Type", typeRest)
	main := el.child("Limit").child("Main")
	main.child("Time", "Value", num(float64(s.UntilTimeS)*1000))
	return el
}

func ccElement(s *protocol.ConstantCurrent, stepNum int, capacity protocol.Quantity) *element {
	stepType := typeCCCharge
	if (s.RateC.Set() && s.RateC < 0) || (!s.RateC.Set() && s.CurrentMA < 0) {
		stepType = typeCCDischarge
	}
	el := newElement("Step"+strconv.Itoa(stepNum), "Step_ID", strconv.Itoa(stepNum), "Step_Type", stepType)
	main := el.child("Limit").child("Main")
	if s.RateC.Set() {
		main.child("Rate", "Value", num(abs(float64(s.RateC))))
		main.child("Curr", "Value", num(abs(float64(s.RateC))*float64(capacity)))
	} else if s.CurrentMA.Set() {
		main.child("Curr", "Value", num(abs(float64(s.CurrentMA))))
	}
	if s.UntilTimeS.Set() {
		main.child("Time", "Value", num(float64(s.UntilTimeS)*1000))
	}
	if s.UntilVoltageV.Set() {
		main.child("Stop_Volt", "Value", num(float64(s.UntilVoltageV)*10000))
	}
	return el
}

func cvElement(s *protocol.ConstantVoltage, prev protocol.Step, stepNum int, capacity protocol.Quantity) *element {
	stepType := typeCVCharge
	switch {
	case s.UntilRateC.Set() && s.UntilRateC < 0:
		stepType = typeCVDischarge
	case !s.UntilRateC.Set() && s.UntilCurrentMA.Set() && s.UntilCurrentMA < 0:
		stepType = typeCVDischarge
	}
	el := newElement("Step"+strconv.Itoa(stepNum), "Step_ID", strconv.Itoa(stepNum), "Step_Type", stepType)
	main := el.child("Limit").child("Main")
	main.child("Volt", "Value", num(float64(s.VoltageV)*10000))
	if s.UntilTimeS.Set() {
		main.child("Time", "Value", num(float64(s.UntilTimeS)*1000))
	}
	if s.UntilRateC.Set() {
		main.child("Stop_Rate", "Value", num(abs(float64(s.UntilRateC))))
		main.child("Stop_Curr", "Value", num(abs(float64(s.UntilRateC))*float64(capacity)))
	} else if s.UntilCurrentMA.Set() {
		main.child("Stop_Curr", "Value", num(abs(float64(s.UntilCurrentMA))))
	}

	// A CV that continues a CC into the same cutoff voltage inherits the
	// CC's drive as its starting current hint.
	if cc, ok := prev.(*protocol.ConstantCurrent); ok && cc.UntilVoltageV == s.VoltageV {
		if cc.RateC.Set() {
			main.child("Rate", "Value", num(abs(float64(cc.RateC))))
			main.child("Curr", "Value", num(abs(float64(cc.RateC))*float64(capacity)))
		} else if cc.CurrentMA.Set() {
			main.child("Curr", "Value", num(abs(float64(cc.CurrentMA))))
		}
	}
	return el
}

func loopElement(s *protocol.Loop, stepNum int) *element {
	el := newElement("Step"+strconv.Itoa(stepNum), "Step_ID", strconv.Itoa(stepNum), "Step_Type", typeLoop)
	other := el.child("Limit").child("Other")
	other.child("Start_Step", "Value", strconv.Itoa(s.LoopTo.Step))
	other.child("Cycle_Count", "Value", strconv.Itoa(s.CycleCount))
	return el
}

func safetyElement(s protocol.Safety) *element {
	protect := newElement("Protect")
	main := protect.child("Main")
	volt := main.child("Volt")
	if s.MaxVoltageV.Set() {
		volt.child("Upper", "Value", num(float64(s.MaxVoltageV)*10000))
	}
	if s.MinVoltageV.Set() {
		volt.child("Lower", "Value", num(float64(s.MinVoltageV)*10000))
	}
	curr := main.child("Curr")
	if s.MaxCurrentMA.Set() {
		curr.child("Upper", "Value", num(float64(s.MaxCurrentMA)))
	}
	if s.MinCurrentMA.Set() {
		curr.child("Lower", "Value", num(float64(s.MinCurrentMA)))
	}
	if s.DelayS.Set() {
		main.child("Delay_Time", "Value", num(float64(s.DelayS)*1000))
	}
	cap := main.child("Cap")
	if s.MaxCapacityMAh.Set() {
		cap.child("Upper", "Value", num(float64(s.MaxCapacityMAh)*3600))
	}
	return protect
}

func recordElement(r protocol.Record) *element {
	rec := newElement("Record")
	main := rec.child("Main")
	if r.TimeS.Set() {
		main.child("Time", "Value", num(float64(r.TimeS)*1000))
	}
	if r.VoltageV.Set() {
		main.child("Volt", "Value", num(float64(r.VoltageV)*10000))
	}
	if r.CurrentMA.Set() {
		main.child("Curr", "Value", num(float64(r.CurrentMA)))
	}
	return rec
}
