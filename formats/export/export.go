// Package export holds the pre-flight shared by all format exporters:
// cloning, name/capacity overrides, placeholder rejection, capacity
// checks, tag resolution, and the loop nesting gate.
package export

import (
	"github.com/aurora-unicycler/unicycler/core/protocol"
	"github.com/aurora-unicycler/unicycler/core/resolve"
)

// Options override protocol fields at export time, so one stored
// protocol can be rendered for many samples.
type Options struct {
	SampleName  string
	CapacityMAh float64
}

// Prepare returns a resolved, nesting-checked clone of p, ready for
// vendor rendering. The caller's protocol is never modified.
//
// If requireName is set, a blank or "$NAME" placeholder sample name is
// rejected: such protocols are templates and need a concrete name before
// they can drive an instrument.
func Prepare(p *protocol.Protocol, o Options, requireName bool) (*protocol.Protocol, error) {
	c := p.Clone()
	if o.SampleName != "" {
		c.Sample.Name = o.SampleName
	}
	if o.CapacityMAh != 0 {
		c.Sample.CapacityMAh = protocol.Quantity(o.CapacityMAh)
	}

	if requireName && (c.Sample.Name == "" || c.Sample.Name == protocol.DefaultSampleName) {
		return nil, protocol.Errorf(protocol.CodeStructural,
			"if using blank sample name or %s placeholder, a sample name must be provided",
			protocol.DefaultSampleName)
	}
	if err := protocol.RequireCapacityIfRateUsed(c.Method, c.Sample.CapacityMAh); err != nil {
		return nil, err
	}

	resolved, err := resolve.Tags(c.Method)
	if err != nil {
		return nil, err
	}
	if err := resolve.CheckNesting(resolved); err != nil {
		return nil, err
	}
	c.Method = resolved
	return c, nil
}

// CurrentMA converts a step's drive to absolute current, preferring the
// C-rate when both are present.
func CurrentMA(rateC protocol.Rate, currentMA, capacityMAh protocol.Quantity) float64 {
	if rateC.Set() && capacityMAh.Set() {
		return float64(rateC) * float64(capacityMAh)
	}
	return float64(currentMA)
}
