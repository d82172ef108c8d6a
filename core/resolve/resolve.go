// Package resolve implements the step-sequence resolution passes: tag
// resolution, loop interval nesting checks, and loop unrolling. All
// passes are pure: they operate on clones and never mutate the caller's
// sequence.
package resolve

import (
	"sort"

	"github.com/aurora-unicycler/unicycler/core/protocol"
)

// DefaultMaxIterations is the unroll ceiling used when the caller does
// not supply one. Exceeding it is treated as a malformed loop graph, not
// a legitimate protocol.
const DefaultMaxIterations = 10000

// Tags returns a copy of seq with every Tag step removed and every loop
// target rewritten to a 1-based position in the new numbering. A tag
// anchors the executable step that follows it.
//
// Calling Tags on an already-resolved sequence is a no-op copy.
func Tags(seq protocol.Method) (protocol.Method, error) {
	out := make(protocol.Method, 0, len(seq))
	// Position of each original step in the new numbering. Tags map to
	// the position of the next executable step, so numeric targets that
	// pointed at a tag land on its anchor.
	newPos := make([]int, len(seq))
	tags := make(map[string]int)

	j := 0
	for i, s := range seq {
		if t, ok := s.(*protocol.Tag); ok {
			newPos[i] = j + 1
			tags[t.Name] = j + 1
			continue
		}
		j++
		newPos[i] = j

		loop, ok := s.(*protocol.Loop)
		if !ok {
			out = append(out, s.Clone())
			continue
		}
		c := loop.Clone().(*protocol.Loop)
		if c.LoopTo.IsTag() {
			pos, found := tags[c.LoopTo.Tag]
			if !found {
				return nil, protocol.Errorf(protocol.CodeMissingTag,
					"loop step with tag '%s' does not have a corresponding tag step", c.LoopTo.Tag)
			}
			c.LoopTo = protocol.TargetStep(pos)
		} else {
			old := c.LoopTo.Step
			if old < 1 || old > i {
				return nil, protocol.Errorf(protocol.CodeStructural,
					"loop at step %d targets invalid step %d", j, old)
			}
			c.LoopTo = protocol.TargetStep(newPos[old-1])
		}
		// Resolved targets must stay strictly behind the loop; a target
		// whose tag anchors on the loop itself would make it self-refer.
		if c.LoopTo.Step >= j {
			return nil, protocol.Errorf(protocol.CodeStructural,
				"loop at step %d resolves to target %d, loops must go backwards", j, c.LoopTo.Step)
		}
		out = append(out, c)
	}
	return out, nil
}

// loopInterval is a loop's span in a resolved sequence: [Start, End] in
// 1-based positions, End being the loop step itself.
type loopInterval struct {
	Start, End int
}

// CheckNesting verifies that the loop intervals of a resolved sequence
// form a laminar family: any two intervals are either disjoint or one
// fully contains the other. Partial overlap is rejected, since no
// execution order can honour two crossing loops.
//
// The sequence must not contain Tag steps; run Tags first.
func CheckNesting(seq protocol.Method) error {
	var loops []loopInterval
	for i, s := range seq {
		if l, ok := s.(*protocol.Loop); ok {
			loops = append(loops, loopInterval{Start: l.LoopTo.Step, End: i + 1})
		}
	}
	sort.Slice(loops, func(a, b int) bool {
		if loops[a].Start != loops[b].Start {
			return loops[a].Start < loops[b].Start
		}
		return loops[a].End < loops[b].End
	})

	for i := 0; i < len(loops); i++ {
		for j := i + 1; j < len(loops); j++ {
			// Sorted by start: once j starts after i ends, no later
			// interval can touch i.
			if loops[j].Start > loops[i].End {
				break
			}
			crosses := (loops[i].Start < loops[j].Start && loops[i].End < loops[j].End) ||
				(loops[i].Start > loops[j].Start && loops[i].End > loops[j].End)
			if crosses {
				return protocol.Errorf(protocol.CodeIntersectingLoops,
					"intersecting loops: [%d, %d] and [%d, %d]",
					loops[i].Start, loops[i].End, loops[j].Start, loops[j].End)
			}
		}
	}
	return nil
}

// Unroll simulates one full run of a resolved, nesting-checked sequence
// and returns the 0-based indices of the executable steps in execution
// order. Loop steps contribute control flow only and do not appear in
// the result.
//
// A loop with cycle count n sends the program counter back n-1 times, so
// its body runs n times in total. Re-entering an outer loop resets the
// counters of every loop nested inside it, otherwise inner loops would
// run short on later outer iterations.
//
// maxIterations caps the number of simulated steps; values <= 0 fall
// back to DefaultMaxIterations.
func Unroll(seq protocol.Method, maxIterations int) ([]int, error) {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	type loopState struct {
		goTo int // 0-based re-entry index
		n    int // total body executions wanted
		done int // go-backs taken since last (re)entry
	}
	loops := make(map[int]*loopState)
	for i, s := range seq {
		if l, ok := s.(*protocol.Loop); ok {
			loops[i] = &loopState{goTo: l.LoopTo.Step - 1, n: l.CycleCount}
		}
	}

	var trace []int
	i := 0
	total := 0
	for i < len(seq) {
		trace = append(trace, i)
		if l, ok := loops[i]; ok && l.done < l.n-1 {
			for k, inner := range loops {
				if k < i && k >= l.goTo {
					inner.done = 0
				}
			}
			l.done++
			i = l.goTo
		} else {
			i++
		}
		total++
		if total > maxIterations {
			return nil, protocol.Errorf(protocol.CodeRunawayExpansion,
				"over %d steps in unrolled protocol, likely a loop definition error", maxIterations)
		}
	}

	out := make([]int, 0, len(trace))
	for _, idx := range trace {
		if _, isLoop := loops[idx]; !isLoop {
			out = append(out, idx)
		}
	}
	return out, nil
}
