// Package plan derives the nested loop tree of a resolved step sequence.
// Hierarchical exporters consume the tree instead of simulating loop
// jumps themselves.
package plan

import (
	"github.com/aurora-unicycler/unicycler/core/invariant"
	"github.com/aurora-unicycler/unicycler/core/protocol"
)

// Node is one element of a loop tree: either a Leaf referencing an
// executable step, or a Repeat wrapping the subtree a loop iterates over.
type Node interface {
	isNode()
}

// Leaf references an executable step by its 0-based index in the
// resolved sequence.
type Leaf struct {
	Index int
}

func (Leaf) isNode() {}

// Repeat is a loop node: its Body runs Count times in total.
type Repeat struct {
	Count int
	Body  []Node
}

func (Repeat) isNode() {}

// Tree is the loop tree of a resolved sequence, preserving document
// order at every level.
type Tree struct {
	Nodes []Node
}

// Build converts a flat resolved sequence into its loop tree. Plain
// steps become leaves; each loop becomes a Repeat node wrapping the
// subtree of its interval.
//
// The input must be resolved (no tags, numeric targets) and must have
// passed the nesting check; a violated precondition is a programming
// error and panics. Laminarity is what makes every loop's sub-range
// boundary unambiguous.
func Build(seq protocol.Method) *Tree {
	invariant.Precondition(len(seq) > 0, "sequence must not be empty")
	for i, s := range seq {
		invariant.NotNil(s, "step")
		_, isTag := s.(*protocol.Tag)
		invariant.Precondition(!isTag, "sequence must be resolved, found tag at index %d", i)
		if l, ok := s.(*protocol.Loop); ok {
			invariant.Precondition(!l.LoopTo.IsTag(),
				"sequence must be resolved, loop at index %d has symbolic target", i)
			invariant.InRange(l.LoopTo.Step, 1, i, "loop target")
		}
	}
	stepNums := make([]int, len(seq))
	for i := range stepNums {
		stepNums[i] = i
	}
	return &Tree{Nodes: group(stepNums, seq)}
}

// group walks the (sub)sequence backward, wrapping each loop's interval
// into a Repeat and recursing into it. stepNums carries each element's
// index in the full resolved sequence, so loop targets stay meaningful
// inside sub-slices. skipAbove is the watermark of the innermost loop
// already emitted at this depth: elements at or above it are covered by
// that loop's subtree.
func group(stepNums []int, seq protocol.Method) []Node {
	var nodes []Node
	skipAbove := -1

	for i := len(seq) - 1; i >= 0; i-- {
		if skipAbove >= 0 && stepNums[i] >= skipAbove {
			continue
		}
		l, ok := seq[i].(*protocol.Loop)
		if !ok {
			nodes = append(nodes, Leaf{Index: stepNums[i]})
			continue
		}

		// The loop spans [start, i) in full-sequence numbering. Find
		// where that start sits in this sub-slice.
		start := l.LoopTo.Step - 1
		startI := -1
		for j, n := range stepNums {
			if n == start {
				startI = j
				break
			}
		}
		invariant.Invariant(startI >= 0, "loop target %d not present in sub-range", start)

		nodes = append(nodes, Repeat{
			Count: l.CycleCount,
			Body:  group(stepNums[startI:i], seq[startI:i]),
		})
		skipAbove = start
	}

	// Built backward, so restore document order.
	for a, b := 0, len(nodes)-1; a < b; a, b = a+1, b-1 {
		nodes[a], nodes[b] = nodes[b], nodes[a]
	}
	return nodes
}

// Leaves returns the tree's leaf indices in document order, each leaf
// once regardless of repeat counts. Flattening a valid tree reproduces
// the resolved sequence's non-loop step order.
func (t *Tree) Leaves() []int {
	var out []int
	var walk func(nodes []Node)
	walk = func(nodes []Node) {
		for _, n := range nodes {
			switch n := n.(type) {
			case Leaf:
				out = append(out, n.Index)
			case Repeat:
				walk(n.Body)
			}
		}
	}
	walk(t.Nodes)
	return out
}
