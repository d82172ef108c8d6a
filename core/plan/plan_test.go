package plan_test

import (
	"testing"

	"github.com/aurora-unicycler/unicycler/core/plan"
	"github.com/aurora-unicycler/unicycler/core/protocol"
	"github.com/aurora-unicycler/unicycler/core/resolve"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rest() *protocol.Rest { return &protocol.Rest{UntilTimeS: 1} }

func loop(target, count int) *protocol.Loop {
	return &protocol.Loop{LoopTo: protocol.TargetStep(target), CycleCount: count}
}

func TestBuildFlatSequence(t *testing.T) {
	tree := plan.Build(protocol.Method{rest(), rest(), rest()})
	want := []plan.Node{plan.Leaf{Index: 0}, plan.Leaf{Index: 1}, plan.Leaf{Index: 2}}
	if diff := cmp.Diff(want, tree.Nodes); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildSingleLoop(t *testing.T) {
	// rest, rest, rest, loop back to position 2 three times
	tree := plan.Build(protocol.Method{rest(), rest(), rest(), loop(2, 3)})
	want := []plan.Node{
		plan.Leaf{Index: 0},
		plan.Repeat{Count: 3, Body: []plan.Node{plan.Leaf{Index: 1}, plan.Leaf{Index: 2}}},
	}
	if diff := cmp.Diff(want, tree.Nodes); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildLoopToFirstStep(t *testing.T) {
	// A loop targeting position 1 must swallow the whole prefix, not
	// duplicate it.
	tree := plan.Build(protocol.Method{rest(), rest(), loop(1, 5)})
	want := []plan.Node{
		plan.Repeat{Count: 5, Body: []plan.Node{plan.Leaf{Index: 0}, plan.Leaf{Index: 1}}},
	}
	if diff := cmp.Diff(want, tree.Nodes); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildNestedLoops(t *testing.T) {
	// positions: 1 rest, 2 rest, 3 loop->2, 4 rest, 5 loop->1, 6 rest
	tree := plan.Build(protocol.Method{
		rest(), rest(), loop(2, 3), rest(), loop(1, 4), rest(),
	})
	want := []plan.Node{
		plan.Repeat{Count: 4, Body: []plan.Node{
			plan.Leaf{Index: 0},
			plan.Repeat{Count: 3, Body: []plan.Node{plan.Leaf{Index: 1}}},
			plan.Leaf{Index: 3},
		}},
		plan.Leaf{Index: 5},
	}
	if diff := cmp.Diff(want, tree.Nodes); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildSiblingLoops(t *testing.T) {
	// positions: 1 rest, 2 rest, 3 loop->2, 4 rest, 5 loop->4, 6 rest
	tree := plan.Build(protocol.Method{
		rest(), rest(), loop(2, 2), rest(), loop(4, 3), rest(),
	})
	want := []plan.Node{
		plan.Leaf{Index: 0},
		plan.Repeat{Count: 2, Body: []plan.Node{plan.Leaf{Index: 1}}},
		plan.Repeat{Count: 3, Body: []plan.Node{plan.Leaf{Index: 3}}},
		plan.Leaf{Index: 5},
	}
	if diff := cmp.Diff(want, tree.Nodes); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestLeavesMatchFlatOrder(t *testing.T) {
	seq := protocol.Method{
		rest(), rest(), loop(2, 3), rest(), loop(1, 4), rest(), rest(), loop(6, 2),
	}
	require.NoError(t, resolve.CheckNesting(seq))

	tree := plan.Build(seq)
	var nonLoop []int
	for i, s := range seq {
		if _, ok := s.(*protocol.Loop); !ok {
			nonLoop = append(nonLoop, i)
		}
	}
	assert.Equal(t, nonLoop, tree.Leaves())
}

func TestBuildPanicsOnUnresolvedInput(t *testing.T) {
	assert.Panics(t, func() {
		plan.Build(protocol.Method{&protocol.Tag{Name: "a"}, rest()})
	})
	assert.Panics(t, func() {
		plan.Build(protocol.Method{
			rest(),
			&protocol.Loop{LoopTo: protocol.TargetTag("a"), CycleCount: 2},
		})
	})
	assert.Panics(t, func() {
		plan.Build(protocol.Method{})
	})
	assert.Panics(t, func() {
		plan.Build(protocol.Method{rest(), nil})
	})
}
