package flow_test

import (
	"testing"

	"github.com/ravi-parthasarathy/loom/pkg/flow"
)

func simpleEdges(pairs [][2]string) []*flow.EdgeSpec {
	var edges []*flow.EdgeSpec
	for _, p := range pairs {
		edges = append(edges, &flow.EdgeSpec{Kind: flow.EdgeSimple, From: p[0], To: p[1]})
	}
	return edges
}

func TestDetectCycles_MarksOnlyCycleMembers(t *testing.T) {
	// START -> a -> b -> c -> b, c -> END. The cycle is {b, c}; a is an
	// acyclic ancestor and must not be marked.
	edges := simpleEdges([][2]string{
		{flow.Start, "a"},
		{"a", "b"},
		{"b", "c"},
		{"c", "b"},
		{"c", flow.End},
	})
	got := flow.DetectCycles(edges)
	want := map[string]bool{"b": true, "c": true}
	if len(got) != len(want) {
		t.Fatalf("cycle set = %v, want %v", got, want)
	}
	for n := range want {
		if !got[n] {
			t.Errorf("node %q missing from cycle set %v", n, got)
		}
	}
}

func TestDetectCycles_AcyclicGraph(t *testing.T) {
	edges := simpleEdges([][2]string{
		{flow.Start, "a"},
		{"a", "b"},
		{"a", "c"},
		{"b", flow.End},
		{"c", flow.End},
	})
	if got := flow.DetectCycles(edges); len(got) != 0 {
		t.Errorf("cycle set = %v, want empty", got)
	}
}

func TestDetectCycles_SelfLoop(t *testing.T) {
	edges := simpleEdges([][2]string{
		{flow.Start, "a"},
		{"a", "a"},
		{"a", flow.End},
	})
	got := flow.DetectCycles(edges)
	if !got["a"] || len(got) != 1 {
		t.Errorf("cycle set = %v, want {a}", got)
	}
}

func TestDetectCycles_ConditionalTargets(t *testing.T) {
	edges := []*flow.EdgeSpec{
		{Kind: flow.EdgeSimple, From: flow.Start, To: "router"},
		{Kind: flow.EdgeConditional, From: "router", Targets: []string{"work", flow.End}},
		{Kind: flow.EdgeSimple, From: "work", To: "router"},
	}
	got := flow.DetectCycles(edges)
	if !got["router"] || !got["work"] {
		t.Errorf("cycle set = %v, want {router, work}", got)
	}
}
