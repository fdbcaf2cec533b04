package transform

import (
	"slices"
	"testing"

	"github.com/matzehuels/pipescope/pkg/dag"
	"github.com/matzehuels/pipescope/pkg/ecs"
)

func rowOf(t *testing.T, g *dag.DAG, id ecs.Entity) int {
	t.Helper()
	n, ok := g.Node(id)
	if !ok {
		t.Fatalf("node %d missing", id)
	}
	return n.Row
}

func TestAssignLayers_LongestPath(t *testing.T) {
	// 1 → 2 → 3 and 1 → 3: 3 sits below 2.
	g := build(3, [2]int{1, 2}, [2]int{2, 3}, [2]int{1, 3})
	AssignLayers(g)

	want := map[ecs.Entity]int{1: 0, 2: 1, 3: 2}
	for id, row := range want {
		if got := rowOf(t, g, id); got != row {
			t.Errorf("row(%d) = %d, want %d", id, got, row)
		}
	}
}

func TestAssignLayers_Isolated(t *testing.T) {
	g := build(2)
	AssignLayers(g)
	if rowOf(t, g, 1) != 0 || rowOf(t, g, 2) != 0 {
		t.Error("isolated nodes should sit in row 0")
	}
}

func TestNormalize_Triangle(t *testing.T) {
	g := build(3, [2]int{1, 2}, [2]int{2, 3}, [2]int{3, 1})

	reversed := Normalize(g)

	if len(reversed) != 1 {
		t.Fatalf("reversed %d edges, want 1", len(reversed))
	}
	rows := []int{rowOf(t, g, 1), rowOf(t, g, 2), rowOf(t, g, 3)}
	if !slices.Equal(rows, []int{0, 1, 2}) {
		t.Errorf("rows = %v, want [0 1 2]", rows)
	}
	if err := g.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestSubdivide(t *testing.T) {
	g := build(3, [2]int{1, 2}, [2]int{2, 3}, [2]int{1, 3})
	AssignLayers(g)
	Subdivide(g)

	if err := g.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if g.NodeCount() != 4 {
		t.Fatalf("NodeCount() = %d, want 4", g.NodeCount())
	}
	subs := g.NodesInRow(1)
	var sub *dag.Node
	for _, n := range subs {
		if n.IsSubdivider() {
			sub = n
		}
	}
	if sub == nil {
		t.Fatal("no subdivider in row 1")
	}
	if sub.MasterID != 1 || sub.Target != 3 || sub.Key != 1 {
		t.Errorf("subdivider = %+v, want master 1, target 3, key 1", sub)
	}
	if g.HasEdge(1, 3) {
		t.Error("long edge not removed")
	}
}

func TestSubdivide_ReversedKeepsOrientation(t *testing.T) {
	// 1 → 2 → 3 → 4 with feedback 4 → 1.
	g := build(4, [2]int{1, 2}, [2]int{2, 3}, [2]int{3, 4}, [2]int{4, 1})
	Normalize(g)

	var subs []*dag.Node
	for _, n := range g.Nodes() {
		if n.IsSubdivider() {
			subs = append(subs, n)
		}
	}
	if len(subs) != 2 {
		t.Fatalf("subdividers = %d, want 2", len(subs))
	}
	for _, s := range subs {
		if s.MasterID != 4 || s.Target != 1 {
			t.Errorf("subdivider %+v, want master 4 and target 1", s)
		}
	}
	n := 0
	for _, e := range g.Edges() {
		if e.Reversed {
			n++
		}
	}
	if n != 3 {
		t.Errorf("reversed segments = %d, want 3", n)
	}
}
