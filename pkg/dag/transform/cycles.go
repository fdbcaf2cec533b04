package transform

import (
	"slices"

	"github.com/matzehuels/pipescope/pkg/dag"
	"github.com/matzehuels/pipescope/pkg/ecs"
)

// BreakCycles makes g acyclic by reversing its DFS back edges. It returns the
// reversed edges in their original orientation.
//
// The traversal is deterministic: roots are visited sources first, then the
// remaining nodes, each in Key order, and children are visited in Key order.
// Running BreakCycles twice on equal graphs reverses the same edges.
//
// Reversed edges stay in the graph pointing the other way with
// [dag.Edge.Reversed] set, so they still influence layering and ordering.
// If the reverse edge already exists the two collapse into one.
func BreakCycles(g *dag.DAG) []dag.Edge {
	const (
		white = iota
		gray
		black
	)

	color := make(map[ecs.Entity]int, g.NodeCount())
	var backEdges []dag.Edge

	var dfs func(node ecs.Entity)
	dfs = func(node ecs.Entity) {
		color[node] = gray
		for _, child := range sortedByKey(g, g.Children(node)) {
			switch color[child] {
			case white:
				dfs(child)
			case gray:
				backEdges = append(backEdges, dag.Edge{From: node, To: child})
			}
		}
		color[node] = black
	}

	for _, n := range g.Sources() {
		if color[n.ID] == white {
			dfs(n.ID)
		}
	}

	for _, n := range g.Nodes() {
		if color[n.ID] == white {
			dfs(n.ID)
		}
	}

	for _, e := range backEdges {
		g.ReverseEdge(e.From, e.To)
	}
	return backEdges
}

func sortedByKey(g *dag.DAG, ids []ecs.Entity) []ecs.Entity {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b ecs.Entity) int {
		na, _ := g.Node(a)
		nb, _ := g.Node(b)
		return dag.CompareNodes(na, nb)
	})
	return out
}
