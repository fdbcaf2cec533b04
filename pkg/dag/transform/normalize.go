package transform

import "github.com/matzehuels/pipescope/pkg/dag"

// Normalize prepares an arbitrary directed graph for ordering: it breaks
// cycles, assigns layers and subdivides long edges. It returns the edges that
// were reversed to break cycles, in their original orientation.
func Normalize(g *dag.DAG) []dag.Edge {
	reversed := BreakCycles(g)
	AssignLayers(g)
	Subdivide(g)
	return reversed
}
