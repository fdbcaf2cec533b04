package transform

import (
	"github.com/matzehuels/pipescope/pkg/dag"
	"github.com/matzehuels/pipescope/pkg/ecs"
)

// AssignLayers places every node one row below its deepest parent (longest
// path layering), so sources sit on row 0 and every edge points downward.
// Existing rows are overwritten.
//
// Nodes are visited in topological order (Kahn). On a cyclic graph the
// nodes of a cycle are never released and keep row 0; run [BreakCycles]
// first. Runs in O(V + E).
func AssignLayers(g *dag.DAG) {
	nodes := g.Nodes()
	rows := make(map[ecs.Entity]int, len(nodes))
	waiting := make(map[ecs.Entity]int, len(nodes))

	var ready []ecs.Entity
	for _, n := range nodes {
		rows[n.ID] = 0
		if d := g.InDegree(n.ID); d > 0 {
			waiting[n.ID] = d
		} else {
			ready = append(ready, n.ID)
		}
	}

	for i := 0; i < len(ready); i++ {
		u := ready[i]
		for _, c := range g.Children(u) {
			rows[c] = max(rows[c], rows[u]+1)
			if waiting[c]--; waiting[c] == 0 {
				ready = append(ready, c)
			}
		}
	}

	g.SetRows(rows)
}
