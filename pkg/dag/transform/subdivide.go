package transform

import "github.com/matzehuels/pipescope/pkg/dag"

// Subdivide replaces every edge spanning more than one row with a chain of
// single-row edges through synthetic subdivider nodes:
//
//	src (row 0) → mux (row 3)
//	src → s1 → s2 → mux
//
// A subdivider remembers the edge it stands on (MasterID, Target, in
// original orientation) and takes the Key of the node the chain leaves, so
// it orders next to it. Segments keep the Reversed flag of the edge. IDs
// come from [dag.DAG.SyntheticID].
//
// Rows must already be assigned, see [AssignLayers].
func Subdivide(g *dag.DAG) {
	type span struct {
		e        dag.Edge
		src, dst *dag.Node
	}
	var long []span
	for _, e := range g.Edges() {
		src, ok1 := g.Node(e.From)
		dst, ok2 := g.Node(e.To)
		if ok1 && ok2 && dst.Row-src.Row > 1 {
			long = append(long, span{e, src, dst})
		}
	}

	for _, sp := range long {
		g.RemoveEdge(sp.e.From, sp.e.To)
		chain(g, sp.e, sp.src, sp.dst)
	}
}

// chain links src to dst through one subdivider per intermediate row.
func chain(g *dag.DAG, e dag.Edge, src, dst *dag.Node) {
	master, target := src.ID, dst.ID
	if e.Reversed {
		master, target = dst.ID, src.ID
	}
	prev := src.ID
	for row := src.Row + 1; row < dst.Row; row++ {
		id := g.SyntheticID()
		must(g.AddNode(dag.Node{
			ID:       id,
			Key:      src.Key,
			Row:      row,
			Kind:     dag.NodeKindSubdivider,
			MasterID: master,
			Target:   target,
		}))
		must(g.AddEdge(dag.Edge{From: prev, To: id, Reversed: e.Reversed}))
		prev = id
	}
	must(g.AddEdge(dag.Edge{From: prev, To: dst.ID, Reversed: e.Reversed}))
}

// must panics on errors that only a corrupted graph could produce.
func must(err error) {
	if err != nil {
		panic(err)
	}
}
