// Package dag provides the layered directed graph used by the layout engine.
//
// # Overview
//
// Layout items (pipeline nodes and bins) are [Node] values keyed by their
// entity id. Nodes are organized into rows (layers) and, once the graph has
// been normalized by the [transform] package, edges connect consecutive rows
// only. That constraint is what makes crossing counting and ordering cheap.
//
// # Basic Usage
//
//	g := dag.New()
//	g.AddNode(dag.Node{ID: 1, Key: 1})
//	g.AddNode(dag.Node{ID: 3, Key: 2})
//	g.AddEdge(dag.Edge{From: 1, To: 3})
//
// Query the graph structure with [DAG.Children], [DAG.Parents] and
// [DAG.NodesInRow]. Use [DAG.Validate] to verify structural integrity before
// ordering; the layout engine runs it as its invariant check.
//
// # Stable Keys
//
// Every node carries a Key, the birth order of its entity. [DAG.Nodes],
// [DAG.Sources] and rows built by [DAG.SetRows] are sorted by Key so that
// every algorithm on top of this package is deterministic.
//
// # Node Types
//
//   - [NodeKindRegular]: layout items
//   - [NodeKindSubdivider]: synthetic nodes that break long edges into
//     segments, allocated with [DAG.SyntheticID]
//
// # Edge Crossings
//
// The [CountCrossings] and [CountLayerCrossings] functions use a Fenwick tree
// (binary indexed tree) to count inversions in O(E log V) time.
//
// # Concurrency
//
// DAG instances are not safe for concurrent use.
//
// [transform]: github.com/matzehuels/pipescope/pkg/dag/transform
package dag
