// Package transform turns an arbitrary directed graph into an ordered layered
// graph, following the classic Sugiyama pipeline.
//
// # Overview
//
// Pipeline topologies are not DAGs: feedback loops are common. The layout
// engine builds a [dag.DAG] per connected component and runs:
//
//  1. [BreakCycles] reverses DFS back edges so the graph becomes acyclic.
//     Reversed edges are reported so renderers can draw them as feedback.
//  2. [AssignLayers] places every node at its longest-path distance from a
//     source, so every edge points from a lower row to a higher one.
//  3. [Subdivide] replaces edges spanning several rows with chains of
//     subdivider nodes, leaving only consecutive-row edges.
//  4. [OrderRows] orders each row with median sweeps, keeping a sweep only if
//     it does not increase the crossing count.
//
// [Normalize] runs steps 1 to 3.
//
// # Determinism
//
// Every step breaks ties by [dag.Node.Key], normally the birth order of the
// entity. The same graph with the same keys always yields the same rows and
// orders, which keeps the picture from shuffling on relayout.
//
// # Usage
//
//	reversed := transform.Normalize(g)
//	orders := transform.OrderRows(g, nil, transform.DefaultPasses)
package transform
