// Package layout places the pipeline graph for drawing.
//
// The [Engine] turns a [model.Snapshot] into a [Result]: an absolute position
// and size for every node and bin, plus a route for every resolved edge.
// Layers run left to right along X; items of a layer stack along Y.
//
// # Pipeline
//
// Each container (the top level and every bin) is laid out on its own, with
// bins innermost first so a bin's size encloses its content. Edges crossing
// bin boundaries are lifted to the lowest container holding both ends. Each
// level is split into connected components, and each component runs the
// [transform] pipeline: cycle breaking, longest-path layering, subdivision
// of long edges and median ordering seeded with the previous order.
//
// # Incrementality
//
// Only topological changes mark the engine dirty; attribute updates keep the
// cached result. Component placements are cached by a hash of their members,
// size hints and edges, so a change in one component leaves the others where
// they were.
//
// # Anomalies
//
// A placement that fails its invariant checks falls back to a single layer in
// birth order. The anomaly is logged, counted and reported through the
// layout hooks; the rest of the drawing is unaffected.
package layout
