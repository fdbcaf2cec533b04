// Package nodelink renders a mirrored pipeline as a node-link diagram.
//
// # Overview
//
// The layout engine already decides where every node and bin goes. This
// package turns a [graph.Scene] into Graphviz DOT with every item pinned at
// its computed position, and lets Graphviz route the edges. Bins become
// dashed boxes drawn beneath their children; feedback edges are dashed and
// pending connections are dotted red with their reason as a label.
//
// # Usage
//
//	scene := graph.NewScene(view.Snapshot, view.Layout)
//	dot := nodelink.ToDOT(scene, nodelink.Options{Detailed: true})
//	svg, err := nodelink.RenderSVG(ctx, dot)
//
// The DOT output selects the neato engine itself (layout=neato), so it can
// also be rendered by the graphviz command line tools:
//
//	pipescope export --format dot | dot -Tpng > pipeline.png
//
// # Dependencies
//
// This package uses [github.com/goccy/go-graphviz] for in-process SVG
// rendering. No external binaries are needed.
package nodelink
