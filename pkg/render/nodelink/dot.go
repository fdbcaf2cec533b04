package nodelink

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/matzehuels/pipescope/pkg/graph"
	"github.com/matzehuels/pipescope/pkg/layout"
)

// Options configures node-link diagram rendering.
type Options struct {
	// Detailed includes the factory, state and properties in node labels.
	// When false, only the node name is shown.
	Detailed bool
}

// stateColors maps node states to fill colors.
var stateColors = map[string]string{
	"null":    "white",
	"ready":   "lightyellow",
	"paused":  "lightblue",
	"playing": "palegreen",
	"pending": "khaki",
	"done":    "lightgrey",
	"failed":  "salmon",
}

// ToDOT converts a scene to Graphviz DOT format for node-link visualization.
// The resulting DOT string can be rendered using [RenderSVG].
//
// Every item is pinned at its computed position, so Graphviz only draws the
// edges. Coordinates are converted from the layout's top-left origin to
// Graphviz's bottom-left origin. Bins are emitted before nodes, outermost
// first, so they are drawn beneath their children.
func ToDOT(s graph.Scene, opts Options) string {
	nodes := make(map[uint64]graph.Node, len(s.Topology.Nodes))
	for _, n := range s.Topology.Nodes {
		nodes[n.ID] = n
	}
	owners := make(map[uint64]uint64, len(s.Topology.Ports))
	for _, p := range s.Topology.Ports {
		owners[p.ID] = p.Owner
	}

	var buf bytes.Buffer
	buf.WriteString("digraph G {\n")
	buf.WriteString("  layout=neato;\n")
	buf.WriteString("  inputscale=72;\n")
	buf.WriteString("  splines=true;\n")
	buf.WriteString("  overlap=true;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=12, fixedsize=true, pin=true];\n")
	buf.WriteString("  edge [arrowsize=0.7];\n")
	buf.WriteString("\n")

	res := s.Layout
	if res == nil {
		res = &layout.Result{}
	}
	laid := make(map[uint64]bool, len(res.Items))
	for _, it := range drawOrder(res.Items) {
		laid[uint64(it.ID)] = true
		n := nodes[uint64(it.ID)]
		attrs := fmtAttrs(it, n, res.Height, opts.Detailed)
		fmt.Fprintf(&buf, "  %q [%s];\n", id(uint64(it.ID)), strings.Join(attrs, ", "))
	}

	buf.WriteString("\n")
	for _, r := range res.Routes {
		src, dst := uint64(r.Source), uint64(r.Target)
		if !laid[src] || !laid[dst] {
			continue
		}
		var attrs []string
		if r.Feedback {
			attrs = append(attrs, "style=dashed", "color=grey40")
		}
		fmt.Fprintf(&buf, "  %q -> %q%s;\n", id(src), id(dst), fmtList(attrs))
	}
	for _, p := range s.Topology.Pending {
		src, ok1 := owners[p.Output]
		dst, ok2 := owners[p.Input]
		if !ok1 || !ok2 || !laid[src] || !laid[dst] {
			continue
		}
		attrs := []string{"style=dotted", "color=red", fmt.Sprintf("label=%q", p.Reason), "fontsize=9"}
		fmt.Fprintf(&buf, "  %q -> %q%s;\n", id(src), id(dst), fmtList(attrs))
	}

	buf.WriteString("}\n")
	return buf.String()
}

func id(v uint64) string { return "n" + strconv.FormatUint(v, 10) }

func fmtList(attrs []string) string {
	if len(attrs) == 0 {
		return ""
	}
	return " [" + strings.Join(attrs, ", ") + "]"
}

// drawOrder returns bins by decreasing area, then nodes in layout order.
func drawOrder(items []layout.Item) []layout.Item {
	out := slices.Clone(items)
	slices.SortStableFunc(out, func(a, b layout.Item) int {
		if a.IsBin != b.IsBin {
			if a.IsBin {
				return -1
			}
			return 1
		}
		if a.IsBin {
			return cmp.Compare(b.Size.W*b.Size.H, a.Size.W*a.Size.H)
		}
		return 0
	})
	return out
}

func fmtLabel(it layout.Item, n graph.Node, detailed bool) string {
	name := n.Name
	if name == "" {
		name = strconv.FormatUint(uint64(it.ID), 10)
	}
	if !detailed || it.IsBin {
		return name
	}

	var parts []string
	if n.Factory != "" {
		parts = append(parts, n.Factory)
	}
	parts = append(parts, "state: "+n.State)
	for _, k := range slices.Sorted(maps.Keys(n.Properties)) {
		parts = append(parts, fmt.Sprintf("%s: %s", k, n.Properties[k]))
	}
	return name + "\n" + strings.Join(parts, "\n")
}

func fmtAttrs(it layout.Item, n graph.Node, height float64, detailed bool) []string {
	cx := it.Position.X + it.Size.W/2
	cy := height - (it.Position.Y + it.Size.H/2)
	attrs := []string{
		fmt.Sprintf("label=%q", fmtLabel(it, n, detailed)),
		fmt.Sprintf("pos=\"%.2f,%.2f!\"", cx, cy),
		fmt.Sprintf("width=%.4f", it.Size.W/72),
		fmt.Sprintf("height=%.4f", it.Size.H/72),
	}
	switch {
	case it.IsBin:
		attrs = append(attrs, "style=\"rounded,dashed\"", "labelloc=t", "fontcolor=grey30")
	case it.Fallback:
		attrs = append(attrs, "style=\"rounded,filled,bold\"", "color=red")
	}
	if !it.IsBin {
		if c, ok := stateColors[n.State]; ok {
			attrs = append(attrs, "fillcolor="+c)
		}
	}
	return attrs
}

// RenderSVG renders a DOT graph to SVG using Graphviz.
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return normalizeViewBox(buf.Bytes()), nil
}

var (
	svgTagRe  = regexp.MustCompile(`<svg[^>]*>`)
	viewBoxRe = regexp.MustCompile(`viewBox="([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)"`)
)

// normalizeViewBox replaces Graphviz's fixed pt dimensions with a viewBox
// sized root element, so the SVG scales in a browser.
func normalizeViewBox(svg []byte) []byte {
	match := viewBoxRe.FindSubmatch(svg)
	if match == nil {
		return svg
	}

	w, _ := strconv.ParseFloat(string(match[3]), 64)
	h, _ := strconv.ParseFloat(string(match[4]), 64)
	if w == 0 || h == 0 {
		return svg
	}

	root := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %.2f %.2f" width="%.0f" height="%.0f">`,
		w, h, w, h)
	return svgTagRe.ReplaceAll(svg, []byte(root))
}
