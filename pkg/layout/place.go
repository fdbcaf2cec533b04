package layout

import (
	"cmp"
	"encoding/binary"
	"math"
	"slices"

	"github.com/cespare/xxhash/v2"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/matzehuels/pipescope/pkg/components"
	"github.com/matzehuels/pipescope/pkg/dag"
	"github.com/matzehuels/pipescope/pkg/dag/transform"
	"github.com/matzehuels/pipescope/pkg/ecs"
	perrors "github.com/matzehuels/pipescope/pkg/errors"
)

// pair is a lifted edge between two items of one level.
type pair struct{ from, to ecs.Entity }

func comparePairs(a, b pair) int {
	if c := cmp.Compare(a.from, b.from); c != 0 {
		return c
	}
	return cmp.Compare(a.to, b.to)
}

// member is an item taking part in the layout of one level.
type member struct {
	id   ecs.Entity
	born uint64
	size components.Size
}

func byBirth(a, b member) int {
	if c := cmp.Compare(a.born, b.born); c != 0 {
		return c
	}
	return cmp.Compare(a.id, b.id)
}

type slot struct {
	layer, order int
	pos          components.Position
}

// placement is the layout of one connected component in local coordinates.
// Placements are cached by topology signature and never modified.
type placement struct {
	slots    map[ecs.Entity]slot
	routes   map[pair][]components.Position
	feedback map[pair]bool
	width    float64
	height   float64
	anomaly  string // set for fallback placements
	// sizes replaces member sizes that could not be drawn. Only fallback
	// placements set it.
	sizes map[ecs.Entity]components.Size
}

// splitComponents partitions the members of a level into connected
// components. Components and their members are sorted by birth.
func splitComponents(members []member, edges []pair) ([][]member, [][]pair) {
	idx := make(map[ecs.Entity]int64, len(members))
	g := simple.NewUndirectedGraph()
	for i, m := range members {
		idx[m.id] = int64(i)
		g.AddNode(simple.Node(int64(i)))
	}
	for _, e := range edges {
		a, b := idx[e.from], idx[e.to]
		if a == b || g.HasEdgeBetween(a, b) {
			continue
		}
		g.SetEdge(g.NewEdge(simple.Node(a), simple.Node(b)))
	}

	var comps [][]member
	for _, c := range topo.ConnectedComponents(g) {
		ms := make([]member, len(c))
		for i, n := range c {
			ms[i] = members[n.ID()]
		}
		slices.SortFunc(ms, byBirth)
		comps = append(comps, ms)
	}
	slices.SortFunc(comps, func(a, b []member) int { return byBirth(a[0], b[0]) })

	compOf := make(map[ecs.Entity]int, len(members))
	for ci, c := range comps {
		for _, m := range c {
			compOf[m.id] = ci
		}
	}
	compEdges := make([][]pair, len(comps))
	for _, e := range edges {
		ci := compOf[e.from]
		compEdges[ci] = append(compEdges[ci], e)
	}
	return comps, compEdges
}

// signature hashes everything a placement depends on: member ids, birth
// keys, size hints and edges.
func signature(ms []member, es []pair) uint64 {
	h := xxhash.New()
	var buf [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	put(uint64(len(ms)))
	for _, m := range ms {
		put(uint64(m.id))
		put(m.born)
		put(math.Float64bits(m.size.W))
		put(math.Float64bits(m.size.H))
	}
	sorted := slices.Clone(es)
	slices.SortFunc(sorted, comparePairs)
	put(uint64(len(sorted)))
	for _, e := range sorted {
		put(uint64(e.from))
		put(uint64(e.to))
	}
	return h.Sum64()
}

// place lays out one connected component. Any failure, including a panic in
// the layered pipeline, is returned as an ErrCodeLayoutInvariant error.
func place(ms []member, es []pair, cfg Config, seed transform.Seed) (p *placement, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, perrors.New(perrors.ErrCodeLayoutInvariant, "layout panicked: %v", r)
		}
	}()

	g := dag.New()
	sizes := make(map[ecs.Entity]components.Size, len(ms))
	for _, m := range ms {
		if drawable(m.size) != m.size {
			return nil, perrors.New(perrors.ErrCodeLayoutInvariant, "item %d has size %vx%v", m.id, m.size.W, m.size.H)
		}
		if err := g.AddNode(dag.Node{ID: m.id, Key: m.born}); err != nil {
			return nil, perrors.Wrap(perrors.ErrCodeLayoutInvariant, err, "add item %d", m.id)
		}
		sizes[m.id] = m.size
	}
	for _, e := range es {
		if err := g.AddEdge(dag.Edge{From: e.from, To: e.to}); err != nil {
			return nil, perrors.Wrap(perrors.ErrCodeLayoutInvariant, err, "add edge %d→%d", e.from, e.to)
		}
	}

	reversed := transform.Normalize(g)
	if err := g.Validate(); err != nil {
		return nil, perrors.Wrap(perrors.ErrCodeLayoutInvariant, err, "layered graph")
	}
	orders := transform.OrderRows(g, seed, cfg.Passes)
	if err := checkOrders(g, orders); err != nil {
		return nil, err
	}

	pos := coordinates(g, orders, sizes, cfg)
	if err := checkOverlap(orders, pos, sizes); err != nil {
		return nil, err
	}

	p = &placement{
		slots:    make(map[ecs.Entity]slot, len(ms)),
		routes:   make(map[pair][]components.Position),
		feedback: make(map[pair]bool, len(reversed)),
	}
	for _, row := range g.RowIDs() {
		ord := 0
		for _, id := range orders[row] {
			sz, ok := sizes[id]
			if !ok {
				continue
			}
			pt := pos[id]
			p.slots[id] = slot{layer: row, order: ord, pos: pt}
			p.width = max(p.width, pt.X+sz.W)
			p.height = max(p.height, pt.Y+sz.H)
			ord++
		}
	}
	for _, e := range reversed {
		p.feedback[pair{e.From, e.To}] = true
	}

	bends := make(map[pair][]*dag.Node)
	for _, n := range g.Nodes() {
		if n.IsSubdivider() {
			k := pair{n.MasterID, n.Target}
			bends[k] = append(bends[k], n)
		}
	}
	for k, chain := range bends {
		slices.SortFunc(chain, func(a, b *dag.Node) int { return cmp.Compare(a.Row, b.Row) })
		if p.feedback[k] {
			slices.Reverse(chain)
		}
		pts := make([]components.Position, len(chain))
		for i, n := range chain {
			pts[i] = pos[n.ID]
		}
		p.routes[k] = pts
	}
	return p, nil
}

// coordinates places layers along X and stacks each layer along Y. Items
// are pulled toward the mean center of their parents, never overlapping the
// item above. Subdividers have zero size. The result is shifted so the
// smallest Y is zero.
func coordinates(g *dag.DAG, orders map[int][]ecs.Entity, sizes map[ecs.Entity]components.Size, cfg Config) map[ecs.Entity]components.Position {
	rows := g.RowIDs()
	rowWidth := make(map[int]float64, len(rows))
	for _, r := range rows {
		for _, id := range orders[r] {
			rowWidth[r] = max(rowWidth[r], sizes[id].W)
		}
	}
	rowX := make(map[int]float64, len(rows))
	x := 0.0
	for i, r := range rows {
		if i > 0 {
			x += cfg.LayerGap
		}
		rowX[r] = x
		x += rowWidth[r]
	}

	pos := make(map[ecs.Entity]components.Position, g.NodeCount())
	for _, r := range rows {
		first := true
		bottom := 0.0
		for _, id := range orders[r] {
			sz := sizes[id]
			y := 0.0
			if c, ok := parentCenter(g, id, pos, sizes); ok {
				y = c - sz.H/2
			} else if !first {
				y = bottom + cfg.NodeGap
			}
			if !first {
				y = max(y, bottom+cfg.NodeGap)
			}
			pos[id] = components.Position{X: rowX[r] + (rowWidth[r]-sz.W)/2, Y: y}
			bottom = y + sz.H
			first = false
		}
	}

	minY := math.Inf(1)
	for _, p := range pos {
		minY = min(minY, p.Y)
	}
	if len(pos) > 0 && minY != 0 {
		for id, p := range pos {
			p.Y -= minY
			pos[id] = p
		}
	}
	return pos
}

func parentCenter(g *dag.DAG, id ecs.Entity, pos map[ecs.Entity]components.Position, sizes map[ecs.Entity]components.Size) (float64, bool) {
	sum, n := 0.0, 0
	for _, p := range g.Parents(id) {
		pt, ok := pos[p]
		if !ok {
			continue
		}
		sum += pt.Y + sizes[p].H/2
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// checkOrders verifies that every node appears exactly once, in its own row.
func checkOrders(g *dag.DAG, orders map[int][]ecs.Entity) error {
	seen := make(map[ecs.Entity]bool, g.NodeCount())
	for row, ids := range orders {
		for _, id := range ids {
			n, ok := g.Node(id)
			if !ok || n.Row != row || seen[id] {
				return perrors.New(perrors.ErrCodeLayoutInvariant, "node %d misplaced in row %d", id, row)
			}
			seen[id] = true
		}
	}
	if len(seen) != g.NodeCount() {
		return perrors.New(perrors.ErrCodeLayoutInvariant, "ordered %d of %d nodes", len(seen), g.NodeCount())
	}
	return nil
}

// checkOverlap verifies that consecutive items of a layer do not overlap.
func checkOverlap(orders map[int][]ecs.Entity, pos map[ecs.Entity]components.Position, sizes map[ecs.Entity]components.Size) error {
	const eps = 1e-6
	for row, ids := range orders {
		for i := 1; i < len(ids); i++ {
			a, b := ids[i-1], ids[i]
			if pos[a].Y+sizes[a].H > pos[b].Y+eps {
				return perrors.New(perrors.ErrCodeLayoutInvariant, "items %d and %d overlap in layer %d", a, b, row)
			}
		}
		for _, id := range ids {
			if p := pos[id]; p.X < 0 || p.Y < 0 || math.IsNaN(p.X) || math.IsNaN(p.Y) {
				return perrors.New(perrors.ErrCodeLayoutInvariant, "item %d at invalid position %+v", id, p)
			}
		}
	}
	return nil
}

// fallback is the degenerate layout: one layer, birth order, stacked.
func fallback(ms []member, cfg Config, cause error) *placement {
	p := &placement{
		slots:   make(map[ecs.Entity]slot, len(ms)),
		anomaly: cause.Error(),
	}
	y := 0.0
	for i, m := range ms {
		if i > 0 {
			y += cfg.NodeGap
		}
		sz := drawable(m.size)
		if sz != m.size {
			if p.sizes == nil {
				p.sizes = make(map[ecs.Entity]components.Size)
			}
			p.sizes[m.id] = sz
		}
		p.slots[m.id] = slot{layer: 0, order: i, pos: components.Position{X: 0, Y: y}}
		y += sz.H
		p.width = max(p.width, sz.W)
	}
	p.height = y
	return p
}

// drawable zeroes NaN, infinite and negative dimensions.
func drawable(sz components.Size) components.Size {
	fix := func(v float64) float64 {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return 0
		}
		return v
	}
	return components.Size{W: fix(sz.W), H: fix(sz.H)}
}
