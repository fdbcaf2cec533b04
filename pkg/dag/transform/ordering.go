package transform

import (
	"cmp"
	"slices"

	"github.com/matzehuels/pipescope/pkg/dag"
	"github.com/matzehuels/pipescope/pkg/ecs"
)

// DefaultPasses is the number of ordering sweeps run by [OrderRows].
const DefaultPasses = 4

// Seed returns the previous ordinal of a node within its row, if it had one.
type Seed func(id ecs.Entity) (ordinal int, ok bool)

// OrderRows orders the nodes within each row to reduce edge crossings and
// returns the order of every row.
//
// Rows start from the seed order: nodes with a previous ordinal first, by
// that ordinal, then the rest by Key. Then passes sweeps alternate downward
// (ordering each row by its parents) and upward (by its children). Each node
// is ranked by the median position of its neighbors in the adjacent row;
// nodes without neighbors keep their current position as rank, and ties keep
// the current relative order. A sweep is kept only if it does not increase
// the total crossing count, so the result is never worse than the seed.
//
// g must be layered with consecutive-row edges, see [Normalize]. OrderRows is
// deterministic for a given graph and seed.
func OrderRows(g *dag.DAG, seed Seed, passes int) map[int][]ecs.Entity {
	orders := make(map[int][]ecs.Entity, g.RowCount())
	for _, row := range g.RowIDs() {
		orders[row] = seedOrder(g.NodesInRow(row), seed)
	}
	if passes <= 0 {
		return orders
	}

	rows := g.RowIDs()
	best := dag.CountCrossings(g, orders)
	for pass := range passes {
		if best == 0 {
			break
		}
		candidate := cloneOrders(orders)
		if pass%2 == 0 {
			for i := 1; i < len(rows); i++ {
				sortRow(candidate, rows[i], rows[i-1], g.Parents)
			}
		} else {
			for i := len(rows) - 2; i >= 0; i-- {
				sortRow(candidate, rows[i], rows[i+1], g.Children)
			}
		}
		if c := dag.CountCrossings(g, candidate); c <= best {
			orders, best = candidate, c
		}
	}
	return orders
}

func seedOrder(nodes []*dag.Node, seed Seed) []ecs.Entity {
	type entry struct {
		n       *dag.Node
		ordinal int
		known   bool
	}
	entries := make([]entry, len(nodes))
	for i, n := range nodes {
		entries[i].n = n
		if seed != nil && !n.IsSubdivider() {
			entries[i].ordinal, entries[i].known = seed(n.ID)
		}
	}
	slices.SortFunc(entries, func(a, b entry) int {
		switch {
		case a.known && !b.known:
			return -1
		case !a.known && b.known:
			return 1
		case a.known && b.known && a.ordinal != b.ordinal:
			return cmp.Compare(a.ordinal, b.ordinal)
		}
		return dag.CompareNodes(a.n, b.n)
	})
	ids := make([]ecs.Entity, len(entries))
	for i, e := range entries {
		ids[i] = e.n.ID
	}
	return ids
}

func sortRow(orders map[int][]ecs.Entity, row, adj int, neighbors func(ecs.Entity) []ecs.Entity) {
	adjPos := dag.PosMap(orders[adj])
	ids := orders[row]
	rank := make(map[ecs.Entity]float64, len(ids))
	cur := dag.PosMap(ids)
	for _, id := range ids {
		if m, ok := median(neighbors(id), adjPos); ok {
			rank[id] = m
		} else {
			rank[id] = float64(cur[id])
		}
	}
	slices.SortStableFunc(ids, func(a, b ecs.Entity) int {
		if c := cmp.Compare(rank[a], rank[b]); c != 0 {
			return c
		}
		return cmp.Compare(cur[a], cur[b])
	})
}

// median returns the median position of the neighbors present in pos. For an
// even count it is the mean of the two middle positions.
func median(neighbors []ecs.Entity, pos map[ecs.Entity]int) (float64, bool) {
	ps := make([]int, 0, len(neighbors))
	for _, n := range neighbors {
		if p, ok := pos[n]; ok {
			ps = append(ps, p)
		}
	}
	if len(ps) == 0 {
		return 0, false
	}
	slices.Sort(ps)
	mid := len(ps) / 2
	if len(ps)%2 == 1 {
		return float64(ps[mid]), true
	}
	return float64(ps[mid-1]+ps[mid]) / 2, true
}

func cloneOrders(orders map[int][]ecs.Entity) map[int][]ecs.Entity {
	out := make(map[int][]ecs.Entity, len(orders))
	for row, ids := range orders {
		out[row] = slices.Clone(ids)
	}
	return out
}
