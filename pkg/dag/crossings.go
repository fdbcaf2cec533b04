package dag

import (
	"cmp"
	"maps"
	"slices"

	"github.com/matzehuels/pipescope/pkg/ecs"
)

// CountCrossings sums the edge crossings between every pair of consecutive
// rows in orders. Each entry lists the nodes of one row left to right; a
// missing row counts as empty.
func CountCrossings(g *DAG, orders map[int][]ecs.Entity) int {
	total := 0
	for _, r := range slices.Sorted(maps.Keys(orders)) {
		if next, ok := orders[r+1]; ok {
			total += CountLayerCrossings(g, orders[r], next)
		}
	}
	return total
}

// CountLayerCrossings counts the crossings between the edges running from
// upper to lower.
//
// Edges (a,b) and (c,d) cross when a is left of c and b is right of d. With
// the edges sorted by upper position, that is an inversion in the sequence
// of lower positions, which a Fenwick tree counts in O(E log V).
func CountLayerCrossings(g *DAG, upper, lower []ecs.Entity) int {
	if len(upper) == 0 || len(lower) == 0 {
		return 0
	}
	at := PosMap(lower)

	type span struct{ from, to int }
	var spans []span
	for i, u := range upper {
		for _, c := range g.Children(u) {
			if j, ok := at[c]; ok {
				spans = append(spans, span{i, j})
			}
		}
	}
	if len(spans) < 2 {
		return 0
	}
	slices.SortFunc(spans, func(a, b span) int {
		return cmp.Or(cmp.Compare(a.from, b.from), cmp.Compare(a.to, b.to))
	})

	seen := newFenwick(len(lower))
	crossings := 0
	for n, s := range spans {
		crossings += n - seen.prefix(s.to)
		seen.add(s.to)
	}
	return crossings
}

// fenwick counts positions inserted so far.
type fenwick []int

func newFenwick(n int) fenwick { return make(fenwick, n+1) }

func (f fenwick) add(pos int) {
	for i := pos + 1; i < len(f); i += i & -i {
		f[i]++
	}
}

// prefix returns how many inserted positions are <= pos.
func (f fenwick) prefix(pos int) int {
	n := 0
	for i := pos + 1; i > 0; i -= i & -i {
		n += f[i]
	}
	return n
}
