package transform

import (
	"slices"
	"testing"

	"github.com/matzehuels/pipescope/pkg/dag"
	"github.com/matzehuels/pipescope/pkg/ecs"
)

func ids(v ...int) []ecs.Entity {
	out := make([]ecs.Entity, len(v))
	for i, x := range v {
		out[i] = ecs.Entity(x)
	}
	return out
}

func TestOrderRows_RemovesCrossing(t *testing.T) {
	// Sources 1, 2 wired crosswise to 3, 4.
	g := build(4, [2]int{1, 4}, [2]int{2, 3})
	Normalize(g)

	orders := OrderRows(g, nil, DefaultPasses)

	if c := dag.CountCrossings(g, orders); c != 0 {
		t.Errorf("crossings = %d, want 0 (orders %v)", c, orders)
	}
	if !slices.Equal(orders[0], ids(1, 2)) {
		t.Errorf("row 0 = %v, want [1 2]", orders[0])
	}
	if !slices.Equal(orders[1], ids(4, 3)) {
		t.Errorf("row 1 = %v, want [4 3]", orders[1])
	}
}

func TestOrderRows_Deterministic(t *testing.T) {
	edges := [][2]int{{1, 5}, {2, 4}, {3, 6}, {1, 6}, {2, 5}, {4, 7}, {5, 8}, {6, 7}}
	g := build(8, edges...)
	Normalize(g)
	first := OrderRows(g, nil, DefaultPasses)

	for range 5 {
		h := build(8, edges...)
		Normalize(h)
		again := OrderRows(h, nil, DefaultPasses)
		for row, want := range first {
			if !slices.Equal(again[row], want) {
				t.Fatalf("row %d = %v, first run %v", row, again[row], want)
			}
		}
	}
}

func TestOrderRows_NeverWorseThanSeed(t *testing.T) {
	g := build(6, [2]int{1, 4}, [2]int{1, 6}, [2]int{2, 5}, [2]int{3, 4}, [2]int{3, 6})
	Normalize(g)
	seeded := OrderRows(g, nil, 0)
	ordered := OrderRows(g, nil, DefaultPasses)
	if dag.CountCrossings(g, ordered) > dag.CountCrossings(g, seeded) {
		t.Errorf("ordering increased crossings: %d > %d",
			dag.CountCrossings(g, ordered), dag.CountCrossings(g, seeded))
	}
}

func TestOrderRows_Seed(t *testing.T) {
	// Three unconnected nodes: only the seed decides.
	g := build(3)
	Normalize(g)
	prior := map[ecs.Entity]int{3: 0, 1: 1}
	seed := func(id ecs.Entity) (int, bool) {
		o, ok := prior[id]
		return o, ok
	}
	orders := OrderRows(g, seed, DefaultPasses)
	if want := ids(3, 1, 2); !slices.Equal(orders[0], want) {
		t.Errorf("row 0 = %v, want %v", orders[0], want)
	}
}

func TestMedian(t *testing.T) {
	pos := map[ecs.Entity]int{1: 0, 2: 3, 3: 4, 4: 10}
	tests := []struct {
		in   []ecs.Entity
		want float64
		ok   bool
	}{
		{ids(), 0, false},
		{ids(9), 0, false},
		{ids(2), 3, true},
		{ids(1, 2, 4), 3, true},
		{ids(1, 2, 3, 4), 3.5, true},
	}
	for _, tt := range tests {
		got, ok := median(tt.in, pos)
		if got != tt.want || ok != tt.ok {
			t.Errorf("median(%v) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
