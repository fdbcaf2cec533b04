package dag_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/matzehuels/pipescope/pkg/dag"
	"github.com/matzehuels/pipescope/pkg/ecs"
)

func ecsID(i int) ecs.Entity { return ecs.Entity(i) }

func dagIDs(ids ...int) []ecs.Entity {
	out := make([]ecs.Entity, len(ids))
	for i, id := range ids {
		out[i] = ecs.Entity(id)
	}
	return out
}

func TestAddNode_Errors(t *testing.T) {
	g := dag.New()
	if err := g.AddNode(dag.Node{}); !errors.Is(err, dag.ErrInvalidNodeID) {
		t.Errorf("AddNode(nil id) = %v, want ErrInvalidNodeID", err)
	}
	_ = g.AddNode(dag.Node{ID: 1})
	if err := g.AddNode(dag.Node{ID: 1}); !errors.Is(err, dag.ErrDuplicateNodeID) {
		t.Errorf("AddNode(dup) = %v, want ErrDuplicateNodeID", err)
	}
}

func TestAddEdge(t *testing.T) {
	g := dag.New()
	_ = g.AddNode(dag.Node{ID: 1})
	_ = g.AddNode(dag.Node{ID: 2})

	if err := g.AddEdge(dag.Edge{From: 9, To: 1}); !errors.Is(err, dag.ErrUnknownSourceNode) {
		t.Errorf("AddEdge(unknown from) = %v", err)
	}
	if err := g.AddEdge(dag.Edge{From: 1, To: 9}); !errors.Is(err, dag.ErrUnknownTargetNode) {
		t.Errorf("AddEdge(unknown to) = %v", err)
	}
	if err := g.AddEdge(dag.Edge{From: 1, To: 1}); !errors.Is(err, dag.ErrSelfLoop) {
		t.Errorf("AddEdge(self) = %v", err)
	}
	_ = g.AddEdge(dag.Edge{From: 1, To: 2})
	_ = g.AddEdge(dag.Edge{From: 1, To: 2})
	if g.EdgeCount() != 1 {
		t.Errorf("EdgeCount() = %d after duplicate, want 1", g.EdgeCount())
	}
}

func TestReverseEdge(t *testing.T) {
	g := dag.New()
	_ = g.AddNode(dag.Node{ID: 1})
	_ = g.AddNode(dag.Node{ID: 2})
	_ = g.AddEdge(dag.Edge{From: 1, To: 2})

	g.ReverseEdge(1, 2)
	if g.HasEdge(1, 2) || !g.HasEdge(2, 1) {
		t.Fatal("ReverseEdge() did not flip the edge")
	}
	if e := g.Edges(); len(e) != 1 || !e[0].Reversed {
		t.Errorf("Edges() = %+v, want one reversed edge", e)
	}

	// Collapses into an existing opposite edge.
	_ = g.AddNode(dag.Node{ID: 3})
	_ = g.AddEdge(dag.Edge{From: 3, To: 2})
	_ = g.AddEdge(dag.Edge{From: 2, To: 3})
	g.ReverseEdge(2, 3)
	if !g.HasEdge(3, 2) || g.HasEdge(2, 3) || g.EdgeCount() != 2 {
		t.Errorf("collapse: edges = %+v", g.Edges())
	}
}

func TestNodes_KeyOrder(t *testing.T) {
	g := dag.New()
	_ = g.AddNode(dag.Node{ID: 10, Key: 3})
	_ = g.AddNode(dag.Node{ID: 20, Key: 1})
	_ = g.AddNode(dag.Node{ID: 30, Key: 2})

	got := dag.NodeIDs(g.Nodes())
	if want := dagIDs(20, 30, 10); !slices.Equal(got, want) {
		t.Errorf("Nodes() = %v, want %v", got, want)
	}
	g.SetRows(map[ecs.Entity]int{10: 0, 20: 0, 30: 0})
	if got := dag.NodeIDs(g.NodesInRow(0)); !slices.Equal(got, dagIDs(20, 30, 10)) {
		t.Errorf("NodesInRow(0) = %v", got)
	}
}

func TestSyntheticID(t *testing.T) {
	g := dag.New()
	top := ^ecs.Entity(0)
	_ = g.AddNode(dag.Node{ID: top})
	if id := g.SyntheticID(); id != top-1 {
		t.Errorf("SyntheticID() = %d, want %d", id, top-1)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		rows  map[int]int
		edges [][2]int
		want  error
	}{
		{"valid", map[int]int{1: 0, 2: 1}, [][2]int{{1, 2}}, nil},
		{"long edge", map[int]int{1: 0, 2: 2}, [][2]int{{1, 2}}, dag.ErrNonConsecutiveRows},
		{"negative", map[int]int{1: -1, 2: 0}, [][2]int{{1, 2}}, dag.ErrNegativeRow},
		{"backward", map[int]int{1: 1, 2: 0}, [][2]int{{1, 2}}, dag.ErrNonConsecutiveRows},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := dag.New()
			for id, row := range tt.rows {
				_ = g.AddNode(dag.Node{ID: ecs.Entity(id), Row: row})
			}
			for _, e := range tt.edges {
				_ = g.AddEdge(dag.Edge{From: ecs.Entity(e[0]), To: ecs.Entity(e[1])})
			}
			if err := g.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidate_Cycle(t *testing.T) {
	g := dag.New()
	_ = g.AddNode(dag.Node{ID: 1})
	_ = g.AddNode(dag.Node{ID: 2})
	_ = g.AddEdge(dag.Edge{From: 1, To: 2})
	_ = g.AddEdge(dag.Edge{From: 2, To: 1})
	if err := g.Validate(); err == nil {
		t.Error("Validate() on a 2-cycle: expected error")
	}
}

func TestCountCrossings(t *testing.T) {
	g := dag.New()
	for id := 1; id <= 6; id++ {
		_ = g.AddNode(dag.Node{ID: ecs.Entity(id)})
	}
	_ = g.AddEdge(dag.Edge{From: 1, To: 4})
	_ = g.AddEdge(dag.Edge{From: 2, To: 3})
	_ = g.AddEdge(dag.Edge{From: 3, To: 6})
	_ = g.AddEdge(dag.Edge{From: 4, To: 5})

	orders := map[int][]ecs.Entity{
		0: dagIDs(1, 2),
		1: dagIDs(3, 4),
		2: dagIDs(5, 6),
	}
	if got := dag.CountCrossings(g, orders); got != 2 {
		t.Errorf("CountCrossings() = %d, want 2", got)
	}
	orders[1] = dagIDs(4, 3)
	if got := dag.CountCrossings(g, orders); got != 0 {
		t.Errorf("CountCrossings() after swap = %d, want 0", got)
	}
}
