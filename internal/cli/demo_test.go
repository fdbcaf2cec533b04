package cli

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/matzehuels/pipescope/pkg/components"
	"github.com/matzehuels/pipescope/pkg/ecs"
	"github.com/matzehuels/pipescope/pkg/model"
)

func applyAll(t *testing.T, g *model.Graph, ms []ecs.Mutation) {
	t.Helper()
	for _, m := range ms {
		if _, err := g.Apply(m); err != nil {
			t.Fatalf("apply %v: %v", m, err)
		}
	}
}

func checkShape(t *testing.T, g *model.Graph, d *demo) {
	t.Helper()
	snap := g.Snapshot()
	b := len(d.branches)
	if got, want := len(snap.Nodes), 3+3*b; got != want {
		t.Errorf("nodes = %d, want %d", got, want)
	}
	if got, want := len(snap.Edges), 1+2*b; got != want {
		t.Errorf("edges = %d, want %d", got, want)
	}
	if len(snap.Pending) != 0 {
		t.Errorf("pending = %v, want none", snap.Pending)
	}
	if len(snap.Orphans()) != 0 {
		t.Errorf("orphan ports = %v", snap.Orphans())
	}
}

func TestDemo_Build(t *testing.T) {
	d := newDemo(1)
	g := model.New(ecs.NewStore(components.Registry()))
	applyAll(t, g, d.build(2))
	checkShape(t, g, d)

	snap := g.Snapshot()
	if got := len(snap.Roots); got != 1 {
		t.Errorf("roots = %d, want the pipeline bin only", got)
	}
	if got := len(snap.Bins()); got != 3 {
		t.Errorf("bins = %d, want 3", got)
	}
}

func TestDemo_StepsStayConsistent(t *testing.T) {
	d := newDemo(42)
	g := model.New(ecs.NewStore(components.Registry()))
	applyAll(t, g, d.build(1))

	for i := range 300 {
		applyAll(t, g, d.step())
		if t.Failed() {
			t.Fatalf("inconsistent after step %d", i)
		}
		checkShape(t, g, d)
		if n := len(d.branches); n < 1 || n > maxDemoBranches {
			t.Fatalf("branches = %d after step %d", n, i)
		}
	}
}

func TestDemo_Deterministic(t *testing.T) {
	a, b := newDemo(7), newDemo(7)
	if diff := cmp.Diff(a.build(2), b.build(2)); diff != "" {
		t.Fatalf("build differs (-a +b):\n%s", diff)
	}
	for range 50 {
		if diff := cmp.Diff(a.step(), b.step()); diff != "" {
			t.Fatalf("step differs (-a +b):\n%s", diff)
		}
	}
}
