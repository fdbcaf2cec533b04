package model

import (
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/matzehuels/pipescope/pkg/components"
	"github.com/matzehuels/pipescope/pkg/ecs"
	perrors "github.com/matzehuels/pipescope/pkg/errors"
)

func newGraph() *Graph {
	return New(ecs.NewStore(components.Registry()))
}

func apply(t *testing.T, g *Graph, ms ...ecs.Mutation) {
	t.Helper()
	for _, m := range ms {
		if _, err := g.Apply(m); err != nil {
			t.Fatalf("Apply(%v) error: %v", m, err)
		}
	}
}

func node(e ecs.Entity, name string) ecs.Mutation {
	return ecs.Set(e, components.Node{Name: name})
}

func port(e ecs.Entity, dir components.Direction, owner ecs.Entity) ecs.Mutation {
	return ecs.Set(e, components.Port{Direction: dir, Owner: owner})
}

func link(e, peer ecs.Entity) ecs.Mutation {
	return ecs.Set(e, components.Link{Peer: peer})
}

func parent(e, bin ecs.Entity) ecs.Mutation {
	return ecs.Set(e, components.Parent{Bin: bin})
}

func bin(e ecs.Entity, name string) []ecs.Mutation {
	return []ecs.Mutation{node(e, name), ecs.Set(e, components.Bin{})}
}

func TestScenario_UnresolvedPort(t *testing.T) {
	g := newGraph()
	apply(t, g,
		ecs.Create(1), node(1, "src"),
		ecs.Create(2), port(2, components.Output, 1),
	)
	s := g.Snapshot()

	if len(s.Nodes) != 1 || s.Nodes[0].Name != "src" {
		t.Fatalf("Nodes = %+v, want one node src", s.Nodes)
	}
	if len(s.Ports) != 1 || s.Ports[0].Owner != 1 || s.Ports[0].Orphan {
		t.Errorf("Ports = %+v, want one owned port", s.Ports)
	}
	if len(s.Edges) != 0 || len(s.Pending) != 0 {
		t.Errorf("Edges = %v, Pending = %v, want none", s.Edges, s.Pending)
	}
}

func TestScenario_ResolveAndRevert(t *testing.T) {
	g := newGraph()
	apply(t, g,
		ecs.Create(1), node(1, "src"),
		ecs.Create(2), port(2, components.Output, 1),
		ecs.Create(3), node(3, "sink"),
		ecs.Create(4), port(4, components.Input, 3),
		link(2, 4),
	)
	s := g.Snapshot()
	want := []Edge{{Output: 2, Input: 4, Source: 1, Target: 3}}
	if diff := cmp.Diff(want, s.Edges); diff != "" {
		t.Fatalf("Edges mismatch (-want +got):\n%s", diff)
	}

	apply(t, g, ecs.Destroy(3))
	s = g.Snapshot()
	if len(s.Edges) != 0 {
		t.Errorf("Edges after destroy = %v, want none", s.Edges)
	}
	if len(s.Pending) != 1 || s.Pending[0].Reason != ReasonOrphanPort {
		t.Errorf("Pending = %+v, want one orphan_port edge", s.Pending)
	}
	if p, _ := s.Port(4); !p.Orphan {
		t.Error("port 4 should be orphaned")
	}
	if len(s.Nodes) != 1 || s.Nodes[0].ID != 1 {
		t.Errorf("Nodes = %+v, want only node 1", s.Nodes)
	}
}

func TestResolve_Dedup(t *testing.T) {
	g := newGraph()
	apply(t, g,
		node(1, "a"), port(2, components.Output, 1),
		node(3, "b"), port(4, components.Input, 3),
		link(2, 4), link(4, 2),
		ecs.Set(10, components.Edge{Output: 2, Input: 4}),
	)
	s := g.Snapshot()
	if len(s.Edges) != 1 {
		t.Errorf("Edges = %v, want exactly one", s.Edges)
	}
}

func TestResolve_Pending(t *testing.T) {
	tests := []struct {
		name string
		ms   []ecs.Mutation
		want Reason
	}{
		{"missing peer", []ecs.Mutation{node(1, "a"), port(2, components.Output, 1), link(2, 9)}, ReasonMissingPort},
		{"two outputs", []ecs.Mutation{
			node(1, "a"), port(2, components.Output, 1),
			node(3, "b"), port(4, components.Output, 3),
			link(2, 4),
		}, ReasonDirection},
		{"owner missing", []ecs.Mutation{
			node(1, "a"), port(2, components.Output, 1),
			port(4, components.Input, 7),
			link(2, 4),
		}, ReasonOrphanPort},
		{"self", []ecs.Mutation{node(1, "a"), port(2, components.Output, 1), link(2, 2)}, ReasonSelfReference},
		{"edge entity to nothing", []ecs.Mutation{ecs.Set(5, components.Edge{Output: 8, Input: 9})}, ReasonMissingPort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGraph()
			apply(t, g, tt.ms...)
			s := g.Snapshot()
			if len(s.Edges) != 0 {
				t.Errorf("Edges = %v, want none", s.Edges)
			}
			if len(s.Pending) != 1 || s.Pending[0].Reason != tt.want {
				t.Errorf("Pending = %+v, want one %s", s.Pending, tt.want)
			}
		})
	}
}

func TestResolve_LateEndpoint(t *testing.T) {
	g := newGraph()
	apply(t, g, node(1, "a"), port(2, components.Output, 1), link(2, 4))
	if s := g.Snapshot(); len(s.Pending) != 1 {
		t.Fatalf("Pending = %v, want one", s.Pending)
	}
	apply(t, g, port(4, components.Input, 3), node(3, "b"))
	s := g.Snapshot()
	if len(s.Pending) != 0 || len(s.Edges) != 1 {
		t.Errorf("after late endpoint: Edges = %v, Pending = %v", s.Edges, s.Pending)
	}
}

func TestParentCycleRejected(t *testing.T) {
	g := newGraph()
	apply(t, g, bin(1, "outer")...)
	apply(t, g, bin(2, "inner")...)
	apply(t, g, bin(3, "deep")...)
	apply(t, g, parent(2, 1), parent(3, 2))

	for _, m := range []ecs.Mutation{parent(1, 3), parent(1, 1)} {
		_, err := g.Apply(m)
		if !perrors.Is(err, perrors.ErrCodeParentCycle) {
			t.Errorf("Apply(%v) error = %v, want PARENT_CYCLE", m, err)
		}
		if !perrors.IsProtocolViolation(err) {
			t.Errorf("Apply(%v): cycle should be a protocol violation", m)
		}
	}
	if _, ok := ecs.Get[components.Parent](g.Store(), 1); ok {
		t.Error("rejected parent was stored")
	}
	if g.Stats().ParentCycles != 2 {
		t.Errorf("ParentCycles = %d, want 2", g.Stats().ParentCycles)
	}

	// Moving a subtree elsewhere is fine.
	apply(t, g, bin(4, "other")...)
	apply(t, g, parent(2, 4))
}

func TestDestroyBin_Reparents(t *testing.T) {
	g := newGraph()
	apply(t, g, bin(1, "top")...)
	apply(t, g, bin(2, "mid")...)
	apply(t, g, parent(2, 1), node(3, "a"), parent(3, 2), node(4, "b"), parent(4, 2))

	ch, err := g.Apply(ecs.Destroy(2))
	if err != nil {
		t.Fatal(err)
	}
	if !ch.Topology {
		t.Error("destroying a bin should be a topology change")
	}
	s := g.Snapshot()
	for _, id := range []ecs.Entity{3, 4} {
		n, ok := s.Node(id)
		if !ok || n.Parent != 1 || n.Container != 1 {
			t.Errorf("node %d = %+v, want parent and container 1", id, n)
		}
	}
	if got := s.Children[1]; !slices.Equal(got, []ecs.Entity{3, 4}) {
		t.Errorf("Children[1] = %v, want [3 4]", got)
	}

	apply(t, g, ecs.Destroy(1))
	s = g.Snapshot()
	if !slices.Equal(s.Roots, []ecs.Entity{3, 4}) {
		t.Errorf("Roots = %v, want [3 4]", s.Roots)
	}
	if _, ok := ecs.Get[components.Parent](g.Store(), 3); ok {
		t.Error("child of a top-level bin kept its parent")
	}
	if g.Stats().Reparented != 4 {
		t.Errorf("Reparented = %d, want 4", g.Stats().Reparented)
	}
}

func TestContainer_SkipsNonBin(t *testing.T) {
	g := newGraph()
	apply(t, g, bin(1, "top")...)
	apply(t, g,
		node(2, "plain"), parent(2, 1),
		node(3, "child"), parent(3, 2),
		node(4, "dangling"), parent(4, 99),
	)
	s := g.Snapshot()
	if n, _ := s.Node(3); n.Container != 1 {
		t.Errorf("Container(3) = %d, want 1", n.Container)
	}
	if n, _ := s.Node(4); n.Container != ecs.Nil {
		t.Errorf("Container(4) = %d, want root", n.Container)
	}
	if !slices.Equal(s.Bins(), []ecs.Entity{1}) {
		t.Errorf("Bins() = %v, want [1]", s.Bins())
	}
}

func TestSnapshot_Attributes(t *testing.T) {
	g := newGraph()
	apply(t, g,
		ecs.Set(1, components.Node{Name: "enc", Factory: "x264enc"}),
		ecs.Set(1, components.StatePlaying),
		ecs.Set(1, components.Properties{"bitrate": "2048"}),
	)
	n, ok := g.Snapshot().Node(1)
	if !ok {
		t.Fatal("node 1 missing")
	}
	if n.State != components.StatePlaying || n.Properties["bitrate"] != "2048" || n.Factory != "x264enc" {
		t.Errorf("Node(1) = %+v", n)
	}
}
