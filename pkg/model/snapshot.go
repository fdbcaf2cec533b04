package model

import (
	"github.com/matzehuels/pipescope/pkg/components"
	"github.com/matzehuels/pipescope/pkg/ecs"
)

// NodeInfo is a node or bin in a snapshot.
type NodeInfo struct {
	ID         ecs.Entity
	Born       uint64
	Name       string
	Factory    string
	State      components.State
	Properties components.Properties
	IsBin      bool
	// Parent is the declared parent, which may not be a live bin.
	Parent ecs.Entity
	// Container is the nearest live bin ancestor, or ecs.Nil at top level.
	Container ecs.Entity
}

// PortInfo is a port in a snapshot.
type PortInfo struct {
	ID        ecs.Entity
	Born      uint64
	Owner     ecs.Entity
	Direction components.Direction
	Name      string
	// Orphan is set when Owner is not a live node. Orphaned ports are kept
	// but excluded from layout until the owner appears.
	Orphan bool
}

// Edge is a resolved connection from an output port to an input port.
type Edge struct {
	Output ecs.Entity `json:"output"` // output port
	Input  ecs.Entity `json:"input"`  // input port
	Source ecs.Entity `json:"source"` // node owning Output
	Target ecs.Entity `json:"target"` // node owning Input
}

// Reason explains why an edge is not resolved.
type Reason string

const (
	ReasonMissingPort   Reason = "missing_port"
	ReasonOrphanPort    Reason = "orphan_port"
	ReasonDirection     Reason = "direction_mismatch"
	ReasonSelfReference Reason = "self_reference"
)

// PendingEdge is a declared edge that does not resolve yet.
type PendingEdge struct {
	Output ecs.Entity `json:"output"`
	Input  ecs.Entity `json:"input"`
	Reason Reason     `json:"reason"`
}

// Snapshot is an immutable view of the graph topology. All slices are in
// birth order of the entity that declares the item.
type Snapshot struct {
	Nodes   []NodeInfo
	Ports   []PortInfo
	Edges   []Edge
	Pending []PendingEdge

	// Roots are the top-level nodes and bins.
	Roots []ecs.Entity
	// Children maps each live bin to the nodes and bins it directly contains.
	Children map[ecs.Entity][]ecs.Entity

	nodes map[ecs.Entity]int
	ports map[ecs.Entity]int
}

// Node returns the node with the given id.
func (s *Snapshot) Node(id ecs.Entity) (NodeInfo, bool) {
	i, ok := s.nodes[id]
	if !ok {
		return NodeInfo{}, false
	}
	return s.Nodes[i], true
}

// Port returns the port with the given id.
func (s *Snapshot) Port(id ecs.Entity) (PortInfo, bool) {
	i, ok := s.ports[id]
	if !ok {
		return PortInfo{}, false
	}
	return s.Ports[i], true
}

// Orphans returns the ports whose owner is not a live node.
func (s *Snapshot) Orphans() []PortInfo {
	var out []PortInfo
	for _, p := range s.Ports {
		if p.Orphan {
			out = append(out, p)
		}
	}
	return out
}

// Bins returns the ids of all live bins in birth order.
func (s *Snapshot) Bins() []ecs.Entity {
	var out []ecs.Entity
	for _, n := range s.Nodes {
		if n.IsBin {
			out = append(out, n.ID)
		}
	}
	return out
}

// Empty reports whether the snapshot has no nodes.
func (s *Snapshot) Empty() bool { return len(s.Nodes) == 0 }

// Snapshot derives the current topology from the store.
func (g *Graph) Snapshot() *Snapshot {
	return Build(g.store)
}

// Build derives a snapshot from s.
func Build(s *ecs.Store) *Snapshot {
	snap := &Snapshot{
		Children: make(map[ecs.Entity][]ecs.Entity),
		nodes:    make(map[ecs.Entity]int),
		ports:    make(map[ecs.Entity]int),
	}

	for e := range s.Entities() {
		n, isNode := ecs.Get[components.Node](s, e)
		_, isBin := ecs.Get[components.Bin](s, e)
		if !isNode && !isBin {
			continue
		}
		born, _ := s.Born(e)
		info := NodeInfo{ID: e, Born: born, Name: n.Name, Factory: n.Factory, IsBin: isBin}
		info.State, _ = ecs.Get[components.State](s, e)
		info.Properties, _ = ecs.Get[components.Properties](s, e)
		if p, ok := ecs.Get[components.Parent](s, e); ok {
			info.Parent = p.Bin
		}
		snap.nodes[e] = len(snap.Nodes)
		snap.Nodes = append(snap.Nodes, info)
	}

	for i := range snap.Nodes {
		n := &snap.Nodes[i]
		n.Container = container(s, n.ID)
		if n.Container == ecs.Nil {
			snap.Roots = append(snap.Roots, n.ID)
		} else {
			snap.Children[n.Container] = append(snap.Children[n.Container], n.ID)
		}
	}

	for e, p := range ecs.Query1[components.Port](s) {
		born, _ := s.Born(e)
		_, live := snap.nodes[p.Owner]
		snap.ports[e] = len(snap.Ports)
		snap.Ports = append(snap.Ports, PortInfo{
			ID:        e,
			Born:      born,
			Owner:     p.Owner,
			Direction: p.Direction,
			Name:      p.Name,
			Orphan:    !live,
		})
	}

	snap.resolve(s)
	return snap
}

// container returns the nearest live bin strictly above e.
func container(s *ecs.Store, e ecs.Entity) ecs.Entity {
	seen := map[ecs.Entity]bool{e: true}
	cur := e
	for {
		p, ok := ecs.Get[components.Parent](s, cur)
		if !ok || p.Bin == ecs.Nil || seen[p.Bin] {
			return ecs.Nil
		}
		if s.HasComponent(p.Bin, components.TagBin) {
			return p.Bin
		}
		seen[p.Bin] = true
		cur = p.Bin
	}
}

type edgeKey struct{ out, in ecs.Entity }

// resolve collects edge declarations from links and edge entities, dedupes
// them by (output, input) port pair and classifies each as resolved or
// pending.
func (snap *Snapshot) resolve(s *ecs.Store) {
	seen := make(map[edgeKey]bool)
	declare := func(out, in ecs.Entity) {
		k := edgeKey{out, in}
		if seen[k] {
			return
		}
		seen[k] = true
		if e, reason, ok := snap.check(out, in); ok {
			snap.Edges = append(snap.Edges, e)
		} else {
			snap.Pending = append(snap.Pending, PendingEdge{Output: out, Input: in, Reason: reason})
		}
	}

	for e := range s.Entities() {
		if l, ok := ecs.Get[components.Link](s, e); ok {
			p, isPort := ecs.Get[components.Port](s, e)
			switch {
			case !isPort:
				declare(e, l.Peer)
			case p.Direction == components.Input:
				declare(l.Peer, e)
			default:
				declare(e, l.Peer)
			}
		}
		if ed, ok := ecs.Get[components.Edge](s, e); ok {
			declare(ed.Output, ed.Input)
		}
	}
}

func (snap *Snapshot) check(out, in ecs.Entity) (Edge, Reason, bool) {
	if out == in {
		return Edge{}, ReasonSelfReference, false
	}
	op, ok1 := snap.Port(out)
	ip, ok2 := snap.Port(in)
	if !ok1 || !ok2 {
		return Edge{}, ReasonMissingPort, false
	}
	if op.Direction != components.Output || ip.Direction != components.Input {
		return Edge{}, ReasonDirection, false
	}
	if op.Orphan || ip.Orphan {
		return Edge{}, ReasonOrphanPort, false
	}
	return Edge{Output: out, Input: in, Source: op.Owner, Target: ip.Owner}, "", true
}
