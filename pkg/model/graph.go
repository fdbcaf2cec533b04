// Package model interprets the entity-component store as a pipeline graph.
//
// [Graph] sits in front of an [ecs.Store] and enforces the graph-level rules
// the store cannot know about: bin containment must stay acyclic, and when a
// bin is destroyed its children move up to the bin's own parent.
//
// [Graph.Snapshot] derives an immutable view of the current topology: nodes
// and bins with their effective container, ports, resolved edges and edges
// still waiting for an endpoint.
package model

import (
	"github.com/charmbracelet/log"

	"github.com/matzehuels/pipescope/pkg/components"
	"github.com/matzehuels/pipescope/pkg/ecs"
	perrors "github.com/matzehuels/pipescope/pkg/errors"
)

// Stats counts graph-level rule enforcement.
type Stats struct {
	ParentCycles int // rejected parent assignments
	Reparented   int // children moved up by bin destruction
}

// Graph is the gate through which all producer mutations reach the store.
// Like the store, it is single-writer.
type Graph struct {
	store  *ecs.Store
	logger *log.Logger
	stats  Stats
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger used for rejected mutations.
func WithLogger(l *log.Logger) Option {
	return func(g *Graph) { g.logger = l }
}

// New returns a graph over s.
func New(s *ecs.Store, opts ...Option) *Graph {
	g := &Graph{store: s, logger: log.Default()}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Store returns the underlying store.
func (g *Graph) Store() *ecs.Store { return g.store }

// Stats returns the rule enforcement counters.
func (g *Graph) Stats() Stats { return g.stats }

// Apply checks m against the graph rules and applies it to the store.
//
// A parent assignment that would make a bin contain itself is rejected with
// an ErrCodeParentCycle error and the previous parent is kept. Destroying a
// bin re-parents its children to the bin's parent, or makes them top-level.
func (g *Graph) Apply(m ecs.Mutation) (ecs.Change, error) {
	switch m.Op {
	case ecs.OpSet:
		if p, ok := m.Value.(components.Parent); ok {
			if err := g.checkParent(m.Entity, p.Bin); err != nil {
				g.stats.ParentCycles++
				g.logger.Warn("rejected parent assignment", "entity", m.Entity, "bin", p.Bin, "err", err)
				return ecs.Change{Entity: m.Entity, Tag: components.TagParent}, err
			}
		}
	case ecs.OpDestroy:
		if g.store.HasComponent(m.Entity, components.TagBin) {
			return g.destroyBin(m)
		}
	}
	return g.store.Apply(m)
}

// checkParent reports an error if setting child's parent to bin closes a
// containment cycle.
func (g *Graph) checkParent(child, bin ecs.Entity) error {
	if bin == ecs.Nil {
		return nil
	}
	seen := make(map[ecs.Entity]bool)
	for cur := bin; cur != ecs.Nil; {
		if cur == child {
			return perrors.New(perrors.ErrCodeParentCycle, "entity %d cannot be contained in %d: containment cycle", child, bin)
		}
		if seen[cur] {
			// Existing cycle not involving child; cannot happen through Apply.
			return nil
		}
		seen[cur] = true
		p, ok := ecs.Get[components.Parent](g.store, cur)
		if !ok {
			return nil
		}
		cur = p.Bin
	}
	return nil
}

func (g *Graph) destroyBin(m ecs.Mutation) (ecs.Change, error) {
	up := ecs.Nil
	if p, ok := ecs.Get[components.Parent](g.store, m.Entity); ok {
		up = p.Bin
	}
	var children []ecs.Entity
	for e, p := range ecs.Query1[components.Parent](g.store) {
		if p.Bin == m.Entity {
			children = append(children, e)
		}
	}

	ch, err := g.store.Apply(m)
	if err != nil || !ch.Destroyed {
		return ch, err
	}
	for _, c := range children {
		var move ecs.Mutation
		if up == ecs.Nil {
			move = ecs.Unset(c, components.TagParent)
		} else {
			move = ecs.Set(c, components.Parent{Bin: up})
		}
		if _, err := g.store.Apply(move); err != nil {
			return ch, perrors.Wrap(perrors.ErrCodeInternal, err, "re-parent %d after destroying bin %d", c, m.Entity)
		}
		g.stats.Reparented++
	}
	if len(children) > 0 {
		ch.Topology = true
		g.logger.Debug("re-parented bin children", "bin", m.Entity, "children", len(children), "to", up)
	}
	return ch, nil
}
