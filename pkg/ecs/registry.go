package ecs

import (
	"fmt"
	"slices"
)

// Class describes how a component type participates in graph topology.
type Class int

const (
	// ClassAttribute components (state, properties) never affect topology.
	ClassAttribute Class = iota
	// ClassMarker components (node, bin) affect topology when they appear or
	// disappear. Changing the value of a present marker is an attribute update.
	ClassMarker
	// ClassRelation components (port, link, parent) affect topology on any
	// value change, since they encode references between entities.
	ClassRelation
	// ClassDerived components (position, size) are owned by the layout engine.
	// Producer mutations touching them are rejected.
	ClassDerived
)

// String returns the lowercase name of the class.
func (c Class) String() string {
	switch c {
	case ClassAttribute:
		return "attribute"
	case ClassMarker:
		return "marker"
	case ClassRelation:
		return "relation"
	case ClassDerived:
		return "derived"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Topological reports whether changes to components of this class can alter
// the graph topology.
func (c Class) Topological() bool {
	return c == ClassMarker || c == ClassRelation
}

// Spec describes one registered component type.
type Spec struct {
	Tag   Tag
	Class Class
	// Decode builds a component value from its wire encoding.
	Decode func(data []byte) (Component, error)
}

// Registry maps component tags to their specs. A Registry is populated once at
// startup and is read-only afterwards, so it is safe for concurrent lookups.
type Registry struct {
	specs map[Tag]Spec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[Tag]Spec)}
}

// Register adds a component spec. It fails on empty or duplicate tags.
func (r *Registry) Register(s Spec) error {
	if s.Tag == "" {
		return fmt.Errorf("register component: empty tag")
	}
	if _, dup := r.specs[s.Tag]; dup {
		return fmt.Errorf("register component %q: duplicate tag", s.Tag)
	}
	r.specs[s.Tag] = s
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(specs ...Spec) *Registry {
	for _, s := range specs {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
	return r
}

// Lookup returns the spec registered for tag.
func (r *Registry) Lookup(tag Tag) (Spec, bool) {
	s, ok := r.specs[tag]
	return s, ok
}

// Tags returns all registered tags in sorted order.
func (r *Registry) Tags() []Tag {
	tags := make([]Tag, 0, len(r.specs))
	for t := range r.specs {
		tags = append(tags, t)
	}
	slices.Sort(tags)
	return tags
}
