package graph

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/matzehuels/pipescope/pkg/ecs"
	perrors "github.com/matzehuels/pipescope/pkg/errors"
	"github.com/matzehuels/pipescope/pkg/model"
)

// FormatVersion is the version written into every Document.
const FormatVersion = 1

// =============================================================================
// Document - Store Serialization
// =============================================================================

// Document is the canonical serialization format of a mirrored store. It is
// what sessions persist and what `pipescope export` writes.
//
// Entities appear in birth order and carry their producer-owned components
// in the same encoding the wire protocol uses. Derived components (position,
// size) are never included: the layout engine rebuilds them after a load.
type Document struct {
	Version  int      `json:"version" bson:"version"`
	Entities []Entity `json:"entities" bson:"entities"`
}

// Entity is one serialized entity.
type Entity struct {
	ID         uint64                     `json:"id" bson:"id"`
	Components map[string]json.RawMessage `json:"components,omitempty" bson:"components,omitempty"`
}

// FromStore serializes every entity of s. Derived components are skipped.
func FromStore(s *ecs.Store) (Document, error) {
	reg := s.Registry()
	doc := Document{Version: FormatVersion, Entities: []Entity{}}
	for e := range s.Entities() {
		ent := Entity{ID: uint64(e)}
		for tag, c := range s.Components(e) {
			if spec, ok := reg.Lookup(tag); ok && spec.Class == ecs.ClassDerived {
				continue
			}
			data, err := json.Marshal(c)
			if err != nil {
				return Document{}, fmt.Errorf("encode %s of entity %d: %w", tag, e, err)
			}
			if ent.Components == nil {
				ent.Components = make(map[string]json.RawMessage)
			}
			ent.Components[string(tag)] = data
		}
		doc.Entities = append(doc.Entities, ent)
	}
	return doc, nil
}

// Mutations returns the mutations that rebuild the document: a create per
// entity followed by its components in tag order. Values are decoded
// through reg.
func (d Document) Mutations(reg *ecs.Registry) ([]ecs.Mutation, error) {
	if d.Version > FormatVersion {
		return nil, perrors.New(perrors.ErrCodeInvalidFormat, "document version %d is newer than %d", d.Version, FormatVersion)
	}
	var out []ecs.Mutation
	for _, ent := range d.Entities {
		e := ecs.Entity(ent.ID)
		if e == ecs.Nil {
			return nil, perrors.New(perrors.ErrCodeInvalidEntity, "document contains entity id 0")
		}
		out = append(out, ecs.Create(e))

		tags := make([]string, 0, len(ent.Components))
		for t := range ent.Components {
			tags = append(tags, t)
		}
		slices.Sort(tags)
		for _, t := range tags {
			spec, ok := reg.Lookup(ecs.Tag(t))
			if !ok || spec.Decode == nil {
				return nil, perrors.New(perrors.ErrCodeUnknownComponent, "entity %d: unknown component %q", ent.ID, t)
			}
			if spec.Class == ecs.ClassDerived {
				continue
			}
			c, err := spec.Decode(ent.Components[t])
			if err != nil {
				return nil, perrors.Wrap(perrors.ErrCodeInvalidFormat, err, "entity %d: component %q", ent.ID, t)
			}
			out = append(out, ecs.Set(e, c))
		}
	}
	return out, nil
}

// Len returns the number of entities.
func (d Document) Len() int { return len(d.Entities) }

// =============================================================================
// Topology - Snapshot Serialization
// =============================================================================

// Topology is the serialization format of a [model.Snapshot], used for API
// responses.
type Topology struct {
	Nodes   []Node    `json:"nodes" bson:"nodes"`
	Ports   []Port    `json:"ports" bson:"ports"`
	Edges   []Edge    `json:"edges" bson:"edges"`
	Pending []Pending `json:"pending,omitempty" bson:"pending,omitempty"`
}

// Node is a node or bin.
type Node struct {
	ID         uint64            `json:"id" bson:"id"`
	Name       string            `json:"name,omitempty" bson:"name,omitempty"`
	Factory    string            `json:"factory,omitempty" bson:"factory,omitempty"`
	State      string            `json:"state" bson:"state"`
	Properties map[string]string `json:"properties,omitempty" bson:"properties,omitempty"`
	Bin        bool              `json:"bin,omitempty" bson:"bin,omitempty"`
	Container  uint64            `json:"container,omitempty" bson:"container,omitempty"` // nearest live bin
}

// Port is a port of a node.
type Port struct {
	ID        uint64 `json:"id" bson:"id"`
	Owner     uint64 `json:"owner" bson:"owner"`
	Direction string `json:"direction" bson:"direction"`
	Name      string `json:"name,omitempty" bson:"name,omitempty"`
	Orphan    bool   `json:"orphan,omitempty" bson:"orphan,omitempty"`
}

// Edge is a resolved connection between two nodes.
type Edge struct {
	From   uint64 `json:"from" bson:"from"`
	To     uint64 `json:"to" bson:"to"`
	Output uint64 `json:"output" bson:"output"`
	Input  uint64 `json:"input" bson:"input"`
}

// Pending is a declared connection that does not resolve yet.
type Pending struct {
	Output uint64 `json:"output" bson:"output"`
	Input  uint64 `json:"input" bson:"input"`
	Reason string `json:"reason" bson:"reason"`
}

// FromSnapshot converts a snapshot to its serialization format. Order is
// preserved, so output is deterministic.
func FromSnapshot(snap *model.Snapshot) Topology {
	t := Topology{
		Nodes: make([]Node, len(snap.Nodes)),
		Ports: make([]Port, len(snap.Ports)),
		Edges: make([]Edge, len(snap.Edges)),
	}
	for i, n := range snap.Nodes {
		t.Nodes[i] = Node{
			ID:         uint64(n.ID),
			Name:       n.Name,
			Factory:    n.Factory,
			State:      n.State.String(),
			Properties: n.Properties,
			Bin:        n.IsBin,
			Container:  uint64(n.Container),
		}
	}
	for i, p := range snap.Ports {
		t.Ports[i] = Port{
			ID:        uint64(p.ID),
			Owner:     uint64(p.Owner),
			Direction: p.Direction.String(),
			Name:      p.Name,
			Orphan:    p.Orphan,
		}
	}
	for i, e := range snap.Edges {
		t.Edges[i] = Edge{From: uint64(e.Source), To: uint64(e.Target), Output: uint64(e.Output), Input: uint64(e.Input)}
	}
	for _, p := range snap.Pending {
		t.Pending = append(t.Pending, Pending{Output: uint64(p.Output), Input: uint64(p.Input), Reason: string(p.Reason)})
	}
	return t
}
