// Package components defines the component types that describe a pipeline
// topology and registers them with an [ecs.Registry].
//
// A processing node is an entity carrying [Node]. Its ports are separate
// entities carrying [Port], whose Owner points back at the node. Edges are
// declared by a [Link] on a port, or by a standalone entity carrying [Edge].
// Bins are nodes that also carry [Bin]; children point at their bin through
// [Parent].
//
// [Position] and [Size] are derived: only the layout engine writes them.
package components

import (
	"encoding/json"
	"fmt"

	"github.com/matzehuels/pipescope/pkg/ecs"
)

// Component tags.
const (
	TagNode       ecs.Tag = "node"
	TagBin        ecs.Tag = "bin"
	TagPort       ecs.Tag = "port"
	TagLink       ecs.Tag = "link"
	TagEdge       ecs.Tag = "edge"
	TagParent     ecs.Tag = "parent"
	TagState      ecs.Tag = "state"
	TagProperties ecs.Tag = "properties"
	TagPosition   ecs.Tag = "position"
	TagSize       ecs.Tag = "size"
)

// Node marks an entity as a processing unit.
type Node struct {
	Name    string `json:"name"`
	Factory string `json:"factory,omitempty"`
}

func (Node) Tag() ecs.Tag { return TagNode }

// Bin marks a node as a container of other nodes.
type Bin struct{}

func (Bin) Tag() ecs.Tag { return TagBin }

// Port is a connection point owned by a node.
type Port struct {
	Direction Direction  `json:"direction"`
	Owner     ecs.Entity `json:"owner"`
	Name      string     `json:"name,omitempty"`
}

func (Port) Tag() ecs.Tag { return TagPort }

// Link is set on a port and names the port at the other end of the edge.
// A link may be declared on either end, or both.
type Link struct {
	Peer ecs.Entity `json:"peer"`
}

func (Link) Tag() ecs.Tag { return TagLink }

// Edge declares a connection as an entity of its own.
type Edge struct {
	Output ecs.Entity `json:"output"`
	Input  ecs.Entity `json:"input"`
}

func (Edge) Tag() ecs.Tag { return TagEdge }

// Parent points at the bin containing the entity.
type Parent struct {
	Bin ecs.Entity `json:"bin"`
}

func (Parent) Tag() ecs.Tag { return TagParent }

// Properties holds free-form key/value attributes of a node.
type Properties map[string]string

func (Properties) Tag() ecs.Tag { return TagProperties }

// Position is the layout coordinate of an item's top-left corner.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (Position) Tag() ecs.Tag { return TagPosition }

// Size is the layout extent of an item.
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (Size) Tag() ecs.Tag { return TagSize }

// Direction is the data flow direction of a port.
type Direction int

const (
	Input Direction = iota + 1
	Output
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// MarshalText encodes the direction by name.
func (d Direction) MarshalText() ([]byte, error) {
	if d != Input && d != Output {
		return nil, fmt.Errorf("invalid port direction %d", int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText accepts "input"/"in" and "output"/"out".
func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "input", "in", "sink":
		*d = Input
	case "output", "out", "src":
		*d = Output
	default:
		return fmt.Errorf("invalid port direction %q", b)
	}
	return nil
}

// Registry returns a registry holding every component type of this package.
func Registry() *ecs.Registry {
	return ecs.NewRegistry().MustRegister(
		spec[Node](ecs.ClassMarker),
		spec[Bin](ecs.ClassMarker),
		spec[Port](ecs.ClassRelation),
		spec[Link](ecs.ClassRelation),
		spec[Edge](ecs.ClassRelation),
		spec[Parent](ecs.ClassRelation),
		spec[State](ecs.ClassAttribute),
		spec[Properties](ecs.ClassAttribute),
		spec[Position](ecs.ClassDerived),
		spec[Size](ecs.ClassDerived),
	)
}

func spec[T ecs.Component](class ecs.Class) ecs.Spec {
	var zero T
	return ecs.Spec{
		Tag:   zero.Tag(),
		Class: class,
		Decode: func(data []byte) (ecs.Component, error) {
			var v T
			if len(data) > 0 && string(data) != "null" {
				if err := json.Unmarshal(data, &v); err != nil {
					return nil, fmt.Errorf("decode %s: %w", zero.Tag(), err)
				}
			}
			return v, nil
		},
	}
}
