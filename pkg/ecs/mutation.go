package ecs

import "fmt"

// Op is the kind of a mutation.
type Op int

const (
	OpCreate Op = iota + 1
	OpDestroy
	OpSet
	OpUnset
)

// String returns the wire name of the operation.
func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpDestroy:
		return "destroy"
	case OpSet:
		return "set"
	case OpUnset:
		return "unset"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// ParseOp is the inverse of [Op.String].
func ParseOp(s string) (Op, bool) {
	switch s {
	case "create":
		return OpCreate, true
	case "destroy":
		return OpDestroy, true
	case "set":
		return OpSet, true
	case "unset":
		return OpUnset, true
	}
	return 0, false
}

// Mutation is one atomic operation on the store. Every mutation is
// self-contained: a set carries the full new value, never a delta.
//
// Seq is an optional sequence number. When non-zero, the store drops any
// mutation whose Seq is not newer than the last one applied to the same
// entity component (last-sequence-wins). Zero means the transport is trusted
// to preserve per-entity order.
type Mutation struct {
	Op     Op
	Entity Entity
	Seq    uint64
	Tag    Tag       // set for OpUnset; optional for OpSet (must match Value.Tag())
	Value  Component // set for OpSet
}

// Create returns a CreateEntity mutation.
func Create(e Entity) Mutation { return Mutation{Op: OpCreate, Entity: e} }

// Destroy returns a DestroyEntity mutation.
func Destroy(e Entity) Mutation { return Mutation{Op: OpDestroy, Entity: e} }

// Set returns a SetComponent mutation.
func Set(e Entity, c Component) Mutation {
	m := Mutation{Op: OpSet, Entity: e, Value: c}
	if c != nil {
		m.Tag = c.Tag()
	}
	return m
}

// Unset returns an UnsetComponent mutation.
func Unset(e Entity, tag Tag) Mutation { return Mutation{Op: OpUnset, Entity: e, Tag: tag} }

// WithSeq returns a copy of m carrying the given sequence number.
func (m Mutation) WithSeq(seq uint64) Mutation {
	m.Seq = seq
	return m
}

// String formats the mutation for logs.
func (m Mutation) String() string {
	switch m.Op {
	case OpSet:
		return fmt.Sprintf("set(%d, %s, %+v)", m.Entity, m.Tag, m.Value)
	case OpUnset:
		return fmt.Sprintf("unset(%d, %s)", m.Entity, m.Tag)
	default:
		return fmt.Sprintf("%s(%d)", m.Op, m.Entity)
	}
}

// Change describes the effect of one applied mutation.
type Change struct {
	Entity Entity
	Tag    Tag

	// Applied is false when the mutation was a no-op (idempotent repeat,
	// destroy of a missing entity) or was dropped as stale.
	Applied bool
	// Stale is true when the mutation was dropped by sequence ordering.
	Stale bool
	// Created and Destroyed report entity lifecycle transitions.
	Created   bool
	Destroyed bool
	// Topology is true when the mutation added or removed a node, port, edge
	// or bin, or changed a reference between them. Only such changes require
	// a relayout.
	Topology bool
}
