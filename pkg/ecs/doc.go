// Package ecs implements the entity-component store that mirrors a live
// pipeline.
//
// Entities are opaque uint64 ids; the producer allocates them and id 0 is
// reserved. Each entity carries at most one component per [Tag]. Component
// types are declared in a [Registry] together with their [Class], which tells
// the store whether a change can alter graph topology.
//
// # Mutations
//
// The store changes only through [Store.Apply], which accepts four
// operations: create, destroy, set and unset. Every operation is idempotent
// and self-contained, so a mirror that replays a prefix of the producer's
// history converges to the producer's state.
//
//	reg := ecs.NewRegistry().MustRegister(specs...)
//	s := ecs.NewStore(reg)
//	ch, err := s.Apply(ecs.Set(1, myComponent{}))
//	if ch.Topology {
//	    // schedule relayout
//	}
//
// Mutations may carry a sequence number. When present, the store keeps the
// highest sequence applied per entity component and drops older ones
// (last-sequence-wins). A destroy leaves a tombstone so a late set from before
// the destroy cannot resurrect the entity.
//
// # Queries
//
// [Store.Query] and the typed helpers [Query1] and [Query2] return lazy
// [iter.Seq2] sequences ordered by entity birth. Birth order is the stable key
// layout uses to break ties.
//
// Derived components are written only by the layout engine through
// [Store.SetDerived].
package ecs
