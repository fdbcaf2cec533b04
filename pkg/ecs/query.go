package ecs

import "iter"

// Get returns the component of e stored under T's tag, typed as T.
func Get[T Component](s *Store, e Entity) (T, bool) {
	var zero T
	c, ok := s.Component(e, zero.Tag())
	if !ok {
		return zero, false
	}
	t, ok := c.(T)
	return t, ok
}

// Query1 yields every entity carrying a component of type A, in birth order.
func Query1[A Component](s *Store) iter.Seq2[Entity, A] {
	var a A
	return func(yield func(Entity, A) bool) {
		for e, row := range s.Query(a.Tag()) {
			v, ok := row[0].(A)
			if !ok {
				continue
			}
			if !yield(e, v) {
				return
			}
		}
	}
}

// Pair holds two components of one entity.
type Pair[A, B Component] struct {
	First  A
	Second B
}

// Query2 yields every entity carrying components of both types, in birth order.
func Query2[A, B Component](s *Store) iter.Seq2[Entity, Pair[A, B]] {
	var (
		a A
		b B
	)
	return func(yield func(Entity, Pair[A, B]) bool) {
		for e, row := range s.Query(a.Tag(), b.Tag()) {
			va, ok1 := row[0].(A)
			vb, ok2 := row[1].(B)
			if !ok1 || !ok2 {
				continue
			}
			if !yield(e, Pair[A, B]{First: va, Second: vb}) {
				return
			}
		}
	}
}
