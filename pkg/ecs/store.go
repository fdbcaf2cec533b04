package ecs

import (
	"iter"
	"reflect"

	"github.com/charmbracelet/log"

	perrors "github.com/matzehuels/pipescope/pkg/errors"
)

// Entity is an opaque identifier. The zero value is never a valid entity.
type Entity uint64

// Nil is the invalid entity id.
const Nil Entity = 0

// Tag identifies a component type.
type Tag string

// Component is a typed value attached to an entity. Implementations must be
// value types with a value-receiver Tag method.
type Component interface {
	Tag() Tag
}

// Stats counts mutation outcomes since the store was created or reset.
type Stats struct {
	Applied  int // mutations that changed the store
	NoOps    int // idempotent repeats
	Stale    int // dropped by sequence ordering
	Rejected int // protocol violations
}

// slot is one entry of the birth-order index. An entity destroyed and created
// again gets a new slot; the old one is recognised as dead by its birth.
type slot struct {
	e    Entity
	born uint64
}

type record struct {
	born  uint64
	comps map[Tag]Component
	seqs  map[Tag]uint64
	last  uint64 // highest seq applied to this entity
}

// Store is the authoritative entity-component snapshot.
//
// Store is single-writer: Apply, SetDerived, ClearDerived and Reset must not be
// called concurrently with each other or with queries. The replica runtime
// serializes all access on one goroutine.
type Store struct {
	reg        *Registry
	logger     *log.Logger
	report     func(Mutation, error)
	entities   map[Entity]*record
	tombstones map[Entity]uint64
	unsets     map[Entity]map[Tag]uint64 // sequenced unsets of missing entities
	order      []slot // birth order, may contain destroyed entities
	dead       int
	nextBirth  uint64
	stats      Stats
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for rejected mutations.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithReporter installs the error channel: fn is called for every rejected
// mutation in addition to the error returned by Apply.
func WithReporter(fn func(Mutation, error)) Option {
	return func(s *Store) { s.report = fn }
}

// NewStore creates an empty store accepting the component types in reg.
func NewStore(reg *Registry, opts ...Option) *Store {
	s := &Store{
		reg:        reg,
		logger:     log.Default(),
		entities:   make(map[Entity]*record),
		tombstones: make(map[Entity]uint64),
		unsets:     make(map[Entity]map[Tag]uint64),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Registry returns the component registry of the store.
func (s *Store) Registry() *Registry { return s.reg }

// Stats returns the mutation counters.
func (s *Store) Stats() Stats { return s.stats }

// Reset drops every entity, tombstone and sequence number. Birth order keeps
// increasing across resets so that entities created after a reset sort after
// the ones that existed before it.
func (s *Store) Reset() {
	s.entities = make(map[Entity]*record)
	s.tombstones = make(map[Entity]uint64)
	s.unsets = make(map[Entity]map[Tag]uint64)
	s.order = nil
	s.dead = 0
	s.stats = Stats{}
}

// ResetSequences forgets sequence numbers and tombstones while keeping all
// entities. It is used when a producer reconnects and restarts its counter.
func (s *Store) ResetSequences() {
	s.tombstones = make(map[Entity]uint64)
	s.unsets = make(map[Entity]map[Tag]uint64)
	for _, r := range s.entities {
		r.seqs = make(map[Tag]uint64)
		r.last = 0
	}
}

// Apply applies one mutation. Protocol violations (nil entity, unknown tag,
// writes to derived components, malformed sets) are rejected: the store is
// left untouched, the reporter is notified and an *errors.Error is returned.
func (s *Store) Apply(m Mutation) (Change, error) {
	if err := s.validate(&m); err != nil {
		s.stats.Rejected++
		s.logger.Warn("rejected mutation", "mutation", m, "err", err)
		if s.report != nil {
			s.report(m, err)
		}
		return Change{Entity: m.Entity, Tag: m.Tag}, err
	}

	if s.isStale(m) {
		s.stats.Stale++
		s.logger.Debug("dropped stale mutation", "mutation", m)
		return Change{Entity: m.Entity, Tag: m.Tag, Stale: true}, nil
	}

	var ch Change
	switch m.Op {
	case OpCreate:
		ch = s.create(m)
	case OpDestroy:
		ch = s.destroy(m)
	case OpSet:
		ch = s.set(m)
	case OpUnset:
		ch = s.unset(m)
	}
	if ch.Applied {
		s.stats.Applied++
	} else {
		s.stats.NoOps++
	}
	return ch, nil
}

func (s *Store) validate(m *Mutation) error {
	if m.Entity == Nil {
		return perrors.New(perrors.ErrCodeInvalidEntity, "%s: entity id 0 is reserved", m.Op)
	}
	switch m.Op {
	case OpCreate, OpDestroy:
		return nil
	case OpSet:
		if m.Value == nil {
			return perrors.New(perrors.ErrCodeMalformedMessage, "set on entity %d without a value", m.Entity)
		}
		tag := m.Value.Tag()
		if m.Tag != "" && m.Tag != tag {
			return perrors.New(perrors.ErrCodeMalformedMessage, "set on entity %d: tag %q does not match value tag %q", m.Entity, m.Tag, tag)
		}
		m.Tag = tag
	case OpUnset:
	default:
		return perrors.New(perrors.ErrCodeMalformedMessage, "unknown operation %d", int(m.Op))
	}
	spec, ok := s.reg.Lookup(m.Tag)
	if !ok {
		return perrors.New(perrors.ErrCodeUnknownComponent, "unknown component tag %q", m.Tag)
	}
	if spec.Class == ClassDerived {
		return perrors.New(perrors.ErrCodeDerivedComponent, "component %q is owned by the layout engine", m.Tag)
	}
	return nil
}

func (s *Store) isStale(m Mutation) bool {
	if m.Seq == 0 {
		return false
	}
	if t, ok := s.tombstones[m.Entity]; ok && m.Seq <= t {
		return true
	}
	r, ok := s.entities[m.Entity]
	if !ok {
		return (m.Op == OpSet || m.Op == OpUnset) && m.Seq <= s.unsets[m.Entity][m.Tag]
	}
	switch m.Op {
	case OpSet, OpUnset:
		return m.Seq <= r.seqs[m.Tag]
	case OpDestroy:
		return m.Seq < r.last
	}
	return false
}

func (s *Store) create(m Mutation) Change {
	r, existed := s.entities[m.Entity]
	if !existed {
		r = s.spawn(m.Entity)
	}
	s.touch(r, "", m.Seq)
	return Change{Entity: m.Entity, Applied: !existed, Created: !existed}
}

func (s *Store) spawn(e Entity) *record {
	s.nextBirth++
	r := &record{
		born:  s.nextBirth,
		comps: make(map[Tag]Component),
		seqs:  make(map[Tag]uint64),
	}
	s.entities[e] = r
	s.order = append(s.order, slot{e: e, born: r.born})
	delete(s.tombstones, e)
	for tag, seq := range s.unsets[e] {
		s.touch(r, tag, seq)
	}
	delete(s.unsets, e)
	return r
}

func (s *Store) touch(r *record, tag Tag, seq uint64) {
	if seq == 0 {
		return
	}
	if tag != "" {
		r.seqs[tag] = seq
	}
	if seq > r.last {
		r.last = seq
	}
}

func (s *Store) destroy(m Mutation) Change {
	if m.Seq != 0 && m.Seq > s.tombstones[m.Entity] {
		s.tombstones[m.Entity] = m.Seq
	}
	r, ok := s.entities[m.Entity]
	if !ok {
		return Change{Entity: m.Entity}
	}
	topo := false
	for tag := range r.comps {
		if spec, ok := s.reg.Lookup(tag); ok && spec.Class.Topological() {
			topo = true
			break
		}
	}
	delete(s.entities, m.Entity)
	s.dead++
	s.compact()
	return Change{Entity: m.Entity, Applied: true, Destroyed: true, Topology: topo}
}

func (s *Store) set(m Mutation) Change {
	ch := Change{Entity: m.Entity, Tag: m.Tag}
	r, ok := s.entities[m.Entity]
	if !ok {
		r = s.spawn(m.Entity)
		ch.Created = true
	}
	s.touch(r, m.Tag, m.Seq)

	old, had := r.comps[m.Tag]
	if had && reflect.DeepEqual(old, m.Value) {
		return ch
	}
	r.comps[m.Tag] = m.Value
	ch.Applied = true

	spec, _ := s.reg.Lookup(m.Tag)
	switch spec.Class {
	case ClassMarker:
		ch.Topology = !had
	case ClassRelation:
		ch.Topology = true
	}
	return ch
}

func (s *Store) unset(m Mutation) Change {
	ch := Change{Entity: m.Entity, Tag: m.Tag}
	r, ok := s.entities[m.Entity]
	if !ok {
		// Remember the unset so an older set arriving later stays dropped.
		if m.Seq != 0 {
			if s.unsets[m.Entity] == nil {
				s.unsets[m.Entity] = make(map[Tag]uint64)
			}
			s.unsets[m.Entity][m.Tag] = m.Seq
		}
		return ch
	}
	s.touch(r, m.Tag, m.Seq)
	if _, had := r.comps[m.Tag]; !had {
		return ch
	}
	delete(r.comps, m.Tag)
	spec, _ := s.reg.Lookup(m.Tag)
	ch.Applied = true
	ch.Topology = spec.Class.Topological()
	return ch
}

// compact drops destroyed entities from the birth-order index once they make
// up more than half of it. Iterators holding the previous slice keep working.
func (s *Store) compact() {
	if s.dead*2 < len(s.order) {
		return
	}
	live := make([]slot, 0, len(s.entities))
	for _, sl := range s.order {
		if s.alive(sl) {
			live = append(live, sl)
		}
	}
	s.order = live
	s.dead = 0
}

func (s *Store) alive(sl slot) bool {
	r, ok := s.entities[sl.e]
	return ok && r.born == sl.born
}

// SetDerived writes a layout-owned component. The entity must exist and the
// tag must be registered as [ClassDerived].
func (s *Store) SetDerived(e Entity, c Component) error {
	spec, ok := s.reg.Lookup(c.Tag())
	if !ok || spec.Class != ClassDerived {
		return perrors.New(perrors.ErrCodeInternal, "component %q is not a derived component", c.Tag())
	}
	r, ok := s.entities[e]
	if !ok {
		return perrors.New(perrors.ErrCodeNotFound, "entity %d does not exist", e)
	}
	r.comps[c.Tag()] = c
	return nil
}

// ClearDerived removes a layout-owned component if present.
func (s *Store) ClearDerived(e Entity, tag Tag) {
	if spec, ok := s.reg.Lookup(tag); !ok || spec.Class != ClassDerived {
		return
	}
	if r, ok := s.entities[e]; ok {
		delete(r.comps, tag)
	}
}

// Has reports whether the entity exists.
func (s *Store) Has(e Entity) bool {
	_, ok := s.entities[e]
	return ok
}

// HasComponent reports whether the entity exists and carries tag.
func (s *Store) HasComponent(e Entity, tag Tag) bool {
	r, ok := s.entities[e]
	if !ok {
		return false
	}
	_, ok = r.comps[tag]
	return ok
}

// Component returns the component of e with the given tag.
func (s *Store) Component(e Entity, tag Tag) (Component, bool) {
	r, ok := s.entities[e]
	if !ok {
		return nil, false
	}
	c, ok := r.comps[tag]
	return c, ok
}

// Components returns a copy of every component attached to e.
func (s *Store) Components(e Entity) map[Tag]Component {
	r, ok := s.entities[e]
	if !ok {
		return nil
	}
	out := make(map[Tag]Component, len(r.comps))
	for t, c := range r.comps {
		out[t] = c
	}
	return out
}

// Born returns the birth order of e: a strictly increasing counter assigned
// when the entity was first created. It is the stable secondary key used to
// break ties in layout.
func (s *Store) Born(e Entity) (uint64, bool) {
	r, ok := s.entities[e]
	if !ok {
		return 0, false
	}
	return r.born, true
}

// Len returns the number of live entities.
func (s *Store) Len() int { return len(s.entities) }

// Entities yields every live entity in birth order.
func (s *Store) Entities() iter.Seq[Entity] {
	order := s.order
	return func(yield func(Entity) bool) {
		for _, sl := range order {
			if !s.alive(sl) {
				continue
			}
			if !yield(sl.e) {
				return
			}
		}
	}
}

// Query yields, in birth order, every entity whose component set is a superset
// of tags, paired with the requested components in the order of tags.
//
// The sequence is lazy and restartable: each iteration reads the live store,
// so entities destroyed before they are reached are skipped. It is not a
// stable cursor across concurrent mutation.
func (s *Store) Query(tags ...Tag) iter.Seq2[Entity, []Component] {
	return func(yield func(Entity, []Component) bool) {
		for e := range s.Entities() {
			r := s.entities[e]
			row := make([]Component, len(tags))
			match := true
			for i, t := range tags {
				c, ok := r.comps[t]
				if !ok {
					match = false
					break
				}
				row[i] = c
			}
			if match && !yield(e, row) {
				return
			}
		}
	}
}
