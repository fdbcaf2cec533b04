package protocol

import (
	"sync/atomic"

	"github.com/matzehuels/pipescope/pkg/ecs"
)

// Sequencer stamps outgoing mutations with a producer-wide increasing
// sequence number. A single counter is monotonic per entity component as
// well, which is what the store orders by.
type Sequencer struct {
	n atomic.Uint64
}

// Stamp returns m carrying the next sequence number.
func (s *Sequencer) Stamp(m ecs.Mutation) ecs.Mutation {
	return m.WithSeq(s.n.Add(1))
}

// Last returns the most recently issued sequence number.
func (s *Sequencer) Last() uint64 { return s.n.Load() }
