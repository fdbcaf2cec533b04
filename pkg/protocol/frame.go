// Package protocol implements the wire format of the mutation stream.
//
// A stream is a sequence of newline-delimited JSON frames. Mutation frames
// carry one store operation:
//
//	{"op":"create","entity":1,"seq":1}
//	{"op":"set","entity":2,"seq":7,"tag":"port","value":{"direction":"output","owner":1}}
//	{"op":"unset","entity":2,"seq":8,"tag":"link"}
//	{"op":"destroy","entity":1,"seq":9}
//
// Control frames frame a producer session:
//
//	{"op":"hello","producer":"gst-launch/4411","version":1}
//	{"op":"sync_begin"}
//	{"op":"sync_end"}
//	{"op":"ping"}
//
// After every (re)connection the producer sends hello, then its full state
// between sync_begin and sync_end, then incremental mutations.
//
// Component values are decoded through an [ecs.Registry], so the protocol
// knows nothing about concrete component types. A malformed frame yields a
// protocol-violation error from [Decoder.Decode]; the stream stays usable and
// the next call reads the next frame.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/matzehuels/pipescope/pkg/ecs"
)

// Version is the protocol version announced in hello frames.
const Version = 1

// Control frame operations.
const (
	OpHello     = "hello"
	OpSyncBegin = "sync_begin"
	OpSyncEnd   = "sync_end"
	OpPing      = "ping"
)

// MaxFrameSize bounds the length of one frame, newline included.
const MaxFrameSize = 1 << 20

// Frame is the JSON envelope of every message on the wire.
type Frame struct {
	Op       string          `json:"op"`
	Entity   uint64          `json:"entity,omitempty"`
	Seq      uint64          `json:"seq,omitempty"`
	Tag      string          `json:"tag,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Producer string          `json:"producer,omitempty"`
	Version  int             `json:"version,omitempty"`
}

// Kind classifies a decoded message.
type Kind int

const (
	KindMutation Kind = iota
	KindHello
	KindSyncBegin
	KindSyncEnd
	KindPing
)

func (k Kind) String() string {
	switch k {
	case KindMutation:
		return "mutation"
	case KindHello:
		return OpHello
	case KindSyncBegin:
		return OpSyncBegin
	case KindSyncEnd:
		return OpSyncEnd
	case KindPing:
		return OpPing
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Message is a decoded frame.
type Message struct {
	Kind     Kind
	Mutation ecs.Mutation // KindMutation only
	Producer string       // KindHello only
	Version  int          // KindHello only
}

// Hello returns a hello control message.
func Hello(producer string) Message {
	return Message{Kind: KindHello, Producer: producer, Version: Version}
}

// Control returns a body-less control message of the given kind.
func Control(k Kind) Message { return Message{Kind: k} }

// Mutate wraps a mutation in a message.
func Mutate(m ecs.Mutation) Message { return Message{Kind: KindMutation, Mutation: m} }
