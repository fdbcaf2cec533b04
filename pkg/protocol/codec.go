package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/matzehuels/pipescope/pkg/ecs"
	perrors "github.com/matzehuels/pipescope/pkg/errors"
)

// Decoder reads frames from a stream.
type Decoder struct {
	r   *bufio.Reader
	reg *ecs.Registry
	max int
}

// NewDecoder returns a decoder reading frames from r and decoding component
// values through reg.
func NewDecoder(r io.Reader, reg *ecs.Registry) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024), reg: reg, max: MaxFrameSize}
}

// Decode reads the next frame. It returns io.EOF at the end of the stream and
// other I/O errors unchanged; callers should stop on those. Malformed frames
// return an *errors.Error for which errors.IsProtocolViolation is true; the
// offending line has been consumed and decoding can continue.
func (d *Decoder) Decode() (Message, error) {
	for {
		line, err := d.readLine()
		if err != nil {
			return Message{}, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return d.parse(line)
	}
}

// Buffered reports the number of bytes read from the stream but not yet
// decoded. Zero means the next Decode will block on the underlying reader.
func (d *Decoder) Buffered() int { return d.r.Buffered() }

var errFrameTooLarge = perrors.New(perrors.ErrCodeMalformedMessage, "frame exceeds %d bytes", MaxFrameSize)

func (d *Decoder) readLine() ([]byte, error) {
	var (
		line     []byte
		overflow bool
	)
	for {
		chunk, err := d.r.ReadSlice('\n')
		if !overflow {
			if len(line)+len(chunk) > d.max {
				overflow = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 && !overflow {
				return line, nil
			}
			return nil, err
		}
		if overflow {
			return nil, errFrameTooLarge
		}
		return line, nil
	}
}

func (d *Decoder) parse(line []byte) (Message, error) {
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return Message{}, perrors.Wrap(perrors.ErrCodeMalformedMessage, err, "invalid frame")
	}
	switch f.Op {
	case OpHello:
		return Message{Kind: KindHello, Producer: f.Producer, Version: f.Version}, nil
	case OpSyncBegin:
		return Control(KindSyncBegin), nil
	case OpSyncEnd:
		return Control(KindSyncEnd), nil
	case OpPing:
		return Control(KindPing), nil
	}

	op, ok := ecs.ParseOp(f.Op)
	if !ok {
		return Message{}, perrors.New(perrors.ErrCodeMalformedMessage, "unknown op %q", f.Op)
	}
	m := ecs.Mutation{Op: op, Entity: ecs.Entity(f.Entity), Seq: f.Seq, Tag: ecs.Tag(f.Tag)}
	switch op {
	case ecs.OpSet:
		if f.Tag == "" {
			return Message{}, perrors.New(perrors.ErrCodeMalformedMessage, "set on entity %d without a tag", f.Entity)
		}
		spec, ok := d.reg.Lookup(m.Tag)
		if !ok {
			return Message{}, perrors.New(perrors.ErrCodeUnknownComponent, "unknown component tag %q", f.Tag)
		}
		if spec.Decode == nil {
			return Message{}, perrors.New(perrors.ErrCodeUnknownComponent, "component %q has no wire encoding", f.Tag)
		}
		v, err := spec.Decode(f.Value)
		if err != nil {
			return Message{}, perrors.Wrap(perrors.ErrCodeMalformedMessage, err, "set %s on entity %d", f.Tag, f.Entity)
		}
		m.Value = v
	case ecs.OpUnset:
		if f.Tag == "" {
			return Message{}, perrors.New(perrors.ErrCodeMalformedMessage, "unset on entity %d without a tag", f.Entity)
		}
	}
	return Mutate(m), nil
}

// Encoder writes frames to a stream. It is safe for concurrent use; each
// frame is written with a single Write call.
type Encoder struct {
	mu  sync.Mutex
	w   io.Writer
	buf bytes.Buffer
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes msg as one frame.
func (e *Encoder) Encode(msg Message) error {
	f, err := toFrame(msg)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buf.Reset()
	if err := json.NewEncoder(&e.buf).Encode(f); err != nil {
		return perrors.Wrap(perrors.ErrCodeMalformedMessage, err, "encode %s frame", f.Op)
	}
	_, err = e.w.Write(e.buf.Bytes())
	return err
}

func toFrame(msg Message) (Frame, error) {
	switch msg.Kind {
	case KindHello:
		return Frame{Op: OpHello, Producer: msg.Producer, Version: msg.Version}, nil
	case KindSyncBegin:
		return Frame{Op: OpSyncBegin}, nil
	case KindSyncEnd:
		return Frame{Op: OpSyncEnd}, nil
	case KindPing:
		return Frame{Op: OpPing}, nil
	case KindMutation:
	default:
		return Frame{}, perrors.New(perrors.ErrCodeInvalidInput, "unknown message kind %v", msg.Kind)
	}

	m := msg.Mutation
	f := Frame{Op: m.Op.String(), Entity: uint64(m.Entity), Seq: m.Seq, Tag: string(m.Tag)}
	switch m.Op {
	case ecs.OpCreate, ecs.OpDestroy:
		f.Tag = ""
	case ecs.OpSet:
		if m.Value == nil {
			return Frame{}, perrors.New(perrors.ErrCodeInvalidInput, "set on entity %d without a value", m.Entity)
		}
		f.Tag = string(m.Value.Tag())
		v, err := json.Marshal(m.Value)
		if err != nil {
			return Frame{}, perrors.Wrap(perrors.ErrCodeInvalidInput, err, "encode %s on entity %d", f.Tag, m.Entity)
		}
		f.Value = v
	case ecs.OpUnset:
	default:
		return Frame{}, perrors.New(perrors.ErrCodeInvalidInput, "unknown operation %v", m.Op)
	}
	return f, nil
}
