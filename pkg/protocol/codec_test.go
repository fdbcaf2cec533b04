package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/matzehuels/pipescope/pkg/components"
	"github.com/matzehuels/pipescope/pkg/ecs"
	perrors "github.com/matzehuels/pipescope/pkg/errors"
)

func TestRoundTrip(t *testing.T) {
	msgs := []Message{
		Hello("test/1"),
		Control(KindSyncBegin),
		Mutate(ecs.Create(1).WithSeq(1)),
		Mutate(ecs.Set(1, components.Node{Name: "src", Factory: "videotestsrc"}).WithSeq(2)),
		Mutate(ecs.Set(2, components.Port{Direction: components.Output, Owner: 1, Name: "src"}).WithSeq(3)),
		Mutate(ecs.Set(1, components.StatePlaying).WithSeq(4)),
		Mutate(ecs.Set(1, components.Properties{"num-buffers": "100"}).WithSeq(5)),
		Mutate(ecs.Unset(2, components.TagLink).WithSeq(6)),
		Mutate(ecs.Destroy(1).WithSeq(7)),
		Control(KindSyncEnd),
		Control(KindPing),
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, m := range msgs {
		if err := enc.Encode(m); err != nil {
			t.Fatalf("Encode(%v) error: %v", m, err)
		}
	}

	dec := NewDecoder(&buf, components.Registry())
	var got []Message
	for {
		m, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Decode() error: %v", err)
		}
		got = append(got, m)
	}
	if diff := cmp.Diff(msgs, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncode_Wire(t *testing.T) {
	var buf bytes.Buffer
	m := ecs.Set(2, components.Link{Peer: 3}).WithSeq(7)
	if err := NewEncoder(&buf).Encode(Mutate(m)); err != nil {
		t.Fatal(err)
	}
	want := `{"op":"set","entity":2,"seq":7,"tag":"link","value":{"peer":3}}` + "\n"
	if buf.String() != want {
		t.Errorf("Encode() = %q, want %q", buf.String(), want)
	}
}

func TestDecode_MalformedContinues(t *testing.T) {
	input := strings.Join([]string{
		`{"op":"create","entity":1}`,
		`not json`,
		`{"op":"explode","entity":1}`,
		`{"op":"set","entity":1,"tag":"color","value":{}}`,
		`{"op":"set","entity":1,"value":{}}`,
		`{"op":"set","entity":1,"tag":"state","value":"sideways"}`,
		`{"op":"unset","entity":1}`,
		``,
		`{"op":"destroy","entity":1}`,
	}, "\n")
	dec := NewDecoder(strings.NewReader(input), components.Registry())

	wantCodes := []perrors.Code{
		"",
		perrors.ErrCodeMalformedMessage,
		perrors.ErrCodeMalformedMessage,
		perrors.ErrCodeUnknownComponent,
		perrors.ErrCodeMalformedMessage,
		perrors.ErrCodeMalformedMessage,
		perrors.ErrCodeMalformedMessage,
		"",
	}
	for i, want := range wantCodes {
		_, err := dec.Decode()
		if want == "" {
			if err != nil {
				t.Errorf("frame %d: unexpected error %v", i, err)
			}
			continue
		}
		if !perrors.Is(err, want) || !perrors.IsProtocolViolation(err) {
			t.Errorf("frame %d: error = %v, want %s", i, err, want)
		}
	}
	if _, err := dec.Decode(); !errors.Is(err, io.EOF) {
		t.Errorf("Decode() at end = %v, want io.EOF", err)
	}
}

func TestDecode_FrameTooLarge(t *testing.T) {
	big := `{"op":"set","entity":1,"tag":"node","value":{"name":"` + strings.Repeat("x", MaxFrameSize) + `"}}`
	input := big + "\n" + `{"op":"create","entity":2}` + "\n"
	dec := NewDecoder(strings.NewReader(input), components.Registry())

	if _, err := dec.Decode(); !perrors.Is(err, perrors.ErrCodeMalformedMessage) {
		t.Fatalf("Decode() oversized = %v, want malformed", err)
	}
	m, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode() after oversized frame error: %v", err)
	}
	if m.Mutation.Entity != 2 {
		t.Errorf("entity = %d, want 2", m.Mutation.Entity)
	}
}

func TestDecode_TrailingFrameWithoutNewline(t *testing.T) {
	dec := NewDecoder(strings.NewReader(`{"op":"ping"}`), components.Registry())
	m, err := dec.Decode()
	if err != nil || m.Kind != KindPing {
		t.Errorf("Decode() = %v, %v; want ping", m.Kind, err)
	}
}

func TestEncode_Invalid(t *testing.T) {
	enc := NewEncoder(io.Discard)
	tests := []Message{
		Mutate(ecs.Mutation{Op: ecs.OpSet, Entity: 1}),
		Mutate(ecs.Mutation{Op: 0, Entity: 1}),
		{Kind: Kind(42)},
	}
	for _, m := range tests {
		if err := enc.Encode(m); err == nil {
			t.Errorf("Encode(%+v): expected error", m)
		}
	}
}

func TestSequencer(t *testing.T) {
	var s Sequencer
	a := s.Stamp(ecs.Create(1))
	b := s.Stamp(ecs.Create(2))
	if a.Seq != 1 || b.Seq != 2 || s.Last() != 2 {
		t.Errorf("seqs = %d, %d, last %d", a.Seq, b.Seq, s.Last())
	}
}
