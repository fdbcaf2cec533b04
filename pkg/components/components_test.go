package components

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/matzehuels/pipescope/pkg/ecs"
)

func TestRegistry_Classes(t *testing.T) {
	reg := Registry()
	tests := []struct {
		tag   ecs.Tag
		class ecs.Class
	}{
		{TagNode, ecs.ClassMarker},
		{TagBin, ecs.ClassMarker},
		{TagPort, ecs.ClassRelation},
		{TagLink, ecs.ClassRelation},
		{TagEdge, ecs.ClassRelation},
		{TagParent, ecs.ClassRelation},
		{TagState, ecs.ClassAttribute},
		{TagProperties, ecs.ClassAttribute},
		{TagPosition, ecs.ClassDerived},
		{TagSize, ecs.ClassDerived},
	}
	for _, tt := range tests {
		spec, ok := reg.Lookup(tt.tag)
		if !ok {
			t.Errorf("Lookup(%q) not found", tt.tag)
			continue
		}
		if spec.Class != tt.class {
			t.Errorf("Lookup(%q).Class = %v, want %v", tt.tag, spec.Class, tt.class)
		}
	}
	if n := len(reg.Tags()); n != len(tests) {
		t.Errorf("len(Tags()) = %d, want %d", n, len(tests))
	}
}

func TestDecode(t *testing.T) {
	reg := Registry()
	tests := []struct {
		tag  ecs.Tag
		data string
		want ecs.Component
	}{
		{TagNode, `{"name":"src","factory":"videotestsrc"}`, Node{Name: "src", Factory: "videotestsrc"}},
		{TagBin, `{}`, Bin{}},
		{TagBin, ``, Bin{}},
		{TagPort, `{"direction":"output","owner":1,"name":"src"}`, Port{Direction: Output, Owner: 1, Name: "src"}},
		{TagPort, `{"direction":"sink","owner":4}`, Port{Direction: Input, Owner: 4}},
		{TagLink, `{"peer":9}`, Link{Peer: 9}},
		{TagEdge, `{"output":2,"input":3}`, Edge{Output: 2, Input: 3}},
		{TagParent, `{"bin":5}`, Parent{Bin: 5}},
		{TagState, `"playing"`, StatePlaying},
		{TagProperties, `{"is-live":"true"}`, Properties{"is-live": "true"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.tag), func(t *testing.T) {
			spec, _ := reg.Lookup(tt.tag)
			got, err := spec.Decode([]byte(tt.data))
			if err != nil {
				t.Fatalf("Decode(%s) error: %v", tt.data, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode(%s) mismatch (-want +got):\n%s", tt.data, diff)
			}
		})
	}
}

func TestDecode_Invalid(t *testing.T) {
	reg := Registry()
	bad := map[ecs.Tag]string{
		TagPort:  `{"direction":"sideways","owner":1}`,
		TagState: `"exploded"`,
		TagNode:  `{"name":`,
	}
	for tag, data := range bad {
		spec, _ := reg.Lookup(tag)
		if _, err := spec.Decode([]byte(data)); err == nil {
			t.Errorf("Decode(%s, %s): expected error", tag, data)
		}
	}
}

func TestState_Text(t *testing.T) {
	for s := StateNull; s <= StateFailed; s++ {
		b, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("Marshal(%v) error: %v", s, err)
		}
		var got State
		if err := json.Unmarshal(b, &got); err != nil || got != s {
			t.Errorf("Unmarshal(%s) = %v, %v; want %v", b, got, err, s)
		}
	}
	if _, err := json.Marshal(State(99)); err == nil {
		t.Error("Marshal(State(99)): expected error")
	}
}

func TestDirection_MarshalText(t *testing.T) {
	b, err := json.Marshal(Port{Direction: Input, Owner: 3})
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"direction":"input","owner":3}`; string(b) != want {
		t.Errorf("Marshal() = %s, want %s", b, want)
	}
	if _, err := json.Marshal(Port{}); err == nil {
		t.Error("Marshal() with zero direction: expected error")
	}
}
