package graph

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/matzehuels/pipescope/pkg/components"
	"github.com/matzehuels/pipescope/pkg/ecs"
	perrors "github.com/matzehuels/pipescope/pkg/errors"
	"github.com/matzehuels/pipescope/pkg/model"
)

func newStore(t *testing.T, ms ...ecs.Mutation) *ecs.Store {
	t.Helper()
	s := ecs.NewStore(components.Registry())
	for _, m := range ms {
		if _, err := s.Apply(m); err != nil {
			t.Fatalf("Apply(%v): %v", m, err)
		}
	}
	return s
}

func pipeline(t *testing.T) *ecs.Store {
	return newStore(t,
		ecs.Set(1, components.Node{Name: "src", Factory: "audiotestsrc"}),
		ecs.Set(1, components.StatePlaying),
		ecs.Set(2, components.Port{Direction: components.Output, Owner: 1}),
		ecs.Set(3, components.Node{Name: "sink"}),
		ecs.Set(3, components.Properties{"sync": "false"}),
		ecs.Set(4, components.Port{Direction: components.Input, Owner: 3}),
		ecs.Set(2, components.Link{Peer: 4}),
		ecs.Create(5),
	)
}

func TestFromStore(t *testing.T) {
	s := pipeline(t)
	if err := s.SetDerived(1, components.Position{X: 1, Y: 2}); err != nil {
		t.Fatalf("SetDerived: %v", err)
	}

	doc, err := FromStore(s)
	if err != nil {
		t.Fatalf("FromStore: %v", err)
	}
	if doc.Version != FormatVersion || doc.Len() != 5 {
		t.Fatalf("doc = version %d with %d entities, want %d with 5", doc.Version, doc.Len(), FormatVersion)
	}
	var ids []uint64
	for _, e := range doc.Entities {
		ids = append(ids, e.ID)
	}
	if diff := cmp.Diff([]uint64{1, 2, 3, 4, 5}, ids); diff != "" {
		t.Errorf("entity order (-want +got):\n%s", diff)
	}
	if _, ok := doc.Entities[0].Components["position"]; ok {
		t.Error("derived position was serialized")
	}
	if got := string(doc.Entities[0].Components["state"]); got != `"playing"` {
		t.Errorf("state = %s, want \"playing\"", got)
	}
	if doc.Entities[4].Components != nil {
		t.Errorf("bare entity components = %v, want none", doc.Entities[4].Components)
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	src := pipeline(t)
	doc, err := FromStore(src)
	if err != nil {
		t.Fatalf("FromStore: %v", err)
	}
	data, err := MarshalDocument(doc)
	if err != nil {
		t.Fatalf("MarshalDocument: %v", err)
	}
	decoded, err := UnmarshalDocument(data)
	if err != nil {
		t.Fatalf("UnmarshalDocument: %v", err)
	}
	muts, err := decoded.Mutations(components.Registry())
	if err != nil {
		t.Fatalf("Mutations: %v", err)
	}
	dst := newStore(t, muts...)

	want := model.Build(src)
	got := model.Build(dst)
	if diff := cmp.Diff(FromSnapshot(want), FromSnapshot(got)); diff != "" {
		t.Errorf("topology after round trip (-want +got):\n%s", diff)
	}
	if !dst.Has(5) {
		t.Error("bare entity 5 lost")
	}
}

func TestDocumentMutationsErrors(t *testing.T) {
	reg := components.Registry()
	tests := []struct {
		name string
		doc  Document
		code perrors.Code
	}{
		{
			name: "NewerVersion",
			doc:  Document{Version: FormatVersion + 1},
			code: perrors.ErrCodeInvalidFormat,
		},
		{
			name: "NilEntity",
			doc:  Document{Version: 1, Entities: []Entity{{ID: 0}}},
			code: perrors.ErrCodeInvalidEntity,
		},
		{
			name: "UnknownComponent",
			doc: Document{Version: 1, Entities: []Entity{{
				ID:         1,
				Components: map[string]json.RawMessage{"color": json.RawMessage(`"red"`)},
			}}},
			code: perrors.ErrCodeUnknownComponent,
		},
		{
			name: "BadValue",
			doc: Document{Version: 1, Entities: []Entity{{
				ID:         1,
				Components: map[string]json.RawMessage{"port": json.RawMessage(`{"direction":"sideways"}`)},
			}}},
			code: perrors.ErrCodeInvalidFormat,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.doc.Mutations(reg)
			if !perrors.Is(err, tt.code) {
				t.Errorf("Mutations() error = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestDocumentMutationsSkipsDerived(t *testing.T) {
	doc := Document{Version: 1, Entities: []Entity{{
		ID: 1,
		Components: map[string]json.RawMessage{
			"node":     json.RawMessage(`{"name":"a"}`),
			"position": json.RawMessage(`{"x":1,"y":1}`),
		},
	}}}
	muts, err := doc.Mutations(components.Registry())
	if err != nil {
		t.Fatalf("Mutations: %v", err)
	}
	if len(muts) != 2 || muts[1].Tag != components.TagNode {
		t.Errorf("mutations = %v, want create and set node", muts)
	}
}

func TestDocumentFile(t *testing.T) {
	doc, err := FromStore(pipeline(t))
	if err != nil {
		t.Fatalf("FromStore: %v", err)
	}
	path := filepath.Join(t.TempDir(), "session.json")
	if err := WriteDocumentFile(doc, path); err != nil {
		t.Fatalf("WriteDocumentFile: %v", err)
	}
	got, err := ReadDocumentFile(path)
	if err != nil {
		t.Fatalf("ReadDocumentFile: %v", err)
	}
	want, _ := MarshalDocument(doc)
	again, _ := MarshalDocument(got)
	if diff := cmp.Diff(string(want), string(again)); diff != "" {
		t.Errorf("file round trip (-want +got):\n%s", diff)
	}
	if _, err := ReadDocumentFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("reading a missing file succeeded")
	}
}

func TestWriteEmptyDocument(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteDocument(Document{Version: 1}, &buf); err != nil {
		t.Fatalf("WriteDocument: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"entities": []`)) {
		t.Errorf("empty document = %s, want an empty entities array", buf.String())
	}
}

func TestFromSnapshot(t *testing.T) {
	s := pipeline(t)
	s.Apply(ecs.Set(6, components.Edge{Output: 2, Input: 99}))
	topo := FromSnapshot(model.Build(s))

	if len(topo.Nodes) != 2 || topo.Nodes[0].State != "playing" || topo.Nodes[1].State != "null" {
		t.Errorf("nodes = %+v, want src playing and sink null", topo.Nodes)
	}
	want := []Edge{{From: 1, To: 3, Output: 2, Input: 4}}
	if diff := cmp.Diff(want, topo.Edges); diff != "" {
		t.Errorf("edges (-want +got):\n%s", diff)
	}
	if len(topo.Pending) != 1 || topo.Pending[0].Reason != "missing_port" {
		t.Errorf("pending = %+v, want one missing_port", topo.Pending)
	}
	if topo.Ports[0].Direction != "output" {
		t.Errorf("port direction = %q, want output", topo.Ports[0].Direction)
	}
}
