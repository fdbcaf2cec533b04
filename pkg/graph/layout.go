package graph

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/matzehuels/pipescope/pkg/layout"
	"github.com/matzehuels/pipescope/pkg/model"
)

// =============================================================================
// Scene - Renderable Topology
// =============================================================================

// Scene pairs a topology with its layout. It is everything a renderer needs
// and is what the API serves.
type Scene struct {
	Topology Topology       `json:"topology" bson:"topology"`
	Layout   *layout.Result `json:"layout" bson:"layout"`
}

// NewScene builds a Scene from a snapshot and the layout computed for it.
func NewScene(snap *model.Snapshot, res *layout.Result) Scene {
	return Scene{Topology: FromSnapshot(snap), Layout: res}
}

// MarshalScene serializes a Scene to pretty-printed JSON bytes.
func MarshalScene(s Scene) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// UnmarshalScene deserializes JSON bytes into a Scene. The layout index is
// rebuilt so item lookups work on the decoded value.
func UnmarshalScene(data []byte) (Scene, error) {
	var s Scene
	if err := json.Unmarshal(data, &s); err != nil {
		return Scene{}, fmt.Errorf("unmarshal scene: %w", err)
	}
	if s.Layout == nil {
		return Scene{}, fmt.Errorf("scene has no layout")
	}
	s.Layout.Decorate()
	return s, nil
}

// WriteSceneFile writes a Scene to a JSON file.
func WriteSceneFile(s Scene, path string) error {
	data, err := MarshalScene(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ReadSceneFile reads a Scene from a JSON file.
func ReadSceneFile(path string) (Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scene{}, fmt.Errorf("read %s: %w", path, err)
	}
	return UnmarshalScene(data)
}
