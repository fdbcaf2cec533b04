package layout

import (
	"github.com/matzehuels/pipescope/pkg/components"
	"github.com/matzehuels/pipescope/pkg/ecs"
	"github.com/matzehuels/pipescope/pkg/model"
)

// Item is a placed node or bin. It carries geometry only; names, states
// and other attributes live in the snapshot, which attribute updates keep
// current without a relayout.
type Item struct {
	ID        ecs.Entity `json:"id"`
	IsBin     bool       `json:"is_bin,omitempty"`
	Container ecs.Entity `json:"container,omitempty"`

	// Layer and Order locate the item in the layered drawing of its
	// container. Component is the index of its connected component there.
	Layer     int `json:"layer"`
	Order     int `json:"order"`
	Component int `json:"component"`

	Position components.Position `json:"position"`
	Size     components.Size     `json:"size"`
	// Fallback is set when the item's component failed the invariant
	// check and was placed by the degenerate single-layer layout.
	Fallback bool `json:"fallback,omitempty"`
}

// Route is the drawing of one resolved edge. Edges between nodes in
// different bins are drawn at the lowest container holding both; From and To
// are the items at that level the edge is routed between.
type Route struct {
	model.Edge
	Level ecs.Entity `json:"level,omitempty"`
	From  ecs.Entity `json:"from"`
	To    ecs.Entity `json:"to"`
	// Feedback marks an edge reversed to break a cycle. It points against
	// the layer direction.
	Feedback bool `json:"feedback,omitempty"`
	// Loop marks an edge whose ends fall on the same item, such as a
	// self-loop. Loops do not take part in layering and have no points.
	Loop   bool                  `json:"loop,omitempty"`
	Points []components.Position `json:"points,omitempty"`
}

// Result is an immutable computed layout.
type Result struct {
	// Version counts relayouts; it changes whenever the layout does.
	Version uint64  `json:"version"`
	Items   []Item  `json:"items"`
	Routes  []Route `json:"routes"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`

	// Pending edges and orphan ports are excluded from layout; they are
	// passed through for the rendering boundary to place.
	Pending []model.PendingEdge `json:"pending,omitempty"`
	Orphans []ecs.Entity        `json:"orphans,omitempty"`

	// Anomalies lists invariant violations that forced a fallback layout.
	Anomalies []string `json:"anomalies,omitempty"`

	index map[ecs.Entity]int
}

// Item returns the placed item with the given id.
func (r *Result) Item(id ecs.Entity) (Item, bool) {
	if r == nil {
		return Item{}, false
	}
	i, ok := r.index[id]
	if !ok {
		return Item{}, false
	}
	return r.Items[i], true
}

// Layer returns the layer of id, or -1 if it is not part of the layout.
func (r *Result) Layer(id ecs.Entity) int {
	it, ok := r.Item(id)
	if !ok {
		return -1
	}
	return it.Layer
}

// Empty reports whether the layout has no items.
func (r *Result) Empty() bool { return r == nil || len(r.Items) == 0 }

func (r *Result) reindex() {
	r.index = make(map[ecs.Entity]int, len(r.Items))
	for i, it := range r.Items {
		r.index[it.ID] = i
	}
}

// Decorate rebuilds the lookup index after decoding a Result.
func (r *Result) Decorate() { r.reindex() }
