package dag

import (
	"cmp"
	"errors"
	"maps"
	"slices"

	"github.com/matzehuels/pipescope/pkg/ecs"
)

// Errors returned while building a DAG.
var (
	ErrInvalidNodeID     = errors.New("node ID must not be nil")
	ErrDuplicateNodeID   = errors.New("duplicate node ID")
	ErrUnknownSourceNode = errors.New("unknown source node")
	ErrUnknownTargetNode = errors.New("unknown target node")
	// ErrSelfLoop rejects an edge from a node to itself. Self-loops are
	// drawn as decorations and never take part in layering.
	ErrSelfLoop = errors.New("self-loop")
)

// Errors returned by [DAG.Validate].
var (
	ErrInvalidEdgeEndpoint = errors.New("edge endpoint not in graph")
	ErrNonConsecutiveRows  = errors.New("edge does not go down exactly one row")
	ErrNegativeRow         = errors.New("negative row")
)

// NodeKind tells layout items from synthetic nodes.
type NodeKind int

const (
	// NodeKindRegular represents a layout item: a pipeline node or a bin.
	NodeKindRegular NodeKind = iota
	// NodeKindSubdivider represents a synthetic node inserted to subdivide a
	// long edge. Subdividers maintain a MasterID linking to the edge source.
	NodeKindSubdivider
)

// Node is a vertex of the layered graph.
//
// Key is the stable ordering key of the node, normally the birth order of its
// entity. Every traversal that has to pick among equal candidates does so by
// Key, which keeps the layout deterministic.
type Node struct {
	ID  ecs.Entity
	Key uint64
	Row int // Layer assignment (0 = sources)

	Kind NodeKind
	// MasterID is the source of the edge a subdivider belongs to.
	MasterID ecs.Entity
	// Target is the far end of the edge a subdivider belongs to.
	Target ecs.Entity
}

// IsSubdivider reports whether the node was inserted to break a long edge.
func (n Node) IsSubdivider() bool { return n.Kind == NodeKindSubdivider }

// Edge is a directed connection. Reversed marks an edge that points against
// its original direction after cycle breaking.
type Edge struct {
	From     ecs.Entity
	To       ecs.Entity
	Reversed bool
}

// DAG is a directed graph organized into rows (layers) for layered drawing.
// It starts out as an arbitrary directed graph; the transform package makes
// it acyclic and assigns rows.
//
// Use [New]; the zero value has nil maps. A DAG is owned by one goroutine.
type DAG struct {
	nodes    map[ecs.Entity]*Node
	edges    []Edge
	outgoing map[ecs.Entity][]ecs.Entity
	incoming map[ecs.Entity][]ecs.Entity
	rows     map[int][]*Node
	synth    ecs.Entity
}

// New creates an empty DAG.
func New() *DAG {
	return &DAG{
		nodes:    make(map[ecs.Entity]*Node),
		outgoing: make(map[ecs.Entity][]ecs.Entity),
		incoming: make(map[ecs.Entity][]ecs.Entity),
		rows:     make(map[int][]*Node),
		synth:    ^ecs.Entity(0),
	}
}

// AddNode adds a node to the graph and indexes it by its Row.
func (d *DAG) AddNode(n Node) error {
	if n.ID == ecs.Nil {
		return ErrInvalidNodeID
	}
	if _, exists := d.nodes[n.ID]; exists {
		return ErrDuplicateNodeID
	}
	node := &n
	d.nodes[node.ID] = node
	d.rows[node.Row] = append(d.rows[node.Row], node)
	return nil
}

// SyntheticID returns an ID for a synthetic node that is not used by any node
// in the graph. Synthetic IDs are allocated downward from the top of the ID
// space.
func (d *DAG) SyntheticID() ecs.Entity {
	for {
		id := d.synth
		d.synth--
		if _, used := d.nodes[id]; !used {
			return id
		}
	}
}

// SetRows updates the row assignments for nodes and rebuilds the row index.
// Nodes not present in the rows map retain their current row assignment.
func (d *DAG) SetRows(rows map[ecs.Entity]int) {
	d.rows = make(map[int][]*Node)
	for _, n := range d.Nodes() {
		if newRow, ok := rows[n.ID]; ok {
			n.Row = newRow
		}
		d.rows[n.Row] = append(d.rows[n.Row], n)
	}
}

// AddEdge adds a directed edge between two existing nodes. Adding an edge
// that already exists is a no-op.
func (d *DAG) AddEdge(e Edge) error {
	if _, ok := d.nodes[e.From]; !ok {
		return ErrUnknownSourceNode
	}
	if _, ok := d.nodes[e.To]; !ok {
		return ErrUnknownTargetNode
	}
	if e.From == e.To {
		return ErrSelfLoop
	}
	if d.HasEdge(e.From, e.To) {
		return nil
	}
	d.edges = append(d.edges, e)
	d.outgoing[e.From] = append(d.outgoing[e.From], e.To)
	d.incoming[e.To] = append(d.incoming[e.To], e.From)
	return nil
}

// HasEdge reports whether the edge from→to exists.
func (d *DAG) HasEdge(from, to ecs.Entity) bool {
	return slices.Contains(d.outgoing[from], to)
}

// RemoveEdge removes the edge from→to if it exists.
func (d *DAG) RemoveEdge(from, to ecs.Entity) {
	d.edges = slices.DeleteFunc(d.edges, func(e Edge) bool { return e.From == from && e.To == to })
	d.outgoing[from] = slices.DeleteFunc(d.outgoing[from], func(s ecs.Entity) bool { return s == to })
	d.incoming[to] = slices.DeleteFunc(d.incoming[to], func(s ecs.Entity) bool { return s == from })
}

// ReverseEdge replaces from→to with to→from marked as reversed. If to→from
// already exists the two collapse into one edge.
func (d *DAG) ReverseEdge(from, to ecs.Entity) {
	if !d.HasEdge(from, to) {
		return
	}
	d.RemoveEdge(from, to)
	if d.HasEdge(to, from) {
		return
	}
	d.edges = append(d.edges, Edge{From: to, To: from, Reversed: true})
	d.outgoing[to] = append(d.outgoing[to], from)
	d.incoming[from] = append(d.incoming[from], to)
}

// Nodes returns all nodes ordered by Key, then ID. The returned slice
// contains pointers to the actual node structs, so modifications affect the
// graph.
func (d *DAG) Nodes() []*Node {
	nodes := slices.Collect(maps.Values(d.nodes))
	slices.SortFunc(nodes, CompareNodes)
	return nodes
}

// CompareNodes orders nodes by Key, then ID.
func CompareNodes(a, b *Node) int {
	if c := cmp.Compare(a.Key, b.Key); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Edges returns a copy of all edges in insertion order.
func (d *DAG) Edges() []Edge { return slices.Clone(d.edges) }

func (d *DAG) NodeCount() int { return len(d.nodes) }
func (d *DAG) EdgeCount() int { return len(d.edges) }

// Children returns the IDs of the edge targets of id. The returned slice
// should not be modified.
func (d *DAG) Children(id ecs.Entity) []ecs.Entity { return d.outgoing[id] }

// Parents returns the IDs of the edge sources of id. The returned slice
// should not be modified.
func (d *DAG) Parents(id ecs.Entity) []ecs.Entity { return d.incoming[id] }

func (d *DAG) OutDegree(id ecs.Entity) int { return len(d.outgoing[id]) }
func (d *DAG) InDegree(id ecs.Entity) int { return len(d.incoming[id]) }

// Node returns the node with the given ID.
func (d *DAG) Node(id ecs.Entity) (*Node, bool) {
	n, ok := d.nodes[id]
	return n, ok
}

// NodesInRow returns all nodes assigned to the given row, in Key order after
// SetRows. The returned slice contains pointers to the actual nodes.
func (d *DAG) NodesInRow(row int) []*Node { return d.rows[row] }

// RowCount returns the number of non-empty rows.
func (d *DAG) RowCount() int { return len(d.rows) }

// RowIDs returns all row indices in sorted ascending order.
func (d *DAG) RowIDs() []int {
	return slices.Sorted(maps.Keys(d.rows))
}

// MaxRow returns the highest row index, or 0 if the graph is empty.
func (d *DAG) MaxRow() int {
	top := 0
	for r := range d.rows {
		top = max(top, r)
	}
	return top
}

// Sources returns the nodes without parents, in Key order.
func (d *DAG) Sources() []*Node {
	return slices.DeleteFunc(d.Nodes(), func(n *Node) bool { return len(d.incoming[n.ID]) > 0 })
}

// Validate checks that the graph is ready for ordering: no row is negative
// and every edge goes from some row r to row r+1. The second condition
// also makes the graph acyclic, so no separate cycle search is needed.
func (d *DAG) Validate() error {
	for _, n := range d.nodes {
		if n.Row < 0 {
			return ErrNegativeRow
		}
	}
	for _, e := range d.edges {
		from, ok1 := d.nodes[e.From]
		to, ok2 := d.nodes[e.To]
		switch {
		case !ok1 || !ok2:
			return ErrInvalidEdgeEndpoint
		case to.Row-from.Row != 1:
			return ErrNonConsecutiveRows
		}
	}
	return nil
}

// PosMap maps each id to its index in ids.
func PosMap(ids []ecs.Entity) map[ecs.Entity]int {
	m := make(map[ecs.Entity]int, len(ids))
	for i, id := range ids {
		m[id] = i
	}
	return m
}

// NodeIDs returns the ids of nodes, in order.
func NodeIDs(nodes []*Node) []ecs.Entity {
	ids := make([]ecs.Entity, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}
