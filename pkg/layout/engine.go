package layout

import (
	"cmp"
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/pipescope/pkg/components"
	"github.com/matzehuels/pipescope/pkg/ecs"
	perrors "github.com/matzehuels/pipescope/pkg/errors"
	"github.com/matzehuels/pipescope/pkg/model"
	"github.com/matzehuels/pipescope/pkg/observability"
)

// State is the state of the layout engine.
type State int

const (
	// Clean means the cached result matches the topology.
	Clean State = iota
	// Dirty means a topological change arrived since the last relayout.
	Dirty
	// Relayout means a relayout is in progress.
	Relayout
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	case Relayout:
		return "relayout"
	}
	return "unknown"
}

// Stats counts engine activity.
type Stats struct {
	Relayouts int // full relayout passes
	Reused    int // component placements served from cache
	Computed  int // component placements computed
	Anomalies int // placements that fell back to the degenerate layout
}

// Engine computes layouts incrementally. It is owned by the model goroutine
// and is not safe for concurrent use.
type Engine struct {
	cfg    Config
	sizer  Sizer
	logger *log.Logger

	state   State
	result  *Result
	version uint64
	cache   map[uint64]*placement
	stats   Stats

	// Y offsets of components within their level, keyed by the component's
	// oldest member. offsets is from the last relayout; next is being built.
	offsets, next map[ecs.Entity]float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the spacing parameters.
func WithConfig(c Config) Option { return func(e *Engine) { e.cfg = c } }

// WithSizer sets the node size provider.
func WithSizer(s Sizer) Option { return func(e *Engine) { e.sizer = s } }

// WithLogger sets the logger used for anomalies.
func WithLogger(l *log.Logger) Option { return func(e *Engine) { e.logger = l } }

// New returns a Clean engine holding the empty layout of an empty graph.
// The first topological change observed makes it Dirty.
func New(opts ...Option) *Engine {
	e := &Engine{
		cfg:    DefaultConfig(),
		sizer:  DefaultSizer,
		logger: log.Default(),
		state:  Clean,
		result: &Result{},
		cache:  make(map[uint64]*placement),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// State returns the current engine state.
func (e *Engine) State() State { return e.state }

// Stats returns the activity counters.
func (e *Engine) Stats() Stats { return e.stats }

// Result returns the current layout.
func (e *Engine) Result() *Result { return e.result }

// Observe feeds one applied change to the engine. Only topological changes
// mark the layout dirty.
func (e *Engine) Observe(ch ecs.Change) {
	if ch.Applied && ch.Topology {
		e.state = Dirty
	}
}

// Invalidate forces the next Update to relayout.
func (e *Engine) Invalidate() { e.state = Dirty }

// Update returns the layout for snap. When the engine is Clean the cached
// result is returned unchanged. Otherwise a relayout runs, positions and
// sizes are written back to s as derived components, and the engine returns
// to Clean. s may be nil when no write-back is wanted.
func (e *Engine) Update(ctx context.Context, s *ecs.Store, snap *model.Snapshot) *Result {
	if e.state == Clean {
		return e.result
	}
	e.state = Relayout
	start := time.Now()
	before := e.stats

	e.version++
	res := e.compute(snap)
	if s != nil {
		e.writeBack(s, res)
	}

	e.result = res
	e.state = Clean
	e.stats.Relayouts++

	var err error
	if n := e.stats.Anomalies - before.Anomalies; n > 0 {
		err = perrors.New(perrors.ErrCodeLayoutInvariant, "%d component(s) fell back", n)
	}
	comps := (e.stats.Reused - before.Reused) + (e.stats.Computed - before.Computed)
	observability.Layout().OnRelayout(ctx, len(res.Items), comps, e.stats.Reused-before.Reused, time.Since(start), err)
	e.logger.Debug("relayout", "version", res.Version, "items", len(res.Items), "components", comps, "reused", e.stats.Reused-before.Reused)
	return res
}

// Compute lays out snap once with a fresh engine, for callers that hold a
// snapshot but never observed the changes that built it.
func Compute(ctx context.Context, snap *model.Snapshot, opts ...Option) *Result {
	e := New(opts...)
	e.Invalidate()
	return e.Update(ctx, nil, snap)
}

// levelLayout is the layout of the direct members of one container, in the
// container's local coordinates.
type levelLayout struct {
	slots    map[ecs.Entity]levelSlot
	routes   map[pair][]components.Position
	feedback map[pair]bool
	sizes    map[ecs.Entity]components.Size // overrides from fallback placements
	width    float64
	height   float64
}

type levelSlot struct {
	slot
	component int
	fallback  bool
}

func (e *Engine) compute(snap *model.Snapshot) *Result {
	e.next = make(map[ecs.Entity]float64)
	defer func() { e.offsets, e.next = e.next, nil }()

	res := &Result{Version: e.version, Pending: snap.Pending}
	for _, p := range snap.Orphans() {
		res.Orphans = append(res.Orphans, p.ID)
	}

	info := make(map[ecs.Entity]model.NodeInfo, len(snap.Nodes))
	for _, n := range snap.Nodes {
		info[n.ID] = n
	}

	levelEdges := make(map[ecs.Entity][]pair)
	seen := make(map[ecs.Entity]map[pair]bool)
	res.Routes = make([]Route, 0, len(snap.Edges))
	for _, ed := range snap.Edges {
		lvl, a, b := lift(info, ed.Source, ed.Target)
		r := Route{Edge: ed, Level: lvl, From: a, To: b, Loop: a == b}
		if !r.Loop {
			if seen[lvl] == nil {
				seen[lvl] = make(map[pair]bool)
			}
			if k := (pair{a, b}); !seen[lvl][k] {
				seen[lvl][k] = true
				levelEdges[lvl] = append(levelEdges[lvl], k)
			}
		}
		res.Routes = append(res.Routes, r)
	}

	// Bins are laid out innermost first so their sizes are known when their
	// container is laid out.
	depth := func(id ecs.Entity) int {
		d := 0
		for c := info[id].Container; c != ecs.Nil; c = info[c].Container {
			d++
		}
		return d
	}
	levels := snap.Bins()
	slices.SortStableFunc(levels, func(a, b ecs.Entity) int { return cmp.Compare(depth(b), depth(a)) })
	levels = append(levels, ecs.Nil)

	sizes := make(map[ecs.Entity]components.Size, len(snap.Nodes))
	for _, n := range snap.Nodes {
		if !n.IsBin {
			sizes[n.ID] = e.sizer.Size(n)
		}
	}

	used := make(map[uint64]bool)
	local := make(map[ecs.Entity]*levelLayout, len(levels))
	for _, lvl := range levels {
		ids := snap.Roots
		if lvl != ecs.Nil {
			ids = snap.Children[lvl]
		}
		ms := make([]member, 0, len(ids))
		for _, id := range ids {
			ms = append(ms, member{id: id, born: info[id].Born, size: sizes[id]})
		}
		ll := e.layoutLevel(ms, levelEdges[lvl], used, res)
		local[lvl] = ll
		maps.Copy(sizes, ll.sizes)
		if lvl != ecs.Nil {
			sizes[lvl] = e.binSize(info[lvl], ll)
		}
	}
	for sig := range e.cache {
		if !used[sig] {
			delete(e.cache, sig)
		}
	}

	// Absolute positions, outermost first.
	origin := map[ecs.Entity]components.Position{ecs.Nil: {}}
	abs := make(map[ecs.Entity]components.Position, len(snap.Nodes))
	for i := len(levels) - 1; i >= 0; i-- {
		lvl := levels[i]
		o := origin[lvl]
		for id, sl := range local[lvl].slots {
			p := components.Position{X: o.X + sl.pos.X, Y: o.Y + sl.pos.Y}
			abs[id] = p
			if info[id].IsBin {
				pad := e.cfg.BinPadding
				origin[id] = components.Position{X: p.X + pad, Y: p.Y + pad + e.cfg.BinHeader}
			}
		}
	}

	res.Items = make([]Item, 0, len(snap.Nodes))
	for _, n := range snap.Nodes {
		sl := local[n.Container].slots[n.ID]
		res.Items = append(res.Items, Item{
			ID:        n.ID,
			IsBin:     n.IsBin,
			Container: n.Container,
			Layer:     sl.layer,
			Order:     sl.order,
			Component: sl.component,
			Position:  abs[n.ID],
			Size:      sizes[n.ID],
			Fallback:  sl.fallback,
		})
	}
	res.reindex()

	for i := range res.Routes {
		r := &res.Routes[i]
		if r.Loop {
			continue
		}
		ll := local[r.Level]
		o := origin[r.Level]
		k := pair{r.From, r.To}
		r.Feedback = ll.feedback[k]
		from, to := abs[r.From], abs[r.To]
		fs, ts := sizes[r.From], sizes[r.To]
		r.Points = append(r.Points, components.Position{X: from.X + fs.W, Y: from.Y + fs.H/2})
		if r.Feedback {
			r.Points[0] = components.Position{X: from.X, Y: from.Y + fs.H/2}
		}
		for _, b := range ll.routes[k] {
			r.Points = append(r.Points, components.Position{X: o.X + b.X, Y: o.Y + b.Y})
		}
		end := components.Position{X: to.X, Y: to.Y + ts.H/2}
		if r.Feedback {
			end.X += ts.W
		}
		r.Points = append(r.Points, end)
	}

	root := local[ecs.Nil]
	res.Width, res.Height = root.width, root.height
	return res
}

// lift maps an edge between two nodes to the lowest container holding both
// ends, returning the container and the items of that level the edge runs
// between.
func lift(info map[ecs.Entity]model.NodeInfo, u, v ecs.Entity) (level, from, to ecs.Entity) {
	// chain of (level, item) pairs from u outward
	type step struct{ level, item ecs.Entity }
	var chain []step
	for it := u; ; {
		c := info[it].Container
		chain = append(chain, step{c, it})
		if c == ecs.Nil {
			break
		}
		it = c
	}
	at := make(map[ecs.Entity]ecs.Entity)
	for it := v; ; {
		c := info[it].Container
		at[c] = it
		if c == ecs.Nil {
			break
		}
		it = c
	}
	for _, s := range chain {
		if w, ok := at[s.level]; ok {
			return s.level, s.item, w
		}
	}
	return ecs.Nil, u, v
}

// layoutLevel lays out the members of one container component by
// component, reusing cached placements whose signature is unchanged.
// Components are stacked along Y in birth order. A component keeps its
// previous offset unless the one above it has grown into that space.
func (e *Engine) layoutLevel(ms []member, es []pair, used map[uint64]bool, res *Result) *levelLayout {
	ll := &levelLayout{
		slots:    make(map[ecs.Entity]levelSlot, len(ms)),
		routes:   make(map[pair][]components.Position),
		feedback: make(map[pair]bool),
	}
	if len(ms) == 0 {
		return ll
	}
	comps, compEdges := splitComponents(ms, es)
	bottom := 0.0
	for ci, c := range comps {
		sig := signature(c, compEdges[ci])
		p, hit := e.cache[sig]
		if hit {
			e.stats.Reused++
		} else {
			e.stats.Computed++
			var err error
			p, err = place(c, compEdges[ci], e.cfg, e.seed())
			if err != nil {
				e.anomaly(err)
				p = fallback(c, e.cfg, err)
			}
			e.cache[sig] = p
		}
		used[sig] = true
		if p.anomaly != "" {
			res.Anomalies = append(res.Anomalies, p.anomaly)
		}

		y := 0.0
		if ci > 0 {
			y = bottom + e.cfg.ComponentGap
		}
		if prev, ok := e.offsets[c[0].id]; ok {
			y = max(y, prev)
		}
		e.next[c[0].id] = y
		for id, sl := range p.slots {
			sl.pos.Y += y
			ll.slots[id] = levelSlot{slot: sl, component: ci, fallback: p.anomaly != ""}
		}
		for k, pts := range p.routes {
			shifted := make([]components.Position, len(pts))
			for i, pt := range pts {
				shifted[i] = components.Position{X: pt.X, Y: pt.Y + y}
			}
			ll.routes[k] = shifted
		}
		for k := range p.feedback {
			ll.feedback[k] = true
		}
		for id, sz := range p.sizes {
			if ll.sizes == nil {
				ll.sizes = make(map[ecs.Entity]components.Size)
			}
			ll.sizes[id] = sz
		}
		ll.width = max(ll.width, p.width)
		bottom = y + p.height
	}
	ll.height = bottom
	return ll
}

// seed returns the prior within-layer ordinals, read from the last result.
func (e *Engine) seed() func(ecs.Entity) (int, bool) {
	prev := e.result
	return func(id ecs.Entity) (int, bool) {
		it, ok := prev.Item(id)
		return it.Order, ok
	}
}

func (e *Engine) anomaly(err error) {
	e.stats.Anomalies++
	e.logger.Error("layout invariant violated, using fallback", "err", err)
	observability.Layout().OnAnomaly(context.Background(), err)
}

// binSize encloses the bin's content, never smaller than the sizer's size
// for the bin itself. Empty bins take the sizer's size.
func (e *Engine) binSize(n model.NodeInfo, ll *levelLayout) components.Size {
	floor := drawable(e.sizer.Size(n))
	if len(ll.slots) == 0 {
		return floor
	}
	pad := e.cfg.BinPadding
	return components.Size{
		W: max(ll.width+2*pad, floor.W),
		H: max(ll.height+2*pad+e.cfg.BinHeader, floor.H),
	}
}

// writeBack stores positions and sizes as derived components and clears
// them from entities that are no longer laid out.
func (e *Engine) writeBack(s *ecs.Store, res *Result) {
	for _, it := range res.Items {
		if err := errors.Join(s.SetDerived(it.ID, it.Position), s.SetDerived(it.ID, it.Size)); err != nil {
			e.logger.Warn("write back layout", "entity", it.ID, "err", err)
		}
	}
	var stale []ecs.Entity
	for id := range ecs.Query1[components.Position](s) {
		if _, ok := res.Item(id); !ok {
			stale = append(stale, id)
		}
	}
	for id := range ecs.Query1[components.Size](s) {
		if _, ok := res.Item(id); !ok {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		s.ClearDerived(id, components.TagPosition)
		s.ClearDerived(id, components.TagSize)
	}
}
