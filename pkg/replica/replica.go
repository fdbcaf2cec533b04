// Package replica runs the mirror: one goroutine owns the store, applies
// producer batches through the graph model, relayouts in the same tick and
// publishes immutable views for readers.
package replica

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/pipescope/pkg/components"
	"github.com/matzehuels/pipescope/pkg/ecs"
	perrors "github.com/matzehuels/pipescope/pkg/errors"
	"github.com/matzehuels/pipescope/pkg/graph"
	"github.com/matzehuels/pipescope/pkg/layout"
	"github.com/matzehuels/pipescope/pkg/model"
	"github.com/matzehuels/pipescope/pkg/observability"
	"github.com/matzehuels/pipescope/pkg/protocol"
	"github.com/matzehuels/pipescope/pkg/transport"
)

// conn is the replica's record of one producer connection.
type conn struct {
	info Producer
	// seen is non-nil between sync_begin and sync_end and holds the
	// entities and components the producer has declared during the resync.
	seen map[ecs.Entity]map[ecs.Tag]bool
	// superseded is set once a newer connection of the same producer has
	// begun a resync. Its remaining mutations are stale.
	superseded bool
}

// Replica owns the store. All mutation happens on the goroutine running
// [Replica.Run]; everything else reads published views.
type Replica struct {
	store  *ecs.Store
	graph  *model.Graph
	engine *layout.Engine
	logger *log.Logger

	conns  map[string]*conn
	owner  map[ecs.Entity]string // producer that last declared the entity
	status Status
	seq    uint64
	late   int // mutations dropped from superseded connections

	calls chan func()
	view  atomic.Pointer[View]

	mu   sync.Mutex
	subs map[chan *View]struct{}
}

// Option configures a Replica.
type Option func(*config)

type config struct {
	logger  *log.Logger
	reg     *ecs.Registry
	layouts []layout.Option
}

// WithLogger sets the logger shared by the replica, the store and the model.
func WithLogger(l *log.Logger) Option { return func(c *config) { c.logger = l } }

// WithRegistry sets the component registry. It defaults to
// components.Registry().
func WithRegistry(r *ecs.Registry) Option { return func(c *config) { c.reg = r } }

// WithLayout passes options to the layout engine.
func WithLayout(opts ...layout.Option) Option {
	return func(c *config) { c.layouts = append(c.layouts, opts...) }
}

// New returns a replica with an empty store and publishes its first view.
func New(opts ...Option) *Replica {
	cfg := config{logger: log.Default()}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.reg == nil {
		cfg.reg = components.Registry()
	}

	store := ecs.NewStore(cfg.reg, ecs.WithLogger(cfg.logger))
	r := &Replica{
		store:  store,
		graph:  model.New(store, model.WithLogger(cfg.logger)),
		engine: layout.New(append([]layout.Option{layout.WithLogger(cfg.logger)}, cfg.layouts...)...),
		logger: cfg.logger,
		conns:  make(map[string]*conn),
		owner:  make(map[ecs.Entity]string),
		calls:  make(chan func()),
		subs:   make(map[chan *View]struct{}),
	}
	r.publish(context.Background())
	return r
}

// Registry returns the component registry of the store.
func (r *Replica) Registry() *ecs.Registry { return r.store.Registry() }

// View returns the latest published view. It never blocks.
func (r *Replica) View() *View { return r.view.Load() }

// Subscribe returns a channel receiving every newly published view. Slow
// subscribers only see the latest one. cancel releases the subscription.
func (r *Replica) Subscribe() (views <-chan *View, cancel func()) {
	ch := make(chan *View, 1)
	ch <- r.View()
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()
	return ch, func() {
		r.mu.Lock()
		delete(r.subs, ch)
		r.mu.Unlock()
	}
}

// Run applies batches from in until ctx is canceled or in is closed.
func (r *Replica) Run(ctx context.Context, in <-chan transport.Batch) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-in:
			if !ok {
				return nil
			}
			r.Apply(ctx, b)
		case fn := <-r.calls:
			fn()
		}
	}
}

// Do runs fn on the goroutine owning the store and waits for it. It must
// only be called while Run is running.
func (r *Replica) Do(ctx context.Context, fn func(s *ecs.Store)) error {
	done := make(chan struct{})
	call := func() {
		defer close(done)
		fn(r.store)
	}
	select {
	case r.calls <- call:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Load applies mutations on the store goroutine and publishes the result,
// as if a producer had sent them. It is used to restore saved sessions.
func (r *Replica) Load(ctx context.Context, ms []ecs.Mutation) error {
	return r.Do(ctx, func(*ecs.Store) {
		r.Apply(ctx, transport.Batch{Conn: "load", Remote: "local", Messages: mutations(ms), Closed: true})
	})
}

// Document serializes the store on the store goroutine. It must only be
// called while Run is running.
func (r *Replica) Document(ctx context.Context) (graph.Document, error) {
	var (
		doc graph.Document
		err error
	)
	if derr := r.Do(ctx, func(s *ecs.Store) { doc, err = graph.FromStore(s) }); derr != nil {
		return graph.Document{}, derr
	}
	return doc, err
}

// Restore loads a saved document into the store.
func (r *Replica) Restore(ctx context.Context, doc graph.Document) error {
	ms, err := doc.Mutations(r.Registry())
	if err != nil {
		return err
	}
	return r.Load(ctx, ms)
}

func mutations(ms []ecs.Mutation) []protocol.Message {
	out := make([]protocol.Message, len(ms))
	for i, m := range ms {
		out[i] = protocol.Mutate(m)
	}
	return out
}

// Apply applies one batch and publishes a new view. It must only be called
// from the goroutine owning the store: directly when Run is not running, or
// through Run and Do otherwise.
func (r *Replica) Apply(ctx context.Context, b transport.Batch) {
	c := r.conns[b.Conn]
	if c == nil {
		c = &conn{info: Producer{Conn: b.Conn, Remote: b.Remote, Name: b.Conn, Since: time.Now()}}
		r.conns[b.Conn] = c
		r.status.Sessions++
	}

	for _, err := range b.Violations {
		r.violation(ctx, err)
	}
	for _, msg := range b.Messages {
		switch msg.Kind {
		case protocol.KindHello:
			c.info.Name = msg.Producer
			r.logger.Info("producer identified", "producer", msg.Producer, "remote", b.Remote)
		case protocol.KindSyncBegin:
			r.beginSync(c)
		case protocol.KindSyncEnd:
			r.endSync(ctx, c)
		case protocol.KindMutation:
			r.mutate(ctx, c, msg.Mutation)
		}
	}

	if b.Closed {
		if c.seen != nil {
			r.logger.Warn("producer left during resync, keeping state", "producer", c.info.Name, "declared", len(c.seen))
		}
		delete(r.conns, b.Conn)
	}
	r.publish(ctx)
}

func (r *Replica) beginSync(c *conn) {
	if c.seen != nil {
		r.logger.Warn("nested sync_begin restarts the resync", "producer", c.info.Name)
	}
	c.seen = make(map[ecs.Entity]map[ecs.Tag]bool)
	for _, o := range r.conns {
		if o != c && o.info.Name == c.info.Name && !o.superseded {
			o.superseded = true
			r.logger.Debug("connection superseded", "producer", c.info.Name, "conn", o.info.Conn)
		}
	}
	// The producer restarts its sequence counter on reconnect.
	r.store.ResetSequences()
}

// endSync reconciles the store with the state declared during the resync:
// entities of the producer that were not declared are destroyed, and
// components that were not declared are unset.
func (r *Replica) endSync(ctx context.Context, c *conn) {
	if c.seen == nil {
		r.violation(ctx, perrors.New(perrors.ErrCodeProtocolViolation, "sync_end without sync_begin from %q", c.info.Name))
		return
	}
	reg := r.store.Registry()
	var gone, fixes []ecs.Mutation
	for e := range r.store.Entities() {
		if r.owner[e] != c.info.Name {
			continue
		}
		tags, ok := c.seen[e]
		if !ok {
			gone = append(gone, ecs.Destroy(e))
			continue
		}
		for tag := range r.store.Components(e) {
			if spec, ok := reg.Lookup(tag); ok && spec.Class == ecs.ClassDerived {
				continue
			}
			if !tags[tag] {
				fixes = append(fixes, ecs.Unset(e, tag))
			}
		}
	}
	for _, m := range append(fixes, gone...) {
		ch, err := r.graph.Apply(m)
		if err != nil {
			r.logger.Error("reconcile after resync", "mutation", m, "err", err)
			continue
		}
		r.engine.Observe(ch)
		if m.Op == ecs.OpDestroy {
			delete(r.owner, m.Entity)
		}
	}
	c.seen = nil
	r.status.Resyncs++
	r.status.Reaped += len(gone)
	observability.Replica().OnResync(ctx, c.info.Name, len(gone))
	r.logger.Info("resync complete", "producer", c.info.Name, "destroyed", len(gone))
}

func (r *Replica) mutate(ctx context.Context, c *conn, m ecs.Mutation) {
	c.info.Mutations++
	if c.superseded {
		r.late++
		observability.Replica().OnMutation(ctx, m.Op.String(), "stale")
		return
	}
	ch, err := r.graph.Apply(m)

	outcome := "applied"
	switch {
	case err != nil:
		outcome = "rejected"
		r.violation(ctx, err)
	case ch.Stale:
		outcome = "stale"
	case !ch.Applied:
		outcome = "noop"
	}
	observability.Replica().OnMutation(ctx, m.Op.String(), outcome)
	if err != nil || ch.Stale {
		return
	}
	r.engine.Observe(ch)

	if m.Op == ecs.OpDestroy {
		delete(r.owner, m.Entity)
		delete(c.seen, m.Entity)
		return
	}
	if !r.store.Has(m.Entity) {
		return
	}
	r.owner[m.Entity] = c.info.Name
	if c.seen == nil {
		return
	}
	tags := c.seen[m.Entity]
	if tags == nil {
		tags = make(map[ecs.Tag]bool)
		c.seen[m.Entity] = tags
	}
	switch m.Op {
	case ecs.OpSet:
		tags[m.Value.Tag()] = true
	case ecs.OpUnset:
		delete(tags, m.Tag)
	}
}

func (r *Replica) violation(ctx context.Context, err error) {
	code := perrors.GetCode(err)
	if code == "" {
		code = perrors.ErrCodeInternal
	}
	if perrors.IsProtocolViolation(err) {
		r.status.Violations++
	} else {
		r.logger.Error("mutation failed", "err", err)
	}
	observability.Replica().OnViolation(ctx, string(code))
}

// publish relayouts if needed and publishes a new view.
func (r *Replica) publish(ctx context.Context) {
	snap := r.graph.Snapshot()
	res := r.engine.Update(ctx, r.store, snap)

	st := r.status
	st.Producers = make([]Producer, 0, len(r.conns))
	for _, id := range slices.Sorted(maps.Keys(r.conns)) {
		c := r.conns[id]
		p := c.info
		p.Syncing = c.seen != nil
		st.Producers = append(st.Producers, p)
	}
	ss := r.store.Stats()
	es := r.engine.Stats()
	st.Entities = r.store.Len()
	st.Applied, st.NoOps, st.Stale = ss.Applied, ss.NoOps, ss.Stale+r.late
	st.Relayouts, st.Anomalies = es.Relayouts, es.Anomalies
	st.LayoutState = r.engine.State().String()

	r.seq++
	v := &View{Seq: r.seq, At: time.Now(), Snapshot: snap, Layout: res, Status: st}
	r.view.Store(v)

	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := range r.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}
