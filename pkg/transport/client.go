package transport

import (
	"cmp"
	"context"
	"io"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"

	"github.com/matzehuels/pipescope/pkg/ecs"
	perrors "github.com/matzehuels/pipescope/pkg/errors"
	"github.com/matzehuels/pipescope/pkg/protocol"
)

// Defaults for Client.
const (
	DefaultBuffer       = 4096
	DefaultPingInterval = 5 * time.Second
	writeTimeout        = 10 * time.Second
)

// mirrored is the producer-side copy of one entity.
type mirrored struct {
	born  uint64
	comps map[ecs.Tag]ecs.Component
}

// Client streams mutations to a mirror.
type Client struct {
	addr       string
	producer   string
	logger     *log.Logger
	newBackOff func() backoff.BackOff
	ping       time.Duration
	limit      int

	mu     sync.Mutex
	mirror map[ecs.Entity]*mirrored
	births uint64
	queue  []ecs.Mutation
	resync bool
	wake   chan struct{}

	seq       protocol.Sequencer
	dropped   atomic.Uint64
	connected atomic.Bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the client logger.
func WithClientLogger(l *log.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithBackOff sets the reconnect policy. f is called once per outage.
func WithBackOff(f func() backoff.BackOff) ClientOption {
	return func(c *Client) { c.newBackOff = f }
}

// WithBuffer bounds the number of mutations waiting to be written.
func WithBuffer(n int) ClientOption {
	return func(c *Client) { c.limit = max(n, 1) }
}

// WithPingInterval sets how often an idle connection is pinged.
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.ping = d }
}

// NewClient returns a client for the mirror at addr. producer identifies
// the sender in hello frames.
func NewClient(addr, producer string, opts ...ClientOption) *Client {
	c := &Client{
		addr:     addr,
		producer: producer,
		logger:   log.Default(),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
		ping:   DefaultPingInterval,
		limit:  DefaultBuffer,
		mirror: make(map[ecs.Entity]*mirrored),
		wake:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connected reports whether the client currently holds a connection.
func (c *Client) Connected() bool { return c.connected.Load() }

// Dropped returns the number of mutations discarded because the buffer was
// full. Each drop is repaired by a later full resync.
func (c *Client) Dropped() uint64 { return c.dropped.Load() }

// Send records m in the mirror and queues it for the mirror. It never
// blocks. Send works whether or not the client is connected.
func (c *Client) Send(m ecs.Mutation) error {
	if m.Entity == ecs.Nil {
		return perrors.New(perrors.ErrCodeInvalidEntity, "entity id 0 is reserved")
	}
	if m.Op == ecs.OpSet && m.Value == nil {
		return perrors.New(perrors.ErrCodeInvalidInput, "set on entity %d without a value", m.Entity)
	}

	c.mu.Lock()
	c.record(m)
	if len(c.queue) >= c.limit {
		c.queue = c.queue[1:]
		c.dropped.Add(1)
		c.resync = true
	}
	c.queue = append(c.queue, c.seq.Stamp(m))
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

func (c *Client) record(m ecs.Mutation) {
	ent := c.mirror[m.Entity]
	switch m.Op {
	case ecs.OpDestroy:
		delete(c.mirror, m.Entity)
		return
	case ecs.OpUnset:
		if ent != nil {
			delete(ent.comps, m.Tag)
		}
		return
	}
	if ent == nil {
		c.births++
		ent = &mirrored{born: c.births, comps: make(map[ecs.Tag]ecs.Component)}
		c.mirror[m.Entity] = ent
	}
	if m.Op == ecs.OpSet {
		ent.comps[m.Value.Tag()] = m.Value
	}
}

// snapshot returns the full mirror as a framed resync and empties the queue,
// whose effects the snapshot already contains.
func (c *Client) snapshot() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]ecs.Entity, 0, len(c.mirror))
	for e := range c.mirror {
		ids = append(ids, e)
	}
	slices.SortFunc(ids, func(a, b ecs.Entity) int { return cmp.Compare(c.mirror[a].born, c.mirror[b].born) })

	msgs := []protocol.Message{protocol.Control(protocol.KindSyncBegin)}
	for _, e := range ids {
		ent := c.mirror[e]
		msgs = append(msgs, protocol.Mutate(c.seq.Stamp(ecs.Create(e))))
		tags := make([]ecs.Tag, 0, len(ent.comps))
		for t := range ent.comps {
			tags = append(tags, t)
		}
		slices.Sort(tags)
		for _, t := range tags {
			msgs = append(msgs, protocol.Mutate(c.seq.Stamp(ecs.Set(e, ent.comps[t]))))
		}
	}
	msgs = append(msgs, protocol.Control(protocol.KindSyncEnd))

	c.queue = nil
	c.resync = false
	return msgs
}

// next pops queued mutations. needResync is set when mutations were
// dropped since the last resync.
func (c *Client) next() (batch []ecs.Mutation, needResync bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resync {
		return nil, true
	}
	batch, c.queue = c.queue, nil
	return batch, false
}

// Run connects to the mirror and streams mutations until ctx is canceled.
// Lost connections are re-established with backoff; each new connection
// starts with a full resync.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		err = c.session(ctx, conn)
		c.connected.Store(false)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("connection to mirror lost", "addr", c.addr, "err", err)
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	attempt := 1
	conn, err := backoff.RetryNotifyWithData(func() (net.Conn, error) {
		return d.DialContext(ctx, "tcp", c.addr)
	}, backoff.WithContext(c.newBackOff(), ctx), func(err error, wait time.Duration) {
		c.logger.Debug("waiting for mirror", "addr", c.addr, "attempt", attempt, "retry_in", wait, "err", err)
		attempt++
	})
	if err != nil {
		return nil, perrors.Wrap(perrors.ErrCodeTransport, err, "connect to %s", c.addr)
	}
	return conn, nil
}

// session runs one connection: hello, full resync, then incremental
// mutations and pings. It returns when the connection fails or ctx ends.
func (c *Client) session(ctx context.Context, conn net.Conn) error {
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_, _ = io.Copy(io.Discard, conn)
	}()
	defer func() {
		conn.Close()
		<-gone
	}()

	c.connected.Store(true)
	c.logger.Info("connected to mirror", "addr", c.addr, "producer", c.producer)

	enc := protocol.NewEncoder(conn)
	write := func(msgs ...protocol.Message) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		for _, m := range msgs {
			if err := enc.Encode(m); err != nil {
				return perrors.Wrap(perrors.ErrCodeTransport, err, "write %s frame", m.Kind)
			}
		}
		return nil
	}

	if err := write(protocol.Hello(c.producer)); err != nil {
		return err
	}
	if err := write(c.snapshot()...); err != nil {
		return err
	}

	ticker := time.NewTicker(c.ping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-gone:
			return perrors.New(perrors.ErrCodeTransport, "mirror closed the connection")
		case <-ticker.C:
			if err := write(protocol.Control(protocol.KindPing)); err != nil {
				return err
			}
		case <-c.wake:
			batch, resync := c.next()
			if resync {
				c.logger.Warn("buffer overflowed, resyncing", "dropped", c.Dropped())
				if err := write(c.snapshot()...); err != nil {
					return err
				}
				continue
			}
			for _, m := range batch {
				if err := write(protocol.Mutate(m)); err != nil {
					return err
				}
			}
		}
	}
}
