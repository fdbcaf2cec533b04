package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/matzehuels/pipescope/pkg/ecs"
	perrors "github.com/matzehuels/pipescope/pkg/errors"
	"github.com/matzehuels/pipescope/pkg/observability"
	"github.com/matzehuels/pipescope/pkg/protocol"
)

// DefaultAddr is the default listen address of the mirror.
const DefaultAddr = "127.0.0.1:9870"

// MaxBatch bounds the number of messages delivered in one batch.
const MaxBatch = 256

// Batch is a group of messages read from one connection.
type Batch struct {
	Conn   string // connection id, unique per accepted connection
	Remote string

	Messages   []protocol.Message
	Violations []error // malformed frames, already skipped

	// Closed marks the last batch of a connection. Err is the reason, nil
	// when the producer closed the stream cleanly.
	Closed bool
	Err    error
}

// Server accepts producer connections.
type Server struct {
	addr   string
	reg    *ecs.Registry
	out    chan<- Batch
	logger *log.Logger
	idle   time.Duration

	mu     sync.Mutex
	ln     net.Listener
	conns  map[string]net.Conn
	closed bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(l *log.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithIdleTimeout closes connections that send nothing, not even a ping,
// for d. Zero disables the timeout.
func WithIdleTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.idle = d }
}

// NewServer returns a server listening on addr that decodes component values
// through reg and delivers batches to out.
func NewServer(addr string, reg *ecs.Registry, out chan<- Batch, opts ...ServerOption) *Server {
	s := &Server{
		addr:   addr,
		reg:    reg,
		out:    out,
		logger: log.Default(),
		conns:  make(map[string]net.Conn),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Listen binds the listen address. Serve calls it if needed; calling it
// first lets the caller learn the bound address.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return perrors.Wrap(perrors.ErrCodeTransport, err, "listen on %s", s.addr)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until ctx is canceled. On return the listener
// and every connection are closed and all connection goroutines have exited.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	ln := s.ln

	var wg conc.WaitGroup
	stop := context.AfterFunc(ctx, s.shutdown)
	defer func() {
		stop()
		s.shutdown()
		wg.Wait()
	}()

	s.logger.Info("listening for producers", "addr", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return perrors.Wrap(perrors.ErrCodeTransport, err, "accept on %s", ln.Addr())
		}
		id := uuid.NewString()
		if !s.track(id, conn) {
			conn.Close()
			return nil
		}
		wg.Go(func() {
			defer s.untrack(id)
			s.handle(ctx, id, conn)
		})
	}
}

func (s *Server) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.ln != nil {
		s.ln.Close()
	}
	for _, c := range s.conns {
		c.Close()
	}
}

func (s *Server) track(id string, c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[id] = c
	return true
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

func (s *Server) handle(ctx context.Context, id string, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	hooks := observability.Transport()
	hooks.OnConnect(ctx, remote)
	logger := s.logger.With("conn", id[:8], "remote", remote)
	logger.Info("producer connected")

	var cause error
	defer func() {
		hooks.OnDisconnect(ctx, remote, cause)
		logger.Info("producer disconnected", "err", cause)
	}()

	dec := protocol.NewDecoder(conn, s.reg)
	b := Batch{Conn: id, Remote: remote}
	for {
		if s.idle > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.idle))
		}
		msg, err := dec.Decode()
		switch {
		case err == nil:
			hooks.OnFrame(ctx, msg.Kind.String())
			if msg.Kind == protocol.KindHello && msg.Version != protocol.Version {
				b.Violations = append(b.Violations, perrors.New(perrors.ErrCodeProtocolViolation,
					"producer %q speaks protocol version %d, want %d", msg.Producer, msg.Version, protocol.Version))
			}
			if msg.Kind != protocol.KindPing {
				b.Messages = append(b.Messages, msg)
			}
		case perrors.IsProtocolViolation(err):
			hooks.OnFrame(ctx, "invalid")
			logger.Warn("skipping malformed frame", "err", err)
			b.Violations = append(b.Violations, err)
		default:
			cause = readError(ctx, err)
			b.Closed, b.Err = true, cause
			s.deliver(ctx, &b)
			return
		}

		if dec.Buffered() == 0 || len(b.Messages) >= MaxBatch {
			if !s.deliver(ctx, &b) {
				return
			}
		}
	}
}

// readError classifies the error that ended a connection.
func readError(ctx context.Context, err error) error {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF), ctx.Err() != nil:
		return nil
	case errors.As(err, &ne) && ne.Timeout():
		return perrors.Wrap(perrors.ErrCodeTimeout, err, "producer idle")
	default:
		return perrors.Wrap(perrors.ErrCodeTransport, err, "read frame")
	}
}

// deliver hands the batch to the consumer and resets it. It reports false
// when ctx was canceled first.
func (s *Server) deliver(ctx context.Context, b *Batch) bool {
	if len(b.Messages) == 0 && len(b.Violations) == 0 && !b.Closed {
		return true
	}
	select {
	case s.out <- *b:
		b.Messages, b.Violations = nil, nil
		return true
	case <-ctx.Done():
		return false
	}
}
