// Package api serves the mirrored pipeline over HTTP.
//
// The API is the read-only rendering boundary: it never mutates the store.
// Every response is derived from one [replica.View], so the topology, the
// layout and the status in a response always belong together.
//
// # Routes
//
//	GET /healthz              liveness probe
//	GET /metrics              Prometheus metrics
//	GET /api/v1/snapshot      topology (nodes, ports, edges, pending)
//	GET /api/v1/layout        computed layout
//	GET /api/v1/scene         topology and layout in one document
//	GET /api/v1/status        producers, counters and layout state
//	GET /api/v1/graph.dot     Graphviz DOT with pinned positions
//	GET /api/v1/graph.svg     SVG rendering of graph.dot
//	GET /api/v1/events        server-sent events, one per published view
//
// JSON and DOT/SVG responses carry a weak ETag derived from the view
// sequence, so polling clients can use If-None-Match.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matzehuels/pipescope/pkg/observability"
	"github.com/matzehuels/pipescope/pkg/replica"
)

// DefaultAddr is the default listen address of the HTTP API.
const DefaultAddr = "127.0.0.1:9871"

// Source provides the views the API serves. [*replica.Replica] implements it.
type Source interface {
	View() *replica.View
	Subscribe() (views <-chan *replica.View, cancel func())
}

// Server is the HTTP API.
type Server struct {
	src      Source
	logger   *log.Logger
	gatherer prometheus.Gatherer
	router   chi.Router
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *log.Logger) Option { return func(s *Server) { s.logger = l } }

// WithGatherer sets the Prometheus gatherer behind /metrics. It defaults to
// prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

// New returns the API for src.
func New(src Source, opts ...Option) *Server {
	s := &Server{src: src, logger: log.Default(), gatherer: prometheus.DefaultGatherer}
	for _, o := range opts {
		o(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/snapshot", s.snapshot)
		r.Get("/layout", s.layout)
		r.Get("/scene", s.scene)
		r.Get("/status", s.status)
		r.Get("/graph.dot", s.dot)
		r.Get("/graph.svg", s.svg)
		r.Get("/events", s.events)
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// observe reports every request to the HTTP hooks and the debug log.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		d := time.Since(start)
		observability.HTTP().OnRequest(r.Context(), r.Method, route, status, d)
		s.logger.Debug("http request", "method", r.Method, "route", route, "status", status, "duration", d,
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// ListenAndServe serves the API on addr until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves the API on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(done)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})

	s.logger.Info("http api listening", "addr", ln.Addr().String())
	err := srv.Serve(ln)
	if stop() {
		// Serve failed before ctx was canceled.
		return err
	}
	<-done
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
