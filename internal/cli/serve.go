package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/pipescope/pkg/api"
	perrors "github.com/matzehuels/pipescope/pkg/errors"
	"github.com/matzehuels/pipescope/pkg/layout"
	"github.com/matzehuels/pipescope/pkg/observability"
	"github.com/matzehuels/pipescope/pkg/replica"
	"github.com/matzehuels/pipescope/pkg/session"
	"github.com/matzehuels/pipescope/pkg/transport"
)

// errQuit stops the service group when the watch view exits.
var errQuit = errors.New("quit")

// serveOptions are the flags of the serve command.
type serveOptions struct {
	listen   string
	http     string
	noHTTP   bool
	session  string
	autosave time.Duration
	watch    bool
	logFile  string
	idle     time.Duration
}

// serveCommand creates the serve command, the consumer side of the mirror.
func (c *CLI) serveCommand() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept producers and mirror their pipelines",
		Long: `Accept producer connections and mirror their pipelines.

Producers connect over TCP and stream mutations. Every connection begins with
a full resync, so a restarted producer or consumer converges to the same
state. The mirror is served over HTTP (JSON, DOT, SVG, server-sent events and
Prometheus metrics) and, with --watch, in the terminal.

With --session the mirror is restored from a saved session at start and saved
back on exit (and every --autosave interval).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("listen") {
				c.cfg.Transport.Addr = opts.listen
			}
			if cmd.Flags().Changed("http") {
				c.cfg.HTTP.Addr = opts.http
			}
			if cmd.Flags().Changed("idle-timeout") {
				c.cfg.Transport.IdleTimeout = opts.idle
			}
			if opts.noHTTP {
				c.cfg.HTTP.Disabled = true
			}
			if err := c.cfg.Validate(); err != nil {
				return err
			}
			if opts.session != "" {
				if err := perrors.ValidateSessionName(opts.session); err != nil {
					return err
				}
			}
			return c.runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.listen, "listen", "l", transport.DefaultAddr, "producer listen address")
	cmd.Flags().StringVar(&opts.http, "http", api.DefaultAddr, "HTTP API listen address")
	cmd.Flags().BoolVar(&opts.noHTTP, "no-http", false, "disable the HTTP API")
	cmd.Flags().StringVarP(&opts.session, "session", "s", "", "restore and save this session")
	cmd.Flags().DurationVar(&opts.autosave, "autosave", 0, "save the session at this interval (0 saves only on exit)")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "show the live mirror in the terminal")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "write logs here while --watch is active (default: discard)")
	cmd.Flags().DurationVar(&opts.idle, "idle-timeout", 0, "drop producers silent for this long (0 disables)")

	return cmd
}

// runServe wires the transport server, the replica, the HTTP API and the
// optional watch view, and runs them until ctx is canceled.
func (c *CLI) runServe(ctx context.Context, opts serveOptions) error {
	logger := c.Logger
	if opts.watch {
		out, closeOut, err := watchLogOutput(opts.logFile)
		if err != nil {
			return err
		}
		defer closeOut()
		logger = logger.With()
		logger.SetOutput(out)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observability.Install(observability.NewPrometheus(reg))
	defer observability.Reset()

	batches := make(chan transport.Batch, 64)
	r := replica.New(replica.WithLogger(logger), replica.WithLayout(layout.WithConfig(c.cfg.Layout)))

	srv := transport.NewServer(c.cfg.Transport.Addr, r.Registry(), batches,
		transport.WithServerLogger(logger),
		transport.WithIdleTimeout(c.cfg.Transport.IdleTimeout),
	)
	if err := srv.Listen(); err != nil {
		return err
	}

	// The replica outlives the service group so the final save can still
	// read the store.
	rctx, stopReplica := context.WithCancel(context.Background())
	rdone := make(chan error, 1)
	go func() { rdone <- r.Run(rctx, batches) }()
	defer func() {
		stopReplica()
		<-rdone
	}()

	var store session.Store
	if opts.session != "" {
		s, err := session.Open(ctx, c.cfg.Session)
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		defer s.Close()
		store = s
		if err := restoreSession(ctx, logger, store, r, opts.session); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx) })

	if !c.cfg.HTTP.Disabled {
		a := api.New(r, api.WithLogger(logger), api.WithGatherer(reg))
		g.Go(func() error { return a.ListenAndServe(gctx, c.cfg.HTTP.Addr) })
	}

	if store != nil && opts.autosave > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(opts.autosave)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := saveSession(gctx, store, r, opts.session); err != nil {
						logger.Error("autosave failed", "session", opts.session, "err", err)
					}
				}
			}
		})
	}

	if opts.watch {
		g.Go(func() error {
			if err := runWatch(gctx, r, c.cfg); err != nil {
				return err
			}
			return errQuit
		})
	}

	logger.Info("serving", "producers", srv.Addr().String(), "http", httpAddr(c.cfg.HTTP))
	err := g.Wait()
	if errors.Is(err, errQuit) {
		err = nil
	}

	if store != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := saveSession(saveCtx, store, r, opts.session); serr != nil {
			logger.Error("save session", "session", opts.session, "err", serr)
			err = errors.Join(err, serr)
		} else {
			logger.Info("session saved", "session", opts.session, "entities", r.View().Status.Entities)
		}
	}
	return err
}

func httpAddr(c HTTPConfig) string {
	if c.Disabled {
		return "disabled"
	}
	return c.Addr
}

// restoreSession loads name into r. A missing session starts empty.
func restoreSession(ctx context.Context, logger *log.Logger, store session.Store, r *replica.Replica, name string) error {
	prog := newProgress(logger)
	doc, err := store.Load(ctx, name)
	if perrors.Is(err, perrors.ErrCodeSessionNotFound) {
		logger.Info("new session", "session", name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session %s: %w", name, err)
	}
	if err := r.Restore(ctx, doc); err != nil {
		return fmt.Errorf("restore session %s: %w", name, err)
	}
	prog.done("session restored", "session", name, "entities", doc.Len())
	return nil
}

func saveSession(ctx context.Context, store session.Store, r *replica.Replica, name string) error {
	doc, err := r.Document(ctx)
	if err != nil {
		return err
	}
	return store.Save(ctx, name, doc)
}

// watchLogOutput returns where logs go while the terminal view owns the
// screen.
func watchLogOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return io.Discard, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, func() { f.Close() }, nil
}
