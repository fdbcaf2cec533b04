package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/pipescope/pkg/components"
	"github.com/matzehuels/pipescope/pkg/ecs"
	perrors "github.com/matzehuels/pipescope/pkg/errors"
	"github.com/matzehuels/pipescope/pkg/graph"
	"github.com/matzehuels/pipescope/pkg/transport"
)

// emitOptions are the flags of the emit command.
type emitOptions struct {
	addr     string
	name     string
	input    string
	interval time.Duration
	branches int
	steps    int
	seed     uint64
}

// emitCommand creates the emit command, a producer for demos and replays.
func (c *CLI) emitCommand() *cobra.Command {
	var opts emitOptions

	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Stream a pipeline to a running mirror",
		Long: `Stream a pipeline to a running mirror.

Without --input, emit generates a synthetic media pipeline whose branches
come and go and whose node states change every --interval. With --input it
replays a saved document (see 'pipescope export --format document') once.

emit keeps its connection, reconnecting as needed, until interrupted.`,
		Example: `  # Start a mirror and feed it a demo pipeline
  pipescope serve --watch &
  pipescope emit

  # Replay a saved document
  pipescope emit --input pipeline.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("addr") {
				opts.addr = c.cfg.Transport.Addr
			}
			if err := perrors.ValidateListenAddress(opts.addr); err != nil {
				return err
			}
			if opts.interval <= 0 {
				return perrors.New(perrors.ErrCodeInvalidInput, "interval must be positive")
			}
			if opts.name == "" {
				opts.name = "emit-" + uuid.NewString()[:8]
			}
			if !cmd.Flags().Changed("seed") {
				opts.seed = uint64(time.Now().UnixNano())
			}
			return runEmit(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.addr, "addr", "a", transport.DefaultAddr, "mirror address")
	cmd.Flags().StringVarP(&opts.name, "name", "n", "", "producer name (default: random)")
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "replay this document instead of the demo pipeline")
	cmd.Flags().DurationVar(&opts.interval, "interval", 500*time.Millisecond, "time between demo updates")
	cmd.Flags().IntVar(&opts.branches, "branches", 2, "initial number of demo branches")
	cmd.Flags().IntVar(&opts.steps, "steps", 0, "stop changing the demo after this many updates (0 = never)")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "demo random seed (default: time based)")

	return cmd
}

func runEmit(ctx context.Context, opts emitOptions) error {
	logger := loggerFromContext(ctx)

	var initial []ecs.Mutation
	var d *demo
	if opts.input != "" {
		doc, err := graph.ReadDocumentFile(opts.input)
		if err != nil {
			return err
		}
		initial, err = doc.Mutations(components.Registry())
		if err != nil {
			return fmt.Errorf("replay %s: %w", opts.input, err)
		}
	} else {
		d = newDemo(opts.seed)
		initial = d.build(opts.branches)
	}

	client := transport.NewClient(opts.addr, opts.name, transport.WithClientLogger(logger))
	if err := sendAll(client, initial); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return client.Run(gctx) })
	g.Go(func() error { return awaitConnection(gctx, client, opts.addr) })
	if d != nil {
		g.Go(func() error { return driveDemo(gctx, logger, client, d, opts) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if n := client.Dropped(); n > 0 {
		logger.Warn("mutations dropped while the mirror was unreachable", "dropped", n)
	}
	return nil
}

// awaitConnection shows a spinner until client first connects.
func awaitConnection(ctx context.Context, client *transport.Client, addr string) error {
	s := newSpinner(ctx, "Connecting to "+addr+"...")
	s.Start()
	start := time.Now()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return nil
		case <-ticker.C:
			if client.Connected() {
				s.StopWithSuccess("Connected to " + addr)
				return nil
			}
			if waited := time.Since(start); waited > 2*time.Second {
				s.SetMessage(fmt.Sprintf("Waiting for %s (%s)...", addr, waited.Round(time.Second)))
			}
		}
	}
}

// driveDemo advances d every interval until ctx ends or the step budget is
// spent.
func driveDemo(ctx context.Context, logger *log.Logger, client *transport.Client, d *demo, opts emitOptions) error {
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()
	for step := 1; opts.steps <= 0 || step <= opts.steps; step++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		ms := d.step()
		if err := sendAll(client, ms); err != nil {
			return err
		}
		logger.Debug("demo step", "step", step, "mutations", len(ms), "branches", len(d.branches))
	}
	logger.Info("demo finished", "steps", opts.steps)
	return nil
}

func sendAll(client *transport.Client, ms []ecs.Mutation) error {
	for _, m := range ms {
		if err := client.Send(m); err != nil {
			return err
		}
	}
	return nil
}
