package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	perrors "github.com/matzehuels/pipescope/pkg/errors"
	"github.com/matzehuels/pipescope/pkg/graph"
	"github.com/matzehuels/pipescope/pkg/httputil"
	"github.com/matzehuels/pipescope/pkg/layout"
	"github.com/matzehuels/pipescope/pkg/render/nodelink"
	"github.com/matzehuels/pipescope/pkg/replica"
	"github.com/matzehuels/pipescope/pkg/session"
	"github.com/matzehuels/pipescope/pkg/transport"
)

// Export formats.
const (
	formatScene    = "scene"
	formatDocument = "document"
	formatTopology = "topology"
	formatDOT      = "dot"
	formatSVG      = "svg"
)

var exportFormats = []string{formatScene, formatDocument, formatTopology, formatDOT, formatSVG}

// exportOptions are the flags of the export command.
type exportOptions struct {
	session  string
	input    string
	url      string
	format   string
	output   string
	detailed bool
}

// exportCommand creates the export command.
func (c *CLI) exportCommand() *cobra.Command {
	var opts exportOptions

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a mirrored pipeline as JSON, DOT or SVG",
		Long: `Export a mirrored pipeline.

The source is a saved session (--session), a document file (--input) or a
running mirror (--url). Sessions and documents are laid out locally with the
configured layout settings.

Formats:
  scene      topology and layout (JSON)
  document   the raw entity store (JSON), reloadable with 'emit --input'
  topology   resolved nodes, ports and edges (JSON)
  dot        Graphviz DOT with pinned positions
  svg        rendered drawing

Without --format the format follows the extension of --output.`,
		Example: `  pipescope export --session demo -o demo.svg
  pipescope export --url http://127.0.0.1:9871 --format dot
  pipescope export --input pipeline.json --format topology`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if n := countSet(opts.session, opts.input, opts.url); n != 1 {
				return perrors.New(perrors.ErrCodeInvalidInput, "exactly one of --session, --input or --url is required")
			}
			if opts.format == "" {
				opts.format = formatFromPath(opts.output)
			}
			if !slices.Contains(exportFormats, opts.format) {
				return perrors.New(perrors.ErrCodeInvalidInput, "unknown format %q (want one of %s)", opts.format, strings.Join(exportFormats, ", "))
			}
			if opts.url != "" && opts.format == formatDocument {
				return perrors.New(perrors.ErrCodeUnsupported, "a running mirror does not serve documents; save a session instead")
			}
			return c.runExport(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.session, "session", "s", "", "export a saved session")
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "export a document file")
	cmd.Flags().StringVar(&opts.url, "url", "", "export from a running mirror's HTTP API")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "output format: "+strings.Join(exportFormats, ", "))
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (default: stdout)")
	cmd.Flags().BoolVar(&opts.detailed, "detailed", false, "include factory, state and properties in DOT and SVG labels")
	cmd.RegisterFlagCompletionFunc("format", cobra.FixedCompletions(exportFormats, cobra.ShellCompDirectiveNoFileComp))

	return cmd
}

func (c *CLI) runExport(ctx context.Context, opts exportOptions) error {
	logger := loggerFromContext(ctx)
	prog := newProgress(logger)

	var (
		doc   graph.Document
		scene graph.Scene
		err   error
	)
	switch {
	case opts.url != "":
		scene, err = fetchScene(ctx, opts.url)
	case opts.session != "":
		doc, err = loadSession(ctx, c.cfg.Session, opts.session)
	default:
		doc, err = graph.ReadDocumentFile(opts.input)
	}
	if err != nil {
		return err
	}
	if opts.url == "" && opts.format != formatDocument {
		if scene, err = layoutDocument(ctx, doc, c.cfg.Layout); err != nil {
			return err
		}
	}

	data, err := encodeExport(ctx, opts, doc, scene)
	if err != nil {
		return err
	}

	if opts.output == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(opts.output, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", opts.output, err)
	}
	prog.done("exported", "format", opts.format, "nodes", len(scene.Topology.Nodes))
	printFile(opts.output)
	return nil
}

func encodeExport(ctx context.Context, opts exportOptions, doc graph.Document, scene graph.Scene) ([]byte, error) {
	switch opts.format {
	case formatDocument:
		return graph.MarshalDocument(doc)
	case formatTopology:
		return json.MarshalIndent(scene.Topology, "", "  ")
	case formatDOT:
		return []byte(nodelink.ToDOT(scene, nodelink.Options{Detailed: opts.detailed})), nil
	case formatSVG:
		return nodelink.RenderSVG(ctx, nodelink.ToDOT(scene, nodelink.Options{Detailed: opts.detailed}))
	default:
		return graph.MarshalScene(scene)
	}
}

// layoutDocument lays out doc offline by loading it into a private replica.
func layoutDocument(ctx context.Context, doc graph.Document, cfg layout.Config) (graph.Scene, error) {
	r := replica.New(replica.WithLogger(loggerFromContext(ctx)), replica.WithLayout(layout.WithConfig(cfg)))

	rctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- r.Run(rctx, make(chan transport.Batch)) }()
	defer func() {
		cancel()
		<-done
	}()

	if err := r.Restore(ctx, doc); err != nil {
		return graph.Scene{}, err
	}
	v := r.View()
	return graph.NewScene(v.Snapshot, v.Layout), nil
}

func loadSession(ctx context.Context, cfg session.Config, name string) (graph.Document, error) {
	if err := perrors.ValidateSessionName(name); err != nil {
		return graph.Document{}, err
	}
	store, err := session.Open(ctx, cfg)
	if err != nil {
		return graph.Document{}, err
	}
	defer store.Close()
	return store.Load(ctx, name)
}

// fetchScene reads the current scene from a running mirror. Connection
// failures are retried briefly; API errors are not.
func fetchScene(ctx context.Context, base string) (graph.Scene, error) {
	url := strings.TrimRight(base, "/") + "/api/v1/scene"
	client := &http.Client{Timeout: 10 * time.Second}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 5 * time.Second
	return backoff.RetryWithData(func() (graph.Scene, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return graph.Scene{}, backoff.Permanent(perrors.Wrap(perrors.ErrCodeInvalidInput, err, "invalid url %q", base))
		}
		resp, err := client.Do(req)
		if err != nil {
			return graph.Scene{}, perrors.Wrap(perrors.ErrCodeTransport, err, "fetch %s", url)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return graph.Scene{}, perrors.Wrap(perrors.ErrCodeTransport, err, "read %s", url)
		}
		if resp.StatusCode != http.StatusOK {
			var e httputil.ErrorBody
			if json.Unmarshal(body, &e) == nil && e.Error != "" {
				code := e.Code
				if code == "" {
					code = perrors.ErrCodeTransport
				}
				return graph.Scene{}, backoff.Permanent(perrors.New(code, "%s", e.Error))
			}
			return graph.Scene{}, backoff.Permanent(perrors.New(perrors.ErrCodeTransport, "fetch %s: %s", url, resp.Status))
		}
		s, err := graph.UnmarshalScene(body)
		if err != nil {
			return graph.Scene{}, backoff.Permanent(perrors.Wrap(perrors.ErrCodeInvalidFormat, err, "decode scene"))
		}
		return s, nil
	}, backoff.WithContext(b, ctx))
}

// formatFromPath infers the export format from a file extension.
func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dot", ".gv":
		return formatDOT
	case ".svg":
		return formatSVG
	default:
		return formatScene
	}
}

func countSet(vals ...string) int {
	n := 0
	for _, v := range vals {
		if v != "" {
			n++
		}
	}
	return n
}
