package cli

import (
	"github.com/spf13/cobra"

	"github.com/matzehuels/pipescope/pkg/buildinfo"
)

// RootCommand creates the root cobra command with all subcommands registered.
//
// The config file is loaded in PersistentPreRunE, before any subcommand
// runs. Flags given on the command line override it.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "Pipescope mirrors live pipeline topologies",
		Long: `Pipescope keeps a live mirror of a running media or data pipeline.

Producers (instrumented pipelines) stream entity mutations over TCP. Pipescope
applies them to an entity-component store, resolves the graph, lays it out
incrementally and serves the result over HTTP and in the terminal.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
			return nil
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default: ~/.config/pipescope/config.toml)")

	root.AddCommand(c.serveCommand())
	root.AddCommand(c.emitCommand())
	root.AddCommand(c.exportCommand())
	root.AddCommand(c.sessionsCommand())
	root.AddCommand(c.configCommand())
	root.AddCommand(c.completionCommand())

	return root
}
