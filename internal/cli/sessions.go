package cli

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	perrors "github.com/matzehuels/pipescope/pkg/errors"
	"github.com/matzehuels/pipescope/pkg/session"
)

// sessionsCommand creates the sessions command for managing saved mirrors.
func (c *CLI) sessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage saved sessions",
		Long: `Manage saved sessions.

A session is a mirror saved by 'pipescope serve --session'. The backend is
chosen in the [session] section of the config file: file (default), sqlite,
redis or mongo.`,
	}

	cmd.AddCommand(c.sessionsListCommand())
	cmd.AddCommand(c.sessionsDeleteCommand())
	cmd.AddCommand(c.sessionsWhereCommand())

	return cmd
}

func (c *CLI) sessionsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved sessions",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := session.Open(ctx, c.cfg.Session)
			if err != nil {
				return err
			}
			defer store.Close()

			infos, err := store.List(ctx)
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				printInfo("No saved sessions")
				printNextStep("Save one with", "pipescope serve --session <name>")
				return nil
			}
			fmt.Fprintln(stdout, sessionTable(infos))
			return nil
		},
	}
}

func sessionTable(infos []session.Info) string {
	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		rows = append(rows, []string{info.Name, strconv.Itoa(info.Entities), formatRelativeTime(info.SavedAt)})
	}
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("Session", "Entities", "Saved").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == -1:
				return listHeaderStyle
			case col == 0:
				return StyleHighlight
			case col == 1:
				return StyleNumber
			default:
				return StyleDim
			}
		}).
		Render()
}

func (c *CLI) sessionsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <name>...",
		Aliases: []string{"rm"},
		Short:   "Delete saved sessions",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range args {
				if err := perrors.ValidateSessionName(name); err != nil {
					return err
				}
			}
			ctx := cmd.Context()
			store, err := session.Open(ctx, c.cfg.Session)
			if err != nil {
				return err
			}
			defer store.Close()

			for _, name := range args {
				if err := store.Delete(ctx, name); err != nil {
					return fmt.Errorf("delete %s: %w", name, err)
				}
				printSuccess("Deleted %s", name)
			}
			return nil
		},
	}
}

func (c *CLI) sessionsWhereCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "where",
		Short: "Show where sessions are stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg.Session
			backend := cfg.Backend
			if backend == "" {
				backend = "file"
			}
			printKeyValue("Backend", backend)
			switch backend {
			case "file":
				fs, err := session.NewFileStore(cfg.Dir)
				if err != nil {
					return err
				}
				printKeyValue("Directory", fs.Path())
			case "sqlite":
				printKeyValue("Database", orDefault(cfg.Path, "~/.config/pipescope/sessions.db"))
			case "redis":
				printKeyValue("Address", orDefault(cfg.Addr, "localhost:6379"))
			case "mongo":
				printKeyValue("URI", orDefault(cfg.URI, "mongodb://localhost:27017"))
			}
			return nil
		},
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
