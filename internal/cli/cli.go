package cli

import (
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
)

const (
	appName    = "pipescope"
	configFile = "config.toml"
)

// Levels accepted by [New] and [CLI.SetLogLevel].
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI is the state shared by every command: the logger, plus the
// configuration loaded by the root command before a subcommand runs.
type CLI struct {
	Logger *log.Logger

	configPath string // --config; empty selects the default location
	cfg        Config
}

// New returns a CLI logging to w at the given level, holding the default
// configuration until the root command loads the real one.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level), cfg: DefaultConfig()}
}

func (c *CLI) SetLogLevel(level log.Level) { c.Logger.SetLevel(level) }

// defaultConfigPath honors XDG_CONFIG_HOME and falls back to
// ~/.config/pipescope/config.toml.
func defaultConfigPath() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName, configFile), nil
}
