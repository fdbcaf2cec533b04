package cli

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/matzehuels/pipescope/pkg/api"
	perrors "github.com/matzehuels/pipescope/pkg/errors"
	"github.com/matzehuels/pipescope/pkg/layout"
	"github.com/matzehuels/pipescope/pkg/session"
	"github.com/matzehuels/pipescope/pkg/transport"
)

// Config is the pipescope configuration file.
//
//	[transport]
//	addr = "127.0.0.1:9870"
//	idle_timeout = "30s"
//
//	[http]
//	addr = "127.0.0.1:9871"
//
//	[layout]
//	layer_gap = 80
//
//	[session]
//	backend = "redis"
//	addr = "localhost:6379"
type Config struct {
	Transport TransportConfig `toml:"transport"`
	HTTP      HTTPConfig      `toml:"http"`
	Layout    layout.Config   `toml:"layout"`
	Session   session.Config  `toml:"session"`
}

// TransportConfig configures the producer listener.
type TransportConfig struct {
	Addr        string        `toml:"addr"`
	IdleTimeout time.Duration `toml:"idle_timeout"`
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	Addr     string `toml:"addr"`
	Disabled bool   `toml:"disabled"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Transport: TransportConfig{Addr: transport.DefaultAddr},
		HTTP:      HTTPConfig{Addr: api.DefaultAddr},
		Layout:    layout.DefaultConfig(),
		Session:   session.Config{Backend: "file"},
	}
}

// loadConfig reads path over the defaults. An empty path means the default
// location, which may be absent; an explicit path must exist.
func loadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		p, err := defaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		path = p
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return Config{}, perrors.Wrap(perrors.ErrCodeInvalidConfig, err, "load config %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		slices.Sort(keys)
		return Config{}, perrors.New(perrors.ErrCodeInvalidConfig, "%s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return cfg, cfg.Validate()
}

// Validate checks addresses and layout spacing.
func (c Config) Validate() error {
	if err := perrors.ValidateListenAddress(c.Transport.Addr); err != nil {
		return err
	}
	if !c.HTTP.Disabled {
		if err := perrors.ValidateListenAddress(c.HTTP.Addr); err != nil {
			return err
		}
	}
	if c.Transport.IdleTimeout < 0 {
		return perrors.New(perrors.ErrCodeInvalidConfig, "negative idle_timeout %s", c.Transport.IdleTimeout)
	}
	l := c.Layout
	if l.LayerGap < 0 || l.NodeGap < 0 || l.ComponentGap < 0 || l.BinPadding < 0 || l.BinHeader < 0 || l.Passes < 0 {
		return perrors.New(perrors.ErrCodeInvalidConfig, "layout spacing must not be negative")
	}
	return nil
}

// writeConfig encodes cfg as TOML.
func writeConfig(w io.Writer, cfg Config) error {
	return toml.NewEncoder(w).Encode(cfg)
}

// configCommand creates the config command.
func (c *CLI) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeConfig(cmd.OutOrStdout(), c.cfg)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.configPath
			if path == "" {
				p, err := defaultConfigPath()
				if err != nil {
					return err
				}
				path = p
			}
			cmd.Println(path)
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				printDetail("not present, using defaults")
			}
			return nil
		},
	})
	return cmd
}
