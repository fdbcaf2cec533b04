package layout

import (
	"github.com/matzehuels/pipescope/pkg/components"
	"github.com/matzehuels/pipescope/pkg/dag/transform"
	"github.com/matzehuels/pipescope/pkg/model"
)

// Config holds the spacing parameters of the layout.
type Config struct {
	LayerGap     float64 `toml:"layer_gap" json:"layer_gap"`         // horizontal gap between layers
	NodeGap      float64 `toml:"node_gap" json:"node_gap"`           // vertical gap between items of a layer
	ComponentGap float64 `toml:"component_gap" json:"component_gap"` // vertical gap between connected components
	BinPadding   float64 `toml:"bin_padding" json:"bin_padding"`     // inner margin of a bin box
	BinHeader    float64 `toml:"bin_header" json:"bin_header"`       // label band at the top of a bin box
	Passes       int     `toml:"passes" json:"passes"`               // ordering sweeps per component
}

// DefaultConfig returns the default spacing.
func DefaultConfig() Config {
	return Config{
		LayerGap:     60,
		NodeGap:      20,
		ComponentGap: 40,
		BinPadding:   16,
		BinHeader:    24,
		Passes:       transform.DefaultPasses,
	}
}

// Sizer provides the rendered size of a node. The rendering boundary owns
// sizes; the layout only uses them as hints for spacing. Bin sizes are never
// asked for: they are computed to enclose their children.
type Sizer interface {
	Size(n model.NodeInfo) components.Size
}

// SizerFunc adapts a function to the Sizer interface.
type SizerFunc func(n model.NodeInfo) components.Size

func (f SizerFunc) Size(n model.NodeInfo) components.Size { return f(n) }

// FixedSizer gives every node the same size.
type FixedSizer components.Size

func (s FixedSizer) Size(model.NodeInfo) components.Size { return components.Size(s) }

// LabelSizer sizes nodes by the length of their name.
type LabelSizer struct {
	CharWidth float64
	MinWidth  float64
	Height    float64
}

func (s LabelSizer) Size(n model.NodeInfo) components.Size {
	w := float64(len([]rune(n.Name)))*s.CharWidth + 2*s.CharWidth
	return components.Size{W: max(w, s.MinWidth), H: s.Height}
}

// DefaultSizer is used when no Sizer is configured.
var DefaultSizer Sizer = FixedSizer{W: 120, H: 40}
