package replica

import (
	"time"

	"github.com/matzehuels/pipescope/pkg/layout"
	"github.com/matzehuels/pipescope/pkg/model"
)

// Producer describes one live producer connection.
type Producer struct {
	Conn      string    `json:"conn"`
	Remote    string    `json:"remote"`
	Name      string    `json:"name,omitempty"`
	Since     time.Time `json:"since"`
	Syncing   bool      `json:"syncing,omitempty"`
	Mutations int       `json:"mutations"`
}

// Status is the health summary of the mirror.
type Status struct {
	Producers []Producer `json:"producers"`
	Sessions  int        `json:"sessions"` // connections accepted so far

	Entities   int `json:"entities"`
	Applied    int `json:"applied"`
	NoOps      int `json:"noops"`
	Stale      int `json:"stale"`
	Violations int `json:"violations"`
	Resyncs    int `json:"resyncs"`
	Reaped     int `json:"reaped"` // entities destroyed by resync reconciliation

	Relayouts   int    `json:"relayouts"`
	Anomalies   int    `json:"anomalies"`
	LayoutState string `json:"layout_state"`
}

// Connected reports whether at least one producer is connected.
func (s Status) Connected() bool { return len(s.Producers) > 0 }

// View is an immutable, consistent picture of the mirror: the topology,
// the layout computed for exactly that topology, and the status at the
// same instant. Views are safe to share between goroutines.
type View struct {
	Seq      uint64          `json:"seq"` // increases with every published view
	At       time.Time       `json:"at"`
	Snapshot *model.Snapshot `json:"-"`
	Layout   *layout.Result  `json:"layout"`
	Status   Status          `json:"status"`
}
