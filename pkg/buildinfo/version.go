// Package buildinfo provides build-time version information.
//
// Variables are set via ldflags during build:
//
//	go build -ldflags "-X github.com/matzehuels/pipescope/pkg/buildinfo.Version=v0.3.0 \
//	    -X github.com/matzehuels/pipescope/pkg/buildinfo.Commit=$(git rev-parse HEAD) \
//	    -X github.com/matzehuels/pipescope/pkg/buildinfo.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)" \
//	    ./cmd/pipescope
package buildinfo

import (
	"fmt"

	"github.com/matzehuels/pipescope/pkg/protocol"
)

var (
	// Version is the semantic version (e.g., "v1.2.3").
	Version = "dev"

	// Commit is the git commit SHA.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// Template returns the version template string for cobra. It includes the
// wire protocol version, which producers must match.
func Template() string {
	return fmt.Sprintf("{{.Name}} version %s\ncommit: %s\nbuilt: %s\nprotocol: %d\n", Version, Commit, Date, protocol.Version)
}
