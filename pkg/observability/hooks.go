// Package observability provides hooks for metrics, tracing, and logging.
//
// This package enables optional instrumentation without adding hard dependencies
// on specific observability backends. Consumers can register hooks at startup
// to receive events about mutation handling, relayouts, producer connections
// and API calls.
//
// # Architecture
//
// The package uses a simple hooks pattern:
//   - Define hook interfaces for different event categories
//   - Provide no-op default implementations
//   - Allow registration of custom implementations at startup
//
// Libraries never import a metrics backend; main registers one. [Prometheus]
// is the implementation shipped with the CLI.
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    p := observability.NewPrometheus(prometheus.DefaultRegisterer)
//	    observability.Install(p)
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	start := time.Now()
//	res, err := relayout()
//	observability.Layout().OnRelayout(ctx, len(res.Items), components, reused, time.Since(start), err)
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Replica Hooks
// =============================================================================

// ReplicaHooks receives events from the consumer-side model loop.
type ReplicaHooks interface {
	// OnMutation records one mutation outcome: "applied", "noop", "stale"
	// or "rejected".
	OnMutation(ctx context.Context, op, outcome string)

	// OnViolation records a rejected mutation or malformed frame by error code.
	OnViolation(ctx context.Context, code string)

	// OnResync records a completed full resync and the number of entities it
	// destroyed.
	OnResync(ctx context.Context, producer string, destroyed int)
}

// =============================================================================
// Layout Hooks
// =============================================================================

// LayoutHooks receives events from the layout engine.
type LayoutHooks interface {
	// OnRelayout records one relayout pass.
	OnRelayout(ctx context.Context, items, components, reused int, duration time.Duration, err error)

	// OnAnomaly records an invariant violation that forced a fallback layout.
	OnAnomaly(ctx context.Context, err error)
}

// =============================================================================
// Transport Hooks
// =============================================================================

// TransportHooks receives events from producer connections.
type TransportHooks interface {
	// OnConnect records an accepted producer connection.
	OnConnect(ctx context.Context, remote string)

	// OnDisconnect records the end of a producer connection.
	OnDisconnect(ctx context.Context, remote string, err error)

	// OnFrame records a frame read from a connection.
	OnFrame(ctx context.Context, kind string)
}

// =============================================================================
// HTTP Hooks
// =============================================================================

// HTTPHooks receives events from the read-only HTTP API.
type HTTPHooks interface {
	// OnRequest records a served HTTP request.
	OnRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopReplicaHooks is a no-op implementation of ReplicaHooks.
type NoopReplicaHooks struct{}

func (NoopReplicaHooks) OnMutation(context.Context, string, string) {}
func (NoopReplicaHooks) OnViolation(context.Context, string)        {}
func (NoopReplicaHooks) OnResync(context.Context, string, int)      {}

// NoopLayoutHooks is a no-op implementation of LayoutHooks.
type NoopLayoutHooks struct{}

func (NoopLayoutHooks) OnRelayout(context.Context, int, int, int, time.Duration, error) {}
func (NoopLayoutHooks) OnAnomaly(context.Context, error)                                {}

// NoopTransportHooks is a no-op implementation of TransportHooks.
type NoopTransportHooks struct{}

func (NoopTransportHooks) OnConnect(context.Context, string)           {}
func (NoopTransportHooks) OnDisconnect(context.Context, string, error) {}
func (NoopTransportHooks) OnFrame(context.Context, string)             {}

// NoopHTTPHooks is a no-op implementation of HTTPHooks.
type NoopHTTPHooks struct{}

func (NoopHTTPHooks) OnRequest(context.Context, string, string, int, time.Duration) {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	replicaHooks   ReplicaHooks   = NoopReplicaHooks{}
	layoutHooks    LayoutHooks    = NoopLayoutHooks{}
	transportHooks TransportHooks = NoopTransportHooks{}
	httpHooks      HTTPHooks      = NoopHTTPHooks{}
	hooksMu        sync.RWMutex
)

// SetReplicaHooks registers custom replica hooks.
// This should be called once at application startup.
func SetReplicaHooks(h ReplicaHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		replicaHooks = h
	}
}

// SetLayoutHooks registers custom layout hooks.
// This should be called once at application startup.
func SetLayoutHooks(h LayoutHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		layoutHooks = h
	}
}

// SetTransportHooks registers custom transport hooks.
// This should be called once at application startup.
func SetTransportHooks(h TransportHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		transportHooks = h
	}
}

// SetHTTPHooks registers custom HTTP hooks.
// This should be called once at application startup.
func SetHTTPHooks(h HTTPHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		httpHooks = h
	}
}

// Replica returns the registered replica hooks.
func Replica() ReplicaHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return replicaHooks
}

// Layout returns the registered layout hooks.
func Layout() LayoutHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return layoutHooks
}

// Transport returns the registered transport hooks.
func Transport() TransportHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return transportHooks
}

// HTTP returns the registered HTTP hooks.
func HTTP() HTTPHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return httpHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	replicaHooks = NoopReplicaHooks{}
	layoutHooks = NoopLayoutHooks{}
	transportHooks = NoopTransportHooks{}
	httpHooks = NoopHTTPHooks{}
}
