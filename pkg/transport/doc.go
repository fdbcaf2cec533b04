// Package transport carries the mutation stream over TCP.
//
// [Server] accepts producer connections and decodes their frames into
// [Batch]es for the single goroutine that owns the store. Messages already
// buffered from the socket are delivered together, so a burst of mutations
// costs one hand-off. Malformed frames travel in the batch as violations;
// the connection stays open.
//
// [Client] is the producer side. It keeps a mirror of everything it has
// sent, reconnects with exponential backoff and replays the mirror between
// sync_begin and sync_end on every connection. [Client.Send] never blocks:
// when the outgoing buffer is full the oldest mutation is dropped and a full
// resync is scheduled instead.
//
// Both sides release their connections when their context is canceled.
package transport
