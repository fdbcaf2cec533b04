// Package graph provides serialization types for mirrored topologies.
//
// This package defines the canonical external formats of pipescope's data,
// used for session files, API responses and exports.
//
// # Core Types
//
//   - [Document]: the producer-owned content of a store, entity by entity.
//     Sessions persist documents; loading one replays [Document.Mutations].
//   - [Topology]: a [model.Snapshot] with plain ids, for API responses.
//   - [Scene]: a topology plus its computed layout, for renderers.
//
// # Document Format
//
// Components use the same encoding as the wire protocol:
//
//	{
//	  "version": 1,
//	  "entities": [
//	    {"id": 1, "components": {"node": {"name": "src"}, "state": "playing"}},
//	    {"id": 2, "components": {"port": {"direction": "output", "owner": 1}}}
//	  ]
//	}
//
// Common operations:
//
//	doc, _ := graph.FromStore(store)              // Store → Document
//	graph.WriteDocumentFile(doc, "session.json")  // Document → File
//	doc, _ = graph.ReadDocumentFile("session.json")
//	muts, _ := doc.Mutations(components.Registry())
//
// # Concurrency
//
// FromStore reads the store and must run on the goroutine that owns it. All
// other functions are safe for concurrent use.
package graph
