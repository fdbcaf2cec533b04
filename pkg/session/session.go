// Package session persists mirrored stores between runs.
//
// A session is a named [graph.Document]: the producer-owned components of
// every entity at the time of the save. Derived components (position, size)
// are never stored; the layout engine rebuilds them after a load.
//
// # Backends
//
//   - file: JSON files under ~/.config/pipescope/sessions, for the CLI
//   - redis: shared storage for several replicas
//   - mongo: document storage
//   - sqlite: a single local database file
//
// All backends implement [Store] and validate names with
// [errors.ValidateSessionName] before touching storage.
//
// # Usage
//
//	store, err := session.Open(ctx, session.Config{Backend: "file"})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	doc, _ := graph.FromStore(s)
//	err = store.Save(ctx, "nightly", doc)
//
//	doc, err = store.Load(ctx, "nightly")
//	if errors.Is(err, errors.ErrCodeSessionNotFound) {
//	    // start empty
//	}
//
// [errors.ValidateSessionName]: github.com/matzehuels/pipescope/pkg/errors.ValidateSessionName
package session

import (
	"context"
	"time"

	perrors "github.com/matzehuels/pipescope/pkg/errors"
	"github.com/matzehuels/pipescope/pkg/graph"
)

// Store is the interface for session storage backends.
type Store interface {
	// Save stores doc under name, replacing any previous session.
	Save(ctx context.Context, name string, doc graph.Document) error

	// Load retrieves a session. A missing session yields an error with code
	// SESSION_NOT_FOUND.
	Load(ctx context.Context, name string) (graph.Document, error)

	// List returns every stored session sorted by name.
	List(ctx context.Context) ([]Info, error)

	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, name string) error

	// Close releases the backend's resources.
	Close() error
}

// Info describes a stored session.
type Info struct {
	Name     string    `json:"name" bson:"name"`
	SavedAt  time.Time `json:"saved_at" bson:"saved_at"`
	Entities int       `json:"entities" bson:"entities"`
}

// Record is the stored form of a session.
type Record struct {
	Info     `bson:",inline"`
	Document graph.Document `json:"document" bson:"document"`
}

func newRecord(name string, doc graph.Document) Record {
	return Record{
		Info:     Info{Name: name, SavedAt: time.Now().UTC(), Entities: doc.Len()},
		Document: doc,
	}
}

func notFound(name string) error {
	return perrors.New(perrors.ErrCodeSessionNotFound, "session %q not found", name)
}

// Config selects and configures a backend.
type Config struct {
	// Backend is one of "file", "redis", "mongo" or "sqlite".
	// Empty means "file".
	Backend string `toml:"backend"`

	// Dir is the directory of the file backend.
	Dir string `toml:"dir"`

	// Addr is the redis address.
	Addr string `toml:"addr"`

	// URI is the mongo connection string.
	URI string `toml:"uri"`

	// Path is the sqlite database file.
	Path string `toml:"path"`
}

// Open creates the backend described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Dir)
	case "redis":
		return NewRedisStore(ctx, RedisOptions{Addr: cfg.Addr})
	case "mongo":
		return NewMongoStore(ctx, MongoOptions{URI: cfg.URI})
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.Path)
	default:
		return nil, perrors.New(perrors.ErrCodeInvalidConfig, "unknown session backend %q", cfg.Backend)
	}
}
