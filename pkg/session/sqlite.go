package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	perrors "github.com/matzehuels/pipescope/pkg/errors"
	"github.com/matzehuels/pipescope/pkg/graph"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	name     TEXT PRIMARY KEY,
	saved_at DATETIME NOT NULL,
	entities INTEGER NOT NULL,
	document TEXT NOT NULL
);`

// SQLiteStore keeps sessions in a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. If path is empty,
// defaults to ~/.config/pipescope/sessions.db. ":memory:" is accepted.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		path = filepath.Join(home, ".config", "pipescope", "sessions.db")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection, so ":memory:" is a single database.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, name string, doc graph.Document) error {
	if err := perrors.ValidateSessionName(name); err != nil {
		return err
	}
	rec := newRecord(name, doc)
	data, err := json.Marshal(rec.Document)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (name, saved_at, entities, document)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			saved_at = excluded.saved_at,
			entities = excluded.entities,
			document = excluded.document`,
		rec.Name, rec.SavedAt, rec.Entities, string(data))
	if err != nil {
		return fmt.Errorf("save session %q: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, name string) (graph.Document, error) {
	if err := perrors.ValidateSessionName(name); err != nil {
		return graph.Document{}, err
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM sessions WHERE name = ?`, name).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return graph.Document{}, notFound(name)
		}
		return graph.Document{}, fmt.Errorf("load session %q: %w", name, err)
	}
	doc, err := graph.UnmarshalDocument([]byte(data))
	if err != nil {
		return graph.Document{}, perrors.Wrap(perrors.ErrCodeInvalidFormat, err, "parse session %q", name)
	}
	return doc, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, saved_at, entities FROM sessions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	infos := []Info{}
	for rows.Next() {
		var (
			info  Info
			saved time.Time
		)
		if err := rows.Scan(&info.Name, &saved, &info.Entities); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		info.SavedAt = saved.UTC()
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	if err := perrors.ValidateSessionName(name); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete session %q: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

var _ Store = (*SQLiteStore)(nil)
