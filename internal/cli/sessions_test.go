package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	perrors "github.com/matzehuels/pipescope/pkg/errors"
	"github.com/matzehuels/pipescope/pkg/replica"
	"github.com/matzehuels/pipescope/pkg/session"
	"github.com/matzehuels/pipescope/pkg/transport"
)

func defaultFileStore(t *testing.T, home string) *session.FileStore {
	t.Helper()
	s, err := session.NewFileStore(filepath.Join(filepath.Dir(home), ".config", appName, "sessions"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func runReplica(t *testing.T) *replica.Replica {
	t.Helper()
	r := replica.New(replica.WithLogger(log.New(io.Discard)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, make(chan transport.Batch)) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

func TestSessionTable(t *testing.T) {
	out := sessionTable([]session.Info{
		{Name: "alpha", Entities: 12, SavedAt: time.Now().Add(-2 * time.Hour)},
		{Name: "beta", Entities: 3, SavedAt: time.Now()},
	})
	for _, want := range []string{"Session", "alpha", "12", "2h ago", "beta", "just now"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestSessionsDelete(t *testing.T) {
	home := isolate(t)
	store := defaultFileStore(t, home)
	ctx := context.Background()
	if err := store.Save(ctx, "old", demoDocument(t)); err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, "sessions", "delete", "old", "never-saved"); err != nil {
		t.Fatalf("sessions delete: %v", err)
	}
	if _, err := store.Load(ctx, "old"); !perrors.Is(err, perrors.ErrCodeSessionNotFound) {
		t.Errorf("session still loadable after delete: %v", err)
	}

	if _, err := execute(t, "sessions", "delete", "bad/name"); !perrors.Is(err, perrors.ErrCodeInvalidInput) {
		t.Errorf("err = %v, want INVALID_INPUT", err)
	}
}

func TestRestoreAndSaveSession(t *testing.T) {
	ctx := context.Background()
	store, err := session.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	logger := log.New(io.Discard)

	r := runReplica(t)
	if err := restoreSession(ctx, logger, store, r, "fresh"); err != nil {
		t.Fatalf("restore of a missing session: %v", err)
	}
	if n := r.View().Status.Entities; n != 0 {
		t.Errorf("entities = %d after restoring nothing", n)
	}

	doc := demoDocument(t)
	if err := store.Save(ctx, "saved", doc); err != nil {
		t.Fatal(err)
	}
	if err := restoreSession(ctx, logger, store, r, "saved"); err != nil {
		t.Fatalf("restoreSession: %v", err)
	}
	if got := r.View().Status.Entities; got != doc.Len() {
		t.Errorf("entities = %d, want %d", got, doc.Len())
	}

	if err := saveSession(ctx, store, r, "copy"); err != nil {
		t.Fatalf("saveSession: %v", err)
	}
	got, err := store.Load(ctx, "copy")
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != doc.Len() {
		t.Errorf("saved entities = %d, want %d", got.Len(), doc.Len())
	}
}

func TestRunServe_SavesSessionOnExit(t *testing.T) {
	home := isolate(t)
	store := defaultFileStore(t, home)
	doc := demoDocument(t)
	if err := store.Save(context.Background(), "demo", doc); err != nil {
		t.Fatal(err)
	}
	before, err := store.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	c := New(io.Discard, LogInfo)
	c.cfg.Transport.Addr = "127.0.0.1:0"
	c.cfg.HTTP.Disabled = true

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := c.runServe(ctx, serveOptions{session: "demo"}); err != nil {
		t.Fatalf("runServe: %v", err)
	}

	after, err := store.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 1 || after[0].Entities != doc.Len() {
		t.Fatalf("sessions after serve = %+v", after)
	}
	if !after[0].SavedAt.After(before[0].SavedAt) {
		t.Errorf("session not saved again on exit")
	}
}

func TestSessionsList(t *testing.T) {
	home := isolate(t)
	var buf bytes.Buffer
	stdout = &buf
	t.Cleanup(func() { stdout = os.Stdout })

	if _, err := execute(t, "sessions", "list"); err != nil {
		t.Fatalf("sessions list: %v", err)
	}
	if !strings.Contains(buf.String(), "No saved sessions") {
		t.Errorf("empty listing = %q", buf.String())
	}

	store := defaultFileStore(t, home)
	if err := store.Save(context.Background(), "nightly", demoDocument(t)); err != nil {
		t.Fatal(err)
	}
	buf.Reset()
	if _, err := execute(t, "sessions", "ls"); err != nil {
		t.Fatalf("sessions ls: %v", err)
	}
	if !strings.Contains(buf.String(), "nightly") {
		t.Errorf("listing missing session:\n%s", buf.String())
	}
}
