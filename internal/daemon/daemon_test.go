package daemon

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/hash"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger/ledgertest"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/store"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/store/sqlite"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/syncer"
)

func testConfig() *Config {
	return &Config{
		RefreshInterval:  50 * time.Millisecond,
		DebounceInterval: 10 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon-test] ", log.LstdFlags),
	}
}

func newFixture(t *testing.T) (*syncer.Manager, *ledgertest.Ledger, store.Store, string) {
	t.Helper()
	ctx := context.Background()

	watchDir := t.TempDir()
	l := ledgertest.New(watchDir)
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := syncer.New(l, db, syncer.DefaultConfig(), nil)
	if res := m.Init(ctx, "main"); !res.Success {
		t.Fatalf("init failed: %s: %s", res.Code, res.Message)
	}
	return m, l, db, watchDir
}

// commitDirect writes a document straight into the ledger, the way another
// process sharing the repository would.
func commitDirect(t *testing.T, l *ledgertest.Ledger, id, content string) {
	t.Helper()
	ctx := context.Background()

	if err := l.PutCollection(ctx, ledger.CollectionRow{Name: "notes"}); err != nil {
		t.Fatal(err)
	}
	if err := l.PutDocument(ctx, ledger.DocumentRow{
		DocID: id, Collection: "notes", Content: content,
		ContentHash: hash.Content(content),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Commit(ctx, "External commit"); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewValidatesArguments(t *testing.T) {
	if _, err := New(nil, t.TempDir(), nil); err == nil {
		t.Error("nil manager accepted")
	}

	m, _, _, _ := newFixture(t)
	if _, err := New(m, "", nil); err == nil {
		t.Error("empty watch directory accepted")
	}
}

func TestDaemonSyncsOnFileEvent(t *testing.T) {
	m, l, s, watchDir := newFixture(t)

	d, err := New(m, watchDir, testConfig())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	// Give the initial sync and watch setup a moment.
	waitFor(t, "daemon startup", func() bool {
		ops, err := m.Operations(context.Background(), 1)
		return err == nil && len(ops) > 0 && ops[0].Type == ledger.OpResync
	})

	commitDirect(t, l, "doc1", "written behind the daemon's back")
	if err := os.WriteFile(filepath.Join(watchDir, "changed"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "document to reach the live store", func() bool {
		_, err := s.GetDocument(context.Background(), "notes", "doc1")
		return err == nil
	})

	cancel()
	if err := <-done; err != nil {
		t.Errorf("daemon exited with: %v", err)
	}
}

func TestDaemonPeriodicRefresh(t *testing.T) {
	m, l, s, watchDir := newFixture(t)

	d, err := New(m, watchDir, testConfig())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	// No filesystem event: the periodic refresh alone must pick this up.
	commitDirect(t, l, "doc2", "periodic pickup")

	waitFor(t, "periodic refresh to apply the commit", func() bool {
		_, err := s.GetDocument(context.Background(), "notes", "doc2")
		return err == nil
	})

	cancel()
	<-done
}

func TestDaemonLeavesLocalChangesAlone(t *testing.T) {
	m, _, s, watchDir := newFixture(t)
	ctx := context.Background()

	if err := s.CreateCollection(ctx, store.Collection{Name: "notes"}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutDocument(ctx, store.Document{
		ID: "draft", Collection: "notes", Content: "uncommitted",
	}); err != nil {
		t.Fatal(err)
	}
	if res := m.Commit(ctx, "Base", nil); !res.Success {
		t.Fatal(res.Message)
	}
	if err := s.PutDocument(ctx, store.Document{
		ID: "draft", Collection: "notes", Content: "local edit",
	}); err != nil {
		t.Fatal(err)
	}

	d, err := New(m, watchDir, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(runCtx) }()

	// Let a few refresh cycles pass.
	time.Sleep(200 * time.Millisecond)
	cancel()
	<-done

	doc, err := s.GetDocument(ctx, "notes", "draft")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Content != "local edit" {
		t.Errorf("content = %q, want the local edit untouched", doc.Content)
	}
}

func TestIgnorable(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/repo/.dolt/noms/manifest.lock", true},
		{"/repo/store.db-wal", false},
		{"/repo/store.wal", true},
		{"/repo/data.journal", true},
		{"/repo/.tmp-manifest", true},
		{"/repo/upload.tmp", true},
		{"/repo/LOCK", true},
		{"/repo/documents.csv", false},
		{"/repo/.dolt/repo_state.json", false},
	}
	for _, tt := range tests {
		if got := ignorable(tt.path); got != tt.want {
			t.Errorf("ignorable(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
