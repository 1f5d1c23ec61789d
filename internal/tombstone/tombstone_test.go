package tombstone

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger/ledgertest"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/store"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/store/sqlite"
)

func setup(t *testing.T) (*Tracker, *ledgertest.Ledger, store.Store) {
	t.Helper()
	ctx := context.Background()

	l := ledgertest.New(t.TempDir())
	if err := l.Init(ctx, "main"); err != nil {
		t.Fatalf("ledger init failed: %v", err)
	}

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "live.db"))
	if err != nil {
		t.Fatalf("store open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.CreateCollection(ctx, store.Collection{Name: "notes"}); err != nil {
		t.Fatalf("create collection failed: %v", err)
	}

	return New(l, db, nil), l, db
}

func putLive(t *testing.T, s store.Store, id, content string) {
	t.Helper()
	err := s.PutDocument(context.Background(), store.Document{
		ID:         id,
		Collection: "notes",
		Content:    content,
		Metadata:   map[string]string{"author": "ada"},
	})
	if err != nil {
		t.Fatalf("put document failed: %v", err)
	}
}

func TestDeleteDocumentWritesTombstoneFirst(t *testing.T) {
	ctx := context.Background()
	tracker, l, db := setup(t)
	putLive(t, db, "doc-1", "hello")

	if err := tracker.DeleteDocument(ctx, "notes", "doc-1"); err != nil {
		t.Fatalf("DeleteDocument failed: %v", err)
	}

	// Physically gone from the live store.
	if _, err := db.GetDocument(ctx, "notes", "doc-1"); !errors.Is(err, store.ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}

	// Tombstone preserves provenance.
	row, err := l.Tombstone(ctx, "notes", "doc-1")
	if err != nil {
		t.Fatalf("Tombstone failed: %v", err)
	}
	if row == nil {
		t.Fatal("no tombstone written")
	}
	if row.Status != ledger.TombstonePending {
		t.Errorf("status = %s, want pending", row.Status)
	}
	if row.Branch != "main" {
		t.Errorf("branch = %s, want main", row.Branch)
	}
	if row.BaseCommit == "" {
		t.Error("base commit not recorded")
	}
	if row.ContentHash == "" {
		t.Error("content hash not recorded")
	}
	if row.Metadata["author"] != "ada" {
		t.Errorf("metadata = %v, want author preserved", row.Metadata)
	}
}

func TestDeleteMissingDocument(t *testing.T) {
	tracker, l, _ := setup(t)

	err := tracker.DeleteDocument(context.Background(), "notes", "ghost")
	if !errors.Is(err, store.ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}

	// No tombstone for a document that never existed.
	row, _ := l.Tombstone(context.Background(), "notes", "ghost")
	if row != nil {
		t.Errorf("unexpected tombstone %+v", row)
	}
}

func TestDeleteCollectionTombstonesEveryDocument(t *testing.T) {
	ctx := context.Background()
	tracker, _, db := setup(t)
	putLive(t, db, "a", "one")
	putLive(t, db, "b", "two")

	if err := tracker.DeleteCollection(ctx, "notes"); err != nil {
		t.Fatalf("DeleteCollection failed: %v", err)
	}

	pending, err := tracker.Pending(ctx, "notes")
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}

	if _, err := db.GetCollection(ctx, "notes"); !errors.Is(err, store.ErrCollectionNotFound) {
		t.Errorf("expected collection gone, got %v", err)
	}
}

func TestMarkApplied(t *testing.T) {
	ctx := context.Background()
	tracker, _, db := setup(t)
	putLive(t, db, "doc-1", "hello")

	if err := tracker.DeleteDocument(ctx, "notes", "doc-1"); err != nil {
		t.Fatal(err)
	}
	if err := tracker.MarkApplied(ctx, "notes", []string{"doc-1"}); err != nil {
		t.Fatalf("MarkApplied failed: %v", err)
	}

	pending, _ := tracker.Pending(ctx, "notes")
	if len(pending) != 0 {
		t.Errorf("pending = %d after apply, want 0", len(pending))
	}
}

func TestMarkAppliedEmptyIsNoop(t *testing.T) {
	tracker, _, _ := setup(t)
	if err := tracker.MarkApplied(context.Background(), "notes", nil); err != nil {
		t.Errorf("MarkApplied with no ids failed: %v", err)
	}
}

func TestPruneKeepsPendingAndRecent(t *testing.T) {
	ctx := context.Background()
	tracker, l, db := setup(t)
	putLive(t, db, "old", "old")
	putLive(t, db, "fresh", "fresh")
	putLive(t, db, "pending", "pending")

	for _, id := range []string{"old", "fresh", "pending"} {
		if err := tracker.DeleteDocument(ctx, "notes", id); err != nil {
			t.Fatal(err)
		}
	}
	if err := tracker.MarkApplied(ctx, "notes", []string{"old", "fresh"}); err != nil {
		t.Fatal(err)
	}

	// Age the "old" tombstone past the retention window.
	row, _ := l.Tombstone(ctx, "notes", "old")
	row.TrackedAt = time.Now().UTC().Add(-48 * time.Hour)
	if err := l.PutTombstone(ctx, *row); err != nil {
		t.Fatal(err)
	}

	pruned, err := tracker.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	if row, _ := l.Tombstone(ctx, "notes", "old"); row != nil {
		t.Error("old applied tombstone should be pruned")
	}
	if row, _ := l.Tombstone(ctx, "notes", "fresh"); row == nil {
		t.Error("recent applied tombstone should survive")
	}
	if row, _ := l.Tombstone(ctx, "notes", "pending"); row == nil {
		t.Error("pending tombstone must never be pruned")
	}
}
