package detect

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/hash"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger/ledgertest"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/store"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/store/sqlite"
)

type fixture struct {
	detector *Detector
	ledger   *ledgertest.Ledger
	store    store.Store
}

func setup(t *testing.T) *fixture {
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

	return &fixture{detector: New(l, db, nil), ledger: l, store: db}
}

// syncBaseline writes the given documents into both stores, commits the
// ledger, and records the commit as the collection's last sync point.
func (f *fixture) syncBaseline(t *testing.T, docs map[string]string) string {
	t.Helper()
	ctx := context.Background()

	for id, content := range docs {
		if err := f.store.PutDocument(ctx, store.Document{
			ID: id, Collection: "notes", Content: content,
		}); err != nil {
			t.Fatal(err)
		}
		if err := f.ledger.PutDocument(ctx, ledger.DocumentRow{
			DocID: id, Collection: "notes", Content: content,
			ContentHash: hash.Content(content),
		}); err != nil {
			t.Fatal(err)
		}
	}

	commit, err := f.ledger.Commit(ctx, "baseline")
	if err != nil {
		t.Fatalf("baseline commit failed: %v", err)
	}
	if err := f.ledger.PutSyncState(ctx, ledger.SyncStateRow{
		Collection:     "notes",
		LastSyncCommit: commit,
		LastSyncAt:     time.Now().UTC(),
		DocumentCount:  len(docs),
		Status:         ledger.StateSynced,
	}); err != nil {
		t.Fatal(err)
	}
	return commit
}

func TestNeverSyncedCollectionIsAllAdditions(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	for _, id := range []string{"a", "b"} {
		if err := f.store.PutDocument(ctx, store.Document{ID: id, Collection: "notes", Content: id}); err != nil {
			t.Fatal(err)
		}
	}

	changes, err := f.detector.Collection(ctx, "notes")
	if err != nil {
		t.Fatalf("Collection failed: %v", err)
	}
	if len(changes.Added) != 2 || len(changes.Modified) != 0 || len(changes.Deleted) != 0 {
		t.Errorf("changes = +%d ~%d -%d, want +2 ~0 -0",
			len(changes.Added), len(changes.Modified), len(changes.Deleted))
	}
	if changes.BaseCommit != "" {
		t.Errorf("base commit = %q, want empty for never-synced", changes.BaseCommit)
	}
}

func TestCleanCollectionHasNoChanges(t *testing.T) {
	f := setup(t)
	f.syncBaseline(t, map[string]string{"a": "one", "b": "two"})

	changes, err := f.detector.Collection(context.Background(), "notes")
	if err != nil {
		t.Fatalf("Collection failed: %v", err)
	}
	if !changes.Empty() {
		t.Errorf("changes = %+v, want none", changes)
	}
}

func TestDetectsContentModification(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	base := f.syncBaseline(t, map[string]string{"a": "one"})

	if err := f.store.PutDocument(ctx, store.Document{ID: "a", Collection: "notes", Content: "edited"}); err != nil {
		t.Fatal(err)
	}

	changes, err := f.detector.Collection(ctx, "notes")
	if err != nil {
		t.Fatal(err)
	}
	if len(changes.Modified) != 1 {
		t.Fatalf("modified = %d, want 1", len(changes.Modified))
	}
	ch := changes.Modified[0]
	if ch.Live == nil || ch.Live.Content != "edited" {
		t.Errorf("live side = %+v", ch.Live)
	}
	if ch.Baseline == nil || ch.Baseline.Content != "one" {
		t.Errorf("baseline side = %+v", ch.Baseline)
	}
	if changes.BaseCommit != base {
		t.Errorf("base commit = %s, want %s", changes.BaseCommit, base)
	}
}

func TestDetectsMetadataOnlyModification(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.syncBaseline(t, map[string]string{"a": "one"})

	// Same content, new metadata.
	if err := f.store.PutDocument(ctx, store.Document{
		ID: "a", Collection: "notes", Content: "one",
		Metadata: map[string]string{"reviewed": "true"},
	}); err != nil {
		t.Fatal(err)
	}

	changes, err := f.detector.Collection(ctx, "notes")
	if err != nil {
		t.Fatal(err)
	}
	if len(changes.Modified) != 1 {
		t.Errorf("modified = %d, want 1 for metadata-only edit", len(changes.Modified))
	}
}

func TestDetectsDeletionAndTombstone(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.syncBaseline(t, map[string]string{"tracked": "one", "untracked": "two"})

	// tracked goes through the tombstone path, untracked vanishes.
	if err := f.ledger.PutTombstone(ctx, ledger.TombstoneRow{
		DocID: "tracked", Collection: "notes", Status: ledger.TombstonePending,
	}); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"tracked", "untracked"} {
		if err := f.store.DeleteDocument(ctx, "notes", id); err != nil {
			t.Fatal(err)
		}
	}

	changes, err := f.detector.Collection(ctx, "notes")
	if err != nil {
		t.Fatal(err)
	}
	if len(changes.Deleted) != 2 {
		t.Fatalf("deleted = %d, want 2", len(changes.Deleted))
	}

	byID := map[string]Change{}
	for _, ch := range changes.Deleted {
		byID[ch.DocID] = ch
	}
	if !byID["tracked"].Tombstoned {
		t.Error("tracked deletion should be tombstoned")
	}
	if byID["untracked"].Tombstoned {
		t.Error("untracked deletion should not be tombstoned")
	}
}

func TestDetectionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.syncBaseline(t, map[string]string{"a": "one"})

	if err := f.store.PutDocument(ctx, store.Document{ID: "b", Collection: "notes", Content: "new"}); err != nil {
		t.Fatal(err)
	}

	first, err := f.detector.Collection(ctx, "notes")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.detector.Collection(ctx, "notes")
	if err != nil {
		t.Fatal(err)
	}
	if first.Total() != second.Total() || first.Total() != 1 {
		t.Errorf("totals = %d then %d, want 1 both times", first.Total(), second.Total())
	}
}

func TestAllCoversDeletedLiveCollections(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.syncBaseline(t, map[string]string{"a": "one"})

	// A second live-only collection with one unsynced document.
	if err := f.store.CreateCollection(ctx, store.Collection{Name: "drafts"}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.PutDocument(ctx, store.Document{ID: "d", Collection: "drafts", Content: "x"}); err != nil {
		t.Fatal(err)
	}

	// Delete the synced collection from the live store entirely.
	if err := f.store.DeleteCollection(ctx, "notes"); err != nil {
		t.Fatal(err)
	}

	all, err := f.detector.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("collections = %d, want 2", len(all))
	}

	byName := map[string]*Changes{}
	for _, c := range all {
		byName[c.Collection] = c
	}
	if len(byName["drafts"].Added) != 1 {
		t.Errorf("drafts = %+v, want one addition", byName["drafts"])
	}
	if len(byName["notes"].Deleted) != 1 {
		t.Errorf("notes = %+v, want one deletion", byName["notes"])
	}
}
