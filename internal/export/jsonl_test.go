package export

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/store"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/store/sqlite"
)

func newStore(t *testing.T) store.Store {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, s store.Store, collection string, docs map[string]string) {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateCollection(ctx, store.Collection{Name: collection}); err != nil {
		t.Fatal(err)
	}
	for id, content := range docs {
		if err := s.PutDocument(ctx, store.Document{
			ID: id, Collection: collection, Content: content,
			Metadata: map[string]string{"source": "seed"},
		}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newStore(t)
	seed(t, src, "notes", map[string]string{"doc1": "alpha", "doc2": "beta"})

	var buf bytes.Buffer
	n, err := Export(ctx, src, "notes", &buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("exported %d documents, want 2", n)
	}

	dst := newStore(t)
	result, err := Import(ctx, dst, &buf, ImportOptions{Collection: "notes"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Imported != 2 || len(result.Errors) != 0 {
		t.Fatalf("import result = %+v", result)
	}

	doc, err := dst.GetDocument(ctx, "notes", "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Content != "alpha" || doc.Metadata["source"] != "seed" {
		t.Errorf("imported document = %+v", doc)
	}
}

func TestExportUnknownCollection(t *testing.T) {
	s := newStore(t)
	var buf bytes.Buffer
	if _, err := Export(context.Background(), s, "missing", &buf); err == nil {
		t.Error("export of unknown collection succeeded")
	}
}

func TestImportDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	in := strings.NewReader(`{"id":"doc1","content":"x"}` + "\n")
	result, err := Import(ctx, s, in, ImportOptions{Collection: "notes", DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.Imported != 1 {
		t.Errorf("dry run counted %d, want 1", result.Imported)
	}
	if _, err := s.GetCollection(ctx, "notes"); err == nil {
		t.Error("dry run created the collection")
	}
}

func TestImportReplaceDeletesUnlisted(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, "notes", map[string]string{"old": "stale", "doc1": "before"})

	in := strings.NewReader(`{"id":"doc1","content":"after"}` + "\n")
	result, err := Import(ctx, s, in, ImportOptions{Collection: "notes", Replace: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.Imported != 1 || result.Deleted != 1 {
		t.Fatalf("result = %+v, want 1 imported 1 deleted", result)
	}
	if _, err := s.GetDocument(ctx, "notes", "old"); err == nil {
		t.Error("unlisted document survived a replace import")
	}
	doc, err := s.GetDocument(ctx, "notes", "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Content != "after" {
		t.Errorf("content = %q, want %q", doc.Content, "after")
	}
}

func TestImportRequiresCollection(t *testing.T) {
	in := strings.NewReader(`{"id":"doc1","content":"x"}` + "\n")
	if _, err := Import(context.Background(), newStore(t), in, ImportOptions{}); err == nil {
		t.Error("import without a collection succeeded")
	}
}

func TestImportPerLineCollections(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	in := strings.NewReader(
		`{"id":"doc1","collection":"notes","content":"a"}` + "\n" +
			`{"id":"doc2","collection":"drafts","content":"b"}` + "\n")
	result, err := Import(ctx, s, in, ImportOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Imported != 2 {
		t.Fatalf("imported %d, want 2", result.Imported)
	}
	if _, err := s.GetDocument(ctx, "drafts", "doc2"); err != nil {
		t.Errorf("per-line collection not honored: %v", err)
	}
}

func TestReadLinesRejectsMissingID(t *testing.T) {
	if _, err := ReadLines(strings.NewReader(`{"content":"no id"}` + "\n")); err == nil {
		t.Error("line without id accepted")
	}
}

func TestExportFileIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, "notes", map[string]string{"doc1": "alpha"})

	path := filepath.Join(t.TempDir(), "notes.jsonl")
	if _, err := ExportFile(ctx, s, "notes", path); err != nil {
		t.Fatal(err)
	}
	if _, err := ImportFile(ctx, newStore(t), path, ImportOptions{Collection: "notes"}); err != nil {
		t.Fatal(err)
	}
}
