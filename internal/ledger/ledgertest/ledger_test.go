package ledgertest

import (
	"context"
	"errors"
	"testing"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
)

func newInitialized(t *testing.T) *Ledger {
	t.Helper()
	l := New(t.TempDir())
	if err := l.Init(context.Background(), "main"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return l
}

func putDoc(t *testing.T, l *Ledger, collection, id, content string) {
	t.Helper()
	err := l.PutDocument(context.Background(), ledger.DocumentRow{
		DocID:       id,
		Collection:  collection,
		Content:     content,
		ContentHash: content, // tests use content as its own hash
	})
	if err != nil {
		t.Fatalf("PutDocument failed: %v", err)
	}
}

func mustCommit(t *testing.T, l *Ledger, message string) string {
	t.Helper()
	hash, err := l.Commit(context.Background(), message)
	if err != nil {
		t.Fatalf("Commit %q failed: %v", message, err)
	}
	return hash
}

func checkout(t *testing.T, l *Ledger, branch string, create bool) {
	t.Helper()
	if err := l.Checkout(context.Background(), branch, create); err != nil {
		t.Fatalf("Checkout %s failed: %v", branch, err)
	}
}

func TestInitTwiceFails(t *testing.T) {
	l := newInitialized(t)
	if err := l.Init(context.Background(), "main"); !errors.Is(err, ledger.ErrAlreadyInitialized) {
		t.Errorf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestCommitCleanWorkingSet(t *testing.T) {
	l := newInitialized(t)
	if _, err := l.Commit(context.Background(), "empty"); !errors.Is(err, ledger.ErrNothingToCommit) {
		t.Errorf("expected ErrNothingToCommit, got %v", err)
	}
}

func TestCommitAdvancesHead(t *testing.T) {
	ctx := context.Background()
	l := newInitialized(t)

	before, _ := l.HeadCommit(ctx)
	putDoc(t, l, "docs", "a", "v1")
	hash := mustCommit(t, l, "add a")

	after, _ := l.HeadCommit(ctx)
	if after != hash || after == before {
		t.Errorf("head = %s, want new commit %s", after, hash)
	}

	row, err := l.DocumentAt(ctx, hash, "docs", "a")
	if err != nil {
		t.Fatalf("DocumentAt failed: %v", err)
	}
	if row.Content != "v1" {
		t.Errorf("content = %q, want v1", row.Content)
	}
}

func TestDocumentsAtOldRevision(t *testing.T) {
	ctx := context.Background()
	l := newInitialized(t)

	putDoc(t, l, "docs", "a", "v1")
	first := mustCommit(t, l, "add a")
	putDoc(t, l, "docs", "a", "v2")
	mustCommit(t, l, "update a")

	old, err := l.DocumentAt(ctx, first, "docs", "a")
	if err != nil {
		t.Fatalf("DocumentAt failed: %v", err)
	}
	if old.Content != "v1" {
		t.Errorf("old content = %q, want v1", old.Content)
	}
	cur, _ := l.DocumentAt(ctx, "", "docs", "a")
	if cur.Content != "v2" {
		t.Errorf("current content = %q, want v2", cur.Content)
	}
}

func TestCheckoutRequiresCleanWorkingSet(t *testing.T) {
	l := newInitialized(t)
	checkout(t, l, "feature", true)
	checkout(t, l, "main", false)

	putDoc(t, l, "docs", "a", "v1")
	if err := l.Checkout(context.Background(), "feature", false); err == nil {
		t.Error("expected checkout with dirty working set to fail")
	}
}

func TestMergeBase(t *testing.T) {
	ctx := context.Background()
	l := newInitialized(t)

	putDoc(t, l, "docs", "a", "v1")
	base := mustCommit(t, l, "base")

	checkout(t, l, "feature", true)
	putDoc(t, l, "docs", "b", "fb")
	mustCommit(t, l, "feature work")

	checkout(t, l, "main", false)
	putDoc(t, l, "docs", "c", "mc")
	mustCommit(t, l, "main work")

	got, err := l.MergeBase(ctx, "main", "feature")
	if err != nil {
		t.Fatalf("MergeBase failed: %v", err)
	}
	if got != base {
		t.Errorf("merge base = %s, want %s", got, base)
	}
}

func TestMergeFastForward(t *testing.T) {
	ctx := context.Background()
	l := newInitialized(t)

	putDoc(t, l, "docs", "a", "v1")
	mustCommit(t, l, "base")

	checkout(t, l, "feature", true)
	putDoc(t, l, "docs", "b", "fb")
	featureHead := mustCommit(t, l, "feature work")

	checkout(t, l, "main", false)
	out, err := l.Merge(ctx, "feature")
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !out.FastForward || out.Commit != featureHead {
		t.Errorf("outcome = %+v, want fast-forward to %s", out, featureHead)
	}
	if _, err := l.DocumentAt(ctx, "", "docs", "b"); err != nil {
		t.Errorf("merged document missing: %v", err)
	}
}

func TestMergeUpToDate(t *testing.T) {
	ctx := context.Background()
	l := newInitialized(t)

	putDoc(t, l, "docs", "a", "v1")
	mustCommit(t, l, "base")
	checkout(t, l, "feature", true)
	checkout(t, l, "main", false)
	putDoc(t, l, "docs", "b", "mb")
	mustCommit(t, l, "ahead")

	out, err := l.Merge(ctx, "feature")
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !out.UpToDate {
		t.Errorf("outcome = %+v, want up to date", out)
	}
}

func TestMergeCleanThreeWay(t *testing.T) {
	ctx := context.Background()
	l := newInitialized(t)

	putDoc(t, l, "docs", "a", "v1")
	mustCommit(t, l, "base")

	checkout(t, l, "feature", true)
	putDoc(t, l, "docs", "b", "fb")
	mustCommit(t, l, "feature adds b")

	checkout(t, l, "main", false)
	putDoc(t, l, "docs", "c", "mc")
	mustCommit(t, l, "main adds c")

	out, err := l.Merge(ctx, "feature")
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if out.Conflicts != 0 || out.Commit == "" {
		t.Fatalf("outcome = %+v, want clean merge commit", out)
	}

	for _, id := range []string{"a", "b", "c"} {
		if _, err := l.DocumentAt(ctx, "", "docs", id); err != nil {
			t.Errorf("document %s missing after merge: %v", id, err)
		}
	}

	st, _ := l.Status(ctx)
	if !st.Clean || st.Merging {
		t.Errorf("status = %+v, want clean and not merging", st)
	}
}

func TestMergeConflictAndResolve(t *testing.T) {
	ctx := context.Background()
	l := newInitialized(t)

	putDoc(t, l, "docs", "a", "base")
	mustCommit(t, l, "base")

	checkout(t, l, "feature", true)
	putDoc(t, l, "docs", "a", "theirs")
	mustCommit(t, l, "feature edit")

	checkout(t, l, "main", false)
	putDoc(t, l, "docs", "a", "ours")
	mustCommit(t, l, "main edit")

	out, err := l.Merge(ctx, "feature")
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if out.Conflicts != 1 {
		t.Fatalf("conflicts = %d, want 1", out.Conflicts)
	}

	conflicts, err := l.DocumentConflicts(ctx)
	if err != nil {
		t.Fatalf("DocumentConflicts failed: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("got %d conflict rows, want 1", len(conflicts))
	}
	c := conflicts[0]
	if c.Base.Content != "base" || c.Ours.Content != "ours" || c.Theirs.Content != "theirs" {
		t.Errorf("conflict triplet = %q/%q/%q", c.Base.Content, c.Ours.Content, c.Theirs.Content)
	}

	// Commit while conflicted must fail.
	if _, err := l.Commit(ctx, "premature"); !errors.Is(err, ledger.ErrMergeInProgress) {
		t.Errorf("expected ErrMergeInProgress, got %v", err)
	}

	err = l.ResolveDocuments(ctx, []ledger.DocumentResolution{{
		Collection: "docs",
		DocID:      "a",
		Row:        &ledger.DocumentRow{DocID: "a", Collection: "docs", Content: "merged", ContentHash: "merged"},
	}})
	if err != nil {
		t.Fatalf("ResolveDocuments failed: %v", err)
	}

	hash, err := l.Commit(ctx, "merge feature")
	if err != nil {
		t.Fatalf("merge commit failed: %v", err)
	}
	if len(l.commits[hash].parents) != 2 {
		t.Errorf("merge commit has %d parents, want 2", len(l.commits[hash].parents))
	}

	row, _ := l.DocumentAt(ctx, "", "docs", "a")
	if row.Content != "merged" {
		t.Errorf("resolved content = %q, want merged", row.Content)
	}
}

func TestMergeConvergentEditsDoNotConflict(t *testing.T) {
	ctx := context.Background()
	l := newInitialized(t)

	putDoc(t, l, "docs", "a", "base")
	mustCommit(t, l, "base")

	checkout(t, l, "feature", true)
	putDoc(t, l, "docs", "a", "same")
	mustCommit(t, l, "feature edit")

	checkout(t, l, "main", false)
	putDoc(t, l, "docs", "a", "same")
	mustCommit(t, l, "main edit")

	out, err := l.Merge(ctx, "feature")
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if out.Conflicts != 0 {
		t.Errorf("conflicts = %d, want 0 for identical edits", out.Conflicts)
	}
}

func TestMergeDeleteModifyConflict(t *testing.T) {
	ctx := context.Background()
	l := newInitialized(t)

	putDoc(t, l, "docs", "a", "base")
	mustCommit(t, l, "base")

	checkout(t, l, "feature", true)
	if err := l.DeleteDocumentRow(ctx, "docs", "a"); err != nil {
		t.Fatal(err)
	}
	mustCommit(t, l, "feature deletes a")

	checkout(t, l, "main", false)
	putDoc(t, l, "docs", "a", "edited")
	mustCommit(t, l, "main edits a")

	out, err := l.Merge(ctx, "feature")
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if out.Conflicts != 1 {
		t.Fatalf("conflicts = %d, want 1", out.Conflicts)
	}

	conflicts, _ := l.DocumentConflicts(ctx)
	if conflicts[0].Theirs != nil {
		t.Error("theirs should be nil for a delete/modify conflict")
	}
	if conflicts[0].Ours == nil || conflicts[0].Ours.Content != "edited" {
		t.Errorf("ours = %+v, want the edited row", conflicts[0].Ours)
	}
}

func TestAbortMergeRestoresState(t *testing.T) {
	ctx := context.Background()
	l := newInitialized(t)

	putDoc(t, l, "docs", "a", "base")
	mustCommit(t, l, "base")

	checkout(t, l, "feature", true)
	putDoc(t, l, "docs", "a", "theirs")
	mustCommit(t, l, "feature edit")

	checkout(t, l, "main", false)
	putDoc(t, l, "docs", "a", "ours")
	head := mustCommit(t, l, "main edit")

	if _, err := l.Merge(ctx, "feature"); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if err := l.AbortMerge(ctx); err != nil {
		t.Fatalf("AbortMerge failed: %v", err)
	}

	st, _ := l.Status(ctx)
	if st.Merging || !st.Clean || st.Head != head {
		t.Errorf("status after abort = %+v, want clean at %s", st, head)
	}
	row, _ := l.DocumentAt(ctx, "", "docs", "a")
	if row.Content != "ours" {
		t.Errorf("content after abort = %q, want ours", row.Content)
	}
	if err := l.AbortMerge(ctx); !errors.Is(err, ledger.ErrNoMergeInProgress) {
		t.Errorf("second abort: expected ErrNoMergeInProgress, got %v", err)
	}
}

func TestResolveDocumentsIsAtomic(t *testing.T) {
	ctx := context.Background()
	l := newInitialized(t)

	putDoc(t, l, "docs", "a", "base")
	putDoc(t, l, "docs", "b", "base")
	mustCommit(t, l, "base")

	checkout(t, l, "feature", true)
	putDoc(t, l, "docs", "a", "ta")
	putDoc(t, l, "docs", "b", "tb")
	mustCommit(t, l, "feature edits")

	checkout(t, l, "main", false)
	putDoc(t, l, "docs", "a", "oa")
	putDoc(t, l, "docs", "b", "ob")
	mustCommit(t, l, "main edits")

	if _, err := l.Merge(ctx, "feature"); err != nil {
		t.Fatal(err)
	}

	// One valid entry plus one referencing a non-conflict: nothing applies.
	err := l.ResolveDocuments(ctx, []ledger.DocumentResolution{
		{Collection: "docs", DocID: "a", Row: &ledger.DocumentRow{DocID: "a", Collection: "docs", Content: "r", ContentHash: "r"}},
		{Collection: "docs", DocID: "missing", Delete: true},
	})
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	conflicts, _ := l.DocumentConflicts(ctx)
	if len(conflicts) != 2 {
		t.Errorf("conflicts = %d after failed batch, want 2 (untouched)", len(conflicts))
	}
}

func TestPushPullRoundTrip(t *testing.T) {
	ctx := context.Background()

	remote := newInitialized(t)
	local := New(t.TempDir())
	local.AttachRemote("origin", "fake://remote", remote)
	if err := local.Clone(ctx, "fake://remote"); err != nil {
		t.Fatalf("Clone failed: %v", err)
	}

	putDoc(t, local, "docs", "a", "v1")
	mustCommit(t, local, "add a")
	if err := local.Push(ctx, "origin", "main"); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if _, err := remote.DocumentAt(ctx, "main", "docs", "a"); err != nil {
		t.Errorf("pushed document missing on remote: %v", err)
	}

	// Second clone pulls the change.
	other := New(t.TempDir())
	other.AttachRemote("origin", "fake://remote", remote)
	if err := other.Clone(ctx, "fake://remote"); err != nil {
		t.Fatalf("second Clone failed: %v", err)
	}
	putDoc(t, other, "docs", "b", "v1")
	mustCommit(t, other, "add b")
	if err := other.Push(ctx, "origin", "main"); err != nil {
		t.Fatalf("second Push failed: %v", err)
	}

	out, err := local.Pull(ctx, "origin", "main")
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if out.Conflicts != 0 {
		t.Fatalf("pull outcome = %+v, want clean", out)
	}
	if _, err := local.DocumentAt(ctx, "", "docs", "b"); err != nil {
		t.Errorf("pulled document missing: %v", err)
	}
}

func TestPushRejectedWhenBehind(t *testing.T) {
	ctx := context.Background()

	remote := newInitialized(t)
	a := New(t.TempDir())
	a.AttachRemote("origin", "fake://remote", remote)
	if err := a.Clone(ctx, "fake://remote"); err != nil {
		t.Fatal(err)
	}
	b := New(t.TempDir())
	b.AttachRemote("origin", "fake://remote", remote)
	if err := b.Clone(ctx, "fake://remote"); err != nil {
		t.Fatal(err)
	}

	putDoc(t, a, "docs", "x", "a")
	mustCommit(t, a, "a wins")
	if err := a.Push(ctx, "origin", "main"); err != nil {
		t.Fatal(err)
	}

	putDoc(t, b, "docs", "y", "b")
	mustCommit(t, b, "b is behind")
	if err := b.Push(ctx, "origin", "main"); !errors.Is(err, ledger.ErrPushRejected) {
		t.Errorf("expected ErrPushRejected, got %v", err)
	}
}

func TestFailRemoteInjectsError(t *testing.T) {
	ctx := context.Background()

	remote := newInitialized(t)
	local := New(t.TempDir())
	local.AttachRemote("origin", "fake://remote", remote)
	if err := local.Clone(ctx, "fake://remote"); err != nil {
		t.Fatal(err)
	}

	local.FailRemote(ledger.ErrRemoteUnreachable)
	if err := local.Push(ctx, "origin", "main"); !errors.Is(err, ledger.ErrRemoteUnreachable) {
		t.Errorf("expected injected ErrRemoteUnreachable, got %v", err)
	}

	local.FailRemote(nil)
	if err := local.Fetch(ctx, "origin"); err != nil {
		t.Errorf("Fetch after clearing failure: %v", err)
	}
}

func TestResetHardDiscardsWorkingChanges(t *testing.T) {
	ctx := context.Background()
	l := newInitialized(t)

	putDoc(t, l, "docs", "a", "v1")
	first := mustCommit(t, l, "v1")
	putDoc(t, l, "docs", "a", "v2")
	mustCommit(t, l, "v2")
	putDoc(t, l, "docs", "a", "uncommitted")

	if err := l.ResetHard(ctx, first); err != nil {
		t.Fatalf("ResetHard failed: %v", err)
	}
	head, _ := l.HeadCommit(ctx)
	if head != first {
		t.Errorf("head = %s, want %s", head, first)
	}
	row, _ := l.DocumentAt(ctx, "", "docs", "a")
	if row.Content != "v1" {
		t.Errorf("content = %q, want v1", row.Content)
	}
}

func TestTombstoneLifecycle(t *testing.T) {
	ctx := context.Background()
	l := newInitialized(t)

	row := ledger.TombstoneRow{
		DocID:      "a",
		Collection: "docs",
		Branch:     "main",
		Status:     ledger.TombstonePending,
	}
	if err := l.PutTombstone(ctx, row); err != nil {
		t.Fatal(err)
	}

	pending, err := l.Tombstones(ctx, "docs", ledger.TombstonePending)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v (err %v), want 1 row", pending, err)
	}

	if err := l.MarkTombstonesApplied(ctx, "docs", []string{"a"}); err != nil {
		t.Fatal(err)
	}
	pending, _ = l.Tombstones(ctx, "docs", ledger.TombstonePending)
	if len(pending) != 0 {
		t.Errorf("pending = %d after apply, want 0", len(pending))
	}
	applied, _ := l.Tombstones(ctx, "", ledger.TombstoneApplied)
	if len(applied) != 1 {
		t.Errorf("applied = %d, want 1", len(applied))
	}
}

func TestOperationLog(t *testing.T) {
	ctx := context.Background()
	l := newInitialized(t)

	id, err := l.AppendOperation(ctx, ledger.OperationRow{Type: ledger.OpCommit, Branch: "main", Status: ledger.OpStarted})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.FinishOperation(ctx, id, ledger.OpCompleted, "abc", ""); err != nil {
		t.Fatal(err)
	}

	ops, err := l.Operations(ctx, 10)
	if err != nil || len(ops) != 1 {
		t.Fatalf("ops = %v (err %v), want 1 row", ops, err)
	}
	if ops[0].Status != ledger.OpCompleted || ops[0].CommitAfter != "abc" {
		t.Errorf("op = %+v, want completed at abc", ops[0])
	}
}
