package syncer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger/ledgertest"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/merge"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/retry"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/store"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/store/sqlite"
)

// divergeBranches commits base content on main, oursContent on main, and
// theirsContent on a feature branch, leaving the manager back on main with
// a clean store.
func divergeBranches(t *testing.T, base, ours, theirs string) (*Manager, *ledgertest.Ledger, store.Store) {
	t.Helper()
	ctx := context.Background()
	m, l, s := newManager(t)

	putLive(t, s, "notes", "doc1", base)
	mustCommit(t, m, "Base version")

	if res := m.Checkout(ctx, "feature", true, PolicyAbort); !res.Success {
		t.Fatalf("checkout failed: %s", res.Message)
	}
	putLive(t, s, "notes", "doc1", theirs)
	mustCommit(t, m, "Their version")

	if res := m.Checkout(ctx, "main", false, PolicyAbort); !res.Success {
		t.Fatalf("checkout back failed: %s", res.Message)
	}
	putLive(t, s, "notes", "doc1", ours)
	mustCommit(t, m, "Our version")

	return m, l, s
}

func TestMergeFastForward(t *testing.T) {
	ctx := context.Background()
	m, _, s := newManager(t)

	putLive(t, s, "notes", "doc1", "base")
	mustCommit(t, m, "Base")

	if res := m.Checkout(ctx, "feature", true, PolicyAbort); !res.Success {
		t.Fatal(res.Message)
	}
	putLive(t, s, "notes", "doc2", "feature addition")
	mustCommit(t, m, "Add on feature")

	if res := m.Checkout(ctx, "main", false, PolicyAbort); !res.Success {
		t.Fatal(res.Message)
	}

	res := m.Merge(ctx, "feature", nil)
	if !res.Success {
		t.Fatalf("merge failed: %s: %s", res.Code, res.Message)
	}
	if got := liveContent(t, s, "notes", "doc2"); got != "feature addition" {
		t.Errorf("content = %q, want the feature document synced in", got)
	}
	if res.Added != 1 {
		t.Errorf("added = %d, want 1", res.Added)
	}
}

func TestMergeUpToDate(t *testing.T) {
	ctx := context.Background()
	m, _, s := newManager(t)

	putLive(t, s, "notes", "doc1", "base")
	mustCommit(t, m, "Base")
	if res := m.Checkout(ctx, "feature", true, PolicyAbort); !res.Success {
		t.Fatal(res.Message)
	}
	if res := m.Checkout(ctx, "main", false, PolicyAbort); !res.Success {
		t.Fatal(res.Message)
	}

	res := m.Merge(ctx, "feature", nil)
	if !res.Success {
		t.Fatalf("merge = %+v, want up-to-date success", res)
	}
}

func TestMergeBlockedByLocalChanges(t *testing.T) {
	ctx := context.Background()
	m, _, s := divergeBranches(t, "base", "ours", "theirs")

	putLive(t, s, "notes", "extra", "uncommitted")

	res := m.Merge(ctx, "feature", nil)
	if res.Success || res.Code != CodeUncommittedChanges {
		t.Fatalf("merge = %+v, want UNCOMMITTED_CHANGES", res)
	}
}

func TestMergeUnresolvedConflictAborts(t *testing.T) {
	ctx := context.Background()
	m, l, s := divergeBranches(t, "base", "ours", "theirs")

	headBefore, _ := l.HeadCommit(ctx)

	res := m.Merge(ctx, "feature", nil)
	if res.Success || res.Code != CodeUnresolvedConflicts {
		t.Fatalf("merge = %+v, want UNRESOLVED_CONFLICTS", res)
	}
	if len(res.Conflicts) != 1 || res.Unresolved != 1 {
		t.Fatalf("conflicts = %d/%d, want 1 analyzed conflict", len(res.Conflicts), res.Unresolved)
	}
	c := res.Conflicts[0]
	if c.Base.Content != "base" || c.Ours.Content != "ours" || c.Theirs.Content != "theirs" {
		t.Errorf("triplet = %q/%q/%q, want all three versions", c.Base.Content, c.Ours.Content, c.Theirs.Content)
	}

	// Aborted: the repository is back where it was.
	st, err := l.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Merging || !st.Clean {
		t.Errorf("status = %+v, want clean and not merging", st)
	}
	headAfter, _ := l.HeadCommit(ctx)
	if headAfter != headBefore {
		t.Error("aborted merge moved the head")
	}
	if got := liveContent(t, s, "notes", "doc1"); got != "ours" {
		t.Errorf("content = %q, want untouched ours", got)
	}
	if m.State() != StateIdle {
		t.Errorf("state = %s, want idle after rollback", m.State())
	}
}

func TestMergeWithResolutionKeepTheirs(t *testing.T) {
	ctx := context.Background()
	m, l, s := divergeBranches(t, "base", "ours", "theirs")

	res := m.Merge(ctx, "feature", []merge.Resolution{
		{Collection: "notes", DocID: "doc1", Strategy: merge.KeepTheirs},
	})
	if !res.Success {
		t.Fatalf("merge failed: %s: %s", res.Code, res.Message)
	}
	if res.Commit == "" {
		t.Error("resolved merge must report its commit")
	}

	if got := liveContent(t, s, "notes", "doc1"); got != "theirs" {
		t.Errorf("content = %q, want theirs", got)
	}
	st, err := l.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Merging {
		t.Error("merge still in progress after resolution")
	}
}

func TestMergeAutoResolvesWhitespace(t *testing.T) {
	ctx := context.Background()
	m, _, s := divergeBranches(t, "hello world", "hello  world", "hello world\n")

	res := m.Merge(ctx, "feature", nil)
	if !res.Success {
		t.Fatalf("merge = %+v, want whitespace divergence auto-resolved", res)
	}
	if got := liveContent(t, s, "notes", "doc1"); got != "hello  world" {
		t.Errorf("content = %q, want our formatting kept", got)
	}
}

func TestMergeBadResolutionBatch(t *testing.T) {
	ctx := context.Background()
	m, l, _ := divergeBranches(t, "base", "ours", "theirs")

	res := m.Merge(ctx, "feature", []merge.Resolution{
		{Collection: "notes", DocID: "ghost", Strategy: merge.KeepOurs},
	})
	if res.Success || res.Code != CodeInvalidInput {
		t.Fatalf("merge = %+v, want INVALID_INPUT", res)
	}

	st, err := l.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Merging {
		t.Error("failed batch must abort the merge")
	}
}

func TestPreviewMergeDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	m, l, _ := divergeBranches(t, "base", "ours", "theirs")

	headBefore, _ := l.HeadCommit(ctx)
	p, err := m.PreviewMerge(ctx, "feature")
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if len(p.Conflicts) != 1 {
		t.Errorf("previewed conflicts = %d, want 1", len(p.Conflicts))
	}

	headAfter, _ := l.HeadCommit(ctx)
	if headAfter != headBefore {
		t.Error("preview moved the head")
	}
}

// remotePair wires two managers to the same in-memory remote.
func remotePair(t *testing.T) (origin *ledgertest.Ledger, a, b *Manager, sa, sb store.Store) {
	t.Helper()
	ctx := context.Background()

	origin = ledgertest.New(t.TempDir())
	if err := origin.Init(ctx, "main"); err != nil {
		t.Fatal(err)
	}

	newPeer := func() (*Manager, *ledgertest.Ledger, store.Store) {
		l := ledgertest.New(t.TempDir())
		l.AttachRemote("origin", "dolt://origin/data", origin)
		db, err := sqlite.Open(filepath.Join(t.TempDir(), "store.db"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { db.Close() })
		return New(l, db, DefaultConfig(), nil), l, db
	}

	a, _, sa = newPeer()
	if res := a.Clone(ctx, "dolt://origin/data"); !res.Success {
		t.Fatalf("clone failed: %s: %s", res.Code, res.Message)
	}
	b, _, sb = newPeer()
	if res := b.Clone(ctx, "dolt://origin/data"); !res.Success {
		t.Fatalf("clone failed: %s: %s", res.Code, res.Message)
	}
	return origin, a, b, sa, sb
}

func TestPushPullPropagatesDocuments(t *testing.T) {
	ctx := context.Background()
	_, a, b, sa, sb := remotePair(t)

	putLive(t, sa, "notes", "doc1", "shared note")
	mustCommit(t, a, "Add a shared note")

	if res := a.Push(ctx, "origin", ""); !res.Success {
		t.Fatalf("push failed: %s: %s", res.Code, res.Message)
	}

	res := b.Pull(ctx, "origin", "main", nil)
	if !res.Success {
		t.Fatalf("pull failed: %s: %s", res.Code, res.Message)
	}
	if got := liveContent(t, sb, "notes", "doc1"); got != "shared note" {
		t.Errorf("content = %q, want the pushed note", got)
	}
}

func TestPushRejectedWhenBehind(t *testing.T) {
	ctx := context.Background()
	_, a, b, sa, sb := remotePair(t)

	putLive(t, sa, "notes", "doc1", "from a")
	mustCommit(t, a, "A's note")
	if res := a.Push(ctx, "origin", ""); !res.Success {
		t.Fatal(res.Message)
	}

	putLive(t, sb, "notes", "doc2", "from b")
	mustCommit(t, b, "B's note")

	res := b.Push(ctx, "origin", "")
	if res.Success || res.Code != CodeRemoteRejected {
		t.Fatalf("push = %+v, want REMOTE_REJECTED", res)
	}
	if res.Hint == "" {
		t.Error("rejection must hint at pulling first")
	}
}

func TestPullConflictRoutesThroughResolution(t *testing.T) {
	ctx := context.Background()
	_, a, b, sa, sb := remotePair(t)

	putLive(t, sa, "notes", "doc1", "base")
	mustCommit(t, a, "Base")
	if res := a.Push(ctx, "origin", ""); !res.Success {
		t.Fatal(res.Message)
	}
	if res := b.Pull(ctx, "origin", "main", nil); !res.Success {
		t.Fatal(res.Message)
	}

	putLive(t, sa, "notes", "doc1", "a's edit")
	mustCommit(t, a, "A edits")
	if res := a.Push(ctx, "origin", ""); !res.Success {
		t.Fatal(res.Message)
	}

	putLive(t, sb, "notes", "doc1", "b's edit")
	mustCommit(t, b, "B edits")

	res := b.Pull(ctx, "origin", "main", nil)
	if res.Success || res.Code != CodeUnresolvedConflicts {
		t.Fatalf("pull = %+v, want UNRESOLVED_CONFLICTS", res)
	}

	res = b.Pull(ctx, "origin", "main", []merge.Resolution{
		{Collection: "notes", DocID: "doc1", Strategy: merge.KeepTheirs},
	})
	if !res.Success {
		t.Fatalf("resolved pull failed: %s: %s", res.Code, res.Message)
	}
	if got := liveContent(t, sb, "notes", "doc1"); got != "a's edit" {
		t.Errorf("content = %q, want the remote edit kept", got)
	}
}

func TestUnreachableRemoteRetriesThenFails(t *testing.T) {
	ctx := context.Background()

	l := ledgertest.New(t.TempDir())
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := DefaultConfig()
	cfg.RemoteRetry = retry.Policy{
		InitialDelay: time.Millisecond,
		MaxAttempts:  3,
	}
	m := New(l, db, cfg, nil)
	if res := m.Init(ctx, "main"); !res.Success {
		t.Fatal(res.Message)
	}

	// A bare peer with no history of its own accepts the first push.
	origin := ledgertest.New(t.TempDir())
	l.AttachRemote("origin", "dolt://origin/data", origin)
	l.FailRemote(ledger.ErrRemoteUnreachable)

	res := m.Push(ctx, "origin", "")
	if res.Success || res.Code != CodeRemoteUnreachable {
		t.Fatalf("push = %+v, want REMOTE_UNREACHABLE after retries", res)
	}

	l.FailRemote(nil)
	if res := m.Push(ctx, "origin", ""); !res.Success {
		t.Errorf("push after recovery = %+v, want success", res)
	}
}

func TestMergeSweepsPendingBookkeeping(t *testing.T) {
	ctx := context.Background()
	m, l, s := newManager(t)

	putLive(t, s, "notes", "doc1", "base")
	mustCommit(t, m, "Base")
	if res := m.Checkout(ctx, "feature", true, PolicyAbort); !res.Success {
		t.Fatal(res.Message)
	}
	putLive(t, s, "notes", "doc2", "feature addition")
	mustCommit(t, m, "Add on feature")
	if res := m.Checkout(ctx, "main", false, PolicyAbort); !res.Success {
		t.Fatal(res.Message)
	}

	// Bookkeeping rows sit uncommitted in the working set, the way an
	// audit row lands in a backend that versions every table. The ledger
	// refuses to merge over uncommitted rows.
	if err := l.PutTombstone(ctx, ledger.TombstoneRow{
		DocID: "gone", Collection: "notes", Status: ledger.TombstonePending,
	}); err != nil {
		t.Fatal(err)
	}

	res := m.Merge(ctx, "feature", nil)
	if !res.Success {
		t.Fatalf("merge failed: %s: %s", res.Code, res.Message)
	}
	if got := liveContent(t, s, "notes", "doc2"); got != "feature addition" {
		t.Errorf("content = %q, want the feature document synced in", got)
	}
}
