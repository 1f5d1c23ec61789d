// Package ledgertest provides an in-memory ledger.Ledger for tests.
//
// It models the parts of the versioned store the sync layer depends on:
// a commit DAG with immutable snapshots, branches, merge-base resolution,
// row-level three-way merge with conflict recording, merge abort, and a
// simulated remote (another in-memory ledger attached by name).
//
// The fake is deliberately strict where the real backend is strict:
// checkout and merge require a clean working set, commits with unresolved
// conflicts fail, and aborting a merge restores the exact pre-merge state.
package ledgertest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
)

type rowKey struct {
	collection string
	docID      string
}

// snapshot is the full versioned table state at one commit.
type snapshot struct {
	documents   map[rowKey]ledger.DocumentRow
	collections map[string]ledger.CollectionRow
	tombstones  map[rowKey]ledger.TombstoneRow
}

func newSnapshot() snapshot {
	return snapshot{
		documents:   make(map[rowKey]ledger.DocumentRow),
		collections: make(map[string]ledger.CollectionRow),
		tombstones:  make(map[rowKey]ledger.TombstoneRow),
	}
}

func (s snapshot) clone() snapshot {
	out := newSnapshot()
	for k, v := range s.documents {
		out.documents[k] = v.Clone()
	}
	for k, v := range s.collections {
		out.collections[k] = v
	}
	for k, v := range s.tombstones {
		out.tombstones[k] = v
	}
	return out
}

type commit struct {
	hash    string
	message string
	author  string
	ts      time.Time
	parents []string
	snap    snapshot
}

type conflictEntry struct {
	base, ours, theirs *ledger.DocumentRow
}

// Ledger is the in-memory ledger.Ledger implementation.
type Ledger struct {
	mu sync.Mutex

	root        string
	initialized bool
	seq         int

	branches   map[string]string // branch name -> commit hash
	remoteRefs map[string]string // "remote/branch" -> commit hash
	commits    map[string]*commit
	current    string
	working    snapshot

	merging     bool
	mergeSource string // source head commit of the in-progress merge
	preMerge    *premergeState
	conflicts   map[rowKey]conflictEntry
	// bookkeeping tables with unresolved (keep-current-branch) conflicts
	tableConflicts map[string]bool

	syncStates map[string]ledger.SyncStateRow
	operations []ledger.OperationRow

	remotes     map[string]string  // name -> url
	remotePeers map[string]*Ledger // name -> attached peer
	remoteErr   error              // injected failure for remote operations
}

type premergeState struct {
	working snapshot
	head    string
}

var _ ledger.Ledger = (*Ledger)(nil)

// New returns an uninitialized in-memory ledger rooted at root.
func New(root string) *Ledger {
	return &Ledger{
		root:           root,
		branches:       make(map[string]string),
		remoteRefs:     make(map[string]string),
		commits:        make(map[string]*commit),
		working:        newSnapshot(),
		conflicts:      make(map[rowKey]conflictEntry),
		tableConflicts: make(map[string]bool),
		syncStates:     make(map[string]ledger.SyncStateRow),
		remotes:        make(map[string]string),
		remotePeers:    make(map[string]*Ledger),
	}
}

// AttachRemote wires another in-memory ledger as the named remote so push,
// pull, fetch, and clone have a peer to talk to.
func (l *Ledger) AttachRemote(name, url string, peer *Ledger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remotes[name] = url
	l.remotePeers[name] = peer
}

// FailRemote makes every subsequent remote operation return err until
// called again with nil. Used to simulate unreachable or rejecting remotes.
func (l *Ledger) FailRemote(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remoteErr = err
}

// Root implements ledger.Ledger.
func (l *Ledger) Root() string { return l.root }

// IsInitialized implements ledger.Ledger.
func (l *Ledger) IsInitialized(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialized
}

// Init implements ledger.Ledger: creates the initial empty commit.
func (l *Ledger) Init(ctx context.Context, branch string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.initialized {
		return ledger.ErrAlreadyInitialized
	}
	if branch == "" {
		branch = "main"
	}

	c := l.newCommitLocked("Initialize data repository", nil, newSnapshot())
	l.branches[branch] = c.hash
	l.current = branch
	l.working = c.snap.clone()
	l.initialized = true
	return nil
}

// Clone implements ledger.Ledger by copying an attached peer whose URL
// matches.
func (l *Ledger) Clone(ctx context.Context, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.initialized {
		return ledger.ErrAlreadyInitialized
	}
	if l.remoteErr != nil {
		return l.remoteErr
	}

	var peer *Ledger
	var name string
	for n, u := range l.remotes {
		if u == url {
			peer, name = l.remotePeers[n], n
		}
	}
	if peer == nil {
		return fmt.Errorf("%w: %s", ledger.ErrRemoteUnreachable, url)
	}

	peer.mu.Lock()
	for h, c := range peer.commits {
		l.commits[h] = c
	}
	for b, h := range peer.branches {
		l.remoteRefs[name+"/"+b] = h
	}
	head, cur := peer.branches[peer.current], peer.current
	peer.mu.Unlock()

	l.branches[cur] = head
	l.current = cur
	l.working = l.commits[head].snap.clone()
	l.initialized = true
	return nil
}

// EnsureSchema implements ledger.Ledger. Tables are implicit in the fake.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if !l.IsInitialized(ctx) {
		return ledger.ErrNotInitialized
	}
	return nil
}

// CurrentBranch implements ledger.Ledger.
func (l *Ledger) CurrentBranch(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		return "", ledger.ErrNotInitialized
	}
	return l.current, nil
}

// HeadCommit implements ledger.Ledger.
func (l *Ledger) HeadCommit(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		return "", ledger.ErrNotInitialized
	}
	head, ok := l.branches[l.current]
	if !ok {
		return "", ledger.ErrEmptyRepository
	}
	return head, nil
}

// Branches implements ledger.Ledger.
func (l *Ledger) Branches(ctx context.Context) ([]ledger.Branch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []ledger.Branch
	for name, head := range l.branches {
		out = append(out, ledger.Branch{Name: name, Head: head, IsCurrent: name == l.current})
	}
	for ref, head := range l.remoteRefs {
		remote, name, _ := strings.Cut(ref, "/")
		out = append(out, ledger.Branch{Name: name, Head: head, Remote: remote})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Remote != out[j].Remote {
			return out[i].Remote < out[j].Remote
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// BranchExists implements ledger.Ledger.
func (l *Ledger) BranchExists(ctx context.Context, name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.branches[name]
	return ok
}

// CreateBranch implements ledger.Ledger.
func (l *Ledger) CreateBranch(ctx context.Context, name, base string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.branches[name]; ok {
		return ledger.ErrBranchExists
	}
	head, err := l.resolveLocked(base)
	if err != nil {
		return err
	}
	l.branches[name] = head
	return nil
}

// DeleteBranch implements ledger.Ledger.
func (l *Ledger) DeleteBranch(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.branches[name]; !ok {
		return ledger.ErrBranchNotFound
	}
	if name == l.current {
		return fmt.Errorf("cannot delete the checked-out branch %s", name)
	}
	delete(l.branches, name)
	return nil
}

// RenameBranch implements ledger.Ledger.
func (l *Ledger) RenameBranch(ctx context.Context, oldName, newName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	head, ok := l.branches[oldName]
	if !ok {
		return ledger.ErrBranchNotFound
	}
	if _, ok := l.branches[newName]; ok {
		return ledger.ErrBranchExists
	}
	delete(l.branches, oldName)
	l.branches[newName] = head
	if l.current == oldName {
		l.current = newName
	}
	return nil
}

// Checkout implements ledger.Ledger. The working set must be clean; the
// sync manager resolves uncommitted-change policy before calling this.
func (l *Ledger) Checkout(ctx context.Context, target string, create bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.merging {
		return ledger.ErrMergeInProgress
	}
	if l.dirtyLocked() {
		return fmt.Errorf("working set has uncommitted changes")
	}

	if create {
		if _, ok := l.branches[target]; ok {
			return ledger.ErrBranchExists
		}
		l.branches[target] = l.branches[l.current]
	}

	if head, ok := l.branches[target]; ok {
		l.current = target
		l.working = l.commits[head].snap.clone()
		return nil
	}

	// Commit hash checkout: detach onto an anonymous branch the way the
	// real backend pins a commit.
	if c, ok := l.commits[target]; ok {
		l.branches[l.current] = c.hash
		l.working = c.snap.clone()
		return nil
	}

	return fmt.Errorf("%w: %s", ledger.ErrBranchNotFound, target)
}

// ResetHard implements ledger.Ledger.
func (l *Ledger) ResetHard(ctx context.Context, revision string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.merging {
		// reset --hard also aborts an in-progress merge
		l.clearMergeLocked()
	}

	head, err := l.resolveLocked(revision)
	if err != nil {
		return err
	}
	l.branches[l.current] = head
	l.working = l.commits[head].snap.clone()
	return nil
}

// MergeBase implements ledger.Ledger.
func (l *Ledger) MergeBase(ctx context.Context, a, b string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ha, err := l.resolveLocked(a)
	if err != nil {
		return "", err
	}
	hb, err := l.resolveLocked(b)
	if err != nil {
		return "", err
	}
	base := l.mergeBaseLocked(ha, hb)
	if base == "" {
		return "", fmt.Errorf("no common ancestor between %s and %s", a, b)
	}
	return base, nil
}

// Log implements ledger.Ledger.
func (l *Ledger) Log(ctx context.Context, n int) ([]ledger.Commit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	head, ok := l.branches[l.current]
	if !ok {
		return nil, ledger.ErrEmptyRepository
	}

	reach := l.ancestorsLocked(head)
	var out []ledger.Commit
	for h := range reach {
		c := l.commits[h]
		out = append(out, ledger.Commit{Hash: c.hash, Message: c.message, Author: c.author, Timestamp: c.ts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// Status implements ledger.Ledger.
func (l *Ledger) Status(ctx context.Context) (*ledger.Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.initialized {
		return nil, ledger.ErrNotInitialized
	}
	return &ledger.Status{
		Branch:         l.current,
		Head:           l.branches[l.current],
		Clean:          !l.dirtyLocked() && !l.merging,
		Merging:        l.merging,
		ConflictTables: l.conflictTablesLocked(),
	}, nil
}

// Commit implements ledger.Ledger.
func (l *Ledger) Commit(ctx context.Context, message string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.initialized {
		return "", ledger.ErrNotInitialized
	}
	if l.merging {
		if len(l.conflicts) > 0 || len(l.tableConflicts) > 0 {
			return "", ledger.ErrMergeInProgress
		}
		parents := []string{l.branches[l.current], l.mergeSource}
		c := l.newCommitLocked(message, parents, l.working.clone())
		l.branches[l.current] = c.hash
		l.clearMergeLocked()
		return c.hash, nil
	}

	if !l.dirtyLocked() {
		return "", ledger.ErrNothingToCommit
	}

	c := l.newCommitLocked(message, []string{l.branches[l.current]}, l.working.clone())
	l.branches[l.current] = c.hash
	return c.hash, nil
}

// Merge implements ledger.Ledger.
func (l *Ledger) Merge(ctx context.Context, source string) (*ledger.MergeOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mergeLocked(source)
}

func (l *Ledger) mergeLocked(source string) (*ledger.MergeOutcome, error) {
	if l.merging {
		return nil, ledger.ErrMergeInProgress
	}
	if l.dirtyLocked() {
		return nil, fmt.Errorf("working set has uncommitted changes")
	}

	sourceHead, err := l.resolveLocked(source)
	if err != nil {
		return nil, err
	}
	targetHead := l.branches[l.current]

	if sourceHead == targetHead || l.isAncestorLocked(sourceHead, targetHead) {
		return &ledger.MergeOutcome{UpToDate: true, Commit: targetHead}, nil
	}
	if l.isAncestorLocked(targetHead, sourceHead) {
		l.branches[l.current] = sourceHead
		l.working = l.commits[sourceHead].snap.clone()
		return &ledger.MergeOutcome{FastForward: true, Commit: sourceHead}, nil
	}

	base := l.mergeBaseLocked(targetHead, sourceHead)
	baseSnap := newSnapshot()
	if base != "" {
		baseSnap = l.commits[base].snap
	}
	ours := l.commits[targetHead].snap
	theirs := l.commits[sourceHead].snap

	pre := &premergeState{working: l.working.clone(), head: targetHead}
	merged, conflicts := mergeDocuments(baseSnap, ours, theirs)
	mergeCollections(&merged, baseSnap, ours, theirs)
	tableConflicts := mergeTombstones(&merged, baseSnap, ours, theirs)

	if len(conflicts) == 0 && len(tableConflicts) == 0 {
		c := l.newCommitLocked(fmt.Sprintf("Merge %s into %s", source, l.current),
			[]string{targetHead, sourceHead}, merged)
		l.branches[l.current] = c.hash
		l.working = c.snap.clone()
		return &ledger.MergeOutcome{Commit: c.hash}, nil
	}

	l.merging = true
	l.mergeSource = sourceHead
	l.preMerge = pre
	l.conflicts = conflicts
	l.tableConflicts = tableConflicts
	l.working = merged

	return &ledger.MergeOutcome{
		Conflicts:      len(conflicts) + len(tableConflicts),
		ConflictTables: l.conflictTablesLocked(),
	}, nil
}

// AbortMerge implements ledger.Ledger.
func (l *Ledger) AbortMerge(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.merging {
		return ledger.ErrNoMergeInProgress
	}
	l.working = l.preMerge.working
	l.branches[l.current] = l.preMerge.head
	l.clearMergeLocked()
	return nil
}

// ConflictTables implements ledger.Ledger.
func (l *Ledger) ConflictTables(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conflictTablesLocked(), nil
}

// ResolveTable implements ledger.Ledger.
func (l *Ledger) ResolveTable(ctx context.Context, table string, side ledger.ResolutionSide) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.merging {
		return ledger.ErrNoMergeInProgress
	}

	if table == ledger.TableDocuments {
		for key, entry := range l.conflicts {
			row := entry.ours
			if side == ledger.SideTheirs {
				row = entry.theirs
			}
			if row == nil {
				delete(l.working.documents, key)
			} else {
				l.working.documents[key] = row.Clone()
			}
			delete(l.conflicts, key)
		}
		return nil
	}

	// Bookkeeping tables: the merged working set already holds the current
	// branch's rows, so keep-ours only clears the conflict marker.
	if !l.tableConflicts[table] {
		return nil
	}
	if side == ledger.SideTheirs {
		return fmt.Errorf("bookkeeping table %s only supports ours resolution", table)
	}
	delete(l.tableConflicts, table)
	return nil
}

// DocumentConflicts implements ledger.Ledger.
func (l *Ledger) DocumentConflicts(ctx context.Context) ([]ledger.ConflictRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []ledger.ConflictRow
	for key, entry := range l.conflicts {
		out = append(out, ledger.ConflictRow{
			Table:      ledger.TableDocuments,
			Collection: key.collection,
			DocID:      key.docID,
			Base:       cloneRowPtr(entry.base),
			Ours:       cloneRowPtr(entry.ours),
			Theirs:     cloneRowPtr(entry.theirs),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Collection != out[j].Collection {
			return out[i].Collection < out[j].Collection
		}
		return out[i].DocID < out[j].DocID
	})
	return out, nil
}

// ResolveDocuments implements ledger.Ledger. All-or-nothing: the batch is
// validated against the open conflicts before anything is written.
func (l *Ledger) ResolveDocuments(ctx context.Context, resolutions []ledger.DocumentResolution) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, res := range resolutions {
		key := rowKey{res.Collection, res.DocID}
		if _, ok := l.conflicts[key]; !ok {
			return fmt.Errorf("%w: no open conflict for %s/%s", ledger.ErrNotFound, res.Collection, res.DocID)
		}
		if !res.Delete && res.Row == nil {
			return fmt.Errorf("resolution for %s/%s has neither row nor delete", res.Collection, res.DocID)
		}
	}

	for _, res := range resolutions {
		key := rowKey{res.Collection, res.DocID}
		if res.Delete {
			delete(l.working.documents, key)
		} else {
			l.working.documents[key] = res.Row.Clone()
		}
		delete(l.conflicts, key)
	}
	return nil
}

// Remotes implements ledger.Ledger.
func (l *Ledger) Remotes(ctx context.Context) ([]ledger.Remote, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []ledger.Remote
	for name, url := range l.remotes {
		out = append(out, ledger.Remote{Name: name, URL: url})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AddRemote implements ledger.Ledger.
func (l *Ledger) AddRemote(ctx context.Context, name, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remotes[name] = url
	return nil
}

// Fetch implements ledger.Ledger.
func (l *Ledger) Fetch(ctx context.Context, remote string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.fetchLocked(remote)
	return err
}

func (l *Ledger) fetchLocked(remote string) (string, error) {
	if l.remoteErr != nil {
		return "", l.remoteErr
	}
	if remote == "" {
		remote = "origin"
	}
	peer, ok := l.remotePeers[remote]
	if !ok {
		return "", ledger.ErrNoRemote
	}

	peer.mu.Lock()
	for h, c := range peer.commits {
		if _, seen := l.commits[h]; !seen {
			l.commits[h] = c
		}
	}
	for b, h := range peer.branches {
		l.remoteRefs[remote+"/"+b] = h
	}
	peer.mu.Unlock()
	return remote, nil
}

// Pull implements ledger.Ledger: fetch followed by a merge of the
// remote-tracking branch.
func (l *Ledger) Pull(ctx context.Context, remote, branch string) (*ledger.MergeOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	name, err := l.fetchLocked(remote)
	if err != nil {
		return nil, err
	}
	if branch == "" {
		branch = l.current
	}
	ref := name + "/" + branch
	if _, ok := l.remoteRefs[ref]; !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrBranchNotFound, ref)
	}
	return l.mergeLocked(ref)
}

// Push implements ledger.Ledger.
func (l *Ledger) Push(ctx context.Context, remote, branch string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.remoteErr != nil {
		return l.remoteErr
	}
	if remote == "" {
		remote = "origin"
	}
	peer, ok := l.remotePeers[remote]
	if !ok {
		return ledger.ErrNoRemote
	}
	if branch == "" {
		branch = l.current
	}
	head, ok := l.branches[branch]
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrBranchNotFound, branch)
	}

	peer.mu.Lock()
	defer peer.mu.Unlock()

	if peerHead, ok := peer.branches[branch]; ok {
		if _, known := l.commits[peerHead]; !known || !l.isAncestorLocked(peerHead, head) {
			return ledger.ErrPushRejected
		}
	}
	for h := range l.ancestorsLocked(head) {
		if _, seen := peer.commits[h]; !seen {
			peer.commits[h] = l.commits[h]
		}
	}
	peer.branches[branch] = head
	if peer.current == branch {
		peer.working = peer.commits[head].snap.clone()
	}
	l.remoteRefs[remote+"/"+branch] = head
	return nil
}

// DocumentsAt implements ledger.Ledger.
func (l *Ledger) DocumentsAt(ctx context.Context, revision, collection string) ([]ledger.DocumentRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap, err := l.snapshotLocked(revision)
	if err != nil {
		return nil, err
	}

	var out []ledger.DocumentRow
	for key, row := range snap.documents {
		if collection != "" && key.collection != collection {
			continue
		}
		out = append(out, row.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Collection != out[j].Collection {
			return out[i].Collection < out[j].Collection
		}
		return out[i].DocID < out[j].DocID
	})
	return out, nil
}

// DocumentAt implements ledger.Ledger.
func (l *Ledger) DocumentAt(ctx context.Context, revision, collection, docID string) (*ledger.DocumentRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap, err := l.snapshotLocked(revision)
	if err != nil {
		return nil, err
	}
	row, ok := snap.documents[rowKey{collection, docID}]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	out := row.Clone()
	return &out, nil
}

// CollectionsAt implements ledger.Ledger.
func (l *Ledger) CollectionsAt(ctx context.Context, revision string) ([]ledger.CollectionRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap, err := l.snapshotLocked(revision)
	if err != nil {
		return nil, err
	}
	var out []ledger.CollectionRow
	for _, row := range snap.collections {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// PutDocument implements ledger.Ledger.
func (l *Ledger) PutDocument(ctx context.Context, row ledger.DocumentRow) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.working.documents[rowKey{row.Collection, row.DocID}] = row.Clone()
	return nil
}

// DeleteDocumentRow implements ledger.Ledger.
func (l *Ledger) DeleteDocumentRow(ctx context.Context, collection, docID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.working.documents, rowKey{collection, docID})
	return nil
}

// PutCollection implements ledger.Ledger.
func (l *Ledger) PutCollection(ctx context.Context, row ledger.CollectionRow) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.working.collections[row.Name] = row
	return nil
}

// DeleteCollectionRows implements ledger.Ledger.
func (l *Ledger) DeleteCollectionRows(ctx context.Context, collection string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.working.collections, collection)
	for key := range l.working.documents {
		if key.collection == collection {
			delete(l.working.documents, key)
		}
	}
	return nil
}

// SyncStates implements ledger.Ledger.
func (l *Ledger) SyncStates(ctx context.Context) ([]ledger.SyncStateRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []ledger.SyncStateRow
	for _, row := range l.syncStates {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Collection < out[j].Collection })
	return out, nil
}

// SyncState implements ledger.Ledger.
func (l *Ledger) SyncState(ctx context.Context, collection string) (*ledger.SyncStateRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.syncStates[collection]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &row, nil
}

// PutSyncState implements ledger.Ledger.
func (l *Ledger) PutSyncState(ctx context.Context, row ledger.SyncStateRow) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.syncStates[row.Collection] = row
	return nil
}

// DeleteSyncState implements ledger.Ledger.
func (l *Ledger) DeleteSyncState(ctx context.Context, collection string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.syncStates, collection)
	return nil
}

// Tombstones implements ledger.Ledger.
func (l *Ledger) Tombstones(ctx context.Context, collection string, status ledger.TombstoneStatus) ([]ledger.TombstoneRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []ledger.TombstoneRow
	for key, row := range l.working.tombstones {
		if collection != "" && key.collection != collection {
			continue
		}
		if status != "" && row.Status != status {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Collection != out[j].Collection {
			return out[i].Collection < out[j].Collection
		}
		return out[i].DocID < out[j].DocID
	})
	return out, nil
}

// Tombstone implements ledger.Ledger.
func (l *Ledger) Tombstone(ctx context.Context, collection, docID string) (*ledger.TombstoneRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.working.tombstones[rowKey{collection, docID}]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

// PutTombstone implements ledger.Ledger.
func (l *Ledger) PutTombstone(ctx context.Context, row ledger.TombstoneRow) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.working.tombstones[rowKey{row.Collection, row.DocID}] = row
	return nil
}

// DeleteTombstone implements ledger.Ledger.
func (l *Ledger) DeleteTombstone(ctx context.Context, collection, docID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.working.tombstones, rowKey{collection, docID})
	return nil
}

// MarkTombstonesApplied implements ledger.Ledger.
func (l *Ledger) MarkTombstonesApplied(ctx context.Context, collection string, docIDs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range docIDs {
		key := rowKey{collection, id}
		if row, ok := l.working.tombstones[key]; ok {
			row.Status = ledger.TombstoneApplied
			l.working.tombstones[key] = row
		}
	}
	return nil
}

// AppendOperation implements ledger.Ledger.
func (l *Ledger) AppendOperation(ctx context.Context, row ledger.OperationRow) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	row.ID = int64(len(l.operations) + 1)
	if row.StartedAt.IsZero() {
		row.StartedAt = time.Now().UTC()
	}
	l.operations = append(l.operations, row)
	return row.ID, nil
}

// FinishOperation implements ledger.Ledger.
func (l *Ledger) FinishOperation(ctx context.Context, id int64, status ledger.OperationStatus, commitAfter string, errMessage string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := int(id) - 1
	if idx < 0 || idx >= len(l.operations) {
		return ledger.ErrNotFound
	}
	l.operations[idx].Status = status
	l.operations[idx].CommitAfter = commitAfter
	l.operations[idx].ErrorMessage = errMessage
	l.operations[idx].FinishedAt = time.Now().UTC()
	return nil
}

// Operations implements ledger.Ledger.
func (l *Ledger) Operations(ctx context.Context, n int) ([]ledger.OperationRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]ledger.OperationRow, 0, len(l.operations))
	for i := len(l.operations) - 1; i >= 0; i-- {
		out = append(out, l.operations[i])
		if n > 0 && len(out) == n {
			break
		}
	}
	return out, nil
}

// Exec implements ledger.Ledger. The fake has no SQL engine.
func (l *Ledger) Exec(ctx context.Context, query string, args ...any) error {
	return fmt.Errorf("ledgertest: raw SQL not supported: %s", query)
}

// ===================
// Internals
// ===================

func (l *Ledger) newCommitLocked(message string, parents []string, snap snapshot) *commit {
	l.seq++
	sum := sha256.Sum256(fmt.Appendf(nil, "%d:%s:%v", l.seq, message, parents))
	c := &commit{
		hash:    hex.EncodeToString(sum[:16]),
		message: message,
		author:  "ledgertest",
		ts:      time.Now().UTC().Add(time.Duration(l.seq) * time.Millisecond),
		parents: parents,
		snap:    snap,
	}
	l.commits[c.hash] = c
	return c
}

// resolveLocked maps a branch name, remote ref, commit hash, or "" (head)
// to a commit hash.
func (l *Ledger) resolveLocked(revision string) (string, error) {
	if revision == "" || revision == "HEAD" {
		head, ok := l.branches[l.current]
		if !ok {
			return "", ledger.ErrEmptyRepository
		}
		return head, nil
	}
	if head, ok := l.branches[revision]; ok {
		return head, nil
	}
	if head, ok := l.remoteRefs[revision]; ok {
		return head, nil
	}
	if _, ok := l.commits[revision]; ok {
		return revision, nil
	}
	return "", fmt.Errorf("%w: %s", ledger.ErrBranchNotFound, revision)
}

func (l *Ledger) snapshotLocked(revision string) (snapshot, error) {
	if revision == "" {
		return l.working, nil
	}
	head, err := l.resolveLocked(revision)
	if err != nil {
		return snapshot{}, err
	}
	return l.commits[head].snap, nil
}

func (l *Ledger) dirtyLocked() bool {
	head, ok := l.branches[l.current]
	if !ok {
		return false
	}
	return !snapshotsEqual(l.working, l.commits[head].snap)
}

func (l *Ledger) ancestorsLocked(head string) map[string]bool {
	seen := make(map[string]bool)
	queue := []string{head}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if seen[h] {
			continue
		}
		seen[h] = true
		if c, ok := l.commits[h]; ok {
			queue = append(queue, c.parents...)
		}
	}
	return seen
}

func (l *Ledger) isAncestorLocked(ancestor, descendant string) bool {
	return l.ancestorsLocked(descendant)[ancestor]
}

// mergeBaseLocked returns the nearest common ancestor by commit time.
func (l *Ledger) mergeBaseLocked(a, b string) string {
	ancestorsA := l.ancestorsLocked(a)
	var best string
	var bestTS time.Time
	for h := range l.ancestorsLocked(b) {
		if !ancestorsA[h] {
			continue
		}
		if c := l.commits[h]; best == "" || c.ts.After(bestTS) {
			best, bestTS = h, c.ts
		}
	}
	return best
}

func (l *Ledger) clearMergeLocked() {
	l.merging = false
	l.mergeSource = ""
	l.preMerge = nil
	l.conflicts = make(map[rowKey]conflictEntry)
	l.tableConflicts = make(map[string]bool)
}

func (l *Ledger) conflictTablesLocked() []string {
	var out []string
	if len(l.conflicts) > 0 {
		out = append(out, ledger.TableDocuments)
	}
	for table := range l.tableConflicts {
		out = append(out, table)
	}
	sort.Strings(out)
	return out
}

// mergeDocuments performs the row-level three-way merge of the documents
// table. Convergent edits (both sides producing the same row) are not
// conflicts.
func mergeDocuments(base, ours, theirs snapshot) (snapshot, map[rowKey]conflictEntry) {
	merged := newSnapshot()
	conflicts := make(map[rowKey]conflictEntry)

	keys := make(map[rowKey]bool)
	for k := range base.documents {
		keys[k] = true
	}
	for k := range ours.documents {
		keys[k] = true
	}
	for k := range theirs.documents {
		keys[k] = true
	}

	for k := range keys {
		b, hasB := base.documents[k]
		o, hasO := ours.documents[k]
		t, hasT := theirs.documents[k]

		oursChanged := rowChanged(hasB, b, hasO, o)
		theirsChanged := rowChanged(hasB, b, hasT, t)

		switch {
		case !oursChanged && !theirsChanged:
			if hasB {
				merged.documents[k] = b.Clone()
			}
		case oursChanged && !theirsChanged:
			if hasO {
				merged.documents[k] = o.Clone()
			}
		case !oursChanged && theirsChanged:
			if hasT {
				merged.documents[k] = t.Clone()
			}
		default:
			// Both changed. Identical outcomes converge silently.
			if hasO == hasT && (!hasO || rowsEqual(o, t)) {
				if hasO {
					merged.documents[k] = o.Clone()
				}
				continue
			}
			entry := conflictEntry{}
			if hasB {
				entry.base = cloneRowPtr(&b)
			}
			if hasO {
				entry.ours = cloneRowPtr(&o)
				merged.documents[k] = o.Clone()
			}
			if hasT {
				entry.theirs = cloneRowPtr(&t)
			}
			conflicts[k] = entry
		}
	}

	return merged, conflicts
}

// mergeCollections unions collection registry rows, ours winning on
// divergence (registry rows are bookkeeping, keep-current-branch).
func mergeCollections(merged *snapshot, base, ours, theirs snapshot) {
	for name, row := range theirs.collections {
		merged.collections[name] = row
	}
	for name, row := range ours.collections {
		merged.collections[name] = row
	}
	// Respect deletions made on our side.
	for name := range base.collections {
		if _, ok := ours.collections[name]; !ok {
			if _, theirsKept := theirs.collections[name]; theirsKept {
				theirRow := theirs.collections[name]
				baseRow := base.collections[name]
				if collectionRowsEqual(theirRow, baseRow) {
					delete(merged.collections, name)
				}
			} else {
				delete(merged.collections, name)
			}
		}
	}
}

// mergeTombstones unions tombstones and flags the table as conflicted when
// both sides changed the same row differently.
func mergeTombstones(merged *snapshot, base, ours, theirs snapshot) map[string]bool {
	tableConflicts := make(map[string]bool)

	keys := make(map[rowKey]bool)
	for k := range base.tombstones {
		keys[k] = true
	}
	for k := range ours.tombstones {
		keys[k] = true
	}
	for k := range theirs.tombstones {
		keys[k] = true
	}

	for k := range keys {
		b, hasB := base.tombstones[k]
		o, hasO := ours.tombstones[k]
		t, hasT := theirs.tombstones[k]

		oursChanged := hasB != hasO || (hasB && !tombstoneRowsEqual(o, b))
		theirsChanged := hasB != hasT || (hasB && !tombstoneRowsEqual(t, b))

		switch {
		case oursChanged && theirsChanged:
			if hasO == hasT && (!hasO || tombstoneRowsEqual(o, t)) {
				if hasO {
					merged.tombstones[k] = o
				}
				continue
			}
			// Keep ours in the working set; flag the table.
			if hasO {
				merged.tombstones[k] = o
			}
			tableConflicts[ledger.TableTombstones] = true
		case oursChanged:
			if hasO {
				merged.tombstones[k] = o
			}
		case theirsChanged:
			if hasT {
				merged.tombstones[k] = t
			}
		default:
			if hasB {
				merged.tombstones[k] = b
			}
		}
	}

	return tableConflicts
}

func rowChanged(hasBase bool, base ledger.DocumentRow, hasSide bool, side ledger.DocumentRow) bool {
	if hasBase != hasSide {
		return true
	}
	if !hasBase {
		return false
	}
	return !rowsEqual(base, side)
}

// rowsEqual compares identity-bearing fields: content hash and metadata.
// Timestamps are not identity.
func rowsEqual(a, b ledger.DocumentRow) bool {
	if a.ContentHash != b.ContentHash {
		return false
	}
	return metadataEqual(a.Metadata, b.Metadata)
}

func metadataEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func collectionRowsEqual(a, b ledger.CollectionRow) bool {
	return a.Name == b.Name &&
		a.DisplayName == b.DisplayName &&
		a.Description == b.Description &&
		a.Embedding == b.Embedding &&
		metadataEqual(a.Metadata, b.Metadata)
}

func snapshotsEqual(a, b snapshot) bool {
	if len(a.documents) != len(b.documents) ||
		len(a.collections) != len(b.collections) ||
		len(a.tombstones) != len(b.tombstones) {
		return false
	}
	for k, row := range a.documents {
		other, ok := b.documents[k]
		if !ok || !rowsEqual(row, other) {
			return false
		}
	}
	for k, row := range a.collections {
		other, ok := b.collections[k]
		if !ok || !collectionRowsEqual(row, other) {
			return false
		}
	}
	for k, row := range a.tombstones {
		other, ok := b.tombstones[k]
		if !ok || !tombstoneRowsEqual(row, other) {
			return false
		}
	}
	return true
}

func tombstoneRowsEqual(a, b ledger.TombstoneRow) bool {
	return a.DocID == b.DocID &&
		a.Collection == b.Collection &&
		a.ContentHash == b.ContentHash &&
		a.Branch == b.Branch &&
		a.BaseCommit == b.BaseCommit &&
		a.Status == b.Status &&
		metadataEqual(a.Metadata, b.Metadata)
}

func cloneRowPtr(row *ledger.DocumentRow) *ledger.DocumentRow {
	if row == nil {
		return nil
	}
	out := row.Clone()
	return &out
}
