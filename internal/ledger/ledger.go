// Package ledger defines the interface to the versioned relational store
// that provides branch/commit/merge semantics over document rows.
//
// The ledger is the source of truth: the live document store holds no
// history, and every history-bearing operation (branch, commit, merge,
// reset, push, pull) mutates the ledger first. The sync layer then
// reconciles the live store to match.
//
// # Architecture
//
// The Ledger interface covers four concerns:
//   - Repository and reference management (init, clone, branches, checkout)
//   - Commit, merge, and conflict operations
//   - Typed document-row queries at any revision (schema-aware, no
//     loosely-typed row maps)
//   - Bookkeeping tables owned by the sync layer (sync state, deletion
//     tombstones, operation audit log)
//
// # Implementations
//
//   - internal/ledger/dolt: process wrapper over the dolt CLI
//   - internal/ledger/ledgertest: in-memory ledger for package tests
//
// Failure modes that callers must distinguish are reported as the sentinel
// errors in errors.go, never by matching subprocess output text.
package ledger

import (
	"context"
	"time"
)

// ResolutionSide selects which side of a conflicted table wins when the
// ledger resolves a whole table at once.
type ResolutionSide string

const (
	// SideOurs keeps the current (target) branch's rows.
	SideOurs ResolutionSide = "ours"

	// SideTheirs keeps the merged (source) branch's rows.
	SideTheirs ResolutionSide = "theirs"
)

// Ledger is the process-level interface to the versioned store.
//
// All blocking operations take a context; network operations honor
// cancellation and deadlines. Methods that mutate the repository are not
// safe for concurrent use; serialization is the sync manager's job.
type Ledger interface {
	// ===================
	// Repository
	// ===================

	// Root returns the repository root directory path.
	Root() string

	// IsInitialized reports whether Root contains a ledger repository.
	IsInitialized(ctx context.Context) bool

	// Init creates a new repository at Root with the given initial branch.
	// Returns ErrAlreadyInitialized if a repository already exists.
	Init(ctx context.Context, branch string) error

	// Clone clones the remote repository at url into Root.
	Clone(ctx context.Context, url string) error

	// EnsureSchema creates the document and bookkeeping tables if they do
	// not exist. Idempotent.
	EnsureSchema(ctx context.Context) error

	// ===================
	// References
	// ===================

	// CurrentBranch returns the checked-out branch name.
	CurrentBranch(ctx context.Context) (string, error)

	// HeadCommit returns the commit hash the checkout points at.
	// Returns ErrEmptyRepository if no commit exists yet.
	HeadCommit(ctx context.Context) (string, error)

	// Branches returns all local and remote-tracking branches.
	Branches(ctx context.Context) ([]Branch, error)

	// BranchExists reports whether the named local branch exists.
	BranchExists(ctx context.Context, name string) bool

	// CreateBranch creates a branch at base. Empty base means the current
	// head. Returns ErrBranchExists if the name is taken.
	CreateBranch(ctx context.Context, name, base string) error

	// DeleteBranch deletes the named branch.
	DeleteBranch(ctx context.Context, name string) error

	// RenameBranch renames a branch.
	RenameBranch(ctx context.Context, oldName, newName string) error

	// Checkout switches the working set to the named branch or commit.
	// With create true, creates the branch first.
	Checkout(ctx context.Context, target string, create bool) error

	// ResetHard moves the current branch and working set to revision,
	// discarding uncommitted ledger changes.
	ResetHard(ctx context.Context, revision string) error

	// MergeBase returns the nearest common ancestor commit of two revisions.
	MergeBase(ctx context.Context, a, b string) (string, error)

	// Log returns up to n commits reachable from head, newest first.
	Log(ctx context.Context, n int) ([]Commit, error)

	// Status returns the structured repository status.
	Status(ctx context.Context) (*Status, error)

	// ===================
	// Commits
	// ===================

	// Commit commits all staged working-set changes and returns the new
	// commit hash. Returns ErrNothingToCommit when the working set is clean.
	Commit(ctx context.Context, message string) (string, error)

	// ===================
	// Merge
	// ===================

	// Merge merges the source branch into the current branch. A conflicted
	// merge leaves the working set mid-merge and reports the conflicts in
	// the outcome; it is not an error.
	Merge(ctx context.Context, source string) (*MergeOutcome, error)

	// AbortMerge returns the repository to its pre-merge state.
	AbortMerge(ctx context.Context) error

	// ConflictTables lists tables that currently hold unresolved conflicts.
	ConflictTables(ctx context.Context) ([]string, error)

	// ResolveTable resolves every conflict in a table by keeping one side.
	// Used for bookkeeping tables, which always keep the current branch.
	ResolveTable(ctx context.Context, table string, side ResolutionSide) error

	// DocumentConflicts returns the base/ours/theirs row triplet for every
	// conflicted document row of the in-progress merge.
	DocumentConflicts(ctx context.Context) ([]ConflictRow, error)

	// ResolveDocuments applies a batch of document resolutions atomically:
	// either every resolution is written and its conflict cleared, or none
	// are. Returns ErrNotFound if any referenced conflict no longer exists.
	ResolveDocuments(ctx context.Context, resolutions []DocumentResolution) error

	// ===================
	// Remotes
	// ===================

	// Remotes returns the configured remotes.
	Remotes(ctx context.Context) ([]Remote, error)

	// AddRemote configures a named remote.
	AddRemote(ctx context.Context, name, url string) error

	// Fetch fetches refs from the remote. Empty remote means the default.
	Fetch(ctx context.Context, remote string) error

	// Pull fetches and merges the remote branch. A pull that cannot
	// fast-forward reports conflicts through the outcome like Merge.
	Pull(ctx context.Context, remote, branch string) (*MergeOutcome, error)

	// Push pushes the branch to the remote. Returns ErrPushRejected when
	// the remote has commits the local branch lacks.
	Push(ctx context.Context, remote, branch string) error

	// ===================
	// Typed document queries
	// ===================
	// revision selects the snapshot to read: a commit hash, a branch name,
	// or empty for the current working set.

	// DocumentsAt returns the document rows of a collection at revision.
	// Empty collection returns rows for all collections.
	DocumentsAt(ctx context.Context, revision, collection string) ([]DocumentRow, error)

	// DocumentAt returns one document row, or ErrNotFound.
	DocumentAt(ctx context.Context, revision, collection, docID string) (*DocumentRow, error)

	// CollectionsAt returns the collection registry rows at revision.
	CollectionsAt(ctx context.Context, revision string) ([]CollectionRow, error)

	// PutDocument upserts a document row into the working set.
	PutDocument(ctx context.Context, row DocumentRow) error

	// DeleteDocumentRow removes a document row from the working set.
	// Idempotent.
	DeleteDocumentRow(ctx context.Context, collection, docID string) error

	// PutCollection upserts a collection registry row into the working set.
	PutCollection(ctx context.Context, row CollectionRow) error

	// DeleteCollectionRows removes a collection registry row and all of its
	// document rows from the working set.
	DeleteCollectionRows(ctx context.Context, collection string) error

	// ===================
	// Sync bookkeeping
	// ===================

	// SyncStates returns the per-collection sync state rows.
	SyncStates(ctx context.Context) ([]SyncStateRow, error)

	// SyncState returns the sync state row for one collection, or
	// ErrNotFound.
	SyncState(ctx context.Context, collection string) (*SyncStateRow, error)

	// PutSyncState upserts a sync state row.
	PutSyncState(ctx context.Context, row SyncStateRow) error

	// DeleteSyncState removes the sync state row for a collection.
	// Idempotent.
	DeleteSyncState(ctx context.Context, collection string) error

	// Tombstones returns deletion tombstones, optionally filtered by
	// collection (empty = all) and status (empty = any).
	Tombstones(ctx context.Context, collection string, status TombstoneStatus) ([]TombstoneRow, error)

	// Tombstone returns the tombstone for one document, or nil if none.
	Tombstone(ctx context.Context, collection, docID string) (*TombstoneRow, error)

	// PutTombstone upserts a tombstone keyed by (doc id, collection).
	PutTombstone(ctx context.Context, row TombstoneRow) error

	// DeleteTombstone removes a tombstone. Idempotent.
	DeleteTombstone(ctx context.Context, collection, docID string) error

	// MarkTombstonesApplied flips the named tombstones from pending to
	// applied once their deletion has been committed and synced.
	MarkTombstonesApplied(ctx context.Context, collection string, docIDs []string) error

	// AppendOperation appends a row to the operation audit log and returns
	// its id. The log is append-only; rows are written for every attempted
	// operation regardless of outcome.
	AppendOperation(ctx context.Context, row OperationRow) (int64, error)

	// FinishOperation records the terminal status of an audit log row.
	FinishOperation(ctx context.Context, id int64, status OperationStatus, commitAfter string, errMessage string) error

	// Operations returns the most recent n audit log rows, newest first.
	Operations(ctx context.Context, n int) ([]OperationRow, error)

	// ===================
	// Escape hatch
	// ===================

	// Exec executes a raw SQL statement against the working set.
	// Use sparingly; prefer the typed methods.
	Exec(ctx context.Context, query string, args ...any) error
}

// Commit describes one ledger commit.
type Commit struct {
	// Hash is the commit hash.
	Hash string

	// Message is the commit message.
	Message string

	// Author is the committer identity.
	Author string

	// Timestamp is the commit time.
	Timestamp time.Time
}

// Branch describes a ledger branch head.
type Branch struct {
	// Name is the branch name.
	Name string

	// Head is the commit hash the branch points at.
	Head string

	// IsCurrent marks the checked-out branch.
	IsCurrent bool

	// Remote is the remote name for remote-tracking branches, empty for
	// local branches.
	Remote string
}

// Remote describes a configured remote repository.
type Remote struct {
	Name string
	URL  string
}

// Status is the structured repository status. Callers branch on these
// fields instead of parsing CLI output.
type Status struct {
	// Branch is the checked-out branch name.
	Branch string

	// Head is the current commit hash, empty in an empty repository.
	Head string

	// Clean reports whether the working set matches the head commit.
	Clean bool

	// Merging reports whether a merge is in progress.
	Merging bool

	// ConflictTables lists tables with unresolved conflicts.
	ConflictTables []string
}

// MergeOutcome reports the result of a merge or pull.
type MergeOutcome struct {
	// FastForward is true when the current branch was simply advanced.
	FastForward bool

	// Commit is the resulting head commit for a clean merge, empty when
	// the merge stopped on conflicts.
	Commit string

	// Conflicts is the total number of conflicted rows.
	Conflicts int

	// ConflictTables lists the tables holding those rows.
	ConflictTables []string

	// UpToDate is true when there was nothing to merge.
	UpToDate bool
}

// DocumentResolution is one entry of an atomic conflict-resolution batch.
type DocumentResolution struct {
	// Collection and DocID identify the conflicted row.
	Collection string
	DocID      string

	// Delete removes the row instead of writing Row.
	Delete bool

	// Row is the resolved row to write when Delete is false.
	Row *DocumentRow
}
