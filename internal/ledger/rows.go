package ledger

import "time"

// Table names shared between the ledger implementations and the sync layer.
// documents and collections hold user content; the rest are bookkeeping
// tables that always resolve merge conflicts by keeping the current branch.
const (
	TableDocuments   = "documents"
	TableCollections = "collections"
	TableSyncState   = "sync_state"
	TableTombstones  = "deletion_tombstones"
	TableOperations  = "sync_operations"
)

// BookkeepingTables lists the tables whose merge conflicts are derived
// state, resolved with a fixed keep-current-branch rule ahead of any
// document-level resolution.
var BookkeepingTables = []string{
	TableCollections,
	TableSyncState,
	TableTombstones,
	TableOperations,
}

// DocumentRow is the ledger's mirror of a live-store document.
// (doc id, collection) is the unique key.
type DocumentRow struct {
	DocID       string
	Collection  string
	Content     string
	ContentHash string
	Metadata    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Clone returns a deep copy of the row.
func (r DocumentRow) Clone() DocumentRow {
	out := r
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// EmbeddingConfig describes how a collection chunks and embeds documents.
type EmbeddingConfig struct {
	Provider     string `json:"provider,omitempty" toml:"provider"`
	Model        string `json:"model,omitempty" toml:"model"`
	ChunkSize    int    `json:"chunk_size,omitempty" toml:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap,omitempty" toml:"chunk_overlap"`
}

// CollectionRow is the ledger's registry entry for a collection.
type CollectionRow struct {
	Name          string
	DisplayName   string
	Description   string
	Embedding     EmbeddingConfig
	DocumentCount int
	Metadata      map[string]string
}

// SyncStatus is the per-collection synchronization status.
type SyncStatus string

const (
	StateSynced       SyncStatus = "synced"
	StatePending      SyncStatus = "pending"
	StateLocalChanges SyncStatus = "local_changes"
	StateInProgress   SyncStatus = "in_progress"
	StateError        SyncStatus = "error"
)

// SyncStateRow tracks how far a collection's live documents have been
// reconciled with the ledger. One row per collection, mutated only by the
// sync manager.
//
// Invariant: Status == StateSynced implies the live store's document set
// for the collection hash-matches the ledger rows at LastSyncCommit.
type SyncStateRow struct {
	Collection        string
	LastSyncCommit    string
	LastSyncAt        time.Time
	DocumentCount     int
	ChunkCount        int
	Status            SyncStatus
	LocalChangesCount int
	ErrorMessage      string
}

// TombstoneStatus tracks a deletion tombstone's lifecycle.
type TombstoneStatus string

const (
	// TombstonePending marks a deletion that is tracked but not yet
	// committed and synced.
	TombstonePending TombstoneStatus = "pending"

	// TombstoneApplied marks a deletion whose commit has been fully synced.
	TombstoneApplied TombstoneStatus = "applied"
)

// TombstoneRow preserves the provenance of a deleted document. It is
// written before the physical delete reaches the live store, so a crash in
// between still leaves an attributable record.
type TombstoneRow struct {
	DocID       string
	Collection  string
	ContentHash string
	Metadata    map[string]string
	Branch      string
	BaseCommit  string
	Status      TombstoneStatus
	TrackedAt   time.Time
}

// OperationType names a sync-manager operation in the audit log.
type OperationType string

const (
	OpInit     OperationType = "init"
	OpStage    OperationType = "stage"
	OpCommit   OperationType = "commit"
	OpCheckout OperationType = "checkout"
	OpReset    OperationType = "reset"
	OpMerge    OperationType = "merge"
	OpPull     OperationType = "pull"
	OpPush     OperationType = "push"
	OpResync   OperationType = "resync"
)

// OperationStatus is the terminal (or current) status of an audit row.
type OperationStatus string

const (
	OpStarted    OperationStatus = "started"
	OpCompleted  OperationStatus = "completed"
	OpFailed     OperationStatus = "failed"
	OpRolledBack OperationStatus = "rolled_back"
	OpBlocked    OperationStatus = "blocked"
)

// OperationRow is one append-only audit log entry. A row is written for
// every attempted operation regardless of outcome.
type OperationRow struct {
	ID           int64
	Type         OperationType
	Branch       string
	CommitBefore string
	CommitAfter  string
	Collections  []string
	Added        int
	Modified     int
	Deleted      int
	Status       OperationStatus
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// ConflictRow is one conflicted document row of an in-progress merge,
// with the three versions that produced the conflict. A nil side means the
// row does not exist in that version (an add or a delete).
type ConflictRow struct {
	Table      string
	Collection string
	DocID      string
	Base       *DocumentRow
	Ours       *DocumentRow
	Theirs     *DocumentRow
}
