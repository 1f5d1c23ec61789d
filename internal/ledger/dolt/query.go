package dolt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
)

// asOf appends an AS OF clause when revision selects a committed snapshot.
// Empty revision reads the working set.
func asOf(table, revision string) string {
	if revision == "" {
		return table
	}
	return fmt.Sprintf("%s AS OF %s", table, quote(revision))
}

func documentFromRow(row map[string]any) ledger.DocumentRow {
	return ledger.DocumentRow{
		DocID:       getString(row, "doc_id"),
		Collection:  getString(row, "collection"),
		Content:     getString(row, "content"),
		ContentHash: getString(row, "content_hash"),
		Metadata:    getMetadata(row, "metadata"),
		CreatedAt:   getTime(row, "created_at"),
		UpdatedAt:   getTime(row, "updated_at"),
	}
}

// DocumentsAt returns the document rows of a collection at revision.
// Empty collection returns rows for all collections.
func (d *Dolt) DocumentsAt(ctx context.Context, revision, collection string) ([]ledger.DocumentRow, error) {
	stmt := fmt.Sprintf("SELECT * FROM %s", asOf(ledger.TableDocuments, revision))
	if collection != "" {
		stmt += fmt.Sprintf(" WHERE collection = %s", quote(collection))
	}
	stmt += " ORDER BY collection, doc_id"

	rows, err := d.query(ctx, stmt)
	if err != nil {
		return nil, err
	}

	out := make([]ledger.DocumentRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, documentFromRow(row))
	}
	return out, nil
}

// DocumentAt returns one document row, or ErrNotFound.
func (d *Dolt) DocumentAt(ctx context.Context, revision, collection, docID string) (*ledger.DocumentRow, error) {
	stmt := fmt.Sprintf(
		"SELECT * FROM %s WHERE doc_id = %s AND collection = %s",
		asOf(ledger.TableDocuments, revision), quote(docID), quote(collection))

	rows, err := d.query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ledger.ErrNotFound
	}
	doc := documentFromRow(rows[0])
	return &doc, nil
}

// CollectionsAt returns the collection registry rows at revision.
func (d *Dolt) CollectionsAt(ctx context.Context, revision string) ([]ledger.CollectionRow, error) {
	stmt := fmt.Sprintf("SELECT * FROM %s ORDER BY name",
		asOf(ledger.TableCollections, revision))

	rows, err := d.query(ctx, stmt)
	if err != nil {
		return nil, err
	}

	out := make([]ledger.CollectionRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, ledger.CollectionRow{
			Name:        getString(row, "name"),
			DisplayName: getString(row, "display_name"),
			Description: getString(row, "description"),
			Embedding: ledger.EmbeddingConfig{
				Provider:     getString(row, "embedding_provider"),
				Model:        getString(row, "embedding_model"),
				ChunkSize:    getInt(row, "chunk_size"),
				ChunkOverlap: getInt(row, "chunk_overlap"),
			},
			DocumentCount: getInt(row, "document_count"),
			Metadata:      getMetadata(row, "metadata"),
		})
	}
	return out, nil
}

// replaceDocumentStmt renders an upsert for a document row.
func replaceDocumentStmt(row ledger.DocumentRow) string {
	return fmt.Sprintf(
		"REPLACE INTO documents (doc_id, collection, content, content_hash, metadata, created_at, updated_at) "+
			"VALUES (%s, %s, %s, %s, %s, %s, %s)",
		quote(row.DocID), quote(row.Collection), quote(row.Content),
		quote(row.ContentHash), metadataLiteral(row.Metadata),
		literal(row.CreatedAt), literal(row.UpdatedAt))
}

// PutDocument upserts a document row into the working set.
func (d *Dolt) PutDocument(ctx context.Context, row ledger.DocumentRow) error {
	return d.execSQL(ctx, replaceDocumentStmt(row))
}

// DeleteDocumentRow removes a document row from the working set. Idempotent.
func (d *Dolt) DeleteDocumentRow(ctx context.Context, collection, docID string) error {
	return d.execSQL(ctx, fmt.Sprintf(
		"DELETE FROM documents WHERE doc_id = %s AND collection = %s",
		quote(docID), quote(collection)))
}

// PutCollection upserts a collection registry row into the working set.
func (d *Dolt) PutCollection(ctx context.Context, row ledger.CollectionRow) error {
	return d.execSQL(ctx, fmt.Sprintf(
		"REPLACE INTO collections (name, display_name, description, embedding_provider, embedding_model, chunk_size, chunk_overlap, document_count, metadata) "+
			"VALUES (%s, %s, %s, %s, %s, %d, %d, %d, %s)",
		quote(row.Name), quote(row.DisplayName), quote(row.Description),
		quote(row.Embedding.Provider), quote(row.Embedding.Model),
		row.Embedding.ChunkSize, row.Embedding.ChunkOverlap,
		row.DocumentCount, metadataLiteral(row.Metadata)))
}

// DeleteCollectionRows removes a collection registry row and all of its
// document rows from the working set.
func (d *Dolt) DeleteCollectionRows(ctx context.Context, collection string) error {
	return d.script(ctx, []string{
		fmt.Sprintf("DELETE FROM documents WHERE collection = %s", quote(collection)),
		fmt.Sprintf("DELETE FROM collections WHERE name = %s", quote(collection)),
	})
}

// ===================
// Sync bookkeeping
// ===================

func syncStateFromRow(row map[string]any) ledger.SyncStateRow {
	return ledger.SyncStateRow{
		Collection:        getString(row, "collection"),
		LastSyncCommit:    getString(row, "last_sync_commit"),
		LastSyncAt:        getTime(row, "last_sync_at"),
		DocumentCount:     getInt(row, "document_count"),
		ChunkCount:        getInt(row, "chunk_count"),
		Status:            ledger.SyncStatus(getString(row, "status")),
		LocalChangesCount: getInt(row, "local_changes_count"),
		ErrorMessage:      getString(row, "error_message"),
	}
}

// SyncStates returns the per-collection sync state rows.
func (d *Dolt) SyncStates(ctx context.Context) ([]ledger.SyncStateRow, error) {
	rows, err := d.query(ctx, "SELECT * FROM sync_state ORDER BY collection")
	if err != nil {
		return nil, err
	}
	out := make([]ledger.SyncStateRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, syncStateFromRow(row))
	}
	return out, nil
}

// SyncState returns the sync state row for one collection, or ErrNotFound.
func (d *Dolt) SyncState(ctx context.Context, collection string) (*ledger.SyncStateRow, error) {
	rows, err := d.query(ctx, fmt.Sprintf(
		"SELECT * FROM sync_state WHERE collection = %s", quote(collection)))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ledger.ErrNotFound
	}
	state := syncStateFromRow(rows[0])
	return &state, nil
}

// PutSyncState upserts a sync state row.
func (d *Dolt) PutSyncState(ctx context.Context, row ledger.SyncStateRow) error {
	return d.execSQL(ctx, fmt.Sprintf(
		"REPLACE INTO sync_state (collection, last_sync_commit, last_sync_at, document_count, chunk_count, status, local_changes_count, error_message) "+
			"VALUES (%s, %s, %s, %d, %d, %s, %d, %s)",
		quote(row.Collection), quote(row.LastSyncCommit), literal(row.LastSyncAt),
		row.DocumentCount, row.ChunkCount, quote(string(row.Status)),
		row.LocalChangesCount, quote(row.ErrorMessage)))
}

// DeleteSyncState removes the sync state row for a collection. Idempotent.
func (d *Dolt) DeleteSyncState(ctx context.Context, collection string) error {
	return d.execSQL(ctx, fmt.Sprintf(
		"DELETE FROM sync_state WHERE collection = %s", quote(collection)))
}

func tombstoneFromRow(row map[string]any) ledger.TombstoneRow {
	return ledger.TombstoneRow{
		DocID:       getString(row, "doc_id"),
		Collection:  getString(row, "collection"),
		ContentHash: getString(row, "content_hash"),
		Metadata:    getMetadata(row, "metadata"),
		Branch:      getString(row, "branch"),
		BaseCommit:  getString(row, "base_commit"),
		Status:      ledger.TombstoneStatus(getString(row, "status")),
		TrackedAt:   getTime(row, "tracked_at"),
	}
}

// Tombstones returns deletion tombstones filtered by collection and status.
func (d *Dolt) Tombstones(ctx context.Context, collection string, status ledger.TombstoneStatus) ([]ledger.TombstoneRow, error) {
	var conds []string
	if collection != "" {
		conds = append(conds, fmt.Sprintf("collection = %s", quote(collection)))
	}
	if status != "" {
		conds = append(conds, fmt.Sprintf("status = %s", quote(string(status))))
	}

	stmt := "SELECT * FROM deletion_tombstones"
	if len(conds) > 0 {
		stmt += " WHERE " + strings.Join(conds, " AND ")
	}
	stmt += " ORDER BY collection, doc_id"

	rows, err := d.query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.TombstoneRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, tombstoneFromRow(row))
	}
	return out, nil
}

// Tombstone returns the tombstone for one document, or nil if none.
func (d *Dolt) Tombstone(ctx context.Context, collection, docID string) (*ledger.TombstoneRow, error) {
	rows, err := d.query(ctx, fmt.Sprintf(
		"SELECT * FROM deletion_tombstones WHERE doc_id = %s AND collection = %s",
		quote(docID), quote(collection)))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	row := tombstoneFromRow(rows[0])
	return &row, nil
}

// PutTombstone upserts a tombstone keyed by (doc id, collection).
func (d *Dolt) PutTombstone(ctx context.Context, row ledger.TombstoneRow) error {
	return d.execSQL(ctx, fmt.Sprintf(
		"REPLACE INTO deletion_tombstones (doc_id, collection, content_hash, metadata, branch, base_commit, status, tracked_at) "+
			"VALUES (%s, %s, %s, %s, %s, %s, %s, %s)",
		quote(row.DocID), quote(row.Collection), quote(row.ContentHash),
		metadataLiteral(row.Metadata), quote(row.Branch), quote(row.BaseCommit),
		quote(string(row.Status)), literal(row.TrackedAt)))
}

// DeleteTombstone removes a tombstone. Idempotent.
func (d *Dolt) DeleteTombstone(ctx context.Context, collection, docID string) error {
	return d.execSQL(ctx, fmt.Sprintf(
		"DELETE FROM deletion_tombstones WHERE doc_id = %s AND collection = %s",
		quote(docID), quote(collection)))
}

// MarkTombstonesApplied flips the named tombstones from pending to applied.
func (d *Dolt) MarkTombstonesApplied(ctx context.Context, collection string, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}
	quoted := make([]string, len(docIDs))
	for i, id := range docIDs {
		quoted[i] = quote(id)
	}
	return d.execSQL(ctx, fmt.Sprintf(
		"UPDATE deletion_tombstones SET status = %s WHERE collection = %s AND doc_id IN (%s)",
		quote(string(ledger.TombstoneApplied)), quote(collection),
		strings.Join(quoted, ", ")))
}

func operationFromRow(row map[string]any) ledger.OperationRow {
	op := ledger.OperationRow{
		ID:           getInt64(row, "id"),
		Type:         ledger.OperationType(getString(row, "op_type")),
		Branch:       getString(row, "branch"),
		CommitBefore: getString(row, "commit_before"),
		CommitAfter:  getString(row, "commit_after"),
		Added:        getInt(row, "added"),
		Modified:     getInt(row, "modified"),
		Deleted:      getInt(row, "deleted"),
		Status:       ledger.OperationStatus(getString(row, "status")),
		ErrorMessage: getString(row, "error_message"),
		StartedAt:    getTime(row, "started_at"),
		FinishedAt:   getTime(row, "finished_at"),
	}
	if raw := getString(row, "collections"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &op.Collections)
	} else if arr, ok := row["collections"].([]any); ok {
		for _, v := range arr {
			if s, ok := v.(string); ok {
				op.Collections = append(op.Collections, s)
			}
		}
	}
	return op
}

// AppendOperation appends a row to the operation audit log and returns its
// id. Ids are allocated from the table's current maximum; the sync manager
// serializes writers so this does not race.
func (d *Dolt) AppendOperation(ctx context.Context, row ledger.OperationRow) (int64, error) {
	rows, err := d.query(ctx, "SELECT COALESCE(MAX(id), 0) + 1 AS next_id FROM sync_operations")
	if err != nil {
		return 0, err
	}
	id := int64(1)
	if len(rows) > 0 {
		id = getInt64(rows[0], "next_id")
	}

	collections := "NULL"
	if len(row.Collections) > 0 {
		enc, err := json.Marshal(row.Collections)
		if err != nil {
			return 0, fmt.Errorf("failed to encode collections: %w", err)
		}
		collections = quote(string(enc))
	}

	startedAt := row.StartedAt
	if startedAt.IsZero() {
		startedAt = nowUTC()
	}

	err = d.execSQL(ctx, fmt.Sprintf(
		"INSERT INTO sync_operations (id, op_type, branch, commit_before, commit_after, collections, added, modified, deleted, status, error_message, started_at) "+
			"VALUES (%d, %s, %s, %s, %s, %s, %d, %d, %d, %s, %s, %s)",
		id, quote(string(row.Type)), quote(row.Branch),
		quote(row.CommitBefore), quote(row.CommitAfter), collections,
		row.Added, row.Modified, row.Deleted,
		quote(string(row.Status)), quote(row.ErrorMessage), literal(startedAt)))
	if err != nil {
		return 0, err
	}
	return id, nil
}

// FinishOperation records the terminal status of an audit log row.
func (d *Dolt) FinishOperation(ctx context.Context, id int64, status ledger.OperationStatus, commitAfter string, errMessage string) error {
	return d.execSQL(ctx, fmt.Sprintf(
		"UPDATE sync_operations SET status = %s, commit_after = %s, error_message = %s, finished_at = %s WHERE id = %d",
		quote(string(status)), quote(commitAfter), quote(errMessage),
		literal(nowUTC()), id))
}

// Operations returns the most recent n audit log rows, newest first.
func (d *Dolt) Operations(ctx context.Context, n int) ([]ledger.OperationRow, error) {
	stmt := "SELECT * FROM sync_operations ORDER BY id DESC"
	if n > 0 {
		stmt = fmt.Sprintf("%s LIMIT %d", stmt, n)
	}
	rows, err := d.query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.OperationRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, operationFromRow(row))
	}
	return out, nil
}
