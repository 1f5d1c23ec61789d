// Package sqlite provides an embedded implementation of the live document
// store backed by SQLite (ncruces/go-sqlite3, wasm build, no cgo).
//
// The database runs in WAL mode for concurrent reads during sync writes.
// Documents live in a single table keyed by (doc_id, collection_name);
// embeddings are stored as little-endian float32 blobs alongside the
// content. The store keeps no history of its own; that is the ledger's
// job.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/store"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB implements store.Store on an embedded SQLite database.
type DB struct {
	conn *sql.DB
	path string
}

var _ store.Store = (*DB)(nil)

// Open creates or opens the store database at the specified path.
//
// The caller MUST call Close() when done to checkpoint the WAL.
//
// Example:
//
//	db, err := sqlite.Open(".multidolt/store.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := db.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store database: %w", err)
	}

	db.conn = nil
	return nil
}

// initSchema creates the tables if they do not exist. Idempotent.
func (db *DB) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		collection_name TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		embedding_config TEXT NOT NULL DEFAULT '{}',  -- JSON
		metadata TEXT NOT NULL DEFAULT '{}',          -- JSON
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		doc_id TEXT NOT NULL,
		collection_name TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',          -- JSON
		embedding BLOB,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (doc_id, collection_name),
		FOREIGN KEY (collection_name)
			REFERENCES collections(collection_name) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_documents_collection
	    ON documents(collection_name);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize store schema: %w", err)
	}

	return nil
}

// CreateCollection implements store.Store.
func (db *DB) CreateCollection(ctx context.Context, col store.Collection) error {
	if col.Name == "" {
		return fmt.Errorf("collection name cannot be empty")
	}

	cfgJSON, err := json.Marshal(col.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding config: %w", err)
	}
	metaJSON, err := json.Marshal(orEmpty(col.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal collection metadata: %w", err)
	}

	createdAt := col.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
	INSERT INTO collections (collection_name, display_name, description, embedding_config, metadata, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(collection_name) DO UPDATE SET
		display_name = excluded.display_name,
		description = excluded.description,
		embedding_config = excluded.embedding_config,
		metadata = excluded.metadata
	`

	_, err = db.conn.ExecContext(ctx, query,
		col.Name, col.DisplayName, col.Description,
		string(cfgJSON), string(metaJSON), createdAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", col.Name, err)
	}

	return nil
}

// DeleteCollection implements store.Store. Document rows cascade.
func (db *DB) DeleteCollection(ctx context.Context, name string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM collections WHERE collection_name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", name, err)
	}
	return nil
}

// GetCollection implements store.Store.
func (db *DB) GetCollection(ctx context.Context, name string) (*store.Collection, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT collection_name, display_name, description, embedding_config, metadata, created_at
		FROM collections WHERE collection_name = ?`, name)

	col, err := scanCollection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrCollectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection %s: %w", name, err)
	}
	return col, nil
}

// ListCollections implements store.Store.
func (db *DB) ListCollections(ctx context.Context) ([]store.Collection, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT collection_name, display_name, description, embedding_config, metadata, created_at
		FROM collections ORDER BY collection_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var cols []store.Collection
	for rows.Next() {
		col, err := scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		cols = append(cols, *col)
	}
	return cols, rows.Err()
}

// PutDocument implements store.Store.
func (db *DB) PutDocument(ctx context.Context, doc store.Document) error {
	if doc.ID == "" || doc.Collection == "" {
		return fmt.Errorf("document id and collection cannot be empty")
	}

	metaJSON, err := json.Marshal(orEmpty(doc.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal document metadata: %w", err)
	}

	now := time.Now().UTC()
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := doc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	query := `
	INSERT INTO documents (doc_id, collection_name, content, metadata, embedding, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(doc_id, collection_name) DO UPDATE SET
		content = excluded.content,
		metadata = excluded.metadata,
		embedding = excluded.embedding,
		updated_at = excluded.updated_at
	`

	_, err = db.conn.ExecContext(ctx, query,
		doc.ID, doc.Collection, doc.Content, string(metaJSON),
		encodeEmbedding(doc.Embedding),
		createdAt.Format(time.RFC3339Nano), updatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to put document %s/%s: %w", doc.Collection, doc.ID, err)
	}

	return nil
}

// GetDocument implements store.Store.
func (db *DB) GetDocument(ctx context.Context, collection, id string) (*store.Document, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT doc_id, collection_name, content, metadata, embedding, created_at, updated_at
		FROM documents WHERE collection_name = ? AND doc_id = ?`, collection, id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

// ListDocuments implements store.Store.
func (db *DB) ListDocuments(ctx context.Context, collection string) ([]store.Document, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT doc_id, collection_name, content, metadata, embedding, created_at, updated_at
		FROM documents WHERE collection_name = ? ORDER BY doc_id`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents in %s: %w", collection, err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

// DeleteDocument implements store.Store. Returns nil if the document does
// not exist (idempotent).
func (db *DB) DeleteDocument(ctx context.Context, collection, id string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM documents WHERE collection_name = ? AND doc_id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete document %s/%s: %w", collection, id, err)
	}
	return nil
}

// Query implements store.Store. Filter entries are matched against the
// metadata JSON with json_extract, all keys must match.
func (db *DB) Query(ctx context.Context, collection string, filter map[string]string, limit int) ([]store.Document, error) {
	conditions := []string{"collection_name = ?"}
	args := []any{collection}

	for key, value := range filter {
		conditions = append(conditions, "json_extract(metadata, ?) = ?")
		args = append(args, "$."+key, value)
	}

	query := `
		SELECT doc_id, collection_name, content, metadata, embedding, created_at, updated_at
		FROM documents
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY doc_id`

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents in %s: %w", collection, err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

// CountDocuments implements store.Store.
func (db *DB) CountDocuments(ctx context.Context, collection string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE collection_name = ?`, collection).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents in %s: %w", collection, err)
	}
	return count, nil
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanCollection(s scanner) (*store.Collection, error) {
	var col store.Collection
	var cfgJSON, metaJSON, createdAt string

	if err := s.Scan(&col.Name, &col.DisplayName, &col.Description, &cfgJSON, &metaJSON, &createdAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(cfgJSON), &col.Embedding); err != nil {
		return nil, fmt.Errorf("invalid embedding config for %s: %w", col.Name, err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &col.Metadata); err != nil {
		return nil, fmt.Errorf("invalid metadata for %s: %w", col.Name, err)
	}
	col.CreatedAt = parseTime(createdAt)

	return &col, nil
}

func scanDocument(s scanner) (*store.Document, error) {
	var doc store.Document
	var metaJSON, createdAt, updatedAt string
	var embedding []byte

	if err := s.Scan(&doc.ID, &doc.Collection, &doc.Content, &metaJSON, &embedding, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(metaJSON), &doc.Metadata); err != nil {
		return nil, fmt.Errorf("invalid metadata for %s/%s: %w", doc.Collection, doc.ID, err)
	}
	doc.Embedding = decodeEmbedding(embedding)
	doc.CreatedAt = parseTime(createdAt)
	doc.UpdatedAt = parseTime(updatedAt)

	return &doc, nil
}

func collectDocuments(rows *sql.Rows) ([]store.Document, error) {
	var docs []store.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// encodeEmbedding packs a float32 vector as a little-endian blob.
// Returns nil for an empty vector so the column stays NULL.
func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
