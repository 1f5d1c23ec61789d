// Package store defines the interface to the live document-collection
// store: flat documents keyed by id, holding content and metadata, with no
// native history. History, branching, and merge semantics come from the
// ledger; the sync layer keeps the two reconciled.
package store

import (
	"context"
	"time"
)

// Store is the transport-level client for the live document store.
//
// Writes are upserts and deletes are idempotent, so the sync layer's
// snapshot reconciliation can be retried safely.
type Store interface {
	// ===================
	// Collections
	// ===================

	// CreateCollection registers a collection. Idempotent: re-creating an
	// existing collection updates its display name, description, and
	// configuration.
	CreateCollection(ctx context.Context, col Collection) error

	// DeleteCollection removes a collection and all of its documents.
	DeleteCollection(ctx context.Context, name string) error

	// GetCollection returns one collection, or ErrCollectionNotFound.
	GetCollection(ctx context.Context, name string) (*Collection, error)

	// ListCollections returns all collections.
	ListCollections(ctx context.Context) ([]Collection, error)

	// ===================
	// Documents
	// ===================

	// PutDocument inserts or replaces a document. The collection must
	// exist.
	PutDocument(ctx context.Context, doc Document) error

	// GetDocument returns one document, or ErrDocumentNotFound.
	GetDocument(ctx context.Context, collection, id string) (*Document, error)

	// ListDocuments returns every document in a collection.
	ListDocuments(ctx context.Context, collection string) ([]Document, error)

	// DeleteDocument removes a document. Idempotent.
	DeleteDocument(ctx context.Context, collection, id string) error

	// Query returns documents whose metadata matches every key/value pair
	// in filter. A zero limit means no limit.
	Query(ctx context.Context, collection string, filter map[string]string, limit int) ([]Document, error)

	// CountDocuments returns the number of documents in a collection.
	CountDocuments(ctx context.Context, collection string) (int, error)

	// Close releases the underlying connection.
	Close() error
}

// Document is a live-store document. (ID, Collection) is the unique key.
type Document struct {
	ID         string
	Collection string
	Content    string
	Metadata   map[string]string
	Embedding  []float32
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EmbeddingConfig describes how a collection chunks and embeds documents.
// It mirrors the ledger's collection registry configuration.
type EmbeddingConfig struct {
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	ChunkSize    int    `json:"chunk_size,omitempty"`
	ChunkOverlap int    `json:"chunk_overlap,omitempty"`
}

// Collection groups documents and carries their embedding configuration.
type Collection struct {
	Name        string
	DisplayName string
	Description string
	Embedding   EmbeddingConfig
	Metadata    map[string]string
	CreatedAt   time.Time
}
