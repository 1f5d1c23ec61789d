package store

import "errors"

var (
	// ErrCollectionNotFound indicates the named collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDocumentNotFound indicates the requested document does not exist.
	ErrDocumentNotFound = errors.New("document not found")
)
