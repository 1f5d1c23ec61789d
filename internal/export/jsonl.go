// Package export moves documents between the live store and JSONL files.
//
// One line per document. Exports capture a collection as it currently
// stands in the live store; imports write straight into the live store,
// so imported documents show up as local changes until committed.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/store"
)

// DocumentLine is the JSONL wire format for one document.
type DocumentLine struct {
	ID         string            `json:"id"`
	Collection string            `json:"collection,omitempty"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Embedding  []float32         `json:"embedding,omitempty"`
	CreatedAt  time.Time         `json:"created_at,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
}

// ImportOptions configures an import run.
type ImportOptions struct {
	// Collection overrides the collection recorded on each line. Required
	// when lines carry no collection of their own.
	Collection string

	// DryRun parses and counts without writing to the store.
	DryRun bool

	// Replace deletes documents already in the target collections that the
	// file does not mention. Default keeps them.
	Replace bool
}

// ImportResult reports what an import did.
type ImportResult struct {
	Imported int
	Deleted  int
	Errors   []string
}

// Export writes every document of a collection to w as JSONL.
func Export(ctx context.Context, s store.Store, collection string, w io.Writer) (int, error) {
	if _, err := s.GetCollection(ctx, collection); err != nil {
		return 0, err
	}
	docs, err := s.ListDocuments(ctx, collection)
	if err != nil {
		return 0, err
	}

	enc := json.NewEncoder(w)
	for _, doc := range docs {
		line := DocumentLine{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Embedding: doc.Embedding,
			CreatedAt: doc.CreatedAt,
			UpdatedAt: doc.UpdatedAt,
		}
		if err := enc.Encode(&line); err != nil {
			return 0, fmt.Errorf("failed to encode document %s: %w", doc.ID, err)
		}
	}
	return len(docs), nil
}

// ExportFile writes a collection to path, atomically via a temp file.
func ExportFile(ctx context.Context, s store.Store, collection, path string) (int, error) {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file: %w", err)
	}

	n, err := Export(ctx, s, collection, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to rename export file: %w", err)
	}
	return n, nil
}

// ReadLines parses a JSONL stream into document lines.
func ReadLines(r io.Reader) ([]DocumentLine, error) {
	var lines []DocumentLine
	dec := json.NewDecoder(r)
	for {
		var line DocumentLine
		if err := dec.Decode(&line); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", len(lines)+1, err)
		}
		if line.ID == "" {
			return nil, fmt.Errorf("line %d has no id", len(lines)+1)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// Import writes JSONL documents into the live store. Documents land as
// uncommitted local changes, exactly as if they had been written through
// the store API directly.
func Import(ctx context.Context, s store.Store, r io.Reader, opts ImportOptions) (*ImportResult, error) {
	lines, err := ReadLines(r)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{}
	targets := make(map[string]map[string]bool)

	for _, line := range lines {
		collection := opts.Collection
		if collection == "" {
			collection = line.Collection
		}
		if collection == "" {
			return nil, fmt.Errorf("document %s has no collection and none was given", line.ID)
		}

		if targets[collection] == nil {
			targets[collection] = make(map[string]bool)
			if !opts.DryRun {
				if err := s.CreateCollection(ctx, store.Collection{Name: collection}); err != nil {
					return nil, fmt.Errorf("failed to create collection %s: %w", collection, err)
				}
			}
		}
		targets[collection][line.ID] = true

		if !opts.DryRun {
			if err := s.PutDocument(ctx, store.Document{
				ID:         line.ID,
				Collection: collection,
				Content:    line.Content,
				Metadata:   line.Metadata,
				Embedding:  line.Embedding,
				CreatedAt:  line.CreatedAt,
				UpdatedAt:  line.UpdatedAt,
			}); err != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("failed to write %s/%s: %v", collection, line.ID, err))
				continue
			}
		}
		result.Imported++
	}

	if opts.Replace {
		for collection, keep := range targets {
			existing, err := s.ListDocuments(ctx, collection)
			if err != nil {
				return nil, err
			}
			for _, doc := range existing {
				if keep[doc.ID] {
					continue
				}
				if !opts.DryRun {
					if err := s.DeleteDocument(ctx, collection, doc.ID); err != nil {
						result.Errors = append(result.Errors,
							fmt.Sprintf("failed to delete %s/%s: %v", collection, doc.ID, err))
						continue
					}
				}
				result.Deleted++
			}
		}
	}
	return result, nil
}

// ImportFile imports a JSONL file from disk.
func ImportFile(ctx context.Context, s store.Store, path string, opts ImportOptions) (*ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()
	return Import(ctx, s, f, opts)
}
