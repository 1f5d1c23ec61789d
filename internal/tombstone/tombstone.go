// Package tombstone tracks document deletions before they reach the live
// store.
//
// A deletion tombstone is written to the ledger first and the physical
// delete happens second, so a crash between the two still leaves an
// attributable record: which document, on which branch, at which base
// commit, with which content hash. The change detector reads pending
// tombstones to tell an intentional deletion apart from a document that was
// never synced, and the sync manager flips tombstones to applied once the
// deletion has been committed.
package tombstone

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/hash"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/store"
)

// Tracker writes deletion tombstones and applies the physical deletes.
type Tracker struct {
	ledger ledger.Ledger
	store  store.Store
	logger *log.Logger
}

// New creates a Tracker. A nil logger defaults to stderr.
func New(l ledger.Ledger, s store.Store, logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.New(os.Stderr, "[tombstone] ", log.LstdFlags)
	}
	return &Tracker{ledger: l, store: s, logger: logger}
}

// track writes one pending tombstone for a live document.
func (t *Tracker) track(ctx context.Context, doc store.Document) error {
	branch, err := t.ledger.CurrentBranch(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve branch for tombstone: %w", err)
	}
	head, err := t.ledger.HeadCommit(ctx)
	if err != nil && !errors.Is(err, ledger.ErrEmptyRepository) {
		return fmt.Errorf("failed to resolve head for tombstone: %w", err)
	}

	row := ledger.TombstoneRow{
		DocID:       doc.ID,
		Collection:  doc.Collection,
		ContentHash: hash.Content(doc.Content),
		Metadata:    doc.Metadata,
		Branch:      branch,
		BaseCommit:  head,
		Status:      ledger.TombstonePending,
		TrackedAt:   time.Now().UTC(),
	}
	return t.ledger.PutTombstone(ctx, row)
}

// DeleteDocument tombstones a live document and then deletes it from the
// live store. The tombstone write always precedes the physical delete.
// Deleting an absent document is an error so callers cannot silently
// tombstone nothing.
func (t *Tracker) DeleteDocument(ctx context.Context, collection, docID string) error {
	doc, err := t.store.GetDocument(ctx, collection, docID)
	if err != nil {
		return err
	}

	if err := t.track(ctx, *doc); err != nil {
		return err
	}
	if err := t.store.DeleteDocument(ctx, collection, docID); err != nil {
		return err
	}

	t.logger.Printf("tracked deletion of %s/%s", collection, docID)
	return nil
}

// DeleteCollection tombstones every document of a collection and then
// deletes the collection from the live store.
func (t *Tracker) DeleteCollection(ctx context.Context, collection string) error {
	docs, err := t.store.ListDocuments(ctx, collection)
	if err != nil {
		return err
	}

	for _, doc := range docs {
		if err := t.track(ctx, doc); err != nil {
			return fmt.Errorf("failed to tombstone %s/%s: %w", collection, doc.ID, err)
		}
	}

	if err := t.store.DeleteCollection(ctx, collection); err != nil {
		return err
	}

	t.logger.Printf("tracked deletion of collection %s (%d documents)", collection, len(docs))
	return nil
}

// Pending returns the pending tombstones for a collection, or all
// collections when collection is empty.
func (t *Tracker) Pending(ctx context.Context, collection string) ([]ledger.TombstoneRow, error) {
	return t.ledger.Tombstones(ctx, collection, ledger.TombstonePending)
}

// MarkApplied flips tombstones to applied once their deletion has been
// committed and synced.
func (t *Tracker) MarkApplied(ctx context.Context, collection string, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}
	return t.ledger.MarkTombstonesApplied(ctx, collection, docIDs)
}

// Prune removes applied tombstones older than the retention window.
// Pending tombstones are never pruned.
func (t *Tracker) Prune(ctx context.Context, retention time.Duration) (int, error) {
	applied, err := t.ledger.Tombstones(ctx, "", ledger.TombstoneApplied)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-retention)
	pruned := 0
	for _, row := range applied {
		if row.TrackedAt.After(cutoff) {
			continue
		}
		if err := t.ledger.DeleteTombstone(ctx, row.Collection, row.DocID); err != nil {
			return pruned, err
		}
		pruned++
	}

	if pruned > 0 {
		t.logger.Printf("pruned %d applied tombstones older than %s", pruned, retention)
	}
	return pruned, nil
}
