package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/detect"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/hash"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/store"
)

// StageLocalChanges writes the live store's local changes into the
// ledger's working set without committing. Empty collections means all.
func (m *Manager) StageLocalChanges(ctx context.Context, collections []string) *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	opID, _, res := m.begin(ctx, ledger.OpStage, StateStaging)
	if res != nil {
		return res
	}

	staged, err := m.stageLocked(ctx, collections)
	if err != nil {
		return m.finish(ctx, opID, failErr(err))
	}

	out := m.refreshResult(ctx, ok("local changes staged"))
	for _, changes := range staged {
		out.Added += len(changes.Added)
		out.Modified += len(changes.Modified)
		out.Deleted += len(changes.Deleted)
	}
	if out.Added+out.Modified+out.Deleted == 0 {
		return m.finish(ctx, opID, fail(CodeNoChanges,
			"no local changes to stage", "edit documents in the live store first"))
	}
	return m.finish(ctx, opID, out)
}

// Commit stages the live store's local changes and commits them to the
// current branch. Empty collections means all. The sync state of every
// committed collection advances to the new commit, and pending tombstones
// covered by the commit flip to applied.
func (m *Manager) Commit(ctx context.Context, message string, collections []string) *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if message == "" {
		return fail(CodeInvalidInput, "commit message must not be empty",
			"pass a message describing the change")
	}

	opID, _, res := m.begin(ctx, ledger.OpCommit, StateCommitting)
	if res != nil {
		return res
	}

	staged, err := m.stageLocked(ctx, collections)
	if err != nil {
		return m.finish(ctx, opID, failErr(err))
	}

	total := 0
	for _, changes := range staged {
		total += changes.Total()
	}
	if total == 0 {
		return m.finish(ctx, opID, fail(CodeNoChanges,
			"no local changes to commit", "edit documents in the live store first"))
	}

	// Tombstones live in a versioned table; flipping them before the
	// commit puts the flip into the same commit as the deletion it records.
	for _, changes := range staged {
		var deletedIDs []string
		for _, change := range changes.Deleted {
			if change.Tombstoned {
				deletedIDs = append(deletedIDs, change.DocID)
			}
		}
		if err := m.tracker.MarkApplied(ctx, changes.Collection, deletedIDs); err != nil {
			return m.finish(ctx, opID, failErr(err))
		}
	}

	commitHash, err := m.ledger.Commit(ctx, message)
	if err != nil {
		if errors.Is(err, ledger.ErrNothingToCommit) {
			return m.finish(ctx, opID, fail(CodeNoChanges,
				"staged changes were already committed", "edit documents in the live store first"))
		}
		return m.finish(ctx, opID, failErr(err))
	}

	out := m.refreshResult(ctx, ok(fmt.Sprintf("committed %d changes", total)))
	for _, changes := range staged {
		out.Added += len(changes.Added)
		out.Modified += len(changes.Modified)
		out.Deleted += len(changes.Deleted)

		if err := m.settleCollection(ctx, changes, commitHash); err != nil {
			return m.finish(ctx, opID, failErr(err))
		}
	}
	return m.finish(ctx, opID, out)
}

// stageLocked writes detected local changes into the ledger working set.
// The caller holds the write lock.
func (m *Manager) stageLocked(ctx context.Context, collections []string) ([]*detect.Changes, error) {
	var all []*detect.Changes
	if len(collections) == 0 {
		detected, err := m.detector.All(ctx)
		if err != nil {
			return nil, err
		}
		all = detected
	} else {
		for _, name := range collections {
			changes, err := m.detector.Collection(ctx, name)
			if err != nil {
				return nil, err
			}
			all = append(all, changes)
		}
	}

	var staged []*detect.Changes
	for _, changes := range all {
		if changes.Empty() {
			continue
		}
		if err := m.stageCollection(ctx, changes); err != nil {
			return nil, err
		}
		staged = append(staged, changes)
	}
	return staged, nil
}

// stageCollection mirrors one collection's live changes into ledger rows.
func (m *Manager) stageCollection(ctx context.Context, changes *detect.Changes) error {
	if err := m.ensureRegistered(ctx, changes.Collection); err != nil {
		return err
	}

	for _, change := range append(changes.Added, changes.Modified...) {
		doc := change.Live
		if err := m.ledger.PutDocument(ctx, ledger.DocumentRow{
			DocID:       doc.ID,
			Collection:  doc.Collection,
			Content:     doc.Content,
			ContentHash: hash.Content(doc.Content),
			Metadata:    doc.Metadata,
			CreatedAt:   createdAt(doc, change.Baseline),
			UpdatedAt:   doc.UpdatedAt,
		}); err != nil {
			return fmt.Errorf("failed to stage %s/%s: %w", changes.Collection, doc.ID, err)
		}
	}

	for _, change := range changes.Deleted {
		if err := m.ledger.DeleteDocumentRow(ctx, changes.Collection, change.DocID); err != nil {
			return fmt.Errorf("failed to stage deletion of %s/%s: %w", changes.Collection, change.DocID, err)
		}
	}

	m.logger.Printf("staged %s: +%d ~%d -%d", changes.Collection,
		len(changes.Added), len(changes.Modified), len(changes.Deleted))
	return nil
}

// ensureRegistered upserts the ledger registry row for a live collection.
// A collection deleted live keeps its registry row until the deletion is
// staged through the tracker's collection delete path.
func (m *Manager) ensureRegistered(ctx context.Context, name string) error {
	col, err := m.store.GetCollection(ctx, name)
	if errors.Is(err, store.ErrCollectionNotFound) {
		return m.ledger.DeleteCollectionRows(ctx, name)
	}
	if err != nil {
		return fmt.Errorf("failed to read live collection %s: %w", name, err)
	}

	count, err := m.store.CountDocuments(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to count documents in %s: %w", name, err)
	}

	return m.ledger.PutCollection(ctx, ledger.CollectionRow{
		Name:        col.Name,
		DisplayName: col.DisplayName,
		Description: col.Description,
		Embedding: ledger.EmbeddingConfig{
			Provider:     col.Embedding.Provider,
			Model:        col.Embedding.Model,
			ChunkSize:    col.Embedding.ChunkSize,
			ChunkOverlap: col.Embedding.ChunkOverlap,
		},
		DocumentCount: count,
		Metadata:      col.Metadata,
	})
}

// settleCollection advances a committed collection's sync state to the
// new commit.
func (m *Manager) settleCollection(ctx context.Context, changes *detect.Changes, commitHash string) error {
	count, err := m.store.CountDocuments(ctx, changes.Collection)
	if err != nil {
		if errors.Is(err, store.ErrCollectionNotFound) {
			count = 0
		} else {
			return fmt.Errorf("failed to count documents in %s: %w", changes.Collection, err)
		}
	}

	if err := m.ledger.PutSyncState(ctx, ledger.SyncStateRow{
		Collection:     changes.Collection,
		LastSyncCommit: commitHash,
		LastSyncAt:     time.Now().UTC(),
		DocumentCount:  count,
		Status:         ledger.StateSynced,
	}); err != nil {
		return fmt.Errorf("failed to advance sync state for %s: %w", changes.Collection, err)
	}
	return nil
}

func createdAt(doc *store.Document, baseline *ledger.DocumentRow) time.Time {
	if baseline != nil && !baseline.CreatedAt.IsZero() {
		return baseline.CreatedAt
	}
	return doc.CreatedAt
}
