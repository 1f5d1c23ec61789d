package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/hash"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/store"
)

// FullSync reconciles the live store with the ledger's current working
// snapshot. With force true, collections with pending local changes are
// overwritten and up-to-date collections are re-verified row by row;
// without it, dirty collections are skipped and clean collections whose
// last sync commit already matches the head are left alone.
//
// FullSync is idempotent: running it twice against an unchanged ledger
// applies nothing the second time.
func (m *Manager) FullSync(ctx context.Context, force bool) *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	opID, _, res := m.begin(ctx, ledger.OpResync, StateResyncing)
	if res != nil {
		return res
	}

	added, modified, deleted, err := m.fullSyncLocked(ctx, force)
	if err != nil {
		return m.finish(ctx, opID, failErr(err))
	}

	out := m.refreshResult(ctx, ok("live store synchronized"))
	out.Added, out.Modified, out.Deleted = added, modified, deleted
	return m.finish(ctx, opID, out)
}

// fullSyncLocked applies the ledger snapshot to the live store. The caller
// holds the write lock.
func (m *Manager) fullSyncLocked(ctx context.Context, force bool) (added, modified, deleted int, err error) {
	head, err := m.ledger.HeadCommit(ctx)
	if errors.Is(err, ledger.ErrEmptyRepository) {
		return 0, 0, 0, nil
	}
	if err != nil {
		return 0, 0, 0, err
	}

	cols, err := m.ledger.CollectionsAt(ctx, "")
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to read collection registry: %w", err)
	}
	registered := make(map[string]bool, len(cols))
	for _, col := range cols {
		registered[col.Name] = true
	}

	for _, col := range cols {
		a, mod, d, err := m.syncCollection(ctx, col, head, force)
		if err != nil {
			return added, modified, deleted, err
		}
		added += a
		modified += mod
		deleted += d
	}

	// A collection that was synced before but is gone from the registry
	// (a checkout onto a branch without it, or a committed deletion) is
	// removed from the live store. Live collections the ledger has never
	// seen are local additions and stay untouched.
	states, err := m.ledger.SyncStates(ctx)
	if err != nil {
		return added, modified, deleted, fmt.Errorf("failed to read sync states: %w", err)
	}
	for _, state := range states {
		if registered[state.Collection] {
			continue
		}
		n, err := m.dropLiveCollection(ctx, state.Collection)
		if err != nil {
			return added, modified, deleted, err
		}
		deleted += n
	}

	if _, err := m.tracker.Prune(ctx, m.cfg.TombstoneRetention); err != nil {
		m.logger.Printf("tombstone prune failed: %v", err)
	}

	// Tombstone flips and prunes live in versioned tables; committing them
	// keeps the working set clean for the next checkout. A sync that
	// changed no bookkeeping commits nothing.
	if _, err := m.ledger.Commit(ctx, "Record sync bookkeeping"); err != nil &&
		!errors.Is(err, ledger.ErrNothingToCommit) {
		return added, modified, deleted, fmt.Errorf("failed to commit sync bookkeeping: %w", err)
	}

	m.logger.Printf("full sync at %s: +%d ~%d -%d (force=%v)",
		head, added, modified, deleted, force)
	return added, modified, deleted, nil
}

// syncCollection reconciles one collection's live documents with the
// ledger's working snapshot.
func (m *Manager) syncCollection(ctx context.Context, col ledger.CollectionRow, head string, force bool) (added, modified, deleted int, err error) {
	state, err := m.ledger.SyncState(ctx, col.Name)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return 0, 0, 0, fmt.Errorf("failed to read sync state for %s: %w", col.Name, err)
	}

	if !force {
		changes, err := m.detector.Collection(ctx, col.Name)
		if err != nil {
			return 0, 0, 0, err
		}
		if !changes.Empty() {
			m.logger.Printf("skipping %s: %d local changes pending", col.Name, changes.Total())
			return 0, 0, 0, m.writeSyncState(ctx, state, false, ledger.SyncStateRow{
				Collection:        col.Name,
				LastSyncCommit:    changes.BaseCommit,
				LastSyncAt:        lastSyncAt(state),
				DocumentCount:     documentCount(state),
				Status:            ledger.StateLocalChanges,
				LocalChangesCount: changes.Total(),
			})
		}
		if state != nil && state.LastSyncCommit == head && state.Status == ledger.StateSynced {
			return 0, 0, 0, nil
		}
	}

	if err := m.store.CreateCollection(ctx, store.Collection{
		Name:        col.Name,
		DisplayName: col.DisplayName,
		Description: col.Description,
		Embedding: store.EmbeddingConfig{
			Provider:     col.Embedding.Provider,
			Model:        col.Embedding.Model,
			ChunkSize:    col.Embedding.ChunkSize,
			ChunkOverlap: col.Embedding.ChunkOverlap,
		},
		Metadata: col.Metadata,
	}); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to ensure live collection %s: %w", col.Name, err)
	}

	rows, err := m.ledger.DocumentsAt(ctx, "", col.Name)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to read ledger rows for %s: %w", col.Name, err)
	}
	live, err := m.store.ListDocuments(ctx, col.Name)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to list live documents for %s: %w", col.Name, err)
	}

	liveByID := make(map[string]*store.Document, len(live))
	for i := range live {
		liveByID[live[i].ID] = &live[i]
	}

	for _, row := range rows {
		doc, exists := liveByID[row.DocID]
		delete(liveByID, row.DocID)
		if exists && hash.Content(doc.Content) == row.ContentHash && metadataEqual(doc.Metadata, row.Metadata) {
			continue
		}

		if err := m.store.PutDocument(ctx, store.Document{
			ID:         row.DocID,
			Collection: row.Collection,
			Content:    row.Content,
			Metadata:   row.Metadata,
			CreatedAt:  row.CreatedAt,
			UpdatedAt:  row.UpdatedAt,
		}); err != nil {
			return added, modified, deleted, fmt.Errorf("failed to write %s/%s: %w", col.Name, row.DocID, err)
		}
		if exists {
			modified++
		} else {
			added++
		}
	}

	// Live documents absent from the ledger snapshot are removed.
	for id := range liveByID {
		if err := m.store.DeleteDocument(ctx, col.Name, id); err != nil {
			return added, modified, deleted, fmt.Errorf("failed to delete %s/%s: %w", col.Name, id, err)
		}
		deleted++
	}

	if err := m.markAppliedTombstones(ctx, col.Name, rows); err != nil {
		return added, modified, deleted, err
	}

	if err := m.writeSyncState(ctx, state, added+modified+deleted > 0, ledger.SyncStateRow{
		Collection:     col.Name,
		LastSyncCommit: head,
		LastSyncAt:     time.Now().UTC(),
		DocumentCount:  len(rows),
		Status:         ledger.StateSynced,
	}); err != nil {
		return added, modified, deleted, fmt.Errorf("failed to update sync state for %s: %w", col.Name, err)
	}
	return added, modified, deleted, nil
}

// writeSyncState upserts a sync state row. When the live store was not
// touched and nothing material changed, the write is skipped so that a
// no-op sync does not dirty the bookkeeping tables and produce an endless
// chain of bookkeeping commits.
func (m *Manager) writeSyncState(ctx context.Context, old *ledger.SyncStateRow, applied bool, row ledger.SyncStateRow) error {
	if !applied && old != nil &&
		old.Status == row.Status &&
		old.DocumentCount == row.DocumentCount &&
		old.LocalChangesCount == row.LocalChangesCount &&
		old.ErrorMessage == row.ErrorMessage {
		return nil
	}
	return m.ledger.PutSyncState(ctx, row)
}

// markAppliedTombstones flips pending tombstones whose deletion is now
// reflected in the ledger snapshot.
func (m *Manager) markAppliedTombstones(ctx context.Context, collection string, rows []ledger.DocumentRow) error {
	pending, err := m.tracker.Pending(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to read pending tombstones for %s: %w", collection, err)
	}
	if len(pending) == 0 {
		return nil
	}

	inLedger := make(map[string]bool, len(rows))
	for _, row := range rows {
		inLedger[row.DocID] = true
	}

	var applied []string
	for _, ts := range pending {
		if !inLedger[ts.DocID] {
			applied = append(applied, ts.DocID)
		}
	}
	return m.tracker.MarkApplied(ctx, collection, applied)
}

// dropLiveCollection removes a live collection the ledger no longer
// registers, along with its sync state.
func (m *Manager) dropLiveCollection(ctx context.Context, collection string) (int, error) {
	n, err := m.store.CountDocuments(ctx, collection)
	if err != nil {
		if errors.Is(err, store.ErrCollectionNotFound) {
			n = 0
		} else {
			return 0, fmt.Errorf("failed to count documents in %s: %w", collection, err)
		}
	}

	if err := m.store.DeleteCollection(ctx, collection); err != nil &&
		!errors.Is(err, store.ErrCollectionNotFound) {
		return 0, fmt.Errorf("failed to drop live collection %s: %w", collection, err)
	}
	if err := m.ledger.DeleteSyncState(ctx, collection); err != nil {
		return n, fmt.Errorf("failed to clear sync state for %s: %w", collection, err)
	}

	m.logger.Printf("dropped live collection %s (%d documents)", collection, n)
	return n, nil
}

func lastSyncAt(state *ledger.SyncStateRow) time.Time {
	if state == nil {
		return time.Time{}
	}
	return state.LastSyncAt
}

func documentCount(state *ledger.SyncStateRow) int {
	if state == nil {
		return 0
	}
	return state.DocumentCount
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
