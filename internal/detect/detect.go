// Package detect computes the local changes of the live document store
// relative to the ledger.
//
// The baseline for a collection is the ledger snapshot at the collection's
// last sync commit. Documents present live but absent from the baseline are
// additions; present in both with a different content hash or metadata are
// modifications; present in the baseline but gone from the live store are
// deletions. A collection that has never been synced has an empty baseline,
// so everything live is an addition.
//
// Detection is a pure read: running it twice against unchanged stores
// returns the same result and mutates nothing.
package detect

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/hash"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/store"
)

// ChangeType classifies one detected change.
type ChangeType string

const (
	Added    ChangeType = "added"
	Modified ChangeType = "modified"
	Deleted  ChangeType = "deleted"
)

// Change is one detected difference between the live store and the ledger
// baseline.
type Change struct {
	Collection string
	DocID      string
	Type       ChangeType

	// Live is the current live document, nil for deletions.
	Live *store.Document

	// Baseline is the ledger row at the last sync commit, nil for
	// additions.
	Baseline *ledger.DocumentRow

	// Tombstoned marks a deletion that has a pending deletion tombstone,
	// i.e. one that went through the tracked delete path.
	Tombstoned bool
}

// Changes is the detection result for one collection.
type Changes struct {
	Collection string

	// BaseCommit is the ledger commit the comparison ran against, empty
	// for a never-synced collection.
	BaseCommit string

	Added    []Change
	Modified []Change
	Deleted  []Change
}

// Total returns the number of detected changes.
func (c *Changes) Total() int {
	return len(c.Added) + len(c.Modified) + len(c.Deleted)
}

// Empty reports whether nothing changed.
func (c *Changes) Empty() bool {
	return c.Total() == 0
}

// Detector compares the live store against ledger baselines.
type Detector struct {
	ledger ledger.Ledger
	store  store.Store
	logger *log.Logger
}

// New creates a Detector. A nil logger defaults to stderr.
func New(l ledger.Ledger, s store.Store, logger *log.Logger) *Detector {
	if logger == nil {
		logger = log.New(os.Stderr, "[detect] ", log.LstdFlags)
	}
	return &Detector{ledger: l, store: s, logger: logger}
}

// Collection detects the local changes of one collection.
func (d *Detector) Collection(ctx context.Context, collection string) (*Changes, error) {
	baseCommit := ""
	state, err := d.ledger.SyncState(ctx, collection)
	switch {
	case err == nil:
		baseCommit = state.LastSyncCommit
	case errors.Is(err, ledger.ErrNotFound):
		// Never synced: empty baseline.
	default:
		return nil, fmt.Errorf("failed to read sync state for %s: %w", collection, err)
	}

	var baseline []ledger.DocumentRow
	if baseCommit != "" {
		baseline, err = d.ledger.DocumentsAt(ctx, baseCommit, collection)
		if err != nil {
			return nil, fmt.Errorf("failed to read baseline for %s: %w", collection, err)
		}
	}

	live, err := d.store.ListDocuments(ctx, collection)
	if err != nil {
		if errors.Is(err, store.ErrCollectionNotFound) {
			// The live collection is gone; every baseline row is a
			// deletion.
			live = nil
		} else {
			return nil, fmt.Errorf("failed to list live documents for %s: %w", collection, err)
		}
	}

	return d.diff(ctx, collection, baseCommit, baseline, live)
}

func (d *Detector) diff(ctx context.Context, collection, baseCommit string, baseline []ledger.DocumentRow, live []store.Document) (*Changes, error) {
	baselineByID := make(map[string]*ledger.DocumentRow, len(baseline))
	for i := range baseline {
		baselineByID[baseline[i].DocID] = &baseline[i]
	}

	out := &Changes{Collection: collection, BaseCommit: baseCommit}

	for i := range live {
		doc := &live[i]
		base, ok := baselineByID[doc.ID]
		if !ok {
			out.Added = append(out.Added, Change{
				Collection: collection,
				DocID:      doc.ID,
				Type:       Added,
				Live:       doc,
			})
			continue
		}
		delete(baselineByID, doc.ID)

		if hash.Content(doc.Content) != base.ContentHash || !metadataEqual(doc.Metadata, base.Metadata) {
			out.Modified = append(out.Modified, Change{
				Collection: collection,
				DocID:      doc.ID,
				Type:       Modified,
				Live:       doc,
				Baseline:   base,
			})
		}
	}

	// Whatever remains in the baseline is gone from the live store.
	for _, base := range baselineByID {
		ts, err := d.ledger.Tombstone(ctx, collection, base.DocID)
		if err != nil {
			return nil, fmt.Errorf("failed to read tombstone for %s/%s: %w", collection, base.DocID, err)
		}
		out.Deleted = append(out.Deleted, Change{
			Collection: collection,
			DocID:      base.DocID,
			Type:       Deleted,
			Baseline:   base,
			Tombstoned: ts != nil && ts.Status == ledger.TombstonePending,
		})
	}

	sortChanges(out.Added)
	sortChanges(out.Modified)
	sortChanges(out.Deleted)
	return out, nil
}

// All detects changes for every collection known to either store: live
// collections plus collections that have sync state but were deleted live.
func (d *Detector) All(ctx context.Context) ([]*Changes, error) {
	names := make(map[string]bool)

	cols, err := d.store.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list live collections: %w", err)
	}
	for _, col := range cols {
		names[col.Name] = true
	}

	states, err := d.ledger.SyncStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync states: %w", err)
	}
	for _, state := range states {
		names[state.Collection] = true
	}

	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	var out []*Changes
	for _, name := range ordered {
		changes, err := d.Collection(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, changes)
	}
	return out, nil
}

func sortChanges(changes []Change) {
	sort.Slice(changes, func(i, j int) bool { return changes[i].DocID < changes[j].DocID })
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
