package merge

import (
	"context"
	"fmt"
	"sort"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
)

// Preview is the result of analyzing a merge without performing it: the
// conflicts it would produce plus the clean changes that would flow from
// source into target.
type Preview struct {
	Source     string
	Target     string
	BaseCommit string

	Conflicts []Conflict

	// ToAdd / ToModify / ToDelete count the non-conflicting document
	// changes the merge would apply to the target branch.
	ToAdd    int
	ToModify int
	ToDelete int
}

// CanAutoMerge reports whether the merge would complete without any human
// decision: no conflicts, or only auto-resolvable ones.
func (p *Preview) CanAutoMerge() bool {
	for _, c := range p.Conflicts {
		if !c.AutoResolvable {
			return false
		}
	}
	return true
}

// AnalyzeMerge computes the three-way diff of merging source into target
// from committed snapshots only. Nothing is mutated: no merge is started
// and the working set is untouched.
func (a *Analyzer) AnalyzeMerge(ctx context.Context, source, target string) (*Preview, error) {
	base, err := a.ledger.MergeBase(ctx, target, source)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve merge base: %w", err)
	}

	baseRows, err := a.ledger.DocumentsAt(ctx, base, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read base snapshot: %w", err)
	}
	ourRows, err := a.ledger.DocumentsAt(ctx, target, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read target snapshot: %w", err)
	}
	theirRows, err := a.ledger.DocumentsAt(ctx, source, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read source snapshot: %w", err)
	}

	preview := &Preview{Source: source, Target: target, BaseCommit: base}

	type key struct{ collection, id string }
	index := func(rows []ledger.DocumentRow) map[key]*ledger.DocumentRow {
		m := make(map[key]*ledger.DocumentRow, len(rows))
		for i := range rows {
			m[key{rows[i].Collection, rows[i].DocID}] = &rows[i]
		}
		return m
	}
	baseBy, ourBy, theirBy := index(baseRows), index(ourRows), index(theirRows)

	keys := make(map[key]bool)
	for k := range baseBy {
		keys[k] = true
	}
	for k := range ourBy {
		keys[k] = true
	}
	for k := range theirBy {
		keys[k] = true
	}

	for k := range keys {
		b, o, t := baseBy[k], ourBy[k], theirBy[k]

		oursChanged := sideChanged(b, o)
		theirsChanged := sideChanged(b, t)

		switch {
		case !theirsChanged:
			// Nothing flows from source for this document.
		case !oursChanged:
			// Clean change from source.
			switch {
			case t == nil:
				preview.ToDelete++
			case o == nil && b == nil:
				preview.ToAdd++
			default:
				preview.ToModify++
			}
		default:
			// Both changed. Identical outcomes converge silently.
			if rowsConverge(o, t) {
				continue
			}
			preview.Conflicts = append(preview.Conflicts, a.classify(ledger.ConflictRow{
				Table:      ledger.TableDocuments,
				Collection: k.collection,
				DocID:      k.id,
				Base:       b,
				Ours:       o,
				Theirs:     t,
			}))
		}
	}

	sortConflicts(preview.Conflicts)
	a.logger.Printf("merge preview %s -> %s: +%d ~%d -%d, %d conflicts",
		source, target, preview.ToAdd, preview.ToModify, preview.ToDelete,
		len(preview.Conflicts))
	return preview, nil
}

func sideChanged(base, side *ledger.DocumentRow) bool {
	if (base == nil) != (side == nil) {
		return true
	}
	if base == nil {
		return false
	}
	return !rowsConverge(base, side)
}

// rowsConverge reports identical identity: same existence, content hash,
// and metadata.
func rowsConverge(a, b *ledger.DocumentRow) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	if a.ContentHash != b.ContentHash {
		return false
	}
	if len(a.Metadata) != len(b.Metadata) {
		return false
	}
	for k, v := range a.Metadata {
		if b.Metadata[k] != v {
			return false
		}
	}
	return true
}

func sortConflicts(conflicts []Conflict) {
	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].Collection != conflicts[j].Collection {
			return conflicts[i].Collection < conflicts[j].Collection
		}
		return conflicts[i].DocID < conflicts[j].DocID
	})
}
