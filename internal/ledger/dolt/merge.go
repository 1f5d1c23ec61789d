package dolt

import (
	"context"
	"fmt"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
)

// Merge merges the source branch into the current branch. A conflicted
// merge is reported through the outcome, not as an error.
func (d *Dolt) Merge(ctx context.Context, source string) (*ledger.MergeOutcome, error) {
	rows, err := d.query(ctx, fmt.Sprintf(
		"CALL DOLT_MERGE('--no-edit', %s)", quote(source)))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("dolt merge returned no result row")
	}

	row := rows[0]
	outcome := &ledger.MergeOutcome{
		Commit:      getString(row, "hash"),
		FastForward: getInt(row, "fast_forward") == 1,
		Conflicts:   getInt(row, "conflicts"),
	}

	if outcome.Conflicts > 0 {
		outcome.Commit = ""
		tables, err := d.ConflictTables(ctx)
		if err != nil {
			return nil, err
		}
		outcome.ConflictTables = tables
		d.logger.Printf("merge of %s stopped on %d conflicts in %v",
			source, outcome.Conflicts, tables)
		return outcome, nil
	}

	head, err := d.HeadCommit(ctx)
	if err != nil {
		return nil, err
	}
	if outcome.Commit == head && !outcome.FastForward {
		// Merging an ancestor is a no-op; dolt reports the unchanged head.
		outcome.UpToDate = true
	}
	outcome.Commit = head
	return outcome, nil
}

// AbortMerge returns the repository to its pre-merge state.
func (d *Dolt) AbortMerge(ctx context.Context) error {
	_, err := d.query(ctx, "CALL DOLT_MERGE('--abort')")
	return err
}

// ConflictTables lists tables that currently hold unresolved conflicts.
func (d *Dolt) ConflictTables(ctx context.Context) ([]string, error) {
	rows, err := d.query(ctx, "SELECT `table` FROM dolt_conflicts ORDER BY `table`")
	if err != nil {
		return nil, err
	}

	var out []string
	for _, row := range rows {
		if name := getString(row, "table"); name != "" {
			out = append(out, name)
		}
	}
	return out, nil
}

// ResolveTable resolves every conflict in a table by keeping one side.
func (d *Dolt) ResolveTable(ctx context.Context, table string, side ledger.ResolutionSide) error {
	flag := "--ours"
	if side == ledger.SideTheirs {
		flag = "--theirs"
	}
	_, err := d.query(ctx, fmt.Sprintf(
		"CALL DOLT_CONFLICTS_RESOLVE(%s, %s)", quote(flag), quote(table)))
	return err
}

// conflictColumns maps the dolt_conflicts_documents columns of one side
// into a document row. A side with a NULL doc_id does not exist in that
// version and decodes to nil.
func conflictSide(row map[string]any, prefix string) *ledger.DocumentRow {
	id := getString(row, prefix+"_doc_id")
	if id == "" {
		return nil
	}
	return &ledger.DocumentRow{
		DocID:       id,
		Collection:  getString(row, prefix+"_collection"),
		Content:     getString(row, prefix+"_content"),
		ContentHash: getString(row, prefix+"_content_hash"),
		Metadata:    getMetadata(row, prefix+"_metadata"),
		CreatedAt:   getTime(row, prefix+"_created_at"),
		UpdatedAt:   getTime(row, prefix+"_updated_at"),
	}
}

// DocumentConflicts returns the base/ours/theirs triplet for every
// conflicted document row of the in-progress merge.
func (d *Dolt) DocumentConflicts(ctx context.Context) ([]ledger.ConflictRow, error) {
	rows, err := d.query(ctx, "SELECT * FROM dolt_conflicts_documents")
	if err != nil {
		return nil, err
	}

	out := make([]ledger.ConflictRow, 0, len(rows))
	for _, row := range rows {
		c := ledger.ConflictRow{
			Table:  ledger.TableDocuments,
			Base:   conflictSide(row, "base"),
			Ours:   conflictSide(row, "our"),
			Theirs: conflictSide(row, "their"),
		}
		// Key the conflict by whichever side has the row.
		for _, side := range []*ledger.DocumentRow{c.Ours, c.Theirs, c.Base} {
			if side != nil {
				c.Collection = side.Collection
				c.DocID = side.DocID
				break
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// ResolveDocuments applies a batch of document resolutions atomically in
// one SQL transaction: the resolved rows are written and their conflict
// markers cleared, or nothing happens.
func (d *Dolt) ResolveDocuments(ctx context.Context, resolutions []ledger.DocumentResolution) error {
	if len(resolutions) == 0 {
		return nil
	}

	open, err := d.DocumentConflicts(ctx)
	if err != nil {
		return err
	}
	openSet := make(map[string]bool, len(open))
	for _, c := range open {
		openSet[c.Collection+"\x00"+c.DocID] = true
	}

	var stmts []string
	for _, res := range resolutions {
		if !openSet[res.Collection+"\x00"+res.DocID] {
			return fmt.Errorf("%w: no open conflict for %s/%s",
				ledger.ErrNotFound, res.Collection, res.DocID)
		}
		if !res.Delete && res.Row == nil {
			return fmt.Errorf("resolution for %s/%s has neither row nor delete",
				res.Collection, res.DocID)
		}

		if res.Delete {
			stmts = append(stmts, fmt.Sprintf(
				"DELETE FROM documents WHERE doc_id = %s AND collection = %s",
				quote(res.DocID), quote(res.Collection)))
		} else {
			stmts = append(stmts, replaceDocumentStmt(*res.Row))
		}

		// Deleting the conflict row marks it resolved.
		stmts = append(stmts, fmt.Sprintf(
			"DELETE FROM dolt_conflicts_documents WHERE "+
				"COALESCE(our_doc_id, their_doc_id, base_doc_id) = %s AND "+
				"COALESCE(our_collection, their_collection, base_collection) = %s",
			quote(res.DocID), quote(res.Collection)))
	}

	if err := d.script(ctx, stmts); err != nil {
		return err
	}
	d.logger.Printf("resolved %d document conflicts", len(resolutions))
	return nil
}
