package merge

import (
	"context"
	"fmt"
	"time"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/hash"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
)

// Resolution is one caller-chosen resolution for a conflict.
type Resolution struct {
	Collection string
	DocID      string
	Strategy   Strategy

	// Content and Metadata carry the resolved document for Custom.
	Content  string
	Metadata map[string]string
}

// Resolver applies conflict resolutions to the ledger.
type Resolver struct {
	analyzer *Analyzer
	ledger   ledger.Ledger
}

// NewResolver creates a Resolver sharing the analyzer's ledger.
func NewResolver(a *Analyzer) *Resolver {
	return &Resolver{analyzer: a, ledger: a.ledger}
}

// ResolveBookkeeping resolves every conflicted bookkeeping table by keeping
// the current branch. Document conflicts are untouched.
func (r *Resolver) ResolveBookkeeping(ctx context.Context) error {
	tables, err := r.ledger.ConflictTables(ctx)
	if err != nil {
		return err
	}
	for _, table := range tables {
		if table == ledger.TableDocuments {
			continue
		}
		if err := r.ledger.ResolveTable(ctx, table, ledger.SideOurs); err != nil {
			return fmt.Errorf("failed to resolve bookkeeping table %s: %w", table, err)
		}
		r.analyzer.logger.Printf("resolved bookkeeping table %s keeping current branch", table)
	}
	return nil
}

// ResolveBatch applies a batch of resolutions atomically: every resolution
// must reference an open conflict and carry a valid strategy for it, or
// nothing is applied.
func (r *Resolver) ResolveBatch(ctx context.Context, analysis *Analysis, resolutions []Resolution) error {
	if len(resolutions) == 0 {
		return nil
	}

	byKey := make(map[string]*Conflict, len(analysis.Conflicts))
	for i := range analysis.Conflicts {
		c := &analysis.Conflicts[i]
		byKey[c.Collection+"\x00"+c.DocID] = c
	}

	batch := make([]ledger.DocumentResolution, 0, len(resolutions))
	for _, res := range resolutions {
		conflict, ok := byKey[res.Collection+"\x00"+res.DocID]
		if !ok {
			return fmt.Errorf("no open conflict for %s/%s", res.Collection, res.DocID)
		}

		entry, err := r.build(conflict, res)
		if err != nil {
			return err
		}
		batch = append(batch, entry)
	}

	if err := r.ledger.ResolveDocuments(ctx, batch); err != nil {
		return err
	}
	r.analyzer.logger.Printf("applied %d conflict resolutions", len(batch))
	return nil
}

// AutoResolve analyzes the open conflicts and applies the suggested
// resolution to every auto-resolvable one, after clearing bookkeeping
// tables. Returns the number of document conflicts resolved.
func (r *Resolver) AutoResolve(ctx context.Context) (int, error) {
	if err := r.ResolveBookkeeping(ctx); err != nil {
		return 0, err
	}

	analysis, err := r.analyzer.Analyze(ctx)
	if err != nil {
		return 0, err
	}

	var resolutions []Resolution
	for _, c := range analysis.Conflicts {
		if !c.AutoResolvable {
			continue
		}
		resolutions = append(resolutions, Resolution{
			Collection: c.Collection,
			DocID:      c.DocID,
			Strategy:   c.Suggested,
		})
	}
	if len(resolutions) == 0 {
		return 0, nil
	}

	if err := r.ResolveBatch(ctx, analysis, resolutions); err != nil {
		return 0, err
	}
	return len(resolutions), nil
}

// build turns one resolution into the row the ledger writes.
func (r *Resolver) build(c *Conflict, res Resolution) (ledger.DocumentResolution, error) {
	out := ledger.DocumentResolution{Collection: c.Collection, DocID: c.DocID}

	switch res.Strategy {
	case KeepOurs:
		if c.Ours == nil {
			out.Delete = true
			return out, nil
		}
		row := c.Ours.Clone()
		out.Row = &row
		return out, nil

	case KeepTheirs:
		if c.Theirs == nil {
			out.Delete = true
			return out, nil
		}
		row := c.Theirs.Clone()
		out.Row = &row
		return out, nil

	case FieldMerge:
		row, err := fieldMerge(c)
		if err != nil {
			return out, err
		}
		out.Row = row
		return out, nil

	case Custom:
		if c.Ours == nil && c.Theirs == nil {
			return out, fmt.Errorf("custom resolution for %s/%s has no surviving side", c.Collection, c.DocID)
		}
		row := customRow(c, res)
		out.Row = row
		return out, nil

	default:
		return out, fmt.Errorf("unknown resolution strategy %q for %s/%s", res.Strategy, c.Collection, c.DocID)
	}
}

// fieldMerge combines non-overlapping metadata changes from both sides on
// top of the base, keeping the (identical) content.
func fieldMerge(c *Conflict) (*ledger.DocumentRow, error) {
	if c.Type != MetadataConflict {
		return nil, fmt.Errorf("field merge requires a metadata conflict, %s/%s is %s",
			c.Collection, c.DocID, c.Type)
	}
	if anyColliding(c.Fields) {
		return nil, fmt.Errorf("field merge impossible for %s/%s: colliding field edits",
			c.Collection, c.DocID)
	}

	row := c.Ours.Clone()
	merged := make(map[string]string)
	if c.Base != nil {
		for k, v := range c.Base.Metadata {
			merged[k] = v
		}
	}
	for _, f := range c.Fields {
		switch {
		case f.OursChanged:
			applyField(merged, f.Field, f.Ours)
		case f.TheirsChanged:
			applyField(merged, f.Field, f.Theirs)
		}
	}
	if len(merged) == 0 {
		merged = nil
	}
	row.Metadata = merged
	row.UpdatedAt = time.Now().UTC()
	return &row, nil
}

func applyField(m map[string]string, field, value string) {
	if value == "" {
		delete(m, field)
		return
	}
	m[field] = value
}

// customRow builds the resolved row from caller-provided content and
// metadata, re-hashing the content.
func customRow(c *Conflict, res Resolution) *ledger.DocumentRow {
	source := c.Ours
	if source == nil {
		source = c.Theirs
	}
	row := source.Clone()
	row.Content = res.Content
	row.ContentHash = hash.Content(res.Content)
	if res.Metadata != nil {
		row.Metadata = res.Metadata
	}
	row.UpdatedAt = time.Now().UTC()
	return &row
}
