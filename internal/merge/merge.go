// Package merge analyzes and resolves document conflicts from an
// in-progress ledger merge.
//
// The ledger reports conflicted rows as base/ours/theirs triplets; this
// package classifies each triplet (content edit vs metadata-only vs
// add/add vs delete/modify), drills metadata conflicts down to individual
// fields, decides which conflicts are safe to resolve automatically, and
// turns chosen resolutions into the atomic batch the ledger applies.
//
// Bookkeeping tables (sync state, tombstones, the operation log, the
// collection registry) are derived state and always resolve by keeping the
// current branch; only document rows get per-conflict treatment.
package merge

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
)

// ConflictType classifies a document conflict.
type ConflictType string

const (
	// ContentConflict: both branches edited the document content.
	ContentConflict ConflictType = "content"

	// MetadataConflict: content identical, both branches edited metadata.
	MetadataConflict ConflictType = "metadata_field"

	// AddAdd: both branches added the same document id with different
	// content or metadata.
	AddAdd ConflictType = "add_add"

	// DeleteModify: one branch deleted the document, the other edited it.
	DeleteModify ConflictType = "delete_modify"
)

// Strategy names a way to resolve one conflict.
type Strategy string

const (
	// KeepOurs keeps the current (target) branch's version.
	KeepOurs Strategy = "keep_ours"

	// KeepTheirs keeps the merged (source) branch's version.
	KeepTheirs Strategy = "keep_theirs"

	// FieldMerge combines non-overlapping metadata field changes from both
	// sides. Only valid for metadata conflicts whose field edits do not
	// collide.
	FieldMerge Strategy = "field_merge"

	// Custom writes caller-provided content and metadata.
	Custom Strategy = "custom"
)

// FieldConflict is one metadata field examined during analysis.
type FieldConflict struct {
	Field  string
	Base   string
	Ours   string
	Theirs string

	// OursChanged / TheirsChanged report which sides changed the field
	// relative to base. Both true with different values is a genuine
	// field collision.
	OursChanged   bool
	TheirsChanged bool
}

// Colliding reports whether both sides changed the field to different
// values.
func (f FieldConflict) Colliding() bool {
	return f.OursChanged && f.TheirsChanged && f.Ours != f.Theirs
}

// Conflict is one analyzed document conflict.
type Conflict struct {
	Collection string
	DocID      string
	Type       ConflictType

	Base   *ledger.DocumentRow
	Ours   *ledger.DocumentRow
	Theirs *ledger.DocumentRow

	// Fields holds the per-field metadata analysis for metadata and
	// add/add conflicts.
	Fields []FieldConflict

	// ContentDiff is a compact rendering of the ours/theirs content
	// difference for content conflicts.
	ContentDiff string

	// WhitespaceOnly marks content conflicts whose sides differ only in
	// whitespace.
	WhitespaceOnly bool

	// AutoResolvable conflicts can be resolved without a human choosing:
	// whitespace-only content edits and metadata edits touching disjoint
	// fields.
	AutoResolvable bool

	// Suggested is the recommended strategy; for auto-resolvable
	// conflicts it is the one auto-resolution applies.
	Suggested Strategy

	// Options lists every strategy valid for this conflict.
	Options []Strategy
}

// Analysis is the full conflict picture of an in-progress merge.
type Analysis struct {
	Conflicts []Conflict

	// BookkeepingTables lists conflicted non-document tables. They are
	// always resolved by keeping the current branch.
	BookkeepingTables []string
}

// AutoResolvable counts conflicts safe for automatic resolution.
func (a *Analysis) AutoResolvable() int {
	n := 0
	for _, c := range a.Conflicts {
		if c.AutoResolvable {
			n++
		}
	}
	return n
}

// Unresolved reports whether any conflict requires a human decision.
func (a *Analysis) Unresolved() int {
	return len(a.Conflicts) - a.AutoResolvable()
}

// Analyzer classifies the conflicts of an in-progress merge.
type Analyzer struct {
	ledger ledger.Ledger
	logger *log.Logger
	dmp    *diffmatchpatch.DiffMatchPatch
}

// NewAnalyzer creates an Analyzer. A nil logger defaults to stderr.
func NewAnalyzer(l ledger.Ledger, logger *log.Logger) *Analyzer {
	if logger == nil {
		logger = log.New(os.Stderr, "[merge] ", log.LstdFlags)
	}
	return &Analyzer{ledger: l, logger: logger, dmp: diffmatchpatch.New()}
}

// Analyze reads the open conflicts from the ledger and classifies them.
func (a *Analyzer) Analyze(ctx context.Context) (*Analysis, error) {
	tables, err := a.ledger.ConflictTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflict tables: %w", err)
	}

	analysis := &Analysis{}
	for _, table := range tables {
		if table == ledger.TableDocuments {
			continue
		}
		analysis.BookkeepingTables = append(analysis.BookkeepingTables, table)
	}

	rows, err := a.ledger.DocumentConflicts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read document conflicts: %w", err)
	}

	for _, row := range rows {
		analysis.Conflicts = append(analysis.Conflicts, a.classify(row))
	}

	sort.Slice(analysis.Conflicts, func(i, j int) bool {
		a, b := analysis.Conflicts[i], analysis.Conflicts[j]
		if a.Collection != b.Collection {
			return a.Collection < b.Collection
		}
		return a.DocID < b.DocID
	})

	a.logger.Printf("analyzed %d document conflicts (%d auto-resolvable), %d bookkeeping tables",
		len(analysis.Conflicts), analysis.AutoResolvable(), len(analysis.BookkeepingTables))
	return analysis, nil
}

// classify determines type, field detail, diff detail, and resolution
// options for one conflict triplet.
func (a *Analyzer) classify(row ledger.ConflictRow) Conflict {
	c := Conflict{
		Collection: row.Collection,
		DocID:      row.DocID,
		Base:       row.Base,
		Ours:       row.Ours,
		Theirs:     row.Theirs,
	}

	switch {
	case row.Ours == nil || row.Theirs == nil:
		c.Type = DeleteModify
		c.Options = []Strategy{KeepOurs, KeepTheirs}
		// Suggest keeping the side that still has the document: losing an
		// edit is worse than resurrecting a deletion.
		if row.Ours != nil {
			c.Suggested = KeepOurs
		} else {
			c.Suggested = KeepTheirs
		}
		return c

	case row.Base == nil:
		c.Type = AddAdd

	case row.Ours.ContentHash != row.Theirs.ContentHash:
		c.Type = ContentConflict

	default:
		c.Type = MetadataConflict
	}

	c.Fields = fieldAnalysis(row.Base, row.Ours, row.Theirs)

	if c.Type == ContentConflict || (c.Type == AddAdd && row.Ours.ContentHash != row.Theirs.ContentHash) {
		c.ContentDiff = a.renderDiff(row.Ours.Content, row.Theirs.Content)
		c.WhitespaceOnly = whitespaceOnly(row.Ours.Content, row.Theirs.Content)
	}

	c.Options = []Strategy{KeepOurs, KeepTheirs, Custom}
	if c.Type == MetadataConflict && !anyColliding(c.Fields) {
		c.Options = append(c.Options, FieldMerge)
	}

	switch {
	case c.WhitespaceOnly:
		// Whitespace-only content divergence keeps the current branch's
		// formatting without asking.
		c.AutoResolvable = true
		c.Suggested = KeepOurs
	case c.Type == MetadataConflict && !anyColliding(c.Fields):
		c.AutoResolvable = true
		c.Suggested = FieldMerge
	case newerSide(row.Ours, row.Theirs) == SideTheirs:
		c.Suggested = KeepTheirs
	default:
		c.Suggested = KeepOurs
	}

	return c
}

// renderDiff produces a compact semantic diff of the two contents.
func (a *Analyzer) renderDiff(ours, theirs string) string {
	diffs := a.dmp.DiffMain(ours, theirs, false)
	a.dmp.DiffCleanupSemantic(diffs)

	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			b.WriteString("[-" + d.Text + "-]")
		case diffmatchpatch.DiffInsert:
			b.WriteString("[+" + d.Text + "+]")
		default:
			b.WriteString(d.Text)
		}
	}
	return b.String()
}

// Side identifies ours or theirs for heuristics.
type Side int

const (
	SideOurs Side = iota
	SideTheirs
)

// newerSide picks the side with the later update timestamp; missing
// timestamps favor ours.
func newerSide(ours, theirs *ledger.DocumentRow) Side {
	if ours == nil || theirs == nil {
		return SideOurs
	}
	if theirs.UpdatedAt.After(ours.UpdatedAt) {
		return SideTheirs
	}
	return SideOurs
}

// fieldAnalysis compares every metadata field across the three versions.
func fieldAnalysis(base, ours, theirs *ledger.DocumentRow) []FieldConflict {
	fields := make(map[string]bool)
	for _, row := range []*ledger.DocumentRow{base, ours, theirs} {
		if row == nil {
			continue
		}
		for k := range row.Metadata {
			fields[k] = true
		}
	}

	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	meta := func(row *ledger.DocumentRow, k string) string {
		if row == nil {
			return ""
		}
		return row.Metadata[k]
	}

	var out []FieldConflict
	for _, k := range names {
		fc := FieldConflict{
			Field:  k,
			Base:   meta(base, k),
			Ours:   meta(ours, k),
			Theirs: meta(theirs, k),
		}
		fc.OursChanged = fc.Ours != fc.Base
		fc.TheirsChanged = fc.Theirs != fc.Base
		if fc.OursChanged || fc.TheirsChanged {
			out = append(out, fc)
		}
	}
	return out
}

func anyColliding(fields []FieldConflict) bool {
	for _, f := range fields {
		if f.Colliding() {
			return true
		}
	}
	return false
}

// whitespaceOnly reports whether two contents are identical after
// collapsing all whitespace runs.
func whitespaceOnly(a, b string) bool {
	if a == b {
		return false
	}
	return strings.Join(strings.Fields(a), " ") == strings.Join(strings.Fields(b), " ")
}
