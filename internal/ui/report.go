package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/merge"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/syncer"
)

// ShortHash abbreviates a commit hash for display.
func ShortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// Counts renders a +a ~m -d change summary, colored per direction.
func Counts(added, modified, deleted int) string {
	return fmt.Sprintf("%s %s %s",
		RenderAdded(fmt.Sprintf("+%d", added)),
		RenderWarn(fmt.Sprintf("~%d", modified)),
		RenderDeleted(fmt.Sprintf("-%d", deleted)))
}

// Status renders the combined repository and sync status report.
func Status(r *syncer.StatusReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s", RenderHeader("On branch"), RenderAccent(r.Branch))
	if r.Head != "" {
		fmt.Fprintf(&b, " %s", RenderDim("at "+ShortHash(r.Head)))
	}
	b.WriteByte('\n')

	if r.Merging {
		fmt.Fprintf(&b, "%s merge in progress with unresolved conflicts\n", RenderWarn("⚠"))
	}

	if len(r.Collections) == 0 {
		fmt.Fprintf(&b, "%s\n", RenderDim("no collections"))
		return b.String()
	}

	for _, col := range r.Collections {
		marker := RenderPass("✓")
		detail := string(col.Status)
		switch col.Status {
		case ledger.StateLocalChanges:
			marker = RenderWarn("●")
			detail = fmt.Sprintf("%d local changes", col.LocalChanges)
		case ledger.StateError:
			marker = RenderFail("✗")
		}
		fmt.Fprintf(&b, "  %s %-20s %4d docs  %s\n", marker, col.Name, col.DocumentCount, RenderDim(detail))
	}

	if r.PendingChanges > 0 {
		fmt.Fprintf(&b, "%s %d changes pending commit\n", RenderWarn("●"), r.PendingChanges)
	}
	return b.String()
}

// Result renders an operation result with its position and counts, or the
// failure code and remediation hint.
func Result(res *syncer.Result) string {
	var b strings.Builder

	if !res.Success {
		fmt.Fprintf(&b, "%s %s: %s\n", RenderFail("✗"), res.Code, res.Message)
		if res.Hint != "" {
			fmt.Fprintf(&b, "  %s\n", RenderDim("hint: "+res.Hint))
		}
		for i := range res.Conflicts {
			b.WriteString(Conflict(&res.Conflicts[i]))
		}
		return b.String()
	}

	fmt.Fprintf(&b, "%s %s", RenderPass("✓"), res.Message)
	if res.Added+res.Modified+res.Deleted > 0 {
		fmt.Fprintf(&b, " (%s)", Counts(res.Added, res.Modified, res.Deleted))
	}
	if res.Commit != "" {
		fmt.Fprintf(&b, " %s", RenderDim(ShortHash(res.Commit)))
	}
	b.WriteByte('\n')
	return b.String()
}

// Conflict renders one analyzed conflict with its versions and options.
func Conflict(c *merge.Conflict) string {
	var b strings.Builder

	fmt.Fprintf(&b, "  %s %s/%s %s\n",
		RenderWarn("⚠"), c.Collection, c.DocID, RenderDim(string(c.Type)))

	switch c.Type {
	case merge.DeleteModify:
		if c.Ours == nil {
			fmt.Fprintf(&b, "      deleted here, modified on the other branch\n")
		} else {
			fmt.Fprintf(&b, "      modified here, deleted on the other branch\n")
		}
	case merge.ContentConflict, merge.AddAdd:
		if c.ContentDiff != "" {
			fmt.Fprintf(&b, "      %s\n", c.ContentDiff)
		}
	}

	for _, f := range c.Fields {
		if !f.Colliding() && !(f.OursChanged || f.TheirsChanged) {
			continue
		}
		fmt.Fprintf(&b, "      %s: ours=%q theirs=%q %s\n",
			f.Field, f.Ours, f.Theirs, RenderDim("base="+quoteOr(f.Base)))
	}

	if c.AutoResolvable {
		fmt.Fprintf(&b, "      %s %s\n", RenderPass("auto:"), c.Suggested)
	} else {
		opts := make([]string, len(c.Options))
		for i, o := range c.Options {
			opts[i] = string(o)
		}
		fmt.Fprintf(&b, "      options: %s %s\n",
			strings.Join(opts, ", "), RenderDim("(suggested: "+string(c.Suggested)+")"))
	}
	return b.String()
}

// Preview renders a merge preview: clean change counts plus conflicts.
func Preview(p *merge.Preview) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s into %s %s\n",
		RenderHeader("Merging"), RenderAccent(p.Source), RenderAccent(p.Target),
		RenderDim("(base "+ShortHash(p.BaseCommit)+")"))
	fmt.Fprintf(&b, "  clean changes: %s\n", Counts(p.ToAdd, p.ToModify, p.ToDelete))

	if len(p.Conflicts) == 0 {
		fmt.Fprintf(&b, "  %s no conflicts\n", RenderPass("✓"))
		return b.String()
	}

	fmt.Fprintf(&b, "  %s %d conflicts:\n", RenderWarn("⚠"), len(p.Conflicts))
	for i := range p.Conflicts {
		b.WriteString(Conflict(&p.Conflicts[i]))
	}
	return b.String()
}

// Commits renders a commit log, newest first.
func Commits(commits []ledger.Commit) string {
	var b strings.Builder
	for _, c := range commits {
		fmt.Fprintf(&b, "%s %s %s\n",
			RenderAccent(ShortHash(c.Hash)),
			RenderDim(c.Timestamp.Format("2006-01-02 15:04")),
			c.Message)
	}
	return b.String()
}

// Operations renders the sync audit log, newest first.
func Operations(ops []ledger.OperationRow) string {
	var b strings.Builder
	for _, op := range ops {
		marker := RenderPass("✓")
		switch op.Status {
		case ledger.OpFailed:
			marker = RenderFail("✗")
		case ledger.OpBlocked, ledger.OpRolledBack:
			marker = RenderWarn("⚠")
		case ledger.OpStarted:
			marker = RenderDim("…")
		}
		fmt.Fprintf(&b, "%s %-9s %-12s %s", marker, op.Type, op.Branch,
			RenderDim(op.StartedAt.Format(time.DateTime)))
		if op.ErrorMessage != "" {
			fmt.Fprintf(&b, "  %s", RenderFail(op.ErrorMessage))
		} else if op.Added+op.Modified+op.Deleted > 0 {
			fmt.Fprintf(&b, "  %s", Counts(op.Added, op.Modified, op.Deleted))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Branches renders the branch list, marking the current one.
func Branches(branches []ledger.Branch) string {
	var b strings.Builder
	for _, br := range branches {
		name := br.Name
		if br.Remote != "" {
			name = br.Remote + "/" + br.Name
		}
		switch {
		case br.IsCurrent:
			fmt.Fprintf(&b, "* %s %s\n", RenderAccent(name), RenderDim(ShortHash(br.Head)))
		case br.Remote != "":
			fmt.Fprintf(&b, "  %s %s\n", RenderDim(name), RenderDim(ShortHash(br.Head)))
		default:
			fmt.Fprintf(&b, "  %s %s\n", name, RenderDim(ShortHash(br.Head)))
		}
	}
	return b.String()
}

func quoteOr(s string) string {
	if s == "" {
		return "(unset)"
	}
	return fmt.Sprintf("%q", s)
}
