package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/merge"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/retry"
)

// PreviewMerge analyzes what merging source into the current branch would
// do, without mutating anything.
func (m *Manager) PreviewMerge(ctx context.Context, source string) (*merge.Preview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.ledger.IsInitialized(ctx) {
		return nil, ledger.ErrNotInitialized
	}
	target, err := m.ledger.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	return m.analyzer.AnalyzeMerge(ctx, source, target)
}

// Merge merges source into the current branch and syncs the live store
// with the result.
//
// Bookkeeping-table conflicts resolve automatically by keeping the current
// branch. Document conflicts are settled by the caller's resolutions plus
// auto-resolution of whitespace-only and disjoint-field conflicts. Any
// conflict left unresolved aborts the whole merge: the repository returns
// to its pre-merge state and the result carries the analyzed conflicts so
// the caller can decide and retry.
func (m *Manager) Merge(ctx context.Context, source string, resolutions []merge.Resolution) *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	opID, _, res := m.begin(ctx, ledger.OpMerge, StateMerging)
	if res != nil {
		return res
	}
	return m.finish(ctx, opID, m.mergeLocked(ctx, source, resolutions))
}

func (m *Manager) mergeLocked(ctx context.Context, source string, resolutions []merge.Resolution) *Result {
	if res := m.requireClean(ctx, "merge"); res != nil {
		return res
	}
	if err := m.commitBookkeeping(ctx); err != nil {
		return failErr(err)
	}

	outcome, err := m.ledger.Merge(ctx, source)
	if err != nil {
		return failErr(err)
	}
	return m.settleMerge(ctx, source, outcome, resolutions)
}

// settleMerge drives a merge outcome to a terminal state: synced on
// success, aborted on unresolved conflicts.
func (m *Manager) settleMerge(ctx context.Context, source string, outcome *ledger.MergeOutcome, resolutions []merge.Resolution) *Result {
	if outcome.UpToDate {
		return m.refreshResult(ctx, ok("already up to date with "+source))
	}

	if outcome.Conflicts == 0 {
		added, modified, deleted, err := m.fullSyncLocked(ctx, true)
		if err != nil {
			return failErr(err)
		}
		msg := "merged " + source
		if outcome.FastForward {
			msg = "fast-forwarded to " + source
		}
		out := m.refreshResult(ctx, ok(msg))
		out.Added, out.Modified, out.Deleted = added, modified, deleted
		return out
	}

	m.logger.Printf("merge of %s stopped on %d conflicts in %v",
		source, outcome.Conflicts, outcome.ConflictTables)

	if err := m.resolver.ResolveBookkeeping(ctx); err != nil {
		return m.abortMerge(ctx, failErr(err))
	}

	if len(resolutions) > 0 {
		analysis, err := m.analyzer.Analyze(ctx)
		if err != nil {
			return m.abortMerge(ctx, failErr(err))
		}
		if err := m.resolver.ResolveBatch(ctx, analysis, resolutions); err != nil {
			return m.abortMerge(ctx, fail(CodeInvalidInput, err.Error(),
				"fix the resolution batch and retry the merge"))
		}
	}

	if _, err := m.resolver.AutoResolve(ctx); err != nil {
		return m.abortMerge(ctx, failErr(err))
	}

	analysis, err := m.analyzer.Analyze(ctx)
	if err != nil {
		return m.abortMerge(ctx, failErr(err))
	}
	if len(analysis.Conflicts) > 0 {
		res := fail(CodeUnresolvedConflicts,
			fmt.Sprintf("%d conflicts remain unresolved; merge aborted", len(analysis.Conflicts)),
			"resolve each conflict explicitly and retry the merge")
		res.Conflicts = analysis.Conflicts
		res.Unresolved = len(analysis.Conflicts)
		return m.abortMerge(ctx, res)
	}

	commitHash, err := m.ledger.Commit(ctx, "Merge "+source)
	if err != nil {
		return m.abortMerge(ctx, fail(CodeMergeCommitFailed,
			fmt.Sprintf("failed to commit resolved merge of %s: %v", source, err),
			"retry the merge; the repository was returned to its pre-merge state"))
	}

	added, modified, deleted, err := m.fullSyncLocked(ctx, true)
	if err != nil {
		return failErr(err)
	}

	out := m.refreshResult(ctx, ok("merged "+source))
	out.Commit = commitHash
	out.Added, out.Modified, out.Deleted = added, modified, deleted
	return out
}

// abortMerge returns the ledger to its pre-merge state and passes the
// original failure through.
func (m *Manager) abortMerge(ctx context.Context, res *Result) *Result {
	if err := m.ledger.AbortMerge(ctx); err != nil {
		m.logger.Printf("merge abort failed: %v", err)
		return fail(CodeOperationFailed,
			"merge failed and could not be aborted: "+err.Error(),
			"abort the merge manually before running anything else")
	}
	return m.refreshResult(ctx, res)
}

// Pull fetches the remote branch and merges it into the current branch,
// routing any conflicts through the same resolution pipeline as Merge.
// Transient network failures are retried with bounded backoff; a pull that
// fails for any other reason is not.
func (m *Manager) Pull(ctx context.Context, remote, branch string, resolutions []merge.Resolution) *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	opID, _, res := m.begin(ctx, ledger.OpPull, StatePulling)
	if res != nil {
		return res
	}

	if res := m.requireClean(ctx, "pull"); res != nil {
		return m.finish(ctx, opID, res)
	}
	if err := m.commitBookkeeping(ctx); err != nil {
		return m.finish(ctx, opID, failErr(err))
	}

	var outcome *ledger.MergeOutcome
	err := retry.Do(ctx, m.remotePolicy(), func(ctx context.Context) error {
		var err error
		outcome, err = m.ledger.Pull(ctx, remote, branch)
		return err
	})
	if err != nil {
		return m.finish(ctx, opID, failErr(err))
	}

	source := remoteRef(remote, branch)
	return m.finish(ctx, opID, m.settleMerge(ctx, source, outcome, resolutions))
}

// Push pushes the current branch (or the named one) to the remote.
// Rejections and authentication failures are reported immediately; only
// unreachable remotes are retried.
func (m *Manager) Push(ctx context.Context, remote, branch string) *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	opID, _, res := m.begin(ctx, ledger.OpPush, StatePushing)
	if res != nil {
		return res
	}

	if branch == "" {
		current, err := m.ledger.CurrentBranch(ctx)
		if err != nil {
			return m.finish(ctx, opID, failErr(err))
		}
		branch = current
	}

	err := retry.Do(ctx, m.remotePolicy(), func(ctx context.Context) error {
		return m.ledger.Push(ctx, remote, branch)
	})
	if err != nil {
		return m.finish(ctx, opID, failErr(err))
	}

	out := m.refreshResult(ctx, ok("pushed "+branch))
	return m.finish(ctx, opID, out)
}

// commitBookkeeping sweeps pending bookkeeping rows, including the audit
// row the operation just appended, out of the working set. The ledger
// refuses to merge over uncommitted rows, and every operation touches the
// bookkeeping tables.
func (m *Manager) commitBookkeeping(ctx context.Context) error {
	if _, err := m.ledger.Commit(ctx, "Record sync bookkeeping"); err != nil &&
		!errors.Is(err, ledger.ErrNothingToCommit) {
		return fmt.Errorf("failed to commit sync bookkeeping: %w", err)
	}
	return nil
}

// requireClean refuses history-rewriting operations while uncommitted
// local changes exist.
func (m *Manager) requireClean(ctx context.Context, op string) *Result {
	changes, err := m.detector.All(ctx)
	if err != nil {
		return failErr(err)
	}
	dirty := 0
	for _, c := range changes {
		dirty += c.Total()
	}
	if dirty > 0 {
		return fail(CodeUncommittedChanges,
			fmt.Sprintf("%d uncommitted local changes block the %s", dirty, op),
			"commit or reset the local changes first")
	}
	return nil
}

func remoteRef(remote, branch string) string {
	if remote == "" {
		remote = "origin"
	}
	if branch == "" {
		return remote
	}
	return remote + "/" + branch
}
