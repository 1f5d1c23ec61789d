package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/detect"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/store"
)

// CheckoutPolicy decides what happens to uncommitted live-store changes
// when a branch switch is requested.
type CheckoutPolicy string

const (
	// PolicyAbort refuses the checkout while local changes exist.
	PolicyAbort CheckoutPolicy = "abort"

	// PolicyCommitFirst commits the local changes to the current branch
	// before switching.
	PolicyCommitFirst CheckoutPolicy = "commit_first"

	// PolicyResetFirst discards the local changes before switching.
	PolicyResetFirst CheckoutPolicy = "reset_first"

	// PolicyCarry re-applies the local changes verbatim on top of the
	// target branch, where they remain uncommitted.
	PolicyCarry CheckoutPolicy = "carry"
)

// Checkout switches the repository to the named branch and rebuilds the
// live store from the branch snapshot. With create true, the branch is
// created at the current head first. policy governs uncommitted local
// changes; the zero value aborts.
func (m *Manager) Checkout(ctx context.Context, branch string, create bool, policy CheckoutPolicy) *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if policy == "" {
		policy = PolicyAbort
	}
	switch policy {
	case PolicyAbort, PolicyCommitFirst, PolicyResetFirst, PolicyCarry:
	default:
		return fail(CodeInvalidInput,
			fmt.Sprintf("unknown checkout policy %q", policy),
			"use abort, commit_first, reset_first, or carry")
	}

	opID, _, res := m.begin(ctx, ledger.OpCheckout, StateCheckingOut)
	if res != nil {
		return res
	}

	current, err := m.ledger.CurrentBranch(ctx)
	if err != nil {
		return m.finish(ctx, opID, failErr(err))
	}
	if current == branch && !create {
		return m.finish(ctx, opID, m.refreshResult(ctx, ok("already on "+branch)))
	}

	changes, err := m.detector.All(ctx)
	if err != nil {
		return m.finish(ctx, opID, failErr(err))
	}
	dirty := 0
	for _, c := range changes {
		dirty += c.Total()
	}

	var carried []*detect.Changes
	if dirty > 0 {
		switch policy {
		case PolicyAbort:
			return m.finish(ctx, opID, fail(CodeUncommittedChanges,
				fmt.Sprintf("%d uncommitted local changes on %s", dirty, current),
				"commit or reset them, or choose the commit_first, reset_first, or carry policy"))

		case PolicyCommitFirst:
			staged, err := m.stageLocked(ctx, nil)
			if err != nil {
				return m.finish(ctx, opID, failErr(err))
			}
			commitHash, err := m.ledger.Commit(ctx, "Auto-commit before checkout of "+branch)
			if err != nil {
				return m.finish(ctx, opID, failErr(err))
			}
			for _, c := range staged {
				if err := m.settleCollection(ctx, c, commitHash); err != nil {
					return m.finish(ctx, opID, failErr(err))
				}
			}

		case PolicyResetFirst:
			if err := m.discardLocalChanges(ctx); err != nil {
				return m.finish(ctx, opID, failErr(err))
			}

		case PolicyCarry:
			carried = changes
		}
	}

	if err := m.ledger.Checkout(ctx, branch, create); err != nil {
		return m.finish(ctx, opID, failErr(err))
	}

	added, modified, deleted, err := m.fullSyncLocked(ctx, true)
	if err != nil {
		return m.finish(ctx, opID, failErr(err))
	}

	if err := m.applyCarried(ctx, carried); err != nil {
		return m.finish(ctx, opID, failErr(err))
	}

	out := m.refreshResult(ctx, ok("switched to "+branch))
	out.Added, out.Modified, out.Deleted = added, modified, deleted
	return m.finish(ctx, opID, out)
}

// Reset discards all uncommitted changes and moves the current branch to
// revision, then force-syncs the live store to match. Destructive, so the
// caller must confirm explicitly; the refusal names what would be lost.
func (m *Manager) Reset(ctx context.Context, revision string, confirmed bool) *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if revision == "" {
		revision = "HEAD"
	}

	if !confirmed {
		dirty := 0
		if changes, err := m.detector.All(ctx); err == nil {
			for _, c := range changes {
				dirty += c.Total()
			}
		}
		return fail(CodeConfirmationRequired,
			fmt.Sprintf("reset to %s discards %d uncommitted local changes", revision, dirty),
			"re-run with confirmation to proceed")
	}

	opID, _, res := m.begin(ctx, ledger.OpReset, StateResyncing)
	if res != nil {
		return res
	}

	if err := m.ledger.ResetHard(ctx, revision); err != nil {
		return m.finish(ctx, opID, failErr(err))
	}

	added, modified, deleted, err := m.fullSyncLocked(ctx, true)
	if err != nil {
		return m.finish(ctx, opID, failErr(err))
	}

	out := m.refreshResult(ctx, ok("reset to "+revision))
	out.Added, out.Modified, out.Deleted = added, modified, deleted
	return m.finish(ctx, opID, out)
}

// discardLocalChanges throws away uncommitted ledger rows and rebuilds the
// live store from the head commit.
func (m *Manager) discardLocalChanges(ctx context.Context) error {
	if err := m.ledger.ResetHard(ctx, "HEAD"); err != nil {
		return err
	}
	_, _, _, err := m.fullSyncLocked(ctx, true)
	return err
}

// applyCarried re-applies captured local changes verbatim to the live
// store. The documents land uncommitted on the new branch, exactly as
// they were on the old one.
func (m *Manager) applyCarried(ctx context.Context, carried []*detect.Changes) error {
	for _, changes := range carried {
		if changes.Empty() {
			continue
		}

		// The target branch may not register the collection at all.
		if _, err := m.store.GetCollection(ctx, changes.Collection); err != nil {
			if !errors.Is(err, store.ErrCollectionNotFound) {
				return err
			}
			if err := m.store.CreateCollection(ctx, store.Collection{Name: changes.Collection}); err != nil {
				return fmt.Errorf("failed to recreate carried collection %s: %w", changes.Collection, err)
			}
		}

		for _, change := range append(changes.Added, changes.Modified...) {
			if err := m.store.PutDocument(ctx, *change.Live); err != nil {
				return fmt.Errorf("failed to carry %s/%s: %w", changes.Collection, change.DocID, err)
			}
		}
		for _, change := range changes.Deleted {
			if err := m.store.DeleteDocument(ctx, changes.Collection, change.DocID); err != nil {
				return fmt.Errorf("failed to carry deletion of %s/%s: %w", changes.Collection, change.DocID, err)
			}
		}
		m.logger.Printf("carried %d local changes in %s across checkout",
			changes.Total(), changes.Collection)
	}
	return nil
}
