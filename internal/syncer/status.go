package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
)

// CollectionStatus is one collection's entry in the status report.
type CollectionStatus struct {
	Name           string
	Status         ledger.SyncStatus
	LastSyncCommit string
	LastSyncAt     time.Time
	DocumentCount  int
	LocalChanges   int
}

// StatusReport is the combined view of the repository and the live store.
type StatusReport struct {
	Branch string
	Head   string
	State  State

	// Merging reports an in-progress ledger merge with unresolved
	// conflicts.
	Merging bool

	Collections []CollectionStatus

	// PendingChanges is the total number of uncommitted local changes
	// across all collections.
	PendingChanges int
}

// Status reports the repository position, the per-collection sync states,
// and the uncommitted local changes. Read-only.
func (m *Manager) Status(ctx context.Context) (*StatusReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.ledger.IsInitialized(ctx) {
		return nil, ledger.ErrNotInitialized
	}

	st, err := m.ledger.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger status: %w", err)
	}

	report := &StatusReport{
		Branch:  st.Branch,
		Head:    st.Head,
		State:   m.state,
		Merging: st.Merging,
	}

	states, err := m.ledger.SyncStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync states: %w", err)
	}
	byName := make(map[string]*ledger.SyncStateRow, len(states))
	for i := range states {
		byName[states[i].Collection] = &states[i]
	}

	changes, err := m.detector.All(ctx)
	if err != nil {
		return nil, err
	}

	for _, c := range changes {
		col := CollectionStatus{
			Name:         c.Collection,
			Status:       ledger.StatePending,
			LocalChanges: c.Total(),
		}
		if state := byName[c.Collection]; state != nil {
			col.Status = state.Status
			col.LastSyncCommit = state.LastSyncCommit
			col.LastSyncAt = state.LastSyncAt
			col.DocumentCount = state.DocumentCount
		}
		if col.LocalChanges > 0 {
			col.Status = ledger.StateLocalChanges
		}
		report.Collections = append(report.Collections, col)
		report.PendingChanges += col.LocalChanges
	}
	return report, nil
}

// Branches lists local and remote-tracking branches. Read-only.
func (m *Manager) Branches(ctx context.Context) ([]ledger.Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger.Branches(ctx)
}

// CreateBranch creates a branch at base without switching to it. Empty
// base means the current head.
func (m *Manager) CreateBranch(ctx context.Context, name, base string) *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name == "" {
		return fail(CodeInvalidInput, "branch name must not be empty", "pass a branch name")
	}
	if err := m.ledger.CreateBranch(ctx, name, base); err != nil {
		if errors.Is(err, ledger.ErrBranchExists) {
			return fail(CodeInvalidInput,
				fmt.Sprintf("branch %s already exists", name), "pick another name")
		}
		return failErr(err)
	}
	return m.refreshResult(ctx, ok("created branch "+name))
}

// DeleteBranch deletes a branch. The checked-out branch cannot be deleted.
func (m *Manager) DeleteBranch(ctx context.Context, name string) *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.ledger.CurrentBranch(ctx)
	if err != nil {
		return failErr(err)
	}
	if name == current {
		return fail(CodeInvalidInput,
			"cannot delete the checked-out branch "+name,
			"switch to another branch first")
	}
	if err := m.ledger.DeleteBranch(ctx, name); err != nil {
		return failErr(err)
	}
	return m.refreshResult(ctx, ok("deleted branch "+name))
}

// RenameBranch renames a branch.
func (m *Manager) RenameBranch(ctx context.Context, oldName, newName string) *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ledger.RenameBranch(ctx, oldName, newName); err != nil {
		return failErr(err)
	}
	return m.refreshResult(ctx, ok(fmt.Sprintf("renamed branch %s to %s", oldName, newName)))
}

// AddRemote configures a named remote.
func (m *Manager) AddRemote(ctx context.Context, name, url string) *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name == "" || url == "" {
		return fail(CodeInvalidInput, "remote name and url must not be empty",
			"pass both a name and a url")
	}
	if err := m.ledger.AddRemote(ctx, name, url); err != nil {
		return failErr(err)
	}
	return m.refreshResult(ctx, ok("added remote "+name))
}

// Remotes lists the configured remotes. Read-only.
func (m *Manager) Remotes(ctx context.Context) ([]ledger.Remote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger.Remotes(ctx)
}

// Log returns up to n commits from the current branch, newest first.
// Read-only.
func (m *Manager) Log(ctx context.Context, n int) ([]ledger.Commit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger.Log(ctx, n)
}

// Operations returns the most recent n audit log rows, newest first.
// Read-only.
func (m *Manager) Operations(ctx context.Context, n int) ([]ledger.OperationRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger.Operations(ctx, n)
}
