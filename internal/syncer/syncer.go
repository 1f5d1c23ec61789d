// Package syncer orchestrates the reconciliation of the live document
// store with the versioned ledger: staging, commits, checkouts, resets,
// merges, pulls, pushes, and full resyncs.
//
// The ledger is the source of truth. Every operation mutates the ledger
// first and then reconciles the live store with an idempotent snapshot
// apply (FullSync); a failed reconciliation after a successful ledger
// mutation is surfaced as a distinct retryable failure, never rolled back.
//
// # Concurrency
//
// One Manager guards one repository. Mutating operations serialize behind
// the repository lock; read-only inspection takes the read side. The state
// machine (Idle -> Staging/Committing/CheckingOut/Merging/Pulling/Pushing/
// Resyncing -> Idle, with Error reachable from any mutating state) is
// observable through State and recovers to Idle only once the ledger
// reports a clean status.
package syncer

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/detect"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/merge"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/retry"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/store"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/tombstone"
)

// State is the sync manager's observable state.
type State string

const (
	StateIdle        State = "idle"
	StateStaging     State = "staging"
	StateCommitting  State = "committing"
	StateCheckingOut State = "checking_out"
	StateMerging     State = "merging"
	StatePulling     State = "pulling"
	StatePushing     State = "pushing"
	StateResyncing   State = "resyncing"
	StateError       State = "error"
)

// Config tunes the sync manager.
type Config struct {
	// RemoteRetry bounds retries of transient remote failures.
	RemoteRetry retry.Policy

	// TombstoneRetention is how long applied tombstones are kept before
	// pruning. Pending tombstones are never pruned.
	TombstoneRetention time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RemoteRetry:        retry.DefaultPolicy(),
		TombstoneRetention: 30 * 24 * time.Hour,
	}
}

// Manager is the sync orchestrator for one repository.
type Manager struct {
	mu    sync.RWMutex
	state State

	ledger   ledger.Ledger
	store    store.Store
	detector *detect.Detector
	tracker  *tombstone.Tracker
	analyzer *merge.Analyzer
	resolver *merge.Resolver

	cfg    Config
	logger *log.Logger
}

// New creates a Manager. A nil logger defaults to stderr.
func New(l ledger.Ledger, s store.Store, cfg Config, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}
	analyzer := merge.NewAnalyzer(l, logger)
	return &Manager{
		state:    StateIdle,
		ledger:   l,
		store:    s,
		detector: detect.New(l, s, logger),
		tracker:  tombstone.New(l, s, logger),
		analyzer: analyzer,
		resolver: merge.NewResolver(analyzer),
		cfg:      cfg,
		logger:   logger,
	}
}

// Tracker returns the deletion tracker bound to this repository, used by
// caller-facing delete paths so tombstones are written before physical
// deletes.
func (m *Manager) Tracker() *tombstone.Tracker {
	return m.tracker
}

// State returns the current state-machine state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// begin transitions Idle -> state and opens an audit log row. It fails
// when the repository is uninitialized or stuck in Error with an unclean
// ledger.
func (m *Manager) begin(ctx context.Context, opType ledger.OperationType, state State) (opID int64, commitBefore string, res *Result) {
	if !m.ledger.IsInitialized(ctx) {
		return 0, "", fail(CodeNotInitialized,
			"no data repository at "+m.ledger.Root(), "run init or clone first")
	}

	if m.state == StateError {
		st, err := m.ledger.Status(ctx)
		if err != nil || !st.Clean {
			return 0, "", fail(CodeOperationFailed,
				"repository is in an error state and the ledger is not clean",
				"inspect the ledger status, resolve or abort any in-progress merge, then retry")
		}
		m.state = StateIdle
	}

	branch, err := m.ledger.CurrentBranch(ctx)
	if err != nil {
		return 0, "", failErr(err)
	}
	commitBefore, err = m.ledger.HeadCommit(ctx)
	if err != nil && !errors.Is(err, ledger.ErrEmptyRepository) {
		return 0, "", failErr(err)
	}

	opID, err = m.ledger.AppendOperation(ctx, ledger.OperationRow{
		Type:         opType,
		Branch:       branch,
		CommitBefore: commitBefore,
		Status:       ledger.OpStarted,
		StartedAt:    time.Now().UTC(),
	})
	if err != nil {
		return 0, "", failErr(err)
	}

	m.state = state
	return opID, commitBefore, nil
}

// blockedCodes are validation failures that stop an operation before it
// mutates anything. They leave the repository usable.
var blockedCodes = map[Code]bool{
	CodeNotInitialized:       true,
	CodeAlreadyInitialized:   true,
	CodeCollectionNotFound:   true,
	CodeInvalidInput:         true,
	CodeNoChanges:            true,
	CodeConfirmationRequired: true,
	CodeUncommittedChanges:   true,
}

// finish closes the audit row and settles the state machine. Only failures
// that may have left the repository mid-operation park the manager in
// Error; validation stops and rolled-back merges return to Idle.
func (m *Manager) finish(ctx context.Context, opID int64, res *Result) *Result {
	status := ledger.OpCompleted
	errMsg := ""
	switch {
	case res.Success:
	case res.Code == CodeUnresolvedConflicts:
		status = ledger.OpRolledBack
		errMsg = res.Message
	case blockedCodes[res.Code]:
		status = ledger.OpBlocked
		errMsg = res.Message
	default:
		status = ledger.OpFailed
		errMsg = res.Message
	}

	if err := m.ledger.FinishOperation(ctx, opID, status, res.Commit, errMsg); err != nil {
		m.logger.Printf("failed to close audit row %d: %v", opID, err)
	}

	if !res.Success && (res.Code == CodeOperationFailed || res.Code == CodeMergeCommitFailed) {
		m.state = StateError
	} else {
		m.state = StateIdle
	}
	return res
}

// refreshResult stamps the result with the repository position after the
// operation.
func (m *Manager) refreshResult(ctx context.Context, res *Result) *Result {
	if branch, err := m.ledger.CurrentBranch(ctx); err == nil {
		res.Branch = branch
	}
	if head, err := m.ledger.HeadCommit(ctx); err == nil {
		res.Commit = head
	}
	return res
}

// Init creates a new repository with the bookkeeping schema and an initial
// commit, recording the operation.
func (m *Manager) Init(ctx context.Context, branch string) *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ledger.IsInitialized(ctx) {
		return fail(CodeAlreadyInitialized,
			"a data repository already exists at "+m.ledger.Root(),
			"use the existing repository or remove it first")
	}

	if err := m.ledger.Init(ctx, branch); err != nil {
		return failErr(err)
	}
	if err := m.ledger.EnsureSchema(ctx); err != nil {
		return failErr(err)
	}
	if _, err := m.ledger.Commit(ctx, "Create sync schema"); err != nil &&
		!errors.Is(err, ledger.ErrNothingToCommit) {
		return failErr(err)
	}

	opID, _, res := m.begin(ctx, ledger.OpInit, StateResyncing)
	if res != nil {
		return res
	}
	m.logger.Printf("initialized repository at %s", m.ledger.Root())
	return m.finish(ctx, opID, m.refreshResult(ctx, ok("repository initialized")))
}

// Clone clones a remote repository, ensures the schema, and seeds the live
// store from the checked-out snapshot.
func (m *Manager) Clone(ctx context.Context, url string) *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ledger.IsInitialized(ctx) {
		return fail(CodeAlreadyInitialized,
			"a data repository already exists at "+m.ledger.Root(),
			"use the existing repository or remove it first")
	}

	err := retry.Do(ctx, m.remotePolicy(), func(ctx context.Context) error {
		return m.ledger.Clone(ctx, url)
	})
	if err != nil {
		return failErr(err)
	}
	if err := m.ledger.EnsureSchema(ctx); err != nil {
		return failErr(err)
	}

	opID, _, res := m.begin(ctx, ledger.OpInit, StateResyncing)
	if res != nil {
		return res
	}

	added, modified, deleted, err := m.fullSyncLocked(ctx, true)
	if err != nil {
		return m.finish(ctx, opID, failErr(err))
	}

	out := m.refreshResult(ctx, ok("repository cloned"))
	out.Added, out.Modified, out.Deleted = added, modified, deleted
	return m.finish(ctx, opID, out)
}

// transient reports whether a remote failure is worth retrying.
// Authentication failures and rejected pushes never are.
func transient(err error) bool {
	return errors.Is(err, ledger.ErrRemoteUnreachable)
}

// remotePolicy is the configured retry policy restricted to transient
// remote failures.
func (m *Manager) remotePolicy() retry.Policy {
	p := m.cfg.RemoteRetry
	if p.Retryable == nil {
		p.Retryable = transient
	}
	return p
}
