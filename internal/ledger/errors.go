package ledger

import "errors"

// Sentinel errors returned by Ledger implementations. Callers classify
// failure modes with errors.Is against these values; implementations map
// whatever their backend reports (exit codes, structured output) onto them
// so that no caller ever matches subprocess error text.
var (
	// ErrNotInitialized indicates no ledger repository exists at Root.
	ErrNotInitialized = errors.New("ledger repository not initialized")

	// ErrAlreadyInitialized indicates Init was called on an existing
	// repository.
	ErrAlreadyInitialized = errors.New("ledger repository already initialized")

	// ErrEmptyRepository indicates the repository has no commits yet.
	ErrEmptyRepository = errors.New("ledger repository has no commits")

	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("row not found")

	// ErrBranchExists indicates the branch name is already taken.
	ErrBranchExists = errors.New("branch already exists")

	// ErrBranchNotFound indicates the named branch does not exist.
	ErrBranchNotFound = errors.New("branch not found")

	// ErrNothingToCommit indicates the working set is clean.
	ErrNothingToCommit = errors.New("nothing to commit")

	// ErrMergeInProgress indicates an operation that requires a clean
	// repository was attempted mid-merge.
	ErrMergeInProgress = errors.New("merge in progress")

	// ErrNoMergeInProgress indicates AbortMerge was called with no merge
	// to abort.
	ErrNoMergeInProgress = errors.New("no merge in progress")

	// ErrNoRemote indicates no remote is configured.
	ErrNoRemote = errors.New("no remote configured")

	// ErrRemoteUnreachable indicates the remote could not be contacted.
	// Transient by nature; safe to retry with backoff.
	ErrRemoteUnreachable = errors.New("remote unreachable")

	// ErrAuthenticationFailed indicates the remote rejected our
	// credentials. Not transient; never retried automatically.
	ErrAuthenticationFailed = errors.New("remote authentication failed")

	// ErrPushRejected indicates the remote has commits the local branch
	// lacks (non-fast-forward push).
	ErrPushRejected = errors.New("push rejected by remote")
)
