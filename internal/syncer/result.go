package syncer

import (
	"errors"
	"fmt"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/merge"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/retry"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/store"
)

// Code is the caller-facing error taxonomy. Every failed Result carries
// exactly one code plus a remediation hint.
type Code string

const (
	CodeNotInitialized       Code = "NOT_INITIALIZED"
	CodeAlreadyInitialized   Code = "ALREADY_INITIALIZED"
	CodeCollectionNotFound   Code = "COLLECTION_NOT_FOUND"
	CodeInvalidInput         Code = "INVALID_INPUT"
	CodeNoChanges            Code = "NO_CHANGES"
	CodeConfirmationRequired Code = "CONFIRMATION_REQUIRED"
	CodeUncommittedChanges   Code = "UNCOMMITTED_CHANGES"
	CodeUnresolvedConflicts  Code = "UNRESOLVED_CONFLICTS"
	CodeMergeCommitFailed    Code = "MERGE_COMMIT_FAILED"
	CodeRemoteUnreachable    Code = "REMOTE_UNREACHABLE"
	CodeAuthenticationFailed Code = "AUTHENTICATION_FAILED"
	CodeRemoteRejected       Code = "REMOTE_REJECTED"
	CodeOperationFailed      Code = "OPERATION_FAILED"
)

// Result is the structured outcome of one sync-manager operation.
type Result struct {
	Success bool
	Code    Code
	Message string

	// Hint is a concrete remediation step for failures.
	Hint string

	// Branch and Commit describe the repository after the operation.
	Branch string
	Commit string

	// Added/Modified/Deleted count the document changes the operation
	// staged, committed, or applied. Partial failures report the exact
	// partial counts.
	Added    int
	Modified int
	Deleted  int

	// Conflicts carries the analyzed conflicts when a merge or pull
	// stops on them; Unresolved is how many still need a decision.
	Conflicts  []merge.Conflict
	Unresolved int
}

func ok(message string) *Result {
	return &Result{Success: true, Message: message}
}

func fail(code Code, message, hint string) *Result {
	return &Result{Code: code, Message: message, Hint: hint}
}

// failErr classifies an error into the taxonomy with a matching hint.
func failErr(err error) *Result {
	code, hint := classify(err)
	return &Result{Code: code, Message: err.Error(), Hint: hint}
}

// classify maps sentinel errors from the lower layers onto the taxonomy.
func classify(err error) (Code, string) {
	switch {
	case errors.Is(err, ledger.ErrNotInitialized):
		return CodeNotInitialized, "run init or clone first"
	case errors.Is(err, ledger.ErrAlreadyInitialized):
		return CodeAlreadyInitialized, "the repository already exists; remove it or use it as-is"
	case errors.Is(err, store.ErrCollectionNotFound):
		return CodeCollectionNotFound, "create the collection or check its name"
	case errors.Is(err, ledger.ErrNothingToCommit):
		return CodeNoChanges, "nothing to commit; make changes first"
	case errors.Is(err, ledger.ErrMergeInProgress):
		return CodeUnresolvedConflicts, "resolve or abort the in-progress merge first"
	case errors.Is(err, ledger.ErrAuthenticationFailed):
		return CodeAuthenticationFailed, "check the remote credentials"
	case errors.Is(err, ledger.ErrPushRejected):
		return CodeRemoteRejected, "pull before pushing"
	case errors.Is(err, ledger.ErrRemoteUnreachable), errors.Is(err, retry.ErrTimeout):
		return CodeRemoteUnreachable, "check connectivity and the remote URL, then retry"
	case errors.Is(err, ledger.ErrNoRemote):
		return CodeInvalidInput, "add a remote first"
	case errors.Is(err, ledger.ErrBranchNotFound), errors.Is(err, ledger.ErrBranchExists):
		return CodeInvalidInput, "check the branch name"
	default:
		return CodeOperationFailed, "inspect the error and retry; the ledger was not left mid-operation"
	}
}

// Err converts a failed Result into an error for callers that want one.
func (r *Result) Err() error {
	if r.Success {
		return nil
	}
	return fmt.Errorf("%s: %s", r.Code, r.Message)
}
