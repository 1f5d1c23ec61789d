package dolt

import (
	"strings"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
)

// classify maps dolt output to a ledger sentinel error, or nil when the
// output matches nothing callers need to distinguish. This is the only
// place subprocess text is inspected; everything above branches on the
// sentinels.
func classify(output string) error {
	lower := strings.ToLower(output)

	switch {
	case contains(lower,
		"not a valid dolt repository",
		"no dolt database found",
		"the current directory is not a valid dolt repository"):
		return ledger.ErrNotInitialized

	case contains(lower,
		"already exists and is not an empty directory",
		"repository already exists",
		"directory already contains a dolt repository"):
		return ledger.ErrAlreadyInitialized

	case contains(lower,
		"nothing to commit",
		"no changes added to commit"):
		return ledger.ErrNothingToCommit

	case contains(lower,
		"already exists. checkout aborted",
		"fatal: a branch named") && contains(lower, "already exists"):
		return ledger.ErrBranchExists

	case contains(lower,
		"branch not found",
		"could not find branch",
		"unknown branch",
		"invalid ref"):
		return ledger.ErrBranchNotFound

	case contains(lower,
		"merging is not possible because you have unmerged tables",
		"unresolved conflicts",
		"merge in progress",
		"cannot commit with conflicts"):
		return ledger.ErrMergeInProgress

	case contains(lower,
		"no merge to abort",
		"there is no merge to abort"):
		return ledger.ErrNoMergeInProgress

	case contains(lower,
		"remote not found",
		"no remote",
		"unknown remote"):
		return ledger.ErrNoRemote

	case contains(lower,
		"unauthorized",
		"authentication failed",
		"permission denied",
		"invalid credentials",
		"401", "403"):
		return ledger.ErrAuthenticationFailed

	case contains(lower,
		"cannot fast forward",
		"non-fast-forward",
		"fetch first",
		"is behind",
		"push rejected",
		"upstream has changes"):
		return ledger.ErrPushRejected

	case contains(lower,
		"connection refused",
		"no such host",
		"unable to connect",
		"i/o timeout",
		"connection reset",
		"network is unreachable",
		"could not reach remote"):
		return ledger.ErrRemoteUnreachable
	}

	return nil
}

func contains(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
