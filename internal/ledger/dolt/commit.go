package dolt

import (
	"context"
	"errors"
	"strings"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
)

// Commit stages all working-set changes and commits them, returning the new
// commit hash. Returns ErrNothingToCommit when the working set is clean.
func (d *Dolt) Commit(ctx context.Context, message string) (string, error) {
	if _, err := d.run(ctx, "add", "-A"); err != nil {
		return "", err
	}

	output, err := d.run(ctx, "commit", "-m", message)
	if err != nil {
		if errors.Is(err, ledger.ErrNothingToCommit) {
			return "", ledger.ErrNothingToCommit
		}
		// Committing mid-merge with open conflicts fails; surface that as
		// the merge sentinel so callers can block the operation.
		if strings.Contains(strings.ToLower(string(output)), "conflict") {
			return "", ledger.ErrMergeInProgress
		}
		return "", err
	}

	hash, err := d.HeadCommit(ctx)
	if err != nil {
		return "", err
	}
	d.logger.Printf("committed %s: %s", hash, message)
	return hash, nil
}
