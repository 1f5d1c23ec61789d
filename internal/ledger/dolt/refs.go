package dolt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
)

// CurrentBranch returns the checked-out branch name.
func (d *Dolt) CurrentBranch(ctx context.Context) (string, error) {
	rows, err := d.query(ctx, "SELECT active_branch() AS branch")
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", ledger.ErrNotInitialized
	}
	return getString(rows[0], "branch"), nil
}

// HeadCommit returns the commit hash the checkout points at.
func (d *Dolt) HeadCommit(ctx context.Context) (string, error) {
	rows, err := d.query(ctx, "SELECT dolt_hashof('HEAD') AS hash")
	if err != nil {
		if strings.Contains(err.Error(), "invalid ref") ||
			strings.Contains(err.Error(), "branch not found") {
			return "", ledger.ErrEmptyRepository
		}
		return "", err
	}
	if len(rows) == 0 || getString(rows[0], "hash") == "" {
		return "", ledger.ErrEmptyRepository
	}
	return getString(rows[0], "hash"), nil
}

// Branches returns all local and remote-tracking branches.
func (d *Dolt) Branches(ctx context.Context) ([]ledger.Branch, error) {
	current, err := d.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := d.query(ctx, "SELECT name, hash FROM dolt_branches ORDER BY name")
	if err != nil {
		return nil, err
	}

	var out []ledger.Branch
	for _, row := range rows {
		name := getString(row, "name")
		out = append(out, ledger.Branch{
			Name:      name,
			Head:      getString(row, "hash"),
			IsCurrent: name == current,
		})
	}

	remoteRows, err := d.query(ctx, "SELECT name, hash FROM dolt_remote_branches ORDER BY name")
	if err != nil {
		// A repository with no remotes has no remote branch table rows;
		// treat query failure on the system table as empty.
		return out, nil
	}
	for _, row := range remoteRows {
		// Names come back as remotes/<remote>/<branch>.
		full := strings.TrimPrefix(getString(row, "name"), "remotes/")
		remote, name, ok := strings.Cut(full, "/")
		if !ok {
			continue
		}
		out = append(out, ledger.Branch{
			Name:   name,
			Head:   getString(row, "hash"),
			Remote: remote,
		})
	}

	return out, nil
}

// BranchExists reports whether the named local branch exists.
func (d *Dolt) BranchExists(ctx context.Context, name string) bool {
	rows, err := d.query(ctx,
		fmt.Sprintf("SELECT name FROM dolt_branches WHERE name = %s", quote(name)))
	return err == nil && len(rows) > 0
}

// CreateBranch creates a branch at base. Empty base means the current head.
func (d *Dolt) CreateBranch(ctx context.Context, name, base string) error {
	if d.BranchExists(ctx, name) {
		return ledger.ErrBranchExists
	}

	args := []string{"branch", name}
	if base != "" {
		args = append(args, base)
	}
	_, err := d.run(ctx, args...)
	return err
}

// DeleteBranch deletes the named branch.
func (d *Dolt) DeleteBranch(ctx context.Context, name string) error {
	if !d.BranchExists(ctx, name) {
		return ledger.ErrBranchNotFound
	}
	_, err := d.run(ctx, "branch", "-D", name)
	return err
}

// RenameBranch renames a branch.
func (d *Dolt) RenameBranch(ctx context.Context, oldName, newName string) error {
	if !d.BranchExists(ctx, oldName) {
		return ledger.ErrBranchNotFound
	}
	if d.BranchExists(ctx, newName) {
		return ledger.ErrBranchExists
	}
	_, err := d.run(ctx, "branch", "-m", oldName, newName)
	return err
}

// Checkout switches the working set to the named branch or commit.
func (d *Dolt) Checkout(ctx context.Context, target string, create bool) error {
	args := []string{"checkout"}
	if create {
		args = append(args, "-b")
	}
	args = append(args, target)
	_, err := d.run(ctx, args...)
	return err
}

// ResetHard moves the current branch and working set to revision,
// discarding uncommitted ledger changes.
func (d *Dolt) ResetHard(ctx context.Context, revision string) error {
	args := []string{"reset", "--hard"}
	if revision != "" {
		args = append(args, revision)
	}
	_, err := d.run(ctx, args...)
	return err
}

// MergeBase returns the nearest common ancestor commit of two revisions.
func (d *Dolt) MergeBase(ctx context.Context, a, b string) (string, error) {
	rows, err := d.query(ctx, fmt.Sprintf(
		"SELECT dolt_merge_base(%s, %s) AS base", quote(a), quote(b)))
	if err != nil {
		return "", err
	}
	if len(rows) == 0 || getString(rows[0], "base") == "" {
		return "", fmt.Errorf("no common ancestor between %s and %s", a, b)
	}
	return getString(rows[0], "base"), nil
}

// Log returns up to n commits reachable from head, newest first.
func (d *Dolt) Log(ctx context.Context, n int) ([]ledger.Commit, error) {
	stmt := "SELECT commit_hash, committer, message, date FROM dolt_log ORDER BY date DESC"
	if n > 0 {
		stmt = fmt.Sprintf("%s LIMIT %d", stmt, n)
	}

	rows, err := d.query(ctx, stmt)
	if err != nil {
		return nil, err
	}

	out := make([]ledger.Commit, 0, len(rows))
	for _, row := range rows {
		out = append(out, ledger.Commit{
			Hash:      getString(row, "commit_hash"),
			Author:    getString(row, "committer"),
			Message:   getString(row, "message"),
			Timestamp: getTime(row, "date"),
		})
	}
	return out, nil
}

// Status returns the structured repository status, assembled from the
// dolt_status and dolt_conflicts system tables.
func (d *Dolt) Status(ctx context.Context) (*ledger.Status, error) {
	branch, err := d.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}

	head, err := d.HeadCommit(ctx)
	if err != nil && !errors.Is(err, ledger.ErrEmptyRepository) {
		return nil, err
	}

	statusRows, err := d.query(ctx, "SELECT table_name, status FROM dolt_status")
	if err != nil {
		return nil, err
	}

	conflictTables, err := d.ConflictTables(ctx)
	if err != nil {
		return nil, err
	}

	merging := false
	for _, row := range statusRows {
		if getString(row, "status") == "merge conflict" {
			merging = true
		}
	}
	if len(conflictTables) > 0 {
		merging = true
	}

	return &ledger.Status{
		Branch:         branch,
		Head:           head,
		Clean:          len(statusRows) == 0 && len(conflictTables) == 0,
		Merging:        merging,
		ConflictTables: conflictTables,
	}, nil
}
