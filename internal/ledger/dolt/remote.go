package dolt

import (
	"context"
	"strings"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
)

// Remotes returns the configured remotes.
func (d *Dolt) Remotes(ctx context.Context) ([]ledger.Remote, error) {
	output, err := d.run(ctx, "remote", "-v")
	if err != nil {
		return nil, err
	}

	var out []ledger.Remote
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		out = append(out, ledger.Remote{Name: fields[0], URL: fields[1]})
	}
	return out, nil
}

// AddRemote configures a named remote.
func (d *Dolt) AddRemote(ctx context.Context, name, url string) error {
	_, err := d.run(ctx, "remote", "add", name, url)
	return err
}

// Fetch fetches refs from the remote. Empty remote means origin.
func (d *Dolt) Fetch(ctx context.Context, remote string) error {
	if remote == "" {
		remote = "origin"
	}
	_, err := d.run(ctx, "fetch", remote)
	return err
}

// Pull fetches and merges the remote branch. Conflicts are reported through
// the outcome like Merge; the repository is left mid-merge.
func (d *Dolt) Pull(ctx context.Context, remote, branch string) (*ledger.MergeOutcome, error) {
	if remote == "" {
		remote = "origin"
	}
	if branch == "" {
		current, err := d.CurrentBranch(ctx)
		if err != nil {
			return nil, err
		}
		branch = current
	}

	if err := d.Fetch(ctx, remote); err != nil {
		return nil, err
	}
	return d.Merge(ctx, remote+"/"+branch)
}

// Push pushes the branch to the remote. Returns ErrPushRejected when the
// remote holds commits the local branch lacks.
func (d *Dolt) Push(ctx context.Context, remote, branch string) error {
	if remote == "" {
		remote = "origin"
	}
	if branch == "" {
		current, err := d.CurrentBranch(ctx)
		if err != nil {
			return err
		}
		branch = current
	}

	if _, err := d.run(ctx, "push", remote, branch); err != nil {
		return err
	}
	d.logger.Printf("pushed %s to %s", branch, remote)
	return nil
}
