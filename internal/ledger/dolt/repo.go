package dolt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/retry"
)

// IsInitialized reports whether root contains a dolt repository.
func (d *Dolt) IsInitialized(ctx context.Context) bool {
	info, err := os.Stat(filepath.Join(d.root, ".dolt"))
	return err == nil && info.IsDir()
}

// Init creates a new repository at root with the given initial branch.
func (d *Dolt) Init(ctx context.Context, branch string) error {
	if d.IsInitialized(ctx) {
		return ledger.ErrAlreadyInitialized
	}
	if branch == "" {
		branch = "main"
	}
	if err := os.MkdirAll(d.root, 0755); err != nil {
		return fmt.Errorf("failed to create repository root: %w", err)
	}

	if _, err := d.run(ctx, "init", "-b", branch); err != nil {
		return err
	}
	if err := d.awaitReady(ctx); err != nil {
		return err
	}
	d.logger.Printf("initialized repository at %s on branch %s", d.root, branch)
	return nil
}

// awaitReady polls until the fresh repository answers a status query. A
// just-created or just-cloned repository can briefly hold the noms
// manifest lock while background table writes finish.
func (d *Dolt) awaitReady(ctx context.Context) error {
	policy := retry.Policy{
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		MaxElapsed:   10 * time.Second,
	}
	return retry.Do(ctx, policy, func(ctx context.Context) error {
		_, err := d.run(ctx, "status")
		return err
	})
}

// Clone clones the remote repository at url into root. The target directory
// must be empty.
func (d *Dolt) Clone(ctx context.Context, url string) error {
	if d.IsInitialized(ctx) {
		return ledger.ErrAlreadyInitialized
	}
	if err := os.MkdirAll(d.root, 0755); err != nil {
		return fmt.Errorf("failed to create repository root: %w", err)
	}

	// dolt clone <url> . clones into the working directory.
	if _, err := d.run(ctx, "clone", url, "."); err != nil {
		return err
	}
	if err := d.awaitReady(ctx); err != nil {
		return err
	}
	d.logger.Printf("cloned %s into %s", url, d.root)
	return nil
}

// schemaStatements creates the document tables and the sync bookkeeping
// tables. Statements are idempotent so EnsureSchema can run on every start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS collections (
		name varchar(255) NOT NULL,
		display_name varchar(255),
		description text,
		embedding_provider varchar(64),
		embedding_model varchar(128),
		chunk_size int NOT NULL DEFAULT 0,
		chunk_overlap int NOT NULL DEFAULT 0,
		document_count int NOT NULL DEFAULT 0,
		metadata json,
		PRIMARY KEY (name)
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		doc_id varchar(255) NOT NULL,
		collection varchar(255) NOT NULL,
		content longtext,
		content_hash char(64) NOT NULL,
		metadata json,
		created_at datetime(6),
		updated_at datetime(6),
		PRIMARY KEY (doc_id, collection)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_state (
		collection varchar(255) NOT NULL,
		last_sync_commit varchar(64),
		last_sync_at datetime(6),
		document_count int NOT NULL DEFAULT 0,
		chunk_count int NOT NULL DEFAULT 0,
		status varchar(32) NOT NULL,
		local_changes_count int NOT NULL DEFAULT 0,
		error_message text,
		PRIMARY KEY (collection)
	)`,
	`CREATE TABLE IF NOT EXISTS deletion_tombstones (
		doc_id varchar(255) NOT NULL,
		collection varchar(255) NOT NULL,
		content_hash char(64),
		metadata json,
		branch varchar(255),
		base_commit varchar(64),
		status varchar(32) NOT NULL,
		tracked_at datetime(6),
		PRIMARY KEY (doc_id, collection)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_operations (
		id bigint NOT NULL,
		op_type varchar(32) NOT NULL,
		branch varchar(255),
		commit_before varchar(64),
		commit_after varchar(64),
		collections json,
		added int NOT NULL DEFAULT 0,
		modified int NOT NULL DEFAULT 0,
		deleted int NOT NULL DEFAULT 0,
		status varchar(32) NOT NULL,
		error_message text,
		started_at datetime(6),
		finished_at datetime(6),
		PRIMARY KEY (id)
	)`,
}

// EnsureSchema creates the document and bookkeeping tables if they do not
// exist. Idempotent; safe to call on every process start.
func (d *Dolt) EnsureSchema(ctx context.Context) error {
	if !d.IsInitialized(ctx) {
		return ledger.ErrNotInitialized
	}
	return d.script(ctx, schemaStatements)
}
