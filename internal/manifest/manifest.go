// Package manifest reads and writes the on-disk manifest that records
// which remote, branch, and commit a repository was bootstrapped from.
//
// The manifest lives at .multidolt/manifest.toml under the repository
// root. It exists so a fresh clone (or a crashed process) can rediscover
// its upstream without consulting ambient state like environment variables
// or the process working directory.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Dir is the repository-local directory holding sync metadata.
const Dir = ".multidolt"

// FileName is the manifest file name inside Dir.
const FileName = "manifest.toml"

// ErrNotFound indicates no manifest exists at the given root.
var ErrNotFound = errors.New("manifest not found")

// Manifest records the upstream coordinates of a repository.
type Manifest struct {
	// RemoteURL is the authoritative upstream, empty for local-only repos.
	RemoteURL string `toml:"remote_url"`

	// Branch is the branch checked out at bootstrap time.
	Branch string `toml:"branch"`

	// Commit is the head commit recorded at the last manifest update.
	Commit string `toml:"commit"`

	// UpdatedAt is when the manifest was last written.
	UpdatedAt time.Time `toml:"updated_at"`
}

// Path returns the manifest path for a repository root.
func Path(root string) string {
	return filepath.Join(root, Dir, FileName)
}

// Load reads the manifest for a repository root.
// Returns ErrNotFound if the file does not exist.
func Load(root string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(Path(root), &m); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return &m, nil
}

// Save writes the manifest atomically (write temp file, rename) so a crash
// mid-write never leaves a truncated manifest behind.
func Save(root string, m *Manifest) error {
	dir := filepath.Join(root, Dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	m.UpdatedAt = time.Now().UTC()

	tmp, err := os.CreateTemp(dir, "manifest-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp manifest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(m); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp manifest: %w", err)
	}

	if err := os.Rename(tmp.Name(), Path(root)); err != nil {
		return fmt.Errorf("failed to replace manifest: %w", err)
	}

	return nil
}
