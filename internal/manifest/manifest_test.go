package manifest

import (
	"errors"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	root := t.TempDir()

	m := &Manifest{
		RemoteURL: "https://example.com/org/repo",
		Branch:    "main",
		Commit:    "abc123",
	}
	if err := Save(root, m); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := Load(root)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.RemoteURL != m.RemoteURL {
		t.Errorf("remote url = %q, want %q", got.RemoteURL, m.RemoteURL)
	}
	if got.Branch != "main" || got.Commit != "abc123" {
		t.Errorf("branch/commit = %q/%q, want main/abc123", got.Branch, got.Commit)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set on save")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveOverwrites(t *testing.T) {
	root := t.TempDir()

	if err := Save(root, &Manifest{Branch: "main", Commit: "c1"}); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	if err := Save(root, &Manifest{Branch: "feature", Commit: "c2"}); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	got, err := Load(root)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Branch != "feature" || got.Commit != "c2" {
		t.Errorf("manifest = %+v, want the second write", got)
	}
}
