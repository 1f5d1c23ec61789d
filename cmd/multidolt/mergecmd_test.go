package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/merge"
)

func cmdWithResolutionsFlag(t *testing.T, path string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.Flags().String("resolutions", "", "")
	if path != "" {
		if err := cmd.Flags().Set("resolutions", path); err != nil {
			t.Fatal(err)
		}
	}
	return cmd
}

func writeResolutions(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resolutions.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolutionsFromFlagParsesFile(t *testing.T) {
	path := writeResolutions(t, `
resolutions:
  - collection: notes
    doc_id: doc1
    strategy: keep_theirs
  - collection: notes
    doc_id: doc2
    strategy: custom
    content: resolved by hand
    metadata:
      reviewed: "yes"
`)

	got, err := resolutionsFromFlag(cmdWithResolutionsFlag(t, path))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("parsed %d resolutions, want 2", len(got))
	}
	if got[0].Strategy != merge.KeepTheirs || got[0].DocID != "doc1" {
		t.Errorf("first resolution = %+v", got[0])
	}
	if got[1].Strategy != merge.Custom || got[1].Content != "resolved by hand" {
		t.Errorf("second resolution = %+v", got[1])
	}
	if got[1].Metadata["reviewed"] != "yes" {
		t.Errorf("metadata not carried: %+v", got[1].Metadata)
	}
}

func TestResolutionsFromFlagRejectsUnknownStrategy(t *testing.T) {
	path := writeResolutions(t, `
resolutions:
  - collection: notes
    doc_id: doc1
    strategy: take_mine
`)
	if _, err := resolutionsFromFlag(cmdWithResolutionsFlag(t, path)); err == nil {
		t.Error("unknown strategy accepted")
	}
}

func TestResolutionsFromFlagMissingFile(t *testing.T) {
	if _, err := resolutionsFromFlag(cmdWithResolutionsFlag(t, "/nonexistent.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestResolutionsFromFlagUnsetIsNil(t *testing.T) {
	got, err := resolutionsFromFlag(cmdWithResolutionsFlag(t, ""))
	if err != nil || got != nil {
		t.Errorf("unset flag: got %v, %v", got, err)
	}
}

func TestRemoteArgs(t *testing.T) {
	tests := []struct {
		args               []string
		wantRemote, wantBr string
	}{
		{nil, "origin", ""},
		{[]string{"upstream"}, "upstream", ""},
		{[]string{"upstream", "feature"}, "upstream", "feature"},
	}
	for _, tt := range tests {
		remote, branch := remoteArgs(tt.args)
		if remote != tt.wantRemote || branch != tt.wantBr {
			t.Errorf("remoteArgs(%v) = %q, %q", tt.args, remote, branch)
		}
	}
}
