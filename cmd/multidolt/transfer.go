package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/export"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/store"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/store/sqlite"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ui"
)

// openStore opens just the live store, for commands that bypass history.
func openStore() (store.Store, error) {
	root := repoRoot()
	loadConfig(root)
	return sqlite.Open(storePath(root))
}

var exportCmd = &cobra.Command{
	Use:   "export <collection>",
	Short: "Export a collection from the live store as JSONL",
	Long: `Write every document of the collection to stdout (or --output) as
JSONL, one document per line, exactly as the live store currently holds
them including uncommitted changes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()
		ctx := cmd.Context()

		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			_, err := export.Export(ctx, s, args[0], os.Stdout)
			return err
		}
		n, err := export.ExportFile(ctx, s, args[0], output)
		if err != nil {
			return err
		}
		fmt.Printf("%s exported %d documents to %s\n", ui.RenderPass("✓"), n, output)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import JSONL documents into the live store",
	Long: `Read JSONL documents and write them into the live store. Imported
documents become uncommitted local changes; run commit to record them
in the ledger. With --replace, documents not mentioned in the file are
deleted from the target collections.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		collection, _ := cmd.Flags().GetString("collection")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		replace, _ := cmd.Flags().GetBool("replace")

		result, err := export.ImportFile(cmd.Context(), s, args[0], export.ImportOptions{
			Collection: collection,
			DryRun:     dryRun,
			Replace:    replace,
		})
		if err != nil {
			return err
		}

		for _, msg := range result.Errors {
			fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarn("⚠"), msg)
		}
		verb := "imported"
		if dryRun {
			verb = "would import"
		}
		fmt.Printf("%s %s %d documents", ui.RenderPass("✓"), verb, result.Imported)
		if result.Deleted > 0 {
			fmt.Printf(", deleted %d", result.Deleted)
		}
		fmt.Println()
		if !dryRun && result.Imported > 0 {
			fmt.Printf("  %s\n", ui.RenderDim("changes are local until committed"))
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "write to this file instead of stdout")
	importCmd.Flags().StringP("collection", "c", "", "target collection (overrides per-line collections)")
	importCmd.Flags().Bool("dry-run", false, "parse and count without writing")
	importCmd.Flags().Bool("replace", false, "delete documents the file does not mention")
}
