package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show branch, sync state, and pending changes per collection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeFn, err := openManager()
		if err != nil {
			return err
		}
		defer closeFn()

		report, err := m.Status(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Print(ui.Status(report))
		return nil
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit [collection...]",
	Short: "Commit live-store changes to the ledger",
	Long: `Stage changed documents from the live store into the ledger and
commit them. With collection arguments, only those collections are
committed; the rest stay pending.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeFn, err := openManager()
		if err != nil {
			return err
		}
		defer closeFn()

		message, _ := cmd.Flags().GetString("message")
		return emit(m.Commit(cmd.Context(), message, args))
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Rebuild the live store from the current ledger head",
	Long: `Reconcile the live store with the ledger head. Collections with
uncommitted local changes are left alone unless --force is given, in
which case the ledger version wins and local edits are discarded.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeFn, err := openManager()
		if err != nil {
			return err
		}
		defer closeFn()

		force, _ := cmd.Flags().GetBool("force")
		return emit(m.FullSync(cmd.Context(), force))
	},
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show commit history, or the sync operation audit with --operations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeFn, err := openManager()
		if err != nil {
			return err
		}
		defer closeFn()
		ctx := cmd.Context()

		n, _ := cmd.Flags().GetInt("limit")
		if ops, _ := cmd.Flags().GetBool("operations"); ops {
			rows, err := m.Operations(ctx, n)
			if err != nil {
				return err
			}
			fmt.Print(ui.Operations(rows))
			return nil
		}

		commits, err := m.Log(ctx, n)
		if err != nil {
			return err
		}
		fmt.Print(ui.Commits(commits))
		return nil
	},
}

func init() {
	commitCmd.Flags().StringP("message", "m", "", "commit message (required)")
	_ = commitCmd.MarkFlagRequired("message")
	syncCmd.Flags().Bool("force", false, "overwrite local changes with the ledger version")
	logCmd.Flags().IntP("limit", "n", 20, "number of entries to show")
	logCmd.Flags().Bool("operations", false, "show the sync operation audit instead of commits")
}
