package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/syncer"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ui"
)

var branchCmd = &cobra.Command{
	Use:   "branch [name]",
	Short: "List, create, delete, or rename branches",
	Long: `With no arguments, list branches. With a name, create a branch at
the current head (or at --base). Use --delete to remove a branch and
--rename to give the named branch a new name.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeFn, err := openManager()
		if err != nil {
			return err
		}
		defer closeFn()
		ctx := cmd.Context()

		if len(args) == 0 {
			branches, err := m.Branches(ctx)
			if err != nil {
				return err
			}
			fmt.Print(ui.Branches(branches))
			return nil
		}

		name := args[0]
		if del, _ := cmd.Flags().GetBool("delete"); del {
			return emit(m.DeleteBranch(ctx, name))
		}
		if newName, _ := cmd.Flags().GetString("rename"); newName != "" {
			return emit(m.RenameBranch(ctx, name, newName))
		}
		base, _ := cmd.Flags().GetString("base")
		return emit(m.CreateBranch(ctx, name, base))
	},
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout <branch>",
	Short: "Switch branches and rebuild the live store",
	Long: `Switch the ledger to another branch and rebuild the live store from
its head snapshot. Uncommitted live-store changes are handled per
--policy:

  abort         refuse to switch (default)
  commit_first  auto-commit pending changes, then switch
  reset_first   discard pending changes, then switch
  carry         switch and re-apply the pending changes on the new branch`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeFn, err := openManager()
		if err != nil {
			return err
		}
		defer closeFn()

		create, _ := cmd.Flags().GetBool("create")
		policy, _ := cmd.Flags().GetString("policy")
		if policy == "" {
			policy = viper.GetString("checkout_policy")
		}
		return emit(m.Checkout(cmd.Context(), args[0], create, syncer.CheckoutPolicy(policy)))
	},
}

func init() {
	branchCmd.Flags().BoolP("delete", "d", false, "delete the named branch")
	branchCmd.Flags().StringP("rename", "m", "", "rename the named branch to this")
	branchCmd.Flags().String("base", "", "revision to branch from (default current head)")
	checkoutCmd.Flags().BoolP("create", "b", false, "create the branch first")
	checkoutCmd.Flags().String("policy", "", "uncommitted-change policy: abort, commit_first, reset_first, carry")
}
