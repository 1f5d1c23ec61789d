package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ui"
)

var remoteCmd = &cobra.Command{
	Use:   "remote [name url]",
	Short: "List remotes, or add one by name and URL",
	Args:  cobra.RangeArgs(0, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeFn, err := openManager()
		if err != nil {
			return err
		}
		defer closeFn()
		ctx := cmd.Context()

		if len(args) == 0 {
			remotes, err := m.Remotes(ctx)
			if err != nil {
				return err
			}
			for _, r := range remotes {
				fmt.Printf("%s\t%s\n", ui.RenderAccent(r.Name), ui.RenderDim(r.URL))
			}
			return nil
		}
		if len(args) != 2 {
			return fmt.Errorf("remote add needs a name and a URL")
		}
		return emit(m.AddRemote(ctx, args[0], args[1]))
	},
}

var pushCmd = &cobra.Command{
	Use:   "push [remote] [branch]",
	Short: "Push the current branch to a remote",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeFn, err := openManager()
		if err != nil {
			return err
		}
		defer closeFn()

		remote, branch := remoteArgs(args)
		return emit(m.Push(cmd.Context(), remote, branch))
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull [remote] [branch]",
	Short: "Fetch and merge a remote branch, then resync the live store",
	Long: `Fetch the remote branch and merge it into the current branch. A
conflicted pull behaves like a conflicted merge: it is rolled back and
the conflicts are listed so they can be resolved with --resolutions.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeFn, err := openManager()
		if err != nil {
			return err
		}
		defer closeFn()

		resolutions, err := resolutionsFromFlag(cmd)
		if err != nil {
			return err
		}
		remote, branch := remoteArgs(args)
		return emit(m.Pull(cmd.Context(), remote, branch, resolutions))
	},
}

func remoteArgs(args []string) (remote, branch string) {
	remote = "origin"
	if len(args) > 0 {
		remote = args[0]
	}
	if len(args) > 1 {
		branch = args[1]
	}
	return remote, branch
}

func init() {
	pullCmd.Flags().String("resolutions", "", "YAML file with conflict resolutions")
}
