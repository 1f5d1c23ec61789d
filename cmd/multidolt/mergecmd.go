package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/merge"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/syncer"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ui"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <branch>",
	Short: "Merge another branch into the current one",
	Long: `Merge the named branch into the current branch. Conflicts that the
analyzer cannot resolve on its own roll the merge back and are listed;
supply decisions with --resolutions or walk through them with
--interactive. Use --preview to see the outcome without touching
anything.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeFn, err := openManager()
		if err != nil {
			return err
		}
		defer closeFn()
		ctx := cmd.Context()
		source := args[0]

		if preview, _ := cmd.Flags().GetBool("preview"); preview {
			p, err := m.PreviewMerge(ctx, source)
			if err != nil {
				return err
			}
			fmt.Print(ui.Preview(p))
			return nil
		}

		resolutions, err := resolutionsFromFlag(cmd)
		if err != nil {
			return err
		}

		res := m.Merge(ctx, source, resolutions)
		interactive, _ := cmd.Flags().GetBool("interactive")
		if !res.Success && res.Code == syncer.CodeUnresolvedConflicts && interactive {
			picked, err := promptResolutions(res.Conflicts)
			if err != nil {
				return err
			}
			res = m.Merge(ctx, source, append(resolutions, picked...))
		}
		return emit(res)
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset [revision]",
	Short: "Discard local changes and move the branch to a revision",
	Long: `Hard-reset the ledger to the revision (default HEAD) and force-sync
the live store from it. All uncommitted live-store changes are lost,
so the command asks for confirmation unless --yes is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeFn, err := openManager()
		if err != nil {
			return err
		}
		defer closeFn()

		revision := "HEAD"
		if len(args) > 0 {
			revision = args[0]
		}

		confirmed, _ := cmd.Flags().GetBool("yes")
		if !confirmed {
			if err := confirmReset(revision, &confirmed); err != nil {
				return err
			}
			if !confirmed {
				fmt.Printf("%s reset cancelled\n", ui.RenderDim("·"))
				return nil
			}
		}
		return emit(m.Reset(cmd.Context(), revision, confirmed))
	},
}

func confirmReset(revision string, confirmed *bool) error {
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Reset to %s?", revision)).
			Description("Uncommitted changes in the live store will be discarded.").
			Affirmative("Reset").
			Negative("Cancel").
			Value(confirmed),
	))
	return form.Run()
}

// promptResolutions walks the user through each unresolved conflict.
func promptResolutions(conflicts []merge.Conflict) ([]merge.Resolution, error) {
	resolutions := make([]merge.Resolution, 0, len(conflicts))
	for i := range conflicts {
		c := &conflicts[i]
		if c.AutoResolvable {
			continue
		}
		fmt.Print(ui.Conflict(c))

		options := make([]huh.Option[string], len(c.Options))
		for j, o := range c.Options {
			options[j] = huh.NewOption(string(o), string(o))
		}
		choice := string(c.Suggested)
		form := huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("%s/%s", c.Collection, c.DocID)).
				Options(options...).
				Value(&choice),
		))
		if err := form.Run(); err != nil {
			return nil, err
		}

		r := merge.Resolution{Collection: c.Collection, DocID: c.DocID, Strategy: merge.Strategy(choice)}
		if r.Strategy == merge.Custom {
			content := ""
			form := huh.NewForm(huh.NewGroup(
				huh.NewText().Title("Resolved content").Value(&content),
			))
			if err := form.Run(); err != nil {
				return nil, err
			}
			r.Content = content
		}
		resolutions = append(resolutions, r)
	}
	return resolutions, nil
}

// resolutionFile is the on-disk shape accepted by --resolutions.
type resolutionFile struct {
	Resolutions []struct {
		Collection string            `yaml:"collection"`
		DocID      string            `yaml:"doc_id"`
		Strategy   string            `yaml:"strategy"`
		Content    string            `yaml:"content"`
		Metadata   map[string]string `yaml:"metadata"`
	} `yaml:"resolutions"`
}

var validStrategies = map[merge.Strategy]bool{
	merge.KeepOurs:   true,
	merge.KeepTheirs: true,
	merge.FieldMerge: true,
	merge.Custom:     true,
}

func resolutionsFromFlag(cmd *cobra.Command) ([]merge.Resolution, error) {
	path, _ := cmd.Flags().GetString("resolutions")
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read resolutions file: %w", err)
	}

	var file resolutionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	resolutions := make([]merge.Resolution, 0, len(file.Resolutions))
	for _, r := range file.Resolutions {
		strategy := merge.Strategy(r.Strategy)
		if !validStrategies[strategy] {
			return nil, fmt.Errorf("unknown strategy %q for %s/%s", r.Strategy, r.Collection, r.DocID)
		}
		resolutions = append(resolutions, merge.Resolution{
			Collection: r.Collection,
			DocID:      r.DocID,
			Strategy:   strategy,
			Content:    r.Content,
			Metadata:   r.Metadata,
		})
	}
	return resolutions, nil
}

func init() {
	mergeCmd.Flags().Bool("preview", false, "analyze the merge without performing it")
	mergeCmd.Flags().String("resolutions", "", "YAML file with conflict resolutions")
	mergeCmd.Flags().Bool("interactive", false, "prompt for each unresolved conflict")
}
