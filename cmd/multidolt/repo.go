package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/daemon"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/manifest"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new versioned repository",
	Long: `Create the ledger, the live store, and the sync bookkeeping schema
under .multidolt/ in the repository root. Documents already present in
the live store survive and show up as local changes ready to commit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeFn, err := openManager()
		if err != nil {
			return err
		}
		defer closeFn()

		branch, _ := cmd.Flags().GetString("branch")
		res := m.Init(cmd.Context(), branch)
		if res.Success {
			writeManifest("", res.Branch, res.Commit)
		}
		return emit(res)
	},
}

var cloneCmd = &cobra.Command{
	Use:   "clone <url>",
	Short: "Clone a remote ledger and build the live store from it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeFn, err := openManager()
		if err != nil {
			return err
		}
		defer closeFn()

		res := m.Clone(cmd.Context(), args[0])
		if res.Success {
			writeManifest(args[0], res.Branch, res.Commit)
		}
		return emit(res)
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Watch the ledger and keep the live store in sync",
	Long: `Run in the foreground, applying ledger changes made by other
processes to the live store. Local edits in the store are never
overwritten; they stay pending until committed or reset.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeFn, err := openManager()
		if err != nil {
			return err
		}
		defer closeFn()

		cfg := daemon.DefaultConfig()
		if interval, _ := cmd.Flags().GetDuration("interval"); interval > 0 {
			cfg.RefreshInterval = interval
		}
		if logPath, _ := cmd.Flags().GetString("log-file"); logPath != "" {
			cfg.LogPath = logPath
		}

		d, err := daemon.New(m, ledgerDir(repoRoot()), cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("%s watching %s\n", ui.RenderPass("✓"), ledgerDir(repoRoot()))
		return d.Start(ctx)
	},
}

// writeManifest records the repository's bootstrap facts. Failures are not
// fatal; the manifest is advisory.
func writeManifest(remoteURL, branch, commit string) {
	root := repoRoot()
	m, err := manifest.Load(root)
	if err != nil {
		m = &manifest.Manifest{}
	}
	if remoteURL != "" {
		m.RemoteURL = remoteURL
	}
	m.Branch = branch
	m.Commit = commit
	m.UpdatedAt = time.Now().UTC()
	if err := manifest.Save(root, m); err != nil && viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "warning: could not write manifest: %v\n", err)
	}
}

func init() {
	initCmd.Flags().String("branch", "main", "initial branch name")
	daemonCmd.Flags().Duration("interval", 0, "periodic refresh interval (default 30s)")
	daemonCmd.Flags().String("log-file", "", "rotating log file path (default stderr)")
}
