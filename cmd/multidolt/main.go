// Command multidolt is the version-control CLI for a live document store.
//
// It keeps a flat document store (collections of documents with content and
// metadata, no native history) under git-like version control by pairing it
// with a versioned relational ledger. Branch, commit, merge, push, pull,
// and reset all mutate the ledger first; the live store is then rebuilt
// from the resulting snapshot.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger/dolt"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/store/sqlite"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/syncer"
	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ui"
)

const metaDir = ".multidolt"

var rootCmd = &cobra.Command{
	Use:   "multidolt",
	Short: "Git-like version control for a live document store",
	Long: `multidolt pairs a flat document store with a versioned ledger so
collections of documents get branches, commits, merges, and remotes.

The ledger is the source of truth. Every history operation commits,
merges, or resets the ledger first and then rebuilds the live store
from the resulting snapshot, so the two can never silently diverge.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("root", ".", "repository root directory")
	rootCmd.PersistentFlags().String("dolt-bin", "dolt", "dolt executable to use")
	rootCmd.PersistentFlags().Bool("verbose", false, "log subprocess and sync activity")

	_ = viper.BindPFlag("root", rootCmd.PersistentFlags().Lookup("root"))
	_ = viper.BindPFlag("dolt_bin", rootCmd.PersistentFlags().Lookup("dolt-bin"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.SetDefault("checkout_policy", "abort")
	viper.SetEnvPrefix("MULTIDOLT")
	viper.AutomaticEnv()

	rootCmd.AddCommand(initCmd, cloneCmd, statusCmd, branchCmd, checkoutCmd,
		commitCmd, syncCmd, logCmd, mergeCmd, resetCmd,
		remoteCmd, pushCmd, pullCmd, exportCmd, importCmd, daemonCmd)
}

// repoRoot resolves the repository root from flags, config, or environment.
func repoRoot() string {
	root := viper.GetString("root")
	if abs, err := filepath.Abs(root); err == nil {
		return abs
	}
	return root
}

func ledgerDir(root string) string {
	return filepath.Join(root, metaDir, "ledger")
}

func storePath(root string) string {
	return filepath.Join(root, metaDir, "store.db")
}

// loadConfig reads the optional repository config file. Missing files are
// fine; everything has defaults.
func loadConfig(root string) {
	viper.SetConfigFile(filepath.Join(root, metaDir, "config.toml"))
	viper.SetConfigType("toml")
	_ = viper.ReadInConfig()
}

// openManager wires the dolt ledger and the sqlite store into a sync
// manager. The returned closer must run before exit to checkpoint the
// store's WAL.
func openManager() (*syncer.Manager, func(), error) {
	root := repoRoot()
	loadConfig(root)

	var logger *log.Logger
	if viper.GetBool("verbose") {
		logger = log.New(os.Stderr, "[multidolt] ", log.LstdFlags)
	} else {
		logger = log.New(&lumberjack.Logger{
			Filename:   filepath.Join(root, metaDir, "multidolt.log"),
			MaxSize:    10,
			MaxBackups: 3,
			Compress:   true,
		}, "[multidolt] ", log.LstdFlags)
	}

	if err := os.MkdirAll(ledgerDir(root), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", ledgerDir(root), err)
	}

	l := dolt.New(ledgerDir(root),
		dolt.WithLogger(logger),
		dolt.WithBinary(viper.GetString("dolt_bin")))

	db, err := sqlite.Open(storePath(root))
	if err != nil {
		return nil, nil, err
	}

	m := syncer.New(l, db, syncer.DefaultConfig(), logger)
	return m, func() { _ = db.Close() }, nil
}

// errReported marks failures already rendered to the user.
var errReported = errors.New("reported")

// emit prints an operation result and converts failures into exit errors.
func emit(res *syncer.Result) error {
	fmt.Print(ui.Result(res))
	if !res.Success {
		return errReported
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("✗"), err)
		}
		os.Exit(1)
	}
}
