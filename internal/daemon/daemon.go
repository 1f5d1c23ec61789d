// Package daemon runs the background synchronization loop.
//
// The daemon:
//  1. Performs an initial sync of the live store from the ledger
//  2. Watches the ledger repository directory for out-of-band changes
//     (another process committing, pulling, or switching branches)
//  3. Periodically re-runs a non-forced sync, which also refreshes the
//     per-collection local-change counts
//  4. Handles graceful shutdown
//
// A non-forced sync never overwrites pending local edits, so the daemon is
// safe to run alongside interactive use of the live store.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/syncer"
)

// Config holds configuration for the daemon.
type Config struct {
	// RefreshInterval is how often to re-run a non-forced sync even
	// without filesystem events.
	RefreshInterval time.Duration

	// DebounceInterval is how long to wait before reacting to filesystem
	// events. This batches rapid updates together.
	DebounceInterval time.Duration

	// LogPath, when set, sends daemon logs to a size-rotated file instead
	// of the Logger below.
	LogPath string

	// Logger for daemon activity. Ignored when LogPath is set.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RefreshInterval:  30 * time.Second,
		DebounceInterval: 250 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon watches the ledger repository and keeps the live store in sync.
type Daemon struct {
	mgr      *syncer.Manager
	watchDir string
	config   *Config
	logger   *log.Logger

	watcher *fsnotify.Watcher

	pendingMu sync.Mutex
	pending   map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Daemon that watches watchDir (the ledger repository root)
// and drives mgr. Use Start to begin.
func New(mgr *syncer.Manager, watchDir string, config *Config) (*Daemon, error) {
	if mgr == nil {
		return nil, fmt.Errorf("sync manager cannot be nil")
	}
	if watchDir == "" {
		return nil, fmt.Errorf("watch directory cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	logger := config.Logger
	if config.LogPath != "" {
		logger = log.New(&lumberjack.Logger{
			Filename:   config.LogPath,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}, "[daemon] ", log.LstdFlags)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		mgr:      mgr,
		watchDir: watchDir,
		config:   config,
		logger:   logger,
		watcher:  watcher,
		pending:  make(map[string]time.Time),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins the daemon's operation. It blocks until ctx is cancelled or
// Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Println("starting daemon")

	if res := d.mgr.FullSync(ctx, false); !res.Success {
		return fmt.Errorf("initial sync failed: %s: %s", res.Code, res.Message)
	}

	if err := d.watcher.Add(d.watchDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", d.watchDir, err)
	}
	d.logger.Printf("watching %s", d.watchDir)

	d.wg.Add(3)
	go d.watchEvents()
	go d.drainPending()
	go d.periodicRefresh()

	select {
	case <-ctx.Done():
		d.logger.Println("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.logger.Println("stopping daemon")

	d.cancel()
	if err := d.watcher.Close(); err != nil {
		d.logger.Printf("error closing watcher: %v", err)
	}
	d.wg.Wait()

	d.logger.Println("daemon stopped")
	return nil
}

// watchEvents queues filesystem events for debounced processing.
func (d *Daemon) watchEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if ignorable(event.Name) {
				continue
			}
			d.queue(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Printf("watcher error: %v", err)
		}
	}
}

func (d *Daemon) queue(path string) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	d.pending[path] = time.Now()
}

// drainPending runs a sync once queued events have settled for a full
// debounce interval.
func (d *Daemon) drainPending() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if d.takeSettled() {
				d.sync("filesystem change")
			}
		}
	}
}

// takeSettled reports whether settled events were drained from the queue.
// Events younger than the debounce interval stay queued.
func (d *Daemon) takeSettled() bool {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	now := time.Now()
	drained := false
	for path, queuedAt := range d.pending {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		delete(d.pending, path)
		drained = true
	}
	return drained
}

// periodicRefresh re-syncs on a timer so local-change counts stay fresh
// even without filesystem events.
func (d *Daemon) periodicRefresh() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.sync("periodic refresh")
		}
	}
}

func (d *Daemon) sync(reason string) {
	res := d.mgr.FullSync(d.ctx, false)
	switch {
	case res.Success && res.Added+res.Modified+res.Deleted > 0:
		d.logger.Printf("%s: synced +%d ~%d -%d", reason, res.Added, res.Modified, res.Deleted)
	case !res.Success:
		d.logger.Printf("%s: sync failed: %s: %s", reason, res.Code, res.Message)
	}
}

// ignorable filters transient files the backing stores churn through:
// lock files, journals, and temp files from atomic renames.
func ignorable(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".tmp") || strings.HasSuffix(base, ".tmp") {
		return true
	}
	switch filepath.Ext(base) {
	case ".lock", ".journal", ".wal", ".shm":
		return true
	}
	return base == "LOCK"
}
