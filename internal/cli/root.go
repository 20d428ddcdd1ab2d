// Package cli implements the command-line interface for songsync.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/songsync-app/songsync/internal/config"
	"github.com/songsync-app/songsync/internal/conflict"
	"github.com/songsync-app/songsync/internal/library"
	"github.com/songsync-app/songsync/internal/remote"
	"github.com/songsync-app/songsync/internal/store"
	"github.com/songsync-app/songsync/internal/sync"
	"github.com/spf13/cobra"
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config      *config.Config
	Store       *store.Store
	Library     *library.Library
	Conflicts   *conflict.Store
	Backend     remote.Backend
	Coordinator *sync.Coordinator
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.Library != nil {
		c.Library.Close()
	}
	if c.Store != nil {
		c.Store.Close()
	}
}

// initContext initializes config, stores, and the conflict store (no backend)
func initContext() *cmdContext {
	cfg, err := config.Load()
	if err != nil {
		exitError("%v", err)
	}

	st, err := store.New(cfg.StatePath())
	if err != nil {
		exitError("failed to open state store: %v", err)
	}
	if err := st.Initialize(); err != nil {
		st.Close()
		exitError("failed to initialize state store: %v", err)
	}

	lib, err := library.New(cfg.LibraryPath())
	if err != nil {
		st.Close()
		exitError("failed to open library: %v", err)
	}
	if err := lib.Initialize(); err != nil {
		lib.Close()
		st.Close()
		exitError("failed to initialize library: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	conflicts := conflict.New(st, cfg.Policy(), cfg.HistoryCap, logger)

	return &cmdContext{
		Config:    cfg,
		Store:     st,
		Library:   lib,
		Conflicts: conflicts,
	}
}

// initFullContext initializes everything plus the backend client and the
// sync coordinator
func initFullContext() *cmdContext {
	c := initContext()

	if c.Config.RemoteURL == "" {
		c.Close()
		exitError("no remote configured (set remote_url in .songsync/config)")
	}

	httpClient := remote.NewHTTPClient(c.Config.RemoteURL, c.Config.RemoteToken)
	c.Backend = remote.NewRetryClient(httpClient, remote.DefaultRetryConfig())

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	c.Coordinator = sync.New(c.Store, c.Library, c.Backend, c.Conflicts, c.Config.DeviceName, logger)

	return c
}

var rootCmd = &cobra.Command{
	Use:   "songsync",
	Short: "Song library synchronization",
	Long: `songsync keeps a local library of songs and sets in sync with a shared
backend across devices. When two devices edit the same entity, songsync
detects the collision, classifies it, and walks you through resolving it
(or resolves it automatically under a configured policy).`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(policyCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// shortID returns first 8 characters of an ID
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
