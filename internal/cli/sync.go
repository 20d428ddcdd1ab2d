package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/songsync-app/songsync/internal/remote"
	"github.com/songsync-app/songsync/internal/sync"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize the library with the backend",
	Long: `Run one synchronization pass: pull backend changes, push local edits,
and queue a conflict for every colliding write. With --watch, keep running
and sync whenever another device pushes a change.`,
	Run: runSync,
}

var syncWatch bool

func init() {
	syncCmd.Flags().BoolVar(&syncWatch, "watch", false, "Keep running and sync on change events")
}

func runSync(cmd *cobra.Command, args []string) {
	c := initFullContext()
	defer c.Close()

	ctx := context.Background()

	summary, err := c.Coordinator.Run(ctx)
	if errors.Is(err, sync.ErrSyncInProgress) {
		fmt.Println("Sync already in progress")
		return
	}
	if err != nil {
		exitError("sync failed: %v", err)
	}

	printSummary(summary)

	pending, err := c.Conflicts.Unresolved()
	if err == nil && len(pending) > 0 {
		yellow := color.New(color.FgYellow)
		yellow.Printf("\n%d conflict(s) need attention. Run 'songsync conflicts' to review.\n", len(pending))
	}

	if !syncWatch {
		return
	}

	watchCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("\nWatching for changes (Ctrl-C to stop)...")
	feed := remote.NewChangeFeed(c.Config.RemoteURL, c.Config.RemoteToken)
	if err := c.Coordinator.Watch(watchCtx, feed); err != nil && !errors.Is(err, context.Canceled) {
		exitError("watch failed: %v", err)
	}
}

func printSummary(s *sync.Summary) {
	fmt.Printf("Pulled %d, pushed %d", s.Pulled, s.Pushed)
	if s.NewConflicts > 0 {
		fmt.Printf(", %d new conflict(s)", s.NewConflicts)
	}
	fmt.Println()
}
