package cli

import (
	"context"
	"fmt"

	"github.com/songsync-app/songsync/internal/models"
	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:   "policy [never|last-write-wins|always-keep-local|always-keep-remote]",
	Short: "Show or set the auto-resolve policy",
	Long: `Without an argument, show the active auto-resolve policy. With one,
switch to it and immediately apply it to every eligible pending conflict.
Only metadata-only conflicts are ever resolved automatically; content
edits and deletions always wait for you.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runPolicy,
}

func runPolicy(cmd *cobra.Command, args []string) {
	if len(args) == 0 {
		c := initContext()
		defer c.Close()
		fmt.Printf("Auto-resolve policy: %s\n", c.Conflicts.Policy())
		return
	}

	policy := models.AutoResolvePolicy(args[0])
	if !policy.Valid() {
		exitError("unknown policy %q (never, last-write-wins, always-keep-local, always-keep-remote)", args[0])
	}

	c := initFullContext()
	defer c.Close()

	if err := c.Conflicts.SetPolicy(policy); err != nil {
		exitError("failed to set policy: %v", err)
	}
	fmt.Printf("Auto-resolve policy: %s\n", policy)

	if policy == models.PolicyNever {
		return
	}

	resolved, err := c.Coordinator.AutoResolve(context.Background())
	if err != nil {
		exitError("auto-resolve failed: %v", err)
	}
	if resolved > 0 {
		fmt.Printf("Auto-resolved %d eligible conflict(s)\n", resolved)
	}
}
