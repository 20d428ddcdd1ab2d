package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/songsync-app/songsync/internal/sync"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the library sync status",
	Long:  `Show unpushed local edits, pending conflicts, and the last sync result.`,
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	fmt.Printf("Device: %s\n", c.Config.DeviceName)
	if c.Config.RemoteURL != "" {
		fmt.Printf("Remote: %s\n", c.Config.RemoteURL)
	} else {
		fmt.Println("Remote: (not configured)")
	}
	fmt.Printf("Policy: %s\n", c.Conflicts.Policy())

	if at, lastStatus := lastSync(c); !at.IsZero() {
		fmt.Printf("Last sync: %s (%s)\n", at.Format("Mon Jan 2 15:04:05 2006"), lastStatus)
	} else {
		fmt.Println("Last sync: never")
	}

	dirty, err := c.Library.ListDirty()
	if err != nil {
		exitError("failed to list local edits: %v", err)
	}

	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	if len(dirty) > 0 {
		fmt.Println("\nUnpushed local edits:")
		for _, e := range dirty {
			verb := "modified"
			if e.Deleted {
				verb = " deleted"
			}
			yellow.Printf("        %s: %s/%s\n", verb, e.EntityType, shortID(e.EntityID))
		}
	}

	pending, err := c.Conflicts.Unresolved()
	if err != nil {
		exitError("failed to list conflicts: %v", err)
	}

	if len(pending) > 0 {
		fmt.Println("\nPending conflicts:")
		for _, cf := range pending {
			red.Printf("        %s  %s/%s  [%s]\n", cf.ShortID(), cf.EntityType, shortID(cf.EntityID), cf.Kind)
		}
		fmt.Println("\nRun 'songsync conflicts' for details.")
		return
	}

	if len(dirty) == 0 {
		fmt.Println("\nNothing to sync, library clean")
	} else {
		fmt.Println("\nRun 'songsync sync' to push changes.")
	}
}

func lastSync(c *cmdContext) (time.Time, string) {
	return sync.LastSync(c.Store)
}
