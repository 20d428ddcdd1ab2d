package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show conflict resolution statistics",
	Run:   runStats,
}

var statsReset bool

func init() {
	statsCmd.Flags().BoolVar(&statsReset, "reset", false, "Zero the counters")
}

func runStats(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	if statsReset {
		if err := c.Conflicts.ResetStats(); err != nil {
			exitError("failed to reset statistics: %v", err)
		}
		fmt.Println("Statistics reset")
		return
	}

	stats, err := c.Conflicts.Stats()
	if err != nil {
		exitError("failed to read statistics: %v", err)
	}

	fmt.Printf("Detected:       %d\n", stats.TotalDetected)
	fmt.Printf("Auto-resolved:  %d\n", stats.TotalAutoResolved)
	fmt.Printf("User-resolved:  %d\n", stats.TotalUserResolved)
	fmt.Printf("Pending:        %d\n", stats.Pending())
}
