package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show resolved conflict history",
	Long:  `Display resolved conflicts, most recent first. The history is bounded; the oldest entries are pruned as new resolutions arrive.`,
	Run:   runHistory,
}

var (
	historyLimit int
	historyClear bool
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "n", "n", 0, "Limit the number of entries to show")
	historyCmd.Flags().BoolVar(&historyClear, "clear", false, "Discard the resolved history")
}

func runHistory(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	if historyClear {
		if err := c.Conflicts.ClearHistory(); err != nil {
			exitError("failed to clear history: %v", err)
		}
		fmt.Println("History cleared")
		return
	}

	resolved, err := c.Conflicts.History(historyLimit)
	if err != nil {
		exitError("failed to read history: %v", err)
	}

	if len(resolved) == 0 {
		fmt.Println("No resolved conflicts yet")
		return
	}

	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	for _, cf := range resolved {
		yellow.Printf("%s ", cf.ShortID())
		fmt.Printf("%s/%s  %s -> %s", cf.EntityType, shortID(cf.EntityID), cf.Kind, *cf.Resolution)
		if cf.AutoResolved {
			cyan.Print("  (auto)")
		}
		if cf.ResolvedAt != nil {
			fmt.Printf("  %s", cf.ResolvedAt.Format("Jan 2 15:04:05"))
		}
		fmt.Println()
	}
}
