package cli

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/songsync-app/songsync/internal/models"
	"github.com/spf13/cobra"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts [id]",
	Short: "Show pending conflicts",
	Long: `List unresolved conflicts ordered by priority. With an id, show both
sides of that conflict field by field.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runConflicts,
}

func runConflicts(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	if len(args) == 1 {
		showConflict(c, args[0])
		return
	}

	pending, err := c.Conflicts.Unresolved()
	if err != nil {
		exitError("failed to list conflicts: %v", err)
	}

	if len(pending) == 0 {
		fmt.Println("No pending conflicts")
		return
	}

	yellow := color.New(color.FgYellow)
	for _, cf := range pending {
		yellow.Printf("%s ", cf.ShortID())
		priorityColor(cf.Priority).Printf("[%s] ", cf.Priority)
		fmt.Printf("%s/%s  %s", cf.EntityType, shortID(cf.EntityID), cf.Kind)
		if cf.Retries > 0 {
			color.New(color.FgRed).Printf("  (%d failed attempt(s))", cf.Retries)
		}
		fmt.Println()
	}

	fmt.Printf("\n%d conflict(s). Use 'songsync conflicts <id>' to inspect,\n", len(pending))
	fmt.Println("'songsync resolve <id> <strategy>' to resolve.")
}

func showConflict(c *cmdContext, prefix string) {
	cf := findConflict(c, prefix)

	yellow := color.New(color.FgYellow)
	yellow.Printf("conflict %s\n", cf.ID)
	fmt.Printf("Entity:   %s/%s\n", cf.EntityType, cf.EntityID)
	fmt.Printf("Kind:     %s", cf.Kind)
	priorityColor(cf.Priority).Printf("  [%s]\n", cf.Priority)
	fmt.Printf("Detected: %s\n", cf.DetectedAt.Format("Mon Jan 2 15:04:05 2006"))

	printSide(cf.Local, "Local")
	printSide(cf.Remote, "Remote")

	fmt.Println("\nResolve with: keep-local, keep-remote, keep-both, merge, or skip")
}

func printSide(v models.ConflictVersion, label string) {
	cyan := color.New(color.FgCyan)
	cyan.Printf("\n%s", label)
	if v.OriginDevice != "" {
		fmt.Printf(" (%s)", v.OriginDevice)
	}
	fmt.Printf(", captured %s:\n", v.CapturedAt.Format("Jan 2 15:04:05"))

	if v.IsDeletion {
		color.New(color.FgRed).Println("        (deleted)")
		return
	}

	changed := make(map[string]bool, len(v.ChangedFields))
	for _, name := range v.ChangedFields {
		changed[name] = true
	}

	names := make([]string, 0, len(v.Fields))
	for name := range v.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		line := fmt.Sprintf("        %s: %s", name, models.EncodeValue(v.Fields[name]))
		if changed[name] {
			color.New(color.FgYellow).Println(line + " *")
		} else {
			fmt.Println(line)
		}
	}
}

// findConflict resolves a possibly shortened conflict ID to the queued
// conflict, exiting on ambiguity.
func findConflict(c *cmdContext, prefix string) *models.SyncConflict {
	pending, err := c.Conflicts.Unresolved()
	if err != nil {
		exitError("failed to list conflicts: %v", err)
	}

	var matches []*models.SyncConflict
	for _, cf := range pending {
		if cf.ID == prefix {
			return cf
		}
		if len(prefix) >= 4 && len(prefix) < len(cf.ID) && cf.ID[:len(prefix)] == prefix {
			matches = append(matches, cf)
		}
	}

	switch len(matches) {
	case 0:
		exitError("no pending conflict matches %q", prefix)
	case 1:
		return matches[0]
	default:
		exitError("conflict id %q is ambiguous (%d matches)", prefix, len(matches))
	}
	return nil
}

func priorityColor(p models.Priority) *color.Color {
	switch p {
	case models.PriorityHigh:
		return color.New(color.FgRed)
	case models.PriorityNormal:
		return color.New(color.FgYellow)
	}
	return color.New(color.FgGreen)
}
