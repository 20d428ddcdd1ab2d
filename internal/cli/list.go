package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/songsync-app/songsync/internal/models"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list [song|set|membership]",
	Short: "List entities in the local library",
	Args:  cobra.MaximumNArgs(1),
	Run:   runList,
}

func runList(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	entityType := models.EntitySong
	if len(args) > 0 {
		entityType = models.EntityType(args[0])
		if !entityType.Valid() {
			exitError("unknown entity type %q (song, set, membership)", args[0])
		}
	}

	entities, err := c.Library.ListEntities(entityType)
	if err != nil {
		exitError("failed to list entities: %v", err)
	}

	if len(entities) == 0 {
		fmt.Printf("No %ss in the library\n", entityType)
		return
	}

	yellow := color.New(color.FgYellow)
	for _, e := range entities {
		yellow.Printf("%s ", shortID(e.EntityID))
		if title, ok := e.Fields["title"].(string); ok {
			fmt.Printf("%s", title)
		} else if name, ok := e.Fields["name"].(string); ok {
			fmt.Printf("%s", name)
		}
		if e.Dirty {
			color.New(color.FgCyan).Print(" (modified)")
		}
		fmt.Println()
	}
}
