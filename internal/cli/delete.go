package cli

import (
	"errors"
	"fmt"

	"github.com/songsync-app/songsync/internal/library"
	"github.com/songsync-app/songsync/internal/models"
	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <type> <id>",
	Short: "Delete an entity",
	Long: `Mark an entity deleted. The deletion propagates to other devices on the
next sync pass; a colliding edit on another device surfaces as a conflict.`,
	Args: cobra.ExactArgs(2),
	Run:  runDelete,
}

func runDelete(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	entityType := models.EntityType(args[0])
	if !entityType.Valid() {
		exitError("unknown entity type %q (song, set, membership)", args[0])
	}

	err := c.Library.DeleteEntity(entityType, args[1])
	if errors.Is(err, library.ErrNotFound) {
		exitError("%s %s not found", entityType, args[1])
	}
	if err != nil {
		exitError("failed to delete %s: %v", entityType, err)
	}
	fmt.Printf("Deleted %s %s (syncs on the next pass)\n", entityType, shortID(args[1]))
}
