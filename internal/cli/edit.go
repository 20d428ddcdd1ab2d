package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/songsync-app/songsync/internal/library"
	"github.com/songsync-app/songsync/internal/models"
	"github.com/spf13/cobra"
)

var editCmd = &cobra.Command{
	Use:   "edit <type> [id]",
	Short: "Create or modify an entity's fields",
	Long: `Set fields on an entity with repeated --set name=value flags. Values
parse as JSON when possible (numbers, booleans) and fall back to plain
strings. Without an id a new entity is created.`,
	Args: cobra.RangeArgs(1, 2),
	Run:  runEdit,
}

var editFields []string

func init() {
	editCmd.Flags().StringArrayVar(&editFields, "set", nil, "Field to set, as name=value (repeatable)")
}

func runEdit(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	entityType := models.EntityType(args[0])
	if !entityType.Valid() {
		exitError("unknown entity type %q (song, set, membership)", args[0])
	}
	if len(editFields) == 0 {
		exitError("nothing to change (use --set name=value)")
	}

	updates, err := parseFieldFlags(editFields)
	if err != nil {
		exitError("%v", err)
	}

	if len(args) == 1 {
		id, err := c.Library.CreateEntity(entityType, updates)
		if err != nil {
			exitError("failed to create %s: %v", entityType, err)
		}
		fmt.Printf("Created %s %s\n", entityType, shortID(id))
		return
	}

	entityID := args[1]
	fields, err := c.Library.ReadEntity(entityType, entityID)
	if errors.Is(err, library.ErrNotFound) {
		exitError("%s %s not found", entityType, entityID)
	}
	if err != nil {
		exitError("failed to read %s: %v", entityType, err)
	}

	merged := fields.Clone()
	if merged == nil {
		merged = models.FieldMap{}
	}
	for name, value := range updates {
		merged[name] = value
	}

	if err := c.Library.WriteEntity(entityType, entityID, merged); err != nil {
		exitError("failed to write %s: %v", entityType, err)
	}
	fmt.Printf("Updated %s %s (%d field(s))\n", entityType, shortID(entityID), len(updates))
}

// parseFieldFlags turns name=value pairs into a field map. Values that parse
// as JSON keep their JSON type.
func parseFieldFlags(pairs []string) (models.FieldMap, error) {
	fields := models.FieldMap{}
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid field %q (expected name=value)", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		fields[name] = v
	}
	return fields, nil
}
