package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/songsync-app/songsync/internal/conflict"
	"github.com/songsync-app/songsync/internal/merge"
	"github.com/songsync-app/songsync/internal/models"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <id> <keep-local|keep-remote|keep-both|merge|skip>",
	Short: "Resolve a pending conflict",
	Long: `Apply a resolution strategy to a pending conflict. 'merge' combines
non-overlapping changes from both sides and fails if the same field was
changed to different values; supply --set name=value flags to settle those
fields by hand. 'skip' defers the decision and changes nothing.`,
	Args: cobra.ExactArgs(2),
	Run:  runResolve,
}

var resolveFields []string

func init() {
	resolveCmd.Flags().StringArrayVar(&resolveFields, "set", nil, "Merged field value, as name=value (repeatable)")
}

func runResolve(cmd *cobra.Command, args []string) {
	c := initFullContext()
	defer c.Close()

	ctx := context.Background()

	resolution, err := parseResolution(args[1])
	if err != nil {
		exitError("%v", err)
	}

	cf := findConflict(c, args[0])

	var status conflict.Status
	if resolution == models.ResolutionMerge && len(resolveFields) > 0 {
		fields, err := mergedFields(cf, resolveFields)
		if err != nil {
			exitError("%v", err)
		}
		status, err = c.Coordinator.ResolveWithFields(ctx, cf.ID, fields)
		if err != nil {
			exitError("failed to resolve: %v", err)
		}
	} else {
		status, err = c.Coordinator.Resolve(ctx, cf.ID, resolution)
		if errors.Is(err, conflict.ErrManualMergeRequired) {
			fmt.Printf("Both sides changed the same field(s): %v\n", err)
			fmt.Println("Settle them with --set name=value, or pick a side.")
			return
		}
		if errors.Is(err, conflict.ErrAlreadyResolved) {
			exitError("conflict %s is already resolved", shortID(cf.ID))
		}
		if err != nil {
			exitError("failed to resolve: %v", err)
		}
	}

	switch status {
	case conflict.StatusApplied:
		color.New(color.FgGreen).Printf("Resolved %s as %s\n", cf.ShortID(), resolution)
	case conflict.StatusSkipped:
		fmt.Printf("Skipped %s, decision deferred\n", cf.ShortID())
	case conflict.StatusPendingRetry:
		color.New(color.FgYellow).Printf("Backend push failed, %s stays queued for retry\n", cf.ShortID())
	case conflict.StatusDiscarded:
		fmt.Printf("Entity no longer exists, discarded %s\n", cf.ShortID())
	}
}

func parseResolution(s string) (models.Resolution, error) {
	if s == "skip" {
		return models.ResolutionSkipped, nil
	}
	r := models.Resolution(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown strategy %q (keep-local, keep-remote, keep-both, merge, skip)", s)
	}
	return r, nil
}

// mergedFields runs the engine merge and overlays the user's field choices
// on top of the provisional result.
func mergedFields(cf *models.SyncConflict, pairs []string) (models.FieldMap, error) {
	overrides, err := parseFieldFlags(pairs)
	if err != nil {
		return nil, err
	}

	result := merge.Merge(cf.Local.Fields, cf.Remote.Fields, cf.Base, cf.Local.CapturedAt, cf.Remote.CapturedAt)
	fields := result.Merged
	for name, value := range overrides {
		fields[name] = value
	}

	for _, name := range result.ConflictingFields {
		if _, ok := overrides[name]; !ok {
			return nil, fmt.Errorf("field %q still conflicts, settle it with --set %s=value", name, name)
		}
	}
	return fields, nil
}
