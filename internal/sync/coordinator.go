// Package sync implements the synchronization coordinator: it moves local
// edits to the backend, brings backend changes into the local library,
// detects collisions on rejected writes, and applies decided resolutions to
// both sides.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/songsync-app/songsync/internal/conflict"
	"github.com/songsync-app/songsync/internal/library"
	"github.com/songsync-app/songsync/internal/merge"
	"github.com/songsync-app/songsync/internal/models"
	"github.com/songsync-app/songsync/internal/remote"
	"github.com/songsync-app/songsync/internal/store"
)

// kv keys for sync pass bookkeeping.
const (
	lastSyncAtKey     = "last_sync_at"
	lastSyncStatusKey = "last_sync_status"
)

// ErrSyncInProgress is returned by Run when another pass is already active.
var ErrSyncInProgress = errors.New("sync already in progress")

// contentFields are the field names whose divergence classifies a collision
// as a content modification rather than a property conflict.
var contentFields = map[string]bool{
	"content": true,
	"lyrics":  true,
	"body":    true,
}

// syncedTypes is the fixed set of entity types a sync pass walks.
var syncedTypes = []models.EntityType{
	models.EntitySong,
	models.EntitySet,
	models.EntityMembership,
}

// Summary reports what one sync pass did.
type Summary struct {
	Pulled       int // records applied from the backend
	Pushed       int // local edits accepted by the backend
	NewConflicts int // rejected writes turned into queued conflicts
}

// Coordinator drives sync passes and acts as the conflict store's applier.
// At most one pass runs at a time per process.
type Coordinator struct {
	st        *store.Store
	lib       *library.Library
	backend   remote.Backend
	conflicts *conflict.Store
	device    string
	logger    *slog.Logger

	running atomic.Bool
}

// New creates a coordinator. The device label annotates pushed records and
// conflict versions originating from this process.
func New(st *store.Store, lib *library.Library, backend remote.Backend, conflicts *conflict.Store, device string, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		st:        st,
		lib:       lib,
		backend:   backend,
		conflicts: conflicts,
		device:    device,
		logger:    logger,
	}
}

// Run executes one synchronization pass: pull backend changes, push dirty
// local entities, and queue a conflict for every rejected write. A call while
// another pass is in flight returns ErrSyncInProgress immediately. The
// last-sync timestamp and status are recorded whether the pass succeeds or
// fails.
func (c *Coordinator) Run(ctx context.Context) (*Summary, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer c.running.Store(false)

	summary := &Summary{}
	err := c.runPass(ctx, summary)

	status := "ok"
	if err != nil {
		status = "failed: " + err.Error()
	}
	if serr := c.st.SetValue(lastSyncAtKey, time.Now().UTC().Format(time.RFC3339Nano)); serr != nil {
		c.logger.Error("failed to record last sync time", "error", serr)
	}
	if serr := c.st.SetValue(lastSyncStatusKey, status); serr != nil {
		c.logger.Error("failed to record last sync status", "error", serr)
	}

	if err != nil {
		return summary, err
	}

	c.logger.Info("sync pass complete",
		"pulled", summary.Pulled, "pushed", summary.Pushed, "conflicts", summary.NewConflicts)
	return summary, nil
}

func (c *Coordinator) runPass(ctx context.Context, summary *Summary) error {
	for _, entityType := range syncedTypes {
		if err := c.pull(ctx, entityType, summary); err != nil {
			return fmt.Errorf("pull %s records: %w", entityType, err)
		}
	}
	if err := c.push(ctx, summary); err != nil {
		return fmt.Errorf("push local edits: %w", err)
	}

	// Covers conflicts that were queued before the policy became active and
	// resolutions re-queued after a failed remote push.
	if n, err := c.conflicts.AutoResolve(ctx, c); err != nil {
		return fmt.Errorf("auto-resolve queued conflicts: %w", err)
	} else if n > 0 {
		c.logger.Info("auto-resolved queued conflicts", "count", n)
	}
	return nil
}

// pull applies backend records that are new or newer than the local copy.
// Dirty entities are left untouched: the push phase surfaces their
// divergence through the backend's version check.
func (c *Coordinator) pull(ctx context.Context, entityType models.EntityType, summary *Summary) error {
	recs, err := c.backend.ListRecords(ctx, entityType)
	if err != nil {
		return err
	}

	for _, rec := range recs {
		e, err := c.lib.GetEntity(rec.EntityType, rec.EntityID)
		switch {
		case errors.Is(err, library.ErrNotFound):
			if rec.Deleted {
				continue
			}
			if err := c.lib.ApplyRemote(rec.EntityType, rec.EntityID, rec.Fields, rec.VersionTag); err != nil {
				return err
			}
			summary.Pulled++

		case err != nil:
			return err

		case e.Dirty || e.VersionTag == rec.VersionTag:
			continue

		case rec.Deleted:
			if err := c.lib.PurgeEntity(rec.EntityType, rec.EntityID); err != nil && !errors.Is(err, library.ErrNotFound) {
				return err
			}
			summary.Pulled++

		default:
			if err := c.lib.ApplyRemote(rec.EntityType, rec.EntityID, rec.Fields, rec.VersionTag); err != nil {
				return err
			}
			summary.Pulled++
		}
	}
	return nil
}

// push sends every dirty entity to the backend. A version-conflict rejection
// becomes a queued conflict; any other error aborts the pass.
func (c *Coordinator) push(ctx context.Context, summary *Summary) error {
	dirty, err := c.lib.ListDirty()
	if err != nil {
		return err
	}

	for _, e := range dirty {
		rec := &remote.RecordSnapshot{
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			Fields:     e.Fields,
			Deleted:    e.Deleted,
			UpdatedAt:  e.UpdatedAt,
			Device:     c.device,
		}

		tag, err := c.backend.PushRecord(ctx, rec, e.VersionTag)
		var vc *remote.VersionConflictError
		switch {
		case errors.As(err, &vc):
			added, cerr := c.OnWriteRejected(ctx, e, vc.Server)
			if cerr != nil {
				return cerr
			}
			if added {
				summary.NewConflicts++
			}

		case err != nil:
			return err

		case e.Deleted:
			// The backend holds the tombstone now; the local row can go.
			if err := c.lib.PurgeEntity(e.EntityType, e.EntityID); err != nil && !errors.Is(err, library.ErrNotFound) {
				return err
			}
			summary.Pushed++

		default:
			if err := c.lib.MarkSynced(e.EntityType, e.EntityID, tag); err != nil {
				return err
			}
			summary.Pushed++
		}
	}
	return nil
}

// OnWriteRejected turns a rejected push into a queued conflict. Both sides
// are snapshotted, the divergence is classified, and the conflict is handed
// to the conflict store with this coordinator as the applier so eligible
// conflicts can auto-resolve immediately. Returns whether a new conflict was
// queued (false for a duplicate of one already pending).
func (c *Coordinator) OnWriteRejected(ctx context.Context, e *library.Entity, server *remote.RecordSnapshot) (bool, error) {
	local := models.ConflictVersion{
		CapturedAt:    e.UpdatedAt,
		OriginDevice:  c.device,
		Fields:        e.Fields,
		ChangedFields: merge.ChangedFields(e.Fields, e.BaseFields),
		IsDeletion:    e.Deleted,
	}
	remoteSide := models.ConflictVersion{
		CapturedAt:    server.UpdatedAt,
		OriginDevice:  server.Device,
		Fields:        server.Fields,
		ChangedFields: merge.ChangedFields(server.Fields, e.BaseFields),
		IsDeletion:    server.Deleted,
	}

	kind := classifyKind(local, remoteSide)
	sc := &models.SyncConflict{
		ID:         models.ConflictID(e.EntityType, e.EntityID, local.CapturedAt, remoteSide.CapturedAt),
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Kind:       kind,
		Local:      local,
		Remote:     remoteSide,
		DetectedAt: time.Now().UTC(),
		Priority:   models.DerivePriority(kind),
		Base:       e.BaseFields,
	}

	added, err := c.conflicts.Add(ctx, sc, c)
	if err != nil {
		return false, fmt.Errorf("queue conflict for %s/%s: %w", e.EntityType, e.EntityID, err)
	}
	if added {
		c.logger.Info("write rejected, conflict queued",
			"conflict", sc.ShortID(), "entity_type", sc.EntityType, "entity", sc.EntityID, "kind", sc.Kind)
	}
	return added, nil
}

// classifyKind determines what kind of divergence a collision represents:
// deletion if either side deletes, content modification if any body field
// differs between the sides, property conflict otherwise.
func classifyKind(local, remoteSide models.ConflictVersion) models.ConflictKind {
	if local.IsDeletion || remoteSide.IsDeletion {
		return models.KindDeletion
	}
	for _, name := range merge.ChangedFields(local.Fields, remoteSide.Fields) {
		if contentFields[name] {
			return models.KindContentModification
		}
	}
	return models.KindProperty
}

// Resolve applies a resolution choice to a queued conflict with this
// coordinator as the applier.
func (c *Coordinator) Resolve(ctx context.Context, id string, resolution models.Resolution) (conflict.Status, error) {
	return c.conflicts.Resolve(ctx, id, resolution, c)
}

// ResolveWithFields resolves a conflict as a merge with a user-edited field
// map.
func (c *Coordinator) ResolveWithFields(ctx context.Context, id string, fields models.FieldMap) (conflict.Status, error) {
	return c.conflicts.ResolveWithFields(ctx, id, fields, c)
}

// AutoResolve runs the active policy over every eligible queued conflict.
func (c *Coordinator) AutoResolve(ctx context.Context) (int, error) {
	return c.conflicts.AutoResolve(ctx, c)
}

// Apply implements conflict.Applier. It pushes the decided side to the
// backend with a force write, then records the result locally so both copies
// reflect the decision. For keep-both, the losing side is cloned into a new
// entity that exists on both sides alongside the winner.
func (c *Coordinator) Apply(ctx context.Context, sc *models.SyncConflict) error {
	if sc.Resolution == nil {
		return fmt.Errorf("conflict %s has no resolution staged", sc.ID)
	}

	switch *sc.Resolution {
	case models.ResolutionKeepLocal:
		return c.applyChoice(ctx, sc, sc.Local)
	case models.ResolutionKeepRemote:
		return c.applyChoice(ctx, sc, sc.Remote)
	case models.ResolutionMerge:
		if sc.Merged == nil {
			return fmt.Errorf("conflict %s resolved as merge without a merged field map", sc.ID)
		}
		return c.applyChoice(ctx, sc, models.ConflictVersion{Fields: sc.Merged})
	case models.ResolutionKeepBoth:
		return c.applyKeepBoth(ctx, sc)
	default:
		return fmt.Errorf("resolution %q cannot be applied", *sc.Resolution)
	}
}

// applyChoice makes one side's snapshot the state of the entity everywhere.
func (c *Coordinator) applyChoice(ctx context.Context, sc *models.SyncConflict, chosen models.ConflictVersion) error {
	if chosen.IsDeletion {
		if sc.Local.IsDeletion && sc.Remote.IsDeletion {
			return conflict.ErrEntityVanished
		}
		return c.applyDeletion(ctx, sc)
	}

	tag, err := c.forcePush(ctx, sc, chosen.Fields, false)
	if err != nil {
		return err
	}
	if err := c.lib.ApplyRemote(sc.EntityType, sc.EntityID, chosen.Fields, tag); err != nil {
		return fmt.Errorf("record resolved entity locally: %w", err)
	}
	return nil
}

// applyDeletion removes the entity on both sides.
func (c *Coordinator) applyDeletion(ctx context.Context, sc *models.SyncConflict) error {
	if _, err := c.forcePush(ctx, sc, nil, true); err != nil {
		return err
	}
	if err := c.lib.PurgeEntity(sc.EntityType, sc.EntityID); err != nil && !errors.Is(err, library.ErrNotFound) {
		return fmt.Errorf("delete resolved entity locally: %w", err)
	}
	return nil
}

// applyKeepBoth keeps the local side in the original entity and clones the
// remote side into a fresh entity, so the union of both writes survives.
// When the remote side is a deletion there is nothing to clone and the
// outcome degenerates to keeping the local side.
func (c *Coordinator) applyKeepBoth(ctx context.Context, sc *models.SyncConflict) error {
	if sc.Local.IsDeletion {
		// The local side deleted; cloning preserves the remote data under
		// a new identity while the deletion stands.
		if err := c.applyDeletion(ctx, sc); err != nil {
			return err
		}
		if sc.Remote.IsDeletion {
			return nil
		}
		return c.cloneEntity(ctx, sc, sc.Remote.Fields)
	}

	if err := c.applyChoice(ctx, sc, sc.Local); err != nil {
		return err
	}
	if sc.Remote.IsDeletion {
		return nil
	}
	return c.cloneEntity(ctx, sc, sc.Remote.Fields)
}

func (c *Coordinator) cloneEntity(ctx context.Context, sc *models.SyncConflict, fields models.FieldMap) error {
	cloneID, err := c.lib.CreateEntity(sc.EntityType, fields.Clone())
	if err != nil {
		return fmt.Errorf("create clone entity: %w", err)
	}

	rec := &remote.RecordSnapshot{
		EntityType: sc.EntityType,
		EntityID:   cloneID,
		Fields:     fields,
		UpdatedAt:  time.Now().UTC(),
		Device:     c.device,
	}
	tag, err := c.backend.ForcePushRecord(ctx, rec)
	if err != nil {
		return fmt.Errorf("push clone entity: %w: %v", conflict.ErrRemotePushFailed, err)
	}
	if err := c.lib.MarkSynced(sc.EntityType, cloneID, tag); err != nil {
		return fmt.Errorf("record clone entity locally: %w", err)
	}
	c.logger.Info("cloned losing side of conflict",
		"conflict", sc.ShortID(), "entity_type", sc.EntityType, "original", sc.EntityID, "clone", cloneID)
	return nil
}

// forcePush overwrites the backend record with the resolved state. Failures
// are wrapped in ErrRemotePushFailed so the conflict store re-queues the
// conflict instead of reporting success.
func (c *Coordinator) forcePush(ctx context.Context, sc *models.SyncConflict, fields models.FieldMap, deleted bool) (string, error) {
	rec := &remote.RecordSnapshot{
		EntityType: sc.EntityType,
		EntityID:   sc.EntityID,
		Fields:     fields,
		Deleted:    deleted,
		UpdatedAt:  time.Now().UTC(),
		Device:     c.device,
	}
	tag, err := c.backend.ForcePushRecord(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("%w: %v", conflict.ErrRemotePushFailed, err)
	}
	return tag, nil
}

// Watch subscribes to the server's change feed and triggers a sync pass for
// every event produced by another device. It blocks until the context ends,
// reconnecting when the feed drops.
func (c *Coordinator) Watch(ctx context.Context, feed *remote.ChangeFeed) error {
	for {
		events, err := feed.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("change feed unavailable, retrying", "error", err)
			select {
			case <-time.After(5 * time.Second):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		for ev := range events {
			if ev.Device == c.device {
				continue
			}
			if _, err := c.Run(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
				c.logger.Warn("sync triggered by change event failed",
					"entity_type", ev.EntityType, "entity", ev.EntityID, "error", err)
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// LastSync returns the recorded time and status of the most recent pass.
// The zero time means no pass has run yet.
func LastSync(st *store.Store) (time.Time, string) {
	var at time.Time
	if v, err := st.GetValue(lastSyncAtKey); err == nil {
		at, _ = time.Parse(time.RFC3339Nano, v)
	}
	status, _ := st.GetValue(lastSyncStatusKey)
	return at, status
}

// LastSync reports the most recent pass recorded by this coordinator's store.
func (c *Coordinator) LastSync() (time.Time, string) {
	return LastSync(c.st)
}
