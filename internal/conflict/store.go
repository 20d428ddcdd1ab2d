// Package conflict owns the authoritative collections of unresolved and
// resolved sync conflicts, the auto-resolve policy, and the resolution
// statistics. Every state-changing operation persists before returning.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/songsync-app/songsync/internal/merge"
	"github.com/songsync-app/songsync/internal/models"
	"github.com/songsync-app/songsync/internal/store"
)

// DefaultHistoryCap bounds the retained resolved history.
const DefaultHistoryCap = 50

// policyKey is the kv key under which the active policy is persisted.
const policyKey = "auto_resolve_policy"

// Applier pushes a decided resolution to local storage and the remote
// backend. It returns ErrRemotePushFailed when the decision could not reach
// the backend and ErrEntityVanished when there is nothing left to reconcile.
type Applier interface {
	Apply(ctx context.Context, c *models.SyncConflict) error
}

// Status describes the outcome of a resolution attempt.
type Status string

const (
	StatusApplied      Status = "applied"       // resolution applied and recorded in history
	StatusPendingRetry Status = "pending-retry" // remote push failed, conflict re-queued
	StatusSkipped      Status = "skipped"       // decision deferred, no state change
	StatusDiscarded    Status = "discarded"     // entity vanished, conflict dropped
)

// Store is the conflict model and store. All access to the shared
// collections is serialized through it: a single writer at a time, with
// reads served from the persisted state without blocking on resolutions in
// flight.
type Store struct {
	st         *store.Store
	historyCap int
	logger     *slog.Logger

	mu        sync.RWMutex
	policy    models.AutoResolvePolicy
	listeners []Listener
	resolving map[string]bool // conflict IDs with a resolution being applied
}

// New creates a conflict store backed by the given persistence layer. The
// policy argument is the default when none has been persisted yet.
func New(st *store.Store, policy models.AutoResolvePolicy, historyCap int, logger *slog.Logger) *Store {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	if !policy.Valid() {
		policy = models.PolicyNever
	}
	if saved, err := st.GetValue(policyKey); err == nil && models.AutoResolvePolicy(saved).Valid() {
		policy = models.AutoResolvePolicy(saved)
	}

	return &Store{
		st:         st,
		historyCap: historyCap,
		logger:     logger,
		policy:     policy,
		resolving:  make(map[string]bool),
	}
}

// Subscribe registers a listener for conflict lifecycle events.
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Policy returns the active auto-resolve policy.
func (s *Store) Policy() models.AutoResolvePolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// SetPolicy changes and persists the active auto-resolve policy.
func (s *Store) SetPolicy(p models.AutoResolvePolicy) error {
	if !p.Valid() {
		return fmt.Errorf("unknown auto-resolve policy %q", p)
	}
	if err := s.st.SetValue(policyKey, string(p)); err != nil {
		return fmt.Errorf("persist policy: %w", err)
	}
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
	return nil
}

// Eligible reports whether a conflict may be resolved automatically by a
// side-picking policy. Content edits and deletions always need either an
// explicit user choice or a clean engine merge.
func Eligible(c *models.SyncConflict) bool {
	return c.Kind == models.KindProperty
}

// Add inserts a conflict into the unresolved collection. Adding the same
// conflict ID twice is a benign no-op and returns false. When the active
// policy decides eligible conflicts automatically and an applier is given,
// the conflict is resolved immediately instead of surfacing to the user.
func (s *Store) Add(ctx context.Context, c *models.SyncConflict, applier Applier) (bool, error) {
	if !c.EntityType.Valid() {
		return false, fmt.Errorf("unknown entity type %q", c.EntityType)
	}
	if c.EntityID == "" {
		return false, fmt.Errorf("conflict %s has no entity id", c.ID)
	}

	added, err := s.st.PutUnresolved(c)
	if err != nil {
		return false, fmt.Errorf("queue conflict: %w", err)
	}
	if !added {
		return false, nil
	}
	s.notifyAdded(c)

	policy := s.Policy()
	if policy == models.PolicyNever || applier == nil || !Eligible(c) {
		return true, nil
	}

	resolution, ok := policy.Decide(c)
	if !ok {
		return true, nil
	}
	if _, err := s.finishResolution(ctx, c, resolution, nil, true, applier); err != nil {
		s.logger.Warn("auto-resolution failed, conflict left queued",
			"conflict", c.ID, "entity", c.EntityID, "error", err)
	}
	return true, nil
}

// AutoResolve applies the active policy to every eligible unresolved
// conflict and returns how many were resolved. A `never` policy is a no-op.
func (s *Store) AutoResolve(ctx context.Context, applier Applier) (int, error) {
	policy := s.Policy()
	if policy == models.PolicyNever {
		return 0, nil
	}

	pending, err := s.st.ListUnresolved()
	if err != nil {
		return 0, fmt.Errorf("list unresolved conflicts: %w", err)
	}

	resolved := 0
	for _, c := range pending {
		if !Eligible(c) {
			continue
		}
		resolution, ok := policy.Decide(c)
		if !ok {
			continue
		}
		status, err := s.finishResolution(ctx, c, resolution, nil, true, applier)
		if err != nil {
			s.logger.Warn("auto-resolution failed, conflict left queued",
				"conflict", c.ID, "entity", c.EntityID, "error", err)
			continue
		}
		if status == StatusApplied {
			resolved++
		}
	}
	return resolved, nil
}

// Resolve applies an explicit resolution choice to a queued conflict.
//
// A merge resolution first runs the merge engine; genuine field conflicts
// yield ErrManualMergeRequired and no state change. A skipped resolution
// defers the decision and always succeeds immediately. A remote push
// failure re-queues the conflict and reports StatusPendingRetry rather than
// an error.
func (s *Store) Resolve(ctx context.Context, id string, resolution models.Resolution, applier Applier) (Status, error) {
	if !resolution.Valid() {
		return "", fmt.Errorf("unknown resolution %q", resolution)
	}
	if resolution == models.ResolutionSkipped {
		// Deferral mutates nothing.
		return StatusSkipped, nil
	}

	c, err := s.get(id)
	if err != nil {
		return "", err
	}

	var merged models.FieldMap
	if resolution == models.ResolutionMerge {
		result := merge.Merge(c.Local.Fields, c.Remote.Fields, c.Base, c.Local.CapturedAt, c.Remote.CapturedAt)
		if !result.CanAutoResolve {
			return "", fmt.Errorf("fields %v: %w", result.ConflictingFields, ErrManualMergeRequired)
		}
		merged = result.Merged
	}

	return s.finishResolution(ctx, c, resolution, merged, false, applier)
}

// ResolveWithFields resolves a conflict as a merge using a user-edited
// field map, bypassing the merge engine's conflict check.
func (s *Store) ResolveWithFields(ctx context.Context, id string, fields models.FieldMap, applier Applier) (Status, error) {
	if fields == nil {
		return "", fmt.Errorf("merge resolution requires a field map")
	}
	c, err := s.get(id)
	if err != nil {
		return "", err
	}
	return s.finishResolution(ctx, c, models.ResolutionMerge, fields, false, applier)
}

func (s *Store) get(id string) (*models.SyncConflict, error) {
	c, err := s.st.GetUnresolved(id)
	if errors.Is(err, store.ErrAlreadyResolved) {
		return nil, fmt.Errorf("conflict %s: %w", id, ErrAlreadyResolved)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("conflict %s: %w", id, ErrConflictNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load conflict %s: %w", id, err)
	}
	return c, nil
}

// finishResolution stages the resolution on a copy, applies it through the
// applier, and on success moves the conflict to history. The in-flight
// guard ensures two resolutions for the same ID cannot both succeed.
func (s *Store) finishResolution(ctx context.Context, c *models.SyncConflict, resolution models.Resolution, merged models.FieldMap, auto bool, applier Applier) (Status, error) {
	if applier == nil {
		return "", fmt.Errorf("no applier configured")
	}

	s.mu.Lock()
	if s.resolving[c.ID] {
		s.mu.Unlock()
		return "", fmt.Errorf("conflict %s: %w", c.ID, ErrResolutionInProgress)
	}
	s.resolving[c.ID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.resolving, c.ID)
		s.mu.Unlock()
	}()

	staged := c.Clone()
	now := time.Now().UTC()
	staged.Resolution = &resolution
	staged.ResolvedAt = &now
	staged.AutoResolved = auto
	if merged != nil {
		staged.Merged = merged
	}

	err := applier.Apply(ctx, staged)
	switch {
	case err == nil:
		if err := s.st.MoveToResolved(staged, s.historyCap); err != nil {
			if errors.Is(err, store.ErrAlreadyResolved) {
				return "", fmt.Errorf("conflict %s: %w", c.ID, ErrAlreadyResolved)
			}
			return "", fmt.Errorf("record resolution: %w", err)
		}
		s.notifyResolved(staged)
		return StatusApplied, nil

	case errors.Is(err, ErrRemotePushFailed):
		// The decision is not lost: the conflict stays queued and the
		// next sync pass retries.
		requeued := c.Clone()
		requeued.Retries++
		if uerr := s.st.UpdateUnresolved(requeued); uerr != nil {
			s.logger.Error("failed to re-queue conflict after push failure",
				"conflict", c.ID, "error", uerr)
		}
		s.logger.Warn("resolution pending retry", "conflict", c.ID, "entity", c.EntityID, "error", err)
		return StatusPendingRetry, nil

	case errors.Is(err, ErrEntityVanished):
		// Nothing left to reconcile.
		if derr := s.st.DeleteUnresolved(c.ID); derr != nil && !errors.Is(derr, store.ErrNotFound) {
			return "", fmt.Errorf("discard conflict: %w", derr)
		}
		s.logger.Warn("discarding conflict for vanished entity",
			"conflict", c.ID, "entity_type", c.EntityType, "entity", c.EntityID)
		return StatusDiscarded, nil

	default:
		return "", fmt.Errorf("apply resolution for %s: %w", c.ID, err)
	}
}

// Unresolved returns all unresolved conflicts ordered by descending
// priority, then most recently detected first.
func (s *Store) Unresolved() ([]*models.SyncConflict, error) {
	conflicts, err := s.st.ListUnresolved()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(conflicts, func(i, j int) bool {
		if pi, pj := conflicts[i].Priority.Rank(), conflicts[j].Priority.Rank(); pi != pj {
			return pi > pj
		}
		return conflicts[i].DetectedAt.After(conflicts[j].DetectedAt)
	})
	return conflicts, nil
}

// UnresolvedForEntity returns the unresolved conflicts for one entity.
func (s *Store) UnresolvedForEntity(entityType models.EntityType, entityID string) ([]*models.SyncConflict, error) {
	all, err := s.st.ListUnresolved()
	if err != nil {
		return nil, err
	}
	var out []*models.SyncConflict
	for _, c := range all {
		if c.EntityType == entityType && c.EntityID == entityID {
			out = append(out, c)
		}
	}
	return out, nil
}

// History returns up to limit resolved conflicts, most recent first.
func (s *Store) History(limit int) ([]*models.SyncConflict, error) {
	return s.st.ListResolved(limit)
}

// ClearHistory discards all resolved conflicts. Unresolved conflicts are
// never cleared.
func (s *Store) ClearHistory() error {
	return s.st.ClearResolved()
}

// Stats returns the resolution counters.
func (s *Store) Stats() (*models.Stats, error) {
	return s.st.Stats()
}

// ResetStats zeroes the resolution counters.
func (s *Store) ResetStats() error {
	return s.st.ResetStats()
}
