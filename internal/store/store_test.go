package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/songsync-app/songsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates a new bbolt store in a temp directory for testing.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := New(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Initialize())
	t.Cleanup(func() { st.Close() })
	return st
}

func testConflict(id string) *models.SyncConflict {
	return &models.SyncConflict{
		ID:         id,
		EntityType: models.EntitySong,
		EntityID:   "song-1",
		Kind:       models.KindProperty,
		Priority:   models.PriorityLow,
		DetectedAt: time.Now().UTC(),
		Local:      models.ConflictVersion{Fields: models.FieldMap{"title": "Local"}},
		Remote:     models.ConflictVersion{Fields: models.FieldMap{"title": "Remote"}},
	}
}

func resolved(c *models.SyncConflict, r models.Resolution, auto bool) *models.SyncConflict {
	out := c.Clone()
	now := time.Now().UTC()
	out.Resolution = &r
	out.ResolvedAt = &now
	out.AutoResolved = auto
	return out
}

func TestStore_GetSetValue(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.SetValue("test_key", "test_value"))

	val, err := st.GetValue("test_key")
	require.NoError(t, err)
	assert.Equal(t, "test_value", val)

	// Non-existent key returns empty
	val, err = st.GetValue("nonexistent")
	require.NoError(t, err)
	assert.Equal(t, "", val)
}

func TestStore_PutUnresolvedIdempotent(t *testing.T) {
	st := newTestStore(t)
	c := testConflict("c1")

	added, err := st.PutUnresolved(c)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = st.PutUnresolved(c)
	require.NoError(t, err)
	assert.False(t, added)

	pending, err := st.ListUnresolved()
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	stats, err := st.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalDetected)
}

func TestStore_GetUnresolved(t *testing.T) {
	st := newTestStore(t)
	c := testConflict("c1")

	_, err := st.GetUnresolved("c1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = st.PutUnresolved(c)
	require.NoError(t, err)

	got, err := st.GetUnresolved("c1")
	require.NoError(t, err)
	assert.Equal(t, c.EntityID, got.EntityID)
	assert.Equal(t, c.Local.Fields, got.Local.Fields)
}

func TestStore_MoveToResolved(t *testing.T) {
	st := newTestStore(t)
	c := testConflict("c1")
	_, err := st.PutUnresolved(c)
	require.NoError(t, err)

	require.NoError(t, st.MoveToResolved(resolved(c, models.ResolutionKeepRemote, false), 50))

	// Partition invariant: gone from unresolved, present in history.
	pending, err := st.ListUnresolved()
	require.NoError(t, err)
	assert.Empty(t, pending)

	history, err := st.ListResolved(0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "c1", history[0].ID)
	assert.Equal(t, models.ResolutionKeepRemote, *history[0].Resolution)

	stats, err := st.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalUserResolved)
	assert.Equal(t, 0, stats.TotalAutoResolved)
}

func TestStore_MoveToResolvedTwice(t *testing.T) {
	st := newTestStore(t)
	c := testConflict("c1")
	_, err := st.PutUnresolved(c)
	require.NoError(t, err)

	rc := resolved(c, models.ResolutionKeepLocal, false)
	require.NoError(t, st.MoveToResolved(rc, 50))

	err = st.MoveToResolved(rc, 50)
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	stats, err := st.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalUserResolved)
}

func TestStore_GetUnresolvedAfterResolve(t *testing.T) {
	st := newTestStore(t)
	c := testConflict("c1")
	_, err := st.PutUnresolved(c)
	require.NoError(t, err)
	require.NoError(t, st.MoveToResolved(resolved(c, models.ResolutionKeepLocal, false), 50))

	_, err = st.GetUnresolved("c1")
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	// Re-adding a resolved conflict is a no-op.
	added, err := st.PutUnresolved(c)
	require.NoError(t, err)
	assert.False(t, added)
}

func TestStore_AutoResolvedCounter(t *testing.T) {
	st := newTestStore(t)
	c := testConflict("c1")
	_, err := st.PutUnresolved(c)
	require.NoError(t, err)
	require.NoError(t, st.MoveToResolved(resolved(c, models.ResolutionKeepRemote, true), 50))

	stats, err := st.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalAutoResolved)
	assert.Equal(t, 0, stats.TotalUserResolved)
}

func TestStore_HistoryPruning(t *testing.T) {
	st := newTestStore(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		c := testConflict(fmt.Sprintf("c%d", i))
		_, err := st.PutUnresolved(c)
		require.NoError(t, err)

		rc := c.Clone()
		r := models.ResolutionKeepLocal
		at := base.Add(time.Duration(i) * time.Minute)
		rc.Resolution = &r
		rc.ResolvedAt = &at
		require.NoError(t, st.MoveToResolved(rc, 5))
	}

	history, err := st.ListResolved(0)
	require.NoError(t, err)
	require.Len(t, history, 5)

	// Most recent first; the two oldest were pruned.
	assert.Equal(t, "c6", history[0].ID)
	assert.Equal(t, "c2", history[4].ID)

	// Counters survive pruning.
	stats, err := st.Stats()
	require.NoError(t, err)
	assert.Equal(t, 7, stats.TotalDetected)
	assert.Equal(t, 7, stats.TotalUserResolved)
}

// A resolution timestamp with zero nanoseconds must not sort after a
// fractional one in the same second.
func TestStore_HistoryOrderWithinSecond(t *testing.T) {
	st := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)

	for _, entry := range []struct {
		id string
		at time.Time
	}{
		{"c1", base},                              // zero nanoseconds
		{"c2", base.Add(500 * time.Millisecond)},  // later, same second
		{"c3", base.Add(-300 * time.Millisecond)}, // earlier, previous second
	} {
		c := testConflict(entry.id)
		_, err := st.PutUnresolved(c)
		require.NoError(t, err)

		rc := c.Clone()
		r := models.ResolutionKeepLocal
		at := entry.at
		rc.Resolution = &r
		rc.ResolvedAt = &at
		require.NoError(t, st.MoveToResolved(rc, 50))
	}

	history, err := st.ListResolved(0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "c2", history[0].ID)
	assert.Equal(t, "c1", history[1].ID)
	assert.Equal(t, "c3", history[2].ID)
}

func TestStore_ListResolvedLimit(t *testing.T) {
	st := newTestStore(t)
	for i := 0; i < 4; i++ {
		c := testConflict(fmt.Sprintf("c%d", i))
		_, err := st.PutUnresolved(c)
		require.NoError(t, err)
		require.NoError(t, st.MoveToResolved(resolved(c, models.ResolutionKeepLocal, false), 50))
	}

	history, err := st.ListResolved(2)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestStore_ClearResolved(t *testing.T) {
	st := newTestStore(t)
	c := testConflict("c1")
	_, err := st.PutUnresolved(c)
	require.NoError(t, err)
	require.NoError(t, st.MoveToResolved(resolved(c, models.ResolutionKeepLocal, false), 50))

	require.NoError(t, st.ClearResolved())

	history, err := st.ListResolved(0)
	require.NoError(t, err)
	assert.Empty(t, history)

	// Counters are untouched by a history clear.
	stats, err := st.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalDetected)
}

func TestStore_ResetStats(t *testing.T) {
	st := newTestStore(t)
	c := testConflict("c1")
	_, err := st.PutUnresolved(c)
	require.NoError(t, err)

	require.NoError(t, st.ResetStats())

	stats, err := st.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalDetected)
	assert.Equal(t, 0, stats.TotalAutoResolved)
	assert.Equal(t, 0, stats.TotalUserResolved)
}

func TestStore_UpdateUnresolved(t *testing.T) {
	st := newTestStore(t)
	c := testConflict("c1")

	err := st.UpdateUnresolved(c)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = st.PutUnresolved(c)
	require.NoError(t, err)

	c.Retries = 3
	require.NoError(t, st.UpdateUnresolved(c))

	got, err := st.GetUnresolved("c1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Retries)
}

func TestStore_DeleteUnresolved(t *testing.T) {
	st := newTestStore(t)
	c := testConflict("c1")
	_, err := st.PutUnresolved(c)
	require.NoError(t, err)

	require.NoError(t, st.DeleteUnresolved("c1"))
	_, err = st.GetUnresolved("c1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, st.DeleteUnresolved("c1"), ErrNotFound)
}
