package conflict

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/songsync-app/songsync/internal/models"
	"github.com/songsync-app/songsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeApplier records applied conflicts and can be told to fail.
type fakeApplier struct {
	applied []*models.SyncConflict
	err     error
}

func (f *fakeApplier) Apply(_ context.Context, c *models.SyncConflict) error {
	if f.err != nil {
		return f.err
	}
	f.applied = append(f.applied, c)
	return nil
}

func newTestStore(t *testing.T, policy models.AutoResolvePolicy) *Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	require.NoError(t, st.Initialize())
	t.Cleanup(func() { st.Close() })
	return New(st, policy, 0, nil)
}

func propertyConflict(id string, localAt, remoteAt time.Time) *models.SyncConflict {
	return &models.SyncConflict{
		ID:         id,
		EntityType: models.EntitySong,
		EntityID:   "song-1",
		Kind:       models.KindProperty,
		Priority:   models.DerivePriority(models.KindProperty),
		DetectedAt: time.Now().UTC(),
		Base:       models.FieldMap{"title": "Amazing Grace"},
		Local: models.ConflictVersion{
			CapturedAt: localAt,
			Fields:     models.FieldMap{"title": "Amazing Grace (Live)"},
		},
		Remote: models.ConflictVersion{
			CapturedAt: remoteAt,
			Fields:     models.FieldMap{"title": "Amazing Grace"},
		},
	}
}

var (
	tEarlier = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tLater   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func TestStore_AddIdempotent(t *testing.T) {
	s := newTestStore(t, models.PolicyNever)
	ctx := context.Background()
	c := propertyConflict("c1", tEarlier, tLater)

	added, err := s.Add(ctx, c, nil)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.Add(ctx, c, nil)
	require.NoError(t, err)
	assert.False(t, added)

	pending, err := s.Unresolved()
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalDetected)
}

func TestStore_AddValidation(t *testing.T) {
	s := newTestStore(t, models.PolicyNever)
	ctx := context.Background()

	c := propertyConflict("c1", tEarlier, tLater)
	c.EntityType = "playlist"
	_, err := s.Add(ctx, c, nil)
	assert.Error(t, err)

	c = propertyConflict("c2", tEarlier, tLater)
	c.EntityID = ""
	_, err = s.Add(ctx, c, nil)
	assert.Error(t, err)
}

func TestStore_AddAutoResolvesUnderPolicy(t *testing.T) {
	s := newTestStore(t, models.PolicyLastWriteWins)
	applier := &fakeApplier{}
	ctx := context.Background()

	// Remote captured later: last-write-wins picks the remote side.
	added, err := s.Add(ctx, propertyConflict("c1", tEarlier, tLater), applier)
	require.NoError(t, err)
	assert.True(t, added)

	pending, err := s.Unresolved()
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.Len(t, applier.applied, 1)
	assert.Equal(t, models.ResolutionKeepRemote, *applier.applied[0].Resolution)
	assert.True(t, applier.applied[0].AutoResolved)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalAutoResolved)
}

func TestStore_LastWriteWinsPrefersLocalWhenLater(t *testing.T) {
	s := newTestStore(t, models.PolicyLastWriteWins)
	applier := &fakeApplier{}

	_, err := s.Add(context.Background(), propertyConflict("c1", tLater, tEarlier), applier)
	require.NoError(t, err)

	require.Len(t, applier.applied, 1)
	assert.Equal(t, models.ResolutionKeepLocal, *applier.applied[0].Resolution)
}

func TestStore_ContentAndDeletionNeverAutoResolve(t *testing.T) {
	s := newTestStore(t, models.PolicyLastWriteWins)
	applier := &fakeApplier{}
	ctx := context.Background()

	content := propertyConflict("c1", tEarlier, tLater)
	content.Kind = models.KindContentModification
	deletion := propertyConflict("c2", tEarlier, tLater)
	deletion.Kind = models.KindDeletion
	deletion.Remote.IsDeletion = true

	_, err := s.Add(ctx, content, applier)
	require.NoError(t, err)
	_, err = s.Add(ctx, deletion, applier)
	require.NoError(t, err)

	assert.Empty(t, applier.applied)

	pending, err := s.Unresolved()
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	n, err := s.AutoResolve(ctx, applier)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_AutoResolveBatch(t *testing.T) {
	s := newTestStore(t, models.PolicyNever)
	applier := &fakeApplier{}
	ctx := context.Background()

	_, err := s.Add(ctx, propertyConflict("c1", tEarlier, tLater), applier)
	require.NoError(t, err)

	c2 := propertyConflict("c2", tEarlier, tLater)
	c2.EntityID = "song-2"
	_, err = s.Add(ctx, c2, applier)
	require.NoError(t, err)

	// Nothing happened under the never policy.
	assert.Empty(t, applier.applied)

	require.NoError(t, s.SetPolicy(models.PolicyKeepLocal))
	n, err := s.AutoResolve(ctx, applier)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, c := range applier.applied {
		assert.Equal(t, models.ResolutionKeepLocal, *c.Resolution)
	}
}

func TestStore_ResolveKeepRemote(t *testing.T) {
	s := newTestStore(t, models.PolicyNever)
	applier := &fakeApplier{}
	ctx := context.Background()

	c := propertyConflict("c1", tEarlier, tLater)
	_, err := s.Add(ctx, c, nil)
	require.NoError(t, err)

	status, err := s.Resolve(ctx, "c1", models.ResolutionKeepRemote, applier)
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, status)

	history, err := s.History(0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ResolutionKeepRemote, *history[0].Resolution)
	assert.False(t, history[0].AutoResolved)
}

func TestStore_ResolveTwiceReturnsAlreadyResolved(t *testing.T) {
	s := newTestStore(t, models.PolicyNever)
	applier := &fakeApplier{}
	ctx := context.Background()

	_, err := s.Add(ctx, propertyConflict("c1", tEarlier, tLater), nil)
	require.NoError(t, err)

	_, err = s.Resolve(ctx, "c1", models.ResolutionKeepLocal, applier)
	require.NoError(t, err)

	before, err := s.Stats()
	require.NoError(t, err)

	_, err = s.Resolve(ctx, "c1", models.ResolutionKeepRemote, applier)
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	// The failed second call left the statistics untouched.
	after, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStore_ResolveUnknownID(t *testing.T) {
	s := newTestStore(t, models.PolicyNever)
	_, err := s.Resolve(context.Background(), "missing", models.ResolutionKeepLocal, &fakeApplier{})
	assert.ErrorIs(t, err, ErrConflictNotFound)
}

func TestStore_ResolveSkipIsNoOp(t *testing.T) {
	s := newTestStore(t, models.PolicyNever)
	applier := &fakeApplier{}
	ctx := context.Background()

	_, err := s.Add(ctx, propertyConflict("c1", tEarlier, tLater), nil)
	require.NoError(t, err)

	status, err := s.Resolve(ctx, "c1", models.ResolutionSkipped, applier)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, status)
	assert.Empty(t, applier.applied)

	pending, err := s.Unresolved()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestStore_ResolveMergeCleanlyMergeable(t *testing.T) {
	s := newTestStore(t, models.PolicyNever)
	applier := &fakeApplier{}
	ctx := context.Background()

	c := propertyConflict("c1", tEarlier, tLater)
	c.Base = models.FieldMap{"tempo": 72, "capo": 0}
	c.Local.Fields = models.FieldMap{"tempo": 80, "capo": 0}
	c.Remote.Fields = models.FieldMap{"tempo": 72, "capo": 2}
	_, err := s.Add(ctx, c, nil)
	require.NoError(t, err)

	status, err := s.Resolve(ctx, "c1", models.ResolutionMerge, applier)
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, status)

	require.Len(t, applier.applied, 1)
	// Stored conflicts round-trip through JSON, so numbers come back as
	// float64.
	assert.Equal(t, models.FieldMap{"tempo": float64(80), "capo": float64(2)}, applier.applied[0].Merged)
}

func TestStore_ResolveMergeRequiresManual(t *testing.T) {
	s := newTestStore(t, models.PolicyNever)
	ctx := context.Background()

	c := propertyConflict("c1", tEarlier, tLater)
	c.Base = models.FieldMap{"content": "verse"}
	c.Local.Fields = models.FieldMap{"content": "verse local"}
	c.Remote.Fields = models.FieldMap{"content": "verse remote"}
	_, err := s.Add(ctx, c, nil)
	require.NoError(t, err)

	_, err = s.Resolve(ctx, "c1", models.ResolutionMerge, &fakeApplier{})
	assert.ErrorIs(t, err, ErrManualMergeRequired)

	// Nothing moved.
	pending, err := s.Unresolved()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestStore_ResolveWithFields(t *testing.T) {
	s := newTestStore(t, models.PolicyNever)
	applier := &fakeApplier{}
	ctx := context.Background()

	c := propertyConflict("c1", tEarlier, tLater)
	_, err := s.Add(ctx, c, nil)
	require.NoError(t, err)

	edited := models.FieldMap{"title": "Amazing Grace (2026)"}
	status, err := s.ResolveWithFields(ctx, "c1", edited, applier)
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, status)

	require.Len(t, applier.applied, 1)
	assert.Equal(t, edited, applier.applied[0].Merged)
	assert.Equal(t, models.ResolutionMerge, *applier.applied[0].Resolution)
}

func TestStore_PushFailureRequeues(t *testing.T) {
	s := newTestStore(t, models.PolicyNever)
	applier := &fakeApplier{err: ErrRemotePushFailed}
	ctx := context.Background()

	_, err := s.Add(ctx, propertyConflict("c1", tEarlier, tLater), nil)
	require.NoError(t, err)

	status, err := s.Resolve(ctx, "c1", models.ResolutionKeepLocal, applier)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingRetry, status)

	pending, err := s.Unresolved()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Retries)
	assert.Nil(t, pending[0].Resolution)

	// Resolution succeeds once the push does.
	applier.err = nil
	status, err = s.Resolve(ctx, "c1", models.ResolutionKeepLocal, applier)
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, status)
}

func TestStore_VanishedEntityDiscards(t *testing.T) {
	s := newTestStore(t, models.PolicyNever)
	applier := &fakeApplier{err: ErrEntityVanished}
	ctx := context.Background()

	_, err := s.Add(ctx, propertyConflict("c1", tEarlier, tLater), nil)
	require.NoError(t, err)

	status, err := s.Resolve(ctx, "c1", models.ResolutionKeepLocal, applier)
	require.NoError(t, err)
	assert.Equal(t, StatusDiscarded, status)

	pending, err := s.Unresolved()
	require.NoError(t, err)
	assert.Empty(t, pending)

	history, err := s.History(0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStore_UnresolvedOrdering(t *testing.T) {
	s := newTestStore(t, models.PolicyNever)
	ctx := context.Background()

	low := propertyConflict("c1", tEarlier, tLater)
	low.DetectedAt = tLater

	high := propertyConflict("c2", tEarlier, tLater)
	high.Kind = models.KindContentModification
	high.Priority = models.DerivePriority(high.Kind)
	high.DetectedAt = tEarlier

	_, err := s.Add(ctx, low, nil)
	require.NoError(t, err)
	_, err = s.Add(ctx, high, nil)
	require.NoError(t, err)

	pending, err := s.Unresolved()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "c2", pending[0].ID) // high priority first despite older
	assert.Equal(t, "c1", pending[1].ID)
}

func TestStore_PolicyPersists(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	require.NoError(t, st.Initialize())
	defer st.Close()

	s := New(st, models.PolicyNever, 0, nil)
	require.NoError(t, s.SetPolicy(models.PolicyLastWriteWins))

	// A fresh store over the same database sees the persisted policy even
	// when constructed with a different default.
	again := New(st, models.PolicyNever, 0, nil)
	assert.Equal(t, models.PolicyLastWriteWins, again.Policy())
}

func TestStore_Listeners(t *testing.T) {
	s := newTestStore(t, models.PolicyNever)
	ctx := context.Background()

	var added, resolved []string
	s.Subscribe(ListenerFuncs{
		Added:    func(c *models.SyncConflict) { added = append(added, c.ID) },
		Resolved: func(c *models.SyncConflict) { resolved = append(resolved, c.ID) },
	})

	_, err := s.Add(ctx, propertyConflict("c1", tEarlier, tLater), nil)
	require.NoError(t, err)
	_, err = s.Resolve(ctx, "c1", models.ResolutionKeepLocal, &fakeApplier{})
	require.NoError(t, err)

	assert.Equal(t, []string{"c1"}, added)
	assert.Equal(t, []string{"c1"}, resolved)
}

func TestStore_ClearHistoryKeepsUnresolved(t *testing.T) {
	s := newTestStore(t, models.PolicyNever)
	ctx := context.Background()

	_, err := s.Add(ctx, propertyConflict("c1", tEarlier, tLater), nil)
	require.NoError(t, err)
	c2 := propertyConflict("c2", tEarlier, tLater)
	c2.EntityID = "song-2"
	_, err = s.Add(ctx, c2, nil)
	require.NoError(t, err)

	_, err = s.Resolve(ctx, "c1", models.ResolutionKeepLocal, &fakeApplier{})
	require.NoError(t, err)

	require.NoError(t, s.ClearHistory())

	history, err := s.History(0)
	require.NoError(t, err)
	assert.Empty(t, history)

	pending, err := s.Unresolved()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
