package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/songsync-app/songsync/internal/models"
	"github.com/songsync-app/songsync/internal/remote"
	"github.com/songsync-app/songsync/internal/remote/recordstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	records, err := recordstore.NewBboltStore(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })

	cfg := DefaultServerConfig()
	cfg.TokenHash = HashToken(testToken)

	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
	h, cleanup := Handler(records, cfg, logger)
	t.Cleanup(cleanup)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

func newTestClient(srv *httptest.Server) *remote.HTTPClient {
	return remote.NewHTTPClient(srv.URL, testToken)
}

func TestHandler_Healthz(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandler_RequiresAuth(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/records/song")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest("GET", srv.URL+"/api/v1/records/song", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_PushAndFetch(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(srv)
	ctx := context.Background()

	tag, err := client.PushRecord(ctx, &remote.RecordSnapshot{
		EntityType: models.EntitySong,
		EntityID:   "s1",
		Fields:     models.FieldMap{"title": "Amazing Grace"},
		Device:     "laptop",
	}, "")
	require.NoError(t, err)
	require.NotEmpty(t, tag)

	rec, err := client.FetchRecord(ctx, models.EntitySong, "s1")
	require.NoError(t, err)
	assert.Equal(t, tag, rec.VersionTag)
	assert.Equal(t, "Amazing Grace", rec.Fields["title"])
	assert.Equal(t, "laptop", rec.Device)
}

func TestHandler_FetchMissing(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(srv)

	_, err := client.FetchRecord(context.Background(), models.EntitySong, "missing")
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestHandler_VersionConflict(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(srv)
	ctx := context.Background()

	rec := &remote.RecordSnapshot{
		EntityType: models.EntitySong,
		EntityID:   "s1",
		Fields:     models.FieldMap{"title": "v1"},
	}
	first, err := client.PushRecord(ctx, rec, "")
	require.NoError(t, err)

	rec.Fields = models.FieldMap{"title": "v2"}
	_, err = client.PushRecord(ctx, rec, first)
	require.NoError(t, err)

	// The stale tag is rejected with the server's current record attached.
	rec.Fields = models.FieldMap{"title": "v3"}
	_, err = client.PushRecord(ctx, rec, first)
	var vc *remote.VersionConflictError
	require.ErrorAs(t, err, &vc)
	assert.Equal(t, "v2", vc.Server.Fields["title"])
}

func TestHandler_ForcePush(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(srv)
	ctx := context.Background()

	_, err := client.PushRecord(ctx, &remote.RecordSnapshot{
		EntityType: models.EntitySong,
		EntityID:   "s1",
		Fields:     models.FieldMap{"title": "v1"},
	}, "")
	require.NoError(t, err)

	tag, err := client.ForcePushRecord(ctx, &remote.RecordSnapshot{
		EntityType: models.EntitySong,
		EntityID:   "s1",
		Fields:     models.FieldMap{"title": "resolved"},
	})
	require.NoError(t, err)

	rec, err := client.FetchRecord(ctx, models.EntitySong, "s1")
	require.NoError(t, err)
	assert.Equal(t, tag, rec.VersionTag)
	assert.Equal(t, "resolved", rec.Fields["title"])
}

func TestHandler_ListRecords(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(srv)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_, err := client.PushRecord(ctx, &remote.RecordSnapshot{
			EntityType: models.EntitySong,
			EntityID:   id,
			Fields:     models.FieldMap{"title": id},
		}, "")
		require.NoError(t, err)
	}

	recs, err := client.ListRecords(ctx, models.EntitySong)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	// No sets yet: an empty list, not an error.
	recs, err = client.ListRecords(ctx, models.EntitySet)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestHandler_UnknownEntityType(t *testing.T) {
	srv := newTestServer(t)

	req, _ := http.NewRequest("GET", srv.URL+"/api/v1/records/playlist", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_ChangeFeedBroadcast(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(srv)
	ctx := context.Background()

	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1) + "/api/v1/changes"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+testToken)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	// Registration happens just after the handshake; give it a moment
	// before pushing.
	time.Sleep(50 * time.Millisecond)

	tag, err := client.PushRecord(ctx, &remote.RecordSnapshot{
		EntityType: models.EntitySong,
		EntityID:   "s1",
		Fields:     models.FieldMap{"title": "T"},
		Device:     "laptop",
	}, "")
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev remote.ChangeEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, models.EntitySong, ev.EntityType)
	assert.Equal(t, "s1", ev.EntityID)
	assert.Equal(t, tag, ev.VersionTag)
	assert.Equal(t, "laptop", ev.Device)
}

// Concurrent push handlers broadcast to the same subscriber; every event
// must arrive and the connection writes must not interleave.
func TestHandler_ConcurrentBroadcasts(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(srv)
	ctx := context.Background()

	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1) + "/api/v1/changes"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+testToken)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)

	const pushes = 30
	var wg sync.WaitGroup
	for i := 0; i < pushes; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := client.PushRecord(ctx, &remote.RecordSnapshot{
				EntityType: models.EntitySong,
				EntityID:   fmt.Sprintf("s%d", i),
				Fields:     models.FieldMap{"title": "T"},
				Device:     "laptop",
			}, "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	seen := make(map[string]bool)
	for i := 0; i < pushes; i++ {
		var ev remote.ChangeEvent
		require.NoError(t, conn.ReadJSON(&ev))
		seen[ev.EntityID] = true
	}
	assert.Len(t, seen, pushes)
}
