package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/songsync-app/songsync/internal/models"
	"github.com/songsync-app/songsync/internal/remote"
	"github.com/songsync-app/songsync/internal/remote/recordstore"
)

// ServerConfig holds configurable limits for the server.
type ServerConfig struct {
	MaxRequestBody int64  // bytes, for JSON endpoints
	TokenHash      string // SHA-256 of the shared access token
}

// DefaultServerConfig returns reasonable defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		MaxRequestBody: 16 * 1024 * 1024, // 16MB
	}
}

// Handler creates the HTTP handler with all routes and middleware. The
// returned cleanup function disconnects change-feed subscribers and should
// be called on server shutdown.
func Handler(records recordstore.RecordStore, cfg *ServerConfig, logger *slog.Logger) (http.Handler, func()) {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	hub := newChangeHub(logger)
	auth := authMiddleware(cfg.TokenHash, logger)

	withAuth := func(h http.HandlerFunc) http.Handler {
		return applyMiddleware(h, auth)
	}

	mux := http.NewServeMux()

	// Health endpoint (no auth)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Records
	mux.Handle("GET /api/v1/records/{type}", withAuth(makeListRecordsHandler(records)))
	mux.Handle("GET /api/v1/records/{type}/{id}", withAuth(makeGetRecordHandler(records)))
	mux.Handle("PUT /api/v1/records/{type}/{id}", withAuth(makePushRecordHandler(records, hub, cfg)))

	// Change feed
	mux.Handle("GET /api/v1/changes", withAuth(hub.handleSubscribe))

	handler := applyMiddleware(mux,
		recoveryMiddleware(logger),
		loggingMiddleware(logger),
		requestIDMiddleware,
	)

	return handler, hub.closeAll
}

func entityTypeFromPath(r *http.Request) (models.EntityType, bool) {
	et := models.EntityType(r.PathValue("type"))
	return et, et.Valid()
}

func makeListRecordsHandler(records recordstore.RecordStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		et, ok := entityTypeFromPath(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "bad_request", "unknown entity type")
			return
		}

		recs, err := records.List(r.Context(), et)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		if recs == nil {
			recs = []*remote.RecordSnapshot{}
		}
		writeJSON(w, http.StatusOK, recs)
	}
}

func makeGetRecordHandler(records recordstore.RecordStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		et, ok := entityTypeFromPath(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "bad_request", "unknown entity type")
			return
		}

		rec, err := records.Get(r.Context(), et, r.PathValue("id"))
		if errors.Is(err, recordstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "record not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func makePushRecordHandler(records recordstore.RecordStore, hub *changeHub, cfg *ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		et, ok := entityTypeFromPath(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "bad_request", "unknown entity type")
			return
		}

		var req remote.PushRecordRequest
		body := http.MaxBytesReader(w, r.Body, cfg.MaxRequestBody)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
			return
		}
		if req.Record == nil {
			writeError(w, http.StatusBadRequest, "bad_request", "missing record")
			return
		}

		// The URL is authoritative for identity.
		req.Record.EntityType = et
		req.Record.EntityID = r.PathValue("id")

		stored, err := records.Put(r.Context(), req.Record, req.Expected, req.Force)
		if errors.Is(err, recordstore.ErrConflict) {
			writeJSON(w, http.StatusConflict, &remote.PushConflictResponse{Server: stored})
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}

		hub.broadcast(remote.ChangeEvent{
			EntityType: stored.EntityType,
			EntityID:   stored.EntityID,
			VersionTag: stored.VersionTag,
			Device:     stored.Device,
		})

		writeJSON(w, http.StatusOK, &remote.PushRecordResponse{VersionTag: stored.VersionTag})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, &remote.ErrorResponse{Error: code, Message: message})
}
