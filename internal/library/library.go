// Package library provides SQLite-based storage for the local copy of the
// user's entities (songs, sets, memberships). Each entity is a field map
// plus the sync bookkeeping the coordinator needs: the last version tag
// acknowledged by the backend and a dirty flag for pending local edits.
package library

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/songsync-app/songsync/internal/models"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an entity does not exist locally.
var ErrNotFound = errors.New("entity not found")

// Entity is a locally stored entity with its sync state.
type Entity struct {
	EntityType models.EntityType
	EntityID   string
	Fields     models.FieldMap
	VersionTag string // last backend version tag this device has seen
	Dirty      bool   // true if local edits have not been pushed
	Deleted    bool   // true if a local deletion has not been pushed
	UpdatedAt  time.Time

	// BaseFields is the snapshot of the last state the backend
	// acknowledged. It survives local edits and serves as the common
	// ancestor for three-way merges.
	BaseFields models.FieldMap
}

// Library represents the local SQLite entity database.
type Library struct {
	db *sql.DB
}

// New creates a new library connection.
func New(dbPath string) (*Library, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Library{db: db}, nil
}

// Close closes the database connection.
func (l *Library) Close() error {
	return l.db.Close()
}

// Initialize creates the database schema.
func (l *Library) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		fields JSON NOT NULL,
		base_fields JSON,
		version_tag TEXT NOT NULL DEFAULT '',
		dirty BOOLEAN NOT NULL DEFAULT FALSE,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (entity_type, entity_id)
	);

	CREATE INDEX IF NOT EXISTS idx_entities_dirty ON entities(dirty);
	`

	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// ReadEntity returns the field map for an entity. A pending local deletion
// reads as not found.
func (l *Library) ReadEntity(entityType models.EntityType, entityID string) (models.FieldMap, error) {
	e, err := l.GetEntity(entityType, entityID)
	if err != nil {
		return nil, err
	}
	if e.Deleted {
		return nil, ErrNotFound
	}
	return e.Fields, nil
}

// GetEntity returns an entity with its sync state.
func (l *Library) GetEntity(entityType models.EntityType, entityID string) (*Entity, error) {
	row := l.db.QueryRow(
		`SELECT fields, base_fields, version_tag, dirty, deleted, updated_at FROM entities
		 WHERE entity_type = ? AND entity_id = ?`,
		string(entityType), entityID,
	)

	var fieldsJSON string
	var baseJSON sql.NullString
	var updatedAt string
	e := &Entity{EntityType: entityType, EntityID: entityID}
	err := row.Scan(&fieldsJSON, &baseJSON, &e.VersionTag, &e.Dirty, &e.Deleted, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read entity: %w", err)
	}

	if err := json.Unmarshal([]byte(fieldsJSON), &e.Fields); err != nil {
		return nil, fmt.Errorf("parse entity fields: %w", err)
	}
	if baseJSON.Valid && baseJSON.String != "" {
		if err := json.Unmarshal([]byte(baseJSON.String), &e.BaseFields); err != nil {
			return nil, fmt.Errorf("parse entity base fields: %w", err)
		}
	}
	e.UpdatedAt = parseTimestamp(updatedAt)
	return e, nil
}

// WriteEntity upserts an entity's field map and marks it dirty so the next
// sync pass pushes the change.
func (l *Library) WriteEntity(entityType models.EntityType, entityID string, fields models.FieldMap) error {
	return l.writeEntity(entityType, entityID, fields, "", true)
}

// ApplyRemote upserts an entity from a backend record: the field map is
// stored clean with the backend's version tag.
func (l *Library) ApplyRemote(entityType models.EntityType, entityID string, fields models.FieldMap, versionTag string) error {
	return l.writeEntity(entityType, entityID, fields, versionTag, false)
}

func (l *Library) writeEntity(entityType models.EntityType, entityID string, fields models.FieldMap, versionTag string, dirty bool) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal entity fields: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if dirty {
		// Local edit: preserve the last acknowledged tag and base snapshot.
		// A write revives a pending local deletion.
		_, err = l.db.Exec(
			`INSERT INTO entities (entity_type, entity_id, fields, version_tag, dirty, updated_at)
			 VALUES (?, ?, ?, '', TRUE, ?)
			 ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			   fields = excluded.fields, dirty = TRUE, deleted = FALSE,
			   updated_at = excluded.updated_at`,
			string(entityType), entityID, string(data), now,
		)
	} else {
		// Backend state: the stored fields become the new merge base.
		_, err = l.db.Exec(
			`INSERT INTO entities (entity_type, entity_id, fields, base_fields, version_tag, dirty, updated_at)
			 VALUES (?, ?, ?, ?, ?, FALSE, ?)
			 ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			   fields = excluded.fields, base_fields = excluded.base_fields,
			   version_tag = excluded.version_tag,
			   dirty = FALSE, deleted = FALSE, updated_at = excluded.updated_at`,
			string(entityType), entityID, string(data), string(data), versionTag, now,
		)
	}
	if err != nil {
		return fmt.Errorf("write entity: %w", err)
	}
	return nil
}

// CreateEntity inserts a new entity with a generated ID and returns it.
func (l *Library) CreateEntity(entityType models.EntityType, fields models.FieldMap) (string, error) {
	entityID := uuid.New().String()
	if err := l.WriteEntity(entityType, entityID, fields); err != nil {
		return "", err
	}
	return entityID, nil
}

// DeleteEntity marks an entity as locally deleted. The row stays behind as a
// dirty tombstone so the next sync pass propagates the deletion instead of
// the pull phase resurrecting the entity from the backend.
func (l *Library) DeleteEntity(entityType models.EntityType, entityID string) error {
	res, err := l.db.Exec(
		`UPDATE entities SET deleted = TRUE, dirty = TRUE, updated_at = ?
		 WHERE entity_type = ? AND entity_id = ? AND deleted = FALSE`,
		time.Now().UTC().Format(time.RFC3339Nano), string(entityType), entityID,
	)
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeEntity removes an entity's row entirely. Used once the backend has
// acknowledged a deletion, or when applying a deletion decided elsewhere.
func (l *Library) PurgeEntity(entityType models.EntityType, entityID string) error {
	res, err := l.db.Exec(
		"DELETE FROM entities WHERE entity_type = ? AND entity_id = ?",
		string(entityType), entityID,
	)
	if err != nil {
		return fmt.Errorf("purge entity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSynced records that the backend accepted the entity's current state
// under the given version tag and clears the dirty flag.
func (l *Library) MarkSynced(entityType models.EntityType, entityID, versionTag string) error {
	res, err := l.db.Exec(
		`UPDATE entities SET version_tag = ?, dirty = FALSE, base_fields = fields
		 WHERE entity_type = ? AND entity_id = ?`,
		versionTag, string(entityType), entityID,
	)
	if err != nil {
		return fmt.Errorf("mark entity synced: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDirty returns all entities with unpushed local edits, tombstones
// included.
func (l *Library) ListDirty() ([]*Entity, error) {
	return l.list("WHERE dirty = TRUE")
}

// ListEntities returns all live entities of the given type.
func (l *Library) ListEntities(entityType models.EntityType) ([]*Entity, error) {
	return l.list("WHERE entity_type = ? AND deleted = FALSE", string(entityType))
}

func (l *Library) list(where string, args ...any) ([]*Entity, error) {
	rows, err := l.db.Query(
		`SELECT entity_type, entity_id, fields, base_fields, version_tag, dirty, deleted, updated_at
		 FROM entities `+where+` ORDER BY entity_type, entity_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var entities []*Entity
	for rows.Next() {
		var e Entity
		var entityType, fieldsJSON, updatedAt string
		var baseJSON sql.NullString
		if err := rows.Scan(&entityType, &e.EntityID, &fieldsJSON, &baseJSON, &e.VersionTag, &e.Dirty, &e.Deleted, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		e.EntityType = models.EntityType(entityType)
		if err := json.Unmarshal([]byte(fieldsJSON), &e.Fields); err != nil {
			return nil, fmt.Errorf("parse entity fields: %w", err)
		}
		if baseJSON.Valid && baseJSON.String != "" {
			if err := json.Unmarshal([]byte(baseJSON.String), &e.BaseFields); err != nil {
				return nil, fmt.Errorf("parse entity base fields: %w", err)
			}
		}
		e.UpdatedAt = parseTimestamp(updatedAt)
		entities = append(entities, &e)
	}
	return entities, rows.Err()
}

// parseTimestamp parses a timestamp string from SQLite in various formats.
func parseTimestamp(s string) time.Time {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
