// Package remote defines the record-store backend contract and the HTTP
// client for songsync-server communication.
package remote

import (
	"time"

	"github.com/songsync-app/songsync/internal/models"
)

// RecordSnapshot is the wire representation of one entity record as held by
// the backend or as attempted by a device. Deleted records remain visible
// as tombstones so devices can observe deletions.
type RecordSnapshot struct {
	EntityType models.EntityType `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Fields     models.FieldMap   `json:"fields,omitempty"`
	VersionTag string            `json:"version_tag"`
	Deleted    bool              `json:"deleted,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Device     string            `json:"device,omitempty"`
}

// PushRecordRequest asks the server to store a record. Expected is the
// version tag the client last saw; an empty Expected means the record must
// not exist yet. Force bypasses the version check entirely (used when
// applying a resolved conflict).
type PushRecordRequest struct {
	Record   *RecordSnapshot `json:"record"`
	Expected string          `json:"expected,omitempty"`
	Force    bool            `json:"force,omitempty"`
}

// PushRecordResponse carries the version tag assigned to the stored record.
type PushRecordResponse struct {
	VersionTag string `json:"version_tag"`
}

// PushConflictResponse is returned with HTTP 409 when the server's version
// tag does not match the client's expectation. It carries the server's
// current record so the client can build a conflict without a second fetch.
type PushConflictResponse struct {
	Server *RecordSnapshot `json:"server"`
}

// ChangeEvent is broadcast over the change feed after a record mutation is
// committed on the server.
type ChangeEvent struct {
	EntityType models.EntityType `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	VersionTag string            `json:"version_tag"`
	Device     string            `json:"device,omitempty"`
}

// ErrorResponse is the structured error format returned by the server.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
