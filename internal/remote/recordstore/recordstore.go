// Package recordstore implements the server-side record storage for
// songsync-server: one versioned record per entity, with compare-and-swap
// writes and tombstones for deletions. The server never merges; a write
// whose expected version tag does not match simply loses.
package recordstore

import (
	"context"
	"errors"

	"github.com/songsync-app/songsync/internal/models"
	"github.com/songsync-app/songsync/internal/remote"
)

// Sentinel errors returned by record stores.
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("version conflict")
)

// RecordStore is the interface for server-side record persistence.
type RecordStore interface {
	// Get returns the record for an entity, including tombstones.
	Get(ctx context.Context, entityType models.EntityType, entityID string) (*remote.RecordSnapshot, error)

	// List returns all records of a type sorted by entity ID.
	List(ctx context.Context, entityType models.EntityType) ([]*remote.RecordSnapshot, error)

	// Put stores a record and assigns it a fresh version tag. With force
	// false, the write succeeds only if the stored version tag equals
	// expected (empty expected means the record must not exist yet); on a
	// mismatch the currently stored record is returned with ErrConflict.
	Put(ctx context.Context, rec *remote.RecordSnapshot, expected string, force bool) (*remote.RecordSnapshot, error)

	Close() error
}
