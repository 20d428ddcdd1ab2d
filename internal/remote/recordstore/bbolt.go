package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/songsync-app/songsync/internal/models"
	"github.com/songsync-app/songsync/internal/remote"
	bolt "go.etcd.io/bbolt"
)

var bucketRecords = []byte("records")

// compile-time interface check
var _ RecordStore = (*BboltStore)(nil)

// BboltStore implements RecordStore using bbolt.
type BboltStore struct {
	db *bolt.DB
}

// NewBboltStore opens or creates a bbolt database at the given path.
func NewBboltStore(dbPath string) (*BboltStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create record directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open record database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create records bucket: %w", err)
	}

	return &BboltStore{db: db}, nil
}

// Close releases the bbolt database.
func (s *BboltStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// recordKey builds the bucket key for an entity record.
func recordKey(entityType models.EntityType, entityID string) []byte {
	return []byte(string(entityType) + "/" + entityID)
}

// Get retrieves a record by entity identity. Returns ErrNotFound if missing.
func (s *BboltStore) Get(_ context.Context, entityType models.EntityType, entityID string) (*remote.RecordSnapshot, error) {
	var rec *remote.RecordSnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRecords).Get(recordKey(entityType, entityID))
		if data == nil {
			return ErrNotFound
		}
		rec = &remote.RecordSnapshot{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns all records of a type by prefix scan, sorted by entity ID.
func (s *BboltStore) List(_ context.Context, entityType models.EntityType) ([]*remote.RecordSnapshot, error) {
	var recs []*remote.RecordSnapshot

	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := string(entityType) + "/"
		c := tx.Bucket(bucketRecords).Cursor()
		for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			var rec remote.RecordSnapshot
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal record %s: %w", k, err)
			}
			recs = append(recs, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].EntityID < recs[j].EntityID
	})
	return recs, nil
}

// Put performs a compare-and-swap write of a record. On a version mismatch
// the currently stored record is returned together with ErrConflict.
func (s *BboltStore) Put(_ context.Context, rec *remote.RecordSnapshot, expected string, force bool) (*remote.RecordSnapshot, error) {
	stored := &remote.RecordSnapshot{
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Fields:     rec.Fields,
		Deleted:    rec.Deleted,
		Device:     rec.Device,
		VersionTag: uuid.New().String(),
		UpdatedAt:  time.Now().UTC(),
	}

	var current *remote.RecordSnapshot
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		key := recordKey(rec.EntityType, rec.EntityID)

		if !force {
			data := b.Get(key)
			if data == nil {
				if expected != "" {
					// The record vanished under the client: surface
					// it as a conflict against a deletion.
					current = &remote.RecordSnapshot{
						EntityType: rec.EntityType,
						EntityID:   rec.EntityID,
						Deleted:    true,
						UpdatedAt:  time.Now().UTC(),
					}
					return ErrConflict
				}
			} else {
				current = &remote.RecordSnapshot{}
				if err := json.Unmarshal(data, current); err != nil {
					return fmt.Errorf("unmarshal stored record: %w", err)
				}
				if current.VersionTag != expected {
					return ErrConflict
				}
			}
		}

		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		return b.Put(key, data)
	})

	if err != nil {
		if err == ErrConflict {
			return current, err
		}
		return nil, err
	}
	return stored, nil
}
