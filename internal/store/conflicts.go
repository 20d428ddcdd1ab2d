package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/songsync-app/songsync/internal/models"
	bolt "go.etcd.io/bbolt"
)

// PutUnresolved inserts a conflict into the unresolved collection and bumps
// the detected counter. Returns false if a conflict with the same ID already
// exists in either collection; the insert is then a no-op.
func (s *Store) PutUnresolved(c *models.SyncConflict) (bool, error) {
	added := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		unresolved := tx.Bucket(bucketUnresolved)
		if unresolved.Get([]byte(c.ID)) != nil {
			return nil
		}
		if tx.Bucket(bucketResolvedIdx).Get([]byte(c.ID)) != nil {
			return nil
		}

		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal conflict: %w", err)
		}
		if err := unresolved.Put([]byte(c.ID), data); err != nil {
			return fmt.Errorf("store conflict: %w", err)
		}
		if err := incrementCounter(tx, counterDetected); err != nil {
			return err
		}

		added = true
		return nil
	})
	return added, err
}

// GetUnresolved retrieves an unresolved conflict by ID.
func (s *Store) GetUnresolved(id string) (*models.SyncConflict, error) {
	var c *models.SyncConflict
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketUnresolved).Get([]byte(id))
		if data == nil {
			if tx.Bucket(bucketResolvedIdx).Get([]byte(id)) != nil {
				return ErrAlreadyResolved
			}
			return ErrNotFound
		}
		c = &models.SyncConflict{}
		return json.Unmarshal(data, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateUnresolved overwrites an existing unresolved conflict (retry counter
// bumps and the like). Returns ErrNotFound if the conflict is not queued.
func (s *Store) UpdateUnresolved(c *models.SyncConflict) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUnresolved)
		if b.Get([]byte(c.ID)) == nil {
			return ErrNotFound
		}
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal conflict: %w", err)
		}
		return b.Put([]byte(c.ID), data)
	})
}

// DeleteUnresolved removes an unresolved conflict without resolving it
// (used when the underlying entity no longer exists).
func (s *Store) DeleteUnresolved(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUnresolved)
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

// ListUnresolved returns all unresolved conflicts in key order.
func (s *Store) ListUnresolved() ([]*models.SyncConflict, error) {
	var conflicts []*models.SyncConflict
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUnresolved).ForEach(func(_, v []byte) error {
			var c models.SyncConflict
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("unmarshal conflict: %w", err)
			}
			conflicts = append(conflicts, &c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return conflicts, nil
}

// MoveToResolved atomically removes the conflict from the unresolved
// collection, appends it to history, bumps the matching resolution counter,
// and prunes history entries beyond cap (oldest first). The conflict must
// carry its resolution and resolved timestamp.
func (s *Store) MoveToResolved(c *models.SyncConflict, cap int) error {
	if c.Resolution == nil || c.ResolvedAt == nil {
		return fmt.Errorf("conflict %s has no resolution to record", c.ID)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		unresolved := tx.Bucket(bucketUnresolved)
		if unresolved.Get([]byte(c.ID)) == nil {
			if tx.Bucket(bucketResolvedIdx).Get([]byte(c.ID)) != nil {
				return ErrAlreadyResolved
			}
			return ErrNotFound
		}
		if err := unresolved.Delete([]byte(c.ID)); err != nil {
			return fmt.Errorf("remove unresolved conflict: %w", err)
		}

		key := resolvedKey(*c.ResolvedAt, c.ID)
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal conflict: %w", err)
		}
		resolved := tx.Bucket(bucketResolved)
		if err := resolved.Put(key, data); err != nil {
			return fmt.Errorf("store resolved conflict: %w", err)
		}
		if err := tx.Bucket(bucketResolvedIdx).Put([]byte(c.ID), key); err != nil {
			return fmt.Errorf("index resolved conflict: %w", err)
		}

		counter := counterUserResolved
		if c.AutoResolved {
			counter = counterAutoResolved
		}
		if err := incrementCounter(tx, counter); err != nil {
			return err
		}

		return pruneResolved(tx, cap)
	})
}

// ListResolved returns up to limit resolved conflicts, most recent first.
// A non-positive limit returns the full retained history.
func (s *Store) ListResolved(limit int) ([]*models.SyncConflict, error) {
	var conflicts []*models.SyncConflict
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketResolved).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(conflicts) >= limit {
				break
			}
			var sc models.SyncConflict
			if err := json.Unmarshal(v, &sc); err != nil {
				return fmt.Errorf("unmarshal resolved conflict: %w", err)
			}
			conflicts = append(conflicts, &sc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conflicts, nil
}

// ClearResolved removes the entire resolved history. The counters are left
// untouched; they are reset separately.
func (s *Store) ClearResolved() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketResolved, bucketResolvedIdx} {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("clear bucket %s: %w", name, err)
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return fmt.Errorf("recreate bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Stats returns the resolution counters.
func (s *Store) Stats() (*models.Stats, error) {
	stats := &models.Stats{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCounters)
		stats.TotalDetected = readCounter(b, counterDetected)
		stats.TotalAutoResolved = readCounter(b, counterAutoResolved)
		stats.TotalUserResolved = readCounter(b, counterUserResolved)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// ResetStats zeroes all resolution counters.
func (s *Store) ResetStats() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCounters)
		for _, key := range [][]byte{counterDetected, counterAutoResolved, counterUserResolved} {
			if err := b.Put(key, []byte("0")); err != nil {
				return fmt.Errorf("reset counter %s: %w", key, err)
			}
		}
		return nil
	})
}

// resolvedKey builds a history key that sorts by resolution time, with the
// conflict ID as tie-breaker. The fraction is fixed-width so lexicographic
// order matches chronological order within a second.
func resolvedKey(resolvedAt time.Time, id string) []byte {
	return []byte(resolvedAt.UTC().Format("2006-01-02T15:04:05.000000000") + "|" + id)
}

// pruneResolved drops the oldest history entries until at most cap remain.
// A non-positive cap disables pruning.
func pruneResolved(tx *bolt.Tx, cap int) error {
	if cap <= 0 {
		return nil
	}
	resolved := tx.Bucket(bucketResolved)
	idx := tx.Bucket(bucketResolvedIdx)

	// Bucket stats lag behind writes made in this transaction, so count
	// keys with a cursor.
	total := 0
	c := resolved.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		total++
	}

	excess := total - cap
	for k, v := c.First(); k != nil && excess > 0; k, v = c.Next() {
		var sc models.SyncConflict
		if err := json.Unmarshal(v, &sc); err == nil {
			if err := idx.Delete([]byte(sc.ID)); err != nil {
				return fmt.Errorf("prune resolved index: %w", err)
			}
		}
		if err := c.Delete(); err != nil {
			return fmt.Errorf("prune resolved conflict: %w", err)
		}
		excess--
	}
	return nil
}

func incrementCounter(tx *bolt.Tx, key []byte) error {
	b := tx.Bucket(bucketCounters)
	n := readCounter(b, key)
	if err := b.Put(key, []byte(strconv.Itoa(n+1))); err != nil {
		return fmt.Errorf("increment counter %s: %w", key, err)
	}
	return nil
}

func readCounter(b *bolt.Bucket, key []byte) int {
	v := b.Get(key)
	if v == nil {
		return 0
	}
	n, err := strconv.Atoi(string(v))
	if err != nil {
		return 0
	}
	return n
}
