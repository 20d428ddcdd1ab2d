package conflict

import "github.com/songsync-app/songsync/internal/models"

// Listener receives conflict lifecycle notifications. Both methods are
// invoked synchronously after the corresponding store mutation has been
// durably persisted, so a listener can never observe a state change that a
// crash could roll back.
type Listener interface {
	ConflictAdded(c *models.SyncConflict)
	ConflictResolved(c *models.SyncConflict)
}

// ListenerFuncs adapts plain functions to the Listener interface. Nil
// functions are skipped.
type ListenerFuncs struct {
	Added    func(c *models.SyncConflict)
	Resolved func(c *models.SyncConflict)
}

func (l ListenerFuncs) ConflictAdded(c *models.SyncConflict) {
	if l.Added != nil {
		l.Added(c)
	}
}

func (l ListenerFuncs) ConflictResolved(c *models.SyncConflict) {
	if l.Resolved != nil {
		l.Resolved(c)
	}
}

func (s *Store) notifyAdded(c *models.SyncConflict) {
	s.mu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()
	for _, l := range listeners {
		l.ConflictAdded(c)
	}
}

func (s *Store) notifyResolved(c *models.SyncConflict) {
	s.mu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()
	for _, l := range listeners {
		l.ConflictResolved(c)
	}
}
