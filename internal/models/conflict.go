// Package models defines the data types shared across the songsync core:
// field maps, conflict records, resolutions, and statistics.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// EntityType identifies which kind of domain entity is in conflict.
type EntityType string

const (
	EntitySong       EntityType = "song"       // a single song document
	EntitySet        EntityType = "set"        // a performance set list
	EntityMembership EntityType = "membership" // a song's membership in a set
)

// Valid reports whether the entity type is one of the known kinds.
func (e EntityType) Valid() bool {
	switch e {
	case EntitySong, EntitySet, EntityMembership:
		return true
	}
	return false
}

// ConflictKind classifies what kind of divergence occurred.
type ConflictKind string

const (
	KindContentModification ConflictKind = "content-modification" // both sides edited body text
	KindDeletion            ConflictKind = "deletion"             // one side deleted the entity
	KindProperty            ConflictKind = "property"             // only metadata differs
)

// Resolution is the decided outcome for a conflict.
type Resolution string

const (
	ResolutionKeepLocal  Resolution = "keep-local"
	ResolutionKeepRemote Resolution = "keep-remote"
	ResolutionKeepBoth   Resolution = "keep-both"
	ResolutionMerge      Resolution = "merge"
	ResolutionSkipped    Resolution = "skipped"
)

// Valid reports whether the resolution is one of the known outcomes.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionKeepLocal, ResolutionKeepRemote, ResolutionKeepBoth, ResolutionMerge, ResolutionSkipped:
		return true
	}
	return false
}

// Priority is a derived ordering hint for presenting conflicts.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank returns a sortable weight for the priority (higher is more urgent).
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	}
	return 0
}

// DerivePriority maps a conflict kind to its presentation priority.
// Content edits and deletions risk user data, metadata does not.
func DerivePriority(kind ConflictKind) Priority {
	switch kind {
	case KindContentModification:
		return PriorityHigh
	case KindDeletion:
		return PriorityNormal
	}
	return PriorityLow
}

// ConflictVersion is an immutable snapshot of one side of a collision.
type ConflictVersion struct {
	CapturedAt    time.Time `json:"captured_at"`
	OriginDevice  string    `json:"origin_device"`
	Fields        FieldMap  `json:"fields"`
	ChangedFields []string  `json:"changed_fields,omitempty"` // fields known to differ from the common ancestor
	IsDeletion    bool      `json:"is_deletion"`
}

// SyncConflict is the unit of reconciliation between two divergent writes.
type SyncConflict struct {
	ID         string          `json:"id"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Kind       ConflictKind    `json:"kind"`
	Local      ConflictVersion `json:"local"`
	Remote     ConflictVersion `json:"remote"`
	DetectedAt time.Time       `json:"detected_at"`
	Priority   Priority        `json:"priority"`

	// Base is the last state both devices agreed on, when determinable.
	// Nil when no common ancestor is known; the merge engine then falls
	// back to pairwise comparison.
	Base FieldMap `json:"base,omitempty"`

	// Resolution is nil while the conflict is unresolved. Once set the
	// conflict lives in history and is read-only.
	Resolution   *Resolution `json:"resolution,omitempty"`
	ResolvedAt   *time.Time  `json:"resolved_at,omitempty"`
	AutoResolved bool        `json:"auto_resolved,omitempty"`

	// Merged holds the field map chosen for a merge resolution,
	// either computed by the merge engine or supplied by the user.
	Merged FieldMap `json:"merged,omitempty"`

	// Retries counts failed attempts to apply a decided resolution.
	Retries int `json:"retries,omitempty"`
}

// Resolved reports whether a resolution has been applied.
func (c *SyncConflict) Resolved() bool {
	return c.Resolution != nil
}

// Clone returns a copy of the conflict safe to annotate with a staged
// resolution without touching the stored record.
func (c *SyncConflict) Clone() *SyncConflict {
	out := *c
	out.Local.Fields = c.Local.Fields.Clone()
	out.Remote.Fields = c.Remote.Fields.Clone()
	out.Base = c.Base.Clone()
	out.Merged = c.Merged.Clone()
	if c.Resolution != nil {
		r := *c.Resolution
		out.Resolution = &r
	}
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		out.ResolvedAt = &t
	}
	out.Local.ChangedFields = append([]string(nil), c.Local.ChangedFields...)
	out.Remote.ChangedFields = append([]string(nil), c.Remote.ChangedFields...)
	return &out
}

// ShortID returns a truncated conflict ID for display.
func (c *SyncConflict) ShortID() string {
	if len(c.ID) > 8 {
		return c.ID[:8]
	}
	return c.ID
}

// ConflictID derives a stable identity for a collision from the entity and
// both snapshot timestamps. The same pair of competing writes always maps
// to the same ID, which is what makes conflict creation idempotent.
func ConflictID(entityType EntityType, entityID string, localAt, remoteAt time.Time) string {
	data := fmt.Sprintf("%s|%s|%s|%s",
		entityType, entityID,
		localAt.UTC().Format(time.RFC3339Nano),
		remoteAt.UTC().Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:16])
}
