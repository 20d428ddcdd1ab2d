// Package merge implements the three-way field merge engine.
//
// The engine is a pure function over field maps: identical inputs always
// yield identical output, it performs no I/O, and it never fails. What looks
// like failure (genuine field-level conflicts) is reported in the result.
package merge

import (
	"sort"
	"time"

	"github.com/songsync-app/songsync/internal/models"
)

// Result is the outcome of merging two divergent field maps.
type Result struct {
	// Merged contains the combined field map. Conflicting fields hold the
	// provisional value of the more recently captured side.
	Merged models.FieldMap

	// ConflictingFields lists fields both sides changed to different
	// values, sorted by name.
	ConflictingFields []string

	// CanAutoResolve is true iff ConflictingFields is empty.
	CanAutoResolve bool
}

// fieldValue carries a value together with its presence, so a deleted field
// and a field set to nil compare as different states.
type fieldValue struct {
	value   any
	present bool
}

func (f fieldValue) equal(other fieldValue) bool {
	if f.present != other.present {
		return false
	}
	if !f.present {
		return true
	}
	return models.ValuesEqual(f.value, other.value)
}

// Merge combines local and remote field maps, optionally informed by the
// common-ancestor snapshot base. A nil base degrades to pairwise-equality
// merging. The capture timestamps pick the provisional winner for fields
// both sides changed; a tie prefers the remote side.
func Merge(local, remote, base models.FieldMap, localAt, remoteAt time.Time) *Result {
	result := &Result{Merged: make(models.FieldMap)}
	remoteWins := !localAt.After(remoteAt)

	for _, name := range allFieldNames(local, remote, base) {
		lv := lookup(local, name)
		rv := lookup(remote, name)
		bv := lookup(base, name)

		var winner fieldValue
		switch {
		case base == nil:
			if lv.equal(rv) {
				winner = lv
				break
			}
			// No ancestor to arbitrate with: any divergence is a
			// genuine conflict.
			result.ConflictingFields = append(result.ConflictingFields, name)
			winner = pickLater(lv, rv, remoteWins)

		case lv.equal(bv) && rv.equal(bv):
			winner = bv
		case lv.equal(bv):
			winner = rv // only remote changed
		case rv.equal(bv):
			winner = lv // only local changed
		case lv.equal(rv):
			winner = lv // both changed to the same value
		default:
			result.ConflictingFields = append(result.ConflictingFields, name)
			winner = pickLater(lv, rv, remoteWins)
		}

		if winner.present {
			result.Merged[name] = winner.value
		}
	}

	result.CanAutoResolve = len(result.ConflictingFields) == 0
	return result
}

// ChangedFields returns the names of fields whose value in snapshot differs
// from the ancestor, sorted by name. Used to annotate conflict versions.
func ChangedFields(snapshot, ancestor models.FieldMap) []string {
	var changed []string
	for _, name := range allFieldNames(snapshot, ancestor, nil) {
		if !lookup(snapshot, name).equal(lookup(ancestor, name)) {
			changed = append(changed, name)
		}
	}
	return changed
}

func pickLater(lv, rv fieldValue, remoteWins bool) fieldValue {
	if remoteWins {
		return rv
	}
	return lv
}

func lookup(m models.FieldMap, name string) fieldValue {
	if m == nil {
		return fieldValue{}
	}
	v, ok := m[name]
	return fieldValue{value: v, present: ok}
}

// allFieldNames returns the union of field names, sorted so the merge walks
// fields in a stable order.
func allFieldNames(maps ...models.FieldMap) []string {
	seen := make(map[string]bool)
	for _, m := range maps {
		for name := range m {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
