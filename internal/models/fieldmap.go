package models

import (
	"encoding/json"
	"fmt"
)

// FieldMap holds the resolution-relevant attributes of an entity
// (title, content, key, tempo, timestamps, ...) keyed by field name.
type FieldMap map[string]any

// Clone returns a shallow copy of the field map. Values are shared;
// callers must not mutate nested values of either copy.
func (f FieldMap) Clone() FieldMap {
	if f == nil {
		return nil
	}
	out := make(FieldMap, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// EncodeValue returns a canonical string encoding of a field value.
// encoding/json sorts map keys, so identical values always encode
// identically regardless of insertion order.
func EncodeValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// ValuesEqual compares two field values by their canonical encoding.
// Field equality is byte-exact; no type-specific loosening is applied.
func ValuesEqual(a, b any) bool {
	return EncodeValue(a) == EncodeValue(b)
}
