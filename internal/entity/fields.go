package entity

import "time"

// Fields is the generic row shape exchanged with the store and the backend.
// Keys mirror the JSON field names of the typed records.
type Fields map[string]any

// MetadataFields are excluded from conflict detection: they describe the
// record's lifecycle, not operator-entered data.
var MetadataFields = map[string]bool{
	"id":            true,
	"created_at":    true,
	"updated_at":    true,
	"last_modified": true,
	"synced":        true,
}

// ID returns the record identifier, or "" when absent.
func (f Fields) ID() string {
	if v, ok := f["id"].(string); ok {
		return v
	}
	return ""
}

// Clone returns a shallow copy of the field map.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Timestamp extracts the record's modification time, preferring updated_at
// over last_modified. The boolean is false when neither field holds a
// parseable RFC3339 timestamp; the resolver treats such records as older
// than any valid one.
func (f Fields) Timestamp() (time.Time, bool) {
	for _, key := range []string{"updated_at", "last_modified"} {
		s, ok := f[key].(string)
		if !ok || s == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Empty reports whether v carries no operator-entered value: nil, "", an
// empty slice or an empty map. Used by the merge strategy to decide whether
// a local value may override the remote one.
func Empty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}
