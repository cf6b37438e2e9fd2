package store

import "encoding/json"

// jsonOf marshals m for a JSONB column, defaulting to an empty object so
// NULL never reaches a NOT NULL JSONB column.
func jsonOf(m map[string]any) []byte {
	if m == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// mustUnmarshalMap decodes a JSONB column back into a map, treating NULL
// or malformed content as empty rather than panicking — defensive only at
// this storage boundary, never at request validation.
func mustUnmarshalMap(b []byte) map[string]any {
	if len(b) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{}
	}
	return m
}

// jsonOfAny marshals an arbitrary scalar/JSON value for a JSONB column.
func jsonOfAny(v any) []byte {
	if v == nil {
		return []byte("null")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

// mustUnmarshalAny decodes a JSONB column into an untyped value.
func mustUnmarshalAny(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	return v
}
