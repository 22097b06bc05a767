// Package object defines the row-level domain values the live-query engine tracks: table rows,
// table schemas, client identities and transaction statuses.
package object

import (
	"encoding/json"
	"fmt"
)

// Row is a decoded table row: a JSON-like document of column names to values. Values may be
// nested maps, slices and primitives (int64, float64, string, bool, nil).
type Row = map[string]any

// NewRow creates a row from column/value pairs.
func NewRow(pairs ...any) (Row, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("NewRow requires an even number of arguments (column-value pairs)")
	}

	row := make(Row, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		col, ok := pairs[i].(string)
		if !ok {
			return nil, fmt.Errorf("column name at position %d must be a string", i)
		}
		row[col] = pairs[i+1]
	}

	return row, nil
}

// MustRow is like NewRow but panics on malformed input. Meant for fixtures.
func MustRow(pairs ...any) Row {
	row, err := NewRow(pairs...)
	if err != nil {
		panic(err)
	}
	return row
}

// Encode returns the canonical encoding of a value. Maps are encoded with sorted keys and
// numbers by their JSON form, so two structurally equal values encode to the same bytes.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return b, nil
}

// DeepEqual reports whether two rows are structurally equal.
func DeepEqual(a, b Row) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ka, err := Encode(a)
	if err != nil {
		return false
	}
	kb, err := Encode(b)
	if err != nil {
		return false
	}
	return string(ka) == string(kb)
}

// DeepCopy returns a deep copy of a row.
func DeepCopy(row Row) Row {
	if row == nil {
		return nil
	}
	return deepCopy(row).(Row)
}

func deepCopy(val any) any {
	switch v := val.(type) {
	case map[string]any:
		ret := make(map[string]any, len(v))
		for k, sub := range v {
			ret[k] = deepCopy(sub)
		}
		return ret
	case []any:
		ret := make([]any, len(v))
		for i, sub := range v {
			ret[i] = deepCopy(sub)
		}
		return ret
	default:
		// primitives are immutable
		return v
	}
}

// String returns a human-readable form of a row.
func String(row Row) string {
	b, err := Encode(row)
	if err != nil {
		return fmt.Sprintf("%#v", row)
	}
	return string(b)
}
