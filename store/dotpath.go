package store

import "strings"

// Pick resolves a dot-path against a nested map and reports whether the
// full path was present. Intermediate segments that are not maps stop the
// walk.
func Pick(m map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	segments := strings.Split(path, ".")
	current := any(m)

	for _, segment := range segments {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// Assign writes value at the dot-path, creating intermediate maps as
// needed. An intermediate segment holding a non-map value is replaced by
// a map so the write always lands.
func Assign(m map[string]any, path string, value any) {
	if path == "" {
		return
	}

	segments := strings.Split(path, ".")
	node := m

	for _, segment := range segments[:len(segments)-1] {
		child, ok := node[segment].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[segment] = child
		}
		node = child
	}

	node[segments[len(segments)-1]] = value
}

// Truthy reports whether a picked value counts as set for completion
// checks. Missing values, nil, false, empty strings and numeric zero are
// not set; everything else is.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

// deepCopy clones JSON-shaped values (maps, slices, scalars) so records
// handed out by a store never alias its internal state.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
