// Package fieldpath resolves dotted paths inside decoded JSON documents.
package fieldpath

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Get walks path ("a.b.c") through nested maps. Only map[string]any nodes are
// traversed; anything else ends the walk.
func Get(root map[string]any, path string) (any, bool) {
	if root == nil || path == "" {
		return nil, false
	}

	var cur any = root
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		val, ok := obj[part]
		if !ok {
			return nil, false
		}
		cur = val
	}
	return cur, true
}

// First returns the first non-empty value found across paths, in order.
func First(root map[string]any, paths ...string) (any, bool) {
	for _, p := range paths {
		if v, ok := Get(root, p); ok && !IsEmpty(v) {
			return v, true
		}
	}
	return nil, false
}

// IsEmpty reports whether v carries no information: nil, a blank string, or
// an empty map or slice. Zero numbers and false are values.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// String resolves the first path holding a string or a number.
func String(root map[string]any, paths ...string) (string, bool) {
	for _, p := range paths {
		v, ok := Get(root, p)
		if !ok || IsEmpty(v) {
			continue
		}
		if s, ok := AsString(v); ok {
			return s, true
		}
	}
	return "", false
}

// Float resolves the first path holding a number or a numeric string.
func Float(root map[string]any, paths ...string) (float64, bool) {
	for _, p := range paths {
		v, ok := Get(root, p)
		if !ok || IsEmpty(v) {
			continue
		}
		if f, ok := AsFloat(v); ok {
			return f, true
		}
	}
	return 0, false
}

// Map resolves the first path holding a non-empty object.
func Map(root map[string]any, paths ...string) (map[string]any, bool) {
	for _, p := range paths {
		v, ok := Get(root, p)
		if !ok {
			continue
		}
		if m, ok := v.(map[string]any); ok && len(m) > 0 {
			return m, true
		}
	}
	return nil, false
}

func AsString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

func AsFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
