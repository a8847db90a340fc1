package client

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Attributes unwraps a Pterodactyl list item. Items normally look like
// {"object": "...", "attributes": {...}}; bare objects are returned unchanged.
func Attributes(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	if attrs, ok := m["attributes"].(map[string]any); ok {
		return attrs
	}
	return m
}

// Int64 reads an integral JSON number or numeric string.
func Int64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}

// Float64 reads any JSON number or numeric string.
func Float64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// String returns v when it is a string, otherwise "".
func String(v any) string {
	s, _ := v.(string)
	return s
}
