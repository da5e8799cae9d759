package adapter

import (
	"fmt"
	"strconv"
	"time"
)

// String reads a string option, returning def when unset.
func String(opts map[string]any, key, def string) string {
	if v, ok := opts[key].(string); ok && v != "" {
		return v
	}
	return def
}

// RequiredString reads a string option that must be present.
func RequiredString(opts map[string]any, key string) (string, error) {
	v, ok := opts[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("missing %s string property", key)
	}
	return v, nil
}

// Int reads an integer option. YAML and JSON decoding produce different
// numeric types, so all of them are accepted.
func Int(opts map[string]any, key string, def int) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Bool reads a boolean option.
func Bool(opts map[string]any, key string, def bool) bool {
	switch v := opts[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Duration reads a duration option written as a Go duration string.
func Duration(opts map[string]any, key string, def time.Duration) time.Duration {
	if s, ok := opts[key].(string); ok && s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return def
}

// Strings reads a list-of-strings option.
func Strings(opts map[string]any, key string) []string {
	switch v := opts[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Window returns records[offset:offset+limit], clamped to the slice bounds.
// Static catalogs use it to honor rotational offsets.
func Window[T any](records []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return nil
	}
	end := len(records)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return records[offset:end]
}
