// Package shared holds helpers common to the remote adapters.
package shared

import (
	"strconv"
	"strings"
	"time"
)

// String returns the trimmed string stored under key.
func String(cfg map[string]any, key string) (string, bool) {
	v, ok := cfg[key].(string)
	if !ok {
		return "", false
	}
	trimmed := strings.TrimSpace(v)
	return trimmed, trimmed != ""
}

// Duration accepts Go duration strings or a number of seconds.
func Duration(cfg map[string]any, key string) (time.Duration, bool) {
	v, ok := cfg[key]
	if !ok {
		return 0, false
	}
	switch value := v.(type) {
	case string:
		d, err := time.ParseDuration(value)
		if err != nil {
			return 0, false
		}
		return d, true
	case time.Duration:
		return value, true
	case int:
		return time.Duration(value) * time.Second, true
	case int64:
		return time.Duration(value) * time.Second, true
	case float64:
		return time.Duration(value * float64(time.Second)), true
	default:
		return 0, false
	}
}

// Float reads a numeric setting.
func Float(cfg map[string]any, key string) (float64, bool) {
	v, ok := cfg[key]
	if !ok {
		return 0, false
	}
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	case uint64:
		return float64(value), true
	case string:
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

// Int reads an integer setting.
func Int(cfg map[string]any, key string) (int, bool) {
	v, ok := cfg[key]
	if !ok {
		return 0, false
	}
	switch value := v.(type) {
	case int:
		return value, true
	case int64:
		return int(value), true
	case uint64:
		limit := uint64(^uint(0) >> 1)
		if value > limit {
			return 0, false
		}
		return int(int64(value)), true
	case float64:
		return int(value), true
	case string:
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

// Map reads a nested settings block.
func Map(cfg map[string]any, key string) (map[string]any, bool) {
	v, ok := cfg[key]
	if !ok {
		return nil, false
	}
	result, ok := v.(map[string]any)
	return result, ok
}

// Strings reads a list of strings, skipping blanks and non-string entries.
func Strings(cfg map[string]any, key string) ([]string, bool) {
	v, ok := cfg[key]
	if !ok {
		return nil, false
	}
	var raw []any
	switch value := v.(type) {
	case []string:
		out := make([]string, 0, len(value))
		for _, s := range value {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, true
	case []any:
		raw = value
	default:
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, true
}

// StringMap reads a flat map of string values.
func StringMap(cfg map[string]any, key string) (map[string]string, bool) {
	v, ok := cfg[key]
	if !ok {
		return nil, false
	}
	out := make(map[string]string)
	switch value := v.(type) {
	case map[string]string:
		for k, s := range value {
			out[k] = s
		}
	case map[string]any:
		for k, item := range value {
			if s, ok := item.(string); ok {
				out[k] = s
			}
		}
	default:
		return nil, false
	}
	return out, true
}
