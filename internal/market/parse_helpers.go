package market

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

func toMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func stringFromMap(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s := stringFromAny(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringFromAny(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func floatFromMap(m map[string]any, keys ...string) float64 {
	f, _ := lookupFloat(m, keys...)
	return f
}

// lookupFloat reports whether any key held a parseable number, so callers can
// tell a zero rate apart from a missing one.
func lookupFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if f, ok := floatFromAny(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func floatFromAny(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func timeFromMap(m map[string]any, keys ...string) (time.Time, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if ts, ok := timeFromAny(v); ok {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

func timeFromAny(v any) (time.Time, bool) {
	f, ok := floatFromAny(v)
	if !ok {
		return time.Time{}, false
	}
	if f <= 0 {
		return time.Time{}, false
	}
	ts := int64(f)
	switch {
	case ts > 1e15:
		return time.Unix(0, ts).UTC(), true
	case ts > 1e12:
		return time.UnixMilli(ts).UTC(), true
	default:
		return time.Unix(ts, 0).UTC(), true
	}
}
