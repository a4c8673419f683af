// Package normalize maps heterogeneous, weakly-typed backend payloads into the
// canonical records in internal/models. Every logical field carries an ordered
// alias list; declaration order is priority order and the first candidate that
// is a non-blank string (after trim) or a finite number wins. The alias lists
// are a compatibility shim for backends that disagree on field naming, not a
// permanent contract.
package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Raw is an arbitrary decoded JSON object.
type Raw = map[string]any

func trim(s string) string  { return strings.TrimSpace(s) }
func lower(s string) string { return strings.ToLower(s) }

// AsRecord returns v as a Raw if it is an object, nil otherwise.
func AsRecord(v any) Raw {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}

func get(rec Raw, key string) any {
	if rec == nil {
		return nil
	}
	return rec[key]
}

// pickString returns the first candidate that is a non-blank string, trimmed.
func pickString(candidates ...any) string {
	for _, c := range candidates {
		if s, ok := c.(string); ok {
			if t := strings.TrimSpace(s); t != "" {
				return t
			}
		}
	}
	return ""
}

func pickStringOr(fallback string, candidates ...any) string {
	if v := pickString(candidates...); v != "" {
		return v
	}
	return fallback
}

// pickStringOrNumber additionally accepts finite numbers, rendered as strings.
func pickStringOrNumber(candidates ...any) string {
	for _, c := range candidates {
		if s, ok := c.(string); ok {
			if t := strings.TrimSpace(s); t != "" {
				return t
			}
			continue
		}
		if f, ok := parseNumber(c); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
	}
	return ""
}

// parseNumber reports whether v holds a finite number, accepting JSON numbers
// as well as numeric strings.
func parseNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if !math.IsNaN(n) && !math.IsInf(n, 0) {
			return n, true
		}
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, true
		}
	case string:
		t := strings.TrimSpace(n)
		if t == "" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(t, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f, true
		}
	}
	return 0, false
}

func pickNumber(fallback float64, candidates ...any) float64 {
	for _, c := range candidates {
		if f, ok := parseNumber(c); ok {
			return f
		}
	}
	return fallback
}

func pickNumberPtr(candidates ...any) *float64 {
	for _, c := range candidates {
		if f, ok := parseNumber(c); ok {
			return &f
		}
	}
	return nil
}

func pickIntPtr(candidates ...any) *int {
	if f := pickNumberPtr(candidates...); f != nil {
		i := int(*f)
		return &i
	}
	return nil
}

// pickDateString returns the first candidate parseable as a timestamp,
// re-rendered as RFC3339 UTC.
func pickDateString(candidates ...any) string {
	for _, c := range candidates {
		s, ok := c.(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		if t, ok := parseTimestamp(s); ok {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return ""
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
