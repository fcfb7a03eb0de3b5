package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// ACTION PARAMETER EXTRACTION
// =============================================================================
//
// Step parameters arrive as map[string]any from JSON and YAML documents. Values
// can be any of:
//   - string
//   - float64 (JSON numbers)
//   - int / int64 (YAML integers, Go literals)
//   - bool
//   - nil
//
// These helpers convert them into typed values so handlers never do bare type
// assertions on the interchange map.

// ExtractString extracts a string representation from a parameter value.
func ExtractString(arg any) string {
	switch v := arg.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ExtractInt64 extracts an int64 value. Numeric strings are accepted.
func ExtractInt64(arg any) (int64, bool) {
	switch v := arg.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case float32:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// ExtractFloat64 extracts a float64 value. Numeric strings are accepted.
func ExtractFloat64(arg any) (float64, bool) {
	switch v := arg.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ExtractBool extracts a boolean value from bool or "true"/"false" strings.
func ExtractBool(arg any) (bool, bool) {
	switch v := arg.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return b, err == nil
	default:
		return false, false
	}
}

// ExtractDuration extracts a duration. Strings use time.ParseDuration; bare
// numbers are interpreted as milliseconds, the unit action plans use.
func ExtractDuration(arg any) (time.Duration, bool) {
	switch v := arg.(type) {
	case time.Duration:
		return v, true
	case string:
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d, true
		}
		if n, ok := ExtractInt64(v); ok {
			return time.Duration(n) * time.Millisecond, true
		}
		return 0, false
	default:
		if n, ok := ExtractFloat64(v); ok {
			return time.Duration(n * float64(time.Millisecond)), true
		}
		return 0, false
	}
}

// ParamString returns params[key] as a string, or "" when absent.
func ParamString(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok {
		return ""
	}
	return ExtractString(v)
}

// RequireString returns params[key] or ErrMissingParam when absent or blank.
func RequireString(params map[string]any, key string) (string, error) {
	s := strings.TrimSpace(ParamString(params, key))
	if s == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	return s, nil
}

// ParamDuration returns params[key] as a duration, def when absent, and
// ErrInvalidParamType when present but unparseable.
func ParamDuration(params map[string]any, key string, def time.Duration) (time.Duration, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	d, ok := ExtractDuration(v)
	if !ok {
		return 0, fmt.Errorf("%w: %s=%v", ErrInvalidParamType, key, v)
	}
	return d, nil
}

// ParamBool returns params[key] as a bool, def when absent.
func ParamBool(params map[string]any, key string, def bool) (bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := ExtractBool(v)
	if !ok {
		return false, fmt.Errorf("%w: %s=%v", ErrInvalidParamType, key, v)
	}
	return b, nil
}

// ParamInt returns params[key] as an int, def when absent.
func ParamInt(params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	n, ok := ExtractInt64(v)
	if !ok {
		return 0, fmt.Errorf("%w: %s=%v", ErrInvalidParamType, key, v)
	}
	return int(n), nil
}

// ParamStrings returns params[key] as a string list. A single string is a
// one-element list; blank entries are dropped.
func ParamStrings(params map[string]any, key string) []string {
	var out []string
	add := func(v any) {
		if s := strings.TrimSpace(ExtractString(v)); s != "" {
			out = append(out, s)
		}
	}
	switch v := params[key].(type) {
	case nil:
	case []string:
		for _, s := range v {
			add(s)
		}
	case []any:
		for _, s := range v {
			add(s)
		}
	default:
		add(v)
	}
	return out
}
