package protocol

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Field accessors tolerate the loose typing of the wire format: numbers may
// arrive as json.Number, float64 or decimal strings.

func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func int64Field(fields map[string]any, key string) (int64, bool) {
	return toInt64(fields[key])
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
		if f, err := v.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			return int64(v), true
		}
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

func float64Field(fields map[string]any, key string) (float64, bool) {
	switch v := fields[key].(type) {
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, true
		}
	case float64:
		return v, true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func boolField(fields map[string]any, key string) (bool, bool) {
	switch v := fields[key].(type) {
	case bool:
		return v, true
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b, true
		}
	}
	return false, false
}

// ParseTurnID decodes a turn id from a presence state item.
func ParseTurnID(value string) (int64, bool) {
	return toInt64(value)
}
