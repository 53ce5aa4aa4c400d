package edithandler

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseNumber accepts any string that parses to a finite IEEE-754 double.
// NaN and the infinities are rejected.
func ParseNumber(raw string) (float64, bool) {
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// ParseBoolean accepts only the literals "0" and "1".
func ParseBoolean(raw string) (bool, bool) {
	switch raw {
	case "0":
		return false, true
	case "1":
		return true, true
	default:
		return false, false
	}
}

// ParseTime accepts RFC-3339 / ISO-8601 timestamps, with or without an
// explicit zone offset.
func ParseTime(raw string) (time.Time, bool) {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParsePoint accepts "<x>,<y>" with both coordinates parseable as finite
// doubles, and returns the original string form for storage.
func ParsePoint(raw string) (string, bool) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return "", false
	}
	if _, ok := ParseNumber(strings.TrimSpace(parts[0])); !ok {
		return "", false
	}
	if _, ok := ParseNumber(strings.TrimSpace(parts[1])); !ok {
		return "", false
	}
	return raw, true
}
