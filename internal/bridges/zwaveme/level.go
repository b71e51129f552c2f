package zwaveme

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Multilevel values used when an on/off level is mapped onto a 0-99 scale.
const (
	multilevelOn  = 99.0
	multilevelOff = 0.0
)

// levelText returns the decimal text form used for the numeric test.
// ok is false for values that have no sensible text form.
func levelText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	default:
		return "", false
	}
}

// isNumeric reports whether v reads as an unsigned decimal: after removing
// at most one '.', every remaining character must be a digit and at least
// one must remain. "12" and "12.5" qualify. "12.5.6", "-3", "on" and "" do not.
func isNumeric(v any) bool {
	s, ok := levelText(v)
	if !ok {
		return false
	}
	s = strings.Replace(s, ".", "", 1)
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// numericValue returns v as a float when isNumeric holds.
func numericValue(v any) (float64, bool) {
	if !isNumeric(v) {
		return 0, false
	}
	s, _ := levelText(v)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// out of range
		return 0, false
	}
	return f, true
}

// truthy applies loose truthiness: nil, false, zero, the empty string and
// empty collections are false, everything else is true. Note "0" is true.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// parseLevel casts a level to float64 the way a lenient float() would:
// numbers pass, booleans become 1/0 and strings are parsed after trimming.
func parseLevel(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrInvalidLevel, v)
	}
}

// binaryLevel canonicalises sensorBinary, switchBinary and siren levels.
func binaryLevel(v any) string {
	if s, ok := v.(string); ok {
		switch s {
		case LevelOn, LevelOff:
			return s
		case LevelOpen:
			return LevelOff
		case LevelClose:
			return LevelOn
		}
	}
	if truthy(v) {
		return LevelOn
	}
	return LevelOff
}

// doorlockLevel canonicalises doorlock levels to open/close.
// A truthy level means locked, hence "close".
func doorlockLevel(v any) string {
	if s, ok := v.(string); ok {
		switch s {
		case LevelOpen, LevelClose:
			return s
		case LevelOff:
			return LevelOpen
		case LevelOn:
			return LevelClose
		}
	}
	if truthy(v) {
		return LevelClose
	}
	return LevelOpen
}

// multilevelLevel canonicalises 0-99 style levels. Numeric values are
// returned untouched, including numeric strings.
func multilevelLevel(v any) any {
	if isNumeric(v) {
		return v
	}
	switch v {
	case LevelOn:
		return multilevelOn
	case LevelOff:
		return multilevelOff
	}
	if truthy(v) {
		return multilevelOn
	}
	return multilevelOff
}

// lightLevel canonicalises a light to on/off and derives its colour.
// A numeric brightness b (0-100) becomes a grey of round(b*255/100).
func lightLevel(v any) (string, *Color) {
	if b, ok := numericValue(v); ok {
		c := grey(int(math.Round(b * 255 / 100)))
		if b > 0 {
			return LevelOn, c
		}
		return LevelOff, c
	}

	level := LevelOff
	switch {
	case v == LevelOn:
		level = LevelOn
	case v == LevelOff:
	case truthy(v):
		level = LevelOn
	}

	if level == LevelOn {
		return LevelOn, grey(255)
	}
	return LevelOff, grey(0)
}

// motorLevel applies the motor post-pass: on/off map to 99/0 and the result
// is always a float. Levels that still do not parse fall back to truthiness.
func motorLevel(v any) float64 {
	switch v {
	case LevelOff:
		return multilevelOff
	case LevelOn:
		return multilevelOn
	}
	if f, err := parseLevel(v); err == nil {
		return f
	}
	if truthy(v) {
		return multilevelOn
	}
	return multilevelOff
}

// sensorLevel renders a raw multilevel sensor reading rounded to one decimal.
func sensorLevel(v any) (string, error) {
	f, err := parseLevel(v)
	if err != nil {
		return "", err
	}
	return strconv.FormatFloat(f, 'f', 1, 64), nil
}

// LevelValue returns a canonical level as a number for telemetry.
// on and close read as 1, off and open as 0, numeric strings are parsed.
// ok is false when the level has no numeric reading.
func LevelValue(v any) (value float64, ok bool) {
	switch v {
	case LevelOn, LevelClose:
		return 1, true
	case LevelOff, LevelOpen:
		return 0, true
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
