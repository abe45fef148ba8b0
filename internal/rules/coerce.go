package rules

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// undefinedValue marks a missing variable; it is distinct from JSON null.
type undefinedValue struct{}

var undefined = undefinedValue{}

func isUndefined(v any) bool {
	_, ok := v.(undefinedValue)
	return ok
}

// defined maps the internal undefined marker to nil.
func defined(v any) any {
	if isUndefined(v) {
		return nil
	}
	return v
}

// truthy follows JavaScript truthiness, except that an empty array is false.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil, undefinedValue:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return true
	}
	if n, ok := number(v); ok {
		return n != 0 && !math.IsNaN(n)
	}
	return true
}

// number converts Go numeric types to float64.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// asBool accepts booleans and the strings "true" and "false".
func asBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		switch strings.TrimSpace(strings.ToLower(val)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

// asNumber accepts numbers and non-empty numeric strings.
func asNumber(v any) (float64, bool) {
	if n, ok := number(v); ok {
		return n, true
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) {
		return 0, false
	}
	return n, true
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	time.RFC1123Z,
	time.RFC1123,
	"Jan 2, 2006",
	"January 2, 2006",
}

// asDate parses a date string and returns its epoch milliseconds.
func asDate(v any) (float64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return float64(t.UnixMilli()), true
		}
	}
	return 0, false
}

// compareValues applies the comparison policy. Coercions are attempted in
// a fixed order: boolean, numeric, date. When none applies only == and !=
// fall back to strict equality; every other operator is false.
func compareValues(op string, a, b any) bool {
	if x, ok := asBool(a); ok {
		if y, ok := asBool(b); ok {
			return compareNumbers(op, boolNumber(x), boolNumber(y))
		}
	}
	if x, ok := asNumber(a); ok {
		if y, ok := asNumber(b); ok {
			return compareNumbers(op, x, y)
		}
	}
	if x, ok := asDate(a); ok {
		if y, ok := asDate(b); ok {
			return compareNumbers(op, x, y)
		}
	}
	switch op {
	case "==":
		return strictEqual(a, b)
	case "!=":
		return !strictEqual(a, b)
	}
	return false
}

func boolNumber(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func compareNumbers(op string, x, y float64) bool {
	switch op {
	case "==":
		return x == y
	case "!=":
		return x != y
	case "<":
		return x < y
	case "<=":
		return x <= y
	case ">":
		return x > y
	case ">=":
		return x >= y
	}
	return false
}

// strictEqual compares scalars by type and value. Arrays and objects are
// never equal, as with JavaScript identity.
func strictEqual(a, b any) bool {
	if x, ok := number(a); ok {
		y, ok := number(b)
		return ok && x == y
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case undefinedValue:
		return isUndefined(b)
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	}
	return false
}

// toString renders a value the way JavaScript string concatenation does.
func toString(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case undefinedValue:
		return "undefined"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			if item == nil || isUndefined(item) {
				continue
			}
			parts[i] = toString(item)
		}
		return strings.Join(parts, ",")
	case map[string]any:
		return "[object Object]"
	}
	if n, ok := number(v); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return ""
}

// toNumberLoose mirrors JavaScript Number(): NaN for non-numeric values.
func toNumberLoose(v any) float64 {
	switch val := v.(type) {
	case nil:
		return 0
	case bool:
		return boolNumber(val)
	case string:
		if strings.TrimSpace(val) == "" {
			return 0
		}
	}
	if n, ok := asNumber(v); ok {
		return n
	}
	return math.NaN()
}
