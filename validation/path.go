package validation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// joinPath joins an object path and a field name.
func joinPath(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}

// indexPath appends an array index to a path.
func indexPath(base string, i int) string {
	return fmt.Sprintf("%s[%d]", base, i)
}

// lookupPath resolves a dotted path with optional [i] indexes against a
// decoded JSON value. The second result is false when any segment is absent.
func lookupPath(root any, path string) (any, bool) {
	if path == "" {
		return root, true
	}
	cur := root
	for _, seg := range strings.Split(path, ".") {
		name, indexes, ok := splitSegment(seg)
		if !ok {
			return nil, false
		}
		if name != "" {
			obj, isObj := cur.(map[string]any)
			if !isObj {
				return nil, false
			}
			next, exists := obj[name]
			if !exists {
				return nil, false
			}
			cur = next
		}
		for _, idx := range indexes {
			arr, isArr := cur.([]any)
			if !isArr || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			cur = arr[idx]
		}
	}
	return cur, true
}

// splitSegment parses "name[1][2]" into the name and its indexes.
func splitSegment(seg string) (string, []int, bool) {
	open := strings.IndexByte(seg, '[')
	if open < 0 {
		return seg, nil, true
	}
	name := seg[:open]
	rest := seg[open:]
	var indexes []int
	for rest != "" {
		if rest[0] != '[' {
			return "", nil, false
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return "", nil, false
		}
		n, err := strconv.Atoi(rest[1:end])
		if err != nil {
			return "", nil, false
		}
		indexes = append(indexes, n)
		rest = rest[end+1:]
	}
	return name, indexes, true
}

// toFloat64 converts any numeric value to float64.
func toFloat64(v any) (float64, bool) {
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
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// formatValue renders numbers without trailing noise.
func formatValue(v any) string {
	if f, ok := toFloat64(v); ok {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	switch s := v.(type) {
	case string:
		return strconv.Quote(s)
	case nil:
		return "null"
	}
	return fmt.Sprintf("%v", v)
}

// typeName names the JSON type of a decoded value.
func typeName(v any) string {
	if v == nil {
		return "null"
	}
	if _, ok := toFloat64(v); ok {
		return "number"
	}
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	return fmt.Sprintf("%T", v)
}

func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
