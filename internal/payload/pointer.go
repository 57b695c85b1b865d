// Package payload reads loosely-shaped webhook JSON through JSON Pointer
// candidate paths, so callers can accept both PascalCase and camelCase
// variants of the same field.
package payload

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/qri-io/jsonpointer"
)

// Decode parses raw JSON into the generic form the other helpers evaluate against.
func Decode(raw []byte) (any, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return doc, nil
}

// Eval evaluates a JSON Pointer path against data.
// A "/*" segment fans out over every element of an array, flattening nested
// arrays in the result. The boolean is false when the path does not resolve.
func Eval(data any, path string) (any, bool) {
	if path == "" {
		return data, data != nil
	}

	if strings.Contains(path, "/*") {
		return evalWildcard(data, path)
	}

	ptr, err := jsonpointer.Parse(path)
	if err != nil {
		return nil, false
	}

	result, err := ptr.Eval(data)
	if err != nil || result == nil {
		return nil, false
	}

	return result, true
}

func evalWildcard(data any, path string) (any, bool) {
	idx := strings.Index(path, "/*")
	before := path[:idx]
	after := path[idx+2:]

	arrayData, ok := Eval(data, before)
	if !ok {
		return nil, false
	}

	arr, ok := arrayData.([]any)
	if !ok {
		return nil, false
	}

	results := make([]any, 0, len(arr))
	for _, item := range arr {
		value, found := Eval(item, after)
		if !found {
			continue
		}
		if nested, isArr := value.([]any); isArr {
			results = append(results, nested...)
		} else {
			results = append(results, value)
		}
	}

	return results, true
}

// String returns the first candidate path that resolves to a non-empty
// scalar, rendered as a string.
func String(data any, paths ...string) string {
	for _, path := range paths {
		value, ok := Eval(data, path)
		if !ok {
			continue
		}
		if s := scalar(value); s != "" {
			return s
		}
	}
	return ""
}

// Strings collects the non-empty scalars a (usually wildcard) path resolves to.
func Strings(data any, path string) []string {
	value, ok := Eval(data, path)
	if !ok {
		return nil
	}

	items, isArr := value.([]any)
	if !isArr {
		items = []any{value}
	}

	var out []string
	for _, item := range items {
		if s := scalar(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Bool reports whether the first resolving candidate is true or "true".
func Bool(data any, paths ...string) bool {
	for _, path := range paths {
		value, ok := Eval(data, path)
		if !ok {
			continue
		}
		switch v := value.(type) {
		case bool:
			return v
		case string:
			return strings.EqualFold(v, "true")
		}
	}
	return false
}

// Array returns the array at path, or nil.
func Array(data any, path string) []any {
	value, ok := Eval(data, path)
	if !ok {
		return nil
	}
	arr, _ := value.([]any)
	return arr
}

func scalar(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
