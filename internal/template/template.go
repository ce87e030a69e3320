package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// placeholderRe matches {{path.to.value}} and {{path[0].value}}.
var placeholderRe = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Refs returns the placeholder paths referenced by a template string, in
// order of appearance. Used for static validation before any value exists.
func Refs(template string) []string {
	var refs []string
	for _, m := range placeholderRe.FindAllStringSubmatch(template, -1) {
		refs = append(refs, strings.TrimSpace(m[1]))
	}
	return refs
}

// RefsInValue walks a value (string, map, or slice) and collects every
// placeholder path found in nested template strings.
func RefsInValue(value any) []string {
	var refs []string
	switch v := value.(type) {
	case string:
		refs = append(refs, Refs(v)...)
	case map[string]any:
		for _, nested := range v {
			refs = append(refs, RefsInValue(nested)...)
		}
	case []any:
		for _, elem := range v {
			refs = append(refs, RefsInValue(elem)...)
		}
	}
	return refs
}

// Interpolate substitutes placeholders in a template string. When the whole
// string is a single placeholder the resolved value keeps its type; mixed
// templates render to a string. Unresolvable paths are an error rather than
// a silent passthrough.
func Interpolate(template string, scope map[string]any) (any, error) {
	matches := placeholderRe.FindAllStringSubmatchIndex(template, -1)
	if len(matches) == 0 {
		return template, nil
	}

	// Whole-string single placeholder: preserve the value's type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(template) {
		path := strings.TrimSpace(template[matches[0][2]:matches[0][3]])
		value, ok := ResolvePath(scope, path)
		if !ok {
			return nil, fmt.Errorf("unresolved reference: %q", path)
		}
		return value, nil
	}

	var resolveErr error
	result := placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		path := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(match, "{{"), "}}"))
		value, ok := ResolvePath(scope, path)
		if !ok {
			if resolveErr == nil {
				resolveErr = fmt.Errorf("unresolved reference: %q", path)
			}
			return match
		}
		return stringify(value)
	})
	if resolveErr != nil {
		return nil, resolveErr
	}
	return result, nil
}

// InterpolateValue recursively interpolates template strings inside maps
// and slices.
func InterpolateValue(value any, scope map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return Interpolate(v, scope)
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, nested := range v {
			resolved, err := InterpolateValue(nested, scope)
			if err != nil {
				return nil, err
			}
			result[key] = resolved
		}
		return result, nil
	case []any:
		result := make([]any, len(v))
		for i, elem := range v {
			resolved, err := InterpolateValue(elem, scope)
			if err != nil {
				return nil, err
			}
			result[i] = resolved
		}
		return result, nil
	default:
		return value, nil
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		if v == float64(int(v)) {
			return strconv.Itoa(int(v))
		}
		return fmt.Sprintf("%g", v)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		jsonBytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(jsonBytes)
	}
}

// ResolvePath resolves a dot-notation path in a map. Supports nested maps
// and index access like items[0].name.
func ResolvePath(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = data

	for _, part := range parts {
		if current == nil {
			return nil, false
		}

		var index = -1
		if idx := strings.Index(part, "["); idx != -1 && strings.HasSuffix(part, "]") {
			indexStr := part[idx+1 : len(part)-1]
			parsed, err := strconv.Atoi(indexStr)
			if err != nil {
				return nil, false
			}
			index = parsed
			part = part[:idx]
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}

		if index >= 0 {
			list, ok := current.([]any)
			if !ok || index >= len(list) {
				return nil, false
			}
			current = list[index]
		}
	}

	return current, true
}
