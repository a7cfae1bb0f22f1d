package mind

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValidateSchema checks value against a local subset of JSON Schema:
// type, properties, required, additionalProperties, items, enum,
// minimum, maximum, anyOf. Returns the list of violations; empty means valid.
func ValidateSchema(schemaText string, value any) ([]string, error) {
	var schema map[string]any
	if err := json.Unmarshal([]byte(schemaText), &schema); err != nil {
		return nil, fmt.Errorf("schema unparseable: %w", err)
	}
	return validate(schema, value, "$"), nil
}

func validate(schema map[string]any, value any, path string) []string {
	var errs []string

	if anyOf, ok := schema["anyOf"].([]any); ok {
		var collected []string
		for _, alt := range anyOf {
			altSchema, ok := alt.(map[string]any)
			if !ok {
				continue
			}
			altErrs := validate(altSchema, value, path)
			if len(altErrs) == 0 {
				return nil
			}
			collected = append(collected, altErrs...)
		}
		return []string{fmt.Sprintf("%s: no anyOf alternative matched (%s)", path, strings.Join(collected, "; "))}
	}

	if t, ok := schema["type"].(string); ok {
		if err := checkType(t, value, path); err != "" {
			return []string{err}
		}
	}

	if enum, ok := schema["enum"].([]any); ok {
		matched := false
		for _, e := range enum {
			if jsonEqual(e, value) {
				matched = true
				break
			}
		}
		if !matched {
			errs = append(errs, fmt.Sprintf("%s: value %v not in enum", path, value))
		}
	}

	if num, ok := asNumber(value); ok {
		if min, ok := asNumber(schema["minimum"]); ok && num < min {
			errs = append(errs, fmt.Sprintf("%s: %v below minimum %v", path, num, min))
		}
		if max, ok := asNumber(schema["maximum"]); ok && num > max {
			errs = append(errs, fmt.Sprintf("%s: %v above maximum %v", path, num, max))
		}
	}

	if obj, ok := value.(map[string]any); ok {
		props, _ := schema["properties"].(map[string]any)

		if required, ok := schema["required"].([]any); ok {
			for _, r := range required {
				name, _ := r.(string)
				if _, present := obj[name]; !present {
					errs = append(errs, fmt.Sprintf("%s: missing required property %q", path, name))
				}
			}
		}

		for name, v := range obj {
			propSchema, known := props[name]
			if !known {
				if ap, declared := schema["additionalProperties"]; declared {
					if allowed, isBool := ap.(bool); isBool && !allowed {
						errs = append(errs, fmt.Sprintf("%s: unexpected property %q", path, name))
						continue
					}
					if apSchema, isSchema := ap.(map[string]any); isSchema {
						errs = append(errs, validate(apSchema, v, path+"."+name)...)
					}
				}
				continue
			}
			if ps, ok := propSchema.(map[string]any); ok {
				errs = append(errs, validate(ps, v, path+"."+name)...)
			}
		}
	}

	if arr, ok := value.([]any); ok {
		if items, ok := schema["items"].(map[string]any); ok {
			for i, e := range arr {
				errs = append(errs, validate(items, e, fmt.Sprintf("%s[%d]", path, i))...)
			}
		}
	}

	return errs
}

func checkType(t string, value any, path string) string {
	ok := false
	switch t {
	case "object":
		_, ok = value.(map[string]any)
	case "array":
		_, ok = value.([]any)
	case "string":
		_, ok = value.(string)
	case "boolean":
		_, ok = value.(bool)
	case "number":
		_, ok = asNumber(value)
	case "integer":
		if n, isNum := asNumber(value); isNum {
			ok = n == float64(int64(n))
		}
	case "null":
		ok = value == nil
	default:
		ok = true
	}
	if !ok {
		return fmt.Sprintf("%s: expected %s, got %T", path, t, value)
	}
	return ""
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func jsonEqual(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ra) == string(rb)
}
