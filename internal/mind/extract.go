package mind

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSONObject parses response text into a JSON object. Direct parse
// first; if that fails, the slice between the first '{' and the last '}' is
// tried, which strips code fences and stray prose.
func ExtractJSONObject(text string) (map[string]any, error) {
	trimmed := strings.TrimSpace(text)

	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
		return obj, nil
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("failed to parse JSON object slice: %w", err)
	}
	return obj, nil
}

// Decode maps a validated JSON object onto a typed payload struct.
func Decode(obj map[string]any, v any) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
