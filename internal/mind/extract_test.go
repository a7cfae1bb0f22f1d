package mind

import "testing"

func TestExtractJSONObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		key  string
		ok   bool
	}{
		{"bare object", `{"a": 1}`, "a", true},
		{"fenced", "```json\n{\"a\": 1}\n```", "a", true},
		{"prose wrapped", "Sure, here it is:\n{\"a\": 1}\nHope that helps.", "a", true},
		{"no object", "I cannot answer that.", "", false},
		{"broken braces", "{ this is not json }", "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			obj, err := ExtractJSONObject(c.in)
			if c.ok != (err == nil) {
				t.Fatalf("err = %v, want ok=%t", err, c.ok)
			}
			if c.ok {
				if _, present := obj[c.key]; !present {
					t.Errorf("extracted object missing %q: %v", c.key, obj)
				}
			}
		})
	}
}

func TestValidateSchema(t *testing.T) {
	schema := `{
	  "type": "object",
	  "properties": {
	    "action": {"type": "string", "enum": ["stop", "continue"]},
	    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
	    "items": {"type": "array", "items": {"type": "string"}}
	  },
	  "required": ["action"],
	  "additionalProperties": false
	}`

	cases := []struct {
		name       string
		value      any
		violations int
	}{
		{"valid", map[string]any{"action": "stop", "confidence": 0.5}, 0},
		{"missing required", map[string]any{"confidence": 0.5}, 1},
		{"bad enum", map[string]any{"action": "pause"}, 1},
		{"out of range", map[string]any{"action": "stop", "confidence": 1.5}, 1},
		{"extra property", map[string]any{"action": "stop", "bogus": true}, 1},
		{"wrong item type", map[string]any{"action": "stop", "items": []any{"ok", 7.0}}, 1},
		{"wrong root type", []any{"not", "an", "object"}, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := ValidateSchema(schema, c.value)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != c.violations {
				t.Errorf("violations = %v, want %d", got, c.violations)
			}
		})
	}
}

func TestValidateSchemaAnyOf(t *testing.T) {
	schema := `{"anyOf": [{"type": "string"}, {"type": "null"}]}`
	if v, _ := ValidateSchema(schema, "hello"); len(v) != 0 {
		t.Errorf("string alternative rejected: %v", v)
	}
	if v, _ := ValidateSchema(schema, nil); len(v) != 0 {
		t.Errorf("null alternative rejected: %v", v)
	}
	if v, _ := ValidateSchema(schema, 3.0); len(v) == 0 {
		t.Error("number must not satisfy string|null")
	}
}

func TestDecode(t *testing.T) {
	var out struct {
		Status string  `json:"status"`
		Score  float64 `json:"score"`
	}
	if err := Decode(map[string]any{"status": "done", "score": 0.9}, &out); err != nil {
		t.Fatal(err)
	}
	if out.Status != "done" || out.Score != 0.9 {
		t.Errorf("decoded %+v", out)
	}
}
