package extract

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
)

// Parse decodes a completion response and validates it against schema. A
// response that does not decode is repaired once; if that fails, or the
// decoded object misses a required field or has one of the wrong type, the
// error is MALFORMED_OUTPUT.
func Parse(text string, schema Schema) (*Result, error) {
	obj, repaired, err := decodeObject(text)
	if err != nil {
		return nil, err
	}
	res, err := validate(obj, schema)
	if err != nil {
		return nil, err
	}
	res.Repaired = repaired
	return res, nil
}

func decodeObject(text string) (map[string]any, bool, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(cleanJSON(text)), &obj); err == nil && obj != nil {
		return obj, false, nil
	}

	fixed := repairJSON(text)
	if err := json.Unmarshal([]byte(fixed), &obj); err != nil || obj == nil {
		detail := "not a JSON object"
		if err != nil {
			detail = err.Error()
		}
		return nil, true, resilience.Classifiedf(model.ClassMalformedOutput,
			"extract: unparseable response after repair: %s: %q", detail, snippet(text))
	}
	return obj, true, nil
}

// cleanJSON strips markdown code fences and isolates the outermost braces.
func cleanJSON(text string) string {
	text = stripFences(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}

// repairJSON makes one bounded attempt at fixing common completion damage:
// prose around the object, trailing commas, an unterminated string and
// missing closing delimiters from a truncated response.
func repairJSON(text string) string {
	text = stripFences(text)
	start := strings.Index(text, "{")
	if start < 0 {
		return text
	}

	var out []byte
	var stack []byte
	inString, escaped := false, false

	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			out = append(out, c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			out = trimTrailingComma(out)
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
		out = append(out, c)

		// The outermost object closed; anything after it is prose.
		if len(stack) == 0 {
			return string(out)
		}
	}

	if inString {
		if escaped {
			out = out[:len(out)-1]
		}
		out = append(out, '"')
	}
	out = trimTrailingComma(out)
	for len(out) > 0 && isSpace(out[len(out)-1]) {
		out = out[:len(out)-1]
	}
	if n := len(out); n > 0 && out[n-1] == ':' {
		out = append(out, "null"...)
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out = trimTrailingComma(out)
		out = append(out, stack[i])
	}
	return string(out)
}

func trimTrailingComma(b []byte) []byte {
	end := len(b)
	for end > 0 && isSpace(b[end-1]) {
		end--
	}
	if end > 0 && b[end-1] == ',' {
		return b[:end-1]
	}
	return b
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}

func validate(obj map[string]any, schema Schema) (*Result, error) {
	res := &Result{Schema: schema.Name, Fields: make(map[string]any, len(schema.Fields))}
	var problems []string

	for _, f := range schema.Fields {
		v, ok := obj[f.Name]
		if !ok || v == nil {
			if f.Required {
				problems = append(problems, "missing required field "+f.Name)
			}
			continue
		}
		if !typeMatches(f.Type, v) {
			if f.Required {
				problems = append(problems, fmt.Sprintf("field %s: want %s, got %s", f.Name, f.Type, jsonKind(v)))
			} else {
				res.Dropped = append(res.Dropped, f.Name)
			}
			continue
		}
		res.Fields[f.Name] = normalize(f.Type, v)
	}

	if len(problems) > 0 {
		return nil, resilience.Classifiedf(model.ClassMalformedOutput,
			"extract: %s response invalid: %s", schema.Name, strings.Join(problems, "; "))
	}
	return res, nil
}

func typeMatches(t FieldType, v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		_, ok := v.(float64)
		return ok
	case TypeInteger:
		n, ok := v.(float64)
		return ok && n == math.Trunc(n)
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeStringArray:
		arr, ok := v.([]any)
		if !ok {
			return false
		}
		for _, item := range arr {
			if _, ok := item.(string); !ok {
				return false
			}
		}
		return true
	case TypeArray:
		_, ok := v.([]any)
		return ok
	}
	return false
}

func normalize(t FieldType, v any) any {
	switch t {
	case TypeInteger:
		return int64(v.(float64))
	case TypeStringArray:
		arr := v.([]any)
		out := make([]string, len(arr))
		for i, item := range arr {
			out[i] = item.(string)
		}
		return out
	}
	return v
}

func jsonKind(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return "null"
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
