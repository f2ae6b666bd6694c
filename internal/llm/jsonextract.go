package llm

import (
	"encoding/json"
	"strings"
)

// ExtractJSON strips markdown code fences and surrounding prose from a model
// response, returning the outermost JSON object or array it contains. Text with
// no JSON delimiters is returned trimmed.
func ExtractJSON(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	if json.Valid([]byte(s)) {
		return s
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return s
	}
	return s[start : end+1]
}

// DecodeJSON extracts JSON from a model response and unmarshals it into v.
func DecodeJSON(text string, v any) error {
	return json.Unmarshal([]byte(ExtractJSON(text)), v)
}
