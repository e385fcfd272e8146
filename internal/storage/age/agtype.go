package age

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AGE returns every cypher column as agtype text. Scalars are plain JSON;
// graph elements carry a trailing type annotation, e.g.
//
//	{"id": 1, "label": "Twin", "properties": {...}}::vertex
//	{"id": 2, "label": "has", "start_id": 1, "end_id": 3, ...}::edge
//
// DecodeAgtype strips the annotation and unmarshals the JSON payload.
func DecodeAgtype(text string) (interface{}, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil
	}
	trimmed = stripAnnotation(trimmed)

	var value interface{}
	if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
		return nil, fmt.Errorf("failed to decode agtype %q: %w", text, err)
	}
	return value, nil
}

// stripAnnotation removes `::vertex`, `::edge` and `::path` annotations,
// including ones nested inside path arrays. Annotations only occur in the
// structural part of the agtype text; the same literals inside a JSON
// string are property data and must survive.
func stripAnnotation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				i++
				b.WriteByte(s[i])
				continue
			}
			if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == ':' && i+1 < len(s) && s[i+1] == ':' {
			if n := annotationLen(s[i:]); n > 0 {
				i += n - 1
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func annotationLen(s string) int {
	for _, annotation := range []string{"::vertex", "::edge", "::path"} {
		if strings.HasPrefix(s, annotation) {
			return len(annotation)
		}
	}
	return 0
}

// VertexProperties extracts the properties bag from a decoded vertex value.
// Returns nil when v is not a vertex-shaped map.
func VertexProperties(v interface{}) map[string]interface{} {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	props, ok := obj["properties"].(map[string]interface{})
	if !ok {
		return nil
	}
	return props
}

// EdgeProperties extracts the properties bag from a decoded edge value.
// Returns nil when v is not an edge-shaped map.
func EdgeProperties(v interface{}) map[string]interface{} {
	return VertexProperties(v)
}

// EdgeLabel returns the label of a decoded edge value, or "".
func EdgeLabel(v interface{}) string {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return ""
	}
	label, _ := obj["label"].(string)
	return label
}

// encodeParams marshals cypher parameters to the JSON form AGE accepts as
// its third argument.
func encodeParams(params map[string]interface{}) (string, error) {
	if len(params) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode cypher params: %w", err)
	}
	return string(data), nil
}

// quoteIdent quotes a SQL identifier (graph and schema names come from
// configuration, never from query text).
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// dollarQuote wraps a cypher statement in a dollar-quoted literal, picking
// a tag that does not occur in the statement.
func dollarQuote(body string) string {
	tag := "$q$"
	for i := 0; strings.Contains(body, tag); i++ {
		tag = fmt.Sprintf("$q%d$", i)
	}
	return tag + body + tag
}
