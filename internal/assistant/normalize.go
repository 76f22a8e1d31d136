package assistant

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Normalize turns whatever a backend returned as message content into text.
// Unknown shapes are stringified rather than rejected.
func Normalize(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case []string:
		return strings.Join(t, "")
	case []any:
		var sb strings.Builder
		for _, part := range t {
			sb.WriteString(Normalize(part))
		}
		return sb.String()
	case map[string]any:
		for _, key := range []string{"text", "content"} {
			if inner, ok := t[key]; ok {
				return Normalize(inner)
			}
		}
		// Non-text parts such as tool calls or images carry no prose.
		if _, ok := t["type"]; ok {
			return ""
		}
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	case interface{ Content() any }:
		return Normalize(t.Content())
	case interface{ Content() string }:
		return t.Content()
	case fmt.Stringer:
		return t.String()
	case error:
		return t.Error()
	}
	return fmt.Sprint(v)
}
