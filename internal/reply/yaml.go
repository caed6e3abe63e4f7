// Package reply turns structured model replies into Go values.
package reply

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseYAML decodes a model reply holding a YAML mapping, optionally wrapped
// in a ```yaml, ```yml or bare ``` fence. Literal "\n" sequences are treated
// as newlines. It returns nil when the text is not a YAML mapping.
func ParseYAML(text string) map[string]any {
	text = strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(text, "```yaml"):
		text = text[len("```yaml"):]
	case strings.HasPrefix(text, "```yml"):
		text = text[len("```yml"):]
	case strings.HasPrefix(text, "```"):
		text = text[len("```"):]
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSpace(strings.TrimSuffix(text, "```"))
	text = strings.ReplaceAll(text, `\n`, "\n")

	if text == "" {
		return nil
	}

	var out map[string]any
	if err := yaml.Unmarshal([]byte(text), &out); err != nil {
		return nil
	}
	return out
}

// String returns m[key] as a trimmed string, or "" when absent or not a scalar.
func String(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	case bool, int, int64, float64:
		return strings.TrimSpace(yamlScalar(v))
	default:
		return ""
	}
}

func yamlScalar(v any) string {
	b, err := yaml.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
