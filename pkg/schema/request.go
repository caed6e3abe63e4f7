package schema

import (
	"bytes"
	"encoding/json"
)

// Defaults applied to submissions that omit them.
const (
	DefaultModel     = "anthropic/claude-3.7-sonnet"
	DefaultUserQuery = "what you can do?"
)

// EmptyScene is the document used when a generate request carries no scene.
const EmptyScene = "{\n  \"nodes\": [],\n  \"edges\": []\n}"

// JobRequest is the payload accepted by the job submission surface.
// SceneData and Catalog may be sent either as JSON strings or as inline
// JSON values.
type JobRequest struct {
	Model                     string          `json:"model,omitempty"`
	UserQuery                 string          `json:"user_query,omitempty"`
	SceneData                 json.RawMessage `json:"scene_data,omitempty"`
	Catalog                   json.RawMessage `json:"catalog,omitempty"`
	SceneGenerationGuidelines string          `json:"scene_generation_guidelines,omitempty"`
}

// WithDefaults returns a copy with the default model and query filled in.
func (r JobRequest) WithDefaults(model string) JobRequest {
	if model == "" {
		model = DefaultModel
	}
	if r.Model == "" {
		r.Model = model
	}
	if r.UserQuery == "" {
		r.UserQuery = DefaultUserQuery
	}
	return r
}

// SceneText returns the scene document as the line-oriented text the patch
// engine and the prompts operate on. Inline objects are indented so each
// field lands on its own line.
func (r JobRequest) SceneText() string {
	return rawText(r.SceneData)
}

// CatalogText returns the reference catalog as text.
func (r JobRequest) CatalogText() string {
	return rawText(r.Catalog)
}

func rawText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err != nil {
		return string(trimmed)
	}
	return buf.String()
}
