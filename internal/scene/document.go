// Package scene parses, validates, lints and summarizes JSON scene
// documents: {"nodes": [...], "edges": [...]}.
package scene

import (
	"encoding/json"
	"strings"

	"github.com/rendis/scenecraft/pkg/schema"
)

// Document is a decoded scene.
type Document map[string]any

// Parse decodes text into a Document. Anything other than a JSON object is
// MALFORMED_DOCUMENT.
func Parse(text string) (Document, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeMalformedDocument, "scene is not valid JSON: %v", err).WithCause(err)
	}
	if dec.More() {
		return nil, schema.NewError(schema.ErrCodeMalformedDocument, "scene has trailing data after the JSON object")
	}
	if doc == nil {
		return nil, schema.NewError(schema.ErrCodeMalformedDocument, "scene is null")
	}
	return doc, nil
}

// Nodes returns the node list, or nil when absent.
func (d Document) Nodes() []any {
	nodes, _ := d["nodes"].([]any)
	return nodes
}

// Edges returns the edge list, or nil when absent.
func (d Document) Edges() []any {
	edges, _ := d["edges"].([]any)
	return edges
}
