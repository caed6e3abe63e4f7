package scene

import (
	"context"
	"fmt"
	"sync"

	"github.com/itchyny/gojq"
)

// Summary is a compact description of a scene for progress events.
type Summary struct {
	Nodes int            `json:"nodes"`
	Edges int            `json:"edges"`
	Types map[string]int `json:"types"`
}

const summaryQuery = `{
  nodes: (.nodes // [] | length),
  edges: (.edges // [] | length),
  types: ([.nodes // [] | .[] | .type // "unknown" | tostring]
          | group_by(.) | map({key: .[0], value: length}) | from_entries)
}`

var (
	summaryOnce sync.Once
	summaryCode *gojq.Code
	summaryErr  error
)

func compiledSummary() (*gojq.Code, error) {
	summaryOnce.Do(func() {
		q, err := gojq.Parse(summaryQuery)
		if err != nil {
			summaryErr = fmt.Errorf("parse summary query: %w", err)
			return
		}
		summaryCode, summaryErr = gojq.Compile(q,
			gojq.WithEnvironLoader(func() []string { return nil }),
		)
	})
	return summaryCode, summaryErr
}

// Summarize counts nodes and edges and builds a histogram of node types.
func Summarize(ctx context.Context, doc Document) (*Summary, error) {
	code, err := compiledSummary()
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, map[string]any(doc))
	v, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("summary query produced no output")
	}
	if err, isErr := v.(error); isErr {
		return nil, fmt.Errorf("summary query: %w", err)
	}

	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("summary query returned %T", v)
	}
	s := &Summary{
		Nodes: toInt(m["nodes"]),
		Edges: toInt(m["edges"]),
		Types: map[string]int{},
	}
	if types, ok := m["types"].(map[string]any); ok {
		for k, n := range types {
			s.Types[k] = toInt(n)
		}
	}
	return s, nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
