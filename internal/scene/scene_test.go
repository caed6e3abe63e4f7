package scene

import (
	"context"
	"testing"

	"github.com/rendis/scenecraft/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScene = `{
  "nodes": [
    {"id": "sphere-1", "type": "sphere", "position": {"x": 0, "y": 0}, "data": {"radius": 1}},
    {"id": "material-1", "type": "material", "data": {"color": "#ff0000"}},
    {"id": "set-material-1", "type": "set-material"},
    {"id": "output-1", "type": "output"}
  ],
  "edges": [
    {"id": "e1", "source": "sphere-1", "target": "set-material-1", "sourceHandle": "geometry-out", "targetHandle": "geometry-in"},
    {"id": "e2", "source": "material-1", "target": "set-material-1"},
    {"id": "e3", "source": "set-material-1", "target": "output-1"}
  ]
}`

func TestParse(t *testing.T) {
	doc, err := Parse(validScene)
	require.NoError(t, err)
	assert.Len(t, doc.Nodes(), 4)
	assert.Len(t, doc.Edges(), 3)

	for _, bad := range []string{"", "[1,2]", "null", "{", `{"a":1} {"b":2}`} {
		_, err := Parse(bad)
		assert.Equal(t, schema.ErrCodeMalformedDocument, schema.CodeOf(err), "input %q", bad)
	}
}

func TestValidator_Scene(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	report, err := v.ValidateScene(validScene)
	require.NoError(t, err)
	assert.True(t, report.OK(), "%+v", report.Errors)

	report, err = v.ValidateScene(`{"nodes": [{"type": "sphere"}], "edges": []}`)
	require.NoError(t, err)
	require.False(t, report.OK())
	assert.Equal(t, "/nodes/0", report.Errors[0].Pointer)

	report, err = v.ValidateScene(`{"nodes": []}`)
	require.NoError(t, err)
	assert.True(t, report.OK(), "edges may be omitted")

	report, err = v.ValidateScene(`{"edges": []}`)
	require.NoError(t, err)
	assert.False(t, report.OK())

	_, err = v.ValidateScene(`{not json`)
	assert.Equal(t, schema.ErrCodeMalformedDocument, schema.CodeOf(err))
}

func TestValidator_Request(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	assert.NoError(t, v.ValidateRequest([]byte(`{"model": "m", "user_query": "make it red", "scene_data": {"nodes": []}}`)))
	assert.NoError(t, v.ValidateRequest([]byte(`{"scene_data": "{}"}`)))

	err = v.ValidateRequest([]byte(`{"user_query": 42}`))
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	err = v.ValidateRequest([]byte(`[]`))
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestLinter_DefaultRules(t *testing.T) {
	l, err := NewLinter(DefaultRules)
	require.NoError(t, err)

	doc, err := Parse(validScene)
	require.NoError(t, err)
	assert.Empty(t, l.Lint(doc).Warnings)

	doc, err = Parse(`{
  "nodes": [{"id": "a", "type": "sphere"}, {"id": "a", "type": "box"}],
  "edges": [{"source": "a", "target": "ghost"}]
}`)
	require.NoError(t, err)
	report := l.Lint(doc)
	assert.True(t, report.OK(), "rules only warn")

	var rules []string
	for _, w := range report.Warnings {
		rules = append(rules, w.Rule)
	}
	assert.ElementsMatch(t, []string{"output_node", "unique_node_ids", "edge_endpoints"}, rules)
}

func TestLinter_BadRule(t *testing.T) {
	_, err := NewLinter([]Rule{{Name: "broken", Expr: "scene.nodes.exists(n,"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestLinter_NotEvaluable(t *testing.T) {
	l, err := NewLinter([]Rule{{Name: "missing", Expr: `scene.widgets.size() > 0`, Message: "needs widgets"}})
	require.NoError(t, err)
	report := l.Lint(Document{"nodes": []any{}})
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0].Message, "needs widgets")
}

func TestSummarize(t *testing.T) {
	doc, err := Parse(validScene)
	require.NoError(t, err)

	s, err := Summarize(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Nodes)
	assert.Equal(t, 3, s.Edges)
	assert.Equal(t, map[string]int{"sphere": 1, "material": 1, "set-material": 1, "output": 1}, s.Types)

	s, err = Summarize(context.Background(), Document{})
	require.NoError(t, err)
	assert.Zero(t, s.Nodes)
	assert.Empty(t, s.Types)
}

func TestInspector(t *testing.T) {
	in, err := NewInspector(nil)
	require.NoError(t, err)

	got, err := in.Inspect(context.Background(), validScene)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Summary.Nodes)
	assert.True(t, got.Report.OK())
	assert.Empty(t, got.Report.Warnings)

	_, err = in.Inspect(context.Background(), `{"nodes": [{"id": 1}], "edges": []}`)
	assert.Equal(t, schema.ErrCodeMalformedDocument, schema.CodeOf(err))

	got, err = in.Inspect(context.Background(), `{"nodes": [{"id": "a", "type": "box"}], "edges": []}`)
	require.NoError(t, err)
	require.Len(t, got.Report.Warnings, 1)
	assert.Equal(t, "output_node", got.Report.Warnings[0].Rule)
}

func TestInspector_EdgesOptional(t *testing.T) {
	in, err := NewInspector(nil)
	require.NoError(t, err)

	got, err := in.Inspect(context.Background(), `{"nodes": [{"id": "out", "type": "output"}]}`)
	require.NoError(t, err)
	assert.True(t, got.Report.OK())
	assert.Empty(t, got.Report.Warnings)
	assert.Equal(t, []any{}, got.Document["edges"])
	assert.Zero(t, got.Summary.Edges)
}
