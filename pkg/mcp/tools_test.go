package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/scenecraft/internal/jobs"
	"github.com/rendis/scenecraft/pkg/schema"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []schema.Event
}

func (n *recordingNotifier) Notify(_ context.Context, e schema.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) steps() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.Step
	}
	return out
}

func newTestServer(t *testing.T, runner jobs.Runner) (*Server, *recordingNotifier, *jobs.Manager) {
	t.Helper()
	m := jobs.NewManager(jobs.NewRegistry(), runner, nil, jobs.Config{PoolSize: 2}, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	n := &recordingNotifier{}
	return NewServer(ServerDeps{Manager: m, Notifier: n}), n, m
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(extractText(t, result)), target))
}

type wireEdit struct {
	JobID  string          `json:"job_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
	Reply  string          `json:"reply"`
	Error  *schema.Error   `json:"error"`
	Events []schema.Event  `json:"events"`
}

func TestEditTool(t *testing.T) {
	var got schema.JobRequest
	runner := jobs.RunnerFunc(func(ctx context.Context, req schema.JobRequest, sink jobs.Sink) error {
		got = req
		sink.Emit(ctx, schema.StepThinking, "working", nil)
		sink.Emit(ctx, schema.StepEditFinished, "", map[string]any{"scene": "{}"})
		return nil
	})
	s, notifier, _ := newTestServer(t, runner)

	res, err := s.handleEdit(context.Background(), buildRequest("scene.edit", map[string]any{
		"user_query": "make the sphere red",
		"scene_data": `{"nodes":[]}`,
		"catalog":    map[string]any{"types": []any{"sphere"}},
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var out wireEdit
	unmarshalResult(t, res, &out)
	assert.NotEmpty(t, out.JobID)
	assert.Equal(t, schema.StepDone, out.Status)
	assert.JSONEq(t, `{"scene":"{}"}`, string(out.Result))
	require.Len(t, out.Events, 3)
	assert.Equal(t, schema.StepDone, out.Events[2].Step)

	assert.Equal(t, []string{schema.StepThinking, schema.StepEditFinished}, notifier.steps())

	assert.Equal(t, "make the sphere red", got.UserQuery)
	assert.Equal(t, schema.DefaultModel, got.Model)
	assert.Equal(t, `{"nodes":[]}`, got.SceneText())
	assert.Contains(t, got.CatalogText(), `"sphere"`)
}

func TestEditToolChatReply(t *testing.T) {
	runner := jobs.RunnerFunc(func(ctx context.Context, _ schema.JobRequest, sink jobs.Sink) error {
		sink.Emit(ctx, schema.StepChat, "I can ", nil)
		sink.Emit(ctx, schema.StepChat, "edit scenes.", nil)
		return nil
	})
	s, _, _ := newTestServer(t, runner)

	res, err := s.handleEdit(context.Background(), buildRequest("scene.edit", map[string]any{"user_query": "what can you do?"}))
	require.NoError(t, err)

	var out wireEdit
	unmarshalResult(t, res, &out)
	assert.Equal(t, "I can edit scenes.", out.Reply)
	assert.Empty(t, out.Result)
}

func TestEditToolJobError(t *testing.T) {
	runner := jobs.RunnerFunc(func(context.Context, schema.JobRequest, jobs.Sink) error {
		return schema.NewError(schema.ErrCodeSearchNotFound, "search block not found")
	})
	s, _, _ := newTestServer(t, runner)

	res, err := s.handleEdit(context.Background(), buildRequest("scene.edit", map[string]any{"user_query": "x"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	var out wireEdit
	unmarshalResult(t, res, &out)
	assert.Equal(t, schema.StepError, out.Status)
	require.NotNil(t, out.Error)
	assert.Equal(t, schema.ErrCodeSearchNotFound, out.Error.Code)
}

func TestEditToolMissingQuery(t *testing.T) {
	s, _, _ := newTestServer(t, jobs.RunnerFunc(func(context.Context, schema.JobRequest, jobs.Sink) error { return nil }))

	res, err := s.handleEdit(context.Background(), buildRequest("scene.edit", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, extractText(t, res), "user_query is required")
}

func TestJobsAndCancelTools(t *testing.T) {
	runner := jobs.RunnerFunc(func(ctx context.Context, _ schema.JobRequest, _ jobs.Sink) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s, _, m := newTestServer(t, runner)

	id, err := m.Submit(context.Background(), schema.JobRequest{UserQuery: "hold"})
	require.NoError(t, err)

	res, err := s.handleJobs(context.Background(), buildRequest("scene.jobs", map[string]any{}))
	require.NoError(t, err)
	var list struct {
		Jobs  []jobs.Info `json:"jobs"`
		Count int         `json:"count"`
	}
	unmarshalResult(t, res, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, id, list.Jobs[0].ID)

	res, err = s.handleJobs(context.Background(), buildRequest("scene.jobs", map[string]any{"filter": "status =="}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleCancel(context.Background(), buildRequest("scene.cancel", map[string]any{"job_id": id}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	res, err = s.handleCancel(context.Background(), buildRequest("scene.cancel", map[string]any{"job_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, extractText(t, res), schema.ErrCodeNotFound)
}

func TestDiagramTool(t *testing.T) {
	s, _, _ := newTestServer(t, jobs.RunnerFunc(func(context.Context, schema.JobRequest, jobs.Sink) error { return nil }))

	res, err := s.handleDiagram(context.Background(), buildRequest("scene.diagram", map[string]any{
		"scene_data": `{"nodes":[{"id":"a","type":"cube"},{"id":"b","type":"render"}],"edges":[{"source":"a","target":"b"}]}`,
		"format":     "mermaid",
		"title":      "demo",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	text := extractText(t, res)
	assert.Contains(t, text, "title: demo")
	assert.Contains(t, text, "a --> b")

	res, err = s.handleDiagram(context.Background(), buildRequest("scene.diagram", map[string]any{
		"scene_data": `{"nodes": [`,
		"format":     "ascii",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, extractText(t, res), schema.ErrCodeMalformedDocument)

	res, err = s.handleDiagram(context.Background(), buildRequest("scene.diagram", map[string]any{
		"scene_data": schema.EmptyScene,
		"format":     "svg",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
