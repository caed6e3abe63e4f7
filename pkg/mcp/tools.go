package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/scenecraft/internal/diagram"
	"github.com/rendis/scenecraft/internal/logging"
	"github.com/rendis/scenecraft/internal/scene"
	"github.com/rendis/scenecraft/pkg/schema"
)

// editResult is the scene.edit tool output.
type editResult struct {
	JobID  string         `json:"job_id"`
	Status string         `json:"status"`
	Result any            `json:"result,omitempty"`
	Reply  string         `json:"reply,omitempty"`
	Error  *schema.Error  `json:"error,omitempty"`
	Events []schema.Event `json:"events"`
}

// handleEdit submits a job, relays its progress and returns once the job's
// terminal event arrives.
func (s *Server) handleEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("user_query")
	if err != nil {
		return mcp.NewToolResultError("user_query is required"), nil
	}
	jobReq := schema.JobRequest{
		Model:                     req.GetString("model", ""),
		UserQuery:                 query,
		SceneData:                 rawArgument(req, "scene_data"),
		Catalog:                   rawArgument(req, "catalog"),
		SceneGenerationGuidelines: req.GetString("scene_generation_guidelines", ""),
	}

	id, err := s.manager.Submit(ctx, jobReq)
	if err != nil {
		return toolError(err), nil
	}
	ctx = logging.WithJobID(ctx, id)

	out := editResult{JobID: id, Events: []schema.Event{}}
	var reply strings.Builder
	for e := range s.manager.Registry().Subscribe(ctx, id) {
		out.Events = append(out.Events, e)
		switch e.Step {
		case schema.StepDone:
			out.Status = schema.StepDone
		case schema.StepError:
			out.Status = schema.StepError
			out.Error = schema.AsError(eventError(e))
		case schema.StepEditFinished:
			out.Result = e.Payload
		case schema.StepChat:
			reply.WriteString(e.Content)
		}
		if !e.Terminal() {
			if nerr := s.notifier.Notify(ctx, e); nerr != nil {
				s.logger.DebugContext(ctx, "progress notification failed", slog.String("error", nerr.Error()))
			}
		}
	}
	out.Reply = reply.String()

	if out.Status == "" {
		return mcp.NewToolResultError(fmt.Sprintf("job %s ended without a result: %v", id, context.Cause(ctx))), nil
	}
	result, err := marshalResult(out)
	if err == nil && out.Error != nil {
		result.IsError = true
	}
	return result, err
}

// handleJobs lists live jobs.
func (s *Server) handleJobs(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := s.manager.Registry().List(req.GetString("filter", ""))
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(map[string]any{"jobs": list, "count": len(list)})
}

// handleCancel aborts a live job.
func (s *Server) handleCancel(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError("job_id is required"), nil
	}
	if err := s.manager.Cancel(id); err != nil {
		return toolError(err), nil
	}
	return marshalResult(map[string]any{"ok": true, "job_id": id})
}

// handleDiagram draws a scene document.
func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	raw := rawArgument(req, "scene_data")
	if raw == nil {
		return mcp.NewToolResultError("scene_data is required"), nil
	}
	doc, err := scene.Parse(schema.JobRequest{SceneData: raw}.SceneText())
	if err != nil {
		return toolError(err), nil
	}

	text, err := diagram.Render(ctx, diagram.FromScene(doc, req.GetString("title", "")), format)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(text), nil
}

// rawArgument accepts a document either as JSON text or as an inline value.
func rawArgument(req mcp.CallToolRequest, key string) json.RawMessage {
	v := mcp.ParseArgument(req, key, nil)
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok && s == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// eventError recovers the structured error carried by an error event.
func eventError(e schema.Event) error {
	if se, ok := e.Payload.(*schema.Error); ok {
		return se
	}
	return schema.NewError(schema.ErrCodeExecution, e.Content)
}

func toolError(err error) *mcp.CallToolResult {
	se := schema.AsError(err)
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s", se.Code, se.Message))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
