// Package mcp exposes the scene assistant as MCP tools over stdio.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/scenecraft/internal/diagram"
	"github.com/rendis/scenecraft/internal/jobs"
)

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Manager *jobs.Manager
	// Notifier receives every non-terminal event of a scene.edit call.
	// Defaults to MCP log notifications on the calling session.
	Notifier Notifier
	Version  string
	Logger   *slog.Logger
}

// Server wraps an MCP server with the scene tools.
type Server struct {
	manager   *jobs.Manager
	notifier  Notifier
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		manager: deps.Manager,
		logger:  logger,
	}

	mcpSrv := server.NewMCPServer(
		"scenecraft",
		version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
		server.WithRecovery(),
		server.WithInstructions("Scenecraft edits node-graph scene documents from natural language. Use scene.edit with a user_query and the current scene_data to modify or generate a scene; progress arrives as log notifications and the final scene is in the result. Use scene.jobs to list running jobs, scene.cancel to stop one and scene.diagram to draw a scene."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv

	s.notifier = deps.Notifier
	if s.notifier == nil {
		s.notifier = NewSessionNotifier(mcpSrv)
	}
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: editTool(), Handler: s.handleEdit},
		{Tool: jobsTool(), Handler: s.handleJobs},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func editTool() mcp.Tool {
	return mcp.NewTool("scene.edit",
		mcp.WithDescription("Modify or generate a scene from a natural-language request and wait for the result"),
		mcp.WithString("user_query", mcp.Required(), mcp.Description("What to change or create")),
		mcp.WithString("scene_data", mcp.Description("Current scene document as JSON text (default: empty scene)")),
		mcp.WithString("catalog", mcp.Description("Reference catalog of node types as JSON text")),
		mcp.WithString("scene_generation_guidelines", mcp.Description("Extra guidance for scene generation")),
		mcp.WithString("model", mcp.Description("Model id (default: server default)")),
	)
}

func jobsTool() mcp.Tool {
	return mcp.NewTool("scene.jobs",
		mcp.WithDescription("List live jobs"),
		mcp.WithString("filter", mcp.Description(`Boolean expression over id, status, model, events, pending, subscribed, age_seconds and idle_seconds, e.g. status == "running"`)),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("scene.cancel",
		mcp.WithDescription("Cancel a live job"),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("ID of the job to cancel")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("scene.diagram",
		mcp.WithDescription("Draw a scene document as ASCII art, a Mermaid flowchart or a base64-encoded PNG image"),
		mcp.WithString("scene_data", mcp.Required(), mcp.Description("Scene document as JSON text")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum(diagram.FormatASCII, diagram.FormatMermaid, diagram.FormatImage),
			mcp.Description("Output format"),
		),
		mcp.WithString("title", mcp.Description("Diagram title")),
	)
}
