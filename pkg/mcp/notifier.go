package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/scenecraft/pkg/schema"
)

// Notifier forwards job progress to the client that started the job.
type Notifier interface {
	Notify(ctx context.Context, e schema.Event) error
}

// SessionNotifier sends events as notifications/message to the MCP session
// carried by ctx.
type SessionNotifier struct {
	mcpServer *server.MCPServer
}

// NewSessionNotifier creates a notifier bound to mcpServer.
func NewSessionNotifier(mcpServer *server.MCPServer) *SessionNotifier {
	return &SessionNotifier{mcpServer: mcpServer}
}

// Notify is best-effort: calls without a live session are dropped.
func (n *SessionNotifier) Notify(ctx context.Context, e schema.Event) error {
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(session.SessionID(), "notifications/message", map[string]any{
		"level":  "info",
		"logger": "scenecraft." + e.Step,
		"data":   e,
	})
	if errors.Is(err, server.ErrSessionNotFound) {
		return nil
	}
	return err
}
