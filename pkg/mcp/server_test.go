package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	s := NewServer(ServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.IsType(t, &SessionNotifier{}, s.notifier)
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		toolName    string
		description string
	}{
		{"scene.edit", "Modify or generate a scene from a natural-language request and wait for the result"},
		{"scene.jobs", "List live jobs"},
		{"scene.cancel", "Cancel a live job"},
		{"scene.diagram", "Draw a scene document as ASCII art, a Mermaid flowchart or a base64-encoded PNG image"},
	}

	s := NewServer(ServerDeps{})
	require.Len(t, s.mcpServer.ListTools(), len(tests))

	for _, tc := range tests {
		t.Run(tc.toolName, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
