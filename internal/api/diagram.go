package api

import (
	"encoding/json"
	"net/http"

	"github.com/rendis/scenecraft/internal/diagram"
	"github.com/rendis/scenecraft/internal/scene"
	"github.com/rendis/scenecraft/pkg/schema"
)

type diagramRequest struct {
	SceneData json.RawMessage `json:"scene_data"`
	Format    string          `json:"format"`
	Title     string          `json:"title"`
}

type diagramResponse struct {
	Format  string `json:"format"`
	Diagram string `json:"diagram"`
}

// handleSceneDiagram draws a scene document. scene_data may be JSON text or
// an inline object.
func (s *Server) handleSceneDiagram(w http.ResponseWriter, r *http.Request) {
	var body diagramRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeErr(w, err)
		return
	}
	text := schema.JobRequest{SceneData: body.SceneData}.SceneText()
	if text == "" {
		writeErr(w, schema.NewError(schema.ErrCodeValidation, "scene_data is required"))
		return
	}
	doc, err := scene.Parse(text)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.renderDiagram(w, r, diagram.FromScene(doc, body.Title), body.Format)
}

// handleWorkflow draws the assistant workflow graph.
func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	s.renderDiagram(w, r, s.deps.Workflow, r.URL.Query().Get("format"))
}

func (s *Server) renderDiagram(w http.ResponseWriter, r *http.Request, m *diagram.Model, format string) {
	if format == "" {
		format = diagram.FormatMermaid
	}
	out, err := diagram.Render(r.Context(), m, format)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diagramResponse{Format: format, Diagram: out})
}
