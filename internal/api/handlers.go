package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rendis/scenecraft/internal/jobs"
	"github.com/rendis/scenecraft/internal/llm"
	"github.com/rendis/scenecraft/internal/logging"
	"github.com/rendis/scenecraft/pkg/schema"
)

type addJobRequest struct {
	RequestData *schema.JobRequest `json:"request_data"`
}

type addJobResponse struct {
	JobID string `json:"job_id"`
}

// handleAddJob registers a job and returns its id immediately. A missing
// request_data falls back to the default model and query.
func (s *Server) handleAddJob(w http.ResponseWriter, r *http.Request) {
	var body addJobRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeErr(w, err)
		return
	}
	req := schema.JobRequest{}
	if body.RequestData != nil {
		req = *body.RequestData
	}

	id, err := s.deps.Manager.Submit(r.Context(), req.WithDefaults(s.deps.DefaultModel))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addJobResponse{JobID: id})
}

// handleStream relays a job's events until its terminal event. Closing the
// connection aborts the job.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")
	sse, ok := newSSE(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, schema.NewError(schema.ErrCodeExecution, "streaming not supported"))
		return
	}

	ctx := logging.WithJobID(r.Context(), id)
	for e := range s.deps.Manager.Registry().Subscribe(ctx, id) {
		if err := sse.send(e); err != nil {
			s.deps.Logger.DebugContext(ctx, "stream write failed", slog.String("error", err.Error()))
			return
		}
	}
}

type listJobsResponse struct {
	Jobs []jobs.Info `json:"jobs"`
}

// handleListJobs lists live jobs, optionally narrowed by ?filter=<expr>.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Manager.Registry().List(r.URL.Query().Get("filter"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if list == nil {
		list = []jobs.Info{}
	}
	writeJSON(w, http.StatusOK, listJobsResponse{Jobs: list})
}

// handleCancelJob aborts a live job; its subscriber sees a CANCELLED error.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")
	if err := s.deps.Manager.Cancel(id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "cancelling"})
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
}

// chatBlock is one SSE block of the chat passthrough.
type chatBlock struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Code    string `json:"code,omitempty"`
}

// handleChat streams a completion straight from the model, without a job.
// An upstream failure is reported as an error block carrying the fallback
// message before the closing done block.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if len(body.Messages) == 0 {
		writeErr(w, schema.NewError(schema.ErrCodeValidation, "messages must not be empty"))
		return
	}
	if body.Model == "" {
		body.Model = s.deps.DefaultModel
	}
	if s.deps.Client == nil {
		writeErr(w, schema.NewError(schema.ErrCodeUpstream, "no model client configured"))
		return
	}

	sse, ok := newSSE(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, schema.NewError(schema.ErrCodeExecution, "streaming not supported"))
		return
	}
	ctx := r.Context()
	if err := sse.send(chatBlock{Type: "thinking", Content: "Agent is thinking..."}); err != nil {
		return
	}

	_, err := llm.StreamText(ctx, s.deps.Client, body.Model, body.Messages, func(chunk string) error {
		return sse.send(chatBlock{Type: "markdown", Content: chunk})
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.deps.Logger.WarnContext(ctx, "chat passthrough failed",
			slog.String("model", body.Model), slog.String("error", err.Error()))
		if sse.send(chatBlock{Type: "error", Content: llm.FallbackMessage, Code: schema.CodeOf(err)}) != nil {
			return
		}
	}
	sse.send(chatBlock{Type: "done"})
}

type healthResponse struct {
	Status string         `json:"status"`
	Jobs   int            `json:"jobs"`
	Slots  jobs.SlotStats `json:"slots"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Jobs:   s.deps.Manager.Registry().Len(),
		Slots:  s.deps.Manager.Slots().Stats(),
	})
}
