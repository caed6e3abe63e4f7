package agent

import (
	"github.com/rendis/scenecraft/internal/jobs"
	"github.com/rendis/scenecraft/pkg/schema"
)

// FlowContext is the state shared by the nodes of one run.
//
// CurrentIntent is written once, by intent recognition. Document and
// DiffContent are written at most once, by the single edit step the run
// routes to; a nil DiffContent means the model produced no usable diff.
type FlowContext struct {
	Model     string
	UserQuery string
	Request   schema.JobRequest
	Sink      jobs.Sink

	CurrentIntent Intent
	Reason        string

	Document    string
	DiffContent *string

	Result *EditResult
	Reply  string
}

// NewFlowContext builds the initial state for req.
func NewFlowContext(req schema.JobRequest, sink jobs.Sink) *FlowContext {
	return &FlowContext{
		Model:     req.Model,
		UserQuery: req.UserQuery,
		Request:   req,
		Sink:      sink,
	}
}
