package schema

import "time"

// Step classifiers carried by every Event.
const (
	StepThinking          = "thinking"
	StepIntentRecognition = "intent_recognition"
	StepModifyScene       = "modify_scene"
	StepModifyNode        = "modify_node"
	StepGenerateScene     = "generate_scene"
	StepGenerateNode      = "generate_node"
	StepChat              = "chat"
	StepDiffSkipped       = "diff_skipped"
	StepEditFinished      = "edit_finished"
	StepDone              = "done"
	StepError             = "error"
)

// Event is a single progress or result record published on a job's queue.
// Content carries streamed text; Payload carries structured results.
type Event struct {
	JobID   string    `json:"job_id,omitempty"`
	Seq     uint64    `json:"seq"`
	Step    string    `json:"step"`
	Content string    `json:"content,omitempty"`
	Payload any       `json:"payload,omitempty"`
	Time    time.Time `json:"time"`
}

// Terminal reports whether the event ends its job's stream.
func (e Event) Terminal() bool {
	return e.Step == StepDone || e.Step == StepError
}

// ErrorEvent builds a terminal error event from any error.
func ErrorEvent(err error) Event {
	se := AsError(err)
	return Event{
		Step:    StepError,
		Content: se.Message,
		Payload: se,
	}
}

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}
