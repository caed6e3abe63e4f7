package jobs

import (
	"slices"

	"github.com/rendis/scenecraft/pkg/schema"
)

// TransitionHook is called after a job changes status.
type TransitionHook func(jobID string, from, to schema.JobStatus)

// ValidTransitions defines the allowed job status transitions.
var ValidTransitions = map[schema.JobStatus][]schema.JobStatus{
	schema.JobStatusPending:   {schema.JobStatusRunning, schema.JobStatusCancelled, schema.JobStatusFailed},
	schema.JobStatusRunning:   {schema.JobStatusCompleted, schema.JobStatusFailed, schema.JobStatusCancelled},
	schema.JobStatusCompleted: {},
	schema.JobStatusFailed:    {},
	schema.JobStatusCancelled: {},
}

func isValidTransition(from, to schema.JobStatus) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

// transition moves the job to status to, or returns INVALID_TRANSITION.
func (j *Job) transition(to schema.JobStatus) error {
	j.mu.Lock()
	from := j.status
	if !isValidTransition(from, to) {
		j.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid job transition: %s -> %s", from, to).
			WithDetails(map[string]any{"job_id": j.ID, "from": string(from), "to": string(to)})
	}
	j.status = to
	hook := j.onTransition
	j.mu.Unlock()

	if hook != nil {
		hook(j.ID, from, to)
	}
	return nil
}
