package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rendis/scenecraft/pkg/schema"
)

// Job is one in-flight request: its event queue plus bookkeeping.
type Job struct {
	ID        string
	CreatedAt time.Time
	Request   schema.JobRequest

	queue      *Queue
	subscribed atomic.Bool

	mu           sync.Mutex
	status       schema.JobStatus
	lastActivity time.Time
	seq          uint64
	finished     bool
	cancel       context.CancelFunc
	onTransition TransitionHook
}

// Info is a point-in-time snapshot of a job.
type Info struct {
	ID           string    `json:"job_id"`
	Status       string    `json:"status"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Events       uint64    `json:"events"`
	Pending      int       `json:"pending"`
	Subscribed   bool      `json:"subscribed"`
}

// Status returns the current status.
func (j *Job) Status() schema.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Finished reports whether a terminal event has been published.
func (j *Job) Finished() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finished
}

// Info returns a snapshot.
func (j *Job) Info() Info {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Info{
		ID:           j.ID,
		Status:       string(j.status),
		Model:        j.Request.Model,
		CreatedAt:    j.CreatedAt,
		LastActivity: j.lastActivity,
		Events:       j.seq,
		Pending:      j.queue.Len(),
		Subscribed:   j.subscribed.Load(),
	}
}

func (j *Job) idleSince() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastActivity
}

// touch records activity that did not produce an event.
func (j *Job) touch(now time.Time) {
	j.mu.Lock()
	j.lastActivity = now
	j.mu.Unlock()
}

// setCancel installs the function that aborts the job's run.
func (j *Job) setCancel(cancel context.CancelFunc) {
	j.mu.Lock()
	j.cancel = cancel
	j.mu.Unlock()
}

// abort cancels the run, if one is attached.
func (j *Job) abort() {
	j.mu.Lock()
	cancel := j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// stamp assigns the next sequence number and marks the job finished on a
// terminal event. It fails with CONFLICT once the job has finished.
func (j *Job) stamp(e *schema.Event, now time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finished {
		return schema.NewErrorf(schema.ErrCodeConflict, "job %s already finished", j.ID).
			WithDetails(map[string]any{"step": e.Step})
	}
	j.seq++
	e.JobID = j.ID
	e.Seq = j.seq
	if e.Time.IsZero() {
		e.Time = now
	}
	j.lastActivity = now
	if e.Terminal() {
		j.finished = true
	}
	return nil
}
