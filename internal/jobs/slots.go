package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rendis/scenecraft/pkg/schema"
)

// ErrShutdown is returned to jobs that still need a run slot after the
// manager has been shut down.
var ErrShutdown = errors.New("job manager is shut down")

// SlotStats is a snapshot of run slot usage.
type SlotStats struct {
	Size      int   `json:"size"`
	Waiting   int64 `json:"waiting"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// Slots caps how many jobs run at once. A job stays pending until it holds
// a slot and keeps it until its terminal event is published.
type Slots struct {
	sem      chan struct{}
	done     chan struct{}
	once     sync.Once
	recorder Recorder

	waiting   atomic.Int64
	running   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
}

func newSlots(size int, rec Recorder) *Slots {
	if size <= 0 {
		size = 1
	}
	return &Slots{
		sem:      make(chan struct{}, size),
		done:     make(chan struct{}),
		recorder: rec,
	}
}

// acquire blocks until job holds a slot, then moves it from pending to
// running. The job's activity clock restarts so time spent queued does not
// count toward the idle sweep.
func (s *Slots) acquire(ctx context.Context, job *Job, now func() time.Time) error {
	select {
	case <-s.done:
		return ErrShutdown
	default:
	}

	s.recorder.JobsWaiting(int(s.waiting.Add(1)))
	defer func() { s.recorder.JobsWaiting(int(s.waiting.Add(-1))) }()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrShutdown
	}

	if err := job.transition(schema.JobStatusRunning); err != nil {
		<-s.sem
		return err
	}
	job.touch(now())
	s.running.Add(1)
	return nil
}

// release frees the slot held by a job that ended with status.
func (s *Slots) release(status schema.JobStatus) {
	s.running.Add(-1)
	switch status {
	case schema.JobStatusCompleted:
		s.completed.Add(1)
	case schema.JobStatusCancelled:
		s.cancelled.Add(1)
	default:
		s.failed.Add(1)
	}
	<-s.sem
}

// close turns away jobs still waiting for a slot.
func (s *Slots) close() {
	s.once.Do(func() { close(s.done) })
}

// Stats returns a snapshot of the slot counters.
func (s *Slots) Stats() SlotStats {
	return SlotStats{
		Size:      cap(s.sem),
		Waiting:   s.waiting.Load(),
		Running:   s.running.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		Cancelled: s.cancelled.Load(),
	}
}
