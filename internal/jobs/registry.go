// Package jobs is the job and event bus: a process-wide registry of
// in-flight jobs, each with an unbounded FIFO of progress events consumed
// by exactly one subscriber.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/scenecraft/internal/logging"
	"github.com/rendis/scenecraft/pkg/schema"
)

// Recorder receives job lifecycle measurements.
type Recorder interface {
	JobCreated()
	JobRemoved()
	JobFinished(status schema.JobStatus, elapsed time.Duration)
	JobsSwept(n int)
	JobsWaiting(n int)
}

type nopRecorder struct{}

func (nopRecorder) JobCreated()                                 {}
func (nopRecorder) JobRemoved()                                 {}
func (nopRecorder) JobFinished(schema.JobStatus, time.Duration) {}
func (nopRecorder) JobsSwept(int)                               {}
func (nopRecorder) JobsWaiting(int)                             {}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Registry) { r.recorder = rec }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithTransitionHook registers a hook called on every job status change.
func WithTransitionHook(h TransitionHook) Option {
	return func(r *Registry) { r.onTransition = h }
}

// Registry maps job IDs to live jobs. An entry is added by Create and
// removed exactly once: by its subscriber after a terminal event, on
// subscriber disconnect, or by Sweep.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*Job

	logger       *slog.Logger
	recorder     Recorder
	now          func() time.Time
	onTransition TransitionHook
	filters      *filterCache
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		jobs:     make(map[string]*Job),
		logger:   slog.Default(),
		recorder: nopRecorder{},
		now:      time.Now,
		filters:  newFilterCache(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Create registers a new pending job with a fresh ID and an empty queue.
func (r *Registry) Create(req schema.JobRequest) *Job {
	now := r.now()
	job := &Job{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		Request:      req,
		queue:        NewQueue(),
		status:       schema.JobStatusPending,
		lastActivity: now,
		onTransition: r.onTransition,
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	r.recorder.JobCreated()
	r.logger.Debug("job created", slog.String("job_id", job.ID), slog.String("model", req.Model))
	return job
}

// Get returns the live job with the given ID.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	return job, ok
}

// Len returns the number of live jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Publish appends an event to the job's queue. It never blocks. Unknown
// jobs yield NOT_FOUND; events after the terminal one yield CONFLICT.
func (r *Registry) Publish(id string, e schema.Event) error {
	job, ok := r.Get(id)
	if !ok {
		return notFound(id)
	}
	if err := job.stamp(&e, r.now()); err != nil {
		return err
	}
	if err := job.queue.Push(e); err != nil {
		return notFound(id)
	}
	return nil
}

// Subscribe returns the job's event stream. The channel yields events in
// publish order and is closed after a done or error event, at which point
// the job is removed. Cancelling ctx detaches the subscriber, aborts the
// job's run and removes it.
//
// An unknown ID yields one NOT_FOUND error event; a second subscriber on
// the same job yields one CONFLICT error event. Neither is a call failure.
func (r *Registry) Subscribe(ctx context.Context, id string) <-chan schema.Event {
	job, ok := r.Get(id)
	if !ok {
		return single(syntheticError(id, notFound(id), r.now()))
	}
	if !job.subscribed.CompareAndSwap(false, true) {
		err := schema.NewErrorf(schema.ErrCodeConflict, "job %s already has a subscriber", id)
		return single(syntheticError(id, err, r.now()))
	}

	out := make(chan schema.Event)
	go func() {
		defer close(out)
		ctx := logging.WithJobID(ctx, id)
		for {
			e, err := job.queue.Pop(ctx)
			if err != nil {
				if errors.Is(err, ErrQueueClosed) {
					return
				}
				r.detach(ctx, id)
				return
			}
			select {
			case out <- e:
			case <-ctx.Done():
				r.detach(ctx, id)
				return
			}
			if e.Terminal() {
				r.Remove(id)
				return
			}
		}
	}()
	return out
}

func (r *Registry) detach(ctx context.Context, id string) {
	if r.Remove(id) {
		r.logger.InfoContext(ctx, "subscriber disconnected, job aborted")
	}
}

// Remove deletes the job, closes its queue and aborts its run. It reports
// whether this call did the removal; later calls are no-ops.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if ok {
		delete(r.jobs, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	job.queue.Close()
	job.abort()
	r.recorder.JobRemoved()
	r.logger.Debug("job removed", slog.String("job_id", id))
	return true
}

// Sweep removes jobs with no activity for longer than maxIdle. A job that
// has not finished gets a TIMEOUT error event first, so an attached
// subscriber still sees a terminal event. It returns the swept IDs.
func (r *Registry) Sweep(maxIdle time.Duration) []string {
	now := r.now()

	r.mu.Lock()
	var idle []*Job
	for _, job := range r.jobs {
		if now.Sub(job.idleSince()) > maxIdle {
			idle = append(idle, job)
		}
	}
	r.mu.Unlock()

	var swept []string
	for _, job := range idle {
		if !job.Finished() {
			err := schema.NewErrorf(schema.ErrCodeTimeout, "job idle for more than %s", maxIdle)
			_ = r.Publish(job.ID, schema.ErrorEvent(err))
		}
		if r.Remove(job.ID) {
			swept = append(swept, job.ID)
		}
	}
	if len(swept) > 0 {
		r.recorder.JobsSwept(len(swept))
		r.logger.Info("swept idle jobs", slog.Int("count", len(swept)))
	}
	return swept
}

// List returns snapshots of live jobs, oldest first. A non-empty filter is
// an expr boolean expression over id, status, model, events, pending,
// subscribed, age_seconds and idle_seconds.
func (r *Registry) List(filter string) ([]Info, error) {
	r.mu.Lock()
	all := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		all = append(all, job)
	}
	r.mu.Unlock()

	infos := make([]Info, 0, len(all))
	for _, job := range all {
		infos = append(infos, job.Info())
	}
	sort.Slice(infos, func(i, k int) bool { return infos[i].CreatedAt.Before(infos[k].CreatedAt) })

	if filter == "" {
		return infos, nil
	}
	prg, err := r.filters.compile(filter)
	if err != nil {
		return nil, err
	}
	now := r.now()
	out := infos[:0]
	for _, info := range infos {
		ok, err := r.filters.match(prg, info, now)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, info)
		}
	}
	return out, nil
}

func notFound(id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "job %s not found", id).
		WithDetails(map[string]any{"job_id": id})
}

func syntheticError(id string, err error, now time.Time) schema.Event {
	e := schema.ErrorEvent(err)
	e.JobID = id
	e.Time = now
	return e
}

func single(e schema.Event) <-chan schema.Event {
	ch := make(chan schema.Event, 1)
	ch <- e
	close(ch)
	return ch
}
