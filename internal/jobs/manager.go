package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/scenecraft/internal/logging"
	"github.com/rendis/scenecraft/pkg/schema"
)

// Sink receives the progress events of one job.
type Sink interface {
	Emit(ctx context.Context, step, content string, payload any)
}

// Runner executes one job request, emitting progress through sink.
// Terminal events are published by the Manager, not the Runner.
type Runner interface {
	Run(ctx context.Context, req schema.JobRequest, sink Sink) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, req schema.JobRequest, sink Sink) error

func (f RunnerFunc) Run(ctx context.Context, req schema.JobRequest, sink Sink) error {
	return f(ctx, req, sink)
}

// RequestValidator checks an encoded job request before a job is created.
type RequestValidator interface {
	ValidateRequest(body []byte) error
}

// Config tunes a Manager.
type Config struct {
	PoolSize     int
	JobTimeout   time.Duration
	DefaultModel string
}

// Manager accepts job requests and runs them out of band, at most
// Config.PoolSize at a time. Every job it starts ends with exactly one
// terminal event: done on success, error otherwise, including
// cancellation, timeout and panics.
type Manager struct {
	registry  *Registry
	runner    Runner
	validator RequestValidator
	slots     *Slots
	cfg       Config
	logger    *slog.Logger

	base context.Context
	stop context.CancelFunc

	// mu orders wg.Add in Submit against wg.Wait in Shutdown.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewManager creates a Manager. validator may be nil.
func NewManager(reg *Registry, runner Runner, validator RequestValidator, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = schema.DefaultModel
	}
	base, stop := context.WithCancel(context.Background())
	return &Manager{
		registry:  reg,
		runner:    runner,
		validator: validator,
		slots:     newSlots(cfg.PoolSize, reg.recorder),
		cfg:       cfg,
		logger:    logger,
		base:      base,
		stop:      stop,
	}
}

// Registry returns the underlying registry.
func (m *Manager) Registry() *Registry { return m.registry }

// Slots returns the run slots.
func (m *Manager) Slots() *Slots { return m.slots }

// Submit validates req, creates a job and starts it in the background.
// It returns as soon as the job is registered.
func (m *Manager) Submit(ctx context.Context, req schema.JobRequest) (string, error) {
	if err := m.enter(); err != nil {
		return "", err
	}
	req = req.WithDefaults(m.cfg.DefaultModel)
	if err := m.validate(req); err != nil {
		m.wg.Done()
		return "", err
	}

	job := m.registry.Create(req)

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if m.cfg.JobTimeout > 0 {
		runCtx, cancel = context.WithTimeout(m.base, m.cfg.JobTimeout)
	} else {
		runCtx, cancel = context.WithCancel(m.base)
	}
	job.setCancel(cancel)

	go func() {
		defer m.wg.Done()
		m.start(runCtx, cancel, job)
	}()

	m.logger.InfoContext(logging.WithJobID(ctx, job.ID), "job submitted", slog.String("model", req.Model))
	return job.ID, nil
}

// enter registers one more job goroutine, unless Shutdown has begun.
func (m *Manager) enter() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return schema.NewError(schema.ErrCodeConflict, "job manager is shut down").WithCause(ErrShutdown)
	}
	m.wg.Add(1)
	return nil
}

func (m *Manager) validate(req schema.JobRequest) error {
	if m.validator == nil {
		return nil
	}
	body, err := json.Marshal(req)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "encode request: %v", err).WithCause(err)
	}
	return m.validator.ValidateRequest(body)
}

// Cancel aborts a live job. Its subscriber receives a CANCELLED error event.
func (m *Manager) Cancel(id string) error {
	job, ok := m.registry.Get(id)
	if !ok {
		return notFound(id)
	}
	job.abort()
	return nil
}

// Shutdown cancels every running job and waits for their terminal events
// to be published, or for ctx to end. Later Submits fail with CONFLICT.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.stop()
	m.slots.close()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// start waits for a run slot and runs the job. A job cancelled while
// pending never runs but still gets its terminal event.
func (m *Manager) start(ctx context.Context, cancel context.CancelFunc, job *Job) {
	defer cancel()
	ctx = logging.WithJobID(ctx, job.ID)
	started := time.Now()

	if err := m.slots.acquire(ctx, job, m.registry.now); err != nil {
		if errors.Is(err, ErrShutdown) {
			err = schema.NewError(schema.ErrCodeCancelled, "job manager is shut down").WithCause(err)
		}
		m.finish(ctx, job, started, err)
		return
	}

	status := schema.JobStatusFailed
	defer func() { m.slots.release(status) }()
	defer func() {
		if r := recover(); r != nil {
			err := schema.NewErrorf(schema.ErrCodeExecution, "panic: %v", r)
			status = m.finish(ctx, job, started, err)
		}
	}()

	err := m.runner.Run(ctx, job.Request, &jobSink{registry: m.registry, id: job.ID, logger: m.logger})
	status = m.finish(ctx, job, started, err)
}

// finish records the outcome, publishes the terminal event and returns the
// job's final status.
func (m *Manager) finish(ctx context.Context, job *Job, started time.Time, err error) schema.JobStatus {
	status := schema.JobStatusCompleted
	event := schema.Event{Step: schema.StepDone}
	if err != nil {
		err = classify(ctx, err)
		status = schema.JobStatusFailed
		if schema.CodeOf(err) == schema.ErrCodeCancelled {
			status = schema.JobStatusCancelled
		}
		event = schema.ErrorEvent(err)
	}

	if terr := job.transition(status); terr != nil {
		m.logger.DebugContext(ctx, "job status unchanged", slog.String("error", terr.Error()))
	}
	if perr := m.registry.Publish(job.ID, event); perr != nil {
		m.logger.DebugContext(ctx, "terminal event not delivered", slog.String("error", perr.Error()))
	}
	m.registry.recorder.JobFinished(status, time.Since(started))

	if err != nil {
		m.logger.WarnContext(ctx, "job failed",
			slog.String("status", string(status)),
			slog.String("code", schema.CodeOf(err)),
			slog.String("error", err.Error()),
		)
		return status
	}
	m.logger.InfoContext(ctx, "job completed", slog.Duration("elapsed", time.Since(started)))
	return status
}

// classify maps context endings onto CANCELLED and TIMEOUT_ERROR.
func classify(ctx context.Context, err error) error {
	code := schema.CodeOf(err)
	switch {
	case code == schema.ErrCodeCancelled || code == schema.ErrCodeTimeout:
		return err
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return schema.NewError(schema.ErrCodeTimeout, "job timed out").WithCause(err)
	case errors.Is(ctx.Err(), context.Canceled):
		return schema.NewError(schema.ErrCodeCancelled, "job cancelled").WithCause(err)
	}
	return err
}

type jobSink struct {
	registry *Registry
	id       string
	logger   *slog.Logger
}

func (s *jobSink) Emit(ctx context.Context, step, content string, payload any) {
	e := schema.Event{Step: step, Content: content, Payload: payload}
	if e.Terminal() {
		s.logger.WarnContext(ctx, "runner tried to publish a terminal event", slog.String("step", step))
		return
	}
	if err := s.registry.Publish(s.id, e); err != nil {
		s.logger.DebugContext(ctx, "event dropped", slog.String("step", step), slog.String("error", err.Error()))
	}
}

var _ Sink = (*jobSink)(nil)
