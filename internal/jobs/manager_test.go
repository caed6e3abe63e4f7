package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/scenecraft/pkg/schema"
)

func newTestManager(t *testing.T, runner Runner, cfg Config, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(NewRegistry(opts...), runner, nil, cfg, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		require.NoError(t, m.Shutdown(ctx))
	})
	return m
}

func lastError(t *testing.T, events []schema.Event) *schema.Error {
	t.Helper()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, schema.StepError, last.Step)
	se, ok := last.Payload.(*schema.Error)
	require.True(t, ok)
	return se
}

func TestManager_Success(t *testing.T) {
	rec := &countingRecorder{}
	var gotModel string
	m := newTestManager(t, RunnerFunc(func(ctx context.Context, req schema.JobRequest, sink Sink) error {
		gotModel = req.Model
		sink.Emit(ctx, schema.StepThinking, "", nil)
		sink.Emit(ctx, schema.StepChat, "I can edit scenes.", nil)
		return nil
	}), Config{PoolSize: 2, DefaultModel: "test/model"}, WithRecorder(rec))

	id, err := m.Submit(context.Background(), schema.JobRequest{UserQuery: "what can you do?"})
	require.NoError(t, err)

	events := drain(t, m.Registry().Subscribe(context.Background(), id))
	assert.Equal(t, []string{"thinking", "chat", "done"}, steps(events))
	assert.Equal(t, "test/model", gotModel)
	assert.Equal(t, []schema.JobStatus{schema.JobStatusCompleted}, rec.Finished())
	assert.Zero(t, m.Registry().Len())
}

func TestManager_RunnerError(t *testing.T) {
	m := newTestManager(t, RunnerFunc(func(ctx context.Context, _ schema.JobRequest, sink Sink) error {
		sink.Emit(ctx, schema.StepThinking, "", nil)
		return schema.NewError(schema.ErrCodeRecognition, "unknown intent")
	}), Config{PoolSize: 1})

	id, err := m.Submit(context.Background(), schema.JobRequest{})
	require.NoError(t, err)

	events := drain(t, m.Registry().Subscribe(context.Background(), id))
	assert.Equal(t, []string{"thinking", "error"}, steps(events))
	se := lastError(t, events)
	assert.Equal(t, schema.ErrCodeRecognition, se.Code)
	assert.Equal(t, "unknown intent", events[1].Content)
}

func TestManager_Panic(t *testing.T) {
	rec := &countingRecorder{}
	m := newTestManager(t, RunnerFunc(func(context.Context, schema.JobRequest, Sink) error {
		panic("kaboom")
	}), Config{PoolSize: 1}, WithRecorder(rec))

	id, err := m.Submit(context.Background(), schema.JobRequest{})
	require.NoError(t, err)

	se := lastError(t, drain(t, m.Registry().Subscribe(context.Background(), id)))
	assert.Equal(t, schema.ErrCodeExecution, se.Code)
	assert.Contains(t, se.Message, "kaboom")
	assert.Equal(t, []schema.JobStatus{schema.JobStatusFailed}, rec.Finished())
}

func blockingRunner(started chan<- struct{}) Runner {
	return RunnerFunc(func(ctx context.Context, _ schema.JobRequest, _ Sink) error {
		if started != nil {
			started <- struct{}{}
		}
		<-ctx.Done()
		return ctx.Err()
	})
}

func TestManager_Cancel(t *testing.T) {
	started := make(chan struct{}, 1)
	m := newTestManager(t, blockingRunner(started), Config{PoolSize: 1})

	id, err := m.Submit(context.Background(), schema.JobRequest{})
	require.NoError(t, err)
	<-started

	require.NoError(t, m.Cancel(id))
	se := lastError(t, drain(t, m.Registry().Subscribe(context.Background(), id)))
	assert.Equal(t, schema.ErrCodeCancelled, se.Code)

	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(m.Cancel("missing")))
}

func TestManager_Timeout(t *testing.T) {
	m := newTestManager(t, blockingRunner(nil), Config{PoolSize: 1, JobTimeout: 30 * time.Millisecond})

	id, err := m.Submit(context.Background(), schema.JobRequest{})
	require.NoError(t, err)

	se := lastError(t, drain(t, m.Registry().Subscribe(context.Background(), id)))
	assert.Equal(t, schema.ErrCodeTimeout, se.Code)
}

func TestManager_SubscriberDisconnectCancelsRun(t *testing.T) {
	started := make(chan struct{}, 1)
	stopped := make(chan error, 1)
	m := newTestManager(t, RunnerFunc(func(ctx context.Context, _ schema.JobRequest, _ Sink) error {
		started <- struct{}{}
		<-ctx.Done()
		stopped <- ctx.Err()
		return ctx.Err()
	}), Config{PoolSize: 1})

	id, err := m.Submit(context.Background(), schema.JobRequest{})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	ch := m.Registry().Subscribe(ctx, id)
	cancel()
	drain(t, ch)

	select {
	case err := <-stopped:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run not cancelled after subscriber left")
	}
}

func TestManager_RunnerCannotPublishTerminal(t *testing.T) {
	m := newTestManager(t, RunnerFunc(func(ctx context.Context, _ schema.JobRequest, sink Sink) error {
		sink.Emit(ctx, schema.StepDone, "", nil)
		sink.Emit(ctx, schema.StepChat, "still here", nil)
		return nil
	}), Config{PoolSize: 1})

	id, err := m.Submit(context.Background(), schema.JobRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"chat", "done"}, steps(drain(t, m.Registry().Subscribe(context.Background(), id))))
}

func TestManager_PoolBoundsConcurrency(t *testing.T) {
	started := make(chan struct{}, 2)
	m := newTestManager(t, blockingRunner(started), Config{PoolSize: 1})

	first, err := m.Submit(context.Background(), schema.JobRequest{})
	require.NoError(t, err)
	<-started
	second, err := m.Submit(context.Background(), schema.JobRequest{})
	require.NoError(t, err)

	job, ok := m.Registry().Get(second)
	require.True(t, ok)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, schema.JobStatusPending, job.Status())

	require.NoError(t, m.Cancel(first))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("second job never started")
	}
	assert.Equal(t, schema.JobStatusRunning, job.Status())
	require.NoError(t, m.Cancel(second))
}

func TestManager_CancelWhilePending(t *testing.T) {
	started := make(chan struct{}, 2)
	m := newTestManager(t, blockingRunner(started), Config{PoolSize: 1})

	first, err := m.Submit(context.Background(), schema.JobRequest{})
	require.NoError(t, err)
	<-started
	second, err := m.Submit(context.Background(), schema.JobRequest{})
	require.NoError(t, err)

	require.NoError(t, m.Cancel(second))
	se := lastError(t, drain(t, m.Registry().Subscribe(context.Background(), second)))
	assert.Equal(t, schema.ErrCodeCancelled, se.Code)

	require.NoError(t, m.Cancel(first))
}

type rejectValidator struct{}

func (rejectValidator) ValidateRequest([]byte) error {
	return schema.NewError(schema.ErrCodeValidation, "user_query must be a string")
}

func TestManager_ValidationRejects(t *testing.T) {
	reg := NewRegistry()
	m := NewManager(reg, blockingRunner(nil), rejectValidator{}, Config{PoolSize: 1}, nil)
	defer func() { require.NoError(t, m.Shutdown(context.Background())) }()

	_, err := m.Submit(context.Background(), schema.JobRequest{})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
	assert.Zero(t, reg.Len())
}

func TestManager_Shutdown(t *testing.T) {
	started := make(chan struct{}, 1)
	reg := NewRegistry()
	m := NewManager(reg, blockingRunner(started), nil, Config{PoolSize: 1}, nil)

	id, err := m.Submit(context.Background(), schema.JobRequest{})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	se := lastError(t, drain(t, reg.Subscribe(context.Background(), id)))
	assert.Equal(t, schema.ErrCodeCancelled, se.Code)

	_, err = m.Submit(context.Background(), schema.JobRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShutdown))
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))
}

func TestManager_SubmitRacingShutdown(t *testing.T) {
	reg := NewRegistry()
	m := NewManager(reg, RunnerFunc(func(context.Context, schema.JobRequest, Sink) error {
		return nil
	}), nil, Config{PoolSize: 4}, nil)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Submit(context.Background(), schema.JobRequest{})
		}()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	wg.Wait()

	// every accepted job was waited for and got its terminal event
	for _, info := range mustList(t, reg) {
		job, ok := reg.Get(info.ID)
		require.True(t, ok)
		assert.True(t, job.Finished(), "job %s", info.ID)
	}
	_, err := m.Submit(context.Background(), schema.JobRequest{})
	assert.True(t, errors.Is(err, ErrShutdown))
}

func mustList(t *testing.T, reg *Registry) []Info {
	t.Helper()
	infos, err := reg.List("")
	require.NoError(t, err)
	return infos
}

func TestSlots_TrackJobs(t *testing.T) {
	rec := &countingRecorder{}
	started := make(chan struct{}, 2)
	m := newTestManager(t, blockingRunner(started), Config{PoolSize: 1}, WithRecorder(rec))

	first, err := m.Submit(context.Background(), schema.JobRequest{})
	require.NoError(t, err)
	<-started
	_, err = m.Submit(context.Background(), schema.JobRequest{})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return m.Slots().Stats().Waiting == 1 }, 2*time.Second, 5*time.Millisecond)
	stats := m.Slots().Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, int64(1), stats.Running)
	assert.Contains(t, rec.Waiting(), 1)

	require.NoError(t, m.Cancel(first))
	<-started
	require.Eventually(t, func() bool { return m.Slots().Stats().Cancelled == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), m.Slots().Stats().Waiting)
}

func TestSlots_StartRestartsIdleClock(t *testing.T) {
	now := time.Unix(1000, 0)
	var mu sync.Mutex
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }

	started := make(chan struct{}, 2)
	m := newTestManager(t, blockingRunner(started), Config{PoolSize: 1}, WithClock(clock))

	first, err := m.Submit(context.Background(), schema.JobRequest{})
	require.NoError(t, err)
	<-started
	second, err := m.Submit(context.Background(), schema.JobRequest{})
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(time.Hour)
	mu.Unlock()
	require.NoError(t, m.Cancel(first))
	<-started

	job, ok := m.Registry().Get(second)
	require.True(t, ok)
	assert.Equal(t, schema.JobStatusRunning, job.Status())
	assert.Equal(t, time.Unix(1000, 0).Add(time.Hour), job.Info().LastActivity)
	assert.NotContains(t, m.Registry().Sweep(time.Minute), second)
	require.NoError(t, m.Cancel(second))
}
