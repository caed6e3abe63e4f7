package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rendis/scenecraft/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollect_AccumulatesAndForwards(t *testing.T) {
	fc := &FakeClient{Responses: []FakeResponse{{Chunks: []string{"Hel", "", "lo"}}}}

	var seen []string
	text, err := StreamText(context.Background(), fc, "m", User("hi"), func(s string) error {
		seen = append(seen, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
	assert.Equal(t, []string{"Hel", "lo"}, seen)

	calls := fc.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "m", calls[0].Model)
	assert.Equal(t, RoleUser, calls[0].Messages[0].Role)
}

func TestCollect_UpstreamErrorIsNotContent(t *testing.T) {
	fc := &FakeClient{Responses: []FakeResponse{{Chunks: []string{"partial"}, RecvErr: errors.New("connection reset")}}}

	text, err := StreamText(context.Background(), fc, "m", User("hi"), nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeUpstream, schema.CodeOf(err))
	assert.Equal(t, "partial", text)
	assert.NotContains(t, text, FallbackMessage)
}

func TestStreamText_OpenError(t *testing.T) {
	fc := &FakeClient{Responses: []FakeResponse{{OpenErr: errors.New("dial tcp: refused")}}}
	_, err := StreamText(context.Background(), fc, "m", User("hi"), nil)
	assert.Equal(t, schema.ErrCodeUpstream, schema.CodeOf(err))
}

func TestCollect_CallbackErrorStops(t *testing.T) {
	stop := errors.New("stop")
	fc := &FakeClient{Responses: []FakeResponse{{Chunks: []string{"a", "b", "c"}}}}
	text, err := StreamText(context.Background(), fc, "m", nil, func(string) error { return stop })
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, "a", text)
}

func TestCollect_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fc := &FakeClient{}
	_, err := StreamText(ctx, fc, "m", nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFakeClient_Respond(t *testing.T) {
	fc := &FakeClient{Respond: func(model string, _ []Message) FakeResponse {
		return FakeResponse{Chunks: []string{model}}
	}}
	text, err := StreamText(context.Background(), fc, "echo", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "echo", text)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{Backoff: "exponential", Delay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.backoff(0))
	assert.Equal(t, 200*time.Millisecond, p.backoff(1))
	assert.Equal(t, 300*time.Millisecond, p.backoff(2))

	p = RetryPolicy{Backoff: "linear", Delay: 10 * time.Millisecond}
	assert.Equal(t, 30*time.Millisecond, p.backoff(2))

	p = RetryPolicy{Backoff: "constant", Delay: 10 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, p.backoff(5))

	assert.Zero(t, RetryPolicy{}.backoff(3))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, isRetryable(nil))
	assert.False(t, isRetryable(context.Canceled))
	assert.True(t, isRetryable(context.DeadlineExceeded))
	assert.True(t, isRetryable(errors.New("read: connection reset by peer")))
	assert.False(t, isRetryable(errors.New("invalid model id")))
	assert.True(t, isRetryable(schema.NewError(schema.ErrCodeUpstream, "x")))
	assert.False(t, isRetryable(schema.NewError(schema.ErrCodeValidation, "x")))
}

func TestBreakers(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreakers(BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})
	b.now = func() time.Time { return now }

	require.NoError(t, b.Allow("m"))
	assert.Equal(t, BreakerClosed, b.Failure("m"))
	assert.Equal(t, BreakerOpen, b.Failure("m"))

	err := b.Allow("m")
	assert.Equal(t, schema.ErrCodeCircuitOpen, schema.CodeOf(err))
	assert.NoError(t, b.Allow("other"), "circuits are per model")

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow("m"), "probe after cooldown")
	assert.Equal(t, BreakerHalfOpen, b.State("m"))
	assert.Error(t, b.Allow("m"), "only one probe at a time")

	assert.Equal(t, BreakerOpen, b.Failure("m"), "failed probe reopens")

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow("m"))
	b.Success("m")
	assert.Equal(t, BreakerClosed, b.State("m"))
	assert.Equal(t, "closed", b.State("m").String())
}

// sseServer serves OpenAI-style streamed chunks after failing the first
// `failures` requests with 503.
func sseServer(t *testing.T, failures int32, chunks ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if n <= failures {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
			return
		}

		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, true, req["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		for i, c := range chunks {
			payload, _ := json.Marshal(map[string]any{
				"id":      "cmpl-1",
				"object":  "chat.completion.chunk",
				"created": 1,
				"model":   req["model"],
				"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": c}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			if i == len(chunks)-1 {
				fmt.Fprint(w, "data: [DONE]\n\n")
			}
		}
		if len(chunks) == 0 {
			fmt.Fprint(w, "data: [DONE]\n\n")
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestOpenAIClient_Stream(t *testing.T) {
	srv, hits := sseServer(t, 1, "next_action: ", "chat")
	c := NewOpenAIClient(OpenAIConfig{
		APIKey:  "test",
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
		Retry:   RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond},
	})

	text, err := StreamText(context.Background(), c, "some/model", User("hi"), nil)
	require.NoError(t, err)
	assert.Equal(t, "next_action: chat", text)
	assert.Equal(t, int32(2), hits.Load(), "first 503 is retried")
}

func TestOpenAIClient_GivesUp(t *testing.T) {
	srv, hits := sseServer(t, 10)
	c := NewOpenAIClient(OpenAIConfig{
		APIKey:  "test",
		BaseURL: srv.URL,
		Retry:   RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond},
		Breaker: BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour},
	})

	_, err := c.Stream(context.Background(), "m", User("hi"))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeUpstream, schema.CodeOf(err))
	assert.Equal(t, int32(2), hits.Load())

	_, err = c.Stream(context.Background(), "m", User("hi"))
	assert.Equal(t, schema.ErrCodeCircuitOpen, schema.CodeOf(err))
	assert.Equal(t, int32(2), hits.Load(), "open circuit short-circuits")
}

type outcomes struct {
	mu   sync.Mutex
	seen []string
}

func (o *outcomes) ModelCall(_, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, outcome)
}

func (o *outcomes) list() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.seen...)
}

func TestBreakers_ReleaseFreesProbe(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreakers(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})
	b.now = func() time.Time { return now }

	require.NoError(t, b.Allow("m"))
	require.Equal(t, BreakerOpen, b.Failure("m"))

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow("m"))
	b.Release("m")
	assert.Equal(t, BreakerHalfOpen, b.State("m"))
	assert.NoError(t, b.Allow("m"), "released probe slot is reusable")
}

func TestOpenAIClient_ProbeCancelledDuringBackoff(t *testing.T) {
	srv, _ := sseServer(t, 1000)
	rec := &outcomes{}
	c := NewOpenAIClient(OpenAIConfig{
		APIKey:   "test",
		BaseURL:  srv.URL,
		Retry:    RetryPolicy{MaxAttempts: 2, Delay: 200 * time.Millisecond},
		Breaker:  BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond},
		Recorder: rec,
	})
	_, err := c.Stream(context.Background(), "m", User("hi"))
	require.Equal(t, schema.ErrCodeUpstream, schema.CodeOf(err))
	require.Equal(t, BreakerOpen, c.breakers.State("m"))

	time.Sleep(20 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Stream(ctx, "m", User("hi"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, BreakerHalfOpen, c.breakers.State("m"))
	require.NoError(t, c.breakers.Allow("m"), "next caller may probe")
	assert.Equal(t, []string{schema.ErrCodeUpstream, OutcomeAbandoned}, rec.list())
}

func TestOpenAIClient_CallerCancelIsNotAFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := NewOpenAIClient(OpenAIConfig{
		APIKey:  "test",
		BaseURL: srv.URL,
		Retry:   RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond},
		Breaker: BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour},
	})

	for range 2 {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)
		_, err := c.Stream(ctx, "m", User("hi"))
		require.ErrorIs(t, err, context.Canceled)
		cancel()
	}

	assert.Equal(t, BreakerClosed, c.breakers.State("m"))
	assert.NoError(t, c.breakers.Allow("m"))
}

func TestOpenAIClient_RecordsOutcomes(t *testing.T) {
	srv, _ := sseServer(t, 0, "hello")
	rec := &outcomes{}
	c := NewOpenAIClient(OpenAIConfig{APIKey: "test", BaseURL: srv.URL, Recorder: rec})

	_, err := StreamText(context.Background(), c, "m", User("hi"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{OutcomeOK}, rec.list())
}
