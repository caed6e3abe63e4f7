package llm

import (
	"context"
	"io"
	"sync"
)

// FakeResponse scripts one completion. OpenErr fails Stream itself; RecvErr
// is returned after all Chunks have been delivered.
type FakeResponse struct {
	Chunks  []string
	OpenErr error
	RecvErr error
}

// FakeCall records one Stream invocation.
type FakeCall struct {
	Model    string
	Messages []Message
}

// FakeClient is a scripted Client for tests. When Respond is set it decides
// every response; otherwise Responses are consumed in order and an empty
// completion is returned once they run out.
type FakeClient struct {
	Respond   func(model string, messages []Message) FakeResponse
	Responses []FakeResponse

	mu    sync.Mutex
	calls []FakeCall
}

// Stream implements Client.
func (f *FakeClient) Stream(ctx context.Context, model string, messages []Message) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.calls = append(f.calls, FakeCall{Model: model, Messages: messages})
	var resp FakeResponse
	switch {
	case f.Respond != nil:
		f.mu.Unlock()
		resp = f.Respond(model, messages)
	case len(f.Responses) > 0:
		resp = f.Responses[0]
		f.Responses = f.Responses[1:]
		f.mu.Unlock()
	default:
		f.mu.Unlock()
	}

	if resp.OpenErr != nil {
		return nil, resp.OpenErr
	}
	return &fakeStream{ctx: ctx, chunks: resp.Chunks, err: resp.RecvErr}, nil
}

// Calls returns a copy of the recorded invocations.
func (f *FakeClient) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeStream struct {
	ctx    context.Context
	chunks []string
	err    error
	closed bool
}

func (s *fakeStream) Recv() (Chunk, error) {
	if err := s.ctx.Err(); err != nil {
		return Chunk{}, err
	}
	if len(s.chunks) == 0 {
		if s.err != nil {
			return Chunk{}, s.err
		}
		return Chunk{FinishReason: "stop"}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return Chunk{ID: "fake", Content: c}, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

var _ Client = (*FakeClient)(nil)
var _ Client = (*OpenAIClient)(nil)
