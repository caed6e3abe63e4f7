package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rendis/scenecraft/pkg/schema"
)

// DefaultBaseURL is the OpenRouter OpenAI-compatible endpoint.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// OpenAIConfig configures OpenAIClient.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Temperature float32
	TopP        float32
	// Timeout bounds a whole completion, from open to the last chunk.
	Timeout time.Duration
	Retry   RetryPolicy
	Breaker BreakerConfig
	Logger  *slog.Logger
	// Recorder receives one outcome per Stream call. Optional.
	Recorder Recorder
}

// Outcomes reported to a Recorder besides error codes.
const (
	OutcomeOK        = "ok"
	OutcomeAbandoned = "abandoned"
)

// Recorder observes model calls. Outcome is OutcomeOK, OutcomeAbandoned
// when the caller went away, or the error code of the failure.
type Recorder interface {
	ModelCall(model, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ModelCall(string, string) {}

// OpenAIClient streams completions from any OpenAI-compatible endpoint.
type OpenAIClient struct {
	client   *openai.Client
	cfg      OpenAIConfig
	breakers *Breakers
	recorder Recorder
	logger   *slog.Logger
}

// NewOpenAIClient builds a client. An empty BaseURL selects OpenRouter.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.5
	}
	if cfg.TopP == 0 {
		cfg.TopP = 1
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.BaseURL

	return &OpenAIClient{
		client:   openai.NewClientWithConfig(oc),
		cfg:      cfg,
		breakers: NewBreakers(cfg.Breaker),
		recorder: recorder,
		logger:   logger,
	}
}

// Stream opens a streaming completion, retrying transient failures while
// opening. Failures after the first chunk are not retried. A caller that
// gives up leaves the model's circuit untouched; only upstream failures
// count against it.
func (c *OpenAIClient) Stream(ctx context.Context, model string, messages []Message) (Stream, error) {
	if err := c.breakers.Allow(model); err != nil {
		c.recorder.ModelCall(model, schema.CodeOf(err))
		return nil, err
	}

	caller := ctx
	cancel := func() {}
	if c.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAI(messages),
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
		Stream:      true,
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.cfg.Retry.backoff(attempt - 1)
			c.logger.WarnContext(ctx, "retrying model stream",
				"model", model, "attempt", attempt+1, "delay", delay, "error", lastErr)
			if err := sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		s, err := c.client.CreateChatCompletionStream(ctx, req)
		if err == nil {
			c.breakers.Success(model)
			c.recorder.ModelCall(model, OutcomeOK)
			return &openAIStream{stream: s, cancel: cancel}, nil
		}
		lastErr = err
		if caller.Err() != nil || !isRetryable(err) {
			break
		}
	}
	cancel()

	if err := caller.Err(); err != nil {
		c.breakers.Release(model)
		c.recorder.ModelCall(model, OutcomeAbandoned)
		return nil, err
	}

	if state := c.breakers.Failure(model); state == BreakerOpen {
		c.logger.ErrorContext(ctx, "model circuit opened", "model", model)
	}
	code := schema.ErrCodeUpstream
	if errors.Is(lastErr, context.DeadlineExceeded) {
		code = schema.ErrCodeTimeout
	}
	c.recorder.ModelCall(model, code)
	return nil, schema.NewErrorf(code, "open model stream: %v", lastErr).
		WithCause(lastErr).
		WithDetails(map[string]any{"model": model})
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
	cancel context.CancelFunc
}

func (s *openAIStream) Recv() (Chunk, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		return Chunk{}, err
	}
	chunk := Chunk{ID: resp.ID}
	if len(resp.Choices) > 0 {
		chunk.Content = resp.Choices[0].Delta.Content
		chunk.FinishReason = string(resp.Choices[0].FinishReason)
	}
	return chunk, nil
}

func (s *openAIStream) Close() error {
	defer s.cancel()
	return s.stream.Close()
}

func toOpenAI(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}
