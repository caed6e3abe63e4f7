// Package llm is the streaming model collaborator: it turns a model id and a
// list of role-tagged messages into a finite stream of text fragments.
package llm

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/rendis/scenecraft/pkg/schema"
)

// FallbackMessage is what the chat passthrough shows a user when the
// upstream call fails. It is never injected into a job's model output.
const FallbackMessage = "Sorry, an error occurred while processing your request."

// Role tags a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat completion request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// User builds a single user message.
func User(content string) []Message {
	return []Message{{Role: RoleUser, Content: content}}
}

// Chunk is one streamed fragment. ID is the upstream completion id and
// FinishReason is set on the last chunk when the upstream reports one.
type Chunk struct {
	ID           string `json:"id,omitempty"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Stream yields chunks until Recv returns io.EOF. Any other error is an
// upstream failure and ends the stream.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Client opens streaming completions.
type Client interface {
	Stream(ctx context.Context, model string, messages []Message) (Stream, error)
}

// Collect drains s, passing every non-empty fragment to onChunk, and returns
// the concatenated text. It closes s. A failing onChunk stops collection.
func Collect(ctx context.Context, s Stream, onChunk func(string) error) (string, error) {
	defer s.Close()

	var buf strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return buf.String(), err
		}
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return buf.String(), nil
		}
		if err != nil {
			return buf.String(), upstreamError(err)
		}
		if chunk.Content == "" {
			continue
		}
		buf.WriteString(chunk.Content)
		if onChunk != nil {
			if err := onChunk(chunk.Content); err != nil {
				return buf.String(), err
			}
		}
	}
}

// StreamText opens a completion on c and collects it.
func StreamText(ctx context.Context, c Client, model string, messages []Message, onChunk func(string) error) (string, error) {
	s, err := c.Stream(ctx, model, messages)
	if err != nil {
		return "", upstreamError(err)
	}
	return Collect(ctx, s, onChunk)
}

// upstreamError tags transport failures with UPSTREAM_ERROR unless they
// already carry a code.
func upstreamError(err error) error {
	var se *schema.Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeUpstream, "model stream failed: %v", err).WithCause(err)
}
